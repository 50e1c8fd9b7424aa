package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType: тип события, публикуемого через outbox.
type EventType string

const (
	EventSlotReserved     EventType = "order.slot_reserved"
	EventSlotSwitched     EventType = "order.slot_switched"
	EventOrderConfirmed   EventType = "order.confirmed"
	EventOrderPaid        EventType = "order.paid"
	EventOrderStatus      EventType = "order.status_changed"
	EventOrderCanceled    EventType = "order.canceled"
	EventDraftExpired     EventType = "order.draft_expired"
	EventDayOverride      EventType = "day.override_applied"
	EventCounterCorrected EventType = "day.counter_corrected"
	EventConfigSaved      EventType = "config.saved"
	EventStockMoved       EventType = "stock.moved"
)

// Типы агрегатов outbox-сообщений.
const (
	AggregateOrder  = "order"
	AggregateDay    = "day"
	AggregateConfig = "config"
	AggregateStock  = "stock"
)

// Event: полезная нагрузка outbox-сообщения. Поля заполняются по типу события.
type Event struct {
	Type      EventType         `json:"event_type"`
	OrderID   string            `json:"order_id,omitempty"`
	ShortID   string            `json:"short_id,omitempty"`
	Status    OrderStatus       `json:"status,omitempty"`
	Schedule  *Schedule         `json:"schedule,omitempty"`
	Previous  *Schedule         `json:"previous_schedule,omitempty"`
	Phone     string            `json:"phone,omitempty"`
	Total     int64             `json:"total_cents,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	Date      string            `json:"date,omitempty"`
	Mode      Mode              `json:"mode,omitempty"`
	Version   int64             `json:"version,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// OrderEvent заполняет событие данными заказа.
func OrderEvent(eventType EventType, order Order, at time.Time) Event {
	event := Event{
		Type:      eventType,
		OrderID:   order.ID,
		ShortID:   order.ShortID,
		Status:    order.Status,
		Phone:     order.Customer.Phone,
		Total:     order.Pricing.TotalCents,
		Timestamp: at,
	}
	if order.Schedule != nil {
		schedule := *order.Schedule
		event.Schedule = &schedule
	}
	return event
}

// OutboxMessage сериализует событие в сообщение outbox.
func (e Event) OutboxMessage(aggregateType, aggregateID string) (OutboxMessage, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return OutboxMessage{}, fmt.Errorf("marshal %s event: %w", e.Type, err)
	}
	return OutboxMessage{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     string(e.Type),
		Payload:       payload,
		CreatedAt:     e.Timestamp,
	}, nil
}

// DecodeEvent разбирает payload outbox-сообщения.
func DecodeEvent(payload []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	return event, nil
}

// Emit кладёт событие в outbox текущей транзакции.
func Emit(tx Tx, aggregateType, aggregateID string, event Event) error {
	msg, err := event.OutboxMessage(aggregateType, aggregateID)
	if err != nil {
		return err
	}
	return tx.EnqueueOutbox(msg)
}
