package orders

import (
	"time"

	"github.com/vladislavdragonenkov/dms/internal/domain"
)

// journal пишет timeline и outbox внутри транзакции и считает записи,
// чтобы метрики обновлялись только после commit. Создаётся заново на каждую попытку.
type journal struct {
	tx       domain.Tx
	now      time.Time
	timeline int
	outbox   int
}

func newJournal(tx domain.Tx, now time.Time) *journal {
	return &journal{tx: tx, now: now}
}

func (j *journal) timelineEvent(orderID string, eventType domain.TimelineEventType, reason string) error {
	if err := j.tx.AppendTimeline(domain.TimelineEvent{
		OrderID:  orderID,
		Type:     eventType,
		Reason:   reason,
		Occurred: j.now,
	}); err != nil {
		return err
	}
	j.timeline++
	return nil
}

func (j *journal) emit(aggregateType, aggregateID string, event domain.Event) error {
	if err := domain.Emit(j.tx, aggregateType, aggregateID, event); err != nil {
		return err
	}
	j.outbox++
	return nil
}

// orderEvent пишет событие заказа в outbox и запись в timeline одним вызовом.
func (j *journal) orderEvent(order domain.Order, eventType domain.EventType, timelineType domain.TimelineEventType, reason string, previous *domain.Schedule) error {
	event := domain.OrderEvent(eventType, order, j.now)
	event.Reason = reason
	if previous != nil {
		prev := *previous
		event.Previous = &prev
	}
	if err := j.emit(domain.AggregateOrder, order.ID, event); err != nil {
		return err
	}
	return j.timelineEvent(order.ID, timelineType, reason)
}

func (e *Engine) commitJournal(j *journal) {
	if j == nil {
		return
	}
	for i := 0; i < j.timeline; i++ {
		e.metrics.RecordTimelineEvent()
	}
	for i := 0; i < j.outbox; i++ {
		e.metrics.RecordOutboxEvent()
	}
}
