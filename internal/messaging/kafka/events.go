package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/dms/internal/domain"
)

// Topics для Kafka
const (
	TopicOrderEvents     = "dms.order.events"
	TopicScheduleEvents  = "dms.schedule.events"
	TopicStockEvents     = "dms.stock.events"
	TopicDeadLetterQueue = "dms.dlq" // Dead Letter Queue для failed messages

	// TopicOutboxDeadLetters принимает сообщения outbox, которые не удалось опубликовать.
	TopicOutboxDeadLetters = "dms.outbox.dlq"
)

// Kafka headers
const (
	HeaderEventType     = "x-event-type"
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// TopicRouter выбирает topic по типу агрегата outbox-сообщения.
type TopicRouter map[string]string

// DefaultTopicRouter раскладывает события заказов, расписания и склада по своим topic.
func DefaultTopicRouter() TopicRouter {
	return TopicRouter{
		domain.AggregateOrder:  TopicOrderEvents,
		domain.AggregateDay:    TopicScheduleEvents,
		domain.AggregateConfig: TopicScheduleEvents,
		domain.AggregateStock:  TopicStockEvents,
	}
}

// Topic возвращает topic для агрегата; неизвестные агрегаты идут в topic заказов.
func (r TopicRouter) Topic(aggregateType string) string {
	if topic, ok := r[aggregateType]; ok && topic != "" {
		return topic
	}
	return TopicOrderEvents
}

// Topics возвращает список уникальных topic маршрутизатора.
func (r TopicRouter) Topics() []string {
	seen := make(map[string]struct{}, len(r))
	out := make([]string, 0, len(r))
	for _, topic := range r {
		if _, ok := seen[topic]; ok {
			continue
		}
		seen[topic] = struct{}{}
		out = append(out, topic)
	}
	return out
}

// Envelope: сообщение outbox в Kafka.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// Event разбирает payload конверта как domain.Event.
func (e Envelope) Event() (domain.Event, error) {
	return domain.DecodeEvent(e.Payload)
}

// ParseEnvelope парсит конверт из сообщения.
func ParseEnvelope(message *sarama.ConsumerMessage) (Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(message.Value, &envelope); err != nil {
		return Envelope{}, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	return envelope, nil
}

// DeadLetterRecord: сообщение, которое consumer не смог обработать.
type DeadLetterRecord struct {
	OriginalTopic     string    `json:"original_topic"`
	OriginalPartition int32     `json:"original_partition"`
	OriginalOffset    int64     `json:"original_offset"`
	OriginalKey       string    `json:"original_key"`
	OriginalValue     string    `json:"original_value"`
	ErrorMessage      string    `json:"error_message"`
	FailedAt          time.Time `json:"failed_at"`
	RetryCount        int       `json:"retry_count"`
}
