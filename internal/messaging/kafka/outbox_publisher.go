package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/dms/internal/domain"
)

// OutboxTopicPublisher публикует outbox-сообщения в Kafka, выбирая topic по типу агрегата.
type OutboxTopicPublisher struct {
	producer *Producer
	router   TopicRouter
}

// NewOutboxPublisher создаёт Kafka-паблишер для transactional outbox.
// Пустой router означает DefaultTopicRouter.
func NewOutboxPublisher(producer *Producer, router TopicRouter) *OutboxTopicPublisher {
	if len(router) == 0 {
		router = DefaultTopicRouter()
	}
	return &OutboxTopicPublisher{
		producer: producer,
		router:   router,
	}
}

// NewDLQPublisher публикует всё в один topic (используется как DLQ воркера outbox).
func NewDLQPublisher(producer *Producer, topic string) *OutboxTopicPublisher {
	if topic == "" {
		topic = TopicDeadLetterQueue
	}
	router := TopicRouter{}
	for _, aggregate := range []string{domain.AggregateOrder, domain.AggregateDay, domain.AggregateConfig, domain.AggregateStock} {
		router[aggregate] = topic
	}
	return &OutboxTopicPublisher{producer: producer, router: router}
}

func (p *OutboxTopicPublisher) Publish(event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka outbox publisher is not initialized")
	}

	key := event.AggregateID
	if key == "" {
		key = event.ID
	}

	value, err := json.Marshal(Envelope{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       json.RawMessage(event.Payload),
		PublishedAt:   time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal outbox envelope: %w", err)
	}
	return p.producer.Publish(p.router.Topic(event.AggregateType), key, value, map[string]string{
		HeaderEventType: event.EventType,
	})
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
