package kafka

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/dms/internal/domain"
)

func expectTopic(t *testing.T, mockProducer *mocks.SyncProducer, topic string, check func(Envelope)) {
	t.Helper()
	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != topic {
			return errors.New("unexpected topic " + msg.Topic)
		}
		raw, err := msg.Value.Encode()
		if err != nil {
			return err
		}
		var envelope Envelope
		if err := json.Unmarshal(raw, &envelope); err != nil {
			return err
		}
		if check != nil {
			check(envelope)
		}
		return nil
	})
}

func TestOutboxPublisher_RoutesByAggregate(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	publisher := NewOutboxPublisher(NewProducerFromSync(mockProducer), nil)

	event := domain.Event{Type: domain.EventStockMoved, Reason: "restock"}
	msg, err := event.OutboxMessage(domain.AggregateStock, "kombucha#500ml")
	require.NoError(t, err)
	msg.ID = "outbox-1"

	expectTopic(t, mockProducer, TopicStockEvents, func(envelope Envelope) {
		assert.Equal(t, "outbox-1", envelope.ID)
		assert.Equal(t, "kombucha#500ml", envelope.AggregateID)
		decoded, err := envelope.Event()
		assert.NoError(t, err)
		assert.Equal(t, domain.EventStockMoved, decoded.Type)
		assert.Equal(t, "restock", decoded.Reason)
	})
	expectTopic(t, mockProducer, TopicScheduleEvents, nil)
	expectTopic(t, mockProducer, TopicOrderEvents, nil)

	require.NoError(t, publisher.Publish(msg))
	require.NoError(t, publisher.Publish(domain.OutboxMessage{ID: "outbox-2", AggregateType: domain.AggregateDay, AggregateID: "2026-10-19", EventType: string(domain.EventDayOverride), Payload: []byte(`{}`)}))
	require.NoError(t, publisher.Publish(domain.OutboxMessage{ID: "outbox-3", AggregateType: "unknown", Payload: []byte(`{}`)}))
	require.NoError(t, mockProducer.Close())
}

func TestOutboxPublisher_PublishProducerError(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	publisher := NewOutboxPublisher(NewProducerFromSync(mockProducer), DefaultTopicRouter())

	err := publisher.Publish(domain.OutboxMessage{
		ID:            "outbox-2",
		AggregateType: domain.AggregateOrder,
		AggregateID:   "order-234",
		EventType:     string(domain.EventOrderPaid),
		Payload:       []byte(`{"status":"PAID"}`),
	})
	require.Error(t, err)
	require.NoError(t, mockProducer.Close())
}

func TestOutboxPublisher_PublishNilProducer(t *testing.T) {
	t.Parallel()

	publisher := NewOutboxPublisher(nil, nil)
	require.Error(t, publisher.Publish(domain.OutboxMessage{ID: "outbox-3"}))
}

func TestDLQPublisher_SingleTopic(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	publisher := NewDLQPublisher(NewProducerFromSync(mockProducer), "")
	expectTopic(t, mockProducer, TopicDeadLetterQueue, nil)
	expectTopic(t, mockProducer, TopicDeadLetterQueue, nil)

	require.NoError(t, publisher.Publish(domain.OutboxMessage{ID: "a", AggregateType: domain.AggregateOrder, Payload: []byte(`{}`)}))
	require.NoError(t, publisher.Publish(domain.OutboxMessage{ID: "b", AggregateType: domain.AggregateStock, Payload: []byte(`{}`)}))
	require.NoError(t, mockProducer.Close())
}

func TestTopicRouter_Topics(t *testing.T) {
	t.Parallel()

	topics := DefaultTopicRouter().Topics()
	assert.ElementsMatch(t, []string{TopicOrderEvents, TopicScheduleEvents, TopicStockEvents}, topics)
}

func TestParseEnvelope(t *testing.T) {
	t.Parallel()

	_, err := ParseEnvelope(&sarama.ConsumerMessage{Value: []byte("not-json")})
	require.Error(t, err)

	envelope, err := ParseEnvelope(&sarama.ConsumerMessage{Value: []byte(`{"id":"e1","aggregate_type":"order","event_type":"order.paid","payload":{"event_type":"order.paid","order_id":"o1"}}`)})
	require.NoError(t, err)
	event, err := envelope.Event()
	require.NoError(t, err)
	assert.Equal(t, "o1", event.OrderID)
}
