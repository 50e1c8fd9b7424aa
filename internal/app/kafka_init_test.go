package app

import (
	"testing"

	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/dms/internal/domain"
	"github.com/vladislavdragonenkov/dms/internal/messaging/kafka"
)

func TestInitKafkaProducer_EmptyBrokers(t *testing.T) {
	producer, err := initKafkaProducer(nil, "dms", log.WithField("test", "kafka"))
	require.NoError(t, err)
	assert.Nil(t, producer)
}

func TestInitKafkaProducer_InvalidBrokers(t *testing.T) {
	producer, err := initKafkaProducer([]string{"broker1:9092", "broker2:9092"}, "dms", log.WithField("test", "kafka"))
	require.Error(t, err)
	assert.Nil(t, producer)
}

func TestCloseKafka_NilProducer(t *testing.T) {
	closeKafka(nil, log.WithField("test", "kafka"))
}

func TestOutboxPublishers_WithoutKafkaLogsEvents(t *testing.T) {
	publisher, dlq := outboxPublishers(nil, kafka.TopicOutboxDeadLetters, log.WithField("test", "kafka"))
	assert.Nil(t, dlq)
	require.IsType(t, logPublisher{}, publisher)
	require.NoError(t, publisher.Publish(domain.OutboxMessage{ID: "evt-1", AggregateType: domain.AggregateOrder}))
}

func TestOutboxPublishers_WithKafka(t *testing.T) {
	sync := mocks.NewSyncProducer(t, nil)
	sync.ExpectSendMessageAndSucceed()
	producer := kafka.NewProducerFromSync(sync)

	publisher, dlq := outboxPublishers(producer, kafka.TopicOutboxDeadLetters, log.WithField("test", "kafka"))
	require.NotNil(t, dlq)
	require.NoError(t, publisher.Publish(domain.OutboxMessage{
		ID: "evt-1", AggregateType: domain.AggregateOrder, AggregateID: "o-1", EventType: "order.confirmed", Payload: []byte(`{}`),
	}))
	closeKafka(producer, log.WithField("test", "kafka"))
}
