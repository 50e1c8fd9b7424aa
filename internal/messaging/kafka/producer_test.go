package kafka

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func headerMap(headers []sarama.RecordHeader) map[string]string {
	out := make(map[string]string, len(headers))
	for _, header := range headers {
		out[string(header.Key)] = string(header.Value)
	}
	return out
}

func TestProducer_PublishEvent(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := NewProducerFromSync(mockProducer)
	sentAt := time.Date(2026, time.October, 16, 13, 0, 0, 0, time.UTC)
	producer.now = func() time.Time { return sentAt }

	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		assert.Equal(t, TopicOrderEvents, msg.Topic)
		assert.True(t, sentAt.Equal(msg.Timestamp))

		key, err := msg.Key.Encode()
		require.NoError(t, err)
		assert.Equal(t, "order-123", string(key))
		assert.Equal(t, "order.confirmed", headerMap(msg.Headers)[HeaderEventType])

		raw, err := msg.Value.Encode()
		require.NoError(t, err)
		var decoded map[string]string
		require.NoError(t, json.Unmarshal(raw, &decoded))
		assert.Equal(t, "cust-1", decoded["customer"])
		return nil
	})

	err := producer.PublishEvent(TopicOrderEvents, "order-123",
		map[string]string{"customer": "cust-1"},
		map[string]string{HeaderEventType: "order.confirmed"},
	)
	require.NoError(t, err)
	require.NoError(t, mockProducer.Close())
}

func TestProducer_PublishEvent_Error(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := NewProducerFromSync(mockProducer)
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	err := producer.PublishEvent(TopicOrderEvents, "order-123", map[string]int{"n": 1}, nil)
	require.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, mockProducer.Close())
}

func TestProducer_PublishEvent_MarshalError(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := NewProducerFromSync(mockProducer)

	err := producer.PublishEvent(TopicOrderEvents, "k", make(chan int), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to marshal event")
	require.NoError(t, mockProducer.Close())
}

func TestNewProducerInvalidBroker(t *testing.T) {
	_, err := NewProducer([]string{"invalid-broker:9092"}, "dms-test")
	require.Error(t, err)
}
