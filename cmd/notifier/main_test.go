package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/dms/internal/domain"
	"github.com/vladislavdragonenkov/dms/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/dms/internal/notify"
)

func envelopeMessage(t *testing.T, event domain.Event) *sarama.ConsumerMessage {
	t.Helper()
	payload, err := json.Marshal(event)
	require.NoError(t, err)
	value, err := json.Marshal(kafka.Envelope{
		ID:            "outbox-1",
		AggregateType: domain.AggregateOrder,
		AggregateID:   event.OrderID,
		EventType:     string(event.Type),
		Payload:       payload,
	})
	require.NoError(t, err)
	return &sarama.ConsumerMessage{Topic: kafka.TopicOrderEvents, Value: value}
}

func recordingNotifier() (*notifier, *[]Notification) {
	var sent []Notification
	n := newNotifier(notify.PlainText{}, log.WithField("test", "notifier"))
	n.deliver = func(_ context.Context, notification Notification) error {
		sent = append(sent, notification)
		return nil
	}
	return n, &sent
}

func TestHandle_ConfirmedOrder(t *testing.T) {
	n, sent := recordingNotifier()

	err := n.Handle(context.Background(), envelopeMessage(t, domain.Event{
		Type:    domain.EventOrderConfirmed,
		OrderID: "order-1",
		ShortID: "A1B2C3",
		Status:  domain.OrderStatusConfirmed,
		Phone:   "5511999990000",
		Total:   4500,
		Schedule: &domain.Schedule{
			Mode:   domain.ModeDelivery,
			Date:   "2026-10-19",
			SlotID: "morning",
		},
		Timestamp: time.Date(2026, 10, 16, 13, 0, 0, 0, time.UTC),
	}))
	require.NoError(t, err)
	require.Len(t, *sent, 1)

	got := (*sent)[0]
	assert.Equal(t, "5511999990000", got.Phone)
	assert.Equal(t, domain.EventOrderConfirmed, got.Event)
	assert.Contains(t, got.Text, "Order confirmed #A1B2C3")
	assert.Contains(t, got.Text, "2026-10-19")
	assert.Contains(t, got.Text, notify.FormatCents(4500))
}

func TestHandle_SkipsSilentEvents(t *testing.T) {
	n, sent := recordingNotifier()

	require.NoError(t, n.Handle(context.Background(), envelopeMessage(t, domain.Event{
		Type: domain.EventSlotReserved, OrderID: "order-1", Phone: "5511999990000",
	})))
	require.NoError(t, n.Handle(context.Background(), envelopeMessage(t, domain.Event{
		Type: domain.EventOrderPaid, OrderID: "order-2",
	})))
	assert.Empty(t, *sent)
}

func TestHandle_MalformedMessages(t *testing.T) {
	n, _ := recordingNotifier()

	require.Error(t, n.Handle(context.Background(), &sarama.ConsumerMessage{Value: []byte("{")}))
	require.Error(t, n.Handle(context.Background(), &sarama.ConsumerMessage{Value: []byte(`{"id":"x","payload":"nope"}`)}))
}

func TestHandle_DeliveryErrorPropagates(t *testing.T) {
	n, _ := recordingNotifier()
	n.deliver = func(context.Context, Notification) error { return errors.New("gateway down") }

	err := n.Handle(context.Background(), envelopeMessage(t, domain.Event{
		Type: domain.EventOrderCanceled, OrderID: "order-1", Phone: "5511999990000", Reason: "customer request",
		Status: domain.OrderStatusCanceled,
	}))
	require.ErrorContains(t, err, "gateway down")
}

func TestLogDelivery(t *testing.T) {
	n := newNotifier(notify.PlainText{}, log.WithField("test", "notifier"))
	require.NoError(t, n.deliver(context.Background(), Notification{Phone: "1", Event: domain.EventOrderPaid, Text: "hi"}))
}
