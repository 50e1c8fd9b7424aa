// Команда notifier читает события заказов из Kafka и готовит текст уведомления для клиента.
// Доставка сообщения (WhatsApp, SMS) остаётся за внешней интеграцией, здесь текст пишется в лог.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/IBM/sarama"
	"github.com/kelseyhightower/envconfig"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/dms/internal/domain"
	"github.com/vladislavdragonenkov/dms/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/dms/internal/notify"
	"github.com/vladislavdragonenkov/dms/internal/version"
)

type config struct {
	Brokers  []string `envconfig:"KAFKA_BROKERS" required:"true"`
	GroupID  string   `envconfig:"NOTIFIER_GROUP_ID" default:"dms-notifier"`
	DLQTopic string   `envconfig:"KAFKA_CONSUMER_DLQ_TOPIC" default:"dms.dlq"`
	LogLevel string   `envconfig:"LOG_LEVEL" default:"info"`
}

// notifiable: события, о которых клиенту пишут сообщение.
var notifiable = map[domain.EventType]bool{
	domain.EventOrderConfirmed: true,
	domain.EventOrderPaid:      true,
	domain.EventOrderStatus:    true,
	domain.EventOrderCanceled:  true,
	domain.EventSlotSwitched:   true,
}

// Notification: готовое к отправке сообщение.
type Notification struct {
	Phone string
	Event domain.EventType
	Text  string
}

type notifier struct {
	formatter notify.Formatter
	deliver   func(ctx context.Context, n Notification) error
	logger    *log.Entry
}

func newNotifier(formatter notify.Formatter, logger *log.Entry) *notifier {
	n := &notifier{formatter: formatter, logger: logger}
	n.deliver = n.logDelivery
	return n
}

func (n *notifier) logDelivery(_ context.Context, notification Notification) error {
	n.logger.WithFields(log.Fields{
		"phone": notification.Phone,
		"event": notification.Event,
	}).Info(notification.Text)
	return nil
}

// Handle разбирает конверт outbox. Ошибка разбора уходит в retry и затем в DLQ consumer.
func (n *notifier) Handle(ctx context.Context, message *sarama.ConsumerMessage) error {
	envelope, err := kafka.ParseEnvelope(message)
	if err != nil {
		return err
	}
	event, err := envelope.Event()
	if err != nil {
		return fmt.Errorf("envelope %s: %w", envelope.ID, err)
	}
	if !notifiable[event.Type] {
		n.logger.WithFields(log.Fields{"event": event.Type, "order_id": event.OrderID}).Debug("event does not notify customer")
		return nil
	}
	if event.Phone == "" {
		n.logger.WithField("order_id", event.OrderID).Warn("order event without phone, notification skipped")
		return nil
	}
	return n.deliver(ctx, Notification{
		Phone: event.Phone,
		Event: event.Type,
		Text:  n.formatter.Format(notify.FromEvent(event)),
	})
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	var cfg config
	if err := envconfig.Process("DMS", &cfg); err != nil {
		log.WithError(err).Fatal("некорректная конфигурация")
	}
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.WithError(err).Fatal("некорректный уровень логирования")
	}
	log.SetLevel(level)
	logger := log.WithField("component", "notifier")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dlqProducer, err := kafka.NewProducer(cfg.Brokers, version.Service+"-notifier")
	if err != nil {
		logger.WithError(err).Fatal("не удалось создать producer для DLQ")
	}
	defer dlqProducer.Close()

	handler := newNotifier(notify.PlainText{}, logger)
	consumer, err := kafka.NewConsumer(cfg.Brokers, cfg.GroupID, []string{kafka.TopicOrderEvents}, handler.Handle,
		kafka.WithDLQ(dlqProducer, cfg.DLQTopic),
		kafka.WithConsumerLogger(logger.WithField("group", cfg.GroupID)),
	)
	if err != nil {
		logger.WithError(err).Fatal("не удалось создать consumer")
	}
	if err := consumer.Start(ctx); err != nil {
		logger.WithError(err).Fatal("не удалось запустить consumer")
	}
	logger.WithField("build", version.String()).Info("notifier запущен")

	<-ctx.Done()
	if err := consumer.Stop(); err != nil {
		logger.WithError(err).Warn("consumer stop")
	}
	logger.Info("notifier остановлен")
}
