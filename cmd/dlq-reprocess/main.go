// Команда dlq-reprocess перечитывает dead-letter topic и возвращает сообщения в рабочие topic.
// По умолчанию работает в режиме dry-run и только печатает кандидатов.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/vladislavdragonenkov/dms/internal/domain"
	"github.com/vladislavdragonenkov/dms/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/dms/internal/service/outbox"
	"github.com/vladislavdragonenkov/dms/internal/version"
)

const (
	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second
)

type config struct {
	brokers      []string
	sourceTopics []string
	targetTopic  string
	limit        int
	execute      bool
	fromNewest   bool
	idleTimeout  time.Duration
}

func (c config) validate() error {
	var errs []error
	if len(c.brokers) == 0 {
		errs = append(errs, errors.New("kafka brokers are required (--brokers or DMS_KAFKA_BROKERS)"))
	}
	if len(c.sourceTopics) == 0 {
		errs = append(errs, errors.New("at least one source topic is required"))
	}
	if c.limit <= 0 {
		errs = append(errs, errors.New("limit must be > 0"))
	}
	if c.idleTimeout <= 0 {
		errs = append(errs, errors.New("idle-timeout must be > 0"))
	}
	return errors.Join(errs...)
}

type offsetClient interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
	Partitions(topic string) ([]int32, error)
	Close() error
}

type partitionConsumer interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type partitionConsumerSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error)
	Close() error
}

type saramaConsumerAdapter struct {
	consumer sarama.Consumer
}

func (a saramaConsumerAdapter) ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error) {
	pc, err := a.consumer.ConsumePartition(topic, partition, offset)
	if err != nil {
		return nil, err
	}
	return pc, nil
}

func (a saramaConsumerAdapter) Close() error {
	if a.consumer == nil {
		return nil
	}
	return a.consumer.Close()
}

// newReplayDependencies подменяется в тестах. Producer создаётся только в режиме execute.
var newReplayDependencies = func(cfg config) (offsetClient, partitionConsumerSource, sarama.SyncProducer, error) {
	consumerConfig := sarama.NewConfig()
	consumerConfig.ClientID = version.Service + "-dlq-reprocess"
	consumerConfig.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.brokers, consumerConfig)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create kafka client: %w", err)
	}

	rawConsumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	consumer := saramaConsumerAdapter{consumer: rawConsumer}

	if !cfg.execute {
		return client, consumer, nil, nil
	}

	producerConfig := sarama.NewConfig()
	producerConfig.ClientID = consumerConfig.ClientID
	producerConfig.Producer.RequiredAcks = sarama.WaitForAll
	producerConfig.Producer.Retry.Max = 5
	producerConfig.Producer.Return.Successes = true
	producerConfig.Producer.Idempotent = true
	producerConfig.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(cfg.brokers, producerConfig)
	if err != nil {
		_ = consumer.Close()
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return client, consumer, producer, nil
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "dlq-reprocess",
		Usage: "повторно публикует сообщения из DLQ delivery service",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "brokers", EnvVars: []string{"DMS_KAFKA_BROKERS"}, Usage: "Kafka brokers"},
			&cli.StringSliceFlag{
				Name:  "source-topic",
				Value: cli.NewStringSlice(kafka.TopicOutboxDeadLetters, kafka.TopicDeadLetterQueue),
				Usage: "DLQ topic для чтения (можно повторять)",
			},
			&cli.StringFlag{Name: "target-topic", Usage: "перенаправить всё в один topic вместо исходного"},
			&cli.IntFlag{Name: "limit", Value: defaultReplayLimit, Usage: "сколько сообщений просмотреть"},
			&cli.BoolFlag{Name: "execute", Usage: "публиковать; без флага только dry-run"},
			&cli.BoolFlag{Name: "from-newest", Usage: "начинать с последних сообщений (в пределах limit)"},
			&cli.DurationFlag{Name: "idle-timeout", Value: defaultIdleTimeout, Usage: "сколько ждать сообщений в партиции"},
		},
		Action: func(c *cli.Context) error {
			cfg := configFromContext(c)
			if err := cfg.validate(); err != nil {
				return err
			}
			return run(c.Context, cfg)
		},
	}
}

func configFromContext(c *cli.Context) config {
	return config{
		brokers:      splitList(c.StringSlice("brokers")),
		sourceTopics: splitList(c.StringSlice("source-topic")),
		targetTopic:  strings.TrimSpace(c.String("target-topic")),
		limit:        c.Int("limit"),
		execute:      c.Bool("execute"),
		fromNewest:   c.Bool("from-newest"),
		idleTimeout:  c.Duration("idle-timeout"),
	}
}

// splitList разбирает и "a,b", и повторённые флаги.
func splitList(values []string) []string {
	var out []string
	for _, value := range values {
		for _, chunk := range strings.Split(value, ",") {
			if chunk = strings.TrimSpace(chunk); chunk != "" {
				out = append(out, chunk)
			}
		}
	}
	return out
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	if err := newApp().Run(os.Args); err != nil {
		log.WithError(err).Fatal("dlq replay failed")
	}
}

func run(ctx context.Context, cfg config) error {
	log.WithFields(log.Fields{
		"source_topics": cfg.sourceTopics,
		"target_topic":  cfg.targetTopic,
		"limit":         cfg.limit,
		"execute":       cfg.execute,
		"from_newest":   cfg.fromNewest,
	}).Info("starting dlq replay")

	client, consumer, producer, err := newReplayDependencies(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if producer != nil {
			_ = producer.Close()
		}
		if consumer != nil {
			_ = consumer.Close()
		}
		if client != nil {
			_ = client.Close()
		}
	}()

	return newReplayer(cfg, producer).run(ctx, client, consumer)
}

// replayItem: разобранное сообщение DLQ. Заполнено ровно одно из raw и event.
type replayItem struct {
	topic string
	key   string
	raw   []byte
	event *domain.OutboxMessage
}

type replayStats struct {
	processed int
	replayed  int
	skipped   int
}

func (s *replayStats) add(other replayStats) {
	s.processed += other.processed
	s.replayed += other.replayed
	s.skipped += other.skipped
}

type replayer struct {
	cfg       config
	router    kafka.TopicRouter
	producer  *kafka.Producer
	publisher *kafka.OutboxTopicPublisher
}

func newReplayer(cfg config, producer sarama.SyncProducer) *replayer {
	router := kafka.DefaultTopicRouter()
	if cfg.targetTopic != "" {
		for aggregate := range router {
			router[aggregate] = cfg.targetTopic
		}
	}
	r := &replayer{cfg: cfg, router: router}
	if producer != nil {
		r.producer = kafka.NewProducerFromSync(producer)
		r.publisher = kafka.NewOutboxPublisher(r.producer, router)
	}
	return r
}

func (r *replayer) run(ctx context.Context, client offsetClient, consumer partitionConsumerSource) error {
	if client == nil || consumer == nil {
		return fmt.Errorf("kafka client and consumer are required")
	}
	if r.cfg.execute && r.producer == nil {
		return fmt.Errorf("producer is required in execute mode")
	}

	var total replayStats
	for _, topic := range r.cfg.sourceTopics {
		if total.processed >= r.cfg.limit {
			break
		}
		partitions, err := client.Partitions(topic)
		if err != nil {
			return fmt.Errorf("get partitions for topic %s: %w", topic, err)
		}
		if len(partitions) == 0 {
			log.WithField("topic", topic).Warn("source topic has no partitions")
			continue
		}
		sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

		for _, partition := range partitions {
			remaining := r.cfg.limit - total.processed
			if remaining <= 0 {
				break
			}
			stats, err := r.processPartition(ctx, client, consumer, topic, partition, remaining)
			total.add(stats)
			if err != nil {
				return err
			}
		}
	}

	mode := "dry-run"
	if r.cfg.execute {
		mode = "execute"
	}
	log.WithFields(log.Fields{
		"mode":      mode,
		"processed": total.processed,
		"replayed":  total.replayed,
		"skipped":   total.skipped,
	}).Info("dlq replay finished")
	return nil
}

func (r *replayer) processPartition(
	ctx context.Context,
	client offsetClient,
	consumer partitionConsumerSource,
	topic string,
	partition int32,
	limit int,
) (replayStats, error) {
	var stats replayStats

	oldest, err := client.GetOffset(topic, partition, sarama.OffsetOldest)
	if err != nil {
		return stats, fmt.Errorf("get oldest offset for %s/%d: %w", topic, partition, err)
	}
	newest, err := client.GetOffset(topic, partition, sarama.OffsetNewest)
	if err != nil {
		return stats, fmt.Errorf("get newest offset for %s/%d: %w", topic, partition, err)
	}
	if newest <= oldest {
		return stats, nil
	}

	startOffset := oldest
	if r.cfg.fromNewest {
		startOffset = max(newest-int64(limit), oldest)
	}

	pc, err := consumer.ConsumePartition(topic, partition, startOffset)
	if err != nil {
		return stats, fmt.Errorf("consume %s/%d: %w", topic, partition, err)
	}
	defer func() { _ = pc.Close() }()

	idleTimer := time.NewTimer(r.cfg.idleTimeout)
	defer idleTimer.Stop()

	for stats.processed < limit {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case cerr, ok := <-pc.Errors():
			if ok && cerr != nil {
				return stats, fmt.Errorf("%s/%d consumer error: %w", topic, partition, cerr)
			}
		case msg, ok := <-pc.Messages():
			if !ok || msg == nil || msg.Offset >= newest {
				return stats, nil
			}
			if !idleTimer.Stop() {
				select {
				case <-idleTimer.C:
				default:
				}
			}
			idleTimer.Reset(r.cfg.idleTimeout)

			stats.processed++
			fields := log.Fields{"topic": topic, "partition": msg.Partition, "offset": msg.Offset}

			item, ok, err := r.decode(msg)
			if err != nil {
				stats.skipped++
				log.WithError(err).WithFields(fields).Warn("skip unsupported dlq message")
				continue
			}
			if !ok {
				stats.skipped++
				continue
			}

			if r.cfg.execute {
				if err := r.publish(item); err != nil {
					return stats, fmt.Errorf("publish replay message: %w", err)
				}
			} else {
				fields["target_topic"] = item.topic
				fields["key"] = item.key
				log.WithFields(fields).Info("dlq replay candidate")
			}
			stats.replayed++

			if msg.Offset+1 >= newest {
				return stats, nil
			}
		case <-idleTimer.C:
			return stats, nil
		}
	}
	return stats, nil
}

// decode распознаёт два формата: запись consumer DLQ и конверт с outbox.DeadLetter.
// ok=false означает сообщение, которое не похоже ни на один из них.
func (r *replayer) decode(msg *sarama.ConsumerMessage) (replayItem, bool, error) {
	var record kafka.DeadLetterRecord
	if err := json.Unmarshal(msg.Value, &record); err == nil && record.OriginalValue != "" {
		topic := record.OriginalTopic
		if r.cfg.targetTopic != "" || strings.TrimSpace(topic) == "" {
			topic = r.router.Topic(domain.AggregateOrder)
		}
		return replayItem{topic: topic, key: record.OriginalKey, raw: []byte(record.OriginalValue)}, true, nil
	}

	var envelope kafka.Envelope
	if err := json.Unmarshal(msg.Value, &envelope); err != nil || len(envelope.Payload) == 0 {
		return replayItem{}, false, nil
	}
	_, event, err := outbox.DecodeDeadLetter(envelope.Payload)
	if err != nil {
		return replayItem{}, false, err
	}
	if len(event.Payload) == 0 {
		return replayItem{}, false, fmt.Errorf("dead letter %s has no original payload", envelope.ID)
	}
	event.ID = firstNonEmpty(event.ID, envelope.ID)
	event.AggregateType = firstNonEmpty(event.AggregateType, envelope.AggregateType)
	event.AggregateID = firstNonEmpty(event.AggregateID, envelope.AggregateID)
	event.EventType = firstNonEmpty(event.EventType, envelope.EventType)

	return replayItem{
		topic: r.router.Topic(event.AggregateType),
		key:   firstNonEmpty(event.AggregateID, event.ID),
		event: &event,
	}, true, nil
}

func (r *replayer) publish(item replayItem) error {
	if item.event != nil {
		return r.publisher.Publish(*item.event)
	}
	return r.producer.Publish(item.topic, item.key, item.raw, nil)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
