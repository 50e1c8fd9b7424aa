package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/dms/internal/messaging/kafka"
)

// EnvPrefix: префикс переменных окружения сервиса (DMS_HTTP_ADDR и т.д.).
const EnvPrefix = "DMS"

// Поддерживаемые хранилища.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Config описывает настройки запуска сервиса. Конфигурация доставки сюда не входит,
// она хранится как данные и редактируется через admin API.
type Config struct {
	HTTPAddr    string `envconfig:"HTTP_ADDR"`
	GRPCAddr    string `envconfig:"GRPC_ADDR"`
	MetricsAddr string `envconfig:"METRICS_ADDR"`
	LogLevel    string `envconfig:"LOG_LEVEL"`
	AdminToken  string `envconfig:"ADMIN_TOKEN"`
	SeedFile    string `envconfig:"SEED_FILE"`

	StorageDriver       string `envconfig:"STORAGE_DRIVER"`
	PostgresDSN         string `envconfig:"POSTGRES_DSN"`
	PostgresAutoMigrate bool   `envconfig:"POSTGRES_AUTO_MIGRATE"`

	TxMaxAttempts int           `envconfig:"TX_MAX_ATTEMPTS"`
	TxBaseDelay   time.Duration `envconfig:"TX_BASE_DELAY"`

	KafkaBrokers  []string `envconfig:"KAFKA_BROKERS"`
	KafkaClientID string   `envconfig:"KAFKA_CLIENT_ID"`
	KafkaDLQTopic string   `envconfig:"KAFKA_DLQ_TOPIC"`

	OutboxPollInterval time.Duration `envconfig:"OUTBOX_POLL_INTERVAL"`
	OutboxBatchSize    int           `envconfig:"OUTBOX_BATCH_SIZE"`
	OutboxMaxAttempts  int           `envconfig:"OUTBOX_MAX_ATTEMPTS"`
	OutboxRetryDelay   time.Duration `envconfig:"OUTBOX_RETRY_DELAY"`
	OutboxMaxPending   int           `envconfig:"OUTBOX_MAX_PENDING"`
	OutboxMaxAge       time.Duration `envconfig:"OUTBOX_MAX_AGE"`

	DraftTTL             time.Duration `envconfig:"DRAFT_TTL"`
	DraftReaperInterval  time.Duration `envconfig:"DRAFT_REAPER_INTERVAL"`
	DraftReaperBatchSize int           `envconfig:"DRAFT_REAPER_BATCH_SIZE"`

	BulkParallelism int `envconfig:"BULK_PARALLELISM"`
}

// DefaultConfig возвращает настройки для локального запуска на in-memory хранилище.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":8080",
		GRPCAddr:    ":50051",
		MetricsAddr: ":9090",
		LogLevel:    "info",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,

		TxMaxAttempts: 5,
		TxBaseDelay:   10 * time.Millisecond,

		KafkaClientID: "dms",
		KafkaDLQTopic: kafka.TopicOutboxDeadLetters,

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  3,
		OutboxRetryDelay:   50 * time.Millisecond,
		OutboxMaxPending:   1000,
		OutboxMaxAge:       5 * time.Minute,

		DraftTTL:             30 * time.Minute,
		DraftReaperInterval:  time.Minute,
		DraftReaperBatchSize: 100,

		BulkParallelism: 8,
	}
}

// LoadConfig накладывает переменные окружения DMS_* на DefaultConfig.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("read environment: %w", err)
	}
	cfg.StorageDriver = strings.ToLower(strings.TrimSpace(cfg.StorageDriver))
	cfg.PostgresDSN = strings.TrimSpace(cfg.PostgresDSN)
	cfg.KafkaBrokers = compact(cfg.KafkaBrokers)
	if err := errors.Join(cfg.Validate()...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() []error {
	var errs []error
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("DMS_POSTGRES_DSN is required for postgres storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid log level: %w", err))
	}
	if c.TxMaxAttempts <= 0 {
		errs = append(errs, errors.New("tx max attempts must be positive"))
	}
	if c.OutboxBatchSize <= 0 {
		errs = append(errs, errors.New("outbox batch size must be positive"))
	}
	if c.OutboxPollInterval <= 0 {
		errs = append(errs, errors.New("outbox poll interval must be positive"))
	}
	if c.DraftTTL <= 0 {
		errs = append(errs, errors.New("draft ttl must be positive"))
	}
	if c.BulkParallelism <= 0 {
		errs = append(errs, errors.New("bulk parallelism must be positive"))
	}
	return errs
}

func compact(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
