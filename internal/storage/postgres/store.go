package postgres

import (
	"context"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/dms/internal/domain"
)

const (
	defaultConnTimeout     = 5 * time.Second
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 25
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 5 * time.Minute

	opTimeout = 5 * time.Second
)

// Store: транзакционное хранилище dms поверх PostgreSQL.
//
// Документы (конфигурация, счётчики дней, заказы, клиенты) лежат в JSONB вместе с колонкой version.
// Транзакции выполняются на уровне SERIALIZABLE; ошибки сериализации перезапускают тело.
type Store struct {
	db        *sqlx.DB
	txOptions domain.TxOptions
	logger    *log.Entry
}

// Option настраивает Store.
type Option func(*Store)

// WithTxOptions задаёт политику повторов транзакций.
func WithTxOptions(opts domain.TxOptions) Option {
	return func(s *Store) {
		s.txOptions = opts
	}
}

// WithLogger задаёт logger хранилища.
func WithLogger(logger *log.Entry) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// Open открывает подключение к PostgreSQL и проверяет доступность базы.
func Open(ctx context.Context, dsn string, options ...Option) (*Store, error) {
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	db.SetMaxOpenConns(defaultMaxOpenConns)
	db.SetMaxIdleConns(defaultMaxIdleConns)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)
	db.SetConnMaxIdleTime(defaultConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return newStore(db, options...), nil
}

func newStore(db *sqlx.DB, options ...Option) *Store {
	s := &Store{db: db, txOptions: domain.DefaultTxOptions()}
	for _, option := range options {
		option(s)
	}
	s.txOptions = s.txOptions.Normalize()
	if s.logger == nil {
		s.logger = log.New().WithField("component", "postgres-store")
	}
	return s
}

// DB возвращает sqlx-подключение, когда нужен низкоуровневый доступ.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Outbox возвращает outbox для воркера публикации.
func (s *Store) Outbox() *OutboxRepository {
	return &OutboxRepository{db: s.db}
}

// Timeline возвращает историю заказов.
func (s *Store) Timeline() *TimelineRepository {
	return &TimelineRepository{db: s.db}
}

// Ping проверяет доступность подключения.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("postgres store is not initialized")
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	return s.db.PingContext(pingCtx)
}

// EnsureSchema применяет все up-миграции.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.MigrateUp(ctx, 0)
}

// Close закрывает подключение к БД.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var (
	_ domain.TxStore          = (*Store)(nil)
	_ domain.ConfigReader     = (*Store)(nil)
	_ domain.DayCounterReader = (*Store)(nil)
	_ domain.OrderReader      = (*Store)(nil)
	_ domain.CustomerReader   = (*Store)(nil)
	_ domain.InventoryReader  = (*Store)(nil)
	_ domain.CatalogLoader    = (*Store)(nil)
	_ domain.Pinger           = (*Store)(nil)
)
