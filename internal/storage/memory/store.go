package memory

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/dms/internal/domain"
)

// versioned: документ вместе с версией, которую проверяет commit.
type versioned[T any] struct {
	value   T
	version int64
}

// Store: in-memory транзакционное хранилище для локальной разработки и тестов.
//
// Транзакции оптимистичные: тело читает документы, запоминая их версии, и буферизует записи.
// На commit под эксклюзивной блокировкой версии прочитанных документов сверяются с текущими;
// расхождение означает конфликт, и тело перезапускается.
type Store struct {
	mu        sync.RWMutex
	config    *versioned[domain.DeliveryConfig]
	counters  map[string]versioned[domain.DayCounter]
	orders    map[string]versioned[domain.Order]
	customers map[string]versioned[domain.Customer]
	stock     map[string]versioned[domain.StockItem]
	movements []domain.InventoryMovement
	catalog   map[string]domain.CatalogItem

	outbox   *OutboxRepository
	timeline *TimelineRepository

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

// NewStore создаёт пустое хранилище.
func NewStore(options ...Option) *Store {
	s := &Store{
		counters:  make(map[string]versioned[domain.DayCounter]),
		orders:    make(map[string]versioned[domain.Order]),
		customers: make(map[string]versioned[domain.Customer]),
		stock:     make(map[string]versioned[domain.StockItem]),
		catalog:   make(map[string]domain.CatalogItem),
		outbox:    NewOutboxRepository(),
		timeline:  NewTimelineRepository(),
		txOptions: domain.DefaultTxOptions(),
	}
	for _, option := range options {
		option(s)
	}
	s.txOptions = s.txOptions.Normalize()
	if s.logger == nil {
		s.logger = log.New().WithField("component", "memory-store")
	}
	return s
}

// Outbox возвращает outbox хранилища для воркера публикации.
func (s *Store) Outbox() *OutboxRepository {
	return s.outbox
}

// Timeline возвращает историю заказов.
func (s *Store) Timeline() *TimelineRepository {
	return s.timeline
}

// Ping всегда успешен: хранилище живёт в памяти процесса.
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// SeedCatalog кладёт позиции каталога (используется сидером и тестами).
func (s *Store) SeedCatalog(items ...domain.CatalogItem) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, item := range items {
		s.catalog[item.ID] = item
	}
}

// SeedStock задаёт начальные остатки без записи в журнал.
func (s *Store) SeedStock(items ...domain.StockItem) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, item := range items {
		if item.VariantKey == "" {
			item.VariantKey = domain.DefaultVariantKey
		}
		key := item.Ref().Key()
		current := s.stock[key]
		s.stock[key] = versioned[domain.StockItem]{value: item, version: current.version + 1}
	}
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

// UpsertCatalog: вариант SeedCatalog с сигнатурой сидера.
func (s *Store) UpsertCatalog(ctx context.Context, items ...domain.CatalogItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.SeedCatalog(items...)
	return nil
}
