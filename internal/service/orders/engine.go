// Package orders реализует транзакционный движок заказов: бронирование слота, checkout,
// оплату и отмену с компенсациями, переходы статусов и bulk-операции администратора.
//
// Каждая операция: одна транзакция domain.TxStore. Тела транзакций сначала читают,
// потом пишут, и не имеют внешних побочных эффектов: хранилище может вызвать их повторно.
package orders

import (
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/dms/internal/domain"
	"github.com/vladislavdragonenkov/dms/internal/metrics"
)

const defaultBulkParallelism = 8

// TokenBinder выпускает и проверяет токены, привязывающие браузер к черновику заказа.
type TokenBinder interface {
	Mint() (token, hash string, err error)
	Verify(token, storedHash string) bool
}

// Engine: движок заказов.
type Engine struct {
	store           domain.TxStore
	catalog         domain.CatalogLoader
	binder          TokenBinder
	now             func() time.Time
	newID           func() string
	logger          *log.Entry
	metrics         *metrics.EngineMetrics
	bulkParallelism int
}

// Option настраивает Engine.
type Option func(*Engine)

// WithClock подменяет источник времени (тесты, воспроизводимые сценарии).
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithIDGenerator подменяет генератор идентификаторов.
func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) {
		e.newID = newID
	}
}

// WithLogger задаёт logger движка.
func WithLogger(logger *log.Entry) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithMetrics включает метрики движка.
func WithMetrics(m *metrics.EngineMetrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithBulkParallelism ограничивает число одновременных транзакций bulk-операций.
func WithBulkParallelism(n int) Option {
	return func(e *Engine) {
		e.bulkParallelism = n
	}
}

// NewEngine создаёт движок заказов.
func NewEngine(store domain.TxStore, catalog domain.CatalogLoader, binder TokenBinder, options ...Option) *Engine {
	e := &Engine{
		store:           store,
		catalog:         catalog,
		binder:          binder,
		now:             time.Now,
		newID:           uuid.NewString,
		bulkParallelism: defaultBulkParallelism,
	}
	for _, option := range options {
		option(e)
	}
	if e.logger == nil {
		e.logger = log.New().WithField("component", "orders")
	}
	if e.bulkParallelism <= 0 {
		e.bulkParallelism = defaultBulkParallelism
	}
	return e
}

func (e *Engine) clock() time.Time {
	return e.now().UTC()
}

// identity определяет, кто обращается к заказу (существующий черновик или новый).
type identity struct {
	orderID string
	token   string
	// fresh* используются, если черновика с orderID нет: токен выпускается заранее,
	// чтобы тело транзакции оставалось детерминированным.
	freshID    string
	freshToken string
	freshHash  string
}

// resolveIdentity выполняется вне транзакции. Идентификатор заказа без токена: ErrUnauthorized.
func (e *Engine) resolveIdentity(orderID, token string) (identity, error) {
	if orderID != "" && token == "" {
		return identity{}, errUnauthorized("order token is required")
	}
	freshToken, freshHash, err := e.binder.Mint()
	if err != nil {
		return identity{}, err
	}
	return identity{
		orderID:    orderID,
		token:      token,
		freshID:    e.newID(),
		freshToken: freshToken,
		freshHash:  freshHash,
	}, nil
}

// loadDraft читает заказ в транзакции и проверяет токен.
// found=false означает, что нужно создать новый черновик с fresh-идентичностью.
func (e *Engine) loadDraft(tx domain.Tx, id identity) (order domain.Order, found bool, err error) {
	if id.orderID == "" {
		return domain.Order{}, false, nil
	}
	order, err = tx.Order(id.orderID)
	switch {
	case err == nil:
	case isNotFound(err):
		return domain.Order{}, false, nil
	default:
		return domain.Order{}, false, err
	}
	if !e.binder.Verify(id.token, order.TokenHash) {
		return domain.Order{}, false, errUnauthorized("order token does not match order " + order.ShortID)
	}
	return order, true, nil
}

// newDraft создаёт черновик для новой идентичности.
func newDraft(id identity, now time.Time) domain.Order {
	return domain.Order{
		ID:        id.freshID,
		ShortID:   domain.ShortOrderID(id.freshID),
		Status:    domain.OrderStatusNew,
		TokenHash: id.freshHash,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
