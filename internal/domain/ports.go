package domain

import (
	"context"
	"time"
)

// Tx: представление хранилища внутри одной атомарной транзакции.
//
// Все чтения выполняются до первой записи: запись буферизуется и применяется при commit,
// чтение после записи возвращает ErrReadAfterWrite. Тело транзакции может быть вызвано
// повторно при конфликте, поэтому не должно иметь внешних побочных эффектов.
type Tx interface {
	// Config возвращает конфигурацию доставки или ErrConfigMissing.
	Config() (DeliveryConfig, error)
	// DayCounter возвращает счётчик дня; found=false, если документа ещё нет.
	DayCounter(date string, mode Mode) (counter DayCounter, found bool, err error)
	// Order возвращает заказ или ErrOrderNotFound.
	Order(id string) (Order, error)
	// Customer возвращает агрегат клиента; found=false для нового клиента.
	Customer(phone string) (customer Customer, found bool, err error)
	// StockItem возвращает складскую запись; found=false, если остаток не заводился.
	StockItem(ref StockRef) (item StockItem, found bool, err error)

	PutConfig(cfg DeliveryConfig) error
	PutDayCounter(counter DayCounter) error
	PutOrder(order Order) error
	PutCustomer(customer Customer) error
	PutStockItem(item StockItem) error
	AppendMovement(movement InventoryMovement) error
	AppendTimeline(event TimelineEvent) error
	EnqueueOutbox(msg OutboxMessage) error
}

// TxStore выполняет тело в транзакции с ограниченным числом повторов при конфликте.
// Исчерпание попыток возвращает ошибку, для которой IsTransactionConflict == true.
type TxStore interface {
	RunInTransaction(ctx context.Context, fn func(tx Tx) error) error
}

// TxOptions задаёт политику повторов транзакции.
type TxOptions struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// OnRetry вызывается перед каждым повтором (метрики, логи).
	OnRetry func(attempt int, err error)
}

const (
	defaultTxMaxAttempts = 5
	defaultTxBaseDelay   = 5 * time.Millisecond
	defaultTxMaxDelay    = 200 * time.Millisecond
)

// DefaultTxOptions возвращает политику повторов по умолчанию.
func DefaultTxOptions() TxOptions {
	return TxOptions{
		MaxAttempts: defaultTxMaxAttempts,
		BaseDelay:   defaultTxBaseDelay,
		MaxDelay:    defaultTxMaxDelay,
	}
}

// Normalize подставляет значения по умолчанию вместо некорректных.
func (o TxOptions) Normalize() TxOptions {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = defaultTxMaxAttempts
	}
	if o.BaseDelay < 0 {
		o.BaseDelay = 0
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = defaultTxMaxDelay
	}
	return o
}

// Backoff возвращает задержку перед попыткой attempt (начиная с 2).
func (o TxOptions) Backoff(attempt int) time.Duration {
	if o.BaseDelay <= 0 || attempt <= 1 {
		return 0
	}
	delay := o.BaseDelay
	for i := 2; i < attempt; i++ {
		delay *= 2
		if delay >= o.MaxDelay {
			return o.MaxDelay
		}
	}
	return min(delay, o.MaxDelay)
}

// ConfigReader читает конфигурацию вне транзакции (read path).
type ConfigReader interface {
	LoadConfig(ctx context.Context) (DeliveryConfig, error)
}

// DayCounterReader читает счётчики диапазона дат; результат индексирован датой.
type DayCounterReader interface {
	ListDayCounters(ctx context.Context, mode Mode, from, to string) (map[string]DayCounter, error)
}

// OrderReader: чтение заказов вне транзакции.
type OrderReader interface {
	GetOrder(ctx context.Context, id string) (Order, error)
	// ListStaleDrafts возвращает черновики (NEW), не обновлявшиеся с before.
	ListStaleDrafts(ctx context.Context, before time.Time, limit int) ([]Order, error)
}

// CustomerReader: чтение агрегатов клиентов.
type CustomerReader interface {
	GetCustomer(ctx context.Context, phone string) (Customer, error)
}

// InventoryReader: чтение журнала и остатков склада.
type InventoryReader interface {
	ListMovements(ctx context.Context, orderID string) ([]InventoryMovement, error)
	GetStock(ctx context.Context, ref StockRef) (StockItem, error)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository: сторона outbox, которую читает воркер публикации.
// Запись в outbox идёт только через Tx.EnqueueOutbox.
type OutboxRepository interface {
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// TimelineRepository отдаёт историю заказа; запись идёт через Tx.AppendTimeline.
type TimelineRepository interface {
	List(orderID string) ([]TimelineEvent, error)
}

// Pinger проверяет доступность хранилища для health-check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
