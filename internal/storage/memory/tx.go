package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/dms/internal/domain"
)

const (
	keyConfig   = "config"
	keyCounter  = "counter:"
	keyOrder    = "order:"
	keyCustomer = "customer:"
	keyStock    = "stock:"
)

// errStaleRead: внутренний сигнал конфликта, наружу не выходит.
var errStaleRead = fmt.Errorf("%w: read set changed before commit", domain.ErrTransactionConflict)

// memTx описывает одну попытку транзакции, то есть read set с версиями и буфер записей.
type memTx struct {
	store   *Store
	reads   map[string]int64
	wrote   bool
	puts    map[string]func()
	order   []string
	appends []func()
}

// RunInTransaction выполняет fn с повторами при конфликте.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx domain.Tx) error) error {
	opts := s.txOptions
	var lastErr error
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if delay := opts.Backoff(attempt); delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := s.attempt(fn)
		if err == nil {
			return nil
		}
		if !errors.Is(err, errStaleRead) {
			return err
		}
		lastErr = err
		if opts.OnRetry != nil && attempt < opts.MaxAttempts {
			opts.OnRetry(attempt, err)
		}
		s.logger.WithFields(log.Fields{"attempt": attempt}).Debug("transaction conflict, retrying")
	}
	return fmt.Errorf("transaction failed after %d attempts: %w", opts.MaxAttempts, lastErr)
}

func (s *Store) attempt(fn func(tx domain.Tx) error) error {
	tx := &memTx{
		store: s,
		reads: make(map[string]int64),
		puts:  make(map[string]func()),
	}

	bodyErr := fn(tx)

	s.mu.Lock()
	defer s.mu.Unlock()

	// Ошибка тела, посчитанная по устаревшим данным, не должна дойти до вызывающего.
	if !tx.validate() {
		return errStaleRead
	}
	if bodyErr != nil {
		return bodyErr
	}
	for _, key := range tx.order {
		tx.puts[key]()
	}
	for _, apply := range tx.appends {
		apply()
	}
	return nil
}

// validate вызывается под s.mu.
func (tx *memTx) validate() bool {
	s := tx.store
	for key, seen := range tx.reads {
		if s.versionOf(key) != seen {
			return false
		}
	}
	return true
}

// versionOf вызывается под s.mu. Отсутствующий документ имеет версию 0.
func (s *Store) versionOf(key string) int64 {
	if key == keyConfig {
		if s.config == nil {
			return 0
		}
		return s.config.version
	}
	if id, ok := strings.CutPrefix(key, keyCounter); ok {
		return s.counters[id].version
	}
	if id, ok := strings.CutPrefix(key, keyOrder); ok {
		return s.orders[id].version
	}
	if id, ok := strings.CutPrefix(key, keyCustomer); ok {
		return s.customers[id].version
	}
	if id, ok := strings.CutPrefix(key, keyStock); ok {
		return s.stock[id].version
	}
	return 0
}

func (tx *memTx) beginRead() error {
	if tx.wrote {
		return domain.ErrReadAfterWrite
	}
	return nil
}

func (tx *memTx) put(key string, apply func()) {
	tx.wrote = true
	if _, ok := tx.puts[key]; !ok {
		tx.order = append(tx.order, key)
	}
	tx.puts[key] = apply
}

func (tx *memTx) Config() (domain.DeliveryConfig, error) {
	if err := tx.beginRead(); err != nil {
		return domain.DeliveryConfig{}, err
	}
	s := tx.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.config == nil {
		tx.reads[keyConfig] = 0
		return domain.DeliveryConfig{}, domain.ErrConfigMissing
	}
	tx.reads[keyConfig] = s.config.version
	return cloneConfig(s.config.value), nil
}

func (tx *memTx) DayCounter(date string, mode domain.Mode) (domain.DayCounter, bool, error) {
	if err := tx.beginRead(); err != nil {
		return domain.DayCounter{}, false, err
	}
	s := tx.store
	id := domain.DayCounterKey(date, mode)
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.counters[id]
	tx.reads[keyCounter+id] = doc.version
	if !ok {
		return domain.NewDayCounter(date, mode), false, nil
	}
	return doc.value.Clone(), true, nil
}

func (tx *memTx) Order(id string) (domain.Order, error) {
	if err := tx.beginRead(); err != nil {
		return domain.Order{}, err
	}
	s := tx.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.orders[id]
	tx.reads[keyOrder+id] = doc.version
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return doc.value.Clone(), nil
}

func (tx *memTx) Customer(phone string) (domain.Customer, bool, error) {
	if err := tx.beginRead(); err != nil {
		return domain.Customer{}, false, err
	}
	s := tx.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.customers[phone]
	tx.reads[keyCustomer+phone] = doc.version
	if !ok {
		return domain.Customer{}, false, nil
	}
	return doc.value.Clone(), true, nil
}

func (tx *memTx) StockItem(ref domain.StockRef) (domain.StockItem, bool, error) {
	if err := tx.beginRead(); err != nil {
		return domain.StockItem{}, false, err
	}
	s := tx.store
	key := ref.Key()
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.stock[key]
	tx.reads[keyStock+key] = doc.version
	if !ok {
		return domain.StockItem{ProductID: ref.ProductID, VariantKey: ref.VariantKey}, false, nil
	}
	return doc.value, true, nil
}

func (tx *memTx) PutConfig(cfg domain.DeliveryConfig) error {
	cfg = cloneConfig(cfg)
	s := tx.store
	tx.put(keyConfig, func() {
		var version int64
		if s.config != nil {
			version = s.config.version
		}
		cfg.Version = version + 1
		s.config = &versioned[domain.DeliveryConfig]{value: cfg, version: version + 1}
	})
	return nil
}

func (tx *memTx) PutDayCounter(counter domain.DayCounter) error {
	counter = counter.Clone()
	s := tx.store
	id := counter.Key()
	tx.put(keyCounter+id, func() {
		s.counters[id] = versioned[domain.DayCounter]{value: counter, version: s.counters[id].version + 1}
	})
	return nil
}

func (tx *memTx) PutOrder(order domain.Order) error {
	if order.ID == "" {
		return fmt.Errorf("%w: order id is required", domain.ErrValidation)
	}
	order = order.Clone()
	s := tx.store
	tx.put(keyOrder+order.ID, func() {
		version := s.orders[order.ID].version + 1
		order.Version = version
		s.orders[order.ID] = versioned[domain.Order]{value: order, version: version}
	})
	return nil
}

func (tx *memTx) PutCustomer(customer domain.Customer) error {
	if customer.Phone == "" {
		return fmt.Errorf("%w: customer phone is required", domain.ErrValidation)
	}
	customer = customer.Clone()
	s := tx.store
	tx.put(keyCustomer+customer.Phone, func() {
		s.customers[customer.Phone] = versioned[domain.Customer]{value: customer, version: s.customers[customer.Phone].version + 1}
	})
	return nil
}

func (tx *memTx) PutStockItem(item domain.StockItem) error {
	s := tx.store
	key := item.Ref().Key()
	tx.put(keyStock+key, func() {
		s.stock[key] = versioned[domain.StockItem]{value: item, version: s.stock[key].version + 1}
	})
	return nil
}

func (tx *memTx) AppendMovement(movement domain.InventoryMovement) error {
	tx.wrote = true
	s := tx.store
	tx.appends = append(tx.appends, func() {
		s.movements = append(s.movements, movement)
	})
	return nil
}

func (tx *memTx) AppendTimeline(event domain.TimelineEvent) error {
	tx.wrote = true
	s := tx.store
	tx.appends = append(tx.appends, func() {
		s.timeline.append(event)
	})
	return nil
}

func (tx *memTx) EnqueueOutbox(msg domain.OutboxMessage) error {
	tx.wrote = true
	s := tx.store
	tx.appends = append(tx.appends, func() {
		s.outbox.enqueue(msg)
	})
	return nil
}

func cloneConfig(cfg domain.DeliveryConfig) domain.DeliveryConfig {
	out := cfg
	out.ClosedDates = append([]string(nil), cfg.ClosedDates...)
	out.Modes = make(map[domain.Mode]domain.ModeConfig, len(cfg.Modes))
	for mode, mc := range cfg.Modes {
		weekdays := make(map[string]domain.WeekdayTemplate, len(mc.Weekdays))
		for key, tpl := range mc.Weekdays {
			tpl.Slots = append([]domain.SlotConfig(nil), tpl.Slots...)
			weekdays[key] = tpl
		}
		out.Modes[mode] = domain.ModeConfig{Enabled: mc.Enabled, Weekdays: weekdays}
	}
	return out
}

var _ domain.Tx = (*memTx)(nil)
