package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/dms/internal/domain"
)

const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
)

// RunInTransaction выполняет fn в SERIALIZABLE-транзакции с повторами при конфликте сериализации.
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

		err := s.attempt(ctx, fn)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		lastErr = err
		if opts.OnRetry != nil && attempt < opts.MaxAttempts {
			opts.OnRetry(attempt, err)
		}
		s.logger.WithError(err).WithFields(log.Fields{"attempt": attempt}).Debug("serialization failure, retrying")
	}
	return fmt.Errorf("%w: transaction failed after %d attempts: %v", domain.ErrTransactionConflict, opts.MaxAttempts, lastErr)
}

func (s *Store) attempt(ctx context.Context, fn func(tx domain.Tx) error) (err error) {
	sqlTx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	tx := &pgTx{ctx: ctx, tx: sqlTx, index: make(map[string]int)}
	if err = fn(tx); err != nil {
		return err
	}
	for _, w := range tx.writes {
		if err = w.apply(ctx, sqlTx); err != nil {
			return err
		}
	}
	if err = sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// isRetryable: ошибки сериализации и deadlock лечатся повтором тела.
func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == sqlStateSerializationFailure || pgErr.Code == sqlStateDeadlockDetected
}

type pendingWrite struct {
	key   string
	apply func(ctx context.Context, tx *sqlx.Tx) error
}

// pgTx буферизует записи до конца тела, чтобы порядок "сначала чтения" совпадал с in-memory хранилищем.
type pgTx struct {
	ctx    context.Context
	tx     *sqlx.Tx
	wrote  bool
	writes []pendingWrite
	index  map[string]int
}

func (tx *pgTx) beginRead() error {
	if tx.wrote {
		return domain.ErrReadAfterWrite
	}
	return nil
}

// put заменяет предыдущую запись того же документа, сохраняя её место в очереди.
func (tx *pgTx) put(key string, apply func(ctx context.Context, tx *sqlx.Tx) error) {
	tx.wrote = true
	if i, ok := tx.index[key]; ok {
		tx.writes[i].apply = apply
		return
	}
	tx.index[key] = len(tx.writes)
	tx.writes = append(tx.writes, pendingWrite{key: key, apply: apply})
}

func (tx *pgTx) appendWrite(apply func(ctx context.Context, tx *sqlx.Tx) error) {
	tx.wrote = true
	tx.writes = append(tx.writes, pendingWrite{apply: apply})
}

func (tx *pgTx) Config() (domain.DeliveryConfig, error) {
	if err := tx.beginRead(); err != nil {
		return domain.DeliveryConfig{}, err
	}
	var row documentRow
	err := tx.tx.GetContext(tx.ctx, &row, `SELECT doc, version FROM delivery_config WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DeliveryConfig{}, domain.ErrConfigMissing
	}
	if err != nil {
		return domain.DeliveryConfig{}, fmt.Errorf("select delivery config: %w", err)
	}
	return decodeConfig(row)
}

func (tx *pgTx) DayCounter(date string, mode domain.Mode) (domain.DayCounter, bool, error) {
	if err := tx.beginRead(); err != nil {
		return domain.DayCounter{}, false, err
	}
	var row documentRow
	err := tx.tx.GetContext(tx.ctx, &row, `
		SELECT doc, version FROM day_counters WHERE mode = $1 AND date = $2
	`, string(mode), date)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NewDayCounter(date, mode), false, nil
	}
	if err != nil {
		return domain.DayCounter{}, false, fmt.Errorf("select day counter %s: %w", domain.DayCounterKey(date, mode), err)
	}
	counter, err := decodeCounter(row)
	return counter, err == nil, err
}

func (tx *pgTx) Order(id string) (domain.Order, error) {
	if err := tx.beginRead(); err != nil {
		return domain.Order{}, err
	}
	return getOrder(tx.ctx, tx.tx, id)
}

func (tx *pgTx) Customer(phone string) (domain.Customer, bool, error) {
	if err := tx.beginRead(); err != nil {
		return domain.Customer{}, false, err
	}
	customer, err := getCustomer(tx.ctx, tx.tx, phone)
	if errors.Is(err, domain.ErrCustomerNotFound) {
		return domain.Customer{}, false, nil
	}
	if err != nil {
		return domain.Customer{}, false, err
	}
	return customer, true, nil
}

func (tx *pgTx) StockItem(ref domain.StockRef) (domain.StockItem, bool, error) {
	if err := tx.beginRead(); err != nil {
		return domain.StockItem{}, false, err
	}
	item, err := getStock(tx.ctx, tx.tx, ref)
	if errors.Is(err, domain.ErrStockItemNotFound) {
		return domain.StockItem{ProductID: ref.ProductID, VariantKey: ref.VariantKey}, false, nil
	}
	if err != nil {
		return domain.StockItem{}, false, err
	}
	return item, true, nil
}

func (tx *pgTx) PutConfig(cfg domain.DeliveryConfig) error {
	doc, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal delivery config: %w", err)
	}
	tx.put("config", func(ctx context.Context, sqlTx *sqlx.Tx) error {
		if _, err := sqlTx.ExecContext(ctx, `
			INSERT INTO delivery_config (id, doc, version, updated_at)
			VALUES (1, $1, 1, NOW())
			ON CONFLICT (id) DO UPDATE
			SET doc = EXCLUDED.doc,
			    version = delivery_config.version + 1,
			    updated_at = EXCLUDED.updated_at
		`, doc); err != nil {
			return fmt.Errorf("upsert delivery config: %w", err)
		}
		return nil
	})
	return nil
}

func (tx *pgTx) PutDayCounter(counter domain.DayCounter) error {
	doc, err := json.Marshal(counter)
	if err != nil {
		return fmt.Errorf("marshal day counter: %w", err)
	}
	tx.put("counter:"+counter.Key(), func(ctx context.Context, sqlTx *sqlx.Tx) error {
		if _, err := sqlTx.ExecContext(ctx, `
			INSERT INTO day_counters (date, mode, doc, version, updated_at)
			VALUES ($1, $2, $3, 1, NOW())
			ON CONFLICT (mode, date) DO UPDATE
			SET doc = EXCLUDED.doc,
			    version = day_counters.version + 1,
			    updated_at = EXCLUDED.updated_at
		`, counter.Date, string(counter.Mode), doc); err != nil {
			return fmt.Errorf("upsert day counter %s: %w", counter.Key(), err)
		}
		return nil
	})
	return nil
}

func (tx *pgTx) PutOrder(order domain.Order) error {
	if order.ID == "" {
		return fmt.Errorf("%w: order id is required", domain.ErrValidation)
	}
	doc, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}
	tx.put("order:"+order.ID, func(ctx context.Context, sqlTx *sqlx.Tx) error {
		if _, err := sqlTx.ExecContext(ctx, `
			INSERT INTO orders (id, status, doc, version, created_at, updated_at)
			VALUES ($1, $2, $3, 1, $4, $5)
			ON CONFLICT (id) DO UPDATE
			SET status = EXCLUDED.status,
			    doc = EXCLUDED.doc,
			    version = orders.version + 1,
			    updated_at = EXCLUDED.updated_at
		`, order.ID, string(order.Status), doc, order.CreatedAt.UTC(), order.UpdatedAt.UTC()); err != nil {
			return fmt.Errorf("upsert order %s: %w", order.ID, err)
		}
		return nil
	})
	return nil
}

func (tx *pgTx) PutCustomer(customer domain.Customer) error {
	if customer.Phone == "" {
		return fmt.Errorf("%w: customer phone is required", domain.ErrValidation)
	}
	doc, err := json.Marshal(customer)
	if err != nil {
		return fmt.Errorf("marshal customer: %w", err)
	}
	tx.put("customer:"+customer.Phone, func(ctx context.Context, sqlTx *sqlx.Tx) error {
		if _, err := sqlTx.ExecContext(ctx, `
			INSERT INTO customers (phone, doc, version, updated_at)
			VALUES ($1, $2, 1, NOW())
			ON CONFLICT (phone) DO UPDATE
			SET doc = EXCLUDED.doc,
			    version = customers.version + 1,
			    updated_at = EXCLUDED.updated_at
		`, customer.Phone, doc); err != nil {
			return fmt.Errorf("upsert customer: %w", err)
		}
		return nil
	})
	return nil
}

func (tx *pgTx) PutStockItem(item domain.StockItem) error {
	if item.VariantKey == "" {
		item.VariantKey = domain.DefaultVariantKey
	}
	tx.put("stock:"+item.Ref().Key(), func(ctx context.Context, sqlTx *sqlx.Tx) error {
		if _, err := sqlTx.ExecContext(ctx, `
			INSERT INTO stock_items (product_id, variant_key, quantity, version, updated_at)
			VALUES ($1, $2, $3, 1, $4)
			ON CONFLICT (product_id, variant_key) DO UPDATE
			SET quantity = EXCLUDED.quantity,
			    version = stock_items.version + 1,
			    updated_at = EXCLUDED.updated_at
		`, item.ProductID, item.VariantKey, item.Quantity, updatedAt(item.UpdatedAt)); err != nil {
			return fmt.Errorf("upsert stock item %s: %w", item.Ref().Key(), err)
		}
		return nil
	})
	return nil
}

func (tx *pgTx) AppendMovement(movement domain.InventoryMovement) error {
	if movement.ID == "" {
		movement.ID = uuid.NewString()
	}
	if movement.VariantKey == "" {
		movement.VariantKey = domain.DefaultVariantKey
	}
	tx.appendWrite(func(ctx context.Context, sqlTx *sqlx.Tx) error {
		if _, err := sqlTx.NamedExecContext(ctx, `
			INSERT INTO inventory_movements (id, product_id, variant_key, type, quantity, reason, order_id, created_at)
			VALUES (:id, :product_id, :variant_key, :type, :quantity, :reason, :order_id, :created_at)
		`, movementRowFrom(movement)); err != nil {
			return fmt.Errorf("insert inventory movement: %w", err)
		}
		return nil
	})
	return nil
}

func (tx *pgTx) AppendTimeline(event domain.TimelineEvent) error {
	tx.appendWrite(func(ctx context.Context, sqlTx *sqlx.Tx) error {
		if _, err := sqlTx.ExecContext(ctx, `
			INSERT INTO timeline_events (order_id, type, reason, occurred)
			VALUES ($1, $2, $3, $4)
		`, event.OrderID, string(event.Type), event.Reason, updatedAt(event.Occurred)); err != nil {
			return fmt.Errorf("append timeline event: %w", err)
		}
		return nil
	})
	return nil
}

func (tx *pgTx) EnqueueOutbox(msg domain.OutboxMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	tx.appendWrite(func(ctx context.Context, sqlTx *sqlx.Tx) error {
		now := time.Now().UTC()
		if _, err := sqlTx.ExecContext(ctx, `
			INSERT INTO outbox_messages (
				id, aggregate_type, aggregate_id, event_type, payload,
				status, attempt_count, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, 'pending', 0, $6, $6)
		`, msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Payload, now); err != nil {
			return fmt.Errorf("enqueue outbox message: %w", err)
		}
		return nil
	})
	return nil
}

func updatedAt(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

var _ domain.Tx = (*pgTx)(nil)
