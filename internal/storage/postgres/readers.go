package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/vladislavdragonenkov/dms/internal/domain"
)

type stockRow struct {
	ProductID  string    `db:"product_id"`
	VariantKey string    `db:"variant_key"`
	Quantity   int       `db:"quantity"`
	UpdatedAt  time.Time `db:"updated_at"`
}

type movementRow struct {
	ID         string    `db:"id"`
	ProductID  string    `db:"product_id"`
	VariantKey string    `db:"variant_key"`
	Type       string    `db:"type"`
	Quantity   int       `db:"quantity"`
	Reason     string    `db:"reason"`
	OrderID    string    `db:"order_id"`
	CreatedAt  time.Time `db:"created_at"`
}

func movementRowFrom(m domain.InventoryMovement) movementRow {
	return movementRow{
		ID:         m.ID,
		ProductID:  m.ProductID,
		VariantKey: m.VariantKey,
		Type:       string(m.Type),
		Quantity:   m.Quantity,
		Reason:     m.Reason,
		OrderID:    m.OrderID,
		CreatedAt:  updatedAt(m.CreatedAt),
	}
}

func (r movementRow) movement() domain.InventoryMovement {
	return domain.InventoryMovement{
		ID:         r.ID,
		ProductID:  r.ProductID,
		VariantKey: r.VariantKey,
		Type:       domain.MovementType(r.Type),
		Quantity:   r.Quantity,
		Reason:     r.Reason,
		OrderID:    r.OrderID,
		CreatedAt:  r.CreatedAt.UTC(),
	}
}

func decodeConfig(row documentRow) (domain.DeliveryConfig, error) {
	var cfg domain.DeliveryConfig
	if err := json.Unmarshal(row.Doc, &cfg); err != nil {
		return domain.DeliveryConfig{}, fmt.Errorf("decode delivery config: %w", err)
	}
	cfg.Version = row.Version
	return cfg, nil
}

func decodeCounter(row documentRow) (domain.DayCounter, error) {
	var counter domain.DayCounter
	if err := json.Unmarshal(row.Doc, &counter); err != nil {
		return domain.DayCounter{}, fmt.Errorf("decode day counter: %w", err)
	}
	if counter.Slots == nil {
		counter.Slots = make(map[string]domain.SlotCounter)
	}
	return counter, nil
}

func getCustomer(ctx context.Context, q sqlx.QueryerContext, phone string) (domain.Customer, error) {
	var row documentRow
	err := sqlx.GetContext(ctx, q, &row, `SELECT doc, version FROM customers WHERE phone = $1`, phone)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Customer{}, domain.ErrCustomerNotFound
	}
	if err != nil {
		return domain.Customer{}, fmt.Errorf("select customer: %w", err)
	}
	var customer domain.Customer
	if err := json.Unmarshal(row.Doc, &customer); err != nil {
		return domain.Customer{}, fmt.Errorf("decode customer: %w", err)
	}
	return customer, nil
}

func getStock(ctx context.Context, q sqlx.QueryerContext, ref domain.StockRef) (domain.StockItem, error) {
	variant := ref.VariantKey
	if variant == "" {
		variant = domain.DefaultVariantKey
	}
	var row stockRow
	err := sqlx.GetContext(ctx, q, &row, `
		SELECT product_id, variant_key, quantity, updated_at
		FROM stock_items
		WHERE product_id = $1 AND variant_key = $2
	`, ref.ProductID, variant)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.StockItem{}, domain.ErrStockItemNotFound
	}
	if err != nil {
		return domain.StockItem{}, fmt.Errorf("select stock item %s: %w", ref.Key(), err)
	}
	return domain.StockItem{
		ProductID:  row.ProductID,
		VariantKey: row.VariantKey,
		Quantity:   row.Quantity,
		UpdatedAt:  row.UpdatedAt.UTC(),
	}, nil
}

// LoadConfig возвращает конфигурацию доставки или ErrConfigMissing.
func (s *Store) LoadConfig(ctx context.Context) (domain.DeliveryConfig, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var row documentRow
	err := s.db.GetContext(ctx, &row, `SELECT doc, version FROM delivery_config WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DeliveryConfig{}, domain.ErrConfigMissing
	}
	if err != nil {
		return domain.DeliveryConfig{}, fmt.Errorf("select delivery config: %w", err)
	}
	return decodeConfig(row)
}

// ListDayCounters возвращает счётчики режима в диапазоне дат [from, to] включительно.
// Даты в формате YYYY-MM-DD сравниваются лексикографически.
func (s *Store) ListDayCounters(ctx context.Context, mode domain.Mode, from, to string) (map[string]domain.DayCounter, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var rows []documentRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT doc, version
		FROM day_counters
		WHERE mode = $1 AND date >= $2 AND date <= $3
	`, string(mode), from, to); err != nil {
		return nil, fmt.Errorf("list day counters: %w", err)
	}

	result := make(map[string]domain.DayCounter, len(rows))
	for _, row := range rows {
		counter, err := decodeCounter(row)
		if err != nil {
			return nil, err
		}
		result[counter.Date] = counter
	}
	return result, nil
}

// GetCustomer возвращает агрегат клиента по нормализованному телефону.
func (s *Store) GetCustomer(ctx context.Context, phone string) (domain.Customer, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return getCustomer(ctx, s.db, domain.NormalizePhone(phone))
}

// GetStock возвращает остаток варианта или ErrStockItemNotFound.
func (s *Store) GetStock(ctx context.Context, ref domain.StockRef) (domain.StockItem, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return getStock(ctx, s.db, ref)
}

// ListMovements возвращает журнал склада по заказу в порядке записи; пустой orderID: весь журнал.
func (s *Store) ListMovements(ctx context.Context, orderID string) ([]domain.InventoryMovement, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query := `
		SELECT id, product_id, variant_key, type, quantity, reason, order_id, created_at
		FROM inventory_movements
	`
	args := []any{}
	if orderID != "" {
		query += ` WHERE order_id = $1`
		args = append(args, orderID)
	}
	query += ` ORDER BY seq`

	var rows []movementRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list inventory movements: %w", err)
	}
	result := make([]domain.InventoryMovement, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.movement())
	}
	return result, nil
}
