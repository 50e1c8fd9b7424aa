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

// documentRow: JSONB-документ и его версия.
type documentRow struct {
	Doc     []byte `db:"doc"`
	Version int64  `db:"version"`
}

func decodeOrder(row documentRow) (domain.Order, error) {
	var order domain.Order
	if err := json.Unmarshal(row.Doc, &order); err != nil {
		return domain.Order{}, fmt.Errorf("decode order: %w", err)
	}
	order.Version = row.Version
	return order, nil
}

func getOrder(ctx context.Context, q sqlx.QueryerContext, id string) (domain.Order, error) {
	var row documentRow
	err := sqlx.GetContext(ctx, q, &row, `SELECT doc, version FROM orders WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}
	return decodeOrder(row)
}

// GetOrder возвращает заказ или ErrOrderNotFound.
func (s *Store) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return getOrder(ctx, s.db, id)
}

// ListStaleDrafts возвращает самые старые черновики, не обновлявшиеся с before.
func (s *Store) ListStaleDrafts(ctx context.Context, before time.Time, limit int) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	// LIMIT NULL в PostgreSQL означает отсутствие ограничения.
	var limitArg any
	if limit > 0 {
		limitArg = limit
	}

	var rows []documentRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT doc, version
		FROM orders
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at, id
		LIMIT $3
	`, string(domain.OrderStatusNew), before.UTC(), limitArg); err != nil {
		return nil, fmt.Errorf("list stale drafts: %w", err)
	}

	result := make([]domain.Order, 0, len(rows))
	for _, row := range rows {
		order, err := decodeOrder(row)
		if err != nil {
			return nil, err
		}
		result = append(result, order)
	}
	return result, nil
}
