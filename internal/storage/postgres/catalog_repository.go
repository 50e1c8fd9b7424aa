package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/vladislavdragonenkov/dms/internal/domain"
)

type catalogRow struct {
	ID         string `db:"id"`
	Kind       string `db:"kind"`
	Name       string `db:"name"`
	Active     bool   `db:"active"`
	Variants   []byte `db:"variants"`
	Components []byte `db:"components"`
}

func (r catalogRow) item() (domain.CatalogItem, error) {
	item := domain.CatalogItem{
		ID:     r.ID,
		Kind:   domain.ItemKind(r.Kind),
		Name:   r.Name,
		Active: r.Active,
	}
	if err := json.Unmarshal(r.Variants, &item.Variants); err != nil {
		return domain.CatalogItem{}, fmt.Errorf("decode variants of %s: %w", r.ID, err)
	}
	if len(r.Components) > 0 {
		if err := json.Unmarshal(r.Components, &item.Components); err != nil {
			return domain.CatalogItem{}, fmt.Errorf("decode components of %s: %w", r.ID, err)
		}
	}
	if item.Variants == nil {
		item.Variants = make(map[string]domain.Variant)
	}
	return item, nil
}

// Load возвращает снимок каталога; остатки вариантов берутся из stock_items.
func (s *Store) Load(ctx context.Context, ids []string) (map[string]domain.CatalogItem, error) {
	result := make(map[string]domain.CatalogItem, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query, args, err := sqlx.In(`
		SELECT id, kind, name, active, variants, components
		FROM catalog_items
		WHERE id IN (?)
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("build catalog query: %w", err)
	}
	var rows []catalogRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("load catalog items: %w", err)
	}
	if len(rows) == 0 {
		return result, nil
	}

	query, args, err = sqlx.In(`
		SELECT product_id, variant_key, quantity, updated_at
		FROM stock_items
		WHERE product_id IN (?)
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("build stock query: %w", err)
	}
	var stock []stockRow
	if err := s.db.SelectContext(ctx, &stock, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("load stock for catalog: %w", err)
	}
	quantities := make(map[string]int, len(stock))
	for _, row := range stock {
		quantities[domain.StockRef{ProductID: row.ProductID, VariantKey: row.VariantKey}.Key()] = row.Quantity
	}

	for _, row := range rows {
		item, err := row.item()
		if err != nil {
			return nil, err
		}
		for key, variant := range item.Variants {
			if qty, ok := quantities[domain.StockRef{ProductID: item.ID, VariantKey: key}.Key()]; ok {
				variant.StockQty = qty
				item.Variants[key] = variant
			}
		}
		result[item.ID] = item
	}
	return result, nil
}

// UpsertCatalog сохраняет позиции каталога (используется сидером).
func (s *Store) UpsertCatalog(ctx context.Context, items ...domain.CatalogItem) error {
	if len(items) == 0 {
		return nil
	}
	rows := make([]catalogRow, 0, len(items))
	for _, item := range items {
		variants, err := json.Marshal(item.Variants)
		if err != nil {
			return fmt.Errorf("encode variants of %s: %w", item.ID, err)
		}
		components, err := json.Marshal(item.Components)
		if err != nil {
			return fmt.Errorf("encode components of %s: %w", item.ID, err)
		}
		if item.Components == nil {
			components = []byte("[]")
		}
		rows = append(rows, catalogRow{
			ID:         item.ID,
			Kind:       string(item.Kind),
			Name:       item.Name,
			Active:     item.Active,
			Variants:   variants,
			Components: components,
		})
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := s.db.NamedExecContext(ctx, `
		INSERT INTO catalog_items (id, kind, name, active, variants, components, updated_at)
		VALUES (:id, :kind, :name, :active, :variants, :components, NOW())
		ON CONFLICT (id) DO UPDATE
		SET kind = EXCLUDED.kind,
		    name = EXCLUDED.name,
		    active = EXCLUDED.active,
		    variants = EXCLUDED.variants,
		    components = EXCLUDED.components,
		    updated_at = EXCLUDED.updated_at
	`, rows); err != nil {
		return fmt.Errorf("upsert catalog items: %w", err)
	}
	return nil
}
