package memory

import (
	"context"
	"sort"
	"time"

	"github.com/vladislavdragonenkov/dms/internal/domain"
)

// LoadConfig возвращает конфигурацию доставки или ErrConfigMissing.
func (s *Store) LoadConfig(ctx context.Context) (domain.DeliveryConfig, error) {
	if err := ctx.Err(); err != nil {
		return domain.DeliveryConfig{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.config == nil {
		return domain.DeliveryConfig{}, domain.ErrConfigMissing
	}
	return cloneConfig(s.config.value), nil
}

// ListDayCounters возвращает счётчики режима в диапазоне дат [from, to] включительно.
func (s *Store) ListDayCounters(ctx context.Context, mode domain.Mode, from, to string) (map[string]domain.DayCounter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.DayCounter)
	for _, doc := range s.counters {
		counter := doc.value
		if counter.Mode != mode || counter.Date < from || counter.Date > to {
			continue
		}
		result[counter.Date] = counter.Clone()
	}
	return result, nil
}

// GetOrder возвращает заказ или ErrOrderNotFound.
func (s *Store) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return doc.value.Clone(), nil
}

// ListStaleDrafts возвращает самые старые черновики, не обновлявшиеся с before.
func (s *Store) ListStaleDrafts(ctx context.Context, before time.Time, limit int) ([]domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Order, 0)
	for _, doc := range s.orders {
		if doc.value.Status != domain.OrderStatusNew || !doc.value.UpdatedAt.Before(before) {
			continue
		}
		result = append(result, doc.value.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].UpdatedAt.Equal(result[j].UpdatedAt) {
			return result[i].UpdatedAt.Before(result[j].UpdatedAt)
		}
		return result[i].ID < result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// GetCustomer возвращает агрегат клиента по нормализованному телефону.
func (s *Store) GetCustomer(ctx context.Context, phone string) (domain.Customer, error) {
	if err := ctx.Err(); err != nil {
		return domain.Customer{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.customers[domain.NormalizePhone(phone)]
	if !ok {
		return domain.Customer{}, domain.ErrCustomerNotFound
	}
	return doc.value.Clone(), nil
}

// ListMovements возвращает записи журнала склада по заказу в порядке записи.
// Пустой orderID возвращает весь журнал.
func (s *Store) ListMovements(ctx context.Context, orderID string) ([]domain.InventoryMovement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.InventoryMovement, 0)
	for _, movement := range s.movements {
		if orderID != "" && movement.OrderID != orderID {
			continue
		}
		result = append(result, movement)
	}
	return result, nil
}

// GetStock возвращает остаток варианта или ErrStockItemNotFound.
func (s *Store) GetStock(ctx context.Context, ref domain.StockRef) (domain.StockItem, error) {
	if err := ctx.Err(); err != nil {
		return domain.StockItem{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.stock[ref.Key()]
	if !ok {
		return domain.StockItem{}, domain.ErrStockItemNotFound
	}
	return doc.value, nil
}

// Load возвращает снимок каталога; остатки вариантов берутся из складских записей.
func (s *Store) Load(ctx context.Context, ids []string) (map[string]domain.CatalogItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.CatalogItem, len(ids))
	for _, id := range ids {
		item, ok := s.catalog[id]
		if !ok {
			continue
		}
		variants := make(map[string]domain.Variant, len(item.Variants))
		for key, variant := range item.Variants {
			ref := domain.StockRef{ProductID: item.ID, VariantKey: key}
			if doc, ok := s.stock[ref.Key()]; ok {
				variant.StockQty = doc.value.Quantity
			}
			variants[key] = variant
		}
		item.Variants = variants
		item.Components = append([]domain.BundleComponent(nil), item.Components...)
		result[id] = item
	}
	return result, nil
}
