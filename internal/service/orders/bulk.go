package orders

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// BulkResult: итог bulk-операции. Каждый элемент обрабатывается своей транзакцией,
// ошибка одного не откатывает остальные.
type BulkResult struct {
	Total     int               `json:"total"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
	Errors    map[string]string `json:"errors,omitempty"`
}

// EcoPointsAdjustment: корректировка баллов одного клиента.
type EcoPointsAdjustment struct {
	Phone string `json:"phone"`
	Delta int    `json:"delta"`
}

// BulkMarkPaid подтверждает оплату списка заказов.
func (e *Engine) BulkMarkPaid(ctx context.Context, orderIDs []string) BulkResult {
	return e.runBulk(ctx, "mark_paid", dedupe(orderIDs), func(ctx context.Context, id string) error {
		_, err := e.MarkPaid(ctx, id)
		return err
	})
}

// BulkCancel отменяет список заказов с одной причиной.
func (e *Engine) BulkCancel(ctx context.Context, orderIDs []string, reason string) BulkResult {
	return e.runBulk(ctx, "cancel", dedupe(orderIDs), func(ctx context.Context, id string) error {
		_, err := e.Cancel(ctx, id, reason)
		return err
	})
}

// BulkAdjustEcoPoints применяет корректировки баллов. Повторы одного телефона суммируются.
func (e *Engine) BulkAdjustEcoPoints(ctx context.Context, adjustments []EcoPointsAdjustment) BulkResult {
	deltas := make(map[string]int, len(adjustments))
	phones := make([]string, 0, len(adjustments))
	for _, adj := range adjustments {
		if _, ok := deltas[adj.Phone]; !ok {
			phones = append(phones, adj.Phone)
		}
		deltas[adj.Phone] += adj.Delta
	}
	return e.runBulk(ctx, "eco_points", phones, func(ctx context.Context, phone string) error {
		_, err := e.AdjustEcoPoints(ctx, phone, deltas[phone])
		return err
	})
}

func (e *Engine) runBulk(ctx context.Context, operation string, keys []string, fn func(ctx context.Context, key string) error) BulkResult {
	started := time.Now()
	result := BulkResult{Total: len(keys)}
	var mu sync.Mutex

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(e.bulkParallelism)
	for _, key := range keys {
		group.Go(func() error {
			err := fn(groupCtx, key)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if result.Errors == nil {
					result.Errors = make(map[string]string)
				}
				result.Errors[key] = err.Error()
				result.Failed++
				return nil
			}
			result.Succeeded++
			return nil
		})
	}
	_ = group.Wait()

	e.metrics.RecordBulk(operation, result.Succeeded, result.Failed)
	e.metrics.RecordDuration("bulk_"+operation, time.Since(started))
	e.logger.WithFields(log.Fields{
		"operation": operation,
		"total":     result.Total,
		"succeeded": result.Succeeded,
		"failed":    result.Failed,
	}).Info("bulk operation finished")
	return result
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
