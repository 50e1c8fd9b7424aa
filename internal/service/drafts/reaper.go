// Package drafts периодически отменяет брошенные черновики и возвращает их слоты в продажу.
package drafts

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/dms/internal/domain"
)

const (
	defaultTTL       = 2 * time.Hour
	defaultInterval  = 10 * time.Minute
	defaultBatchSize = 200
)

// Expirer отменяет один черновик, если он всё ещё просрочен.
type Expirer interface {
	ExpireDraft(ctx context.Context, orderID string, olderThan time.Time) (bool, error)
}

// Option настраивает Reaper.
type Option func(*Reaper)

// WithLogger задаёт logger воркера.
func WithLogger(logger *log.Entry) Option {
	return func(r *Reaper) {
		r.logger = logger
	}
}

// WithTTL задаёт время жизни черновика без обновлений.
func WithTTL(ttl time.Duration) Option {
	return func(r *Reaper) {
		r.ttl = ttl
	}
}

// WithInterval задаёт интервал между проходами.
func WithInterval(interval time.Duration) Option {
	return func(r *Reaper) {
		r.interval = interval
	}
}

// WithBatchSize задаёт размер порции черновиков за один запрос.
func WithBatchSize(batchSize int) Option {
	return func(r *Reaper) {
		r.batchSize = batchSize
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(r *Reaper) {
		r.now = now
	}
}

// Reaper отменяет черновики, не обновлявшиеся дольше TTL.
type Reaper struct {
	orders    domain.OrderReader
	expirer   Expirer
	logger    *log.Entry
	now       func() time.Time
	ttl       time.Duration
	interval  time.Duration
	batchSize int
}

// NewReaper создаёт воркер.
func NewReaper(orders domain.OrderReader, expirer Expirer, options ...Option) *Reaper {
	r := &Reaper{
		orders:    orders,
		expirer:   expirer,
		now:       time.Now,
		ttl:       defaultTTL,
		interval:  defaultInterval,
		batchSize: defaultBatchSize,
	}
	for _, option := range options {
		option(r)
	}
	if r.logger == nil {
		r.logger = log.WithField("component", "draft-reaper")
	}
	if r.ttl <= 0 {
		r.ttl = defaultTTL
	}
	if r.interval <= 0 {
		r.interval = defaultInterval
	}
	if r.batchSize <= 0 {
		r.batchSize = defaultBatchSize
	}
	return r
}

// Run запускает периодические проходы до отмены ctx.
func (r *Reaper) Run(ctx context.Context) {
	if r.orders == nil || r.expirer == nil {
		r.logger.Warn("draft reaper is disabled: reader or expirer is nil")
		return
	}

	r.sweep(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reaper) sweep(ctx context.Context) {
	expired, err := r.ExpireStale(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		r.logger.WithError(err).Warn("draft reaper run failed")
		return
	}
	if expired > 0 {
		r.logger.WithField("expired", expired).Info("stale drafts expired")
	}
}

// ExpireStale отменяет все черновики старше TTL порциями batchSize.
// Ошибка отдельного черновика логируется и не прерывает проход.
func (r *Reaper) ExpireStale(ctx context.Context) (int, error) {
	olderThan := r.now().UTC().Add(-r.ttl)

	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		stale, err := r.orders.ListStaleDrafts(ctx, olderThan, r.batchSize)
		if err != nil {
			return total, err
		}

		progressed := 0
		for _, draft := range stale {
			expired, err := r.expirer.ExpireDraft(ctx, draft.ID, olderThan)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return total, ctxErr
				}
				r.logger.WithError(err).WithField("order_id", draft.ID).Warn("failed to expire draft")
				continue
			}
			progressed++
			if expired {
				total++
			}
		}

		if len(stale) < r.batchSize || progressed == 0 {
			break
		}
	}
	return total, nil
}
