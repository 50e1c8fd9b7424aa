package drafts_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/dms/internal/domain"
	"github.com/vladislavdragonenkov/dms/internal/service/drafts"
	"github.com/vladislavdragonenkov/dms/internal/service/orders"
	"github.com/vladislavdragonenkov/dms/internal/session"
	"github.com/vladislavdragonenkov/dms/internal/storage/memory"
)

func weekdayConfig() domain.DeliveryConfig {
	weekdays := make(map[string]domain.WeekdayTemplate, 7)
	for _, key := range domain.WeekdayKeys() {
		weekdays[key] = domain.WeekdayTemplate{
			Open:          true,
			DailyCapacity: 10,
			Slots:         []domain.SlotConfig{{ID: "all-day", Label: "All day", Start: "09:00", End: "18:00", Capacity: 10, Enabled: true}},
		}
	}
	return domain.DeliveryConfig{
		Timezone: "UTC",
		Modes:    map[domain.Mode]domain.ModeConfig{domain.ModeDelivery: {Enabled: true, Weekdays: weekdays}},
	}
}

func TestReaper_ExpiresStaleDraftsAndReleasesSlots(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	require.NoError(t, store.RunInTransaction(ctx, func(tx domain.Tx) error {
		return tx.PutConfig(weekdayConfig())
	}))

	created := time.Date(2026, time.October, 16, 9, 0, 0, 0, time.UTC)
	clock := created
	engine := orders.NewEngine(store, store, session.NewBinder(), orders.WithClock(func() time.Time { return clock }))

	for i := 0; i < 3; i++ {
		_, err := engine.Reserve(ctx, orders.ReserveRequest{
			Selection: orders.Selection{Date: "2026-10-19", Mode: domain.ModeDelivery, SlotID: "all-day"},
		})
		require.NoError(t, err)
	}

	clock = created.Add(3 * time.Hour)
	reaper := drafts.NewReaper(store, engine,
		drafts.WithTTL(2*time.Hour),
		drafts.WithBatchSize(2),
		drafts.WithClock(func() time.Time { return clock }),
	)

	expired, err := reaper.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, expired)

	counters, err := store.ListDayCounters(ctx, domain.ModeDelivery, "2026-10-19", "2026-10-19")
	require.NoError(t, err)
	assert.Equal(t, 0, counters["2026-10-19"].DailyBooked)

	remaining, err := store.ListStaleDrafts(ctx, clock, 10)
	require.NoError(t, err)
	assert.Empty(t, remaining)

	expired, err = reaper.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, expired)
}

func TestReaper_KeepsFreshDrafts(t *testing.T) {
	reader := &stubReader{}
	expirer := &stubExpirer{}
	reaper := drafts.NewReaper(reader, expirer, drafts.WithTTL(time.Hour))

	expired, err := reaper.ExpireStale(context.Background())
	require.NoError(t, err)
	assert.Zero(t, expired)
	assert.Zero(t, expirer.calls())
}

func TestReaper_ContinuesAfterSingleFailure(t *testing.T) {
	reader := &stubReader{batches: [][]domain.Order{{{ID: "bad"}, {ID: "good"}}}}
	expirer := &stubExpirer{failures: map[string]error{"bad": errors.New("boom")}}
	reaper := drafts.NewReaper(reader, expirer, drafts.WithBatchSize(10))

	expired, err := reaper.ExpireStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, expired)
	assert.Equal(t, 2, expirer.calls())
}

func TestReaper_ReaderError(t *testing.T) {
	reader := &stubReader{err: errors.New("db down")}
	reaper := drafts.NewReaper(reader, &stubExpirer{})

	_, err := reaper.ExpireStale(context.Background())
	require.Error(t, err)
}

func TestReaper_RunStopsOnContextCancel(t *testing.T) {
	reaper := drafts.NewReaper(&stubReader{}, &stubExpirer{}, drafts.WithInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		reaper.Run(ctx)
	}()

	time.Sleep(15 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop on context cancel")
	}
}

type stubReader struct {
	mu      sync.Mutex
	batches [][]domain.Order
	err     error
}

func (s *stubReader) GetOrder(context.Context, string) (domain.Order, error) {
	return domain.Order{}, domain.ErrOrderNotFound
}

func (s *stubReader) ListStaleDrafts(context.Context, time.Time, int) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if len(s.batches) == 0 {
		return nil, nil
	}
	batch := s.batches[0]
	s.batches = s.batches[1:]
	return batch, nil
}

type stubExpirer struct {
	mu       sync.Mutex
	failures map[string]error
	count    int
}

func (s *stubExpirer) ExpireDraft(_ context.Context, orderID string, _ time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count++
	if err, ok := s.failures[orderID]; ok {
		return false, err
	}
	return true, nil
}

func (s *stubExpirer) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

var _ domain.OrderReader = (*stubReader)(nil)
var _ drafts.Expirer = (*stubExpirer)(nil)
