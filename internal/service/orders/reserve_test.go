package orders_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/dms/internal/domain"
	"github.com/vladislavdragonenkov/dms/internal/service/orders"
)

func TestReserve_NewDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result := f.reserve(t, monday, "morning")
	assert.NotEmpty(t, result.OrderID)
	assert.NotEmpty(t, result.Token)
	assert.Equal(t, domain.ShortOrderID(result.OrderID), result.ShortID)
	assert.Equal(t, "Manhã", result.Schedule.SlotLabel)
	assert.False(t, result.Switched)

	counter := f.counter(t, monday)
	assert.Equal(t, 1, counter.DailyBooked)
	assert.Equal(t, 1, slotBooked(counter, "morning"))
	assert.Nil(t, counter.Slots["morning"].CapacitySnapshot)
	assert.Nil(t, counter.Slots["morning"].EnabledSnapshot)

	order, err := f.store.GetOrder(ctx, result.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusNew, order.Status)
	assert.NotEqual(t, result.Token, order.TokenHash)

	timeline, err := f.store.Timeline().List(result.OrderID)
	require.NoError(t, err)
	require.Len(t, timeline, 1)
	assert.Equal(t, domain.TimelineSlotReserved, timeline[0].Type)

	pending := f.store.Outbox().AllPending()
	require.Len(t, pending, 1)
	assert.Equal(t, string(domain.EventSlotReserved), pending[0].EventType)
}

func TestReserve_SwitchMovesBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.reserve(t, monday, "morning")

	switched, err := f.engine.Reserve(ctx, orders.ReserveRequest{
		OrderID:   first.OrderID,
		Token:     first.Token,
		Selection: orders.Selection{Date: tuesday, Mode: domain.ModeDelivery, SlotID: "afternoon"},
	})
	require.NoError(t, err)
	assert.True(t, switched.Switched)
	assert.Empty(t, switched.Token)
	require.NotNil(t, switched.Previous)
	assert.Equal(t, monday, switched.Previous.Date)

	assert.Equal(t, 0, slotBooked(f.counter(t, monday), "morning"))
	assert.Equal(t, 0, f.counter(t, monday).DailyBooked)
	assert.Equal(t, 1, slotBooked(f.counter(t, tuesday), "afternoon"))
}

func TestReserve_FailedSwitchKeepsOriginal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.reserve(t, monday, "morning")

	full := domain.NewDayCounter(wednesday, domain.ModeDelivery)
	capacity := 1
	full.Slots["afternoon"] = domain.SlotCounter{Booked: 1, CapacitySnapshot: &capacity}
	full.DailyBooked = 1
	f.putCounter(t, full)

	_, err := f.engine.Reserve(ctx, orders.ReserveRequest{
		OrderID:   first.OrderID,
		Token:     first.Token,
		Selection: orders.Selection{Date: wednesday, Mode: domain.ModeDelivery, SlotID: "afternoon"},
	})
	require.ErrorIs(t, err, domain.ErrSlotFull)
	assert.True(t, domain.IsSlotUnavailable(err))

	assert.Equal(t, 1, slotBooked(f.counter(t, monday), "morning"))
	assert.Equal(t, 1, slotBooked(f.counter(t, wednesday), "afternoon"))
	order, err := f.store.GetOrder(ctx, first.OrderID)
	require.NoError(t, err)
	require.NotNil(t, order.Schedule)
	assert.Equal(t, monday, order.Schedule.Date)
}

func TestReserve_SameDaySwitchInFullDay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	limited := domain.NewDayCounter(thursday, domain.ModeDelivery)
	daily := 1
	limited.OverrideDailyCapacity = &daily
	f.putCounter(t, limited)

	first := f.reserve(t, thursday, "morning")
	_, err := f.engine.Reserve(ctx, orders.ReserveRequest{
		Selection: orders.Selection{Date: thursday, Mode: domain.ModeDelivery, SlotID: "afternoon"},
	})
	require.ErrorIs(t, err, domain.ErrSlotFull)

	switched, err := f.engine.Reserve(ctx, orders.ReserveRequest{
		OrderID:   first.OrderID,
		Token:     first.Token,
		Selection: orders.Selection{Date: thursday, Mode: domain.ModeDelivery, SlotID: "afternoon"},
	})
	require.NoError(t, err)
	assert.True(t, switched.Switched)

	counter := f.counter(t, thursday)
	assert.Equal(t, 1, counter.DailyBooked)
	assert.Equal(t, 0, slotBooked(counter, "morning"))
	assert.Equal(t, 1, slotBooked(counter, "afternoon"))
}

func TestReserve_SameSlotIsNoop(t *testing.T) {
	f := newFixture(t)
	first := f.reserve(t, monday, "morning")
	before := len(f.store.Outbox().AllPending())

	again, err := f.engine.Reserve(context.Background(), orders.ReserveRequest{
		OrderID:   first.OrderID,
		Token:     first.Token,
		Selection: orders.Selection{Date: monday, Mode: domain.ModeDelivery, SlotID: "morning"},
	})
	require.NoError(t, err)
	assert.True(t, again.Unchanged)
	assert.Equal(t, 1, slotBooked(f.counter(t, monday), "morning"))
	assert.Len(t, f.store.Outbox().AllPending(), before)
}

func TestReserve_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.reserve(t, monday, "morning")

	cases := []struct {
		name string
		req  orders.ReserveRequest
		want error
	}{
		{
			name: "missing token",
			req:  orders.ReserveRequest{OrderID: first.OrderID, Selection: orders.Selection{Date: tuesday, Mode: domain.ModeDelivery, SlotID: "morning"}},
			want: domain.ErrUnauthorized,
		},
		{
			name: "foreign token",
			req:  orders.ReserveRequest{OrderID: first.OrderID, Token: "forged", Selection: orders.Selection{Date: tuesday, Mode: domain.ModeDelivery, SlotID: "morning"}},
			want: domain.ErrUnauthorized,
		},
		{
			name: "closed weekday",
			req:  orders.ReserveRequest{Selection: orders.Selection{Date: "2026-10-18", Mode: domain.ModeDelivery, SlotID: "morning"}},
			want: domain.ErrSlotClosed,
		},
		{
			name: "past date",
			req:  orders.ReserveRequest{Selection: orders.Selection{Date: "2026-10-15", Mode: domain.ModeDelivery, SlotID: "morning"}},
			want: domain.ErrSlotClosed,
		},
		{
			name: "disabled mode",
			req:  orders.ReserveRequest{Selection: orders.Selection{Date: monday, Mode: domain.ModePickup, SlotID: "morning"}},
			want: domain.ErrModeDisabled,
		},
		{
			name: "unknown slot",
			req:  orders.ReserveRequest{Selection: orders.Selection{Date: monday, Mode: domain.ModeDelivery, SlotID: "night"}},
			want: domain.ErrSlotNotFound,
		},
		{
			name: "malformed date",
			req:  orders.ReserveRequest{Selection: orders.Selection{Date: "19/10/2026", Mode: domain.ModeDelivery, SlotID: "morning"}},
			want: domain.ErrValidation,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.engine.Reserve(ctx, tc.req)
			require.ErrorIs(t, err, tc.want)
		})
	}

	assert.Equal(t, 1, f.counter(t, monday).DailyBooked)
}

func TestReserve_ConcurrentReservationsNeverOverbook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const capacity = 3
	const clients = 20
	limited := domain.NewDayCounter(tuesday, domain.ModeDelivery)
	slotCapacity := capacity
	limited.Slots["morning"] = domain.SlotCounter{CapacitySnapshot: &slotCapacity}
	f.putCounter(t, limited)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, full := 0, 0
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Reserve(ctx, orders.ReserveRequest{
				Selection: orders.Selection{Date: tuesday, Mode: domain.ModeDelivery, SlotID: "morning"},
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, domain.ErrSlotFull):
				full++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, capacity, succeeded)
	assert.Equal(t, clients-capacity, full)
	counter := f.counter(t, tuesday)
	assert.Equal(t, capacity, slotBooked(counter, "morning"))
	assert.Equal(t, capacity, counter.DailyBooked)
}

func TestReserve_TemplateEditAppliesToBookedDate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.reserve(t, monday, "morning")

	cfg := testConfig()
	mon := cfg.Modes[domain.ModeDelivery].Weekdays["mon"]
	mon.Slots = []domain.SlotConfig{
		{ID: "morning", Label: "Manhã", Start: "08:00", End: "12:00", Capacity: 5, Enabled: false},
		{ID: "afternoon", Label: "Tarde", Start: "13:00", End: "17:00", Capacity: 1, Enabled: true},
	}
	cfg.Modes[domain.ModeDelivery].Weekdays["mon"] = mon
	require.NoError(t, f.store.RunInTransaction(ctx, func(tx domain.Tx) error {
		return tx.PutConfig(cfg)
	}))

	_, err := f.engine.Reserve(ctx, orders.ReserveRequest{
		Selection: orders.Selection{Date: monday, Mode: domain.ModeDelivery, SlotID: "morning"},
	})
	require.ErrorIs(t, err, domain.ErrSlotClosed)

	f.reserve(t, monday, "afternoon")
	_, err = f.engine.Reserve(ctx, orders.ReserveRequest{
		Selection: orders.Selection{Date: monday, Mode: domain.ModeDelivery, SlotID: "afternoon"},
	})
	require.ErrorIs(t, err, domain.ErrSlotFull)

	counter := f.counter(t, monday)
	assert.Equal(t, 1, slotBooked(counter, "morning"))
	assert.Equal(t, 1, slotBooked(counter, "afternoon"))
	assert.Equal(t, 2, counter.DailyBooked)
}

func TestReserve_ConcurrentSwitchesKeepCountersConsistent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const drafts = 5
	held := make([]orders.ReserveResult, drafts)
	for i := range held {
		held[i] = f.reserve(t, monday, "morning")
	}

	stop := make(chan struct{})
	var readers sync.WaitGroup
	readers.Add(1)
	go func() {
		defer readers.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			counters, err := f.store.ListDayCounters(ctx, domain.ModeDelivery, monday, tuesday)
			if err != nil {
				t.Errorf("list counters: %v", err)
				return
			}
			total := 0
			for _, counter := range counters {
				total += counter.DailyBooked
				slots := 0
				for _, slot := range counter.Slots {
					slots += slot.Booked
				}
				if slots != counter.DailyBooked {
					t.Errorf("%s: slots sum %d, daily %d", counter.Date, slots, counter.DailyBooked)
				}
			}
			if total != drafts {
				t.Errorf("reader saw %d bookings, want %d", total, drafts)
			}
		}
	}()

	var writers sync.WaitGroup
	for _, draft := range held {
		writers.Add(1)
		go func(draft orders.ReserveResult) {
			defer writers.Done()
			_, err := f.engine.Reserve(ctx, orders.ReserveRequest{
				OrderID:   draft.OrderID,
				Token:     draft.Token,
				Selection: orders.Selection{Date: tuesday, Mode: domain.ModeDelivery, SlotID: "afternoon"},
			})
			assert.NoError(t, err)
		}(draft)
	}
	writers.Wait()
	close(stop)
	readers.Wait()

	assert.Zero(t, f.counter(t, monday).DailyBooked)
	assert.Zero(t, slotBooked(f.counter(t, monday), "morning"))
	assert.Equal(t, drafts, slotBooked(f.counter(t, tuesday), "afternoon"))
	assert.Equal(t, drafts, f.counter(t, tuesday).DailyBooked)
}
