package orders_test

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/dms/internal/domain"
	"github.com/vladislavdragonenkov/dms/internal/metrics"
	"github.com/vladislavdragonenkov/dms/internal/service/orders"
	"github.com/vladislavdragonenkov/dms/internal/session"
)

func TestBulkMarkPaid_PartialSuccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.SeedStock(domain.StockItem{ProductID: "kombucha", VariantKey: "500ml", Quantity: 100})
	first := f.checkedOut(t, monday, "morning")
	second := f.checkedOut(t, monday, "afternoon")
	draft := f.reserve(t, tuesday, "morning")

	result := f.engine.BulkMarkPaid(ctx, []string{first.OrderID, second.OrderID, draft.OrderID, "missing", first.OrderID})
	assert.Equal(t, 4, result.Total)
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 2, result.Failed)
	assert.Contains(t, result.Errors, draft.OrderID)
	assert.Contains(t, result.Errors, "missing")
	assert.Equal(t, 100-12, f.stock(t, kombucha))
}

func TestBulkCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.checkedOut(t, monday, "morning")
	second := f.checkedOut(t, monday, "morning")

	result := f.engine.BulkCancel(ctx, []string{first.OrderID, second.OrderID}, "storm")
	assert.Equal(t, 2, result.Succeeded)
	assert.Zero(t, result.Failed)
	assert.Equal(t, 0, f.counter(t, monday).DailyBooked)

	customer, err := f.store.GetCustomer(ctx, customerPhone)
	require.NoError(t, err)
	assert.Equal(t, 0, customer.OrderCount)
}

func TestBulkAdjustEcoPoints(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.checkedOut(t, monday, "morning")

	result := f.engine.BulkAdjustEcoPoints(ctx, []orders.EcoPointsAdjustment{
		{Phone: customerPhone, Delta: 5},
		{Phone: "+55 11 91234-5678", Delta: -2},
		{Phone: "5511000000000", Delta: 1},
	})
	// Телефоны нормализуются движком, но группировка идёт по строке запроса.
	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 1, result.Failed)

	customer, err := f.store.GetCustomer(ctx, customerPhone)
	require.NoError(t, err)
	assert.Equal(t, 3+5-2, customer.EcoPoints)

	_, err = f.engine.AdjustEcoPoints(ctx, customerPhone, -100)
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestEngineMetricsAreRecorded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	registry := prometheus.NewRegistry()
	engine := orders.NewEngine(f.store, f.store, session.NewBinder(),
		orders.WithClock(fridayMorning),
		orders.WithMetrics(metrics.NewEngineMetricsWithRegisterer(registry)),
	)

	_, err := engine.Reserve(ctx, orders.ReserveRequest{
		Selection: orders.Selection{Date: monday, Mode: domain.ModeDelivery, SlotID: "morning"},
	})
	require.NoError(t, err)
	_, err = engine.Reserve(ctx, orders.ReserveRequest{
		Selection: orders.Selection{Date: "2026-10-18", Mode: domain.ModeDelivery, SlotID: "morning"},
	})
	require.Error(t, err)

	families, err := registry.Gather()
	require.NoError(t, err)
	values := map[string]float64{}
	for _, family := range families {
		if family.GetName() != "dms_reservations_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "result" {
					values[label.GetValue()] = metric.GetCounter().GetValue()
				}
			}
		}
	}
	assert.Equal(t, 1.0, values["reserved"])
	assert.Equal(t, 1.0, values["closed"])
}
