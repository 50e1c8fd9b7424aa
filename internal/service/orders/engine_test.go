package orders_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/dms/internal/domain"
	"github.com/vladislavdragonenkov/dms/internal/service/orders"
	"github.com/vladislavdragonenkov/dms/internal/session"
	"github.com/vladislavdragonenkov/dms/internal/storage/memory"
)

const (
	monday    = "2026-10-19"
	tuesday   = "2026-10-20"
	wednesday = "2026-10-21"
	thursday  = "2026-10-22"
)

var saoPaulo = mustLocation("America/Sao_Paulo")

func mustLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone("BRT", -3*60*60)
	}
	return loc
}

// fridayMorning: пятница 2026-10-16 10:00 по Сан-Паулу.
func fridayMorning() time.Time {
	return time.Date(2026, time.October, 16, 10, 0, 0, 0, saoPaulo)
}

func testConfig() domain.DeliveryConfig {
	weekdays := make(map[string]domain.WeekdayTemplate, 7)
	for _, key := range domain.WeekdayKeys() {
		weekdays[key] = domain.WeekdayTemplate{
			Open:          key != "sun",
			DailyCapacity: 20,
			Slots: []domain.SlotConfig{
				{ID: "morning", Label: "Manhã", Start: "08:00", End: "12:00", Capacity: 10, Enabled: true},
				{ID: "afternoon", Label: "Tarde", Start: "13:00", End: "17:00", Capacity: 10, Enabled: true},
			},
		}
	}
	return domain.DeliveryConfig{
		Timezone:       "America/Sao_Paulo",
		MaxAdvanceDays: 30,
		Modes: map[domain.Mode]domain.ModeConfig{
			domain.ModeDelivery: {Enabled: true, Weekdays: weekdays},
			domain.ModePickup:   {Enabled: false, Weekdays: weekdays},
		},
	}
}

func testCatalog() []domain.CatalogItem {
	return []domain.CatalogItem{
		{
			ID: "kombucha", Kind: domain.ItemKindProduct, Name: "Kombucha", Active: true,
			Variants: map[string]domain.Variant{"500ml": {PriceCents: 1200, Active: true}},
		},
		{
			ID: "tasting-box", Kind: domain.ItemKindBundle, Name: "Tasting box", Active: true,
			Variants:   map[string]domain.Variant{domain.DefaultVariantKey: {PriceCents: 5000, Active: true}},
			Components: []domain.BundleComponent{{ProductID: "kombucha", VariantKey: "500ml", Quantity: 4}},
		},
		{
			ID: "retired", Kind: domain.ItemKindProduct, Name: "Retired", Active: false,
			Variants: map[string]domain.Variant{domain.DefaultVariantKey: {PriceCents: 100, Active: true}},
		},
	}
}

type fixture struct {
	store  *memory.Store
	engine *orders.Engine
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := memory.NewStore(memory.WithTxOptions(domain.TxOptions{MaxAttempts: 200, BaseDelay: 0, MaxDelay: time.Millisecond}))
	store.SeedCatalog(testCatalog()...)
	store.SeedStock(domain.StockItem{ProductID: "kombucha", VariantKey: "500ml", Quantity: 10})

	require.NoError(t, store.RunInTransaction(context.Background(), func(tx domain.Tx) error {
		return tx.PutConfig(testConfig())
	}))

	engine := orders.NewEngine(store, store, session.NewBinder(), orders.WithClock(fridayMorning))
	return fixture{store: store, engine: engine}
}

func (f fixture) putCounter(t *testing.T, counter domain.DayCounter) {
	t.Helper()
	require.NoError(t, f.store.RunInTransaction(context.Background(), func(tx domain.Tx) error {
		return tx.PutDayCounter(counter)
	}))
}

func (f fixture) counter(t *testing.T, date string) domain.DayCounter {
	t.Helper()
	counters, err := f.store.ListDayCounters(context.Background(), domain.ModeDelivery, date, date)
	require.NoError(t, err)
	return counters[date]
}

func (f fixture) reserve(t *testing.T, date, slotID string) orders.ReserveResult {
	t.Helper()
	result, err := f.engine.Reserve(context.Background(), orders.ReserveRequest{
		Selection: orders.Selection{Date: date, Mode: domain.ModeDelivery, SlotID: slotID},
	})
	require.NoError(t, err)
	return result
}

func cart() []domain.CartLine {
	return []domain.CartLine{
		{Kind: domain.ItemKindProduct, ProductID: "kombucha", VariantKey: "500ml", Quantity: 2},
		{Kind: domain.ItemKindBundle, ProductID: "tasting-box", Quantity: 1},
	}
}

func customer() domain.CustomerInfo {
	return domain.CustomerInfo{
		Name:    "Ana",
		Phone:   "+55 (11) 91234-5678",
		Method:  domain.ModeDelivery,
		Address: "Rua das Flores, 10",
	}
}

const customerPhone = "5511912345678"

// checkedOut бронирует слот и оформляет заказ.
func (f fixture) checkedOut(t *testing.T, date, slotID string) orders.CheckoutResult {
	t.Helper()
	reserved := f.reserve(t, date, slotID)
	result, err := f.engine.Checkout(context.Background(), orders.CheckoutRequest{
		OrderID:         reserved.OrderID,
		Token:           reserved.Token,
		Lines:           cart(),
		Customer:        customer(),
		BottlesToReturn: 3,
	})
	require.NoError(t, err)
	return result
}

func slotBooked(counter domain.DayCounter, slotID string) int {
	return counter.Slots[slotID].Booked
}
