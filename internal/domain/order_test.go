package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/dms/internal/domain"
)

// helper для создания оформленного заказа с одной позицией.
func makeOrder() domain.Order {
	now := time.Now().UTC()
	return domain.Order{
		ID:     "9f1c2d3e-0000-4000-8000-000000000001",
		Status: domain.OrderStatusConfirmed,
		Items: []domain.OrderItem{
			{
				ProductID:      "kombucha",
				Kind:           domain.ItemKindProduct,
				VariantKey:     "500ml",
				Quantity:       5,
				UnitPriceCents: 100,
				LineTotalCents: 500,
			},
		},
		Pricing:   domain.Pricing{SubtotalCents: 500, TotalCents: 500, ItemCount: 5},
		Customer:  domain.CustomerSnapshot{Name: "Ana", Phone: "5511999990000", Method: domain.ModePickup},
		Schedule:  &domain.Schedule{Date: "2026-10-19", Mode: domain.ModePickup, SlotID: "morning"},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestOrderValidateInvariants_Ok(t *testing.T) {
	order := makeOrder()
	require.Empty(t, order.ValidateInvariants())
}

func TestOrderValidateInvariants_Errors(t *testing.T) {
	cases := []struct {
		name string
		mut  func(o *domain.Order)
	}{
		{
			name: "no phone",
			mut: func(o *domain.Order) {
				o.Customer.Phone = ""
			},
		},
		{
			name: "no schedule",
			mut: func(o *domain.Order) {
				o.Schedule = nil
			},
		},
		{
			name: "no items",
			mut: func(o *domain.Order) {
				o.Items = nil
			},
		},
		{
			name: "subtotal mismatch",
			mut: func(o *domain.Order) {
				o.Pricing.SubtotalCents = 499
			},
		},
		{
			name: "zero quantity",
			mut: func(o *domain.Order) {
				o.Items[0].Quantity = 0
				o.Pricing.SubtotalCents = 0
			},
		},
		{
			name: "quantity above limit",
			mut: func(o *domain.Order) {
				o.Items[0].Quantity = 1 << 61
				o.Pricing.SubtotalCents = 0
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			order := makeOrder()
			tc.mut(&order)
			errs := order.ValidateInvariants()
			require.NotEmpty(t, errs)
			for _, err := range errs {
				assert.ErrorIs(t, err, domain.ErrValidation)
			}
		})
	}
}

func TestOrderStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to domain.OrderStatus
		want     bool
	}{
		{domain.OrderStatusNew, domain.OrderStatusConfirmed, true},
		{domain.OrderStatusNew, domain.OrderStatusPaid, false},
		{domain.OrderStatusConfirmed, domain.OrderStatusPaid, true},
		{domain.OrderStatusConfirmed, domain.OrderStatusInProduction, true},
		{domain.OrderStatusPaid, domain.OrderStatusInProduction, true},
		{domain.OrderStatusInProduction, domain.OrderStatusOutForDelivery, true},
		{domain.OrderStatusOutForDelivery, domain.OrderStatusDelivered, true},
		{domain.OrderStatusOutForDelivery, domain.OrderStatusConfirmed, false},
		{domain.OrderStatusNew, domain.OrderStatusCanceled, true},
		{domain.OrderStatusOutForDelivery, domain.OrderStatusCanceled, true},
		{domain.OrderStatusDelivered, domain.OrderStatusCanceled, false},
		{domain.OrderStatusCanceled, domain.OrderStatusCanceled, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.from.CanTransitionTo(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestOrderCloneIsDeep(t *testing.T) {
	order := makeOrder()
	order.Items[0].Components = []domain.BundleComponent{{ProductID: "a", Quantity: 1}}

	clone := order.Clone()
	clone.Schedule.SlotID = "evening"
	clone.Items[0].Quantity = 42
	clone.Items[0].Components[0].Quantity = 7

	assert.Equal(t, "morning", order.Schedule.SlotID)
	assert.Equal(t, 5, order.Items[0].Quantity)
	assert.Equal(t, 1, order.Items[0].Components[0].Quantity)
}

func TestShortOrderID(t *testing.T) {
	assert.Equal(t, "9F1C2D3E", domain.ShortOrderID("9f1c2d3e-0000-4000-8000-000000000001"))
	assert.Equal(t, "AB", domain.ShortOrderID("ab"))
}

func TestOrderStockLinesExpandsBundles(t *testing.T) {
	order := domain.Order{Items: []domain.OrderItem{
		{ProductID: "kombucha", Kind: domain.ItemKindProduct, VariantKey: "500ml", Quantity: 2},
		{
			ProductID: "tasting-box",
			Kind:      domain.ItemKindBundle,
			Quantity:  3,
			Components: []domain.BundleComponent{
				{ProductID: "kombucha", VariantKey: "500ml", Quantity: 1},
				{ProductID: "kefir", Quantity: 2},
			},
		},
	}}

	lines := order.StockLines()
	require.Len(t, lines, 2)
	assert.Equal(t, domain.StockRef{ProductID: "kefir", VariantKey: domain.DefaultVariantKey}, lines[0].Ref)
	assert.Equal(t, 6, lines[0].Quantity)
	assert.Equal(t, domain.StockRef{ProductID: "kombucha", VariantKey: "500ml"}, lines[1].Ref)
	assert.Equal(t, 5, lines[1].Quantity)
}
