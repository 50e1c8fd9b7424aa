package domain_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/dms/internal/domain"
)

func testCatalog() map[string]domain.CatalogItem {
	return map[string]domain.CatalogItem{
		"kombucha": {
			ID: "kombucha", Kind: domain.ItemKindProduct, Name: "Kombucha", Active: true,
			Variants: map[string]domain.Variant{
				"500ml": {PriceCents: 1200, Active: true},
				"1l":    {PriceCents: 2000, Active: false},
			},
		},
		"tasting-box": {
			ID: "tasting-box", Kind: domain.ItemKindBundle, Name: "Tasting box", Active: true,
			Variants:   map[string]domain.Variant{domain.DefaultVariantKey: {PriceCents: 5000, Active: true}},
			Components: []domain.BundleComponent{{ProductID: "kombucha", VariantKey: "500ml", Quantity: 4}},
		},
		"retired": {
			ID: "retired", Kind: domain.ItemKindProduct, Name: "Retired", Active: false,
			Variants: map[string]domain.Variant{domain.DefaultVariantKey: {PriceCents: 100, Active: true}},
		},
	}
}

func TestPriceCart(t *testing.T) {
	items, pricing, err := domain.PriceCart([]domain.CartLine{
		{Kind: domain.ItemKindProduct, ProductID: "kombucha", VariantKey: "500ml", Quantity: 2},
		{Kind: domain.ItemKindBundle, ProductID: "tasting-box", Quantity: 1},
	}, testCatalog())
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, int64(2400), items[0].LineTotalCents)
	assert.Equal(t, domain.DefaultVariantKey, items[1].VariantKey)
	assert.Len(t, items[1].Components, 1)
	assert.Equal(t, domain.Pricing{SubtotalCents: 7400, TotalCents: 7400, ItemCount: 3}, pricing)
}

func TestPriceCartRejectsUnresolvableLines(t *testing.T) {
	cases := map[string]domain.CartLine{
		"unknown product":  {Kind: domain.ItemKindProduct, ProductID: "ghost", Quantity: 1},
		"inactive product": {Kind: domain.ItemKindProduct, ProductID: "retired", Quantity: 1},
		"inactive variant": {Kind: domain.ItemKindProduct, ProductID: "kombucha", VariantKey: "1l", Quantity: 1},
		"missing variant":  {Kind: domain.ItemKindProduct, ProductID: "kombucha", VariantKey: "2l", Quantity: 1},
		"kind mismatch":    {Kind: domain.ItemKindBundle, ProductID: "kombucha", VariantKey: "500ml", Quantity: 1},
		"missing kind":     {ProductID: "kombucha", VariantKey: "500ml", Quantity: 1},
		"zero quantity":    {Kind: domain.ItemKindProduct, ProductID: "kombucha", VariantKey: "500ml"},
		"huge quantity":    {Kind: domain.ItemKindProduct, ProductID: "kombucha", VariantKey: "500ml", Quantity: 1 << 61},
		"above limit":      {Kind: domain.ItemKindProduct, ProductID: "kombucha", VariantKey: "500ml", Quantity: domain.MaxLineQuantity + 1},
	}
	for name, line := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := domain.PriceCart([]domain.CartLine{line}, testCatalog())
			require.ErrorIs(t, err, domain.ErrValidation)
		})
	}

	_, _, err := domain.PriceCart(nil, testCatalog())
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestPriceCart_AcceptsLimitAndRejectsOverflow(t *testing.T) {
	_, pricing, err := domain.PriceCart([]domain.CartLine{
		{Kind: domain.ItemKindProduct, ProductID: "kombucha", VariantKey: "500ml", Quantity: domain.MaxLineQuantity},
	}, testCatalog())
	require.NoError(t, err)
	assert.Equal(t, int64(1200*domain.MaxLineQuantity), pricing.TotalCents)

	catalog := testCatalog()
	catalog["gold"] = domain.CatalogItem{
		ID: "gold", Kind: domain.ItemKindProduct, Name: "Gold", Active: true,
		Variants: map[string]domain.Variant{domain.DefaultVariantKey: {PriceCents: math.MaxInt64 / 2, Active: true}},
	}
	_, _, err = domain.PriceCart([]domain.CartLine{
		{Kind: domain.ItemKindProduct, ProductID: "gold", Quantity: 3},
	}, catalog)
	require.ErrorIs(t, err, domain.ErrValidation)

	_, _, err = domain.PriceCart([]domain.CartLine{
		{Kind: domain.ItemKindProduct, ProductID: "gold", Quantity: 1},
		{Kind: domain.ItemKindProduct, ProductID: "gold", Quantity: 1},
		{Kind: domain.ItemKindProduct, ProductID: "gold", Quantity: 1},
	}, catalog)
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestCartProductIDs(t *testing.T) {
	ids := domain.CartProductIDs([]domain.CartLine{
		{ProductID: "b"}, {ProductID: "a"}, {ProductID: "b"},
	})
	assert.Equal(t, []string{"b", "a"}, ids)
}
