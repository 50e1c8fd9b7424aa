package domain

import (
	"context"
	"fmt"
	"math"
	"strings"
)

// MaxLineQuantity: верхняя граница количества в одной строке корзины.
const MaxLineQuantity = 999

// ItemKind: обязательный тег строки корзины. Тип позиции не угадывается по названию или форме.
type ItemKind string

const (
	// ItemKindProduct: обычный товар с вариантами.
	ItemKindProduct ItemKind = "product"
	// ItemKindBundle: набор из нескольких товаров; склад списывается по компонентам.
	ItemKindBundle ItemKind = "bundle"
)

// Valid проверяет, что тег относится к поддерживаемым значениям.
func (k ItemKind) Valid() bool {
	return k == ItemKindProduct || k == ItemKindBundle
}

// DefaultVariantKey используется, когда у товара единственный вариант.
const DefaultVariantKey = "default"

// Variant: ценовой уровень товара (размер, объём).
type Variant struct {
	PriceCents int64 `json:"price_cents" yaml:"price_cents"`
	Active     bool  `json:"active" yaml:"active"`
	StockQty   int   `json:"stock_qty" yaml:"stock_qty"`
}

// BundleComponent: товар, входящий в набор.
type BundleComponent struct {
	ProductID  string `json:"product_id" yaml:"product_id"`
	VariantKey string `json:"variant_key" yaml:"variant_key"`
	Quantity   int    `json:"quantity" yaml:"quantity"`
}

// CatalogItem: снимок позиции каталога на момент чтения.
type CatalogItem struct {
	ID         string             `json:"id" yaml:"id"`
	Kind       ItemKind           `json:"kind" yaml:"kind"`
	Name       string             `json:"name" yaml:"name"`
	Active     bool               `json:"active" yaml:"active"`
	Variants   map[string]Variant `json:"variants" yaml:"variants"`
	Components []BundleComponent  `json:"components,omitempty" yaml:"components,omitempty"`
}

// Variant возвращает активный вариант позиции.
func (c CatalogItem) Variant(key string) (Variant, bool) {
	if key == "" {
		key = DefaultVariantKey
	}
	v, ok := c.Variants[key]
	if !ok || !v.Active {
		return Variant{}, false
	}
	return v, true
}

// CatalogLoader разрешает идентификаторы товаров и наборов в снимок каталога.
// Неизвестные идентификаторы просто отсутствуют в результате.
type CatalogLoader interface {
	Load(ctx context.Context, ids []string) (map[string]CatalogItem, error)
}

// CartLine: строка корзины, пришедшая от клиента.
type CartLine struct {
	Kind       ItemKind `json:"kind"`
	ProductID  string   `json:"product_id"`
	VariantKey string   `json:"variant_key,omitempty"`
	Quantity   int      `json:"quantity"`
}

// Validate проверяет строку корзины на границе, до обращения к каталогу.
func (l CartLine) Validate() error {
	switch {
	case !l.Kind.Valid():
		return fmt.Errorf("%w: cart line %q: unknown kind %q", ErrValidation, l.ProductID, l.Kind)
	case strings.TrimSpace(l.ProductID) == "":
		return fmt.Errorf("%w: cart line product_id is required", ErrValidation)
	case l.Quantity <= 0:
		return fmt.Errorf("%w: cart line %q: quantity must be greater than zero", ErrValidation, l.ProductID)
	case l.Quantity > MaxLineQuantity:
		return fmt.Errorf("%w: cart line %q: quantity must not exceed %d", ErrValidation, l.ProductID, MaxLineQuantity)
	}
	return nil
}

// PriceCart считает позиции и итог заказа по снимку каталога.
// Любая неразрешимая строка (нет товара, вариант неактивен, тег не совпадает): ErrValidation.
func PriceCart(lines []CartLine, catalog map[string]CatalogItem) ([]OrderItem, Pricing, error) {
	if len(lines) == 0 {
		return nil, Pricing{}, fmt.Errorf("%w: cart is empty", ErrValidation)
	}
	items := make([]OrderItem, 0, len(lines))
	var pricing Pricing
	for _, line := range lines {
		if err := line.Validate(); err != nil {
			return nil, Pricing{}, err
		}
		entry, ok := catalog[line.ProductID]
		if !ok || !entry.Active {
			return nil, Pricing{}, fmt.Errorf("%w: %s %q is not available", ErrValidation, line.Kind, line.ProductID)
		}
		if entry.Kind != line.Kind {
			return nil, Pricing{}, fmt.Errorf("%w: %q is a %s, not a %s", ErrValidation, line.ProductID, entry.Kind, line.Kind)
		}
		variantKey := line.VariantKey
		if variantKey == "" {
			variantKey = DefaultVariantKey
		}
		variant, ok := entry.Variant(variantKey)
		if !ok {
			return nil, Pricing{}, fmt.Errorf("%w: %q has no active variant %q", ErrValidation, line.ProductID, variantKey)
		}
		if entry.Kind == ItemKindBundle && len(entry.Components) == 0 {
			return nil, Pricing{}, fmt.Errorf("%w: bundle %q has no components", ErrValidation, line.ProductID)
		}

		if variant.PriceCents < 0 || variant.PriceCents > math.MaxInt64/int64(line.Quantity) {
			return nil, Pricing{}, fmt.Errorf("%w: %q line total is out of range", ErrValidation, line.ProductID)
		}
		for _, component := range entry.Components {
			if component.Quantity <= 0 || component.Quantity > math.MaxInt32/line.Quantity {
				return nil, Pricing{}, fmt.Errorf("%w: bundle %q component %q quantity is out of range", ErrValidation, line.ProductID, component.ProductID)
			}
		}
		lineTotal := variant.PriceCents * int64(line.Quantity)
		if pricing.SubtotalCents > math.MaxInt64-lineTotal {
			return nil, Pricing{}, fmt.Errorf("%w: cart total is out of range", ErrValidation)
		}
		items = append(items, OrderItem{
			ProductID:      entry.ID,
			Kind:           entry.Kind,
			Name:           entry.Name,
			VariantKey:     variantKey,
			Quantity:       line.Quantity,
			UnitPriceCents: variant.PriceCents,
			LineTotalCents: lineTotal,
			Components:     append([]BundleComponent(nil), entry.Components...),
		})
		pricing.SubtotalCents += lineTotal
		pricing.ItemCount += line.Quantity
	}
	pricing.TotalCents = pricing.SubtotalCents
	return items, pricing, nil
}

// CartProductIDs возвращает уникальные идентификаторы из корзины в исходном порядке.
func CartProductIDs(lines []CartLine) []string {
	seen := make(map[string]struct{}, len(lines))
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		if _, ok := seen[line.ProductID]; ok {
			continue
		}
		seen[line.ProductID] = struct{}{}
		ids = append(ids, line.ProductID)
	}
	return ids
}
