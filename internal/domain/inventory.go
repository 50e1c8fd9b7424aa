package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// MovementType: тип записи складского журнала.
type MovementType string

const (
	// MovementIn: приход или возврат товара на склад.
	MovementIn MovementType = "IN"
	// MovementOut: списание под оплаченный заказ.
	MovementOut MovementType = "OUT"
	// MovementAdjust: ручная корректировка (инвентаризация, порча). Quantity несёт знак.
	MovementAdjust MovementType = "ADJUST"
	// MovementReserve: резерв под заказ (не используется при списании в момент оплаты).
	MovementReserve MovementType = "RESERVE"
	// MovementRelease: снятие резерва.
	MovementRelease MovementType = "RELEASE"
)

// Valid проверяет, что тип относится к поддерживаемым значениям.
func (t MovementType) Valid() bool {
	switch t {
	case MovementIn, MovementOut, MovementAdjust, MovementReserve, MovementRelease:
		return true
	default:
		return false
	}
}

// StockRef адресует складскую запись варианта товара.
type StockRef struct {
	ProductID  string `json:"product_id"`
	VariantKey string `json:"variant_key"`
}

// Key возвращает ключ складской записи "{product}#{variant}".
func (r StockRef) Key() string {
	variant := r.VariantKey
	if variant == "" {
		variant = DefaultVariantKey
	}
	return r.ProductID + "#" + variant
}

// StockItem: текущий остаток варианта. Меняется только вместе с записью в журнал.
type StockItem struct {
	ProductID  string    `json:"product_id"`
	VariantKey string    `json:"variant_key"`
	Quantity   int       `json:"quantity"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Ref возвращает адрес складской записи.
func (s StockItem) Ref() StockRef {
	return StockRef{ProductID: s.ProductID, VariantKey: s.VariantKey}
}

// InventoryMovement: запись append-only журнала склада.
type InventoryMovement struct {
	ID         string       `json:"id"`
	ProductID  string       `json:"product_id"`
	VariantKey string       `json:"variant_key"`
	Type       MovementType `json:"type"`
	Quantity   int          `json:"quantity"`
	Reason     string       `json:"reason"`
	OrderID    string       `json:"order_id,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}

// Delta возвращает изменение остатка, которое вносит запись.
func (m InventoryMovement) Delta() int {
	switch m.Type {
	case MovementIn, MovementRelease:
		return m.Quantity
	case MovementOut, MovementReserve:
		return -m.Quantity
	default:
		return m.Quantity
	}
}

// Validate проверяет запись журнала.
func (m InventoryMovement) Validate() []error {
	var errs []error
	if !m.Type.Valid() {
		errs = append(errs, fmt.Errorf("%w: unknown movement type %q", ErrValidation, m.Type))
	}
	if strings.TrimSpace(m.ProductID) == "" {
		errs = append(errs, fmt.Errorf("%w: movement product_id is required", ErrValidation))
	}
	switch {
	case m.Type == MovementAdjust && m.Quantity == 0:
		errs = append(errs, fmt.Errorf("%w: adjustment quantity must not be zero", ErrValidation))
	case m.Type != MovementAdjust && m.Quantity <= 0:
		errs = append(errs, fmt.Errorf("%w: movement quantity must be greater than zero", ErrValidation))
	}
	return errs
}

// StockLine: количество варианта, которое заказ забирает со склада.
type StockLine struct {
	Ref      StockRef
	Quantity int
}

// StockLines раскрывает наборы в компоненты и суммирует количества по вариантам.
// Порядок детерминирован: транзакция может быть перезапущена и должна писать то же самое.
func (o Order) StockLines() []StockLine {
	totals := make(map[string]*StockLine)
	add := func(ref StockRef, qty int) {
		if ref.VariantKey == "" {
			ref.VariantKey = DefaultVariantKey
		}
		key := ref.Key()
		line, ok := totals[key]
		if !ok {
			line = &StockLine{Ref: ref}
			totals[key] = line
		}
		line.Quantity += qty
	}
	for _, item := range o.Items {
		if item.Kind == ItemKindBundle {
			for _, component := range item.Components {
				add(StockRef{ProductID: component.ProductID, VariantKey: component.VariantKey}, component.Quantity*item.Quantity)
			}
			continue
		}
		add(StockRef{ProductID: item.ProductID, VariantKey: item.VariantKey}, item.Quantity)
	}

	keys := make([]string, 0, len(totals))
	for key := range totals {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]StockLine, 0, len(keys))
	for _, key := range keys {
		out = append(out, *totals[key])
	}
	return out
}
