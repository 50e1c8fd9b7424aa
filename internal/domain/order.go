package domain

import (
	"fmt"
	"strings"
	"time"
)

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusNew означает черновик, слот может быть забронирован, checkout ещё не выполнен.
	OrderStatusNew OrderStatus = "new"
	// OrderStatusConfirmed: checkout выполнен, цена и клиент зафиксированы.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusPaid: оплата подтверждена, товар списан со склада.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusInProduction: заказ готовится.
	OrderStatusInProduction OrderStatus = "in_production"
	// OrderStatusOutForDelivery: заказ передан курьеру или ждёт самовывоза.
	OrderStatusOutForDelivery OrderStatus = "out_for_delivery"
	// OrderStatusDelivered: заказ выдан клиенту.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCanceled: заказ отменён.
	OrderStatusCanceled OrderStatus = "canceled"
)

// orderTransitions: разрешённые прямые переходы. Отмена возможна из любого нетерминального статуса.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusNew:            {OrderStatusConfirmed},
	OrderStatusConfirmed:      {OrderStatusPaid, OrderStatusInProduction},
	OrderStatusPaid:           {OrderStatusInProduction},
	OrderStatusInProduction:   {OrderStatusOutForDelivery},
	OrderStatusOutForDelivery: {OrderStatusDelivered},
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusNew, OrderStatusConfirmed, OrderStatusPaid, OrderStatusInProduction,
		OrderStatusOutForDelivery, OrderStatusDelivered, OrderStatusCanceled:
		return true
	default:
		return false
	}
}

// Terminal сообщает, что из статуса больше нет переходов.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCanceled
}

// CanTransitionTo проверяет переход по таблице статусов.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if next == OrderStatusCanceled {
		return !s.Terminal()
	}
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// OrderItem: снимок позиции корзины на момент checkout.
type OrderItem struct {
	ProductID      string            `json:"product_id"`
	Kind           ItemKind          `json:"kind"`
	Name           string            `json:"name"`
	VariantKey     string            `json:"variant_key"`
	Quantity       int               `json:"quantity"`
	UnitPriceCents int64             `json:"unit_price_cents"`
	LineTotalCents int64             `json:"line_total_cents"`
	Components     []BundleComponent `json:"components,omitempty"`
}

// Pricing: итог заказа в минимальных денежных единицах.
type Pricing struct {
	SubtotalCents int64 `json:"subtotal_cents"`
	TotalCents    int64 `json:"total_cents"`
	ItemCount     int   `json:"item_count"`
}

// CustomerSnapshot: данные клиента, зафиксированные в заказе.
type CustomerSnapshot struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Method  Mode   `json:"method"`
	Address string `json:"address,omitempty"`
}

// Schedule: забронированные дата и слот.
type Schedule struct {
	Date      string `json:"date"`
	Mode      Mode   `json:"mode"`
	SlotID    string `json:"slot_id"`
	SlotLabel string `json:"slot_label"`
}

// Same сравнивает бронирования без учёта подписи слота.
func (s Schedule) Same(other Schedule) bool {
	return s.Date == other.Date && s.Mode == other.Mode && s.SlotID == other.SlotID
}

// Order агрегирует состояние заказа.
type Order struct {
	ID              string           `json:"id"`
	ShortID         string           `json:"short_id"`
	Status          OrderStatus      `json:"status"`
	Items           []OrderItem      `json:"items"`
	Pricing         Pricing          `json:"pricing"`
	Customer        CustomerSnapshot `json:"customer"`
	Schedule        *Schedule        `json:"schedule,omitempty"`
	Notes           string           `json:"notes,omitempty"`
	BottlesToReturn int              `json:"bottles_to_return"`
	TokenHash       string           `json:"token_hash,omitempty"`
	Paid            bool             `json:"paid"`
	CheckedOutAt    *time.Time       `json:"checked_out_at,omitempty"`
	PaidAt          *time.Time       `json:"paid_at,omitempty"`
	CanceledAt      *time.Time       `json:"canceled_at,omitempty"`
	CancelReason    string           `json:"cancel_reason,omitempty"`
	Version         int64            `json:"version"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// Clone возвращает глубокую копию заказа.
func (o Order) Clone() Order {
	out := o
	out.Items = make([]OrderItem, len(o.Items))
	for i, item := range o.Items {
		out.Items[i] = item
		out.Items[i].Components = append([]BundleComponent(nil), item.Components...)
	}
	if o.Schedule != nil {
		schedule := *o.Schedule
		out.Schedule = &schedule
	}
	out.CheckedOutAt = cloneTime(o.CheckedOutAt)
	if o.PaidAt != nil {
		paidAt := *o.PaidAt
		out.PaidAt = &paidAt
	}
	if o.CanceledAt != nil {
		canceledAt := *o.CanceledAt
		out.CanceledAt = &canceledAt
	}
	return out
}

// CheckedOut сообщает, что заказ прошёл checkout и учтён в агрегатах клиента.
func (o Order) CheckedOut() bool {
	return o.CheckedOutAt != nil
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

// ShortOrderID возвращает человекочитаемый префикс идентификатора.
func ShortOrderID(id string) string {
	compact := strings.ToUpper(strings.ReplaceAll(id, "-", ""))
	if len(compact) > 8 {
		compact = compact[:8]
	}
	return compact
}

// ValidateInvariants проверяет базовые инварианты оформленного заказа.
func (o *Order) ValidateInvariants() []error {
	var errs []error
	if len(o.Items) == 0 {
		errs = append(errs, fmt.Errorf("%w: order must contain at least one item", ErrValidation))
	}
	if o.Customer.Phone == "" {
		errs = append(errs, fmt.Errorf("%w: customer phone is required", ErrValidation))
	}
	if o.Schedule == nil {
		errs = append(errs, fmt.Errorf("%w: schedule is required", ErrValidation))
	}
	// Сверяем сумму заказа с суммой позиций: qty * price.
	var calc int64
	for _, item := range o.Items {
		if item.Quantity <= 0 || item.Quantity > MaxLineQuantity {
			errs = append(errs, fmt.Errorf("%w: item %q quantity must be between 1 and %d", ErrValidation, item.ProductID, MaxLineQuantity))
			continue
		}
		if item.UnitPriceCents < 0 {
			errs = append(errs, fmt.Errorf("%w: item %q price must be non-negative", ErrValidation, item.ProductID))
		}
		calc += int64(item.Quantity) * item.UnitPriceCents
	}
	if calc != o.Pricing.SubtotalCents {
		errs = append(errs, fmt.Errorf("%w: order subtotal does not match items sum", ErrValidation))
	}
	return errs
}
