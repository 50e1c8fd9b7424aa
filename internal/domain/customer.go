package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

// MaxCustomerAddresses: длина истории адресов клиента.
const MaxCustomerAddresses = 5

// Customer хранит агрегат клиента, ключом служит нормализованный телефон.
type Customer struct {
	Phone              string     `json:"phone"`
	Name               string     `json:"name"`
	OrderCount         int        `json:"order_count"`
	LifetimeValueCents int64      `json:"lifetime_value_cents"`
	EcoPoints          int        `json:"eco_points"`
	IsSubscriber       bool       `json:"is_subscriber"`
	Addresses          []string   `json:"addresses"`
	LastOrderAt        *time.Time `json:"last_order_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// CustomerInfo: данные клиента из формы checkout.
type CustomerInfo struct {
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	Method     Mode   `json:"method"`
	Address    string `json:"address,omitempty"`
	Subscriber bool   `json:"subscriber,omitempty"`
}

// Validate проверяет обязательные поля. Адрес обязателен только для доставки.
func (c CustomerInfo) Validate() []error {
	var errs []error
	if strings.TrimSpace(c.Name) == "" {
		errs = append(errs, fmt.Errorf("%w: customer name is required", ErrValidation))
	}
	if NormalizePhone(c.Phone) == "" {
		errs = append(errs, fmt.Errorf("%w: customer phone is required", ErrValidation))
	}
	if !c.Method.Valid() {
		errs = append(errs, fmt.Errorf("%w: unknown delivery method %q", ErrValidation, c.Method))
	}
	if c.Method == ModeDelivery && strings.TrimSpace(c.Address) == "" {
		errs = append(errs, fmt.Errorf("%w: address is required for delivery", ErrValidation))
	}
	return errs
}

// Snapshot возвращает копию данных клиента для документа заказа.
func (c CustomerInfo) Snapshot() CustomerSnapshot {
	return CustomerSnapshot{
		Name:    strings.TrimSpace(c.Name),
		Phone:   NormalizePhone(c.Phone),
		Method:  c.Method,
		Address: strings.TrimSpace(c.Address),
	}
}

// NormalizePhone оставляет только цифры: "+55 (11) 9-1234" и "5511 91234" дают один ключ.
func NormalizePhone(phone string) string {
	var b strings.Builder
	b.Grow(len(phone))
	for _, r := range phone {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NewCustomer создаёт пустой агрегат.
func NewCustomer(phone string, now time.Time) Customer {
	return Customer{Phone: phone, CreatedAt: now, UpdatedAt: now}
}

// Clone возвращает глубокую копию агрегата.
func (c Customer) Clone() Customer {
	out := c
	out.Addresses = append([]string(nil), c.Addresses...)
	out.LastOrderAt = cloneTime(c.LastOrderAt)
	return out
}

// ApplyCheckout учитывает подтверждённый заказ в агрегатах клиента.
func (c *Customer) ApplyCheckout(order Order, subscriber bool, now time.Time) {
	if order.Customer.Name != "" {
		c.Name = order.Customer.Name
	}
	c.OrderCount++
	c.LifetimeValueCents += order.Pricing.TotalCents
	c.EcoPoints += order.BottlesToReturn
	// Подписка «залипает»: снимается только администратором.
	c.IsSubscriber = c.IsSubscriber || subscriber
	c.PushAddress(order.Customer.Address)
	at := now
	c.LastOrderAt = &at
	c.UpdatedAt = now
}

// ReverseOrder откатывает вклад отменённого заказа в суммы. Счётчики не уходят ниже нуля.
// LastOrderAt и история адресов остаются: это журнал обращений клиента, а не сумма по оплаченным заказам.
func (c *Customer) ReverseOrder(order Order, now time.Time) {
	c.OrderCount = max(0, c.OrderCount-1)
	c.LifetimeValueCents = max(0, c.LifetimeValueCents-order.Pricing.TotalCents)
	c.EcoPoints = max(0, c.EcoPoints-order.BottlesToReturn)
	c.UpdatedAt = now
}

// AdjustEcoPoints применяет ручную корректировку баллов.
func (c *Customer) AdjustEcoPoints(delta int, now time.Time) error {
	next := c.EcoPoints + delta
	if next < 0 {
		return fmt.Errorf("%w: eco points would become negative (%d%+d)", ErrValidation, c.EcoPoints, delta)
	}
	c.EcoPoints = next
	c.UpdatedAt = now
	return nil
}

// PushAddress кладёт адрес в начало истории без дублей и обрезает её до MaxCustomerAddresses.
func (c *Customer) PushAddress(address string) {
	address = strings.TrimSpace(address)
	if address == "" {
		return
	}
	out := make([]string, 0, MaxCustomerAddresses)
	out = append(out, address)
	for _, existing := range c.Addresses {
		if len(out) == MaxCustomerAddresses {
			break
		}
		if strings.EqualFold(existing, address) {
			continue
		}
		out = append(out, existing)
	}
	c.Addresses = out
}
