// Package notify собирает структурированную сводку заказа и превращает её в текст уведомления.
package notify

import (
	"fmt"
	"strings"

	"github.com/vladislavdragonenkov/dms/internal/domain"
)

// SummaryLine: строка сводки.
type SummaryLine struct {
	Name       string
	VariantKey string
	Quantity   int
	TotalCents int64
}

// OrderSummary: данные заказа, которые нужны для уведомления. Текст строит Formatter.
type OrderSummary struct {
	OrderID         string
	ShortID         string
	Status          domain.OrderStatus
	CustomerName    string
	Phone           string
	Method          domain.Mode
	Address         string
	Schedule        *domain.Schedule
	Lines           []SummaryLine
	TotalCents      int64
	Notes           string
	BottlesToReturn int
	Reason          string
}

// Formatter превращает сводку в текст.
type Formatter interface {
	Format(summary OrderSummary) string
}

// FromOrder строит сводку по сохранённому заказу.
func FromOrder(order domain.Order) OrderSummary {
	summary := OrderSummary{
		OrderID:         order.ID,
		ShortID:         order.ShortID,
		Status:          order.Status,
		CustomerName:    order.Customer.Name,
		Phone:           order.Customer.Phone,
		Method:          order.Customer.Method,
		Address:         order.Customer.Address,
		TotalCents:      order.Pricing.TotalCents,
		Notes:           order.Notes,
		BottlesToReturn: order.BottlesToReturn,
		Reason:          order.CancelReason,
	}
	if order.Schedule != nil {
		schedule := *order.Schedule
		summary.Schedule = &schedule
	}
	for _, item := range order.Items {
		summary.Lines = append(summary.Lines, SummaryLine{
			Name:       item.Name,
			VariantKey: item.VariantKey,
			Quantity:   item.Quantity,
			TotalCents: item.LineTotalCents,
		})
	}
	return summary
}

// FromEvent строит сокращённую сводку по событию из outbox (без позиций).
func FromEvent(event domain.Event) OrderSummary {
	summary := OrderSummary{
		OrderID:    event.OrderID,
		ShortID:    event.ShortID,
		Status:     event.Status,
		Phone:      event.Phone,
		TotalCents: event.Total,
		Reason:     event.Reason,
	}
	if event.Schedule != nil {
		schedule := *event.Schedule
		summary.Schedule = &schedule
		summary.Method = schedule.Mode
	}
	return summary
}

// FormatCents форматирует сумму в реалах: 123456 -> "R$ 1.234,56".
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	units := fmt.Sprintf("%d", cents/100)
	var grouped strings.Builder
	for i, r := range units {
		if i > 0 && (len(units)-i)%3 == 0 {
			grouped.WriteByte('.')
		}
		grouped.WriteRune(r)
	}
	return fmt.Sprintf("%sR$ %s,%02d", sign, grouped.String(), cents%100)
}
