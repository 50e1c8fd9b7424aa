package notify

import (
	"fmt"
	"strings"

	"github.com/vladislavdragonenkov/dms/internal/domain"
)

var statusTitles = map[domain.OrderStatus]string{
	domain.OrderStatusNew:            "Draft",
	domain.OrderStatusConfirmed:      "Order confirmed",
	domain.OrderStatusPaid:           "Payment received",
	domain.OrderStatusInProduction:   "Being prepared",
	domain.OrderStatusOutForDelivery: "On the way",
	domain.OrderStatusDelivered:      "Delivered",
	domain.OrderStatusCanceled:       "Order canceled",
}

// PlainText задаёт формат по умолчанию, короткое текстовое сообщение для мессенджера.
type PlainText struct{}

// Format собирает сообщение построчно; пустые поля пропускаются.
func (PlainText) Format(s OrderSummary) string {
	var b strings.Builder

	title, ok := statusTitles[s.Status]
	if !ok {
		title = "Order update"
	}
	id := s.ShortID
	if id == "" {
		id = s.OrderID
	}
	fmt.Fprintf(&b, "%s #%s\n", title, id)

	if s.CustomerName != "" {
		fmt.Fprintf(&b, "Customer: %s\n", s.CustomerName)
	}
	if s.Phone != "" {
		fmt.Fprintf(&b, "Phone: %s\n", s.Phone)
	}
	if s.Schedule != nil {
		fmt.Fprintf(&b, "%s: %s, %s\n", methodTitle(s.Schedule.Mode), s.Schedule.Date, slotText(*s.Schedule))
	}
	if s.Method == domain.ModeDelivery && s.Address != "" {
		fmt.Fprintf(&b, "Address: %s\n", s.Address)
	}

	if len(s.Lines) > 0 {
		b.WriteString("Items:\n")
		for _, line := range s.Lines {
			name := line.Name
			if line.VariantKey != "" && line.VariantKey != domain.DefaultVariantKey {
				name += " (" + line.VariantKey + ")"
			}
			fmt.Fprintf(&b, "  %dx %s  %s\n", line.Quantity, name, FormatCents(line.TotalCents))
		}
	}
	if s.TotalCents > 0 {
		fmt.Fprintf(&b, "Total: %s\n", FormatCents(s.TotalCents))
	}
	if s.BottlesToReturn > 0 {
		fmt.Fprintf(&b, "Bottles to return: %d\n", s.BottlesToReturn)
	}
	if s.Notes != "" {
		fmt.Fprintf(&b, "Notes: %s\n", s.Notes)
	}
	if s.Status == domain.OrderStatusCanceled && s.Reason != "" {
		fmt.Fprintf(&b, "Reason: %s\n", s.Reason)
	}

	return strings.TrimRight(b.String(), "\n")
}

func methodTitle(mode domain.Mode) string {
	if mode == domain.ModePickup {
		return "Pickup"
	}
	return "Delivery"
}

func slotText(schedule domain.Schedule) string {
	if schedule.SlotLabel != "" {
		return schedule.SlotLabel
	}
	return schedule.SlotID
}

var _ Formatter = PlainText{}
