package domain

import "time"

// TimelineEventType: тип записи истории заказа.
type TimelineEventType string

const (
	TimelineSlotReserved    TimelineEventType = "slot_reserved"
	TimelineSlotSwitched    TimelineEventType = "slot_switched"
	TimelineSlotReleased    TimelineEventType = "slot_released"
	TimelineCheckedOut      TimelineEventType = "checked_out"
	TimelinePaid            TimelineEventType = "paid"
	TimelineStatusChanged   TimelineEventType = "status_changed"
	TimelineCanceled        TimelineEventType = "canceled"
	TimelineDraftExpired    TimelineEventType = "draft_expired"
	TimelineStockDebited    TimelineEventType = "stock_debited"
	TimelineStockCredited   TimelineEventType = "stock_credited"
	TimelineCounterAdjusted TimelineEventType = "counter_adjusted"
)

// TimelineEvent описывает событие в жизненном цикле заказа.
type TimelineEvent struct {
	OrderID  string            `json:"order_id"`
	Type     TimelineEventType `json:"type"`
	Reason   string            `json:"reason,omitempty"`
	Occurred time.Time         `json:"occurred"`
}
