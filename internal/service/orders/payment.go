package orders

import (
	"context"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/dms/internal/domain"
)

const (
	reasonPaid          = "order paid"
	reasonCanceled      = "order canceled"
	reasonDraftExpired  = "draft expired"
	defaultCancelReason = "canceled by admin"
)

// PaymentResult: итог подтверждения оплаты.
type PaymentResult struct {
	Order       domain.Order `json:"order"`
	AlreadyPaid bool         `json:"already_paid"`
	Shortages   []string     `json:"shortages,omitempty"`
}

// MarkPaid подтверждает оплату и списывает товар со склада. Повторный вызов ничего не пишет.
// Остаток может уйти в минус: оплата уже получена, расхождение видно в журнале.
func (e *Engine) MarkPaid(ctx context.Context, orderID string) (result PaymentResult, err error) {
	started := time.Now()
	defer func() { e.metrics.RecordDuration("mark_paid", time.Since(started)) }()

	var committed *journal
	var debited int
	err = e.store.RunInTransaction(ctx, func(tx domain.Tx) error {
		now := e.clock()
		j := newJournal(tx, now)
		result = PaymentResult{}
		debited = 0

		order, err := tx.Order(orderID)
		if err != nil {
			return err
		}
		if order.Paid {
			result.Order = order
			result.AlreadyPaid = true
			committed = j
			return nil
		}
		if !order.CheckedOut() || order.Status == domain.OrderStatusCanceled {
			return errTransition(order, domain.OrderStatusPaid)
		}

		lines := order.StockLines()
		stock := make([]domain.StockItem, len(lines))
		for i, line := range lines {
			item, _, err := tx.StockItem(line.Ref)
			if err != nil {
				return err
			}
			stock[i] = item
		}

		for i, line := range lines {
			item := stock[i]
			item.Quantity -= line.Quantity
			item.UpdatedAt = now
			if item.Quantity < 0 {
				result.Shortages = append(result.Shortages, line.Ref.Key())
			}
			if err := tx.PutStockItem(item); err != nil {
				return err
			}
			if err := tx.AppendMovement(domain.InventoryMovement{
				ID:         e.newID(),
				ProductID:  line.Ref.ProductID,
				VariantKey: line.Ref.VariantKey,
				Type:       domain.MovementOut,
				Quantity:   line.Quantity,
				Reason:     reasonPaid,
				OrderID:    order.ID,
				CreatedAt:  now,
			}); err != nil {
				return err
			}
			debited++
		}

		order.Paid = true
		paidAt := now
		order.PaidAt = &paidAt
		if order.Status == domain.OrderStatusConfirmed {
			order.Status = domain.OrderStatusPaid
		}
		order.UpdatedAt = now
		if err := tx.PutOrder(order); err != nil {
			return err
		}
		if err := j.orderEvent(order, domain.EventOrderPaid, domain.TimelinePaid, "", nil); err != nil {
			return err
		}
		if debited > 0 {
			if err := j.timelineEvent(order.ID, domain.TimelineStockDebited, strings.Join(stockKeys(lines), ",")); err != nil {
				return err
			}
		}
		result.Order = order
		committed = j
		return nil
	})
	if err != nil {
		return PaymentResult{}, err
	}
	e.commitJournal(committed)
	if !result.AlreadyPaid {
		e.metrics.RecordTransition(string(domain.OrderStatusPaid))
		e.metrics.RecordMovements(string(domain.MovementOut), debited)
	}
	if len(result.Shortages) > 0 {
		e.logger.WithFields(log.Fields{
			"order_id":  orderID,
			"shortages": result.Shortages,
		}).Warn("stock went negative after payment")
	}
	return result, nil
}

// Cancel отменяет заказ и откатывает всё, что он занимал: слот, склад (если был оплачен)
// и агрегаты клиента (если прошёл checkout). Отмена отменённого заказа ничего не пишет.
func (e *Engine) Cancel(ctx context.Context, orderID, reason string) (domain.Order, error) {
	started := time.Now()
	defer func() { e.metrics.RecordDuration("cancel", time.Since(started)) }()

	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = defaultCancelReason
	}
	order, credited, changed, j, err := e.cancel(ctx, orderID, reason, domain.EventOrderCanceled, domain.TimelineCanceled, nil)
	if err != nil {
		return domain.Order{}, err
	}
	if changed {
		e.commitJournal(j)
		e.metrics.RecordTransition(string(domain.OrderStatusCanceled))
		e.metrics.RecordMovements(string(domain.MovementIn), credited)
		e.logger.WithFields(log.Fields{"order_id": orderID, "reason": reason}).Info("order canceled")
	}
	return order, nil
}

// ExpireDraft отменяет черновик, не обновлявшийся с olderThan, и освобождает его слот.
// Возвращает false, если черновик успели оформить или обновить.
func (e *Engine) ExpireDraft(ctx context.Context, orderID string, olderThan time.Time) (bool, error) {
	stale := func(order domain.Order) bool {
		return order.Status == domain.OrderStatusNew && order.UpdatedAt.Before(olderThan)
	}
	_, _, changed, j, err := e.cancel(ctx, orderID, reasonDraftExpired, domain.EventDraftExpired, domain.TimelineDraftExpired, stale)
	if err != nil {
		return false, err
	}
	if changed {
		e.commitJournal(j)
		e.metrics.RecordDraftsExpired(1)
	}
	return changed, nil
}

// cancel: общая транзакция отмены. guard, если задан, решает, отменять ли заказ.
func (e *Engine) cancel(ctx context.Context, orderID, reason string, eventType domain.EventType, timelineType domain.TimelineEventType, guard func(domain.Order) bool) (result domain.Order, credited int, changed bool, committed *journal, err error) {
	err = e.store.RunInTransaction(ctx, func(tx domain.Tx) error {
		now := e.clock()
		j := newJournal(tx, now)
		credited, changed, committed = 0, false, nil

		order, err := tx.Order(orderID)
		if err != nil {
			return err
		}
		result = order
		if order.Status == domain.OrderStatusCanceled {
			return nil
		}
		if guard != nil && !guard(order) {
			return nil
		}
		if !order.Status.CanTransitionTo(domain.OrderStatusCanceled) {
			return errTransition(order, domain.OrderStatusCanceled)
		}

		// Фаза чтения: слот, склад, клиент.
		counter, err := releaseSlot(tx, order.Schedule, now)
		if err != nil {
			return err
		}
		var lines []domain.StockLine
		var stock []domain.StockItem
		if order.Paid {
			lines = order.StockLines()
			stock = make([]domain.StockItem, len(lines))
			for i, line := range lines {
				item, _, err := tx.StockItem(line.Ref)
				if err != nil {
					return err
				}
				stock[i] = item
			}
		}
		var customer domain.Customer
		customerFound := false
		if order.CheckedOut() {
			customer, customerFound, err = tx.Customer(order.Customer.Phone)
			if err != nil {
				return err
			}
		}

		// Фаза записи.
		if counter != nil {
			if err := tx.PutDayCounter(*counter); err != nil {
				return err
			}
		}
		for i, line := range lines {
			item := stock[i]
			item.Quantity += line.Quantity
			item.UpdatedAt = now
			if err := tx.PutStockItem(item); err != nil {
				return err
			}
			if err := tx.AppendMovement(domain.InventoryMovement{
				ID:         e.newID(),
				ProductID:  line.Ref.ProductID,
				VariantKey: line.Ref.VariantKey,
				Type:       domain.MovementIn,
				Quantity:   line.Quantity,
				Reason:     reasonCanceled,
				OrderID:    order.ID,
				CreatedAt:  now,
			}); err != nil {
				return err
			}
			credited++
		}
		if customerFound {
			customer.ReverseOrder(order, now)
			if err := tx.PutCustomer(customer); err != nil {
				return err
			}
		}

		order.Status = domain.OrderStatusCanceled
		canceledAt := now
		order.CanceledAt = &canceledAt
		order.CancelReason = reason
		order.UpdatedAt = now
		if err := tx.PutOrder(order); err != nil {
			return err
		}

		if counter != nil {
			held := order.Schedule
			if err := j.timelineEvent(order.ID, domain.TimelineSlotReleased, held.Date+" "+held.SlotID); err != nil {
				return err
			}
		}
		if credited > 0 {
			if err := j.timelineEvent(order.ID, domain.TimelineStockCredited, strings.Join(stockKeys(lines), ",")); err != nil {
				return err
			}
		}
		if err := j.orderEvent(order, eventType, timelineType, reason, nil); err != nil {
			return err
		}

		result = order
		changed = true
		committed = j
		return nil
	})
	if err != nil {
		return domain.Order{}, 0, false, nil, err
	}
	return result, credited, changed, committed, nil
}

func stockKeys(lines []domain.StockLine) []string {
	keys := make([]string, len(lines))
	for i, line := range lines {
		keys[i] = line.Ref.Key()
	}
	return keys
}
