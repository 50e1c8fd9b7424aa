package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/dms/internal/domain"
)

// Advance переводит заказ в следующий статус. PAID и CANCELED идут через MarkPaid и Cancel,
// так как требуют компенсаций. Переход в текущий статус ничего не пишет.
func (e *Engine) Advance(ctx context.Context, orderID string, next domain.OrderStatus) (domain.Order, error) {
	switch next {
	case domain.OrderStatusPaid:
		result, err := e.MarkPaid(ctx, orderID)
		return result.Order, err
	case domain.OrderStatusCanceled:
		return e.Cancel(ctx, orderID, "")
	}
	if !next.Valid() {
		return domain.Order{}, fmt.Errorf("%w: unknown status %q", domain.ErrValidation, next)
	}

	var result domain.Order
	var committed *journal
	err := e.store.RunInTransaction(ctx, func(tx domain.Tx) error {
		now := e.clock()
		j := newJournal(tx, now)
		committed = nil

		order, err := tx.Order(orderID)
		if err != nil {
			return err
		}
		result = order
		if order.Status == next {
			return nil
		}
		if !order.Status.CanTransitionTo(next) {
			return errTransition(order, next)
		}

		previous := order.Status
		order.Status = next
		order.UpdatedAt = now
		if err := tx.PutOrder(order); err != nil {
			return err
		}
		if err := j.orderEvent(order, domain.EventOrderStatus, domain.TimelineStatusChanged, string(previous)+" -> "+string(next), nil); err != nil {
			return err
		}
		result = order
		committed = j
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	if committed != nil {
		e.commitJournal(committed)
		e.metrics.RecordTransition(string(next))
		e.logger.WithFields(log.Fields{"order_id": orderID, "status": next}).Info("order status changed")
	}
	return result, nil
}

// AdjustEcoPoints вручную меняет баланс eco-баллов клиента. Баланс не может стать отрицательным.
func (e *Engine) AdjustEcoPoints(ctx context.Context, phone string, delta int) (domain.Customer, error) {
	phone = domain.NormalizePhone(phone)
	if phone == "" {
		return domain.Customer{}, fmt.Errorf("%w: phone is required", domain.ErrValidation)
	}
	if delta == 0 {
		return domain.Customer{}, fmt.Errorf("%w: delta must not be zero", domain.ErrValidation)
	}

	var result domain.Customer
	err := e.store.RunInTransaction(ctx, func(tx domain.Tx) error {
		customer, found, err := tx.Customer(phone)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: %s", domain.ErrCustomerNotFound, phone)
		}
		if err := customer.AdjustEcoPoints(delta, e.clock()); err != nil {
			return err
		}
		if err := tx.PutCustomer(customer); err != nil {
			return err
		}
		result = customer
		return nil
	})
	if err != nil {
		return domain.Customer{}, err
	}
	return result, nil
}

// StockRequest: приход или корректировка остатка варианта.
type StockRequest struct {
	ProductID  string `json:"product_id"`
	VariantKey string `json:"variant_key"`
	Quantity   int    `json:"quantity"`
	Reason     string `json:"reason"`
}

func (r StockRequest) ref() domain.StockRef {
	variant := r.VariantKey
	if variant == "" {
		variant = domain.DefaultVariantKey
	}
	return domain.StockRef{ProductID: r.ProductID, VariantKey: variant}
}

// ReceiveStock приходует товар (движение IN).
func (e *Engine) ReceiveStock(ctx context.Context, req StockRequest) (domain.StockItem, error) {
	return e.moveStock(ctx, req, domain.MovementIn)
}

// AdjustStock применяет инвентаризационную корректировку со знаком (движение ADJUST).
// Корректировка, уводящая остаток в минус, отклоняется.
func (e *Engine) AdjustStock(ctx context.Context, req StockRequest) (domain.StockItem, error) {
	return e.moveStock(ctx, req, domain.MovementAdjust)
}

func (e *Engine) moveStock(ctx context.Context, req StockRequest, movementType domain.MovementType) (domain.StockItem, error) {
	ref := req.ref()
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = strings.ToLower(string(movementType))
	}
	probe := domain.InventoryMovement{
		ProductID:  ref.ProductID,
		VariantKey: ref.VariantKey,
		Type:       movementType,
		Quantity:   req.Quantity,
	}
	if errs := probe.Validate(); len(errs) > 0 {
		return domain.StockItem{}, errors.Join(errs...)
	}

	var result domain.StockItem
	var committed *journal
	err := e.store.RunInTransaction(ctx, func(tx domain.Tx) error {
		now := e.clock()
		j := newJournal(tx, now)

		item, _, err := tx.StockItem(ref)
		if err != nil {
			return err
		}
		movement := probe
		movement.ID = e.newID()
		movement.Reason = reason
		movement.CreatedAt = now

		item.Quantity += movement.Delta()
		if item.Quantity < 0 {
			return fmt.Errorf("%w: %s has %d, adjustment %+d", domain.ErrInsufficientStock, ref.Key(), item.Quantity-movement.Delta(), movement.Delta())
		}
		item.UpdatedAt = now
		if err := tx.PutStockItem(item); err != nil {
			return err
		}
		if err := tx.AppendMovement(movement); err != nil {
			return err
		}
		if err := j.emit(domain.AggregateStock, ref.Key(), domain.Event{
			Type:   domain.EventStockMoved,
			Reason: reason,
			Metadata: map[string]string{
				"product_id":  ref.ProductID,
				"variant_key": ref.VariantKey,
				"type":        string(movementType),
				"quantity":    fmt.Sprint(req.Quantity),
				"balance":     fmt.Sprint(item.Quantity),
			},
			Timestamp: now,
		}); err != nil {
			return err
		}
		result = item
		committed = j
		return nil
	})
	if err != nil {
		return domain.StockItem{}, err
	}
	e.commitJournal(committed)
	e.metrics.RecordMovements(string(movementType), 1)
	e.logger.WithFields(log.Fields{
		"stock_key": ref.Key(),
		"type":      movementType,
		"quantity":  req.Quantity,
		"balance":   result.Quantity,
	}).Info("stock moved")
	return result, nil
}
