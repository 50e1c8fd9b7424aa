package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/dms/internal/domain"
)

const maxNotesLength = 1000

// CheckoutRequest: оформление черновика. Schedule можно не передавать, если слот уже забронирован.
type CheckoutRequest struct {
	OrderID         string
	Token           string
	Lines           []domain.CartLine
	Customer        domain.CustomerInfo
	Schedule        *Selection
	Notes           string
	BottlesToReturn int
}

// Validate проверяет запрос на границе, до обращения к каталогу и хранилищу.
func (r CheckoutRequest) Validate() []error {
	var errs []error
	if len(r.Lines) == 0 {
		errs = append(errs, fmt.Errorf("%w: cart is empty", domain.ErrValidation))
	}
	for i, line := range r.Lines {
		if err := line.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("line %d: %w", i, err))
		}
	}
	errs = append(errs, r.Customer.Validate()...)
	if r.Schedule != nil {
		errs = append(errs, r.Schedule.Validate()...)
		if r.Customer.Method.Valid() && r.Schedule.Mode != r.Customer.Method {
			errs = append(errs, fmt.Errorf("%w: schedule mode %q does not match method %q", domain.ErrValidation, r.Schedule.Mode, r.Customer.Method))
		}
	}
	if r.BottlesToReturn < 0 {
		errs = append(errs, fmt.Errorf("%w: bottles_to_return must be non-negative", domain.ErrValidation))
	}
	if len(r.Notes) > maxNotesLength {
		errs = append(errs, fmt.Errorf("%w: notes must be at most %d characters", domain.ErrValidation, maxNotesLength))
	}
	return errs
}

// CheckoutResult: итог оформления.
type CheckoutResult struct {
	OrderID          string             `json:"order_id"`
	ShortID          string             `json:"short_id"`
	Token            string             `json:"token,omitempty"`
	Status           domain.OrderStatus `json:"status"`
	Pricing          domain.Pricing     `json:"pricing"`
	Schedule         domain.Schedule    `json:"schedule"`
	AlreadyConfirmed bool               `json:"already_confirmed"`
}

func checkoutResult(order domain.Order) CheckoutResult {
	out := CheckoutResult{
		OrderID: order.ID,
		ShortID: order.ShortID,
		Status:  order.Status,
		Pricing: order.Pricing,
	}
	if order.Schedule != nil {
		out.Schedule = *order.Schedule
	}
	return out
}

// Checkout подтверждает заказ: фиксирует цену по каталогу, данные клиента и слот,
// обновляет агрегаты клиента. Повторный вызов для подтверждённого заказа возвращает
// его текущее состояние и ничего не пишет.
func (e *Engine) Checkout(ctx context.Context, req CheckoutRequest) (result CheckoutResult, err error) {
	started := time.Now()
	defer func() {
		label := resultLabel(err, "confirmed")
		if err == nil && result.AlreadyConfirmed {
			label = "replayed"
		}
		e.metrics.RecordCheckout(label)
		e.metrics.RecordDuration("checkout", time.Since(started))
	}()

	if errs := req.Validate(); len(errs) > 0 {
		return CheckoutResult{}, errors.Join(errs...)
	}
	id, err := e.resolveIdentity(req.OrderID, req.Token)
	if err != nil {
		return CheckoutResult{}, err
	}

	// Каталог читается до транзакции: цена фиксируется по снимку, а ошибка корзины
	// не должна ничего записать. Для повторного checkout ошибка цены не важна.
	items, pricing, priceErr := e.priceCart(ctx, req.Lines)

	customerInfo := req.Customer
	phone := domain.NormalizePhone(customerInfo.Phone)

	var committed *journal
	err = e.store.RunInTransaction(ctx, func(tx domain.Tx) error {
		now := e.clock()
		j := newJournal(tx, now)
		result = CheckoutResult{}

		order, found, err := e.loadDraft(tx, id)
		if err != nil {
			return err
		}
		if found && order.Status != domain.OrderStatusNew {
			if !order.CheckedOut() {
				return fmt.Errorf("%w: order %s was %s before checkout", domain.ErrInvalidTransition, order.ShortID, order.Status)
			}
			result = checkoutResult(order)
			result.AlreadyConfirmed = true
			committed = j
			return nil
		}
		if priceErr != nil {
			return priceErr
		}
		if !found {
			order = newDraft(id, now)
		}

		sel, err := checkoutSelection(order, req.Schedule, customerInfo.Method)
		if err != nil {
			return err
		}
		cfg, err := tx.Config()
		if err != nil {
			return err
		}
		plan, err := planSlot(tx, cfg, order.Schedule, sel, now)
		if err != nil {
			return err
		}
		customer, customerFound, err := tx.Customer(phone)
		if err != nil {
			return err
		}
		if !customerFound {
			customer = domain.NewCustomer(phone, now)
		}

		// Дальше только записи.
		schedule := plan.schedule
		order.Items = items
		order.Pricing = pricing
		order.Customer = customerInfo.Snapshot()
		order.Schedule = &schedule
		order.Notes = strings.TrimSpace(req.Notes)
		order.BottlesToReturn = req.BottlesToReturn
		order.Status = domain.OrderStatusConfirmed
		checkedOut := now
		order.CheckedOutAt = &checkedOut
		order.UpdatedAt = now
		if errs := order.ValidateInvariants(); len(errs) > 0 {
			return errors.Join(errs...)
		}

		if err := plan.apply(tx); err != nil {
			return err
		}
		customer.ApplyCheckout(order, customerInfo.Subscriber, now)
		if err := tx.PutCustomer(customer); err != nil {
			return err
		}
		if err := tx.PutOrder(order); err != nil {
			return err
		}

		if plan.switched() {
			reason := fmt.Sprintf("%s %s -> %s %s", plan.previous.Date, plan.previous.SlotID, schedule.Date, schedule.SlotID)
			if err := j.orderEvent(order, domain.EventSlotSwitched, domain.TimelineSlotSwitched, reason, plan.previous); err != nil {
				return err
			}
		} else if plan.previous == nil && !plan.unchanged {
			reason := fmt.Sprintf("%s %s %s", schedule.Date, schedule.Mode, schedule.SlotID)
			if err := j.orderEvent(order, domain.EventSlotReserved, domain.TimelineSlotReserved, reason, nil); err != nil {
				return err
			}
		}
		if err := j.orderEvent(order, domain.EventOrderConfirmed, domain.TimelineCheckedOut, "", nil); err != nil {
			return err
		}

		result = checkoutResult(order)
		if !found {
			result.Token = id.freshToken
		}
		committed = j
		return nil
	})
	if err != nil {
		e.logger.WithError(err).WithField("order_id", req.OrderID).Info("checkout rejected")
		return CheckoutResult{}, err
	}
	e.commitJournal(committed)
	if !result.AlreadyConfirmed {
		e.metrics.RecordTransition(string(domain.OrderStatusConfirmed))
	}

	e.logger.WithFields(log.Fields{
		"order_id":          result.OrderID,
		"total_cents":       result.Pricing.TotalCents,
		"already_confirmed": result.AlreadyConfirmed,
	}).Info("order checked out")
	return result, nil
}

func (e *Engine) priceCart(ctx context.Context, lines []domain.CartLine) ([]domain.OrderItem, domain.Pricing, error) {
	catalog, err := e.catalog.Load(ctx, domain.CartProductIDs(lines))
	if err != nil {
		return nil, domain.Pricing{}, fmt.Errorf("load catalog: %w", err)
	}
	return domain.PriceCart(lines, catalog)
}

// checkoutSelection берёт слот из запроса, иначе из уже забронированного.
func checkoutSelection(order domain.Order, requested *Selection, method domain.Mode) (Selection, error) {
	switch {
	case requested != nil:
		return *requested, nil
	case order.Schedule != nil:
		held := *order.Schedule
		if held.Mode != method {
			return Selection{}, fmt.Errorf("%w: reserved mode %q does not match method %q", domain.ErrValidation, held.Mode, method)
		}
		return Selection{Date: held.Date, Mode: held.Mode, SlotID: held.SlotID}, nil
	default:
		return Selection{}, fmt.Errorf("%w: schedule is required", domain.ErrValidation)
	}
}
