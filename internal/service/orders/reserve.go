package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/dms/internal/domain"
)

// ReserveRequest: бронирование или перенос слота для черновика.
// Пустой OrderID создаёт новый черновик и выпускает токен.
type ReserveRequest struct {
	OrderID string
	Token   string
	Selection
}

// ReserveResult: итог бронирования. Token заполнен только для нового черновика.
type ReserveResult struct {
	OrderID   string           `json:"order_id"`
	ShortID   string           `json:"short_id"`
	Token     string           `json:"token,omitempty"`
	Schedule  domain.Schedule  `json:"schedule"`
	Previous  *domain.Schedule `json:"previous,omitempty"`
	Switched  bool             `json:"switched"`
	Unchanged bool             `json:"unchanged"`
}

// Reserve бронирует слот для черновика. Перенос освобождает старый слот и занимает новый
// в одной транзакции: после ошибки клиент остаётся со старым бронированием.
func (e *Engine) Reserve(ctx context.Context, req ReserveRequest) (result ReserveResult, err error) {
	started := time.Now()
	defer func() {
		e.metrics.RecordReservation(string(req.Mode), resultLabel(err, "reserved"))
		e.metrics.RecordDuration("reserve", time.Since(started))
	}()

	if errs := req.Selection.Validate(); len(errs) > 0 {
		return ReserveResult{}, errors.Join(errs...)
	}
	id, err := e.resolveIdentity(req.OrderID, req.Token)
	if err != nil {
		return ReserveResult{}, err
	}

	var committed *journal
	err = e.store.RunInTransaction(ctx, func(tx domain.Tx) error {
		now := e.clock()
		j := newJournal(tx, now)
		result = ReserveResult{}

		order, found, err := e.loadDraft(tx, id)
		if err != nil {
			return err
		}
		if found && order.Status != domain.OrderStatusNew {
			return fmt.Errorf("%w: order %s is %s, slot can only be changed on a draft", domain.ErrInvalidTransition, order.ShortID, order.Status)
		}
		cfg, err := tx.Config()
		if err != nil {
			return err
		}
		if !found {
			order = newDraft(id, now)
		}

		plan, err := planSlot(tx, cfg, order.Schedule, req.Selection, now)
		if err != nil {
			return err
		}

		result.OrderID = order.ID
		result.ShortID = order.ShortID
		if !found {
			result.Token = id.freshToken
		}
		if plan.unchanged {
			result.Schedule = plan.schedule
			result.Unchanged = true
			committed = j
			return nil
		}

		if err := plan.apply(tx); err != nil {
			return err
		}
		schedule := plan.schedule
		order.Schedule = &schedule
		order.UpdatedAt = now
		if err := tx.PutOrder(order); err != nil {
			return err
		}

		if plan.switched() {
			reason := fmt.Sprintf("%s %s -> %s %s", plan.previous.Date, plan.previous.SlotID, schedule.Date, schedule.SlotID)
			if err := j.orderEvent(order, domain.EventSlotSwitched, domain.TimelineSlotSwitched, reason, plan.previous); err != nil {
				return err
			}
		} else {
			reason := fmt.Sprintf("%s %s %s", schedule.Date, schedule.Mode, schedule.SlotID)
			if err := j.orderEvent(order, domain.EventSlotReserved, domain.TimelineSlotReserved, reason, nil); err != nil {
				return err
			}
		}

		result.Schedule = schedule
		result.Previous = plan.previous
		result.Switched = plan.switched()
		committed = j
		return nil
	})
	if err != nil {
		e.logger.WithError(err).WithFields(log.Fields{
			"order_id": req.OrderID,
			"date":     req.Date,
			"mode":     req.Mode,
			"slot_id":  req.SlotID,
		}).Info("reservation rejected")
		return ReserveResult{}, err
	}
	e.commitJournal(committed)

	e.logger.WithFields(log.Fields{
		"order_id": result.OrderID,
		"date":     result.Schedule.Date,
		"slot_id":  result.Schedule.SlotID,
		"switched": result.Switched,
	}).Debug("slot reserved")
	return result, nil
}
