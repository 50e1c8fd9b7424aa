package orders

import (
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/dms/internal/domain"
	"github.com/vladislavdragonenkov/dms/internal/service/schedule"
)

// Selection хранит выбор клиента (дата, режим, слот).
type Selection struct {
	Date   string      `json:"date"`
	Mode   domain.Mode `json:"mode"`
	SlotID string      `json:"slot_id"`
}

// Validate проверяет формат выбора до транзакции.
func (s Selection) Validate() []error {
	var errs []error
	if _, err := domain.ParseDate(s.Date); err != nil {
		errs = append(errs, fmt.Errorf("%w: %v", domain.ErrValidation, err))
	}
	if !s.Mode.Valid() {
		errs = append(errs, fmt.Errorf("%w: unknown mode %q", domain.ErrValidation, s.Mode))
	}
	if s.SlotID == "" {
		errs = append(errs, fmt.Errorf("%w: slot_id is required", domain.ErrValidation))
	}
	return errs
}

func (s Selection) schedule(label string) domain.Schedule {
	return domain.Schedule{Date: s.Date, Mode: s.Mode, SlotID: s.SlotID, SlotLabel: label}
}

// slotPlan описывает результат фазы чтения, то есть какие счётчики записать и какое бронирование получится.
// Применяется после всех чтений транзакции.
type slotPlan struct {
	schedule  domain.Schedule
	previous  *domain.Schedule
	counters  []domain.DayCounter
	unchanged bool
}

func (p slotPlan) switched() bool {
	return p.previous != nil && !p.unchanged
}

// planSlot читает нужные счётчики и проверяет бронирование тем же кодом, что и чтение доступности.
// При смене слота старый слот освобождается до проверки нового, чтобы перенос внутри
// заполненного дня не упирался в собственное бронирование.
func planSlot(tx domain.Tx, cfg domain.DeliveryConfig, current *domain.Schedule, sel Selection, now time.Time) (slotPlan, error) {
	target := sel.schedule("")
	if current != nil && current.Same(target) {
		return slotPlan{schedule: *current, unchanged: true}, nil
	}

	mc, ok := cfg.ModeConfig(sel.Mode)
	if !ok || !mc.Enabled {
		return slotPlan{}, fmt.Errorf("%w: %s", domain.ErrModeDisabled, sel.Mode)
	}

	counter, found, err := tx.DayCounter(sel.Date, sel.Mode)
	if err != nil {
		return slotPlan{}, err
	}
	if !found {
		tpl, err := schedule.TemplateFor(cfg, sel.Date, sel.Mode)
		switch {
		case err == nil:
			counter = domain.SeedDayCounter(sel.Date, sel.Mode, tpl)
		case errors.Is(err, domain.ErrSlotClosed):
			// Нет шаблона: ResolveDay закроет день с причиной.
		default:
			return slotPlan{}, err
		}
	}

	plan := slotPlan{}
	if current != nil {
		previous := *current
		plan.previous = &previous
		if previous.Date == sel.Date && previous.Mode == sel.Mode {
			counter.Release(previous.SlotID)
		} else {
			old, err := releaseSlot(tx, &previous, now)
			if err != nil {
				return slotPlan{}, err
			}
			if old != nil {
				plan.counters = append(plan.counters, *old)
			}
		}
	}

	day := schedule.ResolveDay(cfg, &counter, sel.Date, sel.Mode, now)
	slot, err := schedule.CheckReservation(day, sel.SlotID)
	if err != nil {
		return slotPlan{}, err
	}

	counter.Book(sel.SlotID)
	counter.UpdatedAt = now
	plan.counters = append(plan.counters, counter)
	plan.schedule = sel.schedule(slot.Label)
	return plan, nil
}

func (p slotPlan) apply(tx domain.Tx) error {
	for _, counter := range p.counters {
		if err := tx.PutDayCounter(counter); err != nil {
			return err
		}
	}
	return nil
}

// releaseSlot освобождает бронирование заказа. Вызывается в фазе чтения, возвращает счётчик для записи.
func releaseSlot(tx domain.Tx, held *domain.Schedule, now time.Time) (*domain.DayCounter, error) {
	if held == nil {
		return nil, nil
	}
	counter, found, err := tx.DayCounter(held.Date, held.Mode)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	counter.Release(held.SlotID)
	counter.UpdatedAt = now
	return &counter, nil
}
