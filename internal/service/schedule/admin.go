package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/dms/internal/domain"
)

// Admin: запись конфигурации доставки и переопределений дней.
type Admin struct {
	store  domain.TxStore
	now    func() time.Time
	logger *log.Entry
}

// NewAdmin создаёт административный сервис расписания.
func NewAdmin(store domain.TxStore, now func() time.Time, logger *log.Entry) *Admin {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = log.New().WithField("component", "schedule-admin")
	}
	return &Admin{store: store, now: now, logger: logger}
}

// SaveConfig сохраняет конфигурацию, если её версия совпадает с expectedVersion.
// expectedVersion=0 означает первое сохранение. Возвращает сохранённую конфигурацию с новой версией.
func (a *Admin) SaveConfig(ctx context.Context, cfg domain.DeliveryConfig, expectedVersion int64) (domain.DeliveryConfig, error) {
	if errs := cfg.Validate(); len(errs) > 0 {
		return domain.DeliveryConfig{}, errors.Join(errs...)
	}
	now := a.now().UTC()
	cfg.UpdatedAt = now

	err := a.store.RunInTransaction(ctx, func(tx domain.Tx) error {
		current, err := tx.Config()
		switch {
		case errors.Is(err, domain.ErrConfigMissing):
			current = domain.DeliveryConfig{}
		case err != nil:
			return err
		}
		if current.Version != expectedVersion {
			return fmt.Errorf("%w: expected %d, stored %d", domain.ErrConfigVersionConflict, expectedVersion, current.Version)
		}
		if err := tx.PutConfig(cfg); err != nil {
			return err
		}
		return domain.Emit(tx, domain.AggregateConfig, "delivery", domain.Event{
			Type:      domain.EventConfigSaved,
			Version:   expectedVersion + 1,
			Timestamp: now,
		})
	})
	if err != nil {
		return domain.DeliveryConfig{}, err
	}

	cfg.Version = expectedVersion + 1
	a.logger.WithField("version", cfg.Version).Info("delivery config saved")
	return cfg, nil
}

// ApplyDayOverride проверяет типизированный патч против шаблона дня и сливает его со счётчиком.
// Бронирования не меняются; документ счётчика создаётся, если его ещё нет.
func (a *Admin) ApplyDayOverride(ctx context.Context, date string, mode domain.Mode, patch domain.DayOverridePatch) (domain.DayCounter, error) {
	if !mode.Valid() {
		return domain.DayCounter{}, fmt.Errorf("%w: unknown mode %q", domain.ErrValidation, mode)
	}
	now := a.now().UTC()

	var saved domain.DayCounter
	err := a.store.RunInTransaction(ctx, func(tx domain.Tx) error {
		cfg, err := tx.Config()
		if err != nil {
			return err
		}
		tpl, err := templateForAdmin(cfg, date, mode)
		if err != nil {
			return err
		}
		if errs := patch.Validate(tpl); len(errs) > 0 {
			return errors.Join(errs...)
		}
		counter, _, err := tx.DayCounter(date, mode)
		if err != nil {
			return err
		}

		saved = patch.Apply(counter)
		saved.UpdatedAt = now
		if err := tx.PutDayCounter(saved); err != nil {
			return err
		}
		return domain.Emit(tx, domain.AggregateDay, saved.Key(), domain.Event{
			Type:      domain.EventDayOverride,
			Date:      date,
			Mode:      mode,
			Timestamp: now,
		})
	})
	if err != nil {
		return domain.DayCounter{}, err
	}

	a.logger.WithFields(log.Fields{"date": date, "mode": mode}).Info("day override applied")
	return saved, nil
}

// CorrectDayCounter выполняет корректирующее действие администратора и прямо задаёт счётчики бронирований.
func (a *Admin) CorrectDayCounter(ctx context.Context, date string, mode domain.Mode, correction domain.DayCounterCorrection) (domain.DayCounter, error) {
	if errs := correction.Validate(); len(errs) > 0 {
		return domain.DayCounter{}, errors.Join(errs...)
	}
	now := a.now().UTC()

	var saved domain.DayCounter
	err := a.store.RunInTransaction(ctx, func(tx domain.Tx) error {
		cfg, err := tx.Config()
		if err != nil {
			return err
		}
		tpl, err := templateForAdmin(cfg, date, mode)
		if err != nil {
			return err
		}
		for id := range correction.SlotBooked {
			if _, ok := tpl.Slot(id); !ok {
				return fmt.Errorf("%w: slot %q is not defined for %s", domain.ErrSlotNotFound, id, date)
			}
		}
		counter, _, err := tx.DayCounter(date, mode)
		if err != nil {
			return err
		}

		saved = counter.Clone()
		if correction.DailyBooked != nil {
			saved.DailyBooked = *correction.DailyBooked
		}
		for id, booked := range correction.SlotBooked {
			slot := saved.Slots[id]
			slot.Booked = booked
			saved.Slots[id] = slot
		}
		saved.UpdatedAt = now
		if err := tx.PutDayCounter(saved); err != nil {
			return err
		}
		return domain.Emit(tx, domain.AggregateDay, saved.Key(), domain.Event{
			Type:      domain.EventCounterCorrected,
			Date:      date,
			Mode:      mode,
			Reason:    correction.Reason,
			Timestamp: now,
		})
	})
	if err != nil {
		return domain.DayCounter{}, err
	}

	a.logger.WithFields(log.Fields{
		"date":   date,
		"mode":   mode,
		"reason": correction.Reason,
	}).Warn("day counter corrected manually")
	return saved, nil
}

// templateForAdmin отличается от TemplateFor ошибками: для администратора это ошибки ввода.
func templateForAdmin(cfg domain.DeliveryConfig, date string, mode domain.Mode) (domain.WeekdayTemplate, error) {
	tpl, err := TemplateFor(cfg, date, mode)
	if err != nil && !domain.IsValidation(err) {
		return domain.WeekdayTemplate{}, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return tpl, err
}
