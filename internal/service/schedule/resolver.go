// Package schedule вычисляет доступность дней и слотов из недельного шаблона,
// закрытых дат, переопределений на дату и правил cutoff.
package schedule

import (
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/dms/internal/domain"
)

// Причины закрытия дня или слота. Показываются клиенту как есть.
const (
	ReasonNoTemplate       = "No weekday template"
	ReasonWeekdayClosed    = "Closed on this weekday"
	ReasonClosedDate       = "Closed date"
	ReasonCutoffPassed     = "Cutoff passed"
	ReasonClosedByOverride = "Closed by override"
	ReasonPastDate         = "Past date"
	ReasonBeyondWindow     = "Beyond booking window"
	ReasonInvalidOverride  = "Invalid day override"
	ReasonInvalidSlotTime  = "Invalid slot time"
	ReasonInvalidTimezone  = "Invalid timezone"
	ReasonSlotDisabled     = "Slot disabled"
	ReasonSlotFull         = "Slot full"
	ReasonDayFull          = "Day full"
)

// SlotAvailability: слот шаблона с учётом бронирований и переопределений.
type SlotAvailability struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	Start     string `json:"start"`
	End       string `json:"end"`
	Capacity  int    `json:"capacity"`
	Booked    int    `json:"booked"`
	Available int    `json:"available"`
	Enabled   bool   `json:"enabled"`
	Reason    string `json:"reason,omitempty"`
}

// DayAvailability: доступность одного дня в одном режиме.
type DayAvailability struct {
	Date          string             `json:"date"`
	Weekday       string             `json:"weekday"`
	Mode          domain.Mode        `json:"mode"`
	Open          bool               `json:"open"`
	Reason        string             `json:"reason,omitempty"`
	DailyCapacity int                `json:"daily_capacity"`
	DailyBooked   int                `json:"daily_booked"`
	Slots         []SlotAvailability `json:"slots"`
}

// Slot ищет слот дня по идентификатору.
func (d DayAvailability) Slot(id string) (SlotAvailability, bool) {
	for _, slot := range d.Slots {
		if slot.ID == id {
			return slot, true
		}
	}
	return SlotAvailability{}, false
}

// Resolve строит доступность на numDays дней начиная со start. Функция чистая.
// counters индексирован датой; отсутствие счётчика означает ноль бронирований и никаких переопределений.
// Выключенный режим даёт пустой список без ошибки.
func Resolve(cfg domain.DeliveryConfig, counters map[string]domain.DayCounter, start string, numDays int, mode domain.Mode, now time.Time) ([]DayAvailability, error) {
	first, err := domain.ParseDate(start)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	if numDays <= 0 {
		return nil, fmt.Errorf("%w: days must be greater than zero", domain.ErrValidation)
	}
	mc, ok := cfg.ModeConfig(mode)
	if !ok || !mc.Enabled {
		return []DayAvailability{}, nil
	}

	loc, locErr := cfg.Location()
	days := make([]DayAvailability, 0, numDays)
	for i := 0; i < numDays; i++ {
		date := first.AddDate(0, 0, i).Format(domain.DateLayout)
		var counter *domain.DayCounter
		if c, ok := counters[date]; ok {
			counter = &c
		}
		days = append(days, resolveDay(cfg, loc, locErr, counter, date, mode, now))
	}
	return days, nil
}

// ResolveDay вычисляет доступность одного дня. Этот же код проверяет бронирование,
// поэтому резерв никогда не пройдёт там, где чтение показало бы закрытый или заполненный слот.
// Ошибки данных одного дня не прерывают расчёт: день закрывается с причиной.
func ResolveDay(cfg domain.DeliveryConfig, counter *domain.DayCounter, date string, mode domain.Mode, now time.Time) DayAvailability {
	loc, err := cfg.Location()
	return resolveDay(cfg, loc, err, counter, date, mode, now)
}

// resolveDay получает уже загруженную зону: Resolve загружает её один раз на весь диапазон.
func resolveDay(cfg domain.DeliveryConfig, loc *time.Location, locErr error, counter *domain.DayCounter, date string, mode domain.Mode, now time.Time) DayAvailability {
	day := DayAvailability{Date: date, Mode: mode, Slots: []SlotAvailability{}}

	parsed, err := domain.ParseDate(date)
	if err != nil {
		return closeDay(day, err.Error())
	}
	day.Weekday = domain.WeekdayKey(parsed.Weekday())
	if locErr != nil {
		return closeDay(day, ReasonInvalidTimezone)
	}

	mc, _ := cfg.ModeConfig(mode)
	tpl, ok := mc.Weekdays[day.Weekday]
	if !ok {
		return closeDay(day, ReasonNoTemplate)
	}

	day.Open = tpl.Open
	if !tpl.Open {
		day.Reason = ReasonWeekdayClosed
	}

	// Blackout и cutoff "накануне в HH:MM" имеют одинаковый приоритет; переопределение дня сильнее обоих.
	if cfg.IsClosedDate(date) {
		day.Open = false
		day.Reason = ReasonClosedDate
	} else if dayBeforeCutoffPassed(cfg.Cutoff, parsed, loc, now) {
		day.Open = false
		day.Reason = ReasonCutoffPassed
	}

	reopened := false
	if counter != nil && counter.OverrideClosed != nil {
		day.Open = !*counter.OverrideClosed
		reopened = day.Open
		if day.Open {
			day.Reason = ""
		} else {
			day.Reason = ReasonClosedByOverride
		}
	}

	day.DailyCapacity = tpl.DailyCapacity
	if counter != nil {
		if counter.OverrideDailyCapacity != nil {
			day.DailyCapacity = *counter.OverrideDailyCapacity
		}
		day.DailyBooked = counter.DailyBooked
	}
	if day.DailyCapacity < 0 || day.DailyBooked < 0 {
		return closeDay(day, ReasonInvalidOverride)
	}
	dayFull := day.DailyBooked >= day.DailyCapacity

	for _, cfgSlot := range tpl.Slots {
		slot, reason := resolveSlot(cfgSlot, counter, parsed, loc, cfg.Cutoff, reopened, now)
		if reason != "" {
			return closeDay(day, reason)
		}
		if slot.Enabled && dayFull {
			slot.Enabled = false
			slot.Reason = ReasonDayFull
		}
		day.Slots = append(day.Slots, slot)
	}

	// Прошедшая дата закрывается безусловно, после всех переопределений.
	today := now.In(loc).Format(domain.DateLayout)
	switch {
	case date < today:
		day.Open = false
		day.Reason = ReasonPastDate
	case cfg.MaxAdvanceDays > 0 && date > now.In(loc).AddDate(0, 0, cfg.MaxAdvanceDays).Format(domain.DateLayout):
		day.Open = false
		day.Reason = ReasonBeyondWindow
	}

	if !day.Open {
		return closeDay(day, day.Reason)
	}
	return day
}

// resolveSlot возвращает непустую причину, если данные слота испорчены и день надо закрыть.
func resolveSlot(cfgSlot domain.SlotConfig, counter *domain.DayCounter, date time.Time, loc *time.Location, cutoff domain.CutoffPolicy, reopened bool, now time.Time) (SlotAvailability, string) {
	slot := SlotAvailability{
		ID:       cfgSlot.ID,
		Label:    cfgSlot.Label,
		Start:    cfgSlot.Start,
		End:      cfgSlot.End,
		Capacity: cfgSlot.Capacity,
	}
	enabled := cfgSlot.Enabled

	if counter != nil {
		if sc, ok := counter.Slots[cfgSlot.ID]; ok {
			slot.Booked = sc.Booked
			if sc.CapacitySnapshot != nil {
				slot.Capacity = *sc.CapacitySnapshot
			}
			if sc.EnabledSnapshot != nil {
				enabled = *sc.EnabledSnapshot
			}
			if sc.LabelOverride != nil {
				slot.Label = *sc.LabelOverride
			}
		}
	}
	if slot.Capacity < 0 || slot.Booked < 0 {
		return slot, ReasonInvalidOverride
	}

	slot.Available = max(0, slot.Capacity-slot.Booked)
	slot.Enabled = enabled && slot.Available > 0
	switch {
	case !enabled:
		slot.Reason = ReasonSlotDisabled
	case slot.Available == 0:
		slot.Reason = ReasonSlotFull
	}

	if cutoff.Kind == domain.CutoffHoursBeforeSlotStart && !reopened {
		hour, minute, err := domain.ParseClock(cfgSlot.Start)
		if err != nil {
			return slot, ReasonInvalidSlotTime
		}
		start := time.Date(date.Year(), date.Month(), date.Day(), hour, minute, 0, 0, loc)
		if !now.Before(start.Add(-time.Duration(cutoff.Hours) * time.Hour)) {
			slot.Enabled = false
			slot.Reason = ReasonCutoffPassed
		}
	}
	return slot, ""
}

// dayBeforeCutoffPassed проверяет правило "приём на дату закрывается накануне в HH:MM".
func dayBeforeCutoffPassed(cutoff domain.CutoffPolicy, date time.Time, loc *time.Location, now time.Time) bool {
	if cutoff.Kind != domain.CutoffDayBeforeAt {
		return false
	}
	hour, minute, err := domain.ParseClock(cutoff.At)
	if err != nil {
		// Конфигурация проверяется при сохранении; испорченное значение закрывает приём.
		return true
	}
	prev := date.AddDate(0, 0, -1)
	deadline := time.Date(prev.Year(), prev.Month(), prev.Day(), hour, minute, 0, 0, loc)
	return !now.Before(deadline)
}

// closeDay приводит закрытый день к виду open=false, ёмкость 0, все слоты выключены.
func closeDay(day DayAvailability, reason string) DayAvailability {
	day.Open = false
	day.Reason = reason
	day.DailyCapacity = 0
	for i := range day.Slots {
		day.Slots[i].Enabled = false
		day.Slots[i].Available = 0
		if day.Slots[i].Reason == "" {
			day.Slots[i].Reason = reason
		}
	}
	return day
}

// CheckReservation проверяет, можно ли забронировать слот в рассчитанном дне.
// Ошибки: ErrSlotClosed, ErrSlotNotFound, ErrSlotFull.
func CheckReservation(day DayAvailability, slotID string) (SlotAvailability, error) {
	if !day.Open {
		return SlotAvailability{}, fmt.Errorf("%w: %s %s: %s", domain.ErrSlotClosed, day.Date, day.Mode, day.Reason)
	}
	slot, ok := day.Slot(slotID)
	if !ok {
		return SlotAvailability{}, fmt.Errorf("%w: %q on %s", domain.ErrSlotNotFound, slotID, day.Date)
	}
	if day.DailyBooked >= day.DailyCapacity {
		return slot, fmt.Errorf("%w: daily capacity %d reached on %s", domain.ErrSlotFull, day.DailyCapacity, day.Date)
	}
	if slot.Booked >= slot.Capacity {
		return slot, fmt.Errorf("%w: slot %q capacity %d reached on %s", domain.ErrSlotFull, slotID, slot.Capacity, day.Date)
	}
	if !slot.Enabled {
		return slot, fmt.Errorf("%w: slot %q on %s: %s", domain.ErrSlotClosed, slotID, day.Date, slot.Reason)
	}
	return slot, nil
}

// TemplateFor возвращает шаблон дня недели для даты в режиме.
func TemplateFor(cfg domain.DeliveryConfig, date string, mode domain.Mode) (domain.WeekdayTemplate, error) {
	parsed, err := domain.ParseDate(date)
	if err != nil {
		return domain.WeekdayTemplate{}, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	mc, ok := cfg.ModeConfig(mode)
	if !ok {
		return domain.WeekdayTemplate{}, fmt.Errorf("%w: mode %q is not configured", domain.ErrModeDisabled, mode)
	}
	key := domain.WeekdayKey(parsed.Weekday())
	tpl, ok := mc.Weekdays[key]
	if !ok {
		return domain.WeekdayTemplate{}, fmt.Errorf("%w: no %s template for %s", domain.ErrSlotClosed, key, date)
	}
	return tpl, nil
}
