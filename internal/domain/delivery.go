package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// DateLayout: формат календарной даты во всех ключах и документах.
	DateLayout = "2006-01-02"
	// ClockLayout: формат времени суток для слотов и cutoff.
	ClockLayout = "15:04"
)

// Mode: способ получения заказа.
type Mode string

const (
	// ModeDelivery: доставка курьером.
	ModeDelivery Mode = "delivery"
	// ModePickup: самовывоз.
	ModePickup Mode = "pickup"
)

// Valid проверяет, что режим относится к поддерживаемым значениям.
func (m Mode) Valid() bool {
	switch m {
	case ModeDelivery, ModePickup:
		return true
	default:
		return false
	}
}

// CutoffKind задаёт вариант правила закрытия приёма заказов.
type CutoffKind string

const (
	// CutoffNone: отсекается только прошедшая дата.
	CutoffNone CutoffKind = ""
	// CutoffDayBeforeAt: приём на дату закрывается накануне в указанное время.
	CutoffDayBeforeAt CutoffKind = "day_before_at"
	// CutoffHoursBeforeSlotStart: приём в слот закрывается за N часов до его начала.
	CutoffHoursBeforeSlotStart CutoffKind = "hours_before_slot_start"
)

// CutoffPolicy описывает правило cutoff. At используется для day_before_at, Hours: для hours_before_slot_start.
type CutoffPolicy struct {
	Kind  CutoffKind `json:"kind" yaml:"kind"`
	At    string     `json:"at,omitempty" yaml:"at,omitempty"`
	Hours int        `json:"hours,omitempty" yaml:"hours,omitempty"`
}

// SlotConfig: окно доставки внутри дня. Start/End носят справочный характер.
type SlotConfig struct {
	ID       string `json:"id" yaml:"id"`
	Label    string `json:"label" yaml:"label"`
	Start    string `json:"start" yaml:"start"`
	End      string `json:"end" yaml:"end"`
	Capacity int    `json:"capacity" yaml:"capacity"`
	Enabled  bool   `json:"enabled" yaml:"enabled"`
}

// WeekdayTemplate: повторяющийся шаблон ёмкости на день недели.
// Сумма ёмкостей слотов не обязана совпадать с DailyCapacity.
type WeekdayTemplate struct {
	Open          bool         `json:"open" yaml:"open"`
	DailyCapacity int          `json:"daily_capacity" yaml:"daily_capacity"`
	Slots         []SlotConfig `json:"slots" yaml:"slots"`
}

// Slot ищет слот по идентификатору.
func (t WeekdayTemplate) Slot(id string) (SlotConfig, bool) {
	for _, slot := range t.Slots {
		if slot.ID == id {
			return slot, true
		}
	}
	return SlotConfig{}, false
}

// ModeConfig: настройки одного режима. Weekdays индексируется ключами sun..sat.
type ModeConfig struct {
	Enabled  bool                       `json:"enabled" yaml:"enabled"`
	Weekdays map[string]WeekdayTemplate `json:"weekdays" yaml:"weekdays"`
}

// DeliveryConfig: единственный документ конфигурации, принадлежит администратору.
type DeliveryConfig struct {
	Timezone       string              `json:"timezone" yaml:"timezone"`
	MaxAdvanceDays int                 `json:"max_advance_days" yaml:"max_advance_days"`
	Cutoff         CutoffPolicy        `json:"cutoff" yaml:"cutoff"`
	Modes          map[Mode]ModeConfig `json:"modes" yaml:"modes"`
	ClosedDates    []string            `json:"closed_dates" yaml:"closed_dates"`
	Version        int64               `json:"version" yaml:"-"`
	UpdatedAt      time.Time           `json:"updated_at" yaml:"-"`
}

// weekdayKeys индексируется time.Weekday: воскресенье = 0.
// Это единственное соглашение об индексации дней недели в сервисе.
var weekdayKeys = [7]string{"sun", "mon", "tue", "wed", "thu", "fri", "sat"}

// WeekdayKey возвращает ключ шаблона для дня недели.
func WeekdayKey(d time.Weekday) string {
	return weekdayKeys[int(d)%7]
}

// WeekdayKeys возвращает все ключи шаблонов в порядке sun..sat.
func WeekdayKeys() []string {
	keys := make([]string, len(weekdayKeys))
	copy(keys, weekdayKeys[:])
	return keys
}

// Location загружает часовой пояс конфигурации. Пустое значение означает UTC.
func (c DeliveryConfig) Location() (*time.Location, error) {
	if strings.TrimSpace(c.Timezone) == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// ModeConfig возвращает настройки режима, если они описаны.
func (c DeliveryConfig) ModeConfig(mode Mode) (ModeConfig, bool) {
	mc, ok := c.Modes[mode]
	return mc, ok
}

// IsClosedDate проверяет административный blackout.
func (c DeliveryConfig) IsClosedDate(date string) bool {
	for _, closed := range c.ClosedDates {
		if closed == date {
			return true
		}
	}
	return false
}

// Validate проверяет инварианты конфигурации и возвращает список замечаний.
func (c DeliveryConfig) Validate() []error {
	var errs []error
	if _, err := c.Location(); err != nil {
		errs = append(errs, fmt.Errorf("%w: %v", ErrValidation, err))
	}
	if c.MaxAdvanceDays < 0 {
		errs = append(errs, fmt.Errorf("%w: max_advance_days must be non-negative", ErrValidation))
	}

	switch c.Cutoff.Kind {
	case CutoffNone:
	case CutoffDayBeforeAt:
		if _, _, err := ParseClock(c.Cutoff.At); err != nil {
			errs = append(errs, fmt.Errorf("%w: cutoff.at: %v", ErrValidation, err))
		}
	case CutoffHoursBeforeSlotStart:
		if c.Cutoff.Hours < 0 {
			errs = append(errs, fmt.Errorf("%w: cutoff.hours must be non-negative", ErrValidation))
		}
	default:
		errs = append(errs, fmt.Errorf("%w: unknown cutoff kind %q", ErrValidation, c.Cutoff.Kind))
	}

	for _, date := range c.ClosedDates {
		if _, err := ParseDate(date); err != nil {
			errs = append(errs, fmt.Errorf("%w: closed date %q: %v", ErrValidation, date, err))
		}
	}

	for mode, mc := range c.Modes {
		if !mode.Valid() {
			errs = append(errs, fmt.Errorf("%w: unknown mode %q", ErrValidation, mode))
			continue
		}
		// Каждый день недели обязан иметь шаблон, даже закрытый.
		for _, key := range weekdayKeys {
			tpl, ok := mc.Weekdays[key]
			if !ok {
				errs = append(errs, fmt.Errorf("%w: %s: missing weekday template %q", ErrValidation, mode, key))
				continue
			}
			errs = append(errs, tpl.validate(fmt.Sprintf("%s.%s", mode, key))...)
		}
	}

	return errs
}

func (t WeekdayTemplate) validate(path string) []error {
	var errs []error
	if t.DailyCapacity < 0 {
		errs = append(errs, fmt.Errorf("%w: %s: daily_capacity must be non-negative", ErrValidation, path))
	}
	seen := make(map[string]struct{}, len(t.Slots))
	for _, slot := range t.Slots {
		if strings.TrimSpace(slot.ID) == "" {
			errs = append(errs, fmt.Errorf("%w: %s: slot id is required", ErrValidation, path))
			continue
		}
		if _, dup := seen[slot.ID]; dup {
			errs = append(errs, fmt.Errorf("%w: %s: duplicate slot id %q", ErrValidation, path, slot.ID))
		}
		seen[slot.ID] = struct{}{}
		if slot.Capacity < 0 {
			errs = append(errs, fmt.Errorf("%w: %s.%s: capacity must be non-negative", ErrValidation, path, slot.ID))
		}
		if _, _, err := ParseClock(slot.Start); err != nil {
			errs = append(errs, fmt.Errorf("%w: %s.%s: start: %v", ErrValidation, path, slot.ID, err))
		}
		if _, _, err := ParseClock(slot.End); err != nil {
			errs = append(errs, fmt.Errorf("%w: %s.%s: end: %v", ErrValidation, path, slot.ID, err))
		}
	}
	return errs
}

// ParseDate разбирает календарную дату YYYY-MM-DD в полночь UTC.
func ParseDate(value string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", value)
	}
	return t, nil
}

// ParseClock разбирает время суток HH:MM.
func ParseClock(value string) (hour, minute int, err error) {
	t, err := time.Parse(ClockLayout, strings.TrimSpace(value))
	if err != nil {
		return 0, 0, errors.New("time of day must be HH:MM")
	}
	return t.Hour(), t.Minute(), nil
}
