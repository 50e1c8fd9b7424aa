package domain

import (
	"fmt"
	"strings"
	"time"
)

// SlotCounter хранит занятость слота и точечные переопределения на конкретную дату.
// Snapshot-поля, если заданы, имеют приоритет над шаблоном дня недели.
type SlotCounter struct {
	Booked           int     `json:"booked"`
	CapacitySnapshot *int    `json:"capacity_snapshot,omitempty"`
	EnabledSnapshot  *bool   `json:"enabled_snapshot,omitempty"`
	LabelOverride    *string `json:"label_override,omitempty"`
}

// DayCounter: единственное изменяемое состояние расписания, один документ на (дата, режим).
// Создаётся лениво при первой записи и никогда не удаляется.
type DayCounter struct {
	Date                  string                 `json:"date"`
	Mode                  Mode                   `json:"mode"`
	DailyBooked           int                    `json:"daily_booked"`
	Slots                 map[string]SlotCounter `json:"slots"`
	OverrideClosed        *bool                  `json:"override_closed,omitempty"`
	OverrideDailyCapacity *int                   `json:"override_daily_capacity,omitempty"`
	UpdatedAt             time.Time              `json:"updated_at"`
}

// DayCounterKey формирует ключ документа "{date}_{mode}".
func DayCounterKey(date string, mode Mode) string {
	return date + "_" + string(mode)
}

// Key возвращает ключ документа счётчика.
func (d DayCounter) Key() string {
	return DayCounterKey(d.Date, d.Mode)
}

// NewDayCounter создаёт пустой счётчик без переопределений.
func NewDayCounter(date string, mode Mode) DayCounter {
	return DayCounter{
		Date:  date,
		Mode:  mode,
		Slots: make(map[string]SlotCounter),
	}
}

// SeedDayCounter создаёт счётчик при первом бронировании: по нулевому счётчику на каждый слот шаблона.
// Ёмкость и доступность слотов не копируются, они читаются из шаблона до явного переопределения.
func SeedDayCounter(date string, mode Mode, tpl WeekdayTemplate) DayCounter {
	counter := NewDayCounter(date, mode)
	for _, slot := range tpl.Slots {
		counter.Slots[slot.ID] = SlotCounter{}
	}
	return counter
}

// Clone возвращает глубокую копию: документы из хранилища не должны разделять память.
func (d DayCounter) Clone() DayCounter {
	out := d
	out.Slots = make(map[string]SlotCounter, len(d.Slots))
	for id, slot := range d.Slots {
		out.Slots[id] = slot.clone()
	}
	out.OverrideClosed = cloneBool(d.OverrideClosed)
	out.OverrideDailyCapacity = cloneInt(d.OverrideDailyCapacity)
	return out
}

func (s SlotCounter) clone() SlotCounter {
	out := s
	out.CapacitySnapshot = cloneInt(s.CapacitySnapshot)
	out.EnabledSnapshot = cloneBool(s.EnabledSnapshot)
	if s.LabelOverride != nil {
		label := *s.LabelOverride
		out.LabelOverride = &label
	}
	return out
}

// Book увеличивает дневной счётчик и счётчик слота на единицу.
func (d *DayCounter) Book(slotID string) {
	if d.Slots == nil {
		d.Slots = make(map[string]SlotCounter)
	}
	slot := d.Slots[slotID]
	slot.Booked++
	d.Slots[slotID] = slot
	d.DailyBooked++
}

// Release уменьшает счётчики, не опускаясь ниже нуля.
func (d *DayCounter) Release(slotID string) {
	if d.Slots == nil {
		d.Slots = make(map[string]SlotCounter)
	}
	slot := d.Slots[slotID]
	if slot.Booked > 0 {
		slot.Booked--
	}
	d.Slots[slotID] = slot
	if d.DailyBooked > 0 {
		d.DailyBooked--
	}
}

// SlotOverridePatch: типизированное изменение одного слота на дату.
type SlotOverridePatch struct {
	Capacity *int    `json:"capacity,omitempty"`
	Enabled  *bool   `json:"enabled,omitempty"`
	Label    *string `json:"label,omitempty"`
}

// DayOverridePatch: типизированное изменение переопределений дня.
// Clear-флаги снимают переопределение и возвращают день к шаблону.
type DayOverridePatch struct {
	Closed             *bool                        `json:"closed,omitempty"`
	ClearClosed        bool                         `json:"clear_closed,omitempty"`
	DailyCapacity      *int                         `json:"daily_capacity,omitempty"`
	ClearDailyCapacity bool                         `json:"clear_daily_capacity,omitempty"`
	Slots              map[string]SlotOverridePatch `json:"slots,omitempty"`
}

// Validate проверяет патч против шаблона дня до слияния со счётчиком.
func (p DayOverridePatch) Validate(tpl WeekdayTemplate) []error {
	var errs []error
	if p.Closed != nil && p.ClearClosed {
		errs = append(errs, fmt.Errorf("%w: closed and clear_closed are mutually exclusive", ErrValidation))
	}
	if p.DailyCapacity != nil && p.ClearDailyCapacity {
		errs = append(errs, fmt.Errorf("%w: daily_capacity and clear_daily_capacity are mutually exclusive", ErrValidation))
	}
	if p.DailyCapacity != nil && *p.DailyCapacity < 0 {
		errs = append(errs, fmt.Errorf("%w: daily_capacity must be non-negative", ErrValidation))
	}
	for id, slot := range p.Slots {
		if _, ok := tpl.Slot(id); !ok {
			errs = append(errs, fmt.Errorf("%w: slot %q is not defined for this weekday", ErrSlotNotFound, id))
			continue
		}
		if slot.Capacity != nil && *slot.Capacity < 0 {
			errs = append(errs, fmt.Errorf("%w: slot %q capacity must be non-negative", ErrValidation, id))
		}
		if slot.Label != nil && strings.TrimSpace(*slot.Label) == "" {
			errs = append(errs, fmt.Errorf("%w: slot %q label must not be empty", ErrValidation, id))
		}
	}
	return errs
}

// Apply возвращает копию счётчика с применённым патчем. Счётчики бронирований не трогаются.
func (p DayOverridePatch) Apply(counter DayCounter) DayCounter {
	out := counter.Clone()
	switch {
	case p.ClearClosed:
		out.OverrideClosed = nil
	case p.Closed != nil:
		out.OverrideClosed = cloneBool(p.Closed)
	}
	switch {
	case p.ClearDailyCapacity:
		out.OverrideDailyCapacity = nil
	case p.DailyCapacity != nil:
		out.OverrideDailyCapacity = cloneInt(p.DailyCapacity)
	}
	for id, patch := range p.Slots {
		slot := out.Slots[id]
		if patch.Capacity != nil {
			slot.CapacitySnapshot = cloneInt(patch.Capacity)
		}
		if patch.Enabled != nil {
			slot.EnabledSnapshot = cloneBool(patch.Enabled)
		}
		if patch.Label != nil {
			label := strings.TrimSpace(*patch.Label)
			slot.LabelOverride = &label
		}
		out.Slots[id] = slot
	}
	return out
}

// DayCounterCorrection: корректирующее действие администратора над счётчиками бронирований.
type DayCounterCorrection struct {
	DailyBooked *int           `json:"daily_booked,omitempty"`
	SlotBooked  map[string]int `json:"slot_booked,omitempty"`
	Reason      string         `json:"reason"`
}

// Validate проверяет корректировку.
func (c DayCounterCorrection) Validate() []error {
	var errs []error
	if strings.TrimSpace(c.Reason) == "" {
		errs = append(errs, fmt.Errorf("%w: correction reason is required", ErrValidation))
	}
	if c.DailyBooked != nil && *c.DailyBooked < 0 {
		errs = append(errs, fmt.Errorf("%w: daily_booked must be non-negative", ErrValidation))
	}
	for id, booked := range c.SlotBooked {
		if booked < 0 {
			errs = append(errs, fmt.Errorf("%w: slot %q booked must be non-negative", ErrValidation, id))
		}
	}
	return errs
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

func cloneBool(v *bool) *bool {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}
