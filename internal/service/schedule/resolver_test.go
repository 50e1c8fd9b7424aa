package schedule_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/dms/internal/domain"
	"github.com/vladislavdragonenkov/dms/internal/service/schedule"
)

const (
	friday  = "2026-10-16"
	sunday  = "2026-10-18"
	monday  = "2026-10-19"
	tuesday = "2026-10-20"
)

var saoPaulo = mustLocation("America/Sao_Paulo")

func mustLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// fridayMorning задаёт «сейчас» во всех тестах, пятница 2026-10-16 10:00 по Сан-Паулу.
func fridayMorning() time.Time {
	return time.Date(2026, 10, 16, 10, 0, 0, 0, saoPaulo)
}

func testConfig() domain.DeliveryConfig {
	weekdays := make(map[string]domain.WeekdayTemplate, 7)
	for _, key := range domain.WeekdayKeys() {
		weekdays[key] = domain.WeekdayTemplate{
			Open:          key != "sun",
			DailyCapacity: 20,
			Slots: []domain.SlotConfig{
				{ID: "morning", Label: "Manhã", Start: "08:00", End: "12:00", Capacity: 10, Enabled: true},
				{ID: "afternoon", Label: "Tarde", Start: "13:00", End: "17:00", Capacity: 10, Enabled: true},
			},
		}
	}
	return domain.DeliveryConfig{
		Timezone:       "America/Sao_Paulo",
		MaxAdvanceDays: 30,
		Modes: map[domain.Mode]domain.ModeConfig{
			domain.ModeDelivery: {Enabled: true, Weekdays: weekdays},
			domain.ModePickup:   {Enabled: false, Weekdays: weekdays},
		},
	}
}

func boolPtr(v bool) *bool { return &v }
func intPtr(v int) *int    { return &v }

func resolveOne(t *testing.T, cfg domain.DeliveryConfig, counter *domain.DayCounter, date string) schedule.DayAvailability {
	t.Helper()
	counters := map[string]domain.DayCounter{}
	if counter != nil {
		counters[date] = *counter
	}
	days, err := schedule.Resolve(cfg, counters, date, 1, domain.ModeDelivery, fridayMorning())
	require.NoError(t, err)
	require.Len(t, days, 1)
	return days[0]
}

func TestResolve_MondayWithoutBookings(t *testing.T) {
	day := resolveOne(t, testConfig(), nil, monday)

	assert.True(t, day.Open)
	assert.Equal(t, "mon", day.Weekday)
	assert.Equal(t, 20, day.DailyCapacity)
	assert.Zero(t, day.DailyBooked)
	morning, ok := day.Slot("morning")
	require.True(t, ok)
	assert.Equal(t, 10, morning.Available)
	assert.True(t, morning.Enabled)
}

func TestResolve_OverrideClosesOpenTuesday(t *testing.T) {
	counter := domain.NewDayCounter(tuesday, domain.ModeDelivery)
	counter.OverrideClosed = boolPtr(true)

	day := resolveOne(t, testConfig(), &counter, tuesday)
	assert.False(t, day.Open)
	assert.Equal(t, schedule.ReasonClosedByOverride, day.Reason)
	assert.Zero(t, day.DailyCapacity)
	for _, slot := range day.Slots {
		assert.False(t, slot.Enabled)
	}
}

func TestResolve_ClosedDates(t *testing.T) {
	cfg := testConfig()
	cfg.ClosedDates = []string{monday, tuesday}

	t.Run("blackout without override", func(t *testing.T) {
		days, err := schedule.Resolve(cfg, nil, monday, 2, domain.ModeDelivery, fridayMorning())
		require.NoError(t, err)
		for _, day := range days {
			assert.False(t, day.Open, day.Date)
			assert.Equal(t, schedule.ReasonClosedDate, day.Reason)
		}
	})

	t.Run("override re-opens blackout", func(t *testing.T) {
		counter := domain.NewDayCounter(monday, domain.ModeDelivery)
		counter.OverrideClosed = boolPtr(false)
		day := resolveOne(t, cfg, &counter, monday)
		assert.True(t, day.Open)
		assert.Empty(t, day.Reason)
	})
}

func TestResolve_PastDateBeatsOverride(t *testing.T) {
	counter := domain.NewDayCounter("2026-10-15", domain.ModeDelivery)
	counter.OverrideClosed = boolPtr(false)

	day := resolveOne(t, testConfig(), &counter, "2026-10-15")
	assert.False(t, day.Open)
	assert.Equal(t, schedule.ReasonPastDate, day.Reason)
}

func TestResolve_TodayIsNotPast(t *testing.T) {
	day := resolveOne(t, testConfig(), nil, friday)
	assert.True(t, day.Open)
}

func TestResolve_WeekdayClosedAndOverrideReopen(t *testing.T) {
	day := resolveOne(t, testConfig(), nil, sunday)
	assert.False(t, day.Open)
	assert.Equal(t, schedule.ReasonWeekdayClosed, day.Reason)
	assert.Zero(t, day.DailyCapacity, "closed weekday resolves to zero capacity")

	counter := domain.NewDayCounter(sunday, domain.ModeDelivery)
	counter.OverrideClosed = boolPtr(false)
	day = resolveOne(t, testConfig(), &counter, sunday)
	assert.True(t, day.Open)
	assert.Equal(t, 20, day.DailyCapacity)
}

func TestResolve_MissingTemplate(t *testing.T) {
	cfg := testConfig()
	delete(cfg.Modes[domain.ModeDelivery].Weekdays, "mon")

	day := resolveOne(t, cfg, nil, monday)
	assert.False(t, day.Open)
	assert.Equal(t, schedule.ReasonNoTemplate, day.Reason)
}

func TestResolve_DisabledModeIsEmpty(t *testing.T) {
	days, err := schedule.Resolve(testConfig(), nil, monday, 7, domain.ModePickup, fridayMorning())
	require.NoError(t, err)
	assert.Empty(t, days)
}

func TestResolve_InvalidRange(t *testing.T) {
	_, err := schedule.Resolve(testConfig(), nil, "19/10/2026", 1, domain.ModeDelivery, fridayMorning())
	require.ErrorIs(t, err, domain.ErrValidation)
	_, err = schedule.Resolve(testConfig(), nil, monday, 0, domain.ModeDelivery, fridayMorning())
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestResolve_CountersAndSnapshots(t *testing.T) {
	tpl := testConfig().Modes[domain.ModeDelivery].Weekdays["mon"]
	counter := domain.SeedDayCounter(monday, domain.ModeDelivery, tpl)
	for i := 0; i < 4; i++ {
		counter.Book("morning")
	}
	label := "Manhã cedo"
	morning := counter.Slots["morning"]
	morning.CapacitySnapshot = intPtr(4)
	morning.LabelOverride = &label
	counter.Slots["morning"] = morning
	afternoon := counter.Slots["afternoon"]
	afternoon.EnabledSnapshot = boolPtr(false)
	counter.Slots["afternoon"] = afternoon

	day := resolveOne(t, testConfig(), &counter, monday)
	require.True(t, day.Open)
	assert.Equal(t, 4, day.DailyBooked)

	m, _ := day.Slot("morning")
	assert.Equal(t, "Manhã cedo", m.Label)
	assert.Zero(t, m.Available)
	assert.False(t, m.Enabled)
	assert.Equal(t, schedule.ReasonSlotFull, m.Reason)

	a, _ := day.Slot("afternoon")
	assert.Equal(t, 10, a.Available)
	assert.False(t, a.Enabled)
	assert.Equal(t, schedule.ReasonSlotDisabled, a.Reason)
}

func TestResolve_DailyCapacityOverride(t *testing.T) {
	counter := domain.NewDayCounter(monday, domain.ModeDelivery)
	counter.OverrideDailyCapacity = intPtr(2)
	counter.Book("morning")
	counter.Book("afternoon")

	day := resolveOne(t, testConfig(), &counter, monday)
	assert.True(t, day.Open)
	assert.Equal(t, 2, day.DailyCapacity)
	for _, slot := range day.Slots {
		assert.False(t, slot.Enabled, "day is full")
		assert.Equal(t, schedule.ReasonDayFull, slot.Reason)
	}
}

func TestResolve_MalformedOverrideDegradesOnlyThatDay(t *testing.T) {
	counter := domain.NewDayCounter(monday, domain.ModeDelivery)
	counter.OverrideDailyCapacity = intPtr(-5)

	days, err := schedule.Resolve(testConfig(), map[string]domain.DayCounter{monday: counter}, monday, 2, domain.ModeDelivery, fridayMorning())
	require.NoError(t, err)
	require.Len(t, days, 2)
	assert.False(t, days[0].Open)
	assert.Equal(t, schedule.ReasonInvalidOverride, days[0].Reason)
	assert.True(t, days[1].Open)
}

func TestResolve_InvalidTimezoneClosesDays(t *testing.T) {
	cfg := testConfig()
	cfg.Timezone = "Mars/Olympus_Mons"
	counter := domain.NewDayCounter(monday, domain.ModeDelivery)
	counter.OverrideClosed = boolPtr(false)

	days, err := schedule.Resolve(cfg, map[string]domain.DayCounter{monday: counter}, monday, 3, domain.ModeDelivery, fridayMorning())
	require.NoError(t, err)
	require.Len(t, days, 3)
	for _, day := range days {
		assert.False(t, day.Open, day.Date)
		assert.Equal(t, schedule.ReasonInvalidTimezone, day.Reason, day.Date)
		assert.Zero(t, day.DailyCapacity, day.Date)
	}
	assert.Equal(t, "mon", days[0].Weekday)

	day := schedule.ResolveDay(cfg, nil, monday, domain.ModeDelivery, fridayMorning())
	_, err = schedule.CheckReservation(day, "morning")
	require.ErrorIs(t, err, domain.ErrSlotClosed)
}

func TestResolve_DayBeforeCutoff(t *testing.T) {
	cfg := testConfig()
	cfg.Cutoff = domain.CutoffPolicy{Kind: domain.CutoffDayBeforeAt, At: "09:00"}

	// Приём на субботу закрылся в пятницу в 09:00, а сейчас пятница 10:00.
	day := resolveOne(t, cfg, nil, "2026-10-17")
	assert.False(t, day.Open)
	assert.Equal(t, schedule.ReasonCutoffPassed, day.Reason)

	day = resolveOne(t, cfg, nil, monday)
	assert.True(t, day.Open)

	counter := domain.NewDayCounter("2026-10-17", domain.ModeDelivery)
	counter.OverrideClosed = boolPtr(false)
	day = resolveOne(t, cfg, &counter, "2026-10-17")
	assert.True(t, day.Open, "explicit override wins over day-before cutoff")
}

func TestResolve_HoursBeforeSlotStart(t *testing.T) {
	cfg := testConfig()
	cfg.Cutoff = domain.CutoffPolicy{Kind: domain.CutoffHoursBeforeSlotStart, Hours: 2}

	// Сейчас 10:00: утренний слот (08:00) уже недоступен, дневной (13:00) ещё открыт до 11:00.
	day := resolveOne(t, cfg, nil, friday)
	require.True(t, day.Open)
	morning, _ := day.Slot("morning")
	assert.False(t, morning.Enabled)
	assert.Equal(t, schedule.ReasonCutoffPassed, morning.Reason)
	afternoon, _ := day.Slot("afternoon")
	assert.True(t, afternoon.Enabled)

	counter := domain.NewDayCounter(friday, domain.ModeDelivery)
	counter.OverrideClosed = boolPtr(false)
	day = resolveOne(t, cfg, &counter, friday)
	morning, _ = day.Slot("morning")
	assert.True(t, morning.Enabled, "re-opened day ignores slot cutoff")
}

func TestResolve_BookingWindow(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAdvanceDays = 3

	day := resolveOne(t, cfg, nil, monday)
	assert.True(t, day.Open)
	day = resolveOne(t, cfg, nil, tuesday)
	assert.False(t, day.Open)
	assert.Equal(t, schedule.ReasonBeyondWindow, day.Reason)
}

func TestResolve_BlackoutPropertyAcrossRange(t *testing.T) {
	cfg := testConfig()
	start := fridayMorning()
	for i := 0; i < 28; i += 3 {
		cfg.ClosedDates = append(cfg.ClosedDates, start.AddDate(0, 0, i).Format(domain.DateLayout))
	}

	days, err := schedule.Resolve(cfg, nil, friday, 28, domain.ModeDelivery, fridayMorning())
	require.NoError(t, err)
	require.Len(t, days, 28)
	for _, day := range days {
		if cfg.IsClosedDate(day.Date) {
			assert.False(t, day.Open, day.Date)
		}
		if !day.Open {
			assert.Zero(t, day.DailyCapacity, day.Date)
		}
	}
}

func TestCheckReservation(t *testing.T) {
	tpl := testConfig().Modes[domain.ModeDelivery].Weekdays["mon"]

	t.Run("ok", func(t *testing.T) {
		day := resolveOne(t, testConfig(), nil, monday)
		slot, err := schedule.CheckReservation(day, "morning")
		require.NoError(t, err)
		assert.Equal(t, "Manhã", slot.Label)
	})

	t.Run("unknown slot", func(t *testing.T) {
		day := resolveOne(t, testConfig(), nil, monday)
		_, err := schedule.CheckReservation(day, "night")
		require.ErrorIs(t, err, domain.ErrSlotNotFound)
	})

	t.Run("closed day", func(t *testing.T) {
		day := resolveOne(t, testConfig(), nil, sunday)
		_, err := schedule.CheckReservation(day, "morning")
		require.ErrorIs(t, err, domain.ErrSlotClosed)
	})

	t.Run("slot full", func(t *testing.T) {
		counter := domain.SeedDayCounter(monday, domain.ModeDelivery, tpl)
		for i := 0; i < 10; i++ {
			counter.Book("morning")
		}
		day := resolveOne(t, testConfig(), &counter, monday)
		_, err := schedule.CheckReservation(day, "morning")
		require.ErrorIs(t, err, domain.ErrSlotFull)
	})

	t.Run("slot disabled", func(t *testing.T) {
		counter := domain.SeedDayCounter(monday, domain.ModeDelivery, tpl)
		slot := counter.Slots["afternoon"]
		slot.EnabledSnapshot = boolPtr(false)
		counter.Slots["afternoon"] = slot
		day := resolveOne(t, testConfig(), &counter, monday)
		_, err := schedule.CheckReservation(day, "afternoon")
		require.ErrorIs(t, err, domain.ErrSlotClosed)
	})
}
