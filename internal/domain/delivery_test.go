package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/dms/internal/domain"
)

func weeklyConfig() domain.DeliveryConfig {
	weekdays := make(map[string]domain.WeekdayTemplate, 7)
	for _, key := range domain.WeekdayKeys() {
		weekdays[key] = domain.WeekdayTemplate{
			Open:          key != "sun",
			DailyCapacity: 20,
			Slots: []domain.SlotConfig{
				{ID: "morning", Label: "08:00-12:00", Start: "08:00", End: "12:00", Capacity: 10, Enabled: true},
				{ID: "afternoon", Label: "13:00-17:00", Start: "13:00", End: "17:00", Capacity: 10, Enabled: true},
			},
		}
	}
	return domain.DeliveryConfig{
		Timezone:       "America/Sao_Paulo",
		MaxAdvanceDays: 30,
		Modes: map[domain.Mode]domain.ModeConfig{
			domain.ModeDelivery: {Enabled: true, Weekdays: weekdays},
		},
	}
}

func TestDeliveryConfigValidate_Ok(t *testing.T) {
	cfg := weeklyConfig()
	cfg.Cutoff = domain.CutoffPolicy{Kind: domain.CutoffDayBeforeAt, At: "18:00"}
	cfg.ClosedDates = []string{"2026-12-25"}
	require.Empty(t, cfg.Validate())
}

func TestDeliveryConfigValidate_Errors(t *testing.T) {
	cases := []struct {
		name string
		mut  func(c *domain.DeliveryConfig)
	}{
		{
			name: "missing weekday",
			mut: func(c *domain.DeliveryConfig) {
				delete(c.Modes[domain.ModeDelivery].Weekdays, "wed")
			},
		},
		{
			name: "unknown timezone",
			mut: func(c *domain.DeliveryConfig) {
				c.Timezone = "Mars/Olympus"
			},
		},
		{
			name: "bad cutoff time",
			mut: func(c *domain.DeliveryConfig) {
				c.Cutoff = domain.CutoffPolicy{Kind: domain.CutoffDayBeforeAt, At: "25:99"}
			},
		},
		{
			name: "unknown cutoff kind",
			mut: func(c *domain.DeliveryConfig) {
				c.Cutoff = domain.CutoffPolicy{Kind: "whenever"}
			},
		},
		{
			name: "bad closed date",
			mut: func(c *domain.DeliveryConfig) {
				c.ClosedDates = []string{"25/12/2026"}
			},
		},
		{
			name: "duplicate slot",
			mut: func(c *domain.DeliveryConfig) {
				tpl := c.Modes[domain.ModeDelivery].Weekdays["mon"]
				tpl.Slots = append(tpl.Slots, tpl.Slots[0])
				c.Modes[domain.ModeDelivery].Weekdays["mon"] = tpl
			},
		},
		{
			name: "negative slot capacity",
			mut: func(c *domain.DeliveryConfig) {
				tpl := c.Modes[domain.ModeDelivery].Weekdays["tue"]
				tpl.Slots[0].Capacity = -1
				c.Modes[domain.ModeDelivery].Weekdays["tue"] = tpl
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := weeklyConfig()
			tc.mut(&cfg)
			errs := cfg.Validate()
			require.NotEmpty(t, errs)
			assert.ErrorIs(t, errs[0], domain.ErrValidation)
		})
	}
}

func TestWeekdayKeyUsesSundayZero(t *testing.T) {
	assert.Equal(t, "sun", domain.WeekdayKey(time.Sunday))
	assert.Equal(t, "mon", domain.WeekdayKey(time.Monday))
	assert.Equal(t, "sat", domain.WeekdayKey(time.Saturday))

	// 2026-10-19: понедельник.
	date, err := domain.ParseDate("2026-10-19")
	require.NoError(t, err)
	assert.Equal(t, "mon", domain.WeekdayKey(date.Weekday()))
}

func TestDeliveryConfigLocation(t *testing.T) {
	loc, err := domain.DeliveryConfig{}.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)

	loc, err = weeklyConfig().Location()
	require.NoError(t, err)
	assert.Equal(t, "America/Sao_Paulo", loc.String())
}
