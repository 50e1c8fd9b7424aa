package schedule

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/dms/internal/domain"
)

// MaxRangeDays ограничивает длину запрашиваемого диапазона.
const MaxRangeDays = 62

// AvailabilityService обслуживает read path, конфигурация и счётчики читаются на каждый запрос.
type AvailabilityService struct {
	config   domain.ConfigReader
	counters domain.DayCounterReader
	now      func() time.Time
	logger   *log.Entry
}

// NewAvailabilityService создаёт сервис доступности.
func NewAvailabilityService(config domain.ConfigReader, counters domain.DayCounterReader, now func() time.Time, logger *log.Entry) *AvailabilityService {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = log.New().WithField("component", "availability")
	}
	return &AvailabilityService{config: config, counters: counters, now: now, logger: logger}
}

// Get возвращает доступность на numDays дней начиная со start.
// Пустой start означает «сегодня» в часовом поясе конфигурации.
// Ошибка возвращается только если конфигурацию или счётчики нельзя прочитать, либо запрос некорректен.
func (s *AvailabilityService) Get(ctx context.Context, start string, numDays int, mode domain.Mode) ([]DayAvailability, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: unknown mode %q", domain.ErrValidation, mode)
	}
	if numDays <= 0 || numDays > MaxRangeDays {
		return nil, fmt.Errorf("%w: days must be between 1 and %d", domain.ErrValidation, MaxRangeDays)
	}

	cfg, err := s.config.LoadConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load delivery config: %w", err)
	}
	now := s.now()

	if start == "" {
		loc, err := cfg.Location()
		if err != nil {
			loc = time.UTC
		}
		start = now.In(loc).Format(domain.DateLayout)
	}
	first, err := domain.ParseDate(start)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	last := first.AddDate(0, 0, numDays-1).Format(domain.DateLayout)

	counters, err := s.counters.ListDayCounters(ctx, mode, start, last)
	if err != nil {
		return nil, fmt.Errorf("list day counters: %w", err)
	}

	days, err := Resolve(cfg, counters, start, numDays, mode, now)
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(log.Fields{
		"mode":  mode,
		"start": start,
		"days":  numDays,
	}).Debug("availability resolved")
	return days, nil
}
