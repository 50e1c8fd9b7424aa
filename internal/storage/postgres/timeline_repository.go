package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/vladislavdragonenkov/dms/internal/domain"
)

// TimelineRepository читает историю заказа; запись идёт через pgTx.AppendTimeline.
type TimelineRepository struct {
	db *sqlx.DB
}

type timelineRow struct {
	OrderID  string    `db:"order_id"`
	Type     string    `db:"type"`
	Reason   string    `db:"reason"`
	Occurred time.Time `db:"occurred"`
}

func (r *TimelineRepository) List(orderID string) ([]domain.TimelineEvent, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var rows []timelineRow
	if err := r.db.SelectContext(ctx, &rows, `
		SELECT order_id, type, reason, occurred
		FROM timeline_events
		WHERE order_id = $1
		ORDER BY occurred ASC, id ASC
	`, orderID); err != nil {
		return nil, fmt.Errorf("list timeline events: %w", err)
	}

	events := make([]domain.TimelineEvent, 0, len(rows))
	for _, row := range rows {
		events = append(events, domain.TimelineEvent{
			OrderID:  row.OrderID,
			Type:     domain.TimelineEventType(row.Type),
			Reason:   row.Reason,
			Occurred: row.Occurred.UTC(),
		})
	}
	return events, nil
}

var _ domain.TimelineRepository = (*TimelineRepository)(nil)
