package postgres

import (
	"context"
	"time"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

type timelineRepository struct {
	conn
}

func (r *timelineRepository) Append(ctx context.Context, event domain.TimelineEvent) error {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	if event.Occurred.IsZero() {
		event.Occurred = time.Now().UTC()
	}

	if _, err := r.q.ExecContext(ctx, `
		INSERT INTO timeline_events (order_id, type, reason, actor_id, occurred)
		VALUES ($1,$2,$3,$4,$5)
	`, event.OrderID, event.Type, event.Reason, event.ActorID, event.Occurred); err != nil {
		return dbError("append timeline event", err)
	}
	return nil
}

func (r *timelineRepository) List(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	rows, err := r.q.QueryContext(ctx, `
		SELECT order_id, type, reason, actor_id, occurred
		FROM timeline_events
		WHERE order_id = $1
		ORDER BY occurred, id
	`, orderID)
	if err != nil {
		return nil, dbError("list timeline events", err)
	}
	defer rows.Close()

	events := make([]domain.TimelineEvent, 0)
	for rows.Next() {
		var event domain.TimelineEvent
		if err := rows.Scan(&event.OrderID, &event.Type, &event.Reason, &event.ActorID, &event.Occurred); err != nil {
			return nil, dbError("scan timeline event", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("iterate timeline events", err)
	}
	return events, nil
}

var _ domain.TimelineRepository = (*timelineRepository)(nil)
