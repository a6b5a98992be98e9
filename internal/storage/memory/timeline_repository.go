package memory

import (
	"context"
	"time"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

// timelineRepository хранит историю заказов в памяти.
type timelineRepository struct {
	scope
}

func (r *timelineRepository) Append(_ context.Context, event domain.TimelineEvent) error {
	if event.OrderID == "" {
		return domain.ErrOrderIDRequired
	}
	if event.Occurred.IsZero() {
		event.Occurred = time.Now().UTC()
	}

	defer r.lock()()

	remember(r.scope, r.s.timeline, event.OrderID)
	events := r.s.timeline[event.OrderID]
	r.s.timeline[event.OrderID] = append(events[:len(events):len(events)], event)
	return nil
}

func (r *timelineRepository) List(_ context.Context, orderID string) ([]domain.TimelineEvent, error) {
	defer r.rlock()()

	events := r.s.timeline[orderID]
	return append([]domain.TimelineEvent(nil), events...), nil
}

var _ domain.TimelineRepository = (*timelineRepository)(nil)
