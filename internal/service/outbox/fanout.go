package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

// Target — именованный получатель событий.
type Target struct {
	Name      string
	Publisher domain.OutboxPublisher
}

// FanoutPublisher доставляет каждое сообщение всем получателям. Получатели,
// уже принявшие сообщение, при повторной попытке пропускаются, поэтому сбой
// Kafka не приводит к повторному оповещению об остатке.
type FanoutPublisher struct {
	targets []Target

	mu        sync.Mutex
	delivered map[string]map[string]bool
}

// NewFanoutPublisher создаёт publisher. Получатели с nil Publisher пропускаются.
func NewFanoutPublisher(targets ...Target) *FanoutPublisher {
	active := make([]Target, 0, len(targets))
	for _, t := range targets {
		if t.Publisher != nil {
			active = append(active, t)
		}
	}
	return &FanoutPublisher{
		targets:   active,
		delivered: make(map[string]map[string]bool),
	}
}

// Targets возвращает имена активных получателей.
func (f *FanoutPublisher) Targets() []string {
	names := make([]string, 0, len(f.targets))
	for _, t := range f.targets {
		names = append(names, t.Name)
	}
	return names
}

func (f *FanoutPublisher) Publish(ctx context.Context, event domain.OutboxMessage) error {
	var errs []error
	for _, t := range f.targets {
		if f.isDelivered(event.ID, t.Name) {
			continue
		}
		if err := t.Publisher.Publish(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t.Name, err))
			continue
		}
		f.markDelivered(event.ID, t.Name)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	f.Forget(event.ID)
	return nil
}

// Forget сбрасывает сведения о частичной доставке сообщения.
func (f *FanoutPublisher) Forget(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.delivered, id)
}

func (f *FanoutPublisher) isDelivered(id, target string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.delivered[id][target]
}

func (f *FanoutPublisher) markDelivered(id, target string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	done, ok := f.delivered[id]
	if !ok {
		done = make(map[string]bool, len(f.targets))
		f.delivered[id] = done
	}
	done[target] = true
}

var _ domain.OutboxPublisher = (*FanoutPublisher)(nil)
