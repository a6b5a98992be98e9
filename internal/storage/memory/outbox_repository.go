package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

const (
	outboxStatusPending = "pending"
	outboxStatusSent    = "sent"
	outboxStatusFailed  = "failed"
)

// outboxRecord хранит сообщение и служебные поля для in-memory реализации.
type outboxRecord struct {
	msg        domain.OutboxMessage
	seq        int64
	status     string
	attemptCnt int
	updatedAt  time.Time
}

// outboxRepository — in-memory хранилище для transactional outbox.
type outboxRepository struct {
	scope
}

// Enqueue сохраняет событие со статусом `pending` и возвращает его идентификатор.
func (r *outboxRepository) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	defer r.lock()()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}

	if r.j != nil {
		prevSeq := r.s.outboxSeq
		r.j.push(func() { r.s.outboxSeq = prevSeq })
	}
	r.s.outboxSeq++

	remember(r.scope, r.s.outbox, msg.ID)
	r.s.outbox[msg.ID] = outboxRecord{
		msg:       msg,
		seq:       r.s.outboxSeq,
		status:    outboxStatusPending,
		updatedAt: now,
	}
	return msg, nil
}

// PullPending возвращает до limit сообщений со статусом `pending` в порядке записи.
func (r *outboxRepository) PullPending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	defer r.rlock()()

	if limit <= 0 {
		limit = 100
	}

	pending := r.pending()
	if len(pending) > limit {
		pending = pending[:limit]
	}

	result := make([]domain.OutboxMessage, 0, len(pending))
	for _, rec := range pending {
		result = append(result, rec.msg)
	}
	return result, nil
}

func (r *outboxRepository) Stats(_ context.Context) (domain.OutboxStats, error) {
	defer r.rlock()()

	pending := r.pending()
	stats := domain.OutboxStats{PendingCount: len(pending)}
	if len(pending) > 0 {
		stats.OldestPendingAt = pending[0].msg.CreatedAt
	}
	return stats, nil
}

// MarkSent обновляет статус события после успешной публикации.
func (r *outboxRepository) MarkSent(_ context.Context, id string) error {
	return r.mark(id, outboxStatusSent)
}

// MarkFailed фиксирует ошибку публикации.
func (r *outboxRepository) MarkFailed(_ context.Context, id string) error {
	return r.mark(id, outboxStatusFailed)
}

func (r *outboxRepository) mark(id, status string) error {
	defer r.lock()()

	record, ok := r.s.outbox[id]
	if !ok {
		return domain.ErrOutboxPublish
	}
	remember(r.scope, r.s.outbox, id)
	record.status = status
	record.attemptCnt++
	record.updatedAt = time.Now().UTC()
	r.s.outbox[id] = record
	return nil
}

func (r *outboxRepository) pending() []outboxRecord {
	result := make([]outboxRecord, 0)
	for _, rec := range r.s.outbox {
		if rec.status == outboxStatusPending {
			result = append(result, rec)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].seq < result[j].seq })
	return result
}

var _ domain.OutboxRepository = (*outboxRepository)(nil)
