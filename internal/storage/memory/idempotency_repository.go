package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

const defaultIdempotencyTTL = 24 * time.Hour

// IdempotencyRepository хранит ключи идемпотентности HTTP API в памяти.
// Ключи живут отдельно от Store: их запись не входит в транзакции ядра.
// Просроченный ключ считается отсутствующим ещё до удаления очисткой.
type IdempotencyRepository struct {
	mu   sync.Mutex
	keys map[string]domain.IdempotencyRecord
	now  func() time.Time
}

// NewIdempotencyRepository создаёт пустое хранилище ключей.
func NewIdempotencyRepository() *IdempotencyRepository {
	return NewIdempotencyRepositoryWithClock(nil)
}

// NewIdempotencyRepositoryWithClock позволяет подменить часы в тестах.
func NewIdempotencyRepositoryWithClock(now func() time.Time) *IdempotencyRepository {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &IdempotencyRepository{
		keys: make(map[string]domain.IdempotencyRecord),
		now:  now,
	}
}

func (r *IdempotencyRepository) CreateProcessing(_ context.Context, key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	key, requestHash = strings.TrimSpace(key), strings.TrimSpace(requestHash)
	switch {
	case key == "":
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	case requestHash == "":
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if ttlAt.IsZero() {
		ttlAt = now.Add(defaultIdempotencyTTL)
	}

	if existing, ok := r.live(key, now); ok {
		if existing.RequestHash != requestHash {
			return copyRecord(existing), domain.ErrIdempotencyHashMismatch
		}
		return copyRecord(existing), domain.ErrIdempotencyKeyAlreadyExists
	}

	record := domain.IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      domain.IdempotencyStatusProcessing,
		TTLAt:       ttlAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	r.keys[key] = record
	return copyRecord(record), nil
}

func (r *IdempotencyRepository) Get(_ context.Context, key string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.live(key, r.now())
	if !ok {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	return copyRecord(record), nil
}

func (r *IdempotencyRepository) MarkDone(_ context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.finish(key, domain.IdempotencyStatusDone, responseBody, httpStatus)
}

func (r *IdempotencyRepository) MarkFailed(_ context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.finish(key, domain.IdempotencyStatusFailed, responseBody, httpStatus)
}

// DeleteExpired удаляет до limit ключей с TTL не позже before, самые старые первыми.
func (r *IdempotencyRepository) DeleteExpired(_ context.Context, before time.Time, limit int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if before.IsZero() {
		before = r.now()
	}

	expired := make([]domain.IdempotencyRecord, 0)
	for _, record := range r.keys {
		if !record.TTLAt.After(before) {
			expired = append(expired, record)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].TTLAt.Before(expired[j].TTLAt) })
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}

	for _, record := range expired {
		delete(r.keys, record.Key)
	}
	return len(expired), nil
}

// Len возвращает число хранимых ключей, включая просроченные.
func (r *IdempotencyRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.keys)
}

func (r *IdempotencyRepository) finish(key string, status domain.IdempotencyStatus, responseBody []byte, httpStatus int) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.live(key, r.now())
	if !ok {
		return domain.ErrIdempotencyKeyNotFound
	}
	record.Status = status
	record.ResponseBody = append([]byte(nil), responseBody...)
	record.HTTPStatus = httpStatus
	record.UpdatedAt = r.now()
	r.keys[key] = record
	return nil
}

// live возвращает непросроченную запись. Вызывается под r.mu.
func (r *IdempotencyRepository) live(key string, now time.Time) (domain.IdempotencyRecord, bool) {
	record, ok := r.keys[key]
	if !ok || !record.TTLAt.After(now) {
		return domain.IdempotencyRecord{}, false
	}
	return record, true
}

func copyRecord(src domain.IdempotencyRecord) domain.IdempotencyRecord {
	dst := src
	dst.ResponseBody = append([]byte(nil), src.ResponseBody...)
	return dst
}

var _ domain.IdempotencyRepository = (*IdempotencyRepository)(nil)
