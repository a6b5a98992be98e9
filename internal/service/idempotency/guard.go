// Package idempotency хранит результаты запросов с Idempotency-Key и удаляет
// просроченные ключи.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

const defaultTTL = 24 * time.Hour

// ErrInProgress — запрос с тем же ключом ещё обрабатывается.
var ErrInProgress = errors.New("request with the same idempotency key is already processing")

// Response — сохраняемый ответ на запрос.
type Response struct {
	Status int
	Body   []byte
}

// Guard выполняет обработчик не более одного раза на ключ и воспроизводит
// сохранённый ответ при повторе. Ответ сохраняется и для неуспешных запросов,
// поэтому новая попытка требует нового ключа.
type Guard struct {
	repo   domain.IdempotencyRepository
	ttl    time.Duration
	logger *log.Entry
	now    func() time.Time
}

// GuardOption настраивает Guard.
type GuardOption func(*Guard)

// WithTTL задаёт срок хранения ключа.
func WithTTL(ttl time.Duration) GuardOption {
	return func(g *Guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithGuardLogger задаёт логгер.
func WithGuardLogger(logger *log.Entry) GuardOption {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) GuardOption {
	return func(g *Guard) {
		if now != nil {
			g.now = now
		}
	}
}

// NewGuard создаёт Guard поверх репозитория ключей.
func NewGuard(repo domain.IdempotencyRepository, opts ...GuardOption) *Guard {
	g := &Guard{
		repo:   repo,
		ttl:    defaultTTL,
		logger: log.WithField("component", "idempotency"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// RequestHash строит отпечаток запроса из его частей.
func RequestHash(parts ...[]byte) string {
	h := sha256.New()
	for _, part := range parts {
		_, _ = fmt.Fprintf(h, "%d:", len(part))
		_, _ = h.Write(part)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Execute вызывает handler для нового ключа актора или возвращает сохранённый
// ответ. Ключ хранится в области актора (domain.ScopedIdempotencyKey).
// replayed=true означает, что handler не вызывался.
func (g *Guard) Execute(ctx context.Context, actorID, clientKey, requestHash string, handler func(context.Context) Response) (resp Response, replayed bool, err error) {
	key := domain.ScopedIdempotencyKey(actorID, clientKey)
	record, err := g.repo.CreateProcessing(ctx, key, requestHash, g.now().Add(g.ttl))
	if err != nil {
		return g.replay(err, record)
	}

	resp = handler(ctx)
	if resp.Status >= 200 && resp.Status < 300 {
		err = g.repo.MarkDone(ctx, key, resp.Body, resp.Status)
	} else {
		err = g.repo.MarkFailed(ctx, key, resp.Body, resp.Status)
	}
	if err != nil {
		g.logger.WithError(err).WithFields(log.Fields{
			"idempotency_key": clientKey,
			"actor_id":        actorID,
		}).Warn("failed to store idempotent response")
	}
	return resp, false, nil
}

func (g *Guard) replay(createErr error, record domain.IdempotencyRecord) (Response, bool, error) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		return Response{}, false, createErr
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		switch record.Status {
		case domain.IdempotencyStatusDone, domain.IdempotencyStatusFailed:
			return Response{Status: record.HTTPStatus, Body: record.ResponseBody}, true, nil
		case domain.IdempotencyStatusProcessing:
			return Response{}, false, ErrInProgress
		default:
			return Response{}, false, fmt.Errorf("unknown idempotency record status %q", record.Status)
		}
	default:
		return Response{}, false, fmt.Errorf("create idempotency record: %w", createErr)
	}
}
