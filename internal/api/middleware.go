package api

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/service/idempotency"
)

// Заголовки запроса.
const (
	HeaderActorID        = "X-Actor-ID"
	HeaderActorRole      = "X-Actor-Role"
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderReplayed       = "Idempotent-Replayed"
	HeaderRequestID      = "X-Request-ID"
)

type ctxKey int

const (
	actorKey ctxKey = iota
	loggerKey
)

// actorMiddleware кладёт в контекст актора из заголовков слоя идентификации.
// Запрос без X-Actor-ID идёт дальше анонимно, права проверяют сервисы.
func actorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := domain.Actor{
			ID:   strings.TrimSpace(r.Header.Get(HeaderActorID)),
			Role: domain.Role(strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderActorRole)))),
		}
		if actor.ID != "" && actor.Role == "" {
			actor.Role = domain.RoleBuyer
		}
		if actor.Role != "" && !actor.Role.Valid() {
			respondError(w, http.StatusBadRequest, CodeInvalidActor, "unknown actor role "+string(actor.Role), nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey, actor)))
	})
}

func actorFrom(ctx context.Context) domain.Actor {
	actor, _ := ctx.Value(actorKey).(domain.Actor)
	return actor
}

// requestLogger пишет строку лога на запрос и кладёт логгер запроса в контекст.
func requestLogger(base *log.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			fields := log.Fields{"method": r.Method, "path": r.URL.Path}
			if id := middleware.GetReqID(r.Context()); id != "" {
				fields["request_id"] = id
				w.Header().Set(HeaderRequestID, id)
			}
			if sc := trace.SpanContextFromContext(r.Context()); sc.IsValid() {
				fields["trace_id"] = sc.TraceID().String()
				fields["span_id"] = sc.SpanID().String()
			}
			logger := base.WithFields(fields)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(context.WithValue(r.Context(), loggerKey, logger)))

			entry := logger.WithFields(log.Fields{
				"status":      ww.Status(),
				"duration_ms": time.Since(start).Milliseconds(),
			})
			if ww.Status() >= http.StatusInternalServerError {
				entry.Warn("request served with error")
				return
			}
			entry.Debug("request served")
		})
	}
}

func (s *Server) loggerFrom(ctx context.Context) *log.Entry {
	if logger, ok := ctx.Value(loggerKey).(*log.Entry); ok {
		return logger
	}
	return s.logger
}

// bufferedWriter собирает ответ, чтобы сохранить его под ключом идемпотентности.
type bufferedWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newBufferedWriter() *bufferedWriter {
	return &bufferedWriter{header: make(http.Header)}
}

func (b *bufferedWriter) Header() http.Header { return b.header }

func (b *bufferedWriter) WriteHeader(status int) {
	if b.status == 0 {
		b.status = status
	}
}

func (b *bufferedWriter) Write(p []byte) (int, error) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	return b.body.Write(p)
}

// idempotent выполняет обработчик не более одного раза на Idempotency-Key.
// Без заголовка запрос обрабатывается как обычно. Отпечаток включает метод,
// путь, актора и тело, поэтому повтор ключа с другим запросом отклоняется.
func (s *Server) idempotent(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
		if key == "" || s.guard == nil {
			next(w, r)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			respondError(w, http.StatusBadRequest, CodeInvalidJSON, "failed to read request body", nil)
			return
		}
		actor := actorFrom(r.Context())
		hash := idempotency.RequestHash([]byte(r.Method), []byte(r.URL.Path), []byte(actor.ID), body)

		resp, replayed, err := s.guard.Execute(r.Context(), actor.ID, key, hash, func(ctx context.Context) idempotency.Response {
			buf := newBufferedWriter()
			req := r.WithContext(ctx)
			req.Body = io.NopCloser(bytes.NewReader(body))
			next(buf, req)
			if buf.status == 0 {
				buf.status = http.StatusOK
			}
			return idempotency.Response{Status: buf.status, Body: buf.body.Bytes()}
		})
		if err != nil {
			respondDomainError(w, s.loggerFrom(r.Context()).WithField("idempotency_key", key), err)
			return
		}

		if replayed {
			w.Header().Set(HeaderReplayed, "true")
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.Status)
		_, _ = w.Write(resp.Body)
	}
}
