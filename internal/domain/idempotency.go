package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// AnonymousIdempotencyScope — область ключей для запросов без актора.
const AnonymousIdempotencyScope = "anonymous"

// IdempotencyStatus — стадия обработки запроса с Idempotency-Key.
type IdempotencyStatus string

const (
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	IdempotencyStatusDone       IdempotencyStatus = "done"
	// IdempotencyStatusFailed — запрос завершился ответом не из 2xx; ответ
	// воспроизводится как есть.
	IdempotencyStatusFailed IdempotencyStatus = "failed"
)

// Valid сообщает, что статус известен.
func (s IdempotencyStatus) Valid() bool {
	switch s {
	case IdempotencyStatusProcessing, IdempotencyStatusDone, IdempotencyStatusFailed:
		return true
	default:
		return false
	}
}

// IdempotencyRecord — сохранённый ответ на оформление или оплату.
// Key уже содержит область актора, см. ScopedIdempotencyKey.
type IdempotencyRecord struct {
	Key          string
	RequestHash  string
	ResponseBody []byte
	HTTPStatus   int
	Status       IdempotencyStatus
	TTLAt        time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Scope возвращает актора и клиентский ключ, из которых собран Key.
// Для ключей вне формата ScopedIdempotencyKey ok=false.
func (r IdempotencyRecord) Scope() (actorID, clientKey string, ok bool) {
	return ParseScopedIdempotencyKey(r.Key)
}

// ScopedIdempotencyKey привязывает клиентский ключ к актору, чтобы одинаковые
// ключи разных покупателей не пересекались. Длина актора записывается
// префиксом, поэтому разделители внутри идентификаторов не мешают разбору.
func ScopedIdempotencyKey(actorID, clientKey string) string {
	if actorID == "" {
		actorID = AnonymousIdempotencyScope
	}
	return fmt.Sprintf("%d:%s:%s", len(actorID), actorID, clientKey)
}

// ParseScopedIdempotencyKey разбирает ключ, собранный ScopedIdempotencyKey.
func ParseScopedIdempotencyKey(key string) (actorID, clientKey string, ok bool) {
	lenPart, rest, found := strings.Cut(key, ":")
	if !found {
		return "", "", false
	}
	n, err := strconv.Atoi(lenPart)
	if err != nil || n <= 0 || len(rest) < n+1 || rest[n] != ':' {
		return "", "", false
	}
	return rest[:n], rest[n+1:], true
}
