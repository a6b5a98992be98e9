package idempotency

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/storage/memory"
)

func TestGuard_ReplaysStoredResponses(t *testing.T) {
	guard := NewGuard(memory.NewIdempotencyRepository())
	ctx := context.Background()
	hash := RequestHash([]byte("POST /checkout"), []byte(`{"address":"Kazan"}`))

	calls := 0
	handler := func(context.Context) Response {
		calls++
		return Response{Status: http.StatusCreated, Body: []byte(`{"id":"ord-1"}`)}
	}

	resp, replayed, err := guard.Execute(ctx, "buyer-1", "key-1", hash, handler)
	require.NoError(t, err)
	require.False(t, replayed)
	require.Equal(t, http.StatusCreated, resp.Status)

	resp, replayed, err = guard.Execute(ctx, "buyer-1", "key-1", hash, handler)
	require.NoError(t, err)
	require.True(t, replayed)
	require.Equal(t, `{"id":"ord-1"}`, string(resp.Body))
	require.Equal(t, 1, calls)

	_, _, err = guard.Execute(ctx, "buyer-1", "key-1", RequestHash([]byte("other")), handler)
	require.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)
}

func TestGuard_ReplaysFailures(t *testing.T) {
	guard := NewGuard(memory.NewIdempotencyRepository())
	ctx := context.Background()

	calls := 0
	handler := func(context.Context) Response {
		calls++
		return Response{Status: http.StatusConflict, Body: []byte(`{"code":"ALREADY_PAID"}`)}
	}

	_, _, err := guard.Execute(ctx, "buyer-1", "key-2", "hash", handler)
	require.NoError(t, err)
	resp, replayed, err := guard.Execute(ctx, "buyer-1", "key-2", "hash", handler)
	require.NoError(t, err)
	require.True(t, replayed)
	require.Equal(t, http.StatusConflict, resp.Status)
	require.Equal(t, 1, calls)
}

func TestGuard_InProgress(t *testing.T) {
	repo := memory.NewIdempotencyRepository()
	guard := NewGuard(repo)
	ctx := context.Background()

	_, _, err := guard.Execute(ctx, "buyer-1", "key-3", "hash", func(ctx context.Context) Response {
		_, _, nestedErr := guard.Execute(ctx, "buyer-1", "key-3", "hash", func(context.Context) Response {
			t.Fatal("nested handler must not run")
			return Response{}
		})
		require.True(t, errors.Is(nestedErr, ErrInProgress))
		return Response{Status: http.StatusOK}
	})
	require.NoError(t, err)

	record, err := repo.Get(ctx, domain.ScopedIdempotencyKey("buyer-1", "key-3"))
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusDone, record.Status)
}

func TestRequestHash_SeparatesParts(t *testing.T) {
	require.NotEqual(t, RequestHash([]byte("ab"), []byte("c")), RequestHash([]byte("a"), []byte("bc")))
	require.Len(t, RequestHash(), 64)
}

func TestGuard_KeysAreScopedPerActor(t *testing.T) {
	repo := memory.NewIdempotencyRepository()
	guard := NewGuard(repo)
	ctx := context.Background()

	calls := 0
	handler := func(context.Context) Response {
		calls++
		return Response{Status: http.StatusCreated, Body: []byte(`{}`)}
	}

	_, replayed, err := guard.Execute(ctx, "buyer-1", "same-key", "hash-1", handler)
	require.NoError(t, err)
	require.False(t, replayed)
	_, replayed, err = guard.Execute(ctx, "buyer-2", "same-key", "hash-2", handler)
	require.NoError(t, err)
	require.False(t, replayed)
	require.Equal(t, 2, calls)

	record, err := repo.Get(ctx, domain.ScopedIdempotencyKey("buyer-2", "same-key"))
	require.NoError(t, err)
	actor, key, ok := record.Scope()
	require.True(t, ok)
	require.Equal(t, "buyer-2", actor)
	require.Equal(t, "same-key", key)
}
