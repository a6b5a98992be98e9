package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

func setupCache(t *testing.T, opts ...Option) (*CartCache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewCartCache(client, opts...), mr
}

func sampleCart() domain.Cart {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	cart := domain.NewCart("cart-1", "buyer-1", now)
	cart.Add("p-1", 2, 150, now)
	cart.Add("p-2", 1, 1000, now)
	return cart
}

func TestCartCache_SetGetRoundTrip(t *testing.T) {
	cache, mr := setupCache(t)
	ctx := context.Background()

	cart := sampleCart()
	require.NoError(t, cache.Set(ctx, cart))
	assert.True(t, mr.Exists("cart:buyer-1"))

	got, err := cache.Get(ctx, "buyer-1")
	require.NoError(t, err)
	assert.Equal(t, cart.ID, got.ID)
	assert.Equal(t, int64(1300), got.TotalMinor)
	require.Len(t, got.Items, 2)
	assert.Equal(t, "p-1", got.Items[0].ProductID)
	assert.Equal(t, int64(300), got.Items[0].LineTotalMinor)
	assert.True(t, cart.UpdatedAt.Equal(got.UpdatedAt))
}

func TestCartCache_Miss(t *testing.T) {
	cache, _ := setupCache(t)

	_, err := cache.Get(context.Background(), "nobody")
	assert.ErrorIs(t, err, domain.ErrCacheMiss)
}

func TestCartCache_InvalidJSON(t *testing.T) {
	cache, mr := setupCache(t)
	require.NoError(t, mr.Set("cart:buyer-1", "{broken"))

	_, err := cache.Get(context.Background(), "buyer-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrCacheMiss)
}

func TestCartCache_TTLWithJitter(t *testing.T) {
	cache, mr := setupCache(t, WithTTL(10*time.Minute))
	require.NoError(t, cache.Set(context.Background(), sampleCart()))

	ttl := mr.TTL("cart:buyer-1")
	assert.GreaterOrEqual(t, ttl, 10*time.Minute)
	assert.Less(t, ttl, 10*time.Minute+maxJitter)

	mr.FastForward(16 * time.Minute)
	_, err := cache.Get(context.Background(), "buyer-1")
	assert.ErrorIs(t, err, domain.ErrCacheMiss)
}

func TestCartCache_Delete(t *testing.T) {
	cache, mr := setupCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, sampleCart()))
	require.NoError(t, cache.Delete(ctx, "buyer-1"))
	assert.False(t, mr.Exists("cart:buyer-1"))

	// удаление отсутствующего ключа не ошибка
	require.NoError(t, cache.Delete(ctx, "buyer-1"))
}

func TestCartCache_ServerDown(t *testing.T) {
	cache, mr := setupCache(t)
	mr.Close()

	_, err := cache.Get(context.Background(), "buyer-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrCacheMiss)
	assert.Error(t, cache.Ping(context.Background()))
}
