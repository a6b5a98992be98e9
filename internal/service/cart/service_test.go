package cart

import (
	"context"
	"errors"
	"io"
	"math"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/storage/memory"
)

var (
	buyer   = domain.Actor{ID: "buyer-1", Role: domain.RoleBuyer}
	intrude = domain.Actor{ID: "buyer-2", Role: domain.RoleBuyer}
	admin   = domain.Actor{ID: "admin", Role: domain.RoleAdmin}
)

type fakeCache struct {
	mu      sync.Mutex
	entries map[string]domain.Cart
	getErr  error
	deletes int
	// beforeSet вызывается один раз перед первой записью.
	beforeSet func()
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]domain.Cart)}
}

func (c *fakeCache) Get(_ context.Context, buyerID string) (domain.Cart, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return domain.Cart{}, c.getErr
	}
	cart, ok := c.entries[buyerID]
	if !ok {
		return domain.Cart{}, domain.ErrCacheMiss
	}
	return cart.Clone(), nil
}

func (c *fakeCache) Set(_ context.Context, cart domain.Cart) error {
	c.mu.Lock()
	hook := c.beforeSet
	c.beforeSet = nil
	c.mu.Unlock()
	if hook != nil {
		hook()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cart.BuyerID] = cart.Clone()
	return nil
}

func (c *fakeCache) Delete(_ context.Context, buyerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deletes++
	delete(c.entries, buyerID)
	return nil
}

func quietLogger() *log.Entry {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return logger.WithField("component", "test")
}

func seed(t *testing.T, store *memory.Store, id string, price int64, stock int32) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, store.Repos().Products.Create(context.Background(), domain.Product{
		ID: id, SellerID: "seller-1", Name: id, PriceMinor: price,
		StockQuantity: stock, MinStockLevel: domain.DefaultMinStockLevel, CreatedAt: now, UpdatedAt: now,
	}))
}

func setup(t *testing.T) (*Service, *memory.Store, *fakeCache) {
	t.Helper()
	store := memory.NewStore()
	cache := newFakeCache()
	seed(t, store, "p-1", 100, 5)
	seed(t, store, "p-2", 50, 10)
	return NewService(store, WithCache(cache), WithLogger(quietLogger())), store, cache
}

func TestAddItem_MergesLinesAndRecomputesTotal(t *testing.T) {
	svc, _, _ := setup(t)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, buyer, "buyer-1", "p-1", 2)
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, buyer, "buyer-1", "p-2", 1)
	require.NoError(t, err)
	cart, err := svc.AddItem(ctx, buyer, "buyer-1", "p-1", 1)
	require.NoError(t, err)

	require.Len(t, cart.Items, 2)
	item, ok := cart.Item("p-1")
	require.True(t, ok)
	require.Equal(t, int32(3), item.Qty)
	require.Equal(t, int64(300), item.LineTotalMinor)
	require.Equal(t, int64(350), cart.TotalMinor)
}

func TestAddItem_Errors(t *testing.T) {
	svc, _, _ := setup(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		actor   domain.Actor
		product string
		qty     int32
		wantErr error
	}{
		{name: "zero quantity", actor: buyer, product: "p-1", qty: 0, wantErr: domain.ErrInvalidQuantity},
		{name: "negative quantity", actor: buyer, product: "p-1", qty: -2, wantErr: domain.ErrInvalidQuantity},
		{name: "unknown product", actor: buyer, product: "nope", qty: 1, wantErr: domain.ErrProductNotFound},
		{name: "over stock", actor: buyer, product: "p-1", qty: 6, wantErr: domain.ErrInsufficientStock},
		{name: "foreign cart", actor: intrude, product: "p-1", qty: 1, wantErr: domain.ErrForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.AddItem(ctx, tt.actor, "buyer-1", tt.product, tt.qty)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestAddItem_CumulativeQuantityChecked(t *testing.T) {
	svc, _, _ := setup(t)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, buyer, "buyer-1", "p-1", 4)
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, buyer, "buyer-1", "p-1", 2)
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	cart, err := svc.GetOrCreate(ctx, buyer, "buyer-1")
	require.NoError(t, err)
	item, _ := cart.Item("p-1")
	require.Equal(t, int32(4), item.Qty)
}

func TestAddItem_HugeQuantityDoesNotOverflow(t *testing.T) {
	svc, _, _ := setup(t)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, buyer, "buyer-1", "p-1", 1)
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, buyer, "buyer-1", "p-1", math.MaxInt32)
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	_, err = svc.Merge(ctx, buyer, "buyer-1", []Line{{ProductID: "p-1", Qty: math.MaxInt32}})
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	cart, err := svc.GetOrCreate(ctx, buyer, "buyer-1")
	require.NoError(t, err)
	item, _ := cart.Item("p-1")
	require.Equal(t, int32(1), item.Qty)
	require.Equal(t, int64(100), cart.TotalMinor)
}

func TestUpdateQuantity(t *testing.T) {
	svc, _, _ := setup(t)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, buyer, "buyer-1", "p-1", 1)
	require.NoError(t, err)

	cart, err := svc.UpdateQuantity(ctx, buyer, "buyer-1", "p-1", 5)
	require.NoError(t, err)
	require.Equal(t, int64(500), cart.TotalMinor)

	_, err = svc.UpdateQuantity(ctx, buyer, "buyer-1", "p-1", 6)
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	_, err = svc.UpdateQuantity(ctx, buyer, "buyer-1", "p-2", 1)
	require.ErrorIs(t, err, ErrItemNotInCart)
	require.True(t, domain.IsNotFound(err))

	cart, err = svc.UpdateQuantity(ctx, buyer, "buyer-1", "p-1", 0)
	require.NoError(t, err)
	require.True(t, cart.IsEmpty())
	require.Zero(t, cart.TotalMinor)
}

func TestRemoveAndClearAreIdempotent(t *testing.T) {
	svc, _, _ := setup(t)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, buyer, "buyer-1", "p-1", 1)
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, buyer, "buyer-1", "p-2", 2)
	require.NoError(t, err)

	cart, err := svc.RemoveItem(ctx, buyer, "buyer-1", "p-1")
	require.NoError(t, err)
	require.Equal(t, int64(100), cart.TotalMinor)
	_, err = svc.RemoveItem(ctx, buyer, "buyer-1", "p-1")
	require.NoError(t, err)

	cart, err = svc.Clear(ctx, buyer, "buyer-1")
	require.NoError(t, err)
	require.True(t, cart.IsEmpty())
	again, err := svc.Clear(ctx, buyer, "buyer-1")
	require.NoError(t, err)
	require.Equal(t, cart.UpdatedAt, again.UpdatedAt)
}

func TestGetOrCreate_UsesCache(t *testing.T) {
	svc, _, cache := setup(t)
	ctx := context.Background()

	created, err := svc.GetOrCreate(ctx, buyer, "buyer-1")
	require.NoError(t, err)
	require.True(t, created.IsEmpty())

	// первая загрузка из хранилища кладёт корзину в кэш
	_, err = svc.GetOrCreate(ctx, buyer, "buyer-1")
	require.NoError(t, err)
	_, cachedOK := cache.entries["buyer-1"]
	require.True(t, cachedOK)

	deletesBefore := cache.deletes
	_, err = svc.AddItem(ctx, buyer, "buyer-1", "p-2", 1)
	require.NoError(t, err)
	require.Greater(t, cache.deletes, deletesBefore)
	_, cachedOK = cache.entries["buyer-1"]
	require.False(t, cachedOK)

	cart, err := svc.GetOrCreate(ctx, buyer, "buyer-1")
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
}

func TestGetOrCreate_DropsCacheEntryWrittenAfterConcurrentMutation(t *testing.T) {
	store := memory.NewStore()
	seed(t, store, "p-1", 100, 5)
	cache := newFakeCache()
	var mu sync.Mutex
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc := NewService(store, WithCache(cache), WithLogger(quietLogger()), WithClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}))
	ctx := context.Background()

	_, err := svc.GetOrCreate(ctx, buyer, "buyer-1")
	require.NoError(t, err)

	// мутация фиксируется и инвалидирует кэш до того, как читатель запишет
	// прочитанную пустую корзину
	cache.beforeSet = func() {
		_, err := svc.AddItem(ctx, buyer, "buyer-1", "p-1", 2)
		require.NoError(t, err)
	}
	stale, err := svc.GetOrCreate(ctx, buyer, "buyer-1")
	require.NoError(t, err)
	require.True(t, stale.IsEmpty())

	cache.mu.Lock()
	_, cachedOK := cache.entries["buyer-1"]
	cache.mu.Unlock()
	require.False(t, cachedOK)

	fresh, err := svc.GetOrCreate(ctx, buyer, "buyer-1")
	require.NoError(t, err)
	require.Equal(t, int64(200), fresh.TotalMinor)
}

func TestGetOrCreate_CacheErrorFallsBackToStore(t *testing.T) {
	svc, _, cache := setup(t)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, buyer, "buyer-1", "p-1", 2)
	require.NoError(t, err)

	cache.getErr = errors.New("redis down")
	cart, err := svc.GetOrCreate(ctx, buyer, "buyer-1")
	require.NoError(t, err)
	require.Equal(t, int64(200), cart.TotalMinor)
}

func TestSummaryAndValidate(t *testing.T) {
	svc, store, _ := setup(t)
	ctx := context.Background()

	problems, err := svc.Validate(ctx, buyer, "buyer-1")
	require.NoError(t, err)
	require.ErrorIs(t, problems[ProblemCartKey], domain.ErrCartEmpty)

	_, err = svc.AddItem(ctx, buyer, "buyer-1", "p-1", 3)
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, buyer, "buyer-1", "p-2", 2)
	require.NoError(t, err)

	summary, err := svc.Summary(ctx, buyer, "buyer-1")
	require.NoError(t, err)
	require.Equal(t, Summary{BuyerID: "buyer-1", Lines: 2, ItemCount: 5, TotalMinor: 400}, summary)

	_, err = store.Repos().Products.SetStock(ctx, "p-1", 1)
	require.NoError(t, err)

	problems, err = svc.Validate(ctx, admin, "buyer-1")
	require.NoError(t, err)
	require.Len(t, problems, 1)
	require.ErrorIs(t, problems["p-1"], domain.ErrInsufficientStock)
}

func TestRefreshPrices(t *testing.T) {
	svc, store, _ := setup(t)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, buyer, "buyer-1", "p-1", 2)
	require.NoError(t, err)

	product, err := store.Repos().Products.Get(ctx, "p-1")
	require.NoError(t, err)
	product.PriceMinor = 120
	require.NoError(t, store.Repos().Products.Save(ctx, product))

	cart, err := svc.RefreshPrices(ctx, buyer, "buyer-1")
	require.NoError(t, err)
	require.Equal(t, int64(240), cart.TotalMinor)
}

func TestMerge_IsAtomic(t *testing.T) {
	svc, _, _ := setup(t)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, buyer, "buyer-1", "p-1", 3)
	require.NoError(t, err)

	_, err = svc.Merge(ctx, buyer, "buyer-1", []Line{{ProductID: "p-2", Qty: 1}, {ProductID: "p-1", Qty: 3}})
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	cart, err := svc.GetOrCreate(ctx, buyer, "buyer-1")
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)

	cart, err = svc.Merge(ctx, buyer, "buyer-1", []Line{{ProductID: "p-2", Qty: 4}, {ProductID: "p-1", Qty: 2}})
	require.NoError(t, err)
	require.Len(t, cart.Items, 2)
	require.Equal(t, int64(5*100+4*50), cart.TotalMinor)

	_, err = svc.Merge(ctx, buyer, "buyer-1", []Line{{ProductID: "p-2", Qty: 0}})
	require.ErrorIs(t, err, domain.ErrInvalidQuantity)
}
