package order

import (
	"context"
	"io"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/storage/memory"
)

var (
	buyer  = domain.Actor{ID: "buyer-1", Role: domain.RoleBuyer}
	seller = domain.Actor{ID: "seller-1", Role: domain.RoleSeller}
	admin  = domain.Actor{ID: "admin-1", Role: domain.RoleAdmin}
)

func quietLogger() *log.Entry {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return logger.WithField("component", "test")
}

type fixture struct {
	store *memory.Store
	svc   *Service
}

// newFixture создаёт товары p-1 (остаток 7) и p-2 (остаток 4), как после
// оформления заказа на 3 и 1 единицу.
func newFixture(t *testing.T) fixture {
	t.Helper()
	store := memory.NewStore()
	now := time.Now().UTC()
	for _, p := range []domain.Product{
		{ID: "p-1", SellerID: "seller-1", Name: "Guitar", PriceMinor: 100, StockQuantity: 7, MinStockLevel: 2},
		{ID: "p-2", SellerID: "seller-2", Name: "Drum", PriceMinor: 50, StockQuantity: 4, MinStockLevel: 1},
	} {
		p.CreatedAt, p.UpdatedAt = now, now
		require.NoError(t, store.Repos().Products.Create(context.Background(), p))
	}
	return fixture{store: store, svc: NewService(store, WithLogger(quietLogger()))}
}

func (f fixture) seedOrder(t *testing.T, id string, status domain.OrderStatus, payment domain.PaymentStatus) domain.Order {
	t.Helper()
	now := time.Now().UTC()
	order := domain.Order{
		ID: id, BuyerID: buyer.ID, Status: status, PaymentStatus: payment,
		Currency: domain.DefaultCurrency, AmountMinor: 350, ShippingAddress: "Moscow",
		Items: []domain.OrderItem{
			{ID: id + "-1", ProductID: "p-1", SellerID: "seller-1", Qty: 3, UnitPriceMinor: 100, LineTotalMinor: 300, CreatedAt: now},
			{ID: id + "-2", ProductID: "p-2", SellerID: "seller-2", Qty: 1, UnitPriceMinor: 50, LineTotalMinor: 50, CreatedAt: now},
		},
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, f.store.Repos().Orders.Create(context.Background(), order))
	return order
}

func (f fixture) stock(t *testing.T, productID string) int32 {
	t.Helper()
	p, err := f.store.Repos().Products.Get(context.Background(), productID)
	require.NoError(t, err)
	return p.StockQuantity
}

func (f fixture) pendingEvents(t *testing.T) []string {
	t.Helper()
	msgs, err := f.store.Repos().Outbox.PullPending(context.Background(), 100)
	require.NoError(t, err)
	types := make([]string, 0, len(msgs))
	for _, m := range msgs {
		types = append(types, m.EventType)
	}
	return types
}

func TestCancel_RestoresStock(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(t, "ord-1", domain.OrderStatusPending, domain.PaymentStatusPending)

	cancelled, err := f.svc.Cancel(context.Background(), buyer, "ord-1", " changed my mind ")
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusCancelled, cancelled.Status)
	require.True(t, cancelled.StockReleased)
	require.Equal(t, int32(10), f.stock(t, "p-1"))
	require.Equal(t, int32(5), f.stock(t, "p-2"))

	require.ElementsMatch(t, []string{
		domain.EventTypeStockChanged, domain.EventTypeStockChanged, domain.EventTypeOrderCancelled,
	}, f.pendingEvents(t))

	events, err := f.svc.Timeline(context.Background(), buyer, "ord-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "changed my mind", events[0].Reason)

	_, err = f.svc.Cancel(context.Background(), buyer, "ord-1", "")
	require.ErrorIs(t, err, domain.ErrCannotCancel)
	require.Equal(t, int32(10), f.stock(t, "p-1"))
}

func TestCancel_Rejections(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(t, "ord-delivered", domain.OrderStatusDelivered, domain.PaymentStatusCompleted)
	f.seedOrder(t, "ord-shipped", domain.OrderStatusShipped, domain.PaymentStatusCompleted)
	f.seedOrder(t, "ord-pending", domain.OrderStatusPending, domain.PaymentStatusPending)
	ctx := context.Background()

	_, err := f.svc.Cancel(ctx, buyer, "ord-delivered", "")
	require.ErrorIs(t, err, domain.ErrCannotCancel)
	require.Equal(t, "CANNOT_CANCEL", domain.Code(err))

	_, err = f.svc.Cancel(ctx, buyer, "ord-shipped", "")
	require.ErrorIs(t, err, domain.ErrCannotCancel)

	_, err = f.svc.Cancel(ctx, domain.Actor{ID: "buyer-2", Role: domain.RoleBuyer}, "ord-pending", "")
	require.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.svc.Cancel(ctx, buyer, "missing", "")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)

	require.Equal(t, int32(7), f.stock(t, "p-1"))
	require.Empty(t, f.pendingEvents(t))
}

func TestDelete(t *testing.T) {
	tests := []struct {
		name      string
		status    domain.OrderStatus
		payment   domain.PaymentStatus
		cancel    bool
		wantErr   error
		wantStock int32
	}{
		{name: "confirmed restores stock", status: domain.OrderStatusConfirmed, payment: domain.PaymentStatusCompleted, wantStock: 10},
		{name: "delivered keeps stock", status: domain.OrderStatusDelivered, payment: domain.PaymentStatusCompleted, wantStock: 7},
		{name: "cancelled is not restored twice", status: domain.OrderStatusPending, payment: domain.PaymentStatusPending, cancel: true, wantStock: 10},
		{name: "pending rejected", status: domain.OrderStatusPending, payment: domain.PaymentStatusPending, wantErr: domain.ErrCannotDelete, wantStock: 7},
		{name: "shipped rejected", status: domain.OrderStatusShipped, payment: domain.PaymentStatusCompleted, wantErr: domain.ErrCannotDelete, wantStock: 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			f.seedOrder(t, "ord-1", tt.status, tt.payment)
			if tt.cancel {
				_, err := f.svc.Cancel(ctx, buyer, "ord-1", "")
				require.NoError(t, err)
			}

			err := f.svc.Delete(ctx, buyer, "ord-1")
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				_, getErr := f.store.Repos().Orders.Get(ctx, "ord-1")
				require.NoError(t, getErr)
			} else {
				require.NoError(t, err)
				_, getErr := f.store.Repos().Orders.Get(ctx, "ord-1")
				require.ErrorIs(t, getErr, domain.ErrOrderNotFound)
			}
			require.Equal(t, tt.wantStock, f.stock(t, "p-1"))
		})
	}
}

func TestDelete_KeepsPaymentRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedOrder(t, "ord-1", domain.OrderStatusConfirmed, domain.PaymentStatusCompleted)
	now := time.Now().UTC()
	require.NoError(t, f.store.Repos().Payments.Create(ctx, domain.PaymentRecord{
		ID: "pay-1", OrderID: "ord-1", BuyerID: buyer.ID, TransactionID: "PP_1A2B3C4D",
		Method: domain.PaymentMethodPayPal, AmountMinor: 350, Currency: domain.DefaultCurrency,
		Status: domain.PaymentStatusCompleted, PaymentDate: &now, CreatedAt: now, UpdatedAt: now,
	}))

	require.NoError(t, f.svc.Delete(ctx, admin, "ord-1"))

	records, err := f.store.Repos().Payments.ListByOrder(ctx, "ord-1")
	require.NoError(t, err)
	require.Len(t, records, 1)

	events, err := f.svc.Timeline(ctx, admin, "ord-1")
	require.NoError(t, err)
	require.Equal(t, domain.EventTypeOrderDeleted, events[len(events)-1].Type)

	_, err = f.svc.Timeline(ctx, buyer, "ord-1")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestFulfilment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedOrder(t, "ord-1", domain.OrderStatusConfirmed, domain.PaymentStatusCompleted)
	f.seedOrder(t, "ord-2", domain.OrderStatusPending, domain.PaymentStatusPending)

	_, err := f.svc.MarkShipped(ctx, buyer, "ord-1")
	require.ErrorIs(t, err, domain.ErrForbidden)
	_, err = f.svc.MarkShipped(ctx, domain.Actor{ID: "seller-9", Role: domain.RoleSeller}, "ord-1")
	require.ErrorIs(t, err, domain.ErrForbidden)

	shipped, err := f.svc.MarkShipped(ctx, seller, "ord-1")
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusShipped, shipped.Status)
	require.Nil(t, shipped.DeliveryDate)

	delivered, err := f.svc.MarkDelivered(ctx, seller, "ord-1")
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusDelivered, delivered.Status)
	require.NotNil(t, delivered.DeliveryDate)

	_, err = f.svc.MarkDelivered(ctx, admin, "ord-1")
	require.ErrorIs(t, err, domain.ErrCannotDeliver)

	_, err = f.svc.MarkShipped(ctx, admin, "ord-2")
	require.ErrorIs(t, err, domain.ErrCannotShip)
	_, err = f.svc.MarkDelivered(ctx, admin, "ord-2")
	require.ErrorIs(t, err, domain.ErrCannotDeliver)
}

func TestReads(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedOrder(t, "ord-1", domain.OrderStatusConfirmed, domain.PaymentStatusCompleted)
	f.seedOrder(t, "ord-2", domain.OrderStatusPending, domain.PaymentStatusPending)

	_, err := f.svc.Get(ctx, buyer, "ord-1")
	require.NoError(t, err)
	_, err = f.svc.Get(ctx, seller, "ord-1")
	require.NoError(t, err)
	_, err = f.svc.Get(ctx, domain.Actor{ID: "seller-9", Role: domain.RoleSeller}, "ord-1")
	require.ErrorIs(t, err, domain.ErrForbidden)

	list, err := f.svc.ListByBuyer(ctx, buyer, buyer.ID, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	_, err = f.svc.ListByBuyer(ctx, seller, buyer.ID, 0)
	require.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.svc.Statistics(ctx, buyer)
	require.ErrorIs(t, err, domain.ErrForbidden)
	stats, err := f.svc.Statistics(ctx, admin)
	require.NoError(t, err)
	require.Equal(t, 2, stats.Total)
	require.Equal(t, 1, stats.ByStatus[domain.OrderStatusPending])
	require.Equal(t, int64(350), stats.RevenueMinor)
}
