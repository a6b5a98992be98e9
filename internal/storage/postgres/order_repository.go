package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

const orderColumns = `id, buyer_id, status, payment_status, currency, amount_minor, shipping_address,
	transaction_id, payment_method, payment_date, delivery_date, stock_released, version, created_at, updated_at`

type orderRepository struct {
	conn
}

func (r *orderRepository) Create(ctx context.Context, order domain.Order) error {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	return r.atomic(ctx, func(q queryer) error {
		_, err := q.ExecContext(ctx, `
			INSERT INTO orders (`+orderColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		`,
			order.ID, order.BuyerID, string(order.Status), string(order.PaymentStatus), order.Currency,
			order.AmountMinor, order.ShippingAddress, order.TransactionID, string(order.PaymentMethod),
			nullTime(order.PaymentDate), nullTime(order.DeliveryDate), order.StockReleased,
			order.Version, order.CreatedAt, order.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("order %s: %w", order.ID, domain.ErrAlreadyExists)
			}
			return dbError("insert order", err)
		}

		for _, item := range order.Items {
			if _, err := q.ExecContext(ctx, `
				INSERT INTO order_items (
					id, order_id, product_id, seller_id, qty, unit_price_minor, line_total_minor, created_at
				) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			`,
				item.ID, order.ID, item.ProductID, item.SellerID, item.Qty,
				item.UnitPriceMinor, item.LineTotalMinor, item.CreatedAt,
			); err != nil {
				return dbError("insert order item", err)
			}
		}
		return nil
	})
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		o             domain.Order
		status        string
		paymentStatus string
		method        string
		paymentDate   sql.NullTime
		deliveryDate  sql.NullTime
	)
	if err := row.Scan(
		&o.ID, &o.BuyerID, &status, &paymentStatus, &o.Currency, &o.AmountMinor, &o.ShippingAddress,
		&o.TransactionID, &method, &paymentDate, &deliveryDate, &o.StockReleased, &o.Version,
		&o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		return domain.Order{}, err
	}
	o.Status = domain.OrderStatus(status)
	o.PaymentStatus = domain.PaymentStatus(paymentStatus)
	o.PaymentMethod = domain.PaymentMethod(method)
	o.PaymentDate = timePtr(paymentDate)
	o.DeliveryDate = timePtr(deliveryDate)
	return o, nil
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	order, err := scanOrder(r.q.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`+r.lockClause(), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, dbError("get order", err)
	}

	if order.Items, err = r.loadItems(ctx, order.ID); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func (r *orderRepository) loadItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, product_id, seller_id, qty, unit_price_minor, line_total_minor, created_at
		FROM order_items
		WHERE order_id = $1
		ORDER BY created_at, id
	`, orderID)
	if err != nil {
		return nil, dbError("query order items", err)
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0)
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(
			&item.ID, &item.ProductID, &item.SellerID, &item.Qty,
			&item.UnitPriceMinor, &item.LineTotalMinor, &item.CreatedAt,
		); err != nil {
			return nil, dbError("scan order item", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("iterate order items", err)
	}
	return items, nil
}

func (r *orderRepository) ListByBuyer(ctx context.Context, buyerID string, limit int) ([]domain.Order, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	query := `SELECT ` + orderColumns + ` FROM orders WHERE buyer_id = $1 ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := r.q.QueryContext(ctx, query, buyerID)
	if err != nil {
		return nil, dbError("list orders", err)
	}

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, dbError("scan order", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, dbError("iterate orders", err)
	}
	rows.Close()

	for i := range orders {
		if orders[i].Items, err = r.loadItems(ctx, orders[i].ID); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

// Save обновляет изменяемые поля заказа; позиции неизменяемы после создания.
func (r *orderRepository) Save(ctx context.Context, order domain.Order) error {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	res, err := r.q.ExecContext(ctx, `
		UPDATE orders
		SET status = $3,
		    payment_status = $4,
		    transaction_id = $5,
		    payment_method = $6,
		    payment_date = $7,
		    delivery_date = $8,
		    stock_released = $9,
		    version = version + 1,
		    updated_at = $10
		WHERE id = $1 AND version = $2
	`,
		order.ID, order.Version, string(order.Status), string(order.PaymentStatus),
		order.TransactionID, string(order.PaymentMethod), nullTime(order.PaymentDate),
		nullTime(order.DeliveryDate), order.StockReleased, order.UpdatedAt,
	)
	if err != nil {
		return dbError("update order", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return dbError("rows affected", err)
	}
	if affected > 0 {
		return nil
	}

	var exists bool
	if err := r.q.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)`, order.ID).Scan(&exists); err != nil {
		return dbError("check order existence", err)
	}
	if !exists {
		return domain.ErrOrderNotFound
	}
	return domain.ErrVersionConflict
}

// Delete удаляет заказ; позиции удаляются каскадно, записи платежей остаются.
func (r *orderRepository) Delete(ctx context.Context, id string) error {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	res, err := r.q.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return dbError("delete order", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return dbError("rows affected", err)
	}
	if affected == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func (r *orderRepository) Statistics(ctx context.Context) (domain.OrderStatistics, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	rows, err := r.q.QueryContext(ctx, `
		SELECT status,
		       COUNT(*),
		       COALESCE(SUM(CASE WHEN payment_status = 'completed' AND status <> 'cancelled'
		                         THEN amount_minor ELSE 0 END), 0)
		FROM orders
		GROUP BY status
	`)
	if err != nil {
		return domain.OrderStatistics{}, dbError("order statistics", err)
	}
	defer rows.Close()

	stats := domain.OrderStatistics{ByStatus: make(map[domain.OrderStatus]int)}
	for rows.Next() {
		var (
			status  string
			count   int
			revenue int64
		)
		if err := rows.Scan(&status, &count, &revenue); err != nil {
			return domain.OrderStatistics{}, dbError("scan order statistics", err)
		}
		stats.ByStatus[domain.OrderStatus(status)] = count
		stats.Total += count
		stats.RevenueMinor += revenue
	}
	if err := rows.Err(); err != nil {
		return domain.OrderStatistics{}, dbError("iterate order statistics", err)
	}
	return stats, nil
}

var _ domain.OrderRepository = (*orderRepository)(nil)
