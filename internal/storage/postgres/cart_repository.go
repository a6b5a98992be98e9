package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

type cartRepository struct {
	conn
}

func (r *cartRepository) GetByBuyer(ctx context.Context, buyerID string) (domain.Cart, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	var cart domain.Cart
	err := r.q.QueryRowContext(ctx, `
		SELECT id, buyer_id, total_minor, created_at, updated_at
		FROM carts
		WHERE buyer_id = $1`+r.lockClause(), buyerID,
	).Scan(&cart.ID, &cart.BuyerID, &cart.TotalMinor, &cart.CreatedAt, &cart.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Cart{}, domain.ErrCartNotFound
		}
		return domain.Cart{}, dbError("get cart", err)
	}

	rows, err := r.q.QueryContext(ctx, `
		SELECT product_id, qty, unit_price_minor, line_total_minor, added_at
		FROM cart_items
		WHERE cart_id = $1
		ORDER BY position
	`, cart.ID)
	if err != nil {
		return domain.Cart{}, dbError("list cart items", err)
	}
	defer rows.Close()

	cart.Items = []domain.CartItem{}
	for rows.Next() {
		var item domain.CartItem
		if err := rows.Scan(&item.ProductID, &item.Qty, &item.UnitPriceMinor, &item.LineTotalMinor, &item.AddedAt); err != nil {
			return domain.Cart{}, dbError("scan cart item", err)
		}
		cart.Items = append(cart.Items, item)
	}
	if err := rows.Err(); err != nil {
		return domain.Cart{}, dbError("iterate cart items", err)
	}

	return cart, nil
}

// Save перезаписывает корзину и все её строки одной транзакцией.
func (r *cartRepository) Save(ctx context.Context, cart domain.Cart) error {
	if cart.BuyerID == "" {
		return domain.ErrBuyerRequired
	}

	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	return r.atomic(ctx, func(q queryer) error {
		var cartID string
		err := q.QueryRowContext(ctx, `
			INSERT INTO carts (id, buyer_id, total_minor, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5)
			ON CONFLICT (buyer_id) DO UPDATE
			SET total_minor = EXCLUDED.total_minor,
			    updated_at = EXCLUDED.updated_at
			RETURNING id
		`, cart.ID, cart.BuyerID, cart.TotalMinor, cart.CreatedAt, cart.UpdatedAt).Scan(&cartID)
		if err != nil {
			return dbError("upsert cart", err)
		}

		if _, err := q.ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID); err != nil {
			return dbError("clear cart items", err)
		}

		for i, item := range cart.Items {
			if _, err := q.ExecContext(ctx, `
				INSERT INTO cart_items (
					cart_id, product_id, qty, unit_price_minor, line_total_minor, added_at, position
				) VALUES ($1,$2,$3,$4,$5,$6,$7)
			`, cartID, item.ProductID, item.Qty, item.UnitPriceMinor, item.LineTotalMinor, item.AddedAt, i); err != nil {
				return dbError("insert cart item", err)
			}
		}
		return nil
	})
}

func (r *cartRepository) Delete(ctx context.Context, buyerID string) error {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	if _, err := r.q.ExecContext(ctx, `DELETE FROM carts WHERE buyer_id = $1`, buyerID); err != nil {
		return dbError("delete cart", err)
	}
	return nil
}

var _ domain.CartRepository = (*cartRepository)(nil)
