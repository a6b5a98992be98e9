package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

const productColumns = `id, seller_id, name, price_minor, stock_quantity, min_stock_level, version, created_at, updated_at`

type productRepository struct {
	conn
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(
		&p.ID, &p.SellerID, &p.Name, &p.PriceMinor, &p.StockQuantity,
		&p.MinStockLevel, &p.Version, &p.CreatedAt, &p.UpdatedAt,
	)
	return p, err
}

func (r *productRepository) Create(ctx context.Context, product domain.Product) error {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`,
		product.ID, product.SellerID, product.Name, product.PriceMinor, product.StockQuantity,
		product.MinStockLevel, product.Version, product.CreatedAt, product.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("product %s: %w", product.ID, domain.ErrAlreadyExists)
		}
		return dbError("insert product", err)
	}
	return nil
}

func (r *productRepository) Get(ctx context.Context, id string) (domain.Product, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	product, err := scanProduct(r.q.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1`+r.lockClause(), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, dbError("get product", err)
	}
	return product, nil
}

// Save обновляет карточку товара; остаток меняется только через AdjustStock/SetStock.
func (r *productRepository) Save(ctx context.Context, product domain.Product) error {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	res, err := r.q.ExecContext(ctx, `
		UPDATE products
		SET seller_id = $3,
		    name = $4,
		    price_minor = $5,
		    min_stock_level = $6,
		    version = version + 1,
		    updated_at = $7
		WHERE id = $1 AND version = $2
	`,
		product.ID, product.Version, product.SellerID, product.Name,
		product.PriceMinor, product.MinStockLevel, time.Now().UTC(),
	)
	if err != nil {
		return dbError("update product", err)
	}
	return r.checkAffected(ctx, res, product.ID)
}

func (r *productRepository) checkAffected(ctx context.Context, res sql.Result, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return dbError("rows affected", err)
	}
	if affected > 0 {
		return nil
	}

	var exists bool
	if err := r.q.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM products WHERE id = $1)`, id).Scan(&exists); err != nil {
		return dbError("check product existence", err)
	}
	if !exists {
		return domain.ErrProductNotFound
	}
	return domain.ErrVersionConflict
}

// AdjustStock — атомарный условный декремент/инкремент: строка обновляется
// только если итоговый остаток не отрицательный.
func (r *productRepository) AdjustStock(ctx context.Context, id string, delta int32) (domain.StockChange, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	change := domain.StockChange{ProductID: id}
	err := r.q.QueryRowContext(ctx, `
		UPDATE products
		SET stock_quantity = stock_quantity + $2,
		    version = version + 1,
		    updated_at = $3
		WHERE id = $1 AND stock_quantity + $2 >= 0
		RETURNING seller_id, name, stock_quantity, min_stock_level
	`, id, delta, time.Now().UTC()).Scan(&change.SellerID, &change.Name, &change.Current, &change.MinStockLevel)
	if err == nil {
		change.Previous = change.Current - delta
		return change, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.StockChange{}, dbError("adjust stock", err)
	}

	var available int32
	err = r.q.QueryRowContext(ctx, `SELECT stock_quantity FROM products WHERE id = $1`, id).Scan(&available)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.StockChange{}, domain.ErrProductNotFound
	}
	if err != nil {
		return domain.StockChange{}, dbError("read stock", err)
	}
	return domain.StockChange{}, fmt.Errorf("%w: product %s has %d, requested %d",
		domain.ErrInsufficientStock, id, available, -delta)
}

func (r *productRepository) SetStock(ctx context.Context, id string, qty int32) (domain.StockChange, error) {
	if qty < 0 {
		return domain.StockChange{}, domain.ErrStockNegative
	}

	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	change := domain.StockChange{ProductID: id, Current: qty}
	err := r.q.QueryRowContext(ctx, `
		UPDATE products p
		SET stock_quantity = $2,
		    version = p.version + 1,
		    updated_at = $3
		FROM (SELECT id, stock_quantity FROM products WHERE id = $1 FOR UPDATE) prev
		WHERE p.id = prev.id
		RETURNING prev.stock_quantity, p.seller_id, p.name, p.min_stock_level
	`, id, qty, time.Now().UTC()).Scan(&change.Previous, &change.SellerID, &change.Name, &change.MinStockLevel)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.StockChange{}, domain.ErrProductNotFound
	}
	if err != nil {
		return domain.StockChange{}, dbError("set stock", err)
	}
	return change, nil
}

func (r *productRepository) ListBySeller(ctx context.Context, sellerID string, limit int) ([]domain.Product, error) {
	return r.list(ctx, `WHERE seller_id = $1 ORDER BY id`, limit, sellerID)
}

func (r *productRepository) ListLowStock(ctx context.Context, limit int) ([]domain.Product, error) {
	return r.list(ctx, `WHERE stock_quantity <= min_stock_level ORDER BY stock_quantity, id`, limit)
}

func (r *productRepository) list(ctx context.Context, where string, limit int, args ...any) ([]domain.Product, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()

	query := `SELECT ` + productColumns + ` FROM products ` + where
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbError("list products", err)
	}
	defer rows.Close()

	result := make([]domain.Product, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, dbError("scan product", err)
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("iterate products", err)
	}
	return result, nil
}

var _ domain.ProductRepository = (*productRepository)(nil)
