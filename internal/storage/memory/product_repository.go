package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

type productRepository struct {
	scope
}

func (r *productRepository) Create(_ context.Context, product domain.Product) error {
	defer r.lock()()

	if _, exists := r.s.products[product.ID]; exists {
		return fmt.Errorf("product %s: %w", product.ID, domain.ErrAlreadyExists)
	}
	remember(r.scope, r.s.products, product.ID)
	r.s.products[product.ID] = product
	return nil
}

func (r *productRepository) Get(_ context.Context, id string) (domain.Product, error) {
	defer r.rlock()()

	product, ok := r.s.products[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return product, nil
}

// Save перезаписывает товар, проверяя версию (optimistic locking).
func (r *productRepository) Save(_ context.Context, product domain.Product) error {
	defer r.lock()()

	current, ok := r.s.products[product.ID]
	if !ok {
		return domain.ErrProductNotFound
	}
	if current.Version != product.Version {
		return domain.ErrVersionConflict
	}
	product.Version++
	remember(r.scope, r.s.products, product.ID)
	r.s.products[product.ID] = product
	return nil
}

func (r *productRepository) AdjustStock(_ context.Context, id string, delta int32) (domain.StockChange, error) {
	defer r.lock()()

	product, ok := r.s.products[id]
	if !ok {
		return domain.StockChange{}, domain.ErrProductNotFound
	}
	if product.StockQuantity+delta < 0 {
		return domain.StockChange{}, fmt.Errorf("%w: product %s has %d, requested %d",
			domain.ErrInsufficientStock, id, product.StockQuantity, -delta)
	}
	return r.applyStock(product, product.StockQuantity+delta), nil
}

func (r *productRepository) SetStock(_ context.Context, id string, qty int32) (domain.StockChange, error) {
	if qty < 0 {
		return domain.StockChange{}, domain.ErrStockNegative
	}

	defer r.lock()()

	product, ok := r.s.products[id]
	if !ok {
		return domain.StockChange{}, domain.ErrProductNotFound
	}
	return r.applyStock(product, qty), nil
}

func (r *productRepository) applyStock(product domain.Product, qty int32) domain.StockChange {
	change := domain.StockChange{
		ProductID:     product.ID,
		SellerID:      product.SellerID,
		Name:          product.Name,
		Previous:      product.StockQuantity,
		Current:       qty,
		MinStockLevel: product.MinStockLevel,
	}

	remember(r.scope, r.s.products, product.ID)
	product.StockQuantity = qty
	product.Version++
	product.UpdatedAt = time.Now().UTC()
	r.s.products[product.ID] = product

	return change
}

func (r *productRepository) ListBySeller(_ context.Context, sellerID string, limit int) ([]domain.Product, error) {
	defer r.rlock()()

	return r.collect(func(p domain.Product) bool { return p.SellerID == sellerID }, limit), nil
}

func (r *productRepository) ListLowStock(_ context.Context, limit int) ([]domain.Product, error) {
	defer r.rlock()()

	result := r.collect(func(p domain.Product) bool { return p.StockQuantity <= p.MinStockLevel }, 0)
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].StockQuantity < result[j].StockQuantity
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *productRepository) collect(match func(domain.Product) bool, limit int) []domain.Product {
	result := make([]domain.Product, 0)
	for _, p := range r.s.products {
		if match(p) {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

var _ domain.ProductRepository = (*productRepository)(nil)
