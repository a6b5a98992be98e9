package memory

import (
	"context"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

// cartRepository хранит корзины по идентификатору покупателя.
type cartRepository struct {
	scope
}

func (r *cartRepository) GetByBuyer(_ context.Context, buyerID string) (domain.Cart, error) {
	defer r.rlock()()

	cart, ok := r.s.carts[buyerID]
	if !ok {
		return domain.Cart{}, domain.ErrCartNotFound
	}
	return cart.Clone(), nil
}

func (r *cartRepository) Save(_ context.Context, cart domain.Cart) error {
	if cart.BuyerID == "" {
		return domain.ErrBuyerRequired
	}

	defer r.lock()()

	remember(r.scope, r.s.carts, cart.BuyerID)
	r.s.carts[cart.BuyerID] = cart.Clone()
	return nil
}

func (r *cartRepository) Delete(_ context.Context, buyerID string) error {
	defer r.lock()()

	if _, ok := r.s.carts[buyerID]; !ok {
		return nil
	}
	remember(r.scope, r.s.carts, buyerID)
	delete(r.s.carts, buyerID)
	return nil
}

var _ domain.CartRepository = (*cartRepository)(nil)
