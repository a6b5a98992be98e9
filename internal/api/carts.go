package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/marketplace/internal/service/cart"
)

type cartItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int32  `json:"quantity"`
}

type mergeCartRequest struct {
	Items []cartItemRequest `json:"items"`
}

type cartValidationDTO struct {
	Valid    bool              `json:"valid"`
	Problems map[string]string `json:"problems,omitempty"`
}

// GET /api/v1/buyers/{buyerID}/cart
func (s *Server) getCart(w http.ResponseWriter, r *http.Request) {
	c, err := s.services.Carts.GetOrCreate(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "buyerID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toCartDTO(c))
}

// DELETE /api/v1/buyers/{buyerID}/cart
func (s *Server) clearCart(w http.ResponseWriter, r *http.Request) {
	c, err := s.services.Carts.Clear(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "buyerID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toCartDTO(c))
}

// GET /api/v1/buyers/{buyerID}/cart/summary
func (s *Server) cartSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.services.Carts.Summary(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "buyerID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toCartSummaryDTO(summary))
}

// GET /api/v1/buyers/{buyerID}/cart/validation
func (s *Server) validateCart(w http.ResponseWriter, r *http.Request) {
	problems, err := s.services.Carts.Validate(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "buyerID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := cartValidationDTO{Valid: len(problems) == 0}
	if len(problems) > 0 {
		out.Problems = make(map[string]string, len(problems))
		for key, problem := range problems {
			out.Problems[key] = problem.Error()
		}
	}
	respondJSON(w, http.StatusOK, out)
}

// POST /api/v1/buyers/{buyerID}/cart/items
func (s *Server) addCartItem(w http.ResponseWriter, r *http.Request) {
	var req cartItemRequest
	if err := decodeJSON(r, &req); err != nil {
		s.badJSON(w, err)
		return
	}
	c, err := s.services.Carts.AddItem(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "buyerID"), req.ProductID, req.Quantity)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toCartDTO(c))
}

// PUT /api/v1/buyers/{buyerID}/cart/items/{productID}
func (s *Server) updateCartItem(w http.ResponseWriter, r *http.Request) {
	var req cartItemRequest
	if err := decodeJSON(r, &req); err != nil {
		s.badJSON(w, err)
		return
	}
	c, err := s.services.Carts.UpdateQuantity(r.Context(), actorFrom(r.Context()),
		chi.URLParam(r, "buyerID"), chi.URLParam(r, "productID"), req.Quantity)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toCartDTO(c))
}

// DELETE /api/v1/buyers/{buyerID}/cart/items/{productID}
func (s *Server) removeCartItem(w http.ResponseWriter, r *http.Request) {
	c, err := s.services.Carts.RemoveItem(r.Context(), actorFrom(r.Context()),
		chi.URLParam(r, "buyerID"), chi.URLParam(r, "productID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toCartDTO(c))
}

// POST /api/v1/buyers/{buyerID}/cart/refresh-prices
func (s *Server) refreshCartPrices(w http.ResponseWriter, r *http.Request) {
	c, err := s.services.Carts.RefreshPrices(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "buyerID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toCartDTO(c))
}

// POST /api/v1/buyers/{buyerID}/cart/merge
func (s *Server) mergeCart(w http.ResponseWriter, r *http.Request) {
	var req mergeCartRequest
	if err := decodeJSON(r, &req); err != nil {
		s.badJSON(w, err)
		return
	}
	lines := make([]cart.Line, 0, len(req.Items))
	for _, it := range req.Items {
		lines = append(lines, cart.Line{ProductID: it.ProductID, Qty: it.Quantity})
	}
	c, err := s.services.Carts.Merge(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "buyerID"), lines)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toCartDTO(c))
}
