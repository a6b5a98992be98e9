package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/marketplace/internal/service/inventory"
)

type createProductRequest struct {
	SellerID      string `json:"seller_id"`
	Name          string `json:"name"`
	PriceMinor    int64  `json:"price_minor"`
	StockQuantity int32  `json:"stock_quantity"`
	MinStockLevel int32  `json:"min_stock_level"`
}

type stockRequest struct {
	Quantity int32 `json:"quantity"`
}

type priceRequest struct {
	PriceMinor int64 `json:"price_minor"`
}

// POST /api/v1/products
func (s *Server) createProduct(w http.ResponseWriter, r *http.Request) {
	var req createProductRequest
	if err := decodeJSON(r, &req); err != nil {
		s.badJSON(w, err)
		return
	}
	product, err := s.services.Inventory.CreateProduct(r.Context(), actorFrom(r.Context()), inventory.ProductInput{
		SellerID:      req.SellerID,
		Name:          req.Name,
		PriceMinor:    req.PriceMinor,
		StockQuantity: req.StockQuantity,
		MinStockLevel: req.MinStockLevel,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, toProductDTO(product))
}

// GET /api/v1/products/{productID}
func (s *Server) getProduct(w http.ResponseWriter, r *http.Request) {
	product, err := s.services.Inventory.GetProduct(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toProductDTO(product))
}

// PUT /api/v1/products/{productID}/stock
func (s *Server) updateStock(w http.ResponseWriter, r *http.Request) {
	var req stockRequest
	if err := decodeJSON(r, &req); err != nil {
		s.badJSON(w, err)
		return
	}
	product, err := s.services.Inventory.UpdateStock(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "productID"), req.Quantity)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toProductDTO(product))
}

// PUT /api/v1/products/{productID}/price
func (s *Server) updatePrice(w http.ResponseWriter, r *http.Request) {
	var req priceRequest
	if err := decodeJSON(r, &req); err != nil {
		s.badJSON(w, err)
		return
	}
	product, err := s.services.Inventory.UpdatePrice(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "productID"), req.PriceMinor)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toProductDTO(product))
}

// GET /api/v1/products/low-stock
func (s *Server) listLowStock(w http.ResponseWriter, r *http.Request) {
	products, err := s.services.Inventory.ListLowStock(r.Context(), actorFrom(r.Context()), queryLimit(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toProductDTOs(products))
}

// GET /api/v1/sellers/{sellerID}/products
func (s *Server) listSellerProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.services.Inventory.ListBySeller(r.Context(), chi.URLParam(r, "sellerID"), queryLimit(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toProductDTOs(products))
}

// GET /api/v1/payment-methods
func (s *Server) listPaymentMethods(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.services.Payments.SupportedMethods())
}
