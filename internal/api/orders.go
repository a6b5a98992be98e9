package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/service/payment"
)

type checkoutRequest struct {
	ShippingAddress string `json:"shipping_address"`
}

type payRequest struct {
	Method  string            `json:"method"`
	Details map[string]string `json:"details"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

// POST /api/v1/buyers/{buyerID}/checkout
func (s *Server) checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decodeJSON(r, &req); err != nil {
		s.badJSON(w, err)
		return
	}
	order, err := s.services.Checkout.Checkout(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "buyerID"), req.ShippingAddress)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, toOrderDTO(order))
}

// GET /api/v1/buyers/{buyerID}/orders
func (s *Server) listBuyerOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.services.Orders.ListByBuyer(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "buyerID"), queryLimit(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]orderDTO, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderDTO(o))
	}
	respondJSON(w, http.StatusOK, out)
}

// GET /api/v1/orders/{orderID}
func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.services.Orders.Get(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "orderID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toOrderDTO(order))
}

// DELETE /api/v1/orders/{orderID}
func (s *Server) deleteOrder(w http.ResponseWriter, r *http.Request) {
	if err := s.services.Orders.Delete(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "orderID")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /api/v1/orders/{orderID}/pay
//
// Тело ответа всегда результат оплаты, статус HTTP выводится из его кода.
func (s *Server) payOrder(w http.ResponseWriter, r *http.Request) {
	var req payRequest
	if err := decodeJSON(r, &req); err != nil {
		s.badJSON(w, err)
		return
	}
	result := s.services.Payments.ProcessOrderPayment(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "orderID"), payment.Details{
		Method: domain.PaymentMethod(req.Method),
		Data:   req.Details,
	})
	status := paymentStatus(result)
	if status >= http.StatusInternalServerError {
		s.loggerFrom(r.Context()).WithField("code", result.Code).Warn("payment failed on gateway side")
	}
	respondJSON(w, status, toPaymentResultDTO(result))
}

// POST /api/v1/orders/{orderID}/cancel
func (s *Server) cancelOrder(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := decodeJSON(r, &req); err != nil {
		s.badJSON(w, err)
		return
	}
	order, err := s.services.Orders.Cancel(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "orderID"), req.Reason)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toOrderDTO(order))
}

// POST /api/v1/orders/{orderID}/ship
func (s *Server) shipOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.services.Orders.MarkShipped(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "orderID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toOrderDTO(order))
}

// POST /api/v1/orders/{orderID}/deliver
func (s *Server) deliverOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.services.Orders.MarkDelivered(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "orderID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toOrderDTO(order))
}

// GET /api/v1/orders/{orderID}/timeline
func (s *Server) orderTimeline(w http.ResponseWriter, r *http.Request) {
	events, err := s.services.Orders.Timeline(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "orderID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toTimelineDTOs(events))
}

// GET /api/v1/orders/{orderID}/payments
func (s *Server) orderPayments(w http.ResponseWriter, r *http.Request) {
	records, err := s.services.Ledger.ListByOrder(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "orderID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toPaymentRecordDTOs(records))
}

// GET /api/v1/admin/statistics
func (s *Server) statistics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.services.Orders.Statistics(r.Context(), actorFrom(r.Context()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toStatisticsDTO(stats))
}
