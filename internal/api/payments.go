package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

func toPaymentRecordDTOs(records []domain.PaymentRecord) []paymentRecordDTO {
	out := make([]paymentRecordDTO, 0, len(records))
	for _, rec := range records {
		out = append(out, toPaymentRecordDTO(rec))
	}
	return out
}

// GET /api/v1/payments/{paymentID}
func (s *Server) getPayment(w http.ResponseWriter, r *http.Request) {
	record, err := s.services.Ledger.Get(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "paymentID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toPaymentRecordDTO(record))
}

// GET /api/v1/payments/by-transaction/{transactionID}
func (s *Server) getPaymentByTransaction(w http.ResponseWriter, r *http.Request) {
	record, err := s.services.Ledger.GetByTransactionID(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "transactionID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toPaymentRecordDTO(record))
}

// POST /api/v1/payments/{paymentID}/refund
func (s *Server) refundPayment(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := decodeJSON(r, &req); err != nil {
		s.badJSON(w, err)
		return
	}
	record, err := s.services.Ledger.Refund(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "paymentID"), req.Reason)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toPaymentRecordDTO(record))
}
