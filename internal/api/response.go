package api

import (
	"encoding/json"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/service/idempotency"
	"github.com/vladislavdragonenkov/marketplace/internal/service/payment"
)

// Коды ошибок транспортного слоя, которых нет в domain.Code.
const (
	CodeInvalidJSON           = "INVALID_JSON"
	CodeInvalidActor          = "INVALID_ACTOR"
	CodeIdempotencyInProgress = "IDEMPOTENCY_IN_PROGRESS"
	CodeRouteNotFound         = "ROUTE_NOT_FOUND"
	CodeMethodNotAllowed      = "METHOD_NOT_ALLOWED"
)

// ErrorBody — тело любого ответа с ошибкой.
type ErrorBody struct {
	Error   string            `json:"error"`
	Code    string            `json:"code"`
	Details map[string]string `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code, message string, details map[string]string) {
	respondJSON(w, status, ErrorBody{Error: message, Code: code, Details: details})
}

// respondDomainError переводит ошибку сервиса в HTTP-ответ. Внутренние
// ошибки логируются, клиенту отдаётся только код.
func respondDomainError(w http.ResponseWriter, logger *log.Entry, err error) {
	status := statusFor(err)
	code := domain.Code(err)
	if errors.Is(err, idempotency.ErrInProgress) {
		code = CodeIdempotencyInProgress
	}

	if status >= http.StatusInternalServerError {
		logger.WithError(err).WithField("code", code).Error("request failed")
		respondError(w, status, code, "internal error", nil)
		return
	}

	var details map[string]string
	var checkoutErr *domain.CheckoutError
	if errors.As(err, &checkoutErr) {
		details = checkoutErr.Messages()
	}
	respondError(w, status, code, err.Error(), details)
}

func statusFor(err error) int {
	var checkoutErr *domain.CheckoutError
	switch {
	case errors.As(err, &checkoutErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, idempotency.ErrInProgress):
		return http.StatusConflict
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrIllegalStateTransition),
		errors.Is(err, domain.ErrVersionConflict),
		errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// paymentStatus выбирает HTTP-статус по коду результата оплаты.
func paymentStatus(result payment.Result) int {
	if result.Success {
		return http.StatusOK
	}
	switch result.Code {
	case payment.CodeInvalidData, payment.CodeMissingFields, payment.CodeInvalidCard,
		payment.CodeInvalidExpiry, payment.CodeInvalidCVV, payment.CodeInvalidEmail,
		payment.CodeInvalidIBAN, payment.CodeUnsupportedMethod:
		return http.StatusBadRequest
	case payment.CodeCardDeclined, payment.CodeAuthFailed, payment.CodeStripeDeclined,
		payment.CodeCODLimitExceeded:
		return http.StatusPaymentRequired
	case payment.CodeInvalidOrderStatus, payment.CodeAlreadyPaid, payment.CodePaymentInProgress,
		payment.CodeOrderCancelled:
		return http.StatusConflict
	case payment.CodeOrderNotFound:
		return http.StatusNotFound
	case payment.CodeForbidden:
		return http.StatusForbidden
	case payment.CodeGatewayTimeout:
		return http.StatusGatewayTimeout
	case payment.CodeGatewayUnavailable, payment.CodeGatewayError:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
