// Package api реализует HTTP-транспорт поверх сервисов маркетплейса на go-chi.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/vladislavdragonenkov/marketplace/internal/service/cart"
	"github.com/vladislavdragonenkov/marketplace/internal/service/checkout"
	"github.com/vladislavdragonenkov/marketplace/internal/service/idempotency"
	"github.com/vladislavdragonenkov/marketplace/internal/service/inventory"
	"github.com/vladislavdragonenkov/marketplace/internal/service/ledger"
	"github.com/vladislavdragonenkov/marketplace/internal/service/order"
	"github.com/vladislavdragonenkov/marketplace/internal/service/payment"
)

const (
	defaultRequestTimeout = 30 * time.Second
	defaultMaxBodyBytes   = 1 << 20
)

// Services — сервисы ядра, которые обслуживает HTTP API.
type Services struct {
	Inventory *inventory.Service
	Carts     *cart.Service
	Checkout  *checkout.Service
	Payments  *payment.Orchestrator
	Ledger    *ledger.Service
	Orders    *order.Service
}

// Server собирает маршруты API.
type Server struct {
	services       Services
	guard          *idempotency.Guard
	logger         *log.Entry
	requestTimeout time.Duration
	maxBodyBytes   int64
}

// Option настраивает Server.
type Option func(*Server)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithIdempotency включает поддержку Idempotency-Key для checkout и оплаты.
func WithIdempotency(guard *idempotency.Guard) Option {
	return func(s *Server) { s.guard = guard }
}

// WithRequestTimeout ограничивает время обработки запроса.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.requestTimeout = d
		}
	}
}

// WithMaxBodyBytes ограничивает размер тела запроса.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBodyBytes = n
		}
	}
}

// NewServer создаёт сервер API.
func NewServer(services Services, opts ...Option) *Server {
	s := &Server{
		services:       services,
		logger:         log.WithField("component", "http-api"),
		requestTimeout: defaultRequestTimeout,
		maxBodyBytes:   defaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler возвращает корневой обработчик, обёрнутый в otelhttp.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.requestTimeout))
	r.Use(s.limitBody)
	r.Use(actorMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusNotFound, CodeRouteNotFound, "route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "method not allowed", nil)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/payment-methods", s.listPaymentMethods)

		r.Route("/products", func(r chi.Router) {
			r.Post("/", s.createProduct)
			r.Get("/low-stock", s.listLowStock)
			r.Get("/{productID}", s.getProduct)
			r.Put("/{productID}/stock", s.updateStock)
			r.Put("/{productID}/price", s.updatePrice)
		})
		r.Get("/sellers/{sellerID}/products", s.listSellerProducts)

		r.Route("/buyers/{buyerID}", func(r chi.Router) {
			r.Route("/cart", func(r chi.Router) {
				r.Get("/", s.getCart)
				r.Delete("/", s.clearCart)
				r.Get("/summary", s.cartSummary)
				r.Get("/validation", s.validateCart)
				r.Post("/items", s.addCartItem)
				r.Put("/items/{productID}", s.updateCartItem)
				r.Delete("/items/{productID}", s.removeCartItem)
				r.Post("/refresh-prices", s.refreshCartPrices)
				r.Post("/merge", s.mergeCart)
			})
			r.Post("/checkout", s.idempotent(s.checkout))
			r.Get("/orders", s.listBuyerOrders)
		})

		r.Route("/orders/{orderID}", func(r chi.Router) {
			r.Get("/", s.getOrder)
			r.Delete("/", s.deleteOrder)
			r.Post("/pay", s.idempotent(s.payOrder))
			r.Post("/cancel", s.cancelOrder)
			r.Post("/ship", s.shipOrder)
			r.Post("/deliver", s.deliverOrder)
			r.Get("/timeline", s.orderTimeline)
			r.Get("/payments", s.orderPayments)
		})

		r.Route("/payments", func(r chi.Router) {
			r.Get("/{paymentID}", s.getPayment)
			r.Get("/by-transaction/{transactionID}", s.getPaymentByTransaction)
			r.Post("/{paymentID}/refund", s.refundPayment)
		})

		r.Get("/admin/statistics", s.statistics)
	})

	return otelhttp.NewHandler(r, "marketplace-api")
}

func (s *Server) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

// decodeJSON читает тело запроса. Пустое тело допустимо и оставляет dst без изменений.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (s *Server) badJSON(w http.ResponseWriter, err error) {
	respondError(w, http.StatusBadRequest, CodeInvalidJSON, "invalid request body: "+err.Error(), nil)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	respondDomainError(w, s.loggerFrom(r.Context()), err)
}

// queryLimit читает ?limit=; некорректное значение означает лимит по умолчанию.
func queryLimit(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit < 0 {
		return 0
	}
	return limit
}
