// Package httpapi содержит HTTP-адаптер движка: витрина (доступность, бронирование, checkout)
// и административные операции под /api/v1.
package httpapi

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/dms/internal/domain"
	"github.com/vladislavdragonenkov/dms/internal/notify"
	"github.com/vladislavdragonenkov/dms/internal/service/orders"
	"github.com/vladislavdragonenkov/dms/internal/service/schedule"
)

// HeaderOrderToken переносит токен сессии черновика.
const HeaderOrderToken = "X-Order-Token"

const maxBodyBytes = 1 << 20

// AvailabilityReader отдаёт доступность дней.
type AvailabilityReader interface {
	Get(ctx context.Context, start string, numDays int, mode domain.Mode) ([]schedule.DayAvailability, error)
}

// OrderEngine: операции движка заказов, доступные по HTTP.
type OrderEngine interface {
	Reserve(ctx context.Context, req orders.ReserveRequest) (orders.ReserveResult, error)
	Checkout(ctx context.Context, req orders.CheckoutRequest) (orders.CheckoutResult, error)
	MarkPaid(ctx context.Context, orderID string) (orders.PaymentResult, error)
	Cancel(ctx context.Context, orderID, reason string) (domain.Order, error)
	Advance(ctx context.Context, orderID string, next domain.OrderStatus) (domain.Order, error)
	BulkMarkPaid(ctx context.Context, orderIDs []string) orders.BulkResult
	BulkCancel(ctx context.Context, orderIDs []string, reason string) orders.BulkResult
	BulkAdjustEcoPoints(ctx context.Context, adjustments []orders.EcoPointsAdjustment) orders.BulkResult
	ReceiveStock(ctx context.Context, req orders.StockRequest) (domain.StockItem, error)
	AdjustStock(ctx context.Context, req orders.StockRequest) (domain.StockItem, error)
}

// ScheduleAdmin: запись конфигурации и переопределений дней.
type ScheduleAdmin interface {
	SaveConfig(ctx context.Context, cfg domain.DeliveryConfig, expectedVersion int64) (domain.DeliveryConfig, error)
	ApplyDayOverride(ctx context.Context, date string, mode domain.Mode, patch domain.DayOverridePatch) (domain.DayCounter, error)
	CorrectDayCounter(ctx context.Context, date string, mode domain.Mode, correction domain.DayCounterCorrection) (domain.DayCounter, error)
}

// TokenVerifier проверяет токен сессии против хэша в заказе.
type TokenVerifier interface {
	Verify(token, storedHash string) bool
}

// Dependencies: коллабораторы обработчиков.
type Dependencies struct {
	Availability AvailabilityReader
	Engine       OrderEngine
	Admin        ScheduleAdmin
	Config       domain.ConfigReader
	Orders       domain.OrderReader
	Customers    domain.CustomerReader
	Inventory    domain.InventoryReader
	Timeline     domain.TimelineRepository
	Tokens       TokenVerifier
	Formatter    notify.Formatter
}

// Handler обслуживает HTTP API.
type Handler struct {
	deps       Dependencies
	adminToken string
	logger     *log.Entry
}

// Option настраивает Handler.
type Option func(*Handler)

// WithAdminToken включает проверку Authorization: Bearer для /admin.
func WithAdminToken(token string) Option {
	return func(h *Handler) {
		h.adminToken = token
	}
}

// WithLogger задаёт logger обработчиков.
func WithLogger(logger *log.Entry) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// NewHandler создаёт обработчик.
func NewHandler(deps Dependencies, options ...Option) *Handler {
	h := &Handler{deps: deps}
	for _, option := range options {
		option(h)
	}
	if h.logger == nil {
		h.logger = log.New().WithField("component", "http-api")
	}
	h.logger = h.logger.WithField("layer", "http")
	if h.deps.Formatter == nil {
		h.deps.Formatter = notify.PlainText{}
	}
	return h
}

// Router собирает маршруты API.
func (h *Handler) Router() http.Handler {
	r := mux.NewRouter()
	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/availability", h.getAvailability).Methods(http.MethodGet)
	api.HandleFunc("/reservations", h.postReservation).Methods(http.MethodPost)
	api.HandleFunc("/checkout", h.postCheckout).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id}", h.getOrder).Methods(http.MethodGet)

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(h.adminAuth)
	admin.HandleFunc("/config", h.getConfig).Methods(http.MethodGet)
	admin.HandleFunc("/config", h.putConfig).Methods(http.MethodPut)
	admin.HandleFunc("/days/{date}/{mode}", h.patchDay).Methods(http.MethodPatch)
	admin.HandleFunc("/days/{date}/{mode}/correction", h.postDayCorrection).Methods(http.MethodPost)
	admin.HandleFunc("/orders/bulk", h.postOrdersBulk).Methods(http.MethodPost)
	admin.HandleFunc("/orders/{id}", h.getAdminOrder).Methods(http.MethodGet)
	admin.HandleFunc("/orders/{id}/paid", h.postPaid).Methods(http.MethodPost)
	admin.HandleFunc("/orders/{id}/cancel", h.postCancel).Methods(http.MethodPost)
	admin.HandleFunc("/orders/{id}/status", h.postStatus).Methods(http.MethodPost)
	admin.HandleFunc("/orders/{id}/timeline", h.getTimeline).Methods(http.MethodGet)
	admin.HandleFunc("/orders/{id}/summary", h.getSummary).Methods(http.MethodGet)
	admin.HandleFunc("/customers/eco-points/bulk", h.postEcoPointsBulk).Methods(http.MethodPost)
	admin.HandleFunc("/customers/{phone}", h.getCustomer).Methods(http.MethodGet)
	admin.HandleFunc("/inventory/receive", h.postReceiveStock).Methods(http.MethodPost)
	admin.HandleFunc("/inventory/adjust", h.postAdjustStock).Methods(http.MethodPost)
	admin.HandleFunc("/inventory/movements", h.getMovements).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "route not found"})
	})
	return h.recoverMiddleware(h.logMiddleware(r))
}
