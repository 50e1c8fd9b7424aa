package httpapi

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/dms/internal/domain"
	"github.com/vladislavdragonenkov/dms/internal/service/orders"
	"github.com/vladislavdragonenkov/dms/internal/service/schedule"
)

const defaultAvailabilityDays = 14

type availabilityResponse struct {
	Mode domain.Mode                `json:"mode"`
	Days []schedule.DayAvailability `json:"days"`
}

// getAvailability: ?mode=delivery|pickup&start=YYYY-MM-DD&days=N.
func (h *Handler) getAvailability(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	mode := domain.Mode(query.Get("mode"))
	if mode == "" {
		mode = domain.ModeDelivery
	}
	days := defaultAvailabilityDays
	if raw := query.Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			h.writeError(w, r, fmt.Errorf("%w: days must be an integer", domain.ErrValidation), nil)
			return
		}
		days = parsed
	}

	result, err := h.deps.Availability.Get(r.Context(), query.Get("start"), days, mode)
	if err != nil {
		h.writeError(w, r, err, log.Fields{"mode": mode})
		return
	}
	writeJSON(w, http.StatusOK, availabilityResponse{Mode: mode, Days: result})
}

type reservationRequest struct {
	OrderID string      `json:"order_id"`
	Date    string      `json:"date"`
	Mode    domain.Mode `json:"mode"`
	SlotID  string      `json:"slot_id"`
}

func (h *Handler) postReservation(w http.ResponseWriter, r *http.Request) {
	var req reservationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err, nil)
		return
	}

	result, err := h.deps.Engine.Reserve(r.Context(), orders.ReserveRequest{
		OrderID:   req.OrderID,
		Token:     r.Header.Get(HeaderOrderToken),
		Selection: orders.Selection{Date: req.Date, Mode: req.Mode, SlotID: req.SlotID},
	})
	if err != nil {
		h.writeError(w, r, err, log.Fields{"order_id": req.OrderID, "date": req.Date, "mode": req.Mode, "slot_id": req.SlotID})
		return
	}
	if result.Token != "" {
		w.Header().Set(HeaderOrderToken, result.Token)
	}
	status := http.StatusOK
	if req.OrderID == "" {
		status = http.StatusCreated
	}
	writeJSON(w, status, result)
}

type checkoutRequest struct {
	OrderID         string              `json:"order_id"`
	Lines           []domain.CartLine   `json:"lines"`
	Customer        domain.CustomerInfo `json:"customer"`
	Schedule        *orders.Selection   `json:"schedule,omitempty"`
	Notes           string              `json:"notes,omitempty"`
	BottlesToReturn int                 `json:"bottles_to_return"`
}

func (h *Handler) postCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err, nil)
		return
	}

	result, err := h.deps.Engine.Checkout(r.Context(), orders.CheckoutRequest{
		OrderID:         req.OrderID,
		Token:           r.Header.Get(HeaderOrderToken),
		Lines:           req.Lines,
		Customer:        req.Customer,
		Schedule:        req.Schedule,
		Notes:           req.Notes,
		BottlesToReturn: req.BottlesToReturn,
	})
	if err != nil {
		h.writeError(w, r, err, log.Fields{"order_id": req.OrderID})
		return
	}
	if result.Token != "" {
		w.Header().Set(HeaderOrderToken, result.Token)
	}
	writeJSON(w, http.StatusOK, result)
}

// getOrder отдаёт заказ владельцу токена.
func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	order, err := h.deps.Orders.GetOrder(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err, log.Fields{"order_id": id})
		return
	}
	if !h.deps.Tokens.Verify(r.Header.Get(HeaderOrderToken), order.TokenHash) {
		h.writeError(w, r, domain.ErrUnauthorized, log.Fields{"order_id": id})
		return
	}
	writeJSON(w, http.StatusOK, publicOrder(order))
}

func publicOrder(order domain.Order) domain.Order {
	order.TokenHash = ""
	return order
}
