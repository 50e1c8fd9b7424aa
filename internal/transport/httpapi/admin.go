package httpapi

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/dms/internal/domain"
	"github.com/vladislavdragonenkov/dms/internal/notify"
	"github.com/vladislavdragonenkov/dms/internal/service/orders"
)

// Действия bulk-запроса по заказам.
const (
	bulkActionPaid   = "paid"
	bulkActionCancel = "cancel"
)

func (h *Handler) getConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.deps.Config.LoadConfig(r.Context())
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// putConfig: поле version в теле означает версию, которую видел редактор (0 для первой записи).
func (h *Handler) putConfig(w http.ResponseWriter, r *http.Request) {
	var cfg domain.DeliveryConfig
	if err := decodeJSON(w, r, &cfg); err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	saved, err := h.deps.Admin.SaveConfig(r.Context(), cfg, cfg.Version)
	if err != nil {
		h.writeError(w, r, err, log.Fields{"expected_version": cfg.Version})
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func dayVars(r *http.Request) (string, domain.Mode) {
	vars := mux.Vars(r)
	return vars["date"], domain.Mode(vars["mode"])
}

func (h *Handler) patchDay(w http.ResponseWriter, r *http.Request) {
	date, mode := dayVars(r)
	var patch domain.DayOverridePatch
	if err := decodeJSON(w, r, &patch); err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	counter, err := h.deps.Admin.ApplyDayOverride(r.Context(), date, mode, patch)
	if err != nil {
		h.writeError(w, r, err, log.Fields{"date": date, "mode": mode})
		return
	}
	writeJSON(w, http.StatusOK, counter)
}

func (h *Handler) postDayCorrection(w http.ResponseWriter, r *http.Request) {
	date, mode := dayVars(r)
	var correction domain.DayCounterCorrection
	if err := decodeJSON(w, r, &correction); err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	counter, err := h.deps.Admin.CorrectDayCounter(r.Context(), date, mode, correction)
	if err != nil {
		h.writeError(w, r, err, log.Fields{"date": date, "mode": mode})
		return
	}
	writeJSON(w, http.StatusOK, counter)
}

func (h *Handler) getAdminOrder(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	order, err := h.deps.Orders.GetOrder(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err, log.Fields{"order_id": id})
		return
	}
	writeJSON(w, http.StatusOK, publicOrder(order))
}

func (h *Handler) postPaid(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	result, err := h.deps.Engine.MarkPaid(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err, log.Fields{"order_id": id})
		return
	}
	result.Order = publicOrder(result.Order)
	writeJSON(w, http.StatusOK, result)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) postCancel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req cancelRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			h.writeError(w, r, err, nil)
			return
		}
	}
	order, err := h.deps.Engine.Cancel(r.Context(), id, req.Reason)
	if err != nil {
		h.writeError(w, r, err, log.Fields{"order_id": id})
		return
	}
	writeJSON(w, http.StatusOK, publicOrder(order))
}

type statusRequest struct {
	Status domain.OrderStatus `json:"status"`
}

func (h *Handler) postStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req statusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	order, err := h.deps.Engine.Advance(r.Context(), id, req.Status)
	if err != nil {
		h.writeError(w, r, err, log.Fields{"order_id": id, "status": req.Status})
		return
	}
	writeJSON(w, http.StatusOK, publicOrder(order))
}

type bulkOrdersRequest struct {
	Action   string   `json:"action"`
	OrderIDs []string `json:"order_ids"`
	Reason   string   `json:"reason,omitempty"`
}

func (h *Handler) postOrdersBulk(w http.ResponseWriter, r *http.Request) {
	var req bulkOrdersRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	if len(req.OrderIDs) == 0 {
		h.writeError(w, r, fmt.Errorf("%w: order_ids must not be empty", domain.ErrValidation), nil)
		return
	}

	var result orders.BulkResult
	switch req.Action {
	case bulkActionPaid:
		result = h.deps.Engine.BulkMarkPaid(r.Context(), req.OrderIDs)
	case bulkActionCancel:
		result = h.deps.Engine.BulkCancel(r.Context(), req.OrderIDs, req.Reason)
	default:
		h.writeError(w, r, fmt.Errorf("%w: unknown bulk action %q", domain.ErrValidation, req.Action), nil)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type bulkEcoPointsRequest struct {
	Adjustments []orders.EcoPointsAdjustment `json:"adjustments"`
}

func (h *Handler) postEcoPointsBulk(w http.ResponseWriter, r *http.Request) {
	var req bulkEcoPointsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	if len(req.Adjustments) == 0 {
		h.writeError(w, r, fmt.Errorf("%w: adjustments must not be empty", domain.ErrValidation), nil)
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Engine.BulkAdjustEcoPoints(r.Context(), req.Adjustments))
}

func (h *Handler) getCustomer(w http.ResponseWriter, r *http.Request) {
	phone := mux.Vars(r)["phone"]
	customer, err := h.deps.Customers.GetCustomer(r.Context(), phone)
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, customer)
}

func (h *Handler) postReceiveStock(w http.ResponseWriter, r *http.Request) {
	h.moveStock(w, r, h.deps.Engine.ReceiveStock)
}

func (h *Handler) postAdjustStock(w http.ResponseWriter, r *http.Request) {
	h.moveStock(w, r, h.deps.Engine.AdjustStock)
}

func (h *Handler) moveStock(w http.ResponseWriter, r *http.Request, move func(ctx context.Context, req orders.StockRequest) (domain.StockItem, error)) {
	var req orders.StockRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	item, err := move(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err, log.Fields{"product_id": req.ProductID, "variant_key": req.VariantKey})
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// getMovements: ?order_id= фильтрует журнал по заказу.
func (h *Handler) getMovements(w http.ResponseWriter, r *http.Request) {
	movements, err := h.deps.Inventory.ListMovements(r.Context(), r.URL.Query().Get("order_id"))
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, movements)
}

func (h *Handler) getTimeline(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := h.deps.Orders.GetOrder(r.Context(), id); err != nil {
		h.writeError(w, r, err, log.Fields{"order_id": id})
		return
	}
	events, err := h.deps.Timeline.List(id)
	if err != nil {
		h.writeError(w, r, err, log.Fields{"order_id": id})
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// getSummary отдаёт текст уведомления о заказе в формате Formatter.
func (h *Handler) getSummary(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	order, err := h.deps.Orders.GetOrder(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err, log.Fields{"order_id": id})
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(h.deps.Formatter.Format(notify.FromOrder(order)))); err != nil {
		h.logger.WithError(err).Warn("write summary")
	}
}
