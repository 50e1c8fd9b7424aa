package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/dms/internal/domain"
)

// Сообщения, которые видит клиент. Внутренние подробности остаются в логах.
const (
	msgSlotUnavailable = "slot unavailable (esgotado), please choose another time"
	msgUnauthorized    = "order token is missing or does not match"
	msgConfigMissing   = "delivery is not configured yet"
	msgInternal        = "something went wrong, please try again"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// classify сопоставляет ошибку домена с HTTP-статусом и ответом клиенту.
func classify(err error) (int, errorResponse) {
	switch {
	case domain.IsSlotUnavailable(err):
		return http.StatusConflict, errorResponse{Error: msgSlotUnavailable, Code: "slot_unavailable"}
	case domain.IsValidation(err):
		return http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "validation"}
	case domain.IsUnauthorized(err):
		return http.StatusUnauthorized, errorResponse{Error: msgUnauthorized, Code: "unauthorized"}
	case errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, domain.ErrCustomerNotFound),
		errors.Is(err, domain.ErrStockItemNotFound):
		return http.StatusNotFound, errorResponse{Error: err.Error(), Code: "not_found"}
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict, errorResponse{Error: err.Error(), Code: "invalid_transition"}
	case errors.Is(err, domain.ErrConfigVersionConflict):
		return http.StatusConflict, errorResponse{Error: err.Error(), Code: "version_conflict"}
	case errors.Is(err, domain.ErrInsufficientStock):
		return http.StatusConflict, errorResponse{Error: err.Error(), Code: "insufficient_stock"}
	case errors.Is(err, domain.ErrConfigMissing):
		return http.StatusServiceUnavailable, errorResponse{Error: msgConfigMissing, Code: "config_missing"}
	default:
		return http.StatusInternalServerError, errorResponse{Error: msgInternal, Code: "internal"}
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error, fields log.Fields) {
	status, body := classify(err)
	entry := h.logger.WithError(err).WithFields(log.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
		"status": status,
	}).WithFields(fields)
	if status >= http.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Debug("request rejected")
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.WithField("err", err).Error("write response body")
	}
}
