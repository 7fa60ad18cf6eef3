package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"newstrader/src/auth"
	"newstrader/src/connectors"
	"newstrader/src/model"
	"newstrader/src/orders"
)

type orderExecutor interface {
	Submit(ctx context.Context, req orders.OrderRequest) (*orders.OrderHandle, error)
	Cancel(ctx context.Context, orderID uuid.UUID) (orders.CancelResult, error)
	AttachBracket(ctx context.Context, orderID uuid.UUID, tp, sl decimal.Decimal) ([]*orders.OrderHandle, error)
}

type orderLister interface {
	FindLatest(ctx context.Context, accountID string, limit int) ([]model.Order, error)
}

type errorResponse struct {
	Error string       `json:"error"`
	Field string       `json:"field,omitempty"`
	Code  string       `json:"code,omitempty"`
	Order *model.Order `json:"order,omitempty"`
}

type bracketPayload struct {
	TakeProfit decimal.Decimal `json:"take_profit"`
	StopLoss   decimal.Decimal `json:"stop_loss"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.WithError(err).Error("failed to encode response")
	}
}

// writeOrderError maps executor errors to HTTP statuses.
func writeOrderError(w http.ResponseWriter, err error, order *model.Order) {
	resp := errorResponse{Error: err.Error(), Order: order}

	var verr *orders.ValidationError
	switch {
	case errors.As(err, &verr):
		resp.Field = verr.Field
		writeJSON(w, http.StatusBadRequest, resp)
	case errors.Is(err, orders.ErrUnknownOrder):
		writeJSON(w, http.StatusNotFound, resp)
	case connectors.IsTransient(err), errors.Is(err, orders.ErrConfirmTimeout):
		writeJSON(w, http.StatusBadGateway, resp)
	default:
		if rej, ok := connectors.IsRejected(err); ok {
			resp.Code = rej.Code
			writeJSON(w, http.StatusUnprocessableEntity, resp)
			return
		}
		writeJSON(w, http.StatusInternalServerError, resp)
	}
}

func operatorName(r *http.Request) string {
	if op, ok := auth.GetOperatorFromContext(r.Context()); ok && op != nil {
		return op.Name
	}
	return ""
}

func orderIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid order id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

// SubmitOrderHandler places an order. The response carries the order and its bracket legs.
func SubmitOrderHandler(exec orderExecutor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req orders.OrderRequest
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&req); err != nil {
			logger.WithError(err).Warn("invalid order payload")
			http.Error(w, "Invalid payload", http.StatusBadRequest)
			return
		}

		log := logger.WithFields(map[string]interface{}{
			"operator": operatorName(r),
			"account":  req.AccountID,
			"symbol":   req.Symbol,
			"side":     req.Side,
		})

		h, err := exec.Submit(r.Context(), req)
		if err != nil {
			log.WithError(err).Warn("order submit failed")
			var order *model.Order
			if h != nil {
				order = &h.Order
			}
			writeOrderError(w, err, order)
			return
		}

		log.WithField("order_id", h.Order.ID).Info("order submitted")
		writeJSON(w, http.StatusCreated, h)
	}
}

func CancelOrderHandler(exec orderExecutor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := orderIDParam(w, r)
		if !ok {
			return
		}

		res, err := exec.Cancel(r.Context(), id)
		if err != nil {
			logger.WithError(err).WithField("order_id", id).Warn("order cancel failed")
			writeOrderError(w, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func AttachBracketHandler(exec orderExecutor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := orderIDParam(w, r)
		if !ok {
			return
		}

		var payload bracketPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, "Invalid payload", http.StatusBadRequest)
			return
		}

		legs, err := exec.AttachBracket(r.Context(), id, payload.TakeProfit, payload.StopLoss)
		if err != nil {
			logger.WithError(err).WithField("order_id", id).Warn("attach bracket failed")
			writeOrderError(w, err, nil)
			return
		}
		writeJSON(w, http.StatusCreated, legs)
	}
}

// ListOrdersHandler returns the latest orders of an account, newest first.
func ListOrdersHandler(repo orderLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID := chi.URLParam(r, "id")

		limit := 50
		if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
			parsed, err := strconv.Atoi(limitParam)
			if err != nil || parsed <= 0 || parsed > 500 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = parsed
		}

		list, err := repo.FindLatest(r.Context(), accountID, limit)
		if err != nil {
			logger.WithError(err).Error("failed to list orders")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}
