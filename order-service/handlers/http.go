package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"

	"github.com/EarlyExpress/order-service/order-service/application"
	"github.com/EarlyExpress/order-service/order-service/domain"
	"github.com/EarlyExpress/order-service/shared/models"
)

// OrderHandlers contains order HTTP handlers
type OrderHandlers struct {
	createOrder      *application.CreateOrder
	getOrder         *application.GetOrder
	cancelOrder      *application.CancelOrder
	findStalledSagas *application.FindStalledSagas
}

// NewOrderHandlers creates new order handlers
func NewOrderHandlers(
	createOrder *application.CreateOrder,
	getOrder *application.GetOrder,
	cancelOrder *application.CancelOrder,
	findStalledSagas *application.FindStalledSagas,
) *OrderHandlers {
	return &OrderHandlers{
		createOrder:      createOrder,
		getOrder:         getOrder,
		cancelOrder:      cancelOrder,
		findStalledSagas: findStalledSagas,
	}
}

// CreateOrder handles order creation requests. A saga step failure is not an
// HTTP error: the response carries the order with the status the failure
// left it in.
func (h *OrderHandlers) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var cmd application.CreateOrderCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	response, err := h.createOrder.Execute(r.Context(), &cmd)
	if err != nil {
		if isValidationError(err) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(response)
}

// GetOrder handles order retrieval requests
func (h *OrderHandlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	if orderID == "" {
		http.Error(w, "Order ID is required", http.StatusBadRequest)
		return
	}

	response, err := h.getOrder.Execute(r.Context(), &application.GetOrderQuery{
		OrderID: models.ID(orderID),
	})
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			http.Error(w, "order not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// CancelOrder handles order cancellation requests
func (h *OrderHandlers) CancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	if orderID == "" {
		http.Error(w, "Order ID is required", http.StatusBadRequest)
		return
	}

	var cmd application.CancelOrderCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	cmd.OrderID = models.ID(orderID)

	response, err := h.cancelOrder.Execute(r.Context(), &cmd)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			http.Error(w, "order not found", http.StatusNotFound)
			return
		}
		if errors.Is(err, domain.ErrInvalidStateTransition) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		if isValidationError(err) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// FindStalledSagas handles the operator report of sagas stuck mid-flight
func (h *OrderHandlers) FindStalledSagas(w http.ResponseWriter, r *http.Request) {
	olderThan := time.Hour
	if raw := r.URL.Query().Get("older_than"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			http.Error(w, "Invalid older_than duration", http.StatusBadRequest)
			return
		}
		olderThan = parsed
	}

	views, err := h.findStalledSagas.Execute(r.Context(), &application.FindStalledSagasQuery{
		OlderThan: olderThan,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(views)
}

// RegisterRoutes registers order routes
func (h *OrderHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/orders", func(r chi.Router) {
			r.Post("/", h.CreateOrder)
			r.Get("/{id}", h.GetOrder)
			r.Post("/{id}/cancel", h.CancelOrder)
		})
		r.Get("/sagas/stalled", h.FindStalledSagas)
	})
}

func isValidationError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "invalid command") ||
		strings.Contains(msg, "is required") ||
		strings.Contains(msg, "must be positive")
}
