package http

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/archon-research/liquidity-manager/internal/domain/entity"
	"github.com/archon-research/liquidity-manager/internal/ports/inbound"
	"github.com/archon-research/liquidity-manager/internal/ports/outbound"
)

// OrderResponse is the JSON view of a tracked order.
type OrderResponse struct {
	Address      string    `json:"address"`
	Seller       string    `json:"seller"`
	Total        uint64    `json:"total"`
	Remaining    uint64    `json:"remaining"`
	Tranche      uint64    `json:"tranche"`
	StartTime    int64     `json:"startTime"`
	LastExecuted int64     `json:"lastExecuted"`
	Active       bool      `json:"active"`
	ObservedAt   time.Time `json:"observedAt"`
}

func toOrderResponse(s entity.OrderSnapshot) OrderResponse {
	return OrderResponse{
		Address:      s.Address.String(),
		Seller:       s.Order.Seller.String(),
		Total:        s.Order.Total,
		Remaining:    s.Order.Remaining,
		Tranche:      s.Order.Tranche,
		StartTime:    s.Order.StartTime,
		LastExecuted: s.Order.LastExecuted,
		Active:       s.Order.Active,
		ObservedAt:   s.ObservedAt,
	}
}

// Handler serves tracked orders.
type Handler struct {
	orders inbound.OrderQuery
	logger *slog.Logger
}

// NewHandler creates a handler.
func NewHandler(orders inbound.OrderQuery, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		orders: orders,
		logger: logger.With("component", "order-api"),
	}
}

// RegisterRoutes registers the order routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /orders", h.ListOrders)
	mux.HandleFunc("GET /orders/{address}", h.GetOrder)
}

// ListOrders returns every active order.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	snapshots, err := h.orders.ListActiveOrders(r.Context())
	if err != nil {
		h.logger.Error("listing orders", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list orders")
		return
	}

	out := make([]OrderResponse, 0, len(snapshots))
	for _, s := range snapshots {
		out = append(out, toOrderResponse(s))
	}
	respondJSON(h.logger, w, http.StatusOK, out)
}

// GetOrder returns one order by address.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	address, err := solana.PublicKeyFromBase58(r.PathValue("address"))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid order address")
		return
	}

	snapshot, err := h.orders.GetTrackedOrder(r.Context(), address)
	if errors.Is(err, outbound.ErrAccountNotFound) {
		h.respondError(w, http.StatusNotFound, "order not found")
		return
	}
	if err != nil {
		h.logger.Error("loading order", "order", address, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to load order")
		return
	}
	respondJSON(h.logger, w, http.StatusOK, toOrderResponse(*snapshot))
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(h.logger, w, status, map[string]string{"error": message})
}
