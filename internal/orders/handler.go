package orders

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/varlamzhordania/terrapura.net/internal/domain"
	"github.com/varlamzhordania/terrapura.net/internal/inventory"
	"github.com/varlamzhordania/terrapura.net/internal/messaging"
	"github.com/varlamzhordania/terrapura.net/internal/wallet"
)

type Handler struct {
	repo     *Repository
	service  *Service
	producer *messaging.Producer
	logger   *slog.Logger
}

func NewHandler(repo *Repository, service *Service, producer *messaging.Producer, logger *slog.Logger) *Handler {
	return &Handler{
		repo:     repo,
		service:  service,
		producer: producer,
		logger:   logger,
	}
}

type createOrderItem struct {
	InventoryItemID string          `json:"inventory_item_id"`
	QuantityKg      float64         `json:"quantity_kg"`
	TotalPrice      decimal.Decimal `json:"total_price"`
}

type createOrderRequest struct {
	UserID    string            `json:"user_id"`
	PartnerID string            `json:"partner_id"`
	Notes     string            `json:"notes"`
	Items     []createOrderItem `json:"items"`
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.UserID == "" || req.PartnerID == "" {
		h.writeError(w, http.StatusBadRequest, "user_id and partner_id are required")
		return
	}
	if len(req.Items) == 0 {
		h.writeError(w, http.StatusBadRequest, "order must contain at least one item")
		return
	}

	items := make([]NewItem, 0, len(req.Items))
	for _, item := range req.Items {
		if item.QuantityKg < 0.01 {
			h.writeError(w, http.StatusUnprocessableEntity, "quantity_kg must be at least 0.01")
			return
		}
		items = append(items, NewItem{
			InventoryItemID: item.InventoryItemID,
			QuantityKg:      item.QuantityKg,
			TotalPrice:      item.TotalPrice,
		})
	}

	order := &domain.Order{
		UserID:    req.UserID,
		PartnerID: req.PartnerID,
		Notes:     req.Notes,
	}

	if err := h.repo.Create(r.Context(), order, items); err != nil {
		switch {
		case errors.Is(err, ErrDanglingInventoryRef):
			h.writeError(w, http.StatusUnprocessableEntity, "unknown inventory item")
		case errors.Is(err, ErrItemUnavailable):
			h.writeError(w, http.StatusUnprocessableEntity, "inventory item is not available")
		case errors.Is(err, ErrBadLineTotal):
			h.writeError(w, http.StatusUnprocessableEntity, "line total exceeds quantity times unit price")
		default:
			h.logger.Error("failed to create order", "error", err)
			h.writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	if h.producer != nil {
		event := domain.OrderPlacedEvent{
			OrderID:   order.ID,
			UserID:    order.UserID,
			PartnerID: order.PartnerID,
			Items:     order.Items,
			Timestamp: time.Now().UTC(),
		}
		if err := h.producer.Publish(r.Context(), order.ID, event); err != nil {
			h.logger.Error("failed to publish order placed event", "error", err, "order_id", order.ID)
		}
	}

	h.logger.Info("order created", "order_id", order.ID, "user_id", order.UserID, "partner_id", order.PartnerID, "total_price", order.TotalPrice)
	h.writeJSON(w, http.StatusCreated, order)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	order, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get order", "error", err, "id", id)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if order == nil {
		h.writeError(w, http.StatusNotFound, "order not found")
		return
	}

	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	orders, err := h.repo.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list orders", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("orders listed", "count", len(orders))
	h.writeJSON(w, http.StatusOK, orders)
}

// HandleProcess runs the pending -> processing transition with its
// inventory deduction. A repeat call returns 409.
func (h *Handler) HandleProcess(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	order, err := h.service.ProcessOrder(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, ErrOrderNotFound):
			h.writeError(w, http.StatusNotFound, "order not found")
		case errors.Is(err, ErrInvalidTransition):
			h.writeError(w, http.StatusConflict, "order is not pending")
		case errors.Is(err, inventory.ErrInsufficientStock):
			h.writeError(w, http.StatusConflict, "insufficient stock")
		case errors.Is(err, ErrDanglingInventoryRef):
			h.writeError(w, http.StatusUnprocessableEntity, "order item references missing inventory")
		default:
			h.logger.Error("failed to process order", "error", err, "id", id)
			h.writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	h.logger.Info("order processed", "order_id", order.ID)
	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) HandleApprove(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	order, err := h.repo.Approve(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			h.writeError(w, http.StatusNotFound, "order not found")
			return
		}
		h.logger.Error("failed to approve order", "error", err, "id", id)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("order approved by customer", "order_id", order.ID)
	h.writeJSON(w, http.StatusOK, order)
}

// HandleReleaseEscrow credits the partner wallet once. A second release
// attempt returns 409.
func (h *Handler) HandleReleaseEscrow(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	order, err := h.service.ReleaseEscrow(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, ErrOrderNotFound):
			h.writeError(w, http.StatusNotFound, "order not found")
		case errors.Is(err, ErrAlreadyReleased):
			h.writeError(w, http.StatusConflict, "escrow already released")
		case errors.Is(err, ErrNotApproved):
			h.writeError(w, http.StatusConflict, "order not approved by customer")
		case errors.Is(err, ErrInvalidTransition):
			h.writeError(w, http.StatusConflict, "order is cancelled")
		case errors.Is(err, wallet.ErrWalletNotFound):
			h.writeError(w, http.StatusUnprocessableEntity, "partner has no wallet")
		default:
			h.logger.Error("failed to release escrow", "error", err, "id", id)
			h.writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	h.logger.Info("escrow release recorded", "order_id", order.ID)
	h.writeJSON(w, http.StatusOK, order)
}

type updateStatusRequest struct {
	Status domain.OrderStatus `json:"status"`
}

func (h *Handler) HandleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	order, err := h.repo.UpdateStatus(r.Context(), id, req.Status)
	if err != nil {
		switch {
		case errors.Is(err, ErrOrderNotFound):
			h.writeError(w, http.StatusNotFound, "order not found")
		case errors.Is(err, ErrInvalidTransition):
			h.writeError(w, http.StatusConflict, "invalid status transition")
		default:
			h.logger.Error("failed to update order status", "error", err, "id", id)
			h.writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	h.logger.Info("order status updated", "order_id", order.ID, "status", order.Status)
	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) HandleGetShipment(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	shipment, err := h.repo.GetShipment(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get shipment", "error", err, "order_id", id)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if shipment == nil {
		h.writeError(w, http.StatusNotFound, "shipment not found")
		return
	}

	h.writeJSON(w, http.StatusOK, shipment)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
