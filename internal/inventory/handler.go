package inventory

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/varlamzhordania/terrapura.net/internal/domain"
	"github.com/varlamzhordania/terrapura.net/internal/messaging"
)

type Handler struct {
	repo     *Repository
	producer *messaging.Producer
	logger   *slog.Logger
}

func NewHandler(repo *Repository, producer *messaging.Producer, logger *slog.Logger) *Handler {
	return &Handler{
		repo:     repo,
		producer: producer,
		logger:   logger,
	}
}

type createItemRequest struct {
	HerbID              string          `json:"herb_id"`
	BaseID              string          `json:"base_id"`
	QuantityKg          float64         `json:"quantity_kg"`
	PriceUSD            decimal.Decimal `json:"price_usd"`
	CurrencyCode        string          `json:"currency_code"`
	LowStockThresholdKg float64         `json:"low_stock_threshold_kg"`
}

func (h *Handler) HandleCreateItem(w http.ResponseWriter, r *http.Request) {
	var req createItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.HerbID == "" || req.BaseID == "" {
		h.writeError(w, http.StatusBadRequest, "herb_id and base_id are required")
		return
	}
	if req.QuantityKg < 0.01 {
		h.writeError(w, http.StatusUnprocessableEntity, "quantity_kg must be at least 0.01")
		return
	}
	if req.PriceUSD.LessThan(decimal.NewFromFloat(0.01)) {
		h.writeError(w, http.StatusUnprocessableEntity, "price_usd must be at least 0.01")
		return
	}

	item := &domain.InventoryItem{
		HerbID:              req.HerbID,
		BaseID:              req.BaseID,
		QuantityKg:          req.QuantityKg,
		PriceUSD:            req.PriceUSD,
		CurrencyCode:        req.CurrencyCode,
		LowStockThresholdKg: req.LowStockThresholdKg,
		IsAvailable:         true,
	}

	if err := h.repo.CreateItem(r.Context(), item); err != nil {
		if errors.Is(err, ErrDuplicateItem) {
			h.writeError(w, http.StatusConflict, "inventory item already exists for herb and base")
			return
		}
		h.logger.Error("failed to create inventory item", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("inventory item created", "item_id", item.ID, "herb_id", item.HerbID, "base_id", item.BaseID)
	h.writeJSON(w, http.StatusCreated, item)
}

func (h *Handler) HandleListItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.repo.ListItems(r.Context())
	if err != nil {
		h.logger.Error("failed to list inventory items", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("inventory items listed", "count", len(items))
	h.writeJSON(w, http.StatusOK, items)
}

func (h *Handler) HandleGetItem(w http.ResponseWriter, r *http.Request) {
	itemID := r.PathValue("itemId")
	if itemID == "" {
		h.writeError(w, http.StatusBadRequest, "missing item id")
		return
	}

	item, err := h.repo.GetItem(r.Context(), itemID)
	if err != nil {
		h.logger.Error("failed to get inventory item", "error", err, "item_id", itemID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if item == nil {
		h.writeError(w, http.StatusNotFound, "inventory item not found")
		return
	}

	h.writeJSON(w, http.StatusOK, item)
}

type changeRequest struct {
	QuantityKg  float64 `json:"quantity_kg"`
	PerformedBy string  `json:"performed_by"`
	Note        string  `json:"note"`
}

func (h *Handler) HandleAddStock(w http.ResponseWriter, r *http.Request) {
	h.handleChange(w, r, domain.ActionAdd)
}

func (h *Handler) HandleRemoveStock(w http.ResponseWriter, r *http.Request) {
	h.handleChange(w, r, domain.ActionRemove)
}

func (h *Handler) HandleAdjustStock(w http.ResponseWriter, r *http.Request) {
	h.handleChange(w, r, domain.ActionAdjust)
}

func (h *Handler) handleChange(w http.ResponseWriter, r *http.Request, action domain.TransactionAction) {
	itemID := r.PathValue("itemId")
	if itemID == "" {
		h.writeError(w, http.StatusBadRequest, "missing item id")
		return
	}

	var req changeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.repo.Apply(r.Context(), Change{
		ItemID:      itemID,
		Action:      action,
		QuantityKg:  req.QuantityKg,
		PerformedBy: req.PerformedBy,
		Note:        req.Note,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrItemNotFound):
			h.writeError(w, http.StatusNotFound, "inventory item not found")
		case errors.Is(err, ErrInsufficientStock):
			h.writeError(w, http.StatusConflict, "insufficient stock")
		case errors.Is(err, ErrInvalidQuantity):
			h.writeError(w, http.StatusUnprocessableEntity, "quantity_kg must be positive")
		default:
			h.logger.Error("failed to apply stock change", "error", err, "item_id", itemID, "action", action)
			h.writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	if result.RaisedAlert != nil {
		h.publishLowStock(r, result)
	}

	h.logger.Info("stock changed", "item_id", itemID, "action", action, "quantity_kg", req.QuantityKg, "remaining_kg", result.Item.QuantityKg)
	h.writeJSON(w, http.StatusOK, result.Item)
}

type thresholdRequest struct {
	LowStockThresholdKg float64 `json:"low_stock_threshold_kg"`
}

func (h *Handler) HandleSetThreshold(w http.ResponseWriter, r *http.Request) {
	itemID := r.PathValue("itemId")
	if itemID == "" {
		h.writeError(w, http.StatusBadRequest, "missing item id")
		return
	}

	var req thresholdRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.LowStockThresholdKg < 0 {
		h.writeError(w, http.StatusUnprocessableEntity, "low_stock_threshold_kg must not be negative")
		return
	}

	result, err := h.repo.SetThreshold(r.Context(), itemID, req.LowStockThresholdKg)
	if err != nil {
		if errors.Is(err, ErrItemNotFound) {
			h.writeError(w, http.StatusNotFound, "inventory item not found")
			return
		}
		h.logger.Error("failed to set threshold", "error", err, "item_id", itemID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if result.RaisedAlert != nil {
		h.publishLowStock(r, result)
	}

	h.logger.Info("threshold updated", "item_id", itemID, "threshold_kg", req.LowStockThresholdKg)
	h.writeJSON(w, http.StatusOK, result.Item)
}

func (h *Handler) publishLowStock(r *http.Request, result *ChangeResult) {
	if h.producer == nil {
		return
	}

	herbName, baseName, partnerID, err := h.repo.AlertContext(r.Context(), result.Item.ID)
	if err != nil {
		h.logger.Error("failed to resolve alert context", "error", err, "item_id", result.Item.ID)
		return
	}

	event := domain.LowStockEvent{
		AlertID:     result.RaisedAlert.ID,
		ItemID:      result.Item.ID,
		HerbName:    herbName,
		BaseName:    baseName,
		PartnerID:   partnerID,
		RemainingKg: result.Item.QuantityKg,
		ThresholdKg: result.Item.LowStockThresholdKg,
		Timestamp:   time.Now().UTC(),
	}

	if err := h.producer.Publish(r.Context(), result.Item.ID, event); err != nil {
		h.logger.Error("failed to publish low stock event", "error", err, "item_id", result.Item.ID)
		return
	}

	h.logger.Info("low stock alert raised", "item_id", result.Item.ID, "remaining_kg", result.Item.QuantityKg, "threshold_kg", result.Item.LowStockThresholdKg)
}

func (h *Handler) HandleListTransactions(w http.ResponseWriter, r *http.Request) {
	itemID := r.PathValue("itemId")
	if itemID == "" {
		h.writeError(w, http.StatusBadRequest, "missing item id")
		return
	}

	txs, err := h.repo.ListTransactions(r.Context(), itemID)
	if err != nil {
		h.logger.Error("failed to list inventory transactions", "error", err, "item_id", itemID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, txs)
}

func (h *Handler) HandleListAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.repo.ListAlerts(r.Context())
	if err != nil {
		h.logger.Error("failed to list alerts", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, alerts)
}

func (h *Handler) HandleDismissAlert(w http.ResponseWriter, r *http.Request) {
	alertID := r.PathValue("alertId")
	if alertID == "" {
		h.writeError(w, http.StatusBadRequest, "missing alert id")
		return
	}

	found, err := h.repo.DismissAlert(r.Context(), alertID)
	if err != nil {
		h.logger.Error("failed to dismiss alert", "error", err, "alert_id", alertID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if !found {
		h.writeError(w, http.StatusNotFound, "alert not found")
		return
	}

	h.logger.Info("alert dismissed", "alert_id", alertID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleMarkAlertNotified(w http.ResponseWriter, r *http.Request) {
	alertID := r.PathValue("alertId")
	if alertID == "" {
		h.writeError(w, http.StatusBadRequest, "missing alert id")
		return
	}

	found, err := h.repo.MarkAlertNotified(r.Context(), alertID)
	if err != nil {
		h.logger.Error("failed to mark alert notified", "error", err, "alert_id", alertID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if !found {
		h.writeError(w, http.StatusNotFound, "alert not found")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "notified"})
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
