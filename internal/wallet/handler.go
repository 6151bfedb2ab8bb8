package wallet

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

// Handler exposes read-only wallet endpoints. Balance mutations happen
// exclusively through the ledger, driven by escrow release in the orders
// service; there is no public balance write.
type Handler struct {
	repo   *Repository
	logger *slog.Logger
}

func NewHandler(repo *Repository, logger *slog.Logger) *Handler {
	return &Handler{
		repo:   repo,
		logger: logger,
	}
}

func (h *Handler) HandleGetWallet(w http.ResponseWriter, r *http.Request) {
	walletID := r.PathValue("walletId")
	if walletID == "" {
		h.writeError(w, http.StatusBadRequest, "missing wallet id")
		return
	}

	wallet, err := h.repo.GetWallet(r.Context(), walletID)
	if err != nil {
		h.logger.Error("failed to get wallet", "error", err, "wallet_id", walletID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if wallet == nil {
		h.writeError(w, http.StatusNotFound, "wallet not found")
		return
	}

	h.writeJSON(w, http.StatusOK, wallet)
}

func (h *Handler) HandleGetPartnerWallet(w http.ResponseWriter, r *http.Request) {
	partnerID := r.PathValue("partnerId")
	if partnerID == "" {
		h.writeError(w, http.StatusBadRequest, "missing partner id")
		return
	}

	wallet, err := h.repo.GetWalletByPartner(r.Context(), partnerID)
	if err != nil {
		h.logger.Error("failed to get partner wallet", "error", err, "partner_id", partnerID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if wallet == nil {
		h.writeError(w, http.StatusNotFound, "wallet not found")
		return
	}

	h.writeJSON(w, http.StatusOK, wallet)
}

func (h *Handler) HandleListTransactions(w http.ResponseWriter, r *http.Request) {
	walletID := r.PathValue("walletId")
	if walletID == "" {
		h.writeError(w, http.StatusBadRequest, "missing wallet id")
		return
	}

	txs, err := h.repo.ListTransactions(r.Context(), walletID)
	if err != nil {
		h.logger.Error("failed to list wallet transactions", "error", err, "wallet_id", walletID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, txs)
}

func (h *Handler) HandleReconcile(w http.ResponseWriter, r *http.Request) {
	walletID := r.PathValue("walletId")
	if walletID == "" {
		h.writeError(w, http.StatusBadRequest, "missing wallet id")
		return
	}

	report, err := h.repo.Reconcile(r.Context(), walletID)
	if err != nil {
		if errors.Is(err, ErrWalletNotFound) {
			h.writeError(w, http.StatusNotFound, "wallet not found")
			return
		}
		h.logger.Error("failed to reconcile wallet", "error", err, "wallet_id", walletID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if !report.Consistent {
		h.logger.Warn("wallet ledger drift detected", "wallet_id", walletID, "difference", report.Difference)
	}

	h.writeJSON(w, http.StatusOK, report)
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
