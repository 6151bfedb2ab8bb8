package catalog

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

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

func (h *Handler) HandleListHerbs(w http.ResponseWriter, r *http.Request) {
	herbs, err := h.repo.ListHerbs(r.Context())
	if err != nil {
		h.logger.Error("failed to list herbs", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, herbs)
}

func (h *Handler) HandleGetHerb(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")
	if slug == "" {
		h.writeError(w, http.StatusBadRequest, "missing herb slug")
		return
	}

	herb, err := h.repo.GetHerbBySlug(r.Context(), slug)
	if err != nil {
		h.logger.Error("failed to get herb", "error", err, "slug", slug)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if herb == nil {
		h.writeError(w, http.StatusNotFound, "herb not found")
		return
	}

	h.writeJSON(w, http.StatusOK, herb)
}

func (h *Handler) HandleListPartners(w http.ResponseWriter, r *http.Request) {
	partners, err := h.repo.ListPartners(r.Context())
	if err != nil {
		h.logger.Error("failed to list partners", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, partners)
}

func (h *Handler) HandleGetPartner(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("partnerId")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing partner id")
		return
	}

	partner, err := h.repo.GetPartner(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get partner", "error", err, "partner_id", id)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if partner == nil {
		h.writeError(w, http.StatusNotFound, "partner not found")
		return
	}

	h.writeJSON(w, http.StatusOK, partner)
}

func (h *Handler) HandleListBases(w http.ResponseWriter, r *http.Request) {
	partnerID := r.PathValue("partnerId")
	if partnerID == "" {
		h.writeError(w, http.StatusBadRequest, "missing partner id")
		return
	}

	bases, err := h.repo.ListBases(r.Context(), partnerID)
	if err != nil {
		h.logger.Error("failed to list bases", "error", err, "partner_id", partnerID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, bases)
}

func (h *Handler) HandleListCurrencies(w http.ResponseWriter, r *http.Request) {
	currencies, err := h.repo.ListCurrencies(r.Context())
	if err != nil {
		h.logger.Error("failed to list currencies", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, currencies)
}

func (h *Handler) HandleGetRate(w http.ResponseWriter, r *http.Request) {
	base := r.PathValue("base")
	target := r.PathValue("target")
	if base == "" || target == "" {
		h.writeError(w, http.StatusBadRequest, "missing currency pair")
		return
	}

	rate, err := h.repo.GetRate(r.Context(), base, target)
	if err != nil {
		h.logger.Error("failed to get exchange rate", "error", err, "base", base, "target", target)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if rate == nil {
		h.writeError(w, http.StatusNotFound, "no rate for currency pair")
		return
	}

	h.writeJSON(w, http.StatusOK, rate)
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
