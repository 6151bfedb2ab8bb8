package orders

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestHandler() *Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewHandler(nil, nil, nil, logger)
}

func TestHandler_HandleCreate_Validation(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{
			name:       "malformed json",
			body:       `{"user_id": `,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing user_id",
			body:       `{"partner_id": "p-1", "items": [{"inventory_item_id": "i-1", "quantity_kg": 1}]}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing partner_id",
			body:       `{"user_id": "u-1", "items": [{"inventory_item_id": "i-1", "quantity_kg": 1}]}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "empty items",
			body:       `{"user_id": "u-1", "partner_id": "p-1", "items": []}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "quantity below minimum",
			body:       `{"user_id": "u-1", "partner_id": "p-1", "items": [{"inventory_item_id": "i-1", "quantity_kg": 0.005}]}`,
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "zero quantity",
			body:       `{"user_id": "u-1", "partner_id": "p-1", "items": [{"inventory_item_id": "i-1", "quantity_kg": 0}]}`,
			wantStatus: http.StatusUnprocessableEntity,
		},
	}

	handler := newTestHandler()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()

			handler.HandleCreate(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestHandler_HandleGet_MissingID(t *testing.T) {
	handler := newTestHandler()

	req := httptest.NewRequest(http.MethodGet, "/orders/", nil)
	rec := httptest.NewRecorder()

	handler.HandleGet(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rec.Code)
	}
}

func TestHandler_HandleUpdateStatus_InvalidBody(t *testing.T) {
	handler := newTestHandler()

	mux := http.NewServeMux()
	mux.HandleFunc("PATCH /orders/{id}/status", handler.HandleUpdateStatus)

	req := httptest.NewRequest(http.MethodPatch, "/orders/o-1/status", strings.NewReader(`not json`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d: %s", rec.Code, rec.Body.String())
	}
}
