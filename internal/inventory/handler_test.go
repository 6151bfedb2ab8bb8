package inventory

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
	return NewHandler(nil, nil, logger)
}

func TestHandler_HandleCreateItem_Validation(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{
			name:       "malformed json",
			body:       `{"herb_id": `,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing herb_id",
			body:       `{"base_id": "b-1", "quantity_kg": 10, "price_usd": "12.50"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing base_id",
			body:       `{"herb_id": "h-1", "quantity_kg": 10, "price_usd": "12.50"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "quantity below minimum",
			body:       `{"herb_id": "h-1", "base_id": "b-1", "quantity_kg": 0.005, "price_usd": "12.50"}`,
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "price below minimum",
			body:       `{"herb_id": "h-1", "base_id": "b-1", "quantity_kg": 10, "price_usd": "0.001"}`,
			wantStatus: http.StatusUnprocessableEntity,
		},
	}

	handler := newTestHandler()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/items", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()

			handler.HandleCreateItem(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestHandler_HandleSetThreshold_Validation(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{
			name:       "malformed json",
			body:       `{"low_stock_threshold_kg": `,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "negative threshold",
			body:       `{"low_stock_threshold_kg": -1}`,
			wantStatus: http.StatusUnprocessableEntity,
		},
	}

	handler := newTestHandler()

	mux := http.NewServeMux()
	mux.HandleFunc("PATCH /items/{itemId}/threshold", handler.HandleSetThreshold)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPatch, "/items/i-1/threshold", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestHandler_HandleChange_InvalidBody(t *testing.T) {
	handler := newTestHandler()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /items/{itemId}/add", handler.HandleAddStock)

	req := httptest.NewRequest(http.MethodPost, "/items/i-1/add", strings.NewReader(`not json`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d: %s", rec.Code, rec.Body.String())
	}
}
