package gateway

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	meter           = otel.Meter("gateway")
	proxiedRequests metric.Int64Counter
	proxiedFailures metric.Int64Counter
)

func init() {
	proxiedRequests, _ = meter.Int64Counter("gateway.proxied_requests",
		metric.WithDescription("Requests forwarded to downstream services"))
	proxiedFailures, _ = meter.Int64Counter("gateway.proxy_failures",
		metric.WithDescription("Requests that failed to reach a downstream service"))
}

// Handler fronts the orders, inventory and wallets services. The
// inventory service also hosts the catalog reads, so catalog paths are
// rewritten onto it.
type Handler struct {
	ordersProxy    *ServiceProxy
	inventoryProxy *ServiceProxy
	walletsProxy   *ServiceProxy
	logger         *slog.Logger
}

func NewHandler(ordersProxy, inventoryProxy, walletsProxy *ServiceProxy, logger *slog.Logger) *Handler {
	return &Handler{
		ordersProxy:    ordersProxy,
		inventoryProxy: inventoryProxy,
		walletsProxy:   walletsProxy,
		logger:         logger,
	}
}

func (h *Handler) HandleOrders(w http.ResponseWriter, r *http.Request) {
	h.proxyRequest(w, r, h.ordersProxy, r.URL.Path)
}

func (h *Handler) HandleInventory(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/inventory")
	h.proxyRequest(w, r, h.inventoryProxy, path)
}

func (h *Handler) HandleCatalog(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/catalog")
	h.proxyRequest(w, r, h.inventoryProxy, path)
}

func (h *Handler) HandleWallets(w http.ResponseWriter, r *http.Request) {
	h.proxyRequest(w, r, h.walletsProxy, r.URL.Path)
}

func (h *Handler) proxyRequest(w http.ResponseWriter, r *http.Request, proxy *ServiceProxy, path string) {
	resp, err := proxy.ForwardRequest(r.Context(), r, path)
	if err != nil {
		proxiedFailures.Add(r.Context(), 1, metric.WithAttributes(attribute.String("http.request.method", r.Method)))
		h.logger.Error("failed to forward request", "error", err, "path", path)
		h.writeError(w, http.StatusBadGateway, "service unavailable")
		return
	}
	defer func() { _ = resp.Body.Close() }()

	proxiedRequests.Add(r.Context(), 1, metric.WithAttributes(
		attribute.String("http.request.method", r.Method),
		attribute.Int("http.response.status_code", resp.StatusCode),
	))

	if contentType := resp.Header.Get("Content-Type"); contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}

	w.WriteHeader(resp.StatusCode)

	h.logger.Info("request proxied", "method", r.Method, "path", path, "status", resp.StatusCode)

	if _, err := io.Copy(w, resp.Body); err != nil {
		h.logger.Error("failed to copy response body", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		h.logger.Error("failed to encode error response", "error", err)
	}
}
