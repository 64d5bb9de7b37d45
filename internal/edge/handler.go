package edge

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/checkout-pipeline/internal/telemetry"
)

// PublicRoutes are forwarded to the checkout service.
var PublicRoutes = []string{
	"POST /cart",
	"GET /cart/{cartId}",
	"POST /cart/{cartId}/items",
	"DELETE /cart/{cartId}/items/{productId}",
	"POST /cart/{cartId}/checkout",
	"POST /orders/{orderId}/payment-intent",
	"POST /payment/verify",
	"GET /orders/{orderId}",
	"GET /products",
	"GET /products/{productId}",
}

// AdminRoutes exist on the checkout service but are not reachable from outside.
// GET /orders without a user filter is blocked as well, see HandleUserOrders.
var AdminRoutes = []string{
	"GET /orders/stats",
	"PATCH /orders/{orderId}/status",
	"POST /products",
	"PUT /products/{productId}",
	"DELETE /products/{productId}",
}

type Handler struct {
	checkoutProxy *ServiceProxy
	logger        *slog.Logger
}

func NewHandler(checkoutProxy *ServiceProxy, logger *slog.Logger) *Handler {
	return &Handler{
		checkoutProxy: checkoutProxy,
		logger:        logger,
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	for _, pattern := range PublicRoutes {
		mux.HandleFunc(pattern, telemetry.WithHTTPRoute(h.HandleCheckout))
	}
	for _, pattern := range AdminRoutes {
		mux.HandleFunc(pattern, telemetry.WithHTTPRoute(h.HandleBlocked))
	}
	mux.HandleFunc("GET /orders", telemetry.WithHTTPRoute(h.HandleUserOrders))
}

// HandleUserOrders forwards order listings scoped to one user. Listing every
// order, with or without a status filter, is administrative and stays internal.
func (h *Handler) HandleUserOrders(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("user") == "" {
		h.HandleBlocked(w, r)
		return
	}
	h.HandleCheckout(w, r)
}

func (h *Handler) HandleCheckout(w http.ResponseWriter, r *http.Request) {
	h.proxyRequest(w, r, h.checkoutProxy, r.URL.Path)
}

func (h *Handler) HandleBlocked(w http.ResponseWriter, r *http.Request) {
	h.logger.Warn("admin route blocked", "method", r.Method, "path", r.URL.Path)
	h.writeError(w, http.StatusNotFound, "not found")
}

func (h *Handler) proxyRequest(w http.ResponseWriter, r *http.Request, proxy *ServiceProxy, path string) {
	resp, err := proxy.ForwardRequest(r.Context(), r, path)
	if err != nil {
		h.logger.Error("failed to forward request", "error", err, "path", path)
		h.writeError(w, http.StatusBadGateway, "service unavailable")
		return
	}
	defer func() { _ = resp.Body.Close() }()

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
