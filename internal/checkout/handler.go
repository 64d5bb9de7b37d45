package checkout

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/checkout-pipeline/internal/logging"
	"github.com/joao-fontenele/checkout-pipeline/internal/telemetry"
)

type Handler struct {
	engine     *Engine
	reconciler *Reconciler
}

func NewHandler(engine *Engine, reconciler *Reconciler) *Handler {
	return &Handler{engine: engine, reconciler: reconciler}
}

// Register mounts the order and payment routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /cart/{cartId}/checkout", telemetry.WithHTTPRoute(h.HandlePlaceOrder))
	mux.HandleFunc("POST /orders/{orderId}/payment-intent", telemetry.WithHTTPRoute(h.HandleCreatePaymentIntent))
	mux.HandleFunc("POST /payment/verify", telemetry.WithHTTPRoute(h.HandleVerifyPayment))
	mux.HandleFunc("GET /orders", telemetry.WithHTTPRoute(h.HandleList))
	mux.HandleFunc("GET /orders/stats", telemetry.WithHTTPRoute(h.HandleStats))
	mux.HandleFunc("GET /orders/{orderId}", telemetry.WithHTTPRoute(h.HandleGet))
	mux.HandleFunc("PATCH /orders/{orderId}/status", telemetry.WithHTTPRoute(h.HandleUpdateStatus))
}

// placeOrderRequest accepts either {"line_ids": [...]} or a bare JSON array of
// line ids.
type placeOrderRequest struct {
	LineIDs []string `json:"line_ids"`
}

func (p *placeOrderRequest) UnmarshalJSON(data []byte) error {
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '[' {
		return json.Unmarshal(trimmed, &p.LineIDs)
	}
	type envelope placeOrderRequest
	return json.Unmarshal(data, (*envelope)(p))
}

func (h *Handler) HandlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	cartID := r.PathValue("cartId")

	var req placeOrderRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	order, err := h.engine.PlaceOrder(r.Context(), cartID, req.LineIDs)
	if err != nil {
		writeServiceError(w, r, err, "failed to place order")
		return
	}

	writeJSON(w, r, http.StatusCreated, order)
}

type paymentIntentRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func (h *Handler) HandleCreatePaymentIntent(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("orderId")

	var req paymentIntentRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	payload, err := h.engine.CreatePaymentIntent(r.Context(), orderID, req.Amount)
	if err != nil {
		writeServiceError(w, r, err, "failed to create payment intent")
		return
	}

	writeJSON(w, r, http.StatusOK, payload)
}

type verifyPaymentRequest struct {
	GatewayOrderRef string `json:"gateway_order_ref"`
	PaymentRef      string `json:"payment_ref"`
	Signature       string `json:"signature"`
}

type verifyPaymentResponse struct {
	Verified bool `json:"verified"`
}

func (h *Handler) HandleVerifyPayment(w http.ResponseWriter, r *http.Request) {
	var req verifyPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	verified, err := h.reconciler.VerifyAndApply(r.Context(), req.GatewayOrderRef, req.PaymentRef, req.Signature)
	if err != nil {
		writeServiceError(w, r, err, "failed to verify payment")
		return
	}

	writeJSON(w, r, http.StatusOK, verifyPaymentResponse{Verified: verified})
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	order, err := h.engine.GetOrder(r.Context(), r.PathValue("orderId"))
	if err != nil {
		writeServiceError(w, r, err, "failed to get order")
		return
	}

	writeJSON(w, r, http.StatusOK, order)
}

// HandleList serves GET /orders with optional user and status query filters.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID, status := q.Get("user"), q.Get("status")
	_, hasStatus := q["status"]

	var (
		orders any
		err    error
	)
	switch {
	case userID != "" && hasStatus:
		orders, err = h.engine.FilterUserOrdersByStatus(r.Context(), userID, status)
	case userID != "":
		orders, err = h.engine.OrdersForUser(r.Context(), userID)
	case hasStatus:
		orders, err = h.engine.OrdersByStatus(r.Context(), status)
	default:
		orders, err = h.engine.ListOrders(r.Context())
	}
	if err != nil {
		writeServiceError(w, r, err, "failed to list orders")
		return
	}

	writeJSON(w, r, http.StatusOK, orders)
}

func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.Stats(r.Context())
	if err != nil {
		writeServiceError(w, r, err, "failed to compute order statistics")
		return
	}

	writeJSON(w, r, http.StatusOK, stats)
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) HandleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	order, err := h.engine.UpdateOrderStatus(r.Context(), r.PathValue("orderId"), req.Status)
	if err != nil {
		writeServiceError(w, r, err, "failed to update order status")
		return
	}

	writeJSON(w, r, http.StatusOK, order)
}

// decodeOptional decodes a JSON body into v, treating an empty body as {}.
func decodeOptional(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// StatusFor maps a service error to its HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, ErrExternalService):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError writes err with its mapped status. Unclassified errors are
// logged and replaced by a generic message.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error, logMsg string) {
	status := StatusFor(err)
	logger := logging.FromContext(r.Context())

	switch status {
	case http.StatusInternalServerError:
		logger.Error(logMsg, "error", err)
		writeError(w, r, status, "internal server error")
		return
	case http.StatusBadGateway:
		logger.Error(logMsg, "error", err)
	default:
		logger.Info(logMsg, "error", err)
	}
	writeError(w, r, status, err.Error())
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.FromContext(r.Context()).Error("failed to encode response", slog.Any("error", err))
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	writeJSON(w, r, status, map[string]string{"error": message})
}
