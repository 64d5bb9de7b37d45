package cart

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/joao-fontenele/checkout-pipeline/internal/domain"
	"github.com/joao-fontenele/checkout-pipeline/internal/telemetry"
)

// Store is the cart persistence the handler needs. Get returns nil, nil for an
// unknown cart.
type Store interface {
	GetOrCreate(ctx context.Context, userID string) (*domain.Cart, error)
	Get(ctx context.Context, cartID string) (*domain.Cart, error)
	AddLine(ctx context.Context, cartID, productID string, quantity int) error
	RemoveLine(ctx context.Context, cartID, productID string) error
}

type Handler struct {
	store  Store
	logger *slog.Logger
}

func NewHandler(store Store, logger *slog.Logger) *Handler {
	return &Handler{
		store:  store,
		logger: logger,
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /cart", telemetry.WithHTTPRoute(h.HandleCreate))
	mux.HandleFunc("GET /cart/{cartId}", telemetry.WithHTTPRoute(h.HandleGet))
	mux.HandleFunc("POST /cart/{cartId}/items", telemetry.WithHTTPRoute(h.HandleAddItem))
	mux.HandleFunc("DELETE /cart/{cartId}/items/{productId}", telemetry.WithHTTPRoute(h.HandleRemoveItem))
}

type createCartRequest struct {
	UserID string `json:"user_id"`
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createCartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		h.writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	cart, err := h.store.GetOrCreate(r.Context(), req.UserID)
	if err != nil {
		h.logger.Error("failed to create cart", "error", err, "user_id", req.UserID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("cart opened", "cart_id", cart.ID, "user_id", cart.UserID)
	h.writeJSON(w, http.StatusOK, cart)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	cartID := r.PathValue("cartId")

	cart, err := h.store.Get(r.Context(), cartID)
	if err != nil {
		h.logger.Error("failed to get cart", "error", err, "cart_id", cartID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if cart == nil {
		h.writeError(w, http.StatusNotFound, "cart not found")
		return
	}

	h.writeJSON(w, http.StatusOK, cart)
}

type addItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

func (h *Handler) HandleAddItem(w http.ResponseWriter, r *http.Request) {
	cartID := r.PathValue("cartId")

	var req addItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ProductID == "" {
		h.writeError(w, http.StatusBadRequest, "product_id is required")
		return
	}
	if req.Quantity <= 0 {
		h.writeError(w, http.StatusBadRequest, "quantity must be positive")
		return
	}

	if err := h.store.AddLine(r.Context(), cartID, req.ProductID, req.Quantity); err != nil {
		h.writeStoreError(w, err, "failed to add cart item", cartID)
		return
	}

	h.logger.Info("cart item added", "cart_id", cartID, "product_id", req.ProductID, "quantity", req.Quantity)
	h.respondWithCart(w, r, cartID)
}

func (h *Handler) HandleRemoveItem(w http.ResponseWriter, r *http.Request) {
	cartID := r.PathValue("cartId")
	productID := r.PathValue("productId")

	if err := h.store.RemoveLine(r.Context(), cartID, productID); err != nil {
		h.writeStoreError(w, err, "failed to remove cart item", cartID)
		return
	}

	h.logger.Info("cart item removed", "cart_id", cartID, "product_id", productID)
	h.respondWithCart(w, r, cartID)
}

func (h *Handler) respondWithCart(w http.ResponseWriter, r *http.Request, cartID string) {
	cart, err := h.store.Get(r.Context(), cartID)
	if err != nil || cart == nil {
		h.logger.Error("failed to reload cart", "error", err, "cart_id", cartID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, cart)
}

func (h *Handler) writeStoreError(w http.ResponseWriter, err error, msg, cartID string) {
	switch {
	case errors.Is(err, ErrCartNotFound), errors.Is(err, ErrProductNotFound), errors.Is(err, ErrLineNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	default:
		h.logger.Error(msg, "error", err, "cart_id", cartID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
	}
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
