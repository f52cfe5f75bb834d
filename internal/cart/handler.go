package cart

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/joao-fontenele/bitelynk/internal/auth"
	"github.com/joao-fontenele/bitelynk/internal/domain"
	"github.com/joao-fontenele/bitelynk/internal/respond"
)

type Handler struct {
	service *Service
	logger  *slog.Logger
}

func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

type cartResponse struct {
	Success   bool              `json:"success"`
	Count     int               `json:"count"`
	CartItems []domain.CartItem `json:"cartItems"`
}

type itemResponse struct {
	Success bool             `json:"success"`
	Message string           `json:"message"`
	Product *domain.CartItem `json:"product,omitempty"`
	ID      string           `json:"_id,omitempty"`
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())

	cart, err := h.service.GetCart(r.Context(), id.UserID)
	if err != nil {
		h.logger.Error("failed to load cart", "error", err, "user_id", id.UserID)
		h.writeError(w, http.StatusInternalServerError, "Server error")
		return
	}

	h.writeJSON(w, http.StatusOK, cartResponse{Success: true, Count: len(cart.Items), CartItems: cart.Items})
}

type addRequest struct {
	ProductID string `json:"productId"`
	Quantity  *int   `json:"quantity"`
}

func (h *Handler) HandleAdd(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())

	var req addRequest
	if err := respond.Decode(r, &req); err != nil || req.ProductID == "" || req.Quantity == nil || *req.Quantity == 0 {
		h.writeError(w, http.StatusBadRequest, "Product ID and quantity are required")
		return
	}

	item, outcome, err := h.service.AddItem(r.Context(), id.UserID, req.ProductID, *req.Quantity)
	if err != nil {
		switch {
		case errors.Is(err, ErrProductNotFound):
			h.writeError(w, http.StatusNotFound, "Product not found")
		case errors.Is(err, ErrInvalidQuantity):
			h.writeError(w, http.StatusBadRequest, "Quantity must be at least 1")
		default:
			h.logger.Error("failed to add cart item", "error", err, "user_id", id.UserID, "product_id", req.ProductID)
			h.writeError(w, http.StatusInternalServerError, "Server error")
		}
		return
	}

	switch outcome {
	case OutcomeRemoved:
		h.writeJSON(w, http.StatusOK, itemResponse{Success: true, Message: "Item removed from cart", Product: item})
	case OutcomeUpdated:
		h.writeJSON(w, http.StatusOK, itemResponse{Success: true, Message: "Item quantity updated", Product: item})
	default:
		h.writeJSON(w, http.StatusCreated, itemResponse{Success: true, Message: "Item added to cart", Product: item})
	}
}

type updateRequest struct {
	Quantity *int `json:"quantity"`
}

func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	itemID := chi.URLParam(r, "id")

	var req updateRequest
	if err := respond.Decode(r, &req); err != nil || req.Quantity == nil {
		h.writeError(w, http.StatusBadRequest, "Quantity is required")
		return
	}

	item, outcome, err := h.service.SetQuantity(r.Context(), id.UserID, itemID, *req.Quantity)
	if err != nil {
		if errors.Is(err, ErrItemNotFound) {
			h.writeError(w, http.StatusNotFound, "Cart item not found")
			return
		}
		h.logger.Error("failed to update cart item", "error", err, "user_id", id.UserID, "item_id", itemID)
		h.writeError(w, http.StatusInternalServerError, "Server error")
		return
	}

	message := "Cart item quantity updated"
	if outcome == OutcomeRemoved {
		message = "Item removed from cart"
	}
	h.writeJSON(w, http.StatusOK, itemResponse{Success: true, Message: message, Product: item})
}

func (h *Handler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	itemID := chi.URLParam(r, "id")

	if err := h.service.RemoveItem(r.Context(), id.UserID, itemID); err != nil {
		if errors.Is(err, ErrItemNotFound) {
			h.writeError(w, http.StatusNotFound, "Cart item not found")
			return
		}
		h.logger.Error("failed to remove cart item", "error", err, "user_id", id.UserID, "item_id", itemID)
		h.writeError(w, http.StatusInternalServerError, "Server error")
		return
	}

	h.writeJSON(w, http.StatusOK, itemResponse{Success: true, Message: "Cart item removed", ID: itemID})
}

func (h *Handler) HandleClear(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())

	if err := h.service.ClearCart(r.Context(), id.UserID); err != nil {
		h.logger.Error("failed to clear cart", "error", err, "user_id", id.UserID)
		h.writeError(w, http.StatusInternalServerError, "Server error")
		return
	}

	h.writeJSON(w, http.StatusOK, itemResponse{Success: true, Message: "Cart cleared"})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	if err := respond.JSON(w, status, data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	if err := respond.Error(w, status, message, ""); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}
