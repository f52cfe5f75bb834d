package orders

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/bitelynk/internal/auth"
	"github.com/joao-fontenele/bitelynk/internal/domain"
	"github.com/joao-fontenele/bitelynk/internal/payment"
	"github.com/joao-fontenele/bitelynk/internal/respond"
)

const maxWebhookBytes = 1 << 20

type Handler struct {
	service *Service
	logger  *slog.Logger
}

func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

type createdOrder struct {
	ID            string               `json:"id"`
	Reference     string               `json:"reference,omitempty"`
	Total         decimal.Decimal      `json:"total"`
	Status        domain.OrderStatus   `json:"status"`
	PaymentMethod domain.PaymentMethod `json:"paymentMethod"`
}

type createResponse struct {
	Success bool                   `json:"success"`
	Message string                 `json:"message"`
	Order   createdOrder           `json:"order"`
	Payment *payment.Authorization `json:"payment,omitempty"`
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())

	var req CheckoutRequest
	if err := respond.Decode(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body", "")
		return
	}

	result, err := h.service.Create(r.Context(), id.UserID, req)
	if err != nil {
		var verr *ValidationError
		switch {
		case errors.As(err, &verr):
			h.writeError(w, http.StatusBadRequest, verr.Message, "")
		case errors.Is(err, ErrEmptyCart):
			h.writeError(w, http.StatusBadRequest, "Cart is empty", "")
		case errors.Is(err, ErrPaymentUnavailable):
			h.writeError(w, http.StatusServiceUnavailable, "Payment initialization failed", providerDetail(err))
		case errors.Is(err, ErrPaymentInit):
			h.writeError(w, http.StatusBadRequest, "Payment initialization failed", providerDetail(err))
		default:
			h.logger.Error("failed to create order", "error", err, "user_id", id.UserID)
			h.writeError(w, http.StatusInternalServerError, "Failed to create order", "")
		}
		return
	}

	order := result.Order
	message := "Order placed successfully"
	if result.Payment != nil {
		message = "Order created successfully"
	}
	h.writeJSON(w, http.StatusCreated, createResponse{
		Success: true,
		Message: message,
		Order: createdOrder{
			ID:            order.ID,
			Reference:     order.TransactionRef,
			Total:         order.Total,
			Status:        order.OrderStatus,
			PaymentMethod: order.PaymentMethod,
		},
		Payment: result.Payment,
	})
}

type verifiedOrder struct {
	ID            string               `json:"id"`
	Status        domain.OrderStatus   `json:"status"`
	PaymentStatus domain.PaymentStatus `json:"paymentStatus"`
	Total         decimal.Decimal      `json:"total"`
}

type verifyResponse struct {
	Success bool                 `json:"success"`
	Message string               `json:"message"`
	Order   verifiedOrder        `json:"order"`
	Payment *payment.Transaction `json:"payment"`
}

func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	reference := chi.URLParam(r, "reference")
	if reference == "" {
		h.writeError(w, http.StatusBadRequest, "Payment reference is required", "")
		return
	}

	result, err := h.service.Verify(r.Context(), reference)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			h.writeError(w, http.StatusNotFound, "Order not found", "")
		case errors.Is(err, ErrPaymentUnavailable):
			h.writeError(w, http.StatusServiceUnavailable, "Payment verification failed", providerDetail(err))
		case errors.Is(err, ErrPaymentVerify):
			h.writeError(w, http.StatusBadRequest, "Payment verification failed", providerDetail(err))
		default:
			h.logger.Error("failed to verify payment", "error", err, "reference", reference)
			h.writeError(w, http.StatusInternalServerError, "Payment verification failed", "")
		}
		return
	}

	order := result.Order
	h.writeJSON(w, http.StatusOK, verifyResponse{
		Success: true,
		Message: "Payment " + result.Transaction.Status,
		Order: verifiedOrder{
			ID:            order.ID,
			Status:        order.OrderStatus,
			PaymentStatus: order.PaymentStatus,
			Total:         order.Total,
		},
		Payment: result.Transaction,
	})
}

func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid payload", "")
		return
	}

	err = h.service.HandleWebhook(r.Context(), payload, r.Header.Get(payment.SignatureHeader))
	switch {
	case err == nil:
		h.writeJSON(w, http.StatusOK, struct {
			Success bool `json:"success"`
		}{Success: true})
	case errors.Is(err, ErrInvalidSignature):
		h.logger.Warn("webhook rejected", "reason", "invalid signature")
		h.writeError(w, http.StatusBadRequest, "Invalid signature", "")
	case errors.Is(err, ErrInvalidPayload):
		h.writeError(w, http.StatusBadRequest, "Invalid payload", "")
	default:
		h.logger.Error("webhook processing failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "Webhook processing failed", "")
	}
}

type userOrderItem struct {
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
}

type userOrder struct {
	ID              string                 `json:"id"`
	User            string                 `json:"user"`
	Email           string                 `json:"email"`
	FirstName       string                 `json:"firstName"`
	LastName        string                 `json:"lastName"`
	Phone           string                 `json:"phone"`
	ShippingAddress domain.ShippingAddress `json:"shippingAddress"`
	Reference       *string                `json:"reference"`
	Total           decimal.Decimal        `json:"total"`
	Status          domain.OrderStatus     `json:"status"`
	PaymentStatus   domain.PaymentStatus   `json:"paymentStatus"`
	CreatedAt       time.Time              `json:"createdAt"`
	Items           []userOrderItem        `json:"items"`
}

type userOrdersResponse struct {
	Success bool        `json:"success"`
	Count   int         `json:"count"`
	Orders  []userOrder `json:"orders"`
}

func (h *Handler) HandleMyOrders(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())

	orders, err := h.service.ListForUser(r.Context(), id.UserID)
	if err != nil {
		h.logger.Error("failed to list user orders", "error", err, "user_id", id.UserID)
		h.writeError(w, http.StatusInternalServerError, "Failed to fetch orders", "")
		return
	}

	out := make([]userOrder, 0, len(orders))
	for _, o := range orders {
		items := make([]userOrderItem, 0, len(o.Items))
		for _, item := range o.Items {
			items = append(items, userOrderItem{Name: item.Name, Price: item.Price, Quantity: item.Quantity})
		}
		var reference *string
		if o.TransactionRef != "" {
			reference = &o.TransactionRef
		}
		out = append(out, userOrder{
			ID:              o.ID,
			User:            o.UserID,
			Email:           o.Email,
			FirstName:       o.FirstName,
			LastName:        o.LastName,
			Phone:           o.Phone,
			ShippingAddress: o.ShippingAddress,
			Reference:       reference,
			Total:           o.Total,
			Status:          o.OrderStatus,
			PaymentStatus:   o.PaymentStatus,
			CreatedAt:       o.CreatedAt,
			Items:           items,
		})
	}

	h.writeJSON(w, http.StatusOK, userOrdersResponse{Success: true, Count: len(out), Orders: out})
}

type orderResponse struct {
	Success bool          `json:"success"`
	Message string        `json:"message,omitempty"`
	Order   *domain.Order `json:"order"`
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	orderID := chi.URLParam(r, "id")

	order, err := h.service.GetForUser(r.Context(), orderID, id.UserID, r.URL.Query().Get("email"))
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			h.writeError(w, http.StatusNotFound, "Order not found", "")
		case errors.Is(err, ErrForbidden):
			h.writeError(w, http.StatusForbidden, "You do not have permission to view this order", "")
		default:
			h.logger.Error("failed to get order", "error", err, "order_id", orderID)
			h.writeError(w, http.StatusInternalServerError, "Failed to fetch order", "")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, orderResponse{Success: true, Order: order})
}

type adminOrderItem struct {
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
	Total    decimal.Decimal `json:"total"`
}

type adminCustomer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type adminOrder struct {
	ID              string                 `json:"id"`
	OrderNumber     string                 `json:"orderNumber"`
	Customer        adminCustomer          `json:"customer"`
	ShippingAddress domain.ShippingAddress `json:"shippingAddress"`
	Items           []adminOrderItem       `json:"items"`
	Subtotal        decimal.Decimal        `json:"subtotal"`
	VAT             decimal.Decimal        `json:"vat"`
	DeliveryFee     decimal.Decimal        `json:"deliveryFee"`
	Total           decimal.Decimal        `json:"total"`
	OrderStatus     domain.OrderStatus     `json:"orderStatus"`
	PaymentStatus   domain.PaymentStatus   `json:"paymentStatus"`
	PaymentMethod   domain.PaymentMethod   `json:"paymentMethod"`
	CreatedAt       time.Time              `json:"createdAt"`
	DeliveredAt     *time.Time             `json:"deliveredAt"`
	CancelledAt     *time.Time             `json:"cancelledAt"`
	DeliveryNotes   string                 `json:"deliveryNotes"`
}

type adminListResponse struct {
	Success    bool         `json:"success"`
	Orders     []adminOrder `json:"orders"`
	Pagination Pagination   `json:"pagination"`
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	filter, msg := filterFromQuery(r)
	if msg != "" {
		h.writeError(w, http.StatusBadRequest, msg, "")
		return
	}

	orders, page, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list orders", "error", err)
		h.writeError(w, http.StatusInternalServerError, "Failed to fetch orders", "")
		return
	}

	out := make([]adminOrder, 0, len(orders))
	for _, o := range orders {
		items := make([]adminOrderItem, 0, len(o.Items))
		for _, item := range o.Items {
			items = append(items, adminOrderItem{Name: item.Name, Price: item.Price, Quantity: item.Quantity, Total: item.LineTotal()})
		}
		number := o.TransactionRef
		if number == "" {
			number = o.ID
		}
		out = append(out, adminOrder{
			ID:              o.ID,
			OrderNumber:     number,
			Customer:        adminCustomer{Name: o.CustomerName(), Email: o.Email, Phone: o.Phone},
			ShippingAddress: o.ShippingAddress,
			Items:           items,
			Subtotal:        o.Subtotal,
			VAT:             o.VAT,
			DeliveryFee:     o.DeliveryFee,
			Total:           o.Total,
			OrderStatus:     o.OrderStatus,
			PaymentStatus:   o.PaymentStatus,
			PaymentMethod:   o.PaymentMethod,
			CreatedAt:       o.CreatedAt,
			DeliveredAt:     o.DeliveredAt,
			CancelledAt:     o.CancelledAt,
			DeliveryNotes:   o.DeliveryNotes,
		})
	}

	h.writeJSON(w, http.StatusOK, adminListResponse{Success: true, Orders: out, Pagination: page})
}

func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	filter, msg := filterFromQuery(r)
	if msg != "" {
		h.writeError(w, http.StatusBadRequest, msg, "")
		return
	}

	orders, err := h.service.Export(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to export orders", "error", err)
		h.writeError(w, http.StatusInternalServerError, "Failed to export orders", "")
		return
	}

	filename := fmt.Sprintf("orders-%s.xlsx", time.Now().UTC().Format("20060102-150405"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	if err := WriteWorkbook(w, orders); err != nil {
		h.logger.Error("failed to write orders workbook", "error", err)
		return
	}

	h.logger.Info("orders exported", "count", len(orders))
}

type statusRequest struct {
	OrderStatus domain.OrderStatus `json:"orderStatus"`
}

func (h *Handler) HandleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	var req statusRequest
	if err := respond.Decode(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body", "")
		return
	}

	order, err := h.service.UpdateStatus(r.Context(), orderID, req.OrderStatus)
	h.writeUpdateResult(w, orderID, order, err, "Order status updated successfully")
}

func (h *Handler) HandleAdminUpdate(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	var patch Patch
	if err := respond.Decode(r, &patch); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body", "")
		return
	}
	if patch.Empty() {
		h.writeError(w, http.StatusBadRequest, "No updatable fields provided", "")
		return
	}

	order, err := h.service.AdminUpdate(r.Context(), orderID, patch)
	h.writeUpdateResult(w, orderID, order, err, "Order updated successfully")
}

func (h *Handler) writeUpdateResult(w http.ResponseWriter, orderID string, order *domain.Order, err error, message string) {
	switch {
	case err == nil:
		h.writeJSON(w, http.StatusOK, orderResponse{Success: true, Message: message, Order: order})
	case errors.Is(err, ErrInvalidStatus):
		h.writeError(w, http.StatusBadRequest, "Invalid status", err.Error())
	case errors.Is(err, ErrNotFound):
		h.writeError(w, http.StatusNotFound, "Order not found", "")
	default:
		h.logger.Error("failed to update order", "error", err, "order_id", orderID)
		h.writeError(w, http.StatusInternalServerError, "Failed to update order status", "")
	}
}

func filterFromQuery(r *http.Request) (Filter, string) {
	q := r.URL.Query()
	f := Filter{
		OrderStatus:   domain.OrderStatus(q.Get("status")),
		PaymentStatus: domain.PaymentStatus(q.Get("paymentStatus")),
		Search:        q.Get("search"),
	}

	var err error
	if v := q.Get("page"); v != "" {
		if f.Page, err = strconv.Atoi(v); err != nil {
			return f, "Invalid page"
		}
	}
	if v := q.Get("limit"); v != "" {
		if f.Limit, err = strconv.Atoi(v); err != nil {
			return f, "Invalid limit"
		}
	}
	if f.OrderStatus != "" && !f.OrderStatus.Valid() {
		return f, "Invalid status"
	}
	if f.PaymentStatus != "" && !f.PaymentStatus.Valid() {
		return f, "Invalid payment status"
	}
	return f, ""
}

// providerDetail extracts the gateway's own message for the error field.
func providerDetail(err error) string {
	var perr *payment.ProviderError
	if errors.As(err, &perr) {
		return perr.Message
	}
	if errors.Is(err, payment.ErrUnavailable) {
		return payment.ErrUnavailable.Error()
	}
	return ""
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	if err := respond.JSON(w, status, data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message, detail string) {
	if err := respond.Error(w, status, message, detail); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}
