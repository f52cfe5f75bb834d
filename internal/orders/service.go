package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/bitelynk/internal/domain"
	"github.com/joao-fontenele/bitelynk/internal/payment"
)

const (
	referencePrefix = "BL"
	userOrderLimit  = 20
	defaultPageSize = 20
	maxPageSize     = 100

	defaultPublishTimeout = 2 * time.Second
)

type Store interface {
	Create(ctx context.Context, order *domain.Order) error
	Delete(ctx context.Context, id string) error
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	GetByReference(ctx context.Context, reference string) (*domain.Order, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]domain.Order, error)
	List(ctx context.Context, f Filter) ([]domain.Order, int, error)
	MarkPaid(ctx context.Context, reference, paymentIntentID string) (*domain.Order, bool, error)
	MarkPaymentFailed(ctx context.Context, reference string, at time.Time) (*domain.Order, bool, error)
	UpdateStatus(ctx context.Context, id string, status domain.OrderStatus, at time.Time) (*domain.Order, error)
	Update(ctx context.Context, id string, p Patch, at time.Time) (*domain.Order, error)
}

// CartSource reads the cart uncached so line items are priced from the
// catalogue as it is at checkout.
type CartSource interface {
	GetCartFresh(ctx context.Context, userID string) (*domain.Cart, error)
	ClearCart(ctx context.Context, userID string) error
}

type PaymentGateway interface {
	Initialize(ctx context.Context, req payment.InitializeRequest) (*payment.Authorization, error)
	Verify(ctx context.Context, reference string) (*payment.Transaction, error)
	VerifyWebhookSignature(payload []byte, signature string) bool
}

type Publisher interface {
	Publish(ctx context.Context, key string, event any) error
}

type Service struct {
	store       Store
	carts       CartSource
	gateway     PaymentGateway
	publisher   Publisher
	frontendURL string
	validate    *validator.Validate
	metrics     *metrics
	logger      *slog.Logger
	now         func() time.Time

	// publishTimeout caps how long a request waits on the event bus.
	publishTimeout time.Duration
}

func NewService(store Store, carts CartSource, gateway PaymentGateway, publisher Publisher, frontendURL string, logger *slog.Logger) *Service {
	return &Service{
		store:          store,
		carts:          carts,
		gateway:        gateway,
		publisher:      publisher,
		frontendURL:    strings.TrimRight(frontendURL, "/"),
		validate:       validator.New(validator.WithRequiredStructEnabled()),
		metrics:        newMetrics(),
		logger:         logger,
		now:            time.Now,
		publishTimeout: defaultPublishTimeout,
	}
}

type CheckoutRequest struct {
	FirstName     string               `json:"firstName" validate:"required"`
	LastName      string               `json:"lastName" validate:"required"`
	Email         string               `json:"email" validate:"required,email"`
	Phone         string               `json:"phone" validate:"required"`
	Address       string               `json:"address" validate:"required"`
	City          string               `json:"city" validate:"required"`
	State         string               `json:"state" validate:"required"`
	Zip           string               `json:"zip" validate:"required"`
	Country       string               `json:"country" validate:"required"`
	DeliveryFee   decimal.Decimal      `json:"deliveryFee" validate:"-"`
	PaymentMethod domain.PaymentMethod `json:"paymentMethod" validate:"-"`
}

func (r *CheckoutRequest) normalize() {
	for _, f := range []*string{&r.FirstName, &r.LastName, &r.Email, &r.Phone, &r.Address, &r.City, &r.State, &r.Zip, &r.Country} {
		*f = strings.TrimSpace(*f)
	}
	if r.PaymentMethod == "" {
		r.PaymentMethod = domain.PaymentMethodPaystack
	}
}

func (s *Service) validateCheckout(req *CheckoutRequest) error {
	req.normalize()

	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			if fe.Tag() == "required" {
				return &ValidationError{Message: "All delivery details are required"}
			}
		}
		return &ValidationError{Message: "Invalid email address"}
	}
	if !req.PaymentMethod.Valid() {
		return &ValidationError{Message: "Invalid payment method"}
	}
	if req.DeliveryFee.IsNegative() {
		return &ValidationError{Message: "Delivery fee cannot be negative"}
	}
	return nil
}

type CheckoutResult struct {
	Order   *domain.Order
	Payment *payment.Authorization
}

// Create turns the user's cart into an order. Online payments are
// initialized before the cart is cleared; if the gateway refuses, the order
// is removed again and the cart is left as it was.
func (s *Service) Create(ctx context.Context, userID string, req CheckoutRequest) (*CheckoutResult, error) {
	if err := s.validateCheckout(&req); err != nil {
		return nil, err
	}

	cart, err := s.carts.GetCartFresh(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	if cart.Empty() {
		return nil, ErrEmptyCart
	}

	totals := CalculateTotals(cart.Subtotal(), req.DeliveryFee.Round(2))
	order := &domain.Order{
		UserID:    userID,
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
		ShippingAddress: domain.ShippingAddress{
			Address: req.Address,
			City:    req.City,
			State:   req.State,
			Zip:     req.Zip,
			Country: req.Country,
		},
		Items:         cart.Snapshot(),
		PaymentMethod: req.PaymentMethod,
		Subtotal:      totals.Subtotal,
		VAT:           totals.VAT,
		DeliveryFee:   totals.DeliveryFee,
		Total:         totals.Total,
		PaymentStatus: domain.PaymentStatusPending,
		OrderStatus:   domain.OrderStatusProcessing,
	}
	if order.PaymentMethod.Online() {
		order.TransactionRef = payment.GenerateReference(referencePrefix, s.now())
	}

	if err := s.store.Create(ctx, order); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	result := &CheckoutResult{Order: order}

	if order.PaymentMethod.Online() {
		auth, err := s.gateway.Initialize(ctx, payment.InitializeRequest{
			Email:       order.Email,
			Amount:      order.Total,
			Reference:   order.TransactionRef,
			CallbackURL: s.frontendURL + "/order-success?reference=" + url.QueryEscape(order.TransactionRef),
			Metadata: map[string]string{
				"orderId":      order.ID,
				"userId":       userID,
				"customerName": order.CustomerName(),
			},
		})
		if err != nil {
			if delErr := s.store.Delete(ctx, order.ID); delErr != nil {
				s.logger.Error("failed to remove order after payment init failure", "error", delErr, "order_id", order.ID)
			}
			if errors.Is(err, payment.ErrUnavailable) {
				return nil, fmt.Errorf("%w: %w", ErrPaymentUnavailable, err)
			}
			return nil, fmt.Errorf("%w: %w", ErrPaymentInit, err)
		}
		result.Payment = auth
	}

	if err := s.carts.ClearCart(ctx, userID); err != nil {
		// The order stands; a stale cart is only an inconvenience.
		s.logger.Error("failed to clear cart after checkout", "error", err, "order_id", order.ID, "user_id", userID)
	}

	s.metrics.orderCreated(ctx, string(order.PaymentMethod))
	s.publish(ctx, domain.OrderEventCreated, order)
	s.logger.Info("order created", "order_id", order.ID, "user_id", userID,
		"payment_method", order.PaymentMethod, "total", order.Total.StringFixed(2))

	return result, nil
}

type VerifyResult struct {
	Order       *domain.Order
	Transaction *payment.Transaction
}

// Verify asks the gateway for the outcome of reference and applies it to the
// order. Repeated verification leaves a settled order as it is.
func (s *Service) Verify(ctx context.Context, reference string) (*VerifyResult, error) {
	txn, err := s.gateway.Verify(ctx, reference)
	if err != nil {
		if errors.Is(err, payment.ErrUnavailable) {
			return nil, fmt.Errorf("%w: %w", ErrPaymentUnavailable, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrPaymentVerify, err)
	}

	order, err := s.store.GetByReference(ctx, reference)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if order == nil {
		return nil, ErrNotFound
	}

	var changed bool
	if txn.Succeeded() {
		order, changed, err = s.markPaid(ctx, reference, txn.Reference, "verify")
	} else {
		order, changed, err = s.store.MarkPaymentFailed(ctx, reference, s.now())
		if err == nil && changed {
			s.metrics.paymentTransition(ctx, "failed", "verify")
			s.publish(ctx, domain.OrderEventPaymentFailed, order)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("apply payment outcome: %w", err)
	}

	s.logger.Info("payment verified", "reference", reference, "status", txn.Status, "changed", changed)
	return &VerifyResult{Order: order, Transaction: txn}, nil
}

func (s *Service) markPaid(ctx context.Context, reference, intentID, source string) (*domain.Order, bool, error) {
	order, changed, err := s.store.MarkPaid(ctx, reference, intentID)
	if err != nil {
		return nil, false, err
	}
	if changed {
		s.metrics.paymentTransition(ctx, "paid", source)
		s.publish(ctx, domain.OrderEventPaid, order)
	}
	return order, changed, nil
}

type webhookEvent struct {
	Event string `json:"event"`
	Data  struct {
		Reference string `json:"reference"`
	} `json:"data"`
}

// HandleWebhook authenticates and applies a provider callback. Only
// charge.success changes state; every other event is acknowledged.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	if !s.gateway.VerifyWebhookSignature(payload, signature) {
		s.metrics.webhook(ctx, "unknown", "rejected")
		return ErrInvalidSignature
	}

	var event webhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		s.metrics.webhook(ctx, "unknown", "malformed")
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	if event.Event != "charge.success" {
		s.metrics.webhook(ctx, event.Event, "ignored")
		s.logger.Info("webhook event ignored", "event", event.Event)
		return nil
	}

	reference := event.Data.Reference
	order, changed, err := s.markPaid(ctx, reference, reference, "webhook")
	if err != nil {
		s.metrics.webhook(ctx, event.Event, "error")
		return fmt.Errorf("mark order paid: %w", err)
	}
	if order == nil {
		s.metrics.webhook(ctx, event.Event, "unknown_reference")
		s.logger.Warn("webhook for unknown reference", "reference", reference)
		return nil
	}

	outcome := "duplicate"
	if changed {
		outcome = "applied"
	}
	s.metrics.webhook(ctx, event.Event, outcome)
	s.logger.Info("payment confirmed via webhook", "order_id", order.ID, "reference", reference, "changed", changed)
	return nil
}

// UpdateStatus sets any known order status. Transitions are not checked
// against a graph; admins may move an order freely.
func (s *Service) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus) (*domain.Order, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	order, err := s.store.UpdateStatus(ctx, id, status, s.now())
	if err != nil {
		return nil, fmt.Errorf("update order status: %w", err)
	}
	if order == nil {
		return nil, ErrNotFound
	}

	s.publish(ctx, domain.OrderEventStatusUpdated, order)
	s.logger.Info("order status updated", "order_id", order.ID, "status", order.OrderStatus)
	return order, nil
}

func (s *Service) AdminUpdate(ctx context.Context, id string, p Patch) (*domain.Order, error) {
	if p.OrderStatus != nil && !p.OrderStatus.Valid() {
		return nil, fmt.Errorf("%w: order status %q", ErrInvalidStatus, *p.OrderStatus)
	}
	if p.PaymentStatus != nil && !p.PaymentStatus.Valid() {
		return nil, fmt.Errorf("%w: payment status %q", ErrInvalidStatus, *p.PaymentStatus)
	}

	order, err := s.store.Update(ctx, id, p, s.now())
	if err != nil {
		return nil, fmt.Errorf("update order: %w", err)
	}
	if order == nil {
		return nil, ErrNotFound
	}

	if p.OrderStatus != nil || p.PaymentStatus != nil {
		s.publish(ctx, domain.OrderEventStatusUpdated, order)
	}
	s.logger.Info("order updated", "order_id", order.ID)
	return order, nil
}

func (s *Service) ListForUser(ctx context.Context, userID string) ([]domain.Order, error) {
	return s.store.ListByUser(ctx, userID, userOrderLimit)
}

// GetForUser returns an order owned by userID. A non-empty email must also
// match the address the order was placed with.
func (s *Service) GetForUser(ctx context.Context, id, userID, email string) (*domain.Order, error) {
	order, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if order == nil {
		return nil, ErrNotFound
	}
	if order.UserID != userID {
		return nil, ErrForbidden
	}
	if email != "" && !strings.EqualFold(order.Email, email) {
		return nil, ErrForbidden
	}
	return order, nil
}

type Pagination struct {
	CurrentPage int  `json:"currentPage"`
	TotalPages  int  `json:"totalPages"`
	TotalOrders int  `json:"totalOrders"`
	HasNextPage bool `json:"hasNextPage"`
	HasPrevPage bool `json:"hasPrevPage"`
}

func (f *Filter) normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = defaultPageSize
	}
	f.Limit = min(f.Limit, maxPageSize)
	f.Search = strings.TrimSpace(f.Search)
}

func (s *Service) List(ctx context.Context, f Filter) ([]domain.Order, Pagination, error) {
	f.normalize()

	orders, total, err := s.store.List(ctx, f)
	if err != nil {
		return nil, Pagination{}, fmt.Errorf("list orders: %w", err)
	}

	pages := int(math.Ceil(float64(total) / float64(f.Limit)))
	return orders, Pagination{
		CurrentPage: f.Page,
		TotalPages:  pages,
		TotalOrders: total,
		HasNextPage: f.Page < pages,
		HasPrevPage: f.Page > 1,
	}, nil
}

// Export returns every order matching the filter, ignoring pagination.
func (s *Service) Export(ctx context.Context, f Filter) ([]domain.Order, error) {
	f.Search = strings.TrimSpace(f.Search)
	f.Page, f.Limit = 0, 0

	orders, _, err := s.store.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list orders for export: %w", err)
	}
	return orders, nil
}

func (s *Service) publish(ctx context.Context, t domain.OrderEventType, order *domain.Order) {
	if s.publisher == nil {
		return
	}
	event := domain.NewOrderEvent(t, order, s.now().UTC())

	// The order is already committed; a slow broker or a client hanging up
	// must not hold the response or drop the event.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.publishTimeout)
	defer cancel()
	if err := s.publisher.Publish(ctx, order.ID, event); err != nil {
		s.logger.Error("failed to publish order event", "error", err, "order_id", order.ID, "type", t)
	}
}
