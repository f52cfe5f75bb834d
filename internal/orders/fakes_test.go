package orders

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/bitelynk/internal/domain"
	"github.com/joao-fontenele/bitelynk/internal/payment"
)

// memoryStore applies the same conditional transitions as OrderRepository.
type memoryStore struct {
	mu        sync.Mutex
	orders    map[string]*domain.Order
	createErr error
	creates   int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{orders: make(map[string]*domain.Order)}
}

func (s *memoryStore) Create(_ context.Context, order *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creates++
	if s.createErr != nil {
		return s.createErr
	}
	order.ID = uuid.New().String()
	order.Version = 1
	order.CreatedAt = time.Now()
	cp := *order
	s.orders[order.ID] = &cp
	return nil
}

func (s *memoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.orders, id)
	return nil
}

func (s *memoryStore) GetByID(_ context.Context, id string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orders[id]; ok {
		cp := *o
		return &cp, nil
	}
	return nil, nil
}

func (s *memoryStore) GetByReference(_ context.Context, reference string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byReference(reference), nil
}

func (s *memoryStore) byReference(reference string) *domain.Order {
	for _, o := range s.orders {
		if reference != "" && o.TransactionRef == reference {
			cp := *o
			return &cp
		}
	}
	return nil
}

func (s *memoryStore) ListByUser(_ context.Context, userID string, limit int) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []domain.Order{}
	for _, o := range s.orders {
		if o.UserID == userID {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memoryStore) List(_ context.Context, f Filter) ([]domain.Order, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []domain.Order{}
	for _, o := range s.orders {
		if f.OrderStatus != "" && o.OrderStatus != f.OrderStatus {
			continue
		}
		if f.PaymentStatus != "" && o.PaymentStatus != f.PaymentStatus {
			continue
		}
		if f.Search != "" {
			needle := strings.ToLower(f.Search)
			if !strings.Contains(strings.ToLower(o.FirstName+" "+o.LastName+" "+o.Email), needle) {
				continue
			}
		}
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	total := len(out)
	if f.Limit > 0 {
		start := min((f.Page-1)*f.Limit, total)
		out = out[start:min(start+f.Limit, total)]
	}
	return out, total, nil
}

func (s *memoryStore) MarkPaid(_ context.Context, reference, intentID string) (*domain.Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.TransactionRef == reference && o.PaymentStatus != domain.PaymentStatusPaid {
			o.PaymentStatus = domain.PaymentStatusPaid
			o.OrderStatus = domain.OrderStatusConfirmed
			o.PaymentIntentID = intentID
			o.Version++
			cp := *o
			return &cp, true, nil
		}
	}
	return s.byReference(reference), false, nil
}

func (s *memoryStore) MarkPaymentFailed(_ context.Context, reference string, at time.Time) (*domain.Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.TransactionRef == reference && o.PaymentStatus == domain.PaymentStatusPending {
			o.PaymentStatus = domain.PaymentStatusFailed
			o.OrderStatus = domain.OrderStatusCancelled
			o.CancelledAt = &at
			o.Version++
			cp := *o
			return &cp, true, nil
		}
	}
	return s.byReference(reference), false, nil
}

func (s *memoryStore) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus, at time.Time) (*domain.Order, error) {
	return s.Update(ctx, id, Patch{OrderStatus: &status}, at)
}

func (s *memoryStore) Update(_ context.Context, id string, p Patch, at time.Time) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, nil
	}
	if p.OrderStatus != nil {
		o.OrderStatus = *p.OrderStatus
		switch *p.OrderStatus {
		case domain.OrderStatusDelivered:
			o.DeliveredAt = &at
		case domain.OrderStatusCancelled:
			o.CancelledAt = &at
		}
	}
	if p.PaymentStatus != nil {
		o.PaymentStatus = *p.PaymentStatus
	}
	if p.DeliveryNotes != nil {
		o.DeliveryNotes = *p.DeliveryNotes
	}
	if p.ExpectedDeliveryDate != nil {
		o.ExpectedDeliveryDate = p.ExpectedDeliveryDate
	}
	o.Version++
	cp := *o
	return &cp, nil
}

type fakeCarts struct {
	mu      sync.Mutex
	carts   map[string]*domain.Cart
	reads   int
	clears  int
	readErr error
}

func newFakeCarts() *fakeCarts {
	return &fakeCarts{carts: make(map[string]*domain.Cart)}
}

func (c *fakeCarts) put(userID string, items ...domain.CartItem) {
	c.carts[userID] = &domain.Cart{UserID: userID, Items: items}
}

func (c *fakeCarts) GetCartFresh(_ context.Context, userID string) (*domain.Cart, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads++
	if c.readErr != nil {
		return nil, c.readErr
	}
	if cart, ok := c.carts[userID]; ok {
		return cart, nil
	}
	return &domain.Cart{UserID: userID}, nil
}

func (c *fakeCarts) ClearCart(_ context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clears++
	delete(c.carts, userID)
	return nil
}

const webhookSecret = "sk_test_secret"

type fakeGateway struct {
	initErr     error
	verifyErr   error
	status      string
	initialized []payment.InitializeRequest
}

func (g *fakeGateway) Initialize(_ context.Context, req payment.InitializeRequest) (*payment.Authorization, error) {
	g.initialized = append(g.initialized, req)
	if g.initErr != nil {
		return nil, g.initErr
	}
	return &payment.Authorization{
		AuthorizationURL: "https://checkout.paystack.test/" + req.Reference,
		AccessCode:       "ac_123",
		Reference:        req.Reference,
	}, nil
}

func (g *fakeGateway) Verify(_ context.Context, reference string) (*payment.Transaction, error) {
	if g.verifyErr != nil {
		return nil, g.verifyErr
	}
	return &payment.Transaction{Reference: reference, Status: g.status, Currency: "NGN"}, nil
}

func (g *fakeGateway) VerifyWebhookSignature(payload []byte, signature string) bool {
	return payment.ValidSignature(webhookSecret, payload, signature)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.OrderEvent
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := event.(domain.OrderEvent)
	if !ok {
		return errors.New("unexpected event type")
	}
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []domain.OrderEventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.OrderEventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	store     *memoryStore
	carts     *fakeCarts
	gateway   *fakeGateway
	publisher *recordingPublisher
	service   *Service
}

func newFixture() *fixture {
	f := &fixture{
		store:     newMemoryStore(),
		carts:     newFakeCarts(),
		gateway:   &fakeGateway{status: "success"},
		publisher: &recordingPublisher{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.service = NewService(f.store, f.carts, f.gateway, f.publisher, "https://shop.test/", logger)
	return f
}

func cartItem(name, price string, qty int) domain.CartItem {
	return domain.CartItem{
		ProductID: "p-" + name,
		Quantity:  qty,
		Product: domain.Product{
			ID:       "p-" + name,
			Name:     name,
			Price:    decimal.RequireFromString(price),
			ImageURL: "https://cdn.test/" + name + ".png",
		},
	}
}

func validCheckout() CheckoutRequest {
	return CheckoutRequest{
		FirstName:   "Ada",
		LastName:    "Obi",
		Email:       "ada@example.com",
		Phone:       "+2348000000000",
		Address:     "1 Marina",
		City:        "Lagos",
		State:       "Lagos",
		Zip:         "100001",
		Country:     "Nigeria",
		DeliveryFee: decimal.NewFromInt(500),
	}
}
