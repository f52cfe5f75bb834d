//go:build integration

package test

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/bitelynk/internal/cart"
	"github.com/joao-fontenele/bitelynk/internal/domain"
	"github.com/joao-fontenele/bitelynk/internal/messaging"
	"github.com/joao-fontenele/bitelynk/internal/orders"
	"github.com/joao-fontenele/bitelynk/internal/payment"
	"github.com/joao-fontenele/bitelynk/internal/products"
	"github.com/joao-fontenele/bitelynk/internal/users"
	"github.com/joao-fontenele/bitelynk/internal/worker"
)

const paystackSecret = "sk_test_integration"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakePaystack answers initialize and verify the way the live API does for a
// successful card payment.
func fakePaystack(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/transaction/initialize":
			var body struct {
				Reference string `json:"reference"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"status":  true,
				"message": "Authorization URL created",
				"data": map[string]string{
					"authorization_url": "https://checkout.paystack.test/" + body.Reference,
					"access_code":       "ac_integration",
					"reference":         body.Reference,
				},
			})
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/transaction/verify/"):
			ref := strings.TrimPrefix(r.URL.Path, "/transaction/verify/")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"status":  true,
				"message": "Verification successful",
				"data": map[string]any{
					"reference": ref,
					"status":    "success",
					"amount":    265000,
					"currency":  "NGN",
				},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.OrderEvent
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := event.(domain.OrderEvent); ok {
		p.events = append(p.events, e)
	}
	return nil
}

func seedUserAndProduct(ctx context.Context, t *testing.T, db *sql.DB) (*domain.User, *domain.Product) {
	t.Helper()

	user := &domain.User{Username: "ada", Email: "ada@example.com", PasswordHash: "x", Role: domain.RoleCustomer}
	require.NoError(t, users.NewUserRepository(db).Create(ctx, user))

	product := &domain.Product{Name: "Jollof", Description: "Smoky party rice", Category: "Mains", Price: decimal.RequireFromString("2000.00")}
	require.NoError(t, products.NewProductRepository(db).Create(ctx, product))

	return user, product
}

func TestCheckoutAndPaymentFlow(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()
	db := OpenDB(ctx, t, pg.ConnStr)

	user, product := seedUserAndProduct(ctx, t, db)

	carts := cart.NewService(cart.NewCartRepository(db), nil, discardLogger())
	_, outcome, err := carts.AddItem(ctx, user.ID, product.ID, 1)
	require.NoError(t, err)
	require.Equal(t, cart.OutcomeCreated, outcome)

	paystack := payment.NewClient(fakePaystack(t).URL, paystackSecret, &http.Client{Timeout: 5 * time.Second})
	publisher := &recordingPublisher{}
	repo := orders.NewOrderRepository(db)
	service := orders.NewService(repo, carts, paystack, publisher, "https://shop.test", discardLogger())

	result, err := service.Create(ctx, user.ID, orders.CheckoutRequest{
		FirstName: "Ada", LastName: "Obi", Email: "ada@example.com", Phone: "+2348000000000",
		Address: "1 Marina", City: "Lagos", State: "Lagos", Zip: "100001", Country: "Nigeria",
		DeliveryFee: decimal.NewFromInt(500),
	})
	require.NoError(t, err)
	require.NotNil(t, result.Payment)
	assert.Equal(t, "2650", result.Order.Total.String())

	stored, err := repo.GetByID(ctx, result.Order.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Len(t, stored.Items, 1)
	assert.Equal(t, "Jollof", stored.Items[0].Name)
	assert.Equal(t, "150", stored.VAT.String())
	assert.Equal(t, domain.PaymentStatusPending, stored.PaymentStatus)

	remaining, err := carts.GetCart(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, remaining.Empty(), "checkout clears the cart")

	// Catalogue edits after checkout leave the line item snapshot alone.
	product.Name = "Party Jollof"
	product.Price = decimal.RequireFromString("2500")
	_, err = products.NewProductRepository(db).Update(ctx, product)
	require.NoError(t, err)

	verified, err := service.Verify(ctx, result.Order.TransactionRef)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPaid, verified.Order.PaymentStatus)
	assert.Equal(t, domain.OrderStatusConfirmed, verified.Order.OrderStatus)

	// Webhook after verify is a no-op.
	body := `{"event":"charge.success","data":{"reference":"` + result.Order.TransactionRef + `"}}`
	sig := hex.EncodeToString(payment.Sign(paystackSecret, []byte(body)))
	require.NoError(t, service.HandleWebhook(ctx, []byte(body), sig))

	final, err := repo.GetByID(ctx, result.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, verified.Order.Version, final.Version)
	assert.Equal(t, "Jollof", final.Items[0].Name)
	assert.Equal(t, "2000", final.Items[0].Price.String())

	var types []domain.OrderEventType
	for _, e := range publisher.events {
		types = append(types, e.Type)
	}
	assert.Equal(t, []domain.OrderEventType{domain.OrderEventCreated, domain.OrderEventPaid}, types)
}

func TestConcurrentPaymentConfirmation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()
	db := OpenDB(ctx, t, pg.ConnStr)

	user, _ := seedUserAndProduct(ctx, t, db)
	repo := orders.NewOrderRepository(db)

	order := &domain.Order{
		UserID: user.ID, Email: user.Email, FirstName: "Ada", LastName: "Obi", Phone: "1",
		ShippingAddress: domain.ShippingAddress{Address: "1 Marina", City: "Lagos", State: "Lagos", Zip: "1", Country: "NG"},
		Items:           []domain.OrderItem{{Name: "Jollof", Price: decimal.NewFromInt(2000), Quantity: 1}},
		PaymentMethod:   domain.PaymentMethodPaystack,
		Subtotal:        decimal.NewFromInt(2000),
		VAT:             decimal.NewFromInt(150),
		DeliveryFee:     decimal.NewFromInt(500),
		Total:           decimal.NewFromInt(2650),
		PaymentStatus:   domain.PaymentStatusPending,
		OrderStatus:     domain.OrderStatusProcessing,
		TransactionRef:  "BL_1700000000000_RACE01",
	}
	require.NoError(t, repo.Create(ctx, order))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		changed int
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := repo.MarkPaid(ctx, order.TransactionRef, order.TransactionRef)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				changed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, changed, "exactly one caller performs the transition")

	// A late failure never downgrades a paid order.
	after, ok, err := repo.MarkPaymentFailed(ctx, order.TransactionRef, time.Now())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, domain.PaymentStatusPaid, after.PaymentStatus)
}

func TestCartAndCatalogueConstraints(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()
	db := OpenDB(ctx, t, pg.ConnStr)

	user, product := seedUserAndProduct(ctx, t, db)
	cartRepo := cart.NewCartRepository(db)

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := cartRepo.AddItem(ctx, user.ID, product.ID, 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	c, err := cartRepo.GetCart(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, c.Items, 1, "one row per user and product")
	assert.Equal(t, 5, c.Items[0].Quantity)

	found, err := cartRepo.ProductsByID(ctx, []string{product.ID, "00000000-0000-0000-0000-000000000000"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.True(t, found[product.ID].Price.Equal(product.Price))

	_, outcome, err := cartRepo.AddItem(ctx, user.ID, product.ID, -5)
	require.NoError(t, err)
	assert.Equal(t, cart.OutcomeRemoved, outcome)

	_, _, err = cartRepo.AddItem(ctx, user.ID, "00000000-0000-0000-0000-000000000000", 1)
	assert.ErrorIs(t, err, cart.ErrProductNotFound)

	dup := &domain.Product{Name: "Jollof", Description: "again", Category: "Mains", Price: decimal.NewFromInt(1)}
	err = products.NewProductRepository(db).Create(ctx, dup)
	assert.True(t, errors.Is(err, products.ErrDuplicateName), "got %v", err)

	hearts, err := products.NewProductRepository(db).IncrementHearts(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, hearts)
}

func TestOrderEventsReachNotificationWorker(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	brokers, cleanup := SetupKafka(ctx, t)
	defer cleanup()

	var (
		mu   sync.Mutex
		sent []worker.Email
	)
	emailServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msg worker.Email
		_ = json.NewDecoder(r.Body).Decode(&msg)
		mu.Lock()
		sent = append(sent, msg)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer emailServer.Close()

	producer := messaging.NewProducer(brokers, messaging.OrderEventsTopic, messaging.WithBatchTimeout(10*time.Millisecond))
	defer func() { _ = producer.Close() }()

	order := &domain.Order{
		ID: "o-1", Email: "ada@example.com", FirstName: "Ada", LastName: "Obi",
		TransactionRef: "BL_1700000000000_KAFKA1", Total: decimal.NewFromInt(2650),
		PaymentMethod: domain.PaymentMethodPaystack, OrderStatus: domain.OrderStatusConfirmed, PaymentStatus: domain.PaymentStatusPaid,
	}
	require.NoError(t, producer.Publish(ctx, order.ID, domain.NewOrderEvent(domain.OrderEventPaid, order, time.Now())))

	consumer := messaging.NewConsumer(brokers, messaging.OrderEventsTopic, "notification-worker-test",
		messaging.WithStartOffset(kafka.FirstOffset),
		messaging.WithMaxWait(500*time.Millisecond),
	)
	defer func() { _ = consumer.Close() }()

	handler := worker.NewNotificationHandler(emailServer.URL, emailServer.Client(), discardLogger())
	consumeCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() { _ = consumer.Consume(consumeCtx, handler.Handle) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(sent) == 1
	}, time.Minute, 200*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "ada@example.com", sent[0].To)
	assert.Equal(t, "Payment received for order BL_1700000000000_KAFKA1", sent[0].Subject)
}
