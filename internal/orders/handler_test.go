package orders

import (
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/bitelynk/internal/auth"
	"github.com/joao-fontenele/bitelynk/internal/domain"
	"github.com/joao-fontenele/bitelynk/internal/payment"
	"github.com/joao-fontenele/bitelynk/internal/respond"
)

func newTestRouter(f *fixture) http.Handler {
	h := NewHandler(f.service, slog.New(slog.NewTextHandler(io.Discard, nil)))

	withUser := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := auth.Identity{UserID: r.Header.Get("X-Test-User"), Role: domain.RoleCustomer}
			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
		})
	}

	r := chi.NewRouter()
	r.Post("/api/orders/webhook/paystack", h.HandleWebhook)
	r.Group(func(r chi.Router) {
		r.Use(withUser)
		r.Post("/api/orders/create", h.HandleCreate)
		r.Get("/api/orders/verify/{reference}", h.HandleVerify)
		r.Get("/api/orders/user/my-orders", h.HandleMyOrders)
		r.Get("/api/orders/user/{id}", h.HandleGet)
		r.Get("/api/orders/admin/all", h.HandleList)
		r.Get("/api/orders/admin/export", h.HandleExport)
		r.Put("/api/orders/admin/{id}/status", h.HandleUpdateStatus)
		r.Put("/api/orders/admin/{id}", h.HandleAdminUpdate)
	})
	return r
}

func serve(router http.Handler, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("X-Test-User", "u-1")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) respond.ErrorBody {
	t.Helper()
	var body respond.ErrorBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

const checkoutBody = `{
	"firstName": "Ada", "lastName": "Obi", "email": "ada@example.com", "phone": "+2348000000000",
	"address": "1 Marina", "city": "Lagos", "state": "Lagos", "zip": "100001", "country": "Nigeria",
	"deliveryFee": 500
}`

func TestHandler_HandleCreate(t *testing.T) {
	t.Run("paystack checkout", func(t *testing.T) {
		f := newFixture()
		f.carts.put("u-1", cartItem("Jollof", "2000", 1))

		rec := serve(newTestRouter(f), http.MethodPost, "/api/orders/create", checkoutBody, nil)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var resp struct {
			Success bool `json:"success"`
			Order   struct {
				ID        string  `json:"id"`
				Reference string  `json:"reference"`
				Total     float64 `json:"total"`
				Status    string  `json:"status"`
			} `json:"order"`
			Payment struct {
				AuthorizationURL string `json:"authorization_url"`
				AccessCode       string `json:"access_code"`
				Reference        string `json:"reference"`
			} `json:"payment"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.True(t, resp.Success)
		assert.Equal(t, 2650.0, resp.Order.Total)
		assert.Equal(t, "processing", resp.Order.Status)
		assert.NotEmpty(t, resp.Order.Reference)
		assert.Equal(t, resp.Order.Reference, resp.Payment.Reference)
		assert.Equal(t, "ac_123", resp.Payment.AccessCode)
	})

	t.Run("missing city", func(t *testing.T) {
		f := newFixture()
		f.carts.put("u-1", cartItem("Jollof", "2000", 1))
		body := strings.Replace(checkoutBody, `"city": "Lagos", `, "", 1)

		rec := serve(newTestRouter(f), http.MethodPost, "/api/orders/create", body, nil)

		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "All delivery details are required", decodeError(t, rec).Message)
		assert.Empty(t, f.store.orders)
	})

	t.Run("empty cart", func(t *testing.T) {
		f := newFixture()

		rec := serve(newTestRouter(f), http.MethodPost, "/api/orders/create", checkoutBody, nil)

		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Cart is empty", decodeError(t, rec).Message)
	})

	t.Run("payment init failure carries provider message", func(t *testing.T) {
		f := newFixture()
		f.carts.put("u-1", cartItem("Jollof", "2000", 1))
		f.gateway.initErr = &payment.ProviderError{StatusCode: 401, Message: "Invalid key"}

		rec := serve(newTestRouter(f), http.MethodPost, "/api/orders/create", checkoutBody, nil)

		require.Equal(t, http.StatusBadRequest, rec.Code)
		body := decodeError(t, rec)
		assert.Equal(t, "Payment initialization failed", body.Message)
		assert.Equal(t, "Invalid key", body.Error)
	})
}

func TestHandler_HandleWebhook(t *testing.T) {
	f := newFixture()
	order := placeOrder(t, f)
	router := newTestRouter(f)
	payload := `{"event":"charge.success","data":{"reference":"` + order.TransactionRef + `"}}`
	signature := hex.EncodeToString(payment.Sign(webhookSecret, []byte(payload)))

	rec := serve(router, http.MethodPost, "/api/orders/webhook/paystack", payload, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid signature", decodeError(t, rec).Message)
	assert.Equal(t, domain.PaymentStatusPending, f.store.orders[order.ID].PaymentStatus)

	rec = serve(router, http.MethodPost, "/api/orders/webhook/paystack", payload, map[string]string{payment.SignatureHeader: signature})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())
	assert.Equal(t, domain.PaymentStatusPaid, f.store.orders[order.ID].PaymentStatus)
}

func TestHandler_HandleVerify(t *testing.T) {
	f := newFixture()
	order := placeOrder(t, f)
	router := newTestRouter(f)

	rec := serve(router, http.MethodGet, "/api/orders/verify/"+order.TransactionRef, "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"paymentStatus":"paid"`)
	assert.Contains(t, rec.Body.String(), `"message":"Payment success"`)

	rec = serve(router, http.MethodGet, "/api/orders/verify/BL_0_UNKNWN", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	f.gateway.verifyErr = &payment.ProviderError{StatusCode: 400, Message: "Transaction reference not found"}
	rec = serve(router, http.MethodGet, "/api/orders/verify/"+order.TransactionRef, "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "Payment verification failed", body.Message)
	assert.Equal(t, "Transaction reference not found", body.Error)
}

func TestHandler_HandleMyOrdersAndGet(t *testing.T) {
	f := newFixture()
	order := placeOrder(t, f)
	router := newTestRouter(f)

	rec := serve(router, http.MethodGet, "/api/orders/user/my-orders", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list userOrdersResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "Lagos", list.Orders[0].ShippingAddress.City)
	require.NotNil(t, list.Orders[0].Reference)
	assert.Equal(t, order.TransactionRef, *list.Orders[0].Reference)

	rec = serve(router, http.MethodGet, "/api/orders/user/"+order.ID, "", map[string]string{"X-Test-User": "u-2"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(router, http.MethodGet, "/api/orders/user/"+order.ID+"?email=ada@example.com", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandler_AdminRoutes(t *testing.T) {
	f := newFixture()
	order := placeOrder(t, f)
	router := newTestRouter(f)

	rec := serve(router, http.MethodGet, "/api/orders/admin/all?search=ADA&limit=10", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list adminListResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	require.Len(t, list.Orders, 1)
	assert.Equal(t, order.TransactionRef, list.Orders[0].OrderNumber)
	assert.Equal(t, "Ada Obi", list.Orders[0].Customer.Name)
	assert.Equal(t, 1, list.Pagination.TotalOrders)

	rec = serve(router, http.MethodGet, "/api/orders/admin/all?status=lost", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(router, http.MethodPut, "/api/orders/admin/"+order.ID+"/status", `{"orderStatus":"teleported"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(router, http.MethodPut, "/api/orders/admin/"+order.ID+"/status", `{"orderStatus":"cancelled"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotNil(t, f.store.orders[order.ID].CancelledAt)

	rec = serve(router, http.MethodPut, "/api/orders/admin/"+order.ID, `{"deliveryNotes":"Call on arrival"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Call on arrival", f.store.orders[order.ID].DeliveryNotes)

	rec = serve(router, http.MethodPut, "/api/orders/admin/"+order.ID, `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(router, http.MethodGet, "/api/orders/admin/export", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", rec.Header().Get("Content-Type"))
	assert.NotZero(t, rec.Body.Len())
}

