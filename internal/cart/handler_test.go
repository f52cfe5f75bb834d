package cart

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/bitelynk/internal/auth"
)

func newTestRouter(repo Repository) http.Handler {
	h := NewHandler(NewService(repo, nil, discardLogger()), discardLogger())

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			user := req.Header.Get("X-Test-User")
			next.ServeHTTP(w, req.WithContext(auth.WithIdentity(req.Context(), auth.Identity{UserID: user})))
		})
	})
	r.Get("/api/cart", h.HandleGet)
	r.Post("/api/cart", h.HandleAdd)
	r.Post("/api/cart/clear", h.HandleClear)
	r.Put("/api/cart/{id}", h.HandleUpdate)
	r.Delete("/api/cart/{id}", h.HandleRemove)
	return r
}

func do(t *testing.T, router http.Handler, user, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	req.Header.Set("X-Test-User", user)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandler_AddFlow(t *testing.T) {
	router := newTestRouter(newMemoryRepo(suya))

	rec := do(t, router, "u-1", http.MethodPost, "/api/cart", `{"productId":"p-suya","quantity":2}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "Item added to cart")

	rec = do(t, router, "u-1", http.MethodPost, "/api/cart", `{"productId":"p-suya","quantity":1}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Item quantity updated")

	rec = do(t, router, "u-1", http.MethodGet, "/api/cart", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp cartResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, 3, resp.CartItems[0].Quantity)
	assert.Equal(t, "Suya", resp.CartItems[0].Product.Name)

	rec = do(t, router, "u-1", http.MethodPost, "/api/cart", `{"productId":"p-suya","quantity":-5}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Item removed from cart")
	assert.Contains(t, rec.Body.String(), `"quantity":0`)
}

func TestHandler_AddValidation(t *testing.T) {
	router := newTestRouter(newMemoryRepo(suya))

	tests := []struct {
		name string
		body string
		want int
	}{
		{"zero quantity", `{"productId":"p-suya","quantity":0}`, http.StatusBadRequest},
		{"missing quantity", `{"productId":"p-suya"}`, http.StatusBadRequest},
		{"fractional quantity", `{"productId":"p-suya","quantity":1.5}`, http.StatusBadRequest},
		{"negative on new item", `{"productId":"p-suya","quantity":-1}`, http.StatusBadRequest},
		{"unknown product", `{"productId":"p-none","quantity":1}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, "u-1", http.MethodPost, "/api/cart", tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestHandler_UpdateAndRemoveAreScopedToOwner(t *testing.T) {
	repo := newMemoryRepo(suya)
	router := newTestRouter(repo)

	rec := do(t, router, "u-1", http.MethodPost, "/api/cart", `{"productId":"p-suya","quantity":1}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var added itemResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&added))
	itemID := added.Product.ID

	rec = do(t, router, "u-2", http.MethodPut, "/api/cart/"+itemID, `{"quantity":4}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, router, "u-2", http.MethodDelete, "/api/cart/"+itemID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, router, "u-1", http.MethodPut, "/api/cart/"+itemID, `{"quantity":4}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 4, repo.items[itemID].Quantity)

	rec = do(t, router, "u-1", http.MethodPut, "/api/cart/"+itemID, `{"quantity":0}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, repo.items, itemID)
}

func TestHandler_Clear(t *testing.T) {
	repo := newMemoryRepo(suya)
	router := newTestRouter(repo)

	do(t, router, "u-1", http.MethodPost, "/api/cart", `{"productId":"p-suya","quantity":1}`)
	rec := do(t, router, "u-1", http.MethodPost, "/api/cart/clear", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, repo.items)
}
