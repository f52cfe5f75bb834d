// Package api assembles the HTTP surface of the backend.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/joao-fontenele/bitelynk/internal/auth"
	"github.com/joao-fontenele/bitelynk/internal/cart"
	"github.com/joao-fontenele/bitelynk/internal/orders"
	"github.com/joao-fontenele/bitelynk/internal/products"
	"github.com/joao-fontenele/bitelynk/internal/respond"
	"github.com/joao-fontenele/bitelynk/internal/telemetry"
	"github.com/joao-fontenele/bitelynk/internal/users"
)

type Pinger interface {
	PingContext(ctx context.Context) error
}

type Deps struct {
	Tokens      *auth.TokenManager
	Users       *users.Handler
	Products    *products.Handler
	Cart        *cart.Handler
	Orders      *orders.Handler
	Feed        http.Handler
	Metrics     http.Handler
	DB          Pinger
	CORSOrigins []string
	Logger      *slog.Logger
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(telemetry.RouteTagger)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		_ = respond.Error(w, http.StatusNotFound, "Route not found", "")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		_ = respond.Error(w, http.StatusMethodNotAllowed, "Method not allowed", "")
	})

	r.Get("/healthz", healthz(d.DB, d.Logger))
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	authenticated := d.Tokens.Authenticate
	admin := func(next http.Handler) http.Handler { return authenticated(auth.RequireAdmin(next)) }

	r.Route("/api", func(r chi.Router) {
		r.Route("/users", func(r chi.Router) {
			r.Post("/register", d.Users.HandleRegister)
			r.Post("/login", d.Users.HandleLogin)
		})

		r.Route("/products", func(r chi.Router) {
			r.Get("/", d.Products.HandleList)
			r.Get("/{id}", d.Products.HandleGet)
			r.With(authenticated).Post("/{id}/heart", d.Products.HandleHeart)
			r.With(admin).Post("/", d.Products.HandleCreate)
			r.With(admin).Put("/{id}", d.Products.HandleUpdate)
			r.With(admin).Delete("/{id}", d.Products.HandleDelete)
		})

		r.Route("/cart", func(r chi.Router) {
			r.Use(authenticated)
			r.Get("/", d.Cart.HandleGet)
			r.Post("/", d.Cart.HandleAdd)
			r.Post("/clear", d.Cart.HandleClear)
			r.Put("/{id}", d.Cart.HandleUpdate)
			r.Delete("/{id}", d.Cart.HandleRemove)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Post("/webhook/paystack", d.Orders.HandleWebhook)

			r.Group(func(r chi.Router) {
				r.Use(authenticated)
				r.Post("/create", d.Orders.HandleCreate)
				r.Get("/verify/{reference}", d.Orders.HandleVerify)
				r.Get("/user/my-orders", d.Orders.HandleMyOrders)
				r.Get("/user/{id}", d.Orders.HandleGet)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(admin)
				r.Get("/all", d.Orders.HandleList)
				r.Get("/export", d.Orders.HandleExport)
				if d.Feed != nil {
					r.Method(http.MethodGet, "/feed", d.Feed)
				}
				r.Put("/{id}/status", d.Orders.HandleUpdateStatus)
				r.Put("/{id}", d.Orders.HandleAdminUpdate)
			})
		})
	})

	return otelhttp.NewHandler(r, "bitelynk-api",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

func healthz(db Pinger, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				logger.Error("health check failed", "error", err)
				_ = respond.Error(w, http.StatusServiceUnavailable, "Database unavailable", "")
				return
			}
		}
		_ = respond.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
