package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/joao-fontenele/bitelynk/internal/api"
	"github.com/joao-fontenele/bitelynk/internal/auth"
	"github.com/joao-fontenele/bitelynk/internal/cart"
	"github.com/joao-fontenele/bitelynk/internal/config"
	"github.com/joao-fontenele/bitelynk/internal/feed"
	"github.com/joao-fontenele/bitelynk/internal/media"
	"github.com/joao-fontenele/bitelynk/internal/messaging"
	"github.com/joao-fontenele/bitelynk/internal/orders"
	"github.com/joao-fontenele/bitelynk/internal/payment"
	"github.com/joao-fontenele/bitelynk/internal/products"
	"github.com/joao-fontenele/bitelynk/internal/telemetry"
	"github.com/joao-fontenele/bitelynk/internal/users"
)

const serviceName = "bitelynk-api"

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, serviceName, cfg.ServiceVersion, cfg.OTLPEndpoint)
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider(serviceName, cfg.ServiceVersion)
	if err != nil {
		logger.Error("failed to initialize meter provider", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(ctx) }()

	db, err := telemetry.OpenDB("postgres", cfg.PostgresURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := db.PingContext(ctx); err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	var cartCache cart.Cache
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("failed to parse REDIS_URL", "error", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unavailable, cart cache disabled", "error", err)
		} else {
			cartCache = cart.NewRedisCache(rdb)
		}
	}

	hub := feed.NewHub(cfg.CORSOrigins, logger)
	defer hub.Close()

	publisher := messaging.Fanout{hub}
	if len(cfg.KafkaBrokers) > 0 {
		producer := messaging.NewProducer(cfg.KafkaBrokers, messaging.OrderEventsTopic, messaging.WithBatchTimeout(10*time.Millisecond))
		defer func() { _ = producer.Close() }()
		publisher = append(publisher, producer)
	} else {
		logger.Warn("KAFKA_BROKERS not set, order events go to the admin feed only")
	}

	var images products.ImageStore = media.Unconfigured{}
	if cfg.Cloudinary.Enabled() {
		store, err := media.NewCloudinaryStore(cfg.Cloudinary.CloudName, cfg.Cloudinary.APIKey, cfg.Cloudinary.APISecret, logger)
		if err != nil {
			logger.Error("failed to configure cloudinary", "error", err)
			os.Exit(1)
		}
		images = store
	} else {
		logger.Warn("cloudinary not configured, product image uploads are disabled")
	}

	paystack := payment.NewClient(cfg.Paystack.BaseURL, cfg.Paystack.SecretKey, &http.Client{
		Timeout:   15 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	})

	tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.TokenTTL)
	cartService := cart.NewService(cart.NewCartRepository(db), cartCache, logger)
	orderService := orders.NewService(orders.NewOrderRepository(db), cartService, paystack, publisher, cfg.FrontendURL, logger)

	router := api.NewRouter(api.Deps{
		Tokens:      tokens,
		Users:       users.NewHandler(users.NewUserRepository(db), tokens, cfg.AdminEmails, logger),
		Products:    products.NewHandler(products.NewProductRepository(db), images, logger),
		Cart:        cart.NewHandler(cartService, logger),
		Orders:      orders.NewHandler(orderService, logger),
		Feed:        hub,
		Metrics:     metricsHandler,
		DB:          db,
		CORSOrigins: cfg.CORSOrigins,
		Logger:      logger,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info("starting api service", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
