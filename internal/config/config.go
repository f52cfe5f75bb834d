// Package config loads service configuration from the environment. A .env
// file in the working directory is read first when present; real environment
// variables always win.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Paystack struct {
	SecretKey string
	BaseURL   string
}

type Cloudinary struct {
	CloudName string
	APIKey    string
	APISecret string
}

// Enabled reports whether image uploads can be served.
func (c Cloudinary) Enabled() bool {
	return c.CloudName != "" && c.APIKey != "" && c.APISecret != ""
}

type Config struct {
	Port           string
	PostgresURL    string
	RedisURL       string
	KafkaBrokers   []string
	JWTSecret      string
	TokenTTL       time.Duration
	AdminEmails    []string
	FrontendURL    string
	CORSOrigins    []string
	Paystack       Paystack
	Cloudinary     Cloudinary
	ServiceVersion string
	OTLPEndpoint   string
}

// Load reads .env (if any) and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

func FromEnv() (*Config, error) {
	cfg := &Config{
		Port:         getenv("PORT", "8080"),
		PostgresURL:  os.Getenv("POSTGRES_URL"),
		RedisURL:     os.Getenv("REDIS_URL"),
		KafkaBrokers: splitList(os.Getenv("KAFKA_BROKERS")),
		JWTSecret:    os.Getenv("JWT_SECRET"),
		AdminEmails:  splitList(strings.ToLower(os.Getenv("ADMIN_EMAILS"))),
		FrontendURL:  strings.TrimRight(getenv("FRONTEND_URL", "http://localhost:5173"), "/"),
		CORSOrigins:  splitList(getenv("CORS_ORIGINS", "*")),
		Paystack: Paystack{
			SecretKey: os.Getenv("PAYSTACK_SECRET_KEY"),
			BaseURL:   strings.TrimRight(getenv("PAYSTACK_BASE_URL", "https://api.paystack.co"), "/"),
		},
		Cloudinary: Cloudinary{
			CloudName: os.Getenv("CLOUDINARY_CLOUD_NAME"),
			APIKey:    os.Getenv("CLOUDINARY_API_KEY"),
			APISecret: os.Getenv("CLOUDINARY_API_SECRET"),
		},
		ServiceVersion: getenv("SERVICE_VERSION", "0.1.0"),
		OTLPEndpoint:   os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	ttl, err := time.ParseDuration(getenv("TOKEN_TTL", "48h"))
	if err != nil {
		return nil, fmt.Errorf("parse TOKEN_TTL: %w", err)
	}
	cfg.TokenTTL = ttl

	var missing []string
	if cfg.PostgresURL == "" {
		missing = append(missing, "POSTGRES_URL")
	}
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if cfg.Paystack.SecretKey == "" {
		missing = append(missing, "PAYSTACK_SECRET_KEY")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
