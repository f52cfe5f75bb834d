// Package payment talks to the Paystack transaction API.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
)

// ErrUnavailable is returned while the circuit breaker is open.
var ErrUnavailable = errors.New("payment provider unavailable")

// ProviderError carries the message Paystack returned for a rejected call.
type ProviderError struct {
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("paystack: %s (status %d)", e.Message, e.StatusCode)
}

type InitializeRequest struct {
	Email       string
	Amount      decimal.Decimal
	Reference   string
	CallbackURL string
	Metadata    map[string]string
}

type Authorization struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type Transaction struct {
	Reference       string          `json:"reference"`
	Status          string          `json:"status"`
	Amount          decimal.Decimal `json:"amount"`
	GatewayResponse string          `json:"gateway_response"`
	PaidAt          *time.Time      `json:"paid_at,omitempty"`
	Channel         string          `json:"channel"`
	Currency        string          `json:"currency"`
	Metadata        json.RawMessage `json:"metadata,omitempty"`
}

// Succeeded reports whether Paystack settled the charge.
func (t *Transaction) Succeeded() bool {
	return t.Status == "success"
}

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type response struct {
	status int
	body   []byte
}

type Client struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[response]
}

func NewClient(baseURL, secretKey string, httpClient *http.Client) *Client {
	return &Client{
		baseURL:    baseURL,
		secretKey:  secretKey,
		httpClient: httpClient,
		breaker: gobreaker.NewCircuitBreaker[response](gobreaker.Settings{
			Name:    "paystack",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

// Initialize starts a transaction. The amount is sent in kobo.
func (c *Client) Initialize(ctx context.Context, req InitializeRequest) (*Authorization, error) {
	metadata := make(map[string]string, len(req.Metadata)+1)
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	metadata["cancel_action"] = req.CallbackURL

	body := map[string]any{
		"email":        req.Email,
		"amount":       ToMinorUnits(req.Amount),
		"reference":    req.Reference,
		"callback_url": req.CallbackURL,
		"metadata":     metadata,
	}

	var auth Authorization
	if err := c.call(ctx, http.MethodPost, "/transaction/initialize", body, &auth); err != nil {
		return nil, fmt.Errorf("initialize transaction %s: %w", req.Reference, err)
	}
	return &auth, nil
}

// Verify fetches the transaction and converts the amount back to naira.
func (c *Client) Verify(ctx context.Context, reference string) (*Transaction, error) {
	var raw struct {
		Reference       string          `json:"reference"`
		Status          string          `json:"status"`
		Amount          int64           `json:"amount"`
		GatewayResponse string          `json:"gateway_response"`
		PaidAt          *time.Time      `json:"paid_at"`
		Channel         string          `json:"channel"`
		Currency        string          `json:"currency"`
		Metadata        json.RawMessage `json:"metadata"`
	}
	path := "/transaction/verify/" + url.PathEscape(reference)
	if err := c.call(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, fmt.Errorf("verify transaction %s: %w", reference, err)
	}

	return &Transaction{
		Reference:       raw.Reference,
		Status:          raw.Status,
		Amount:          FromMinorUnits(raw.Amount),
		GatewayResponse: raw.GatewayResponse,
		PaidAt:          raw.PaidAt,
		Channel:         raw.Channel,
		Currency:        raw.Currency,
		Metadata:        raw.Metadata,
	}, nil
}

func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	var payload io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(data)
	}

	resp, err := c.breaker.Execute(func() (response, error) {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
		if err != nil {
			return response{}, err
		}
		req.Header.Set("Authorization", "Bearer "+c.secretKey)
		req.Header.Set("Accept", "application/json")
		if in != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		httpResp, err := c.httpClient.Do(req)
		if err != nil {
			return response{}, err
		}
		defer func() { _ = httpResp.Body.Close() }()

		body, err := io.ReadAll(httpResp.Body)
		if err != nil {
			return response{}, err
		}
		r := response{status: httpResp.StatusCode, body: body}
		if httpResp.StatusCode >= http.StatusInternalServerError {
			return r, &ProviderError{StatusCode: r.status, Message: providerMessage(body)}
		}
		return r, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrUnavailable
	}
	if err != nil {
		return err
	}

	var env envelope
	if err := json.Unmarshal(resp.body, &env); err != nil {
		return fmt.Errorf("decode paystack response: %w", err)
	}
	if resp.status != http.StatusOK || !env.Status {
		msg := env.Message
		if msg == "" {
			msg = http.StatusText(resp.status)
		}
		return &ProviderError{StatusCode: resp.status, Message: msg}
	}

	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode paystack data: %w", err)
	}
	return nil
}

func providerMessage(body []byte) string {
	var env envelope
	if err := json.Unmarshal(body, &env); err == nil && env.Message != "" {
		return env.Message
	}
	return "upstream error"
}

var hundred = decimal.NewFromInt(100)

func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

func FromMinorUnits(kobo int64) decimal.Decimal {
	return decimal.NewFromInt(kobo).Div(hundred)
}
