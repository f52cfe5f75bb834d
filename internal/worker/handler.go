package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/bitelynk/internal/domain"
	"github.com/joao-fontenele/bitelynk/internal/messaging"
)

// Email is the payload accepted by the email service's POST /send.
type Email struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// NotificationHandler turns order events into customer emails.
type NotificationHandler struct {
	emailServiceURL string
	httpClient      *http.Client
	logger          *slog.Logger
}

func NewNotificationHandler(emailServiceURL string, client *http.Client, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{
		emailServiceURL: emailServiceURL,
		httpClient:      client,
		logger:          logger,
	}
}

// Handle processes one order.events payload. Delivery failures are returned
// so the consumer leaves the message uncommitted; undecodable payloads are
// reported as unprocessable and skipped.
func (h *NotificationHandler) Handle(ctx context.Context, payload []byte) error {
	var event domain.OrderEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("%w: unmarshal order event: %v", messaging.ErrUnprocessable, err)
	}

	msg, ok := compose(event)
	if !ok {
		h.logger.Debug("ignoring order event", "type", event.Type, "order_id", event.OrderID)
		return nil
	}
	if msg.To == "" {
		h.logger.Warn("order event without recipient", "type", event.Type, "order_id", event.OrderID)
		return nil
	}

	if err := h.sendEmail(ctx, msg); err != nil {
		h.logger.Error("failed to send notification", "error", err, "type", event.Type, "order_id", event.OrderID)
		return fmt.Errorf("send %s notification: %w", event.Type, err)
	}

	h.logger.Info("notification sent", "type", event.Type, "order_id", event.OrderID)
	return nil
}

// compose picks the email for an event; false means the event needs none.
func compose(e domain.OrderEvent) (Email, bool) {
	label := orderLabel(e)
	greeting := "Hi " + e.CustomerName + ","

	switch e.Type {
	case domain.OrderEventPaid:
		return Email{
			To:      e.Email,
			Subject: "Payment received for order " + label,
			Body:    fmt.Sprintf("%s\n\nWe received your payment of NGN %s. Your order is confirmed and is being prepared.", greeting, e.Total.StringFixed(2)),
		}, true
	case domain.OrderEventPaymentFailed:
		return Email{
			To:      e.Email,
			Subject: "Payment failed for order " + label,
			Body:    fmt.Sprintf("%s\n\nYour payment for order %s did not go through and the order was cancelled. Your cart is still saved if you want to try again.", greeting, label),
		}, true
	case domain.OrderEventCreated:
		if e.PaymentMethod.Online() {
			return Email{}, false
		}
		return Email{
			To:      e.Email,
			Subject: "Order " + label + " received",
			Body:    fmt.Sprintf("%s\n\nThanks for your order. Total due: NGN %s, payable by %s.", greeting, e.Total.StringFixed(2), e.PaymentMethod),
		}, true
	case domain.OrderEventStatusUpdated:
		switch e.OrderStatus {
		case domain.OrderStatusOutForDelivery:
			return Email{
				To:      e.Email,
				Subject: "Order " + label + " is on its way",
				Body:    greeting + "\n\nYour order is out for delivery.",
			}, true
		case domain.OrderStatusDelivered:
			return Email{
				To:      e.Email,
				Subject: "Order " + label + " delivered",
				Body:    greeting + "\n\nYour order has been delivered. Enjoy your meal!",
			}, true
		}
	}
	return Email{}, false
}

func orderLabel(e domain.OrderEvent) string {
	if e.Reference != "" {
		return e.Reference
	}
	return e.OrderID
}

func (h *NotificationHandler) sendEmail(ctx context.Context, msg Email) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.emailServiceURL+"/send", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("email service returned status %d", resp.StatusCode)
	}

	return nil
}
