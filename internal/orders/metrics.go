package orders

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type metrics struct {
	created     metric.Int64Counter
	transitions metric.Int64Counter
	webhooks    metric.Int64Counter
}

func newMetrics() *metrics {
	meter := otel.Meter("github.com/joao-fontenele/bitelynk/internal/orders")

	// Errors only on invalid names; the returned instruments are usable regardless.
	created, _ := meter.Int64Counter("orders.created",
		metric.WithDescription("Orders placed at checkout"))
	transitions, _ := meter.Int64Counter("orders.payment_transitions",
		metric.WithDescription("Effective payment status transitions"))
	webhooks, _ := meter.Int64Counter("orders.webhook_events",
		metric.WithDescription("Payment provider webhook deliveries"))

	return &metrics{created: created, transitions: transitions, webhooks: webhooks}
}

func (m *metrics) orderCreated(ctx context.Context, method string) {
	m.created.Add(ctx, 1, metric.WithAttributes(attribute.String("payment_method", method)))
}

func (m *metrics) paymentTransition(ctx context.Context, result, source string) {
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("result", result),
		attribute.String("source", source),
	))
}

func (m *metrics) webhook(ctx context.Context, event, outcome string) {
	m.webhooks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event", event),
		attribute.String("outcome", outcome),
	))
}
