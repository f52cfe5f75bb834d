package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderEventType string

const (
	OrderEventCreated       OrderEventType = "order.created"
	OrderEventPaid          OrderEventType = "order.paid"
	OrderEventPaymentFailed OrderEventType = "order.payment_failed"
	OrderEventStatusUpdated OrderEventType = "order.status_updated"
)

type OrderEvent struct {
	Type          OrderEventType  `json:"type"`
	OrderID       string          `json:"orderId"`
	UserID        string          `json:"userId"`
	Email         string          `json:"email"`
	CustomerName  string          `json:"customerName"`
	Reference     string          `json:"reference,omitempty"`
	Total         decimal.Decimal `json:"total"`
	PaymentMethod PaymentMethod   `json:"paymentMethod"`
	OrderStatus   OrderStatus     `json:"orderStatus"`
	PaymentStatus PaymentStatus   `json:"paymentStatus"`
	Timestamp     time.Time       `json:"timestamp"`
}

func NewOrderEvent(t OrderEventType, o *Order, at time.Time) OrderEvent {
	return OrderEvent{
		Type:          t,
		OrderID:       o.ID,
		UserID:        o.UserID,
		Email:         o.Email,
		CustomerName:  o.CustomerName(),
		Reference:     o.TransactionRef,
		Total:         o.Total,
		PaymentMethod: o.PaymentMethod,
		OrderStatus:   o.OrderStatus,
		PaymentStatus: o.PaymentStatus,
		Timestamp:     at,
	}
}
