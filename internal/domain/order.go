package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Clients read money as JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true
}

type OrderStatus string

const (
	OrderStatusPending        OrderStatus = "pending"
	OrderStatusProcessing     OrderStatus = "processing"
	OrderStatusConfirmed      OrderStatus = "confirmed"
	OrderStatusOutForDelivery OrderStatus = "out_for_delivery"
	OrderStatusDelivered      OrderStatus = "delivered"
	OrderStatusCancelled      OrderStatus = "cancelled"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusConfirmed,
		OrderStatusOutForDelivery, OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPaid    PaymentStatus = "paid"
	PaymentStatusFailed  PaymentStatus = "failed"
)

func (s PaymentStatus) Valid() bool {
	return s == PaymentStatusPending || s == PaymentStatusPaid || s == PaymentStatusFailed
}

type PaymentMethod string

const (
	PaymentMethodPaystack       PaymentMethod = "paystack"
	PaymentMethodCashOnDelivery PaymentMethod = "Cash on Delivery"
	PaymentMethodCreditCard     PaymentMethod = "Credit Card"
)

func (m PaymentMethod) Valid() bool {
	return m == PaymentMethodPaystack || m == PaymentMethodCashOnDelivery || m == PaymentMethodCreditCard
}

// Online reports whether the method is settled through the payment gateway
// at checkout. Everything else is collected on delivery.
func (m PaymentMethod) Online() bool {
	return m == PaymentMethodPaystack
}

// OrderItem is a snapshot of a product taken when the order was placed.
type OrderItem struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Price         decimal.Decimal `json:"price"`
	ImageURL      string          `json:"imageUrl"`
	ImagePublicID string          `json:"imagePublicId"`
	Quantity      int             `json:"quantity"`
}

func (i OrderItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type ShippingAddress struct {
	Address string `json:"address"`
	City    string `json:"city"`
	State   string `json:"state"`
	Zip     string `json:"zip"`
	Country string `json:"country"`
}

type Order struct {
	ID        string `json:"id"`
	UserID    string `json:"user"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Phone     string `json:"phone"`
	ShippingAddress

	Items         []OrderItem   `json:"items"`
	PaymentMethod PaymentMethod `json:"paymentMethod"`

	Subtotal    decimal.Decimal `json:"subtotal"`
	VAT         decimal.Decimal `json:"vat"`
	DeliveryFee decimal.Decimal `json:"deliveryFee"`
	Total       decimal.Decimal `json:"total"`

	PaymentStatus   PaymentStatus `json:"paymentStatus"`
	OrderStatus     OrderStatus   `json:"orderStatus"`
	TransactionRef  string        `json:"transactionId,omitempty"`
	PaymentIntentID string        `json:"paymentIntentId,omitempty"`

	ExpectedDeliveryDate *time.Time `json:"expectedDeliveryDate,omitempty"`
	DeliveredAt          *time.Time `json:"deliveredAt,omitempty"`
	CancelledAt          *time.Time `json:"cancelledAt,omitempty"`
	DeliveryNotes        string     `json:"deliveryNotes,omitempty"`

	Version   int       `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (o *Order) CustomerName() string {
	return strings.TrimSpace(o.FirstName + " " + o.LastName)
}
