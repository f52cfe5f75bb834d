package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type CartItem struct {
	ID        string    `json:"_id"`
	UserID    string    `json:"-"`
	ProductID string    `json:"productId"`
	Product   Product   `json:"product"`
	Quantity  int       `json:"quantity"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Cart struct {
	UserID string     `json:"userId"`
	Items  []CartItem `json:"items"`
}

func (c *Cart) Empty() bool {
	return c == nil || len(c.Items) == 0
}

// Snapshot copies the current product data into order line items.
func (c *Cart) Snapshot() []OrderItem {
	items := make([]OrderItem, 0, len(c.Items))
	for _, ci := range c.Items {
		items = append(items, OrderItem{
			Name:          ci.Product.Name,
			Price:         ci.Product.Price,
			ImageURL:      ci.Product.ImageURL,
			ImagePublicID: ci.Product.ImagePublicID,
			Quantity:      ci.Quantity,
		})
	}
	return items
}

func (c *Cart) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, ci := range c.Items {
		total = total.Add(ci.Product.Price.Mul(decimal.NewFromInt(int64(ci.Quantity))))
	}
	return total
}
