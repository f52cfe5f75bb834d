package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	Category      string          `json:"category"`
	Price         decimal.Decimal `json:"price"`
	Rating        float64         `json:"rating"`
	Hearts        int             `json:"hearts"`
	ImageURL      string          `json:"imageUrl,omitempty"`
	ImagePublicID string          `json:"imagePublicId,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}
