package cart

import (
	"time"

	"github.com/google/uuid"
)

// View is the materialized cart returned to clients: lines joined with the
// current product name/price/image plus derived totals. Totals use live
// prices, unlike an order snapshot.
type View struct {
	ID              uuid.UUID  `json:"id"`
	UserID          uuid.UUID  `json:"user_id"`
	Items           []ItemView `json:"items"`
	TotalItems      int        `json:"total_items"`
	TotalPriceCents int        `json:"total_price_cents"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// ItemView is one cart line joined with its product.
type ItemView struct {
	ID             uuid.UUID `json:"id"`
	ProductID      uuid.UUID `json:"product_id"`
	Name           string    `json:"name"`
	PriceCents     int       `json:"price_cents"`
	ImageURL       *string   `json:"image_url,omitempty"`
	Quantity       int       `json:"quantity"`
	LineTotalCents int       `json:"line_total_cents"`
}
