package products

import (
	"time"

	"github.com/daniellecour/storefront-backend/pkg/db/models"
	"github.com/google/uuid"
)

// View is the product shape returned to clients.
type View struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	PriceCents  int       `json:"price_cents"`
	Inventory   int       `json:"inventory"`
	IsActive    bool      `json:"is_active"`
	ImageURL    *string   `json:"image_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ListResult wraps a catalog page and the cursor for the next page.
type ListResult struct {
	Items  []View `json:"items"`
	Cursor string `json:"cursor"`
}

// CreateInput carries the fields accepted when adding a product.
type CreateInput struct {
	Name        string
	Description string
	PriceCents  int
	Inventory   int
	IsActive    *bool
	ImageURL    *string
}

// UpdateInput carries a partial product edit. Nil fields are untouched.
type UpdateInput struct {
	Name        *string
	Description *string
	PriceCents  *int
	Inventory   *int
	IsActive    *bool
	ImageURL    *string
}

func toView(product *models.Product) *View {
	return &View{
		ID:          product.ID,
		Name:        product.Name,
		Description: product.Description,
		PriceCents:  product.PriceCents,
		Inventory:   product.Inventory,
		IsActive:    product.IsActive,
		ImageURL:    product.ImageURL,
		CreatedAt:   product.CreatedAt,
		UpdatedAt:   product.UpdatedAt,
	}
}

func toViews(rows []models.Product) []View {
	views := make([]View, 0, len(rows))
	for i := range rows {
		views = append(views, *toView(&rows[i]))
	}
	return views
}
