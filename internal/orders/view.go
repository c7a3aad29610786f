package orders

import (
	"time"

	"github.com/daniellecour/storefront-backend/pkg/db/models"
	"github.com/daniellecour/storefront-backend/pkg/enums"
	"github.com/daniellecour/storefront-backend/pkg/types"
	"github.com/google/uuid"
)

// View is the order as returned to clients. Totals come from the immutable
// order-time prices, never the live product price.
type View struct {
	ID              uuid.UUID         `json:"id"`
	UserID          uuid.UUID         `json:"user_id"`
	Status          enums.OrderStatus `json:"status"`
	ShippingAddress types.Address     `json:"shipping_address"`
	Items           []ItemView        `json:"items"`
	TotalItems      int               `json:"total_items"`
	TotalPriceCents int               `json:"total_price_cents"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// ItemView is one immutable order line joined with current product metadata.
type ItemView struct {
	ID             uuid.UUID `json:"id"`
	ProductID      uuid.UUID `json:"product_id"`
	Name           string    `json:"name"`
	ImageURL       *string   `json:"image_url,omitempty"`
	Quantity       int       `json:"quantity"`
	PriceCents     int       `json:"price_cents"`
	LineTotalCents int       `json:"line_total_cents"`
}

// ListResult wraps a page of orders and the cursor for the next page.
type ListResult struct {
	Items  []View `json:"items"`
	Cursor string `json:"cursor"`
}

func buildView(order *models.Order, productsByID map[uuid.UUID]models.Product) *View {
	view := &View{
		ID:              order.ID,
		UserID:          order.UserID,
		Status:          order.Status,
		ShippingAddress: order.ShippingAddress,
		Items:           make([]ItemView, 0, len(order.Items)),
		CreatedAt:       order.CreatedAt,
		UpdatedAt:       order.UpdatedAt,
	}
	for _, item := range order.Items {
		line := ItemView{
			ID:             item.ID,
			ProductID:      item.ProductID,
			Quantity:       item.Quantity,
			PriceCents:     item.PriceCents,
			LineTotalCents: item.PriceCents * item.Quantity,
		}
		if product, ok := productsByID[item.ProductID]; ok {
			line.Name = product.Name
			line.ImageURL = product.ImageURL
		}
		view.Items = append(view.Items, line)
		view.TotalItems += item.Quantity
		view.TotalPriceCents += line.LineTotalCents
	}
	return view
}
