package dashboard

import (
	"time"

	"github.com/google/uuid"

	"github.com/daniellecour/storefront-backend/pkg/enums"
)

// Metrics is the admin dashboard snapshot returned over REST and pushed
// over the realtime channel after the debounce window closes.
type Metrics struct {
	TodayOrderCount   int64             `json:"today_order_count"`
	TodayRevenueCents int64             `json:"today_revenue_cents"`
	TodayRevenue      string            `json:"today_revenue"`
	ActiveUsers       int64             `json:"active_users"`
	LowStock          []LowStockProduct `json:"low_stock"`
	LowStockCount     int               `json:"low_stock_count"`
	RecentOrders      []RecentOrder     `json:"recent_orders"`
	GeneratedAt       time.Time         `json:"generated_at"`
}

// LowStockProduct is a product sitting at or below the restock threshold.
type LowStockProduct struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Inventory int       `json:"inventory"`
}

// RecentOrder is one row of the recent-orders panel, annotated with the
// username that placed it.
type RecentOrder struct {
	ID         uuid.UUID         `json:"id"`
	UserID     uuid.UUID         `json:"user_id"`
	Username   string            `json:"username"`
	Status     enums.OrderStatus `json:"status"`
	TotalCents int64             `json:"total_cents"`
	CreatedAt  time.Time         `json:"created_at"`
}
