package dashboard

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/daniellecour/storefront-backend/internal/inventory"
	"github.com/daniellecour/storefront-backend/pkg/db/models"
)

// RecentOrderLimit caps the recent-orders panel.
const RecentOrderLimit = 10

// Service computes the admin dashboard figures on demand.
type Service interface {
	Compute(ctx context.Context) (*Metrics, error)
}

type service struct {
	db  *gorm.DB
	now func() time.Time
}

// NewService builds the aggregator over a live database handle.
func NewService(conn *gorm.DB) (Service, error) {
	if conn == nil {
		return nil, fmt.Errorf("database handle required")
	}
	return &service{db: conn, now: time.Now}, nil
}

// Compute runs the dashboard queries. Pure read, no caching; callers that
// need freshness control (the realtime debounce) own their own cadence.
func (s *service) Compute(ctx context.Context) (*Metrics, error) {
	now := s.now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	activeSince := now.Add(-30 * 24 * time.Hour)

	metrics := &Metrics{GeneratedAt: now.UTC()}

	if err := s.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("created_at >= ?", midnight).
		Count(&metrics.TodayOrderCount).Error; err != nil {
		return nil, fmt.Errorf("counting today's orders: %w", err)
	}

	// Revenue comes from the immutable order-item price snapshots, not the
	// live product prices.
	var revenue struct {
		Cents int64
	}
	if err := s.db.WithContext(ctx).
		Model(&models.OrderItem{}).
		Select("COALESCE(SUM(order_items.price_cents * order_items.quantity), 0) AS cents").
		Joins("JOIN orders ON orders.id = order_items.order_id").
		Where("orders.created_at >= ?", midnight).
		Scan(&revenue).Error; err != nil {
		return nil, fmt.Errorf("summing today's revenue: %w", err)
	}
	metrics.TodayRevenueCents = revenue.Cents
	metrics.TodayRevenue = decimal.NewFromInt(revenue.Cents).
		Div(decimal.NewFromInt(100)).
		StringFixed(2)

	if err := s.db.WithContext(ctx).
		Model(&models.Order{}).
		Distinct("user_id").
		Where("created_at >= ?", activeSince).
		Count(&metrics.ActiveUsers).Error; err != nil {
		return nil, fmt.Errorf("counting active users: %w", err)
	}

	var lowStock []models.Product
	if err := s.db.WithContext(ctx).
		Where("inventory > 0 AND inventory <= ?", inventory.LowStockThreshold).
		Order("inventory ASC, name ASC").
		Find(&lowStock).Error; err != nil {
		return nil, fmt.Errorf("listing low-stock products: %w", err)
	}
	metrics.LowStock = make([]LowStockProduct, 0, len(lowStock))
	for i := range lowStock {
		metrics.LowStock = append(metrics.LowStock, LowStockProduct{
			ID:        lowStock[i].ID,
			Name:      lowStock[i].Name,
			Inventory: lowStock[i].Inventory,
		})
	}
	metrics.LowStockCount = len(metrics.LowStock)

	recent, err := s.recentOrders(ctx)
	if err != nil {
		return nil, err
	}
	metrics.RecentOrders = recent

	return metrics, nil
}

func (s *service) recentOrders(ctx context.Context) ([]RecentOrder, error) {
	var orders []models.Order
	if err := s.db.WithContext(ctx).
		Preload("Items").
		Order("created_at DESC, id DESC").
		Limit(RecentOrderLimit).
		Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("listing recent orders: %w", err)
	}

	usernames, err := s.usernamesFor(ctx, orders)
	if err != nil {
		return nil, err
	}

	rows := make([]RecentOrder, 0, len(orders))
	for i := range orders {
		total := int64(0)
		for _, item := range orders[i].Items {
			total += int64(item.PriceCents) * int64(item.Quantity)
		}
		rows = append(rows, RecentOrder{
			ID:         orders[i].ID,
			UserID:     orders[i].UserID,
			Username:   usernames[orders[i].UserID],
			Status:     orders[i].Status,
			TotalCents: total,
			CreatedAt:  orders[i].CreatedAt,
		})
	}
	return rows, nil
}

func (s *service) usernamesFor(ctx context.Context, orders []models.Order) (map[uuid.UUID]string, error) {
	ids := make([]uuid.UUID, 0, len(orders))
	seen := make(map[uuid.UUID]bool, len(orders))
	for i := range orders {
		if !seen[orders[i].UserID] {
			seen[orders[i].UserID] = true
			ids = append(ids, orders[i].UserID)
		}
	}
	if len(ids) == 0 {
		return map[uuid.UUID]string{}, nil
	}

	var users []models.User
	if err := s.db.WithContext(ctx).
		Select("id", "username").
		Where("id IN ?", ids).
		Find(&users).Error; err != nil {
		return nil, fmt.Errorf("resolving order usernames: %w", err)
	}
	names := make(map[uuid.UUID]string, len(users))
	for i := range users {
		names[users[i].ID] = users[i].Username
	}
	return names, nil
}
