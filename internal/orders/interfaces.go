package orders

import (
	"context"
	"time"

	"github.com/daniellecour/storefront-backend/pkg/db/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository defines the persistence surface required by the order service.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) (*models.Order, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByIDForUser(ctx context.Context, id, userID uuid.UUID) (*models.Order, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Order, error)
	List(ctx context.Context, params ListQuery) ([]models.Order, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
	ListProducts(ctx context.Context, ids []uuid.UUID) ([]models.Product, error)
	DeleteItems(ctx context.Context, orderID uuid.UUID) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// ListQuery narrows the admin order listing.
type ListQuery struct {
	Limit           int
	CursorCreatedAt *time.Time
	CursorID        *uuid.UUID
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}
