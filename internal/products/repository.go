package products

import (
	"context"
	"time"

	"github.com/daniellecour/storefront-backend/pkg/db/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository exposes persistence operations for the product catalog.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a product repository bound to the provided DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx binds the repository to a transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// GetByID loads a single product.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	var product models.Product
	if err := r.db.WithContext(ctx).First(&product, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

// GetByIDs loads the products matching the provided ids.
func (r *Repository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []models.Product
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ListQuery narrows the catalog listing.
type ListQuery struct {
	ActiveOnly      bool
	Limit           int
	CursorCreatedAt *time.Time
	CursorID        *uuid.UUID
}

// List returns a page of products, newest first.
func (r *Repository) List(ctx context.Context, params ListQuery) ([]models.Product, error) {
	query := r.db.WithContext(ctx).Order("created_at DESC, id DESC")
	if params.ActiveOnly {
		query = query.Where("is_active = ?", true)
	}
	if params.CursorCreatedAt != nil && params.CursorID != nil {
		query = query.Where(
			"(created_at < ?) OR (created_at = ? AND id < ?)",
			*params.CursorCreatedAt, *params.CursorCreatedAt, *params.CursorID,
		)
	}
	if params.Limit > 0 {
		query = query.Limit(params.Limit)
	}

	var rows []models.Product
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Create inserts a product.
func (r *Repository) Create(ctx context.Context, product *models.Product) (*models.Product, error) {
	if err := r.db.WithContext(ctx).Create(product).Error; err != nil {
		return nil, err
	}
	return product, nil
}

// Save persists all fields of the product.
func (r *Repository) Save(ctx context.Context, product *models.Product) (*models.Product, error) {
	if err := r.db.WithContext(ctx).Save(product).Error; err != nil {
		return nil, err
	}
	return product, nil
}

// Delete removes a product row.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Product{}).Error
}

// DeleteCartLines removes cart lines that reference the product.
func (r *Repository) DeleteCartLines(ctx context.Context, productID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Where("product_id = ?", productID).
		Delete(&models.CartItem{}).Error
}

// HasOrderLines reports whether any order references the product.
func (r *Repository) HasOrderLines(ctx context.Context, productID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.OrderItem{}).
		Where("product_id = ?", productID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
