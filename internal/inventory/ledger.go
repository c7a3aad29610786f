package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/daniellecour/storefront-backend/pkg/db/models"
	pkgerrors "github.com/daniellecour/storefront-backend/pkg/errors"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	// LowStockThreshold marks products running low on the order and cart paths.
	LowStockThreshold = 5
	// AdminLowStockThreshold is the wider margin used when admins edit stock.
	AdminLowStockThreshold = 10
)

// Ledger owns product stock counts. Every decrement is a conditional update
// so two overlapping reservations can never both take the last unit.
type Ledger struct {
	db *gorm.DB
}

// NewLedger constructs a ledger bound to the provided DB.
func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// WithTx binds the ledger to a transaction.
func (l *Ledger) WithTx(tx *gorm.DB) *Ledger {
	if tx == nil {
		return l
	}
	return &Ledger{db: tx}
}

// Reserve atomically decrements stock for the product and returns the
// remaining quantity. The guard clause rejects the decrement when stock is
// short, so concurrent reservations serialize on the row update.
func (l *Ledger) Reserve(ctx context.Context, productID uuid.UUID, quantity int) (int, error) {
	if quantity <= 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}

	res := l.db.WithContext(ctx).
		Model(&models.Product{}).
		Where("id = ? AND inventory >= ?", productID, quantity).
		UpdateColumn("inventory", gorm.Expr("inventory - ?", quantity))
	if res.Error != nil {
		return 0, fmt.Errorf("reserving inventory: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		product, err := l.lookup(ctx, productID)
		if err != nil {
			return 0, err
		}
		return 0, pkgerrors.New(pkgerrors.CodeConflict,
			fmt.Sprintf("insufficient stock for %s: %d available, %d requested", product.Name, product.Inventory, quantity))
	}

	product, err := l.lookup(ctx, productID)
	if err != nil {
		return 0, err
	}
	return product.Inventory, nil
}

// Release returns previously reserved stock to the product.
func (l *Ledger) Release(ctx context.Context, productID uuid.UUID, quantity int) error {
	if quantity <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}

	res := l.db.WithContext(ctx).
		Model(&models.Product{}).
		Where("id = ?", productID).
		UpdateColumn("inventory", gorm.Expr("inventory + ?", quantity))
	if res.Error != nil {
		return fmt.Errorf("releasing inventory: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
	}
	return nil
}

// SetLevel overwrites the absolute stock level. Used by admin product edits.
func (l *Ledger) SetLevel(ctx context.Context, productID uuid.UUID, quantity int) error {
	if quantity < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "inventory cannot be negative")
	}

	res := l.db.WithContext(ctx).
		Model(&models.Product{}).
		Where("id = ?", productID).
		UpdateColumn("inventory", quantity)
	if res.Error != nil {
		return fmt.Errorf("setting inventory: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
	}
	return nil
}

// Available returns the current stock level for the product.
func (l *Ledger) Available(ctx context.Context, productID uuid.UUID) (int, error) {
	product, err := l.lookup(ctx, productID)
	if err != nil {
		return 0, err
	}
	return product.Inventory, nil
}

// IsLowStock reports whether remaining stock sits at or below the threshold
// while still above zero. Zero stock is out of stock, not low stock.
func IsLowStock(remaining, threshold int) bool {
	return remaining > 0 && remaining <= threshold
}

func (l *Ledger) lookup(ctx context.Context, productID uuid.UUID) (*models.Product, error) {
	var product models.Product
	err := l.db.WithContext(ctx).
		Select("id", "name", "inventory").
		Where("id = ?", productID).
		First(&product).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
	}
	if err != nil {
		return nil, fmt.Errorf("loading product: %w", err)
	}
	return &product, nil
}
