package products

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/daniellecour/storefront-backend/internal/inventory"
	"github.com/daniellecour/storefront-backend/internal/realtime"
	"github.com/daniellecour/storefront-backend/pkg/db/models"
	pkgerrors "github.com/daniellecour/storefront-backend/pkg/errors"
	"github.com/daniellecour/storefront-backend/pkg/pagination"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Service exposes the product catalog. Public reads filter to active
// listings; the admin surface sees and mutates everything.
type Service interface {
	List(ctx context.Context, params ListParams) (*ListResult, error)
	Get(ctx context.Context, id uuid.UUID) (*View, error)
	ListAll(ctx context.Context, params ListParams) (*ListResult, error)
	Create(ctx context.Context, input CreateInput) (*View, error)
	Update(ctx context.Context, id uuid.UUID, input UpdateInput) (*View, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// ListParams configures catalog pagination.
type ListParams struct {
	Limit  int
	Cursor string
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type service struct {
	repo      *Repository
	tx        txRunner
	publisher realtime.Publisher
}

// NewService wires catalog dependencies.
func NewService(repo *Repository, tx txRunner, publisher realtime.Publisher) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("product repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("event publisher required")
	}
	return &service{repo: repo, tx: tx, publisher: publisher}, nil
}

// List returns a page of active products.
func (s *service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	return s.list(ctx, params, true)
}

// ListAll returns a page over the whole catalog, inactive rows included.
func (s *service) ListAll(ctx context.Context, params ListParams) (*ListResult, error) {
	return s.list(ctx, params, false)
}

func (s *service) list(ctx context.Context, params ListParams, activeOnly bool) (*ListResult, error) {
	limit := pagination.NormalizeLimit(params.Limit)
	query := ListQuery{
		ActiveOnly: activeOnly,
		Limit:      pagination.LimitWithBuffer(params.Limit),
	}
	if params.Cursor != "" {
		cursor, err := pagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		if cursor != nil {
			query.CursorCreatedAt = &cursor.CreatedAt
			query.CursorID = &cursor.ID
		}
	}

	rows, err := s.repo.List(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}

	next := ""
	if len(rows) > limit {
		rows = rows[:limit]
		last := rows[len(rows)-1]
		next = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return &ListResult{Items: toViews(rows), Cursor: next}, nil
}

// Get returns a product by id. Inactive rows resolve too; only listings
// filter them out.
func (s *service) Get(ctx context.Context, id uuid.UUID) (*View, error) {
	product, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return toView(product), nil
}

// Create inserts a product and announces it.
func (s *service) Create(ctx context.Context, input CreateInput) (*View, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product name is required")
	}
	if input.PriceCents < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "price cannot be negative")
	}
	if input.Inventory < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "inventory cannot be negative")
	}

	product := &models.Product{
		Name:        name,
		Description: input.Description,
		PriceCents:  input.PriceCents,
		Inventory:   input.Inventory,
		IsActive:    true,
		ImageURL:    input.ImageURL,
	}
	if input.IsActive != nil {
		product.IsActive = *input.IsActive
	}

	if _, err := s.repo.Create(ctx, product); err != nil {
		return nil, fmt.Errorf("creating product: %w", err)
	}

	view := toView(product)
	s.publisher.Publish(ctx, realtime.ProductCreated{Product: view})
	return view, nil
}

// Update applies a partial edit. Inventory edits use the wider admin
// low-stock margin when deciding whether to warn.
func (s *service) Update(ctx context.Context, id uuid.UUID, input UpdateInput) (*View, error) {
	product, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "product name is required")
		}
		product.Name = name
	}
	if input.Description != nil {
		product.Description = *input.Description
	}
	if input.PriceCents != nil {
		if *input.PriceCents < 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "price cannot be negative")
		}
		product.PriceCents = *input.PriceCents
	}
	inventoryChanged := false
	if input.Inventory != nil {
		if *input.Inventory < 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "inventory cannot be negative")
		}
		inventoryChanged = product.Inventory != *input.Inventory
		product.Inventory = *input.Inventory
	}
	if input.IsActive != nil {
		product.IsActive = *input.IsActive
	}
	if input.ImageURL != nil {
		product.ImageURL = input.ImageURL
	}

	if _, err := s.repo.Save(ctx, product); err != nil {
		return nil, fmt.Errorf("saving product: %w", err)
	}

	view := toView(product)
	s.publisher.Publish(ctx, realtime.ProductUpdated{Product: view})
	if inventoryChanged && inventory.IsLowStock(product.Inventory, inventory.AdminLowStockThreshold) {
		s.publisher.Publish(ctx, realtime.LowStock{
			ProductID: product.ID,
			Name:      product.Name,
			Remaining: product.Inventory,
		})
	}
	return view, nil
}

// Delete removes a product that no order references, dropping any cart
// lines that still point at it.
func (s *service) Delete(ctx context.Context, id uuid.UUID) error {
	product, err := s.load(ctx, id)
	if err != nil {
		return err
	}

	referenced, err := s.repo.HasOrderLines(ctx, product.ID)
	if err != nil {
		return fmt.Errorf("checking order references: %w", err)
	}
	if referenced {
		return pkgerrors.New(pkgerrors.CodeConflict, "product has orders; deactivate it instead")
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.DeleteCartLines(ctx, product.ID); err != nil {
			return fmt.Errorf("removing cart lines: %w", err)
		}
		if err := repo.Delete(ctx, product.ID); err != nil {
			return fmt.Errorf("deleting product: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.publisher.Publish(ctx, realtime.ProductDeleted{ProductID: product.ID})
	return nil
}

func (s *service) load(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	product, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
	}
	if err != nil {
		return nil, fmt.Errorf("loading product: %w", err)
	}
	return product, nil
}
