package cart

import (
	"context"
	"errors"
	"fmt"

	"github.com/daniellecour/storefront-backend/internal/realtime"
	"github.com/daniellecour/storefront-backend/pkg/db"
	"github.com/daniellecour/storefront-backend/pkg/db/models"
	pkgerrors "github.com/daniellecour/storefront-backend/pkg/errors"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Service exposes cart operations for the authenticated storefront user.
type Service interface {
	GetOrCreate(ctx context.Context, userID uuid.UUID) (*View, error)
	AddItem(ctx context.Context, userID, productID uuid.UUID, quantity int) (*View, error)
	SetItemQuantity(ctx context.Context, userID, itemID uuid.UUID, quantity int) (*View, error)
	RemoveItem(ctx context.Context, userID, itemID uuid.UUID) (*View, error)
	Clear(ctx context.Context, userID uuid.UUID) (*View, error)
}

type service struct {
	repo      CartRepository
	products  ProductLoader
	publisher realtime.Publisher
}

// NewService builds a cart service backed by the provided stack.
func NewService(repo CartRepository, products ProductLoader, publisher realtime.Publisher) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if products == nil {
		return nil, fmt.Errorf("product loader required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("event publisher required")
	}
	return &service{
		repo:      repo,
		products:  products,
		publisher: publisher,
	}, nil
}

// GetOrCreate returns the user's cart, creating an empty one on first access.
func (s *service) GetOrCreate(ctx context.Context, userID uuid.UUID) (*View, error) {
	cart, err := s.ensureCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.materialize(ctx, cart)
}

// AddItem merges the product into the cart, rejecting quantities the current
// stock cannot cover.
func (s *service) AddItem(ctx context.Context, userID, productID uuid.UUID, quantity int) (*View, error) {
	if quantity <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}

	cart, err := s.ensureCart(ctx, userID)
	if err != nil {
		return nil, err
	}

	product, err := s.loadSellable(ctx, productID)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.FindItemByProduct(ctx, cart.ID, productID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("loading cart line: %w", err)
	}

	requested := quantity
	if existing != nil {
		requested += existing.Quantity
	}
	if requested > product.Inventory {
		return nil, insufficientStock(product, requested)
	}

	if existing != nil {
		if err := s.repo.UpdateItemQuantity(ctx, existing.ID, requested); err != nil {
			return nil, fmt.Errorf("updating cart line: %w", err)
		}
	} else {
		item := &models.CartItem{
			CartID:    cart.ID,
			ProductID: productID,
			Quantity:  quantity,
		}
		if err := s.repo.CreateItem(ctx, item); err != nil {
			if db.IsUniqueViolation(err, "") {
				return nil, pkgerrors.New(pkgerrors.CodeConflict, "cart already has a line for this product")
			}
			return nil, fmt.Errorf("creating cart line: %w", err)
		}
	}

	return s.publishView(ctx, cart, userID)
}

// SetItemQuantity overwrites a line's quantity. Zero removes the line. The
// item must belong to the caller's own cart.
func (s *service) SetItemQuantity(ctx context.Context, userID, itemID uuid.UUID, quantity int) (*View, error) {
	if quantity < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity cannot be negative")
	}

	cart, item, err := s.ownedItem(ctx, userID, itemID)
	if err != nil {
		return nil, err
	}

	if quantity == 0 {
		if err := s.repo.DeleteItem(ctx, item.ID); err != nil {
			return nil, fmt.Errorf("deleting cart line: %w", err)
		}
		return s.publishView(ctx, cart, userID)
	}

	product, err := s.loadSellable(ctx, item.ProductID)
	if err != nil {
		return nil, err
	}
	if quantity > product.Inventory {
		return nil, insufficientStock(product, quantity)
	}

	if err := s.repo.UpdateItemQuantity(ctx, item.ID, quantity); err != nil {
		return nil, fmt.Errorf("updating cart line: %w", err)
	}
	return s.publishView(ctx, cart, userID)
}

// RemoveItem drops a line from the caller's cart.
func (s *service) RemoveItem(ctx context.Context, userID, itemID uuid.UUID) (*View, error) {
	cart, item, err := s.ownedItem(ctx, userID, itemID)
	if err != nil {
		return nil, err
	}
	if err := s.repo.DeleteItem(ctx, item.ID); err != nil {
		return nil, fmt.Errorf("deleting cart line: %w", err)
	}
	return s.publishView(ctx, cart, userID)
}

// Clear removes every line from the user's cart.
func (s *service) Clear(ctx context.Context, userID uuid.UUID) (*View, error) {
	cart, err := s.ensureCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.repo.DeleteItems(ctx, cart.ID); err != nil {
		return nil, fmt.Errorf("clearing cart: %w", err)
	}
	return s.publishView(ctx, cart, userID)
}

func (s *service) ensureCart(ctx context.Context, userID uuid.UUID) (*models.Cart, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}

	cart, err := s.repo.FindByUser(ctx, userID)
	if err == nil {
		return cart, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("loading cart: %w", err)
	}

	created, err := s.repo.Create(ctx, &models.Cart{UserID: userID})
	if err != nil {
		// Concurrent first access can race on the per-user unique index.
		if db.IsUniqueViolation(err, "") {
			return s.repo.FindByUser(ctx, userID)
		}
		return nil, fmt.Errorf("creating cart: %w", err)
	}
	return created, nil
}

func (s *service) ownedItem(ctx context.Context, userID, itemID uuid.UUID) (*models.Cart, *models.CartItem, error) {
	cart, err := s.ensureCart(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	item, err := s.repo.FindItem(ctx, cart.ID, itemID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, "cart item not found")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("loading cart line: %w", err)
	}
	return cart, item, nil
}

func (s *service) loadSellable(ctx context.Context, productID uuid.UUID) (*models.Product, error) {
	product, err := s.products.GetByID(ctx, productID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product unavailable")
	}
	if err != nil {
		return nil, fmt.Errorf("loading product: %w", err)
	}
	if !product.IsActive {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product unavailable")
	}
	return product, nil
}

func (s *service) publishView(ctx context.Context, cart *models.Cart, userID uuid.UUID) (*View, error) {
	view, err := s.materialize(ctx, cart)
	if err != nil {
		return nil, err
	}
	s.publisher.Publish(ctx, realtime.CartChanged{UserID: userID, Cart: view})
	return view, nil
}

func (s *service) materialize(ctx context.Context, cart *models.Cart) (*View, error) {
	items, err := s.repo.ListItems(ctx, cart.ID)
	if err != nil {
		return nil, fmt.Errorf("listing cart lines: %w", err)
	}

	view := &View{
		ID:        cart.ID,
		UserID:    cart.UserID,
		Items:     make([]ItemView, 0, len(items)),
		UpdatedAt: cart.UpdatedAt,
	}
	if len(items) == 0 {
		return view, nil
	}

	ids := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	products, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading cart products: %w", err)
	}
	byID := make(map[uuid.UUID]models.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	for _, item := range items {
		product, ok := byID[item.ProductID]
		if !ok {
			// Product deleted since the line was added; surface nothing for it.
			continue
		}
		line := ItemView{
			ID:             item.ID,
			ProductID:      item.ProductID,
			Name:           product.Name,
			PriceCents:     product.PriceCents,
			ImageURL:       product.ImageURL,
			Quantity:       item.Quantity,
			LineTotalCents: product.PriceCents * item.Quantity,
		}
		view.Items = append(view.Items, line)
		view.TotalItems += item.Quantity
		view.TotalPriceCents += line.LineTotalCents
	}
	return view, nil
}

func insufficientStock(product *models.Product, requested int) error {
	return pkgerrors.New(pkgerrors.CodeConflict,
		fmt.Sprintf("insufficient stock for %s: %d available, %d requested", product.Name, product.Inventory, requested))
}
