package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/daniellecour/storefront-backend/internal/cart"
	"github.com/daniellecour/storefront-backend/internal/inventory"
	"github.com/daniellecour/storefront-backend/internal/realtime"
	"github.com/daniellecour/storefront-backend/pkg/db/models"
	"github.com/daniellecour/storefront-backend/pkg/enums"
	pkgerrors "github.com/daniellecour/storefront-backend/pkg/errors"
	"github.com/daniellecour/storefront-backend/pkg/pagination"
	"github.com/daniellecour/storefront-backend/pkg/types"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Service drives the order lifecycle: checkout from a cart, status
// transitions, and deletion of cancelled orders.
type Service interface {
	CreateFromCart(ctx context.Context, userID uuid.UUID, address types.Address) (*View, error)
	GetForUser(ctx context.Context, userID, orderID uuid.UUID) (*View, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]View, error)
	Get(ctx context.Context, orderID uuid.UUID) (*View, error)
	List(ctx context.Context, params ListParams) (*ListResult, error)
	UpdateStatus(ctx context.Context, orderID uuid.UUID, status enums.OrderStatus) (*View, error)
	Delete(ctx context.Context, orderID uuid.UUID) error
}

// ListParams configures the admin order listing.
type ListParams struct {
	Limit  int
	Cursor string
}

type service struct {
	repo      Repository
	carts     cart.CartRepository
	ledger    *inventory.Ledger
	tx        txRunner
	publisher realtime.Publisher
}

// NewService wires the order workflow dependencies.
func NewService(repo Repository, carts cart.CartRepository, ledger *inventory.Ledger, tx txRunner, publisher realtime.Publisher) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if carts == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("inventory ledger required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("event publisher required")
	}
	return &service{
		repo:      repo,
		carts:     carts,
		ledger:    ledger,
		tx:        tx,
		publisher: publisher,
	}, nil
}

// CreateFromCart converts the user's cart into an order in one transaction:
// every line re-checks stock with a conditional decrement, prices are
// snapshotted, and the cart is cleared. Any failure rolls the whole unit back.
func (s *service) CreateFromCart(ctx context.Context, userID uuid.UUID, address types.Address) (*View, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}

	var (
		created  *models.Order
		cartID   uuid.UUID
		lowStock []realtime.LowStock
	)

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		carts := s.carts.WithTx(tx)
		repo := s.repo.WithTx(tx)
		ledger := s.ledger.WithTx(tx)

		userCart, err := carts.FindByUser(ctx, userID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeConflict, "cart is empty")
		}
		if err != nil {
			return fmt.Errorf("loading cart: %w", err)
		}
		cartID = userCart.ID

		lines, err := carts.ListItems(ctx, userCart.ID)
		if err != nil {
			return fmt.Errorf("listing cart lines: %w", err)
		}
		if len(lines) == 0 {
			return pkgerrors.New(pkgerrors.CodeConflict, "cart is empty")
		}

		ids := make([]uuid.UUID, 0, len(lines))
		for _, line := range lines {
			ids = append(ids, line.ProductID)
		}
		products, err := repo.ListProducts(ctx, ids)
		if err != nil {
			return fmt.Errorf("loading products: %w", err)
		}
		byID := make(map[uuid.UUID]models.Product, len(products))
		for _, p := range products {
			byID[p.ID] = p
		}

		items := make([]models.OrderItem, 0, len(lines))
		for _, line := range lines {
			product, ok := byID[line.ProductID]
			if !ok || !product.IsActive {
				return pkgerrors.New(pkgerrors.CodeConflict, "a cart item is no longer available")
			}

			remaining, err := ledger.Reserve(ctx, line.ProductID, line.Quantity)
			if err != nil {
				return err
			}
			if inventory.IsLowStock(remaining, inventory.LowStockThreshold) {
				lowStock = append(lowStock, realtime.LowStock{
					ProductID: product.ID,
					Name:      product.Name,
					Remaining: remaining,
				})
			}

			items = append(items, models.OrderItem{
				ProductID:  line.ProductID,
				Quantity:   line.Quantity,
				PriceCents: product.PriceCents,
			})
		}

		order := &models.Order{
			UserID:          userID,
			Status:          enums.OrderStatusPending,
			ShippingAddress: address,
			Items:           items,
		}
		if _, err := repo.Create(ctx, order); err != nil {
			return fmt.Errorf("creating order: %w", err)
		}
		if err := carts.DeleteItems(ctx, userCart.ID); err != nil {
			return fmt.Errorf("clearing cart: %w", err)
		}

		created = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	view, err := s.materialize(ctx, created)
	if err != nil {
		return nil, err
	}

	s.publisher.Publish(ctx, realtime.OrderCreated{UserID: userID, Order: view})
	s.publisher.Publish(ctx, realtime.CartChanged{
		UserID: userID,
		Cart:   &cart.View{ID: cartID, UserID: userID, Items: []cart.ItemView{}},
	})
	for _, event := range lowStock {
		s.publisher.Publish(ctx, event)
	}
	return view, nil
}

// GetForUser returns the order only when it belongs to the caller.
func (s *service) GetForUser(ctx context.Context, userID, orderID uuid.UUID) (*View, error) {
	order, err := s.repo.FindByIDForUser(ctx, orderID, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if err != nil {
		return nil, fmt.Errorf("loading order: %w", err)
	}
	return s.materialize(ctx, order)
}

// ListForUser returns the caller's orders, newest first.
func (s *service) ListForUser(ctx context.Context, userID uuid.UUID) ([]View, error) {
	rows, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	return s.materializeAll(ctx, rows)
}

// Get returns any order by id. Admin surface.
func (s *service) Get(ctx context.Context, orderID uuid.UUID) (*View, error) {
	order, err := s.repo.FindByID(ctx, orderID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if err != nil {
		return nil, fmt.Errorf("loading order: %w", err)
	}
	return s.materialize(ctx, order)
}

// List returns a cursor page over all orders. Admin surface.
func (s *service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	limit := pagination.NormalizeLimit(params.Limit)
	query := ListQuery{Limit: pagination.LimitWithBuffer(params.Limit)}

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
		return nil, fmt.Errorf("listing orders: %w", err)
	}

	next := ""
	if len(rows) > limit {
		rows = rows[:limit]
		last := rows[len(rows)-1]
		next = pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}

	views, err := s.materializeAll(ctx, rows)
	if err != nil {
		return nil, err
	}
	return &ListResult{Items: views, Cursor: next}, nil
}

// UpdateStatus advances the order through its lifecycle. Transitions outside
// the state machine are rejected.
func (s *service) UpdateStatus(ctx context.Context, orderID uuid.UUID, status enums.OrderStatus) (*View, error) {
	if !status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid order status %q", status))
	}

	order, err := s.repo.FindByID(ctx, orderID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if err != nil {
		return nil, fmt.Errorf("loading order: %w", err)
	}

	if order.Status != status {
		if !order.Status.CanTransitionTo(status) {
			return nil, pkgerrors.New(pkgerrors.CodeConflict,
				fmt.Sprintf("cannot transition order from %s to %s", order.Status, status))
		}
		if err := s.repo.UpdateStatus(ctx, orderID, string(status)); err != nil {
			return nil, fmt.Errorf("updating order status: %w", err)
		}
		order.Status = status
	}

	view, err := s.materialize(ctx, order)
	if err != nil {
		return nil, err
	}
	s.publisher.Publish(ctx, realtime.OrderStatusChanged{
		UserID:  order.UserID,
		OrderID: order.ID,
		Status:  status,
		Order:   view,
	})
	return view, nil
}

// Delete removes a cancelled order and its items.
func (s *service) Delete(ctx context.Context, orderID uuid.UUID) error {
	order, err := s.repo.FindByID(ctx, orderID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if err != nil {
		return fmt.Errorf("loading order: %w", err)
	}
	if order.Status != enums.OrderStatusCancelled {
		return pkgerrors.New(pkgerrors.CodeConflict, "only cancelled orders can be deleted")
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.DeleteItems(ctx, order.ID); err != nil {
			return fmt.Errorf("deleting order items: %w", err)
		}
		if err := repo.Delete(ctx, order.ID); err != nil {
			return fmt.Errorf("deleting order: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.publisher.Publish(ctx, realtime.OrderDeleted{OrderID: order.ID})
	return nil
}

func (s *service) materialize(ctx context.Context, order *models.Order) (*View, error) {
	views, err := s.materializeAll(ctx, []models.Order{*order})
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}

func (s *service) materializeAll(ctx context.Context, rows []models.Order) ([]View, error) {
	idSet := make(map[uuid.UUID]struct{})
	for _, order := range rows {
		for _, item := range order.Items {
			idSet[item.ProductID] = struct{}{}
		}
	}

	byID := make(map[uuid.UUID]models.Product, len(idSet))
	if len(idSet) > 0 {
		ids := make([]uuid.UUID, 0, len(idSet))
		for id := range idSet {
			ids = append(ids, id)
		}
		products, err := s.repo.ListProducts(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("loading order products: %w", err)
		}
		for _, p := range products {
			byID[p.ID] = p
		}
	}

	views := make([]View, 0, len(rows))
	for i := range rows {
		views = append(views, *buildView(&rows[i], byID))
	}
	return views, nil
}
