package realtime

import (
	"context"

	"github.com/daniellecour/storefront-backend/pkg/enums"
	"github.com/google/uuid"
)

// Event is the sealed set of domain events the notifier knows how to address.
// One variant per event type keeps the dispatch switch exhaustive.
type Event interface {
	isEvent()
}

// Publisher is the emission surface handed to domain services. Implementations
// must never fail the mutation that triggered the event.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// CartChanged fires after any cart mutation. Cart carries the materialized
// view returned to REST clients.
type CartChanged struct {
	UserID uuid.UUID
	Cart   any
}

// OrderCreated fires after an order commits.
type OrderCreated struct {
	UserID uuid.UUID
	Order  any
}

// OrderStatusChanged fires when an order advances through its lifecycle.
type OrderStatusChanged struct {
	UserID  uuid.UUID
	OrderID uuid.UUID
	Status  enums.OrderStatus
	Order   any
}

// OrderDeleted fires after an admin removes a cancelled order.
type OrderDeleted struct {
	OrderID uuid.UUID
}

// ProductCreated fires when an admin adds a product.
type ProductCreated struct {
	Product any
}

// ProductUpdated fires when an admin edits a product.
type ProductUpdated struct {
	Product any
}

// ProductDeleted fires when an admin removes a product.
type ProductDeleted struct {
	ProductID uuid.UUID
}

// LowStock fires when a mutation leaves a product at or below its
// low-stock threshold while still above zero.
type LowStock struct {
	ProductID uuid.UUID
	Name      string
	Remaining int
}

func (CartChanged) isEvent()        {}
func (OrderCreated) isEvent()       {}
func (OrderStatusChanged) isEvent() {}
func (OrderDeleted) isEvent()       {}
func (ProductCreated) isEvent()     {}
func (ProductUpdated) isEvent()     {}
func (ProductDeleted) isEvent()     {}
func (LowStock) isEvent()           {}

// NopPublisher discards every event. Useful for wiring services in tests.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) {}
