package cart

import (
	"context"
	"sync"
	"testing"

	"github.com/daniellecour/storefront-backend/internal/realtime"
	"github.com/daniellecour/storefront-backend/pkg/db/models"
	pkgerrors "github.com/daniellecour/storefront-backend/pkg/errors"
	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (p *recordingPublisher) Publish(_ context.Context, event realtime.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type gormProductLoader struct {
	db *gorm.DB
}

func (l gormProductLoader) GetByID(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	var product models.Product
	if err := l.db.WithContext(ctx).First(&product, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

func (l gormProductLoader) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Product, error) {
	var products []models.Product
	if err := l.db.WithContext(ctx).Where("id IN ?", ids).Find(&products).Error; err != nil {
		return nil, err
	}
	return products, nil
}

func TestGetOrCreateIdempotent(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t)
	ctx := context.Background()
	userID := uuid.New()

	first, err := svc.GetOrCreate(ctx, userID)
	if err != nil {
		t.Fatalf("first get: %v", err)
	}
	second, err := svc.GetOrCreate(ctx, userID)
	if err != nil {
		t.Fatalf("second get: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected same cart id, got %s and %s", first.ID, second.ID)
	}
	if len(first.Items) != 0 || first.TotalItems != 0 {
		t.Fatalf("new cart should be empty: %+v", first)
	}
}

func TestAddItemMergesAndChecksStock(t *testing.T) {
	t.Parallel()

	svc, db, pub := newTestService(t)
	ctx := context.Background()
	userID := uuid.New()
	product := seedProduct(t, db, "gadget", 3, 2500)

	view, err := svc.AddItem(ctx, userID, product.ID, 2)
	if err != nil {
		t.Fatalf("first add: %v", err)
	}
	if view.TotalItems != 2 || view.TotalPriceCents != 5000 {
		t.Fatalf("unexpected totals: %+v", view)
	}

	_, err = svc.AddItem(ctx, userID, product.ID, 2)
	if err == nil {
		t.Fatal("expected insufficient stock for merged quantity 4 > 3")
	}
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeConflict {
		t.Fatalf("unexpected error: %v", err)
	}

	view, err = svc.GetOrCreate(ctx, userID)
	if err != nil {
		t.Fatalf("reload cart: %v", err)
	}
	if len(view.Items) != 1 || view.Items[0].Quantity != 2 {
		t.Fatalf("failed add must not change the cart: %+v", view)
	}

	if pub.count() == 0 {
		t.Fatal("expected cart change events")
	}
}

func TestAddItemMergesIntoSingleLine(t *testing.T) {
	t.Parallel()

	svc, db, _ := newTestService(t)
	ctx := context.Background()
	userID := uuid.New()
	product := seedProduct(t, db, "gadget", 10, 100)

	if _, err := svc.AddItem(ctx, userID, product.ID, 1); err != nil {
		t.Fatalf("first add: %v", err)
	}
	if _, err := svc.AddItem(ctx, userID, product.ID, 3); err != nil {
		t.Fatalf("second add: %v", err)
	}

	var count int64
	if err := db.Model(&models.CartItem{}).Where("product_id = ?", product.ID).Count(&count).Error; err != nil {
		t.Fatalf("count lines: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected a single merged line, got %d", count)
	}
}

func TestAddItemRejectsInactiveProduct(t *testing.T) {
	t.Parallel()

	svc, db, _ := newTestService(t)
	ctx := context.Background()

	inactive := seedProduct(t, db, "retired", 5, 100)
	if err := db.Model(inactive).Update("is_active", false).Error; err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	_, err := svc.AddItem(ctx, uuid.New(), inactive.ID, 1)
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}

	_, err = svc.AddItem(ctx, uuid.New(), uuid.New(), 1)
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error for missing product, got %v", err)
	}
}

func TestSetItemQuantity(t *testing.T) {
	t.Parallel()

	svc, db, _ := newTestService(t)
	ctx := context.Background()
	userID := uuid.New()
	product := seedProduct(t, db, "gadget", 5, 100)

	view, err := svc.AddItem(ctx, userID, product.ID, 1)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	itemID := view.Items[0].ID

	view, err = svc.SetItemQuantity(ctx, userID, itemID, 4)
	if err != nil {
		t.Fatalf("set quantity: %v", err)
	}
	if view.Items[0].Quantity != 4 {
		t.Fatalf("expected quantity 4, got %d", view.Items[0].Quantity)
	}

	_, err = svc.SetItemQuantity(ctx, userID, itemID, 6)
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeConflict {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	// Another user must never be able to touch the line by id.
	_, err = svc.SetItemQuantity(ctx, uuid.New(), itemID, 1)
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found for foreign item, got %v", err)
	}

	view, err = svc.SetItemQuantity(ctx, userID, itemID, 0)
	if err != nil {
		t.Fatalf("set zero: %v", err)
	}
	if len(view.Items) != 0 {
		t.Fatalf("zero quantity must delete the line: %+v", view)
	}
}

func TestRemoveItemAndClear(t *testing.T) {
	t.Parallel()

	svc, db, _ := newTestService(t)
	ctx := context.Background()
	userID := uuid.New()
	first := seedProduct(t, db, "alpha", 5, 100)
	second := seedProduct(t, db, "beta", 5, 200)

	view, err := svc.AddItem(ctx, userID, first.ID, 1)
	if err != nil {
		t.Fatalf("add first: %v", err)
	}
	if _, err := svc.AddItem(ctx, userID, second.ID, 2); err != nil {
		t.Fatalf("add second: %v", err)
	}

	view, err = svc.RemoveItem(ctx, userID, view.Items[0].ID)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(view.Items) != 1 || view.Items[0].ProductID != second.ID {
		t.Fatalf("unexpected cart after remove: %+v", view)
	}

	view, err = svc.Clear(ctx, userID)
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if len(view.Items) != 0 || view.TotalItems != 0 || view.TotalPriceCents != 0 {
		t.Fatalf("cart not cleared: %+v", view)
	}
}

func newTestService(t *testing.T) (Service, *gorm.DB, *recordingPublisher) {
	t.Helper()
	db := newTestDB(t)
	pub := &recordingPublisher{}
	svc, err := NewService(NewRepository(db), gormProductLoader{db: db}, pub)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, db, pub
}

func seedProduct(t *testing.T, db *gorm.DB, name string, stock, priceCents int) *models.Product {
	t.Helper()
	product := &models.Product{
		ID:         uuid.New(),
		Name:       name,
		PriceCents: priceCents,
		Inventory:  stock,
		IsActive:   true,
	}
	if err := db.Create(product).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}
	return product
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:cart_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.Product{}, &models.Cart{}, &models.CartItem{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}
