package realtime

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/daniellecour/storefront-backend/internal/dashboard"
	"github.com/daniellecour/storefront-backend/pkg/enums"
	"github.com/daniellecour/storefront-backend/pkg/logger"
)

type stubDashboard struct {
	computes atomic.Int64
	fail     atomic.Bool
}

func (s *stubDashboard) Compute(context.Context) (*dashboard.Metrics, error) {
	s.computes.Add(1)
	if s.fail.Load() {
		return nil, errors.New("query timeout")
	}
	return &dashboard.Metrics{TodayOrderCount: s.computes.Load()}, nil
}

func quietLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "realtime-test", Output: io.Discard})
}

func newTestNotifier(t *testing.T, debounce time.Duration) (*Notifier, *Registry, *stubDashboard) {
	t.Helper()
	reg := NewRegistry(nil)
	source := &stubDashboard{}
	cfg := testRealtimeConfig()
	cfg.DashboardDebounce = debounce
	n, err := NewNotifier(reg, source, quietLogger(), nil, cfg)
	if err != nil {
		t.Fatalf("building notifier: %v", err)
	}
	t.Cleanup(n.Stop)
	return n, reg, source
}

func addAdmin(reg *Registry) *Conn {
	c, _ := newTestConn()
	reg.Add(c)
	reg.Authenticate(c, uuid.New(), enums.RoleAdmin)
	return c
}

func addUser(reg *Registry, userID uuid.UUID) *Conn {
	c, _ := newTestConn()
	reg.Add(c)
	reg.Authenticate(c, userID, enums.RoleUser)
	return c
}

func countType(envs []Envelope, messageType string) int {
	n := 0
	for _, env := range envs {
		if env.Type == messageType {
			n++
		}
	}
	return n
}

func TestPublishAddressesEachAudience(t *testing.T) {
	t.Parallel()

	n, reg, _ := newTestNotifier(t, time.Hour)
	ctx := context.Background()

	shopperID := uuid.New()
	shopper := addUser(reg, shopperID)
	other := addUser(reg, uuid.New())
	admin := addAdmin(reg)
	anon, _ := newTestConn()
	reg.Add(anon)

	n.Publish(ctx, CartChanged{UserID: shopperID, Cart: map[string]int{"total_items": 2}})
	n.Publish(ctx, OrderCreated{UserID: shopperID, Order: map[string]string{"id": "o1"}})
	n.Publish(ctx, OrderStatusChanged{UserID: shopperID, OrderID: uuid.New(), Status: enums.OrderStatusShipped})
	n.Publish(ctx, ProductUpdated{Product: map[string]string{"name": "desk"}})
	n.Publish(ctx, LowStock{ProductID: uuid.New(), Name: "desk", Remaining: 3})

	shopperMsgs := drain(shopper)
	if countType(shopperMsgs, MessageCartSync) != 1 {
		t.Fatalf("shopper should receive one cartSync, got %v", messageTypes(shopperMsgs))
	}
	if countType(shopperMsgs, MessageOrderStatus) != 1 {
		t.Fatalf("order owner should receive orderStatus, got %v", messageTypes(shopperMsgs))
	}
	if countType(shopperMsgs, MessageAdminNotification) != 0 {
		t.Fatal("plain users must not receive admin notifications")
	}

	otherMsgs := drain(other)
	if countType(otherMsgs, MessageCartSync) != 0 || countType(otherMsgs, MessageOrderStatus) != 0 {
		t.Fatalf("cart and order traffic leaked to another user: %v", messageTypes(otherMsgs))
	}
	if countType(otherMsgs, MessageProductUpdated) != 1 {
		t.Fatal("product updates go to everyone")
	}

	adminMsgs := drain(admin)
	if got := countType(adminMsgs, MessageAdminNotification); got != 3 {
		t.Fatalf("admin should see orderCreated, orderStatusChanged and lowStock, got %d in %v", got, messageTypes(adminMsgs))
	}

	anonMsgs := drain(anon)
	if len(anonMsgs) != 1 || anonMsgs[0].Type != MessageProductUpdated {
		t.Fatalf("anonymous connections get product broadcasts only, got %v", messageTypes(anonMsgs))
	}
}

func TestDashboardDebounceCollapsesBursts(t *testing.T) {
	t.Parallel()

	debounce := 80 * time.Millisecond
	n, reg, source := newTestNotifier(t, debounce)
	admin := addAdmin(reg)
	ctx := context.Background()

	// A burst of qualifying events well inside the quiet window.
	for i := 0; i < 5; i++ {
		n.Publish(ctx, OrderCreated{UserID: uuid.New()})
		time.Sleep(debounce / 10)
	}

	deadline := time.Now().Add(10 * debounce)
	for source.computes.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(debounce / 4)
	}
	// Generous settle time to catch any extra refresh.
	time.Sleep(3 * debounce)

	if got := source.computes.Load(); got != 1 {
		t.Fatalf("burst should collapse into one recompute, got %d", got)
	}
	msgs := drain(admin)
	if got := countType(msgs, MessageDashboardMetrics); got != 1 {
		t.Fatalf("expected one dashboardMetrics push, got %d in %v", got, messageTypes(msgs))
	}

	// A fresh event after the quiet window schedules a new refresh.
	n.Publish(ctx, ProductDeleted{ProductID: uuid.New()})
	deadline = time.Now().Add(10 * debounce)
	for source.computes.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(debounce / 4)
	}
	if got := source.computes.Load(); got != 2 {
		t.Fatalf("expected a second recompute after the window, got %d", got)
	}
}

func TestCartChangedDoesNotTouchDashboard(t *testing.T) {
	t.Parallel()

	debounce := 40 * time.Millisecond
	n, _, source := newTestNotifier(t, debounce)

	n.Publish(context.Background(), CartChanged{UserID: uuid.New()})
	time.Sleep(4 * debounce)

	if got := source.computes.Load(); got != 0 {
		t.Fatalf("cart traffic must not refresh the dashboard, got %d computes", got)
	}
}

func TestDashboardFailureIsSwallowed(t *testing.T) {
	t.Parallel()

	debounce := 40 * time.Millisecond
	n, reg, source := newTestNotifier(t, debounce)
	source.fail.Store(true)
	admin := addAdmin(reg)
	ctx := context.Background()

	// Publishing must not panic or block even when the recompute fails.
	n.Publish(ctx, OrderCreated{UserID: uuid.New()})
	deadline := time.Now().Add(10 * debounce)
	for source.computes.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(debounce / 4)
	}
	time.Sleep(2 * debounce)

	if countType(drain(admin), MessageDashboardMetrics) != 0 {
		t.Fatal("failed recompute must not broadcast metrics")
	}
}
