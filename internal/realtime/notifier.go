package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/daniellecour/storefront-backend/internal/dashboard"
	"github.com/daniellecour/storefront-backend/pkg/config"
	"github.com/daniellecour/storefront-backend/pkg/logger"
	"github.com/daniellecour/storefront-backend/pkg/metrics"
)

const dashboardComputeTimeout = 10 * time.Second

type dashboardSource interface {
	Compute(ctx context.Context) (*dashboard.Metrics, error)
}

// Notifier turns domain events into addressed websocket traffic. It also
// owns the dashboard refresh debounce: bursts of qualifying events collapse
// into a single recompute once the configured quiet window elapses.
type Notifier struct {
	registry  *Registry
	dashboard dashboardSource
	log       *logger.Logger
	metrics   *metrics.RealtimeMetrics
	debounce  time.Duration

	mu    sync.Mutex
	timer *time.Timer
}

// NewNotifier wires the fan-out side of the realtime layer.
func NewNotifier(registry *Registry, source dashboardSource, log *logger.Logger, m *metrics.RealtimeMetrics, cfg config.RealtimeConfig) (*Notifier, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry required")
	}
	if source == nil {
		return nil, fmt.Errorf("dashboard source required")
	}
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	debounce := cfg.DashboardDebounce
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	return &Notifier{
		registry:  registry,
		dashboard: source,
		log:       log,
		metrics:   m,
		debounce:  debounce,
	}, nil
}

// Publish fans an event out to its audience. It never returns an error:
// delivery problems are logged and must not fail the mutation that raised
// the event.
func (n *Notifier) Publish(ctx context.Context, event Event) {
	switch e := event.(type) {
	case CartChanged:
		n.registry.BroadcastUser(e.UserID, NewMessage(MessageCartSync, e.Cart))

	case OrderCreated:
		n.registry.BroadcastAdmins(NewMessage(MessageAdminNotification, AdminNotification{
			Event: "orderCreated",
			Data:  e.Order,
		}))
		n.scheduleDashboardRefresh()

	case OrderStatusChanged:
		payload := OrderStatusPayload{
			OrderID: e.OrderID.String(),
			Status:  string(e.Status),
			Order:   e.Order,
		}
		n.registry.BroadcastUser(e.UserID, NewMessage(MessageOrderStatus, payload))
		n.registry.BroadcastAdmins(NewMessage(MessageAdminNotification, AdminNotification{
			Event: "orderStatusChanged",
			Data:  payload,
		}))
		n.scheduleDashboardRefresh()

	case OrderDeleted:
		n.registry.BroadcastAdmins(NewMessage(MessageAdminNotification, AdminNotification{
			Event: "orderDeleted",
			Data:  map[string]string{"order_id": e.OrderID.String()},
		}))
		n.scheduleDashboardRefresh()

	case ProductCreated:
		n.registry.Broadcast(NewMessage(MessageProductCreated, e.Product))
		n.scheduleDashboardRefresh()

	case ProductUpdated:
		n.registry.Broadcast(NewMessage(MessageProductUpdated, e.Product))
		n.scheduleDashboardRefresh()

	case ProductDeleted:
		n.registry.Broadcast(NewMessage(MessageProductDeleted, map[string]string{
			"product_id": e.ProductID.String(),
		}))
		n.scheduleDashboardRefresh()

	case LowStock:
		n.registry.BroadcastAdmins(NewMessage(MessageAdminNotification, AdminNotification{
			Event: "lowStock",
			Data: LowStockPayload{
				ProductID: e.ProductID.String(),
				Name:      e.Name,
				Remaining: e.Remaining,
			},
		}))
		n.scheduleDashboardRefresh()

	default:
		n.log.Warn(ctx, fmt.Sprintf("realtime: unhandled event %T", event))
	}
}

// scheduleDashboardRefresh arms, or re-arms, the trailing-edge debounce.
// Every qualifying event pushes the deadline out; the recompute runs once
// the burst goes quiet, so it always reflects the latest state.
func (n *Notifier) scheduleDashboardRefresh() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.timer != nil {
		n.timer.Stop()
	}
	n.timer = time.AfterFunc(n.debounce, n.refreshDashboard)
}

func (n *Notifier) refreshDashboard() {
	ctx, cancel := context.WithTimeout(context.Background(), dashboardComputeTimeout)
	defer cancel()

	snapshot, err := n.dashboard.Compute(ctx)
	if err != nil {
		n.log.Error(ctx, "realtime: dashboard recompute failed", err)
		return
	}
	n.registry.BroadcastAdmins(NewMessage(MessageDashboardMetrics, snapshot))
	n.metrics.IncDashboardRefresh()
}

// Stop cancels a pending dashboard refresh. Called on shutdown.
func (n *Notifier) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
}
