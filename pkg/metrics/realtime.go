package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// RealtimeMetrics tracks WebSocket connections and broadcast volume.
type RealtimeMetrics struct {
	connections        prometheus.Gauge
	broadcasts         *prometheus.CounterVec
	droppedSends       prometheus.Counter
	dashboardRefreshes prometheus.Counter
}

// NewRealtimeMetrics registers the realtime metrics on the provided registerer.
func NewRealtimeMetrics(reg prometheus.Registerer) *RealtimeMetrics {
	if reg == nil {
		return &RealtimeMetrics{}
	}
	connections := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ws_connections",
		Help: "Currently open WebSocket connections.",
	})
	broadcasts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_broadcasts_total",
		Help: "Messages pushed to WebSocket clients, by message type.",
	}, []string{"type"})
	droppedSends := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ws_dropped_sends_total",
		Help: "Messages dropped because a client send buffer was full.",
	})
	dashboardRefreshes := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dashboard_refreshes_total",
		Help: "Dashboard metric recomputations pushed to admins.",
	})
	reg.MustRegister(connections, broadcasts, droppedSends, dashboardRefreshes)
	return &RealtimeMetrics{
		connections:        connections,
		broadcasts:         broadcasts,
		droppedSends:       droppedSends,
		dashboardRefreshes: dashboardRefreshes,
	}
}

// ConnOpened increments the connection gauge.
func (r *RealtimeMetrics) ConnOpened() {
	if r == nil || r.connections == nil {
		return
	}
	r.connections.Inc()
}

// ConnClosed decrements the connection gauge.
func (r *RealtimeMetrics) ConnClosed() {
	if r == nil || r.connections == nil {
		return
	}
	r.connections.Dec()
}

// IncBroadcast counts one message delivered to one client.
func (r *RealtimeMetrics) IncBroadcast(messageType string) {
	if r == nil || r.broadcasts == nil {
		return
	}
	r.broadcasts.WithLabelValues(normalizeLabel(messageType)).Inc()
}

// IncDroppedSend counts a message discarded due to a saturated client buffer.
func (r *RealtimeMetrics) IncDroppedSend() {
	if r == nil || r.droppedSends == nil {
		return
	}
	r.droppedSends.Inc()
}

// IncDashboardRefresh counts a dashboard recomputation.
func (r *RealtimeMetrics) IncDashboardRefresh() {
	if r == nil || r.dashboardRefreshes == nil {
		return
	}
	r.dashboardRefreshes.Inc()
}
