package realtime

import (
	"sync"

	"github.com/google/uuid"

	"github.com/daniellecour/storefront-backend/pkg/enums"
	"github.com/daniellecour/storefront-backend/pkg/metrics"
)

// Registry tracks live connections partitioned by audience: everyone,
// admins, and per-user. A connection starts anonymous and may be upgraded
// once its token checks out; disconnect removes it from every set.
type Registry struct {
	mu      sync.RWMutex
	all     map[*Conn]struct{}
	admins  map[*Conn]struct{}
	byUser  map[uuid.UUID]map[*Conn]struct{}
	metrics *metrics.RealtimeMetrics
}

// NewRegistry builds an empty registry. metrics may be nil.
func NewRegistry(m *metrics.RealtimeMetrics) *Registry {
	return &Registry{
		all:     make(map[*Conn]struct{}),
		admins:  make(map[*Conn]struct{}),
		byUser:  make(map[uuid.UUID]map[*Conn]struct{}),
		metrics: m,
	}
}

// Add registers a new connection as anonymous.
func (r *Registry) Add(c *Conn) {
	r.mu.Lock()
	r.all[c] = struct{}{}
	r.mu.Unlock()
	r.metrics.ConnOpened()
}

// Authenticate upgrades a connection to a known identity and files it in
// the per-user (and, for admins, the admin) partition.
func (r *Registry) Authenticate(c *Conn, userID uuid.UUID, role enums.Role) {
	c.setIdentity(Identity{UserID: userID, Role: role, Authenticated: true})

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.all[c]; !ok {
		// Connection already went away; do not resurrect it.
		return
	}
	conns, ok := r.byUser[userID]
	if !ok {
		conns = make(map[*Conn]struct{})
		r.byUser[userID] = conns
	}
	conns[c] = struct{}{}
	if role == enums.RoleAdmin {
		r.admins[c] = struct{}{}
	}
}

// Remove detaches a connection from every partition and closes it.
func (r *Registry) Remove(c *Conn) {
	r.mu.Lock()
	_, present := r.all[c]
	delete(r.all, c)
	delete(r.admins, c)
	identity := c.Identity()
	if identity.Authenticated {
		if conns, ok := r.byUser[identity.UserID]; ok {
			delete(conns, c)
			if len(conns) == 0 {
				delete(r.byUser, identity.UserID)
			}
		}
	}
	r.mu.Unlock()

	c.Close()
	if present {
		r.metrics.ConnClosed()
	}
}

// Broadcast sends to every connection, anonymous included.
func (r *Registry) Broadcast(env Envelope) {
	r.metrics.IncBroadcast(env.Type)
	for _, c := range r.snapshot(audienceAll, uuid.Nil) {
		if !c.Send(env) {
			r.metrics.IncDroppedSend()
		}
	}
}

// BroadcastAdmins sends to admin connections only.
func (r *Registry) BroadcastAdmins(env Envelope) {
	r.metrics.IncBroadcast(env.Type)
	for _, c := range r.snapshot(audienceAdmins, uuid.Nil) {
		if !c.Send(env) {
			r.metrics.IncDroppedSend()
		}
	}
}

// BroadcastUser sends to every connection a specific user holds.
func (r *Registry) BroadcastUser(userID uuid.UUID, env Envelope) {
	r.metrics.IncBroadcast(env.Type)
	for _, c := range r.snapshot(audienceUser, userID) {
		if !c.Send(env) {
			r.metrics.IncDroppedSend()
		}
	}
}

// Count reports the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.all)
}

// AdminCount reports the number of authenticated admin connections.
func (r *Registry) AdminCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.admins)
}

type audience int

const (
	audienceAll audience = iota
	audienceAdmins
	audienceUser
)

// snapshot copies the target set under the read lock so sends happen
// without holding it.
func (r *Registry) snapshot(aud audience, userID uuid.UUID) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var source map[*Conn]struct{}
	switch aud {
	case audienceAdmins:
		source = r.admins
	case audienceUser:
		source = r.byUser[userID]
	default:
		source = r.all
	}

	conns := make([]*Conn, 0, len(source))
	for c := range source {
		conns = append(conns, c)
	}
	return conns
}
