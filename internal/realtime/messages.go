package realtime

import (
	"encoding/json"
	"time"
)

// Server to client message types.
const (
	MessageAuthenticated     = "authenticated"
	MessageCartSync          = "cartSync"
	MessageOrderStatus       = "orderStatus"
	MessageAdminNotification = "adminNotification"
	MessageDashboardMetrics  = "dashboardMetrics"
	MessageProductCreated    = "productCreated"
	MessageProductUpdated    = "productUpdated"
	MessageProductDeleted    = "productDeleted"
	MessageError             = "error"
)

// Client to server message types.
const (
	ClientAuthenticate = "authenticate"
	ClientCartUpdate   = "cart.update"
)

// ErrCodeAuthRequired is returned when an anonymous connection sends a
// message that needs an authenticated identity.
const ErrCodeAuthRequired = "WS_AUTH_REQUIRED"

// Envelope is the single wire shape for every server to client message.
type Envelope struct {
	Type      string        `json:"type"`
	Data      any           `json:"data,omitempty"`
	Error     *ErrorPayload `json:"error,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// ErrorPayload carries a machine-readable error over the socket.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// NewMessage stamps an envelope for immediate delivery.
func NewMessage(messageType string, data any) Envelope {
	return Envelope{Type: messageType, Data: data, Timestamp: time.Now().UTC()}
}

// NewErrorMessage builds the error envelope sent back on a rejected
// client message.
func NewErrorMessage(code, message string) Envelope {
	return Envelope{
		Type:      MessageError,
		Error:     &ErrorPayload{Code: code, Message: message},
		Timestamp: time.Now().UTC(),
	}
}

// ClientMessage is what clients may send over the socket.
type ClientMessage struct {
	Type  string          `json:"type"`
	Token string          `json:"token,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// AdminNotification wraps events that fan out to the admin audience so the
// client can switch on the inner event name.
type AdminNotification struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// OrderStatusPayload tells an order's owner about a lifecycle change.
type OrderStatusPayload struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
	Order   any    `json:"order,omitempty"`
}

// LowStockPayload alerts admins that a product is close to selling out.
type LowStockPayload struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Remaining int    `json:"remaining"`
}

// AuthenticatedPayload confirms an identity upgrade to the client.
type AuthenticatedPayload struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}
