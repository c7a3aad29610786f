package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/daniellecour/storefront-backend/api/middleware"
	"github.com/daniellecour/storefront-backend/internal/cart"
	"github.com/daniellecour/storefront-backend/internal/realtime"
	pkgauth "github.com/daniellecour/storefront-backend/pkg/auth"
	"github.com/daniellecour/storefront-backend/pkg/auth/session"
	"github.com/daniellecour/storefront-backend/pkg/config"
	"github.com/daniellecour/storefront-backend/pkg/enums"
	"github.com/daniellecour/storefront-backend/pkg/logger"
)

// Handler upgrades websocket clients and bridges their messages into the
// realtime registry.
type Handler struct {
	registry *realtime.Registry
	carts    cart.Service
	sessions session.AccessSessionChecker
	jwtCfg   config.JWTConfig
	rtCfg    config.RealtimeConfig
	log      *logger.Logger
	upgrader websocket.Upgrader
}

func NewHandler(registry *realtime.Registry, carts cart.Service, sessions session.AccessSessionChecker, jwtCfg config.JWTConfig, rtCfg config.RealtimeConfig, log *logger.Logger) *Handler {
	return &Handler{
		registry: registry,
		carts:    carts,
		sessions: sessions,
		jwtCfg:   jwtCfg,
		rtCfg:    rtCfg,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser clients ship no custom headers over websockets, so
			// origin policy is enforced by the CORS layer on the REST side.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the connection. A token may arrive as a query
// parameter or Authorization header; a missing or invalid one leaves the
// connection anonymous rather than failing the upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sock, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}

	conn := realtime.NewConn(sock, h.rtCfg)
	h.registry.Add(conn)

	ctx := h.log.WithConnectionID(r.Context(), conn.ID())
	h.log.Info(ctx, "ws.connected")

	if token := connectToken(r); token != "" {
		if userID, role, ok := h.verifyToken(ctx, token); ok {
			h.registry.Authenticate(conn, userID, role)
			conn.Send(realtime.NewMessage(realtime.MessageAuthenticated, realtime.AuthenticatedPayload{
				UserID: userID.String(),
				Role:   string(role),
			}))
		}
	}

	go conn.WritePump(context.Background())
	h.readLoop(ctx, sock, conn)
}

func (h *Handler) readLoop(ctx context.Context, sock *websocket.Conn, conn *realtime.Conn) {
	defer func() {
		h.registry.Remove(conn)
		h.log.Info(ctx, "ws.disconnected")
	}()

	if h.rtCfg.ReadLimitBytes > 0 {
		sock.SetReadLimit(h.rtCfg.ReadLimitBytes)
	}
	resetDeadline := func() {
		if h.rtCfg.PongTimeout > 0 {
			_ = sock.SetReadDeadline(time.Now().Add(h.rtCfg.PongTimeout))
		}
	}
	resetDeadline()
	sock.SetPongHandler(func(string) error {
		resetDeadline()
		return nil
	})

	for {
		_, raw, err := sock.ReadMessage()
		if err != nil {
			return
		}
		resetDeadline()

		var msg realtime.ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			conn.Send(realtime.NewErrorMessage("WS_BAD_MESSAGE", "message must be JSON"))
			continue
		}
		h.handleMessage(ctx, conn, msg)
	}
}

func (h *Handler) handleMessage(ctx context.Context, conn *realtime.Conn, msg realtime.ClientMessage) {
	switch msg.Type {
	case realtime.ClientAuthenticate:
		userID, role, ok := h.verifyToken(ctx, msg.Token)
		if !ok {
			conn.Send(realtime.NewErrorMessage("WS_AUTH_FAILED", "invalid token"))
			return
		}
		h.registry.Authenticate(conn, userID, role)
		conn.Send(realtime.NewMessage(realtime.MessageAuthenticated, realtime.AuthenticatedPayload{
			UserID: userID.String(),
			Role:   string(role),
		}))

	case realtime.ClientCartUpdate:
		identity := conn.Identity()
		if !identity.Authenticated {
			conn.Send(realtime.NewErrorMessage(realtime.ErrCodeAuthRequired, "authenticate before updating the cart"))
			return
		}
		h.handleCartUpdate(ctx, conn, identity.UserID, msg.Data)

	default:
		conn.Send(realtime.NewErrorMessage("WS_UNKNOWN_TYPE", "unsupported message type"))
	}
}

type cartUpdatePayload struct {
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int       `json:"quantity"`
}

// handleCartUpdate sets the quantity of the product's cart line. The cart
// service publishes the resulting cartSync, so the reply reaches every
// connection this user holds.
func (h *Handler) handleCartUpdate(ctx context.Context, conn *realtime.Conn, userID uuid.UUID, data json.RawMessage) {
	var payload cartUpdatePayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.ProductID == uuid.Nil || payload.Quantity < 0 {
		conn.Send(realtime.NewErrorMessage("WS_BAD_MESSAGE", "cart.update needs product_id and a quantity of 0 or more"))
		return
	}

	view, err := h.carts.GetOrCreate(ctx, userID)
	if err != nil {
		h.log.Error(ctx, "ws.cart_update", err)
		conn.Send(realtime.NewErrorMessage("WS_CART_UPDATE_FAILED", "cart unavailable"))
		return
	}

	var itemID uuid.UUID
	for _, item := range view.Items {
		if item.ProductID == payload.ProductID {
			itemID = item.ID
			break
		}
	}

	if itemID == uuid.Nil {
		if payload.Quantity == 0 {
			return
		}
		_, err = h.carts.AddItem(ctx, userID, payload.ProductID, payload.Quantity)
	} else {
		_, err = h.carts.SetItemQuantity(ctx, userID, itemID, payload.Quantity)
	}
	if err != nil {
		h.log.Error(ctx, "ws.cart_update", err)
		conn.Send(realtime.NewErrorMessage("WS_CART_UPDATE_FAILED", err.Error()))
	}
}

func (h *Handler) verifyToken(ctx context.Context, token string) (uuid.UUID, enums.Role, bool) {
	token = strings.TrimSpace(token)
	if token == "" {
		return uuid.Nil, "", false
	}
	claims, err := pkgauth.ParseAccessToken(h.jwtCfg, token)
	if err != nil {
		return uuid.Nil, "", false
	}
	if h.sessions != nil {
		ok, err := h.sessions.HasSession(ctx, claims.ID)
		if err != nil || !ok {
			return uuid.Nil, "", false
		}
	}
	return claims.UserID, claims.Role, true
}

func connectToken(r *http.Request) string {
	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		return token
	}
	return middleware.BearerToken(r)
}
