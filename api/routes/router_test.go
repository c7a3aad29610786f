package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/daniellecour/storefront-backend/api/ws"
	cartsvc "github.com/daniellecour/storefront-backend/internal/cart"
	dashboardsvc "github.com/daniellecour/storefront-backend/internal/dashboard"
	"github.com/daniellecour/storefront-backend/internal/inventory"
	ordersvc "github.com/daniellecour/storefront-backend/internal/orders"
	productsvc "github.com/daniellecour/storefront-backend/internal/products"
	"github.com/daniellecour/storefront-backend/internal/realtime"
	usersvc "github.com/daniellecour/storefront-backend/internal/users"
	"github.com/daniellecour/storefront-backend/pkg/config"
	"github.com/daniellecour/storefront-backend/pkg/db/models"
	"github.com/daniellecour/storefront-backend/pkg/enums"
	"github.com/daniellecour/storefront-backend/pkg/logger"
)

type memorySessions struct {
	live map[string]uuid.UUID
}

func newMemorySessions() *memorySessions {
	return &memorySessions{live: map[string]uuid.UUID{}}
}

func (m *memorySessions) Register(_ context.Context, accessID string, userID uuid.UUID) error {
	m.live[accessID] = userID
	return nil
}

func (m *memorySessions) Revoke(_ context.Context, accessID string) error {
	delete(m.live, accessID)
	return nil
}

func (m *memorySessions) HasSession(_ context.Context, accessID string) (bool, error) {
	_, ok := m.live[accessID]
	return ok, nil
}

type gormTxRunner struct {
	db *gorm.DB
}

func (r gormTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

type testEnv struct {
	server *httptest.Server
	db     *gorm.DB
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.App.Env = "test"
	cfg.App.Port = "0"
	cfg.JWT.Secret = "router-test-secret"
	cfg.JWT.Issuer = "storefront-test"
	cfg.JWT.ExpirationMinutes = 10
	cfg.Password.ArgonMemoryKB = 1024
	cfg.Password.ArgonTime = 1
	cfg.Password.ArgonParallelism = 1
	cfg.Password.ArgonSaltLen = 16
	cfg.Password.ArgonKeyLen = 32
	return cfg
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dsn := "file:routes_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("opening sqlite: %v", err)
	}
	if err := conn.AutoMigrate(
		&models.User{}, &models.Product{},
		&models.Cart{}, &models.CartItem{},
		&models.Order{}, &models.OrderItem{},
	); err != nil {
		t.Fatalf("migrating: %v", err)
	}

	cfg := testConfig()
	logg := logger.New(logger.Options{ServiceName: "routes-test", Output: io.Discard})
	sessions := newMemorySessions()
	publisher := realtime.NopPublisher{}
	tx := gormTxRunner{db: conn}

	productsRepo := productsvc.NewRepository(conn)
	products, err := productsvc.NewService(productsRepo, tx, publisher)
	if err != nil {
		t.Fatalf("products service: %v", err)
	}
	cartRepo := cartsvc.NewRepository(conn)
	carts, err := cartsvc.NewService(cartRepo, productsRepo, publisher)
	if err != nil {
		t.Fatalf("cart service: %v", err)
	}
	orders, err := ordersvc.NewService(ordersvc.NewRepository(conn), cartRepo, inventory.NewLedger(conn), tx, publisher)
	if err != nil {
		t.Fatalf("orders service: %v", err)
	}
	users, err := usersvc.NewService(usersvc.NewRepository(conn), sessions, cfg.JWT, cfg.Password)
	if err != nil {
		t.Fatalf("users service: %v", err)
	}
	dashboard, err := dashboardsvc.NewService(conn)
	if err != nil {
		t.Fatalf("dashboard service: %v", err)
	}

	registry := realtime.NewRegistry(nil)
	wsHandler := ws.NewHandler(registry, carts, sessions, cfg.JWT, cfg.Realtime, logg)

	router := NewRouter(Deps{
		Config:    cfg,
		Logger:    logg,
		Sessions:  sessions,
		Users:     users,
		Products:  products,
		Carts:     carts,
		Orders:    orders,
		Dashboard: dashboard,
		WS:        wsHandler,
	})

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return &testEnv{server: server, db: conn}
}

func (e *testEnv) request(t *testing.T, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshaling body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var payload map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	return resp, payload
}

func (e *testEnv) register(t *testing.T, username string) {
	t.Helper()
	resp, _ := e.request(t, http.MethodPost, "/api/users/register", "", map[string]any{
		"username": username,
		"password": "p4ssword-long-enough",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register %s: status %d", username, resp.StatusCode)
	}
}

func (e *testEnv) login(t *testing.T, username string) string {
	t.Helper()
	resp, payload := e.request(t, http.MethodPost, "/api/users/login", "", map[string]any{
		"username": username,
		"password": "p4ssword-long-enough",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login %s: status %d (%v)", username, resp.StatusCode, payload)
	}
	data := payload["data"].(map[string]any)
	token, _ := data["token"].(string)
	if token == "" {
		t.Fatalf("login %s returned no token", username)
	}
	return token
}

func (e *testEnv) promote(t *testing.T, username string) {
	t.Helper()
	if err := e.db.Model(&models.User{}).Where("username = ?", username).
		Update("role", enums.RoleAdmin).Error; err != nil {
		t.Fatalf("promoting %s: %v", username, err)
	}
}

func shippingAddress() map[string]any {
	return map[string]any{
		"line1":       "12 Quai des Chartrons",
		"city":        "Bordeaux",
		"state":       "NA",
		"postal_code": "33000",
		"country":     "FR",
	}
}

func TestStorefrontFlow(t *testing.T) {
	env := newTestEnv(t)

	env.register(t, "admin")
	env.promote(t, "admin")
	adminToken := env.login(t, "admin")
	env.register(t, "shopper")
	shopperToken := env.login(t, "shopper")

	// Admin stocks the catalog.
	resp, payload := env.request(t, http.MethodPost, "/api/admin/products", adminToken, map[string]any{
		"name":        "Walnut Desk",
		"price_cents": 42000,
		"inventory":   4,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create product: %d (%v)", resp.StatusCode, payload)
	}
	productID := payload["data"].(map[string]any)["id"].(string)

	// Public catalog shows it without auth.
	resp, payload = env.request(t, http.MethodGet, "/api/products", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("public list: %d", resp.StatusCode)
	}
	items := payload["data"].(map[string]any)["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("catalog items = %d, want 1", len(items))
	}

	// Cart requires auth.
	resp, _ = env.request(t, http.MethodGet, "/api/cart", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous cart: %d, want 401", resp.StatusCode)
	}

	// Shopper fills the cart and orders.
	resp, payload = env.request(t, http.MethodPost, "/api/cart/items", shopperToken, map[string]any{
		"product_id": productID,
		"quantity":   2,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("add to cart: %d (%v)", resp.StatusCode, payload)
	}

	resp, payload = env.request(t, http.MethodPost, "/api/orders", shopperToken, map[string]any{
		"shipping_address": shippingAddress(),
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create order: %d (%v)", resp.StatusCode, payload)
	}
	orderID := payload["data"].(map[string]any)["id"].(string)

	// The cart is now empty.
	resp, payload = env.request(t, http.MethodGet, "/api/cart", shopperToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("fetch cart: %d", resp.StatusCode)
	}
	if total := payload["data"].(map[string]any)["total_items"].(float64); total != 0 {
		t.Fatalf("cart should be empty after checkout, total_items=%v", total)
	}

	// Ordering from an empty cart is a 400.
	resp, payload = env.request(t, http.MethodPost, "/api/orders", shopperToken, map[string]any{
		"shipping_address": shippingAddress(),
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty cart order: %d, want 400 (%v)", resp.StatusCode, payload)
	}

	// Shopper sees their order; admin surface is closed to them.
	resp, _ = env.request(t, http.MethodGet, "/api/orders/"+orderID, shopperToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get own order: %d", resp.StatusCode)
	}
	resp, _ = env.request(t, http.MethodGet, "/api/admin/dashboard", shopperToken, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("shopper on admin surface: %d, want 403", resp.StatusCode)
	}

	// Admin advances the order and reads the dashboard.
	resp, payload = env.request(t, http.MethodPut, "/api/admin/orders/"+orderID, adminToken, map[string]any{
		"status": "processing",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update status: %d (%v)", resp.StatusCode, payload)
	}
	resp, payload = env.request(t, http.MethodGet, "/api/admin/dashboard", adminToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("dashboard: %d", resp.StatusCode)
	}
	data := payload["data"].(map[string]any)
	if count := data["today_order_count"].(float64); count != 1 {
		t.Fatalf("dashboard today_order_count=%v, want 1", count)
	}

	// Deleting a non-cancelled order is refused; cancelling unlocks it.
	resp, _ = env.request(t, http.MethodDelete, "/api/admin/orders/"+orderID, adminToken, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("delete active order: %d, want 400", resp.StatusCode)
	}
	resp, _ = env.request(t, http.MethodPut, "/api/admin/orders/"+orderID, adminToken, map[string]any{
		"status": "cancelled",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel order: %d", resp.StatusCode)
	}
	resp, _ = env.request(t, http.MethodDelete, "/api/admin/orders/"+orderID, adminToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete cancelled order: %d", resp.StatusCode)
	}
}

func TestLogoutRevokesAccess(t *testing.T) {
	env := newTestEnv(t)

	env.register(t, "ines")
	token := env.login(t, "ines")

	resp, _ := env.request(t, http.MethodGet, "/api/users/profile", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("profile before logout: %d", resp.StatusCode)
	}

	resp, _ = env.request(t, http.MethodPost, "/api/users/logout", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout: %d", resp.StatusCode)
	}

	resp, _ = env.request(t, http.MethodGet, "/api/users/profile", token, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("profile after logout: %d, want 401", resp.StatusCode)
	}
}

func TestHealthLive(t *testing.T) {
	env := newTestEnv(t)
	resp, _ := env.request(t, http.MethodGet, "/health/live", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health live: %d", resp.StatusCode)
	}
}
