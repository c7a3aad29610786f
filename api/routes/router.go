package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/daniellecour/storefront-backend/api/controllers"
	"github.com/daniellecour/storefront-backend/api/middleware"
	"github.com/daniellecour/storefront-backend/api/ws"
	cartsvc "github.com/daniellecour/storefront-backend/internal/cart"
	dashboardsvc "github.com/daniellecour/storefront-backend/internal/dashboard"
	ordersvc "github.com/daniellecour/storefront-backend/internal/orders"
	productsvc "github.com/daniellecour/storefront-backend/internal/products"
	usersvc "github.com/daniellecour/storefront-backend/internal/users"
	"github.com/daniellecour/storefront-backend/pkg/auth/session"
	"github.com/daniellecour/storefront-backend/pkg/config"
	"github.com/daniellecour/storefront-backend/pkg/db"
	"github.com/daniellecour/storefront-backend/pkg/enums"
	"github.com/daniellecour/storefront-backend/pkg/logger"
	"github.com/daniellecour/storefront-backend/pkg/metrics"
	"github.com/daniellecour/storefront-backend/pkg/redis"
)

// Deps carries everything the HTTP surface needs.
type Deps struct {
	Config      *config.Config
	Logger      *logger.Logger
	DB          db.Pinger
	Redis       *redis.Client
	Sessions    session.AccessSessionChecker
	HTTPMetrics *metrics.HTTPMetrics

	Users     usersvc.Service
	Products  productsvc.Service
	Carts     cartsvc.Service
	Orders    ordersvc.Service
	Dashboard dashboardsvc.Service
	WS        *ws.Handler
}

func NewRouter(d Deps) http.Handler {
	cfg := d.Config
	logg := d.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg, d.HTTPMetrics),
		middleware.CORS(cfg.CORS),
	)

	loginPolicy := middleware.NewAuthRateLimitPolicy(
		"login",
		cfg.AuthRateLimit.LoginWindow,
		cfg.AuthRateLimit.LoginIPLimit,
		cfg.AuthRateLimit.LoginUserLimit,
	)
	registerPolicy := middleware.NewAuthRateLimitPolicy(
		"register",
		cfg.AuthRateLimit.RegisterWindow,
		cfg.AuthRateLimit.RegisterIPLimit,
		cfg.AuthRateLimit.RegisterUserLimit,
	)

	var dbPing, redisPing controllers.Pinger
	if d.DB != nil {
		dbPing = d.DB
	}
	if d.Redis != nil {
		redisPing = d.Redis
	}
	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbPing, redisPing))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	if d.WS != nil {
		r.Handle("/ws", d.WS)
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/users", func(r chi.Router) {
			r.With(middleware.AuthRateLimit(registerPolicy, d.Redis, logg)).
				Post("/register", controllers.UserRegister(d.Users, logg))
			r.With(middleware.AuthRateLimit(loginPolicy, d.Redis, logg)).
				Post("/login", controllers.UserLogin(d.Users, logg))
			r.Post("/logout", controllers.UserLogout(d.Users, cfg.JWT, logg))

			r.Group(func(r chi.Router) {
				r.Use(middleware.Auth(cfg.JWT, d.Sessions, logg))
				r.Get("/profile", controllers.UserProfile(d.Users, logg))
				r.Put("/profile", controllers.UserUpdateProfile(d.Users, logg))
			})
		})

		r.Route("/products", func(r chi.Router) {
			r.Get("/", controllers.ListProducts(d.Products, logg))
			r.Get("/{productId}", controllers.GetProduct(d.Products, logg))
		})

		r.Route("/cart", func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, d.Sessions, logg))
			r.Get("/", controllers.CartFetch(d.Carts, logg))
			r.Delete("/", controllers.CartClear(d.Carts, logg))
			r.Post("/items", controllers.CartAddItem(d.Carts, logg))
			r.Put("/items/{itemId}", controllers.CartSetItemQuantity(d.Carts, logg))
			r.Delete("/items/{itemId}", controllers.CartRemoveItem(d.Carts, logg))
		})

		r.Route("/orders", func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, d.Sessions, logg))
			r.Post("/", controllers.CreateOrder(d.Orders, logg))
			r.Get("/", controllers.ListOrders(d.Orders, logg))
			r.Get("/{orderId}", controllers.GetOrder(d.Orders, logg))
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, d.Sessions, logg))
			r.Use(middleware.RequireRole(enums.RoleAdmin, logg))

			r.Get("/dashboard", controllers.AdminDashboard(d.Dashboard, logg))

			r.Route("/products", func(r chi.Router) {
				r.Get("/", controllers.AdminListProducts(d.Products, logg))
				r.Post("/", controllers.AdminCreateProduct(d.Products, logg))
				r.Get("/{productId}", controllers.GetProduct(d.Products, logg))
				r.Put("/{productId}", controllers.AdminUpdateProduct(d.Products, logg))
				r.Delete("/{productId}", controllers.AdminDeleteProduct(d.Products, logg))
			})

			r.Route("/orders", func(r chi.Router) {
				r.Get("/", controllers.AdminListOrders(d.Orders, logg))
				r.Get("/{orderId}", controllers.AdminGetOrder(d.Orders, logg))
				r.Put("/{orderId}", controllers.AdminUpdateOrderStatus(d.Orders, logg))
				r.Delete("/{orderId}", controllers.AdminDeleteOrder(d.Orders, logg))
			})

			r.Get("/users", controllers.AdminListUsers(d.Users, logg))
		})
	})

	return r
}
