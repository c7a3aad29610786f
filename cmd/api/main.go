package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/daniellecour/storefront-backend/api/routes"
	"github.com/daniellecour/storefront-backend/api/ws"
	cartsvc "github.com/daniellecour/storefront-backend/internal/cart"
	dashboardsvc "github.com/daniellecour/storefront-backend/internal/dashboard"
	"github.com/daniellecour/storefront-backend/internal/inventory"
	ordersvc "github.com/daniellecour/storefront-backend/internal/orders"
	productsvc "github.com/daniellecour/storefront-backend/internal/products"
	"github.com/daniellecour/storefront-backend/internal/realtime"
	usersvc "github.com/daniellecour/storefront-backend/internal/users"
	"github.com/daniellecour/storefront-backend/pkg/auth/session"
	"github.com/daniellecour/storefront-backend/pkg/config"
	"github.com/daniellecour/storefront-backend/pkg/db"
	"github.com/daniellecour/storefront-backend/pkg/logger"
	"github.com/daniellecour/storefront-backend/pkg/metrics"
	"github.com/daniellecour/storefront-backend/pkg/migrate"
	"github.com/daniellecour/storefront-backend/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}

	sessionManager, err := session.NewManager(redisClient, cfg.JWT)
	if err != nil {
		logg.Error(context.Background(), "failed to create session manager", err)
		os.Exit(1)
	}

	registerer := prometheus.DefaultRegisterer
	httpMetrics := metrics.NewHTTPMetrics(registerer)
	rtMetrics := metrics.NewRealtimeMetrics(registerer)

	conn := dbClient.DB()
	registry := realtime.NewRegistry(rtMetrics)

	dashboard, err := dashboardsvc.NewService(conn)
	if err != nil {
		logg.Error(context.Background(), "failed to create dashboard service", err)
		os.Exit(1)
	}

	notifier, err := realtime.NewNotifier(registry, dashboard, logg, rtMetrics, cfg.Realtime)
	if err != nil {
		logg.Error(context.Background(), "failed to create notifier", err)
		os.Exit(1)
	}

	productsRepo := productsvc.NewRepository(conn)
	products, err := productsvc.NewService(productsRepo, dbClient, notifier)
	if err != nil {
		logg.Error(context.Background(), "failed to create products service", err)
		os.Exit(1)
	}

	cartRepo := cartsvc.NewRepository(conn)
	carts, err := cartsvc.NewService(cartRepo, productsRepo, notifier)
	if err != nil {
		logg.Error(context.Background(), "failed to create cart service", err)
		os.Exit(1)
	}

	orders, err := ordersvc.NewService(ordersvc.NewRepository(conn), cartRepo, inventory.NewLedger(conn), dbClient, notifier)
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
		os.Exit(1)
	}

	users, err := usersvc.NewService(usersvc.NewRepository(conn), sessionManager, cfg.JWT, cfg.Password)
	if err != nil {
		logg.Error(context.Background(), "failed to create users service", err)
		os.Exit(1)
	}

	wsHandler := ws.NewHandler(registry, carts, sessionManager, cfg.JWT, cfg.Realtime, logg)

	router := routes.NewRouter(routes.Deps{
		Config:      cfg,
		Logger:      logg,
		DB:          dbClient,
		Redis:       redisClient,
		Sessions:    sessionManager,
		HTTPMetrics: httpMetrics,
		Users:       users,
		Products:    products,
		Carts:       carts,
		Orders:      orders,
		Dashboard:   dashboard,
		WS:          wsHandler,
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case sig := <-stop:
		logg.Info(logg.WithField(ctx, "signal", sig.String()), "shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs error
		errs = multierr.Append(errs, server.Shutdown(shutdownCtx))
		notifier.Stop()
		errs = multierr.Append(errs, redisClient.Close())
		errs = multierr.Append(errs, dbClient.Close())
		if errs != nil {
			logg.Error(ctx, "shutdown finished with errors", errs)
			os.Exit(1)
		}
		logg.Info(ctx, "shutdown complete")
	}
}
