// chatgate - real-time chat gateway server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/chatgate/internal/api"
	"github.com/ashureev/chatgate/internal/chat"
	"github.com/ashureev/chatgate/internal/config"
	"github.com/ashureev/chatgate/internal/health"
	"github.com/ashureev/chatgate/internal/identity"
	"github.com/ashureev/chatgate/internal/logging"
	"github.com/ashureev/chatgate/internal/middleware"
	"github.com/ashureev/chatgate/internal/presence"
	"github.com/ashureev/chatgate/internal/store"
	"github.com/ashureev/chatgate/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

const healthPollInterval = 15 * time.Second

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.New(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	slog.Info("Starting server", "port", cfg.Port, "grpc_port", cfg.GRPCPort, "store", cfg.Store.Driver, "dev", cfg.IsDevelopment())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies.
	repo, err := store.Open(ctx, cfg.StoreOptions())
	if err != nil {
		slog.Error("Failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(ctx); err != nil {
		slog.Error("Store health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Store connected", "driver", cfg.Store.Driver)

	auth := identity.NewJWTAuthenticator(cfg.JWTSecret, repo)
	gateway := chat.NewGateway(auth, repo, chat.Options{
		SendInterval:    cfg.Chat.SendInterval,
		HistoryLimit:    cfg.Chat.HistoryLimit,
		MaxMessageBytes: cfg.Chat.MaxMessageBytes,
	})

	// Initialize handlers.
	origins := cfg.Origins()
	apiHandler := api.NewHandler(repo, auth, gateway)
	wsHandler := chat.NewWebSocketHandler(gateway, origins, cfg.IsDevelopment(), cfg.Chat.SendQueue, 0)
	checker := health.NewChecker(repo)

	corsOrigins := origins
	if cfg.IsDevelopment() {
		corsOrigins = []string{"*"}
	}

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(corsOrigins))

	apiHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws", wsHandler.ServeHTTP)

	// Embedded test console.
	r.Handle("/*", web.SPAHandler())

	// WebSocket connections are long lived, so no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	presence.StartSweeper(ctx, repo, gateway.Presence(), cfg.Presence.SweepInterval)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return checker.Serve(gctx, ":"+cfg.GRPCPort)
	})

	g.Go(func() error {
		checker.Run(gctx, healthPollInterval)
		return nil
	})

	// Wait for shutdown signal or a server failure.
	g.Go(func() error {
		<-gctx.Done()
		stop()
		slog.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("Server stopped with error", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
