package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/ledgerchat/internal/agent"
	"github.com/ashureev/ledgerchat/internal/api"
	"github.com/ashureev/ledgerchat/internal/config"
	"github.com/ashureev/ledgerchat/internal/identity"
	"github.com/ashureev/ledgerchat/internal/middleware"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the chat HTTP and websocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		return err
	}

	slog.Info("Starting server",
		"port", cfg.Port,
		"dev", cfg.IsDevelopment(),
		"store", cfg.StoreBackend,
		"network", cfg.Network.Name,
		"simulated", cfg.Simulated(),
	)

	p, err := buildPipeline(cfg, logger)
	if err != nil {
		slog.Error("Failed to initialize chat pipeline", "error", err)
		return err
	}
	defer p.Close()

	if p.store != nil {
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := p.store.Ping(pingCtx)
		cancel()
		if err != nil {
			slog.Error("Session store health check failed", "error", err)
			return err
		}
		slog.Info("Session store connected", "backend", cfg.StoreBackend)
	}

	conversationLogger, err := agent.NewConversationLogger(cfg.ConversationLog, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		return err
	}

	limiter := agent.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	chatHandler := agent.NewHandler(p.service, limiter, conversationLogger, logger)
	defer chatHandler.Close()
	wsHandler := agent.NewWebSocketHandler(chatHandler, cfg.FrontendURL, cfg.IsDevelopment())

	var storeCheck api.Pinger
	if p.store != nil {
		storeCheck = p.store
	}
	healthHandler := api.NewHealthHandler(5*time.Second, map[string]api.Pinger{"store": storeCheck})

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(allowedOrigins(cfg)))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	healthHandler.RegisterHealth(r)
	chatHandler.RegisterRoutes(r)
	r.Get("/ws/chat", wsHandler.ServeHTTP)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.Ledger.ReceiptWait + time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Conversation.OffloadAfter > 0 {
		if p.store == nil {
			slog.Warn("SESSION_OFFLOAD_AFTER ignored without a persistent store")
		} else {
			p.registry.StartOffloadWorker(ctx, cfg.Conversation.OffloadAfter)
		}
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal.
	select {
	case <-ctx.Done():
	case err := <-errCh:
		slog.Error("Server failed", "error", err)
		return err
	}
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		return fmt.Errorf("shutdown: %w", err)
	}

	slog.Info("Server stopped successfully")
	return nil
}

func allowedOrigins(cfg *config.Config) []string {
	if cfg.IsDevelopment() || cfg.FrontendURL == "" {
		return []string{"*"}
	}
	return []string{cfg.FrontendURL}
}
