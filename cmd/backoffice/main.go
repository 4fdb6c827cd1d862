package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/riandyrn/otelchi"

	"github.com/neomorfeo/backoffice/internal/adapter/jwtauth"
	"github.com/neomorfeo/backoffice/internal/adapter/middleware"
	"github.com/neomorfeo/backoffice/internal/adapter/otel"
	"github.com/neomorfeo/backoffice/internal/adapter/ristretto"
	riveradapter "github.com/neomorfeo/backoffice/internal/adapter/river"
	"github.com/neomorfeo/backoffice/internal/adapter/sqlite"
	"github.com/neomorfeo/backoffice/internal/adapter/ws"
	"github.com/neomorfeo/backoffice/internal/app"
	"github.com/neomorfeo/backoffice/internal/domain"

	"github.com/neomorfeo/backoffice/internal/adapter/fsm"
	handler "github.com/neomorfeo/backoffice/internal/adapter/http"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	port := envOrDefault("PORT", "8080")
	dbPath := envOrDefault("DATABASE_PATH", "backoffice.db")
	jwtSecret := envOrDefault("JWT_SECRET", "dev-secret-change-me")

	ctx := context.Background()

	// --- Observability ---
	providers, err := otel.Setup(ctx, otel.ConfigFromEnv())
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			slog.Error("otel shutdown", "error", err)
		}
	}()

	// --- Storage ---
	db, err := otel.OpenDB(dbPath)
	if err != nil {
		return err
	}
	store, err := sqlite.NewFromDB(db)
	if err != nil {
		return err
	}
	defer store.Close()

	principals, err := ristretto.New(store.Principals())
	if err != nil {
		return err
	}
	defer principals.Close()

	tickets := otel.NewTracingTicketRepository(store.Tickets())
	audit := store.Audit()

	// --- Auth and real-time channels ---
	verifier := jwtauth.New([]byte(jwtSecret), principals)
	hub := ws.NewHub(verifier)
	fanout := app.NewFanout(hub)

	// --- Async jobs ---
	riverClient, err := riveradapter.Setup(ctx, db, fanout)
	if err != nil {
		return err
	}
	if err := riverClient.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := riverClient.Stop(stopCtx); err != nil {
			slog.Error("river stop", "error", err)
		}
	}()

	var publisher domain.TicketEventPublisher = otel.NewTracingPublisher(riveradapter.NewPublisher(riverClient))

	// --- Application ---
	ticketSvc := app.NewTicketService(tickets, principals, fsm.New(), publisher, audit)
	ledger := app.NewAccessLedger(principals, audit)

	// --- HTTP ---
	router := chi.NewMux()
	router.Use(chimiddleware.Logger)
	router.Use(chimiddleware.Recoverer)
	router.Use(chimiddleware.RequestID)
	router.Use(otelchi.Middleware("backoffice", otelchi.WithChiRoutes(router)))

	publicAPI := humachi.New(router, huma.DefaultConfig("backoffice", "0.1.0"))
	handler.RegisterPublic(publicAPI, ledger)

	// The websocket channel authenticates via its own query token.
	router.Get("/ws", hub.HandleWS)

	router.Group(func(r chi.Router) {
		r.Use(middleware.Authenticate(verifier))
		api := humachi.New(r, huma.DefaultConfig("backoffice", "0.1.0"))
		handler.Register(api, ticketSvc, ledger)
	})

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown.
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("backoffice listening", "port", port)
		slog.Info("API docs", "url", "http://localhost:"+port+"/docs")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-done:
	}
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown", "error", err)
	}

	slog.Info("stopped")
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
