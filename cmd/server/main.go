package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/okello/airlift/config"
	"github.com/okello/airlift/internal/eligibility"
	"github.com/okello/airlift/internal/handler"
	"github.com/okello/airlift/internal/middleware"
	"github.com/okello/airlift/internal/model"
	"github.com/okello/airlift/internal/notify"
	"github.com/okello/airlift/internal/repository"
	"github.com/okello/airlift/internal/service"
	"github.com/okello/airlift/internal/settings"
	"github.com/okello/airlift/internal/timer"
	"github.com/okello/airlift/pkg/cache"
	"github.com/okello/airlift/pkg/db"
)

func main() {
	// ── Load configuration ──────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx := context.Background()

	// ── Connect to PostgreSQL ───────────────────────────
	pgPool, err := db.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		log.Fatalf("failed to connect to PostgreSQL: %v", err)
	}
	defer pgPool.Close()
	log.Println("✓ PostgreSQL connected")

	// ── Connect to Redis ────────────────────────────────
	redisClient, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		log.Fatalf("failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("✓ Redis connected")

	// ── Initialize layers ───────────────────────────────
	repo := repository.New(pgPool)
	settingsProvider := settings.New(settings.NewPGStore(pgPool), redisClient)
	filter := eligibility.New(repo, settingsProvider)

	timerSvc := timer.New(timer.NewPGStore(pgPool), cfg.Engine.TimerPollInterval, cfg.Engine.TimerBatchSize)
	sink := notify.NewSink(notify.NewRedisDeliverer(redisClient), cfg.Engine.NotifyQueueSize)

	auctionSvc := service.New(repo, timerSvc, sink, filter, settingsProvider, service.Config{
		TxMaxRetries:   cfg.Engine.TxMaxRetries,
		TxRetryBackoff: cfg.Engine.TxRetryBackoff,
	})

	timerSvc.Register(model.TimerCloseBidding, auctionSvc.HandleCloseBiddingTimer)
	timerSvc.Register(model.TimerAcceptanceTimeout, auctionSvc.HandleAcceptanceTimeout)

	webhookHandler := handler.NewWebhookHandler(auctionSvc)
	bidHandler := handler.NewBidHandler(auctionSvc)
	adminHandler := handler.NewAdminHandler(auctionSvc, settingsProvider)
	debugHandler := handler.NewDebugHandler(timerSvc, sink)

	// ── Setup router ────────────────────────────────────
	router := mux.NewRouter()

	router.HandleFunc("/health", healthHandler(pgPool, redisClient)).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/debug/engine", debugHandler.EngineStatus).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()

	// Booking subsystem webhooks.
	events := api.PathPrefix("/events").Subrouter()
	events.HandleFunc("/booking-paid", webhookHandler.BookingPaid).Methods(http.MethodPost)
	events.HandleFunc("/booking-cancelled", webhookHandler.BookingCancelled).Methods(http.MethodPost)

	// Operator bidding and offers.
	operators := api.PathPrefix("/operators/me").Subrouter()
	operators.Use(middleware.OperatorAuth)
	operators.HandleFunc("/bids", bidHandler.PlaceBid).Methods(http.MethodPost)
	operators.HandleFunc("/bids", bidHandler.ListBids).Methods(http.MethodGet)
	operators.HandleFunc("/bids/{bid_id}", bidHandler.WithdrawBid).Methods(http.MethodDelete)
	operators.HandleFunc("/offers", bidHandler.ListOffers).Methods(http.MethodGet)
	operators.HandleFunc("/offers/{job_or_ref}/accept", bidHandler.AcceptOffer).Methods(http.MethodPost)
	operators.HandleFunc("/offers/{job_or_ref}/decline", bidHandler.DeclineOffer).Methods(http.MethodPost)

	// Admin overrides for escalated jobs.
	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(middleware.AdminAuth(cfg.Server.AdminToken))
	admin.HandleFunc("/jobs/{id}", adminHandler.GetJob).Methods(http.MethodGet)
	admin.HandleFunc("/jobs/{id}/close", adminHandler.CloseBidding).Methods(http.MethodPost)
	admin.HandleFunc("/jobs/{id}/assign", adminHandler.ManualAssign).Methods(http.MethodPost)
	admin.HandleFunc("/jobs/{id}/reopen", adminHandler.ReopenBidding).Methods(http.MethodPost)
	admin.HandleFunc("/jobs/{id}/cancel", adminHandler.CancelJob).Methods(http.MethodPost)
	admin.HandleFunc("/jobs/{id}/complete", adminHandler.CompleteJob).Methods(http.MethodPost)
	admin.HandleFunc("/settings/{key}", adminHandler.UpdateSetting).Methods(http.MethodPut)

	root := middleware.RequestLogger(middleware.Recoverer(middleware.CORS(router)))

	// ── Start background workers ────────────────────────
	sink.Start()
	defer sink.Stop()
	timerSvc.Start()
	defer timerSvc.Stop()

	// ── Start HTTP server ───────────────────────────────
	srv := &http.Server{
		Addr:         cfg.Server.ServerAddr(),
		Handler:      root,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Printf("🚀 Server listening on %s", cfg.Server.ServerAddr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// ── Graceful shutdown ───────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("⏳ Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("server forced to shutdown: %v", err)
	}

	log.Println("✅ Server gracefully stopped")
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services"`
}

// healthHandler returns an HTTP handler that checks PG and Redis connectivity.
func healthHandler(pgPool *pgxpool.Pool, redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{
			Status:   "ok",
			Services: make(map[string]string),
		}

		if err := db.HealthCheck(r.Context(), pgPool); err != nil {
			resp.Status = "degraded"
			resp.Services["postgres"] = "unhealthy: " + err.Error()
		} else {
			resp.Services["postgres"] = "healthy"
		}

		if err := cache.HealthCheck(r.Context(), redisClient); err != nil {
			resp.Status = "degraded"
			resp.Services["redis"] = "unhealthy: " + err.Error()
		} else {
			resp.Services["redis"] = "healthy"
		}

		w.Header().Set("Content-Type", "application/json")
		if resp.Status != "ok" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(resp)
	}
}
