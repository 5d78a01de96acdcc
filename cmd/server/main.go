package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/ammlabs/coverage-engine/internal/metrics"
	"github.com/ammlabs/coverage-engine/internal/oracle"
	"github.com/ammlabs/coverage-engine/internal/pool"
	"github.com/ammlabs/coverage-engine/internal/service"
	"github.com/ammlabs/coverage-engine/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pgPool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pgPool.Close)
		st = store.NewPostgresStore(pgPool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
			opt, err := redis.ParseURL(redisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Price feeds ---
	// CHAINLINK_FEEDS maps feed IDs to aggregator addresses, e.g.
	// "eth-usd=0x5f4e...,dai-usd=0x773616...". Without an RPC endpoint the
	// engine starts with an empty registry and every bind fails closed.
	var feeds *oracle.Registry
	if rpcURL := os.Getenv("ETH_RPC_URL"); rpcURL != "" {
		addresses, err := parseFeedSpec(os.Getenv("CHAINLINK_FEEDS"))
		if err != nil {
			slog.Error("invalid CHAINLINK_FEEDS", "err", err)
			os.Exit(1)
		}
		feeds, err = oracle.DialChainlinkRegistry(context.Background(), rpcURL, addresses)
		if err != nil {
			slog.Error("chainlink registry setup failed", "err", err)
			os.Exit(1)
		}
		slog.Info("chainlink feeds registered", "count", len(addresses))
	} else {
		slog.Warn("ETH_RPC_URL not set, starting with an empty feed registry")
		feeds = oracle.NewRegistry()
	}

	// --- WebSocket hub ---
	wsHub := service.NewWSHub()
	go wsHub.Run()

	// --- Pool service ---
	svc := service.NewService(st, feeds, pool.SystemClock{}, wsHub)
	if err := svc.Restore(context.Background()); err != nil {
		slog.Error("pool restore failed", "err", err)
		os.Exit(1)
	}

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"coverage-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time swap updates.
		r.Get("/ws", wsHub.HandleWS)

		// Pool management.
		r.Get("/pools", svc.ListPools)
		r.Post("/pools", svc.CreatePool)
		r.Get("/pools/{poolID}", svc.GetPool)
		r.Post("/pools/{poolID}/bindings", svc.Bind)
		r.Put("/pools/{poolID}/bindings/{asset}", svc.Rebind)
		r.Delete("/pools/{poolID}/bindings/{asset}", svc.Unbind)
		r.Post("/pools/{poolID}/finalize", svc.Finalize)
		r.Patch("/pools/{poolID}/params", svc.UpdateParams)

		// Swap execution and pricing.
		r.Post("/pools/{poolID}/swaps", svc.ExecuteSwap)
		r.Get("/pools/{poolID}/quote", svc.Quote)

		// Ledger queries.
		r.Get("/pools/{poolID}/swaps", svc.GetPoolSwaps)
		r.Get("/pools/{poolID}/volume", svc.GetPoolVolume)
		r.Get("/accounts/{caller}/swaps", svc.GetCallerSwaps)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("coverage-engine listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down coverage-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("coverage-engine stopped")
}

// parseFeedSpec parses "id=address,id=address" into a feed address map.
func parseFeedSpec(spec string) (map[string]string, error) {
	addresses := make(map[string]string)
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		id, addr, ok := strings.Cut(entry, "=")
		if !ok || id == "" || addr == "" {
			return nil, fmt.Errorf("malformed feed entry %q", entry)
		}
		addresses[id] = addr
	}
	return addresses, nil
}
