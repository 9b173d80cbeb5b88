package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/stablemint/issuance-engine/internal/api"
	"github.com/stablemint/issuance-engine/internal/engine"
	"github.com/stablemint/issuance-engine/internal/metrics"
	"github.com/stablemint/issuance-engine/internal/oracle"
	"github.com/stablemint/issuance-engine/internal/store"
	"github.com/stablemint/issuance-engine/internal/token"
)

// feedDecimals is the mantissa scale used for dev-mode price feeds, matching
// the usual USD feed convention.
const feedDecimals = 8

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
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
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

	// --- Collateral assets and debt token ---
	// COLLATERAL_ASSETS is a comma-separated list of symbol:priceUSD pairs
	// seeding dev-mode tokens and static feeds, e.g. "WETH:3000,WBTC:60000".
	cfg := engine.DefaultConfig()

	assetSpec := os.Getenv("COLLATERAL_ASSETS")
	if assetSpec == "" {
		assetSpec = "WETH:3000,WBTC:60000"
	}

	var tokens []token.Collateral
	var feeds []oracle.PriceFeed
	for _, pair := range strings.Split(assetSpec, ",") {
		sym, priceStr, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok {
			slog.Error("invalid COLLATERAL_ASSETS entry", "entry", pair)
			os.Exit(1)
		}
		priceUSD, err := strconv.ParseInt(priceStr, 10, 64)
		if err != nil {
			slog.Error("invalid price in COLLATERAL_ASSETS", "entry", pair, "err", err)
			os.Exit(1)
		}

		tokens = append(tokens, token.NewBalanceToken(sym, cfg.EngineAccount))
		feeds = append(feeds, oracle.NewStaticFeed(priceUSD*1e8, feedDecimals))
		slog.Info("collateral asset configured", "symbol", sym, "price_usd", priceUSD)
	}

	debtSymbol := os.Getenv("DEBT_TOKEN")
	if debtSymbol == "" {
		debtSymbol = "SUSD"
	}
	debtToken := token.NewBalanceToken(debtSymbol, cfg.EngineAccount)
	debt, err := debtToken.DebtHandle(cfg.EngineAccount)
	if err != nil {
		slog.Error("failed to obtain debt token authority", "err", err)
		os.Exit(1)
	}

	// --- Engine ---
	eng, err := engine.New(cfg, tokens, feeds, debt)
	if err != nil {
		slog.Error("engine construction failed", "err", err)
		os.Exit(1)
	}

	// --- WebSocket hub ---
	wsHub := api.NewWSHub()
	go wsHub.Run()

	// --- API service ---
	svc := api.NewService(eng, st, wsHub)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"issuance-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", svc.Routes)

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("issuance-engine listening", "port", port)
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

	slog.Info("shutting down issuance-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("issuance-engine stopped")
}
