package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/polypredict/ledger-engine/internal/config"
	"github.com/polypredict/ledger-engine/internal/feed"
	"github.com/polypredict/ledger-engine/internal/logger"
	"github.com/polypredict/ledger-engine/internal/metrics"
	"github.com/polypredict/ledger-engine/internal/model"
	"github.com/polypredict/ledger-engine/internal/store"
	"github.com/polypredict/ledger-engine/internal/trade"
	"github.com/polypredict/ledger-engine/internal/wallet"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("LEDGER_CONFIG"))
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	logger.Init("ledger-engine", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store ---
	st, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("store setup failed", "backend", cfg.Store.Backend, "err", err)
		os.Exit(1)
	}
	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- WebSocket hub ---
	wsHub := trade.NewWSHub()
	go wsHub.Run(ctx)

	// --- Wallets, one per identity scope ---
	wallets := wallet.NewRegistry(st,
		wallet.WithInitialBalance(cfg.Wallet.InitialBalance),
		wallet.WithListener(wsHub.OnChange),
	)
	if _, err := wallets.Open(ctx, model.UserScope(cfg.Wallet.DefaultUserID)); err != nil {
		slog.Error("wallet initialization failed", "err", err)
		os.Exit(1)
	}

	// --- Quote feed ---
	var events trade.EventLister
	if cfg.Feed.Disabled {
		slog.Warn("quote feed disabled, positions will only reprice via POST /wallet/prices")
	} else {
		poller := feed.NewPoller(feed.NewClient(cfg.Feed.URL), wallets, cfg.Feed.PollInterval)
		go poller.Run(ctx)
		events = poller
	}

	// --- Wallet service ---
	walletSvc := trade.NewService(wallets, events)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+trade.UserHeader)
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"ledger-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time wallet updates. Registered
		// before the timeout middleware so upgrades are not cut off.
		r.Get("/ws", wsHub.HandleWS)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))

			// Identity and markets.
			r.Post("/session", walletSvc.StartSession)
			r.Get("/events", walletSvc.ListEvents)

			// Wallet of the caller's X-User-ID (guest when absent).
			r.Group(func(r chi.Router) {
				r.Use(walletSvc.ResolveWallet)

				r.Get("/wallet", walletSvc.GetWallet)
				r.Post("/wallet/buy", walletSvc.BuyPosition)
				r.Post("/wallet/prices", walletSvc.UpdatePrices)
				r.Post("/wallet/reset", walletSvc.ResetWallet)
				r.Get("/portfolio", walletSvc.GetPortfolio)
			})
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("ledger-engine listening", "port", cfg.Port, "store", cfg.Store.Backend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down ledger-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("ledger-engine stopped")
}

// openStore builds the configured durable store. The returned cleanup
// functions release its connections.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, []func(), error) {
	var cleanup []func()

	switch cfg.Store.Backend {
	case config.BackendSQLite:
		sq, err := store.NewSQLiteStore(cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("opened SQLite store", "path", cfg.Store.SQLitePath)
		return sq, []func(){func() { sq.Close() }}, nil

	case config.BackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("database connection: %w", err)
		}
		cleanup = append(cleanup, pool.Close)

		pg := store.NewPostgresStore(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.Store.RedisURL == "" {
			return pg, cleanup, nil
		}
		rdb, err := newRedis(cfg.Store.RedisURL)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		cleanup = append(cleanup, func() { rdb.Close() })
		slog.Info("Redis cache enabled", "ttl", cfg.Store.CacheTTL.String())
		return store.NewCachedStore(pg, rdb, cfg.Store.Namespace, cfg.Store.CacheTTL), cleanup, nil

	case config.BackendRedis:
		rdb, err := newRedis(cfg.Store.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		slog.Info("connected to Redis", "namespace", cfg.Store.Namespace)
		return store.NewRedisStore(rdb, cfg.Store.Namespace), []func(){func() { rdb.Close() }}, nil

	default:
		slog.Warn("using in-memory store (data will not persist)")
		return store.NewMemoryStore(), nil, nil
	}
}

func newRedis(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	return redis.NewClient(opt), nil
}
