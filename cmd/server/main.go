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
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/redis/go-redis/v9"

	"github.com/goldnet/ledger-engine/internal/api"
	"github.com/goldnet/ledger-engine/internal/audit"
	"github.com/goldnet/ledger-engine/internal/closing"
	"github.com/goldnet/ledger-engine/internal/commission"
	"github.com/goldnet/ledger-engine/internal/config"
	"github.com/goldnet/ledger-engine/internal/metrics"
	"github.com/goldnet/ledger-engine/internal/notify"
	"github.com/goldnet/ledger-engine/internal/price"
	"github.com/goldnet/ledger-engine/internal/reserve"
	"github.com/goldnet/ledger-engine/internal/scheduler"
	"github.com/goldnet/ledger-engine/internal/store"
	"github.com/goldnet/ledger-engine/internal/trade"
	"github.com/goldnet/ledger-engine/internal/wallet"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "err", err)
		os.Exit(1)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cleanup []func()
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	// --- Redis (optional): wallet cache and shared price locks ---
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb = redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
	}

	// --- Initialize store ---
	var st store.Store
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			slog.Error("migration failed", "err", err)
			os.Exit(1)
		}
		st = pg
		slog.Info("connected to PostgreSQL")

		if rdb != nil {
			st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	// --- Settings ---
	defaults, err := config.LoadDefaults(cfg.SettingsFile)
	if err != nil {
		slog.Error("settings defaults", "err", err)
		os.Exit(1)
	}
	settings := config.NewSettings(st, defaults)
	if err := settings.Load(ctx); err != nil {
		slog.Error("settings load", "err", err)
		os.Exit(1)
	}

	// --- Audit trail ---
	var recorder audit.Recorder = st
	if cfg.AuditSQLitePath != "" {
		rec, err := audit.NewSQLiteRecorder(cfg.AuditSQLitePath)
		if err != nil {
			slog.Error("audit database", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, func() { rec.Close() })
		recorder = rec
		slog.Info("audit trail in SQLite", "path", cfg.AuditSQLitePath)
	}
	trail := audit.NewTrail(recorder)

	// --- Notifications ---
	var sink notify.Sink = notify.LogSink{}
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL)
		if err != nil {
			slog.Error("nats connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, nc.Close)
		js, err := jetstream.New(nc)
		if err != nil {
			slog.Error("jetstream", "err", err)
			os.Exit(1)
		}
		if err := notify.EnsureStream(ctx, js); err != nil {
			slog.Error("notification stream", "err", err)
			os.Exit(1)
		}
		sink = notify.NewNATSSink(js)
		slog.Info("notifications published to NATS")
	}
	notifier := notify.NewAsync(sink, 1024)

	// --- Price oracle and quote hub ---
	var locks price.LockStore
	var sweeper scheduler.Sweeper
	if rdb != nil {
		locks = price.NewRedisLockStore(rdb)
	} else {
		mem := price.NewMemoryLockStore()
		locks, sweeper = mem, mem
	}
	hub := price.NewHub()
	go hub.Run(ctx.Done())
	oracle := price.NewOracle(st, settings, locks, hub)
	if err := oracle.Load(ctx); err != nil {
		slog.Error("load last quote", "err", err)
		os.Exit(1)
	}

	// --- Services ---
	commissions := commission.NewQueue(commission.NewEngine(st, settings, notifier), cfg.CommissionWorkers, cfg.CommissionQueue)
	srv := &api.Server{
		Store:    st,
		Settings: settings,
		Oracle:   oracle,
		Hub:      hub,
		Trades:   trade.NewService(st, oracle, settings, commissions, notifier, trail),
		Wallets:  wallet.New(st, settings, trail, notifier),
		Reserve:  reserve.New(st, trail),
		Closing:  closing.New(st, settings, trail, notifier),
		Trail:    trail,
	}

	sched := scheduler.New(ctx, st, notifier, oracle, nil, sweeper)
	if err := sched.RegisterAll(scheduler.Schedule{
		ReminderCron: cfg.ReminderCron,
		SweepCron:    cfg.LockSweepCron,
	}); err != nil {
		slog.Error("scheduler", "err", err)
		os.Exit(1)
	}
	sched.Start()

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
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+api.ActorHeader)
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
	r.Handle("/metrics", metrics.Handler())
	srv.Routes(r)

	// --- Server ---
	httpSrv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("ledger-engine listening", "port", cfg.Port)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	slog.Info("shutting down ledger-engine...")
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	sched.Stop()
	// Trades have stopped; finish their commissions before dropping the sink.
	commissions.Close()
	notifier.Close()
	fmt.Println("ledger-engine stopped")
}
