// Command pagesnap runs the capture service: an HTTP API and MCP
// tools in front of a queue-driven screenshot worker backed by one
// headless Chrome.
package main

import (
	"context"
	"database/sql"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/pagesnap/pagesnap/browser"
	"github.com/pagesnap/pagesnap/capq"
	"github.com/pagesnap/pagesnap/dbopen"
	"github.com/pagesnap/pagesnap/history"
	"github.com/pagesnap/pagesnap/notify"
	"github.com/pagesnap/pagesnap/observability"
	"github.com/pagesnap/pagesnap/shield"
	"github.com/pagesnap/pagesnap/watch"
)

func main() {
	configPath := flag.String("config", "pagesnap.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}

	var lvl slog.Level
	switch cfg.LogLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// State DB: queue, history, settings, rate limits, event log.
	db, err := dbopen.Open(cfg.DBPath, dbopen.WithMkdirAll())
	if err != nil {
		slog.Error("open db", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := history.ApplySchema(db); err != nil {
		slog.Error("history schema", "error", err)
		os.Exit(1)
	}
	if err := shield.Init(db); err != nil {
		slog.Error("shield schema", "error", err)
		os.Exit(1)
	}
	if err := observability.Init(db); err != nil {
		slog.Error("observability schema", "error", err)
		os.Exit(1)
	}

	store, err := history.NewStore(db, filepath.Join(cfg.DataDir, "blobs"))
	if err != nil {
		slog.Error("history store", "error", err)
		os.Exit(1)
	}

	queue := capq.New(db, capq.Options{
		Visibility:   cfg.Queue.Visibility.Std(),
		PollInterval: cfg.Queue.PollInterval.Std(),
		MaxAttempts:  cfg.Queue.MaxAttempts,
		Logger:       logger,
	})
	if err := queue.EnsureTable(ctx); err != nil {
		slog.Error("queue schema", "error", err)
		os.Exit(1)
	}

	events := observability.NewEventLogger(db)
	notifier := notify.New(cfg.Webhooks, notify.Options{Logger: logger})

	// Browser.
	mgr := browser.NewManager(browser.Config{
		RemoteURL:        cfg.Browser.RemoteURL,
		MemoryLimit:      cfg.Browser.MemoryLimitMB << 20,
		RecycleInterval:  cfg.Browser.RecycleInterval.Std(),
		ResourceBlocking: cfg.Browser.ResourceBlocking,
		Stealth:          cfg.Browser.Stealth,
		Logger:           logger,
	})
	if err := mgr.Start(ctx); err != nil {
		slog.Error("browser start", "error", err)
		os.Exit(1)
	}
	defer mgr.Close()

	// Worker with hot-reloadable capture settings.
	w := &worker{
		store:       store,
		queue:       queue,
		mgr:         mgr,
		notifier:    notifier,
		events:      events,
		visibility:  cfg.Queue.Visibility.Std(),
		maxAttempts: cfg.Queue.MaxAttempts,
		log:         logger,
	}
	if err := w.reloadSettings(ctx); err != nil {
		slog.Error("load settings", "error", err)
		os.Exit(1)
	}

	watcher := watch.New(db, watch.Options{
		Debounce: 500 * time.Millisecond,
		Logger:   logger,
	})
	go watcher.OnChange(ctx, func() error {
		return w.reloadSettings(ctx)
	})

	go queue.Run(ctx, w.handle)
	go runRetention(ctx, store, db, cfg, logger)

	// HTTP surface: REST API plus MCP over streamable HTTP.
	api := newServer(store, queue, events, logger)

	mcpSrv := mcp.NewServer(&mcp.Implementation{
		Name:    "pagesnap",
		Version: "1.0.0",
	}, nil)
	(&mcpService{api: api, mgr: mgr}).register(mcpSrv)

	r := chi.NewRouter()
	for _, mw := range shield.DefaultAPIStack(db) {
		r.Use(mw)
	}
	api.routes(r)
	r.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return mcpSrv
	}, nil))

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
	slog.Info("server stopped")
}

// runRetention prunes old captures and event logs on an hourly cycle.
func runRetention(ctx context.Context, store *history.Store, db *sql.DB, cfg *Config, log *slog.Logger) {
	if cfg.Retention.History <= 0 && cfg.Retention.EventLogDays <= 0 {
		return
	}
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if cfg.Retention.History > 0 {
				n, err := store.Prune(ctx, cfg.Retention.History.Std())
				if err != nil {
					log.Warn("retention: prune captures", "error", err)
				} else if n > 0 {
					log.Info("retention: pruned captures", "count", n)
				}
			}
			if cfg.Retention.EventLogDays > 0 {
				err := observability.Cleanup(ctx, db, observability.RetentionConfig{
					EventLogsDays: cfg.Retention.EventLogDays,
				})
				if err != nil {
					log.Warn("retention: event logs", "error", err)
				}
			}
		}
	}
}
