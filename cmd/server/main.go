package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-telegram/bot"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"tab-element-monitor/internal/config"
	"tab-element-monitor/internal/handlers"
	"tab-element-monitor/internal/monitor"
	"tab-element-monitor/internal/notify"
	"tab-element-monitor/internal/page"
	"tab-element-monitor/internal/snapshot"
	"tab-element-monitor/internal/storage"
)

const configPath = "./configs/config.yaml"

func main() {
	godotenv.Load(".env")

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Optional Postgres history: enabled when DATABASE_URL is set.
	var history *storage.History
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		poolCfg, err := pgxpool.ParseConfig(dbURL)
		if err != nil {
			log.Fatalf("failed to parse db config: %v", err)
		}
		// PgBouncer (transaction pooling) rejects prepared statements.
		poolCfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

		dbpool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			log.Fatalf("failed to create db pool: %v", err)
		}
		defer dbpool.Close()

		if err := dbpool.Ping(ctx); err != nil {
			log.Fatalf("database ping failed: %v", err)
		}

		history = storage.NewHistory(dbpool)
		if err := history.EnsureSchema(ctx); err != nil {
			log.Fatalf("failed to ensure history schema: %v", err)
		}
	}

	// Optional Telegram alerts: enabled when TELEGRAM_TOKEN is set.
	var notifier monitor.Notifier = notify.Log{}
	if token := os.Getenv("TELEGRAM_TOKEN"); token != "" {
		chatID := cfg.Telegram.ChatID
		if raw := os.Getenv("TELEGRAM_CHAT_ID"); raw != "" {
			chatID, err = strconv.ParseInt(raw, 10, 64)
			if err != nil {
				log.Fatalf("invalid TELEGRAM_CHAT_ID: %v", err)
			}
		}
		if chatID == 0 {
			log.Fatal("telegram token set but no chat_id configured")
		}
		tbot, err := bot.New(token)
		if err != nil {
			log.Fatalf("telegram init failed: %v", err)
		}
		notifier = notify.NewTelegram(tbot, chatID)
	}

	browser, err := page.Connect(ctx, page.Config{
		DebuggerURL:       cfg.Browser.DebuggerURL,
		Headless:          cfg.Browser.Headless,
		NavigationTimeout: cfg.Browser.NavigationTimeoutDur,
	})
	if err != nil {
		log.Fatalf("browser connect failed: %v", err)
	}
	defer browser.Close()

	// Republish persisted status so the API reflects the last session
	// across restarts.
	store := storage.NewFileStore(cfg.Storage.StatusFile)
	if st, ok := store.Load(); ok {
		st.Active = false
		st.PageID = ""
		snapshot.Publish(st)
	}

	var recorder monitor.Recorder
	if history != nil {
		recorder = history
	}
	ctrl := monitor.New(browser, monitor.Options{
		Notifier: notifier,
		Recorder: recorder,
		Store:    store,
		Defaults: monitor.Defaults{
			Mode:                     cfg.Monitor.Mode,
			RefreshIntervalSeconds:   cfg.Monitor.RefreshIntervalSeconds,
			NotificationRepeatCount:  cfg.Monitor.NotificationRepeatCount,
			NotificationDelaySeconds: cfg.Monitor.NotificationDelaySeconds,
		},
	})

	r := chi.NewRouter()
	r.Use(middleware.Logger)

	h := handlers.New(ctrl, history)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	})
	r.Get("/api/status", h.GetStatus)
	r.Post("/api/monitor/start", h.StartMonitor)
	r.Post("/api/monitor/stop", h.StopMonitor)
	r.Get("/api/observations", h.GetObservations)

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: r}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ctrl.Run(gctx)
	})
	g.Go(func() error {
		log.Printf("listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal(err)
	}
}
