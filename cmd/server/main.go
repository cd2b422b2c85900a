package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite"

	backendAPI "studiobook/internal/adapters/api"
	emailPkg "studiobook/internal/adapters/email"
	web "studiobook/internal/adapters/http"
	"studiobook/internal/adapters/storage"
	checkoutLogStore "studiobook/internal/adapters/storage/checkoutlog"
	outboxStorePkg "studiobook/internal/adapters/storage/outbox"
	"studiobook/internal/application/orchestrators"
	"studiobook/internal/config"
	"studiobook/internal/domain/outbox"
	"studiobook/internal/metrics"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	cfg := config.MustLoad()

	// Initialize database with WAL mode, foreign keys, and busy timeout
	dsn := cfg.DBPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	// Connection pool settings for WAL mode
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)

	if err := db.Ping(); err != nil {
		log.Fatalf("database unreachable: %v", err)
	}
	if err := storage.InitDB(db); err != nil {
		log.Fatalf("failed to initialize database: %v", err)
	}
	log.Println("Database initialized successfully!")

	// Wrap DB with slow query logging
	timedDB := storage.NewTimedDB(db)
	outboxStore := outboxStorePkg.NewSQLiteStore(timedDB)
	logStore := checkoutLogStore.NewSQLiteStore(timedDB)

	metrics.Register()

	api := backendAPI.New(cfg.Backend.BaseURL, cfg.Backend.APIKey, cfg.Backend.Timeout)
	recorder := orchestrators.NewOutboxRecorder(outboxStore)

	// Configure email sender for receipts
	var sender emailPkg.Sender
	if cfg.Email.ResendKey != "" {
		sender = emailPkg.NewResendSender(cfg.Email.ResendKey, cfg.Email.From)
		log.Println("Email sender configured (Resend)")
	} else {
		sender = emailPkg.NewNoopSender()
		if cfg.Env == "production" {
			log.Println("WARNING: STUDIOBOOK_RESEND_KEY is not set — receipt delivery is DISABLED in production")
		} else {
			log.Println("Email sender configured (noop — set STUDIOBOOK_RESEND_KEY for real delivery)")
		}
	}

	processor := orchestrators.NewProcessor(outboxStore, map[string]orchestrators.ActionExecutor{
		outbox.ActionTypeEventLog:     &orchestrators.EventLogExecutor{API: api},
		outbox.ActionTypeReceiptEmail: &orchestrators.ReceiptEmailExecutor{Sender: sender, From: cfg.Email.From},
	})

	mux := web.NewMux(&web.Deps{
		API:       api,
		Events:    recorder,
		Log:       logStore,
		Outbox:    outboxStore,
		Processor: processor,
	})

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("StudioBook %s listening on %s (env=%s)", version, cfg.Addr, cfg.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		err := processor.Run(ctx, cfg.Outbox.Interval)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("server_exit", "error", err.Error())
		os.Exit(1)
	}
}
