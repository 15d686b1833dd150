package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"wgwatch/internal/config"
	"wgwatch/internal/httpapi"
	"wgwatch/internal/notify"
	"wgwatch/internal/runner"
	"wgwatch/internal/scheduler"
	"wgwatch/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	store, err := newStore(cfg, log)
	if err != nil {
		log.Error("open account store", "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	var notifier runner.Notifier
	if cfg.NotifyEnabled() {
		tg, err := notify.NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID, log)
		if err != nil {
			log.Error("create telegram notifier", "error", err)
			os.Exit(1)
		}
		notifier = tg
		log.Info("telegram notifications enabled", "chat_id", cfg.TelegramChatID)
	}

	run := runner.New(store, log, runner.Options{
		PollInterval:  cfg.ScrapeInterval,
		MaxConcurrent: cfg.MaxConcurrent,
		ProxyBase:     cfg.ProxyBase,
		Notifier:      notifier,
	})

	sched := scheduler.New(run, log)
	sched.SetTickInterval(cfg.ScrapeInterval)
	if cfg.ScrapeCron != "" {
		sched.SetCron(cfg.ScrapeCron)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		if err := sched.Run(ctx); err != nil {
			log.Error("scheduler", "error", err)
			cancel()
		}
	}()

	api := httpapi.New(store, run, log)
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown http server", "error", err)
	}

	log.Info("stopped")
}

func newStore(cfg *config.Config, log *slog.Logger) (storage.Storage, error) {
	switch cfg.StoreBackend {
	case config.StoreSupabase:
		log.Info("using supabase account store", "url", cfg.SupabaseURL)
		return storage.NewSupabase(cfg.SupabaseURL, cfg.SupabaseServiceKey), nil
	default:
		if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, err
			}
		}
		log.Info("using sqlite account store", "path", cfg.DatabasePath)
		return storage.NewSQLite(cfg.DatabasePath)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
