package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/MikeSquared-Agency/vigil/internal/api"
	"github.com/MikeSquared-Agency/vigil/internal/audit"
	"github.com/MikeSquared-Agency/vigil/internal/config"
	"github.com/MikeSquared-Agency/vigil/internal/escalation"
	"github.com/MikeSquared-Agency/vigil/internal/hermes"
	"github.com/MikeSquared-Agency/vigil/internal/processor"
	"github.com/MikeSquared-Agency/vigil/internal/scoring/remote"
	"github.com/MikeSquared-Agency/vigil/internal/slack"
	"github.com/MikeSquared-Agency/vigil/internal/store"
	"github.com/MikeSquared-Agency/vigil/internal/version"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to load .env", "error", err)
	}

	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	slog.Info("vigil starting", "port", cfg.Port, "version", version.String())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Policy and model settings; invalid configuration refuses to start.
	settings, hash, err := config.LoadSettings(cfg.PolicyFiles...)
	if err != nil {
		slog.Error("invalid configuration", "files", cfg.PolicyFiles, "error", err)
		os.Exit(1)
	}
	slog.Info("configuration loaded", "files", cfg.PolicyFiles, "hash", hash)

	escCfg := escalation.Config{
		Alpha:  settings.Escalation.EWMAAlpha,
		Window: settings.Escalation.SlopeWindow,
		Floor:  settings.Escalation.RiskFloor,
	}
	if err := escCfg.Validate(); err != nil {
		slog.Error("invalid escalation settings", "error", err)
		os.Exit(1)
	}

	// Escalation state (optional Redis snapshots survive restarts)
	var states escalation.StateStore
	if cfg.RedisURL != "" {
		rs, err := escalation.NewRedisStateStore(ctx, cfg.RedisURL, cfg.SessionTTL)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer rs.Close()
		states = rs
		slog.Info("redis connected, escalation state is persisted")
	}
	sessions := escalation.NewSessions(escCfg, cfg.SessionCapacity, cfg.SessionTTL, states, slog.Default())

	opts := processor.Options{
		Settings:   settings,
		PolicyHash: hash,
		Sessions:   sessions,
		Loader: remote.Loader{
			BaseURL: cfg.ModelServerURL,
			Labeler: processor.LabelerFor(settings),
			Logger:  slog.Default(),
		},
		Logger: slog.Default(),
	}

	// Database (optional: without it decisions are not persisted)
	var db *store.Store
	if cfg.DatabaseURL != "" {
		db, err = store.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			slog.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}
		opts.Store = db
		slog.Info("database connected")
	} else {
		slog.Warn("DATABASE_URL not set, decisions will not be persisted")
	}

	// NATS/Hermes (optional)
	var hermesClient *hermes.Client
	if cfg.NatsURL != "" {
		hermesClient, err = hermes.NewClient(ctx, hermes.Options{
			URL:   cfg.NatsURL,
			Token: cfg.NatsToken,
			Queue: cfg.NatsQueue,
		}, slog.Default())
		if err != nil {
			slog.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer hermesClient.Close()
		opts.Bus = hermesClient
	}

	// Slack poster (optional: without it routed decisions are only published)
	if cfg.SlackBotToken != "" && cfg.SlackChannel != "" {
		opts.Reviewer = slack.NewPoster(cfg.SlackBotToken, cfg.SlackChannel, slog.Default())
		slog.Info("slack poster ready", "channel", cfg.SlackChannel)
	} else {
		slog.Warn("slack not configured, running without review loop")
	}

	// Audit log
	if cfg.AuditLogPath != "" {
		auditLog, err := audit.Open(cfg.AuditLogPath)
		if err != nil {
			slog.Error("failed to open audit log", "path", cfg.AuditLogPath, "error", err)
			os.Exit(1)
		}
		defer auditLog.Close()
		opts.Audit = auditLog
		slog.Info("audit log open", "path", auditLog.Path())
	}

	// Processor: the decision pipeline
	proc, err := processor.New(opts)
	if err != nil {
		slog.Error("failed to create processor", "error", err)
		os.Exit(1)
	}
	if cfg.ModelServerURL != "" {
		go proc.WatchScorers(ctx, time.Minute)
	} else {
		slog.Warn("VIGIL_MODEL_SERVER_URL not set, using fixture scorers")
	}

	if hermesClient != nil {
		subs := map[string]hermes.Handler{
			hermes.SubjectMessageInbound: proc.HandleInbound,
			hermes.SubjectReviewReaction: proc.HandleReaction,
			hermes.SubjectInteraction:    proc.HandleInteraction,
		}
		for subject, handler := range subs {
			if err := hermesClient.Subscribe(subject, handler); err != nil {
				slog.Error("failed to subscribe", "subject", subject, "error", err)
				os.Exit(1)
			}
		}
		if err := hermesClient.Announce(version.String()); err != nil {
			slog.Warn("failed to publish registration", "error", err)
		}
	}

	// Hot reload of the policy files
	if cfg.WatchPolicy {
		reloader, err := config.NewReloader(cfg.PolicyFiles, func(s *config.Settings, hash string) {
			if err := proc.Apply(s, hash); err != nil {
				slog.Error("rejected reloaded policy", "hash", hash, "error", err)
				return
			}
			slog.Info("policy applied", "hash", hash)
		}, slog.Default())
		if err != nil {
			slog.Warn("config watcher unavailable", "error", err)
		} else {
			go reloader.Run(ctx)
		}
	}

	// HTTP API
	var decisions api.DecisionReader
	if db != nil {
		decisions = db
	}
	srv := api.NewServer(cfg.Port, cfg.APIToken, proc, decisions, slog.Default())
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	slog.Info("vigil ready", "port", cfg.Port, "policy_hash", hash)

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown error", "error", err)
	}
	if hermesClient != nil {
		if err := hermesClient.Drain(); err != nil {
			slog.Warn("NATS drain error", "error", err)
		}
	}
	cancel()
	slog.Info("vigil stopped")
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
