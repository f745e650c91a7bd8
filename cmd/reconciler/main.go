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

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/cognizanttrust/chain-reconciler/internal/admin"
	"github.com/cognizanttrust/chain-reconciler/internal/alert"
	"github.com/cognizanttrust/chain-reconciler/internal/chain"
	"github.com/cognizanttrust/chain-reconciler/internal/config"
	"github.com/cognizanttrust/chain-reconciler/internal/engine"
	"github.com/cognizanttrust/chain-reconciler/internal/recorder"
	"github.com/cognizanttrust/chain-reconciler/internal/session"
	"github.com/cognizanttrust/chain-reconciler/internal/store/postgres"
	"github.com/cognizanttrust/chain-reconciler/internal/wallet"
)

func main() {
	logLevel := slog.LevelInfo
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	switch cfg.Log.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	logger.Info("starting chain-reconciler",
		"chain_id", cfg.Chain.ChainID,
		"rpc_endpoints", len(cfg.Chain.Endpoints),
		"admin_port", cfg.Server.AdminPort,
		"submit_interval", cfg.Engine.SubmitInterval,
		"retry_interval", cfg.Engine.RetryInterval,
		"verify_interval", cfg.Engine.VerifyInterval,
	)

	db, err := postgres.New(postgres.Config{
		URL:             cfg.DB.URL,
		MaxOpenConns:    cfg.DB.MaxOpenConns,
		MaxIdleConns:    cfg.DB.MaxIdleConns,
		ConnMaxLifetime: cfg.DB.ConnMaxLifetime,
	})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.RunMigrations(cfg.DB.MigrationsDir); err != nil {
		logger.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	recordRepo := postgres.NewRecordRepo(db)
	settingsRepo := postgres.NewSettingsRepo(db)

	var sessionStore session.Store
	if cfg.Redis.URL != "" {
		redisStore, err := session.NewRedisStore(cfg.Redis.URL)
		if err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer redisStore.Close()
		sessionStore = redisStore
		logger.Info("session store: redis")
	} else {
		sessionStore = session.NewMemoryStore()
		logger.Warn("session store: in-memory, automatic mode will not survive restarts")
	}

	keystore := wallet.NewKeystore(cfg.Wallet.Dir, logger)

	rec := recorder.New(keystore, settingsRepo, recorder.Config{
		Chain: chain.Config{
			Endpoints:           cfg.Chain.Endpoints,
			ChainID:             cfg.Chain.ChainID,
			ConnectTimeout:      cfg.Chain.ConnectTimeout,
			ReceiptPollInterval: cfg.Chain.ReceiptPollInterval,
			RatePerSec:          cfg.Chain.RPCRatePerSec,
			Burst:               cfg.Chain.RPCBurst,
		},
		DonationContract: cfg.Chain.DonationContractAddress,
		SpendingContract: cfg.Chain.SpendingContractAddress,
		ReceiptWait:      cfg.Chain.ReceiptWait,
	}, logger)

	eng := engine.New(recordRepo, settingsRepo, sessionStore, rec, cfg.Engine, logger)
	eng.SetAlerter(buildAlerter(cfg.Alert, logger))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// If automatic mode was on before a restart, the workers re-arm from the
	// cached session secret on their own; the engine just has to be running.
	if settings, err := settingsRepo.Get(ctx); err != nil {
		logger.Error("failed to load settings", "error", err)
		os.Exit(1)
	} else if settings.AutomaticMode && settings.CredentialsConfigured {
		logger.Info("automatic mode was enabled, starting engine")
		if err := eng.Start(ctx); err != nil {
			logger.Error("engine start failed", "error", err)
			os.Exit(1)
		}
	}

	g, gCtx := errgroup.WithContext(ctx)

	adminServer := admin.NewServer(ctx, eng, rec, keystore, sessionStore, settingsRepo, logger)
	rateLimiter := admin.NewRateLimitMiddleware(logger)
	defer rateLimiter.Stop()

	g.Go(func() error {
		return runAdminServer(gCtx, cfg.Server.AdminPort,
			admin.AuditMiddleware(logger, rateLimiter.Wrap(adminServer.Handler())), logger)
	})

	g.Go(func() error {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		eng.Stop()
		rec.Shutdown()
		logger.Error("reconciler exited with error", "error", err)
		os.Exit(1)
	}

	eng.Stop()
	rec.Shutdown()
	logger.Info("reconciler shut down gracefully")
}

func buildAlerter(cfg config.AlertConfig, logger *slog.Logger) alert.Alerter {
	var channels []alert.Alerter
	if cfg.SlackWebhookURL != "" {
		channels = append(channels, alert.NewSlackAlerter(cfg.SlackWebhookURL))
	}
	if cfg.WebhookURL != "" {
		channels = append(channels, alert.NewWebhookAlerter(cfg.WebhookURL))
	}
	if len(channels) == 0 {
		return &alert.NoopAlerter{}
	}
	return alert.NewMultiAlerter(cfg.Cooldown, logger, channels...)
}

func runAdminServer(ctx context.Context, port int, handler http.Handler, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", handler)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Warn("admin server shutdown error", "error", err)
		}
	}()

	logger.Info("admin server started", "port", port)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("admin server: %w", err)
	}
	return nil
}
