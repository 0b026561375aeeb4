package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/lisbetwade-design/ReviuNew/internal/api"
	"github.com/lisbetwade-design/ReviuNew/internal/auth"
	"github.com/lisbetwade-design/ReviuNew/internal/cache"
	"github.com/lisbetwade-design/ReviuNew/internal/config"
	"github.com/lisbetwade-design/ReviuNew/internal/figma"
	"github.com/lisbetwade-design/ReviuNew/internal/figmasync"
	httpserver "github.com/lisbetwade-design/ReviuNew/internal/http"
	"github.com/lisbetwade-design/ReviuNew/internal/logging"
	"github.com/lisbetwade-design/ReviuNew/internal/oauthflow"
	"github.com/lisbetwade-design/ReviuNew/internal/slackapi"
	"github.com/lisbetwade-design/ReviuNew/internal/slackingest"
	"github.com/lisbetwade-design/ReviuNew/internal/store"
	"github.com/lisbetwade-design/ReviuNew/internal/tokens"
	"github.com/lisbetwade-design/ReviuNew/internal/vault"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	v, err := vault.New(cfg.EncryptionKey)
	if err != nil {
		return err
	}

	pool, err := pgxpool.New(ctx, cfg.DB.DSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	applied, err := store.ApplyMigrations(ctx, pool, logging.WithComponent(logger, "migrations"))
	if err != nil {
		return err
	}
	logger.Info("database ready", zap.Strings("migrations_applied", applied))
	st := store.New(pool)

	providerHTTP := &http.Client{Timeout: cfg.Ingest.ProviderTimeout}
	figmaClient := figma.New(figma.Options{
		ClientID:     cfg.Figma.ClientID,
		ClientSecret: cfg.Figma.ClientSecret,
		RedirectURL:  cfg.RedirectURL(),
		AuthURL:      cfg.Figma.AuthURL,
		TokenURL:     cfg.Figma.TokenURL,
		RefreshURL:   cfg.Figma.RefreshURL,
		APIURL:       cfg.Figma.APIURL,
		Scopes:       cfg.Figma.Scopes,
		HTTPClient:   providerHTTP,
	})
	if !figmaClient.Configured() {
		logger.Warn("figma oauth client id is not set; connecting accounts is disabled")
	}
	slackResolver := slackapi.NewResolver(cfg.Slack.APIURL, providerHTTP)

	orchestrator := tokens.New(st.Connections, v, figmaClient, logging.WithComponent(logger, "tokens"))
	flow := oauthflow.New(figmaClient, st.PendingAuthorizations, st.Connections, v, cfg.Ingest.PendingAuthTTL, logging.WithComponent(logger, "oauth"))
	reconciler := figmasync.NewReconciler(orchestrator, figmaClient, st, cfg.Ingest.SyncParallelism, logging.WithComponent(logger, "figmasync"))

	ingestOpts := slackingest.Options{
		Parallelism: cfg.Ingest.FanoutParallelism,
		Bucket:      cfg.Ingest.DedupBucket,
		Logger:      logging.WithComponent(logger, "slackingest"),
	}
	if cfg.Redis.URL != "" {
		rdb, err := cache.Open(ctx, cfg.Redis.URL)
		if err != nil {
			return err
		}
		defer rdb.Close()
		ingestOpts.Guard = cache.NewDeliveryGuard(rdb, "reviu:slack:event", cfg.Ingest.DeliveryTTL)
		logger.Info("redis delivery guard enabled")
	}
	ingester := slackingest.New(st, v, slackResolver, ingestOpts)

	authService, err := auth.NewService(ctx, cfg)
	if err != nil {
		return err
	}

	handler := api.NewHandler(api.Deps{
		Config: cfg,
		Store:  st,
		Vault:  v,
		OAuth:  flow,
		Tokens: orchestrator,
		Files:  figmaClient,
		Sync:   reconciler,
		Events: ingester,

		Channels: slackResolver,
	})
	router := httpserver.NewRouter(ctx, cfg, st, authService, handler, logging.WithComponent(logger, "http"))

	scheduler := figmasync.NewScheduler(reconciler, st, cfg.Ingest.SyncInterval, cfg.Ingest.SyncParallelism, logging.WithComponent(logger, "scheduler"))
	go scheduler.Run(ctx)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	return nil
}
