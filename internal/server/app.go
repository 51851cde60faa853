// Package server initializes and runs the sync server application. It picks
// the storage backend, wires the authentication and sync services, handles
// graceful shutdown, and starts the HTTP endpoint.
package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/signalnoise/cloudsync/internal/logging"
	"github.com/signalnoise/cloudsync/internal/server/config"
	"github.com/signalnoise/cloudsync/internal/server/httpapi"
	"github.com/signalnoise/cloudsync/internal/server/magiclink"
	"github.com/signalnoise/cloudsync/internal/server/mail"
	"github.com/signalnoise/cloudsync/internal/server/session"
	"github.com/signalnoise/cloudsync/internal/server/snapshot"
	"github.com/signalnoise/cloudsync/internal/server/store"
	"github.com/signalnoise/cloudsync/internal/server/store/memory"
	"github.com/signalnoise/cloudsync/internal/server/store/postgres"
	"github.com/signalnoise/cloudsync/internal/server/store/redis"
	"github.com/signalnoise/cloudsync/internal/server/syncsvc"
)

type App struct {
	config *config.Config
	logger logging.Logger
	store  store.Store
	server *httpapi.Server
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := logging.NewJSONLogger()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store init error: %w", err)
	}

	var archiver snapshot.Archiver
	if cfg.S3Bucket != "" {
		s3a, err := snapshot.NewS3Archiver(ctx, snapshot.Config{
			RootUser:     cfg.S3RootUser,
			RootPassword: cfg.S3RootPassword,
			Bucket:       cfg.S3Bucket,
			Region:       cfg.S3Region,
			BaseEndpoint: cfg.S3BaseEndpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("snapshot init error: %w", err)
		}
		archiver = s3a
	}

	sessions := session.NewManager(st, logger, cfg.SessionTTL)
	mailer := mail.NewLogMailer(logger)
	auth := magiclink.NewService(st, sessions, mailer, logger,
		cfg.BaseURL, cfg.MagicTokenTTL, cfg.VerifyCacheTTL)
	sync := syncsvc.NewService(st, archiver, logger)

	srv := httpapi.NewServer(cfg.EndpointAddr, auth, sessions, sync, logger)

	return &App{config: cfg, logger: logger, store: st, server: srv}, nil
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case config.BackendMemory:
		return memory.New(), nil
	case config.BackendRedis:
		return redis.Open(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	case config.BackendPostgres:
		return postgres.Open(ctx, cfg.DatabaseDSN)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "starting app",
		"backend", app.config.StoreBackend, "addr", app.config.EndpointAddr)

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := app.server.Run(ctx); err != nil {
			app.logger.Error(ctx, err.Error())
			cancelFunc()
		}
	}()

	<-ctx.Done()
	if err := app.server.Stop(context.Background()); err != nil {
		app.logger.Error(ctx, err.Error())
	}

	wg.Wait()

	if err := app.store.Close(); err != nil {
		app.logger.Error(ctx, err.Error())
	}

	app.logger.Info(ctx, "app stopped")
}
