package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/issuetracker/backend/internal/api"
	"github.com/issuetracker/backend/internal/auth"
	"github.com/issuetracker/backend/internal/cache"
	"github.com/issuetracker/backend/internal/config"
	"github.com/issuetracker/backend/internal/db"
	"github.com/issuetracker/backend/internal/db/memory"
	apperrors "github.com/issuetracker/backend/internal/errors"
	"github.com/issuetracker/backend/internal/health"
	"github.com/issuetracker/backend/internal/logger"
	"github.com/issuetracker/backend/internal/metrics"
	"github.com/issuetracker/backend/internal/policy"
	"github.com/issuetracker/backend/internal/storage"
	"github.com/issuetracker/backend/internal/websocket"
)

var version = "dev"

// store is everything the HTTP layer and the policy need from persistence.
type store interface {
	api.Store
	auth.UserStore
	policy.Store
}

type blobStore interface {
	storage.BlobStore
	health.Pinger
}

func main() {
	configPath := pflag.String("config", "", "path to a config file (yaml, json or toml)")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{Level: cfg.Log.Level, Development: !cfg.IsProduction()})
	logger.SetDefault(log)
	defer log.Sync()
	apperrors.SetStackTraces(!cfg.IsProduction())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal(ctx, "server exited", err)
	}
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	var components []health.Component

	st, dbPing, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()
	components = append(components, health.Component{Name: "database", Pinger: dbPing, Critical: true})

	var revocations auth.RevocationStore
	if cfg.Redis.Enabled {
		c, err := cache.New(ctx, cache.Config{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer c.Close()
		revocations = c
		components = append(components, health.Component{Name: "redis", Pinger: c})
	}

	blobs, err := openBlobs(ctx, cfg)
	if err != nil {
		return err
	}
	components = append(components, health.Component{Name: "storage", Pinger: blobs})

	m := metrics.New(nil)

	hasher, err := auth.NewHasher(cfg.Auth.BcryptCost)
	if err != nil {
		return err
	}
	issuer, err := auth.NewTokenIssuer(auth.TokenConfig{
		AccessSecret:  cfg.Auth.AccessTokenSecret,
		RefreshSecret: cfg.Auth.RefreshTokenSecret,
		AccessTTL:     cfg.Auth.AccessTokenExpiry,
		RefreshTTL:    cfg.Auth.RefreshTokenExpiry,
		Issuer:        "issuetracker",
	})
	if err != nil {
		return err
	}
	authService := auth.NewService(st, hasher, issuer, revocations)
	authz := policy.New(st, m)

	hub := websocket.NewHub(m)
	go hub.Run(ctx)

	router := api.NewRouter(api.RouterConfig{
		Auth: auth.NewHandlers(authService, auth.CookieConfig{
			Secure:   cfg.Cookie.Secure,
			SameSite: cfg.Cookie.SameSiteMode(),
			Domain:   cfg.Cookie.Domain,
		}, m),
		Session: auth.Middleware(authService, m),
		Resources: api.NewHandlers(api.HandlersConfig{
			Store:          st,
			Authz:          authz,
			Blobs:          blobs,
			Events:         hub,
			MaxUploadBytes: cfg.Upload.MaxBytes,
		}),
		Events: websocket.NewHandler(hub, authz, cfg.Server.AllowedOrigins),
		Health: health.NewHandler(health.NewChecker(&health.CheckerConfig{
			Components: components,
			Version:    version,
		})),
		Metrics:        m,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		SlowRequest:    cfg.Server.SlowRequest,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting server", zap.String("addr", cfg.Server.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info(context.Background(), "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (store, health.Pinger, func(), error) {
	if cfg.DB.Driver == "memory" {
		log.Warn(ctx, "using in-memory store, data is lost on exit")
		s := memory.New()
		return s, health.PingFunc(s.Ping), func() {}, nil
	}

	database, err := db.Open(cfg.DB.DSN())
	if err != nil {
		return nil, nil, nil, err
	}

	ping := func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return database.PingContext(pingCtx)
	}
	retry := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 8), ctx)
	notify := func(err error, wait time.Duration) {
		log.Warn(ctx, "database not ready", zap.Error(err), zap.Duration("retry_in", wait))
	}
	if err := backoff.RetryNotify(ping, retry, notify); err != nil {
		database.Close()
		return nil, nil, nil, fmt.Errorf("connect database: %w", err)
	}

	if err := database.Migrate(ctx); err != nil {
		database.Close()
		return nil, nil, nil, fmt.Errorf("migrate: %w", err)
	}

	closer := func() {
		if err := database.Close(); err != nil {
			log.Error(context.Background(), "close database", err)
		}
	}
	return db.NewStore(database), health.PingFunc(database.PingContext), closer, nil
}

// openBlobs keeps attachment bodies in memory alongside the memory store.
// Otherwise uploads go through S3 and, when enabled, reads go through minio.
func openBlobs(ctx context.Context, cfg *config.Config) (blobStore, error) {
	if cfg.DB.Driver == "memory" {
		return storage.NewMemory(), nil
	}

	uploads := storage.NewS3Storage(storage.S3Config{
		Endpoint:  cfg.S3.Endpoint,
		Region:    cfg.S3.Region,
		Bucket:    cfg.S3.Bucket,
		AccessKey: cfg.S3.AccessKey,
		SecretKey: cfg.S3.SecretKey,
	})

	var reads *storage.Client
	if cfg.Minio.Enabled {
		client, err := storage.New(storage.Config{
			Endpoint:  cfg.Minio.Endpoint,
			AccessKey: cfg.Minio.AccessKey,
			SecretKey: cfg.Minio.SecretKey,
			Bucket:    cfg.Minio.Bucket,
			UseSSL:    cfg.Minio.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("minio client: %w", err)
		}
		if err := client.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("ensure bucket: %w", err)
		}
		reads = client
	}
	return storage.NewObjectStore(uploads, reads), nil
}
