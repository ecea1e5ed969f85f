package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/52poke/engquiz/internal/cache"
	"github.com/52poke/engquiz/internal/config"
	"github.com/52poke/engquiz/internal/http"
	"github.com/52poke/engquiz/internal/lock"
	"github.com/52poke/engquiz/internal/logger"
	"github.com/52poke/engquiz/internal/offline"
	"github.com/52poke/engquiz/internal/origin"
	"github.com/52poke/engquiz/internal/refresh"
)

const lifecycleRetry = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logg, err := logger.New(cfg.Env)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logg.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		logg.Fatal("open cache store", zap.Error(err))
	}
	defer closeStore()

	var locker lock.Locker = lock.NewLocalLocker()
	if cfg.RedisAddr != "" {
		redisClient := lock.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		defer redisClient.Close()
		locker = &lock.RedisLocker{
			Client:  redisClient,
			Prefix:  "engquiz:",
			TTL:     cfg.LockTTL(),
			MaxWait: cfg.MaxLockWait(),
		}
	}

	manager, err := offline.New(offline.Options{
		Version:  cfg.CacheVersion,
		Manifest: cfg.Manifest,
		Store:    store,
		Network:  origin.NewClient(cfg.OriginBaseURL, cfg.FetchTimeout),
		Locker:   locker,
		Logger:   logg,
	})
	if err != nil {
		logg.Fatal("build cache manager", zap.Error(err))
	}

	handler, err := httpx.NewHandler(cfg.OriginBaseURL, manager, logg)
	if err != nil {
		logg.Fatal("build handler", zap.Error(err))
	}

	purgeHandler := &refresh.Handler{
		Manager:         manager,
		DownstreamPurge: cfg.DownstreamPurgeURL,
		Log:             logg,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/readyz", handler.ServeReady)
	mux.Handle("/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == refresh.MethodPurge {
			purgeHandler.ServeHTTP(w, r)
			return
		}
		handler.ServeHTTP(w, r)
	}))

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go runLifecycle(ctx, manager, logg)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logg.Info("listening", zap.String("addr", cfg.ListenAddr), zap.String("generation", manager.Version()))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logg.Fatal("serve", zap.Error(err))
	}
}

// runLifecycle installs then activates the current generation, retrying the
// pair until both succeed. Until then requests are still answered, from the
// origin or whatever the current generation already holds.
func runLifecycle(ctx context.Context, manager *offline.Manager, logg *zap.Logger) {
	for {
		err := manager.Install(ctx)
		if err == nil {
			err = manager.Activate(ctx)
		}
		if err == nil {
			return
		}
		logg.Warn("cache lifecycle incomplete, retrying", zap.Duration("in", lifecycleRetry), zap.Error(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(lifecycleRetry):
		}
	}
}

func openStore(ctx context.Context, cfg config.Config) (cache.Store, func(), error) {
	switch cfg.Store {
	case config.StoreSQLite:
		s, err := cache.OpenSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case config.StoreS3:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.S3Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, "")),
		)
		if err != nil {
			return nil, nil, err
		}
		client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.UsePathStyle = true
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		})
		return cache.NewS3Store(cfg.S3Bucket, cfg.S3Prefix, client), func() {}, nil
	default:
		return cache.NewMemoryStore(), func() {}, nil
	}
}
