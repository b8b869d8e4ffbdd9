package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"cinehub/internal/cache"
	"cinehub/internal/config"
	apphttp "cinehub/internal/http"
	"cinehub/internal/notify"
	"cinehub/internal/repository/sqlite"
	"cinehub/internal/service"
	"cinehub/internal/transfer"
	"cinehub/internal/worker"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		logger.Fatalf("auth jwt secret is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		logger.Fatalf("open database: %v", err)
	}
	defer db.Close()

	libraryRepo := sqlite.NewLibraryRepository(db)
	if err := libraryRepo.Init(ctx); err != nil {
		logger.Fatalf("init library repository: %v", err)
	}

	store, err := buildCache(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("setup cache: %v", err)
	}

	libraries := service.NewLibraryService(libraryRepo, logger)
	capacity := service.NewCapacityService(service.CapacityConfig{
		MaxBytes:        cfg.Cache.MaxBytes,
		HeadroomPercent: cfg.Cache.HeadroomPercent,
		CacheDir:        cfg.Cache.Dir,
		Logger:          logger,
	}, libraries, store)

	bus := notify.NewBus()
	relay := notify.NewRelay(libraries, bus)

	backgroundEngine := transfer.NewEngine(transfer.Config{
		AllowedOrigin: cfg.Server.PublicURL,
		Logger:        logger,
	}, store, capacity)
	foregroundEngine := transfer.NewEngine(transfer.Config{
		Logger: logger,
	}, store, capacity)

	manager := worker.NewManager(worker.Config{
		StaleTTL: cfg.Download.StaleTTL,
		Logger:   logger,
	}, backgroundEngine, relay, libraries, store)

	if err := manager.Start(ctx); err != nil {
		logger.Fatalf("start worker: %v", err)
	}
	if err := manager.Reconcile(ctx); err != nil {
		logger.Warnf("reconcile orphaned downloads: %v", err)
	}

	dispatch := service.NewDispatchService(libraries, capacity, store, manager, foregroundEngine, relay, logger)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	handler := apphttp.NewHandler(dispatch, libraries, store, bus, cfg.Auth.JWTSecret, logger)
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	go func() {
		logger.Infof("listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}
	manager.Shutdown()

	logger.Info("bye")
}

func buildCache(ctx context.Context, cfg config.Config, logger *logrus.Logger) (cache.Store, error) {
	switch cfg.Cache.Backend {
	case "", "local":
		store, err := cache.NewDiskStore(cfg.Cache.Dir)
		if err != nil {
			return nil, err
		}
		logger.Infof("using local cache at %s", cfg.Cache.Dir)
		return store, nil
	case "s3":
		if cfg.Storage.Bucket == "" {
			return nil, fmt.Errorf("storage bucket is required")
		}

		loadOpts := []func(*awscfg.LoadOptions) error{
			awscfg.WithRegion(cfg.Storage.Region),
		}
		if cfg.AWS.Profile != "" {
			loadOpts = append(loadOpts, awscfg.WithSharedConfigProfile(cfg.AWS.Profile))
		}

		awsCfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}

		client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if cfg.Storage.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Storage.Endpoint)
				o.UsePathStyle = true
			}
		})
		logger.Infof("using s3 cache bucket %s (region %s)", cfg.Storage.Bucket, cfg.Storage.Region)
		return cache.NewS3Store(client, cfg.Storage.Bucket, cfg.Storage.KeyPrefix), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
}
