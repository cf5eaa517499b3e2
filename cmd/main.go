package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
	"go.uber.org/zap/zapcore"

	reviewcache "github.com/dgduncan/go-review-cache"
	dynamostore "github.com/dgduncan/go-review-cache/caches/dynamodb"
	"github.com/dgduncan/go-review-cache/caches/local"
	pgstore "github.com/dgduncan/go-review-cache/caches/postgres"
	redisstore "github.com/dgduncan/go-review-cache/caches/redis"
	"github.com/dgduncan/go-review-cache/internal/config"
	"github.com/dgduncan/go-review-cache/metrics/prometheus"
	"github.com/dgduncan/go-review-cache/remote/gotrue"
	"github.com/dgduncan/go-review-cache/remote/objstore"
	"github.com/dgduncan/go-review-cache/remote/pgdb"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	zl, err := newZap(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer zl.Sync() //nolint:errcheck

	logger := slog.New(zapslog.NewHandler(zl.Core(), zapslog.WithCaller(true)))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("exiting", "error", err)
		os.Exit(1)
	}
}

func newZap(cfg *config.Config) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if cfg.AppEnv == "development" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.InfoContext(ctx, "starting", "config", cfg.String())

	cacheCfg, err := cfg.CacheConfig()
	if err != nil {
		return err
	}

	tables, pool, err := pgdb.Connect(ctx, cfg.DatabaseURL, logger.With("component", "tables"))
	if err != nil {
		return fmt.Errorf("tables: %w", err)
	}
	defer pool.Close()

	storage, err := objstore.New(objstore.Config{
		Endpoint:      cfg.S3Endpoint,
		Region:        cfg.S3Region,
		AccessKey:     cfg.S3AccessKey,
		SecretKey:     cfg.S3SecretKey,
		UseSSL:        cfg.S3UseSSL,
		PathStyle:     cfg.S3PathStyle,
		PublicBaseURL: cfg.S3PublicURL,
	})
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}

	auth, err := gotrue.New(gotrue.Config{
		URL:    cfg.AuthURL,
		APIKey: cfg.AuthAPIKey,
		Logger: logger.With("component", "auth"),
	})
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	store, closeStore, err := openStore(ctx, cfg, logger.With("component", "store"))
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer closeStore()

	metrics := prometheus.New("")
	svc, err := reviewcache.NewServices(ctx,
		reviewcache.Backend{Tables: tables, Storage: storage, Auth: auth},
		store,
		reviewcache.NewHTTPProber(nil, 0, logger),
		&cacheCfg,
		nil,
		logger,
		metrics,
	)
	if err != nil {
		return err
	}

	router := mux.NewRouter()
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)

	srv := &http.Server{
		Addr:              cfg.AdminAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.InfoContext(ctx, "admin listening", "addr", cfg.AdminAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		case err := <-errCh:
			return err
		case <-ticker.C:
			svc.SweepExpired(ctx)
		}
	}
}

// openStore builds the persistent mirror selected by STORE_BACKEND.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (reviewcache.Store, func(), error) {
	noop := func() {}

	switch cfg.StoreBackend {
	case config.StoreRedis:
		rdb := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		s, err := redisstore.New(ctx, rdb, &redisstore.Config{Logger: logger})
		if err != nil {
			_ = rdb.Close()
			return nil, noop, err
		}
		return s, func() { _ = rdb.Close() }, nil

	case config.StorePostgres:
		db, err := sql.Open("postgres", cfg.StoreDSN)
		if err != nil {
			return nil, noop, err
		}
		s, err := pgstore.New(ctx, db, &pgstore.Config{DeleteExpiredItems: true, Logger: logger})
		if err != nil {
			_ = db.Close()
			return nil, noop, err
		}
		return s, func() { _ = db.Close() }, nil

	case config.StoreDynamoDB:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, noop, err
		}
		client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
			if cfg.DynamoEndpoint != "" {
				o.BaseEndpoint = aws.String(cfg.DynamoEndpoint)
			}
		})
		if cfg.DynamoEndpoint != "" {
			if err := dynamostore.CreateTable(ctx, client, cfg.DynamoTable); err != nil {
				logger.WarnContext(ctx, "create table", "table", cfg.DynamoTable, "error", err)
			}
		}
		s, err := dynamostore.New(ctx, client, &dynamostore.Config{DeleteExpiredItems: true, Table: cfg.DynamoTable})
		if err != nil {
			return nil, noop, err
		}
		return s, noop, nil

	default:
		return local.NewBasicStore(), noop, nil
	}
}
