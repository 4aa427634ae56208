package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/leaf-check/internal/apiclient"
	"github.com/example/leaf-check/internal/auth"
	"github.com/example/leaf-check/internal/camera"
	"github.com/example/leaf-check/internal/capture"
	"github.com/example/leaf-check/internal/config"
	"github.com/example/leaf-check/internal/handlers"
	"github.com/example/leaf-check/internal/imagesource"
	"github.com/example/leaf-check/internal/logging"
	"github.com/example/leaf-check/internal/repository"
	"github.com/example/leaf-check/internal/submission"
	"github.com/example/leaf-check/internal/workflow"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	db := initDatabase(ctx, cfg, logger)

	redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
	defer redisCancel()
	cache := initCache(redisCtx, cfg, logger)

	app, err := newApplication(ctx, cfg, db, cache, logger)
	if err != nil {
		logger.Fatal("failed to build application", zap.Error(err))
	}
	defer app.Close()

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: app.router,
	}

	logger.Info("leaf-check agent listening",
		zap.String("addr", cfg.ListenAddr),
		zap.String("api_base_url", cfg.APIBaseURL),
		zap.String("camera_backend", cfg.CameraBackend),
	)
	if err := serveHTTPServer(server, cfg.ShutdownTimeout, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

// application is the wired agent: the workflow, its collaborators and the
// HTTP router in front of them.
type application struct {
	router   *gin.Engine
	workflow *workflow.Workflow
}

func newApplication(ctx context.Context, cfg *config.Config, db *gorm.DB, cache submission.Cache, logger *zap.Logger) (*application, error) {
	repo := repository.NewSubmissionRepository(db, logger)
	if err := repo.AutoMigrate(ctx); err != nil {
		return nil, err
	}

	backendCfg := camera.DefaultBackendConfig()
	backendCfg.UserDevice = cfg.CameraUserDevice
	backendCfg.EnvironmentDevice = cfg.CameraEnvironmentDevice
	backendCfg.ProbeLimit = cfg.CameraProbeLimit
	backend, err := camera.NewBackend(cfg.CameraBackend, backendCfg, logger)
	if err != nil {
		return nil, err
	}

	client := apiclient.New(cfg.APIBaseURL, logger, apiclient.WithTimeout(cfg.APITimeout))
	tokens := auth.NewTokenStore()
	submissions := submission.NewController(client, repo, cache, logger)

	wf := workflow.New(workflow.Deps{
		Cameras:   camera.NewController(backend, logger),
		Encoder:   capture.NewEncoder(logger),
		Resolver:  imagesource.NewResolver(logger),
		Submitter: submissions,
		Tokens:    tokens,
	}, logger)

	r := gin.Default()
	r.MaxMultipartMemory = cfg.MaxUploadBytes

	handlers.RegisterRoutes(r, handlers.Dependencies{
		Workflow:       wf,
		Submissions:    submissions,
		API:            client,
		Tokens:         tokens,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Logger:         logger,
	})

	return &application{router: r, workflow: wf}, nil
}

// Close releases the camera and waits for a submission in flight.
func (a *application) Close() {
	a.workflow.Close()
}

func initDatabase(ctx context.Context, cfg *config.Config, zapLogger *zap.Logger) *gorm.DB {
	var dialector gorm.Dialector
	switch cfg.DatabaseDriver {
	case config.DatabaseDriverPostgres:
		dialector = postgres.Open(cfg.DatabaseDSN)
	default:
		dialector = sqlite.Open(cfg.DatabaseDSN)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.String("driver", cfg.DatabaseDriver), zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		zapLogger.Fatal("failed to access db handle", zap.Error(err))
	}
	if cfg.DatabaseDriver == config.DatabaseDriverSQLite {
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		zapLogger.Fatal("database ping failed", zap.Error(err))
	}

	return db
}

// initCache connects to Redis. The outcome cache is optional: without an
// address, or when Redis is unreachable, submissions run uncached.
func initCache(ctx context.Context, cfg *config.Config, zapLogger *zap.Logger) submission.Cache {
	if cfg.RedisAddr == "" {
		return submission.NopCache{}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Warn("redis unavailable, outcome cache disabled", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		_ = client.Close()
		return submission.NopCache{}
	}
	return submission.NewRedisCache(client, cfg.RedisKeyPrefix)
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
