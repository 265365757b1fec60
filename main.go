// Package main provides the main entry point for the counterseq service
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/amirphl/counterseq/app/handlers"
	"github.com/amirphl/counterseq/app/router"
	businessflow "github.com/amirphl/counterseq/business_flow"
	"github.com/amirphl/counterseq/config"
	"github.com/amirphl/counterseq/models"
	"github.com/amirphl/counterseq/repository"
	"github.com/amirphl/counterseq/utils"
	"github.com/redis/go-redis/v9"
	"gopkg.in/natefinch/lumberjack.v2"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Application represents the main application structure
type Application struct {
	router    router.Router
	config    *config.ProductionConfig
	stopFuncs []func()
}

func main() {
	log.Println("Starting counterseq...")

	cfg, err := config.LoadProductionConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	closeLog := initializeLogging(cfg.Logging)
	defer closeLog()

	log.Printf("Version %s (commit %s, built %s, env %s)",
		cfg.Deployment.Version, cfg.Deployment.CommitHash, cfg.Deployment.BuildTime, cfg.Deployment.Environment)

	app, err := initializeApplication(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	app.router.SetupRoutes()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := app.router.Start(cfg.Server.Address()); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-sigChan
	log.Println("Shutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := app.router.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}

	for _, fn := range app.stopFuncs {
		fn()
	}

	log.Println("Server stopped")
}

// initializeLogging routes the standard logger to stdout, a rotating file, or both
func initializeLogging(cfg config.LoggingConfig) func() {
	log.SetFlags(log.LstdFlags | log.LUTC | log.Lmicroseconds)
	if cfg.Output == "stdout" {
		return func() {}
	}

	rotator := &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
		LocalTime:  false,
	}

	var out io.Writer = rotator
	if cfg.Output == "both" {
		out = io.MultiWriter(os.Stdout, rotator)
	}
	log.SetOutput(out)
	log.Printf("Logging to %s (max %dMB, %d backups)", cfg.FilePath, cfg.MaxSize, cfg.MaxBackups)

	return func() {
		_ = rotator.Close()
	}
}

// initializeDatabase initializes the database connection with connection pooling
func initializeDatabase(cfg config.DatabaseConfig, logLevel string) (*gorm.DB, error) {
	level := logger.Warn
	if logLevel == "debug" {
		level = logger.Info
	}
	slow := time.Duration(0)
	if cfg.SlowQueryLog {
		slow = cfg.SlowQueryTime
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		TranslateError: true,
		NowFunc:        utils.UTCNow,
		Logger: logger.New(log.Default(), logger.Config{
			SlowThreshold:             slow,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Printf("Database connection established with %d max open connections, %d max idle connections",
		cfg.MaxOpenConns, cfg.MaxIdleConns)

	return db, nil
}

// initializeCache initializes the Redis client and verifies connectivity
func initializeCache(cfg config.CacheConfig) (*redis.Client, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opt.DB = cfg.RedisDB
	if cfg.Password != "" {
		opt.Password = cfg.Password
	}
	if cfg.DialTimeout > 0 {
		opt.DialTimeout = cfg.DialTimeout
	}
	if cfg.PoolSize > 0 {
		opt.PoolSize = cfg.PoolSize
	}

	rc := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Printf("Redis connection established to %s (db=%d)", opt.Addr, cfg.RedisDB)
	return rc, nil
}

// startCacheHealthMonitor periodically pings Redis; the returned func stops it
func startCacheHealthMonitor(parent context.Context, client *redis.Client, interval time.Duration) func() {
	monitorCtx, cancel := context.WithCancel(parent)
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-monitorCtx.Done():
				return
			case <-ticker.C:
				ctx, c := context.WithTimeout(context.Background(), 3*time.Second)
				if err := client.Ping(ctx).Err(); err != nil {
					log.Printf("Redis healthcheck failed: %v", err)
				}
				c()
			}
		}
	}()
	return cancel
}

// counterOptions maps the env configuration onto binding options
func counterOptions(cfg config.CounterConfig) businessflow.CounterOptions {
	return businessflow.CounterOptions{
		ID:              cfg.ID,
		IncField:        utils.ToPtr(cfg.IncField),
		ReferenceFields: models.FieldList(cfg.ReferenceFields),
		CollectionName:  cfg.Collection,
	}
}

// initializeApplication initializes the main application components
func initializeApplication(cfg *config.ProductionConfig) (*Application, error) {
	var stopFuncs []func()

	counterCfg, err := businessflow.Configure(counterOptions(cfg.Counter))
	if err != nil {
		return nil, fmt.Errorf("invalid counter configuration: %w", err)
	}

	// Documents always live in the relational host
	db, err := initializeDatabase(cfg.Database, cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	stopFuncs = append(stopFuncs, func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(&models.Document{}); err != nil {
		return nil, fmt.Errorf("failed to migrate documents: %w", err)
	}

	var (
		store  repository.CounterRepository
		health router.HealthChecker
	)
	switch cfg.Counter.Backend {
	case config.CounterBackendRedis:
		rc, err := initializeCache(cfg.Cache)
		if err != nil {
			return nil, err
		}
		stopFuncs = append(stopFuncs, startCacheHealthMonitor(context.Background(), rc, 30*time.Second))
		stopFuncs = append(stopFuncs, func() { _ = rc.Close() })
		store = repository.NewRedisCounterRepository(rc, cfg.Counter.RedisPrefix, counterCfg.Collection())
		health = func(ctx context.Context) error { return rc.Ping(ctx).Err() }
	default:
		store = repository.NewCounterRepository(db, counterCfg.Collection())
		health = sqlDB.PingContext
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to prepare counter store: %w", err)
	}

	binding, err := businessflow.NewCounterBinding(counterCfg, store)
	if err != nil {
		return nil, err
	}

	documentSchema := models.NewDocumentSchema(cfg.Counter.DocumentCollection, nil)
	if err := binding.EnsureField(documentSchema); err != nil {
		return nil, fmt.Errorf("failed to bind counter to %s: %w", cfg.Counter.DocumentCollection, err)
	}

	documentRepo := repository.NewDocumentRepository(db)
	documentRepo.Use(binding.Hook(cfg.Counter.DocumentCollection))

	log.Printf("Counter %s bound to %s.%s (reference fields=%v, store=%s/%s)",
		counterCfg.ScopeID(), cfg.Counter.DocumentCollection, counterCfg.IncField(),
		counterCfg.ReferenceFields(), cfg.Counter.Backend, store.Collection())

	counterHandler := handlers.NewCounterHandler(businessflow.NewCounterAdminFlow(store))
	documentHandler := handlers.NewDocumentHandler(businessflow.NewDocumentFlow(documentRepo))

	apiKeys := []string(nil)
	if cfg.Security.RequireAPIKey {
		apiKeys = cfg.Security.AllowedAPIKeys
	}

	r := router.NewFiberRouter(counterHandler, documentHandler, router.Options{
		AllowedOrigins: cfg.Security.AllowedOrigins,
		APIKeys:        apiKeys,
		RateLimit:      cfg.Security.GlobalRateLimit,
		MetricsEnabled: cfg.Metrics.Enabled,
		MetricsPath:    cfg.Metrics.Path,
		StoreName:      cfg.Counter.Backend,
		Health:         health,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		Version:        cfg.Deployment.Version,
	})

	return &Application{
		router:    r,
		config:    cfg,
		stopFuncs: stopFuncs,
	}, nil
}
