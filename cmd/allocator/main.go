package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"allocator/internal/broker/ibkr"
	"allocator/internal/cache"
	"allocator/internal/config"
	cronrunner "allocator/internal/cron"
	"allocator/internal/db"
	"allocator/internal/handler"
	"allocator/internal/logger"
	"allocator/internal/metrics"
	"allocator/internal/paas"
	"allocator/internal/repository"
	gormrepository "allocator/internal/repository/gorm"
	"allocator/internal/repository/memory"
	"allocator/internal/service"
	"allocator/internal/strategy"
)

func main() {
	cfgPath := os.Getenv("ALLOC_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("ALLOC_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log,
		zap.String("revision", cfg.App.Revision),
		zap.String("trading_mode", cfg.App.TradingMode),
	)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	var (
		ledger repository.Ledger
		dbConn *db.DB
	)
	if strings.TrimSpace(cfg.DB.DSN) == "" {
		logger.Warn("db.dsn is empty, using the in-memory ledger (state is lost on exit)")
		ledger = memory.NewLedger()
	} else {
		dbConn, err = db.Open(cfg.DB)
		if err != nil {
			logger.Fatal("db open failed", zap.Error(err))
		}
		defer db.Close(dbConn)

		if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
			logger.Warn("failed to set timezone", zap.Error(err))
		}
		if err := db.AutoMigrate(dbConn); err != nil {
			logger.Fatal("auto-migrate failed", zap.Error(err))
		}
		ledger = gormrepository.New(dbConn.Gorm)
	}

	var contractCache cache.Store = cache.NewMemoryStore()
	if cfg.Cache.RedisAddr != "" {
		rs := cache.NewRedisStore(&redis.Options{Addr: cfg.Cache.RedisAddr, DB: cfg.Cache.RedisDB}, "allocator:")
		defer rs.Close()
		contractCache = rs
	}

	brokerHTTP := ibkr.NewHTTPClient(cfg.Broker.Timeout, cfg.Broker.InsecureSkipVerify)
	gateway := ibkr.NewClient(brokerHTTP, cfg.Broker.BaseURL, cfg.Broker.Account)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	strategyHTTP := &http.Client{Timeout: 30 * time.Second}
	paasClient := initPaaSClient(cfg.PaaS, logger)

	env := &service.Env{
		Config:     cfg,
		Ledger:     ledger,
		Gateway:    gateway,
		Strategies: strategy.DefaultRegistry(cfg.Strategies, strategyHTTP, logger),
		Cache:      contractCache,
		Metrics:    m,
		Logger:     logger,
	}
	if paasClient != nil {
		env.Audit = &paas.ActivitySink{Client: paasClient}
	}
	dispatcher := service.NewDispatcher(env)

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())
	engine.Use(paas.RequireBearerMiddleware())
	engine.Use(paas.WriteAuditMiddleware(paasClient, logger))

	healthHandler := &handler.HealthHandler{Metrics: m}
	if dbConn != nil {
		healthHandler.DB = dbConn.Gorm
	}
	healthHandler.Register(engine)
	paas.RegisterDocs(engine)
	intentHandler := &handler.IntentHandler{Dispatcher: dispatcher, Logger: logger}
	intentHandler.Register(engine)
	runtimeConfigHandler := &handler.RuntimeConfigHandler{Ledger: ledger}
	runtimeConfigHandler.Register(engine)

	srv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Cron.Enabled {
		cronRunner := cronrunner.New(logger, ctx)
		cronRunner.Timeout = cfg.Cron.Timeout
		allocationParams, _ := json.Marshal(map[string]any{"strategies": cfg.Cron.AllocationStrategies})
		if _, err := cronRunner.AddIntent(cfg.Cron.Allocation, "allocation", allocationParams, dispatcher); err != nil {
			logger.Warn("cron register allocation failed", zap.Error(err))
		}
		if _, err := cronRunner.AddIntent(cfg.Cron.Reconciliation, "reconciliation", nil, dispatcher); err != nil {
			logger.Warn("cron register reconciliation failed", zap.Error(err))
		}
		cronRunner.Start()
		defer cronRunner.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func initPaaSClient(cfg config.PaaSConfig, logger *zap.Logger) *paas.Client {
	p := paas.NewClient(cfg, nil)
	if p == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := p.Login(ctx); err != nil {
		logger.Warn("paas login failed (audit forwarding disabled)", zap.Error(err))
		return nil
	}
	logger.Info("paas login ok")
	return p
}
