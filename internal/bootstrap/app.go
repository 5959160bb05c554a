package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"collab-presence/internal/fanout"
	httpHandler "collab-presence/internal/handler/http"
	wsHandler "collab-presence/internal/handler/websocket"
	"collab-presence/internal/hub"
	gormpersistence "collab-presence/internal/infra/persistence/gorm"
	"collab-presence/internal/infra/setup"
	"collab-presence/internal/metrics"
	memorystate "collab-presence/internal/infra/state/memory"
	redisstate "collab-presence/internal/infra/state/redis"
	"collab-presence/internal/middleware"
	"collab-presence/internal/repository"
	"collab-presence/internal/service"
	"collab-presence/internal/tasks"
	"collab-presence/internal/timer"
	"collab-presence/internal/worker"
)

// App 结构体包含应用的所有组件和配置
type App struct {
	Config      *Config
	Log         *logrus.Logger
	DB          *gorm.DB // 未配置数据库时为 nil
	RedisClient *redis.Client
	AsynqClient *asynq.Client
	AsynqServer *worker.WorkerServer
	Hub         *hub.Hub
	Bridge      fanout.Bridge
	Timers      *timer.Manager
	Sweeper     *service.SweepService
	Registry    *prometheus.Registry
	HttpServer  *http.Server

	redisClientOpt asynq.RedisClientOpt
	scheduler      *asynq.Scheduler
	stopSweep      context.CancelFunc
}

// NewApp 创建并初始化应用的所有组件
func NewApp() (*App, error) {
	// 1. 加载配置
	cfg, err := LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, err
	}

	// 2. 初始化 Logger
	log := newLogger(cfg)
	log.WithFields(logrus.Fields{
		"profile":          cfg.Profile,
		"grace_period":     cfg.GracePeriod.String(),
		"inactivity":       cfg.InactivityThreshold.String(),
		"sweep_interval":   cfg.SweepInterval.String(),
		"sweep_driver":     cfg.SweepDriver,
		"presence_backend": cfg.PresenceBackend,
	}).Info("Configuration loaded successfully")

	// 3. 初始化基础设施
	redisClient, err := setup.InitRedis(context.Background(), cfg.Redis())
	if err != nil {
		return nil, fmt.Errorf("failed to init Redis: %w", err)
	}

	var db *gorm.DB
	var historyRepo repository.HistoryRepository
	if cfg.DBEnabled() {
		if db, err = setup.InitDB(cfg.DB()); err != nil {
			return nil, fmt.Errorf("failed to init DB: %w", err)
		}
		if err = setup.MigrateDB(db); err != nil {
			return nil, fmt.Errorf("failed to migrate DB: %w", err)
		}
		historyRepo = gormpersistence.NewGormHistoryRepository(db)
	} else {
		log.Warn("DB_USER not set, session history will only be logged")
	}

	redisClientOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	asynqClient := asynq.NewClient(redisClientOpt)
	log.Info("Infrastructure initialized successfully")

	// 4. 在线状态、文档与事件分发
	var (
		store  repository.PresenceStore
		docs   repository.DocumentStore
		bridge fanout.Bridge
	)
	switch cfg.PresenceBackend {
	case BackendMemory:
		store = memorystate.NewPresenceStore()
		docs = memorystate.NewDocumentStore()
		bridge = fanout.NewLocalBridge()
	default:
		store = redisstate.NewRedisPresenceStore(redisClient, cfg.KeyPrefix)
		docs = redisstate.NewRedisDocumentStore(redisClient, cfg.KeyPrefix, cfg.DocumentTTL)
		bridge = fanout.NewRedisBridge(redisClient, cfg.KeyPrefix)
	}

	var persister service.SessionPersister = service.NewLogPersister(log)
	if historyRepo != nil {
		persister = worker.NewTaskPersister(asynqClient)
	}

	// 5. 初始化 Services
	timers := timer.NewManager()
	lifecycle := service.NewLifecycleService(store, docs, timers, bridge, persister, service.LifecycleConfig{
		GracePeriod:         cfg.GracePeriod,
		InactivityThreshold: cfg.InactivityThreshold,
	})
	roomService := service.NewRoomService(store)
	sweeper := service.NewSweepService(lifecycle)

	// 6. 初始化 Hub 并挂到桥接层
	hubInstance := hub.NewHub(lifecycle, bridge, docs)
	bridge.Attach(hubInstance)

	// 7. 指标
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)
	lifecycle.SetMetrics(m)
	m.Gauge("hub_clients", "Sockets connected to this process", func() float64 {
		return float64(hubInstance.ClientCount())
	})
	if rb, ok := bridge.(*fanout.RedisBridge); ok {
		m.Gauge("fanout_degraded", "1 while the Redis fan-out bridge delivers locally only", func() float64 {
			if rb.Degraded() {
				return 1
			}
			return 0
		})
	}

	// 8. 初始化 Worker Server
	var sweepHandler worker.Sweeper
	if cfg.SweepDriver == SweepDriverAsynq {
		sweepHandler = sweeper
	}
	workerServer := worker.NewWorkerServer(redisClientOpt, historyRepo, sweepHandler, log)

	// 9. 初始化 Gin Engine 和路由
	router := newRouter(cfg, log, redisClient, hubInstance, roomService, historyRepo, registry)
	httpServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	app := &App{
		Config:         cfg,
		Log:            log,
		DB:             db,
		RedisClient:    redisClient,
		AsynqClient:    asynqClient,
		AsynqServer:    workerServer,
		Hub:            hubInstance,
		Bridge:         bridge,
		Timers:         timers,
		Sweeper:        sweeper,
		Registry:       registry,
		HttpServer:     httpServer,
		redisClientOpt: redisClientOpt,
	}
	log.Info("Application assembled successfully")
	return app, nil
}

func newLogger(cfg *Config) *logrus.Logger {
	log := logrus.New()
	if cfg.AppEnv == "production" {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, ForceColors: true})
	}
	logLevel, _ := logrus.ParseLevel(cfg.LogLevel) // cfg.LogLevel 已被 LoadConfig 验证
	log.SetLevel(logLevel)
	log.SetOutput(os.Stdout)

	// 各包通过 logrus 包级函数记录日志，保持与 App logger 一致
	logrus.SetFormatter(log.Formatter)
	logrus.SetLevel(logLevel)
	logrus.SetOutput(os.Stdout)
	return log
}

func newRouter(
	cfg *Config,
	log *logrus.Logger,
	redisClient *redis.Client,
	hubInstance *hub.Hub,
	roomService *service.RoomService,
	historyRepo repository.HistoryRepository,
	gatherer prometheus.Gatherer,
) *gin.Engine {
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(log))
	router.Use(CORSMiddleware(cfg.CORSAllowedOrigin))
	router.Use(middleware.RateLimit(redisClient, cfg.KeyPrefix, cfg.RateLimitMax, cfg.RateLimitWindow))

	roomHandler := httpHandler.NewRoomHandler(roomService)
	ws := wsHandler.NewWebSocketHandler(hubInstance, cfg.CORSAllowedOrigin)

	api := router.Group("/api")
	{
		api.GET("/rooms/:roomId/members", roomHandler.GetMembers)
		if historyRepo != nil {
			api.GET("/members/:memberId/sessions", httpHandler.NewHistoryHandler(historyRepo).ListSessions)
		}
	}
	router.GET("/ws/rooms/:roomId", ws.HandleConnection)
	router.GET("/ping", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"message": "pong"}) })
	if gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
	return router
}

// Start 启动应用的所有后台 Goroutine 和 HTTP 服务器
func (a *App) Start() {
	a.Log.Info("Starting application background routines...")
	go a.Hub.Run()

	go a.AsynqServer.Start()

	if a.Config.SweepDriver == SweepDriverAsynq {
		a.registerPeriodicTasks()
	} else {
		ctx, cancel := context.WithCancel(context.Background())
		a.stopSweep = cancel
		go a.Sweeper.Run(ctx, a.Config.SweepInterval)
	}

	go func() {
		a.Log.Infof("HTTP server starting to listen on %s", a.HttpServer.Addr)
		if err := a.HttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Log.Fatalf("Failed to start HTTP server: %v", err)
		}
		a.Log.Info("HTTP server stopped listening.")
	}()
}

// registerPeriodicTasks 注册不活跃清理任务。asynq.Unique 保证同一周期内整个集群只执行一次。
func (a *App) registerPeriodicTasks() {
	scheduler := asynq.NewScheduler(a.redisClientOpt, &asynq.SchedulerOpts{
		Location: time.UTC,
		Logger:   a.Log.WithField("component", "asynq_scheduler"),
		LogLevel: asynq.WarnLevel,
	})

	schedule := fmt.Sprintf("@every %s", a.Config.SweepInterval)
	entryID, err := scheduler.Register(schedule, tasks.NewInactivitySweepTask(),
		asynq.Queue("critical"),
		asynq.Unique(a.Config.SweepInterval),
		asynq.MaxRetry(0),
		asynq.Timeout(a.Config.SweepInterval),
	)
	if err != nil {
		a.Log.Errorf("Could not register inactivity sweep task: %v", err)
		return
	}
	a.Log.Infof("Inactivity sweep task registered with schedule '%s' (EntryID: %s)", schedule, entryID)
	a.scheduler = scheduler

	go func() {
		a.Log.Info("Asynq scheduler starting...")
		if err := scheduler.Run(); err != nil && !errors.Is(err, asynq.ErrServerClosed) {
			a.Log.Errorf("Asynq scheduler Run() failed: %v", err)
		} else {
			a.Log.Info("Asynq scheduler stopped.")
		}
	}()
}

// Shutdown 优雅地关闭应用
func (a *App) Shutdown() {
	a.Log.Info("Shutting down application...")

	// 1. 停止接收新连接
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.HttpServer.Shutdown(ctx); err != nil {
		a.Log.Errorf("Error shutting down HTTP server: %v", err)
	}

	// 2. 停止清理驱动
	if a.scheduler != nil {
		a.scheduler.Shutdown()
	}
	if a.stopSweep != nil {
		a.stopSweep()
	}

	// 3. 优雅关闭 Worker Server
	if a.AsynqServer != nil {
		a.AsynqServer.Shutdown()
	}

	// 4. 关闭本地连接、宽限期计时器和频道订阅。
	// 未到期的成员留在存储里，由其他进程的清理任务处理。
	if a.Hub != nil {
		a.Hub.Stop()
	}
	if a.Timers != nil {
		a.Timers.Stop()
	}
	if a.Bridge != nil {
		if err := a.Bridge.Close(); err != nil {
			a.Log.Errorf("Error closing fan-out bridge: %v", err)
		}
	}

	// 5. 关闭 Asynq Client
	if a.AsynqClient != nil {
		if err := a.AsynqClient.Close(); err != nil {
			a.Log.Errorf("Error closing Asynq client: %v", err)
		}
	}

	// 6. 关闭 Redis 连接
	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Log.Errorf("Error closing Redis connection: %v", err)
		}
	}

	// 7. 关闭数据库连接
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}

	a.Log.Info("Application shutdown complete.")
}

// CORSMiddleware 设置跨域响应头
func CORSMiddleware(allowedOrigin string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Requested-With")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// LoggerMiddleware 创建一个 Gin 中间件用于记录请求日志
func LoggerMiddleware(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		c.Next()
		latency := time.Since(startTime)
		statusCode := c.Writer.Status()
		path := c.Request.URL.Path
		if c.Request.URL.RawQuery != "" {
			path = path + "?" + c.Request.URL.RawQuery
		}
		errorMessage := c.Errors.ByType(gin.ErrorTypePrivate).String()

		entry := log.WithFields(logrus.Fields{
			"status_code": statusCode,
			"latency_ms":  latency.Milliseconds(),
			"client_ip":   c.ClientIP(),
			"method":      c.Request.Method,
			"path":        path,
		})

		if errorMessage != "" {
			entry.Error(errorMessage)
		} else if statusCode >= 500 {
			entry.Error("Server error")
		} else if statusCode >= 400 {
			entry.Warn("Client error")
		} else {
			entry.Info("Request handled")
		}
	}
}
