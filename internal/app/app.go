package app

import (
	"context"
	"counselor_training_backend/internal/config"
	"counselor_training_backend/internal/controller"
	"counselor_training_backend/internal/repository"
	"counselor_training_backend/internal/service"
	"counselor_training_backend/internal/util"
	"counselor_training_backend/pkg/configwatcher"
	"counselor_training_backend/pkg/database"
	"counselor_training_backend/pkg/events"
	"counselor_training_backend/pkg/logger"
	"counselor_training_backend/pkg/monitoring"
	"counselor_training_backend/pkg/security"
	"counselor_training_backend/pkg/tracing"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const configDir = "configs"

type App struct {
	Config          *config.Config
	Router          *gin.Engine
	DB              *gorm.DB
	Redis           *redis.Client
	services        *services
	publisher       events.Publisher
	tracer          *sdktrace.TracerProvider
	limiter         *security.RateLimiter
	stop            chan struct{}
	configCallbacks []func(*config.Config)
}

type repositories struct {
	scenario   *repository.ScenarioRepository
	assignment *repository.AssignmentRepository
	session    *repository.SessionRepository
	transcript *repository.TranscriptRepository
	evaluation *repository.EvaluationRepository
}

type services struct {
	assignment *service.AssignmentService
	session    *service.SessionService
	evaluation *service.EvaluationService
}

type controllers struct {
	assignment *controller.AssignmentController
	session    *controller.SessionController
	health     *controller.HealthController
}

func (a *App) RegisterConfigCallback(callback func(*config.Config)) {
	a.configCallbacks = append(a.configCallbacks, callback)
}

func (a *App) initRepositories(db *gorm.DB, rdb *redis.Client) *repositories {
	return &repositories{
		scenario:   repository.NewScenarioRepository(db, rdb),
		assignment: repository.NewAssignmentRepository(db),
		session:    repository.NewSessionRepository(db),
		transcript: repository.NewTranscriptRepository(db),
		evaluation: repository.NewEvaluationRepository(db),
	}
}

// newLanguageModel picks the provider client for caller replies and scoring.
func newLanguageModel(cfg *config.Config) (service.LanguageModel, error) {
	switch cfg.AI.Provider {
	case util.ProviderGemini:
		return service.NewGeminiService(context.Background(), cfg.AI)
	case util.ProviderOpenAI, "":
		return service.NewAIService(cfg.AI), nil
	default:
		return nil, fmt.Errorf("unsupported AI provider %q", cfg.AI.Provider)
	}
}

func newPublisher(cfg *config.Config, rdb *redis.Client) (events.Publisher, error) {
	switch cfg.Events.Driver {
	case util.EventsRedis:
		return events.NewRedisStreamPublisher(rdb, cfg.Events.Stream), nil
	case util.EventsRabbitMQ:
		return events.NewRabbitMQPublisher(cfg.Events.AMQPURL, cfg.Events.Exchange)
	default:
		return events.NewNoopPublisher(), nil
	}
}

func (a *App) initServices(repos *repositories, cfg *config.Config, db *gorm.DB, lm service.LanguageModel) *services {
	s := &services{}

	s.assignment = service.NewAssignmentService(repos.assignment, repos.scenario, db)
	s.session = service.NewSessionService(
		db,
		repos.session,
		repos.transcript,
		repos.assignment,
		repos.scenario,
		repos.evaluation,
		lm,
		a.publisher,
		cfg.Session,
		cfg.AI,
	)
	s.evaluation = service.NewEvaluationService(
		db,
		repos.session,
		repos.transcript,
		repos.assignment,
		repos.scenario,
		repos.evaluation,
		lm,
		a.publisher,
		cfg.Session,
		cfg.AI,
	)

	// 超时配置支持热更新
	a.RegisterConfigCallback(func(newCfg *config.Config) {
		s.session.SetReplyTimeout(newCfg.AI.ReplyTimeout())
		s.evaluation.SetScoringTimeout(newCfg.AI.ScoringTimeout())
		logger.Log.Info("AI timeouts reloaded",
			zap.Duration("reply", newCfg.AI.ReplyTimeout()),
			zap.Duration("scoring", newCfg.AI.ScoringTimeout()))
	})

	return s
}

func (a *App) initControllers(s *services, db *gorm.DB, rdb *redis.Client) *controllers {
	return &controllers{
		assignment: controller.NewAssignmentController(s.assignment),
		session:    controller.NewSessionController(s.session, s.evaluation),
		health:     controller.NewHealthController(db, rdb),
	}
}

func (a *App) setupMiddlewares(router *gin.Engine, cfg *config.Config) {
	router.Use(security.CORS(cfg.CORS.AllowedOrigins))
	router.Use(security.Secure())

	a.limiter = security.NewRateLimiter(cfg.RateLimit.MaxRequests, time.Duration(cfg.RateLimit.WindowMinutes)*time.Minute)
	router.Use(a.limiter.Middleware())

	// 分布式追踪中间件
	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}

	router.Use(monitoring.MetricsMiddleware())
}

func (a *App) startBackgroundTasks() {
	go a.limiter.RunSweeper(a.stop)

	go func() {
		err := configwatcher.WatchConfig(configDir+"/config.yaml", func(newCfg *config.Config) {
			for _, cb := range a.configCallbacks {
				cb(newCfg)
			}
		}, a.stop)
		if err != nil {
			logger.Log.Warn("config watcher disabled", zap.Error(err))
		}
	}()
}

func NewApp(cfg *config.Config) *App {
	logger.InitLogger(cfg)
	logger.Log.Info("Logger initialized successfully")

	db, err := database.InitDB(cfg)
	if err != nil {
		logger.Log.Fatal("Failed to initialize database", zap.Error(err))
	}

	app := &App{
		Config: cfg,
		DB:     db,
		stop:   make(chan struct{}),
	}
	if cfg.MigrateOnly {
		return app
	}

	rdb, err := database.InitRedis(&cfg.Redis)
	if err != nil {
		logger.Log.Fatal("Failed to initialize redis", zap.Error(err))
	}
	app.Redis = rdb

	app.publisher, err = newPublisher(cfg, rdb)
	if err != nil {
		logger.Log.Fatal("Failed to initialize event publisher", zap.Error(err))
	}

	lm, err := newLanguageModel(cfg)
	if err != nil {
		logger.Log.Fatal("Failed to initialize language model client", zap.Error(err))
	}

	util.RegisterValidators()

	repos := app.initRepositories(db, rdb)
	app.services = app.initServices(repos, cfg, db, lm)
	controllers := app.initControllers(app.services, db, rdb)

	// 监控初始化
	monitoring.Init()

	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracer("counselor-training", cfg.Tracing.CollectorEndpoint)
		if err != nil {
			logger.Log.Fatal("Failed to initialize tracing", zap.Error(err))
		}
		app.tracer = tp
	}

	gin.SetMode(cfg.Server.Mode)
	router := gin.New()
	router.Use(gin.Recovery())
	app.Router = router

	app.setupMiddlewares(router, cfg)
	app.registerRoutes(router, controllers, cfg)
	app.startBackgroundTasks()

	return app
}

func (a *App) Run() {
	srv := &http.Server{
		Addr:    ":" + a.Config.Server.Port,
		Handler: a.Router,
	}

	// 启动服务器
	go func() {
		logger.Log.Info("Server running", zap.String("port", a.Config.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	// 等待中断信号优雅地关闭服务器（设置5秒的超时时间）
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Log.Info("Shutting down server...")
	close(a.stop)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Log.Error("Server forced to shutdown", zap.Error(err))
	}

	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			logger.Log.Warn("Failed to close event publisher", zap.Error(err))
		}
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			logger.Log.Error("Failed to shutdown tracer provider", zap.Error(err))
		}
	}
	if a.Redis != nil {
		a.Redis.Close()
	}

	logger.Log.Info("Server exiting")
}
