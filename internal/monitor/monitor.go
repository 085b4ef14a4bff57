package monitor

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"wisefido-inactivity/internal/config"
	"wisefido-inactivity/internal/consumer"
	"wisefido-inactivity/internal/dispatcher"
	"wisefido-inactivity/internal/evaluator"
	"wisefido-inactivity/internal/httpapi"
	"wisefido-inactivity/internal/mqtt"
	"wisefido-inactivity/internal/notifier"
	"wisefido-inactivity/internal/repository"
	"wisefido-inactivity/internal/scheduler"
	"wisefido-inactivity/internal/service"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// MonitorService 静默检测服务的装配与生命周期管理
// 把事件入库、阈值扫描、报警分发、HTTP API 装配到一起：
// 事件从 MQTT/HTTP 进入 → Redis Stream → IngestService 推进会话，
// SweepScheduler 周期性驱动 Evaluator 生成 check-in 与升级报警
type MonitorService struct {
	config *config.Config
	logger *zap.Logger

	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *mqtt.Client

	streamConsumer *consumer.StreamConsumer
	mqttConsumer   *consumer.MQTTConsumer
	sweepScheduler *scheduler.SweepScheduler
	httpServer     *http.Server

	cancel context.CancelFunc
}

// NewMonitorService 创建并装配服务
func NewMonitorService(cfg *config.Config, logger *zap.Logger) (*MonitorService, error) {
	// 数据库连接
	db, err := sql.Open("postgres", cfg.Database.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdle)

	ctx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Redis 连接
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	// 仓库层
	deviceRepo := repository.NewDeviceRepository(db, logger)
	eventsRepo := repository.NewMotionEventsRepository(db, logger)
	sessionsRepo := repository.NewSessionsRepository(db, logger)
	alertsRepo := repository.NewAlertsRepository(db, logger)
	caregiverRepo := repository.NewCaregiverRepository(db, logger)

	// 缓存与通知
	alertCache := consumer.NewAlertCache(cfg, redisClient, logger)

	var n notifier.Notifier
	if cfg.Notifier.Enabled && cfg.Notifier.WebhookURL != "" {
		n = notifier.NewWebhookNotifier(cfg, logger)
	} else {
		n = notifier.NewNoopNotifier(logger)
	}

	// 分发与评估
	alertDispatcher := dispatcher.NewDispatcher(alertsRepo, caregiverRepo, n, alertCache, logger)
	thresholdEvaluator := evaluator.NewEvaluator(cfg, sessionsRepo, alertDispatcher, logger)

	// 业务服务
	deviceService := service.NewDeviceService(deviceRepo, logger)
	ingestService := service.NewIngestService(deviceRepo, eventsRepo, sessionsRepo, alertsRepo, alertCache, logger)
	responseService := service.NewResponseService(sessionsRepo, alertsRepo, alertCache, logger)
	alertService := service.NewAlertService(alertsRepo, alertCache, logger)

	// 接入通道
	streamConsumer := consumer.NewStreamConsumer(cfg, redisClient, ingestService, logger)

	var mqttClient *mqtt.Client
	var mqttConsumer *consumer.MQTTConsumer
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.NewClient(&cfg.MQTT, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect mqtt broker: %w", err)
		}
		mqttConsumer = consumer.NewMQTTConsumer(cfg, mqttClient, redisClient, logger)
	}

	// 定时扫描
	sweepScheduler := scheduler.NewSweepScheduler(
		thresholdEvaluator,
		cfg.Monitor.SweepSpec,
		time.Duration(cfg.Monitor.SweepTimeout)*time.Second,
		logger,
	)

	// HTTP API
	handler := httpapi.NewHandler(deviceService, ingestService, responseService, alertService, sessionsRepo, logger)
	router := httpapi.NewRouter(handler, logger)
	httpServer := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: router,
	}

	return &MonitorService{
		config:         cfg,
		logger:         logger,
		db:             db,
		redisClient:    redisClient,
		mqttClient:     mqttClient,
		streamConsumer: streamConsumer,
		mqttConsumer:   mqttConsumer,
		sweepScheduler: sweepScheduler,
		httpServer:     httpServer,
	}, nil
}

// Start 启动全部组件
func (s *MonitorService) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	// 事件流消费者
	go func() {
		if err := s.streamConsumer.Start(ctx); err != nil {
			s.logger.Error("Stream consumer exited", zap.Error(err))
		}
	}()

	// MQTT 接入桥（可选）
	if s.mqttConsumer != nil {
		if err := s.mqttConsumer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start mqtt consumer: %w", err)
		}
	}

	// 阈值扫描
	if err := s.sweepScheduler.Start(); err != nil {
		return fmt.Errorf("failed to start sweep scheduler: %w", err)
	}

	// HTTP API
	go func() {
		s.logger.Info("HTTP server listening", zap.String("addr", s.config.HTTP.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server exited", zap.Error(err))
		}
	}()

	s.logger.Info("Inactivity monitor service started")
	return nil
}

// Stop 优雅停止：先停入口，再停扫描，最后关闭连接
func (s *MonitorService) Stop() {
	s.logger.Info("Stopping inactivity monitor service")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("HTTP server shutdown failed", zap.Error(err))
	}

	if s.mqttConsumer != nil {
		s.mqttConsumer.Stop()
	}
	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}

	if s.cancel != nil {
		s.cancel()
	}

	s.sweepScheduler.Stop()

	if err := s.redisClient.Close(); err != nil {
		s.logger.Warn("Failed to close redis client", zap.Error(err))
	}
	if err := s.db.Close(); err != nil {
		s.logger.Warn("Failed to close database", zap.Error(err))
	}

	s.logger.Info("Inactivity monitor service stopped")
}
