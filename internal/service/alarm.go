package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"dryer-alarm/common/database"
	commonmqtt "dryer-alarm/common/mqtt"
	commonredis "dryer-alarm/common/redis"
	"dryer-alarm/internal/cache"
	"dryer-alarm/internal/clock"
	"dryer-alarm/internal/config"
	"dryer-alarm/internal/evaluator"
	"dryer-alarm/internal/metrics"
	"dryer-alarm/internal/models"
	"dryer-alarm/internal/notifier"
	"dryer-alarm/internal/repository"
	"dryer-alarm/internal/scheduler"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// AlarmService 报警服务（整合各层）
type AlarmService struct {
	config      *config.Config
	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *commonmqtt.Client
	logger      *zap.Logger

	Metrics   *metrics.Metrics
	Engine    *AlertEngine
	Lifecycle *LifecycleService
	Queries   *AlertQueryService
	Clock     clock.Clock

	poller     *scheduler.Poller
	dispatcher *notifier.Dispatcher
}

// storeSet 三类仓库
type storeSet struct {
	dryers   repository.DryerRepository
	readings repository.ReadingRepository
	alerts   repository.AlertRepository
}

// NewAlarmService 创建报警服务（PostgreSQL + Redis）
func NewAlarmService(cfg *config.Config, logger *zap.Logger) (*AlarmService, error) {
	// 1. 连接数据库
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	// 2. 连接 Redis
	redisClient := commonredis.NewRedisClient(&cfg.Redis)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := commonredis.Ping(ctx, redisClient); err != nil {
		_ = database.Close(db)
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	// 3. 创建 Repository 层
	stores := storeSet{
		dryers:   repository.NewPostgresDryersRepository(db, logger),
		readings: repository.NewPostgresReadingsRepository(db, logger),
		alerts:   repository.NewPostgresAlertsRepository(db, logger),
	}

	// 4. 锁与缓存
	lock := cache.NewRedisPassLock(redisClient, cfg.Alert.Lock.Key, time.Duration(cfg.Alert.Lock.TTL)*time.Second, logger)
	statusCache := cache.NewCacheManager(cfg, redisClient, logger)

	s := &AlarmService{
		config:      cfg,
		db:          db,
		redisClient: redisClient,
		logger:      logger,
	}
	if err := s.build(stores, lock, statusCache); err != nil {
		_ = s.Stop()
		return nil, err
	}
	return s, nil
}

// NewMemoryAlarmService 创建内存模式报警服务（本地演示，无外部依赖）
func NewMemoryAlarmService(cfg *config.Config, store *repository.MemoryStore, logger *zap.Logger) (*AlarmService, error) {
	s := &AlarmService{
		config: cfg,
		logger: logger,
	}
	stores := storeSet{dryers: store, readings: store, alerts: store}
	if err := s.build(stores, cache.NewLocalPassLock(), nil); err != nil {
		_ = s.Stop()
		return nil, err
	}
	return s, nil
}

func (s *AlarmService) build(stores storeSet, lock cache.PassLocker, statusCache *cache.CacheManager) error {
	s.Metrics = metrics.New()
	s.Clock = clock.Real{}

	// 5. 通知渠道
	multi, err := s.buildNotifiers()
	if err != nil {
		return err
	}
	s.dispatcher = notifier.NewDispatcher(
		multi,
		s.config.Notify.QueueSize,
		time.Duration(s.config.Notify.Timeout)*time.Second,
		s.Metrics,
		s.logger.Named("dispatcher"),
	)

	// 避免 typed nil 进入接口
	var sc StatusCache
	if statusCache != nil {
		sc = statusCache
	}

	// 6. 服务层
	s.Engine = NewAlertEngine(EngineDeps{
		Dryers:    stores.dryers,
		Readings:  stores.readings,
		Alerts:    stores.alerts,
		Evaluator: evaluator.NewEvaluator(s.logger),
		Lock:      lock,
		Cache:     sc,
		Notifier:  s.dispatcher,
		Metrics:   s.Metrics,
		Clock:     s.Clock,
		Logger:    s.logger.Named("engine"),
	})
	s.Lifecycle = NewLifecycleService(LifecycleDeps{
		Alerts:   stores.alerts,
		Dryers:   stores.dryers,
		Cache:    sc,
		Notifier: s.dispatcher,
		Metrics:  s.Metrics,
		Clock:    s.Clock,
		Logger:   s.logger.Named("lifecycle"),
	})
	s.Queries = NewAlertQueryService(stores.alerts, stores.dryers, s.logger.Named("queries"))

	// 7. 内置调度
	s.poller = scheduler.NewPoller(
		time.Duration(s.config.Alert.PollInterval)*time.Second,
		func(ctx context.Context) (int, error) {
			result, err := s.Engine.RunEvaluation(ctx)
			if err != nil {
				return 0, err
			}
			return result.AlertsGenerated, nil
		},
		s.logger.Named("poller"),
	)
	return nil
}

func (s *AlarmService) buildNotifiers() (*notifier.Multi, error) {
	var channels []notifier.Notifier

	if s.redisClient != nil && s.config.Notify.Stream != "" {
		channels = append(channels, notifier.NewStreamNotifier(s.redisClient, s.config.Notify.Stream))
	}

	if s.config.MQTT.Enabled {
		client, err := commonmqtt.NewClient(&s.config.MQTT)
		if err != nil {
			return nil, fmt.Errorf("failed to connect mqtt: %w", err)
		}
		s.mqttClient = client
		channels = append(channels, notifier.NewMQTTNotifier(client, s.config.MQTT.Topic, s.config.MQTT.QoS))
	}

	if s.config.Email.APIKey != "" {
		channels = append(channels, notifier.NewEmailNotifier(notifier.EmailConfig{
			APIURL:       s.config.Email.APIURL,
			APIKey:       s.config.Email.APIKey,
			From:         s.config.Email.From,
			Recipients:   s.config.Email.Recipients,
			DashboardURL: s.config.Email.DashboardURL,
		}, s.logger.Named("email")))
	}

	multi := notifier.NewMulti(
		models.AlertSeverity(s.config.Notify.MinSeverity),
		s.Metrics,
		s.logger.Named("notifier"),
		channels...,
	)
	s.logger.Info("Notification channels configured",
		zap.Int("channels", multi.Len()),
	)
	return multi, nil
}

// Start 启动服务（内置调度，阻塞直到 ctx 取消）
func (s *AlarmService) Start(ctx context.Context) error {
	s.logger.Info("Starting alarm service",
		zap.Int("poll_interval", s.config.Alert.PollInterval),
	)

	if err := s.poller.Start(ctx); err != nil {
		return fmt.Errorf("failed to start poller: %w", err)
	}
	return nil
}

// Stop 停止服务
func (s *AlarmService) Stop() error {
	s.logger.Info("Stopping alarm service")

	// 先排空通知队列，再断开下游连接
	if s.dispatcher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := s.dispatcher.Close(ctx); err != nil {
			s.logger.Warn("Notification dispatcher did not drain", zap.Error(err))
		}
		cancel()
	}

	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}

	// 关闭数据库连接
	if err := database.Close(s.db); err != nil {
		s.logger.Error("Failed to close database",
			zap.Error(err),
		)
	}

	// 关闭 Redis 连接
	if s.redisClient != nil {
		if err := commonredis.Close(s.redisClient); err != nil {
			s.logger.Error("Failed to close redis",
				zap.Error(err),
			)
		}
	}

	return nil
}
