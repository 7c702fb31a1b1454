package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dryer-alarm/internal/cache"
	"dryer-alarm/internal/clock"
	"dryer-alarm/internal/evaluator"
	"dryer-alarm/internal/metrics"
	"dryer-alarm/internal/models"
	"dryer-alarm/internal/notifier"
	"dryer-alarm/internal/repository"

	"go.uber.org/zap"
)

// StatusCache 状态统计缓存（CacheManager 实现；为 nil 时直接查库）
type StatusCache interface {
	GetStatus(ctx context.Context, dst any) (bool, error)
	SetStatus(ctx context.Context, value any) error
	InvalidateStatus(ctx context.Context) error
}

// EngineDeps AlertEngine 依赖
type EngineDeps struct {
	Dryers    repository.DryerRepository
	Readings  repository.ReadingRepository
	Alerts    repository.AlertRepository
	Evaluator *evaluator.Evaluator
	Lock      cache.PassLocker
	Cache     StatusCache
	Notifier  notifier.Notifier
	Metrics   *metrics.Metrics
	Clock     clock.Clock
	Logger    *zap.Logger
}

// EvaluationResult 一次评估的结果
type EvaluationResult struct {
	AlertsGenerated int             `json:"alertsGenerated"`
	DryersChecked   int             `json:"totalDryersChecked"`
	Alerts          []*models.Alert `json:"alerts"`
	StartedAt       time.Time       `json:"startedAt"`
	Duration        time.Duration   `json:"durationNs"`
}

// EngineStatus 当前报警统计与阈值
type EngineStatus struct {
	ActiveAlerts   int                  `json:"active_alerts"`
	CriticalAlerts int                  `json:"critical_alerts"`
	Thresholds     evaluator.Thresholds `json:"thresholds"`
}

// AlertEngine 报警评估引擎
// 一次评估：加锁 → 加载干燥机/读数/活跃键 → 评估 → 去重 → 批量写入 → 通知
type AlertEngine struct {
	dryers    repository.DryerRepository
	readings  repository.ReadingRepository
	alerts    repository.AlertRepository
	evaluator *evaluator.Evaluator
	lock      cache.PassLocker
	cache     StatusCache
	notifier  notifier.Notifier
	metrics   *metrics.Metrics
	clock     clock.Clock
	logger    *zap.Logger
}

// NewAlertEngine 创建评估引擎
func NewAlertEngine(deps EngineDeps) *AlertEngine {
	e := &AlertEngine{
		dryers:    deps.Dryers,
		readings:  deps.Readings,
		alerts:    deps.Alerts,
		evaluator: deps.Evaluator,
		lock:      deps.Lock,
		cache:     deps.Cache,
		notifier:  deps.Notifier,
		metrics:   deps.Metrics,
		clock:     deps.Clock,
		logger:    deps.Logger,
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.clock == nil {
		e.clock = clock.Real{}
	}
	if e.lock == nil {
		e.lock = cache.NewLocalPassLock()
	}
	if e.evaluator == nil {
		e.evaluator = evaluator.NewEvaluator(e.logger)
	}
	return e
}

// RunEvaluation 执行一次评估
func (e *AlertEngine) RunEvaluation(ctx context.Context) (result *EvaluationResult, err error) {
	startedAt := e.clock.Now()
	wallStart := time.Now()
	defer func() {
		e.metrics.ObservePass(err, time.Since(wallStart))
	}()

	release, err := e.lock.Acquire(ctx)
	if err != nil {
		if errors.Is(err, cache.ErrLockHeld) {
			e.logger.Info("Evaluation pass skipped, another pass holds the lock")
			return nil, models.NewConflictError("evaluation pass already running")
		}
		e.logger.Error("Failed to acquire evaluation lock", zap.Error(err))
		return nil, models.NewDataStoreError("acquire evaluation lock", err)
	}
	defer func() {
		if rerr := release(context.Background()); rerr != nil {
			e.logger.Warn("Failed to release evaluation lock", zap.Error(rerr))
		}
	}()

	// 1. 加载
	dryers, err := e.dryers.ListEligibleDryers(ctx)
	if err != nil {
		return nil, e.loadFailure("load dryers", err)
	}
	ids := make([]string, 0, len(dryers))
	codes := make(map[string]string, len(dryers))
	for _, d := range dryers {
		ids = append(ids, d.ID)
		codes[d.ID] = d.DryerCode
	}
	readings, err := e.readings.LatestReadings(ctx, ids)
	if err != nil {
		return nil, e.loadFailure("load sensor readings", err)
	}
	activeKeys, err := e.alerts.ActiveAlertKeys(ctx)
	if err != nil {
		return nil, e.loadFailure("load active alerts", err)
	}

	// 2. 评估 + 去重
	now := e.clock.Now()
	candidates := e.evaluator.EvaluateFleet(dryers, readings, now)
	fresh := make([]*models.Alert, 0, len(candidates))
	for _, a := range candidates {
		if _, dup := activeKeys[a.DedupKey()]; dup {
			continue
		}
		activeKeys[a.DedupKey()] = struct{}{}
		fresh = append(fresh, a)
	}

	// 3. 写入（计数在同一事务内递增）
	inserted := []*models.Alert{}
	if len(fresh) > 0 {
		inserted, err = e.alerts.InsertActiveAlerts(ctx, fresh)
		if err != nil {
			e.logger.Error("Failed to insert alerts",
				zap.Int("candidates", len(fresh)),
				zap.Error(err),
			)
			return nil, fmt.Errorf("failed to insert alerts: %w", err)
		}
	}

	// 4. 指标、通知、缓存失效
	for _, a := range inserted {
		e.metrics.AlertCreated(a.Type, a.Severity)
		e.notify(ctx, notifier.AlertNotification{
			Event:      notifier.EventCreated,
			Alert:      a,
			DryerCode:  codes[a.DryerID],
			OccurredAt: now,
		})
	}
	if len(inserted) > 0 {
		e.invalidateStatus(ctx)
	}

	result = &EvaluationResult{
		AlertsGenerated: len(inserted),
		DryersChecked:   len(dryers),
		Alerts:          inserted,
		StartedAt:       startedAt,
		Duration:        time.Since(wallStart),
	}

	e.logger.Info("Evaluation pass completed",
		zap.Int("dryers_checked", result.DryersChecked),
		zap.Int("candidates", len(candidates)),
		zap.Int("alerts_generated", result.AlertsGenerated),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

// Status 当前 active/critical 数量与阈值
func (e *AlertEngine) Status(ctx context.Context) (*EngineStatus, error) {
	if e.cache != nil {
		var cached EngineStatus
		hit, err := e.cache.GetStatus(ctx, &cached)
		if err != nil {
			e.logger.Warn("Failed to read status cache", zap.Error(err))
		} else if hit {
			return &cached, nil
		}
	}

	stats, err := e.alerts.CountActive(ctx)
	if err != nil {
		e.logger.Error("Failed to count active alerts", zap.Error(err))
		return nil, fmt.Errorf("failed to count active alerts: %w", err)
	}

	status := &EngineStatus{
		ActiveAlerts:   stats.ActiveAlerts,
		CriticalAlerts: stats.CriticalAlerts,
		Thresholds:     e.evaluator.Thresholds(),
	}
	if e.cache != nil {
		if err := e.cache.SetStatus(ctx, status); err != nil {
			e.logger.Warn("Failed to write status cache", zap.Error(err))
		}
	}
	return status, nil
}

func (e *AlertEngine) loadFailure(op string, err error) error {
	e.logger.Error("Evaluation pass aborted",
		zap.String("op", op),
		zap.Error(err),
	)
	return asDataStoreError(op, err)
}

func (e *AlertEngine) notify(ctx context.Context, n notifier.AlertNotification) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, n); err != nil {
		e.logger.Warn("Alert notification failed",
			zap.String("alert_id", n.Alert.ID),
			zap.Error(err),
		)
	}
}

func (e *AlertEngine) invalidateStatus(ctx context.Context) {
	if e.cache == nil {
		return
	}
	if err := e.cache.InvalidateStatus(ctx); err != nil {
		e.logger.Warn("Failed to invalidate status cache", zap.Error(err))
	}
}

// asDataStoreError 保证存储失败以 DataStoreError 返回
func asDataStoreError(op string, err error) error {
	if models.IsDataStore(err) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return models.NewDataStoreError(op, err)
}
