package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"dryer-alarm/internal/clock"
	"dryer-alarm/internal/metrics"
	"dryer-alarm/internal/models"
	"dryer-alarm/internal/notifier"
	"dryer-alarm/internal/repository"

	"go.uber.org/zap"
)

const defaultTransitionRetries = 3

// AcknowledgeRequest 确认报警
type AcknowledgeRequest struct {
	UserID string  `json:"userId"`
	Notes  *string `json:"notes,omitempty"`
}

// AssignRequest 指派报警
type AssignRequest struct {
	AssignedTo string  `json:"assigned_to"`
	AssignedBy *string `json:"assigned_by,omitempty"`
	Notes      *string `json:"notes,omitempty"`
}

// DismissRequest 忽略报警
type DismissRequest struct {
	DismissedBy     *string `json:"dismissed_by,omitempty"`
	DismissalReason string  `json:"dismissal_reason"`
}

// ResolveRequest 解决报警
type ResolveRequest struct {
	ResolvedBy      *string `json:"resolved_by,omitempty"`
	ResolutionNotes *string `json:"resolution_notes,omitempty"`
}

// LifecycleDeps LifecycleService 依赖
type LifecycleDeps struct {
	Alerts     repository.AlertRepository
	Dryers     repository.DryerRepository
	Cache      StatusCache
	Notifier   notifier.Notifier
	Metrics    *metrics.Metrics
	Clock      clock.Clock
	Logger     *zap.Logger
	MaxRetries int
}

// LifecycleService 报警生命周期（acknowledge / assign / dismiss / resolve）
// 状态更新使用 CAS，计数递减只在 leavesActive 为 true 时发生
type LifecycleService struct {
	alerts     repository.AlertRepository
	dryers     repository.DryerRepository
	cache      StatusCache
	notifier   notifier.Notifier
	metrics    *metrics.Metrics
	clock      clock.Clock
	logger     *zap.Logger
	maxRetries int
}

// NewLifecycleService 创建生命周期服务
func NewLifecycleService(deps LifecycleDeps) *LifecycleService {
	s := &LifecycleService{
		alerts:     deps.Alerts,
		dryers:     deps.Dryers,
		cache:      deps.Cache,
		notifier:   deps.Notifier,
		metrics:    deps.Metrics,
		clock:      deps.Clock,
		logger:     deps.Logger,
		maxRetries: deps.MaxRetries,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.clock == nil {
		s.clock = clock.Real{}
	}
	if s.maxRetries <= 0 {
		s.maxRetries = defaultTransitionRetries
	}
	return s
}

// leavesActive 报警是否从 active 离开（计数唯一的递减判定点）
func leavesActive(prev, next models.AlertStatus) bool {
	return prev == models.StatusActive && next != "" && next != models.StatusActive
}

// Acknowledge 确认报警
func (s *LifecycleService) Acknowledge(ctx context.Context, id string, req AcknowledgeRequest) (*models.Alert, error) {
	// 业务规则验证
	if strings.TrimSpace(req.UserID) == "" {
		return nil, models.NewValidationError("userId", "is required")
	}

	userID := req.UserID
	return s.transition(ctx, id, notifier.EventAcknowledged, userID, req.Notes, func(_ *models.Alert) models.AlertUpdate {
		now := s.clock.Now()
		return models.AlertUpdate{
			Status:         models.StatusAcknowledged,
			AcknowledgedBy: &userID,
			AcknowledgedAt: &now,
			Notes:          req.Notes,
			UpdatedAt:      now,
		}
	})
}

// Assign 指派报警；active 报警同时进入 acknowledged
// 指派备注不落库，只随通知下发
func (s *LifecycleService) Assign(ctx context.Context, id string, req AssignRequest) (*models.Alert, error) {
	if strings.TrimSpace(req.AssignedTo) == "" {
		return nil, models.NewValidationError("assigned_to", "is required")
	}

	assignee := req.AssignedTo
	actor := assignee
	if req.AssignedBy != nil {
		actor = *req.AssignedBy
	}
	return s.transition(ctx, id, notifier.EventAssigned, actor, req.Notes, func(current *models.Alert) models.AlertUpdate {
		now := s.clock.Now()
		update := models.AlertUpdate{
			AssignedTo: &assignee,
			AssignedBy: req.AssignedBy,
			AssignedAt: &now,
			UpdatedAt:  now,
		}
		if current.Status == models.StatusActive {
			update.Status = models.StatusAcknowledged
		}
		return update
	})
}

// Dismiss 忽略报警
func (s *LifecycleService) Dismiss(ctx context.Context, id string, req DismissRequest) (*models.Alert, error) {
	if strings.TrimSpace(req.DismissalReason) == "" {
		return nil, models.NewValidationError("dismissal_reason", "is required")
	}

	reason := req.DismissalReason
	return s.transition(ctx, id, notifier.EventDismissed, deref(req.DismissedBy), nil, func(_ *models.Alert) models.AlertUpdate {
		now := s.clock.Now()
		return models.AlertUpdate{
			Status:          models.StatusDismissed,
			DismissedBy:     req.DismissedBy,
			DismissalReason: &reason,
			DismissedAt:     &now,
			UpdatedAt:       now,
		}
	})
}

// Resolve 解决报警
func (s *LifecycleService) Resolve(ctx context.Context, id string, req ResolveRequest) (*models.Alert, error) {
	return s.transition(ctx, id, notifier.EventResolved, deref(req.ResolvedBy), nil, func(_ *models.Alert) models.AlertUpdate {
		now := s.clock.Now()
		return models.AlertUpdate{
			Status:          models.StatusResolved,
			ResolvedBy:      req.ResolvedBy,
			ResolutionNotes: req.ResolutionNotes,
			ResolvedAt:      &now,
			UpdatedAt:       now,
		}
	})
}

// transition 读取当前状态 → 构造更新 → CAS 写入；CAS 失败时重读重试
func (s *LifecycleService) transition(
	ctx context.Context,
	id string,
	event notifier.EventKind,
	actor string,
	notes *string,
	build func(current *models.Alert) models.AlertUpdate,
) (*models.Alert, error) {
	if strings.TrimSpace(id) == "" {
		return nil, models.NewValidationError("id", "is required")
	}

	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		current, err := s.alerts.GetAlert(ctx, id)
		if err != nil {
			if !models.IsNotFound(err) {
				s.logger.Error("Failed to load alert",
					zap.String("alert_id", id),
					zap.Error(err),
				)
			}
			return nil, err
		}

		update := build(current)
		decrement := leavesActive(current.Status, update.Status)

		updated, err := s.alerts.TransitionAlert(ctx, id, current.Status, update, decrement)
		if errors.Is(err, repository.ErrStatusChanged) {
			s.logger.Debug("Alert status changed during transition, retrying",
				zap.String("alert_id", id),
				zap.String("event", string(event)),
				zap.Int("attempt", attempt),
			)
			continue
		}
		if err != nil {
			s.logger.Error("Failed to update alert",
				zap.String("alert_id", id),
				zap.String("event", string(event)),
				zap.Error(err),
			)
			return nil, fmt.Errorf("failed to update alert: %w", err)
		}

		s.metrics.Transition(string(event), decrement)
		s.logger.Info("Alert transitioned",
			zap.String("alert_id", id),
			zap.String("event", string(event)),
			zap.String("from", string(current.Status)),
			zap.String("to", string(updated.Status)),
			zap.Bool("counter_decremented", decrement),
		)

		s.notify(ctx, event, updated, actor, notes)
		s.invalidateStatus(ctx)
		return updated, nil
	}

	s.logger.Warn("Alert transition retries exhausted",
		zap.String("alert_id", id),
		zap.String("event", string(event)),
		zap.Int("retries", s.maxRetries),
	)
	return nil, models.NewConflictError(fmt.Sprintf("alert %s changed concurrently, retry the request", id))
}

func (s *LifecycleService) notify(ctx context.Context, event notifier.EventKind, alert *models.Alert, actor string, notes *string) {
	if s.notifier == nil {
		return
	}
	n := notifier.AlertNotification{
		Event:      event,
		Alert:      alert,
		Actor:      actor,
		Notes:      deref(notes),
		OccurredAt: s.clock.Now(),
	}
	if s.dryers != nil {
		if d, err := s.dryers.GetDryer(ctx, alert.DryerID); err == nil {
			n.DryerCode = d.DryerCode
		}
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.logger.Warn("Alert notification failed",
			zap.String("alert_id", alert.ID),
			zap.Error(err),
		)
	}
}

func (s *LifecycleService) invalidateStatus(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateStatus(ctx); err != nil {
		s.logger.Warn("Failed to invalidate status cache", zap.Error(err))
	}
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
