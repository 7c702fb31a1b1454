package service

import (
	"context"
	"fmt"

	"dryer-alarm/internal/models"
	"dryer-alarm/internal/repository"

	"go.uber.org/zap"
)

const (
	defaultPageSize      = 20
	maxPageSize          = 100
	dashboardAlertsLimit = 5
)

// AlertQueryService 报警查询服务层
// 职责：
// 1. 过滤条件校验
// 2. 分页默认值
// 3. 仪表盘与导出查询
type AlertQueryService struct {
	alerts repository.AlertRepository
	dryers repository.DryerRepository
	logger *zap.Logger
}

// NewAlertQueryService 创建报警查询服务
func NewAlertQueryService(
	alerts repository.AlertRepository,
	dryers repository.DryerRepository,
	logger *zap.Logger,
) *AlertQueryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AlertQueryService{
		alerts: alerts,
		dryers: dryers,
		logger: logger,
	}
}

// ValidateFilters 校验过滤条件中的枚举值与时间范围
func ValidateFilters(f models.AlertFilters) error {
	if f.Status != nil && !f.Status.Valid() {
		return models.NewValidationError("status", "is not a known alert status")
	}
	if f.Severity != nil && !f.Severity.Valid() {
		return models.NewValidationError("severity", "is not a known alert severity")
	}
	if f.Type != nil && !f.Type.Valid() {
		return models.NewValidationError("type", "is not a known alert type")
	}
	if f.StartTime != nil && f.EndTime != nil && f.EndTime.Before(*f.StartTime) {
		return models.NewValidationError("end_date", "must not be before start_date")
	}
	return nil
}

// ListAlerts 查询报警列表（支持多条件过滤和分页）
// 业务规则：
// - page <= 0 取 1
// - size 默认 20，最大 100
func (s *AlertQueryService) ListAlerts(
	ctx context.Context,
	filters models.AlertFilters,
	page, size int,
) ([]*models.Alert, int, error) {
	// 业务规则验证
	if err := ValidateFilters(filters); err != nil {
		return nil, 0, err
	}
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}

	alerts, total, err := s.alerts.ListAlerts(ctx, filters, page, size)
	if err != nil {
		s.logger.Error("Failed to list alerts",
			zap.Int("page", page),
			zap.Int("size", size),
			zap.Error(err),
		)
		return nil, 0, fmt.Errorf("failed to list alerts: %w", err)
	}

	return alerts, total, nil
}

// ExportAlerts 导出用查询（不分页）
func (s *AlertQueryService) ExportAlerts(ctx context.Context, filters models.AlertFilters) ([]*models.Alert, error) {
	if err := ValidateFilters(filters); err != nil {
		return nil, err
	}

	alerts, _, err := s.alerts.ListAlerts(ctx, filters, 0, 0)
	if err != nil {
		s.logger.Error("Failed to load alerts for export", zap.Error(err))
		return nil, fmt.Errorf("failed to load alerts for export: %w", err)
	}
	return alerts, nil
}

// GetAlert 获取单个报警
func (s *AlertQueryService) GetAlert(ctx context.Context, id string) (*models.Alert, error) {
	if id == "" {
		return nil, models.NewValidationError("id", "is required")
	}

	alert, err := s.alerts.GetAlert(ctx, id)
	if err != nil {
		if !models.IsNotFound(err) {
			s.logger.Error("Failed to get alert",
				zap.String("alert_id", id),
				zap.Error(err),
			)
		}
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	return alert, nil
}

// DashboardAlerts 最近 5 条 active 报警（带干燥机编号）
func (s *AlertQueryService) DashboardAlerts(ctx context.Context) ([]*models.AlertWithDryer, error) {
	alerts, err := s.alerts.RecentActiveAlerts(ctx, dashboardAlertsLimit)
	if err != nil {
		s.logger.Error("Failed to load dashboard alerts", zap.Error(err))
		return nil, fmt.Errorf("failed to load dashboard alerts: %w", err)
	}
	return alerts, nil
}

// GetDryer 获取干燥机（含 active_alerts_count）
func (s *AlertQueryService) GetDryer(ctx context.Context, id string) (*models.Dryer, error) {
	if id == "" {
		return nil, models.NewValidationError("id", "is required")
	}

	dryer, err := s.dryers.GetDryer(ctx, id)
	if err != nil {
		if !models.IsNotFound(err) {
			s.logger.Error("Failed to get dryer",
				zap.String("dryer_id", id),
				zap.Error(err),
			)
		}
		return nil, fmt.Errorf("failed to get dryer: %w", err)
	}
	return dryer, nil
}
