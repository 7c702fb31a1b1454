package repository

import (
	"context"
	"errors"

	"dryer-alarm/internal/models"
)

// ErrStatusChanged 状态 CAS 失败（报警状态已被其他请求修改）
var ErrStatusChanged = errors.New("alert status changed concurrently")

// DryerRepository 干燥机Repository接口
type DryerRepository interface {
	// 查询所有参与评估的干燥机（排除 decommissioned）
	ListEligibleDryers(ctx context.Context) ([]*models.Dryer, error)

	// 获取单个干燥机（含 active_alerts_count）
	GetDryer(ctx context.Context, id string) (*models.Dryer, error)
}

// ReadingRepository 传感器读数Repository接口
type ReadingRepository interface {
	// 每台干燥机的最新一条读数（无读数的干燥机不在结果中）
	LatestReadings(ctx context.Context, dryerIDs []string) (map[string]*models.SensorReading, error)
}

// AlertRepository 报警Repository接口
type AlertRepository interface {
	// 当前所有 active 报警的去重键
	ActiveAlertKeys(ctx context.Context) (map[models.AlertKey]struct{}, error)

	// 批量写入新 active 报警，并在同一事务内为每条实际写入的报警 +1 计数
	// 已存在同键 active 报警的行被跳过，返回实际写入的报警
	InsertActiveAlerts(ctx context.Context, alerts []*models.Alert) ([]*models.Alert, error)

	GetAlert(ctx context.Context, id string) (*models.Alert, error)

	// 状态 CAS：仅当当前状态等于 expected 时应用 update
	// decrement=true 时在同一事务内对干燥机计数 -1
	// 状态不匹配返回 ErrStatusChanged
	TransitionAlert(ctx context.Context, id string, expected models.AlertStatus, update models.AlertUpdate, decrement bool) (*models.Alert, error)

	// active 报警数与其中 critical 数
	CountActive(ctx context.Context) (models.AlertStats, error)

	// 分页查询（size <= 0 表示不分页），按 created_at 倒序
	ListAlerts(ctx context.Context, filters models.AlertFilters, page, size int) ([]*models.Alert, int, error)

	// 最近的 active 报警（带干燥机编号）
	RecentActiveAlerts(ctx context.Context, limit int) ([]*models.AlertWithDryer, error)
}
