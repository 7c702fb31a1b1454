package models

import (
	"time"
)

// AlertSeverity 报警级别
type AlertSeverity string

const (
	SeverityCritical AlertSeverity = "critical"
	SeverityWarning  AlertSeverity = "warning"
	SeverityInfo     AlertSeverity = "info"
)

// Rank 级别排序值（数值越大越严重）
func (s AlertSeverity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityWarning:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

// Valid 是否为已知级别
func (s AlertSeverity) Valid() bool {
	return s.Rank() > 0
}

// AlertStatus 报警状态
type AlertStatus string

const (
	StatusActive       AlertStatus = "active"
	StatusAcknowledged AlertStatus = "acknowledged"
	StatusDismissed    AlertStatus = "dismissed"
	StatusResolved     AlertStatus = "resolved"
)

// Valid 是否为已知状态
func (s AlertStatus) Valid() bool {
	switch s {
	case StatusActive, StatusAcknowledged, StatusDismissed, StatusResolved:
		return true
	}
	return false
}

// AlertType 报警类型
type AlertType string

const (
	TypeDryerOffline        AlertType = "dryer_offline"
	TypeBatteryCritical     AlertType = "battery_critical"
	TypeBatteryLow          AlertType = "battery_low"
	TypeTemperatureCritical AlertType = "temperature_critical"
	TypeTemperatureHigh     AlertType = "temperature_high"
	TypeSensorFailure       AlertType = "sensor_failure"
	TypeHeaterMalfunction   AlertType = "heater_malfunction"
)

// Valid 是否为已知类型
func (t AlertType) Valid() bool {
	switch t {
	case TypeDryerOffline, TypeBatteryCritical, TypeBatteryLow,
		TypeTemperatureCritical, TypeTemperatureHigh,
		TypeSensorFailure, TypeHeaterMalfunction:
		return true
	}
	return false
}

// Alert 报警记录（对应 alerts 表）
type Alert struct {
	ID             string        `json:"id" db:"id"`
	DryerID        string        `json:"dryer_id" db:"dryer_id"`
	Type           AlertType     `json:"type" db:"type"`
	Severity       AlertSeverity `json:"severity" db:"severity"`
	Message        string        `json:"message" db:"message"`
	ThresholdValue *float64      `json:"threshold_value,omitempty" db:"threshold_value"`
	CurrentValue   *float64      `json:"current_value,omitempty" db:"current_value"`
	Status         AlertStatus   `json:"status" db:"status"`

	AcknowledgedBy *string    `json:"acknowledged_by,omitempty" db:"acknowledged_by"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty" db:"acknowledged_at"`

	AssignedTo *string    `json:"assigned_to,omitempty" db:"assigned_to"`
	AssignedBy *string    `json:"assigned_by,omitempty" db:"assigned_by"`
	AssignedAt *time.Time `json:"assigned_at,omitempty" db:"assigned_at"`

	DismissedBy     *string    `json:"dismissed_by,omitempty" db:"dismissed_by"`
	DismissalReason *string    `json:"dismissal_reason,omitempty" db:"dismissal_reason"`
	DismissedAt     *time.Time `json:"dismissed_at,omitempty" db:"dismissed_at"`

	ResolvedBy      *string    `json:"resolved_by,omitempty" db:"resolved_by"`
	ResolutionNotes *string    `json:"resolution_notes,omitempty" db:"resolution_notes"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`

	Notes *string `json:"notes,omitempty" db:"notes"` // acknowledge 备注

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// DedupKey 去重键（dryer_id + type）
func (a *Alert) DedupKey() AlertKey {
	return AlertKey{DryerID: a.DryerID, Type: a.Type}
}

// AlertKey 去重键
type AlertKey struct {
	DryerID string
	Type    AlertType
}

// AlertUpdate 生命周期字段更新（nil 表示不修改）
// Status 为空表示保持当前状态
type AlertUpdate struct {
	Status AlertStatus

	AcknowledgedBy *string
	AcknowledgedAt *time.Time

	AssignedTo *string
	AssignedBy *string
	AssignedAt *time.Time

	DismissedBy     *string
	DismissalReason *string
	DismissedAt     *time.Time

	ResolvedBy      *string
	ResolutionNotes *string
	ResolvedAt      *time.Time

	Notes *string

	UpdatedAt time.Time
}

// Apply 把更新写到 alert 上（内存实现和测试使用）
func (u AlertUpdate) Apply(a *Alert) {
	if u.Status != "" {
		a.Status = u.Status
	}
	setStr := func(dst **string, v *string) {
		if v != nil {
			s := *v
			*dst = &s
		}
	}
	setTime := func(dst **time.Time, v *time.Time) {
		if v != nil {
			t := *v
			*dst = &t
		}
	}
	setStr(&a.AcknowledgedBy, u.AcknowledgedBy)
	setTime(&a.AcknowledgedAt, u.AcknowledgedAt)
	setStr(&a.AssignedTo, u.AssignedTo)
	setStr(&a.AssignedBy, u.AssignedBy)
	setTime(&a.AssignedAt, u.AssignedAt)
	setStr(&a.DismissedBy, u.DismissedBy)
	setStr(&a.DismissalReason, u.DismissalReason)
	setTime(&a.DismissedAt, u.DismissedAt)
	setStr(&a.ResolvedBy, u.ResolvedBy)
	setStr(&a.ResolutionNotes, u.ResolutionNotes)
	setTime(&a.ResolvedAt, u.ResolvedAt)
	setStr(&a.Notes, u.Notes)
	if !u.UpdatedAt.IsZero() {
		a.UpdatedAt = u.UpdatedAt
	}
}

// AlertFilters 报警查询过滤条件
type AlertFilters struct {
	DryerID   *string
	Status    *AlertStatus
	Severity  *AlertSeverity
	Type      *AlertType
	StartTime *time.Time // created_at >= StartTime
	EndTime   *time.Time // created_at <= EndTime
}

// AlertStats 报警统计
type AlertStats struct {
	ActiveAlerts   int `json:"activeAlerts"`
	CriticalAlerts int `json:"criticalAlerts"`
}

// AlertWithDryer 报警 + 干燥机编号（仪表盘最近报警）
type AlertWithDryer struct {
	Alert
	DryerCode string `json:"dryer_code"`
}
