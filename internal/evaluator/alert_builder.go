package evaluator

import (
	"time"

	"dryer-alarm/internal/models"

	"github.com/google/uuid"
)

// AlertBuilder 报警构建器（同一干燥机、同一评估时刻）
type AlertBuilder struct {
	dryerID string
	now     time.Time
}

// NewAlertBuilder 创建报警构建器
func NewAlertBuilder(dryerID string, now time.Time) *AlertBuilder {
	return &AlertBuilder{
		dryerID: dryerID,
		now:     now,
	}
}

// Build 构建一条 active 候选报警
// threshold/current 为 nil 表示诊断类报警，不带测量值
func (b *AlertBuilder) Build(
	alertType models.AlertType,
	severity models.AlertSeverity,
	message string,
	threshold *float64,
	current *float64,
) *models.Alert {
	return &models.Alert{
		ID:             uuid.New().String(),
		DryerID:        b.dryerID,
		Type:           alertType,
		Severity:       severity,
		Message:        message,
		ThresholdValue: threshold,
		CurrentValue:   current,
		Status:         models.StatusActive,
		CreatedAt:      b.now,
		UpdatedAt:      b.now,
	}
}

func floatPtr(v float64) *float64 {
	return &v
}
