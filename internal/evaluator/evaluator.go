package evaluator

import (
	"time"

	"dryer-alarm/internal/models"

	"go.uber.org/zap"
)

// Evaluator 阈值评估器
// 输入干燥机、最新读数（可为 nil）与评估时刻，输出候选报警，不访问存储
type Evaluator struct {
	thresholds Thresholds
	logger     *zap.Logger
}

// NewEvaluator 创建评估器
func NewEvaluator(logger *zap.Logger) *Evaluator {
	return &Evaluator{
		thresholds: DefaultThresholds(),
		logger:     logger,
	}
}

// Thresholds 当前阈值表（只读快照）
func (e *Evaluator) Thresholds() Thresholds {
	return e.thresholds
}

// Evaluate 评估单台干燥机，每条规则最多产生一个候选
func (e *Evaluator) Evaluate(dryer *models.Dryer, reading *models.SensorReading, now time.Time) []*models.Alert {
	if dryer == nil || dryer.Status == models.DryerDecommissioned {
		return nil
	}

	b := NewAlertBuilder(dryer.ID, now)
	var alerts []*models.Alert

	// 规则1：离线
	if a := e.evaluateOffline(b, dryer, now); a != nil {
		alerts = append(alerts, a)
	}

	// 规则2：电量
	if a := e.evaluateBattery(b, dryer); a != nil {
		alerts = append(alerts, a)
	}

	// 规则3-5 依赖最新读数
	if reading != nil {
		if a := e.evaluateTemperature(b, dryer, reading); a != nil {
			alerts = append(alerts, a)
		}
		if a := e.evaluateSensorFailure(b, dryer, reading); a != nil {
			alerts = append(alerts, a)
		}
		if a := e.evaluateHeater(b, dryer, reading); a != nil {
			alerts = append(alerts, a)
		}
	}

	if len(alerts) > 0 {
		e.logger.Debug("Dryer breached thresholds",
			zap.String("dryer_id", dryer.ID),
			zap.String("dryer_code", dryer.DryerCode),
			zap.Int("candidates", len(alerts)),
		)
	}
	return alerts
}

// EvaluateFleet 评估全部干燥机
func (e *Evaluator) EvaluateFleet(dryers []*models.Dryer, readings map[string]*models.SensorReading, now time.Time) []*models.Alert {
	var alerts []*models.Alert
	for _, d := range dryers {
		alerts = append(alerts, e.Evaluate(d, readings[d.ID], now)...)
	}
	return alerts
}
