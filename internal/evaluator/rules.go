package evaluator

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"dryer-alarm/internal/models"
)

// evaluateOffline 离线检测：last_communication 为空视为无数据，不触发
func (e *Evaluator) evaluateOffline(b *AlertBuilder, dryer *models.Dryer, now time.Time) *models.Alert {
	if dryer.LastCommunication == nil {
		return nil
	}
	minutes := now.Sub(*dryer.LastCommunication).Minutes()

	switch {
	case minutes > e.thresholds.OfflineCriticalMinutes:
		return b.Build(
			models.TypeDryerOffline,
			models.SeverityCritical,
			fmt.Sprintf("Dryer %s has been offline for over %s hour(s)", dryer.DryerCode, formatNumber(e.thresholds.OfflineCriticalMinutes/60)),
			floatPtr(e.thresholds.OfflineCriticalMinutes),
			floatPtr(minutes),
		)
	case minutes > e.thresholds.OfflineWarningMinutes:
		return b.Build(
			models.TypeDryerOffline,
			models.SeverityWarning,
			fmt.Sprintf("Dryer %s has been offline for %d minutes", dryer.DryerCode, int64(math.Round(minutes))),
			floatPtr(e.thresholds.OfflineWarningMinutes),
			floatPtr(minutes),
		)
	}
	return nil
}

// evaluateBattery 电量检测：critical 优先
func (e *Evaluator) evaluateBattery(b *AlertBuilder, dryer *models.Dryer) *models.Alert {
	if dryer.BatteryLevel == nil {
		return nil
	}
	level := float64(*dryer.BatteryLevel)

	switch {
	case level < e.thresholds.BatteryCritical:
		return b.Build(
			models.TypeBatteryCritical,
			models.SeverityCritical,
			fmt.Sprintf("Dryer %s battery critically low at %d%%", dryer.DryerCode, *dryer.BatteryLevel),
			floatPtr(e.thresholds.BatteryCritical),
			floatPtr(level),
		)
	case level < e.thresholds.BatteryLow:
		return b.Build(
			models.TypeBatteryLow,
			models.SeverityWarning,
			fmt.Sprintf("Dryer %s battery low at %d%%", dryer.DryerCode, *dryer.BatteryLevel),
			floatPtr(e.thresholds.BatteryLow),
			floatPtr(level),
		)
	}
	return nil
}

// evaluateTemperature 腔体温度检测：critical 按火灾风险提示
func (e *Evaluator) evaluateTemperature(b *AlertBuilder, dryer *models.Dryer, reading *models.SensorReading) *models.Alert {
	if reading.ChamberTemp == nil {
		return nil
	}
	temp := *reading.ChamberTemp

	switch {
	case temp > e.thresholds.TemperatureCritical:
		return b.Build(
			models.TypeTemperatureCritical,
			models.SeverityCritical,
			fmt.Sprintf("Dryer %s chamber temperature critically high at %s°C - Fire risk!", dryer.DryerCode, formatNumber(temp)),
			floatPtr(e.thresholds.TemperatureCritical),
			floatPtr(temp),
		)
	case temp > e.thresholds.TemperatureHigh:
		return b.Build(
			models.TypeTemperatureHigh,
			models.SeverityWarning,
			fmt.Sprintf("Dryer %s chamber temperature high at %s°C", dryer.DryerCode, formatNumber(temp)),
			floatPtr(e.thresholds.TemperatureHigh),
			floatPtr(temp),
		)
	}
	return nil
}

// evaluateSensorFailure 传感器故障：运行中但缺少腔体温度或内部湿度
func (e *Evaluator) evaluateSensorFailure(b *AlertBuilder, dryer *models.Dryer, reading *models.SensorReading) *models.Alert {
	if dryer.Status != models.DryerActive {
		return nil
	}
	if reading.ChamberTemp != nil && reading.InternalHumidity != nil {
		return nil
	}
	return b.Build(
		models.TypeSensorFailure,
		models.SeverityWarning,
		fmt.Sprintf("Dryer %s has sensor reading failures", dryer.DryerCode),
		nil,
		nil,
	)
}

// evaluateHeater 加热器故障：加热开启但腔体与环境温差小于 HeaterMinRise
func (e *Evaluator) evaluateHeater(b *AlertBuilder, dryer *models.Dryer, reading *models.SensorReading) *models.Alert {
	if reading.HeaterOn == nil || !*reading.HeaterOn {
		return nil
	}
	if reading.ChamberTemp == nil || reading.AmbientTemp == nil {
		return nil
	}
	if *reading.ChamberTemp-*reading.AmbientTemp >= e.thresholds.HeaterMinRise {
		return nil
	}
	return b.Build(
		models.TypeHeaterMalfunction,
		models.SeverityWarning,
		fmt.Sprintf("Dryer %s heater may be malfunctioning - no temperature increase", dryer.DryerCode),
		nil,
		nil,
	)
}

// formatNumber 去掉多余小数位（85 -> "85"，85.5 -> "85.5"）
func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
