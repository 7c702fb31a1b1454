package evaluator

// Thresholds 报警阈值表（固定策略，不可配置）
type Thresholds struct {
	OfflineWarningMinutes  float64 `json:"offline_warning_minutes"`
	OfflineCriticalMinutes float64 `json:"offline_critical_minutes"`
	BatteryLow             float64 `json:"battery_low"`
	BatteryCritical        float64 `json:"battery_critical"`
	TemperatureHigh        float64 `json:"temperature_high"`
	TemperatureCritical    float64 `json:"temperature_critical"`
	HeaterMinRise          float64 `json:"heater_min_rise"` // 加热开启时腔体温度至少高于环境温度的度数
}

// DefaultThresholds 默认阈值
func DefaultThresholds() Thresholds {
	return Thresholds{
		OfflineWarningMinutes:  15,
		OfflineCriticalMinutes: 60,
		BatteryLow:             30,
		BatteryCritical:        10,
		TemperatureHigh:        70,
		TemperatureCritical:    80,
		HeaterMinRise:          2,
	}
}
