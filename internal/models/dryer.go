package models

import (
	"time"
)

// DryerStatus 干燥机运行状态
type DryerStatus string

const (
	DryerActive         DryerStatus = "active"
	DryerIdle           DryerStatus = "idle"
	DryerOffline        DryerStatus = "offline"
	DryerMaintenance    DryerStatus = "maintenance"
	DryerDecommissioned DryerStatus = "decommissioned"
)

// Dryer 干燥机（对应 dryers 表，报警服务只读，active_alerts_count 除外）
type Dryer struct {
	ID                string      `json:"id" db:"id"`
	DryerCode         string      `json:"dryer_id" db:"dryer_id"` // 人类可读编号，如 "DRY-2024-001"
	Status            DryerStatus `json:"status" db:"status"`
	BatteryLevel      *int        `json:"battery_level,omitempty" db:"battery_level"`
	LastCommunication *time.Time  `json:"last_communication,omitempty" db:"last_communication"`
	RegionID          *string     `json:"region_id,omitempty" db:"region_id"`
	ActiveAlertsCount int         `json:"active_alerts_count" db:"active_alerts_count"`
	UpdatedAt         time.Time   `json:"updated_at" db:"updated_at"`
}

// SensorReading 传感器读数（对应 sensor_readings 表，只读）
type SensorReading struct {
	DryerID          string    `json:"dryer_id" db:"dryer_id"`
	Timestamp        time.Time `json:"timestamp" db:"timestamp"`
	ChamberTemp      *float64  `json:"chamber_temp,omitempty" db:"chamber_temp"`
	AmbientTemp      *float64  `json:"ambient_temp,omitempty" db:"ambient_temp"`
	InternalHumidity *float64  `json:"internal_humidity,omitempty" db:"internal_humidity"`
	ExternalHumidity *float64  `json:"external_humidity,omitempty" db:"external_humidity"`
	HeaterOn         *bool     `json:"heater_status,omitempty" db:"heater_status"`
	FanOn            *bool     `json:"fan_status,omitempty" db:"fan_status"`
}
