package models

import (
	"time"
)

// 阈值配置允许的范围
const (
	MinThresholdSeconds  = 10
	MaxThresholdSeconds  = 300
	MinEscalationMinutes = 5
	MaxEscalationMinutes = 60
)

// Device 在册传感器（对应 devices 表）
// 每台设备归属一位 patient，携带独立的静默阈值配置
type Device struct {
	DeviceID               string     `json:"device_id" db:"device_id"`
	PatientID              string     `json:"patient_id" db:"patient_id"`
	SerialNumber           string     `json:"serial_number" db:"serial_number"`
	DeviceName             string     `json:"device_name" db:"device_name"`
	Location               string     `json:"location" db:"location"`
	IsActive               bool       `json:"is_active" db:"is_active"`
	InactivityThresholdSec int        `json:"inactivity_threshold_sec" db:"inactivity_threshold_sec"`
	EscalationWindowMin    int        `json:"escalation_window_min" db:"escalation_window_min"`
	LastEventAt            *time.Time `json:"last_event_at,omitempty" db:"last_event_at"`
	CreatedAt              time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at" db:"updated_at"`
}
