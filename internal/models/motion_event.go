package models

import (
	"time"
)

// 检测状态
const (
	DetectionDetected    = "DETECTED"
	DetectionNotDetected = "NOT_DETECTED"
)

// MotionEvent 运动事件（对应 motion_events 表）
// 只追加的审计记录，入库后除 processed 标志外不再修改
type MotionEvent struct {
	EventID         string    `json:"event_id" db:"event_id"`
	DeviceID        string    `json:"device_id" db:"device_id"`
	PatientID       string    `json:"patient_id" db:"patient_id"`
	DetectionState  string    `json:"detection_state" db:"detection_state"`
	SensorTimestamp time.Time `json:"sensor_timestamp" db:"sensor_timestamp"`
	RecordedAt      time.Time `json:"recorded_at" db:"recorded_at"`
	RawPayload      string    `json:"raw_payload" db:"raw_payload"` // JSONB
	Processed       bool      `json:"processed" db:"processed"`
}

// IngestRequest 归一化后的入站事件
// 由 webhook 接收端 / MQTT / Redis Streams 适配层统一成这个形状
type IngestRequest struct {
	Serial          string    `json:"serial"`
	DetectionState  string    `json:"detection_state"`
	SensorTimestamp time.Time `json:"sensor_timestamp"`
	RawPayload      string    `json:"raw_payload,omitempty"`
}

// 入站事件的处理结果动作
const (
	ActionMotionDetected    = "motion_detected"
	ActionMonitoringStarted = "monitoring_started"
	ActionMonitoringOngoing = "monitoring_ongoing"
)

// IngestResult 入站事件处理结果
type IngestResult struct {
	Action    string `json:"action"`
	SessionID string `json:"session_id,omitempty"`
	EventID   string `json:"event_id"`
}
