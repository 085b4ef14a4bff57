package models

import (
	"time"
)

// 报警类型
const (
	AlertTypeInactivity           = "inactivity"
	AlertTypeInactivityEscalation = "inactivity_escalation"
)

// 报警级别
const (
	SeverityMedium   = "medium"
	SeverityCritical = "critical"
)

// 报警状态（与会话状态逻辑独立，保持一致但不等同）
const (
	AlertStatusActive       = "active"
	AlertStatusAcknowledged = "acknowledged"
	AlertStatusResolved     = "resolved"
	AlertStatusFalseAlarm   = "false_alarm"
)

// 通知消息类型
const (
	MessageKindCheckInPrompt    = "check_in_prompt"
	MessageKindEscalationNotice = "escalation_notice"
)

// Alert 面向照护者/患者的报警记录（对应 alerts 表）
type Alert struct {
	AlertID            string     `json:"alert_id" db:"alert_id"`
	PatientID          string     `json:"patient_id" db:"patient_id"`
	DeviceID           *string    `json:"device_id,omitempty" db:"device_id"`
	SessionID          *string    `json:"session_id,omitempty" db:"session_id"`
	AlertType          string     `json:"alert_type" db:"alert_type"`
	Severity           string     `json:"severity" db:"severity"`
	Status             string     `json:"status" db:"status"`
	Title              string     `json:"title" db:"title"`
	Message            string     `json:"message" db:"message"`
	NotifiedCaregivers string     `json:"notified_caregivers" db:"notified_caregivers"` // JSONB，创建时快照
	ResolutionNote     *string    `json:"resolution_note,omitempty" db:"resolution_note"`
	AcknowledgedBy     *string    `json:"acknowledged_by,omitempty" db:"acknowledged_by"`
	CreatedAt          time.Time  `json:"created_at" db:"created_at"`
	ResolvedAt         *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
	UpdatedAt          time.Time  `json:"updated_at" db:"updated_at"`
}
