package models

import (
	"time"
)

// 会话状态，只允许向前推进：
// monitoring → check_in_sent → escalated → {resolved | false_alarm}
const (
	SessionStatusMonitoring  = "monitoring"
	SessionStatusCheckInSent = "check_in_sent"
	SessionStatusEscalated   = "escalated"
	SessionStatusResolved    = "resolved"
	SessionStatusFalseAlarm  = "false_alarm"
)

// 会话解决方式
const (
	ResolutionMotionResumed      = "motion_resumed"
	ResolutionPatientResponse    = "patient_response"
	ResolutionCaregiverDismissed = "caregiver_dismissed"
	ResolutionAdminDismissed     = "admin_dismissed"
)

// InactivitySession 一段连续的静默区间（对应 inactivity_sessions 表）
// 每台设备同一时刻最多存在一条 resolved_at IS NULL 的记录，
// 由存储层的部分唯一索引兜底保证
type InactivitySession struct {
	SessionID         string     `json:"session_id" db:"session_id"`
	DeviceID          string     `json:"device_id" db:"device_id"`
	PatientID         string     `json:"patient_id" db:"patient_id"`
	StartedAt         time.Time  `json:"started_at" db:"started_at"`
	ThresholdSeconds  int        `json:"threshold_seconds" db:"threshold_seconds"`
	EscalationMinutes int        `json:"escalation_minutes" db:"escalation_minutes"`
	AlertCreatedAt    *time.Time `json:"alert_created_at,omitempty" db:"alert_created_at"`
	CheckInSentAt     *time.Time `json:"check_in_sent_at,omitempty" db:"check_in_sent_at"`
	CheckInResponseAt *time.Time `json:"check_in_response_at,omitempty" db:"check_in_response_at"`
	EscalationSentAt  *time.Time `json:"escalation_sent_at,omitempty" db:"escalation_sent_at"`
	ResolvedAt        *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
	Status            string     `json:"status" db:"status"`
	ResolutionMethod  *string    `json:"resolution_method,omitempty" db:"resolution_method"`
	AlertID           *string    `json:"alert_id,omitempty" db:"alert_id"`
	EscalationAlertID *string    `json:"escalation_alert_id,omitempty" db:"escalation_alert_id"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
}
