package repository

import (
	"context"
	"database/sql"
	"time"

	"wisefido-inactivity/internal/apperrors"
	"wisefido-inactivity/internal/models"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// AlertsRepository 报警仓库
// alerts 表与平台内其他报警生产者共享，本服务只写入 inactivity 相关类型
type AlertsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAlertsRepository 创建报警仓库
func NewAlertsRepository(db *sql.DB, logger *zap.Logger) *AlertsRepository {
	return &AlertsRepository{
		db:     db,
		logger: logger,
	}
}

const alertColumns = `
	alert_id,
	patient_id,
	device_id,
	session_id,
	alert_type,
	severity,
	status,
	title,
	message,
	notified_caregivers,
	resolution_note,
	acknowledged_by,
	created_at,
	resolved_at,
	updated_at
`

// CreateAlert 创建报警记录
func (r *AlertsRepository) CreateAlert(ctx context.Context, alert *models.Alert) error {
	if alert == nil {
		return apperrors.NewValidationError("alert is required", nil)
	}

	query := `
		INSERT INTO alerts (
			alert_id,
			patient_id,
			device_id,
			session_id,
			alert_type,
			severity,
			status,
			title,
			message,
			notified_caregivers,
			created_at,
			updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)
	`

	notified := alert.NotifiedCaregivers
	if notified == "" {
		notified = "[]"
	}

	_, err := r.db.ExecContext(ctx, query,
		alert.AlertID,
		alert.PatientID,
		alert.DeviceID,
		alert.SessionID,
		alert.AlertType,
		alert.Severity,
		alert.Status,
		alert.Title,
		alert.Message,
		notified,
		alert.CreatedAt,
		alert.UpdatedAt,
	)

	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return apperrors.NewConflictError("alert already exists: "+alert.AlertID, err)
		}
		return apperrors.NewTransientError("failed to create alert", err)
	}

	return nil
}

// GetAlert 按ID查询报警
func (r *AlertsRepository) GetAlert(ctx context.Context, alertID string) (*models.Alert, error) {
	if alertID == "" {
		return nil, apperrors.NewValidationError("alert_id is required", nil)
	}

	query := `SELECT ` + alertColumns + ` FROM alerts WHERE alert_id = $1`

	alert, err := scanAlertRow(r.db.QueryRowContext(ctx, query, alertID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.NewNotFoundError("alert not found: "+alertID, err)
		}
		return nil, apperrors.NewTransientError("failed to get alert", err)
	}
	return alert, nil
}

// AcknowledgeAlert 确认报警（active → acknowledged，条件更新）
func (r *AlertsRepository) AcknowledgeAlert(ctx context.Context, alertID, userID string, now time.Time) (bool, error) {
	if alertID == "" {
		return false, apperrors.NewValidationError("alert_id is required", nil)
	}
	if userID == "" {
		return false, apperrors.NewValidationError("user_id is required", nil)
	}

	query := `
		UPDATE alerts
		SET status = $3,
		    acknowledged_by = $2,
		    updated_at = $4
		WHERE alert_id = $1
		  AND status = $5
	`

	result, err := r.db.ExecContext(ctx, query,
		alertID, userID, models.AlertStatusAcknowledged, now, models.AlertStatusActive)
	if err != nil {
		return false, apperrors.NewTransientError("failed to acknowledge alert", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, apperrors.NewInternalError("failed to get rows affected", err)
	}

	return rows > 0, nil
}

// ResolveBySession 解决某个会话关联的全部未结报警（初始 check-in 报警和升级报警）
// 返回受影响的条数；0 条也是正常情况
func (r *AlertsRepository) ResolveBySession(ctx context.Context, sessionID, note string, now time.Time) (int, error) {
	if sessionID == "" {
		return 0, apperrors.NewValidationError("session_id is required", nil)
	}

	query := `
		UPDATE alerts
		SET status = $3,
		    resolution_note = $2,
		    resolved_at = $4,
		    updated_at = $4
		WHERE session_id = $1
		  AND status IN ($5, $6)
	`

	result, err := r.db.ExecContext(ctx, query,
		sessionID, note, models.AlertStatusResolved, now,
		models.AlertStatusActive, models.AlertStatusAcknowledged)
	if err != nil {
		return 0, apperrors.NewTransientError("failed to resolve alerts by session", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, apperrors.NewInternalError("failed to get rows affected", err)
	}

	return int(rows), nil
}

// ListActiveAlertsByPatient 查询患者当前未结的报警（active / acknowledged）
func (r *AlertsRepository) ListActiveAlertsByPatient(ctx context.Context, patientID string) ([]models.Alert, error) {
	if patientID == "" {
		return nil, apperrors.NewValidationError("patient_id is required", nil)
	}

	query := `
		SELECT ` + alertColumns + `
		FROM alerts
		WHERE patient_id = $1
		  AND status IN ($2, $3)
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, patientID,
		models.AlertStatusActive, models.AlertStatusAcknowledged)
	if err != nil {
		return nil, apperrors.NewTransientError("failed to list active alerts", err)
	}
	defer rows.Close()

	var alerts []models.Alert
	for rows.Next() {
		alert, err := scanAlertRow(rows)
		if err != nil {
			return nil, apperrors.NewInternalError("failed to scan alert", err)
		}
		alerts = append(alerts, *alert)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewTransientError("failed to iterate alerts", err)
	}

	return alerts, nil
}

type alertScanner interface {
	Scan(dest ...interface{}) error
}

func scanAlertRow(row alertScanner) (*models.Alert, error) {
	var alert models.Alert
	var deviceID, sessionID, resolutionNote, acknowledgedBy sql.NullString
	var resolvedAt sql.NullTime

	err := row.Scan(
		&alert.AlertID,
		&alert.PatientID,
		&deviceID,
		&sessionID,
		&alert.AlertType,
		&alert.Severity,
		&alert.Status,
		&alert.Title,
		&alert.Message,
		&alert.NotifiedCaregivers,
		&resolutionNote,
		&acknowledgedBy,
		&alert.CreatedAt,
		&resolvedAt,
		&alert.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if deviceID.Valid {
		alert.DeviceID = &deviceID.String
	}
	if sessionID.Valid {
		alert.SessionID = &sessionID.String
	}
	if resolutionNote.Valid {
		alert.ResolutionNote = &resolutionNote.String
	}
	if acknowledgedBy.Valid {
		alert.AcknowledgedBy = &acknowledgedBy.String
	}
	if resolvedAt.Valid {
		alert.ResolvedAt = &resolvedAt.Time
	}

	return &alert, nil
}
