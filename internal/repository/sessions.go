package repository

import (
	"context"
	"database/sql"
	"time"

	"wisefido-inactivity/internal/apperrors"
	"wisefido-inactivity/internal/models"

	"go.uber.org/zap"
)

// SessionsRepository 静默会话仓库
// 所有状态推进都是以目标字段为条件的单条 UPDATE（乐观并发），
// 两个并发写入方最多只有一个生效，重复执行是无害的空操作。
type SessionsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSessionsRepository 创建会话仓库
func NewSessionsRepository(db *sql.DB, logger *zap.Logger) *SessionsRepository {
	return &SessionsRepository{
		db:     db,
		logger: logger,
	}
}

const sessionColumns = `
	session_id,
	device_id,
	patient_id,
	started_at,
	threshold_seconds,
	escalation_minutes,
	alert_created_at,
	check_in_sent_at,
	check_in_response_at,
	escalation_sent_at,
	resolved_at,
	status,
	resolution_method,
	alert_id,
	escalation_alert_id,
	created_at,
	updated_at
`

// OpenSessionInfo 扫描用的会话信息（附带设备上下文）
type OpenSessionInfo struct {
	Session      models.InactivitySession
	DeviceName   string
	DeviceSerial string
	Location     string
}

// ============================================
// 会话生命周期
// ============================================

// OpenSession 打开新会话（check-and-insert 的原子版本）
// 依赖部分唯一索引 uniq_open_session_per_device：
// 设备已有未解决会话时 ON CONFLICT DO NOTHING，返回 false。
func (r *SessionsRepository) OpenSession(ctx context.Context, session *models.InactivitySession) (bool, error) {
	if session == nil {
		return false, apperrors.NewValidationError("session is required", nil)
	}

	query := `
		INSERT INTO inactivity_sessions (
			session_id,
			device_id,
			patient_id,
			started_at,
			threshold_seconds,
			escalation_minutes,
			status,
			created_at,
			updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)
		ON CONFLICT (device_id) WHERE resolved_at IS NULL DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, query,
		session.SessionID,
		session.DeviceID,
		session.PatientID,
		session.StartedAt,
		session.ThresholdSeconds,
		session.EscalationMinutes,
		session.Status,
		session.CreatedAt,
		session.UpdatedAt,
	)
	if err != nil {
		return false, apperrors.NewTransientError("failed to open session", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, apperrors.NewInternalError("failed to get rows affected", err)
	}

	return rows > 0, nil
}

// GetSession 按ID查询会话
func (r *SessionsRepository) GetSession(ctx context.Context, sessionID string) (*models.InactivitySession, error) {
	if sessionID == "" {
		return nil, apperrors.NewValidationError("session_id is required", nil)
	}

	query := `SELECT ` + sessionColumns + ` FROM inactivity_sessions WHERE session_id = $1`

	session, err := scanSessionRow(r.db.QueryRowContext(ctx, query, sessionID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.NewNotFoundError("session not found: "+sessionID, err)
		}
		return nil, apperrors.NewTransientError("failed to get session", err)
	}
	return session, nil
}

// GetOpenSessionByDevice 查询设备当前未解决的会话，不存在时返回 (nil, nil)
func (r *SessionsRepository) GetOpenSessionByDevice(ctx context.Context, deviceID string) (*models.InactivitySession, error) {
	if deviceID == "" {
		return nil, apperrors.NewValidationError("device_id is required", nil)
	}

	query := `SELECT ` + sessionColumns + ` FROM inactivity_sessions WHERE device_id = $1 AND resolved_at IS NULL`

	session, err := scanSessionRow(r.db.QueryRowContext(ctx, query, deviceID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, apperrors.NewTransientError("failed to get open session", err)
	}
	return session, nil
}

// ListOpenSessions 查询活跃设备上所有未解决的会话（阈值扫描的输入）
// 每次扫描都重新读取，不做任何跨扫描缓存
func (r *SessionsRepository) ListOpenSessions(ctx context.Context) ([]OpenSessionInfo, error) {
	query := `
		SELECT
			s.session_id,
			s.device_id,
			s.patient_id,
			s.started_at,
			s.threshold_seconds,
			s.escalation_minutes,
			s.alert_created_at,
			s.check_in_sent_at,
			s.check_in_response_at,
			s.escalation_sent_at,
			s.resolved_at,
			s.status,
			s.resolution_method,
			s.alert_id,
			s.escalation_alert_id,
			s.created_at,
			s.updated_at,
			d.device_name,
			d.serial_number,
			d.location
		FROM inactivity_sessions s
		JOIN devices d ON d.device_id = s.device_id
		WHERE s.resolved_at IS NULL
		  AND d.is_active = TRUE
		ORDER BY s.started_at
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, apperrors.NewTransientError("failed to list open sessions", err)
	}
	defer rows.Close()

	var sessions []OpenSessionInfo
	for rows.Next() {
		var info OpenSessionInfo
		s := &info.Session
		var alertCreatedAt, checkInSentAt, checkInResponseAt, escalationSentAt, resolvedAt sql.NullTime
		var resolutionMethod, alertID, escalationAlertID sql.NullString

		if err := rows.Scan(
			&s.SessionID,
			&s.DeviceID,
			&s.PatientID,
			&s.StartedAt,
			&s.ThresholdSeconds,
			&s.EscalationMinutes,
			&alertCreatedAt,
			&checkInSentAt,
			&checkInResponseAt,
			&escalationSentAt,
			&resolvedAt,
			&s.Status,
			&resolutionMethod,
			&alertID,
			&escalationAlertID,
			&s.CreatedAt,
			&s.UpdatedAt,
			&info.DeviceName,
			&info.DeviceSerial,
			&info.Location,
		); err != nil {
			return nil, apperrors.NewInternalError("failed to scan open session", err)
		}

		applyNullableSessionFields(s, alertCreatedAt, checkInSentAt, checkInResponseAt,
			escalationSentAt, resolvedAt, resolutionMethod, alertID, escalationAlertID)
		sessions = append(sessions, info)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewTransientError("failed to iterate open sessions", err)
	}

	return sessions, nil
}

// ListSessionsByDevice 查询设备历史会话
func (r *SessionsRepository) ListSessionsByDevice(ctx context.Context, deviceID string, limit int) ([]models.InactivitySession, error) {
	if deviceID == "" {
		return nil, apperrors.NewValidationError("device_id is required", nil)
	}
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + sessionColumns + ` FROM inactivity_sessions WHERE device_id = $1 ORDER BY started_at DESC LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, deviceID, limit)
	if err != nil {
		return nil, apperrors.NewTransientError("failed to list sessions", err)
	}
	defer rows.Close()

	var sessions []models.InactivitySession
	for rows.Next() {
		session, err := scanSessionRow(rows)
		if err != nil {
			return nil, apperrors.NewInternalError("failed to scan session", err)
		}
		sessions = append(sessions, *session)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewTransientError("failed to iterate sessions", err)
	}

	return sessions, nil
}

// ============================================
// 条件状态推进（每条 UPDATE 以它要设置的字段为守卫）
// ============================================

// MarkCheckInSent 第一阶段：记录报警创建与 check-in 发出
// 守卫 alert_created_at IS NULL：扫描重复执行不会二次触发
func (r *SessionsRepository) MarkCheckInSent(ctx context.Context, sessionID, alertID string, now time.Time) (bool, error) {
	if sessionID == "" {
		return false, apperrors.NewValidationError("session_id is required", nil)
	}

	query := `
		UPDATE inactivity_sessions
		SET alert_created_at = $3,
		    check_in_sent_at = $3,
		    status = $4,
		    alert_id = $2,
		    updated_at = $3
		WHERE session_id = $1
		  AND alert_created_at IS NULL
		  AND resolved_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, sessionID, alertID, now, models.SessionStatusCheckInSent)
	if err != nil {
		return false, apperrors.NewTransientError("failed to mark check-in sent", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, apperrors.NewInternalError("failed to get rows affected", err)
	}

	return rows > 0, nil
}

// MarkEscalated 第二阶段：记录升级报警发出
// 守卫 escalation_sent_at IS NULL：无论扫描频率多高都恰好触发一次
func (r *SessionsRepository) MarkEscalated(ctx context.Context, sessionID, alertID string, now time.Time) (bool, error) {
	if sessionID == "" {
		return false, apperrors.NewValidationError("session_id is required", nil)
	}

	query := `
		UPDATE inactivity_sessions
		SET escalation_sent_at = $3,
		    status = $4,
		    escalation_alert_id = $2,
		    updated_at = $3
		WHERE session_id = $1
		  AND check_in_sent_at IS NOT NULL
		  AND check_in_response_at IS NULL
		  AND escalation_sent_at IS NULL
		  AND resolved_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, sessionID, alertID, now, models.SessionStatusEscalated)
	if err != nil {
		return false, apperrors.NewTransientError("failed to mark escalated", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, apperrors.NewInternalError("failed to get rows affected", err)
	}

	return rows > 0, nil
}

// ResolveByMotion 运动恢复时解决设备的未解决会话
// 没有未解决会话时返回 (nil, nil)（重复的 DETECTED 是幂等空操作）
func (r *SessionsRepository) ResolveByMotion(ctx context.Context, deviceID string, now time.Time) (*models.InactivitySession, error) {
	if deviceID == "" {
		return nil, apperrors.NewValidationError("device_id is required", nil)
	}

	query := `
		UPDATE inactivity_sessions
		SET resolved_at = $2,
		    status = $3,
		    resolution_method = $4,
		    updated_at = $2
		WHERE device_id = $1
		  AND resolved_at IS NULL
		RETURNING ` + sessionColumns

	session, err := scanSessionRow(r.db.QueryRowContext(ctx, query,
		deviceID, now, models.SessionStatusResolved, models.ResolutionMotionResumed))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, apperrors.NewTransientError("failed to resolve session by motion", err)
	}

	return session, nil
}

// ResolveByResponse 患者回应 check-in 时解决最近的待回应会话
// 没有待回应的 check-in 时返回 not_found（预期中的正常情况，
// 比如照护者已经手动处理了）
func (r *SessionsRepository) ResolveByResponse(ctx context.Context, patientID string, now time.Time) (*models.InactivitySession, error) {
	if patientID == "" {
		return nil, apperrors.NewValidationError("patient_id is required", nil)
	}

	query := `
		UPDATE inactivity_sessions
		SET check_in_response_at = $2,
		    resolved_at = $2,
		    status = $3,
		    resolution_method = $4,
		    updated_at = $2
		WHERE session_id = (
			SELECT session_id FROM inactivity_sessions
			WHERE patient_id = $1
			  AND check_in_sent_at IS NOT NULL
			  AND check_in_response_at IS NULL
			  AND resolved_at IS NULL
			ORDER BY check_in_sent_at DESC
			LIMIT 1
		)
		RETURNING ` + sessionColumns

	session, err := scanSessionRow(r.db.QueryRowContext(ctx, query,
		patientID, now, models.SessionStatusResolved, models.ResolutionPatientResponse))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.NewNotFoundError("no active check-in for patient: "+patientID, err)
		}
		return nil, apperrors.NewTransientError("failed to resolve session by response", err)
	}

	return session, nil
}

// DismissSession 手动撤销会话（照护者/管理员），标记为 false_alarm
func (r *SessionsRepository) DismissSession(ctx context.Context, sessionID, method string, now time.Time) (*models.InactivitySession, error) {
	if sessionID == "" {
		return nil, apperrors.NewValidationError("session_id is required", nil)
	}
	if method != models.ResolutionCaregiverDismissed && method != models.ResolutionAdminDismissed {
		return nil, apperrors.NewValidationError("invalid dismissal method: "+method, nil)
	}

	query := `
		UPDATE inactivity_sessions
		SET resolved_at = $2,
		    status = $3,
		    resolution_method = $4,
		    updated_at = $2
		WHERE session_id = $1
		  AND resolved_at IS NULL
		RETURNING ` + sessionColumns

	session, err := scanSessionRow(r.db.QueryRowContext(ctx, query,
		sessionID, now, models.SessionStatusFalseAlarm, method))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.NewNotFoundError("no open session to dismiss: "+sessionID, err)
		}
		return nil, apperrors.NewTransientError("failed to dismiss session", err)
	}

	return session, nil
}

// ============================================
// 扫描辅助
// ============================================

type sessionScanner interface {
	Scan(dest ...interface{}) error
}

func scanSessionRow(row sessionScanner) (*models.InactivitySession, error) {
	var s models.InactivitySession
	var alertCreatedAt, checkInSentAt, checkInResponseAt, escalationSentAt, resolvedAt sql.NullTime
	var resolutionMethod, alertID, escalationAlertID sql.NullString

	err := row.Scan(
		&s.SessionID,
		&s.DeviceID,
		&s.PatientID,
		&s.StartedAt,
		&s.ThresholdSeconds,
		&s.EscalationMinutes,
		&alertCreatedAt,
		&checkInSentAt,
		&checkInResponseAt,
		&escalationSentAt,
		&resolvedAt,
		&s.Status,
		&resolutionMethod,
		&alertID,
		&escalationAlertID,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	applyNullableSessionFields(&s, alertCreatedAt, checkInSentAt, checkInResponseAt,
		escalationSentAt, resolvedAt, resolutionMethod, alertID, escalationAlertID)

	return &s, nil
}

func applyNullableSessionFields(
	s *models.InactivitySession,
	alertCreatedAt, checkInSentAt, checkInResponseAt, escalationSentAt, resolvedAt sql.NullTime,
	resolutionMethod, alertID, escalationAlertID sql.NullString,
) {
	if alertCreatedAt.Valid {
		s.AlertCreatedAt = &alertCreatedAt.Time
	}
	if checkInSentAt.Valid {
		s.CheckInSentAt = &checkInSentAt.Time
	}
	if checkInResponseAt.Valid {
		s.CheckInResponseAt = &checkInResponseAt.Time
	}
	if escalationSentAt.Valid {
		s.EscalationSentAt = &escalationSentAt.Time
	}
	if resolvedAt.Valid {
		s.ResolvedAt = &resolvedAt.Time
	}
	if resolutionMethod.Valid {
		s.ResolutionMethod = &resolutionMethod.String
	}
	if alertID.Valid {
		s.AlertID = &alertID.String
	}
	if escalationAlertID.Valid {
		s.EscalationAlertID = &escalationAlertID.String
	}
}
