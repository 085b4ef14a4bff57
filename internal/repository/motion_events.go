package repository

import (
	"context"
	"database/sql"

	"wisefido-inactivity/internal/apperrors"
	"wisefido-inactivity/internal/models"

	"go.uber.org/zap"
)

// MotionEventsRepository 运动事件仓库（只追加的审计日志）
type MotionEventsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewMotionEventsRepository 创建运动事件仓库
func NewMotionEventsRepository(db *sql.DB, logger *zap.Logger) *MotionEventsRepository {
	return &MotionEventsRepository{
		db:     db,
		logger: logger,
	}
}

// InsertMotionEvent 写入运动事件
// 审计先行：任何会话决策之前必须先落盘，保证每个决策都可从日志重建。
// 精确重试产生的重复记录是可接受的（审计用途）。
func (r *MotionEventsRepository) InsertMotionEvent(ctx context.Context, event *models.MotionEvent) error {
	if event == nil {
		return apperrors.NewValidationError("event is required", nil)
	}

	query := `
		INSERT INTO motion_events (
			event_id,
			device_id,
			patient_id,
			detection_state,
			sensor_timestamp,
			recorded_at,
			raw_payload,
			processed
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)
	`

	rawPayload := event.RawPayload
	if rawPayload == "" {
		rawPayload = "{}"
	}

	_, err := r.db.ExecContext(ctx, query,
		event.EventID,
		event.DeviceID,
		event.PatientID,
		event.DetectionState,
		event.SensorTimestamp,
		event.RecordedAt,
		rawPayload,
		event.Processed,
	)

	if err != nil {
		return apperrors.NewTransientError("failed to insert motion event", err)
	}

	return nil
}

// MarkEventProcessed 标记事件已处理（事件记录中唯一允许的变更）
func (r *MotionEventsRepository) MarkEventProcessed(ctx context.Context, eventID string) error {
	if eventID == "" {
		return apperrors.NewValidationError("event_id is required", nil)
	}

	query := `UPDATE motion_events SET processed = TRUE WHERE event_id = $1`

	if _, err := r.db.ExecContext(ctx, query, eventID); err != nil {
		return apperrors.NewTransientError("failed to mark event processed", err)
	}
	return nil
}

// ListRecentEvents 查询设备最近的事件（审计视图）
func (r *MotionEventsRepository) ListRecentEvents(ctx context.Context, deviceID string, limit int) ([]models.MotionEvent, error) {
	if deviceID == "" {
		return nil, apperrors.NewValidationError("device_id is required", nil)
	}
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT
			event_id,
			device_id,
			patient_id,
			detection_state,
			sensor_timestamp,
			recorded_at,
			raw_payload,
			processed
		FROM motion_events
		WHERE device_id = $1
		ORDER BY recorded_at DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, deviceID, limit)
	if err != nil {
		return nil, apperrors.NewTransientError("failed to list motion events", err)
	}
	defer rows.Close()

	var events []models.MotionEvent
	for rows.Next() {
		var event models.MotionEvent
		if err := rows.Scan(
			&event.EventID,
			&event.DeviceID,
			&event.PatientID,
			&event.DetectionState,
			&event.SensorTimestamp,
			&event.RecordedAt,
			&event.RawPayload,
			&event.Processed,
		); err != nil {
			return nil, apperrors.NewInternalError("failed to scan motion event", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewTransientError("failed to iterate motion events", err)
	}

	return events, nil
}
