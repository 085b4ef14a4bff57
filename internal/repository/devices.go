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

// DeviceRepository 设备仓库
type DeviceRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDeviceRepository 创建设备仓库
func NewDeviceRepository(db *sql.DB, logger *zap.Logger) *DeviceRepository {
	return &DeviceRepository{
		db:     db,
		logger: logger,
	}
}

const deviceColumns = `
	device_id,
	patient_id,
	serial_number,
	device_name,
	location,
	is_active,
	inactivity_threshold_sec,
	escalation_window_min,
	last_event_at,
	created_at,
	updated_at
`

// CreateDevice 创建设备，序列号重复时返回 conflict
func (r *DeviceRepository) CreateDevice(ctx context.Context, device *models.Device) error {
	if device == nil {
		return apperrors.NewValidationError("device is required", nil)
	}

	query := `
		INSERT INTO devices (
			device_id,
			patient_id,
			serial_number,
			device_name,
			location,
			is_active,
			inactivity_threshold_sec,
			escalation_window_min,
			created_at,
			updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
	`

	_, err := r.db.ExecContext(ctx, query,
		device.DeviceID,
		device.PatientID,
		device.SerialNumber,
		device.DeviceName,
		device.Location,
		device.IsActive,
		device.InactivityThresholdSec,
		device.EscalationWindowMin,
		device.CreatedAt,
		device.UpdatedAt,
	)

	if err != nil {
		// 23505 = unique_violation（serial_number 重复）
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return apperrors.NewConflictError("device serial already registered: "+device.SerialNumber, err)
		}
		return apperrors.NewTransientError("failed to create device", err)
	}

	return nil
}

// GetDeviceBySerial 按序列号查询设备
func (r *DeviceRepository) GetDeviceBySerial(ctx context.Context, serial string) (*models.Device, error) {
	if serial == "" {
		return nil, apperrors.NewValidationError("serial_number is required", nil)
	}

	query := `SELECT ` + deviceColumns + ` FROM devices WHERE serial_number = $1`
	return r.scanDevice(r.db.QueryRowContext(ctx, query, serial), "serial="+serial)
}

// GetDevice 按ID查询设备
func (r *DeviceRepository) GetDevice(ctx context.Context, deviceID string) (*models.Device, error) {
	if deviceID == "" {
		return nil, apperrors.NewValidationError("device_id is required", nil)
	}

	query := `SELECT ` + deviceColumns + ` FROM devices WHERE device_id = $1`
	return r.scanDevice(r.db.QueryRowContext(ctx, query, deviceID), "device_id="+deviceID)
}

// ListDevicesByPatient 查询患者名下的设备
func (r *DeviceRepository) ListDevicesByPatient(ctx context.Context, patientID string) ([]models.Device, error) {
	if patientID == "" {
		return nil, apperrors.NewValidationError("patient_id is required", nil)
	}

	query := `SELECT ` + deviceColumns + ` FROM devices WHERE patient_id = $1 ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, patientID)
	if err != nil {
		return nil, apperrors.NewTransientError("failed to list devices", err)
	}
	defer rows.Close()

	var devices []models.Device
	for rows.Next() {
		device, err := scanDeviceRow(rows)
		if err != nil {
			return nil, apperrors.NewInternalError("failed to scan device", err)
		}
		devices = append(devices, *device)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewTransientError("failed to iterate devices", err)
	}

	return devices, nil
}

// DeactivateDevice 软停用设备
// 注意：刻意不自动解决进行中的会话，静默一条进行中的紧急事件比留着它更糟
func (r *DeviceRepository) DeactivateDevice(ctx context.Context, deviceID string, now time.Time) error {
	if deviceID == "" {
		return apperrors.NewValidationError("device_id is required", nil)
	}

	query := `UPDATE devices SET is_active = FALSE, updated_at = $2 WHERE device_id = $1`

	result, err := r.db.ExecContext(ctx, query, deviceID, now)
	if err != nil {
		return apperrors.NewTransientError("failed to deactivate device", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return apperrors.NewInternalError("failed to get rows affected", err)
	}
	if rows == 0 {
		return apperrors.NewNotFoundError("device not found: "+deviceID, nil)
	}

	return nil
}

// UpdateThresholds 更新阈值配置，只影响之后打开的会话
func (r *DeviceRepository) UpdateThresholds(ctx context.Context, deviceID string, thresholdSec, escalationMin int, now time.Time) error {
	if deviceID == "" {
		return apperrors.NewValidationError("device_id is required", nil)
	}

	query := `
		UPDATE devices
		SET inactivity_threshold_sec = $2,
		    escalation_window_min = $3,
		    updated_at = $4
		WHERE device_id = $1
	`

	result, err := r.db.ExecContext(ctx, query, deviceID, thresholdSec, escalationMin, now)
	if err != nil {
		return apperrors.NewTransientError("failed to update thresholds", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return apperrors.NewInternalError("failed to get rows affected", err)
	}
	if rows == 0 {
		return apperrors.NewNotFoundError("device not found: "+deviceID, nil)
	}

	return nil
}

// UpdateLastEventAt 更新设备最后一次上报时间
func (r *DeviceRepository) UpdateLastEventAt(ctx context.Context, deviceID string, eventAt time.Time) error {
	query := `UPDATE devices SET last_event_at = $2, updated_at = $2 WHERE device_id = $1`

	if _, err := r.db.ExecContext(ctx, query, deviceID, eventAt); err != nil {
		return apperrors.NewTransientError("failed to update last_event_at", err)
	}
	return nil
}

type deviceScanner interface {
	Scan(dest ...interface{}) error
}

func (r *DeviceRepository) scanDevice(row deviceScanner, ref string) (*models.Device, error) {
	device, err := scanDeviceRow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.NewNotFoundError("device not found: "+ref, err)
		}
		return nil, apperrors.NewTransientError("failed to get device", err)
	}
	return device, nil
}

func scanDeviceRow(row deviceScanner) (*models.Device, error) {
	var device models.Device
	var lastEventAt sql.NullTime

	err := row.Scan(
		&device.DeviceID,
		&device.PatientID,
		&device.SerialNumber,
		&device.DeviceName,
		&device.Location,
		&device.IsActive,
		&device.InactivityThresholdSec,
		&device.EscalationWindowMin,
		&lastEventAt,
		&device.CreatedAt,
		&device.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if lastEventAt.Valid {
		device.LastEventAt = &lastEventAt.Time
	}

	return &device, nil
}
