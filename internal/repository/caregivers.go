package repository

import (
	"context"
	"database/sql"

	"wisefido-inactivity/internal/apperrors"

	"go.uber.org/zap"
)

// CaregiverRepository 照护关系仓库
// 平台的权限判定方：提供某位患者的报警接收人集合
type CaregiverRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewCaregiverRepository 创建照护关系仓库
func NewCaregiverRepository(db *sql.DB, logger *zap.Logger) *CaregiverRepository {
	return &CaregiverRepository{
		db:     db,
		logger: logger,
	}
}

// AuthorizedCaregivers 查询有权接收报警的照护者
// 条件：照护关系处于 active 且开启了 receive_alerts
func (r *CaregiverRepository) AuthorizedCaregivers(ctx context.Context, patientID string) ([]string, error) {
	if patientID == "" {
		return nil, apperrors.NewValidationError("patient_id is required", nil)
	}

	query := `
		SELECT caregiver_id
		FROM care_relationships
		WHERE patient_id = $1
		  AND status = 'active'
		  AND receive_alerts = TRUE
		ORDER BY caregiver_id
	`

	rows, err := r.db.QueryContext(ctx, query, patientID)
	if err != nil {
		return nil, apperrors.NewTransientError("failed to query authorized caregivers", err)
	}
	defer rows.Close()

	var caregiverIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperrors.NewInternalError("failed to scan caregiver id", err)
		}
		caregiverIDs = append(caregiverIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewTransientError("failed to iterate caregivers", err)
	}

	return caregiverIDs, nil
}

// HasActiveRelationship 判断照护者与患者之间是否存在有效照护关系
func (r *CaregiverRepository) HasActiveRelationship(ctx context.Context, caregiverID, patientID string) (bool, error) {
	if caregiverID == "" || patientID == "" {
		return false, apperrors.NewValidationError("caregiver_id and patient_id are required", nil)
	}

	query := `
		SELECT 1
		FROM care_relationships
		WHERE caregiver_id = $1
		  AND patient_id = $2
		  AND status = 'active'
	`

	var one int
	err := r.db.QueryRowContext(ctx, query, caregiverID, patientID).Scan(&one)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, apperrors.NewTransientError("failed to check care relationship", err)
	}

	return true, nil
}
