package service

import (
	"context"
	"time"

	"wisefido-inactivity/internal/apperrors"
	"wisefido-inactivity/internal/consumer"
	"wisefido-inactivity/internal/models"
	"wisefido-inactivity/internal/repository"

	"go.uber.org/zap"
)

// AlertService 报警查询与确认服务
type AlertService struct {
	alertsRepo *repository.AlertsRepository
	alertCache *consumer.AlertCache
	logger     *zap.Logger
}

// NewAlertService 创建报警服务
func NewAlertService(
	alertsRepo *repository.AlertsRepository,
	alertCache *consumer.AlertCache,
	logger *zap.Logger,
) *AlertService {
	return &AlertService{
		alertsRepo: alertsRepo,
		alertCache: alertCache,
		logger:     logger,
	}
}

// Acknowledge 确认报警（active → acknowledged）
func (s *AlertService) Acknowledge(ctx context.Context, alertID, userID string) error {
	acknowledged, err := s.alertsRepo.AcknowledgeAlert(ctx, alertID, userID, time.Now())
	if err != nil {
		return err
	}
	if !acknowledged {
		return apperrors.NewNotFoundError("no active alert to acknowledge: "+alertID, nil)
	}

	s.logger.Info("Alert acknowledged",
		zap.String("alert_id", alertID),
		zap.String("user_id", userID),
	)

	return nil
}

// ListActiveByPatient 查询患者未结报警，优先走缓存
func (s *AlertService) ListActiveByPatient(ctx context.Context, patientID string) ([]models.Alert, error) {
	if patientID == "" {
		return nil, apperrors.NewValidationError("patient_id is required", nil)
	}

	if s.alertCache != nil {
		if alerts, hit, err := s.alertCache.GetActiveAlerts(ctx, patientID); err == nil && hit {
			return alerts, nil
		}
	}

	alerts, err := s.alertsRepo.ListActiveAlertsByPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}

	if s.alertCache != nil {
		if err := s.alertCache.UpdateActiveAlerts(ctx, patientID, alerts); err != nil {
			s.logger.Debug("Failed to backfill alert cache", zap.Error(err))
		}
	}

	return alerts, nil
}
