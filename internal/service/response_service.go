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

// ResponseService 回应记录服务
// 患者对 check-in 的回复、照护者/管理员的手动撤销都从这里收口
type ResponseService struct {
	sessionsRepo *repository.SessionsRepository
	alertsRepo   *repository.AlertsRepository
	alertCache   *consumer.AlertCache
	logger       *zap.Logger

	// 测试注入点
	nowFunc func() time.Time
}

// NewResponseService 创建回应记录服务
func NewResponseService(
	sessionsRepo *repository.SessionsRepository,
	alertsRepo *repository.AlertsRepository,
	alertCache *consumer.AlertCache,
	logger *zap.Logger,
) *ResponseService {
	return &ResponseService{
		sessionsRepo: sessionsRepo,
		alertsRepo:   alertsRepo,
		alertCache:   alertCache,
		logger:       logger,
		nowFunc:      time.Now,
	}
}

// ResponseResult 回应处理结果
type ResponseResult struct {
	SessionID      string `json:"session_id"`
	AlertsResolved int    `json:"alerts_resolved"`
}

// RecordResponse 记录患者对 check-in 的回应
// 没有待回应的 check-in 时返回 not_found，这是预期中的正常情况
// （例如照护者已经手动处理），调用方不应视为故障。
// 竞态说明：如果升级通知恰好并发发出，已发出的通知无法撤回，
// 会话和报警仍然被显式解决——事后的良性误报，不是错误。
func (s *ResponseService) RecordResponse(ctx context.Context, patientID, responseText string) (*ResponseResult, error) {
	if patientID == "" {
		return nil, apperrors.NewValidationError("patient_id is required", nil)
	}

	now := s.nowFunc()

	session, err := s.sessionsRepo.ResolveByResponse(ctx, patientID, now)
	if err != nil {
		return nil, err
	}

	note := "patient responded to check-in"
	if responseText != "" {
		note = "patient responded: " + responseText
	}

	resolved, err := s.alertsRepo.ResolveBySession(ctx, session.SessionID, note, now)
	if err != nil {
		s.logger.Error("Session resolved but alert resolution failed",
			zap.String("session_id", session.SessionID),
			zap.Error(err),
		)
		resolved = 0
	}

	s.invalidateCache(ctx, patientID)

	s.logger.Info("Check-in response recorded",
		zap.String("session_id", session.SessionID),
		zap.String("patient_id", patientID),
		zap.Int("alerts_resolved", resolved),
	)

	return &ResponseResult{
		SessionID:      session.SessionID,
		AlertsResolved: resolved,
	}, nil
}

// DismissSession 手动撤销会话（照护者或管理员）
func (s *ResponseService) DismissSession(ctx context.Context, sessionID, dismissedBy string, admin bool) (*ResponseResult, error) {
	if sessionID == "" {
		return nil, apperrors.NewValidationError("session_id is required", nil)
	}
	if dismissedBy == "" {
		return nil, apperrors.NewValidationError("dismissed_by is required", nil)
	}

	method := models.ResolutionCaregiverDismissed
	if admin {
		method = models.ResolutionAdminDismissed
	}

	now := s.nowFunc()

	session, err := s.sessionsRepo.DismissSession(ctx, sessionID, method, now)
	if err != nil {
		return nil, err
	}

	resolved, err := s.alertsRepo.ResolveBySession(ctx, session.SessionID,
		"dismissed by "+dismissedBy, now)
	if err != nil {
		s.logger.Error("Session dismissed but alert resolution failed",
			zap.String("session_id", session.SessionID),
			zap.Error(err),
		)
		resolved = 0
	}

	s.invalidateCache(ctx, session.PatientID)

	s.logger.Info("Session dismissed",
		zap.String("session_id", session.SessionID),
		zap.String("dismissed_by", dismissedBy),
		zap.String("method", method),
	)

	return &ResponseResult{
		SessionID:      session.SessionID,
		AlertsResolved: resolved,
	}, nil
}

func (s *ResponseService) invalidateCache(ctx context.Context, patientID string) {
	if s.alertCache == nil {
		return
	}
	if err := s.alertCache.InvalidateActiveAlerts(ctx, patientID); err != nil {
		s.logger.Warn("Failed to invalidate alert cache",
			zap.String("patient_id", patientID),
			zap.Error(err),
		)
	}
}
