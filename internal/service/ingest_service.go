package service

import (
	"context"
	"time"

	"wisefido-inactivity/internal/apperrors"
	"wisefido-inactivity/internal/consumer"
	"wisefido-inactivity/internal/models"
	"wisefido-inactivity/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// IngestService 事件入库服务
// 处理顺序固定：审计先行（MotionEvent 必须先落盘），再推进会话状态，
// 保证每个决策都可以从事件日志重建
type IngestService struct {
	deviceRepo   *repository.DeviceRepository
	eventsRepo   *repository.MotionEventsRepository
	sessionsRepo *repository.SessionsRepository
	alertsRepo   *repository.AlertsRepository
	alertCache   *consumer.AlertCache
	logger       *zap.Logger

	// 测试注入点
	nowFunc func() time.Time
}

// NewIngestService 创建入库服务
func NewIngestService(
	deviceRepo *repository.DeviceRepository,
	eventsRepo *repository.MotionEventsRepository,
	sessionsRepo *repository.SessionsRepository,
	alertsRepo *repository.AlertsRepository,
	alertCache *consumer.AlertCache,
	logger *zap.Logger,
) *IngestService {
	return &IngestService{
		deviceRepo:   deviceRepo,
		eventsRepo:   eventsRepo,
		sessionsRepo: sessionsRepo,
		alertsRepo:   alertsRepo,
		alertCache:   alertCache,
		logger:       logger,
		nowFunc:      time.Now,
	}
}

// Ingest 处理一条归一化的在离场事件
func (s *IngestService) Ingest(ctx context.Context, req *models.IngestRequest) (*models.IngestResult, error) {
	if req == nil {
		return nil, apperrors.NewValidationError("request is required", nil)
	}
	if req.Serial == "" {
		return nil, apperrors.NewValidationError("serial is required", nil)
	}
	if req.DetectionState != models.DetectionDetected && req.DetectionState != models.DetectionNotDetected {
		return nil, apperrors.NewValidationError("invalid detection_state: "+req.DetectionState, nil)
	}

	device, err := s.deviceRepo.GetDeviceBySerial(ctx, req.Serial)
	if err != nil {
		return nil, err
	}
	if !device.IsActive {
		return nil, apperrors.NewNotFoundError("device is deactivated: "+req.Serial, nil)
	}

	now := s.nowFunc()
	sensorTime := req.SensorTimestamp
	if sensorTime.IsZero() {
		sensorTime = now
	}

	// 审计先行：事件必须先落盘
	event := &models.MotionEvent{
		EventID:         uuid.New().String(),
		DeviceID:        device.DeviceID,
		PatientID:       device.PatientID,
		DetectionState:  req.DetectionState,
		SensorTimestamp: sensorTime,
		RecordedAt:      now,
		RawPayload:      req.RawPayload,
	}
	if err := s.eventsRepo.InsertMotionEvent(ctx, event); err != nil {
		return nil, err
	}

	if err := s.deviceRepo.UpdateLastEventAt(ctx, device.DeviceID, now); err != nil {
		// 非关键路径，记录后继续
		s.logger.Warn("Failed to update last_event_at",
			zap.String("device_id", device.DeviceID),
			zap.Error(err),
		)
	}

	var result *models.IngestResult
	switch req.DetectionState {
	case models.DetectionDetected:
		result, err = s.handleMotionDetected(ctx, device, now)
	case models.DetectionNotDetected:
		result, err = s.handleMotionAbsent(ctx, device, now)
	}
	if err != nil {
		return nil, err
	}
	result.EventID = event.EventID

	if err := s.eventsRepo.MarkEventProcessed(ctx, event.EventID); err != nil {
		s.logger.Warn("Failed to mark event processed",
			zap.String("event_id", event.EventID),
			zap.Error(err),
		)
	}

	return result, nil
}

// handleMotionDetected 运动恢复：解决未解决会话（若有），幂等
func (s *IngestService) handleMotionDetected(ctx context.Context, device *models.Device, now time.Time) (*models.IngestResult, error) {
	session, err := s.sessionsRepo.ResolveByMotion(ctx, device.DeviceID, now)
	if err != nil {
		return nil, err
	}
	if session == nil {
		// 没有进行中的会话，重复 DETECTED 是无害的
		return &models.IngestResult{Action: models.ActionMotionDetected}, nil
	}

	resolved, err := s.alertsRepo.ResolveBySession(ctx, session.SessionID,
		"motion resumed, automatically resolved", now)
	if err != nil {
		// 会话已解决，报警收尾失败留给下一次写方或人工处理
		s.logger.Error("Session resolved but alert resolution failed",
			zap.String("session_id", session.SessionID),
			zap.Error(err),
		)
	} else if resolved > 0 {
		s.invalidateCache(ctx, device.PatientID)
	}

	s.logger.Info("Session resolved by motion",
		zap.String("session_id", session.SessionID),
		zap.String("device_id", device.DeviceID),
		zap.Int("alerts_resolved", resolved),
	)

	return &models.IngestResult{
		Action:    models.ActionMotionDetected,
		SessionID: session.SessionID,
	}, nil
}

// handleMotionAbsent 无人状态：不存在未解决会话时打开新会话
// 重复的 NOT_DETECTED 绝不能打开第二个会话，原子性由
// OpenSession 的 ON CONFLICT + 部分唯一索引保证
func (s *IngestService) handleMotionAbsent(ctx context.Context, device *models.Device, now time.Time) (*models.IngestResult, error) {
	session := &models.InactivitySession{
		SessionID: uuid.New().String(),
		DeviceID:  device.DeviceID,
		PatientID: device.PatientID,
		StartedAt: now,
		// 打开时冻结阈值快照，之后的设备配置修改不影响本次会话
		ThresholdSeconds:  device.InactivityThresholdSec,
		EscalationMinutes: device.EscalationWindowMin,
		Status:            models.SessionStatusMonitoring,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	opened, err := s.sessionsRepo.OpenSession(ctx, session)
	if err != nil {
		return nil, err
	}

	if !opened {
		return &models.IngestResult{Action: models.ActionMonitoringOngoing}, nil
	}

	s.logger.Info("Monitoring session started",
		zap.String("session_id", session.SessionID),
		zap.String("device_id", device.DeviceID),
		zap.Int("threshold_seconds", session.ThresholdSeconds),
	)

	return &models.IngestResult{
		Action:    models.ActionMonitoringStarted,
		SessionID: session.SessionID,
	}, nil
}

func (s *IngestService) invalidateCache(ctx context.Context, patientID string) {
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
