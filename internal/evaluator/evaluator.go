package evaluator

import (
	"context"
	"fmt"
	"time"

	"wisefido-inactivity/internal/config"
	"wisefido-inactivity/internal/dispatcher"
	"wisefido-inactivity/internal/models"
	"wisefido-inactivity/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Evaluator 阈值评估器
// 周期性扫描所有未解决会话，推进超过阈值的会话状态。
// 每次扫描重新读取持久化状态，不在内存中保留任何跨扫描数据，
// 因此进程重启不丢失进度，取消只需要赢得行上的竞争。
type Evaluator struct {
	config       *config.Config
	sessionsRepo *repository.SessionsRepository
	dispatcher   *dispatcher.Dispatcher
	logger       *zap.Logger

	// 测试注入点
	nowFunc func() time.Time
}

// NewEvaluator 创建评估器
func NewEvaluator(
	cfg *config.Config,
	sessionsRepo *repository.SessionsRepository,
	d *dispatcher.Dispatcher,
	logger *zap.Logger,
) *Evaluator {
	return &Evaluator{
		config:       cfg,
		sessionsRepo: sessionsRepo,
		dispatcher:   d,
		logger:       logger,
		nowFunc:      time.Now,
	}
}

// SweepResult 单次扫描结果
type SweepResult struct {
	SessionsChecked int `json:"sessions_checked"`
	AlertsCreated   int `json:"alerts_created"`
	CheckInsSent    int `json:"check_ins_sent"`
	EscalationsSent int `json:"escalations_sent"`
}

// RunSweep 执行一次阈值扫描
// 幂等：每个状态推进都以目标字段为条件，重复/并发执行最多生效一次
func (e *Evaluator) RunSweep(ctx context.Context) (*SweepResult, error) {
	sessions, err := e.sessionsRepo.ListOpenSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list open sessions: %w", err)
	}

	result := &SweepResult{SessionsChecked: len(sessions)}

	batchSize := e.config.Monitor.BatchSize
	if batchSize <= 0 {
		batchSize = 50
	}

	for i := 0; i < len(sessions); i += batchSize {
		end := i + batchSize
		if end > len(sessions) {
			end = len(sessions)
		}

		for _, info := range sessions[i:end] {
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			default:
			}

			if err := e.evaluateSession(ctx, info, result); err != nil {
				e.logger.Error("Failed to evaluate session",
					zap.String("session_id", info.Session.SessionID),
					zap.Error(err),
				)
				// 单个会话失败不中断扫描，下一轮会重试
			}
		}
	}

	return result, nil
}

// evaluateSession 评估单个会话的两个阶段
func (e *Evaluator) evaluateSession(ctx context.Context, info repository.OpenSessionInfo, result *SweepResult) error {
	s := info.Session
	now := e.nowFunc()

	// 阶段1：静默达到阈值，发出 check-in
	if s.AlertCreatedAt == nil {
		elapsed := now.Sub(s.StartedAt)
		if elapsed >= time.Duration(s.ThresholdSeconds)*time.Second {
			return e.sendCheckIn(ctx, info, now, result)
		}
		return nil
	}

	// 阶段2：check-in 已发出但未回应，升级窗口到期后通知照护者
	if s.CheckInSentAt != nil && s.CheckInResponseAt == nil && s.EscalationSentAt == nil {
		elapsed := now.Sub(*s.CheckInSentAt)
		if elapsed >= time.Duration(s.EscalationMinutes)*time.Minute {
			return e.sendEscalation(ctx, info, now, result)
		}
	}

	return nil
}

// sendCheckIn 第一阶段推进：先条件占位，占到才创建报警并触发投递
func (e *Evaluator) sendCheckIn(ctx context.Context, info repository.OpenSessionInfo, now time.Time, result *SweepResult) error {
	s := info.Session
	alertID := uuid.New().String()

	claimed, err := e.sessionsRepo.MarkCheckInSent(ctx, s.SessionID, alertID, now)
	if err != nil {
		return err
	}
	if !claimed {
		// 并发扫描或刚刚被解决，本轮不再处理
		return nil
	}

	alert, err := e.dispatcher.Dispatch(ctx, dispatcher.DispatchInput{
		AlertID:     alertID,
		PatientID:   s.PatientID,
		DeviceID:    s.DeviceID,
		SessionID:   s.SessionID,
		AlertType:   models.AlertTypeInactivity,
		Severity:    models.SeverityMedium,
		Title:       "Inactivity detected",
		Message: fmt.Sprintf("No motion detected by %s (%s) for %d seconds",
			info.DeviceName, info.Location, s.ThresholdSeconds),
		MessageKind: models.MessageKindCheckInPrompt,
		Now:         now,
	})
	if err != nil {
		// 会话已登记 check_in_sent，alert_created_at 守卫会挡住重发；
		// 升级窗口到期后第二阶段照常触发，照护者通知不会丢
		return fmt.Errorf("check-in claimed but alert creation failed: %w", err)
	}

	result.AlertsCreated++
	result.CheckInsSent++

	e.logger.Info("Check-in sent",
		zap.String("session_id", s.SessionID),
		zap.String("alert_id", alert.AlertID),
		zap.String("device", info.DeviceSerial),
	)

	return nil
}

// sendEscalation 第二阶段推进：无回应升级，守卫保证恰好触发一次
func (e *Evaluator) sendEscalation(ctx context.Context, info repository.OpenSessionInfo, now time.Time, result *SweepResult) error {
	s := info.Session
	alertID := uuid.New().String()

	claimed, err := e.sessionsRepo.MarkEscalated(ctx, s.SessionID, alertID, now)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	alert, err := e.dispatcher.Dispatch(ctx, dispatcher.DispatchInput{
		AlertID:     alertID,
		PatientID:   s.PatientID,
		DeviceID:    s.DeviceID,
		SessionID:   s.SessionID,
		AlertType:   models.AlertTypeInactivityEscalation,
		Severity:    models.SeverityCritical,
		Title:       "No response to check-in",
		Message: fmt.Sprintf("Check-in for %s (%s) unanswered after %d minutes",
			info.DeviceName, info.Location, s.EscalationMinutes),
		MessageKind: models.MessageKindEscalationNotice,
		Now:         now,
	})
	if err != nil {
		return fmt.Errorf("escalation claimed but alert creation failed: %w", err)
	}

	result.AlertsCreated++
	result.EscalationsSent++

	e.logger.Warn("Escalation sent",
		zap.String("session_id", s.SessionID),
		zap.String("alert_id", alert.AlertID),
		zap.String("device", info.DeviceSerial),
	)

	return nil
}
