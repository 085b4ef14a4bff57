package dispatcher

import (
	"context"
	"encoding/json"
	"time"

	"wisefido-inactivity/internal/consumer"
	"wisefido-inactivity/internal/models"
	"wisefido-inactivity/internal/notifier"
	"wisefido-inactivity/internal/repository"

	"go.uber.org/zap"
)

// PermissionOracle 报警接收权限判定方
// 默认实现是 repository.CaregiverRepository，部署上也可以换成远端权限服务
type PermissionOracle interface {
	AuthorizedCaregivers(ctx context.Context, patientID string) ([]string, error)
}

// Dispatcher 报警生成与通知分发
// 通知对象集合在报警创建时一次性快照到 notified_caregivers，
// 之后的权限变更不会改写历史记录
type Dispatcher struct {
	alertsRepo *repository.AlertsRepository
	oracle     PermissionOracle
	notifier   notifier.Notifier
	alertCache *consumer.AlertCache
	logger     *zap.Logger
}

// NewDispatcher 创建分发器
func NewDispatcher(
	alertsRepo *repository.AlertsRepository,
	oracle PermissionOracle,
	n notifier.Notifier,
	alertCache *consumer.AlertCache,
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		alertsRepo: alertsRepo,
		oracle:     oracle,
		notifier:   n,
		alertCache: alertCache,
		logger:     logger,
	}
}

// DispatchInput 报警分发输入
type DispatchInput struct {
	AlertID     string // 调用方预生成（会话行上已先行登记）
	PatientID   string
	DeviceID    string
	SessionID   string
	AlertType   string
	Severity    string
	Title       string
	Message     string
	MessageKind string
	Now         time.Time
}

// Dispatch 创建报警并触发通知投递
// 投递失败只记录日志：报警行是持久的事实来源，重投递由下游负责
func (d *Dispatcher) Dispatch(ctx context.Context, in DispatchInput) (*models.Alert, error) {
	caregiverIDs, err := d.oracle.AuthorizedCaregivers(ctx, in.PatientID)
	if err != nil {
		// 权限查询失败不阻塞报警落盘，降级为空集合
		d.logger.Error("Failed to resolve authorized caregivers",
			zap.String("patient_id", in.PatientID),
			zap.Error(err),
		)
		caregiverIDs = nil
	}

	notifiedJSON, err := json.Marshal(caregiverIDs)
	if err != nil {
		notifiedJSON = []byte("[]")
	}

	deviceID := in.DeviceID
	sessionID := in.SessionID
	alert := &models.Alert{
		AlertID:            in.AlertID,
		PatientID:          in.PatientID,
		DeviceID:           &deviceID,
		SessionID:          &sessionID,
		AlertType:          in.AlertType,
		Severity:           in.Severity,
		Status:             models.AlertStatusActive,
		Title:              in.Title,
		Message:            in.Message,
		NotifiedCaregivers: string(notifiedJSON),
		CreatedAt:          in.Now,
		UpdatedAt:          in.Now,
	}

	if err := d.alertsRepo.CreateAlert(ctx, alert); err != nil {
		return nil, err
	}

	d.refreshCache(ctx, in.PatientID)

	if err := d.notifier.Send(ctx, alert.AlertID, caregiverIDs, in.MessageKind); err != nil {
		d.logger.Error("Notification delivery failed, alert remains the durable record",
			zap.String("alert_id", alert.AlertID),
			zap.String("message_kind", in.MessageKind),
			zap.Error(err),
		)
	}

	return alert, nil
}

// refreshCache 用数据库最新状态刷新患者的活跃报警缓存
func (d *Dispatcher) refreshCache(ctx context.Context, patientID string) {
	if d.alertCache == nil {
		return
	}

	alerts, err := d.alertsRepo.ListActiveAlertsByPatient(ctx, patientID)
	if err != nil {
		d.logger.Warn("Failed to load active alerts for cache refresh",
			zap.String("patient_id", patientID),
			zap.Error(err),
		)
		return
	}

	if err := d.alertCache.UpdateActiveAlerts(ctx, patientID, alerts); err != nil {
		d.logger.Warn("Failed to refresh alert cache",
			zap.String("patient_id", patientID),
			zap.Error(err),
		)
	}
}
