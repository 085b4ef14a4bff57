package notifier

import (
	"context"
	"time"

	"wisefido-inactivity/internal/apperrors"
	"wisefido-inactivity/internal/config"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Notifier 通知投递接口
// 投递机制（push/SMS/chat）由下游通知服务负责，本服务只负责触发
type Notifier interface {
	Send(ctx context.Context, alertID string, caregiverIDs []string, messageKind string) error
}

// NoopNotifier 空实现（未配置 webhook 或测试环境）
type NoopNotifier struct {
	logger *zap.Logger
}

// NewNoopNotifier 创建空通知器
func NewNoopNotifier(logger *zap.Logger) *NoopNotifier {
	return &NoopNotifier{logger: logger}
}

func (n *NoopNotifier) Send(ctx context.Context, alertID string, caregiverIDs []string, messageKind string) error {
	n.logger.Info("Notifier disabled, skipping delivery",
		zap.String("alert_id", alertID),
		zap.String("message_kind", messageKind),
		zap.Int("caregiver_count", len(caregiverIDs)),
	)
	return nil
}

// WebhookNotifier 通过 HTTP webhook 投递到下游通知服务
type WebhookNotifier struct {
	client *resty.Client
	url    string
	logger *zap.Logger
}

// deliveryPayload webhook 请求体
type deliveryPayload struct {
	AlertID      string   `json:"alert_id"`
	CaregiverIDs []string `json:"caregiver_ids"`
	MessageKind  string   `json:"message_kind"`
	SentAt       int64    `json:"sent_at"`
}

// NewWebhookNotifier 创建 webhook 通知器
func NewWebhookNotifier(cfg *config.Config, logger *zap.Logger) *WebhookNotifier {
	client := resty.New().
		SetTimeout(time.Duration(cfg.Notifier.Timeout) * time.Second).
		SetRetryCount(cfg.Notifier.RetryCount)

	return &WebhookNotifier{
		client: client,
		url:    cfg.Notifier.WebhookURL,
		logger: logger,
	}
}

// Send 投递通知
// 失败返回 delivery 错误，调用方只记录日志，绝不回滚报警状态
func (n *WebhookNotifier) Send(ctx context.Context, alertID string, caregiverIDs []string, messageKind string) error {
	payload := deliveryPayload{
		AlertID:      alertID,
		CaregiverIDs: caregiverIDs,
		MessageKind:  messageKind,
		SentAt:       time.Now().Unix(),
	}

	resp, err := n.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(n.url)

	if err != nil {
		return apperrors.NewDeliveryError("failed to deliver notification: "+alertID, err)
	}
	if resp.IsError() {
		return apperrors.NewDeliveryError("notification endpoint returned "+resp.Status(), nil)
	}

	n.logger.Info("Notification delivered",
		zap.String("alert_id", alertID),
		zap.String("message_kind", messageKind),
		zap.Int("caregiver_count", len(caregiverIDs)),
	)

	return nil
}
