package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"wisefido-inactivity/internal/config"
	"wisefido-inactivity/internal/models"
	"wisefido-inactivity/internal/mqtt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// MQTTConsumer MQTT 接入桥
// 订阅传感器的在离场主题，归一化后转发到事件流，
// 由 StreamConsumer 统一入库（与其他接入通道共用同一条路径）
type MQTTConsumer struct {
	config      *config.Config
	mqttClient  *mqtt.Client
	redisClient *redis.Client
	logger      *zap.Logger
}

// mqttPresencePayload 传感器上报的原始在离场消息
// topic 形如 presence/<serial>/state
type mqttPresencePayload struct {
	Serial    string `json:"serial,omitempty"` // 可选，缺省时从 topic 提取
	State     string `json:"state"`            // "present" / "absent" 或 DETECTED / NOT_DETECTED
	Timestamp int64  `json:"timestamp"`        // 传感器时间（unix 秒）
}

// NewMQTTConsumer 创建 MQTT 接入桥
func NewMQTTConsumer(
	cfg *config.Config,
	mqttClient *mqtt.Client,
	redisClient *redis.Client,
	logger *zap.Logger,
) *MQTTConsumer {
	return &MQTTConsumer{
		config:      cfg,
		mqttClient:  mqttClient,
		redisClient: redisClient,
		logger:      logger,
	}
}

// Start 订阅在离场主题
func (c *MQTTConsumer) Start(ctx context.Context) error {
	topic := c.config.MQTT.Topic

	err := c.mqttClient.Subscribe(topic, c.config.MQTT.QoS, func(topic string, payload []byte) error {
		return c.handleMessage(ctx, topic, payload)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe presence topic: %w", err)
	}

	c.logger.Info("MQTT consumer started",
		zap.String("topic", topic),
	)

	return nil
}

// Stop 取消订阅
func (c *MQTTConsumer) Stop() {
	if err := c.mqttClient.Unsubscribe(c.config.MQTT.Topic); err != nil {
		c.logger.Warn("Failed to unsubscribe", zap.Error(err))
	}
}

// handleMessage 归一化单条 MQTT 消息并转发到事件流
func (c *MQTTConsumer) handleMessage(ctx context.Context, topic string, payload []byte) error {
	var raw mqttPresencePayload
	if err := json.Unmarshal(payload, &raw); err != nil {
		return fmt.Errorf("failed to unmarshal presence payload: %w", err)
	}

	serial := raw.Serial
	if serial == "" {
		serial = serialFromTopic(topic)
	}
	if serial == "" {
		return fmt.Errorf("cannot determine sensor serial from topic: %s", topic)
	}

	state, err := normalizeDetectionState(raw.State)
	if err != nil {
		return err
	}

	sensorTime := time.Now()
	if raw.Timestamp > 0 {
		sensorTime = time.Unix(raw.Timestamp, 0)
	}

	req := &models.IngestRequest{
		Serial:          serial,
		DetectionState:  state,
		SensorTimestamp: sensorTime,
		RawPayload:      string(payload),
	}

	if _, err := PublishEventToStream(ctx, c.redisClient, c.config.Monitor.Stream, req); err != nil {
		return fmt.Errorf("failed to forward presence event: %w", err)
	}

	c.logger.Debug("Presence event forwarded",
		zap.String("serial", serial),
		zap.String("state", state),
	)

	return nil
}

// serialFromTopic 从 presence/<serial>/state 提取序列号
func serialFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) >= 2 {
		return parts[1]
	}
	return ""
}

// normalizeDetectionState 统一各厂商的在离场表示
func normalizeDetectionState(state string) (string, error) {
	switch strings.ToLower(state) {
	case "present", "detected", "motion", "occupied":
		return models.DetectionDetected, nil
	case "absent", "not_detected", "no_motion", "vacant":
		return models.DetectionNotDetected, nil
	default:
		return "", fmt.Errorf("unknown detection state: %s", state)
	}
}
