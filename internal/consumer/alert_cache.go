package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"wisefido-inactivity/internal/config"
	"wisefido-inactivity/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// AlertCache Redis 活跃报警缓存
// 面向看板的读路径：患者当前未结报警的快照，带短 TTL，
// 过期后由下一次写方刷新，Postgres 始终是事实来源
type AlertCache struct {
	config      *config.Config
	redisClient *redis.Client
	logger      *zap.Logger
}

// NewAlertCache 创建报警缓存
func NewAlertCache(
	cfg *config.Config,
	redisClient *redis.Client,
	logger *zap.Logger,
) *AlertCache {
	return &AlertCache{
		config:      cfg,
		redisClient: redisClient,
		logger:      logger,
	}
}

func (c *AlertCache) key(patientID string) string {
	return fmt.Sprintf("%s%s%s",
		c.config.Monitor.Cache.AlertKeyPrefix,
		patientID,
		c.config.Monitor.Cache.AlertSuffix,
	)
}

// UpdateActiveAlerts 写入患者的活跃报警快照（带 TTL）
func (c *AlertCache) UpdateActiveAlerts(ctx context.Context, patientID string, alerts []models.Alert) error {
	jsonData, err := json.Marshal(alerts)
	if err != nil {
		return fmt.Errorf("failed to marshal alerts: %w", err)
	}

	err = c.redisClient.Set(
		ctx,
		c.key(patientID),
		jsonData,
		time.Duration(c.config.Monitor.Cache.AlertTTL)*time.Second,
	).Err()
	if err != nil {
		return fmt.Errorf("failed to set alert cache: %w", err)
	}

	c.logger.Debug("Updated alert cache",
		zap.String("patient_id", patientID),
		zap.Int("alert_count", len(alerts)),
	)

	return nil
}

// GetActiveAlerts 读取患者的活跃报警快照
// 缓存未命中时返回 (nil, false, nil)，由调用方回源 Postgres
func (c *AlertCache) GetActiveAlerts(ctx context.Context, patientID string) ([]models.Alert, bool, error) {
	val, err := c.redisClient.Get(ctx, c.key(patientID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get alert cache: %w", err)
	}

	var alerts []models.Alert
	if err := json.Unmarshal([]byte(val), &alerts); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal cached alerts: %w", err)
	}

	return alerts, true, nil
}

// InvalidateActiveAlerts 会话/报警解决后失效缓存
func (c *AlertCache) InvalidateActiveAlerts(ctx context.Context, patientID string) error {
	if err := c.redisClient.Del(ctx, c.key(patientID)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate alert cache: %w", err)
	}
	return nil
}
