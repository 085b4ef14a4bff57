package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"wisefido-inactivity/internal/apperrors"
	"wisefido-inactivity/internal/config"
	"wisefido-inactivity/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Ingestor 事件入库接口（由 service.IngestService 实现）
type Ingestor interface {
	Ingest(ctx context.Context, req *models.IngestRequest) (*models.IngestResult, error)
}

// StreamConsumer Redis Streams 消费者
// 消费 webhook 接收端 / MQTT 桥接写入的归一化事件流
type StreamConsumer struct {
	config      *config.Config
	redisClient *redis.Client
	ingestor    Ingestor
	logger      *zap.Logger
}

// NewStreamConsumer 创建 Streams 消费者
func NewStreamConsumer(
	cfg *config.Config,
	redisClient *redis.Client,
	ingestor Ingestor,
	logger *zap.Logger,
) *StreamConsumer {
	return &StreamConsumer{
		config:      cfg,
		redisClient: redisClient,
		ingestor:    ingestor,
		logger:      logger,
	}
}

// Start 启动消费循环
func (c *StreamConsumer) Start(ctx context.Context) error {
	stream := c.config.Monitor.Stream
	group := c.config.Monitor.ConsumerGroup

	if err := createConsumerGroup(ctx, c.redisClient, stream, group); err != nil {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.logger.Info("Stream consumer started",
		zap.String("stream", stream),
		zap.String("consumer_group", group),
		zap.String("consumer_name", c.config.Monitor.ConsumerName),
	)

	backoffDuration := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Stream consumer stopped")
			return nil
		default:
			if err := c.consumeOnce(ctx); err != nil {
				c.logger.Error("Failed to consume stream",
					zap.Error(err),
					zap.Duration("backoff", backoffDuration),
				)

				// 指数退避后重试
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(backoffDuration):
					backoffDuration *= 2
					if backoffDuration > maxBackoff {
						backoffDuration = maxBackoff
					}
				}
			} else {
				backoffDuration = time.Second
			}
		}
	}
}

// consumeOnce 读取并处理一批消息
func (c *StreamConsumer) consumeOnce(ctx context.Context) error {
	messages, err := readFromStream(ctx, c.redisClient,
		c.config.Monitor.Stream,
		c.config.Monitor.ConsumerGroup,
		c.config.Monitor.ConsumerName,
		int64(c.config.Monitor.BatchSize),
	)
	if err != nil {
		return fmt.Errorf("failed to read from stream: %w", err)
	}

	for _, msg := range messages {
		if err := c.processMessage(ctx, msg); err != nil {
			if apperrors.IsTransient(err) {
				// 可重试错误：不 ACK，等待重新投递
				c.logger.Warn("Transient error, message left pending",
					zap.String("message_id", msg.ID),
					zap.Error(err),
				)
				continue
			}
			// 坏消息（格式错误、未知设备）：记录后 ACK，避免毒消息堵塞
			c.logger.Warn("Dropping unprocessable message",
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
		}

		if err := c.redisClient.XAck(ctx,
			c.config.Monitor.Stream,
			c.config.Monitor.ConsumerGroup,
			msg.ID,
		).Err(); err != nil {
			c.logger.Error("Failed to ack message",
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
		}
	}

	return nil
}

// processMessage 解析并入库单条消息
func (c *StreamConsumer) processMessage(ctx context.Context, msg StreamMessage) error {
	data, ok := msg.Values["data"].(string)
	if !ok {
		// 建组时的 init 消息等，直接忽略
		if _, isInit := msg.Values["init"]; isInit {
			return nil
		}
		return apperrors.NewValidationError("stream message missing data field", nil)
	}

	var req models.IngestRequest
	if err := json.Unmarshal([]byte(data), &req); err != nil {
		return apperrors.NewValidationError("failed to unmarshal event", err)
	}

	result, err := c.ingestor.Ingest(ctx, &req)
	if err != nil {
		return err
	}

	c.logger.Debug("Event ingested from stream",
		zap.String("message_id", msg.ID),
		zap.String("serial", req.Serial),
		zap.String("action", result.Action),
	)

	return nil
}
