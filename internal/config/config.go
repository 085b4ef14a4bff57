package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MQTTConfig MQTT配置（可选的传感器接入通道）
type MQTTConfig struct {
	Enabled  bool
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      byte
	Topic    string // 例如 "presence/+/state"，+ 为传感器序列号
}

// Config 静默检测服务配置
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	MQTT     MQTTConfig

	// 静默检测特定配置
	Monitor struct {
		// 阈值扫描配置
		SweepSpec    string // cron 表达式，如 "@every 10s"
		SweepTimeout int    // 单次扫描超时（秒）
		BatchSize    int    // 批量评估会话数量

		// 事件流配置
		Stream        string // 归一化事件流，如 "inactivity:events"
		ConsumerGroup string
		ConsumerName  string

		// 活跃报警缓存配置
		Cache struct {
			AlertKeyPrefix string // 如 "inactivity:patient:"
			AlertSuffix    string // 如 ":alerts"
			AlertTTL       int    // 缓存 TTL（秒）
		}
	}

	// 通知投递配置
	Notifier struct {
		Enabled    bool
		WebhookURL string
		Timeout    int // 秒
		RetryCount int
	}

	HTTP struct {
		Addr string
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
// 优先读取 .env（本地开发），环境变量覆盖默认值
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "wisefido")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 10)
	cfg.Database.MaxIdle = getEnvInt("DB_MAX_IDLE", 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.MQTT.Enabled = getEnvBool("MQTT_ENABLED", false)
	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "wisefido-inactivity")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.QoS = byte(getEnvInt("MQTT_QOS", 1))
	cfg.MQTT.Topic = getEnv("MQTT_TOPIC", "presence/+/state")

	cfg.Monitor.SweepSpec = getEnv("SWEEP_SPEC", "@every 10s")
	cfg.Monitor.SweepTimeout = getEnvInt("SWEEP_TIMEOUT", 30)
	cfg.Monitor.BatchSize = getEnvInt("SWEEP_BATCH_SIZE", 50)
	cfg.Monitor.Stream = getEnv("EVENT_STREAM", "inactivity:events")
	cfg.Monitor.ConsumerGroup = getEnv("EVENT_CONSUMER_GROUP", "inactivity-ingest")
	cfg.Monitor.ConsumerName = getEnv("EVENT_CONSUMER_NAME", "ingest-1")
	cfg.Monitor.Cache.AlertKeyPrefix = getEnv("CACHE_ALERT_PREFIX", "inactivity:patient:")
	cfg.Monitor.Cache.AlertSuffix = ":alerts"
	cfg.Monitor.Cache.AlertTTL = getEnvInt("CACHE_ALERT_TTL", 30)

	cfg.Notifier.Enabled = getEnvBool("NOTIFIER_ENABLED", false)
	cfg.Notifier.WebhookURL = getEnv("NOTIFIER_WEBHOOK_URL", "")
	cfg.Notifier.Timeout = getEnvInt("NOTIFIER_TIMEOUT", 5)
	cfg.Notifier.RetryCount = getEnvInt("NOTIFIER_RETRY_COUNT", 2)

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8086")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
