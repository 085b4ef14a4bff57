package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultValues(t *testing.T) {
	// 清除环境变量
	os.Clearenv()

	cfg, err := Load()
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	// 验证默认值
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "postgres", cfg.Database.User)
	assert.Equal(t, "postgres", cfg.Database.Password)
	assert.Equal(t, "wisefido", cfg.Database.Database)
	assert.Equal(t, "disable", cfg.Database.SSLMode)

	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "", cfg.Redis.Password)
	assert.Equal(t, 0, cfg.Redis.DB)

	assert.False(t, cfg.MQTT.Enabled)
	assert.Equal(t, "presence/+/state", cfg.MQTT.Topic)

	assert.Equal(t, "@every 10s", cfg.Monitor.SweepSpec)
	assert.Equal(t, 30, cfg.Monitor.SweepTimeout)
	assert.Equal(t, 50, cfg.Monitor.BatchSize)
	assert.Equal(t, "inactivity:events", cfg.Monitor.Stream)
	assert.Equal(t, "inactivity-ingest", cfg.Monitor.ConsumerGroup)

	assert.Equal(t, "inactivity:patient:", cfg.Monitor.Cache.AlertKeyPrefix)
	assert.Equal(t, ":alerts", cfg.Monitor.Cache.AlertSuffix)
	assert.Equal(t, 30, cfg.Monitor.Cache.AlertTTL)

	assert.False(t, cfg.Notifier.Enabled)
	assert.Equal(t, 5, cfg.Notifier.Timeout)
	assert.Equal(t, 2, cfg.Notifier.RetryCount)

	assert.Equal(t, ":8086", cfg.HTTP.Addr)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	// 设置环境变量
	os.Setenv("DB_HOST", "test-host")
	os.Setenv("DB_USER", "test-user")
	os.Setenv("DB_PASSWORD", "test-password")
	os.Setenv("DB_NAME", "test-db")
	os.Setenv("REDIS_ADDR", "test-redis:6380")
	os.Setenv("SWEEP_SPEC", "@every 5s")
	os.Setenv("SWEEP_BATCH_SIZE", "100")
	os.Setenv("MQTT_ENABLED", "true")
	os.Setenv("NOTIFIER_ENABLED", "true")
	os.Setenv("NOTIFIER_WEBHOOK_URL", "http://notify.local/hook")
	os.Setenv("LOG_LEVEL", "debug")
	os.Setenv("LOG_FORMAT", "text")

	cfg, err := Load()
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	// 验证环境变量覆盖
	assert.Equal(t, "test-host", cfg.Database.Host)
	assert.Equal(t, "test-user", cfg.Database.User)
	assert.Equal(t, "test-password", cfg.Database.Password)
	assert.Equal(t, "test-db", cfg.Database.Database)

	assert.Equal(t, "test-redis:6380", cfg.Redis.Addr)

	assert.Equal(t, "@every 5s", cfg.Monitor.SweepSpec)
	assert.Equal(t, 100, cfg.Monitor.BatchSize)

	assert.True(t, cfg.MQTT.Enabled)
	assert.True(t, cfg.Notifier.Enabled)
	assert.Equal(t, "http://notify.local/hook", cfg.Notifier.WebhookURL)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)

	// 清理环境变量
	os.Clearenv()
}

func TestGetDSN(t *testing.T) {
	cfg := &DatabaseConfig{
		Host:     "db-host",
		Port:     5433,
		User:     "user",
		Password: "pass",
		Database: "wisefido",
		SSLMode:  "disable",
	}

	dsn := cfg.GetDSN()

	assert.Equal(t, "host=db-host port=5433 user=user password=pass dbname=wisefido sslmode=disable", dsn)
}

func TestGetEnv(t *testing.T) {
	os.Clearenv()

	assert.Equal(t, "default-value", getEnv("TEST_KEY", "default-value"))

	os.Setenv("TEST_KEY", "custom")
	assert.Equal(t, "custom", getEnv("TEST_KEY", "default-value"))

	os.Clearenv()
}

func TestGetEnvInt(t *testing.T) {
	os.Clearenv()

	assert.Equal(t, 42, getEnvInt("TEST_INT", 42))

	os.Setenv("TEST_INT", "7")
	assert.Equal(t, 7, getEnvInt("TEST_INT", 42))

	// 非法值回退到默认值
	os.Setenv("TEST_INT", "not-a-number")
	assert.Equal(t, 42, getEnvInt("TEST_INT", 42))

	os.Clearenv()
}

func TestGetEnvBool(t *testing.T) {
	os.Clearenv()

	assert.False(t, getEnvBool("TEST_BOOL", false))

	os.Setenv("TEST_BOOL", "true")
	assert.True(t, getEnvBool("TEST_BOOL", false))

	os.Setenv("TEST_BOOL", "invalid")
	assert.False(t, getEnvBool("TEST_BOOL", false))

	os.Clearenv()
}
