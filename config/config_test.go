package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setBeacon(t *testing.T) {
	t.Setenv("BEACON_UUID", "e2c56db5-dffb-48d2-b060-d0f5a71096e0")
	t.Setenv("BEACON_MAJOR", "1")
	t.Setenv("BEACON_MINOR", "7")
}

func TestLoad_Defaults(t *testing.T) {
	setBeacon(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.Presence.CheckInterval)
	assert.Equal(t, 10*time.Second, cfg.Presence.AbsenceThreshold)
	assert.Equal(t, time.Second, cfg.Presence.ClockInterval)
	assert.Equal(t, time.Minute, cfg.Presence.ReminderInterval)
	assert.Equal(t, ScanDriverRedis, cfg.Scan.Driver)
	assert.Equal(t, []string{SinkLog}, cfg.Notify.Sinks)
	assert.False(t, cfg.Database.Enabled())
	assert.True(t, cfg.IsDevelopment())

	target, err := cfg.Beacon.Target()
	require.NoError(t, err)
	assert.Equal(t, uint16(1), target.Major)
	assert.Equal(t, uint16(7), target.Minor)
}

func TestLoad_MissingBeacon(t *testing.T) {
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BEACON_UUID is required")
	assert.Contains(t, err.Error(), "BEACON_MAJOR must be 0-65535")
	assert.Contains(t, err.Error(), "BEACON_MINOR must be 0-65535")
}

func TestLoad_InvalidBeacon(t *testing.T) {
	t.Setenv("BEACON_UUID", "not-a-uuid")
	t.Setenv("BEACON_MAJOR", "70000")
	t.Setenv("BEACON_MINOR", "0")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BEACON_UUID is invalid")
	assert.Contains(t, err.Error(), "BEACON_MAJOR must be 0-65535")
}

func TestLoad_Overrides(t *testing.T) {
	setBeacon(t)
	t.Setenv("PRESENCE_ABSENCE_THRESHOLD", "20s")
	t.Setenv("SCAN_DRIVER", "file")
	t.Setenv("SCAN_FILE", "/tmp/scan.jsonl")
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("NOTIFY_SINKS", "log,redis")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_USER", "presence")
	t.Setenv("DB_PASSWORD", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 20*time.Second, cfg.Presence.AbsenceThreshold)
	assert.Equal(t, ScanDriverFile, cfg.Scan.Driver)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, []string{SinkLog, SinkRedis}, cfg.Notify.Sinks)
	assert.Equal(t, "postgres://presence:secret@db:5432/postgres?sslmode=disable", cfg.Database.URL)
}

func TestValidate_Errors(t *testing.T) {
	setBeacon(t)
	t.Setenv("SCAN_DRIVER", "bluetooth")
	t.Setenv("NOTIFY_SINKS", "sms")
	t.Setenv("APP_ENV", "production")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SCAN_DRIVER must be")
	assert.Contains(t, err.Error(), `unknown notification sink "sms"`)
	assert.Contains(t, err.Error(), "DATABASE_URL is required in production")
}

func TestGetEnvHelpers_FallBack(t *testing.T) {
	t.Setenv("X_INT", "abc")
	t.Setenv("X_DUR", "soon")
	t.Setenv("X_BOOL", "maybe")

	assert.Equal(t, 3, getEnvInt("X_INT", 3))
	assert.Equal(t, time.Second, getEnvDuration("X_DUR", time.Second))
	assert.True(t, getEnvBool("X_BOOL", true))
}

func TestLoad_Jobs(t *testing.T) {
	setBeacon(t)
	t.Setenv("DEVICE_ID", "desk-7")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, time.Minute, cfg.Jobs.OutboxSyncInterval)
	assert.Equal(t, "0 21 * * *", cfg.Jobs.DailySummaryCron)
	assert.Equal(t, "desk-7", cfg.App.DeviceID)

	t.Setenv("JOBS_DAILY_SUMMARY_CRON", "0 25 * * *")
	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JOBS_DAILY_SUMMARY_CRON is invalid")
}

func TestValidate_TelegramSinkNeedsChat(t *testing.T) {
	setBeacon(t)
	t.Setenv("NOTIFY_SINKS", "log,telegram")
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TELEGRAM_CHAT_ID")

	t.Setenv("TELEGRAM_CHAT_ID", "4242")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, int64(4242), cfg.Notify.TelegramChatID)
}
