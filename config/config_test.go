package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
log:
  level: debug
triage:
  severity_threshold: 8.5
  notify_enabled: false
retry:
  max_attempts: 5
  base_delay: 100ms
timeouts:
  remediation: 45s
  tracking: nonsense
worker:
  concurrency: 8
tracker:
  backend: ssm
notifier:
  channel: kafka
  kafka_brokers: [kafka-1:9092, kafka-2:9092]
remediation:
  quarantine_security_group: sg-0123
advisory:
  poll_interval: 15m
  severity_rule: 'title.contains("KEV") ? 10.0 : 5.0'
guardduty:
  detector_id: det-123
  poll_interval: 2m
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, slog.LevelDebug, cfg.Log.GetLevel())

	tc := cfg.Triage.Get()
	assert.Equal(t, 8.5, tc.SeverityThreshold)
	assert.False(t, tc.NotifyEnabled)
	assert.True(t, tc.RemediateEnabled)

	p := cfg.Retry.GetPolicy()
	assert.Equal(t, 5, p.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, p.BaseDelay)
	assert.Equal(t, 2*time.Second, p.MaxDelay)

	assert.Equal(t, 45*time.Second, cfg.Timeouts.GetRemediation())
	assert.Equal(t, 5*time.Second, cfg.Timeouts.GetTracking())
	assert.Equal(t, 8, cfg.Worker.GetConcurrency())
	assert.Equal(t, TrackerSSM, cfg.Tracker.GetBackend())
	assert.Equal(t, "/security/advisories", cfg.Tracker.GetPrefix())
	assert.Equal(t, ChannelKafka, cfg.Notifier.GetChannel())
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Notifier.KafkaBrokers)
	assert.Equal(t, "sg-0123", cfg.Remediation.QuarantineSecurityGroup)
	assert.Equal(t, 15*time.Minute, cfg.Advisory.GetPollInterval())
	assert.Equal(t, `title.contains("KEV") ? 10.0 : 5.0`, cfg.Advisory.GetSeverityRule())
	assert.Equal(t, "det-123", cfg.GuardDuty.GetDetectorID())
	assert.Equal(t, 2*time.Minute, cfg.GuardDuty.GetPollInterval())
	assert.Equal(t, 500, cfg.GuardDuty.GetMaxFindings())
}

func TestDefaults(t *testing.T) {
	var cfg Config

	assert.Equal(t, slog.LevelInfo, cfg.Log.GetLevel())
	assert.Equal(t, 7.0, cfg.Triage.Get().SeverityThreshold)
	assert.Equal(t, 3, cfg.Retry.GetPolicy().MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.Timeouts.GetRemediation())
	assert.Equal(t, 10*time.Second, cfg.Timeouts.GetNotification())
	assert.Equal(t, 4, cfg.Worker.GetConcurrency())
	assert.Equal(t, 30*time.Second, cfg.Worker.GetShutdownTimeout())
	assert.Equal(t, 10*time.Second, cfg.Worker.GetHeartbeatInterval())
	assert.Equal(t, 5, cfg.Worker.GetMaxDeliveries())
	assert.Equal(t, "redis://localhost:6379", cfg.Redis.GetURL())
	assert.Equal(t, "responder", cfg.Redis.GetKeyPrefix())
	assert.Equal(t, TrackerRedis, cfg.Tracker.GetBackend())
	assert.Equal(t, "advisory", cfg.Tracker.GetPrefix())
	assert.Equal(t, []string{"localhost:2379"}, cfg.Tracker.GetEtcdEndpoints())
	assert.Equal(t, ChannelLog, cfg.Notifier.GetChannel())
	assert.Equal(t, "security-alerts", cfg.Notifier.GetKafkaTopic())
	assert.Equal(t, 1, cfg.Remediation.GetBurst())
	assert.Equal(t, time.Hour, cfg.Advisory.GetPollInterval())
	assert.Empty(t, cfg.Advisory.GetSeverityRule())
	assert.Empty(t, cfg.GuardDuty.GetDetectorID())
	assert.Equal(t, 5*time.Minute, cfg.GuardDuty.GetPollInterval())
	assert.Equal(t, ":50051", cfg.Health.GetAddress())
	assert.True(t, cfg.Health.Enabled())
	assert.Equal(t, 15*time.Second, cfg.Health.GetCheckInterval())
}

func TestHealthOff(t *testing.T) {
	cfg := &HealthConfig{Address: "off"}
	assert.False(t, cfg.Enabled())
}

func TestLoadFromDir(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, FileName), []byte(sample), 0o644))

	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	cfg, err := LoadFromDir(nested)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Worker.GetConcurrency())
}

func TestLoadYMLFallback(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "responder.yml"), []byte("worker:\n  concurrency: 2\n"), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Worker.GetConcurrency())
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(t.TempDir())
	assert.Error(t, err)

	_, err = Parse([]byte("worker: [unterminated"))
	assert.Error(t, err)
}

func TestLoadViperEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	t.Setenv("RESPONDER_WORKER_CONCURRENCY", "16")
	t.Setenv("RESPONDER_REDIS_URL", "redis://cache:6379/2")

	cfg, err := LoadViper(NewViper(), path)
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.Worker.GetConcurrency())
	assert.Equal(t, "redis://cache:6379/2", cfg.Redis.GetURL())
	assert.Equal(t, TrackerSSM, cfg.Tracker.GetBackend())
	assert.Equal(t, 8.5, cfg.Triage.Get().SeverityThreshold)
}

func TestLoadViperEnvOnly(t *testing.T) {
	t.Setenv("RESPONDER_NOTIFIER_CHANNEL", "sns")
	t.Setenv("RESPONDER_NOTIFIER_SNS_TOPIC_ARN", "arn:aws:sns:us-east-1:123456789012:alerts")

	cfg, err := LoadViper(NewViper(), "")
	require.NoError(t, err)
	assert.Equal(t, ChannelSNS, cfg.Notifier.GetChannel())
	assert.Equal(t, "arn:aws:sns:us-east-1:123456789012:alerts", cfg.Notifier.SNSTopicARN)
}
