// Package config loads responder.yaml.
//
// Durations are Go duration strings ("30s", "1m"). Every section has GetX
// accessors that return the documented default when a value is unset or
// invalid, so a missing section behaves like an empty one.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zero-day-ai/responder/retry"
	"github.com/zero-day-ai/responder/triage"
)

// FileName is the configuration file looked up by LoadFromDir.
const FileName = "responder.yaml"

// Config is the root of responder.yaml.
type Config struct {
	Log         *LogConfig         `yaml:"log,omitempty" mapstructure:"log"`
	Triage      *TriageConfig      `yaml:"triage,omitempty" mapstructure:"triage"`
	Retry       *RetryConfig       `yaml:"retry,omitempty" mapstructure:"retry"`
	Timeouts    *TimeoutsConfig    `yaml:"timeouts,omitempty" mapstructure:"timeouts"`
	Worker      *WorkerConfig      `yaml:"worker,omitempty" mapstructure:"worker"`
	Redis       *RedisConfig       `yaml:"redis,omitempty" mapstructure:"redis"`
	Tracker     *TrackerConfig     `yaml:"tracker,omitempty" mapstructure:"tracker"`
	Notifier    *NotifierConfig    `yaml:"notifier,omitempty" mapstructure:"notifier"`
	Remediation *RemediationConfig `yaml:"remediation,omitempty" mapstructure:"remediation"`
	AWS         *AWSConfig         `yaml:"aws,omitempty" mapstructure:"aws"`
	Kubernetes  *KubernetesConfig  `yaml:"kubernetes,omitempty" mapstructure:"kubernetes"`
	Advisory    *AdvisoryConfig    `yaml:"advisory,omitempty" mapstructure:"advisory"`
	GuardDuty   *GuardDutyConfig   `yaml:"guardduty,omitempty" mapstructure:"guardduty"`
	Telemetry   *TelemetryConfig   `yaml:"telemetry,omitempty" mapstructure:"telemetry"`
	Health      *HealthConfig      `yaml:"health,omitempty" mapstructure:"health"`
}

// LogConfig configures the slog JSON handler.
type LogConfig struct {
	// Level is one of debug, info, warn, error. Default: info
	Level string `yaml:"level,omitempty" mapstructure:"level"`
}

// GetLevel returns the slog level, defaulting to info.
func (c *LogConfig) GetLevel() slog.Level {
	if c == nil {
		return slog.LevelInfo
	}
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// TriageConfig holds the triage policy.
type TriageConfig struct {
	// SeverityThreshold default: 7
	SeverityThreshold *float64 `yaml:"severity_threshold,omitempty" mapstructure:"severity_threshold"`

	// NotifyEnabled default: true
	NotifyEnabled *bool `yaml:"notify_enabled,omitempty" mapstructure:"notify_enabled"`

	// RemediateEnabled default: true
	RemediateEnabled *bool `yaml:"remediate_enabled,omitempty" mapstructure:"remediate_enabled"`
}

// Get returns the triage.Config with defaults applied.
func (c *TriageConfig) Get() triage.Config {
	cfg := triage.DefaultConfig()
	if c == nil {
		return cfg
	}
	if c.SeverityThreshold != nil {
		cfg.SeverityThreshold = *c.SeverityThreshold
	}
	if c.NotifyEnabled != nil {
		cfg.NotifyEnabled = *c.NotifyEnabled
	}
	if c.RemediateEnabled != nil {
		cfg.RemediateEnabled = *c.RemediateEnabled
	}
	return cfg
}

// RetryConfig configures the shared retry policy.
type RetryConfig struct {
	MaxAttempts int     `yaml:"max_attempts,omitempty" mapstructure:"max_attempts"`
	BaseDelay   string  `yaml:"base_delay,omitempty" mapstructure:"base_delay"`
	MaxDelay    string  `yaml:"max_delay,omitempty" mapstructure:"max_delay"`
	Multiplier  float64 `yaml:"multiplier,omitempty" mapstructure:"multiplier"`
}

// GetPolicy returns the retry.Policy; unset fields keep retry.DefaultPolicy values.
func (c *RetryConfig) GetPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	if c == nil {
		return p
	}
	if c.MaxAttempts > 0 {
		p.MaxAttempts = c.MaxAttempts
	}
	p.BaseDelay = parseDuration(c.BaseDelay, p.BaseDelay)
	p.MaxDelay = parseDuration(c.MaxDelay, p.MaxDelay)
	if c.Multiplier >= 1 {
		p.Multiplier = c.Multiplier
	}
	return p
}

// TimeoutsConfig holds per-call timeouts for external collaborators.
type TimeoutsConfig struct {
	Remediation  string `yaml:"remediation,omitempty" mapstructure:"remediation"`
	Tracking     string `yaml:"tracking,omitempty" mapstructure:"tracking"`
	Notification string `yaml:"notification,omitempty" mapstructure:"notification"`
}

// GetRemediation returns the remediation timeout. Default: 30s
func (c *TimeoutsConfig) GetRemediation() time.Duration {
	if c == nil {
		return 30 * time.Second
	}
	return parseDuration(c.Remediation, 30*time.Second)
}

// GetTracking returns the tracking store timeout. Default: 5s
func (c *TimeoutsConfig) GetTracking() time.Duration {
	if c == nil {
		return 5 * time.Second
	}
	return parseDuration(c.Tracking, 5*time.Second)
}

// GetNotification returns the notification timeout. Default: 10s
func (c *TimeoutsConfig) GetNotification() time.Duration {
	if c == nil {
		return 10 * time.Second
	}
	return parseDuration(c.Notification, 10*time.Second)
}

// WorkerConfig configures the worker pool.
type WorkerConfig struct {
	// Concurrency default: 4
	Concurrency int `yaml:"concurrency,omitempty" mapstructure:"concurrency"`

	// ShutdownTimeout default: 30s
	ShutdownTimeout string `yaml:"shutdown_timeout,omitempty" mapstructure:"shutdown_timeout"`

	// HeartbeatInterval default: 10s
	HeartbeatInterval string `yaml:"heartbeat_interval,omitempty" mapstructure:"heartbeat_interval"`

	// MaxDeliveries bounds redeliveries of cancelled events. Default: 5
	MaxDeliveries int `yaml:"max_deliveries,omitempty" mapstructure:"max_deliveries"`
}

// GetConcurrency returns the configured concurrency or 4.
func (c *WorkerConfig) GetConcurrency() int {
	if c == nil || c.Concurrency <= 0 {
		return 4
	}
	return c.Concurrency
}

// GetShutdownTimeout returns the shutdown timeout or 30s.
func (c *WorkerConfig) GetShutdownTimeout() time.Duration {
	if c == nil {
		return 30 * time.Second
	}
	return parseDuration(c.ShutdownTimeout, 30*time.Second)
}

// GetHeartbeatInterval returns the heartbeat interval or 10s.
func (c *WorkerConfig) GetHeartbeatInterval() time.Duration {
	if c == nil {
		return 10 * time.Second
	}
	return parseDuration(c.HeartbeatInterval, 10*time.Second)
}

// GetMaxDeliveries returns the delivery bound or 5.
func (c *WorkerConfig) GetMaxDeliveries() int {
	if c == nil || c.MaxDeliveries <= 0 {
		return 5
	}
	return c.MaxDeliveries
}

// RedisConfig configures the intake queue connection.
type RedisConfig struct {
	URL       string `yaml:"url,omitempty" mapstructure:"url"`
	KeyPrefix string `yaml:"key_prefix,omitempty" mapstructure:"key_prefix"`
}

// GetURL returns the Redis URL or redis://localhost:6379.
func (c *RedisConfig) GetURL() string {
	if c == nil || c.URL == "" {
		return "redis://localhost:6379"
	}
	return c.URL
}

// GetKeyPrefix returns the key prefix or "responder".
func (c *RedisConfig) GetKeyPrefix() string {
	if c == nil || c.KeyPrefix == "" {
		return "responder"
	}
	return c.KeyPrefix
}

// Tracking store backends.
const (
	TrackerMemory = "memory"
	TrackerRedis  = "redis"
	TrackerEtcd   = "etcd"
	TrackerSSM    = "ssm"
)

// TrackerConfig selects the tracking store.
type TrackerConfig struct {
	// Backend is memory, redis, etcd or ssm. Default: redis
	Backend string `yaml:"backend,omitempty" mapstructure:"backend"`

	// Prefix is the key prefix (redis), namespace (etcd) or parameter path (ssm).
	Prefix string `yaml:"prefix,omitempty" mapstructure:"prefix"`

	// EtcdEndpoints default: localhost:2379
	EtcdEndpoints []string `yaml:"etcd_endpoints,omitempty" mapstructure:"etcd_endpoints"`
}

// GetBackend returns the backend name or redis.
func (c *TrackerConfig) GetBackend() string {
	if c == nil || c.Backend == "" {
		return TrackerRedis
	}
	return strings.ToLower(c.Backend)
}

// GetPrefix returns the configured prefix or the backend's default.
func (c *TrackerConfig) GetPrefix() string {
	if c != nil && c.Prefix != "" {
		return c.Prefix
	}
	switch c.GetBackend() {
	case TrackerSSM:
		return "/security/advisories"
	case TrackerEtcd:
		return "responder"
	default:
		return "advisory"
	}
}

// GetEtcdEndpoints returns the etcd endpoints or localhost:2379.
func (c *TrackerConfig) GetEtcdEndpoints() []string {
	if c == nil || len(c.EtcdEndpoints) == 0 {
		return []string{"localhost:2379"}
	}
	return c.EtcdEndpoints
}

// Notification channels.
const (
	ChannelLog   = "log"
	ChannelSNS   = "sns"
	ChannelKafka = "kafka"
	ChannelRedis = "redis"
)

// NotifierConfig selects the notification channel.
type NotifierConfig struct {
	// Channel is log, sns, kafka or redis. Default: log
	Channel      string   `yaml:"channel,omitempty" mapstructure:"channel"`
	SNSTopicARN  string   `yaml:"sns_topic_arn,omitempty" mapstructure:"sns_topic_arn"`
	KafkaBrokers []string `yaml:"kafka_brokers,omitempty" mapstructure:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic,omitempty" mapstructure:"kafka_topic"`
	RedisChannel string   `yaml:"redis_channel,omitempty" mapstructure:"redis_channel"`
}

// GetChannel returns the channel name or log.
func (c *NotifierConfig) GetChannel() string {
	if c == nil || c.Channel == "" {
		return ChannelLog
	}
	return strings.ToLower(c.Channel)
}

// GetKafkaTopic returns the Kafka topic or security-alerts.
func (c *NotifierConfig) GetKafkaTopic() string {
	if c == nil || c.KafkaTopic == "" {
		return "security-alerts"
	}
	return c.KafkaTopic
}

// RemediationConfig configures resource isolation.
type RemediationConfig struct {
	// DryRun logs instead of isolating. Default: false
	DryRun bool `yaml:"dry_run,omitempty" mapstructure:"dry_run"`

	// QuarantineSecurityGroup is the deny-all EC2 security group id.
	QuarantineSecurityGroup string `yaml:"quarantine_security_group,omitempty" mapstructure:"quarantine_security_group"`

	// RateLimit caps isolation calls per second; 0 disables the limit.
	RateLimit float64 `yaml:"rate_limit,omitempty" mapstructure:"rate_limit"`

	// Burst default: 1
	Burst int `yaml:"burst,omitempty" mapstructure:"burst"`
}

// GetBurst returns the limiter burst or 1.
func (c *RemediationConfig) GetBurst() int {
	if c == nil || c.Burst <= 0 {
		return 1
	}
	return c.Burst
}

// AWSConfig holds AWS SDK settings. Credentials come from the default chain.
type AWSConfig struct {
	Region  string `yaml:"region,omitempty" mapstructure:"region"`
	Profile string `yaml:"profile,omitempty" mapstructure:"profile"`
}

// KubernetesConfig configures pod isolation.
type KubernetesConfig struct {
	Enabled         bool   `yaml:"enabled,omitempty" mapstructure:"enabled"`
	Kubeconfig      string `yaml:"kubeconfig,omitempty" mapstructure:"kubeconfig"`
	PolicyName      string `yaml:"policy_name,omitempty" mapstructure:"policy_name"`
	QuarantineLabel string `yaml:"quarantine_label,omitempty" mapstructure:"quarantine_label"`
}

// AdvisoryConfig configures the advisory feed poller.
type AdvisoryConfig struct {
	FeedURL string `yaml:"feed_url,omitempty" mapstructure:"feed_url"`

	// PollInterval default: 1h
	PollInterval string `yaml:"poll_interval,omitempty" mapstructure:"poll_interval"`

	// RequestTimeout default: 30s
	RequestTimeout string `yaml:"request_timeout,omitempty" mapstructure:"request_timeout"`

	// SeverityRule is a CEL expression over id, source, title, detail and link.
	SeverityRule string `yaml:"severity_rule,omitempty" mapstructure:"severity_rule"`
}

// GetFeedURL returns the feed URL or the CISA advisories feed.
func (c *AdvisoryConfig) GetFeedURL() string {
	if c == nil || c.FeedURL == "" {
		return "https://www.cisa.gov/sites/default/files/feeds/alerts.json"
	}
	return c.FeedURL
}

// GetPollInterval returns the poll interval or 1h.
func (c *AdvisoryConfig) GetPollInterval() time.Duration {
	if c == nil {
		return time.Hour
	}
	return parseDuration(c.PollInterval, time.Hour)
}

// GetRequestTimeout returns the feed request timeout or 30s.
func (c *AdvisoryConfig) GetRequestTimeout() time.Duration {
	if c == nil {
		return 30 * time.Second
	}
	return parseDuration(c.RequestTimeout, 30*time.Second)
}

// GetSeverityRule returns the CEL expression; empty selects the default rule.
func (c *AdvisoryConfig) GetSeverityRule() string {
	if c == nil {
		return ""
	}
	return c.SeverityRule
}

// GuardDutyConfig configures the GuardDuty findings poller.
type GuardDutyConfig struct {
	// DetectorID empty selects the account's first detector.
	DetectorID string `yaml:"detector_id,omitempty" mapstructure:"detector_id"`

	// PollInterval default: 5m
	PollInterval string `yaml:"poll_interval,omitempty" mapstructure:"poll_interval"`

	// MaxFindings caps one poll. Default: 500
	MaxFindings int `yaml:"max_findings,omitempty" mapstructure:"max_findings"`
}

// GetPollInterval returns the poll interval or 5m.
func (c *GuardDutyConfig) GetPollInterval() time.Duration {
	if c == nil {
		return 5 * time.Minute
	}
	return parseDuration(c.PollInterval, 5*time.Minute)
}

// GetDetectorID returns the configured detector id, possibly empty.
func (c *GuardDutyConfig) GetDetectorID() string {
	if c == nil {
		return ""
	}
	return c.DetectorID
}

// GetMaxFindings returns the per-poll cap or 500.
func (c *GuardDutyConfig) GetMaxFindings() int {
	if c == nil || c.MaxFindings <= 0 {
		return 500
	}
	return c.MaxFindings
}

// TelemetryConfig configures OTLP export.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled,omitempty" mapstructure:"enabled"`
	Endpoint    string `yaml:"endpoint,omitempty" mapstructure:"endpoint"`
	Insecure    bool   `yaml:"insecure,omitempty" mapstructure:"insecure"`
	ServiceName string `yaml:"service_name,omitempty" mapstructure:"service_name"`
}

// HealthConfig configures the gRPC health server.
type HealthConfig struct {
	// Address default: :50051. Set to "off" to disable the server.
	Address string `yaml:"address,omitempty" mapstructure:"address"`

	// CheckInterval default: 15s
	CheckInterval string `yaml:"check_interval,omitempty" mapstructure:"check_interval"`

	// MaxBacklog degrades health when exceeded; 0 disables the check.
	MaxBacklog int64 `yaml:"max_backlog,omitempty" mapstructure:"max_backlog"`
}

// GetAddress returns the listen address or :50051.
func (c *HealthConfig) GetAddress() string {
	if c == nil || c.Address == "" {
		return ":50051"
	}
	return c.Address
}

// Enabled reports whether the health server should run.
func (c *HealthConfig) Enabled() bool {
	return c.GetAddress() != "off"
}

// GetCheckInterval returns the check interval or 15s.
func (c *HealthConfig) GetCheckInterval() time.Duration {
	if c == nil {
		return 15 * time.Second
	}
	return parseDuration(c.CheckInterval, 15*time.Second)
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// Parse decodes a responder.yaml document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &cfg, nil
}

// Load reads a config file. If path is a directory, responder.yaml or
// responder.yml in that directory is used.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat path: %w", err)
	}

	configPath := path
	if info.IsDir() {
		configPath = ""
		for _, name := range []string{FileName, "responder.yml"} {
			candidate := filepath.Join(path, name)
			if _, err := os.Stat(candidate); err == nil {
				configPath = candidate
				break
			}
		}
		if configPath == "" {
			return nil, fmt.Errorf("no %s found in %s", FileName, path)
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// LoadFromDir searches for responder.yaml starting at dir and walking up to
// parent directories until found or the root is reached.
func LoadFromDir(dir string) (*Config, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	for {
		cfg, err := Load(absDir)
		if err == nil {
			return cfg, nil
		}

		parent := filepath.Dir(absDir)
		if parent == absDir {
			return nil, fmt.Errorf("no %s found in %s or parent directories", FileName, dir)
		}
		absDir = parent
	}
}
