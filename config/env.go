package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. RESPONDER_REDIS_URL.
const EnvPrefix = "RESPONDER"

// envKeys are the settings that may be overridden from the environment.
var envKeys = []string{
	"log.level",
	"triage.severity_threshold",
	"triage.notify_enabled",
	"triage.remediate_enabled",
	"retry.max_attempts",
	"retry.base_delay",
	"retry.max_delay",
	"timeouts.remediation",
	"timeouts.tracking",
	"timeouts.notification",
	"worker.concurrency",
	"worker.shutdown_timeout",
	"worker.max_deliveries",
	"redis.url",
	"redis.key_prefix",
	"tracker.backend",
	"tracker.prefix",
	"tracker.etcd_endpoints",
	"notifier.channel",
	"notifier.sns_topic_arn",
	"notifier.kafka_brokers",
	"notifier.kafka_topic",
	"notifier.redis_channel",
	"remediation.dry_run",
	"remediation.quarantine_security_group",
	"remediation.rate_limit",
	"aws.region",
	"aws.profile",
	"kubernetes.enabled",
	"kubernetes.kubeconfig",
	"advisory.feed_url",
	"advisory.poll_interval",
	"advisory.severity_rule",
	"guardduty.detector_id",
	"guardduty.poll_interval",
	"telemetry.enabled",
	"telemetry.endpoint",
	"telemetry.insecure",
	"health.address",
	"health.max_backlog",
}

// NewViper returns a viper instance that reads RESPONDER_* overrides, with
// dots in keys mapped to underscores.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}
	return v
}

// LoadViper reads path (when non-empty) into v and decodes the merged
// settings. Environment variables take precedence over the file.
func LoadViper(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}
