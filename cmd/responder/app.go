package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/guardduty"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"golang.org/x/time/rate"

	"github.com/zero-day-ai/responder/advisory"
	"github.com/zero-day-ai/responder/config"
	"github.com/zero-day-ai/responder/detection"
	"github.com/zero-day-ai/responder/finding"
	"github.com/zero-day-ai/responder/health"
	"github.com/zero-day-ai/responder/intake"
	"github.com/zero-day-ai/responder/notify"
	"github.com/zero-day-ai/responder/pipeline"
	"github.com/zero-day-ai/responder/poll"
	"github.com/zero-day-ai/responder/remediation"
	"github.com/zero-day-ai/responder/tracker"
)

// app builds collaborators from the configuration on first use and closes
// whatever it built.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	aws     *aws.Config
	redis   *redis.Client
	queue   *intake.RedisQueue
	tracker *tracker.Tracker

	closers []func() error
}

func newApp(cfg *config.Config) *app {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.Log.GetLevel(),
	}))
	slog.SetDefault(logger)
	return &app{cfg: cfg, logger: logger}
}

func (a *app) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of creation.
func (a *app) Close() error {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, a.closers[i]())
	}
	a.closers = nil
	return err
}

func (a *app) awsConfig(ctx context.Context) (aws.Config, error) {
	if a.aws != nil {
		return *a.aws, nil
	}

	var opts []func(*awsconfig.LoadOptions) error
	if c := a.cfg.AWS; c != nil {
		if c.Region != "" {
			opts = append(opts, awsconfig.WithRegion(c.Region))
		}
		if c.Profile != "" {
			opts = append(opts, awsconfig.WithSharedConfigProfile(c.Profile))
		}
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	a.aws = &cfg
	return cfg, nil
}

func (a *app) redisClient() (*redis.Client, error) {
	if a.redis != nil {
		return a.redis, nil
	}
	client, err := intake.Dial(intake.RedisOptions{URL: a.cfg.Redis.GetURL()})
	if err != nil {
		return nil, err
	}
	a.redis = client
	a.onClose(client.Close)
	return client, nil
}

func (a *app) intakeQueue() (*intake.RedisQueue, error) {
	if a.queue != nil {
		return a.queue, nil
	}
	client, err := a.redisClient()
	if err != nil {
		return nil, err
	}
	a.queue = intake.NewRedisQueue(client, intake.WithPrefix(a.cfg.Redis.GetKeyPrefix()))
	return a.queue, nil
}

func (a *app) trackingStore(ctx context.Context) (tracker.Store, error) {
	tc := a.cfg.Tracker
	switch tc.GetBackend() {
	case config.TrackerMemory:
		a.logger.Warn("using in-memory tracking store; records are lost on exit")
		return tracker.NewMemoryStore(), nil
	case config.TrackerRedis:
		// The store owns and closes its client.
		client, err := intake.Dial(intake.RedisOptions{URL: a.cfg.Redis.GetURL()})
		if err != nil {
			return nil, err
		}
		return tracker.NewRedisStore(client, tc.GetPrefix()), nil
	case config.TrackerEtcd:
		return tracker.NewEtcdStore(tracker.EtcdOptions{
			Endpoints: tc.GetEtcdEndpoints(),
			Namespace: tc.GetPrefix(),
		})
	case config.TrackerSSM:
		awsCfg, err := a.awsConfig(ctx)
		if err != nil {
			return nil, err
		}
		return tracker.NewSSMStore(ssm.NewFromConfig(awsCfg), tc.GetPrefix()), nil
	default:
		return nil, fmt.Errorf("unknown tracker backend: %s", tc.GetBackend())
	}
}

func (a *app) advisoryTracker(ctx context.Context) (*tracker.Tracker, error) {
	if a.tracker != nil {
		return a.tracker, nil
	}
	store, err := a.trackingStore(ctx)
	if err != nil {
		return nil, err
	}
	a.tracker = tracker.New(store,
		tracker.WithTimeout(a.cfg.Timeouts.GetTracking()),
		tracker.WithLogger(a.logger),
	)
	a.onClose(a.tracker.Close)
	return a.tracker, nil
}

func (a *app) notificationChannel(ctx context.Context) (notify.Channel, error) {
	nc := a.cfg.Notifier
	switch nc.GetChannel() {
	case config.ChannelLog:
		return notify.NewLogChannel(a.logger), nil
	case config.ChannelSNS:
		awsCfg, err := a.awsConfig(ctx)
		if err != nil {
			return nil, err
		}
		return notify.NewSNSChannel(sns.NewFromConfig(awsCfg), nc.SNSTopicARN)
	case config.ChannelKafka:
		if len(nc.KafkaBrokers) == 0 {
			return nil, fmt.Errorf("notifier.kafka_brokers is required for the kafka channel")
		}
		return notify.NewKafkaChannel(notify.NewKafkaWriter(nc.KafkaBrokers, nc.GetKafkaTopic())), nil
	case config.ChannelRedis:
		client, err := a.redisClient()
		if err != nil {
			return nil, err
		}
		return notify.NewRedisChannel(client, nc.RedisChannel), nil
	default:
		return nil, fmt.Errorf("unknown notifier channel: %s", nc.GetChannel())
	}
}

func (a *app) notifier(ctx context.Context) (*notify.Notifier, error) {
	channel, err := a.notificationChannel(ctx)
	if err != nil {
		return nil, err
	}
	n := notify.New(channel,
		notify.WithTimeout(a.cfg.Timeouts.GetNotification()),
		notify.WithLogger(a.logger),
	)
	a.onClose(n.Close)
	return n, nil
}

func (a *app) isolationController(ctx context.Context) (remediation.Controller, error) {
	rc := a.cfg.Remediation
	if rc != nil && rc.DryRun {
		return remediation.NewRouter().Fallback(remediation.NewDryRunController(a.logger)), nil
	}

	router := remediation.NewRouter()
	configured := false

	if rc != nil && rc.QuarantineSecurityGroup != "" {
		awsCfg, err := a.awsConfig(ctx)
		if err != nil {
			return nil, err
		}
		ctrl, err := remediation.NewEC2Controller(ec2.NewFromConfig(awsCfg), rc.QuarantineSecurityGroup, a.logger)
		if err != nil {
			return nil, err
		}
		router.Handle(remediation.KindEC2Instance, ctrl)
		configured = true
	}

	if kc := a.cfg.Kubernetes; kc != nil && kc.Enabled {
		client, err := remediation.NewKubernetesClient(kc.Kubeconfig)
		if err != nil {
			return nil, err
		}
		router.Handle(remediation.KindKubernetesPod, remediation.NewKubernetesController(client, remediation.KubernetesOptions{
			PolicyName:      kc.PolicyName,
			QuarantineLabel: kc.QuarantineLabel,
		}, a.logger))
		configured = true
	}

	if !configured {
		// Every remediation fails with UNSUPPORTED_RESOURCE and the record
		// ends failed; set remediation.dry_run to only log instead.
		a.logger.Warn("no isolation backend configured; resources cannot be isolated")
	}
	return router, nil
}

func (a *app) dispatcher(ctx context.Context) (*remediation.Dispatcher, error) {
	ctrl, err := a.isolationController(ctx)
	if err != nil {
		return nil, err
	}

	opts := []remediation.Option{
		remediation.WithTimeout(a.cfg.Timeouts.GetRemediation()),
		remediation.WithLogger(a.logger),
	}
	if rc := a.cfg.Remediation; rc != nil && rc.RateLimit > 0 {
		opts = append(opts, remediation.WithRateLimit(rate.NewLimiter(rate.Limit(rc.RateLimit), rc.GetBurst())))
	}
	return remediation.NewDispatcher(ctrl, opts...), nil
}

func (a *app) severityRule() (*advisory.CELRule, error) {
	return advisory.NewCELRule(a.cfg.Advisory.GetSeverityRule())
}

// controller assembles the pipeline. Collaborators for disabled actions are
// not built.
func (a *app) controller(ctx context.Context, observer pipeline.Observer) (*pipeline.Controller, error) {
	triageCfg := a.cfg.Triage.Get()

	rule, err := a.severityRule()
	if err != nil {
		return nil, err
	}
	tr, err := a.advisoryTracker(ctx)
	if err != nil {
		return nil, err
	}

	deps := pipeline.Dependencies{
		Normalizer: finding.Normalizer{AdvisorySeverity: rule},
		Tracker:    tr,
	}
	if triageCfg.RemediateEnabled {
		if deps.Remediator, err = a.dispatcher(ctx); err != nil {
			return nil, err
		}
	}
	if triageCfg.NotifyEnabled {
		if deps.Notifier, err = a.notifier(ctx); err != nil {
			return nil, err
		}
	}

	opts := []pipeline.Option{
		pipeline.WithTriageConfig(triageCfg),
		pipeline.WithRetryPolicy(a.cfg.Retry.GetPolicy()),
		pipeline.WithLogger(a.logger),
	}
	if observer != nil {
		opts = append(opts, pipeline.WithObserver(observer))
	}
	return pipeline.New(deps, opts...)
}

// healthChecker checks the dependencies this process uses.
func (a *app) healthChecker(ctx context.Context, withFeed bool) (*health.Checker, error) {
	q, err := a.intakeQueue()
	if err != nil {
		return nil, err
	}
	tr, err := a.advisoryTracker(ctx)
	if err != nil {
		return nil, err
	}

	checks := []health.Check{
		health.PingCheck("redis", q.Ping),
		health.PingCheck("tracker", func(ctx context.Context) error {
			_, err := tr.Get(ctx, "healthcheck")
			return err
		}),
		health.WorkerCheck(q.WorkerCount, 1),
	}
	if hc := a.cfg.Health; hc != nil && hc.MaxBacklog > 0 {
		checks = append(checks, health.BacklogCheck(q.Depth, hc.MaxBacklog))
	}
	if withFeed {
		checks = append(checks, health.EndpointCheck("advisory-feed", a.cfg.Advisory.GetFeedURL()))
	}
	if kc := a.cfg.Kubernetes; kc != nil && kc.Enabled && kc.Kubeconfig != "" {
		checks = append(checks, health.FileCheck("kubeconfig", kc.Kubeconfig))
	}
	return health.NewChecker(health.DefaultTimeout, checks...), nil
}

func (a *app) advisoryPoller(ctx context.Context) (*poll.Poller, error) {
	source, err := advisory.NewHTTPSource(a.cfg.Advisory.GetFeedURL(), a.cfg.Advisory.GetRequestTimeout())
	if err != nil {
		return nil, err
	}
	return a.poller(ctx, advisory.NewFeed(source))
}

func (a *app) findingsPoller(ctx context.Context) (*poll.Poller, error) {
	awsCfg, err := a.awsConfig(ctx)
	if err != nil {
		return nil, err
	}
	gc := a.cfg.GuardDuty
	source, err := detection.NewGuardDutySource(guardduty.NewFromConfig(awsCfg), detection.GuardDutyOptions{
		DetectorID:  gc.GetDetectorID(),
		MaxFindings: gc.GetMaxFindings(),
	})
	if err != nil {
		return nil, err
	}
	return a.poller(ctx, source)
}

func (a *app) poller(ctx context.Context, source poll.Source) (*poll.Poller, error) {
	q, err := a.intakeQueue()
	if err != nil {
		return nil, err
	}
	tr, err := a.advisoryTracker(ctx)
	if err != nil {
		return nil, err
	}
	return poll.New(source, q, tr, poll.WithLogger(a.logger))
}
