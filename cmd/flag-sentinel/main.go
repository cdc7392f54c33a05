package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/appconfig"
	"github.com/aws/aws-sdk-go-v2/service/appconfigdata"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/rs/zerolog"

	"github.com/nholik/flag-sentinel/internal/config"
	"github.com/nholik/flag-sentinel/internal/eval"
	"github.com/nholik/flag-sentinel/internal/healthcheck"
	"github.com/nholik/flag-sentinel/internal/logging"
	"github.com/nholik/flag-sentinel/internal/metrics"
	"github.com/nholik/flag-sentinel/internal/mutate"
	"github.com/nholik/flag-sentinel/internal/notify"
	"github.com/nholik/flag-sentinel/internal/remote"
	"github.com/nholik/flag-sentinel/internal/rollback"
	"github.com/nholik/flag-sentinel/internal/server"
	"github.com/nholik/flag-sentinel/internal/store"
	syncpkg "github.com/nholik/flag-sentinel/internal/sync"
	"github.com/nholik/flag-sentinel/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := logging.New("info")
		fallback.Fatal().Err(err).Msg("configuration invalid")
	}

	logger := logging.New(cfg.LogLevel)
	logger.Info().
		Str("application", cfg.AppConfigApp).
		Str("environment", cfg.AppConfigEnv).
		Str("profile", cfg.AppConfigProfile).
		Dur("poll_interval", cfg.PollInterval).
		Msg("flag-sentinel starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var awsOpts []func(*awscfg.LoadOptions) error
	if cfg.AWSRegion != "" {
		awsOpts = append(awsOpts, awscfg.WithRegion(cfg.AWSRegion))
	}
	awsConfig, err := awscfg.LoadDefaultConfig(ctx, awsOpts...)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load AWS configuration")
	}

	cloudwatchClient := cloudwatch.NewFromConfig(awsConfig)

	remoteStore := remote.NewAppConfigStore(
		logger,
		appconfigdata.NewFromConfig(awsConfig),
		appconfig.NewFromConfig(awsConfig),
		cfg.AppConfigApp,
		cfg.AppConfigEnv,
		cfg.AppConfigProfile,
		remote.WithCallTimeout(cfg.RemoteTimeout),
		remote.WithDeploymentStrategy(cfg.DeploymentStrategy),
	)

	localMetrics := metrics.New()
	emitter := telemetry.NewMultiEmitter(
		telemetry.NewCloudWatchEmitter(logger, cloudwatchClient),
		localMetrics,
	)

	flagStore := store.New()
	tracker := healthcheck.NewTracker()

	synchronizer := syncpkg.New(logger, flagStore, remoteStore, emitter, cfg.PollInterval,
		syncpkg.WithLocalMetrics(localMetrics),
		syncpkg.WithTracker(tracker),
	)
	engine := eval.New(logger, flagStore, emitter)
	mutations := mutate.New(logger, flagStore, remoteStore, emitter)

	notifier := buildNotifier(logger, cfg, sns.NewFromConfig(awsConfig))
	rollbacks := rollback.New(logger, flagStore, mutations, notifier, emitter)

	var alarmActions []string
	if cfg.SNSTopicARN != "" {
		alarmActions = append(alarmActions, cfg.SNSTopicARN)
	}
	alarms := telemetry.NewAlarms(logger, cloudwatchClient, alarmActions)

	var invoker *remote.Invoker
	if cfg.RollbackFunction != "" {
		invoker = remote.NewInvoker(logger, lambda.NewFromConfig(awsConfig))
	}

	api := server.New(server.Deps{
		Logger:       logger,
		Engine:       engine,
		Mutations:    mutations,
		Synchronizer: synchronizer,
		Rollbacks:    rollbacks,
		Alarms:       alarms,
		Invoker:      invoker,
		Tracker:      tracker,
		PollInterval: cfg.PollInterval,
	})
	server.Start(ctx, logger, api, localMetrics, cfg.HTTPPort, cfg.MetricsPort)

	if err := synchronizer.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("synchronizer stopped with error")
	}
	logger.Info().Msg("flag-sentinel stopped")
}

func buildNotifier(logger zerolog.Logger, cfg config.Config, snsClient *sns.Client) notify.Notifier {
	var notifiers []notify.Notifier
	if cfg.SNSTopicARN != "" {
		notifiers = append(notifiers, notify.NewSNSNotifier(logger, snsClient, cfg.SNSTopicARN))
	}
	if cfg.SlackWebhookURL != "" {
		notifiers = append(notifiers, notify.NewSlackNotifier(logger, cfg.SlackWebhookURL))
	}
	if len(notifiers) == 0 {
		return notify.NewNoop(logger, "no notification targets configured")
	}
	return notify.NewMultiNotifier(notifiers...)
}
