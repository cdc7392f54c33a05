package remote

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/appconfig"
	"github.com/aws/aws-sdk-go-v2/service/appconfigdata"
	"github.com/rs/zerolog"
)

const (
	defaultCallTimeout    = 10 * time.Second
	defaultDeployStrategy = "AppConfig.AllAtOnce"
	contentTypeJSON       = "application/json"
)

// AppConfigDataClient defines the configuration session operations used by
// AppConfigStore.
type AppConfigDataClient interface {
	StartConfigurationSession(ctx context.Context, params *appconfigdata.StartConfigurationSessionInput, optFns ...func(*appconfigdata.Options)) (*appconfigdata.StartConfigurationSessionOutput, error)
	GetLatestConfiguration(ctx context.Context, params *appconfigdata.GetLatestConfigurationInput, optFns ...func(*appconfigdata.Options)) (*appconfigdata.GetLatestConfigurationOutput, error)
}

// AppConfigClient defines the version-publishing operations used by
// AppConfigStore.
type AppConfigClient interface {
	CreateHostedConfigurationVersion(ctx context.Context, params *appconfig.CreateHostedConfigurationVersionInput, optFns ...func(*appconfig.Options)) (*appconfig.CreateHostedConfigurationVersionOutput, error)
	StartDeployment(ctx context.Context, params *appconfig.StartDeploymentInput, optFns ...func(*appconfig.Options)) (*appconfig.StartDeploymentOutput, error)
}

// AppConfigStore implements Store on AWS AppConfig: reads go through an
// AppConfigData configuration session, writes create a hosted configuration
// version and start its deployment.
type AppConfigStore struct {
	logger         zerolog.Logger
	data           AppConfigDataClient
	admin          AppConfigClient
	application    string
	environment    string
	profile        string
	deployStrategy string
	callTimeout    time.Duration

	mu    sync.Mutex
	token string
}

// AppConfigOption customizes AppConfigStore behavior.
type AppConfigOption func(*AppConfigStore)

// WithCallTimeout bounds individual remote calls.
func WithCallTimeout(timeout time.Duration) AppConfigOption {
	return func(s *AppConfigStore) {
		if timeout > 0 {
			s.callTimeout = timeout
		}
	}
}

// WithDeploymentStrategy overrides the deployment strategy used on publish.
func WithDeploymentStrategy(strategy string) AppConfigOption {
	return func(s *AppConfigStore) {
		if strategy != "" {
			s.deployStrategy = strategy
		}
	}
}

// NewAppConfigStore constructs an AppConfig-backed store for the given
// application, environment and configuration profile.
func NewAppConfigStore(logger zerolog.Logger, data AppConfigDataClient, admin AppConfigClient, application, environment, profile string, opts ...AppConfigOption) *AppConfigStore {
	s := &AppConfigStore{
		logger:         logger,
		data:           data,
		admin:          admin,
		application:    application,
		environment:    environment,
		profile:        profile,
		deployStrategy: defaultDeployStrategy,
		callTimeout:    defaultCallTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FetchLatest implements Store. Session tokens roll forward on every poll; a
// failed call discards the token so the next poll starts a fresh session.
func (s *AppConfigStore) FetchLatest(ctx context.Context) ([]byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token == "" {
		session, err := s.data.StartConfigurationSession(callCtx, &appconfigdata.StartConfigurationSessionInput{
			ApplicationIdentifier:          aws.String(s.application),
			EnvironmentIdentifier:          aws.String(s.environment),
			ConfigurationProfileIdentifier: aws.String(s.profile),
		})
		if err != nil {
			return nil, wrapUpstream("start configuration session", err)
		}
		s.token = aws.ToString(session.InitialConfigurationToken)
	}

	out, err := s.data.GetLatestConfiguration(callCtx, &appconfigdata.GetLatestConfigurationInput{
		ConfigurationToken: aws.String(s.token),
	})
	if err != nil {
		s.token = ""
		return nil, wrapUpstream("get latest configuration", err)
	}
	if next := aws.ToString(out.NextPollConfigurationToken); next != "" {
		s.token = next
	}

	if len(out.Configuration) == 0 {
		s.logger.Debug().Msg("remote configuration unchanged")
		return nil, nil
	}

	s.logger.Debug().Int("bytes", len(out.Configuration)).Msg("remote configuration fetched")
	return out.Configuration, nil
}

// Publish implements Store.
func (s *AppConfigStore) Publish(ctx context.Context, content []byte, description string) error {
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	version, err := s.admin.CreateHostedConfigurationVersion(callCtx, &appconfig.CreateHostedConfigurationVersionInput{
		ApplicationId:          aws.String(s.application),
		ConfigurationProfileId: aws.String(s.profile),
		Content:                content,
		ContentType:            aws.String(contentTypeJSON),
		Description:            aws.String(description),
	})
	if err != nil {
		return wrapUpstream("create hosted configuration version", err)
	}

	_, err = s.admin.StartDeployment(callCtx, &appconfig.StartDeploymentInput{
		ApplicationId:          aws.String(s.application),
		EnvironmentId:          aws.String(s.environment),
		ConfigurationProfileId: aws.String(s.profile),
		ConfigurationVersion:   aws.String(strconv.Itoa(int(version.VersionNumber))),
		DeploymentStrategyId:   aws.String(s.deployStrategy),
		Description:            aws.String(description),
	})
	if err != nil {
		return wrapUpstream("start deployment", err)
	}

	s.logger.Info().
		Int32("version", version.VersionNumber).
		Str("strategy", s.deployStrategy).
		Msg("configuration version published")

	return nil
}
