package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	envPollInterval       = "FS_POLL_INTERVAL"
	envRemoteTimeout      = "FS_REMOTE_TIMEOUT"
	envHTTPPort           = "FS_HTTP_PORT"
	envMetricsPort        = "FS_METRICS_PORT"
	envLogLevel           = "FS_LOG_LEVEL"
	envAWSRegion          = "FS_AWS_REGION"
	envAppConfigApp       = "FS_APPCONFIG_APPLICATION"
	envAppConfigEnv       = "FS_APPCONFIG_ENVIRONMENT"
	envAppConfigProfile   = "FS_APPCONFIG_PROFILE"
	envDeploymentStrategy = "FS_DEPLOYMENT_STRATEGY"
	envSNSTopicARN        = "FS_SNS_TOPIC_ARN"
	envSlackWebhookURL    = "FS_SLACK_WEBHOOK_URL"
	envRollbackFunction   = "FS_ROLLBACK_FUNCTION"
)

const (
	defaultPollInterval  = 30 * time.Second
	defaultRemoteTimeout = 10 * time.Second
	defaultHTTPPort      = 3001
	defaultMetricsPort   = 9090
	defaultLogLevel      = "info"
)

// Config describes runtime configuration loaded from the environment.
type Config struct {
	PollInterval       time.Duration
	RemoteTimeout      time.Duration
	HTTPPort           int
	MetricsPort        int
	LogLevel           string
	AWSRegion          string
	AppConfigApp       string
	AppConfigEnv       string
	AppConfigProfile   string
	DeploymentStrategy string
	SNSTopicARN        string
	SlackWebhookURL    string
	RollbackFunction   string
}

// Load reads configuration from environment variables and a local .env file if present.
// Existing environment variables take precedence over values in .env.
func Load() (Config, error) {
	if err := loadDotEnvIfPresent(".env"); err != nil {
		return Config{}, err
	}

	cfg := Config{
		PollInterval:  defaultPollInterval,
		RemoteTimeout: defaultRemoteTimeout,
		HTTPPort:      defaultHTTPPort,
		MetricsPort:   defaultMetricsPort,
		LogLevel:      defaultLogLevel,
	}

	if value, ok := lookupTrimmed(envPollInterval); ok {
		interval, err := time.ParseDuration(value)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", envPollInterval, err)
		}
		if interval <= 0 {
			return Config{}, fmt.Errorf("%s must be greater than zero", envPollInterval)
		}
		cfg.PollInterval = interval
	}

	if value, ok := lookupTrimmed(envRemoteTimeout); ok {
		timeout, err := time.ParseDuration(value)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", envRemoteTimeout, err)
		}
		if timeout <= 0 {
			return Config{}, fmt.Errorf("%s must be greater than zero", envRemoteTimeout)
		}
		cfg.RemoteTimeout = timeout
	}

	if value, ok := lookupTrimmed(envHTTPPort); ok {
		port, err := parsePort(value, envHTTPPort)
		if err != nil {
			return Config{}, err
		}
		cfg.HTTPPort = port
	}

	if value, ok := lookupTrimmed(envMetricsPort); ok {
		port, err := parsePort(value, envMetricsPort)
		if err != nil {
			return Config{}, err
		}
		cfg.MetricsPort = port
	}

	if value, ok := lookupTrimmed(envLogLevel); ok {
		cfg.LogLevel = value
	}

	if value, ok := lookupTrimmed(envAWSRegion); ok {
		cfg.AWSRegion = value
	}

	if value, ok := lookupTrimmed(envAppConfigApp); ok {
		cfg.AppConfigApp = value
	}

	if value, ok := lookupTrimmed(envAppConfigEnv); ok {
		cfg.AppConfigEnv = value
	}

	if value, ok := lookupTrimmed(envAppConfigProfile); ok {
		cfg.AppConfigProfile = value
	}

	if value, ok := lookupTrimmed(envDeploymentStrategy); ok {
		cfg.DeploymentStrategy = value
	}

	if value, ok := lookupTrimmed(envSNSTopicARN); ok {
		cfg.SNSTopicARN = value
	}

	if value, ok := lookupTrimmed(envSlackWebhookURL); ok {
		cfg.SlackWebhookURL = value
	}

	if value, ok := lookupTrimmed(envRollbackFunction); ok {
		cfg.RollbackFunction = value
	}

	if cfg.AppConfigApp == "" {
		return Config{}, errors.New("FS_APPCONFIG_APPLICATION is required")
	}
	if cfg.AppConfigEnv == "" {
		return Config{}, errors.New("FS_APPCONFIG_ENVIRONMENT is required")
	}
	if cfg.AppConfigProfile == "" {
		return Config{}, errors.New("FS_APPCONFIG_PROFILE is required")
	}

	if cfg.SlackWebhookURL != "" {
		if err := validateURL(cfg.SlackWebhookURL, envSlackWebhookURL); err != nil {
			return Config{}, err
		}
	}

	return cfg, nil
}

func lookupTrimmed(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(value), true
}

func loadDotEnvIfPresent(path string) error {
	err := godotenv.Load(path)
	if err == nil {
		return nil
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) && errors.Is(pathErr.Err, os.ErrNotExist) {
		return nil
	}

	return err
}

func parsePort(value, name string) (int, error) {
	port, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if port <= 0 || port > 65535 {
		return 0, fmt.Errorf("%s must be a valid port", name)
	}
	return port, nil
}

func validateURL(value, name string) error {
	parsed, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("invalid %s: must include scheme and host", name)
	}
	return nil
}
