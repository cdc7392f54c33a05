package telemetry

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/rs/zerolog"
)

// Rollback alarms follow the FeatureFlag-{name}-ErrorRate naming pattern.
// The rollback controller parses flag names back out of it, so both sides
// must agree on the layout.
var alarmNamePattern = regexp.MustCompile(`^FeatureFlag-(.+)-ErrorRate$`)

// AlarmName returns the rollback alarm name for a flag.
func AlarmName(flagName string) string {
	return fmt.Sprintf("FeatureFlag-%s-ErrorRate", flagName)
}

// FlagFromAlarmName extracts the flag name from a rollback alarm name.
func FlagFromAlarmName(alarmName string) (string, bool) {
	match := alarmNamePattern.FindStringSubmatch(alarmName)
	if match == nil {
		return "", false
	}
	return match[1], true
}

// AlarmConfig describes a rollback alarm to install for a flag.
type AlarmConfig struct {
	MetricName        string
	Threshold         float64
	EvaluationPeriods int32
	Period            int32
}

// Datapoint is one aggregated observation returned by a metric query.
type Datapoint struct {
	Timestamp time.Time `json:"timestamp"`
	Average   float64   `json:"average"`
	Sum       float64   `json:"sum"`
	Maximum   float64   `json:"maximum"`
	Minimum   float64   `json:"minimum"`
}

// Alarms manages rollback alarms and metric queries on the alarm backend.
// Unlike event emission these are administrator operations, so failures are
// returned to the caller.
type Alarms struct {
	logger       zerolog.Logger
	client       CloudWatchClient
	alarmActions []string
}

// NewAlarms builds an alarm manager. alarmActions lists the notification
// targets wired to alarm state transitions (the rollback trigger topic).
func NewAlarms(logger zerolog.Logger, client CloudWatchClient, alarmActions []string) *Alarms {
	return &Alarms{
		logger:       logger,
		client:       client,
		alarmActions: alarmActions,
	}
}

// Configure creates or updates the rollback alarm for a flag.
func (a *Alarms) Configure(ctx context.Context, flagName string, cfg AlarmConfig) error {
	if a.client == nil {
		return fmt.Errorf("alarm backend not configured")
	}

	metricName := cfg.MetricName
	if metricName == "" {
		metricName = "ErrorRate"
	}
	evaluationPeriods := cfg.EvaluationPeriods
	if evaluationPeriods <= 0 {
		evaluationPeriods = 2
	}
	period := cfg.Period
	if period <= 0 {
		period = 300
	}

	alarmName := AlarmName(flagName)
	_, err := a.client.PutMetricAlarm(ctx, &cloudwatch.PutMetricAlarmInput{
		AlarmName:          aws.String(alarmName),
		AlarmDescription:   aws.String(fmt.Sprintf("Auto rollback alarm for feature flag %s", flagName)),
		Namespace:          aws.String(Namespace),
		MetricName:         aws.String(metricName),
		ComparisonOperator: types.ComparisonOperatorGreaterThanThreshold,
		Threshold:          aws.Float64(cfg.Threshold),
		EvaluationPeriods:  aws.Int32(evaluationPeriods),
		Period:             aws.Int32(period),
		Statistic:          types.StatisticAverage,
		ActionsEnabled:     aws.Bool(true),
		AlarmActions:       a.alarmActions,
		Dimensions: []types.Dimension{
			{Name: aws.String(DimensionFlagName), Value: aws.String(flagName)},
		},
	})
	if err != nil {
		return fmt.Errorf("put rollback alarm %q: %w", alarmName, err)
	}

	a.logger.Info().Str("flag", flagName).Str("alarm", alarmName).Msg("rollback alarm configured")
	return nil
}

// Remove deletes the rollback alarm for a flag.
func (a *Alarms) Remove(ctx context.Context, flagName string) error {
	if a.client == nil {
		return fmt.Errorf("alarm backend not configured")
	}

	alarmName := AlarmName(flagName)
	_, err := a.client.DeleteAlarms(ctx, &cloudwatch.DeleteAlarmsInput{
		AlarmNames: []string{alarmName},
	})
	if err != nil {
		return fmt.Errorf("delete rollback alarm %q: %w", alarmName, err)
	}

	a.logger.Info().Str("flag", flagName).Str("alarm", alarmName).Msg("rollback alarm removed")
	return nil
}

// Query returns aggregated datapoints for a flag-scoped metric over the
// given window, sorted oldest first by the backend.
func (a *Alarms) Query(ctx context.Context, flagName, metricName string, start, end time.Time, period int32) ([]Datapoint, error) {
	if a.client == nil {
		return nil, fmt.Errorf("alarm backend not configured")
	}
	if period <= 0 {
		period = 300
	}

	out, err := a.client.GetMetricStatistics(ctx, &cloudwatch.GetMetricStatisticsInput{
		Namespace:  aws.String(Namespace),
		MetricName: aws.String(metricName),
		Dimensions: []types.Dimension{
			{Name: aws.String(DimensionFlagName), Value: aws.String(flagName)},
		},
		StartTime:  aws.Time(start.UTC()),
		EndTime:    aws.Time(end.UTC()),
		Period:     aws.Int32(period),
		Statistics: []types.Statistic{
			types.StatisticAverage,
			types.StatisticSum,
			types.StatisticMaximum,
			types.StatisticMinimum,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("query metric %q: %w", metricName, err)
	}

	datapoints := make([]Datapoint, 0, len(out.Datapoints))
	for _, dp := range out.Datapoints {
		point := Datapoint{}
		if dp.Timestamp != nil {
			point.Timestamp = *dp.Timestamp
		}
		if dp.Average != nil {
			point.Average = *dp.Average
		}
		if dp.Sum != nil {
			point.Sum = *dp.Sum
		}
		if dp.Maximum != nil {
			point.Maximum = *dp.Maximum
		}
		if dp.Minimum != nil {
			point.Minimum = *dp.Minimum
		}
		datapoints = append(datapoints, point)
	}
	return datapoints, nil
}
