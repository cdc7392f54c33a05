package telemetry

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/rs/zerolog"
)

const emitTimeout = 5 * time.Second

// CloudWatchClient defines the CloudWatch operations used by this package.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
	GetMetricStatistics(ctx context.Context, params *cloudwatch.GetMetricStatisticsInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.GetMetricStatisticsOutput, error)
	PutMetricAlarm(ctx context.Context, params *cloudwatch.PutMetricAlarmInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricAlarmOutput, error)
	DeleteAlarms(ctx context.Context, params *cloudwatch.DeleteAlarmsInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.DeleteAlarmsOutput, error)
}

// CloudWatchEmitter publishes events as custom CloudWatch metrics.
type CloudWatchEmitter struct {
	logger zerolog.Logger
	client CloudWatchClient
	clock  func() time.Time
}

// NewCloudWatchEmitter builds an emitter over the given client.
func NewCloudWatchEmitter(logger zerolog.Logger, client CloudWatchClient) *CloudWatchEmitter {
	return &CloudWatchEmitter{
		logger: logger,
		client: client,
		clock:  time.Now,
	}
}

// TryEmit implements Emitter. Delivery failures and timeouts are logged and
// discarded.
func (e *CloudWatchEmitter) TryEmit(ctx context.Context, event Event) {
	if e == nil || e.client == nil {
		return
	}

	emitCtx, cancel := context.WithTimeout(ctx, emitTimeout)
	defer cancel()

	unit := types.StandardUnitCount
	if event.Unit != "" {
		unit = types.StandardUnit(event.Unit)
	}

	dimensions := make([]types.Dimension, 0, len(event.Dimensions))
	for name, value := range event.Dimensions {
		dimensions = append(dimensions, types.Dimension{
			Name:  aws.String(name),
			Value: aws.String(value),
		})
	}

	_, err := e.client.PutMetricData(emitCtx, &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(Namespace),
		MetricData: []types.MetricDatum{
			{
				MetricName: aws.String(event.Name),
				Value:      aws.Float64(event.Value),
				Unit:       unit,
				Timestamp:  aws.Time(e.clock().UTC()),
				Dimensions: dimensions,
			},
		},
	})
	if err != nil {
		e.logger.Warn().Err(err).Str("metric", event.Name).Msg("metric emission dropped")
	}
}
