package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/rs/zerolog"
)

// SNSClient defines the publish operation used by SNSNotifier.
type SNSClient interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSNotifier publishes alerts to an SNS topic.
type SNSNotifier struct {
	logger   zerolog.Logger
	client   SNSClient
	topicARN string
}

// NewSNSNotifier creates an SNS notifier, or a noop notifier when the topic
// is not configured.
func NewSNSNotifier(logger zerolog.Logger, client SNSClient, topicARN string) Notifier {
	if topicARN == "" || client == nil {
		return NewNoop(logger, "sns topic not configured; topic notifications disabled")
	}
	return &SNSNotifier{
		logger:   logger,
		client:   client,
		topicARN: topicARN,
	}
}

// Notify implements Notifier.
func (n *SNSNotifier) Notify(ctx context.Context, subject, message string) error {
	_, err := n.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(n.topicARN),
		Subject:  aws.String(subject),
		Message:  aws.String(message),
	})
	if err != nil {
		return fmt.Errorf("publish to sns topic: %w", err)
	}

	n.logger.Debug().Str("subject", subject).Msg("sns notification sent")
	return nil
}
