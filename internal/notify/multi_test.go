package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/rs/zerolog"
)

type stubNotifier struct {
	calls int
	err   error
}

func (s *stubNotifier) Notify(ctx context.Context, subject, message string) error {
	s.calls++
	return s.err
}

func TestMultiNotifierFansOut(t *testing.T) {
	first := &stubNotifier{}
	second := &stubNotifier{}
	multi := NewMultiNotifier(first, nil, second)

	if err := multi.Notify(context.Background(), "s", "m"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.calls != 1 || second.calls != 1 {
		t.Fatalf("expected both notifiers called, got %d and %d", first.calls, second.calls)
	}
}

func TestMultiNotifierAttemptsAllOnError(t *testing.T) {
	failing := &stubNotifier{err: errors.New("down")}
	healthy := &stubNotifier{}
	multi := NewMultiNotifier(failing, healthy)

	err := multi.Notify(context.Background(), "s", "m")
	if err == nil || err.Error() != "down" {
		t.Fatalf("expected first error returned, got %v", err)
	}
	if healthy.calls != 1 {
		t.Fatalf("failure must not stop remaining notifiers")
	}
}

type fakeSNS struct {
	inputs []*sns.PublishInput
	err    error
}

func (f *fakeSNS) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.inputs = append(f.inputs, params)
	return &sns.PublishOutput{}, f.err
}

func TestSNSNotifierPublishes(t *testing.T) {
	client := &fakeSNS{}
	notifier := NewSNSNotifier(zerolog.Nop(), client, "arn:aws:sns:us-east-1:123:alerts")

	if err := notifier.Notify(context.Background(), "Rollback", "details"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(client.inputs) != 1 {
		t.Fatalf("expected one publish, got %d", len(client.inputs))
	}
	input := client.inputs[0]
	if *input.TopicArn != "arn:aws:sns:us-east-1:123:alerts" || *input.Subject != "Rollback" || *input.Message != "details" {
		t.Fatalf("unexpected publish input: %+v", input)
	}
}

func TestSNSNotifierPublishError(t *testing.T) {
	client := &fakeSNS{err: errors.New("denied")}
	notifier := NewSNSNotifier(zerolog.Nop(), client, "arn:aws:sns:us-east-1:123:alerts")

	if err := notifier.Notify(context.Background(), "s", "m"); err == nil {
		t.Fatalf("expected publish error")
	}
}

func TestSNSNotifierWithoutTopicIsNoop(t *testing.T) {
	notifier := NewSNSNotifier(zerolog.Nop(), &fakeSNS{}, "")
	if _, ok := notifier.(*NoopNotifier); !ok {
		t.Fatalf("expected noop notifier, got %T", notifier)
	}
}
