package rollback

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/nholik/flag-sentinel/internal/flags"
	"github.com/nholik/flag-sentinel/internal/mutate"
	"github.com/nholik/flag-sentinel/internal/store"
	"github.com/nholik/flag-sentinel/internal/telemetry"
)

type recordedNotification struct {
	subject string
	message string
}

type fakeNotifier struct {
	sent []recordedNotification
}

func (f *fakeNotifier) Notify(ctx context.Context, subject, message string) error {
	f.sent = append(f.sent, recordedNotification{subject: subject, message: message})
	return nil
}

type captureEmitter struct {
	events []telemetry.Event
}

func (c *captureEmitter) TryEmit(ctx context.Context, event telemetry.Event) {
	c.events = append(c.events, event)
}

var rollbackNow = time.Date(2026, 8, 30, 16, 0, 0, 0, time.UTC)

func newTestController(defs map[string]flags.Definition) (*Controller, *store.Store, *fakeNotifier, *captureEmitter) {
	flagStore := store.New()
	flagStore.Replace(flags.Set{Version: "1.0.0", Flags: defs}, rollbackNow)

	mutations := mutate.New(zerolog.Nop(), flagStore, nil, nil, mutate.WithClock(func() time.Time {
		return rollbackNow
	}))
	notifier := &fakeNotifier{}
	emitter := &captureEmitter{}
	c := New(zerolog.Nop(), flagStore, mutations, notifier, emitter, WithClock(func() time.Time {
		return rollbackNow
	}))
	return c, flagStore, notifier, emitter
}

func TestHandleAlarmRollsBack(t *testing.T) {
	c, flagStore, notifier, emitter := newTestController(map[string]flags.Definition{
		"checkout-v2": {
			Enabled:           true,
			RolloutPercentage: 75,
			Targeting:         flags.Targeting{UserGroups: []string{"beta"}},
		},
	})

	result := c.HandleAlarm(context.Background(), Notification{
		AlarmName:      "FeatureFlag-checkout-v2-ErrorRate",
		NewStateValue:  StateAlarm,
		NewStateReason: "Threshold Crossed: error rate above 5",
	})

	if result.Outcome != OutcomeRolledBack {
		t.Fatalf("expected rollback, got %+v", result)
	}
	if result.FlagName != "checkout-v2" {
		t.Fatalf("unexpected flag name: %s", result.FlagName)
	}

	def, _ := flagStore.Get("checkout-v2")
	if def.Enabled || def.RolloutPercentage != 0 {
		t.Fatalf("flag not disabled: %+v", def)
	}
	if def.Metadata.RollbackReason != "Automated rollback due to alarm" {
		t.Fatalf("unexpected rollback reason: %q", def.Metadata.RollbackReason)
	}
	if def.Metadata.LastRollback != "2026-08-30T16:00:00Z" {
		t.Fatalf("unexpected rollback time: %q", def.Metadata.LastRollback)
	}
	if len(def.Targeting.UserGroups) != 1 {
		t.Fatalf("rollback must not drop targeting: %+v", def.Targeting)
	}

	if len(notifier.sent) != 1 {
		t.Fatalf("expected one notification, got %d", len(notifier.sent))
	}
	if notifier.sent[0].subject != "Feature Flag Rollback: checkout-v2" {
		t.Fatalf("unexpected subject: %s", notifier.sent[0].subject)
	}
	if !strings.Contains(notifier.sent[0].message, "Threshold Crossed") {
		t.Fatalf("expected alarm reason in message: %s", notifier.sent[0].message)
	}

	sawRollbackEvent := false
	for _, event := range emitter.events {
		if event.Name == telemetry.EventAutomatedRollback {
			sawRollbackEvent = true
		}
	}
	if !sawRollbackEvent {
		t.Fatalf("expected automated rollback event")
	}
}

func TestHandleAlarmIgnoresNonAlarmStates(t *testing.T) {
	for _, state := range []string{StateOK, StateInsufficientData} {
		c, flagStore, notifier, _ := newTestController(map[string]flags.Definition{
			"checkout-v2": {Enabled: true, RolloutPercentage: 75},
		})

		result := c.HandleAlarm(context.Background(), Notification{
			AlarmName:     "FeatureFlag-checkout-v2-ErrorRate",
			NewStateValue: state,
		})
		if result.Outcome != OutcomeIgnored {
			t.Fatalf("state %s: expected ignored, got %+v", state, result)
		}
		if def, _ := flagStore.Get("checkout-v2"); !def.Enabled {
			t.Fatalf("state %s: flag must stay enabled", state)
		}
		if len(notifier.sent) != 0 {
			t.Fatalf("state %s: no notification expected", state)
		}
	}
}

func TestHandleAlarmBadAlarmName(t *testing.T) {
	c, _, _, _ := newTestController(nil)

	result := c.HandleAlarm(context.Background(), Notification{
		AlarmName:     "SomeUnrelatedAlarm",
		NewStateValue: StateAlarm,
	})
	if result.Outcome != OutcomeBadAlarmName {
		t.Fatalf("expected bad alarm name, got %+v", result)
	}
	if result.Outcome.StatusCode() != http.StatusBadRequest {
		t.Fatalf("expected 400 mapping")
	}
}

func TestHandleAlarmUnknownFlag(t *testing.T) {
	c, _, _, _ := newTestController(nil)

	result := c.HandleAlarm(context.Background(), Notification{
		AlarmName:     "FeatureFlag-ghost-ErrorRate",
		NewStateValue: StateAlarm,
	})
	if result.Outcome != OutcomeFlagNotFound {
		t.Fatalf("expected flag not found, got %+v", result)
	}
	if result.Outcome.StatusCode() != http.StatusNotFound {
		t.Fatalf("expected 404 mapping")
	}
}

func TestHandleAlarmIdempotent(t *testing.T) {
	c, flagStore, _, _ := newTestController(map[string]flags.Definition{
		"checkout-v2": {Enabled: true, RolloutPercentage: 75},
	})
	n := Notification{
		AlarmName:     "FeatureFlag-checkout-v2-ErrorRate",
		NewStateValue: StateAlarm,
	}

	if result := c.HandleAlarm(context.Background(), n); result.Outcome != OutcomeRolledBack {
		t.Fatalf("first rollback failed: %+v", result)
	}
	if result := c.HandleAlarm(context.Background(), n); result.Outcome != OutcomeRolledBack {
		t.Fatalf("repeat rollback must succeed: %+v", result)
	}
	if def, _ := flagStore.Get("checkout-v2"); def.Enabled {
		t.Fatalf("flag re-enabled by repeat rollback")
	}
}

func TestOutcomeStatusCodes(t *testing.T) {
	tests := []struct {
		outcome Outcome
		want    int
	}{
		{OutcomeRolledBack, http.StatusOK},
		{OutcomeIgnored, http.StatusOK},
		{OutcomeBadAlarmName, http.StatusBadRequest},
		{OutcomeFlagNotFound, http.StatusNotFound},
		{OutcomeFailed, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := tt.outcome.StatusCode(); got != tt.want {
			t.Fatalf("outcome %s: expected %d, got %d", tt.outcome, tt.want, got)
		}
	}
}
