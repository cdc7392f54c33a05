// Package rollback turns alarm notifications from the metrics backend into
// forced flag disablement. Processing walks a fixed progression: receive the
// trigger, resolve the target flag, apply the mutation; any step that cannot
// complete terminates with a failure outcome instead of a partial rollback.
package rollback

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/nholik/flag-sentinel/internal/flags"
	"github.com/nholik/flag-sentinel/internal/mutate"
	"github.com/nholik/flag-sentinel/internal/notify"
	"github.com/nholik/flag-sentinel/internal/store"
	"github.com/nholik/flag-sentinel/internal/telemetry"
)

// Alarm state values delivered by the metrics backend.
const (
	StateAlarm            = "ALARM"
	StateOK               = "OK"
	StateInsufficientData = "INSUFFICIENT_DATA"
)

const rollbackReason = "Automated rollback due to alarm"

// Notification is the inbound alarm payload.
type Notification struct {
	AlarmName      string `json:"AlarmName"`
	NewStateValue  string `json:"NewStateValue"`
	NewStateReason string `json:"NewStateReason"`
}

// Outcome classifies how an alarm notification was handled.
type Outcome string

const (
	// OutcomeRolledBack means the flag was disabled and the change persisted.
	OutcomeRolledBack Outcome = "rolled_back"
	// OutcomeIgnored means the alarm state did not require action.
	OutcomeIgnored Outcome = "ignored"
	// OutcomeBadAlarmName means no flag name could be parsed from the alarm.
	OutcomeBadAlarmName Outcome = "bad_alarm_name"
	// OutcomeFlagNotFound means the parsed flag is absent from the snapshot.
	OutcomeFlagNotFound Outcome = "flag_not_found"
	// OutcomeFailed means the rollback mutation itself failed.
	OutcomeFailed Outcome = "failed"
)

// StatusCode maps an outcome to its HTTP-equivalent status.
func (o Outcome) StatusCode() int {
	switch o {
	case OutcomeRolledBack, OutcomeIgnored:
		return http.StatusOK
	case OutcomeBadAlarmName:
		return http.StatusBadRequest
	case OutcomeFlagNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Result reports the terminal outcome of handling one notification.
type Result struct {
	Outcome  Outcome `json:"outcome"`
	FlagName string  `json:"flagName,omitempty"`
	Message  string  `json:"message"`
}

// Controller executes alarm-triggered rollbacks.
type Controller struct {
	logger    zerolog.Logger
	flagStore *store.Store
	mutations *mutate.Service
	notifier  notify.Notifier
	emitter   telemetry.Emitter
	clock     func() time.Time
}

// Option customizes controller behavior.
type Option func(*Controller)

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(c *Controller) {
		c.clock = clock
	}
}

// New constructs a Controller.
func New(logger zerolog.Logger, flagStore *store.Store, mutations *mutate.Service, notifier notify.Notifier, emitter telemetry.Emitter, opts ...Option) *Controller {
	c := &Controller{
		logger:    logger,
		flagStore: flagStore,
		mutations: mutations,
		notifier:  notifier,
		emitter:   emitter,
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.notifier == nil {
		c.notifier = notify.NewNoop(logger, "")
	}
	if c.emitter == nil {
		c.emitter = telemetry.NoopEmitter{}
	}
	return c
}

// HandleAlarm processes one alarm notification. Only ALARM-state
// notifications trigger a rollback; OK and INSUFFICIENT_DATA are no-ops.
// Re-triggering on an already rolled back flag succeeds again: the mutation
// is idempotent in effect.
func (c *Controller) HandleAlarm(ctx context.Context, n Notification) Result {
	flagName, ok := telemetry.FlagFromAlarmName(n.AlarmName)
	if !ok {
		c.logger.Error().Str("alarm", n.AlarmName).Msg("could not parse flag name from alarm")
		return Result{
			Outcome: OutcomeBadAlarmName,
			Message: "invalid alarm name format",
		}
	}

	logger := c.logger.With().Str("flag", flagName).Str("alarm", n.AlarmName).Logger()

	if n.NewStateValue != StateAlarm {
		logger.Info().Str("state", n.NewStateValue).Msg("alarm state requires no action")
		return Result{
			Outcome:  OutcomeIgnored,
			FlagName: flagName,
			Message:  "alarm state is not ALARM, no action taken",
		}
	}

	def, ok := c.flagStore.Get(flagName)
	if !ok {
		logger.Error().Msg("flag not found for rollback")
		return Result{
			Outcome:  OutcomeFlagNotFound,
			FlagName: flagName,
			Message:  "feature flag not found",
		}
	}

	now := c.clock()
	def.Enabled = false
	def.RolloutPercentage = 0
	def.Metadata.LastRollback = flags.Timestamp(now)
	def.Metadata.RollbackReason = rollbackReason

	if _, err := c.mutations.Upsert(ctx, flagName, def.AsUpsert()); err != nil {
		logger.Error().Err(err).Msg("rollback mutation failed")
		c.notifyError(ctx, err)
		return Result{
			Outcome:  OutcomeFailed,
			FlagName: flagName,
			Message:  "rollback failed",
		}
	}

	// Past this point the rollback is complete; notification and telemetry
	// are best-effort.
	c.notifyRollback(ctx, flagName, n.NewStateReason, now)
	c.emitter.TryEmit(ctx, telemetry.Count(telemetry.EventAutomatedRollback, map[string]string{
		telemetry.DimensionFlagName: flagName,
	}))

	logger.Info().Str("reason", n.NewStateReason).Msg("flag rolled back")

	return Result{
		Outcome:  OutcomeRolledBack,
		FlagName: flagName,
		Message:  fmt.Sprintf("successfully rolled back feature flag: %s", flagName),
	}
}

func (c *Controller) notifyRollback(ctx context.Context, flagName, reason string, now time.Time) {
	subject := fmt.Sprintf("Feature Flag Rollback: %s", flagName)
	message := fmt.Sprintf(
		"Feature flag %q has been automatically rolled back due to alarm.\n\nReason: %s\n\nTime: %s\n\nPlease investigate and take appropriate action.",
		flagName, reason, flags.Timestamp(now),
	)
	if err := c.notifier.Notify(ctx, subject, message); err != nil {
		c.logger.Warn().Err(err).Msg("rollback notification dropped")
	}
}

func (c *Controller) notifyError(ctx context.Context, cause error) {
	subject := "Feature Flag Rollback Failed"
	message := fmt.Sprintf(
		"Automated rollback failed with error: %v\n\nTime: %s\n\nPlease investigate immediately.",
		cause, flags.Timestamp(c.clock()),
	)
	if err := c.notifier.Notify(ctx, subject, message); err != nil {
		c.logger.Warn().Err(err).Msg("error notification dropped")
	}
}
