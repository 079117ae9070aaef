package btswitch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// maxProfileAttempts caps profile change attempts; only the first failure triggers a recovery cycle
const maxProfileAttempts = 2

// Outcome is the terminal state a reconciliation pass ended in
type Outcome int

const (
	OutcomeAlreadyActive Outcome = iota
	OutcomeSwitched
	OutcomeSwitchedByRecovery
	OutcomeChangeFailed
	OutcomeSinkLost
	OutcomeRecoveryFailed
	OutcomeServiceError
)

var outcomeNames = map[Outcome]string{
	OutcomeAlreadyActive:      "already-active",
	OutcomeSwitched:           "switched",
	OutcomeSwitchedByRecovery: "switched-by-recovery",
	OutcomeChangeFailed:       "change-failed",
	OutcomeSinkLost:           "sink-lost",
	OutcomeRecoveryFailed:     "recovery-failed",
	OutcomeServiceError:       "service-error",
}

func (o Outcome) String() string {
	if name, ok := outcomeNames[o]; ok {
		return name
	}

	return fmt.Sprintf("outcome(%d)", int(o))
}

// Succeeded reports whether the profile is active and streams were routed
func (o Outcome) Succeeded() bool {
	return o == OutcomeAlreadyActive || o == OutcomeSwitched || o == OutcomeSwitchedByRecovery
}

// Result describes a finished reconciliation pass
type Result struct {
	Outcome         Outcome
	Profile         string
	PreviousProfile string

	// Attempts counts profile change calls, Recoveries counts service restart cycles
	Attempts   int
	Recoveries int

	Sink   *Endpoint
	Source *Endpoint

	Err error
}

// ProfileSwitcher drives a bluetooth card to a profile and routes streams to it
type ProfileSwitcher struct {
	logger   *zap.SugaredLogger
	audio    AudioControl
	recovery *ServiceRecovery
	router   *StreamRouter

	settleDelay time.Duration
}

// NewProfileSwitcher wires a switcher. settleDelay is waited after a recovery cycle triggered
// by a failed change, before the sink is looked up again
func NewProfileSwitcher(logger *zap.SugaredLogger, audio AudioControl, recovery *ServiceRecovery, router *StreamRouter, settleDelay time.Duration) *ProfileSwitcher {
	return &ProfileSwitcher{
		logger:      logger.Named("switcher"),
		audio:       audio,
		recovery:    recovery,
		router:      router,
		settleDelay: settleDelay,
	}
}

// SetProfile switches the bluetooth card to profile and reports whether it succeeded
func (s *ProfileSwitcher) SetProfile(ctx context.Context, profile string) bool {
	return s.Reconcile(ctx, profile).Outcome.Succeeded()
}

// Reconcile runs a full pass and returns the state it ended in
func (s *ProfileSwitcher) Reconcile(ctx context.Context, profile string) Result {
	res := Result{Profile: profile}

	sink, err := FindBluetoothSink(ctx, s.audio)
	if err != nil {
		return s.fail(res, OutcomeServiceError, err)
	}

	if sink == nil {
		s.logger.Info("Bluetooth sink not found, restarting bluetooth service")

		res.Recoveries++
		sink, err = s.recovery.RestartServiceAndWait(ctx)
		if err != nil {
			return s.fail(res, OutcomeRecoveryFailed, err)
		}
	}

	res.PreviousProfile = sink.Profile

	if sink.Profile == profile {
		s.logger.Infow("Profile is already active", "profile", profile, "sink", sink)
		res.Outcome = OutcomeAlreadyActive

		return s.route(ctx, res, sink)
	}

	s.logger.Infow("Switching profile", "from", sink.Profile, "to", profile, "sink", sink)

	res.Outcome = OutcomeSwitched

	for i := 0; i < maxProfileAttempts; i++ {
		res.Attempts++
		s.logger.Debugw("Trying to change profile", "attempt", i, "card", sink.CardIndex)

		err := s.audio.SetCardProfile(ctx, sink.CardIndex, profile)
		if err == nil {
			s.logger.Infow("Changed card profile", "card", sink.CardIndex, "profile", profile)
			break
		}

		if !errors.Is(err, ErrOperationFailed) {
			return s.fail(res, OutcomeServiceError, err)
		}

		if i == maxProfileAttempts-1 {
			s.logger.Errorw("Couldn't change profile", "profile", profile, "attempts", res.Attempts, "error", err)
			return s.fail(res, OutcomeChangeFailed, err)
		}

		s.logger.Warnw("Failed to change profile, restarting bluetooth service", "error", err)

		res.Recoveries++
		if _, err := s.recovery.RestartServiceAndWait(ctx); err != nil {
			return s.fail(res, OutcomeRecoveryFailed, err)
		}

		if err := sleepContext(ctx, s.settleDelay); err != nil {
			return s.fail(res, OutcomeRecoveryFailed, err)
		}

		// the sink returned by the recovery may already be gone again, look it up fresh
		sink, err = FindBluetoothSink(ctx, s.audio)
		if err != nil {
			return s.fail(res, OutcomeServiceError, err)
		}

		if sink == nil {
			s.logger.Error("Bluetooth sink disappeared after restarting bluetooth service")
			return s.fail(res, OutcomeSinkLost, nil)
		}

		if sink.Profile == profile {
			s.logger.Infow("Profile already changed by the restart", "profile", profile)
			res.Outcome = OutcomeSwitchedByRecovery
			break
		}
	}

	s.logger.Infow("Changed profile", "profile", profile)

	// card profile changes recreate the sink, so its index is stale by now
	sink, err = FindBluetoothSink(ctx, s.audio)
	if err != nil {
		return s.fail(res, OutcomeServiceError, err)
	}

	if sink == nil {
		s.logger.Error("Bluetooth sink not found after switching profile")
		return s.fail(res, OutcomeSinkLost, nil)
	}

	return s.route(ctx, res, sink)
}

func (s *ProfileSwitcher) route(ctx context.Context, res Result, sink *Endpoint) Result {
	res.Sink = sink

	source, err := s.router.RouteStreams(ctx, *sink)
	if err != nil {
		// the profile is in place, incomplete routing doesn't undo that
		s.logger.Warnw("Failed to route all streams", "error", err)
	}
	res.Source = source

	s.logger.Infow("Profile reconciled",
		"outcome", res.Outcome,
		"profile", res.Profile,
		"attempts", res.Attempts,
		"recoveries", res.Recoveries)

	return res
}

func (s *ProfileSwitcher) fail(res Result, outcome Outcome, err error) Result {
	res.Outcome = outcome
	res.Err = err

	s.logger.Warnw("Profile reconciliation failed",
		"outcome", outcome,
		"profile", res.Profile,
		"attempts", res.Attempts,
		"recoveries", res.Recoveries,
		"error", err)

	return res
}
