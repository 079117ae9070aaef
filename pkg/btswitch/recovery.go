package btswitch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrRecoveryTimeout is returned when no bluetooth sink reappeared within the recovery timeout
	ErrRecoveryTimeout = errors.New("bluetooth sink did not reappear in time")

	// ErrServiceRestart is returned when the service manager failed to restart the service
	ErrServiceRestart = errors.New("restart bluetooth service")
)

// RecoverySettings tune a recovery cycle. A zero Timeout waits for the sink forever
type RecoverySettings struct {
	ServiceName  string
	PollInterval time.Duration
	Timeout      time.Duration
}

// ServiceRecovery restarts the bluetooth service and waits for the bluetooth sink to come back
type ServiceRecovery struct {
	logger   *zap.SugaredLogger
	audio    AudioControl
	services ServiceManager
	adapter  AdapterProbe
	settings RecoverySettings
}

// NewServiceRecovery creates a recovery helper. adapter may be nil to skip adapter diagnostics
func NewServiceRecovery(logger *zap.SugaredLogger, audio AudioControl, services ServiceManager, adapter AdapterProbe, settings RecoverySettings) *ServiceRecovery {
	return &ServiceRecovery{
		logger:   logger.Named("recovery"),
		audio:    audio,
		services: services,
		adapter:  adapter,
		settings: settings,
	}
}

// RestartServiceAndWait restarts the service, then polls until a bluetooth sink exists and returns it.
// The returned sink is freshly resolved; anything obtained before the call is stale
func (r *ServiceRecovery) RestartServiceAndWait(ctx context.Context) (*Endpoint, error) {
	waitCtx := ctx
	if r.settings.Timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, r.settings.Timeout)
		defer cancel()
	}

	r.logger.Infow("Restarting bluetooth service", "service", r.settings.ServiceName)
	started := time.Now()

	if err := r.services.Restart(waitCtx, r.settings.ServiceName); err != nil {
		if timeoutErr := r.timeoutCause(ctx, waitCtx); timeoutErr != nil {
			return nil, timeoutErr
		}

		r.logger.Errorw("Service manager failed to restart service",
			"service", r.settings.ServiceName,
			"error", err)

		return nil, fmt.Errorf("%w %s: %w", ErrServiceRestart, r.settings.ServiceName, err)
	}

	for attempt := 1; ; attempt++ {
		sink, err := FindBluetoothSink(waitCtx, r.audio)
		if err != nil {
			if timeoutErr := r.timeoutCause(ctx, waitCtx); timeoutErr != nil {
				return nil, timeoutErr
			}

			// devices come and go while the service restarts, keep polling
			r.logger.Warnw("Failed to look up bluetooth sink while recovering", "error", err)
		} else if sink != nil {
			r.logger.Infow("Bluetooth sink is back",
				"sink", sink,
				"polls", attempt,
				"took", time.Since(started))

			return sink, nil
		}

		r.logger.Infow("Bluetooth sink not found yet, waiting",
			"poll", attempt,
			"interval", r.settings.PollInterval,
			"adapter", r.adapterState(waitCtx))

		if err := sleepContext(waitCtx, r.settings.PollInterval); err != nil {
			if timeoutErr := r.timeoutCause(ctx, waitCtx); timeoutErr != nil {
				return nil, timeoutErr
			}

			return nil, err
		}
	}
}

// timeoutCause tells apart our own timeout from the caller's cancellation
func (r *ServiceRecovery) timeoutCause(parent, waitCtx context.Context) error {
	if err := parent.Err(); err != nil {
		return err
	}

	if errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
		r.logger.Errorw("Gave up waiting for bluetooth sink", "timeout", r.settings.Timeout)
		return fmt.Errorf("%w (waited %s)", ErrRecoveryTimeout, r.settings.Timeout)
	}

	return nil
}

func (r *ServiceRecovery) adapterState(ctx context.Context) string {
	if r.adapter == nil {
		return "unknown"
	}

	if err := r.adapter.Ready(ctx); err != nil {
		r.logger.Debugw("Bluetooth adapter not ready", "error", err)
		return "down"
	}

	return "up"
}

// sleepContext blocks for d or until ctx is done
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
