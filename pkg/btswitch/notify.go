package btswitch

import (
	"github.com/gen2brain/beeep"
	"go.uber.org/zap"
)

// Notifier provides generic notification sending
type Notifier interface {
	Notify(title string, message string)
}

// ToastNotifier sends desktop notifications
type ToastNotifier struct {
	logger  *zap.SugaredLogger
	enabled func() bool
}

// NewToastNotifier creates a notifier. enabled is consulted on every notification so
// config reloads take effect right away; nil means always enabled
func NewToastNotifier(logger *zap.SugaredLogger, enabled func() bool) (*ToastNotifier, error) {
	logger = logger.Named("notifier")
	tn := &ToastNotifier{logger: logger, enabled: enabled}

	logger.Debug("Created toast notifier instance")

	return tn, nil
}

// Notify sends a desktop notification. Failures are only logged
func (tn *ToastNotifier) Notify(title string, message string) {
	if tn.enabled != nil && !tn.enabled() {
		tn.logger.Debugw("Notifications disabled, skipping", "title", title)
		return
	}

	tn.logger.Infow("Sending notification", "title", title, "message", message)

	if err := beeep.Notify(title, message, ""); err != nil {
		tn.logger.Errorw("Failed to send notification", "error", err)
	}
}
