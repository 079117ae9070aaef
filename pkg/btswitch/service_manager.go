package btswitch

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"
)

const (
	restartMethodSystemctl = "systemctl"
	restartMethodDBus      = "dbus"

	systemdBusName       = "org.freedesktop.systemd1"
	systemdObjectPath    = dbus.ObjectPath("/org/freedesktop/systemd1")
	systemdManagerIface  = "org.freedesktop.systemd1.Manager"
	systemdJobRemovedSig = systemdManagerIface + ".JobRemoved"
)

// ServiceManager restarts system services. Restart returns once the service manager reports
// the restart as finished
type ServiceManager interface {
	Restart(ctx context.Context, service string) error
}

// NewServiceManager picks the service manager implementation named by method
func NewServiceManager(logger *zap.SugaredLogger, method string, useSudo bool) (ServiceManager, error) {
	switch method {
	case restartMethodSystemctl, "":
		return &systemctlManager{logger: logger.Named("systemctl"), useSudo: useSudo}, nil
	case restartMethodDBus:
		return &dbusServiceManager{logger: logger.Named("systemd")}, nil
	default:
		return nil, fmt.Errorf("unknown restart method %q", method)
	}
}

type systemctlManager struct {
	logger  *zap.SugaredLogger
	useSudo bool
}

func (m *systemctlManager) command(service string) []string {
	args := []string{"systemctl", "restart", service}
	if m.useSudo {
		args = append([]string{"sudo"}, args...)
	}

	return args
}

func (m *systemctlManager) Restart(ctx context.Context, service string) error {
	args := m.command(service)
	m.logger.Debugw("Running restart command", "command", strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)

	// sudo may need to ask for a password
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("run %s: %w", strings.Join(args, " "), err)
	}

	return nil
}

// dbusServiceManager talks to systemd directly; privileges are granted through polkit
type dbusServiceManager struct {
	logger *zap.SugaredLogger
}

func unitName(service string) string {
	if strings.Contains(service, ".") {
		return service
	}

	return service + ".service"
}

func (m *dbusServiceManager) Restart(ctx context.Context, service string) error {
	conn, err := dbus.ConnectSystemBus(dbus.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("connect to system bus: %w", err)
	}
	defer conn.Close()

	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(systemdObjectPath),
		dbus.WithMatchInterface(systemdManagerIface),
		dbus.WithMatchMember("JobRemoved"),
	); err != nil {
		return fmt.Errorf("subscribe to systemd job signals: %w", err)
	}

	signals := make(chan *dbus.Signal, 16)
	conn.Signal(signals)
	defer conn.RemoveSignal(signals)

	manager := conn.Object(systemdBusName, systemdObjectPath)

	// job signals are only broadcast to subscribed clients
	if err := manager.CallWithContext(ctx, systemdManagerIface+".Subscribe", 0).Err; err != nil {
		m.logger.Debugw("Failed to subscribe to systemd manager", "error", err)
	}

	unit := unitName(service)

	var job dbus.ObjectPath
	if err := manager.CallWithContext(ctx, systemdManagerIface+".RestartUnit", 0, unit, "replace").Store(&job); err != nil {
		return fmt.Errorf("restart unit %s: %w", unit, err)
	}

	m.logger.Debugw("Queued restart job", "unit", unit, "job", job)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case sig, ok := <-signals:
			if !ok {
				return fmt.Errorf("system bus connection closed while waiting for job %s", job)
			}

			done, result := jobResult(sig, job)
			if !done {
				continue
			}

			if result != "done" {
				return fmt.Errorf("restart job for %s finished with result %q", unit, result)
			}

			m.logger.Debugw("Restart job finished", "unit", unit, "job", job)
			return nil
		}
	}
}

// jobResult extracts the result from a JobRemoved(id, job, unit, result) signal for the given job
func jobResult(sig *dbus.Signal, job dbus.ObjectPath) (bool, string) {
	if sig == nil || sig.Name != systemdJobRemovedSig || len(sig.Body) < 4 {
		return false, ""
	}

	path, ok := sig.Body[1].(dbus.ObjectPath)
	if !ok || path != job {
		return false, ""
	}

	result, _ := sig.Body[3].(string)

	return true, result
}
