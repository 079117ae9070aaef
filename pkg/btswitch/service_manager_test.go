package btswitch

import (
	"reflect"
	"testing"

	"github.com/godbus/dbus/v5"
)

func TestNewServiceManager(t *testing.T) {
	for _, method := range []string{"", restartMethodSystemctl, restartMethodDBus} {
		if _, err := NewServiceManager(testLogger(), method, true); err != nil {
			t.Fatalf("NewServiceManager(%q) error = %v", method, err)
		}
	}

	if _, err := NewServiceManager(testLogger(), "openrc", true); err == nil {
		t.Fatal("NewServiceManager accepted an unknown method")
	}
}

func TestSystemctlCommand(t *testing.T) {
	withSudo := &systemctlManager{logger: testLogger(), useSudo: true}
	if got := withSudo.command("bluetooth"); !reflect.DeepEqual(got, []string{"sudo", "systemctl", "restart", "bluetooth"}) {
		t.Fatalf("command() = %v", got)
	}

	withoutSudo := &systemctlManager{logger: testLogger()}
	if got := withoutSudo.command("bluetooth"); !reflect.DeepEqual(got, []string{"systemctl", "restart", "bluetooth"}) {
		t.Fatalf("command() = %v", got)
	}
}

func TestUnitName(t *testing.T) {
	if got := unitName("bluetooth"); got != "bluetooth.service" {
		t.Fatalf("unitName(bluetooth) = %q", got)
	}

	if got := unitName("bluetooth.service"); got != "bluetooth.service" {
		t.Fatalf("unitName(bluetooth.service) = %q", got)
	}
}

func TestJobResult(t *testing.T) {
	job := dbus.ObjectPath("/org/freedesktop/systemd1/job/42")

	removed := func(path dbus.ObjectPath, result string) *dbus.Signal {
		return &dbus.Signal{
			Name: systemdJobRemovedSig,
			Path: systemdObjectPath,
			Body: []interface{}{uint32(42), path, "bluetooth.service", result},
		}
	}

	if done, result := jobResult(removed(job, "done"), job); !done || result != "done" {
		t.Fatalf("jobResult() = %v, %q", done, result)
	}

	if done, result := jobResult(removed(job, "failed"), job); !done || result != "failed" {
		t.Fatalf("jobResult() = %v, %q", done, result)
	}

	if done, _ := jobResult(removed("/org/freedesktop/systemd1/job/7", "done"), job); done {
		t.Fatal("jobResult matched another job")
	}

	if done, _ := jobResult(&dbus.Signal{Name: "org.freedesktop.systemd1.Manager.UnitNew"}, job); done {
		t.Fatal("jobResult matched an unrelated signal")
	}

	if done, _ := jobResult(nil, job); done {
		t.Fatal("jobResult matched a nil signal")
	}
}
