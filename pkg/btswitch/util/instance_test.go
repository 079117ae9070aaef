package util

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"
	"time"
)

func TestAcquireInstanceLock(t *testing.T) {
	lockFile := filepath.Join(t.TempDir(), "state", "btswitch.lock")

	lock, err := AcquireInstanceLock(lockFile)
	if err != nil {
		t.Fatalf("AcquireInstanceLock() error = %v", err)
	}

	content, err := os.ReadFile(lockFile)
	if err != nil {
		t.Fatalf("read lock file: %v", err)
	}

	if string(content) != strconv.Itoa(os.Getpid()) {
		t.Fatalf("lock file contains %q, want our pid", content)
	}

	// our own pid in the lock doesn't block us
	if _, err := AcquireInstanceLock(lockFile); err != nil {
		t.Fatalf("re-acquiring own lock: %v", err)
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}

	if _, err := os.Stat(lockFile); !os.IsNotExist(err) {
		t.Fatalf("lock file still exists after release: %v", err)
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("second Release() error = %v", err)
	}
}

func TestAcquireInstanceLockReplacesStaleLock(t *testing.T) {
	lockFile := filepath.Join(t.TempDir(), "btswitch.lock")

	// pid_max on linux is at most 2^22, so this process can't exist
	if err := os.WriteFile(lockFile, []byte("99999999"), 0o644); err != nil {
		t.Fatalf("write stale lock: %v", err)
	}

	if _, err := AcquireInstanceLock(lockFile); err != nil {
		t.Fatalf("AcquireInstanceLock() with stale lock error = %v", err)
	}
}

func TestAcquireInstanceLockReplacesUnreadableLock(t *testing.T) {
	lockFile := filepath.Join(t.TempDir(), "btswitch.lock")

	if err := os.WriteFile(lockFile, []byte("not a pid"), 0o644); err != nil {
		t.Fatalf("write lock: %v", err)
	}

	old := time.Now().Add(-time.Minute)
	if err := os.Chtimes(lockFile, old, old); err != nil {
		t.Fatalf("age lock: %v", err)
	}

	if _, err := AcquireInstanceLock(lockFile); err != nil {
		t.Fatalf("AcquireInstanceLock() with an old unreadable lock error = %v", err)
	}

	content, err := os.ReadFile(lockFile)
	if err != nil || string(content) != strconv.Itoa(os.Getpid()) {
		t.Fatalf("lock file contains %q (%v), want our pid", content, err)
	}
}

func TestAcquireInstanceLockKeepsLockBeingWritten(t *testing.T) {
	lockFile := filepath.Join(t.TempDir(), "btswitch.lock")

	// created by another instance that hasn't written its pid yet
	if err := os.WriteFile(lockFile, nil, 0o644); err != nil {
		t.Fatalf("write lock: %v", err)
	}

	if _, err := AcquireInstanceLock(lockFile); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("AcquireInstanceLock() error = %v, want ErrAlreadyRunning", err)
	}

	if content, _ := os.ReadFile(lockFile); len(content) != 0 {
		t.Fatalf("lock being written was overwritten with %q", content)
	}
}

func TestAcquireInstanceLockHeldByRunningInstance(t *testing.T) {
	holder := exec.Command(os.Args[0], "-test.run=^TestLockHolderProcess$")
	holder.Env = append(os.Environ(), "BTSWITCH_LOCK_HOLDER=1")

	if err := holder.Start(); err != nil {
		t.Fatalf("start lock holder: %v", err)
	}

	t.Cleanup(func() {
		_ = holder.Process.Kill()
		_ = holder.Wait()
	})

	lockFile := filepath.Join(t.TempDir(), "btswitch.lock")
	if err := os.WriteFile(lockFile, []byte(strconv.Itoa(holder.Process.Pid)), 0o644); err != nil {
		t.Fatalf("write lock: %v", err)
	}

	if _, err := AcquireInstanceLock(lockFile); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("AcquireInstanceLock() error = %v, want ErrAlreadyRunning", err)
	}

	content, err := os.ReadFile(lockFile)
	if err != nil || string(content) != strconv.Itoa(holder.Process.Pid) {
		t.Fatalf("lock file contains %q (%v), want the holder's pid", content, err)
	}
}

// TestLockHolderProcess isn't a real test, it's the other instance started by
// TestAcquireInstanceLockHeldByRunningInstance
func TestLockHolderProcess(t *testing.T) {
	if os.Getenv("BTSWITCH_LOCK_HOLDER") != "1" {
		t.Skip("only runs as a helper process")
	}

	time.Sleep(time.Minute)
}

func TestStateDir(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", "/tmp/state")

	dir, err := StateDir("btswitch")
	if err != nil {
		t.Fatalf("StateDir() error = %v", err)
	}

	if dir != filepath.Join("/tmp/state", "btswitch") {
		t.Fatalf("StateDir() = %q", dir)
	}
}
