package util

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/go-ps"
)

// a lock younger than this with no pid in it is still being written
const freshLockAge = 2 * time.Second

// ErrAlreadyRunning is returned by AcquireInstanceLock when another live process holds the lock
var ErrAlreadyRunning = errors.New("another instance is already running")

// InstanceLock is a pid file guarding against concurrent runs
type InstanceLock struct {
	path string
}

// AcquireInstanceLock creates lockFile holding our pid. An existing lock is only taken over
// when the pid in it doesn't belong to a running process with the same executable name
func AcquireInstanceLock(lockFile string) (*InstanceLock, error) {
	if err := EnsureDirExists(filepath.Dir(lockFile)); err != nil {
		return nil, err
	}

	currentPid := os.Getpid()

	// one take-over of a stale lock, a second conflict means someone else just won the race
	for attempt := 0; attempt < 2; attempt++ {
		created, err := createLockFile(lockFile, currentPid)
		if err != nil {
			return nil, err
		}

		if created {
			return &InstanceLock{path: lockFile}, nil
		}

		lockPid, err := readLockPid(lockFile)
		if errors.Is(err, os.ErrNotExist) {
			// released in the meantime
			continue
		}

		if err == nil && lockPid == currentPid {
			return &InstanceLock{path: lockFile}, nil
		}

		if err != nil && recentlyModified(lockFile) {
			// another instance created it and hasn't written its pid yet
			return nil, fmt.Errorf("%w (lock %s is being written)", ErrAlreadyRunning, lockFile)
		}

		if err == nil {
			running, err := sameExecutableRunning(lockPid, currentPid)
			if err != nil {
				return nil, err
			}

			if running {
				return nil, fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, lockPid)
			}
		}

		// stale or unreadable, remove it and try creating it again
		if err := os.Remove(lockFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("remove stale instance lock %s: %w", lockFile, err)
		}
	}

	return nil, fmt.Errorf("%w: lost the race for %s", ErrAlreadyRunning, lockFile)
}

// createLockFile reports false without an error when the file already exists
func createLockFile(lockFile string, pid int) (bool, error) {
	f, err := os.OpenFile(lockFile, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, os.ErrExist) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("create instance lock %s: %w", lockFile, err)
	}

	_, writeErr := f.WriteString(strconv.Itoa(pid))
	closeErr := f.Close()

	if err := errors.Join(writeErr, closeErr); err != nil {
		_ = os.Remove(lockFile)
		return false, fmt.Errorf("write instance lock %s: %w", lockFile, err)
	}

	return true, nil
}

func recentlyModified(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}

	return time.Since(info.ModTime()) < freshLockAge
}

func readLockPid(lockFile string) (int, error) {
	content, err := os.ReadFile(lockFile)
	if err != nil {
		return 0, err
	}

	return strconv.Atoi(strings.TrimSpace(string(content)))
}

// Release removes the lock file
func (l *InstanceLock) Release() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove instance lock %s: %w", l.path, err)
	}

	return nil
}

// a stale pid may have been reused by an unrelated process, so compare executables too
func sameExecutableRunning(pid int, currentPid int) (bool, error) {
	other, err := ps.FindProcess(pid)
	if err != nil {
		return false, fmt.Errorf("look up process %d: %w", pid, err)
	}

	if other == nil {
		return false, nil
	}

	self, err := ps.FindProcess(currentPid)
	if err != nil {
		return false, fmt.Errorf("look up own process: %w", err)
	}

	if self == nil {
		return false, errors.New("own process missing from process table")
	}

	return other.Executable() == self.Executable(), nil
}
