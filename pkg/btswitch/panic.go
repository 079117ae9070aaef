package btswitch

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/MixyLabs/btswitch/pkg/btswitch/util"
)

const (
	crashlogFilename        = "btswitch-crash-%s.log"
	crashlogTimestampFormat = "2006.01.02-15.04.05"

	crashMessage = `-----------------------------------------------------------------
                        btswitch crashlog
-----------------------------------------------------------------
Unfortunately, btswitch has crashed.
Your bluetooth audio device may have been left mid-switch.
Running btswitch again with the same profile is safe.
-----------------------------------------------------------------
Time: %s
Target profile: %s
Panic occurred: %s
Stack trace:
%s
-----------------------------------------------------------------
`
)

// crashReport renders the crashlog for a panic hit while switching towards profile
func crashReport(now time.Time, profile string, r any, stack []byte) []byte {
	if profile == "" {
		profile = "(none)"
	}

	return bytes.NewBufferString(fmt.Sprintf(crashMessage, now.Format(crashlogTimestampFormat), profile, r, stack)).Bytes()
}

func (b *BTSwitch) recoverFromPanic(profile string) {
	r := recover()

	if r == nil {
		return
	}

	now := time.Now()
	logDir := releaseLogDirectory()

	if err := util.EnsureDirExists(logDir); err != nil {
		panic(fmt.Errorf("ensure crashlog dir exists: %w", err))
	}

	crashlogBytes := crashReport(now, profile, r, debug.Stack())
	crashlogPath := filepath.Join(logDir, fmt.Sprintf(crashlogFilename, now.Format(crashlogTimestampFormat)))

	if err := os.WriteFile(crashlogPath, crashlogBytes, 0o644); err != nil {
		panic(fmt.Errorf("can't even write the crashlog file contents: %w", err))
	}

	b.logger.Errorw("Encountered and logged panic, crashing",
		"crashlogPath", crashlogPath,
		"profile", profile,
		"error", r)

	b.notifier.Notify("Unexpected crash occurred...",
		fmt.Sprintf("More details in %s", crashlogPath))

	if b.lock != nil {
		_ = b.lock.Release()
	}

	b.logger.Errorw("Quitting", "exitCode", 1)
	_ = b.logger.Sync()
	os.Exit(1)
}
