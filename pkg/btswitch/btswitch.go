// Package btswitch switches the profile of a connected bluetooth audio device and
// moves the active audio streams onto it, restarting the bluetooth service when the
// device gets stuck
package btswitch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/MixyLabs/btswitch/pkg/btswitch/util"
)

const lockFilename = "btswitch.lock"

// ErrBusy is returned when a switch is requested while another one is still running
var ErrBusy = errors.New("a profile switch is already in progress")

// BTSwitch is the main entity managing all subcomponents
type BTSwitch struct {
	logger    *zap.SugaredLogger
	notifier  Notifier
	configMan *ConfigManager
	audio     AudioControl
	lock      *util.InstanceLock

	// the audio session isn't safe for concurrent use, passes are serialized
	busy sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc

	runningWithTray bool
	stopChannel     chan bool
	version         string
	verbose         bool
}

func NewBTSwitch(logger *zap.SugaredLogger, configPath string, verbose bool) (*BTSwitch, error) {
	logger = logger.Named("btswitch")

	b := &BTSwitch{
		logger:      logger,
		stopChannel: make(chan bool, 1),
		verbose:     verbose,
	}

	b.ctx, b.cancel = context.WithCancel(context.Background())

	notifier, err := NewToastNotifier(logger, func() bool {
		return b.configMan == nil || b.currConf().Notifications
	})
	if err != nil {
		logger.Errorw("Failed to create ToastNotifier", "error", err)
		return nil, fmt.Errorf("create new ToastNotifier: %w", err)
	}

	b.notifier = notifier

	config, err := NewConfig(logger, notifier, configPath)
	if err != nil {
		logger.Errorw("Failed to create Config", "error", err)
		return nil, fmt.Errorf("create new Config: %w", err)
	}

	b.configMan = config

	logger.Debug("Created btswitch instance")

	return b, nil
}

func (b *BTSwitch) currConf() Config {
	return b.configMan.Current()
}

// Initialize loads the config, takes the instance lock and opens the audio session
func (b *BTSwitch) Initialize() error {
	b.logger.Debug("Initializing")

	if err := b.configMan.Load(); err != nil {
		b.logger.Errorw("Failed to load config during initialization", "error", err)
		return fmt.Errorf("load config during init: %w", err)
	}

	lock, err := util.AcquireInstanceLock(lockFilePath())
	if err != nil {
		b.logger.Errorw("Failed to acquire instance lock", "error", err)
		return fmt.Errorf("acquire instance lock: %w", err)
	}

	b.lock = lock

	audio, err := NewPulseAudioControl(b.logger, b.currConf().PulseServer)
	if err != nil {
		b.logger.Errorw("Failed to open audio session", "error", err)
		_ = b.lock.Release()
		return fmt.Errorf("open audio session: %w", err)
	}

	b.audio = audio

	b.setupInterruptHandler()

	return nil
}

// SetVersion causes btswitch to add a version string to its tray menu if called before RunTray
func (b *BTSwitch) SetVersion(version string) {
	b.version = version
}

// Verbose returns a boolean indicating whether btswitch is running in verbose mode
func (b *BTSwitch) Verbose() bool {
	return b.verbose
}

// Switch runs a single reconciliation pass towards the given profile or profile alias
func (b *BTSwitch) Switch(profileName string) (Result, error) {
	conf := b.currConf()
	profile := conf.ResolveProfile(profileName)
	if profile != profileName {
		b.logger.Debugw("Resolved profile alias", "alias", profileName, "profile", profile)
	}

	return b.switchProfile(profile)
}

// switchProfile runs a pass towards a card profile id, without alias resolution
func (b *BTSwitch) switchProfile(profile string) (Result, error) {
	defer b.recoverFromPanic(profile)

	if !b.busy.TryLock() {
		b.logger.Warnw("Ignoring switch request, another one is running", "profile", profile)
		return Result{}, ErrBusy
	}
	defer b.busy.Unlock()

	conf := b.currConf()

	switcher, err := b.newSwitcher(conf)
	if err != nil {
		b.logger.Errorw("Failed to set up profile switcher", "error", err)
		return Result{}, fmt.Errorf("set up profile switcher: %w", err)
	}

	b.logger.Infow("Switching bluetooth profile", "profile", profile)

	res := switcher.Reconcile(b.ctx, profile)
	b.notifyResult(res)

	return res, nil
}

func (b *BTSwitch) newSwitcher(conf Config) (*ProfileSwitcher, error) {
	services, err := NewServiceManager(b.logger, conf.RestartMethod, conf.UseSudo)
	if err != nil {
		return nil, fmt.Errorf("create service manager: %w", err)
	}

	var adapter AdapterProbe
	if conf.ProbeAdapter {
		adapter = NewAdapterProbe(b.logger)
	}

	recovery := NewServiceRecovery(b.logger, b.audio, services, adapter, conf.recoverySettings())
	router := NewStreamRouter(b.logger, b.audio, conf.ExemptApplications)

	return NewProfileSwitcher(b.logger, b.audio, recovery, router, conf.SettleDelay), nil
}

func (b *BTSwitch) notifyResult(res Result) {
	if res.Outcome.Succeeded() {
		b.notifier.Notify("Bluetooth profile switched",
			fmt.Sprintf("Now using %s (%s)", res.Profile, res.Outcome))
		return
	}

	message := fmt.Sprintf("Couldn't switch to %s (%s)", res.Profile, res.Outcome)
	if res.Err != nil {
		message = fmt.Sprintf("%s: %v", message, res.Err)
	}

	b.notifier.Notify("Bluetooth profile switch failed", message)
}

func (b *BTSwitch) setupInterruptHandler() {
	interruptChannel := util.SetupCloseHandler()

	go func() {
		signal := <-interruptChannel
		b.logger.Debugw("Interrupted", "signal", signal)

		// unblocks any recovery wait in progress
		b.cancel()
		b.signalStop()
	}()
}

// Wait blocks until btswitch is asked to stop, by a signal or from the tray
func (b *BTSwitch) Wait() {
	<-b.stopChannel
	b.logger.Debug("Stop channel signaled, terminating")
}

func (b *BTSwitch) signalStop() {
	b.logger.Debug("Signalling stop channel")

	select {
	case b.stopChannel <- true:
	default:
	}
}

// Stop releases the audio session and the instance lock
func (b *BTSwitch) Stop() error {
	b.logger.Info("Stopping")

	b.cancel()
	b.configMan.StopWatchingConfigFile()

	var errs []error

	if b.audio != nil {
		if err := b.audio.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close audio session: %w", err))
		}
	}

	if b.lock != nil {
		if err := b.lock.Release(); err != nil {
			errs = append(errs, err)
		}
	}

	if b.runningWithTray {
		b.stopTray()
	}

	// attempt to sync on exit - this won't necessarily work but can't harm
	_ = b.logger.Sync()

	return errors.Join(errs...)
}

func lockFilePath() string {
	dir, err := util.StateDir(clientName)
	if err != nil {
		dir = os.TempDir()
	}

	return filepath.Join(dir, lockFilename)
}
