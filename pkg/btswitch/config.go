package btswitch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"github.com/thoas/go-funk"
	"go.uber.org/zap"
)

type ConfigManager struct {
	logger             *zap.SugaredLogger
	notifier           Notifier
	stopWatcherChannel chan bool

	reloadConsumers []chan bool

	userConfig *viper.Viper
	explicit   bool

	lock    sync.Mutex
	current Config
	stopped bool
}

type Config struct {
	PulseServer string `mapstructure:"pulse_server"`

	ServiceName   string `mapstructure:"service_name"`
	RestartMethod string `mapstructure:"restart_method"`
	UseSudo       bool   `mapstructure:"use_sudo"`
	ProbeAdapter  bool   `mapstructure:"probe_adapter"`

	PollInterval    time.Duration `mapstructure:"poll_interval"`
	SettleDelay     time.Duration `mapstructure:"settle_delay"`
	RecoveryTimeout time.Duration `mapstructure:"recovery_timeout"`

	ExemptApplications []string `mapstructure:"exempt_applications"`

	Notifications bool `mapstructure:"notifications"`

	Profiles []ProfileAlias `mapstructure:"profiles"`
}

// ProfileAlias gives a card profile a friendlier name, used on the command line and in the tray menu
type ProfileAlias struct {
	Name    string `mapstructure:"name"`
	Profile string `mapstructure:"profile"`
}

const (
	userConfigName = "config"
	configType     = "yaml"

	configKeyPulseServer        = "pulse_server"
	configKeyServiceName        = "service_name"
	configKeyRestartMethod      = "restart_method"
	configKeyUseSudo            = "use_sudo"
	configKeyProbeAdapter       = "probe_adapter"
	configKeyPollInterval       = "poll_interval"
	configKeySettleDelay        = "settle_delay"
	configKeyRecoveryTimeout    = "recovery_timeout"
	configKeyExemptApplications = "exempt_applications"
	configKeyNotifications      = "notifications"

	defaultServiceName     = "bluetooth"
	defaultPollInterval    = 5 * time.Second
	defaultSettleDelay     = 5 * time.Second
	defaultRecoveryTimeout = 2 * time.Minute
)

// NewConfig creates a config manager. With an empty configPath the config is looked up in the
// working directory and the user's config directory, and is optional
func NewConfig(logger *zap.SugaredLogger, notifier Notifier, configPath string) (*ConfigManager, error) {
	logger = logger.Named("config")

	cc := &ConfigManager{
		logger:             logger,
		notifier:           notifier,
		reloadConsumers:    []chan bool{},
		stopWatcherChannel: make(chan bool),
	}

	userConfig := viper.New()
	userConfig.SetConfigType(configType)

	if configPath != "" {
		userConfig.SetConfigFile(configPath)
		cc.explicit = true
	} else {
		userConfig.SetConfigName(userConfigName)
		userConfig.AddConfigPath(".")

		if dir, err := os.UserConfigDir(); err == nil {
			userConfig.AddConfigPath(filepath.Join(dir, clientName))
		}
	}

	userConfig.SetDefault(configKeyPulseServer, "")
	userConfig.SetDefault(configKeyServiceName, defaultServiceName)
	userConfig.SetDefault(configKeyRestartMethod, restartMethodSystemctl)
	userConfig.SetDefault(configKeyUseSudo, true)
	userConfig.SetDefault(configKeyProbeAdapter, true)
	userConfig.SetDefault(configKeyPollInterval, defaultPollInterval)
	userConfig.SetDefault(configKeySettleDelay, defaultSettleDelay)
	userConfig.SetDefault(configKeyRecoveryTimeout, defaultRecoveryTimeout)
	userConfig.SetDefault(configKeyExemptApplications, DefaultExemptApplications)
	userConfig.SetDefault(configKeyNotifications, true)

	cc.userConfig = userConfig

	logger.Debug("Created config instance")

	return cc, nil
}

func (cc *ConfigManager) Load() error {
	if err := cc.userConfig.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !cc.explicit && errors.As(err, &notFound) {
			cc.logger.Debugw("No config file found, using defaults", "reminder", "this is fine")
		} else {
			cc.logger.Warnw("Viper failed to read user config", "error", err)

			if strings.Contains(err.Error(), "yaml:") {
				cc.notifier.Notify("Invalid configuration!",
					"Please make sure the btswitch config is in a valid YAML format.")
			}

			return fmt.Errorf("read user config: %w", err)
		}
	} else {
		cc.logger.Debugw("Read config file", "path", cc.userConfig.ConfigFileUsed())
	}

	next, err := cc.populateFromVipers()
	if err != nil {
		cc.logger.Warnw("Failed to populate config fields", "error", err)
		return fmt.Errorf("populate config fields: %w", err)
	}

	if err := next.validate(); err != nil {
		cc.logger.Warnw("Invalid config values", "error", err)
		return fmt.Errorf("validate config: %w", err)
	}

	cc.lock.Lock()
	cc.current = next
	cc.lock.Unlock()

	cc.logger.Infow("Config values",
		"serviceName", next.ServiceName,
		"restartMethod", next.RestartMethod,
		"pollInterval", next.PollInterval,
		"recoveryTimeout", next.RecoveryTimeout,
		"profiles", len(next.Profiles))

	return nil
}

// Current returns a copy of the currently loaded config
func (cc *ConfigManager) Current() Config {
	cc.lock.Lock()
	defer cc.lock.Unlock()

	return cc.current
}

// SubscribeToChanges allows external components to receive updates when the config is reloaded
func (cc *ConfigManager) SubscribeToChanges() chan bool {
	c := make(chan bool)

	cc.lock.Lock()
	cc.reloadConsumers = append(cc.reloadConsumers, c)
	cc.lock.Unlock()

	return c
}

// WatchConfigFileChanges starts watching for configuration file changes
// and attempts reloading the config when they happen
func (cc *ConfigManager) WatchConfigFileChanges() {
	if cc.userConfig.ConfigFileUsed() == "" {
		cc.logger.Debug("No config file in use, nothing to watch")
		return
	}

	cc.logger.Debugw("Starting to watch user config file for changes", "path", cc.userConfig.ConfigFileUsed())

	const (
		minTimeBetweenReloadAttempts = time.Millisecond * 500
		delayBetweenEventAndReload   = time.Millisecond * 50
	)

	// only touched from viper's watcher goroutine
	var lastAttemptedReload time.Time

	// viper reads the callback from its watcher goroutine, so it's set once before watching starts
	cc.userConfig.OnConfigChange(func(event fsnotify.Event) {
		if event.Op&fsnotify.Write != fsnotify.Write || cc.watcherStopped() {
			return
		}

		now := time.Now()

		// many editors write the file twice
		if lastAttemptedReload.Add(minTimeBetweenReloadAttempts).After(now) {
			return
		}

		cc.logger.Debugw("Config file modified, attempting reload", "event", event)

		// let the editor flush the new contents to disk
		<-time.After(delayBetweenEventAndReload)

		if err := cc.Load(); err != nil {
			cc.logger.Warnw("Failed to reload config file", "error", err)
		} else {
			cc.logger.Info("Reloaded config successfully")
			cc.notifier.Notify("Configuration reloaded!", "Your changes have been applied.")

			cc.onConfigReloaded()
		}

		lastAttemptedReload = now
	})
	cc.userConfig.WatchConfig()

	<-cc.stopWatcherChannel
	cc.logger.Debug("Stopping user config file watcher")
}

// StopWatchingConfigFile signals our filesystem watcher to stop. viper can't remove its
// watch, so later events are ignored instead
func (cc *ConfigManager) StopWatchingConfigFile() {
	cc.lock.Lock()
	cc.stopped = true
	cc.lock.Unlock()

	select {
	case cc.stopWatcherChannel <- true:
	default:
	}
}

func (cc *ConfigManager) watcherStopped() bool {
	cc.lock.Lock()
	defer cc.lock.Unlock()

	return cc.stopped
}

func (cc *ConfigManager) populateFromVipers() (Config, error) {
	var next Config

	err := cc.userConfig.Unmarshal(&next, func(dConf *mapstructure.DecoderConfig) {
		dConf.WeaklyTypedInput = false
		dConf.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	})
	if err != nil {
		return Config{}, err
	}

	cc.logger.Debug("Populated config fields from vipers")

	return next, nil
}

func (cc *ConfigManager) onConfigReloaded() {
	cc.logger.Debug("Notifying consumers about configuration reload")

	cc.lock.Lock()
	consumers := append([]chan bool{}, cc.reloadConsumers...)
	cc.lock.Unlock()

	for _, consumer := range consumers {
		consumer <- true
	}
}

func (c *Config) validate() error {
	if c.ServiceName == "" {
		return errors.New("service_name must not be empty")
	}

	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval)
	}

	if c.SettleDelay < 0 || c.RecoveryTimeout < 0 {
		return errors.New("settle_delay and recovery_timeout must not be negative")
	}

	if c.RestartMethod != restartMethodSystemctl && c.RestartMethod != restartMethodDBus {
		return fmt.Errorf("restart_method must be %q or %q, got %q", restartMethodSystemctl, restartMethodDBus, c.RestartMethod)
	}

	for _, alias := range c.Profiles {
		if alias.Name == "" || alias.Profile == "" {
			return fmt.Errorf("profile alias %+v needs both a name and a profile", alias)
		}
	}

	return nil
}

// ResolveProfile maps a profile alias to its card profile. Unknown names are taken as profiles as-is
func (c *Config) ResolveProfile(name string) string {
	found := funk.Find(c.Profiles, func(alias ProfileAlias) bool {
		return strings.EqualFold(alias.Name, name)
	})

	if alias, ok := found.(ProfileAlias); ok {
		return alias.Profile
	}

	return name
}

func (c *Config) recoverySettings() RecoverySettings {
	return RecoverySettings{
		ServiceName:  c.ServiceName,
		PollInterval: c.PollInterval,
		Timeout:      c.RecoveryTimeout,
	}
}
