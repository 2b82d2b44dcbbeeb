package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/internal/utils"
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/mediaformat"
	"github.com/fsnotify/fsnotify"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	minTimeBetweenReloads      = 500 * time.Millisecond
	delayBetweenEventAndReload = 50 * time.Millisecond
)

type Config struct {
	LogLevel        string        `mapstructure:"loglevel"`
	LogFile         string        `mapstructure:"logfile"`
	FrameDuration   time.Duration `mapstructure:"frameduration"`
	PipelineTimeout time.Duration `mapstructure:"pipelinetimeout"`
	PreferencesFile string        `mapstructure:"preferencesfile"`
	AutoSelectUSB   bool          `mapstructure:"autoselectusb"`
	MetricsAddress  string        `mapstructure:"metricsaddress"`
	// A .WAV file standing in for the microphone. Silence if empty.
	CaptureFile string   `mapstructure:"capturefile"`
	Codecs      []string `mapstructure:"codecs"`
}

func (c Config) Validate() error {
	var errs []error
	if c.LogLevel != "none" {
		if _, err := utils.ParseLogLevel(c.LogLevel); err != nil {
			errs = append(errs, err)
		}
	}
	if c.FrameDuration <= 0 {
		errs = append(errs, fmt.Errorf("frameduration must be positive, got %s", c.FrameDuration))
	}
	if c.PipelineTimeout <= 0 {
		errs = append(errs, fmt.Errorf("pipelinetimeout must be positive, got %s", c.PipelineTimeout))
	}
	if _, err := mediaformat.CodecsFromNames(c.Codecs); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Holds the current Config and reloads it when the config file is written.
type Manager struct {
	logger *slog.Logger
	v      *viper.Viper
	path   string

	mu         sync.Mutex
	current    Config
	consumers  []func(Config)
	lastReload time.Time
}

// Load the config at configFilePath on top of the defaults of
// utils.SetViperDefaults. A missing file leaves the defaults in place.
func LoadConfig(configFilePath string) (*Manager, error) {
	m := &Manager{
		logger: slog.Default().With("config file", configFilePath),
		v:      viper.New(),
		path:   configFilePath,
	}
	utils.SetViperDefaults(m.v)

	if configFilePath != "" {
		m.v.SetConfigFile(configFilePath)
		if err := m.v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				m.logger.Error("error during config read", "err", err)
				return nil, fmt.Errorf("read config: %w", err)
			}
			m.logger.Info("no config file found")
		}
	}

	cfg, err := m.decode()
	if err != nil {
		return nil, err
	}
	m.current = cfg
	return m, nil
}

func (m *Manager) decode() (Config, error) {
	var cfg Config
	err := m.v.Unmarshal(&cfg, func(dConf *mapstructure.DecoderConfig) {
		dConf.WeaklyTypedInput = false
		dConf.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	})
	if err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (m *Manager) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Register fn to be called with every successfully reloaded Config.
func (m *Manager) OnChange(fn func(Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consumers = append(m.consumers, fn)
}

// Start watching the config file for writes. Reloads are rate limited,
// since many editors write a file twice.
func (m *Manager) Watch() {
	if m.path == "" {
		return
	}
	m.logger.Debug("watching config file for changes")
	m.v.OnConfigChange(func(event fsnotify.Event) {
		if event.Op&fsnotify.Write != fsnotify.Write {
			return
		}
		m.mu.Lock()
		now := time.Now()
		if m.lastReload.Add(minTimeBetweenReloads).After(now) {
			m.mu.Unlock()
			return
		}
		m.lastReload = now
		m.mu.Unlock()

		// let the editor flush the new contents
		<-time.After(delayBetweenEventAndReload)
		if err := m.Reload(); err != nil {
			m.logger.Warn("failed to reload config, keeping the previous one", "err", err)
		}
	})
	m.v.WatchConfig()
}

// Re-read the config file and notify consumers. On error the current Config is kept.
func (m *Manager) Reload() error {
	if err := m.v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	cfg, err := m.decode()
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.current = cfg
	consumers := append([](func(Config))(nil), m.consumers...)
	m.mu.Unlock()

	m.logger.Info("reloaded config", "loglevel", cfg.LogLevel)
	for _, fn := range consumers {
		fn(cfg)
	}
	return nil
}
