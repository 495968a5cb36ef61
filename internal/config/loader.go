package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. VIDEOBOT_PLATFORM_COOKIE.
const EnvPrefix = "VIDEOBOT"

// Options selects explicit config and .env files.
type Options struct {
	ConfigFile string
	EnvFile    string
}

// Manager handles configuration loading, watching and saving.
type Manager struct {
	config         *Config
	viper          *viper.Viper
	mu             sync.RWMutex
	callbacks      []func(*Config)
	watching       bool
	skipNextReload bool
}

// NewManager creates a configuration manager. The .env file is loaded into
// the process environment first so its values act as VIDEOBOT_* overrides.
func NewManager(opts Options) (*Manager, error) {
	if err := loadEnvFile(opts.EnvFile); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigType("toml")
	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(DefaultConfigDir())
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.BindEnv("logging.level", EnvPrefix+"_LOG_LEVEL"); err != nil {
		return nil, fmt.Errorf("failed to bind %s_LOG_LEVEL: %w", EnvPrefix, err)
	}
	if err := v.BindEnv("platform.cookie", EnvPrefix+"_COOKIE", EnvPrefix+"_PLATFORM_COOKIE"); err != nil {
		return nil, fmt.Errorf("failed to bind %s_COOKIE: %w", EnvPrefix, err)
	}

	return &Manager{viper: v}, nil
}

func loadEnvFile(path string) error {
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", path, err)
		}
		return nil
	}

	// An absent .env in the working directory is normal.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

// Load reads the config file (if any), applies env overrides and validates.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.setDefaults()

	if err := m.readConfigFile(); err != nil {
		return err
	}

	cfg, err := m.unmarshalConfig()
	if err != nil {
		return err
	}
	normalizeConfig(cfg)

	if err := validateConfig(cfg); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	m.config = cfg
	return nil
}

func (m *Manager) setDefaults() {
	for key, value := range DefaultConfig().settings() {
		m.viper.SetDefault(key, value)
	}
}

func (m *Manager) readConfigFile() error {
	err := m.viper.ReadInConfig()
	if err == nil {
		return nil
	}

	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		return nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}

	return fmt.Errorf("failed to read config file %s: %w", m.viper.ConfigFileUsed(), err)
}

func (m *Manager) unmarshalConfig() (*Config, error) {
	cfg := &Config{}
	if err := m.viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", m.viper.ConfigFileUsed(), err)
	}
	return cfg, nil
}

// Get returns a copy of the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.config == nil {
		return DefaultConfig()
	}
	cfgCopy := *m.config
	return &cfgCopy
}

// ConfigFileUsed returns the file the config was read from, if any.
func (m *Manager) ConfigFileUsed() string {
	return m.viper.ConfigFileUsed()
}

// Save validates cfg, writes it as TOML and makes it current.
func (m *Manager) Save(cfg *Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	normalizeConfig(cfg)
	if err := validateConfig(cfg); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	for key, value := range cfg.settings() {
		m.viper.Set(key, value)
	}

	path := m.viper.ConfigFileUsed()
	if path == "" {
		path = filepath.Join(DefaultConfigDir(), "config.toml")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if m.watching {
		m.skipNextReload = true
	}
	if err := m.viper.WriteConfigAs(path); err != nil {
		m.skipNextReload = false
		return fmt.Errorf("failed to write config %s: %w", path, err)
	}
	m.viper.SetConfigFile(path)

	cfgCopy := *cfg
	m.config = &cfgCopy
	return nil
}
