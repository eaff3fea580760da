package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds daemon and client settings.
type Config struct {
	Interface      string        `mapstructure:"interface"`
	Nmcli          string        `mapstructure:"nmcli"`
	ScanInterval   time.Duration `mapstructure:"scan_interval"`
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
	Socket         string        `mapstructure:"socket"`
	Notifications  bool          `mapstructure:"notifications"`
	MetricsListen  string        `mapstructure:"metrics_listen"`
	Log            LogConfig     `mapstructure:"log"`
}

func socketPath() string {
	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		dir = "/tmp"
	}
	return filepath.Join(dir, "wifictl.sock")
}

func configPath() string {
	if p := os.Getenv("WIFICTL_CONFIG"); p != "" {
		return p
	}
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		dir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(dir, "wifictl", "config.yaml")
}

// loadConfig reads defaults, then the config file if one exists, then
// WIFICTL_* environment overrides. An explicit path must exist.
func loadConfig(path string) (Config, error) {
	v := viper.New()

	v.SetDefault("interface", "")
	v.SetDefault("nmcli", "nmcli")
	v.SetDefault("scan_interval", 30*time.Second)
	v.SetDefault("command_timeout", 45*time.Second)
	v.SetDefault("socket", socketPath())
	v.SetDefault("notifications", true)
	v.SetDefault("metrics_listen", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.debug", false)
	v.SetDefault("log.output", "stderr")

	v.SetConfigType("yaml")
	explicit := path != ""
	if !explicit {
		path = configPath()
	}
	v.SetConfigFile(path)

	v.SetEnvPrefix("WIFICTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Validate() error {
	if c.ScanInterval < 0 {
		return fmt.Errorf("scan_interval must not be negative, got %s", c.ScanInterval)
	}
	if c.CommandTimeout < 0 {
		return fmt.Errorf("command_timeout must not be negative, got %s", c.CommandTimeout)
	}
	if c.Nmcli == "" {
		return errors.New("nmcli path must not be empty")
	}
	if c.Socket == "" {
		return errors.New("socket path must not be empty")
	}
	return nil
}
