// Package config loads the focusd YAML configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/focusd/focusd/internal/pomodoro"
)

// Config is the full runtime configuration. Server and clients read the
// same file; clients only care about the socket section.
type Config struct {
	Socket SocketConfig `yaml:"socket"`
	Timers TimerConfig  `yaml:"timers"`
	Notify NotifyConfig `yaml:"notifications"`
	Log    LogConfig    `yaml:"log"`
}

// SocketConfig addresses the local socket shared by server and clients.
type SocketConfig struct {
	Path string `yaml:"path"`
}

// TimerConfig holds the pomodoro chain durations, all in seconds.
type TimerConfig struct {
	Interval      int `yaml:"interval"`
	MinorBreak    int `yaml:"minor_break"`
	MajorBreak    int `yaml:"major_break"`
	Intervals     int `yaml:"intervals"`
	PostponeLimit int `yaml:"postpone_limit"`
	PostponeTimer int `yaml:"postpone_timer"`
}

// NotifyConfig controls what happens when a timer ends naturally.
type NotifyConfig struct {
	ShowNotification bool `yaml:"show_notification"`
	Bell             bool `yaml:"bell"`
}

// LogConfig controls the server's structured log output.
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "focusd.yaml"
	}
	return filepath.Join(home, ".config", "focusd", "config.yaml")
}

func defaultConfig() *Config {
	return &Config{
		Socket: SocketConfig{
			Path: "/tmp/focusd.sock",
		},
		Timers: TimerConfig{
			Interval:      1500,
			MinorBreak:    300,
			MajorBreak:    900,
			Intervals:     4,
			PostponeLimit: 0,
			PostponeTimer: 300,
		},
		Notify: NotifyConfig{
			ShowNotification: true,
			Bell:             true,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads the config file at path, overlaying it onto the defaults.
// A missing file is not an error; the defaults apply unchanged.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects configurations the timer cannot run with.
func (c *Config) Validate() error {
	t := c.Timers
	for _, f := range []struct {
		name  string
		value int
	}{
		{"timers.interval", t.Interval},
		{"timers.minor_break", t.MinorBreak},
		{"timers.major_break", t.MajorBreak},
		{"timers.postpone_limit", t.PostponeLimit},
		{"timers.postpone_timer", t.PostponeTimer},
	} {
		if f.value < 0 {
			return fmt.Errorf("%s must not be negative, got %d", f.name, f.value)
		}
	}
	if t.Intervals < 1 {
		return fmt.Errorf("timers.intervals must be at least 1, got %d", t.Intervals)
	}
	if t.PostponeLimit > 65535 {
		return fmt.Errorf("timers.postpone_limit must fit uint16, got %d", t.PostponeLimit)
	}
	if c.Socket.Path == "" {
		return errors.New("socket.path must not be empty")
	}
	return nil
}

// Pomodoro converts the timer section into the state machine's config.
func (t TimerConfig) Pomodoro() pomodoro.Config {
	return pomodoro.Config{
		Interval:          time.Duration(t.Interval) * time.Second,
		MinorBreak:        time.Duration(t.MinorBreak) * time.Second,
		MajorBreak:        time.Duration(t.MajorBreak) * time.Second,
		IntervalsPerMajor: uint64(t.Intervals),
		PostponeLimit:     uint16(t.PostponeLimit),
		PostponeDuration:  time.Duration(t.PostponeTimer) * time.Second,
	}
}
