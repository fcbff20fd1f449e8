package config

import (
	"errors"
	"fmt"
	"time"
)

// Config is the full bot configuration. Files may be JSON or YAML;
// YAML is coerced to JSON so both share the strict decoder.
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Storage   StorageConfig   `json:"storage"`
	Relay     RelayConfig     `json:"relay"`
	Retention RetentionConfig `json:"retention,omitempty"`
	Logging   LoggingConfig   `json:"logging"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// Admins are the fixed administrator user ids with unconditional
	// access, independent of the stored permission records.
	Admins      []int64 `json:"admins"`
	PollTimeout string  `json:"poll_timeout,omitempty"` // Go duration string
}

type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

// RelayConfig tunes the aggregation/dispatch pipeline.
//
// All durations are Go duration strings (e.g. "500ms", "2s").
// Defaults (when fields are omitted/zero):
//   - settle_window: "2s"
//   - dispatch_delay: "2s"
//   - history_limit: 20
//   - rate_per_sec: 10
type RelayConfig struct {
	SettleWindow  string `json:"settle_window,omitempty"`
	DispatchDelay string `json:"dispatch_delay,omitempty"`
	HistoryLimit  int    `json:"history_limit,omitempty"`
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
}

// RetentionConfig controls pruning of the append-only audit logs.
// Disabled unless enabled explicitly.
type RetentionConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"` // cron spec, default "@daily"
	MaxAge   string `json:"max_age,omitempty"`  // Go duration string, default 720h
}

type LoggingConfig struct {
	Level   string        `json:"level,omitempty"`
	Console bool          `json:"console"`
	File    FileLogConfig `json:"file,omitempty"`
}

type FileLogConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// Validate rejects configs the bot cannot start with.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.Telegram.Token == "" {
		return errors.New("telegram.token is required")
	}
	if len(c.Telegram.Admins) == 0 {
		return errors.New("telegram.admins must list at least one administrator")
	}
	if c.Storage.Path == "" {
		return errors.New("storage.path is required")
	}
	for _, f := range []struct{ name, raw string }{
		{"telegram.poll_timeout", c.Telegram.PollTimeout},
		{"storage.busy_timeout", c.Storage.BusyTimeout},
		{"relay.settle_window", c.Relay.SettleWindow},
		{"relay.dispatch_delay", c.Relay.DispatchDelay},
		{"retention.max_age", c.Retention.MaxAge},
	} {
		if _, err := ParseDurationOrDefault(f.name, f.raw, 0); err != nil {
			return err
		}
	}
	if d, _ := ParseDurationOrDefault("relay.settle_window", c.Relay.SettleWindow, 0); c.Relay.SettleWindow != "" && d <= 0 {
		return errors.New("relay.settle_window must be positive")
	}
	return nil
}

// ParseDurationOrDefault parses a Go duration string, returning def for
// an empty value and a named error for a malformed one.
func ParseDurationOrDefault(name, raw string, def time.Duration) (time.Duration, error) {
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", name, raw, err)
	}
	return d, nil
}
