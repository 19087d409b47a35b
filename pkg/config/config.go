// Package config handles loading and saving coverlay configuration.
//
// Configuration follows the XDG Base Directory specification:
//   - Config:  ~/.config/coverlay/config.yaml
//   - State:   ~/.local/state/coverlay/ (diagnostic logs)
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/coverlay/coverlay/pkg/report"
)

// ReportsConfig controls discovery of coverage report files.
type ReportsConfig struct {
	Roots    []string `yaml:"roots,omitempty"`    // Directories to search (default: ["."])
	Patterns []string `yaml:"patterns,omitempty"` // Glob patterns identifying report files
}

// WatchConfig controls filesystem watching behavior.
type WatchConfig struct {
	DebounceMS   int  `yaml:"debounce_ms,omitempty"`     // Quiet window before reacting to a change
	PollInterval int  `yaml:"poll_interval_s,omitempty"` // Polling fallback interval in seconds
	ForcePoll    bool `yaml:"force_poll,omitempty"`      // Always use polling instead of fsnotify
}

// EngineConfig controls reload cycle behavior.
type EngineConfig struct {
	ReloadTimeoutS int `yaml:"reload_timeout_s,omitempty"` // Max seconds per reload cycle
}

// UIConfig holds UI preference settings.
type UIConfig struct {
	Theme      string  `yaml:"theme,omitempty"`       // default, plain
	SplitRatio float64 `yaml:"split_ratio,omitempty"` // List/source split ratio (0.2-0.8)
	ShowHelp   bool    `yaml:"show_help,omitempty"`   // Show the help footer on start
}

// Config is the top-level configuration for coverlay.
type Config struct {
	Reports ReportsConfig `yaml:"reports,omitempty"`
	Watch   WatchConfig   `yaml:"watch,omitempty"`
	Engine  EngineConfig  `yaml:"engine,omitempty"`
	UI      UIConfig      `yaml:"ui,omitempty"`
	LogFile string        `yaml:"log_file,omitempty"` // Diagnostic log path; empty disables
}

// DefaultPatterns is the report package's default glob set, shared so the
// patterns a saved config round-trips are exactly the ones discovery and the
// watcher match against.
var DefaultPatterns = append([]string(nil), report.DefaultPatterns...)

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Reports: ReportsConfig{
			Roots:    []string{"."},
			Patterns: append([]string(nil), DefaultPatterns...),
		},
		Watch: WatchConfig{
			DebounceMS:   200,
			PollInterval: 2,
		},
		Engine: EngineConfig{
			ReloadTimeoutS: 30,
		},
		UI: UIConfig{
			Theme:      "default",
			SplitRatio: 0.35,
		},
	}
}

// DebounceDuration returns the watch debounce as a duration.
func (c Config) DebounceDuration() time.Duration {
	if c.Watch.DebounceMS <= 0 {
		return 200 * time.Millisecond
	}
	return time.Duration(c.Watch.DebounceMS) * time.Millisecond
}

// PollIntervalDuration returns the polling interval as a duration.
func (c Config) PollIntervalDuration() time.Duration {
	if c.Watch.PollInterval <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.Watch.PollInterval) * time.Second
}

// ReloadTimeout returns the reload cycle bound as a duration.
func (c Config) ReloadTimeout() time.Duration {
	if c.Engine.ReloadTimeoutS <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Engine.ReloadTimeoutS) * time.Second
}

// ConfigDir returns the XDG config directory for coverlay.
func ConfigDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "coverlay")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "coverlay")
}

// StateDir returns the XDG state directory for coverlay.
func StateDir() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "coverlay")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".local", "state", "coverlay")
}

// ConfigPath returns the full path to config.yaml.
func ConfigPath() string {
	dir := ConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "config.yaml")
}

// Load reads the config file from the XDG config directory and applies
// COVERLAY_* environment overrides. Returns DefaultConfig if the file
// doesn't exist.
func Load() (Config, error) {
	path := ConfigPath()
	if path == "" {
		cfg := DefaultConfig()
		applyEnvOverrides(&cfg)
		return cfg, nil
	}
	return LoadFrom(path)
}

// LoadFrom reads config from a specific path. Returns DefaultConfig if the
// file doesn't exist.
func LoadFrom(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}

	if len(cfg.Reports.Roots) == 0 {
		cfg.Reports.Roots = []string{"."}
	}
	if len(cfg.Reports.Patterns) == 0 {
		cfg.Reports.Patterns = append([]string(nil), DefaultPatterns...)
	}
	for i := range cfg.Reports.Roots {
		cfg.Reports.Roots[i] = expandHome(cfg.Reports.Roots[i])
	}
	cfg.LogFile = expandHome(cfg.LogFile)

	applyEnvOverrides(&cfg)
	return cfg, nil
}

// Save writes the config to the XDG config directory.
func Save(cfg Config) error {
	path := ConfigPath()
	if path == "" {
		return fmt.Errorf("cannot determine config directory")
	}
	return SaveTo(cfg, path)
}

// SaveTo writes the config to a specific path.
func SaveTo(cfg Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	return nil
}

// applyEnvOverrides lets COVERLAY_* variables override file settings, so CI
// and scripts can steer behavior without editing the config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("COVERLAY_ROOTS"); v != "" {
		cfg.Reports.Roots = splitList(v)
		for i := range cfg.Reports.Roots {
			cfg.Reports.Roots[i] = expandHome(cfg.Reports.Roots[i])
		}
	}
	if v := os.Getenv("COVERLAY_PATTERNS"); v != "" {
		cfg.Reports.Patterns = splitList(v)
	}
	if v := os.Getenv("COVERLAY_DEBOUNCE_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Watch.DebounceMS = n
		}
	}
	if v := os.Getenv("COVERLAY_RELOAD_TIMEOUT_S"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Engine.ReloadTimeoutS = n
		}
	}
	if v := os.Getenv("COVERLAY_LOG_FILE"); v != "" {
		cfg.LogFile = expandHome(v)
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
