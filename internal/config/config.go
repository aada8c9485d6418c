// Package config provides configuration loading and defaults for the drive monitor.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jamesprial/drive-monitor/internal/safety"
)

// DefaultPath is where the config file is looked up when neither --config
// nor DRIVE_MONITOR_CONFIG_PATH is set.
const DefaultPath = "/etc/drive-monitor/config.yaml"

// PathEnv names the environment variable holding the config file path.
const PathEnv = "DRIVE_MONITOR_CONFIG_PATH"

// Duration is a time.Duration written in YAML as a Go duration string
// ("20s", "1m30s").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("line %d: duration must be a string: %w", node.Line, err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ServerConfig holds network and authentication settings.
type ServerConfig struct {
	Port        int    `yaml:"port"`
	AuthToken   string `yaml:"auth_token"`
	MetricsPath string `yaml:"metrics_path"`
}

// MonitorConfig controls discovery, caching and polling.
type MonitorConfig struct {
	// Platform selects the reconciliation strategy, e.g. "darwin".
	Platform          string   `yaml:"platform"`
	ScanInterval      Duration `yaml:"scan_interval"`
	CacheTTL          Duration `yaml:"cache_ttl"`
	ToolTimeout       Duration `yaml:"tool_timeout"`
	PurgeOnFailure    bool     `yaml:"purge_on_failure"`
	MaxPollsPerSecond float64  `yaml:"max_polls_per_second"`
}

// ToolsConfig holds the paths of the external diagnostic tools.
type ToolsConfig struct {
	DiskutilPath string `yaml:"diskutil_path"`
	SmartctlPath string `yaml:"smartctl_path"`
}

// FilterConfig holds allowlist and denylist glob patterns over device nodes.
type FilterConfig struct {
	Allowlist []string `yaml:"allowlist"`
	Denylist  []string `yaml:"denylist"`
}

// AuditConfig controls audit logging of MCP tool calls.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	LogPath string `yaml:"log_path"`
}

// LoggingConfig controls the process logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Config is the top-level configuration structure for the drive monitor.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Monitor MonitorConfig `yaml:"monitor"`
	Tools   ToolsConfig   `yaml:"tools"`
	Filter  FilterConfig  `yaml:"filter"`
	Audit   AuditConfig   `yaml:"audit"`
	Logging LoggingConfig `yaml:"logging"`
}

// LoadConfig reads a YAML configuration file from path. Fields the file does
// not set keep their DefaultConfig values. On error, nil is returned for the
// config pointer.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a new Config populated with sensible default values.
// Each call returns a distinct instance.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        8080,
			MetricsPath: "/metrics",
		},
		Monitor: MonitorConfig{
			Platform:          runtime.GOOS,
			ScanInterval:      Duration(20 * time.Second),
			CacheTTL:          Duration(10 * time.Second),
			ToolTimeout:       Duration(30 * time.Second),
			MaxPollsPerSecond: 5,
		},
		Tools: ToolsConfig{
			DiskutilPath: "diskutil",
			SmartctlPath: "smartctl",
		},
		Audit: AuditConfig{
			Enabled: true,
			LogPath: "/var/log/drive-monitor/audit.log",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// ApplyEnvOverrides updates cfg in place with values from environment variables.
// Recognized variables:
//   - DRIVE_MONITOR_AUTH_TOKEN overrides cfg.Server.AuthToken
//   - DRIVE_MONITOR_PLATFORM overrides cfg.Monitor.Platform
//   - DRIVE_MONITOR_DISKUTIL_PATH overrides cfg.Tools.DiskutilPath
//   - DRIVE_MONITOR_SMARTCTL_PATH overrides cfg.Tools.SmartctlPath
//   - LOG_LEVEL overrides cfg.Logging.Level
func ApplyEnvOverrides(cfg *Config) {
	overrides := []struct {
		env string
		dst *string
	}{
		{"DRIVE_MONITOR_AUTH_TOKEN", &cfg.Server.AuthToken},
		{"DRIVE_MONITOR_PLATFORM", &cfg.Monitor.Platform},
		{"DRIVE_MONITOR_DISKUTIL_PATH", &cfg.Tools.DiskutilPath},
		{"DRIVE_MONITOR_SMARTCTL_PATH", &cfg.Tools.SmartctlPath},
		{"LOG_LEVEL", &cfg.Logging.Level},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.dst = v
		}
	}
}

// Validate reports every invalid setting in cfg.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range", c.Server.Port))
	}
	if !strings.HasPrefix(c.Server.MetricsPath, "/") {
		errs = append(errs, fmt.Errorf("server.metrics_path %q must start with /", c.Server.MetricsPath))
	}
	if c.Monitor.Platform == "" {
		errs = append(errs, errors.New("monitor.platform must be set"))
	}
	for _, d := range []struct {
		name  string
		value Duration
	}{
		{"monitor.scan_interval", c.Monitor.ScanInterval},
		{"monitor.cache_ttl", c.Monitor.CacheTTL},
		{"monitor.tool_timeout", c.Monitor.ToolTimeout},
	} {
		if d.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", d.name, d.value.Std()))
		}
	}
	if c.Monitor.MaxPollsPerSecond <= 0 {
		errs = append(errs, fmt.Errorf("monitor.max_polls_per_second must be positive, got %g", c.Monitor.MaxPollsPerSecond))
	}
	if c.Tools.DiskutilPath == "" || c.Tools.SmartctlPath == "" {
		errs = append(errs, errors.New("tools paths must not be empty"))
	}
	if err := safety.ValidatePatterns(c.Filter.Allowlist); err != nil {
		errs = append(errs, fmt.Errorf("filter.allowlist: %w", err))
	}
	if err := safety.ValidatePatterns(c.Filter.Denylist); err != nil {
		errs = append(errs, fmt.Errorf("filter.denylist: %w", err))
	}
	if c.Audit.Enabled && c.Audit.LogPath == "" {
		errs = append(errs, errors.New("audit.log_path must be set when audit is enabled"))
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}
	return errors.Join(errs...)
}

// EnsureAuthToken generates a random auth token and sets it on cfg if
// cfg.Server.AuthToken is empty. It returns the token (existing or generated)
// and any error encountered during generation.
func EnsureAuthToken(cfg *Config) (string, error) {
	if cfg.Server.AuthToken != "" {
		return cfg.Server.AuthToken, nil
	}
	token, err := GenerateRandomToken()
	if err != nil {
		return "", fmt.Errorf("generate auth token: %w", err)
	}
	cfg.Server.AuthToken = token
	return token, nil
}

// GenerateRandomToken returns a 32-character hex-encoded cryptographically
// random token string.
func GenerateRandomToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("rand.Read: %w", err)
	}
	return hex.EncodeToString(b), nil
}
