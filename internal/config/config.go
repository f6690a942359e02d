package config

import (
	"fmt"
	"maps"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"
)

// Environment variables consulted by Load and the CLI.
const (
	EnvConfigPath = "EVENTLIVE_CONFIG"
	EnvAPIURL     = "EVENTLIVE_API_URL"
)

// Config is the main configuration structure for the eventlive client.
type Config struct {
	Version     int               `yaml:"version"`
	API         APIConfig         `yaml:"api"`
	Hub         HubConfig         `yaml:"hub"`
	Presence    PresenceConfig    `yaml:"presence"`
	Session     SessionConfig     `yaml:"session"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Tracing     TracingConfig     `yaml:"tracing"`
}

// APIConfig configures the REST collaborators.
type APIConfig struct {
	// BaseURL is the platform origin, e.g. https://tickets.example.com.
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`

	// PageSize is used when walking paginated listings.
	PageSize int `yaml:"page_size"`

	// RefreshSchedule is a cron spec for the proactive token refresher.
	RefreshSchedule string        `yaml:"refresh_schedule"`
	RefreshSkew     time.Duration `yaml:"refresh_skew"`
}

// HubConfig configures the push channel.
type HubConfig struct {
	// Path is appended to the API base URL.
	Path              string          `yaml:"path"`
	ReconnectSchedule []time.Duration `yaml:"reconnect_schedule"`
	StartRetryDelay   time.Duration   `yaml:"start_retry_delay"`
	HandshakeTimeout  time.Duration   `yaml:"handshake_timeout"`
	KeepAliveInterval time.Duration   `yaml:"keep_alive_interval"`
	ServerTimeout     time.Duration   `yaml:"server_timeout"`
	InvokeTimeout     time.Duration   `yaml:"invoke_timeout"`

	// ExtraEvents are inbound event names bound in addition to the defaults.
	ExtraEvents []string `yaml:"extra_events"`
}

// PresenceConfig tunes the presence coordinator.
type PresenceConfig struct {
	LogCapacity   int           `yaml:"log_capacity"`
	RemountWindow time.Duration `yaml:"remount_window"`
	RecentJoinTTL time.Duration `yaml:"recent_join_ttl"`
	LeaveTimeout  time.Duration `yaml:"leave_timeout"`
}

// SessionConfig tunes the live session controller.
type SessionConfig struct {
	LeaveGrace time.Duration `yaml:"leave_grace"`
}

// CredentialsConfig selects where the session tokens are persisted.
type CredentialsConfig struct {
	Backend string `yaml:"backend"` // file | sqlite | memory
	Path    string `yaml:"path"`
	Watch   bool   `yaml:"watch"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level          string   `yaml:"level"`
	Format         string   `yaml:"format"`
	AddSource      bool     `yaml:"add_source"`
	RedactPatterns []string `yaml:"redact_patterns"`
}

// MetricsConfig controls the Prometheus endpoint served during `live`.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled      bool              `yaml:"enabled"`
	Endpoint     string            `yaml:"endpoint"`
	ServiceName  string            `yaml:"service_name"`
	Environment  string            `yaml:"environment"`
	SamplingRate float64           `yaml:"sampling_rate"`
	Insecure     bool              `yaml:"insecure"`
	Attributes   map[string]string `yaml:"attributes"`
}

// ConfigValidationError collects every problem found in a config file.
type ConfigValidationError struct {
	Issues []string
}

func (e *ConfigValidationError) Error() string {
	if e == nil || len(e.Issues) == 0 {
		return "config validation failed"
	}
	return "config validation failed: " + strings.Join(e.Issues, "; ")
}

// Load reads, merges and validates the configuration file at path. An empty
// path yields the defaults.
func Load(path string) (*Config, error) {
	var cfg *Config
	if strings.TrimSpace(path) == "" {
		cfg = &Config{}
	} else {
		raw, err := LoadRaw(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		cfg, err = decodeRawConfig(raw)
		if err != nil {
			return nil, err
		}
	}

	if cfg.Version != 0 {
		if err := ValidateVersion(cfg.Version); err != nil {
			return nil, err
		}
	}

	if override := strings.TrimSpace(os.Getenv(EnvAPIURL)); override != "" {
		cfg.API.BaseURL = override
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// DefaultReconnectSchedule is the push-channel reconnect backoff.
func DefaultReconnectSchedule() []time.Duration {
	return []time.Duration{0, 2 * time.Second, 5 * time.Second, 10 * time.Second, 30 * time.Second}
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}

	if cfg.API.BaseURL == "" {
		cfg.API.BaseURL = "http://localhost:5000"
	}
	cfg.API.BaseURL = strings.TrimRight(cfg.API.BaseURL, "/")
	if cfg.API.Timeout == 0 {
		cfg.API.Timeout = 30 * time.Second
	}
	if cfg.API.PageSize == 0 {
		cfg.API.PageSize = 50
	}
	if cfg.API.RefreshSchedule == "" {
		cfg.API.RefreshSchedule = "@every 1m"
	}
	if cfg.API.RefreshSkew == 0 {
		cfg.API.RefreshSkew = 2 * time.Minute
	}

	if cfg.Hub.Path == "" {
		cfg.Hub.Path = "/eventhub"
	}
	if len(cfg.Hub.ReconnectSchedule) == 0 {
		cfg.Hub.ReconnectSchedule = DefaultReconnectSchedule()
	}
	if cfg.Hub.StartRetryDelay == 0 {
		cfg.Hub.StartRetryDelay = 5 * time.Second
	}
	if cfg.Hub.HandshakeTimeout == 0 {
		cfg.Hub.HandshakeTimeout = 15 * time.Second
	}
	if cfg.Hub.KeepAliveInterval == 0 {
		cfg.Hub.KeepAliveInterval = 15 * time.Second
	}
	if cfg.Hub.ServerTimeout == 0 {
		cfg.Hub.ServerTimeout = 30 * time.Second
	}
	if cfg.Hub.InvokeTimeout == 0 {
		cfg.Hub.InvokeTimeout = 30 * time.Second
	}

	if cfg.Presence.LogCapacity == 0 {
		cfg.Presence.LogCapacity = 100
	}
	if cfg.Presence.RemountWindow == 0 {
		cfg.Presence.RemountWindow = 500 * time.Millisecond
	}
	if cfg.Presence.RecentJoinTTL == 0 {
		cfg.Presence.RecentJoinTTL = 2 * time.Second
	}
	if cfg.Presence.LeaveTimeout == 0 {
		cfg.Presence.LeaveTimeout = 3 * time.Second
	}

	if cfg.Session.LeaveGrace == 0 {
		cfg.Session.LeaveGrace = 100 * time.Millisecond
	}

	if cfg.Credentials.Backend == "" {
		cfg.Credentials.Backend = "file"
	}
	if cfg.Credentials.Path == "" {
		switch cfg.Credentials.Backend {
		case "sqlite":
			cfg.Credentials.Path = "~/.eventlive/state.db"
		case "file":
			cfg.Credentials.Path = "~/.eventlive/session.json"
		}
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}

	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = "127.0.0.1:9464"
	}

	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "eventlive"
	}
	if cfg.Tracing.SamplingRate == 0 {
		cfg.Tracing.SamplingRate = 1.0
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var issues []string

	if u, err := url.Parse(c.API.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		issues = append(issues, fmt.Sprintf("api.base_url must be an absolute http(s) URL, got %q", c.API.BaseURL))
	}
	if c.API.Timeout < 0 {
		issues = append(issues, "api.timeout must not be negative")
	}
	if c.API.PageSize < 0 {
		issues = append(issues, "api.page_size must not be negative")
	}
	if c.API.RefreshSkew < 0 {
		issues = append(issues, "api.refresh_skew must not be negative")
	}

	if !strings.HasPrefix(c.Hub.Path, "/") {
		issues = append(issues, "hub.path must start with /")
	}
	for i, d := range c.Hub.ReconnectSchedule {
		if d < 0 {
			issues = append(issues, fmt.Sprintf("hub.reconnect_schedule[%d] must not be negative", i))
		}
	}
	durations := map[string]time.Duration{
		"hub.start_retry_delay":    c.Hub.StartRetryDelay,
		"hub.handshake_timeout":    c.Hub.HandshakeTimeout,
		"hub.keep_alive_interval":  c.Hub.KeepAliveInterval,
		"hub.server_timeout":       c.Hub.ServerTimeout,
		"hub.invoke_timeout":       c.Hub.InvokeTimeout,
		"presence.remount_window":  c.Presence.RemountWindow,
		"presence.recent_join_ttl": c.Presence.RecentJoinTTL,
		"presence.leave_timeout":   c.Presence.LeaveTimeout,
		"session.leave_grace":      c.Session.LeaveGrace,
	}
	for _, name := range slices.Sorted(maps.Keys(durations)) {
		if durations[name] < 0 {
			issues = append(issues, name+" must not be negative")
		}
	}
	if c.Hub.ServerTimeout > 0 && c.Hub.KeepAliveInterval >= c.Hub.ServerTimeout {
		issues = append(issues, "hub.keep_alive_interval must be shorter than hub.server_timeout")
	}
	for i, name := range c.Hub.ExtraEvents {
		if strings.TrimSpace(name) == "" {
			issues = append(issues, fmt.Sprintf("hub.extra_events[%d] must not be empty", i))
		}
	}

	if c.Presence.LogCapacity < 0 {
		issues = append(issues, "presence.log_capacity must not be negative")
	}
	if c.Presence.RecentJoinTTL > 0 && c.Presence.RemountWindow > c.Presence.RecentJoinTTL {
		issues = append(issues, "presence.remount_window must not exceed presence.recent_join_ttl")
	}

	switch c.Credentials.Backend {
	case "file", "sqlite":
		if strings.TrimSpace(c.Credentials.Path) == "" {
			issues = append(issues, "credentials.path is required for the "+c.Credentials.Backend+" backend")
		}
	case "memory":
	default:
		issues = append(issues, fmt.Sprintf("credentials.backend must be file, sqlite or memory, got %q", c.Credentials.Backend))
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		issues = append(issues, fmt.Sprintf("logging.format must be json or text, got %q", c.Logging.Format))
	}

	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		issues = append(issues, "tracing.sampling_rate must be between 0 and 1")
	}
	if c.Tracing.Enabled && strings.TrimSpace(c.Tracing.Endpoint) == "" {
		issues = append(issues, "tracing.endpoint is required when tracing is enabled")
	}

	if len(issues) > 0 {
		return &ConfigValidationError{Issues: issues}
	}
	return nil
}

// HubURL joins the API base URL and the hub path.
func (c *Config) HubURL() string {
	return strings.TrimRight(c.API.BaseURL, "/") + c.Hub.Path
}
