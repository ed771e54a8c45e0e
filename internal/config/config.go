package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the config file looked up in the served directory.
const FileName = "labkit.yaml"

// Config represents the labkit configuration
type Config struct {
	Title      string           `yaml:"title"`
	Server     ServerConfig     `yaml:"server"`
	Labs       LabsConfig       `yaml:"labs"`
	Playground PlaygroundConfig `yaml:"playground"`
	Validators ValidatorsConfig `yaml:"validators"`
	Share      ShareConfig      `yaml:"share"`
	Sessions   SessionsConfig   `yaml:"sessions"`
	API        APIConfig        `yaml:"api"`
	Features   FeaturesConfig   `yaml:"features"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port  int    `yaml:"port"`
	Host  string `yaml:"host"`
	Debug bool   `yaml:"debug"`
}

// Addr returns host:port for the listener.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LabsConfig says where lab bundles live. BaseURL wins over Dir when set.
type LabsConfig struct {
	Dir     string `yaml:"dir"`      // Directory containing <name>/ bundles (default: "labs")
	BaseURL string `yaml:"base_url"` // Remote root serving <name>/<resource>
	Timeout string `yaml:"timeout"`  // Per-resource fetch timeout (default: 10s)
}

// IsRemote reports whether labs are fetched over HTTP.
func (c LabsConfig) IsRemote() bool {
	return c.BaseURL != ""
}

// GetTimeout returns the per-resource fetch timeout (default: 10s)
func (c LabsConfig) GetTimeout() time.Duration {
	return parseDuration(c.Timeout, 10*time.Second)
}

// ResolveDir returns the labs directory relative to root.
func (c LabsConfig) ResolveDir(root string) string {
	dir := c.Dir
	if dir == "" {
		dir = "labs"
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(root, dir)
}

// PlaygroundConfig configures the headless browser execution environment
type PlaygroundConfig struct {
	RemoteURL    string `yaml:"remote_url"`    // DevTools endpoint of an existing Chrome (e.g. http://localhost:9222)
	ExecPath     string `yaml:"exec_path"`     // Chrome binary; empty uses chromedp's lookup
	Headless     *bool  `yaml:"headless"`      // Default: true
	ReadyTimeout string `yaml:"ready_timeout"` // Wait for the browser to come up (default: 10s)
	RunTimeout   string `yaml:"run_timeout"`   // Bound on a single run or test run (default: 30s)
}

// IsHeadless returns true unless headless mode is explicitly disabled
func (c PlaygroundConfig) IsHeadless() bool {
	if c.Headless == nil {
		return true
	}
	return *c.Headless
}

// GetReadyTimeout returns the readiness timeout (default: 10s)
func (c PlaygroundConfig) GetReadyTimeout() time.Duration {
	return parseDuration(c.ReadyTimeout, 10*time.Second)
}

// GetRunTimeout returns the run timeout (default: 30s)
func (c PlaygroundConfig) GetRunTimeout() time.Duration {
	return parseDuration(c.RunTimeout, 30*time.Second)
}

// ValidatorsConfig configures the external HTML/CSS validation services
type ValidatorsConfig struct {
	HTMLURL      string `yaml:"html_url"`
	CSSURL       string `yaml:"css_url"`
	Timeout      string `yaml:"timeout"`       // Default: 15s
	CacheTTL     string `yaml:"cache_ttl"`     // Default: 10m, "0" disables caching
	AllowPrivate bool   `yaml:"allow_private"` // Permit validator endpoints on private networks
}

// GetTimeout returns the validator request timeout (default: 15s)
func (c ValidatorsConfig) GetTimeout() time.Duration {
	return parseDuration(c.Timeout, 15*time.Second)
}

// GetCacheTTL returns the result cache TTL (default: 10m)
func (c ValidatorsConfig) GetCacheTTL() time.Duration {
	if c.CacheTTL == "0" {
		return 0
	}
	return parseDuration(c.CacheTTL, 10*time.Minute)
}

// ShareConfig configures share-link storage
type ShareConfig struct {
	Driver  string `yaml:"driver"`   // "sqlite" (default) or "postgres"
	DSN     string `yaml:"dsn"`      // Data source name; env vars expanded
	BaseURL string `yaml:"base_url"` // Public base URL for links; default derived from server address
}

// GetDriver returns the database driver (default: sqlite)
func (c ShareConfig) GetDriver() string {
	if c.Driver == "" {
		return "sqlite"
	}
	return c.Driver
}

// GetDSN returns the DSN with environment variables expanded (default: ./labkit.db)
func (c ShareConfig) GetDSN() string {
	if c.DSN == "" {
		return "labkit.db"
	}
	return os.ExpandEnv(c.DSN)
}

// SessionsConfig configures learner sessions
type SessionsConfig struct {
	IdleTTL string `yaml:"idle_ttl"` // Default: 1h
}

// GetIdleTTL returns how long an idle session is kept (default: 1h)
func (c SessionsConfig) GetIdleTTL() time.Duration {
	return parseDuration(c.IdleTTL, time.Hour)
}

// APIConfig holds REST API configuration
type APIConfig struct {
	CORS      *CORSConfig      `yaml:"cors,omitempty"`
	RateLimit *RateLimitConfig `yaml:"rate_limit,omitempty"`
}

// CORSConfig holds CORS configuration for the API
type CORSConfig struct {
	Origins []string `yaml:"origins,omitempty"` // Allowed origins (e.g., ["http://localhost:3000", "*"])
}

// RateLimitConfig holds rate limiting configuration for the API
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty"` // Default: 10
	Burst             int     `yaml:"burst,omitempty"`               // Default: 20
	MaxTrackedIPs     int     `yaml:"max_tracked_ips,omitempty"`     // Default: 10000, LRU eviction beyond

	// Test runs, validation and sharing drive Chrome and the public
	// validators, so each session gets its own tighter budget for them.
	ActionsPerMinute float64 `yaml:"actions_per_minute,omitempty"` // Default: 30
	ActionBurst      int     `yaml:"action_burst,omitempty"`       // Default: 10
}

// GetCORSOrigins returns the configured CORS origins, or nil if not configured
func (c APIConfig) GetCORSOrigins() []string {
	if c.CORS == nil {
		return nil
	}
	return c.CORS.Origins
}

// GetRateLimitRPS returns the rate limit in requests per second (default: 10)
func (c APIConfig) GetRateLimitRPS() float64 {
	if c.RateLimit == nil || c.RateLimit.RequestsPerSecond <= 0 {
		return 10
	}
	return c.RateLimit.RequestsPerSecond
}

// GetRateLimitBurst returns the burst size (default: 20)
func (c APIConfig) GetRateLimitBurst() int {
	if c.RateLimit == nil || c.RateLimit.Burst <= 0 {
		return 20
	}
	return c.RateLimit.Burst
}

// GetMaxTrackedIPs returns how many client IPs the rate limiter tracks (default: 10000)
func (c APIConfig) GetMaxTrackedIPs() int {
	if c.RateLimit == nil || c.RateLimit.MaxTrackedIPs <= 0 {
		return 10000
	}
	return c.RateLimit.MaxTrackedIPs
}

// GetActionRPS returns the per-session action rate in requests per second
// (default: 30 per minute)
func (c APIConfig) GetActionRPS() float64 {
	if c.RateLimit == nil || c.RateLimit.ActionsPerMinute <= 0 {
		return 30.0 / 60
	}
	return c.RateLimit.ActionsPerMinute / 60
}

// GetActionBurst returns the per-session action burst (default: 10)
func (c APIConfig) GetActionBurst() int {
	if c.RateLimit == nil || c.RateLimit.ActionBurst <= 0 {
		return 10
	}
	return c.RateLimit.ActionBurst
}

// FeaturesConfig holds feature flags
type FeaturesConfig struct {
	HotReload bool `yaml:"hot_reload"`
	Metrics   bool `yaml:"metrics"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Title: "labkit",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Labs: LabsConfig{
			Dir: "labs",
		},
		Validators: ValidatorsConfig{
			HTMLURL: "https://validator.w3.org/nu/?out=json",
			CSSURL:  "https://jigsaw.w3.org/css-validator/validator",
		},
		Features: FeaturesConfig{
			HotReload: true,
			Metrics:   true,
		},
	}
}

// Validate checks values that have no sensible fallback.
func (c *Config) Validate() error {
	switch c.Share.GetDriver() {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("share.driver must be sqlite or postgres, got %q", c.Share.Driver)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	return nil
}

// Load loads configuration from a YAML file
// If the file doesn't exist, returns the default configuration
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		return DefaultConfig(), nil
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig() // Start with defaults
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}

	return config, nil
}

// LoadFromDir loads labkit.yaml from dir, or the defaults when it is absent.
func LoadFromDir(dir string) (*Config, error) {
	return Load(filepath.Join(dir, FileName))
}

// Save writes the configuration to a YAML file
func (c *Config) Save(configPath string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
