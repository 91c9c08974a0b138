package internal

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	ListenAddr  string `yaml:"listen_addr"`
	StorageDir  string `yaml:"storage_dir"`
	YtDlpPath   string `yaml:"ytdlp_path"`
	CookiesFile string `yaml:"cookies_file"`
	ProxyURL    string `yaml:"proxy"`
	RateLimit   string `yaml:"rate_limit"`

	// Session lifecycle
	Retention          time.Duration `yaml:"retention"`
	SweepInterval      time.Duration `yaml:"sweep_interval"`
	ServeGrace         time.Duration `yaml:"serve_grace"`
	ResolveTimeout     time.Duration `yaml:"resolve_timeout"`
	FetchTimeout       time.Duration `yaml:"fetch_timeout"`
	MaxActiveDownloads int           `yaml:"max_active_downloads"`
	MaxArtifacts       int           `yaml:"max_artifacts"`

	// Outbound HTTP
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	UserAgentList  []string      `yaml:"user_agents"`
	AllowedOrigins []string      `yaml:"allowed_origins"`

	// Logging configuration
	LogLevel    string `yaml:"log_level"`
	EnableDebug bool   `yaml:"debug"`
	QuietMode   bool   `yaml:"quiet"`
	LogFile     string `yaml:"log_file"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		ListenAddr: ":5000",
		StorageDir: "downloads",
		YtDlpPath:  "yt-dlp",

		Retention:          30 * time.Minute,
		SweepInterval:      time.Minute,
		ServeGrace:         60 * time.Second,
		ResolveTimeout:     60 * time.Second,
		FetchTimeout:       30 * time.Minute,
		MaxActiveDownloads: 8,
		MaxArtifacts:       256,

		RequestTimeout: 30 * time.Second,
		MaxRetries:     3,
		UserAgentList: []string{
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		},
		AllowedOrigins: []string{"*"},

		LogLevel:    "info",
		EnableDebug: false,
		QuietMode:   false,
		LogFile:     "", // Empty means stderr
	}
}

// LoadFromFile merges a YAML config file over the current values
func (c *Config) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return NewValidationErrorWithValue("config", "cannot read config file", path).
			WithSuggestion("Check that the file exists and is readable")
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return NewValidationErrorWithValue("config", fmt.Sprintf("invalid YAML: %v", err), path)
	}
	return nil
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() {
	if port := os.Getenv("PORT"); port != "" {
		c.ListenAddr = ":" + port
	}
	c.ListenAddr = GetEnvWithDefault("VIDFETCH_LISTEN", c.ListenAddr)
	c.StorageDir = GetEnvWithDefault("VIDFETCH_STORAGE_DIR", c.StorageDir)
	c.YtDlpPath = GetEnvWithDefault("VIDFETCH_YTDLP", c.YtDlpPath)
	c.CookiesFile = GetEnvWithDefault("VIDFETCH_COOKIES", c.CookiesFile)
	c.ProxyURL = GetEnvWithDefault("VIDFETCH_PROXY", c.ProxyURL)
	c.RateLimit = GetEnvWithDefault("VIDFETCH_RATE_LIMIT", c.RateLimit)

	loadDuration("VIDFETCH_RETENTION", &c.Retention)
	loadDuration("VIDFETCH_SWEEP_INTERVAL", &c.SweepInterval)
	loadDuration("VIDFETCH_SERVE_GRACE", &c.ServeGrace)
	loadDuration("VIDFETCH_RESOLVE_TIMEOUT", &c.ResolveTimeout)
	loadDuration("VIDFETCH_FETCH_TIMEOUT", &c.FetchTimeout)
	loadDuration("VIDFETCH_REQUEST_TIMEOUT", &c.RequestTimeout)

	if n, err := strconv.Atoi(os.Getenv("VIDFETCH_MAX_ACTIVE")); err == nil && n > 0 {
		c.MaxActiveDownloads = n
	}
	if n, err := strconv.Atoi(os.Getenv("VIDFETCH_MAX_ARTIFACTS")); err == nil && n > 0 {
		c.MaxArtifacts = n
	}
	if n, err := strconv.Atoi(os.Getenv("VIDFETCH_MAX_RETRIES")); err == nil && n >= 0 {
		c.MaxRetries = n
	}
	if origins := os.Getenv("VIDFETCH_ALLOWED_ORIGINS"); origins != "" {
		c.AllowedOrigins = splitList(origins)
	}

	if logLevel := os.Getenv("VIDFETCH_LOG_LEVEL"); logLevel != "" {
		c.LogLevel = logLevel
	}
	if debug := os.Getenv("VIDFETCH_DEBUG"); debug != "" {
		c.EnableDebug = debug == "true" || debug == "1"
	}
	if quiet := os.Getenv("VIDFETCH_QUIET"); quiet != "" {
		c.QuietMode = quiet == "true" || quiet == "1"
	}
	if logFile := os.Getenv("VIDFETCH_LOG_FILE"); logFile != "" {
		c.LogFile = logFile
	}
}

func loadDuration(key string, target *time.Duration) {
	value := os.Getenv(key)
	if value == "" {
		return
	}
	if d, err := time.ParseDuration(value); err == nil {
		*target = d
		return
	}
	// bare integers are seconds
	if secs, err := strconv.Atoi(value); err == nil {
		*target = time.Duration(secs) * time.Second
	}
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// GetEnvWithDefault returns environment variable value or default
func GetEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// ValidateConfig validates the configuration values
func (c *Config) ValidateConfig() error {
	if c.ListenAddr == "" {
		return NewValidationError("listen_addr", "cannot be empty")
	}
	if c.StorageDir == "" {
		return NewValidationError("storage_dir", "cannot be empty")
	}
	if c.Retention <= 0 {
		return NewValidationErrorWithValue("retention", "must be > 0", c.Retention)
	}
	if c.SweepInterval <= 0 {
		return NewValidationErrorWithValue("sweep_interval", "must be > 0", c.SweepInterval)
	}
	if c.ServeGrace < 0 {
		return NewValidationErrorWithValue("serve_grace", "must be >= 0", c.ServeGrace)
	}
	if c.ResolveTimeout <= 0 || c.FetchTimeout <= 0 {
		return NewValidationError("timeouts", "resolve and fetch timeouts must be > 0")
	}
	if c.MaxActiveDownloads < 1 {
		return NewValidationErrorWithValue("max_active_downloads", "must be >= 1", c.MaxActiveDownloads)
	}
	if c.MaxArtifacts < 1 {
		return NewValidationErrorWithValue("max_artifacts", "must be >= 1", c.MaxArtifacts)
	}
	if c.MaxRetries < 0 {
		return NewValidationErrorWithValue("max_retries", "must be >= 0", c.MaxRetries)
	}
	if len(c.UserAgentList) == 0 {
		return NewValidationError("user_agents", "user agent list cannot be empty")
	}
	if c.RequestTimeout <= 0 {
		return NewValidationErrorWithValue("request_timeout", "must be > 0", c.RequestTimeout)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return NewValidationErrorWithValue("log_level", err.Error(), c.LogLevel)
	}
	return nil
}
