// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Browser modes.
const (
	BrowserLocal  = "local"
	BrowserDocker = "docker"
	BrowserRemote = "remote"
)

// Config holds all application configuration.
type Config struct {
	Port   string
	AppEnv string
	DBPath string

	// Flow names a built-in flow; FlowFile, when set, takes precedence.
	Flow       string
	FlowFile   string
	LayoutFile string

	ArtifactDir    string
	CaptureSuccess bool

	SessionIdleTTL     time.Duration
	AttemptTimeout     time.Duration
	AttemptRetention   time.Duration
	RateLimitPerMinute int

	Browser BrowserConfig

	OutboundWebhookURL string
	WebhookSecret      string

	GRPCHealthAddr string
	AllowedOrigins []string
	LogLevel       slog.Level
}

// BrowserConfig selects where attempt browsers come from.
type BrowserConfig struct {
	Mode     string
	URL      string
	Image    string
	Bin      string
	Headless bool
	// Runtime is the Docker runtime: "" = default (runc), "runsc" = gVisor.
	Runtime string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:   getEnv("PORT", "8080"),
		AppEnv: getEnv("APP_ENV", "production"),
		DBPath: getEnv("DB_PATH", "./data/formrelay.db"),

		Flow:       getEnv("FLOW", "registration"),
		FlowFile:   getEnv("FLOW_FILE", ""),
		LayoutFile: getEnv("LAYOUT_FILE", ""),

		ArtifactDir:    getEnv("ARTIFACT_DIR", "./data/artifacts"),
		CaptureSuccess: getEnvBool("CAPTURE_SUCCESS", false),

		SessionIdleTTL:     getEnvDuration("SESSION_IDLE_TTL", 30*time.Minute),
		AttemptTimeout:     getEnvDuration("ATTEMPT_TIMEOUT", 5*time.Minute),
		AttemptRetention:   getEnvDuration("ATTEMPT_RETENTION", 30*24*time.Hour),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 30),

		Browser: BrowserConfig{
			Mode:     strings.ToLower(getEnv("BROWSER_MODE", BrowserLocal)),
			URL:      getEnv("BROWSER_URL", ""),
			Image:    getEnv("BROWSER_IMAGE", ""),
			Bin:      getEnv("BROWSER_BIN", ""),
			Headless: getEnvBool("HEADLESS", true),
			Runtime:  getEnv("CONTAINER_RUNTIME", ""),
		},

		OutboundWebhookURL: getEnv("OUTBOUND_WEBHOOK_URL", ""),
		WebhookSecret:      getEnv("WEBHOOK_SECRET", ""),

		GRPCHealthAddr: getEnv("GRPC_HEALTH_ADDR", ":9090"),
		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "")),
		LogLevel:       parseLevel(getEnv("LOG_LEVEL", "info")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.Flow == "" && c.FlowFile == "" {
		return fmt.Errorf("FLOW or FLOW_FILE must be set")
	}
	if c.ArtifactDir == "" {
		return fmt.Errorf("ARTIFACT_DIR cannot be empty")
	}
	if c.AttemptTimeout <= 0 {
		return fmt.Errorf("ATTEMPT_TIMEOUT must be > 0")
	}
	if c.SessionIdleTTL <= 0 {
		return fmt.Errorf("SESSION_IDLE_TTL must be > 0")
	}
	switch c.Browser.Mode {
	case BrowserLocal, BrowserDocker:
	case BrowserRemote:
		if c.Browser.URL == "" {
			return fmt.Errorf("BROWSER_URL is required when BROWSER_MODE=remote")
		}
	default:
		return fmt.Errorf("BROWSER_MODE must be one of local, docker, remote (got %q)", c.Browser.Mode)
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
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

func parseLevel(value string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
		return slog.LevelInfo
	}
	return level
}

// IsContainer returns true if running inside a Docker container.
func IsContainer() bool {
	if os.Getenv("CONTAINER") == "true" {
		return true
	}
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	return false
}
