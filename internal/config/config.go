package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the single source of truth for gateway settings. Route tables
// are loaded once here and treated as immutable for the process lifetime.
type Config struct {
	ServiceName    string
	HTTPListenAddr string
	LogLevel       string

	// VerifyToken, when non-empty, must match the token presented by the
	// chat platform on every inbound request.
	VerifyToken  string
	ResponseType string

	HTTPTimeout  time.Duration
	RetryCount   int
	RetryBackoff time.Duration
	// VerifyTLS defaults to true; disabling certificate verification is an
	// explicit operational opt-out.
	VerifyTLS bool

	FollowupThreshold int

	ExecTimeout  time.Duration
	ExecTestMode bool

	// DefaultBackendURL is the adapter fallback when a request carries no
	// resolvable channel mapping.
	DefaultBackendURL string

	ChannelTenants  map[string]string
	TenantBackends  map[string]string
	ChannelWebhooks map[string]string
}

// routesFile is the YAML schema of ROUTES_FILE.
type routesFile struct {
	Channels  map[string]string `yaml:"channels"`
	Customers map[string]string `yaml:"customers"`
	Webhooks  map[string]string `yaml:"webhooks"`
}

// Load reads configuration from the environment. Route tables come from the
// JSON env vars or, when ROUTES_FILE is set, from a YAML file whose entries
// take precedence.
func Load() (*Config, error) {
	cfg := &Config{
		ServiceName:       getEnv("SERVICE_NAME", "chatops-gateway"),
		HTTPListenAddr:    getEnv("HTTP_LISTEN_ADDR", ":8080"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		VerifyToken:       getEnv("VERIFY_TOKEN", ""),
		ResponseType:      getEnv("RESPONSE_TYPE", "ephemeral"),
		HTTPTimeout:       getEnvDuration("HTTP_TIMEOUT", 15*time.Second),
		RetryCount:        getEnvInt("RETRY_COUNT", 2),
		RetryBackoff:      getEnvDuration("RETRY_SLEEP_SEC", 500*time.Millisecond),
		VerifyTLS:         getEnvBool("VERIFY_TLS", true),
		FollowupThreshold: getEnvInt("FOLLOWUP_THRESHOLD", 1800),
		ExecTimeout:       getEnvDuration("EXEC_TIMEOUT_SEC", 20*time.Second),
		ExecTestMode:      getEnvBool("EXEC_TEST_MODE", false),
		DefaultBackendURL: getEnv("DEFAULT_BACKEND_URL", ""),
		ChannelTenants:    map[string]string{},
		TenantBackends:    map[string]string{},
		ChannelWebhooks:   map[string]string{},
	}

	if err := mergeJSONEnv("CHANNEL_MAP_JSON", cfg.ChannelTenants); err != nil {
		return nil, err
	}
	if err := mergeJSONEnv("CUSTOMER_MAP_JSON", cfg.TenantBackends); err != nil {
		return nil, err
	}
	if err := mergeJSONEnv("CHANNEL_WEBHOOK_JSON", cfg.ChannelWebhooks); err != nil {
		return nil, err
	}

	if path := os.Getenv("ROUTES_FILE"); path != "" {
		if err := cfg.loadRoutesFile(path); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Validate checks settings that would otherwise fail at request time.
func (c *Config) Validate() error {
	if c.ResponseType != "ephemeral" && c.ResponseType != "in_channel" {
		return fmt.Errorf("RESPONSE_TYPE must be ephemeral or in_channel, got %q", c.ResponseType)
	}
	if c.FollowupThreshold <= 0 {
		return fmt.Errorf("FOLLOWUP_THRESHOLD must be positive, got %d", c.FollowupThreshold)
	}
	if c.RetryCount < 0 {
		return fmt.Errorf("RETRY_COUNT must be non-negative, got %d", c.RetryCount)
	}
	for channel, tenant := range c.ChannelTenants {
		if tenant == "" {
			return fmt.Errorf("channel %q maps to an empty tenant", channel)
		}
	}
	return nil
}

func (c *Config) loadRoutesFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read routes file: %w", err)
	}
	var rf routesFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return fmt.Errorf("parse routes file %s: %w", path, err)
	}
	for k, v := range rf.Channels {
		c.ChannelTenants[k] = v
	}
	for k, v := range rf.Customers {
		c.TenantBackends[k] = v
	}
	for k, v := range rf.Webhooks {
		c.ChannelWebhooks[k] = v
	}
	return nil
}

func mergeJSONEnv(key string, dst map[string]string) error {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	for k, v := range m {
		dst[k] = v
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "1" || v == "true"
	}
	return fallback
}

// getEnvDuration reads a duration expressed in seconds (fractions allowed).
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			return time.Duration(f * float64(time.Second))
		}
	}
	return fallback
}
