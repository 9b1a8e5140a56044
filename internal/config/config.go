// Package config provides configuration management for esmcp.
// It loads settings from environment variables with the ESMCP_ prefix
// and provides sensible defaults for all configuration options.
//
// The per-tier backend host map can additionally be supplied as a YAML file
// (ESMCP_HOSTS_FILE); values from the file override the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/scrypster/esmcp/pkg/types"
)

// Config holds all configuration settings for the esmcp application.
type Config struct {
	Server        ServerConfig
	MCP           MCPConfig
	Redash        RedashConfig
	Elasticsearch ElasticsearchConfig
	Tiers         TierConfig
	Audit         AuditConfig
	LLM           LLMConfig
	Schema        SchemaConfig
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port              int           // Server port (default: 8080)
	Host              string        // Server host (default: 127.0.0.1)
	SSEIdleTimeout    time.Duration // Idle ceiling for event streams (default: 30m)
	HeartbeatInterval time.Duration // Comment frames sent on idle streams (default: 15s)
	MaxConnections    int           // Maximum concurrent streams, 0 = unlimited
	RateLimit         float64       // Sustained requests per second (default: 10)
	RateBurst         int           // Burst size (default: 20)
}

// MCPConfig describes the server identity advertised to clients.
type MCPConfig struct {
	Name         string   // Server name (default: esmcp)
	Version      string   // Server version (default: 1.0.0)
	Description  string   // Human description
	EnabledTools []string // Tool allow-list; empty enables every tool
}

// RedashConfig contains settings for the intermediary job system.
type RedashConfig struct {
	BaseURL               string        // Redash base URL; empty disables the job path
	APIKey                string        // API key sent as "Authorization: Key <key>"
	PollInterval          time.Duration // Initial poll interval (default: 2s)
	MaxPollInterval       time.Duration // Poll interval ceiling (default: 10s)
	MaxPollAttempts       int           // Maximum status polls per job (default: 15)
	ConnectTimeout        time.Duration // Dial timeout (default: 5s)
	ReadTimeout           time.Duration // Per-request timeout (default: 30s)
	MaxConcurrentSearches int           // Parallel per-host searches (default: 5)
}

// Enabled reports whether the intermediary job path is configured.
func (r RedashConfig) Enabled() bool {
	return r.BaseURL != ""
}

// HostConfig holds connection settings for one backend tier.
type HostConfig struct {
	Name         string        // Logical cluster name (e.g. UTH_ES_Primary)
	URL          string        // Direct cluster URL
	Username     string        // Basic auth user (optional)
	Password     string        // Basic auth password (optional)
	Timeout      time.Duration // Request timeout (default: 30s)
	DataSourceID int           // Intermediary data source id for this tier
}

// ElasticsearchConfig contains the typed tier -> host settings map and query defaults.
type ElasticsearchConfig struct {
	Hosts          map[types.HostType]HostConfig
	DefaultSize    int      // Default page size (default: 100)
	MaxSize        int      // Maximum page size (default: 1000)
	PoolSize       int      // Idle connections per host (default: 10)
	IndexPattern   string   // Monthly index pattern (default: payment-history-MM-yyyy*)
	DefaultIndices []string // Indices searched when a call names none
}

// HostFor returns the settings for a tier.
func (e ElasticsearchConfig) HostFor(h types.HostType) (HostConfig, bool) {
	hc, ok := e.Hosts[h]
	return hc, ok
}

// TierConfig contains the coverage window parameters.
type TierConfig struct {
	RecencyMonths int       // Primary window length in months (default: 6)
	ExtensionDays int       // Secondary window length in days (default: 365)
	Epoch         time.Time // Tertiary window start (default: 2023-04-01)
}

// AuditConfig selects the search audit store.
type AuditConfig struct {
	Engine string // sqlite, postgres or none (default: sqlite)
	Path   string // SQLite database path (default: ./data/esmcp-audit.db)
	DSN    string // PostgreSQL DSN
}

// LLMConfig contains settings for the query generation collaborator.
type LLMConfig struct {
	OllamaURL string        // Ollama API URL (default: http://localhost:11434)
	Model     string        // Model name (default: llama3.2)
	Timeout   time.Duration // Request timeout (default: 120s)
}

// SchemaConfig points at an optional schema document override.
type SchemaConfig struct {
	File string // Path to a JSON schema document; empty uses the embedded default
}

// LoadConfig loads configuration from environment variables with sensible defaults.
// All environment variables use the ESMCP_ prefix. When ESMCP_HOSTS_FILE is set
// the YAML hosts file is merged over the environment host settings.
func LoadConfig() (*Config, error) {
	cfg := buildBaseConfig()

	if path := os.Getenv("ESMCP_HOSTS_FILE"); path != "" {
		if err := cfg.LoadHostsFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values that would break the server.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("config: invalid port %d", c.Server.Port))
	}
	if c.Redash.MaxPollAttempts <= 0 {
		errs = append(errs, errors.New("config: redash max poll attempts must be positive"))
	}
	if c.Redash.PollInterval <= 0 || c.Redash.MaxPollInterval < c.Redash.PollInterval {
		errs = append(errs, errors.New("config: redash poll interval must be positive and not exceed the maximum"))
	}
	if c.Redash.MaxConcurrentSearches <= 0 {
		errs = append(errs, errors.New("config: max concurrent searches must be positive"))
	}
	for _, h := range types.AllHostTypes {
		if _, ok := c.Elasticsearch.Hosts[h]; !ok {
			errs = append(errs, fmt.Errorf("config: no host configured for tier %s", h))
		}
	}
	switch c.Audit.Engine {
	case "sqlite", "none":
	case "postgres":
		if c.Audit.DSN == "" {
			errs = append(errs, errors.New("config: postgres audit engine requires ESMCP_AUDIT_DSN"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: unsupported audit engine %q", c.Audit.Engine))
	}
	return errors.Join(errs...)
}

// buildBaseConfig constructs a Config with values from environment variables
// and defaults.
func buildBaseConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              getEnvInt("ESMCP_PORT", 8080),
			Host:              getEnv("ESMCP_HOST", "127.0.0.1"),
			SSEIdleTimeout:    getEnvDuration("ESMCP_SSE_IDLE_TIMEOUT", 30*time.Minute),
			HeartbeatInterval: getEnvDuration("ESMCP_SSE_HEARTBEAT", 15*time.Second),
			MaxConnections:    getEnvInt("ESMCP_MAX_CONNECTIONS", 0),
			RateLimit:         getEnvFloat("ESMCP_RATE_LIMIT", 10),
			RateBurst:         getEnvInt("ESMCP_RATE_BURST", 20),
		},
		MCP: MCPConfig{
			Name:         getEnv("ESMCP_SERVER_NAME", "esmcp"),
			Version:      getEnv("ESMCP_SERVER_VERSION", "1.0.0"),
			Description:  getEnv("ESMCP_SERVER_DESCRIPTION", "Elasticsearch federation tools over MCP"),
			EnabledTools: getEnvList("ESMCP_ENABLED_TOOLS"),
		},
		Redash: RedashConfig{
			BaseURL:               strings.TrimRight(getEnv("ESMCP_REDASH_URL", ""), "/"),
			APIKey:                getEnv("ESMCP_REDASH_API_KEY", ""),
			PollInterval:          getEnvDuration("ESMCP_REDASH_POLL_INTERVAL", 2*time.Second),
			MaxPollInterval:       getEnvDuration("ESMCP_REDASH_MAX_POLL_INTERVAL", 10*time.Second),
			MaxPollAttempts:       getEnvInt("ESMCP_REDASH_MAX_POLL_ATTEMPTS", 15),
			ConnectTimeout:        getEnvDuration("ESMCP_REDASH_CONNECT_TIMEOUT", 5*time.Second),
			ReadTimeout:           getEnvDuration("ESMCP_REDASH_READ_TIMEOUT", 30*time.Second),
			MaxConcurrentSearches: getEnvInt("ESMCP_MAX_CONCURRENT_SEARCHES", 5),
		},
		Elasticsearch: ElasticsearchConfig{
			Hosts: map[types.HostType]HostConfig{
				types.HostPrimary:   hostFromEnv("PRIMARY", "UTH_ES_Primary", "http://localhost:9200", 3),
				types.HostSecondary: hostFromEnv("SECONDARY", "UTH_ES_Secondary", "http://localhost:9201", 5),
				types.HostTertiary:  hostFromEnv("TERTIARY", "UTH_ES_Tertiary", "http://localhost:9202", 12),
			},
			DefaultSize:    getEnvInt("ESMCP_ES_DEFAULT_SIZE", 100),
			MaxSize:        getEnvInt("ESMCP_ES_MAX_SIZE", 1000),
			PoolSize:       getEnvInt("ESMCP_ES_POOL_SIZE", 10),
			IndexPattern:   getEnv("ESMCP_ES_INDEX_PATTERN", "payment-history-MM-yyyy*"),
			DefaultIndices: getEnvListDefault("ESMCP_ES_DEFAULT_INDICES", []string{"payment-history-*"}),
		},
		Tiers: TierConfig{
			RecencyMonths: getEnvInt("ESMCP_TIER_RECENCY_MONTHS", 6),
			ExtensionDays: getEnvInt("ESMCP_TIER_EXTENSION_DAYS", 365),
			Epoch:         getEnvDate("ESMCP_TIER_EPOCH", time.Date(2023, time.April, 1, 0, 0, 0, 0, time.Local)),
		},
		Audit: AuditConfig{
			Engine: getEnv("ESMCP_AUDIT_ENGINE", "sqlite"),
			Path:   getEnv("ESMCP_AUDIT_PATH", "./data/esmcp-audit.db"),
			DSN:    getEnv("ESMCP_AUDIT_DSN", ""),
		},
		LLM: LLMConfig{
			OllamaURL: getEnv("ESMCP_OLLAMA_URL", "http://localhost:11434"),
			Model:     getEnv("ESMCP_OLLAMA_MODEL", "llama3.2"),
			Timeout:   getEnvDuration("ESMCP_OLLAMA_TIMEOUT", 120*time.Second),
		},
		Schema: SchemaConfig{
			File: getEnv("ESMCP_SCHEMA_FILE", ""),
		},
	}
}

// hostFromEnv reads ESMCP_ES_<TIER>_* variables for one tier.
func hostFromEnv(tier, name, url string, dataSourceID int) HostConfig {
	prefix := "ESMCP_ES_" + tier + "_"
	return HostConfig{
		Name:         getEnv(prefix+"NAME", name),
		URL:          getEnv(prefix+"URL", url),
		Username:     getEnv(prefix+"USERNAME", ""),
		Password:     getEnv(prefix+"PASSWORD", ""),
		Timeout:      getEnvDuration(prefix+"TIMEOUT", 30*time.Second),
		DataSourceID: getEnvInt(prefix+"DATA_SOURCE_ID", dataSourceID),
	}
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value.
// If the environment variable exists but cannot be parsed as an integer,
// it returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default value.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go duration strings ("30s", "2m") or a bare number
// of milliseconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}

// getEnvDate parses a yyyy-MM-dd date in local time.
func getEnvDate(key string, defaultValue time.Time) time.Time {
	if value := os.Getenv(key); value != "" {
		if t, err := time.ParseInLocation("2006-01-02", value, time.Local); err == nil {
			return t
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated variable, dropping empty items.
func getEnvList(key string) []string {
	return getEnvListDefault(key, nil)
}

func getEnvListDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
