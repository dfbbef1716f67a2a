// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	// PrimaryDSN selects the primary document store: a SQLite path or a
	// postgres:// URL. Empty runs on the fallback store only.
	PrimaryDSN  string
	FallbackDir string
	LogLevel    string
	LogJSON     bool

	Session   SessionConfig
	CRM       CRMConfig
	Sheets    SheetsConfig
	Responder ResponderConfig
	RateLimit RateLimitConfig
	Timeouts  Timeouts
}

// SessionConfig bounds the in-process session cache.
type SessionConfig struct {
	CacheSize int
	CacheTTL  time.Duration
}

// CRMConfig configures the HubSpot contact sync. An empty Token disables it.
type CRMConfig struct {
	Token        string
	BaseURL      string
	RPS          float64
	SyncInterval time.Duration
}

// SheetsConfig configures the spreadsheet export. An empty SpreadsheetID
// disables it.
type SheetsConfig struct {
	SpreadsheetID   string
	SheetName       string
	CredentialsJSON string
	CredentialsFile string
}

// ResponderConfig points at the reply generation service.
type ResponderConfig struct {
	Address      string
	HistoryLimit int
}

// RateLimitConfig bounds chat requests per client.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// Timeouts bounds each outbound call.
type Timeouts struct {
	Store    time.Duration
	Probe    time.Duration
	CRM      time.Duration
	Sheets   time.Duration
	Connect  time.Duration
	Generate time.Duration
	Shutdown time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		PrimaryDSN:  getEnv("PRIMARY_DSN", "./data/signdesk.db"),
		FallbackDir: getEnv("FALLBACK_DIR", "./data/local_storage"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogJSON:     getEnvBool("LOG_JSON", true),
		Session: SessionConfig{
			CacheSize: getEnvInt("SESSION_CACHE_SIZE", 10000),
			CacheTTL:  getEnvDuration("SESSION_CACHE_TTL", 24*time.Hour),
		},
		CRM: CRMConfig{
			Token:        getEnv("HUBSPOT_TOKEN", ""),
			BaseURL:      getEnv("HUBSPOT_BASE_URL", "https://api.hubapi.com"),
			RPS:          getEnvFloat("HUBSPOT_RPS", 5),
			SyncInterval: getEnvDuration("CRM_SYNC_INTERVAL", 30*time.Second),
		},
		Sheets: SheetsConfig{
			SpreadsheetID:   getEnv("SHEETS_SPREADSHEET_ID", ""),
			SheetName:       getEnv("SHEETS_SHEET_NAME", "Sheet1"),
			CredentialsJSON: getEnv("GOOGLE_CREDENTIALS_JSON", ""),
			CredentialsFile: getEnv("GOOGLE_CREDENTIALS_FILE", ""),
		},
		Responder: ResponderConfig{
			Address:      getEnv("RESPONDER_ADDR", ""),
			HistoryLimit: getEnvInt("RESPONDER_HISTORY_LIMIT", 20),
		},
		RateLimit: RateLimitConfig{
			Requests: getEnvInt("RATE_LIMIT_REQUESTS", 30),
			Window:   getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		Timeouts: Timeouts{
			Store:    getEnvDuration("STORE_TIMEOUT", 5*time.Second),
			Probe:    getEnvDuration("STORE_PROBE_TIMEOUT", 5*time.Second),
			CRM:      getEnvDuration("CRM_TIMEOUT", 8*time.Second),
			Sheets:   getEnvDuration("SHEETS_TIMEOUT", 8*time.Second),
			Connect:  getEnvDuration("RESPONDER_CONNECT_TIMEOUT", 5*time.Second),
			Generate: getEnvDuration("RESPONDER_TIMEOUT", 30*time.Second),
			Shutdown: getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		},
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
	if c.FallbackDir == "" {
		return fmt.Errorf("FALLBACK_DIR cannot be empty")
	}
	if c.Session.CacheSize <= 0 {
		return fmt.Errorf("SESSION_CACHE_SIZE must be > 0")
	}
	if c.Session.CacheTTL <= 0 {
		return fmt.Errorf("SESSION_CACHE_TTL must be > 0")
	}
	if c.CRM.RPS <= 0 {
		return fmt.Errorf("HUBSPOT_RPS must be > 0")
	}
	if c.CRM.SyncInterval <= 0 {
		return fmt.Errorf("CRM_SYNC_INTERVAL must be > 0")
	}
	if c.Sheets.SpreadsheetID != "" && c.Sheets.CredentialsJSON == "" && c.Sheets.CredentialsFile == "" {
		return fmt.Errorf("SHEETS_SPREADSHEET_ID requires GOOGLE_CREDENTIALS_JSON or GOOGLE_CREDENTIALS_FILE")
	}
	if c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0")
	}
	return nil
}

// CRMEnabled reports whether a HubSpot token is configured.
func (c *Config) CRMEnabled() bool {
	return c.CRM.Token != ""
}

// SheetsEnabled reports whether a spreadsheet is configured.
func (c *Config) SheetsEnabled() bool {
	return c.Sheets.SpreadsheetID != ""
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins for the chat widget.
func (c *Config) AllowedOrigins() []string {
	if c.IsDevelopment() {
		return []string{"*"}
	}
	var origins []string
	for _, o := range strings.Split(c.FrontendURL, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
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

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

// getEnvDuration accepts Go durations ("90s") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
