package app

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Version is the agent build version, overridden at link time
var Version = "1.0.0"

// Config holds local agent configuration
type Config struct {
	APIURL        string `yaml:"api_url"`
	AllowInsecure bool   `yaml:"allow_insecure"`
	TenantID      string `yaml:"tenant_id"`
	IntegrationID string `yaml:"integration_id"`
	AgentID       string `yaml:"agent_id"`

	DataDir        string `yaml:"data_dir"`
	DBPath         string `yaml:"db_path"`
	IdentityPath   string `yaml:"identity_path"`
	CredentialPath string `yaml:"credential_path"`
	LogPath        string `yaml:"log_path"`
	LogLevel       string `yaml:"log_level"`

	BatchSize          int           `yaml:"batch_size"`
	MaxBatchesPerCycle int           `yaml:"max_batches_per_cycle"`
	InitialSalesLimit  int           `yaml:"initial_sales_limit"`
	SyncIntervalSec    int           `yaml:"sync_interval_seconds"`
	DetectRetry        time.Duration `yaml:"detect_retry_interval"`
	ErrorPause         time.Duration `yaml:"error_pause"`
	Currency           string        `yaml:"currency"`
	Timezone           string        `yaml:"timezone"`

	POS POSConfig `yaml:"pos"`
}

// POSConfig holds optional overrides for POS database discovery
type POSConfig struct {
	// ConnectionString skips detection entirely when set
	ConnectionString string   `yaml:"connection_string"`
	Host             string   `yaml:"host"`
	User             string   `yaml:"user"`
	Password         string   `yaml:"password"`
	ExtraInstances   []string `yaml:"extra_instances"`
	ExtraDatabases   []string `yaml:"extra_databases"`
}

// DefaultConfigPath returns the platform specific default config location
func DefaultConfigPath() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(defaultDataDir(), "agent.yaml")
	}
	return "/etc/tis-agent/agent.yaml"
}

func defaultDataDir() string {
	if runtime.GOOS == "windows" {
		return `C:\ProgramData\TIS\agent`
	}
	return "/var/lib/tis-agent"
}

// LoadConfig loads configuration from the YAML file at path (if it exists),
// applies environment variable overrides and validates the result
func LoadConfig(path string) (*Config, error) {
	cfg, err := LoadLocalConfig(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadLocalConfig loads configuration without validating the cloud settings.
// Local commands such as status and set-secret only need the paths.
func LoadLocalConfig(path string) (*Config, error) {
	cfg := &Config{
		DataDir:            defaultDataDir(),
		LogLevel:           "info",
		BatchSize:          100,
		MaxBatchesPerCycle: 10,
		InitialSalesLimit:  500,
		SyncIntervalSec:    30,
		DetectRetry:        5 * time.Minute,
		ErrorPause:         5 * time.Second,
		Currency:           "MXN",
		Timezone:           "America/Mexico_City",
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	cfg.applyEnv()

	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.DataDir, "agent.db")
	}
	if cfg.IdentityPath == "" {
		cfg.IdentityPath = filepath.Join(cfg.DataDir, "identity.json")
	}
	if cfg.CredentialPath == "" {
		cfg.CredentialPath = filepath.Join(cfg.DataDir, "credential.bin")
	}
	if cfg.LogPath == "" {
		cfg.LogPath = filepath.Join(cfg.DataDir, "logs", "agent.log")
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.APIURL = getEnv("TIS_API_URL", c.APIURL)
	c.TenantID = getEnv("TIS_TENANT_ID", c.TenantID)
	c.IntegrationID = getEnv("TIS_INTEGRATION_ID", c.IntegrationID)
	c.AgentID = getEnv("TIS_AGENT_ID", c.AgentID)
	c.DataDir = getEnv("TIS_DATA_DIR", c.DataDir)
	c.DBPath = getEnv("TIS_DB_PATH", c.DBPath)
	c.CredentialPath = getEnv("TIS_CREDENTIAL_PATH", c.CredentialPath)
	c.LogPath = getEnv("TIS_LOG_PATH", c.LogPath)
	c.LogLevel = getEnv("TIS_LOG_LEVEL", c.LogLevel)
	c.Currency = getEnv("TIS_CURRENCY", c.Currency)
	c.Timezone = getEnv("TIS_TIMEZONE", c.Timezone)
	c.POS.ConnectionString = getEnv("TIS_POS_CONNECTION_STRING", c.POS.ConnectionString)
	c.POS.User = getEnv("TIS_POS_USER", c.POS.User)
	c.POS.Password = getEnv("TIS_POS_PASSWORD", c.POS.Password)

	if v := os.Getenv("TIS_ALLOW_INSECURE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.AllowInsecure = b
		}
	}
	if v := os.Getenv("TIS_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.BatchSize = n
		}
	}
	if v := os.Getenv("TIS_SYNC_INTERVAL_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.SyncIntervalSec = n
		}
	}
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if c.APIURL == "" {
		return fmt.Errorf("api_url must be set")
	}
	u, err := url.Parse(c.APIURL)
	if err != nil {
		return fmt.Errorf("invalid api_url: %w", err)
	}
	if u.Scheme != "https" && !c.AllowInsecure {
		return fmt.Errorf("api_url must use https (got %q)", u.Scheme)
	}
	if c.TenantID == "" || c.IntegrationID == "" || c.AgentID == "" {
		return fmt.Errorf("tenant_id, integration_id and agent_id must be set")
	}
	if c.BatchSize <= 0 || c.BatchSize > 1000 {
		return fmt.Errorf("batch_size must be between 1 and 1000")
	}
	if c.MaxBatchesPerCycle <= 0 {
		return fmt.Errorf("max_batches_per_cycle must be positive")
	}
	if len(c.Currency) != 3 {
		return fmt.Errorf("currency must be a 3 letter code")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone: %w", err)
	}
	return nil
}

// Location returns the POS wall clock time zone
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// SyncInterval returns the configured default sync interval
func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.SyncIntervalSec) * time.Second
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
