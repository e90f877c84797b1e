package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config represents the complete system configuration
type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Redis     RedisConfig     `json:"redis"`
	Auth      AuthConfig      `json:"auth"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	Analytics AnalyticsConfig `json:"analytics"`
	LogLevel  string          `json:"log_level"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port         string   `json:"port"`
	ReadTimeout  Duration `json:"read_timeout"`
	WriteTimeout Duration `json:"write_timeout"`
	IdleTimeout  Duration `json:"idle_timeout"`
}

// DatabaseConfig contains relational store settings
type DatabaseConfig struct {
	Driver string `json:"driver"` // "sqlite", "postgres"
	DSN    string `json:"dsn"`
}

// RedisConfig contains the optional response-cache settings
type RedisConfig struct {
	Addr     string   `json:"addr"` // empty disables caching
	Password string   `json:"password"`
	DB       int      `json:"db"`
	TTL      Duration `json:"ttl"`
}

// AuthConfig contains JWT authentication settings
type AuthConfig struct {
	Enabled   bool   `json:"enabled"`
	JWTSecret string `json:"jwt_secret"`
}

// RateLimitConfig contains per-client request throttling settings
type RateLimitConfig struct {
	Enabled           bool    `json:"enabled"`
	RequestsPerSecond float64 `json:"requests_per_second"`
	Burst             int     `json:"burst"`
}

// AnalyticsConfig contains prediction model settings
type AnalyticsConfig struct {
	KNNNeighbors    int     `json:"knn_neighbors"`
	NumTrees        int     `json:"num_trees"`
	MaxTreeDepth    int     `json:"max_tree_depth"`
	MinSamplesLeaf  int     `json:"min_samples_leaf"`
	FeatureFraction float64 `json:"feature_fraction"`
	Seed            int64   `json:"seed"` // 0 means time-seeded
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         ":8080",
			ReadTimeout:  Duration{30 * time.Second},
			WriteTimeout: Duration{30 * time.Second},
			IdleTimeout:  Duration{120 * time.Second},
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "./data/expirekits.db",
		},
		Redis: RedisConfig{
			TTL: Duration{5 * time.Minute},
		},
		Auth: AuthConfig{
			Enabled: false,
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 10,
			Burst:             20,
		},
		Analytics: AnalyticsConfig{
			KNNNeighbors:    5,
			NumTrees:        50,
			MaxTreeDepth:    10,
			MinSamplesLeaf:  2,
			FeatureFraction: 0.8,
		},
		LogLevel: "info",
	}
}

// LoadFromFile loads configuration from a JSON file
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	config := DefaultConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filename, err)
	}

	return config, nil
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() *Config {
	config := DefaultConfig()

	if port := os.Getenv("EXPIREKITS_PORT"); port != "" {
		config.Server.Port = port
	}

	if driver := os.Getenv("EXPIREKITS_DB_DRIVER"); driver != "" {
		config.Database.Driver = driver
	}
	if dsn := os.Getenv("EXPIREKITS_DB_DSN"); dsn != "" {
		config.Database.DSN = dsn
	}

	if addr := os.Getenv("EXPIREKITS_REDIS_ADDR"); addr != "" {
		config.Redis.Addr = addr
	}
	if password := os.Getenv("EXPIREKITS_REDIS_PASSWORD"); password != "" {
		config.Redis.Password = password
	}

	if secret := os.Getenv("EXPIREKITS_JWT_SECRET"); secret != "" {
		config.Auth.Enabled = true
		config.Auth.JWTSecret = secret
	}

	if level := os.Getenv("EXPIREKITS_LOG_LEVEL"); level != "" {
		config.LogLevel = level
	}

	if neighbors := os.Getenv("EXPIREKITS_KNN_NEIGHBORS"); neighbors != "" {
		if val, err := parseIntFromEnv(neighbors); err == nil {
			config.Analytics.KNNNeighbors = val
		}
	}
	if trees := os.Getenv("EXPIREKITS_NUM_TREES"); trees != "" {
		if val, err := parseIntFromEnv(trees); err == nil {
			config.Analytics.NumTrees = val
		}
	}

	return config
}

// SaveToFile saves configuration to a JSON file
func (c *Config) SaveToFile(filename string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", filename, err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port cannot be empty")
	}

	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.Driver == "postgres" && c.Database.DSN == "" {
		return fmt.Errorf("postgres DSN cannot be empty")
	}

	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return fmt.Errorf("jwt secret cannot be empty when auth is enabled")
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate limit requests per second must be positive")
		}
		if c.RateLimit.Burst <= 0 {
			return fmt.Errorf("rate limit burst must be positive")
		}
	}

	if c.Analytics.KNNNeighbors <= 0 {
		return fmt.Errorf("knn neighbors must be positive")
	}
	if c.Analytics.NumTrees <= 0 {
		return fmt.Errorf("num trees must be positive")
	}
	if c.Analytics.FeatureFraction <= 0 || c.Analytics.FeatureFraction > 1 {
		return fmt.Errorf("feature fraction must be in (0, 1]")
	}

	return nil
}

// Helper functions
func parseIntFromEnv(s string) (int, error) {
	var result int
	if _, err := fmt.Sscanf(s, "%d", &result); err != nil {
		return 0, err
	}
	return result, nil
}

// ConfigManager handles configuration loading and reloading
type ConfigManager struct {
	config   *Config
	filename string
	watchers []func(*Config)
}

// NewConfigManager creates a new configuration manager
func NewConfigManager(filename string) (*ConfigManager, error) {
	var config *Config
	var err error

	if filename != "" && fileExists(filename) {
		config, err = LoadFromFile(filename)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	} else {
		config = LoadFromEnv()
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &ConfigManager{
		config:   config,
		filename: filename,
		watchers: make([]func(*Config), 0),
	}, nil
}

// GetConfig returns the current configuration
func (cm *ConfigManager) GetConfig() *Config {
	return cm.config
}

// AddWatcher adds a function to be called when configuration changes
func (cm *ConfigManager) AddWatcher(fn func(*Config)) {
	cm.watchers = append(cm.watchers, fn)
}

// Reload reloads the configuration from file
func (cm *ConfigManager) Reload() error {
	if cm.filename == "" || !fileExists(cm.filename) {
		return fmt.Errorf("no config file to reload")
	}

	newConfig, err := LoadFromFile(cm.filename)
	if err != nil {
		return fmt.Errorf("failed to reload config: %w", err)
	}

	if err := newConfig.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	cm.config = newConfig

	for _, watcher := range cm.watchers {
		watcher(newConfig)
	}

	return nil
}

// fileExists checks if a file exists
func fileExists(filename string) bool {
	_, err := os.Stat(filename)
	return !os.IsNotExist(err)
}
