package config

import (
	"encoding/json"
	"os"
	"strconv"
)

// Config holds all agent configuration
type Config struct {
	ServerAddress string   `json:"serverAddress"`
	DatabasePath  string   `json:"databasePath"`
	Remote        Remote   `json:"remote"`
	Security      Security `json:"security"`
	Cache         Cache    `json:"cache"`
	Sync          Sync     `json:"sync"`
}

// Remote configuration for the hosted backend
type Remote struct {
	DatabaseURL   string `json:"databaseUrl"`
	StorageURL    string `json:"storageUrl"`
	StorageBucket string `json:"storageBucket"`
	StorageKey    string `json:"storageKey"`
}

// Security configuration for the local status API
type Security struct {
	APIKey       string `json:"apiKey"`
	APIKeyHeader string `json:"apiKeyHeader"`
}

// Cache configuration for the local document store
type Cache struct {
	MaxTours  int   `json:"maxTours"`
	MaxSizeMB int64 `json:"maxSizeMB"`
}

// Sync configuration for the reconciliation engine
type Sync struct {
	TourRetentionDays int  `json:"tourRetentionDays"`
	StartOnline       bool `json:"startOnline"`
}

// MaxCacheBytes returns the cache byte limit, zero when unlimited
func (c *Config) MaxCacheBytes() int64 {
	return c.Cache.MaxSizeMB * 1024 * 1024
}

// Default configuration
func defaultConfig() *Config {
	return &Config{
		ServerAddress: ":5100",
		DatabasePath:  "toursync.db",
		Remote: Remote{
			StorageBucket: "tour-media",
		},
		Security: Security{
			APIKey:       "CHANGE_THIS_TO_A_SECURE_API_KEY_AT_LEAST_32_CHARS",
			APIKeyHeader: "X-API-Key",
		},
		Cache: Cache{
			MaxTours:  5,
			MaxSizeMB: 100,
		},
		Sync: Sync{
			TourRetentionDays: 7,
			StartOnline:       false,
		},
	}
}

// Load loads configuration from file or environment
func Load() (*Config, error) {
	cfg := defaultConfig()

	// Try to load from config file
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.json"
	}

	if data, err := os.ReadFile(configPath); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	// Override from environment variables
	if addr := os.Getenv("SERVER_ADDRESS"); addr != "" {
		cfg.ServerAddress = addr
	}
	if dbPath := os.Getenv("DATABASE_PATH"); dbPath != "" {
		cfg.DatabasePath = dbPath
	}
	if dbURL := os.Getenv("REMOTE_DATABASE_URL"); dbURL != "" {
		cfg.Remote.DatabaseURL = dbURL
	}
	if storageURL := os.Getenv("REMOTE_STORAGE_URL"); storageURL != "" {
		cfg.Remote.StorageURL = storageURL
	}
	if bucket := os.Getenv("REMOTE_STORAGE_BUCKET"); bucket != "" {
		cfg.Remote.StorageBucket = bucket
	}
	if key := os.Getenv("REMOTE_STORAGE_KEY"); key != "" {
		cfg.Remote.StorageKey = key
	}
	if apiKey := os.Getenv("API_KEY"); apiKey != "" {
		cfg.Security.APIKey = apiKey
	}

	if maxTours := os.Getenv("CACHE_MAX_TOURS"); maxTours != "" {
		if n, err := strconv.Atoi(maxTours); err == nil && n >= 0 {
			cfg.Cache.MaxTours = n
		}
	}
	if maxSize := os.Getenv("CACHE_MAX_SIZE_MB"); maxSize != "" {
		if n, err := strconv.ParseInt(maxSize, 10, 64); err == nil && n >= 0 {
			cfg.Cache.MaxSizeMB = n
		}
	}
	if retention := os.Getenv("TOUR_RETENTION_DAYS"); retention != "" {
		if n, err := strconv.Atoi(retention); err == nil && n > 0 {
			cfg.Sync.TourRetentionDays = n
		}
	}
	if online := os.Getenv("START_ONLINE"); online != "" {
		cfg.Sync.StartOnline = online == "true" || online == "1"
	}

	return cfg, nil
}
