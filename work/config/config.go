package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"kptv-panel/work/logger"
)

// Config holds all application configuration for the panel core. Subscriber,
// playlist and proxy records live in the database; this struct only carries
// process-level settings, loaded once at startup and validated eagerly.
type Config struct {
	BaseURL            string        `json:"baseURL"`            // Public base URL used when rewriting stream links
	ListenPort         int           `json:"listenPort"`         // HTTP listen port
	DatabasePath       string        `json:"databasePath"`       // Path to the SQLite database file
	HtpasswdPath       string        `json:"htpasswdPath"`       // Path of the generated basic-auth credential file
	CacheEnabled       bool          `json:"cacheEnabled"`       // Whether the merged playlist cache is used
	CacheDuration      time.Duration `json:"cacheDuration"`      // TTL for cached merged playlists
	FetchTimeout       time.Duration `json:"fetchTimeout"`       // Per-request timeout for upstream playlist fetches
	FetchWorkers       int           `json:"fetchWorkers"`       // Fan-out limit for concurrent source fetches
	UserAgent          string        `json:"userAgent"`          // User-Agent sent on upstream requests
	ReqReferrer        string        `json:"reqReferrer"`        // Referer sent on upstream requests
	PreferredCountry   string        `json:"preferredCountry"`   // Two-letter country preference for proxy selection
	InsecureSkipVerify bool          `json:"insecureSkipVerify"` // Skip upstream TLS certificate verification
	ObfuscateUrls      bool          `json:"obfuscateUrls"`      // Obfuscate upstream URLs in log output
	LogLevel           string        `json:"logLevel"`           // DEBUG, INFO, WARN or ERROR
}

// ConfigFile mirrors Config for JSON unmarshaling; duration fields are stored
// as strings ("1h", "10s") and parsed into time.Duration values.
type ConfigFile struct {
	BaseURL            string `json:"baseURL"`
	ListenPort         int    `json:"listenPort"`
	DatabasePath       string `json:"databasePath"`
	HtpasswdPath       string `json:"htpasswdPath"`
	CacheEnabled       *bool  `json:"cacheEnabled"`
	CacheDuration      string `json:"cacheDuration"`
	FetchTimeout       string `json:"fetchTimeout"`
	FetchWorkers       int    `json:"fetchWorkers"`
	UserAgent          string `json:"userAgent"`
	ReqReferrer        string `json:"reqReferrer"`
	PreferredCountry   string `json:"preferredCountry"`
	InsecureSkipVerify bool   `json:"insecureSkipVerify"`
	ObfuscateUrls      bool   `json:"obfuscateUrls"`
	LogLevel           string `json:"logLevel"`
}

var (
	configCache *Config
	configMutex sync.RWMutex
)

// DefaultConfigPath is where the panel looks for its configuration unless the
// KPTV_PANEL_CONFIG environment variable points elsewhere.
const DefaultConfigPath = "/settings/config.json"

// LoadConfig loads the configuration from file or returns the cached instance.
// Missing or invalid files fall back to defaults so the panel always starts.
func LoadConfig() *Config {
	configMutex.RLock()
	if configCache != nil {
		defer configMutex.RUnlock()
		return configCache
	}
	configMutex.RUnlock()

	configMutex.Lock()
	defer configMutex.Unlock()

	if configCache != nil {
		return configCache
	}

	configPath := os.Getenv("KPTV_PANEL_CONFIG")
	if configPath == "" {
		configPath = DefaultConfigPath
	}

	cfg, err := loadFromFile(configPath)
	if err != nil {
		logger.Warn("Failed to load config from %s: %v", configPath, err)
		logger.Warn("Falling back to default configuration...")
		cfg = getDefaultConfig()
	}

	validateAndSetDefaults(cfg)
	configCache = cfg

	return cfg
}

// ClearConfigCache drops the cached configuration so the next LoadConfig call
// re-reads the file. Used by the admin restart path.
func ClearConfigCache() {
	configMutex.Lock()
	defer configMutex.Unlock()
	configCache = nil
}

func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var file ConfigFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg := &Config{
		BaseURL:            file.BaseURL,
		ListenPort:         file.ListenPort,
		DatabasePath:       file.DatabasePath,
		HtpasswdPath:       file.HtpasswdPath,
		CacheEnabled:       true,
		FetchWorkers:       file.FetchWorkers,
		UserAgent:          file.UserAgent,
		ReqReferrer:        file.ReqReferrer,
		PreferredCountry:   strings.ToUpper(file.PreferredCountry),
		InsecureSkipVerify: file.InsecureSkipVerify,
		ObfuscateUrls:      file.ObfuscateUrls,
		LogLevel:           file.LogLevel,
	}

	if file.CacheEnabled != nil {
		cfg.CacheEnabled = *file.CacheEnabled
	}

	if file.CacheDuration != "" {
		d, err := time.ParseDuration(file.CacheDuration)
		if err != nil {
			return nil, fmt.Errorf("invalid cacheDuration %q: %w", file.CacheDuration, err)
		}
		cfg.CacheDuration = d
	}

	if file.FetchTimeout != "" {
		d, err := time.ParseDuration(file.FetchTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid fetchTimeout %q: %w", file.FetchTimeout, err)
		}
		cfg.FetchTimeout = d
	}

	return cfg, nil
}

func getDefaultConfig() *Config {
	return &Config{
		CacheEnabled:  true,
		ObfuscateUrls: true,
	}
}

// validateAndSetDefaults fills in safe defaults for any zero-valued setting
// and normalizes fields that have a canonical form.
func validateAndSetDefaults(cfg *Config) {
	if cfg.BaseURL != "" {
		if _, err := url.Parse(cfg.BaseURL); err != nil {
			logger.Warn("Invalid baseURL %q, ignoring: %v", cfg.BaseURL, err)
			cfg.BaseURL = ""
		}
		cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.ListenPort <= 0 || cfg.ListenPort > 65535 {
		cfg.ListenPort = 8080
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = "/settings/panel.db"
	}
	if cfg.HtpasswdPath == "" {
		cfg.HtpasswdPath = "/settings/.htpasswd"
	}
	if cfg.CacheDuration <= 0 {
		cfg.CacheDuration = time.Hour
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	if cfg.FetchWorkers <= 0 {
		cfg.FetchWorkers = 4
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	}
	if cfg.PreferredCountry != "" && len(cfg.PreferredCountry) != 2 {
		logger.Warn("Invalid preferredCountry %q, ignoring", cfg.PreferredCountry)
		cfg.PreferredCountry = ""
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "INFO"
	}
}
