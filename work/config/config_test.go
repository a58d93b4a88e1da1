package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfigFile(t, `{
		"baseURL": "https://iptv.example.com/",
		"listenPort": 9090,
		"cacheDuration": "30m",
		"fetchTimeout": "5s",
		"fetchWorkers": 8,
		"preferredCountry": "de",
		"logLevel": "DEBUG"
	}`)

	cfg, err := loadFromFile(path)
	if err != nil {
		t.Fatalf("loadFromFile: %v", err)
	}
	validateAndSetDefaults(cfg)

	if cfg.BaseURL != "https://iptv.example.com" {
		t.Errorf("BaseURL = %q, trailing slash should be trimmed", cfg.BaseURL)
	}
	if cfg.ListenPort != 9090 {
		t.Errorf("ListenPort = %d", cfg.ListenPort)
	}
	if cfg.CacheDuration != 30*time.Minute {
		t.Errorf("CacheDuration = %v", cfg.CacheDuration)
	}
	if cfg.FetchTimeout != 5*time.Second {
		t.Errorf("FetchTimeout = %v", cfg.FetchTimeout)
	}
	if cfg.PreferredCountry != "DE" {
		t.Errorf("PreferredCountry = %q, should be upper-cased", cfg.PreferredCountry)
	}
	if !cfg.CacheEnabled {
		t.Error("CacheEnabled should default to true when omitted")
	}
}

func TestLoadFromFileCacheDisabled(t *testing.T) {
	path := writeConfigFile(t, `{"cacheEnabled": false}`)

	cfg, err := loadFromFile(path)
	if err != nil {
		t.Fatalf("loadFromFile: %v", err)
	}
	if cfg.CacheEnabled {
		t.Error("explicit false should disable the cache")
	}
}

func TestLoadFromFileBadDuration(t *testing.T) {
	path := writeConfigFile(t, `{"cacheDuration": "soon"}`)
	if _, err := loadFromFile(path); err == nil {
		t.Error("unparsable duration should be an error")
	}
}

func TestValidateAndSetDefaults(t *testing.T) {
	cfg := &Config{}
	validateAndSetDefaults(cfg)

	if cfg.ListenPort != 8080 {
		t.Errorf("ListenPort = %d, want 8080", cfg.ListenPort)
	}
	if cfg.DatabasePath != "/settings/panel.db" {
		t.Errorf("DatabasePath = %q", cfg.DatabasePath)
	}
	if cfg.HtpasswdPath != "/settings/.htpasswd" {
		t.Errorf("HtpasswdPath = %q", cfg.HtpasswdPath)
	}
	if cfg.CacheDuration != time.Hour {
		t.Errorf("CacheDuration = %v, want 1h", cfg.CacheDuration)
	}
	if cfg.FetchTimeout != 10*time.Second {
		t.Errorf("FetchTimeout = %v, want 10s", cfg.FetchTimeout)
	}
	if cfg.FetchWorkers != 4 {
		t.Errorf("FetchWorkers = %d, want 4", cfg.FetchWorkers)
	}
	if cfg.UserAgent == "" {
		t.Error("UserAgent should default to a browser string")
	}
	if cfg.LogLevel != "INFO" {
		t.Errorf("LogLevel = %q, want INFO", cfg.LogLevel)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := &Config{
		ListenPort:       70000,
		PreferredCountry: "GBR",
	}
	validateAndSetDefaults(cfg)

	if cfg.ListenPort != 8080 {
		t.Errorf("out-of-range port should reset to 8080, got %d", cfg.ListenPort)
	}
	if cfg.PreferredCountry != "" {
		t.Errorf("non-two-letter country should be dropped, got %q", cfg.PreferredCountry)
	}
}

func TestLoadConfigCachesAndClears(t *testing.T) {
	path := writeConfigFile(t, `{"listenPort": 9191}`)
	t.Setenv("KPTV_PANEL_CONFIG", path)
	ClearConfigCache()
	t.Cleanup(ClearConfigCache)

	cfg := LoadConfig()
	if cfg.ListenPort != 9191 {
		t.Fatalf("ListenPort = %d, want 9191", cfg.ListenPort)
	}
	if again := LoadConfig(); again != cfg {
		t.Error("second load should return the cached instance")
	}

	if err := os.WriteFile(path, []byte(`{"listenPort": 9292}`), 0644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	ClearConfigCache()
	if reloaded := LoadConfig(); reloaded.ListenPort != 9292 {
		t.Errorf("ListenPort after reload = %d, want 9292", reloaded.ListenPort)
	}
}
