package config

import (
	"encoding/json"
	"log"
	"os"
)

// ProfilePolicy controls whether pipelines for different orders share one
// browser profile (and therefore one logged-in identity) or each get their own.
type ProfilePolicy string

const (
	ProfileShared   ProfilePolicy = "shared"
	ProfileIsolated ProfilePolicy = "isolated"
)

type Config struct {
	App       AppConfig                 `json:"app"`
	Server    ServerConfig              `json:"server"`
	Browser   BrowserConfig             `json:"browser"`
	Gateways  map[string]GatewayConfig  `json:"gateways"`
	Providers map[string]ProviderConfig `json:"providers"`
	Selectors SelectorsConfig           `json:"selectors"`
}

type AppConfig struct {
	Name string `json:"name"`
}

type ServerConfig struct {
	Addr string `json:"addr"`
}

type BrowserConfig struct {
	ProfileDir        string        `json:"profile_dir"`
	Headless          bool          `json:"headless"`
	BaseURL           string        `json:"base_url"`
	UserAgent         string        `json:"user_agent"`
	ProfilePolicy     ProfilePolicy `json:"profile_policy"`
	EphemeralFallback bool          `json:"ephemeral_fallback"`
}

type GatewayConfig struct {
	Token   string `json:"token"`
	ChatID  string `json:"chat_id"`
	Enabled bool   `json:"enabled"`
}

type ProviderConfig struct {
	APIKey  string `json:"api_key"`
	Model   string `json:"model"`
	BaseURL string `json:"base_url,omitempty"`
	Enabled bool   `json:"enabled"`
}

type SelectorsConfig struct {
	// Path to an optional YAML file overriding built-in locator candidates.
	Path string `json:"path"`
}

func LoadConfig(path string) *Config {
	file, err := os.Open(path)
	if err != nil {
		log.Fatalf("failed to open config file: %v", err)
	}
	defer file.Close()

	var cfg Config
	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&cfg); err != nil {
		log.Fatalf("failed to decode config file: %v", err)
	}

	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":5000"
	}
	if c.Browser.ProfileDir == "" {
		c.Browser.ProfileDir = "./chrome-profile"
	}
	if c.Browser.BaseURL == "" {
		c.Browser.BaseURL = "https://blinkit.com"
	}
	if c.Browser.ProfilePolicy == "" {
		c.Browser.ProfilePolicy = ProfileShared
	}
	if c.Browser.UserAgent == "" {
		c.Browser.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	}
}

// GetDefaultProvider returns the first enabled provider
func (c *Config) GetDefaultProvider() (string, ProviderConfig) {
	for name, p := range c.Providers {
		if p.Enabled {
			return name, p
		}
	}
	return "", ProviderConfig{}
}

// GetTelegramConfig returns telegram config if enabled
func (c *Config) GetTelegramConfig() (GatewayConfig, bool) {
	tg, ok := c.Gateways["telegram"]
	if ok && tg.Enabled && tg.Token != "" {
		return tg, true
	}
	return GatewayConfig{}, false
}

// GetDiscordConfig returns discord config if enabled
func (c *Config) GetDiscordConfig() (GatewayConfig, bool) {
	dc, ok := c.Gateways["discord"]
	if ok && dc.Enabled && dc.Token != "" {
		return dc, true
	}
	return GatewayConfig{}, false
}
