// Package config handles Reeve configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/reeve/config.yaml, /etc/reeve/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "reeve", "config.yaml"))
	}

	paths = append(paths, "/etc/reeve/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Reeve configuration.
type Config struct {
	Listen        ListenConfig        `yaml:"listen"`
	Anthropic     AnthropicConfig     `yaml:"anthropic"`
	Location      LocationConfig      `yaml:"location"`
	Prometheus    PrometheusConfig    `yaml:"prometheus"`
	AdGuard       AdGuardConfig       `yaml:"adguard"`
	UniFi         UniFiConfig         `yaml:"unifi"`
	HomeAssistant HomeAssistantConfig `yaml:"homeassistant"`
	Bambu         BambuConfig         `yaml:"bambu"`
	Search        SearchConfig        `yaml:"search"`
	CalDAV        DAVConfig           `yaml:"caldav"`
	CardDAV       DAVConfig           `yaml:"carddav"`
	IMAP          IMAPConfig          `yaml:"imap"`
	DataDir       string              `yaml:"data_dir"`
	LogLevel      string              `yaml:"log_level"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// AnthropicConfig defines Anthropic API settings.
type AnthropicConfig struct {
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
}

// LocationConfig defines the default home location for the time and
// weather capabilities.
type LocationConfig struct {
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
	Timezone  string  `yaml:"timezone"`
}

// PrometheusConfig defines the Prometheus query endpoint.
type PrometheusConfig struct {
	URL string `yaml:"url"`
}

// AdGuardConfig defines the AdGuard Home connection.
type AdGuardConfig struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// UniFiConfig defines the UniFi Network controller connection.
type UniFiConfig struct {
	Host     string `yaml:"host"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Site     string `yaml:"site"` // default: "default"
}

// HomeAssistantConfig defines HA connection settings.
type HomeAssistantConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

// BambuConfig defines the Bambu Lab printer's local MQTT endpoint.
// The printer exposes an MQTTS broker on port 8883 authenticated with
// the LAN access code.
type BambuConfig struct {
	Host       string `yaml:"host"`
	Serial     string `yaml:"serial"`
	AccessCode string `yaml:"access_code"`
}

// SearchConfig defines the SearXNG instance used for web research.
type SearchConfig struct {
	SearXNGURL string `yaml:"searxng_url"`
}

// DAVConfig defines a CalDAV or CardDAV endpoint.
type DAVConfig struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// IMAPConfig defines the mail account for the email capability.
type IMAPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	TLS      bool   `yaml:"tls"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: 8080},
		Anthropic: AnthropicConfig{
			Model:     "claude-sonnet-4-20250514",
			MaxTokens: 4096,
		},
		Location: LocationConfig{Timezone: "UTC"},
		UniFi:    UniFiConfig{Site: "default"},
		IMAP:     IMAPConfig{Port: 993, TLS: true},
		DataDir:  "data",
	}
}
