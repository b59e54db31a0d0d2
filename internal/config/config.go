package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models fixline.yml.
type Config struct {
	Service struct {
		ID string `yaml:"id"`
	} `yaml:"service"`
	Trades struct {
		Catalog map[string]struct {
			Description string `yaml:"description"`
		} `yaml:"catalog"`
	} `yaml:"trades"`
	Auth struct {
		AllowLegacyActorHeader bool `yaml:"allow_legacy_actor_header"`
	} `yaml:"auth"`
	Matching struct {
		MaxCandidates int `yaml:"max_candidates"`
	} `yaml:"matching"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig describes one downstream consumer of the event stream
// (calendar sync, payment capture, notifications).
type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Secret         string   `yaml:"secret" json:"secret,omitempty"`
	Events         []string `yaml:"events" json:"events,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds" json:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled" json:"enabled,omitempty"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Service.ID == "" {
		return fmt.Errorf("config.service.id is required")
	}
	if len(c.Trades.Catalog) == 0 {
		return fmt.Errorf("config.trades.catalog is required")
	}
	for trade := range c.Trades.Catalog {
		if trade == "" {
			return fmt.Errorf("config.trades.catalog contains empty trade id")
		}
	}
	if c.Matching.MaxCandidates < 0 {
		return fmt.Errorf("config.matching.max_candidates must be >= 0")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("webhook %d missing url", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("webhook %d timeout_seconds must be >= 0", i)
		}
	}
	return nil
}

// KnownTrade reports whether the catalog lists the trade.
func (c *Config) KnownTrade(trade string) bool {
	_, ok := c.Trades.Catalog[trade]
	return ok
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "fixline.yml")
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `service:
  id: fixline

trades:
  catalog:
    plumbing:
      description: "Pipes, fixtures, water heaters"
    electrical:
      description: "Wiring, panels, lighting"
    hvac:
      description: "Heating, ventilation, air conditioning"
    carpentry:
      description: "Framing, trim, built-ins"
    painting:
      description: "Interior and exterior painting"
    roofing:
      description: "Roof repair and replacement"
    landscaping:
      description: "Yards, gardens, irrigation"
    general:
      description: "General handywork"

auth:
  allow_legacy_actor_header: true

matching:
  max_candidates: 10

webhooks: []
`
