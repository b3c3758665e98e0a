package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models phaseline.yml.
type Config struct {
	Lifecycle struct {
		RequireApprovalForGovern bool `yaml:"require_approval_for_govern"`
	} `yaml:"lifecycle"`
	Design struct {
		EnforceTaxonomyTotal bool `yaml:"enforce_taxonomy_total"`
	} `yaml:"design"`
	Generation struct {
		MinQuestions int `yaml:"min_questions"`
	} `yaml:"generation"`
	Audit struct {
		DefaultLimit int `yaml:"default_limit"`
		MaxLimit     int `yaml:"max_limit"`
	} `yaml:"audit"`
	Server  ServerConfig    `yaml:"server"`
	Logging LoggingConfig   `yaml:"logging"`
	Cache   CacheConfig     `yaml:"cache"`
	Hooks   []WebhookConfig `yaml:"webhooks"`
}

type ServerConfig struct {
	Addr                   string `yaml:"addr"`
	BasePath               string `yaml:"base_path"`
	AllowLegacyActorHeader bool   `yaml:"allow_legacy_actor_header"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// CacheConfig enables the Redis project read cache when Addr is set.
type CacheConfig struct {
	Addr     string `yaml:"addr"`
	DB       int    `yaml:"db"`
	Password string `yaml:"password"`
	TTL      string `yaml:"ttl"`
}

// TTLDuration returns the parsed TTL, defaulting to one minute.
func (c CacheConfig) TTLDuration() time.Duration {
	d, err := time.ParseDuration(c.TTL)
	if err != nil || d <= 0 {
		return time.Minute
	}
	return d
}

type WebhookConfig struct {
	ID             string   `yaml:"id"`
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

func (w WebhookConfig) IsEnabled() bool {
	return w.Enabled == nil || *w.Enabled
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with pl config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Generation.MinQuestions < 0 {
		return fmt.Errorf("config.generation.min_questions must not be negative")
	}
	if c.Audit.DefaultLimit <= 0 {
		return fmt.Errorf("config.audit.default_limit must be positive")
	}
	if c.Audit.MaxLimit < c.Audit.DefaultLimit {
		return fmt.Errorf("config.audit.max_limit must be at least default_limit")
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config.logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("config.logging.format must be json or console")
	}
	if c.Cache.TTL != "" {
		if _, err := time.ParseDuration(c.Cache.TTL); err != nil {
			return fmt.Errorf("config.cache.ttl: %w", err)
		}
	}
	seen := map[string]bool{}
	for i, h := range c.Hooks {
		if h.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		u, err := url.Parse(h.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("config.webhooks[%d].url must be an http(s) url", i)
		}
		if h.ID != "" {
			if seen[h.ID] {
				return fmt.Errorf("duplicate webhook id %s", h.ID)
			}
			seen[h.ID] = true
		}
		if h.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
		for _, evt := range h.Events {
			if _, err := path.Match(evt, ""); err != nil {
				return fmt.Errorf("config.webhooks[%d].events: bad pattern %q", i, evt)
			}
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "phaseline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Omitted
// sections keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `lifecycle:
  # completing govern requires every approval stage to be approved
  require_approval_for_govern: false

design:
  # reject course designs whose taxonomy distribution does not total 100
  enforce_taxonomy_total: false

generation:
  min_questions: 3

audit:
  default_limit: 50
  max_limit: 200

server:
  addr: 127.0.0.1:8080
  base_path: /v0
  allow_legacy_actor_header: false

logging:
  level: info
  format: json

cache:
  addr: ""
  ttl: 1m

webhooks: []
`
