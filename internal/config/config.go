package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config models smartrust.yml.
type Config struct {
	Store        StoreConfig        `yaml:"store"`
	Server       ServerConfig       `yaml:"server"`
	Auth         AuthConfig         `yaml:"auth"`
	Generation   GenerationConfig   `yaml:"generation"`
	Quota        QuotaConfig        `yaml:"quota"`
	Board        BoardConfig        `yaml:"board"`
	Housekeeping HousekeepingConfig `yaml:"housekeeping"`
	Webhooks     []WebhookConfig    `yaml:"webhooks"`
}

type StoreConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type ServerConfig struct {
	Addr      string `yaml:"addr"`
	BasePath  string `yaml:"base_path"`
	PublicURL string `yaml:"public_url"`
}

type AuthConfig struct {
	OTPTTLSeconds         int  `yaml:"otp_ttl_seconds"`
	ResendCooldownSeconds int  `yaml:"resend_cooldown_seconds"`
	SessionTTLHours       int  `yaml:"session_ttl_hours"`
	AllowDevLogin         bool `yaml:"allow_dev_login"`
}

type GenerationConfig struct {
	BaseURL              string  `yaml:"base_url"`
	Model                string  `yaml:"model"`
	QuestionsTemperature float64 `yaml:"questions_temperature"`
	ContractTemperature  float64 `yaml:"contract_temperature"`
	MaxQuestions         int     `yaml:"max_questions"`
	TimeoutSeconds       int     `yaml:"timeout_seconds"`
}

type QuotaConfig struct {
	FreeGenerations int `yaml:"free_generations"`
}

type BoardConfig struct {
	ResyncOnFailure bool `yaml:"resync_on_failure"`
}

type HousekeepingConfig struct {
	Schedule         string `yaml:"schedule"`
	WizardTTLMinutes int    `yaml:"wizard_ttl_minutes"`
}

// WebhookConfig describes an outbound notification target.
type WebhookConfig struct {
	ID             string   `yaml:"id"`
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
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
			return nil, fmt.Errorf("config %s not found; create one with st config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOrDefault returns the defaults when the config file does not exist.
func LoadOrDefault(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Store.Driver) {
	case "", "sqlite":
	case "postgres", "pgx":
		if strings.TrimSpace(c.Store.DSN) == "" {
			return fmt.Errorf("config.store.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("config.store.driver must be sqlite or postgres, got %q", c.Store.Driver)
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if c.Server.PublicURL != "" {
		if _, err := url.ParseRequestURI(c.Server.PublicURL); err != nil {
			return fmt.Errorf("config.server.public_url: %w", err)
		}
	}
	if c.Auth.OTPTTLSeconds <= 0 {
		return fmt.Errorf("config.auth.otp_ttl_seconds must be positive")
	}
	if c.Auth.ResendCooldownSeconds < 0 {
		return fmt.Errorf("config.auth.resend_cooldown_seconds must not be negative")
	}
	if c.Auth.SessionTTLHours <= 0 {
		return fmt.Errorf("config.auth.session_ttl_hours must be positive")
	}
	if c.Generation.Model == "" {
		return fmt.Errorf("config.generation.model is required")
	}
	if c.Generation.MaxQuestions <= 0 {
		return fmt.Errorf("config.generation.max_questions must be positive")
	}
	for name, temp := range map[string]float64{
		"questions_temperature": c.Generation.QuestionsTemperature,
		"contract_temperature":  c.Generation.ContractTemperature,
	} {
		if temp < 0 || temp > 2 {
			return fmt.Errorf("config.generation.%s must be between 0 and 2", name)
		}
	}
	if c.Quota.FreeGenerations < 0 {
		return fmt.Errorf("config.quota.free_generations must not be negative")
	}
	if c.Housekeeping.Schedule != "" {
		if _, err := cron.ParseStandard(c.Housekeeping.Schedule); err != nil {
			return fmt.Errorf("config.housekeeping.schedule: %w", err)
		}
	}
	seen := map[string]bool{}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if _, err := url.ParseRequestURI(hook.URL); err != nil {
			return fmt.Errorf("config.webhooks[%d].url: %w", i, err)
		}
		id := hook.ID
		if id == "" {
			id = hook.URL
		}
		if seen[id] {
			return fmt.Errorf("config.webhooks[%d] duplicates %s", i, id)
		}
		seen[id] = true
		for _, evt := range hook.Events {
			if evt == "" {
				return fmt.Errorf("config.webhooks[%d] has empty event type", i)
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
	return filepath.Join(workspace, "smartrust.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys missing from
// the document keep their default values.
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

const defaultTemplate = `store:
  driver: sqlite
  dsn: ""

server:
  addr: "127.0.0.1:8080"
  base_path: /v1
  public_url: "http://localhost:8080"

auth:
  otp_ttl_seconds: 600
  resend_cooldown_seconds: 60
  session_ttl_hours: 168
  allow_dev_login: false

generation:
  base_url: "https://api.openai.com/v1"
  model: gpt-3.5-turbo
  questions_temperature: 0.7
  contract_temperature: 0.2
  max_questions: 6
  timeout_seconds: 60

quota:
  free_generations: 3

board:
  resync_on_failure: true

housekeeping:
  schedule: "*/15 * * * *"
  wizard_ttl_minutes: 1440

webhooks: []
`
