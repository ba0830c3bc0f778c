package config

import (
	"bytes"
	"fmt"
	"net/mail"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models chronicle.yml.
type Config struct {
	Project struct {
		ID   string `yaml:"id"`
		Kind string `yaml:"kind"`
	} `yaml:"project"`
	Ledger struct {
		DefaultCycle string `yaml:"default_cycle"`
	} `yaml:"ledger"`
	Guardrails struct {
		AutoSend        bool     `yaml:"auto_send"`
		AllowedDomains  []string `yaml:"allowed_domains"`
		QuietHoursStart int      `yaml:"quiet_hours_start"`
		QuietHoursEnd   int      `yaml:"quiet_hours_end"`
	} `yaml:"guardrails"`
	Notifications struct {
		Targets []NotificationTarget `yaml:"targets"`
	} `yaml:"notifications"`
	Webhooks []Webhook `yaml:"webhooks"`
	Queue    struct {
		PollInterval string `yaml:"poll_interval"`
		MaxAttempts  int    `yaml:"max_attempts"`
	} `yaml:"queue"`
}

// NotificationTarget is one destination for operational notifications.
type NotificationTarget struct {
	Kind    string `yaml:"kind"`
	Address string `yaml:"address"`
}

// Webhook is an outbound journal subscription.
type Webhook struct {
	URL    string   `yaml:"url"`
	Secret string   `yaml:"secret"`
	Types  []string `yaml:"types"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	cfg, err := FromFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("config %s not found; create with chr project init", path)
	}
	return cfg, err
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	cfg, err := FromFile(Path(workspace))
	if os.IsNotExist(err) {
		return nil, nil
	}
	return cfg, err
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Project.ID == "" {
		return fmt.Errorf("config.project.id is required")
	}
	if c.Project.Kind != "chronicle-project" {
		return fmt.Errorf("config.project.kind must be 'chronicle-project'")
	}
	switch c.Ledger.DefaultCycle {
	case "", "daily", "seasonal", "epochal":
	default:
		return fmt.Errorf("config.ledger.default_cycle must be daily, seasonal or epochal")
	}
	if c.Guardrails.QuietHoursStart < 0 || c.Guardrails.QuietHoursStart > 23 {
		return fmt.Errorf("config.guardrails.quiet_hours_start must be 0-23")
	}
	if c.Guardrails.QuietHoursEnd < 0 || c.Guardrails.QuietHoursEnd > 23 {
		return fmt.Errorf("config.guardrails.quiet_hours_end must be 0-23")
	}
	for i, t := range c.Notifications.Targets {
		switch t.Kind {
		case "email":
			if _, err := mail.ParseAddress(t.Address); err != nil {
				return fmt.Errorf("notification target %d has invalid email %q", i, t.Address)
			}
		case "channel":
			if t.Address == "" {
				return fmt.Errorf("notification target %d has empty channel", i)
			}
		default:
			return fmt.Errorf("notification target %d has unknown kind %q", i, t.Kind)
		}
	}
	for i, w := range c.Webhooks {
		if w.URL == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
	}
	if c.Queue.MaxAttempts < 0 {
		return fmt.Errorf("config.queue.max_attempts must be >= 0")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "chronicle.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(projectID string) string {
	return fmt.Sprintf(defaultTemplate, projectID)
}

// Default returns the default Config struct for a project.
func Default(projectID string) *Config {
	var cfg Config
	cfg.Project.ID = projectID
	cfg.Project.Kind = "chronicle-project"
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, projectID))).Decode(&cfg)
	return &cfg
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

const defaultTemplate = `project:
  id: %s
  kind: chronicle-project

ledger:
  default_cycle: daily

guardrails:
  auto_send: false
  allowed_domains: []
  quiet_hours_start: 0
  quiet_hours_end: 0

notifications:
  targets: []

webhooks: []

queue:
  poll_interval: 2s
  max_attempts: 5
`
