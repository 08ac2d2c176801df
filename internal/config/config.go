package config

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

// RejectPolicy names what activity a rejected submission returns to.
type RejectPolicy string

const (
	// RejectToActive resets a rejected task to plain active, dropping any
	// urgency it had before submission.
	RejectToActive RejectPolicy = "active"
	// RejectPreserve returns a rejected task to the activity it held when
	// it was submitted.
	RejectPreserve RejectPolicy = "preserve"
)

// Config models taskmint.yml.
type Config struct {
	Project struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"project"`
	Tokens struct {
		DefaultPool  int `yaml:"default_pool"`
		RejectedPool int `yaml:"rejected_pool"`
	} `yaml:"tokens"`
	Lifecycle struct {
		OnReject RejectPolicy `yaml:"on_reject"`
	} `yaml:"lifecycle"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Project.ID == "" {
		return fmt.Errorf("config.project.id is required")
	}
	if c.Tokens.DefaultPool < 0 {
		return fmt.Errorf("config.tokens.default_pool must be non-negative")
	}
	if c.Tokens.RejectedPool < 0 {
		return fmt.Errorf("config.tokens.rejected_pool must be non-negative")
	}
	if c.Tokens.RejectedPool > c.Tokens.DefaultPool {
		return fmt.Errorf("config.tokens.rejected_pool must not exceed default_pool")
	}
	switch c.Lifecycle.OnReject {
	case "":
		c.Lifecycle.OnReject = RejectToActive
	case RejectToActive, RejectPreserve:
	default:
		return fmt.Errorf("config.lifecycle.on_reject must be %q or %q", RejectToActive, RejectPreserve)
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// GenerateDefault returns default config YAML.
func GenerateDefault(projectID string) string {
	return fmt.Sprintf(defaultTemplate, projectID, projectID)
}

// Default returns the default Config struct for a project.
func Default(projectID string) *Config {
	var cfg Config
	cfg.Project.ID = projectID
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(projectID))).Decode(&cfg)
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

const defaultTemplate = `project:
  id: %s
  name: %s

tokens:
  default_pool: 250
  rejected_pool: 80

lifecycle:
  # What a rejected submission returns to: "active" resets the task to
  # active-assigned; "preserve" keeps the pre-submission activity (so an
  # urgent task stays urgent).
  on_reject: active
`
