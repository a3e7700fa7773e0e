// Package config provides YAML-based configuration loading for demandgen.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultEntityTypes is the closed set of generatable entity types, used
// when the config file does not list its own.
var DefaultEntityTypes = []EntityTypeConfig{
	{Name: "challenge", Label: "Challenge"},
	{Name: "pilot", Label: "Pilot"},
	{Name: "program", Label: "Program"},
	{Name: "campaign", Label: "Campaign"},
	{Name: "event", Label: "Event"},
	{Name: "policy", Label: "Policy"},
	{Name: "partnership", Label: "Partnership"},
	{Name: "rd_call", Label: "R&D Call"},
	{Name: "living_lab", Label: "Living Lab"},
}

// Config is the top-level demandgen configuration, loaded from demandgen.yaml.
type Config struct {
	DB            DBConfig           `yaml:"db"`
	EntityTypes   []EntityTypeConfig `yaml:"entity_types"`
	Batch         BatchConfig        `yaml:"batch"`
	Collaborators CollabConfig       `yaml:"collaborators"`
	Notify        NotifyConfig       `yaml:"notify"`
	Watch         WatchConfig        `yaml:"watch"`
}

// DBConfig holds connection settings for the SQL server.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
}

// EntityTypeConfig defines one generatable entity type. Weight biases
// queue priority for gaps of this type.
type EntityTypeConfig struct {
	Name   string `yaml:"name"`
	Label  string `yaml:"label"`
	Weight int    `yaml:"weight"`
}

// BatchConfig holds default batch-run parameters.
type BatchConfig struct {
	Size          int  `yaml:"size"`
	PacingMS      int  `yaml:"pacing_ms"`
	AutoApprove   bool `yaml:"auto_approve"`
	MinQuality    int  `yaml:"min_quality"`
	CallTimeoutMS int  `yaml:"call_timeout_ms"` // 0 disables the per-call timeout
}

// CollabConfig maps entity types to generator endpoints and names the
// quality assessor endpoint.
type CollabConfig struct {
	AssessorURL   string            `yaml:"assessor_url"`
	GeneratorURLs map[string]string `yaml:"generator_urls"`
}

// NotifyConfig holds chat notification credentials. Empty tokens disable
// the corresponding sink.
type NotifyConfig struct {
	SlackBotToken   string `yaml:"slack_bot_token"`
	SlackChannel    string `yaml:"slack_channel"`
	DiscordBotToken string `yaml:"discord_bot_token"`
	DiscordChannel  string `yaml:"discord_channel"`
}

// WatchConfig controls the advisory watch daemon.
type WatchConfig struct {
	Schedule        string `yaml:"schedule"` // 5-field cron expression
	StuckWindowMins int    `yaml:"stuck_window_mins"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// EntityTypeNames returns the configured entity type names in order.
func (c *Config) EntityTypeNames() []string {
	names := make([]string, 0, len(c.EntityTypes))
	for _, et := range c.EntityTypes {
		names = append(names, et.Name)
	}
	return names
}

// Weight returns the configured priority weight for an entity type,
// defaulting to 1 for unknown types.
func (c *Config) Weight(entityType string) int {
	for _, et := range c.EntityTypes {
		if et.Name == entityType {
			return et.Weight
		}
	}
	return 1
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.DB.Host == "" {
		c.DB.Host = "127.0.0.1"
	}
	if c.DB.Port == 0 {
		c.DB.Port = 3306
	}
	if c.DB.Database == "" {
		c.DB.Database = "demandgen"
	}
	if len(c.EntityTypes) == 0 {
		c.EntityTypes = append([]EntityTypeConfig(nil), DefaultEntityTypes...)
	}
	for i := range c.EntityTypes {
		if c.EntityTypes[i].Weight == 0 {
			c.EntityTypes[i].Weight = 1
		}
		if c.EntityTypes[i].Label == "" {
			c.EntityTypes[i].Label = c.EntityTypes[i].Name
		}
	}
	if c.Batch.Size == 0 {
		c.Batch.Size = 10
	}
	if c.Batch.PacingMS == 0 {
		c.Batch.PacingMS = 2000
	}
	if c.Batch.MinQuality == 0 {
		c.Batch.MinQuality = 70
	}
	if c.Watch.Schedule == "" {
		c.Watch.Schedule = "0 8 * * *"
	}
	if c.Watch.StuckWindowMins == 0 {
		c.Watch.StuckWindowMins = 60
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	seen := map[string]bool{}
	for i, et := range c.EntityTypes {
		if et.Name == "" {
			errs = append(errs, fmt.Sprintf("entity_types[%d].name is required", i))
			continue
		}
		if seen[et.Name] {
			errs = append(errs, fmt.Sprintf("entity_types[%d].name %q is duplicated", i, et.Name))
		}
		seen[et.Name] = true
		if et.Weight < 1 {
			errs = append(errs, fmt.Sprintf("entity_types[%d].weight must be >= 1", i))
		}
	}
	if c.Batch.MinQuality < 50 || c.Batch.MinQuality > 95 {
		errs = append(errs, "batch.min_quality must be between 50 and 95")
	}
	if c.Batch.Size < 1 {
		errs = append(errs, "batch.size must be >= 1")
	}
	for et := range c.Collaborators.GeneratorURLs {
		if !seen[et] {
			errs = append(errs, fmt.Sprintf("collaborators.generator_urls names unknown entity type %q", et))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
