package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models taskline.yml.
type Config struct {
	Project struct {
		CodePrefix string `yaml:"code_prefix"`
	} `yaml:"project"`
	Catalogs struct {
		DeliveryTypes []string `yaml:"delivery_types"`
		PlatformTypes []string `yaml:"platform_types"`
		Complexities  []string `yaml:"complexities"`
		SampleVolumes []string `yaml:"sample_volumes"`
	} `yaml:"catalogs"`
	Dates struct {
		TargetOffsetDays int `yaml:"target_offset_days"`
	} `yaml:"dates"`
	Notify struct {
		WebhookURL string `yaml:"webhook_url"`
	} `yaml:"notify"`
	Storage struct {
		UploadsDir string `yaml:"uploads_dir"`
	} `yaml:"storage"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Project.CodePrefix == "" {
		return fmt.Errorf("config.project.code_prefix is required")
	}
	if len(c.Catalogs.DeliveryTypes) == 0 {
		return fmt.Errorf("config.catalogs.delivery_types is required")
	}
	if len(c.Catalogs.PlatformTypes) == 0 {
		return fmt.Errorf("config.catalogs.platform_types is required")
	}
	if len(c.Catalogs.Complexities) == 0 {
		return fmt.Errorf("config.catalogs.complexities is required")
	}
	if len(c.Catalogs.SampleVolumes) == 0 {
		return fmt.Errorf("config.catalogs.sample_volumes is required")
	}
	if c.Dates.TargetOffsetDays <= 0 {
		return fmt.Errorf("config.dates.target_offset_days must be positive")
	}
	for _, set := range [][]string{
		c.Catalogs.DeliveryTypes, c.Catalogs.PlatformTypes,
		c.Catalogs.Complexities, c.Catalogs.SampleVolumes,
	} {
		for _, v := range set {
			if v == "" {
				return fmt.Errorf("config.catalogs contains an empty value")
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
	return filepath.Join(workspace, "taskline.yml")
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
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

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `project:
  code_prefix: RD

catalogs:
  delivery_types: [API, DaaS, Both]
  platform_types: [Web, App, Both]
  complexities: [Easy, Medium, Hard]
  sample_volumes: ["100", "500", "1000", "5000"]

dates:
  target_offset_days: 2

notify:
  webhook_url: ""

storage:
  uploads_dir: storage
`
