package config

import (
	"os"
	"path/filepath"

	"github.com/parley-cli/parley/errors"
	"gopkg.in/yaml.v3"
)

type FilesystemAccess struct {
	Hidden   []string `yaml:"hidden"`
	ReadOnly []string `yaml:"read_only"`
}

type MCPServer struct {
	Name    string   `yaml:"name"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

type Toolset struct {
	Name  string   `yaml:"name"`
	Tools []string `yaml:"tools"`
}

type Retry struct {
	Enabled    bool `yaml:"enabled"`
	MaxRetries int  `yaml:"max_retries"`
}

type Config struct {
	Provider             string           `yaml:"provider"`
	Model                string           `yaml:"model"`
	APIKey               string           `yaml:"api_key"`
	BaseURL              string           `yaml:"base_url"`
	MaxTokens            int              `yaml:"max_tokens"`
	MaxSteps             int              `yaml:"max_steps"`
	Retry                Retry            `yaml:"retry"`
	SystemPrompt         string           `yaml:"system_prompt"`
	SkillsDir            string           `yaml:"skills_dir"`
	LogDir               string           `yaml:"log_dir"`
	Toolsets             []Toolset        `yaml:"toolsets"`
	AdditionalMCPServers []MCPServer      `yaml:"additional_mcp_servers"`
	AllowedCommands      []string         `yaml:"allowed_commands"`
	FilesystemAccess     FilesystemAccess `yaml:"filesystem_access"`
}

// LoadConfig loads configuration from the user's home directory and the
// current working directory, with the latter taking precedence.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Retry: Retry{Enabled: true, MaxRetries: 2},
	}

	// Keep the state directory out of the model's reach.
	cfg.FilesystemAccess.Hidden = append(cfg.FilesystemAccess.Hidden, ".parley", ".parley/**")

	home, err := os.UserHomeDir()
	if err == nil {
		userConfigPath := filepath.Join(home, ".parley", "config.yaml")
		if _, err := os.Stat(userConfigPath); err == nil {
			if err := loadFromFile(userConfigPath, cfg); err != nil {
				return nil, errors.Wrap(err, "error loading user config")
			}
		}
	}

	wd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrap(err, "could not get working directory")
	}
	projectConfigPath := filepath.Join(wd, ".parley", "config.yaml")
	if _, err := os.Stat(projectConfigPath); err == nil {
		if err := loadFromFile(projectConfigPath, cfg); err != nil {
			return nil, errors.Wrap(err, "error loading project config")
		}
	}

	cfg.applyDefaults()
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	// Unmarshal overwrites fields present in the YAML, which gives a simple
	// merge where project-level values replace user-level ones.
	return yaml.Unmarshal(data, cfg)
}

func (c *Config) applyDefaults() {
	if c.Provider == "" {
		c.Provider = "anthropic"
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 4096
	}
	if c.MaxSteps <= 0 {
		c.MaxSteps = 20
	}
	if c.SkillsDir == "" {
		c.SkillsDir = "skills"
	}
	if c.LogDir == "" {
		c.LogDir = filepath.Join(".parley", "logs")
	}
	if len(c.Toolsets) == 0 {
		c.Toolsets = []Toolset{{
			Name:  "default",
			Tools: []string{"read_file", "write_file", "list_dir", "execute_command"},
		}}
	}
}

// GetToolset finds a toolset by name. Returns the "default" toolset if the
// named one is not found or if an empty name is provided.
func (c *Config) GetToolset(name string) (*Toolset, error) {
	if name == "" {
		name = "default"
	}
	for _, ts := range c.Toolsets {
		if ts.Name == name {
			return &ts, nil
		}
	}
	if name == "default" {
		return nil, errors.New("mandatory 'default' toolset not found in configuration")
	}
	return c.GetToolset("default")
}
