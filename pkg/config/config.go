// Package config loads the YAML configuration with environment variable
// expansion and .env support. Every section delegates defaults to the
// owning package's config struct.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kadirpekel/conductor/pkg/docstore"
	"github.com/kadirpekel/conductor/pkg/embedders"
	"github.com/kadirpekel/conductor/pkg/kv"
	"github.com/kadirpekel/conductor/pkg/llms"
	"github.com/kadirpekel/conductor/pkg/memory"
	"github.com/kadirpekel/conductor/pkg/observability"
	"github.com/kadirpekel/conductor/pkg/orchestrator"
	"github.com/kadirpekel/conductor/pkg/server"
	"github.com/kadirpekel/conductor/pkg/vector"
)

// LoggingConfig controls the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
	File   string `yaml:"file,omitempty"`
}

func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "simple"
	}
}

// LLMConfig names the two model tiers. Fast falls back to the primary
// model settings when unset.
type LLMConfig struct {
	Primary llms.OpenAIConfig `yaml:"primary,omitempty"`
	Fast    llms.OpenAIConfig `yaml:"fast,omitempty"`
}

func (c *LLMConfig) SetDefaults() {
	c.Primary.SetDefaults()
	if c.Fast.Model == "" {
		c.Fast.Model = c.Primary.Model
	}
	if c.Fast.APIKey == "" {
		c.Fast.APIKey = c.Primary.APIKey
	}
	if c.Fast.BaseURL == "" {
		c.Fast.BaseURL = c.Primary.BaseURL
	}
	c.Fast.SetDefaults()
}

// EmbedderConfig selects the embedding backend. Type "mock" gives the
// deterministic embedder for offline runs.
type EmbedderConfig struct {
	Type   string                 `yaml:"type,omitempty"`
	OpenAI embedders.OpenAIConfig `yaml:"openai,omitempty"`
}

func (c *EmbedderConfig) SetDefaults() {
	if c.Type == "" {
		if c.OpenAI.APIKey != "" || os.Getenv("OPENAI_API_KEY") != "" {
			c.Type = "openai"
		} else {
			c.Type = "mock"
		}
	}
	c.OpenAI.SetDefaults()
}

// StorageConfig selects the persistence backends. Disabled backends fall
// back to in-memory implementations so a bare `conductor serve` works.
type StorageConfig struct {
	Redis struct {
		Enabled bool `yaml:"enabled,omitempty"`
		kv.RedisConfig `yaml:",inline"`
	} `yaml:"redis,omitempty"`

	Mongo struct {
		Enabled bool `yaml:"enabled,omitempty"`
		docstore.MongoConfig `yaml:",inline"`
	} `yaml:"mongo,omitempty"`
}

// ToolsConfig tunes the built-in tool servers.
type ToolsConfig struct {
	Command CommandToolConfig `yaml:"command,omitempty"`
	Web     WebToolConfig     `yaml:"web,omitempty"`
	Search  SearchToolConfig  `yaml:"search,omitempty"`
}

// CommandToolConfig mirrors tools.CommandConfig for YAML loading.
type CommandToolConfig struct {
	WorkingDirectory string `yaml:"working_directory,omitempty"`
	MaxExecutionSecs int    `yaml:"max_execution_seconds,omitempty"`
	MaxOutputBytes   int    `yaml:"max_output_bytes,omitempty"`
}

type WebToolConfig struct {
	TimeoutSecs     int    `yaml:"timeout_seconds,omitempty"`
	MaxContentChars int    `yaml:"max_content_chars,omitempty"`
	UserAgent       string `yaml:"user_agent,omitempty"`
}

type SearchToolConfig struct {
	BaseURL     string `yaml:"base_url,omitempty"`
	TimeoutSecs int    `yaml:"timeout_seconds,omitempty"`
	MaxResults  int    `yaml:"max_results,omitempty"`
}

// Config is the root configuration document.
type Config struct {
	Logging       LoggingConfig       `yaml:"logging,omitempty"`
	Server        server.Config       `yaml:"server,omitempty"`
	LLM           LLMConfig           `yaml:"llm,omitempty"`
	Embedder      EmbedderConfig      `yaml:"embedder,omitempty"`
	Storage       StorageConfig       `yaml:"storage,omitempty"`
	Vector        vector.Config       `yaml:"vector,omitempty"`
	Tools         ToolsConfig         `yaml:"tools,omitempty"`
	Memory        memory.Config       `yaml:"memory,omitempty"`
	Orchestrator  orchestrator.Config `yaml:"orchestrator,omitempty"`
	Observability observability.Config `yaml:"observability,omitempty"`
}

func (c *Config) SetDefaults() {
	c.Logging.SetDefaults()
	c.Server.SetDefaults()
	c.LLM.SetDefaults()
	c.Embedder.SetDefaults()
	c.Memory.SetDefaults()
	c.Orchestrator.SetDefaults()
	c.Observability.SetDefaults()
	if c.Vector.Type == "" {
		c.Vector.Type = "chromem"
	}
}

// Validate rejects configurations that cannot work at runtime.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch c.Embedder.Type {
	case "mock", "openai":
	default:
		return fmt.Errorf("embedder.type %q is not supported (mock, openai)", c.Embedder.Type)
	}
	switch c.Vector.Type {
	case "chromem", "qdrant":
	default:
		return fmt.Errorf("vector.type %q is not supported (chromem, qdrant)", c.Vector.Type)
	}
	if c.Embedder.Type == "openai" && c.Embedder.OpenAI.APIKey == "" && os.Getenv("OPENAI_API_KEY") == "" {
		return fmt.Errorf("embedder.openai.api_key is required for the openai embedder")
	}
	return nil
}

// Load reads, expands and validates a configuration file. An empty path
// yields the zero-config defaults. A .env file beside the process is
// loaded first so ${VAR} expansion sees it.
func Load(path string) (*Config, error) {
	// Missing .env is the normal case.
	_ = godotenv.Load()

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		expanded := expandEnvVars(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
