// Package main provides the CLI entry point for the DB Agent conversation
// engine: connect to a relational database, chat with an LLM-backed agent
// that inspects and mutates it under confirmation gates, and drive
// heterogeneous schema migrations.
package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/relaydb/dbagent/internal/models"
)

// Config is dbagent's configuration: the session store it persists to,
// the default database connection, the LLM provider, and migration
// defaults. Unlike the teacher's gateway-oriented Config, this carries no
// channel/plugin/gateway sections — this binary has none of those
// concerns.
type Config struct {
	Store      StoreConfig      `yaml:"store"`
	Connection ConnectionConfig `yaml:"connection"`
	Provider   ProviderConfig   `yaml:"provider"`
	Language   string           `yaml:"language"`
}

// StoreConfig configures the Postgres-backed session/audit store.
type StoreConfig struct {
	DSN string `yaml:"dsn"`
}

// ConnectionConfig describes the default database the agent inspects.
type ConnectionConfig struct {
	Engine   string `yaml:"engine"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

func (c ConnectionConfig) toModel() *models.Connection {
	return &models.Connection{
		Name:     "default",
		Engine:   models.EngineKind(c.Engine),
		Host:     c.Host,
		Port:     c.Port,
		Database: c.Database,
		User:     c.User,
		IsActive: true,
	}
}

// ProviderConfig selects and configures the LLM provider.
type ProviderConfig struct {
	Kind      string `yaml:"kind"` // "claude" or "openai"
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url,omitempty"`
	MaxTokens int64  `yaml:"max_tokens,omitempty"`
}

// defaultConfig mirrors the shape a fresh install would write out, with
// placeholders an operator edits in place.
func defaultConfig() Config {
	return Config{
		Store: StoreConfig{DSN: "postgres://postgres@localhost:5432/dbagent?sslmode=disable"},
		Connection: ConnectionConfig{
			Engine: string(models.EnginePostgreSQL),
			Host:   "localhost",
			Port:   5432,
		},
		Provider: ProviderConfig{
			Kind:      string(models.ProviderClaude),
			Model:     "claude-sonnet-4-20250514",
			MaxTokens: 4096,
		},
		Language: "en",
	}
}

// loadConfig reads path if it exists, then applies environment overrides
// (DBAGENT_STORE_DSN, DBAGENT_PROVIDER_API_KEY, and friends) so secrets
// need not live on disk.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DBAGENT_STORE_DSN"); v != "" {
		cfg.Store.DSN = v
	}
	if v := os.Getenv("DBAGENT_DB_HOST"); v != "" {
		cfg.Connection.Host = v
	}
	if v := os.Getenv("DBAGENT_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Connection.Port = port
		}
	}
	if v := os.Getenv("DBAGENT_DB_NAME"); v != "" {
		cfg.Connection.Database = v
	}
	if v := os.Getenv("DBAGENT_DB_USER"); v != "" {
		cfg.Connection.User = v
	}
	if v := os.Getenv("DBAGENT_DB_PASSWORD"); v != "" {
		cfg.Connection.Password = v
	}
	if v := os.Getenv("DBAGENT_DB_ENGINE"); v != "" {
		cfg.Connection.Engine = v
	}
	if v := os.Getenv("DBAGENT_PROVIDER_KIND"); v != "" {
		cfg.Provider.Kind = v
	}
	if v := os.Getenv("DBAGENT_PROVIDER_API_KEY"); v != "" {
		cfg.Provider.APIKey = v
	}
	if v := os.Getenv("DBAGENT_PROVIDER_MODEL"); v != "" {
		cfg.Provider.Model = v
	}
	if v := os.Getenv("DBAGENT_PROVIDER_BASE_URL"); v != "" {
		cfg.Provider.BaseURL = v
	}
}

// connectTimeout bounds every administrative connection attempt the CLI
// makes (store ping, adapter open) so a misconfigured host fails fast.
const connectTimeout = 10 * time.Second
