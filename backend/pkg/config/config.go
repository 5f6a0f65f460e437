package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// App
	Port string
	Env  string

	// Storage
	DatabasePath   string
	FilterListPath string

	// LLM
	DefaultModel string
	BackupModels []string

	// Provider credentials
	DeepseekAPIKey    string
	OpenAIAPIKey      string
	SiliconFlowAPIKey string
	DashscopeAPIKey   string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", "5000"),
		Env:               getEnv("ENV", "development"),
		DatabasePath:      getEnv("DATABASE_PATH", "knowledge_graphs.db"),
		FilterListPath:    getEnv("FILTER_LIST_PATH", "static/filter.txt"),
		DefaultModel:      getEnv("DEFAULT_MODEL", "deepseek-v3"),
		BackupModels:      getEnvList("BACKUP_MODELS", "deepseek-ai/DeepSeek-V3,gpt-4o-mini,deepseek-chat"),
		DeepseekAPIKey:    getEnv("DEEPSEEK_API_KEY", ""),
		OpenAIAPIKey:      getEnv("OPENAI_API_KEY", ""),
		SiliconFlowAPIKey: getEnv("SILICONFLOW_API_KEY", ""),
		DashscopeAPIKey:   getEnv("DASHSCOPE_API_KEY", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration values are set
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("DATABASE_PATH is required")
	}
	if c.DefaultModel == "" {
		return fmt.Errorf("DEFAULT_MODEL is required")
	}
	if len(c.BackupModels) == 0 {
		return fmt.Errorf("BACKUP_MODELS is required")
	}
	// Provider keys are optional at startup; an unset key fails at call time
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvList(key, defaultValue string) []string {
	raw := getEnv(key, defaultValue)
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			values = append(values, p)
		}
	}
	return values
}
