package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ListenAddr       string        `yaml:"listen_addr"`
	DBPath           string        `yaml:"db_path"`
	Backend          string        `yaml:"backend"`
	BackendURL       string        `yaml:"backend_url"`
	ClaudeAPIKey     string        `yaml:"claude_api_key"`
	ClaudeModel      string        `yaml:"claude_model"`
	ClaudeBaseURL    string        `yaml:"claude_base_url"`
	OllamaHost       string        `yaml:"ollama_host"`
	OllamaModel      string        `yaml:"ollama_model"`
	ChatMode         string        `yaml:"chat_mode"`
	PacingDelay      time.Duration `yaml:"pacing_delay"`
	SessionTTL       time.Duration `yaml:"session_ttl"`
	ImagePath        string        `yaml:"image_path"`
	LogLevel         string        `yaml:"log_level"`
	LogFile          string        `yaml:"log_file"`
	AuthEmail        string        `yaml:"auth_email"`
	AuthPasswordHash string        `yaml:"auth_password_hash"`
}

func defaults() *Config {
	return &Config{
		ListenAddr:  ":8080",
		DBPath:      "/data/mealchat.db",
		Backend:     "flask",
		BackendURL:  "http://localhost:5000",
		ClaudeModel: "claude-3-5-haiku-latest",
		OllamaHost:  "http://localhost:11434",
		OllamaModel: "llava",
		ChatMode:    "recipe",
		PacingDelay: time.Second,
		SessionTTL:  2 * time.Hour,
		ImagePath:   "/data/images",
		LogLevel:    "info",
	}
}

// Load reads the configuration from the environment on top of the defaults.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile layers the defaults, the YAML file at path (skipped when path is
// empty) and the environment, in that order.
func LoadFile(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.ListenAddr = getEnv("LISTEN_ADDR", c.ListenAddr)
	c.DBPath = getEnv("DB_PATH", c.DBPath)
	c.Backend = getEnv("BACKEND", c.Backend)
	c.BackendURL = getEnv("BACKEND_URL", c.BackendURL)
	c.ClaudeAPIKey = getEnv("CLAUDE_API_KEY", c.ClaudeAPIKey)
	c.ClaudeModel = getEnv("CLAUDE_MODEL", c.ClaudeModel)
	c.ClaudeBaseURL = getEnv("CLAUDE_BASE_URL", c.ClaudeBaseURL)
	c.OllamaHost = getEnv("OLLAMA_HOST", c.OllamaHost)
	c.OllamaModel = getEnv("OLLAMA_MODEL", c.OllamaModel)
	c.ChatMode = getEnv("CHAT_MODE", c.ChatMode)
	c.ImagePath = getEnv("IMAGE_PATH", c.ImagePath)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFile = getEnv("LOG_FILE", c.LogFile)
	c.AuthEmail = getEnv("AUTH_EMAIL", c.AuthEmail)
	c.AuthPasswordHash = getEnv("AUTH_PASSWORD_HASH", c.AuthPasswordHash)

	var err error
	if c.PacingDelay, err = getEnvDuration("PACING_DELAY", c.PacingDelay); err != nil {
		return err
	}
	if c.SessionTTL, err = getEnvDuration("SESSION_TTL", c.SessionTTL); err != nil {
		return err
	}
	return nil
}

func (c *Config) Validate() error {
	switch c.Backend {
	case "flask":
		if c.BackendURL == "" {
			return fmt.Errorf("BACKEND_URL is required for the flask backend")
		}
	case "claude":
		if c.ClaudeAPIKey == "" {
			return fmt.Errorf("CLAUDE_API_KEY is required for the claude backend")
		}
	case "ollama":
		if c.OllamaHost == "" || c.OllamaModel == "" {
			return fmt.Errorf("OLLAMA_HOST and OLLAMA_MODEL are required for the ollama backend")
		}
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.PacingDelay < 0 {
		return fmt.Errorf("PACING_DELAY must not be negative")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive")
	}
	if (c.AuthEmail == "") != (c.AuthPasswordHash == "") {
		return fmt.Errorf("AUTH_EMAIL and AUTH_PASSWORD_HASH must be set together")
	}
	return nil
}

// AuthEnabled reports whether HTTP basic auth is configured.
func (c *Config) AuthEnabled() bool {
	return c.AuthEmail != ""
}

func getEnv(key, defaultVal string) string {
	if val, exists := os.LookupEnv(key); exists {
		return val
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val, exists := os.LookupEnv(key)
	if !exists {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
