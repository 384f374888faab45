package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Gateway      GatewayConfig      `mapstructure:"gateway"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Settings     SettingsConfig     `mapstructure:"settings"`
	Storage      StorageConfig      `mapstructure:"storage"`
	CORS         CORSConfig         `mapstructure:"cors"`
	Log          LogConfig          `mapstructure:"log"`
	Prompts      map[string]string  `mapstructure:"prompts"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	MaxHeaderBytes  int           `mapstructure:"max_header_bytes"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// GatewayConfig describes where the orchestrator reaches the inference
// gateway and the vendor defaults sent along with each turn.
type GatewayConfig struct {
	URL          string  `mapstructure:"url"`
	BaseURL      string  `mapstructure:"base_url"`
	APIKey       string  `mapstructure:"api_key"`
	Organization string  `mapstructure:"organization"`
	Model        string  `mapstructure:"model"`
	Temperature  float32 `mapstructure:"temperature"`
	MaxTokens    int     `mapstructure:"max_tokens"`
	SystemPrompt string  `mapstructure:"system_prompt"`
}

type OrchestratorConfig struct {
	ConcurrentRequests int           `mapstructure:"concurrent_requests"`
	RetryAttempts      int           `mapstructure:"retry_attempts"`
	RequestTimeout     int           `mapstructure:"request_timeout"`
	MaxHistoryMessages int           `mapstructure:"max_history_messages"`
	RetryBaseDelay     time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay      time.Duration `mapstructure:"retry_max_delay"`
}

type SettingsConfig struct {
	Type string `mapstructure:"type"`
	Path string `mapstructure:"path"`
}

type StorageConfig struct {
	Type      string `mapstructure:"type"`
	DataDir   string `mapstructure:"data_dir"`
	CacheSize int    `mapstructure:"cache_size"`
	DSN       string `mapstructure:"dsn"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	ExposedHeaders   []string `mapstructure:"exposed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 10301)
	v.SetDefault("server.read_timeout", 5*time.Minute)
	v.SetDefault("server.write_timeout", 10*time.Minute)
	v.SetDefault("server.max_header_bytes", 1<<20)
	v.SetDefault("server.shutdown_timeout", 3*time.Second)

	v.SetDefault("gateway.url", "http://localhost:10301")
	v.SetDefault("gateway.base_url", "https://api.openai.com")
	v.SetDefault("gateway.model", "gpt-3.5-turbo")
	v.SetDefault("gateway.temperature", 0.7)
	v.SetDefault("gateway.max_tokens", 2048)

	v.SetDefault("orchestrator.concurrent_requests", 20)
	v.SetDefault("orchestrator.retry_attempts", 2)
	v.SetDefault("orchestrator.request_timeout", 30)
	v.SetDefault("orchestrator.max_history_messages", 10)
	v.SetDefault("orchestrator.retry_base_delay", time.Second)
	v.SetDefault("orchestrator.retry_max_delay", 5*time.Second)

	v.SetDefault("settings.type", "bolt")
	v.SetDefault("settings.path", "./data/settings.db")

	v.SetDefault("storage.type", "disk")
	v.SetDefault("storage.data_dir", "./data")
	v.SetDefault("storage.cache_size", 100)

	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"Origin", "Content-Length", "Content-Type", "Authorization"})
	v.SetDefault("cors.max_age", 43200)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

var cfg *Config

// Load reads configPath (optional) on top of built-in defaults. A .env file
// in the working directory is loaded first so CHAT_* variables can live
// there.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("gateway.api_key", "CHAT_GATEWAY_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("gateway.base_url", "CHAT_GATEWAY_BASE_URL", "OPENAI_BASE_URL")

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("reading config %s: %w", configPath, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config %s: %w", configPath, err)
		}
	}

	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	cfg = c
	return c, nil
}

func (c *Config) Validate() error {
	if c.Orchestrator.ConcurrentRequests < 1 {
		return fmt.Errorf("orchestrator.concurrent_requests must be at least 1")
	}
	if c.Orchestrator.RetryAttempts < 0 {
		return fmt.Errorf("orchestrator.retry_attempts must not be negative")
	}
	if c.Orchestrator.RequestTimeout < 1 {
		return fmt.Errorf("orchestrator.request_timeout must be at least 1 second")
	}
	switch c.Storage.Type {
	case "memory", "disk", "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown storage.type %q", c.Storage.Type)
	}
	switch c.Settings.Type {
	case "memory", "bolt":
	default:
		return fmt.Errorf("unknown settings.type %q", c.Settings.Type)
	}
	return nil
}

func Get() *Config {
	return cfg
}
