package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	// configDir is the configuration directory path
	// Can be set via SetConfigDir before loading config
	configDir     string
	configDirInit bool

	// configFile overrides <configDir>/config.yaml when set
	configFile string
)

// SetConfigDir sets a custom configuration directory
// Must be called before any config loading functions
func SetConfigDir(dir string) {
	configDir = dir
	configDirInit = true
}

// SetConfigFile points Load and Save at an explicit config file.
// The secrets and prompt files are looked up next to it.
func SetConfigFile(path string) {
	configFile = path
	if path != "" {
		SetConfigDir(filepath.Dir(path))
	}
}

// GetConfigDir returns the configuration directory
// Priority: 1. Manually set via SetConfigDir, 2. ./config in current directory
func GetConfigDir() string {
	if !configDirInit {
		cwd, err := os.Getwd()
		if err == nil {
			configDir = filepath.Join(cwd, "config")
		}
		configDirInit = true
	}
	return configDir
}

// Config application configuration structure
type Config struct {
	Model    ModelConfig    `yaml:"model"`
	Server   ServerConfig   `yaml:"server"`
	Tools    ToolsConfig    `yaml:"tools"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Cache    CacheConfig    `yaml:"cache"`
	Logger   LoggerConfig   `yaml:"logger"`
	Tracer   TracerConfig   `yaml:"tracer"`
}

// ModelConfig decision/answer model configuration
type ModelConfig struct {
	APIKey         string        `yaml:"api_key"`
	Endpoint       string        `yaml:"endpoint"`
	Model          string        `yaml:"model"`
	Temperature    float64       `yaml:"temperature"`
	TopP           float64       `yaml:"top_p"`
	MaxTokens      int           `yaml:"max_tokens"`
	TimeoutSeconds int           `yaml:"timeout_seconds"`
	Breaker        BreakerConfig `yaml:"breaker"`
}

// BreakerConfig circuit breaker around model calls
type BreakerConfig struct {
	Enabled         bool `yaml:"enabled"`
	MaxFailures     int  `yaml:"max_failures"`
	OpenSeconds     int  `yaml:"open_seconds"`
	IntervalSeconds int  `yaml:"interval_seconds"`
}

// ServerConfig HTTP listener configuration
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns host:port for the listener.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ToolsConfig upstream settings for the built-in tools
type ToolsConfig struct {
	WeatherBaseURL   string `yaml:"weather_base_url"`
	WikipediaBaseURL string `yaml:"wikipedia_base_url"`
	TimeoutSeconds   int    `yaml:"timeout_seconds"`
	UserAgent        string `yaml:"user_agent"`
}

// DispatchConfig orchestrator behaviour
type DispatchConfig struct {
	ValidateParameters bool `yaml:"validate_parameters"`
}

// CacheConfig tool result cache
type CacheConfig struct {
	Enabled    bool     `yaml:"enabled"`
	DBPath     string   `yaml:"db_path"`
	TTLSeconds int      `yaml:"ttl_seconds"`
	Tools      []string `yaml:"tools"`
}

// LoggerConfig logging output
type LoggerConfig struct {
	Level   string `yaml:"level"`
	Format  string `yaml:"format"`
	Output  string `yaml:"output"`
	Dir     string `yaml:"dir"`
	MaxDays int    `yaml:"max_days"`
	Console bool   `yaml:"console"`
}

// TracerConfig OpenTelemetry tracing
type TracerConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Exporter    string `yaml:"exporter"`
	ServiceName string `yaml:"service_name"`
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Model: ModelConfig{
			APIKey:         "",
			Endpoint:       "https://dashscope.aliyuncs.com/api/v1/services/aigc/text-generation/generation",
			Model:          "qwen-max",
			Temperature:    0.7,
			TopP:           0.8,
			MaxTokens:      2000,
			TimeoutSeconds: 30,
			Breaker: BreakerConfig{
				Enabled:         true,
				MaxFailures:     5,
				OpenSeconds:     30,
				IntervalSeconds: 60,
			},
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8006,
		},
		Tools: ToolsConfig{
			WeatherBaseURL:   "https://wttr.in",
			WikipediaBaseURL: "https://en.wikipedia.org/api/rest_v1",
			TimeoutSeconds:   10,
			UserAgent:        "toolgate/0.1",
		},
		Cache: CacheConfig{
			Enabled:    false,
			DBPath:     filepath.Join(GetConfigDir(), "cache.db"),
			TTLSeconds: 600,
			Tools:      []string{"get_weather", "search_wikipedia"},
		},
		Logger: LoggerConfig{
			Level:   "info",
			Format:  "text",
			Output:  "stderr",
			Dir:     LogDir(),
			MaxDays: 7,
		},
		Tracer: TracerConfig{
			Enabled:     false,
			Exporter:    "stdout",
			ServiceName: "toolgate",
		},
	}
}

// ConfigDir returns the configuration directory path
func ConfigDir() (string, error) {
	dir := GetConfigDir()
	if dir == "" {
		return "", fmt.Errorf("failed to determine config directory")
	}
	return dir, nil
}

// LogDir returns the log directory path
func LogDir() string {
	dir := GetConfigDir()
	if dir == "" {
		return "logs"
	}
	return filepath.Join(dir, "logs")
}

// ConfigPath returns the configuration file path
func ConfigPath() (string, error) {
	if configFile != "" {
		return configFile, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Load loads configuration from file and merges secrets and environment overrides.
// A default config file is written when none exists.
func Load() (*Config, error) {
	configPath, err := ConfigPath()
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()

	data, err := os.ReadFile(configPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := Save(cfg); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Secrets only fill what the config file left empty
	secrets, _ := LoadSecrets()
	if cfg.Model.APIKey == "" {
		cfg.Model.APIKey = secrets.GetQwenAPIKey()
	}

	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnv overlays environment variables on top of file values.
func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("QWEN_API_KEY"); v != "" {
		c.Model.APIKey = v
	}
	if v := getenv("TOOLGATE_MODEL"); v != "" {
		c.Model.Model = v
	}
	if v := getenv("TOOLGATE_LOG_LEVEL"); v != "" {
		c.Logger.Level = v
	}
	port := getenv("TOOLGATE_PORT")
	if port == "" {
		port = getenv("PORT")
	}
	if port != "" {
		n, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("config error: invalid port %q: %w", port, err)
		}
		c.Server.Port = n
	}
	return nil
}

// Save saves configuration to file
func Save(cfg *Config) error {
	configPath, err := ConfigPath()
	if err != nil {
		return err
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// The API key belongs in .secrets or the environment
	out := *cfg
	out.Model.APIKey = ""

	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}

	content := "# toolgate configuration file\n# Put QWEN_API_KEY in .secrets next to this file or in the environment.\n\n" + string(data)

	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration and reports every problem found.
// A missing API key is not an error here: tools and direct invoke work without one.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("config error: "+format, args...))
	}

	if strings.TrimSpace(c.Model.Endpoint) == "" {
		bad("model.endpoint cannot be empty")
	}
	if c.Model.Model == "" {
		bad("model.model cannot be empty")
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 2 {
		bad("model.temperature must be between 0 and 2")
	}
	if c.Model.TopP <= 0 || c.Model.TopP > 1 {
		bad("model.top_p must be in (0, 1]")
	}
	if c.Model.MaxTokens <= 0 {
		bad("model.max_tokens must be greater than 0")
	}
	if c.Model.TimeoutSeconds <= 0 {
		bad("model.timeout_seconds must be greater than 0")
	}
	if c.Model.Breaker.Enabled && c.Model.Breaker.MaxFailures <= 0 {
		bad("model.breaker.max_failures must be greater than 0")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		bad("server.port must be between 1 and 65535")
	}

	if c.Tools.TimeoutSeconds <= 0 {
		bad("tools.timeout_seconds must be greater than 0")
	}

	if c.Cache.Enabled {
		if c.Cache.DBPath == "" {
			bad("cache.db_path cannot be empty when cache is enabled")
		}
		if c.Cache.TTLSeconds <= 0 {
			bad("cache.ttl_seconds must be greater than 0")
		}
	}

	switch strings.ToLower(c.Logger.Format) {
	case "", "text", "json":
	default:
		bad("logger.format must be text or json")
	}
	switch strings.ToLower(c.Logger.Output) {
	case "", "stdout", "stderr":
	case "file":
		if c.Logger.Dir == "" {
			bad("logger.dir cannot be empty when output is file")
		}
	default:
		bad("logger.output must be stdout, stderr or file")
	}

	switch strings.ToLower(c.Tracer.Exporter) {
	case "", "stdout", "noop":
	default:
		bad("tracer.exporter must be stdout or noop")
	}

	return errors.Join(errs...)
}

// IsAPIKeyConfigured checks if API key is configured
func (c *Config) IsAPIKeyConfigured() bool {
	return c.Model.APIKey != ""
}

// String returns string representation of config (hides sensitive info)
func (c *Config) String() string {
	return fmt.Sprintf(`toolgate configuration:
  Model:
    API Key: %s
    Endpoint: %s
    Model: %s
    Temperature: %.1f
    Top P: %.1f
    Max Tokens: %d
    Timeout Seconds: %d
    Breaker: %v (max failures %d, open %ds)
  Server:
    Address: %s
  Tools:
    Weather: %s
    Wikipedia: %s
    Timeout Seconds: %d
  Dispatch:
    Validate Parameters: %v
  Cache:
    Enabled: %v
    DB Path: %s
    TTL Seconds: %d
  Logger:
    Level: %s
    Format: %s
    Output: %s
  Tracer:
    Enabled: %v
    Exporter: %s`,
		redactAPIKey(c.Model.APIKey),
		c.Model.Endpoint,
		c.Model.Model,
		c.Model.Temperature,
		c.Model.TopP,
		c.Model.MaxTokens,
		c.Model.TimeoutSeconds,
		c.Model.Breaker.Enabled,
		c.Model.Breaker.MaxFailures,
		c.Model.Breaker.OpenSeconds,
		c.Server.Addr(),
		c.Tools.WeatherBaseURL,
		c.Tools.WikipediaBaseURL,
		c.Tools.TimeoutSeconds,
		c.Dispatch.ValidateParameters,
		c.Cache.Enabled,
		c.Cache.DBPath,
		c.Cache.TTLSeconds,
		c.Logger.Level,
		c.Logger.Format,
		c.Logger.Output,
		c.Tracer.Enabled,
		c.Tracer.Exporter,
	)
}

func redactAPIKey(value string) string {
	if value == "" {
		return "(not configured)"
	}
	if len(value) > 8 {
		return value[:8] + "..."
	}
	return "***"
}
