package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"code-review-backend/internal/domain"
)

// Default configuration values
const (
	DefaultConfigPath = "config.yaml"

	// UnlimitedQuota is the sentinel limit meaning "no monthly cap".
	UnlimitedQuota = -1
)

// AIConfig holds configuration for the LLM credential pool and prompting bounds.
type AIConfig struct {
	Keys        []string      `yaml:"-"`         // From Env (AI_API_KEYS, comma-separated)
	Model       string        `yaml:"model"`
	Endpoint    string        `yaml:"endpoint"`  // OpenAI-compatible base URL
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`   // Wall-clock per completion call
	KeyCooldown time.Duration `yaml:"key_cooldown"`

	MaxDiffSize        int `yaml:"max_diff_size"`         // Chars of diff included in the prompt
	MaxFilesContext    int `yaml:"max_files_context"`     // Files included as extra context
	MaxFileContentSize int `yaml:"max_file_content_size"` // Chars per context file
}

// QuotaConfig maps subscription tiers to monthly review limits.
// A limit of -1 means unlimited.
type QuotaConfig struct {
	TierLimits map[string]int `yaml:"tier_limits"`
}

// Limit resolves the monthly cap for a tier, defaulting to the free limit
// for unknown tiers.
func (q QuotaConfig) Limit(tier domain.Tier) int {
	if limit, ok := q.TierLimits[string(tier)]; ok {
		return limit
	}
	return q.TierLimits[string(domain.TierFree)]
}

// StorageConfig holds configuration for relational persistence
type StorageConfig struct {
	DSN     string        `yaml:"dsn"`     // SQLite connection string
	Timeout time.Duration `yaml:"timeout"` // Timeout for storage operations (default: 5s)
}

// CacheConfig holds configuration for the optional completed-review cache
type CacheConfig struct {
	Addr string        `yaml:"-"`   // From Env (REDIS_ADDR); empty disables the cache
	TTL  time.Duration `yaml:"ttl"` // Entry lifetime (default: 1h)
}

// PlatformConfig holds configuration for hosting-platform HTTP clients
type PlatformConfig struct {
	Timeout       time.Duration `yaml:"timeout"`        // Per-request timeout (default: 10s)
	GitHubBaseURL string        `yaml:"github_base_url"`
	GitLabBaseURL string        `yaml:"gitlab_base_url"`
}

// Config holds the configuration for the review backend
type Config struct {
	Log struct {
		Level    string `yaml:"level"`  // DEBUG, INFO, WARN, ERROR
		Format   string `yaml:"format"` // text, json
		Output   string `yaml:"output"` // stdout, stderr, /path/to/file
		Rotation struct {
			MaxSize    int  `yaml:"max_size"`    // Megabytes
			MaxBackups int  `yaml:"max_backups"` // Number of old files to keep
			MaxAge     int  `yaml:"max_age"`     // Days to keep
			Compress   bool `yaml:"compress"`
		} `yaml:"rotation"`
	} `yaml:"log"`

	Server struct {
		Port             int           `yaml:"port"`
		ConcurrencyLimit int64         `yaml:"concurrency_limit"` // Concurrent review creations
		ReadTimeout      time.Duration `yaml:"read_timeout"`
		WriteTimeout     time.Duration `yaml:"write_timeout"`
	} `yaml:"server"`

	AI       AIConfig       `yaml:"ai"`
	Quota    QuotaConfig    `yaml:"quota"`
	Storage  StorageConfig  `yaml:"storage"`
	Cache    CacheConfig    `yaml:"cache"`
	Platform PlatformConfig `yaml:"platform"`
}

// GetLogLevel returns the slog.Level based on Log.Level string
func (c *Config) GetLogLevel() slog.Level {
	switch strings.ToUpper(c.Log.Level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LoadConfig loads configuration from YAML file and supplements with
// environment variables. Secrets only ever come from the environment.
func LoadConfig() *Config {
	// Best effort: a missing .env just means the environment is already set
	_ = godotenv.Load()

	cfg := &Config{}

	// Set some defaults before loading
	cfg.Log.Level = "INFO"
	cfg.Log.Format = "text"
	cfg.Log.Output = "stdout"
	cfg.Log.Rotation.MaxSize = 100
	cfg.Log.Rotation.MaxBackups = 10
	cfg.Log.Rotation.MaxAge = 7
	cfg.Log.Rotation.Compress = true

	cfg.Server.Port = 8080
	cfg.Server.ConcurrencyLimit = 10
	cfg.Server.ReadTimeout = 10 * time.Second
	// Processing holds the connection open for the LLM call, so the write
	// timeout must cover the slowest full review
	cfg.Server.WriteTimeout = 3 * time.Minute

	cfg.AI.Model = "llama-3.3-70b-versatile"
	cfg.AI.Endpoint = "https://api.groq.com/openai/v1"
	cfg.AI.MaxTokens = 8000
	cfg.AI.Temperature = 0.2
	cfg.AI.Timeout = 120 * time.Second
	cfg.AI.KeyCooldown = 60 * time.Second
	cfg.AI.MaxDiffSize = 50000
	cfg.AI.MaxFilesContext = 5
	cfg.AI.MaxFileContentSize = 10000

	cfg.Quota.TierLimits = map[string]int{
		string(domain.TierFree): 10,
		string(domain.TierPlus): 100,
		string(domain.TierPro):  UnlimitedQuota,
	}

	cfg.Storage.DSN = "reviews.db"
	cfg.Storage.Timeout = 5 * time.Second

	cfg.Cache.TTL = time.Hour

	cfg.Platform.Timeout = 10 * time.Second
	cfg.Platform.GitHubBaseURL = "https://api.github.com"
	cfg.Platform.GitLabBaseURL = "https://gitlab.com/api/v4"

	// Try to load from YAML
	configPath := getEnv("CONFIG_PATH", DefaultConfigPath)
	data, err := os.ReadFile(configPath)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			slog.Error("unmarshal config failed", "error", err, "path", configPath)
			os.Exit(1)
		}
		slog.Info("config loaded", "path", configPath)
	} else {
		if !os.IsNotExist(err) {
			slog.Error("read config failed", "error", err, "path", configPath)
			os.Exit(1)
		}
		slog.Info("config not found, using defaults", "path", configPath)
	}

	// Always supplement/override with environment variables for secrets
	if keys := os.Getenv("AI_API_KEYS"); keys != "" {
		cfg.AI.Keys = splitKeys(keys)
	}
	cfg.Cache.Addr = getEnv("REDIS_ADDR", cfg.Cache.Addr)

	if envPort := getEnvInt("PORT", 0); envPort != 0 {
		cfg.Server.Port = envPort
	}
	if envLogLevel := os.Getenv("LOG_LEVEL"); envLogLevel != "" {
		cfg.Log.Level = envLogLevel
	}
	if envLogFormat := os.Getenv("LOG_FORMAT"); envLogFormat != "" {
		cfg.Log.Format = envLogFormat
	}
	if envLogOutput := getEnv("LOG_OUTPUT", ""); envLogOutput != "" {
		cfg.Log.Output = envLogOutput
	}
	if envDSN := os.Getenv("STORAGE_DSN"); envDSN != "" {
		cfg.Storage.DSN = envDSN
	}

	return cfg
}

// Validate validates the configuration
func (c *Config) Validate() error {
	var errs []string

	if len(c.AI.Keys) == 0 {
		errs = append(errs, "AI_API_KEYS is required (comma-separated, at least one key)")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("invalid server port: %d", c.Server.Port))
	}

	if c.AI.MaxDiffSize <= 0 {
		errs = append(errs, "ai.max_diff_size must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config invalid: %s", strings.Join(errs, "; "))
	}
	return nil
}

func splitKeys(raw string) []string {
	var keys []string
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// Helper functions for reading environment variables

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}
