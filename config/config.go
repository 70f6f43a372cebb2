// Package config provides configuration management for the termit command-line tool.
// It supports loading configuration from YAML files, .env files, environment
// variables, and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/MichalMed/termit/pkg/analysis"
	"github.com/MichalMed/termit/pkg/annotation"
	"github.com/MichalMed/termit/pkg/db"
	"github.com/MichalMed/termit/pkg/document"
	"github.com/MichalMed/termit/pkg/logging"
)

// OutputFormat defines the supported output formats for CLI results.
type OutputFormat string

const (
	// OutputFormatText is human-readable plain text output.
	OutputFormatText OutputFormat = "text"
	// OutputFormatJSON is JSON-formatted output for machine processing.
	OutputFormatJSON OutputFormat = "json"
	// OutputFormatYAML is YAML-formatted output for machine processing.
	OutputFormatYAML OutputFormat = "yaml"
)

// StoreKind selects where occurrences, resources and records live.
type StoreKind string

const (
	StoreMemory   StoreKind = "memory"
	StorePostgres StoreKind = "postgres"
)

// StorageBackend selects where file content lives.
type StorageBackend string

const (
	StorageFS StorageBackend = "fs"
	StorageS3 StorageBackend = "s3"
)

// Default configuration values.
const (
	DefaultOutputFormat = OutputFormatText
	DefaultStore        = StorePostgres
	DefaultConfigDir    = ".termit"
	DefaultConfigFile   = "config.yaml"
	DefaultEnvFile      = ".env"
	DefaultCacheSize    = document.DefaultCacheSize

	// ConfigDirEnvVar overrides the configuration directory.
	ConfigDirEnvVar = "TERMIT_CONFIG_DIR"
)

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	SSLMode  string `yaml:"sslmode"`
	MaxConns int32  `yaml:"max_conns"`
	MinConns int32  `yaml:"min_conns"`

	// Password is normally kept in the OS keyring; see the credentials package.
	Password string `yaml:"password,omitempty"`

	// ConnectRetries is how many times the initial connection is attempted.
	ConnectRetries int           `yaml:"connect_retries"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
}

// DB converts the settings to a pool configuration.
func (c DatabaseConfig) DB() *db.Config {
	cfg := db.DefaultConfig()
	cfg.Host = c.Host
	cfg.Port = c.Port
	cfg.Database = c.Name
	cfg.User = c.User
	cfg.Password = c.Password
	if c.SSLMode != "" {
		cfg.SSLMode = c.SSLMode
	}
	if c.MaxConns > 0 {
		cfg.MaxConns = c.MaxConns
	}
	if c.MinConns > 0 {
		cfg.MinConns = c.MinConns
	}
	return cfg
}

// RedisConfig holds settings of the Redis instance shared between termit
// processes. When Addr is empty locks are process-local and no events are
// published.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db"`

	// LockTTL bounds how long a crashed process keeps a file locked.
	LockTTL time.Duration `yaml:"lock_ttl"`

	// PublishEvents enables analysis and occurrence events on Redis pub/sub.
	PublishEvents bool `yaml:"publish_events"`
}

// Enabled reports whether a Redis address is configured.
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

// TextAnalysisConfig holds the text analysis service settings.
type TextAnalysisConfig struct {
	URL                  string        `yaml:"url"`
	Timeout              time.Duration `yaml:"timeout"`
	RequestsPerSecond    float64       `yaml:"requests_per_second"`
	Burst                int           `yaml:"burst"`
	VocabularyRepository string        `yaml:"vocabulary_repository"`
	Language             string        `yaml:"language"`
}

// Client returns the HTTP client settings.
func (c TextAnalysisConfig) Client() analysis.ClientConfig {
	return analysis.ClientConfig{
		URL:               c.URL,
		Timeout:           c.Timeout,
		RequestsPerSecond: c.RequestsPerSecond,
		Burst:             c.Burst,
	}
}

// Service returns the service-wide analysis settings.
func (c TextAnalysisConfig) Service() analysis.Config {
	return analysis.Config{
		VocabularyRepository: c.VocabularyRepository,
		Language:             c.Language,
	}
}

// StorageConfig selects and configures the file content backend.
type StorageConfig struct {
	Backend StorageBackend `yaml:"backend"`

	// Root is the content directory of the fs backend. Defaults to
	// files/ under the config directory.
	Root string `yaml:"root,omitempty"`

	S3 document.S3Config `yaml:"s3,omitempty"`
}

// CacheConfig controls the file content cache. A zero size disables it.
type CacheConfig struct {
	Size int `yaml:"size"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level logging.Level `yaml:"level"`
	JSON  bool          `yaml:"json"`
}

// Logger converts the settings to a logger configuration.
func (c LoggingConfig) Logger() *logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = c.Level
	cfg.JSONFormat = c.JSON
	if c.JSON {
		cfg.Environment = "production"
	}
	return cfg
}

// MetricsConfig controls the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Config holds the termit configuration settings.
type Config struct {
	// Store selects the occurrence, resource and record storage.
	Store StoreKind `yaml:"store"`

	// OutputFormat specifies the default output format for commands.
	OutputFormat OutputFormat `yaml:"output_format"`

	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	TextAnalysis TextAnalysisConfig `yaml:"text_analysis"`
	Annotation   annotation.Config  `yaml:"annotation"`
	Storage      StorageConfig      `yaml:"storage"`
	Cache        CacheConfig        `yaml:"cache"`
	Logging      LoggingConfig      `yaml:"logging"`
	Metrics      MetricsConfig      `yaml:"metrics"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	dbDefaults := db.DefaultConfig()
	client := analysis.DefaultClientConfig()
	return &Config{
		Store:        DefaultStore,
		OutputFormat: DefaultOutputFormat,
		Database: DatabaseConfig{
			Host:           dbDefaults.Host,
			Port:           dbDefaults.Port,
			Name:           dbDefaults.Database,
			User:           dbDefaults.User,
			SSLMode:        dbDefaults.SSLMode,
			MaxConns:       dbDefaults.MaxConns,
			MinConns:       dbDefaults.MinConns,
			ConnectRetries: 3,
			RetryDelay:     2 * time.Second,
		},
		Redis: RedisConfig{
			LockTTL: 30 * time.Second,
		},
		TextAnalysis: TextAnalysisConfig{
			Timeout:           client.Timeout,
			RequestsPerSecond: client.RequestsPerSecond,
			Burst:             client.Burst,
		},
		Annotation: annotation.DefaultConfig(),
		Storage:    StorageConfig{Backend: StorageFS},
		Cache:      CacheConfig{Size: DefaultCacheSize},
		Logging:    LoggingConfig{Level: logging.LevelInfo},
	}
}

// ConfigDir returns the configuration directory path.
// Uses $TERMIT_CONFIG_DIR if set, otherwise ~/.termit
func ConfigDir() (string, error) {
	if dir := os.Getenv(ConfigDirEnvVar); dir != "" {
		return dir, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}

	return filepath.Join(home, DefaultConfigDir), nil
}

// ConfigPath returns the full path to the configuration file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DefaultConfigFile), nil
}

// LoadConfig loads the configuration.
// Sources are applied in this order (later sources override earlier):
// 1. Default values
// 2. Config file (~/.termit/config.yaml or $TERMIT_CONFIG_DIR/config.yaml)
// 3. Environment variables, including those from .env files in the config
// directory and the working directory
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	dir, err := ConfigDir()
	if err != nil {
		return nil, fmt.Errorf("getting config path: %w", err)
	}

	if err := loadEnvFiles(filepath.Join(dir, DefaultEnvFile), DefaultEnvFile); err != nil {
		return nil, err
	}

	configPath := filepath.Join(dir, DefaultConfigFile)
	if _, err := os.Stat(configPath); err == nil {
		if err := loadFromFile(cfg, configPath); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	loadFromEnv(cfg)

	if cfg.Storage.Root == "" {
		cfg.Storage.Root = filepath.Join(dir, "files")
	}
	cfg.Storage.Root = expandPath(cfg.Storage.Root)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// loadEnvFiles loads the existing .env files. Variables already present in
// the environment are not overridden.
func loadEnvFiles(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

// loadFromFile loads configuration from a YAML file. Keys missing from the
// file keep their current values.
func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

// loadFromEnv overlays TERMIT_* environment variables onto the configuration.
// Unparsable numeric values are ignored.
func loadFromEnv(cfg *Config) {
	setString(&cfg.Database.Host, "TERMIT_DATABASE_HOST")
	setInt(&cfg.Database.Port, "TERMIT_DATABASE_PORT")
	setString(&cfg.Database.Name, "TERMIT_DATABASE_NAME")
	setString(&cfg.Database.User, "TERMIT_DATABASE_USER")
	setString(&cfg.Database.Password, "TERMIT_DATABASE_PASSWORD")
	setString(&cfg.Database.SSLMode, "TERMIT_DATABASE_SSLMODE")

	setString(&cfg.Redis.Addr, "TERMIT_REDIS_ADDR")
	setString(&cfg.Redis.Password, "TERMIT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TERMIT_REDIS_DB")
	setBool(&cfg.Redis.PublishEvents, "TERMIT_REDIS_PUBLISH_EVENTS")

	setString(&cfg.TextAnalysis.URL, "TERMIT_TEXT_ANALYSIS_URL")
	setDuration(&cfg.TextAnalysis.Timeout, "TERMIT_TEXT_ANALYSIS_TIMEOUT")
	setString(&cfg.TextAnalysis.VocabularyRepository, "TERMIT_TEXT_ANALYSIS_VOCABULARY_REPOSITORY")
	setString(&cfg.TextAnalysis.Language, "TERMIT_TEXT_ANALYSIS_LANGUAGE")

	if v := os.Getenv("TERMIT_ANNOTATION_MIN_SCORE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Annotation.MinScore = f
		}
	}

	if v := os.Getenv("TERMIT_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = StorageBackend(v)
	}
	setString(&cfg.Storage.Root, "TERMIT_STORAGE_ROOT")
	setString(&cfg.Storage.S3.Endpoint, "TERMIT_S3_ENDPOINT")
	setString(&cfg.Storage.S3.Region, "TERMIT_S3_REGION")
	setString(&cfg.Storage.S3.Bucket, "TERMIT_S3_BUCKET")
	setString(&cfg.Storage.S3.Prefix, "TERMIT_S3_PREFIX")
	setString(&cfg.Storage.S3.AccessKey, "TERMIT_S3_ACCESS_KEY")
	setString(&cfg.Storage.S3.SecretKey, "TERMIT_S3_SECRET_KEY")
	setBool(&cfg.Storage.S3.UseSSL, "TERMIT_S3_USE_SSL")

	setInt(&cfg.Cache.Size, "TERMIT_CACHE_SIZE")

	if v := os.Getenv("TERMIT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = logging.Level(strings.ToLower(v))
	}
	setBool(&cfg.Logging.JSON, "TERMIT_LOG_JSON")

	setString(&cfg.Metrics.Addr, "TERMIT_METRICS_ADDR")

	if v := os.Getenv("TERMIT_STORE"); v != "" {
		cfg.Store = StoreKind(v)
	}
	if v := os.Getenv("TERMIT_OUTPUT_FORMAT"); v != "" {
		cfg.OutputFormat = OutputFormat(v)
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	switch os.Getenv(key) {
	case "true", "1":
		*dst = true
	case "false", "0":
		*dst = false
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if !c.OutputFormat.IsValid() {
		return fmt.Errorf("invalid output_format: %q (must be text, json, or yaml)", c.OutputFormat)
	}

	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if err := c.Database.DB().Validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("invalid store: %q (must be memory or postgres)", c.Store)
	}

	if c.TextAnalysis.Timeout <= 0 {
		return errors.New("text_analysis.timeout must be positive")
	}
	if err := c.Annotation.Validate(); err != nil {
		return err
	}

	switch c.Storage.Backend {
	case StorageFS:
	case StorageS3:
		if c.Storage.S3.Endpoint == "" || c.Storage.S3.Bucket == "" {
			return errors.New("storage.s3 requires endpoint and bucket")
		}
	default:
		return fmt.Errorf("invalid storage.backend: %q (must be fs or s3)", c.Storage.Backend)
	}

	if c.Cache.Size < 0 {
		return errors.New("cache.size must not be negative")
	}

	switch c.Logging.Level {
	case logging.LevelDebug, logging.LevelInfo, logging.LevelWarn, logging.LevelError:
	default:
		return fmt.Errorf("invalid logging.level: %q", c.Logging.Level)
	}

	return nil
}

// IsValid checks if the output format is valid.
func (f OutputFormat) IsValid() bool {
	switch f {
	case OutputFormatText, OutputFormatJSON, OutputFormatYAML:
		return true
	default:
		return false
	}
}

// String returns the string representation of the output format.
func (f OutputFormat) String() string {
	return string(f)
}

// SaveConfig saves the configuration to the config file. Secrets are not written.
func SaveConfig(cfg *Config) error {
	configDir, err := ConfigDir()
	if err != nil {
		return fmt.Errorf("getting config directory: %w", err)
	}

	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	out := *cfg
	out.Database.Password = ""
	out.Redis.Password = ""
	out.Storage.S3.SecretKey = ""

	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	configPath := filepath.Join(configDir, DefaultConfigFile)
	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
