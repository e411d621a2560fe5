package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kailas-cloud/vecguard/internal/domain"
)

// Database drivers.
const (
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
	DriverQdrant   = "qdrant"
	DriverMemory   = "memory"
)

// Config holds the vecguard configuration.
type Config struct {
	HTTP       HTTPConfig       `yaml:"http"`
	Database   DatabaseConfig   `yaml:"database"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Matching   MatchingConfig   `yaml:"matching"`
	Video      VideoConfig      `yaml:"video"`
	Upload     UploadConfig     `yaml:"upload"`
	Cache      CacheConfig      `yaml:"cache"`
	Auth       AuthConfig       `yaml:"auth"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// DatabaseConfig selects and configures the reference store.
type DatabaseConfig struct {
	Driver           string   `yaml:"driver"` // redis, postgres, qdrant, memory (default: redis)
	Addrs            []string `yaml:"addrs"`  // redis nodes, or the qdrant gRPC endpoint
	Username         string   `yaml:"username"`
	Password         string   `yaml:"password"`
	DB               int      `yaml:"db"`
	DSN              string   `yaml:"dsn"`     // postgres
	APIKey           string   `yaml:"api_key"` // qdrant cloud
	Collection       string   `yaml:"collection"`
	SeedFile         string   `yaml:"seed_file"` // memory driver only
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
	QueryTimeoutSec  int      `yaml:"query_timeout_sec"`
	HNSWM            int      `yaml:"hnsw_m"`
	HNSWEFConstruct  int      `yaml:"hnsw_ef_construction"`
}

// GeminiConfig configures the primary vision-description backend.
type GeminiConfig struct {
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	VisionModel    string `yaml:"vision_model"`
	EmbeddingModel string `yaml:"embedding_model"`
	Dimensions     int    `yaml:"dimensions"`
}

// ClipConfig configures the fallback image-embedding backend.
type ClipConfig struct {
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
}

// ExtractionConfig holds signature backend settings.
type ExtractionConfig struct {
	Gemini        GeminiConfig `yaml:"gemini"`
	Clip          ClipConfig   `yaml:"clip"`
	TimeoutSec    int          `yaml:"timeout_sec"`
	RatePerSecond float64      `yaml:"rate_per_second"` // 0 = unlimited
	Burst         int          `yaml:"burst"`
}

// MatchingConfig holds similarity thresholds.
type MatchingConfig struct {
	DefaultThreshold float64 `yaml:"default_threshold"`
	StrictThreshold  float64 `yaml:"strict_threshold"`
}

// VideoConfig holds frame sampling settings.
type VideoConfig struct {
	FFmpegPath       string `yaml:"ffmpeg_path"`
	FFprobePath      string `yaml:"ffprobe_path"`
	FrameWidth       int    `yaml:"frame_width"`
	FrameConcurrency int    `yaml:"frame_concurrency"`
	TempDir          string `yaml:"temp_dir"`
}

// UploadConfig holds request limits.
type UploadConfig struct {
	MaxBytes          int64 `yaml:"max_bytes"`
	RequestTimeoutSec int   `yaml:"request_timeout_sec"` // 0 = no pipeline timeout
	MaxImageDimension int   `yaml:"max_image_dimension"`
}

// CacheConfig holds signature cache settings. The cache lives in Redis; when
// Addrs is empty the database addrs are used with the redis driver.
type CacheConfig struct {
	Enabled bool     `yaml:"enabled"`
	Addrs   []string `yaml:"addrs"`
	TTLSec  int      `yaml:"ttl_sec"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	return LoadFile(findConfigPath(env))
}

// LoadFile reads configuration from an explicit YAML path.
func LoadFile(configPath string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 30
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 120
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}

	if c.Database.Driver == "" {
		c.Database.Driver = DriverRedis
	}
	if c.Database.Collection == "" {
		c.Database.Collection = "copyrighted_content"
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.Database.QueryTimeoutSec <= 0 {
		c.Database.QueryTimeoutSec = 5
	}
	if c.Database.HNSWM <= 0 {
		c.Database.HNSWM = 16
	}
	if c.Database.HNSWEFConstruct <= 0 {
		c.Database.HNSWEFConstruct = 200
	}

	if c.Extraction.Gemini.VisionModel == "" {
		c.Extraction.Gemini.VisionModel = "gemini-2.5-flash"
	}
	if c.Extraction.Gemini.EmbeddingModel == "" {
		c.Extraction.Gemini.EmbeddingModel = "text-embedding-004"
	}
	if c.Extraction.Gemini.Dimensions <= 0 {
		c.Extraction.Gemini.Dimensions = 768
	}
	if c.Extraction.Clip.Dimensions <= 0 {
		c.Extraction.Clip.Dimensions = 512
	}
	if c.Extraction.TimeoutSec <= 0 {
		c.Extraction.TimeoutSec = 60
	}
	if c.Extraction.RatePerSecond > 0 && c.Extraction.Burst <= 0 {
		c.Extraction.Burst = 1
	}

	if c.Matching.DefaultThreshold == 0 {
		c.Matching.DefaultThreshold = 0.85
	}
	if c.Matching.StrictThreshold == 0 {
		c.Matching.StrictThreshold = 0.90
	}

	if c.Video.FFmpegPath == "" {
		c.Video.FFmpegPath = "ffmpeg"
	}
	if c.Video.FFprobePath == "" {
		c.Video.FFprobePath = "ffprobe"
	}
	if c.Video.FrameWidth <= 0 {
		c.Video.FrameWidth = 512
	}
	if c.Video.FrameConcurrency <= 0 {
		c.Video.FrameConcurrency = 1
	}

	if c.Upload.MaxBytes <= 0 {
		c.Upload.MaxBytes = 100 << 20
	}
	if c.Upload.MaxImageDimension <= 0 {
		c.Upload.MaxImageDimension = 512
	}

	if c.Cache.TTLSec <= 0 {
		c.Cache.TTLSec = 86400
	}
	if len(c.Cache.Addrs) == 0 && c.Database.Driver == DriverRedis {
		c.Cache.Addrs = c.Database.Addrs
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}

	switch c.Database.Driver {
	case DriverRedis, DriverQdrant:
		if len(c.Database.Addrs) == 0 {
			return fmt.Errorf("database.addrs is required for driver %q", c.Database.Driver)
		}
	case DriverPostgres:
		if c.Database.DSN == "" {
			return errors.New("database.dsn is required for driver \"postgres\"")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("database.driver must be one of redis, postgres, qdrant, memory, got %q", c.Database.Driver)
	}
	if c.Database.SeedFile != "" && c.Database.Driver != DriverMemory {
		return errors.New("database.seed_file is only supported by the memory driver")
	}

	if c.Extraction.Gemini.APIKey == "" && c.Extraction.Clip.APIKey == "" {
		return fmt.Errorf("%w: set extraction.gemini.api_key or extraction.clip.api_key", domain.ErrNotConfigured)
	}
	if c.Extraction.RatePerSecond < 0 {
		return fmt.Errorf("extraction.rate_per_second must not be negative, got %g", c.Extraction.RatePerSecond)
	}

	for name, v := range map[string]float64{
		"matching.default_threshold": c.Matching.DefaultThreshold,
		"matching.strict_threshold":  c.Matching.StrictThreshold,
	} {
		if v < 0 || v >= 1 {
			return fmt.Errorf("%s must be in [0, 1), got %g", name, v)
		}
	}

	if c.Cache.Enabled && len(c.Cache.Addrs) == 0 {
		return errors.New("cache.addrs is required when cache is enabled with a non-redis database")
	}
	return nil
}

// PrimarySpace is the embedding space the reference corpus is stored in:
// the description space when the vision backend is configured, else the
// image space of the fallback.
func (c *Config) PrimarySpace() domain.EmbeddingSpace {
	if c.Extraction.Gemini.APIKey != "" {
		return domain.DescriptionSpace(c.Extraction.Gemini.Dimensions)
	}
	return domain.ImageSpace(c.Extraction.Clip.Dimensions)
}

// QueryTimeout returns the per-call store timeout.
func (c *Config) QueryTimeout() time.Duration {
	return time.Duration(c.Database.QueryTimeoutSec) * time.Second
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
