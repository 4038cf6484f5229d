package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Mode selects between a live external dependency and a local fallback.
// It is resolved once at load time so call sites never branch on
// environment presence.
type Mode string

const (
	ModeLive     Mode = "live"
	ModeFallback Mode = "fallback"
)

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Storage    StorageConfig
	Queue      QueueConfig
	Logging    LoggingConfig
	Metrics    MetricsConfig
	Tracing    TracingConfig
	Render     RenderConfig
	Engines    EnginesConfig
	LipSync    LipSyncConfig
	Resilience ResilienceConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// StorageConfig holds object storage configuration
type StorageConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	Region          string
	UseSSL          bool
}

// QueueConfig holds message queue configuration
type QueueConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Vhost    string
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// MetricsConfig holds the Prometheus endpoint configuration
type MetricsConfig struct {
	Port int
}

// TracingConfig holds Jaeger configuration
type TracingConfig struct {
	ServiceName    string
	JaegerEndpoint string
	Enabled        bool
}

// RenderConfig holds encoder and workspace configuration
type RenderConfig struct {
	FFmpegPath      string
	TempDir         string
	AudioBitrate    string
	AudioSampleRate int
}

// EnginesConfig holds avatar backend configuration
type EnginesConfig struct {
	UE5    UE5Config
	HeyGen HeyGenConfig
}

// UE5Config holds render-farm configuration. An empty BaseURL resolves the
// backend to fallback mode.
type UE5Config struct {
	BaseURL        string
	RequestTimeout time.Duration
	ProbeTimeout   time.Duration
}

// Mode reports whether the render farm is reachable configuration-wise
func (c UE5Config) Mode() Mode {
	if c.BaseURL == "" {
		return ModeFallback
	}
	return ModeLive
}

// HeyGenConfig holds hosted-avatar API configuration. An empty APIKey
// resolves the backend to fallback mode.
type HeyGenConfig struct {
	BaseURL        string
	APIKey         string
	RequestTimeout time.Duration
	PollInterval   time.Duration
	PollTimeout    time.Duration
}

// Mode reports whether the hosted-avatar API is configured
func (c HeyGenConfig) Mode() Mode {
	if c.APIKey == "" {
		return ModeFallback
	}
	return ModeLive
}

// LipSyncConfig holds the phoneme-analysis service configuration. An empty
// BaseURL resolves the service to fallback mode.
type LipSyncConfig struct {
	BaseURL        string
	RequestTimeout time.Duration
	FallbackFPS    int
}

// Mode reports whether the analysis service is configured
func (c LipSyncConfig) Mode() Mode {
	if c.BaseURL == "" {
		return ModeFallback
	}
	return ModeLive
}

// ResilienceConfig holds retry, circuit-breaker, and idempotency tuning.
// The defaults are starting points, not load-tested constants.
type ResilienceConfig struct {
	MaxAttempts       int
	RetryDelay        time.Duration
	BackoffMultiplier float64
	FailureThreshold  int
	BreakerTimeout    time.Duration
	IdempotencyWindow time.Duration
}

// Load reads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.readTimeout", "30s")
	viper.SetDefault("server.writeTimeout", "30s")
	viper.SetDefault("server.shutdownTimeout", "10s")

	// Database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.dbname", "renderdeck")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.maxConns", 25)
	viper.SetDefault("database.minConns", 5)

	// Redis defaults
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	// Storage defaults
	viper.SetDefault("storage.endpoint", "localhost:9000")
	viper.SetDefault("storage.accessKeyID", "minioadmin")
	viper.SetDefault("storage.secretAccessKey", "minioadmin")
	viper.SetDefault("storage.bucketName", "renders")
	viper.SetDefault("storage.region", "us-east-1")
	viper.SetDefault("storage.useSSL", false)

	// Queue defaults
	viper.SetDefault("queue.host", "localhost")
	viper.SetDefault("queue.port", 5672)
	viper.SetDefault("queue.user", "guest")
	viper.SetDefault("queue.password", "guest")
	viper.SetDefault("queue.vhost", "/")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output", "stdout")

	// Metrics defaults
	viper.SetDefault("metrics.port", 9091)

	// Tracing defaults
	viper.SetDefault("tracing.serviceName", "renderdeck")
	viper.SetDefault("tracing.jaegerEndpoint", "http://localhost:14268/api/traces")
	viper.SetDefault("tracing.enabled", false)

	// Render defaults
	viper.SetDefault("render.ffmpegPath", "ffmpeg")
	viper.SetDefault("render.tempDir", "/tmp/renderdeck")
	viper.SetDefault("render.audioBitrate", "192k")
	viper.SetDefault("render.audioSampleRate", 44100)

	// Engine defaults: empty URL/key means fallback mode
	viper.SetDefault("engines.ue5.baseURL", "")
	viper.SetDefault("engines.ue5.requestTimeout", "60s")
	viper.SetDefault("engines.ue5.probeTimeout", "3s")
	viper.SetDefault("engines.heygen.baseURL", "https://api.heygen.com/v1")
	viper.SetDefault("engines.heygen.apiKey", "")
	viper.SetDefault("engines.heygen.requestTimeout", "30s")
	viper.SetDefault("engines.heygen.pollInterval", "5s")
	viper.SetDefault("engines.heygen.pollTimeout", "10m")

	// Lip-sync defaults
	viper.SetDefault("lipsync.baseURL", "")
	viper.SetDefault("lipsync.requestTimeout", "30s")
	viper.SetDefault("lipsync.fallbackFPS", 30)

	// Resilience defaults
	viper.SetDefault("resilience.maxAttempts", 3)
	viper.SetDefault("resilience.retryDelay", "500ms")
	viper.SetDefault("resilience.backoffMultiplier", 2.0)
	viper.SetDefault("resilience.failureThreshold", 5)
	viper.SetDefault("resilience.breakerTimeout", "60s")
	viper.SetDefault("resilience.idempotencyWindow", "60s")
}
