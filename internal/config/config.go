// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes harvester settings
// such as database connection parameters, upstream client limits, optional
// cache/event integrations, the admin HTTP server, logging, and observability.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DatabaseConfig holds connection parameters for the backing store.
type DatabaseConfig struct {
	Driver   string // postgres|sqlite
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	SSLMode  string
	Path     string // SQLite file path (sqlite driver only)
}

// DSN returns the PostgreSQL keyword/value connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		d.Host, d.User, d.Password, d.Name, d.Port, d.SSLMode,
	)
}

// OAIConfig defines limits for the OAI-PMH client.
type OAIConfig struct {
	Timeout   time.Duration // per HTTP request
	RPS       float64       // requests per second per endpoint; 0 disables throttling
	UserAgent string
}

// ResolverConfig defines the metadata resolution service client.
type ResolverConfig struct {
	URL     string
	Timeout time.Duration
	RPS     float64 // 0 disables throttling

	// Optional Redis read-through cache; disabled when RedisAddr is empty.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration
}

// KafkaConfig defines the optional outcome event publisher.
type KafkaConfig struct {
	Brokers []string // empty disables publishing
	Topic   string
}

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines HTTP security header behavior.
type SecurityConfig struct {
	EnableHSTS bool          // SECURITY_HSTS; only behind HTTPS end-to-end
	HSTSMaxAge time.Duration // SECURITY_HSTS_MAX_AGE
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// Config holds all configuration values for the application.
type Config struct {
	// Server (admin API)
	Port              string
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	GinMode           string // debug|release|test
	APIBasePath       string

	// Admin API rate limiting (per client IP)
	RateRPS   float64
	RateBurst int

	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool

	// Harvest
	EndpointsFile  string // YAML endpoints file
	BatchSize      int    // 0 = take it from the endpoints file
	RunParallelism int    // endpoints harvested concurrently by RunAll

	DB       DatabaseConfig
	OAI      OAIConfig
	Resolver ResolverConfig
	Kafka    KafkaConfig
	CORS     CORSConfig
	Security SecurityConfig
	OTEL     OTELConfig
}

// LoadDotEnv seeds the process environment from a .env file. Variables that
// are already set win. A missing file is not an error.
func LoadDotEnv(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),
		APIBasePath:       normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),
		RateRPS:           getfloat("API_RATE_RPS", 5),
		RateBurst:         getint("API_RATE_BURST", 10),

		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),

		EndpointsFile:  getenv("ENDPOINTS_FILE", "config/endpoints.yaml"),
		BatchSize:      getint("BATCH_SIZE", 0),
		RunParallelism: getint("RUN_PARALLELISM", 4),

		DB: DatabaseConfig{
			Driver:   strings.ToLower(getenv("DB_DRIVER", "postgres")),
			Host:     getenv("DB_HOST", "localhost"),
			Port:     getenv("DB_PORT", "5432"),
			Name:     getenv("DB_NAME", "harvester"),
			User:     getenv("DB_USER", "harvester"),
			Password: getenv("DB_PASSWORD", ""),
			SSLMode:  getenv("DB_SSLMODE", "disable"),
			Path:     getenv("DB_PATH", "harvester.db"),
		},
		OAI: OAIConfig{
			Timeout:   getdur("OAI_TIMEOUT", 60*time.Second),
			RPS:       getfloat("OAI_RPS", 2),
			UserAgent: getenv("OAI_USER_AGENT", "go-filemeta-harvester"),
		},
		Resolver: ResolverConfig{
			URL:           strings.TrimRight(getenv("RESOLVER_URL", "http://localhost:8000"), "/"),
			Timeout:       getdur("RESOLVER_TIMEOUT", 60*time.Second),
			RPS:           getfloat("RESOLVER_RPS", 0),
			RedisAddr:     getenv("REDIS_ADDR", ""),
			RedisPassword: getenv("REDIS_PASSWORD", ""),
			RedisDB:       getint("REDIS_DB", 0),
			CacheTTL:      getdur("RESOLVER_CACHE_TTL", 24*time.Hour),
		},
		Kafka: KafkaConfig{
			Brokers: splitCSV(getenv("KAFKA_BROKERS", "")),
			Topic:   getenv("KAFKA_TOPIC", "filemeta.harvest"),
		},
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("SECURITY_HSTS", false),
			HSTSMaxAge: getdur("SECURITY_HSTS_MAX_AGE", 180*24*time.Hour),
		},
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-filemeta-harvester"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	if cfg.DB.Driver == "postgresql" {
		cfg.DB.Driver = "postgres"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	switch cfg.DB.Driver {
	case "postgres":
		if strings.TrimSpace(cfg.DB.Host) == "" || strings.TrimSpace(cfg.DB.Name) == "" || strings.TrimSpace(cfg.DB.User) == "" {
			return cfg, errors.New("DB_HOST, DB_NAME and DB_USER must not be empty")
		}
	case "sqlite":
		if strings.TrimSpace(cfg.DB.Path) == "" {
			return cfg, errors.New("DB_PATH must not be empty")
		}
	default:
		return cfg, errors.New("DB_DRIVER must be one of: postgres, sqlite")
	}
	if cfg.RateRPS <= 0 || cfg.RateBurst <= 0 {
		return cfg, errors.New("API_RATE_RPS and API_RATE_BURST must be > 0")
	}
	if cfg.BatchSize < 0 {
		return cfg, errors.New("BATCH_SIZE must be >= 0")
	}
	if cfg.RunParallelism < 1 {
		return cfg, errors.New("RUN_PARALLELISM must be >= 1")
	}
	if cfg.OAI.Timeout <= 0 || cfg.Resolver.Timeout <= 0 {
		return cfg, errors.New("OAI_TIMEOUT and RESOLVER_TIMEOUT must be positive durations")
	}
	if cfg.OAI.RPS < 0 || cfg.Resolver.RPS < 0 {
		return cfg, errors.New("OAI_RPS and RESOLVER_RPS must be >= 0")
	}
	if strings.TrimSpace(cfg.Resolver.URL) == "" {
		return cfg, errors.New("RESOLVER_URL must not be empty")
	}
	if cfg.Resolver.CacheTTL <= 0 {
		return cfg, errors.New("RESOLVER_CACHE_TTL must be > 0")
	}
	if len(cfg.Kafka.Brokers) > 0 && strings.TrimSpace(cfg.Kafka.Topic) == "" {
		return cfg, errors.New("KAFKA_TOPIC must not be empty when KAFKA_BROKERS is set")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
