package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Scraper  ScraperConfig
	Browser  BrowserConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Jobs     JobsConfig
	Logging  LoggingConfig
	Metrics  MetricsConfig
}

type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	// RateLimitBurst and RateLimitRefill bound the parse endpoint.
	RateLimitBurst  int
	RateLimitRefill time.Duration
	AllowedOrigins  []string
}

type ScraperConfig struct {
	HostMarker     string
	DelayMin       time.Duration
	DelayMax       time.Duration
	Adaptive       bool
	SpecThreshold  int
	Timeout        time.Duration
	UserAgent      string
	AcceptLanguage string
	BatchSize      int
	OutputDir      string
	UseBrowser     bool
}

type BrowserConfig struct {
	Headless       bool
	Timeout        time.Duration
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	TimezoneID     string
	Locale         string
	ProxyServer    string
}

type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int32
}

type RedisConfig struct {
	Enabled       bool
	Addr          string
	Password      string
	DB            int
	Stream        string
	RelayInterval time.Duration
	RelayBatch    int
	// RequestStream carries parse requests for market-consumer.
	RequestStream string
	ConsumerGroup string
	ConsumerName  string
}

type JobsConfig struct {
	Workers int
}

type LoggingConfig struct {
	Level  string
	Format string
}

type MetricsConfig struct {
	// Enabled mounts /metrics on the API server.
	Enabled bool
}

// Load reads the configuration from the environment. A .env file in the
// working directory is applied first when present; variables already set
// in the environment win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:            getIntOrDefault("SERVER_PORT", 8080),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 90*time.Second),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			RateLimitBurst:  getIntOrDefault("SERVER_RATE_LIMIT_BURST", 5),
			RateLimitRefill: getDurationOrDefault("SERVER_RATE_LIMIT_REFILL", 2*time.Second),
			AllowedOrigins:  getStringSliceOrDefault("SERVER_ALLOWED_ORIGINS", []string{"*"}),
		},
		Scraper: ScraperConfig{
			HostMarker:     getEnvOrDefault("SCRAPER_HOST_MARKER", "market.yandex"),
			DelayMin:       getDurationOrDefault("SCRAPER_DELAY_MIN", time.Second),
			DelayMax:       getDurationOrDefault("SCRAPER_DELAY_MAX", 2500*time.Millisecond),
			Adaptive:       getBoolOrDefault("SCRAPER_ADAPTIVE_DELAY", true),
			SpecThreshold:  getIntOrDefault("SCRAPER_SPEC_THRESHOLD", 8),
			Timeout:        getDurationOrDefault("SCRAPER_TIMEOUT", 20*time.Second),
			UserAgent:      getEnvOrDefault("SCRAPER_USER_AGENT", ""),
			AcceptLanguage: getEnvOrDefault("SCRAPER_ACCEPT_LANGUAGE", ""),
			BatchSize:      getIntOrDefault("SCRAPER_BATCH_SIZE", 100),
			OutputDir:      getEnvOrDefault("SCRAPER_OUTPUT_DIR", "json"),
			UseBrowser:     getBoolOrDefault("SCRAPER_USE_BROWSER", false),
		},
		Browser: BrowserConfig{
			Headless:       getBoolOrDefault("BROWSER_HEADLESS", true),
			Timeout:        getDurationOrDefault("BROWSER_TIMEOUT", 30*time.Second),
			ViewportWidth:  getIntOrDefault("BROWSER_VIEWPORT_WIDTH", 1920),
			ViewportHeight: getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", 1080),
			AcceptLanguage: getEnvOrDefault("BROWSER_ACCEPT_LANGUAGE", "ru-RU,ru;q=0.9,en-US;q=0.8,en;q=0.7"),
			TimezoneID:     getEnvOrDefault("BROWSER_TIMEZONE", "Europe/Moscow"),
			Locale:         getEnvOrDefault("BROWSER_LOCALE", "ru-RU"),
			ProxyServer:    getEnvOrDefault("BROWSER_PROXY", ""),
		},
		Database: DatabaseConfig{
			Enabled:  getBoolOrDefault("DB_ENABLED", false),
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			Name:     getEnvOrDefault("DB_NAME", "market_scraper"),
			SSLMode:  getEnvOrDefault("DB_SSL_MODE", "disable"),
			MaxConns: int32(getIntOrDefault("DB_MAX_CONNS", 10)),
		},
		Redis: RedisConfig{
			Enabled:       getBoolOrDefault("REDIS_ENABLED", false),
			Addr:          getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password:      getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:            getIntOrDefault("REDIS_DB", 0),
			Stream:        getEnvOrDefault("REDIS_STREAM", "stream:market_products"),
			RelayInterval: getDurationOrDefault("REDIS_RELAY_INTERVAL", 5*time.Second),
			RelayBatch:    getIntOrDefault("REDIS_RELAY_BATCH", 100),
			RequestStream: getEnvOrDefault("REDIS_REQUEST_STREAM", "stream:market_parse_requests"),
			ConsumerGroup: getEnvOrDefault("REDIS_CONSUMER_GROUP", "market-scraper"),
			ConsumerName:  getEnvOrDefault("REDIS_CONSUMER_NAME", defaultConsumerName()),
		},
		Jobs: JobsConfig{
			Workers: getIntOrDefault("JOBS_WORKERS", 1),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "text"),
		},
		Metrics: MetricsConfig{
			Enabled: getBoolOrDefault("METRICS_ENABLED", true),
		},
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Scraper.HostMarker == "" {
		return fmt.Errorf("SCRAPER_HOST_MARKER is required")
	}

	if c.Scraper.DelayMin < 0 || c.Scraper.DelayMin > c.Scraper.DelayMax {
		return fmt.Errorf("SCRAPER_DELAY_MIN must be between 0 and SCRAPER_DELAY_MAX")
	}

	if c.Scraper.SpecThreshold < 1 {
		return fmt.Errorf("SCRAPER_SPEC_THRESHOLD must be at least 1")
	}

	if c.Scraper.BatchSize < 1 {
		return fmt.Errorf("SCRAPER_BATCH_SIZE must be at least 1")
	}

	if c.Database.Enabled && c.Database.Name == "" {
		return fmt.Errorf("database name is required")
	}

	if c.Redis.Enabled && !c.Database.Enabled {
		return fmt.Errorf("REDIS_ENABLED requires DB_ENABLED: events are relayed from the outbox")
	}

	if c.Jobs.Workers < 1 {
		return fmt.Errorf("at least 1 job worker is required")
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("unsupported LOG_FORMAT %q", c.Logging.Format)
	}

	return nil
}

// Addr is the listen address of the API server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func defaultConsumerName() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "consumer-1"
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}
