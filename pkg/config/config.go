package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Storage drivers for the message store and booking collaborator
const (
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
	DriverMemory   = "memory"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server struct {
		Port    string
		Env     string
		Timeout time.Duration
		BaseURL string
	}

	// Database configuration
	Database struct {
		Driver   string
		Host     string
		Port     string
		User     string
		Password string
		Name     string
		SSLMode  string
		MaxConns int
		Timeout  time.Duration
		Retries  int
	}

	// Mongo configuration, used when Database.Driver is "mongo"
	Mongo struct {
		URI      string
		Database string
	}

	// Redis configuration
	Redis struct {
		Enabled bool
		URL     string
	}

	// JWT configuration
	JWT struct {
		Secret      string
		ExpiryHours time.Duration
	}

	// Security configuration
	Security struct {
		RateLimit      float64
		RateLimitBurst int
		AllowedOrigins []string
		TrustedProxies []string
		MaxBodySize    int64
	}

	// Logging configuration
	Logging struct {
		Level  string
		Format string
	}

	// Chat configuration
	Chat struct {
		SendBuffer      int
		WriteTimeout    time.Duration
		PongTimeout     time.Duration
		MaxFrameSize    int64
		EventRate       float64
		EventBurst      int
		BookingCacheTTL time.Duration
		UploadDir       string
		MaxUploadSize   int64
		MediaBaseURL    string
	}

	// Observability configuration
	Observability struct {
		TracingEnabled bool
		ServiceName    string
	}

	// GRPC configuration
	GRPC struct {
		Enabled bool
		Port    string
	}

	// Vault configuration
	Vault struct {
		Enabled bool
		Address string
		Token   string
		Path    string
	}

	// OpenAPI configuration
	OpenAPI struct {
		Validate   bool
		SchemaPath string
	}
}

var (
	instance *Config
	once     sync.Once
)

// New creates a new Config instance with values from environment variables
// Uses singleton pattern to ensure only one instance exists
func New() *Config {
	once.Do(func() {
		// Load .env file if exists
		_ = godotenv.Load()

		instance = Load()
	})

	return instance
}

// Load reads a fresh Config from the environment without touching the singleton.
func Load() *Config {
	cfg := &Config{}

	// Server config
	cfg.Server.Port = getEnvString("PORT", "8081")
	cfg.Server.Env = getEnvString("APP_ENV", "development")
	cfg.Server.Timeout = getEnvDuration("SERVER_TIMEOUT", 30*time.Second)
	cfg.Server.BaseURL = getEnvString("BASE_URL", "http://localhost:"+cfg.Server.Port)

	// Database config
	cfg.Database.Driver = getEnvString("DB_DRIVER", DriverPostgres)
	cfg.Database.Host = getEnvString("DB_HOST", "localhost")
	cfg.Database.Port = getEnvString("DB_PORT", "5432")
	cfg.Database.User = getEnvString("DB_USER", "postgres")
	cfg.Database.Password = getEnvString("DB_PASSWORD", "postgres")
	cfg.Database.Name = getEnvString("DB_NAME", "marketplace")
	cfg.Database.SSLMode = getEnvString("DB_SSL_MODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 20)
	cfg.Database.Timeout = getEnvDuration("DB_TIMEOUT", 5*time.Second)
	cfg.Database.Retries = getEnvInt("DB_RETRIES", 5)

	cfg.Mongo.URI = getEnvString("MONGO_URI", "mongodb://localhost:27017")
	cfg.Mongo.Database = getEnvString("MONGO_DB", "marketplace")

	cfg.Redis.Enabled = getEnvBool("REDIS_ENABLED", true)
	cfg.Redis.URL = getEnvString("REDIS_URL", "redis://localhost:6379/0")

	// JWT config
	cfg.JWT.Secret = getEnvString("JWT_SECRET", "default-jwt-secret-do-not-use-in-production")
	cfg.JWT.ExpiryHours = getEnvDuration("JWT_EXPIRY", 24*time.Hour)

	// Security config
	cfg.Security.RateLimit = getEnvFloat("RATE_LIMIT", 5)
	cfg.Security.RateLimitBurst = getEnvInt("RATE_LIMIT_BURST", 10)
	cfg.Security.AllowedOrigins = getEnvStringSlice("ALLOWED_ORIGINS", []string{"*"})
	cfg.Security.TrustedProxies = getEnvStringSlice("TRUSTED_PROXIES", []string{"127.0.0.1"})
	cfg.Security.MaxBodySize = getEnvInt64("MAX_BODY_SIZE", 10<<20) // 10MB

	// Logging config
	cfg.Logging.Level = getEnvString("LOG_LEVEL", "info")
	cfg.Logging.Format = getEnvString("LOG_FORMAT", "json")

	// Chat config
	cfg.Chat.SendBuffer = getEnvInt("CHAT_SEND_BUFFER", 64)
	cfg.Chat.WriteTimeout = getEnvDuration("CHAT_WRITE_TIMEOUT", 10*time.Second)
	cfg.Chat.PongTimeout = getEnvDuration("CHAT_PONG_TIMEOUT", 60*time.Second)
	cfg.Chat.MaxFrameSize = getEnvInt64("CHAT_MAX_FRAME_SIZE", 64<<10)
	cfg.Chat.EventRate = getEnvFloat("CHAT_EVENT_RATE", 10)
	cfg.Chat.EventBurst = getEnvInt("CHAT_EVENT_BURST", 20)
	cfg.Chat.BookingCacheTTL = getEnvDuration("CHAT_BOOKING_CACHE_TTL", 30*time.Second)
	cfg.Chat.UploadDir = getEnvString("CHAT_UPLOAD_DIR", "./uploads")
	cfg.Chat.MaxUploadSize = getEnvInt64("CHAT_MAX_UPLOAD_SIZE", 8<<20) // 8MB
	cfg.Chat.MediaBaseURL = getEnvString("CHAT_MEDIA_BASE_URL", "/uploads")

	cfg.Observability.TracingEnabled = getEnvBool("TRACING_ENABLED", false)
	cfg.Observability.ServiceName = getEnvString("SERVICE_NAME", "marketplace-chat")

	cfg.GRPC.Enabled = getEnvBool("GRPC_ENABLED", true)
	cfg.GRPC.Port = getEnvString("GRPC_PORT", "9091")

	cfg.Vault.Enabled = getEnvBool("VAULT_ENABLED", false)
	cfg.Vault.Address = getEnvString("VAULT_ADDR", "http://127.0.0.1:8200")
	cfg.Vault.Token = getEnvString("VAULT_TOKEN", "")
	cfg.Vault.Path = getEnvString("VAULT_SECRET_PATH", "marketplace-chat")

	cfg.OpenAPI.Validate = getEnvBool("OPENAPI_VALIDATE", true)
	cfg.OpenAPI.SchemaPath = getEnvString("OPENAPI_SCHEMA_PATH", "")

	return cfg
}

// Get returns the singleton Config instance
func Get() *Config {
	if instance == nil {
		return New()
	}
	return instance
}

// IsProduction reports whether the server runs with APP_ENV=production
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// Helper functions to read environment variables with default values

func getEnvString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}
