package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App       AppConfig
	Log       LogConfig
	Storage   StorageConfig
	DB        DBConfig
	Redis     RedisConfig
	Cache     CacheConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Click     ClickConfig
	Geo       GeoConfig
	Links     LinksConfig
}

type AppConfig struct {
	Port           string
	BaseURL        string
	FallbackURL    string
	ReservedRoutes []string
}

type LogConfig struct {
	Level string
}

// StorageConfig выбирает реализацию хранилища ссылок: postgres или memory
type StorageConfig struct {
	Driver string
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	Migrate  bool
}

// DSN строка подключения в формате postgres://
func (c DBConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Name,
	)
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type CacheConfig struct {
	Enabled bool
	TTL     time.Duration
}

type AuthConfig struct {
	JWTSecret string
	APIKeys   map[string]string // API key -> owner id
}

type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

// ClickConfig параметры пула записи кликов
type ClickConfig struct {
	Workers       int
	Buffer        int
	RecordTimeout time.Duration
}

type GeoConfig struct {
	Enabled  bool
	BaseURL  string
	Timeout  time.Duration
	CacheTTL time.Duration
}

type LinksConfig struct {
	BlockedDomains []string
}

const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"
)

// DefaultReservedRoutes сегменты, которые принадлежат приложению и никогда не считаются коротким кодом
var DefaultReservedRoutes = []string{
	"sign-in", "sign-up", "dashboard", "profile", "settings", "api", "health", "metrics",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_PORT", "8080")
	v.SetDefault("APP_BASE_URL", "http://localhost:8080")
	v.SetDefault("APP_FALLBACK_URL", "/")
	v.SetDefault("APP_RESERVED_ROUTES", strings.Join(DefaultReservedRoutes, ","))
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STORAGE_DRIVER", StorageDriverPostgres)
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_MIGRATE", true)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("CACHE_ENABLED", true)
	v.SetDefault("CACHE_TTL", time.Hour)
	v.SetDefault("RATE_LIMIT_RPS", 10)
	v.SetDefault("RATE_LIMIT_BURST", 20)
	v.SetDefault("CLICK_WORKERS", 3)
	v.SetDefault("CLICK_BUFFER", 1000)
	v.SetDefault("CLICK_RECORD_TIMEOUT", 5*time.Second)
	v.SetDefault("GEO_ENABLED", true)
	v.SetDefault("GEO_BASE_URL", "http://ip-api.com/json")
	v.SetDefault("GEO_TIMEOUT", 2*time.Second)
	v.SetDefault("GEO_CACHE_TTL", 24*time.Hour)
	v.SetDefault("BLOCKED_DOMAINS", "malware.com,phishing.com,spam.com")
}

// Load читает конфигурацию из .env (если файл есть) и переменных окружения
func Load() (*Config, error) {
	return LoadFile(".env")
}

// LoadFile как Load, но с явным путём к env-файлу. Отсутствующий файл не ошибка.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			v.SetConfigType("env")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	cfg.App.Port = v.GetString("APP_PORT")
	cfg.App.BaseURL = strings.TrimRight(v.GetString("APP_BASE_URL"), "/")
	cfg.App.FallbackURL = v.GetString("APP_FALLBACK_URL")
	cfg.App.ReservedRoutes = splitList(v.GetString("APP_RESERVED_ROUTES"))
	cfg.Log.Level = strings.ToLower(v.GetString("LOG_LEVEL"))

	cfg.Storage.Driver = strings.ToLower(v.GetString("STORAGE_DRIVER"))
	if cfg.Storage.Driver != StorageDriverPostgres && cfg.Storage.Driver != StorageDriverMemory {
		return nil, fmt.Errorf("unknown STORAGE_DRIVER %q", cfg.Storage.Driver)
	}

	cfg.DB.Host = v.GetString("DB_HOST")
	cfg.DB.Port = v.GetString("DB_PORT")
	cfg.DB.User = v.GetString("DB_USER")
	cfg.DB.Password = v.GetString("DB_PASSWORD")
	cfg.DB.Name = v.GetString("DB_NAME")
	cfg.DB.Migrate = v.GetBool("DB_MIGRATE")

	cfg.Redis.Host = v.GetString("REDIS_HOST")
	cfg.Redis.Port = v.GetString("REDIS_PORT")
	cfg.Redis.Password = v.GetString("REDIS_PASSWORD")
	cfg.Redis.DB = v.GetInt("REDIS_DB")

	cfg.Cache.Enabled = v.GetBool("CACHE_ENABLED")
	cfg.Cache.TTL = v.GetDuration("CACHE_TTL")

	// Auth: API ключи в формате key1:owner1,key2:owner2
	cfg.Auth.JWTSecret = v.GetString("AUTH_JWT_SECRET")
	cfg.Auth.APIKeys = parseAPIKeys(v.GetString("API_KEYS"))

	cfg.RateLimit.RequestsPerSecond = v.GetFloat64("RATE_LIMIT_RPS")
	cfg.RateLimit.BurstSize = v.GetInt("RATE_LIMIT_BURST")

	cfg.Click.Workers = v.GetInt("CLICK_WORKERS")
	cfg.Click.Buffer = v.GetInt("CLICK_BUFFER")
	cfg.Click.RecordTimeout = v.GetDuration("CLICK_RECORD_TIMEOUT")
	if cfg.Click.Workers <= 0 || cfg.Click.Buffer <= 0 {
		return nil, fmt.Errorf("CLICK_WORKERS and CLICK_BUFFER must be positive")
	}

	cfg.Geo.Enabled = v.GetBool("GEO_ENABLED")
	cfg.Geo.BaseURL = v.GetString("GEO_BASE_URL")
	cfg.Geo.Timeout = v.GetDuration("GEO_TIMEOUT")
	cfg.Geo.CacheTTL = v.GetDuration("GEO_CACHE_TTL")

	cfg.Links.BlockedDomains = splitList(v.GetString("BLOCKED_DOMAINS"))

	return &cfg, nil
}

// parseAPIKeys parses comma-separated API keys in format "key1:owner1,key2:owner2"
func parseAPIKeys(raw string) map[string]string {
	keys := make(map[string]string)
	if raw == "" {
		return keys
	}

	pairs := strings.Split(raw, ",")
	for _, pair := range pairs {
		parts := strings.SplitN(strings.TrimSpace(pair), ":", 2)
		if len(parts) == 2 {
			keys[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}

	return keys
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
