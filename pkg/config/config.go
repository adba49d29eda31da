package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database      DatabaseConfig
	Redis         RedisConfig
	CORS          CORSConfig
	Log           LogConfig
	Offers        OffersConfig
	Sweep         SweepConfig
	Capacity      CapacityConfig
	Notifications NotificationsConfig
	Exports       ExportsConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// OffersConfig carries facility-independent defaults for the offer lifecycle.
// Per-facility settings override these at offer creation time.
type OffersConfig struct {
	DefaultWindowHours int
	ReserveRetries     int
	ReserveBackoff     time.Duration
	ReminderLead       time.Duration
}

// SweepConfig controls the background expiry sweep.
type SweepConfig struct {
	Enabled   bool
	Interval  time.Duration
	BatchSize int
	Workers   int
}

// CapacityConfig tunes the advisory capacity snapshot cache.
type CapacityConfig struct {
	SnapshotTTL time.Duration
}

// NotificationsConfig gates outbound parent/provider notifications.
type NotificationsConfig struct {
	Enabled bool
}

// ExportsConfig gates the waitlist export endpoints.
type ExportsConfig struct {
	Enabled bool
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Offers = OffersConfig{
		DefaultWindowHours: v.GetInt("OFFER_DEFAULT_WINDOW_HOURS"),
		ReserveRetries:     v.GetInt("OFFER_RESERVE_RETRIES"),
		ReserveBackoff:     parseDuration(v.GetString("OFFER_RESERVE_BACKOFF"), 50*time.Millisecond),
		ReminderLead:       parseDuration(v.GetString("OFFER_REMINDER_LEAD"), 12*time.Hour),
	}

	cfg.Sweep = SweepConfig{
		Enabled:   v.GetBool("ENABLE_OFFER_SWEEP"),
		Interval:  parseDuration(v.GetString("OFFER_SWEEP_INTERVAL"), 5*time.Minute),
		BatchSize: v.GetInt("OFFER_SWEEP_BATCH_SIZE"),
		Workers:   v.GetInt("OFFER_SWEEP_WORKERS"),
	}

	cfg.Capacity = CapacityConfig{
		SnapshotTTL: parseDuration(v.GetString("CAPACITY_SNAPSHOT_TTL"), 30*time.Second),
	}

	cfg.Notifications = NotificationsConfig{
		Enabled: v.GetBool("ENABLE_NOTIFICATIONS"),
	}

	cfg.Exports = ExportsConfig{
		Enabled: v.GetBool("ENABLE_WAITLIST_EXPORTS"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "care_waitlist")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("OFFER_DEFAULT_WINDOW_HOURS", 48)
	v.SetDefault("OFFER_RESERVE_RETRIES", 3)
	v.SetDefault("OFFER_RESERVE_BACKOFF", "50ms")
	v.SetDefault("OFFER_REMINDER_LEAD", "12h")

	v.SetDefault("ENABLE_OFFER_SWEEP", true)
	v.SetDefault("OFFER_SWEEP_INTERVAL", "5m")
	v.SetDefault("OFFER_SWEEP_BATCH_SIZE", 100)
	v.SetDefault("OFFER_SWEEP_WORKERS", 2)

	v.SetDefault("CAPACITY_SNAPSHOT_TTL", "30s")

	v.SetDefault("ENABLE_NOTIFICATIONS", true)
	v.SetDefault("ENABLE_WAITLIST_EXPORTS", false)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
