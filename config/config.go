package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Geofence  GeofenceConfig
	Location  LocationConfig
	Events    EventsConfig
	Firebase  FirebaseConfig
	RabbitMQ  RabbitMQConfig
	Redis     RedisConfig
	Log       LogConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port         string
	Env          string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type DatabaseConfig struct {
	DSN             string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	// TimeZone is used to derive session dates.
	TimeZone string
}

type GeofenceConfig struct {
	// Policy is "first" or "nearest".
	Policy string
}

type LocationConfig struct {
	RequestTimeout time.Duration
	MaxFixAge      time.Duration
	// MaxFixSkew bounds how far a reported fix may be ahead of server time.
	MaxFixSkew     time.Duration
}

type EventsConfig struct {
	QueueSize int
}

// FirebaseConfig enables push when CredentialsFile is set.
type FirebaseConfig struct {
	CredentialsFile string
}

// RabbitMQConfig enables event publishing when URL is set.
type RabbitMQConfig struct {
	URL   string
	Queue string
}

// RedisConfig enables the status mirror when Addr is set.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	Channel   string
	StatusTTL time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

type RateLimitConfig struct {
	RequestsPerMinute int
}

// Load reads .env if present, then builds the config from defaults and
// environment overrides.
func Load() *Config {
	_ = godotenv.Load()
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8099"),
			Env:          getEnv("APP_ENV", "development"),
			ReadTimeout:  getDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			DSN:             getEnv("DATABASE_DSN", "fieldclock:fieldclock@tcp(localhost:3306)/fieldclock?charset=utf8mb4&parseTime=True&loc=UTC"),
			MaxIdleConns:    getInt("DATABASE_MAX_IDLE_CONNS", 10),
			MaxOpenConns:    getInt("DATABASE_MAX_OPEN_CONNS", 100),
			ConnMaxLifetime: getDuration("DATABASE_CONN_MAX_LIFETIME", time.Hour),
			TimeZone:        getEnv("TIMECLOCK_TIMEZONE", "UTC"),
		},
		Geofence: GeofenceConfig{
			Policy: getEnv("GEOFENCE_POLICY", "first"),
		},
		Location: LocationConfig{
			RequestTimeout: getDuration("LOCATION_REQUEST_TIMEOUT", 10*time.Second),
			MaxFixAge:      getDuration("LOCATION_MAX_FIX_AGE", 30*time.Second),
			MaxFixSkew:     getDuration("LOCATION_MAX_FIX_SKEW", time.Minute),
		},
		Events: EventsConfig{
			QueueSize: getInt("EVENT_QUEUE_SIZE", 64),
		},
		Firebase: FirebaseConfig{
			CredentialsFile: getEnv("FIREBASE_CREDENTIALS_FILE", ""),
		},
		RabbitMQ: RabbitMQConfig{
			URL:   getEnv("RABBITMQ_URL", ""),
			Queue: getEnv("RABBITMQ_QUEUE", "timeclock.events"),
		},
		Redis: RedisConfig{
			Addr:      getEnv("REDIS_ADDR", ""),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getInt("REDIS_DB", 0),
			Channel:   getEnv("REDIS_CHANNEL", "timeclock:events"),
			StatusTTL: getDuration("REDIS_STATUS_TTL", 24*time.Hour),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: getInt("RATE_LIMIT_PER_MINUTE", 120),
		},
	}
}

// IsProduction reports whether gin should run in release mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Server.Env, "production")
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return v
	}
	return fallback
}

// getDuration accepts Go durations ("15s") or plain seconds ("15").
func getDuration(key string, fallback time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
