// Package config reads service settings from the environment. A .env file in
// the working directory is loaded first when present.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMongo    = "mongo"
)

type Config struct {
	StoreDriver string
	PostgresDSN string
	SQLitePath  string

	// QueueDriver overrides where jobs live; empty means the store driver.
	QueueDriver   string
	MongoURI      string
	MongoDatabase string

	RedisAddr       string
	GeocodeCacheTTL time.Duration

	NominatimURL       string
	NominatimUserAgent string

	HTTPAddr    string
	MetricsAddr string

	Workers        int
	PollInterval   time.Duration
	ReapInterval   time.Duration
	StaleAfter     time.Duration
	HandlerTimeout time.Duration

	Timezone      string
	OptimizeCron  string
	RemindersCron string

	ClusterEpsilonMi   float64
	ClusterMinPoints   int
	ClusterMaxRadiusMi float64
	AvgSpeedMPH        float64
	StopMinutes        float64

	EmailFrom string

	LogLevel  string
	LogFormat string
}

// Load reads .env (if any) and the environment. It does not validate.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		StoreDriver: envOr("STORE_DRIVER", DriverSQLite),
		PostgresDSN: os.Getenv("POSTGRES_DSN"),
		SQLitePath:  envOr("SQLITE_PATH", "data/field-route.db"),

		QueueDriver:   os.Getenv("QUEUE_DRIVER"),
		MongoURI:      os.Getenv("MONGO_URI"),
		MongoDatabase: envOr("MONGO_DATABASE", "field_route"),

		RedisAddr:       os.Getenv("REDIS_ADDR"),
		GeocodeCacheTTL: envDurationOr("GEOCODE_CACHE_TTL", 720*time.Hour),

		NominatimURL:       envOr("NOMINATIM_URL", "https://nominatim.openstreetmap.org"),
		NominatimUserAgent: envOr("NOMINATIM_USER_AGENT", "FieldRouteService/1.0"),

		HTTPAddr:    envOr("HTTP_ADDR", ":8080"),
		MetricsAddr: envOr("METRICS_ADDR", ":9090"),

		Workers:        envIntOr("WORKERS", 4),
		PollInterval:   envDurationOr("POLL_INTERVAL", 2*time.Second),
		ReapInterval:   envDurationOr("REAP_INTERVAL", 30*time.Second),
		StaleAfter:     envDurationOr("STALE_AFTER", 15*time.Minute),
		HandlerTimeout: envDurationOr("HANDLER_TIMEOUT", 5*time.Minute),

		Timezone:      envOr("TIMEZONE", "UTC"),
		OptimizeCron:  envOr("OPTIMIZE_CRON", "0 2 * * *"),
		RemindersCron: envOr("REMINDERS_CRON", "0 17 * * *"),

		ClusterEpsilonMi:   envFloatOr("CLUSTER_EPSILON_MI", 3),
		ClusterMinPoints:   envIntOr("CLUSTER_MIN_POINTS", 2),
		ClusterMaxRadiusMi: envFloatOr("CLUSTER_MAX_RADIUS_MI", 5),
		AvgSpeedMPH:        envFloatOr("AVG_SPEED_MPH", 30),
		StopMinutes:        envFloatOr("STOP_MINUTES", 15),

		EmailFrom: envOr("EMAIL_FROM", "no-reply@field-route.local"),

		LogLevel:  envOr("LOG_LEVEL", "info"),
		LogFormat: envOr("LOG_FORMAT", "text"),
	}
}

// JobDriver is where the job queue lives.
func (c Config) JobDriver() string {
	if c.QueueDriver != "" {
		return c.QueueDriver
	}
	return c.StoreDriver
}

// Location resolves Timezone.
func (c Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

func (c Config) Validate() error {
	var errs []error

	switch c.StoreDriver {
	case DriverPostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("POSTGRES_DSN is required when STORE_DRIVER=postgres"))
		}
	case DriverSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required when STORE_DRIVER=sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", DriverPostgres, DriverSQLite, c.StoreDriver))
	}

	switch c.QueueDriver {
	case "", c.StoreDriver:
	case DriverMongo:
		if c.MongoURI == "" {
			errs = append(errs, errors.New("MONGO_URI is required when QUEUE_DRIVER=mongo"))
		}
	default:
		errs = append(errs, fmt.Errorf("QUEUE_DRIVER must be empty, %q or the store driver, got %q", DriverMongo, c.QueueDriver))
	}

	if c.Workers < 1 {
		errs = append(errs, errors.New("WORKERS must be at least 1"))
	}
	if c.PollInterval <= 0 || c.ReapInterval <= 0 || c.StaleAfter <= 0 {
		errs = append(errs, errors.New("POLL_INTERVAL, REAP_INTERVAL and STALE_AFTER must be positive"))
	}
	// the reaper must not release a job whose handler can still be running
	if c.HandlerTimeout <= 0 || c.HandlerTimeout >= c.StaleAfter {
		errs = append(errs, errors.New("HANDLER_TIMEOUT must be positive and shorter than STALE_AFTER"))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, fmt.Errorf("TIMEZONE: %w", err))
	}
	if c.ClusterEpsilonMi <= 0 || c.ClusterMinPoints < 1 || c.ClusterMaxRadiusMi < 0 {
		errs = append(errs, errors.New("cluster settings out of range"))
	}
	if c.AvgSpeedMPH <= 0 {
		errs = append(errs, errors.New("AVG_SPEED_MPH must be positive"))
	}
	return errors.Join(errs...)
}

func envOr(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func envFloatOr(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envDurationOr(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

var dsnPassword = regexp.MustCompile(`://([^:/?#]+):([^@/]+)@`)

// RedactDSN masks the password of a URL-style DSN: user:pass@ -> user:****@.
func RedactDSN(dsn string) string {
	return dsnPassword.ReplaceAllString(dsn, `://$1:****@`)
}
