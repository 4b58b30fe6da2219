package config

import (
	"net"
	"net/url"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Config holds the core runtime configuration for the detector.
// Values are primarily sourced from environment variables, with
// sensible defaults where appropriate. See .env.example.
type Config struct {
	// DatabaseURL is a postgres:// or sqlite: URL. When empty it is
	// assembled from the DB* fields below.
	DatabaseURL string

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	// WindowMinutes is the trailing window fetched per detection cycle.
	WindowMinutes int
	// ScoreThreshold selects windows whose score is strictly below it.
	ScoreThreshold float64
	// FetchLimit caps the number of rows a single fetch may return.
	// Zero leaves the fetch uncapped.
	FetchLimit int

	ForestTrees         int
	ForestMaxSamples    int
	ForestContamination float64
	ForestSeed          int64
	ForestWorkers       int

	LogLevel string
	// LogFile, when set, receives a rotated copy of every log record.
	LogFile string

	// PushgatewayURL enables pushing cycle metrics at the end of `detect`.
	PushgatewayURL string

	ListenAddr string

	// APITokenHash is a bcrypt hash of the bearer token accepted by the
	// inspection API. If empty, the API is served without authentication.
	APITokenHash string

	// RetentionDays is how long persisted anomalies are kept before the
	// retention pass deletes them.
	RetentionDays int
}

// Load reads configuration from environment variables and applies
// defaults for anything missing or invalid.
func Load() *Config {
	cfg := &Config{
		DatabaseURL:         os.Getenv("APP_DATABASE_URL"),
		DBHost:              getenv("APP_DB_HOST", "localhost"),
		DBPort:              getint("APP_DB_PORT", 5432),
		DBName:              getenv("APP_DB_NAME", "logs"),
		DBUser:              getenv("APP_DB_USER", "postgres"),
		DBPassword:          os.Getenv("APP_DB_PASSWORD"),
		DBSSLMode:           getenv("APP_DB_SSLMODE", "disable"),
		WindowMinutes:       getint("APP_WINDOW_MINUTES", 30),
		ScoreThreshold:      getfloat("APP_SCORE_THRESHOLD", -0.5),
		FetchLimit:          100000,
		ForestTrees:         getint("APP_FOREST_TREES", 100),
		ForestMaxSamples:    getint("APP_FOREST_MAX_SAMPLES", 256),
		ForestContamination: 0.05,
		ForestSeed:          42,
		ForestWorkers:       getint("APP_FOREST_WORKERS", runtime.GOMAXPROCS(0)),
		LogLevel:            getenv("APP_LOG_LEVEL", "info"),
		LogFile:             os.Getenv("APP_LOG_FILE"),
		PushgatewayURL:      os.Getenv("APP_PUSHGATEWAY_URL"),
		ListenAddr:          getenv("APP_LISTEN_ADDR", ":8080"),
		APITokenHash:        os.Getenv("APP_API_TOKEN_HASH"),
		RetentionDays:       getint("APP_RETENTION_DAYS", 30),
	}

	// Contamination must lie in (0, 0.5]; anything else keeps the default.
	if v := os.Getenv("APP_FOREST_CONTAMINATION"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 && f <= 0.5 {
			cfg.ForestContamination = f
		}
	}
	// Zero disables the fetch cap.
	if v := os.Getenv("APP_FETCH_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.FetchLimit = n
		}
	}
	// Zero is a valid seed, so it is parsed separately from getint.
	if v := os.Getenv("APP_FOREST_SEED"); v != "" {
		if seed, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.ForestSeed = seed
		}
	}

	return cfg
}

// DSN returns the store URL, building a postgres URL from the discrete
// host/port/database settings when APP_DATABASE_URL is not set.
func (c *Config) DSN() string {
	if dsn := strings.TrimSpace(c.DatabaseURL); dsn != "" {
		return dsn
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(c.DBHost, strconv.Itoa(c.DBPort)),
		Path:   "/" + c.DBName,
	}
	if c.DBUser != "" {
		if c.DBPassword != "" {
			u.User = url.UserPassword(c.DBUser, c.DBPassword)
		} else {
			u.User = url.User(c.DBUser)
		}
	}
	if c.DBSSLMode != "" {
		u.RawQuery = "sslmode=" + url.QueryEscape(c.DBSSLMode)
	}
	return u.String()
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getint(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func getfloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
