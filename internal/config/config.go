package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Store kinds.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Store           string
	Database        DatabaseConfig
	Redis           RedisConfig
	JWT             JWTConfig
	Server          ServerConfig
	Scheduler       SchedulerConfig
	Log             LogConfig
	DefaultTimezone string
	SelfHosted      bool
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string //nolint:gosec // G117: DB connection config
	DBName   string
	SSLMode  string
	MaxConns int
}

// RedisConfig holds Redis connection settings. An empty Addr disables Redis;
// events and locks then stay in-process.
type RedisConfig struct {
	Addr     string
	Password string //nolint:gosec // G117: Redis connection config
	DB       int
}

// Enabled reports whether a Redis address is configured.
func (c RedisConfig) Enabled() bool { return c.Addr != "" }

// JWTConfig holds JWT authentication settings.
type JWTConfig struct {
	Secret     string //nolint:gosec // G117: JWT signing secret config
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
}

// SchedulerConfig controls background instance generation.
type SchedulerConfig struct {
	Enabled     bool
	Interval    time.Duration
	HorizonDays int
	Concurrency int
	BatchSize   int
	LockTTL     time.Duration
}

// LogConfig selects the zerolog level and output format ("json" or "text").
type LogConfig struct {
	Level  string
	Format string
}

// Load reads configuration from environment variables, after merging a .env
// file from the working directory when one exists. Variables already set in
// the environment win over .env entries.
// Defaults are safe for local development only. In production,
// sensitive values (JWT secret, DB password) must be set explicitly.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config.Load: reading .env: %w", err)
	}

	dbPort, err := getEnvInt("CADENCE_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	dbMaxConns, err := getEnvInt("CADENCE_DB_MAX_CONNS", 25)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	redisDB, err := getEnvInt("CADENCE_REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	accessTTL, err := getEnvDuration("CADENCE_JWT_ACCESS_TTL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	refreshTTL, err := getEnvDuration("CADENCE_JWT_REFRESH_TTL", 7*24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	readTimeout, err := getEnvDuration("CADENCE_SERVER_READ_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	writeTimeout, err := getEnvDuration("CADENCE_SERVER_WRITE_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	rps, err := getEnvFloat("CADENCE_RATE_LIMIT_RPS", 20)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	burst, err := getEnvInt("CADENCE_RATE_LIMIT_BURST", 40)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	schedEnabled, err := getEnvBool("CADENCE_SCHEDULER_ENABLED", true)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	schedInterval, err := getEnvDuration("CADENCE_SCHEDULER_INTERVAL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	horizonDays, err := getEnvInt("CADENCE_SCHEDULER_HORIZON_DAYS", 14)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	concurrency, err := getEnvInt("CADENCE_SCHEDULER_CONCURRENCY", 4)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	batchSize, err := getEnvInt("CADENCE_SCHEDULER_BATCH_SIZE", 500)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	lockTTL, err := getEnvDuration("CADENCE_SCHEDULER_LOCK_TTL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	selfHosted, err := getEnvBool("CADENCE_SELF_HOSTED", false)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	corsOrigins := getEnvList("CADENCE_CORS_ORIGINS", []string{"http://localhost:5173"})

	cfg := &Config{
		Store: getEnv("CADENCE_STORE", StorePostgres),
		Database: DatabaseConfig{
			Host:     getEnv("CADENCE_DB_HOST", "localhost"),
			Port:     dbPort,
			User:     getEnv("CADENCE_DB_USER", "cadence"),
			Password: getEnv("CADENCE_DB_PASSWORD", ""),
			DBName:   getEnv("CADENCE_DB_NAME", "cadence_dev"),
			SSLMode:  getEnv("CADENCE_DB_SSLMODE", "disable"),
			MaxConns: dbMaxConns,
		},
		Redis: RedisConfig{
			Addr:     getEnv("CADENCE_REDIS_ADDR", ""),
			Password: getEnv("CADENCE_REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		JWT: JWTConfig{
			Secret:     getEnv("CADENCE_JWT_SECRET", ""),
			AccessTTL:  accessTTL,
			RefreshTTL: refreshTTL,
		},
		Server: ServerConfig{
			Addr:           getEnv("CADENCE_SERVER_ADDR", ":8080"),
			ReadTimeout:    readTimeout,
			WriteTimeout:   writeTimeout,
			CORSOrigins:    corsOrigins,
			RateLimitRPS:   rps,
			RateLimitBurst: burst,
		},
		Scheduler: SchedulerConfig{
			Enabled:     schedEnabled,
			Interval:    schedInterval,
			HorizonDays: horizonDays,
			Concurrency: concurrency,
			BatchSize:   batchSize,
			LockTTL:     lockTTL,
		},
		Log: LogConfig{
			Level:  getEnv("CADENCE_LOG_LEVEL", "info"),
			Format: getEnv("CADENCE_LOG_FORMAT", "json"),
		},
		DefaultTimezone: getEnv("CADENCE_DEFAULT_TIMEZONE", "UTC"),
		SelfHosted:      selfHosted,
	}

	err = cfg.validate()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	return cfg, nil
}

// validate checks required fields and value bounds.
func (c *Config) validate() error {
	// JWT secret is required (no insecure default).
	if c.JWT.Secret == "" {
		return errors.New("CADENCE_JWT_SECRET is required")
	}
	if len(c.JWT.Secret) < 32 {
		return errors.New("CADENCE_JWT_SECRET must be at least 32 characters")
	}

	if c.Store != StorePostgres && c.Store != StoreMemory {
		return fmt.Errorf("CADENCE_STORE must be %q or %q, got %q", StorePostgres, StoreMemory, c.Store)
	}

	// DB SSL mode warning for non-self-hosted deployments.
	if c.Store == StorePostgres && c.Database.SSLMode == "disable" && !c.SelfHosted {
		log.Warn().Msg("CADENCE_DB_SSLMODE=disable is insecure for production; set to 'require' or 'verify-full'")
	}

	// Bounds checks.
	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("CADENCE_DB_PORT must be 1-65535, got %d", c.Database.Port)
	}
	if c.Database.MaxConns < 1 {
		return fmt.Errorf("CADENCE_DB_MAX_CONNS must be >= 1, got %d", c.Database.MaxConns)
	}
	if c.JWT.AccessTTL <= 0 {
		return fmt.Errorf("CADENCE_JWT_ACCESS_TTL must be positive, got %s", c.JWT.AccessTTL)
	}
	if c.JWT.RefreshTTL <= 0 {
		return fmt.Errorf("CADENCE_JWT_REFRESH_TTL must be positive, got %s", c.JWT.RefreshTTL)
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("CADENCE_SERVER_READ_TIMEOUT must be positive, got %s", c.Server.ReadTimeout)
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("CADENCE_SERVER_WRITE_TIMEOUT must be positive, got %s", c.Server.WriteTimeout)
	}
	if c.Server.RateLimitRPS <= 0 {
		return fmt.Errorf("CADENCE_RATE_LIMIT_RPS must be positive, got %g", c.Server.RateLimitRPS)
	}
	if c.Server.RateLimitBurst < 1 {
		return fmt.Errorf("CADENCE_RATE_LIMIT_BURST must be >= 1, got %d", c.Server.RateLimitBurst)
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("CADENCE_SCHEDULER_INTERVAL must be positive, got %s", c.Scheduler.Interval)
	}
	if c.Scheduler.HorizonDays < 0 || c.Scheduler.HorizonDays > 366 {
		return fmt.Errorf("CADENCE_SCHEDULER_HORIZON_DAYS must be 0-366, got %d", c.Scheduler.HorizonDays)
	}
	if c.Scheduler.Concurrency < 1 {
		return fmt.Errorf("CADENCE_SCHEDULER_CONCURRENCY must be >= 1, got %d", c.Scheduler.Concurrency)
	}
	if c.Scheduler.BatchSize < 1 {
		return fmt.Errorf("CADENCE_SCHEDULER_BATCH_SIZE must be >= 1, got %d", c.Scheduler.BatchSize)
	}
	if c.Scheduler.LockTTL <= 0 {
		return fmt.Errorf("CADENCE_SCHEDULER_LOCK_TTL must be positive, got %s", c.Scheduler.LockTTL)
	}
	if _, err := time.LoadLocation(c.DefaultTimezone); err != nil {
		return fmt.Errorf("CADENCE_DEFAULT_TIMEZONE %q: %w", c.DefaultTimezone, err)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("CADENCE_LOG_FORMAT must be json or text, got %q", c.Log.Format)
	}

	return nil
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as int: %w", key, v, err)
	}
	return n, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as float: %w", key, v, err)
	}
	return f, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parsing %s=%q as bool: %w", key, v, err)
	}
	return b, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as duration: %w", key, v, err)
	}
	return d, nil
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
