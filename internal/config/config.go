package config

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

type Config struct {
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
	ServerPort string

	// Storage selects the account and ledger backend.
	Storage string
	// RedisURL is optional; sessions are kept in process when it is empty.
	RedisURL string

	JWTSecret string
	JWTTTL    time.Duration

	EmbeddingSealKey   []byte
	ExtractorURL       string
	FaceMatchThreshold float64

	SessionTTL    time.Duration
	MaxAttempts   int
	SweepInterval time.Duration
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file found, relying on system environment variables")
	}

	cfg := &Config{
		DBHost:       getEnv("DB_HOST", "localhost"),
		DBPort:       getEnv("DB_PORT", "5432"),
		DBUser:       getEnv("DB_USER", "postgres"),
		DBPassword:   getEnv("DB_PASSWORD", "password"),
		DBName:       getEnv("DB_NAME", "facepay"),
		DBSSLMode:    getEnv("DB_SSLMODE", "disable"),
		ServerPort:   getEnv("SERVER_PORT", "8080"),
		Storage:      getEnv("STORAGE", StoragePostgres),
		RedisURL:     getEnv("REDIS_URL", ""),
		JWTSecret:    getEnv("JWT_SECRET", ""),
		ExtractorURL: getEnv("EXTRACTOR_URL", "http://localhost:8500/v1/embed"),
	}

	var err error
	if cfg.JWTTTL, err = getDuration("JWT_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.SessionTTL, err = getDuration("FACEPAY_SESSION_TTL", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = getDuration("SWEEP_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if cfg.MaxAttempts, err = getInt("FACEPAY_MAX_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if cfg.FaceMatchThreshold, err = getFloat("FACE_MATCH_THRESHOLD", 0.80); err != nil {
		return nil, err
	}
	if cfg.EmbeddingSealKey, err = getKey("EMBEDDING_SEAL_KEY"); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Storage != StoragePostgres && c.Storage != StorageMemory {
		return fmt.Errorf("STORAGE must be %q or %q, got %q", StoragePostgres, StorageMemory, c.Storage)
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if len(c.EmbeddingSealKey) != 32 {
		return fmt.Errorf("EMBEDDING_SEAL_KEY must decode to 32 bytes")
	}
	if c.FaceMatchThreshold <= 0 || c.FaceMatchThreshold > 1 {
		return fmt.Errorf("FACE_MATCH_THRESHOLD must be in (0, 1]")
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("FACEPAY_MAX_ATTEMPTS must be at least 1")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("FACEPAY_SESSION_TTL must be positive")
	}
	return nil
}

// DSN is the lib/pq connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

// getEnv fetches environment variable or returns default value
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getInt(key string, defaultValue int) (int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getFloat(key string, defaultValue float64) (float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func getKey(key string) ([]byte, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return nil, nil
	}
	b, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}
