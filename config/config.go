package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/joho/godotenv"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Client configures the client core and cmd/client.
type Client struct {
	APIBaseURL    string
	APITimeout    time.Duration
	CredentialsDB string
	RefreshDedupe bool
	LogLevel      string
	LogFormat     string
}

// Server configures the reference backend.
type Server struct {
	Port          string
	DBPath        string
	JWTSecret     []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	AuthRateLimit int
	AdminEmail    string
	AdminPassword string
	LogLevel      string
	LogFormat     string
}

const devJWTSecret = "food_delivery_dev_secret_change_me"

// LoadEnv reads a .env file when one exists. Variables already set in the
// environment win.
func LoadEnv(files ...string) error {
	err := godotenv.Load(files...)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load env: %w", err)
	}
	return nil
}

func LoadClient() (Client, error) {
	timeout, err := getDuration("API_TIMEOUT", 10*time.Second)
	if err != nil {
		return Client{}, err
	}
	dedupe, err := getBool("REFRESH_DEDUPE", false)
	if err != nil {
		return Client{}, err
	}
	return Client{
		APIBaseURL:    getEnv("API_BASE_URL", "http://localhost:8080/api"),
		APITimeout:    timeout,
		CredentialsDB: getEnv("CREDENTIALS_DB", "credentials.db"),
		RefreshDedupe: dedupe,
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFormat:     getEnv("LOG_FORMAT", "json"),
	}, nil
}

func LoadServer() (Server, error) {
	access, err := getDuration("JWT_ACCESS_TTL", 15*time.Minute)
	if err != nil {
		return Server{}, err
	}
	refresh, err := getDuration("JWT_REFRESH_TTL", 7*24*time.Hour)
	if err != nil {
		return Server{}, err
	}
	limit, err := getInt("AUTH_RATE_LIMIT", 10)
	if err != nil {
		return Server{}, err
	}
	return Server{
		Port:          getEnv("PORT", "8080"),
		DBPath:        getEnv("SERVER_DB", "food_delivery.db"),
		JWTSecret:     []byte(getEnv("JWT_SECRET", devJWTSecret)),
		AccessTTL:     access,
		RefreshTTL:    refresh,
		AuthRateLimit: limit,
		AdminEmail:    os.Getenv("ADMIN_EMAIL"),
		AdminPassword: os.Getenv("ADMIN_PASSWORD"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFormat:     getEnv("LOG_FORMAT", "json"),
	}, nil
}

// OpenDB opens a sqlite database through gorm. Migrations are left to the
// caller.
func OpenDB(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return db, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: must be positive", key)
	}
	return d, nil
}

func getBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
