package config

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	DataDir     string
	DBPath      string
	StoreDriver string

	RedisAddr     string
	RedisUsername string
	RedisPassword string
	RedisDB       int

	TickInterval      time.Duration
	RetentionSchedule string
	RetentionMaxAge   time.Duration

	LogLevel string
}

func Load() Config {
	loadDotEnv(".env")
	dataDir := getEnv("EVENTD_DATA_DIR", "data")
	return Config{
		DataDir:     dataDir,
		DBPath:      getEnv("EVENTD_DB_PATH", filepath.Join(dataDir, "eventd.db")),
		StoreDriver: getEnv("EVENTD_STORE_DRIVER", "sqlite"),

		RedisAddr:     getEnv("EVENTD_REDIS_ADDR", "localhost:6379"),
		RedisUsername: getEnv("EVENTD_REDIS_USERNAME", ""),
		RedisPassword: getEnv("EVENTD_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("EVENTD_REDIS_DB", 0),

		TickInterval:      getEnvDuration("EVENTD_TICK_INTERVAL", 100*time.Millisecond),
		RetentionSchedule: getEnv("EVENTD_RETENTION_SCHEDULE", "0 3 * * *"),
		RetentionMaxAge:   getEnvDuration("EVENTD_RETENTION_MAX_AGE", 30*24*time.Hour),

		LogLevel: getEnv("EVENTD_LOG_LEVEL", "info"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

func loadDotEnv(path string) {
	file, err := os.Open(path)
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "export ") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		value = strings.TrimSpace(value)
		value = strings.Trim(value, `"'`)
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		_ = os.Setenv(key, value)
	}
}
