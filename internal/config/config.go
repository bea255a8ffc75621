package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv   string
	HTTPAddr string

	DatabaseURL    string
	PGMaxConns     int
	MigrationsPath string

	RedisAddr     string
	RedisPassword string

	WorkerConcurrency int
	BatchSize         int
	ItemMaxRetries    int
	TaskMaxRetries    int

	FetchTimeoutSeconds  int
	FetchRatePerSecond   float64
	CheckCacheTTLSeconds int

	JobRetentionDays int
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
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

func getenvFloat(key string, def float64) float64 {
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

func Load() Config {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := Config{
		AppEnv:   getenv("APP_ENV", "development"),
		HTTPAddr: getenv("HTTP_ADDR", ":8082"),

		DatabaseURL:    os.Getenv("DATABASE_URL"),
		PGMaxConns:     getenvInt("PG_MAX_CONNS", 20),
		MigrationsPath: getenv("MIGRATIONS_PATH", "migrations/postgres"),

		RedisAddr:     getenv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		WorkerConcurrency: getenvInt("WORKER_CONCURRENCY", 8),
		BatchSize:         getenvInt("BATCH_SIZE", 50),
		ItemMaxRetries:    getenvInt("ITEM_MAX_RETRIES", 2),
		TaskMaxRetries:    getenvInt("TASK_MAX_RETRIES", 3),

		FetchTimeoutSeconds:  getenvInt("FETCH_TIMEOUT_SECONDS", 10),
		FetchRatePerSecond:   getenvFloat("FETCH_RATE_PER_SECOND", 5),
		CheckCacheTTLSeconds: getenvInt("CHECK_CACHE_TTL_SECONDS", 600),

		JobRetentionDays: getenvInt("JOB_RETENTION_DAYS", 30),
	}
	if cfg.DatabaseURL == "" {
		panic(fmt.Errorf("DATABASE_URL is required"))
	}
	if cfg.RedisAddr == "" {
		panic(fmt.Errorf("REDIS_ADDR is required"))
	}
	return cfg
}
