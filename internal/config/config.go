package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port       string
	DBPath     string
	APIBaseURL string
	Sync       *SyncConfig
	Auth       *AuthConfig
	Scheduler  *SchedulerConfig
}

func Load() (*Config, error) {
	port := getEnv("PORT", "8090")
	dbPath := getEnv("DB_PATH", "motium.db")
	apiBaseURL := getEnv("API_BASE_URL", "https://api.motium.app")

	cfg := &Config{
		Port:       port,
		DBPath:     dbPath,
		APIBaseURL: apiBaseURL,
		Sync:       DefaultSyncConfig(),
		Auth:       DefaultAuthConfig(),
		Scheduler:  DefaultSchedulerConfig(),
	}

	if v, err := getEnvInt("SYNC_INTERVAL_MINUTES", 15); err != nil {
		return nil, err
	} else {
		cfg.Sync.Interval = time.Duration(v) * time.Minute
	}

	if v, err := getEnvInt("QUICK_SYNC_INTERVAL_SECONDS", 30); err != nil {
		return nil, err
	} else {
		cfg.Sync.QuickInterval = time.Duration(v) * time.Second
	}

	if v, err := getEnvInt("SYNC_MAX_RETRIES", 0); err != nil {
		return nil, err
	} else {
		cfg.Sync.MaxRetries = v
	}

	if v, err := getEnvInt("REFRESH_JOB_INTERVAL_MINUTES", 20); err != nil {
		return nil, err
	} else {
		cfg.Scheduler.RefreshJobInterval = time.Duration(v) * time.Minute
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	return strconv.Atoi(value)
}
