package config

import (
	"os"
	"strconv"
	"time"
)

// Every supported env var uses the QUICKSHARE_ prefix. Durations accept Go
// syntax ("750ms", "3s").

// LoadFromEnv overlays environment variables onto cfg. Only set variables
// override the existing value, and unparsable values are ignored. Call it
// before BindFlags so flags take precedence.
func LoadFromEnv(cfg *Config) {
	if v := envInt("QUICKSHARE_PORT"); v > 0 {
		cfg.Port = v
	}
	if v := os.Getenv("QUICKSHARE_PATH"); v != "" {
		cfg.Path = v
	}
	if v := envInt("QUICKSHARE_HISTORY_LIMIT"); v > 0 {
		cfg.HistoryLimit = v
	}
	// An explicitly empty QUICKSHARE_TIME_URL switches to the local clock.
	if v, ok := os.LookupEnv("QUICKSHARE_TIME_URL"); ok {
		cfg.TimeURL = v
	}
	if v := envDuration("QUICKSHARE_TIME_TIMEOUT"); v > 0 {
		cfg.TimeTimeout = v
	}
	if v, ok := os.LookupEnv("QUICKSHARE_CONTROL_ADDR"); ok {
		cfg.ControlAddr = v
	}
	if v := os.Getenv("QUICKSHARE_SHARE_DIR"); v != "" {
		cfg.ShareDir = v
	}
	if v := os.Getenv("QUICKSHARE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := envDuration("QUICKSHARE_SHUTDOWN_GRACE"); v > 0 {
		cfg.ShutdownGrace = v
	}
	if v := envDuration("QUICKSHARE_DIAL_TIMEOUT"); v > 0 {
		cfg.DialTimeout = v
	}
	if v := envDuration("QUICKSHARE_WRITE_TIMEOUT"); v > 0 {
		cfg.WriteTimeout = v
	}
}

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func envDuration(key string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}
