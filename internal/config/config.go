// Package config holds the runtime configuration for quickshare.
//
// Precedence order (highest wins):
//  1. CLI flags (BindFlags)
//  2. Environment variables (LoadFromEnv)
//  3. Defaults (Default)
package config

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultPort          = 8080
	DefaultPath          = "/p2p"
	DefaultHistoryLimit  = 10
	DefaultTimeURL       = "https://timeapi.io/api/Time/current/zone?timeZone=UTC"
	DefaultTimeTimeout   = 3 * time.Second
	DefaultControlAddr   = "127.0.0.1:8421"
	DefaultLogLevel      = "info"
	DefaultShutdownGrace = 500 * time.Millisecond
	DefaultDialTimeout   = 10 * time.Second
	DefaultWriteTimeout  = 10 * time.Second
)

// Config holds every tuneable for one quickshare process.
type Config struct {
	// Peer transport.
	Port         int
	Path         string
	DialTimeout  time.Duration
	WriteTimeout time.Duration

	// ShutdownGrace bounds the graceful part of StopServer before the
	// listener is closed forcibly.
	ShutdownGrace time.Duration

	HistoryLimit int

	// Time service. An empty TimeURL means local clock only.
	TimeURL     string
	TimeTimeout time.Duration

	// Host surfaces. Empty disables each one.
	ControlAddr string
	ShareDir    string

	LogLevel string
}

// Default returns a Config populated with the defaults above.
func Default() Config {
	return Config{
		Port:          DefaultPort,
		Path:          DefaultPath,
		DialTimeout:   DefaultDialTimeout,
		WriteTimeout:  DefaultWriteTimeout,
		ShutdownGrace: DefaultShutdownGrace,
		HistoryLimit:  DefaultHistoryLimit,
		TimeURL:       DefaultTimeURL,
		TimeTimeout:   DefaultTimeTimeout,
		ControlAddr:   DefaultControlAddr,
		LogLevel:      DefaultLogLevel,
	}
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range 0-65535", c.Port)
	}
	if !strings.HasPrefix(c.Path, "/") {
		return fmt.Errorf("config: path %q must start with '/'", c.Path)
	}
	if c.HistoryLimit < 2 {
		return fmt.Errorf("config: history limit %d must be at least 2 (header plus one entry)", c.HistoryLimit)
	}
	if c.DialTimeout <= 0 {
		return fmt.Errorf("config: dial timeout must be positive")
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("config: write timeout must be positive")
	}
	if c.ShutdownGrace < 0 {
		return fmt.Errorf("config: shutdown grace must not be negative")
	}
	if c.TimeURL != "" && c.TimeTimeout <= 0 {
		return fmt.Errorf("config: time timeout must be positive when a time URL is set")
	}
	return nil
}
