package config

import (
	flag "github.com/spf13/pflag"
)

// BindFlags registers the shared flags on fs, using the current values of
// cfg as defaults so env overrides show up in --help.
func BindFlags(fs *flag.FlagSet, cfg *Config) {
	fs.IntVarP(&cfg.Port, "port", "p", cfg.Port, "Peer port (listen port, or remote port with connect)")
	fs.StringVar(&cfg.Path, "path", cfg.Path, "WebSocket path of the peer endpoint")
	fs.DurationVar(&cfg.DialTimeout, "dial-timeout", cfg.DialTimeout, "Handshake timeout when connecting to a peer")
	fs.DurationVar(&cfg.WriteTimeout, "write-timeout", cfg.WriteTimeout, "Deadline for writing one frame")
	fs.DurationVar(&cfg.ShutdownGrace, "shutdown-grace", cfg.ShutdownGrace, "Graceful listener shutdown period before forcing")
	fs.IntVar(&cfg.HistoryLimit, "history-limit", cfg.HistoryLimit, "Maximum history entries including the header")
	fs.StringVar(&cfg.TimeURL, "time-url", cfg.TimeURL, "Time service URL (empty: local clock only)")
	fs.DurationVar(&cfg.TimeTimeout, "time-timeout", cfg.TimeTimeout, "Time service request timeout")
	fs.StringVar(&cfg.ControlAddr, "control-addr", cfg.ControlAddr, "Local control/observer HTTP address (empty: disabled)")
	fs.StringVar(&cfg.ShareDir, "share-dir", cfg.ShareDir, "Directory whose new files are sent as messages")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
}
