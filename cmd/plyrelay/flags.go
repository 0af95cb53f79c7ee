package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	ShowVersion     bool
	Validate        bool
}

// parseFlags parses args with environment fallbacks for every default.
// getenv is os.Getenv outside tests.
func parseFlags(args []string, getenv func(string) string, output io.Writer) (*CLIConfig, error) {
	cfg := &CLIConfig{}
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	fs.SetOutput(output)

	env := func(key, fallback string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return fallback
	}

	shutdownDefault := 30 * time.Second
	if v := getenv("PLYRELAY_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			shutdownDefault = d
		}
	}

	fs.StringVar(&cfg.ConfigPath, "config", env("PLYRELAY_CONFIG", ""),
		"Path to a JSON or YAML configuration file (env: PLYRELAY_CONFIG)")
	fs.StringVar(&cfg.ConfigPath, "c", env("PLYRELAY_CONFIG", ""),
		"Shorthand for -config")
	fs.StringVar(&cfg.LogLevel, "log-level", env("PLYRELAY_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: PLYRELAY_LOG_LEVEL)")
	fs.StringVar(&cfg.LogFormat, "log-format", env("PLYRELAY_LOG_FORMAT", "json"),
		"Log format: json, text (env: PLYRELAY_LOG_FORMAT)")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", shutdownDefault,
		"Graceful shutdown timeout (env: PLYRELAY_SHUTDOWN_TIMEOUT)")
	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	fs.Usage = func() { printUsage(fs, output) }

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion {
		return nil
	}
	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
		}
	}
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	if !slices.Contains([]string{"json", "text"}, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}
	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown timeout: %s", cfg.ShutdownTimeout)
	}
	return nil
}

func printUsage(fs *flag.FlagSet, w io.Writer) {
	_, _ = fmt.Fprintf(w, `%s - LiDAR point-cloud WebSocket relay

Usage: %s [options]

Options:
`, appName, appName)
	fs.PrintDefaults()
	_, _ = fmt.Fprintf(w, `
Endpoints:
  ws://<host>:<port>/ws/producer/<dataStream>   stream PLY text frames
  ws://<host>:<port>/ws/consumer/<dataStream>   receive a stream live
  ws://<host>:<port>/ws/consumer/plyStream      receive finalized streams

Examples:
  # Run with defaults (port 8000, files written to ./files)
  %s

  # Run with a config file and readable logs
  %s --config=relay.yaml --log-format=text

  # Validate configuration only
  %s --config=relay.yaml --validate

Version: %s
Build: %s
`, appName, appName, appName, Version, BuildTime)
}
