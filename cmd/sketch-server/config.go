package main

import (
	"errors"
	"flag"
	"io"
	"log/slog"
	"time"

	"github.com/kelseyhightower/envconfig"

	"approx.lopezb.com/internal/pds/hyperloglog"
)

// envPrefix namespaces the environment variables, e.g. SKETCH_PORT.
const envPrefix = "SKETCH"

// Config validation errors
var (
	ErrInvalidPort             = errors.New("port must be between 0 and 65535")
	ErrInvalidMaxConnections   = errors.New("max_connections must be positive")
	ErrInvalidSnapshotFile     = errors.New("snapshot_file cannot be empty when persistence is enabled")
	ErrInvalidSnapshotInterval = errors.New("snapshot_interval cannot be negative")
	ErrInvalidCompression      = errors.New("compression must be >= 1")
	ErrInvalidHLLAccuracy      = errors.New("hll_accuracy must be in (0, 1] and fit max_sketch_bytes")
	ErrInvalidMaxSketchBytes   = errors.New("max_sketch_bytes must be positive")
	ErrInvalidLogFormat        = errors.New("log_format must be 'text' or 'json'")
)

// config is read from SKETCH_* environment variables first; command-line
// flags override them.
type config struct {
	Port             int           `envconfig:"PORT" default:"6479"`
	MetricsAddr      string        `envconfig:"METRICS_ADDR" default:""`
	MaxConnections   int           `envconfig:"MAX_CONNECTIONS" default:"100"`
	ShutdownTimeout  time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"5s"`
	IdleTimeout      time.Duration `envconfig:"IDLE_TIMEOUT" default:"0s"`
	Persistence      bool          `envconfig:"PERSISTENCE" default:"true"`
	SnapshotFile     string        `envconfig:"SNAPSHOT_FILE" default:"sketches.sks"`
	SnapshotInterval time.Duration `envconfig:"SNAPSHOT_INTERVAL" default:"1m"`
	Compression      float64       `envconfig:"TDIGEST_COMPRESSION" default:"100"`
	HLLAccuracy      float64       `envconfig:"HLL_ACCURACY" default:"0.01"`
	MaxSketchBytes   int64         `envconfig:"MAX_SKETCH_BYTES" default:"67108864"`
	LogFormat        string        `envconfig:"LOG_FORMAT" default:"text"`
}

// loadConfig builds the configuration from the environment and then from
// args (without the program name).
func loadConfig(args []string) (config, error) {
	var cfg config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return cfg, err
	}

	fs := flag.NewFlagSet("sketch-server", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.IntVar(&cfg.Port, "port", cfg.Port, "TCP server port")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Prometheus metrics listen address (empty to disable)")
	fs.IntVar(&cfg.MaxConnections, "max-conn", cfg.MaxConnections, "Maximum concurrent connections")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "Graceful shutdown timeout")
	fs.DurationVar(&cfg.IdleTimeout, "idle-timeout", cfg.IdleTimeout, "Idle client connection timeout (0 for no timeout)")
	fs.BoolVar(&cfg.Persistence, "persistence", cfg.Persistence, "Enable snapshots (set false for in-memory only mode)")
	fs.StringVar(&cfg.SnapshotFile, "snapshot", cfg.SnapshotFile, "Snapshot file path")
	fs.DurationVar(&cfg.SnapshotInterval, "snapshot-interval", cfg.SnapshotInterval, "Background save interval (0 to disable)")
	fs.Float64Var(&cfg.Compression, "compression", cfg.Compression, "Compression for t-digests created by TDIGEST.ADD")
	fs.Float64Var(&cfg.HLLAccuracy, "hll-accuracy", cfg.HLLAccuracy, "Accuracy for HyperLogLogs created by HLL.ADD")
	fs.Int64Var(&cfg.MaxSketchBytes, "max-sketch-bytes", cfg.MaxSketchBytes, "Largest sketch a single INIT/CREATE may allocate")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format: text or json")

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	return cfg, validateConfig(&cfg)
}

// validateConfig returns the first invalid setting.
func validateConfig(cfg *config) error {
	if cfg.Port < 0 || cfg.Port > 65535 {
		return ErrInvalidPort
	}
	if cfg.MaxConnections <= 0 {
		return ErrInvalidMaxConnections
	}
	if cfg.Persistence && cfg.SnapshotFile == "" {
		return ErrInvalidSnapshotFile
	}
	if cfg.SnapshotInterval < 0 {
		return ErrInvalidSnapshotInterval
	}
	if !(cfg.Compression >= 1) {
		return ErrInvalidCompression
	}
	if cfg.MaxSketchBytes <= 0 {
		return ErrInvalidMaxSketchBytes
	}
	// HLL.ADD creates keys with this accuracy, so it must fit the limit.
	if size, err := hyperloglog.SizeFor(cfg.HLLAccuracy); err != nil || int64(size) > cfg.MaxSketchBytes {
		return ErrInvalidHLLAccuracy
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return ErrInvalidLogFormat
	}
	return nil
}

// newLogger returns the slog logger for the configured format.
func newLogger(w io.Writer, format string) *slog.Logger {
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, nil))
	}
	return slog.New(slog.NewTextHandler(w, nil))
}
