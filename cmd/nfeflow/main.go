// Command nfeflow watches a directory for NFe XML files, persists their
// fiscal data into SQLite, and files each document away as processed or
// errored. It runs until interrupted.
//
// Usage:
//
//	nfeflow -config config.yaml
//	nfeflow -config config.yaml -log-level debug
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
	_ "modernc.org/sqlite"

	"github.com/fiscalstream/nfeflow/intake"
	"github.com/fiscalstream/nfeflow/store"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to YAML config file")
	logLevel := flag.String("log-level", "", "override logging.nivel: debug, info, warn, error")
	flag.Parse()

	cfg, err := intake.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "nfeflow: %v\n", err)
		if errors.Is(err, fs.ErrNotExist) {
			fmt.Fprintln(os.Stderr, "copy config.exemplo.yaml to config.yaml and adjust it before starting")
		}
		os.Exit(1)
	}

	logger, closeLog, err := buildLogger(cfg.Logging, *logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "nfeflow: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, cfg); err != nil {
		logger.Error("nfeflow: fatal", "error", err)
		os.Exit(1)
	}
	logger.Info("nfeflow stopped")
}

func run(ctx context.Context, logger *slog.Logger, cfg *intake.Config) error {
	for _, dir := range []string{cfg.Processor.WatchDir, cfg.Processor.ProcessedDir, cfg.Processor.ErrorDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	st, err := store.Open(cfg.Processor.DatabasePath)
	if err != nil {
		return err
	}
	defer st.Close()

	logger.Info("nfeflow started",
		"watch_dir", cfg.Processor.WatchDir,
		"processed_dir", cfg.Processor.ProcessedDir,
		"error_dir", cfg.Processor.ErrorDir,
		"database", cfg.Processor.DatabasePath,
		"recursive", cfg.Processor.Recursive)

	reg := prometheus.NewRegistry()
	metrics := intake.NewMetrics(reg)
	pipeline := intake.NewPipeline(cfg.Processor, st, logger, metrics)
	watcher := intake.NewWatcher(cfg.Processor, pipeline, logger)

	if cfg.Status.Listen != "" {
		handler := intake.NewStatusHandler(st, reg, logger)
		go func() {
			if err := intake.ServeStatus(ctx, cfg.Status.Listen, handler, logger); err != nil {
				logger.Error("status listener failed", "error", err)
			}
		}()
	}

	return watcher.Run(ctx)
}

// buildLogger writes JSON log lines to stderr and to a rotated file under
// the configured log directory. Rotation maps the daily policy onto file
// age; BackupCount bounds how many rotated files are kept.
func buildLogger(cfg intake.LoggingConfig, override string) (*slog.Logger, func() error, error) {
	level := slog.LevelInfo
	name := cfg.Level
	if override != "" {
		name = override
	}
	// Legacy configs ship upper-cased level names ("INFO").
	switch strings.ToLower(name) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	case "info", "":
	default:
		return nil, nil, fmt.Errorf("unknown log level %q", name)
	}

	var out io.Writer = os.Stderr
	closer := func() error { return nil }

	if cfg.Dir != "" && cfg.Filename != "" {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
		rotated := &lumberjack.Logger{
			Filename:   filepath.Join(cfg.Dir, cfg.Filename),
			MaxSize:    100,
			MaxAge:     cfg.Rotation.MaxAgeDays(),
			MaxBackups: cfg.Rotation.BackupCount,
		}
		out = io.MultiWriter(os.Stderr, rotated)
		closer = rotated.Close
	}

	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level}))
	return logger, closer, nil
}
