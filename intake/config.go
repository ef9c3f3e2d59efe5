package intake

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full nfeflow configuration. YAML keys are the external
// contract inherited from the original deployment, so they stay in
// Portuguese.
type Config struct {
	Processor ProcessorConfig `yaml:"processador"`
	Logging   LoggingConfig   `yaml:"logging"`
	Status    StatusConfig    `yaml:"status"`
}

// ProcessorConfig configures the watch/parse/persist/move pipeline.
type ProcessorConfig struct {
	WatchDir     string `yaml:"pasta_xml"`
	ProcessedDir string `yaml:"pasta_processados"`
	ErrorDir     string `yaml:"pasta_erros"`
	DatabasePath string `yaml:"banco_dados"`
	Recursive    bool   `yaml:"busca_recursiva"`

	// StabilityIntervalMS is the poll spacing while waiting for a file's
	// size and mtime to stop changing. StabilityTimeoutMS bounds the wait.
	StabilityIntervalMS int `yaml:"intervalo_estabilidade_ms"`
	StabilityTimeoutMS  int `yaml:"timeout_estabilidade_ms"`
}

// LoggingConfig configures the log sink.
type LoggingConfig struct {
	Level    string         `yaml:"nivel"`
	Dir      string         `yaml:"pasta_log"`
	Filename string         `yaml:"nome_arquivo"`
	Rotation RotationConfig `yaml:"rotacao"`
}

// RotationConfig mirrors the original time-based rotation policy:
// When is the interval unit (only "D", days, is supported), Interval the
// unit count, BackupCount the number of rotated files to retain.
type RotationConfig struct {
	When        string `yaml:"when"`
	Interval    int    `yaml:"interval"`
	BackupCount int    `yaml:"backup_count"`
}

// StatusConfig configures the optional status/metrics HTTP listener.
// An empty Listen disables it.
type StatusConfig struct {
	Listen string `yaml:"listen"`
}

// DefaultConfig returns the defaults the original deployment shipped with.
func DefaultConfig() *Config {
	return &Config{
		Processor: ProcessorConfig{
			WatchDir:            "./xml_nfe",
			ProcessedDir:        "./processados",
			ErrorDir:            "./erros",
			DatabasePath:        "./nfe_database.db",
			Recursive:           true,
			StabilityIntervalMS: 250,
			StabilityTimeoutMS:  30_000,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Dir:      "./logs",
			Filename: "nfeflow.log",
			Rotation: RotationConfig{
				When:        "D",
				Interval:    1,
				BackupCount: 7,
			},
		},
	}
}

// LoadConfig reads and parses a YAML config file, merged over defaults.
// Legacy configs may hold several YAML documents; they are applied in
// order, later documents overriding earlier ones.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	for {
		if err := dec.Decode(cfg); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	return cfg, cfg.Validate()
}

// Validate checks that required fields are present and values are sane.
func (c *Config) Validate() error {
	p := &c.Processor
	if p.WatchDir == "" {
		return fmt.Errorf("processador.pasta_xml is required")
	}
	if p.ProcessedDir == "" {
		return fmt.Errorf("processador.pasta_processados is required")
	}
	if p.ErrorDir == "" {
		return fmt.Errorf("processador.pasta_erros is required")
	}
	if p.DatabasePath == "" {
		return fmt.Errorf("processador.banco_dados is required")
	}
	if p.StabilityIntervalMS <= 0 {
		return fmt.Errorf("processador.intervalo_estabilidade_ms must be > 0")
	}
	if p.StabilityTimeoutMS <= p.StabilityIntervalMS {
		return fmt.Errorf("processador.timeout_estabilidade_ms must exceed the poll interval")
	}
	if r := c.Logging.Rotation; r.When != "" && r.When != "D" && r.When != "d" {
		return fmt.Errorf("logging.rotacao.when: only daily rotation (%q) is supported, got %q", "D", r.When)
	}
	return nil
}

// StabilityInterval returns the stability poll interval as a duration.
func (p *ProcessorConfig) StabilityInterval() time.Duration {
	return time.Duration(p.StabilityIntervalMS) * time.Millisecond
}

// StabilityTimeout returns the stability timeout as a duration.
func (p *ProcessorConfig) StabilityTimeout() time.Duration {
	return time.Duration(p.StabilityTimeoutMS) * time.Millisecond
}

// MaxAgeDays converts the rotation policy into a retention age in days.
func (r *RotationConfig) MaxAgeDays() int {
	if r.Interval <= 0 {
		return 1
	}
	return r.Interval
}
