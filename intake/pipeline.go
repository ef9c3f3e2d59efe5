// Package intake implements the NFe file pipeline: a directory watcher
// detects candidate XML files, each file is held until its writer finishes,
// parsed, persisted, and finally moved to the processed or error directory.
//
// Errors never escape a single file: every failure becomes a routing
// decision and a log line, and the watch loop keeps running.
package intake

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fiscalstream/nfeflow/nfe"
	"github.com/fiscalstream/nfeflow/store"
)

// Repository persists one parsed document as an atomic unit.
type Repository interface {
	SaveDocument(ctx context.Context, header *nfe.Header, items []nfe.Item, sourceFilename, originalPath string) error
}

// Outcome is the result of processing one file. Either the file reached
// Destination, or Err explains why (and, for move failures, the file is
// still at SourcePath).
type Outcome struct {
	SourcePath  string
	RelPath     string
	Destination string
	AccessKey   string
	Duplicate   bool
	Err         error
}

// Success reports whether the file was persisted (or already was) and
// routed to the processed directory.
func (o Outcome) Success() bool { return o.Err == nil }

// Pipeline runs the per-file state machine. It is single-threaded: one
// file runs to completion before the next is handled, so the store handle
// and the destination directories have exactly one writer.
type Pipeline struct {
	cfg     ProcessorConfig
	repo    Repository
	logger  *slog.Logger
	metrics *Metrics
}

// NewPipeline wires a pipeline. A nil logger falls back to slog.Default;
// nil metrics get a private, unexported registry.
func NewPipeline(cfg ProcessorConfig, repo Repository, logger *slog.Logger, metrics *Metrics) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics(prometheus.NewRegistry())
	}
	return &Pipeline{cfg: cfg, repo: repo, logger: logger, metrics: metrics}
}

// Process runs one file through the full state machine. The source file
// is only moved after its outcome is fully determined; a crash mid-run
// leaves it in the watch directory, where the next startup sweep retries
// it (a duplicate key on retry is non-fatal).
func (p *Pipeline) Process(ctx context.Context, path string) Outcome {
	start := time.Now()
	out := Outcome{SourcePath: path, RelPath: p.relPath(path)}

	p.logger.Info("processing file", "file", out.RelPath)

	out.Err = p.ingest(ctx, path, &out)
	if out.Err != nil && errors.Is(out.Err, fs.ErrNotExist) {
		// The file vanished before we could read it (removed or renamed
		// by its producer). Nothing to persist, nothing to move.
		p.logger.Debug("file disappeared before processing", "file", out.RelPath)
		p.metrics.FilesTotal.WithLabelValues("error").Inc()
		return out
	}
	if errors.Is(out.Err, context.Canceled) || errors.Is(out.Err, context.DeadlineExceeded) {
		// Shutdown interrupted this file, which says nothing about its
		// validity. Leave it in the watch directory; the next startup
		// sweep picks it up again.
		p.logger.Info("processing interrupted, leaving file for next sweep", "file", out.RelPath)
		return out
	}

	p.relocate(&out)
	p.metrics.ProcessingDuration.Observe(time.Since(start).Seconds())

	switch {
	case out.Err != nil:
		p.metrics.FilesTotal.WithLabelValues("error").Inc()
		p.logger.Error("file failed", "file", out.RelPath, "error", out.Err, "moved_to", out.Destination)
	case out.Duplicate:
		p.metrics.FilesTotal.WithLabelValues("duplicate").Inc()
		p.logger.Warn("document already persisted, skipping insert",
			"file", out.RelPath, "access_key", out.AccessKey, "moved_to", out.Destination)
	default:
		p.metrics.FilesTotal.WithLabelValues("success").Inc()
		p.logger.Info("file processed", "file", out.RelPath,
			"access_key", out.AccessKey, "moved_to", out.Destination)
	}
	return out
}

// ingest covers Stabilizing, Parsing, and Persisting. Any error routes
// the file to the error directory; a duplicate key counts as success.
func (p *Pipeline) ingest(ctx context.Context, path string, out *Outcome) error {
	stabStart := time.Now()
	err := WaitStable(ctx, path, p.cfg.StabilityInterval(), p.cfg.StabilityTimeout())
	p.metrics.StabilityWait.Observe(time.Since(stabStart).Seconds())
	if err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}

	header, items, err := nfe.Parse(data)
	if err != nil {
		return err
	}
	out.AccessKey = header.AccessKey

	err = p.repo.SaveDocument(ctx, header, items, filepath.Base(path), out.RelPath)
	if errors.Is(err, store.ErrDuplicateKey) {
		out.Duplicate = true
		return nil
	}
	return err
}

// relocate moves the file to the processed or error directory depending
// on the outcome so far. A move failure is logged at the highest severity
// and leaves the file in place: it cannot even be routed to the error
// directory, so an operator has to look at it.
func (p *Pipeline) relocate(out *Outcome) {
	targetDir := p.cfg.ProcessedDir
	if out.Err != nil {
		targetDir = p.cfg.ErrorDir
	}

	dest, err := ResolveDestination(targetDir, filepath.Base(out.SourcePath))
	if err == nil {
		err = moveFile(out.SourcePath, dest)
	}
	if err != nil {
		p.logger.Error("cannot relocate file, leaving it in place",
			"file", out.RelPath, "target_dir", targetDir, "error", err)
		if out.Err == nil {
			out.Err = fmt.Errorf("%w: %v", ErrMoveFailure, err)
		}
		return
	}
	out.Destination = dest
}

func (p *Pipeline) relPath(path string) string {
	rel, err := filepath.Rel(p.cfg.WatchDir, path)
	if err != nil {
		return filepath.Base(path)
	}
	return rel
}

// moveFile renames src to dest, falling back to copy-and-remove when the
// directories live on different filesystems.
func moveFile(src, dest string) error {
	if err := os.Rename(src, dest); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dest + ".part"
	outF, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(outF, in); err != nil {
		outF.Close()
		os.Remove(tmp)
		return err
	}
	if err := outF.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Remove(src)
}
