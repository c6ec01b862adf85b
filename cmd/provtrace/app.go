package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"provtrace/internal/config"
	"provtrace/internal/manifest"
	"provtrace/internal/metrics"
	"provtrace/internal/scan"
	"provtrace/internal/vault"
	"provtrace/internal/watch"
)

// app is one resolved invocation: merged configuration plus the streams
// and logger every command writes to.
type app struct {
	cfg     *config.Config
	root    string
	format  manifest.Format
	stdout  io.Writer
	stderr  io.Writer
	logger  *slog.Logger
	scanner *scan.Scanner
	metrics *metrics.Metrics
}

// newApp loads the config file, applies explicitly set flags on top and
// resolves the ways directory.
func newApp(cmd *cobra.Command, f *flags) (*app, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}

	fs := cmd.Flags()
	if fs.Changed("ways-dir") {
		cfg.WaysDir = f.waysDir
	}
	if fs.Changed("output") {
		cfg.Output = f.output
	}
	if fs.Changed("format") {
		cfg.Format = f.format
	}
	if fs.Changed("document") {
		cfg.Document = f.document
	}
	if fs.Changed("workers") {
		cfg.Workers = f.workers
	}
	if fs.Changed("metrics-file") {
		cfg.MetricsFile = f.metricsFile
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	root, err := config.ExpandHome(cfg.WaysDir)
	if err != nil {
		return nil, err
	}
	format, err := manifest.ParseFormat(cfg.Format)
	if err != nil {
		return nil, err
	}

	stderr := cmd.ErrOrStderr()
	logger := newLogger(stderr, f.logLevel).With("run_id", uuid.NewString())

	scanner, err := scan.New(scan.Options{
		Document: cfg.Document,
		Exclude:  cfg.ExcludePatterns(),
		Workers:  cfg.Workers,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		root:    root,
		format:  format,
		stdout:  cmd.OutOrStdout(),
		stderr:  stderr,
		logger:  logger,
		scanner: scanner,
	}
	if cfg.MetricsFile != "" {
		a.metrics = metrics.New()
	}
	return a, nil
}

// newLogger builds a text logger on w at the named level. Unknown level
// names fall back to info.
func newLogger(w io.Writer, level string) *slog.Logger {
	l := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l}))
}

// build runs one scan and assembles the manifest, recording metrics when a
// metrics file is configured.
func (a *app) build(ctx context.Context) (*manifest.Manifest, error) {
	start := time.Now()
	res, err := a.scanner.Scan(ctx, a.root)
	if err != nil {
		return nil, err
	}
	m := manifest.FromScan(res, time.Now())
	a.logger.Debug("scan complete",
		"root", a.root,
		"ways", m.WaysScanned,
		"failures", len(res.Failures),
		"duplicates", len(res.Duplicates),
		"elapsed", time.Since(start))

	if a.metrics != nil {
		a.metrics.Observe(res, m, start)
		if err := a.metrics.WriteTextfile(a.cfg.MetricsFile); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// emit writes m to the configured output, or to stdout when none is set.
func (a *app) emit(m *manifest.Manifest) error {
	if a.cfg.Output == "" || a.cfg.Output == "-" {
		return manifest.Encode(a.stdout, m, a.format)
	}
	if err := manifest.WriteFile(a.cfg.Output, m, a.format); err != nil {
		return err
	}
	manifest.WriteSummary(a.stderr, m, a.cfg.Output)
	return nil
}

func runScan(cmd *cobra.Command, f *flags) error {
	a, err := newApp(cmd, f)
	if err != nil {
		return err
	}
	m, err := a.build(cmd.Context())
	if err != nil {
		return err
	}
	return a.emit(m)
}

func runVault(cmd *cobra.Command, f *flags) error {
	a, err := newApp(cmd, f)
	if err != nil {
		return err
	}
	m, err := a.build(cmd.Context())
	if err != nil {
		return err
	}
	bundle, err := vault.Generate(m)
	if err != nil {
		return fmt.Errorf("generate vault: %w", err)
	}
	if err := vault.Write(bundle, f.vaultDir); err != nil {
		return fmt.Errorf("write vault: %w", err)
	}
	fmt.Fprintf(a.stderr, "Vault written to %s (%d notes)\n", f.vaultDir, len(bundle.Paths()))
	return nil
}

func runWatch(cmd *cobra.Command, f *flags) error {
	a, err := newApp(cmd, f)
	if err != nil {
		return err
	}
	if a.cfg.Output == "" || a.cfg.Output == "-" {
		return errors.New("watch requires an output file (-o)")
	}

	w, err := watch.New(a.root, watch.Options{
		Document: a.cfg.Document,
		Exclude:  a.cfg.ExcludePatterns(),
		Debounce: a.cfg.Watch.DebounceDelay(),
		Logger:   a.logger,
	})
	if err != nil {
		return err
	}

	regenerate := func(ctx context.Context) error {
		m, err := a.build(ctx)
		if err != nil {
			return err
		}
		return a.emit(m)
	}
	if err := regenerate(cmd.Context()); err != nil {
		w.Close()
		return err
	}
	return w.Run(cmd.Context(), regenerate)
}
