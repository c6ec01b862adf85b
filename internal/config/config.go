// Package config loads provtrace configuration from .provtrace.yaml.
//
// Every field can be overridden by a command-line flag. The engine never
// reads this package's defaults directly: the CLI resolves a Config and passes
// explicit values to the scanner.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"provtrace/internal/manifest"
	"provtrace/internal/scan"
)

// FileName is the configuration file looked up in the working directory.
const FileName = ".provtrace.yaml"

// DefaultWaysDir is the conventional ways location, relative to the user's
// home directory.
const DefaultWaysDir = "~/.claude/hooks/ways"

const defaultDebounce = 500 * time.Millisecond

// ErrExists is returned by Save when the target file is already present.
var ErrExists = errors.New("config file already exists")

// Config holds provtrace settings.
type Config struct {
	WaysDir     string      `yaml:"ways_dir"`
	Output      string      `yaml:"output,omitempty"`
	Format      string      `yaml:"format,omitempty"`
	Document    string      `yaml:"document,omitempty"`
	Exclude     []string    `yaml:"exclude,omitempty"`
	Workers     int         `yaml:"workers,omitempty"`
	MetricsFile string      `yaml:"metrics_file,omitempty"`
	Watch       WatchConfig `yaml:"watch,omitempty"`
}

// WatchConfig configures watch mode.
type WatchConfig struct {
	// Debounce is how long to wait for further changes before rescanning,
	// as a Go duration string.
	Debounce string `yaml:"debounce,omitempty"`
}

// DebounceDelay returns Debounce as a duration, falling back to 500ms.
func (w WatchConfig) DebounceDelay() time.Duration {
	if w.Debounce == "" {
		return defaultDebounce
	}
	d, err := time.ParseDuration(w.Debounce)
	if err != nil || d <= 0 {
		return defaultDebounce
	}
	return d
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		WaysDir:  DefaultWaysDir,
		Format:   string(manifest.FormatJSON),
		Document: scan.DefaultDocument,
		Watch:    WatchConfig{Debounce: defaultDebounce.String()},
	}
}

// Load reads the configuration at path on top of Default. An empty path
// means FileName in the working directory, and a missing file there is not
// an error. An explicit path must exist.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = FileName
	}
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks field values without touching the file system.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.WaysDir) == "" {
		errs = append(errs, errors.New("ways_dir is required"))
	}
	if _, err := manifest.ParseFormat(c.Format); err != nil {
		errs = append(errs, err)
	}
	if strings.ContainsAny(c.Document, `/\`) {
		errs = append(errs, fmt.Errorf("document %q must be a file name", c.Document))
	}
	for _, p := range c.Exclude {
		if !doublestar.ValidatePattern(normalizePattern(p)) {
			errs = append(errs, fmt.Errorf("invalid exclude pattern %q", p))
		}
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must not be negative, got %d", c.Workers))
	}
	if c.Watch.Debounce != "" {
		if d, err := time.ParseDuration(c.Watch.Debounce); err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("watch.debounce %q is not a positive duration", c.Watch.Debounce))
		}
	}
	return errors.Join(errs...)
}

// ExcludePatterns returns the exclude globs with any Read() wrapper and
// leading "./" removed, ready for matching against slash-separated relative paths.
func (c *Config) ExcludePatterns() []string {
	out := make([]string, 0, len(c.Exclude))
	for _, p := range c.Exclude {
		out = append(out, normalizePattern(p))
	}
	return out
}

// normalizePattern extracts the path glob from an exclude rule. Rules may be
// bare globs or wrapped in a Read() verb, as in permission deny lists.
//
//	"Read(./archive/**)" → "archive/**"
//	"./archive/**"       → "archive/**"
func normalizePattern(p string) string {
	p = strings.TrimSpace(p)
	if strings.HasPrefix(p, "Read(") && strings.HasSuffix(p, ")") {
		p = p[len("Read(") : len(p)-1]
	}
	return strings.TrimPrefix(p, "./")
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("home dir: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

const header = "# provtrace configuration\n# Flags given on the command line override these values.\n"

// Save writes cfg to path. It refuses to overwrite an existing file.
func Save(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s: %w", path, ErrExists)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(header), data...), 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
