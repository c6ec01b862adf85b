package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format is an output encoding for the manifest.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat accepts "json", "yaml" or "yml" (case-insensitive). The empty
// string selects JSON.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unknown format %q (want json or yaml)", s)
	}
}

// Encode writes m to w. JSON uses two-space indentation and a trailing
// newline; map keys are sorted by both encoders.
func Encode(w io.Writer, m *Manifest, f Format) error {
	switch f {
	case FormatJSON, "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		if err := enc.Encode(m); err != nil {
			return fmt.Errorf("encode manifest json: %w", err)
		}
		return nil
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(m); err != nil {
			return fmt.Errorf("encode manifest yaml: %w", err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("encode manifest yaml: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unknown format %q", f)
	}
}

// WriteFile encodes m and writes it to path. Nothing is written when
// encoding fails.
func WriteFile(path string, m *Manifest, f Format) error {
	var buf bytes.Buffer
	if err := Encode(&buf, m, f); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// WriteSummary prints the run statistics shown after writing to a file.
func WriteSummary(w io.Writer, m *Manifest, dest string) {
	fmt.Fprintf(w, "Manifest written to %s\n", dest)
	fmt.Fprintf(w, "  Ways scanned: %d\n", m.WaysScanned)
	fmt.Fprintf(w, "  With provenance: %d\n", m.WaysWithProvenance)
	fmt.Fprintf(w, "  Without provenance: %d\n", m.WaysWithoutProvenance)
	fmt.Fprintf(w, "  Policy sources: %d\n", len(m.Coverage.ByPolicy))
	fmt.Fprintf(w, "  Control references: %d\n", len(m.Coverage.ByControl))
}
