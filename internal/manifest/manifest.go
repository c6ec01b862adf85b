// Package manifest assembles the traceability manifest from scanned ways and
// their coverage index, and encodes it as JSON or YAML.
package manifest

import (
	"slices"
	"time"

	"provtrace/internal/coverage"
	"provtrace/internal/provenance"
	"provtrace/internal/scan"
)

const (
	// Version is the manifest schema version.
	Version = "1.0.0"
	// Generator identifies the tool in the manifest.
	Generator = "provtrace"
	// TimeLayout renders generated_at as ISO-8601 with an explicit UTC offset
	// and a fixed six-digit fraction.
	TimeLayout = "2006-01-02T15:04:05.000000-07:00"
	// TimeLayoutWhole is used when the time has no sub-second part.
	TimeLayoutWhole = "2006-01-02T15:04:05-07:00"
)

// FormatTime renders t in UTC the way generated_at is written.
func FormatTime(t time.Time) string {
	t = t.UTC()
	if t.Nanosecond()/int(time.Microsecond) == 0 {
		return t.Format(TimeLayoutWhole)
	}
	return t.Format(TimeLayout)
}

// Entry is one way in the manifest. Provenance is null when the way has no
// provenance key.
type Entry struct {
	Path       string             `json:"path" yaml:"path"`
	Provenance *provenance.Record `json:"provenance" yaml:"provenance"`
}

// Coverage holds the inverted indices plus the sorted lists of ways with and
// without provenance.
type Coverage struct {
	ByPolicy          map[string]*coverage.PolicyCoverage  `json:"by_policy" yaml:"by_policy"`
	ByControl         map[string]*coverage.ControlCoverage `json:"by_control" yaml:"by_control"`
	WithProvenance    []string                             `json:"with_provenance" yaml:"with_provenance"`
	WithoutProvenance []string                             `json:"without_provenance" yaml:"without_provenance"`
}

// Manifest is the complete report of one scan. Field names are a stable
// contract consumed by other tooling.
type Manifest struct {
	ManifestVersion       string           `json:"manifest_version" yaml:"manifest_version"`
	GeneratedAt           string           `json:"generated_at" yaml:"generated_at"`
	Generator             string           `json:"generator" yaml:"generator"`
	WaysScanned           int              `json:"ways_scanned" yaml:"ways_scanned"`
	WaysWithProvenance    int              `json:"ways_with_provenance" yaml:"ways_with_provenance"`
	WaysWithoutProvenance int              `json:"ways_without_provenance" yaml:"ways_without_provenance"`
	Ways                  map[string]Entry `json:"ways" yaml:"ways"`
	Coverage              Coverage         `json:"coverage" yaml:"coverage"`
}

// Assemble combines scanned ways and their index into a Manifest stamped with
// generatedAt (converted to UTC).
func Assemble(docs []scan.Document, idx *coverage.Index, generatedAt time.Time) *Manifest {
	ways := make(map[string]Entry, len(docs))
	with := []string{}
	without := []string{}
	for _, d := range docs {
		key := d.Key.String()
		ways[key] = Entry{Path: d.Path, Provenance: d.Record}
		if d.Record != nil {
			with = append(with, key)
		} else {
			without = append(without, key)
		}
	}
	slices.Sort(with)
	slices.Sort(without)

	if idx == nil {
		idx = coverage.Build(nil)
	}
	return &Manifest{
		ManifestVersion:       Version,
		GeneratedAt:           FormatTime(generatedAt),
		Generator:             Generator,
		WaysScanned:           len(ways),
		WaysWithProvenance:    len(with),
		WaysWithoutProvenance: len(without),
		Ways:                  ways,
		Coverage: Coverage{
			ByPolicy:          idx.ByPolicy,
			ByControl:         idx.ByControl,
			WithProvenance:    with,
			WithoutProvenance: without,
		},
	}
}

// FromScan builds the coverage index for res and assembles the manifest.
func FromScan(res *scan.Result, generatedAt time.Time) *Manifest {
	return Assemble(res.Documents, coverage.Build(res.Documents), generatedAt)
}
