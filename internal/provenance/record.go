// Package provenance models the provenance block a way document carries in its
// front matter and parses it from the restricted front-matter dialect.
//
// Two historical shapes exist for a control entry: a bare string (legacy) and
// a mapping with an id and a list of justifications (structured). Both are
// normalised to ControlReference at parse time; consumers only read ID and
// Justifications.
package provenance

import (
	"encoding/json"
	"fmt"
)

// PolicyReference is one policy source cited by a document.
type PolicyReference struct {
	URI  string `json:"uri" yaml:"uri"`
	Type string `json:"type,omitempty" yaml:"type,omitempty"`
}

// ControlForm records which wire shape a control was written in.
type ControlForm int

const (
	// FormLegacy is a bare string control id.
	FormLegacy ControlForm = iota
	// FormStructured is an {id, justifications} mapping.
	FormStructured
)

func (f ControlForm) String() string {
	switch f {
	case FormLegacy:
		return "legacy"
	case FormStructured:
		return "structured"
	default:
		return fmt.Sprintf("ControlForm(%d)", int(f))
	}
}

// ControlReference is one compliance control addressed by a document.
// Form only affects re-serialization.
type ControlReference struct {
	ID             string
	Justifications []string
	Form           ControlForm
}

// LegacyControl returns a control written as a bare string.
func LegacyControl(id string) ControlReference {
	return ControlReference{ID: id, Form: FormLegacy}
}

// StructuredControl returns a control written as an {id, justifications} entry.
func StructuredControl(id string, justifications ...string) ControlReference {
	return ControlReference{ID: id, Justifications: justifications, Form: FormStructured}
}

type structuredControl struct {
	ID             string   `json:"id" yaml:"id"`
	Justifications []string `json:"justifications" yaml:"justifications"`
}

func (c ControlReference) wire() any {
	if c.Form == FormLegacy {
		return c.ID
	}
	js := c.Justifications
	if js == nil {
		js = []string{}
	}
	return structuredControl{ID: c.ID, Justifications: js}
}

// MarshalJSON writes legacy controls as plain strings and structured controls
// as objects, preserving the shape the document used.
func (c ControlReference) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.wire())
}

// MarshalYAML mirrors MarshalJSON for YAML output.
func (c ControlReference) MarshalYAML() (any, error) {
	return c.wire(), nil
}

// Record is the provenance block of one document. A nil *Record means the
// document has no provenance key; an empty Record means the key is present
// with nothing under it.
type Record struct {
	Policy    []PolicyReference  `json:"policy" yaml:"policy"`
	Controls  []ControlReference `json:"controls" yaml:"controls"`
	Verified  *string            `json:"verified" yaml:"verified"`
	Rationale *string            `json:"rationale" yaml:"rationale"`
}

// NewRecord returns an empty record with non-nil lists so that it serializes
// as [] rather than null.
func NewRecord() *Record {
	return &Record{
		Policy:   []PolicyReference{},
		Controls: []ControlReference{},
	}
}

// IsEmpty reports whether the record carries no policy, control or scalar.
func (r *Record) IsEmpty() bool {
	return r == nil || (len(r.Policy) == 0 && len(r.Controls) == 0 && r.Verified == nil && r.Rationale == nil)
}
