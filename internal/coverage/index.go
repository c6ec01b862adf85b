// Package coverage builds the inverted traceability indices: policy URI to
// the ways implementing it and control id to the ways addressing it.
package coverage

import (
	"slices"

	"provtrace/internal/scan"
)

// UnknownType is the policy type used when no document declares one.
const UnknownType = "unknown"

// PolicyCoverage lists the ways citing one policy.
type PolicyCoverage struct {
	Type             string   `json:"type" yaml:"type"`
	ImplementingWays []string `json:"implementing_ways" yaml:"implementing_ways"`
}

// ControlCoverage lists the ways addressing one control. Justifications is
// keyed by way and only holds ways whose reference carried justifications.
type ControlCoverage struct {
	AddressingWays []string            `json:"addressing_ways" yaml:"addressing_ways"`
	Justifications map[string][]string `json:"justifications,omitempty" yaml:"justifications,omitempty"`
}

// Index is the pair of inverted indices over a set of ways.
type Index struct {
	ByPolicy  map[string]*PolicyCoverage  `json:"by_policy" yaml:"by_policy"`
	ByControl map[string]*ControlCoverage `json:"by_control" yaml:"by_control"`
}

// Build indexes docs. Ways are visited in key order whatever the order of
// docs, so the result is reproducible. It performs no I/O.
//
// Merge rules:
//   - a way appears at most once in each implementing/addressing list, in
//     key order;
//   - the type of a policy is taken from the first way, in key order, that
//     cites it; later ways never overwrite it, and a missing type becomes
//     "unknown";
//   - justifications are recorded per way only when non-empty, concatenated
//     when a way lists the same control more than once.
func Build(docs []scan.Document) *Index {
	idx := &Index{
		ByPolicy:  make(map[string]*PolicyCoverage),
		ByControl: make(map[string]*ControlCoverage),
	}
	sorted := slices.Clone(docs)
	slices.SortStableFunc(sorted, func(a, b scan.Document) int {
		return scan.Compare(a.Key, b.Key)
	})
	for _, doc := range sorted {
		if doc.Record == nil {
			continue
		}
		key := doc.Key.String()

		for _, p := range doc.Record.Policy {
			pc, ok := idx.ByPolicy[p.URI]
			if !ok {
				typ := p.Type
				if typ == "" {
					typ = UnknownType
				}
				pc = &PolicyCoverage{Type: typ, ImplementingWays: []string{}}
				idx.ByPolicy[p.URI] = pc
			}
			pc.ImplementingWays = appendOnce(pc.ImplementingWays, key)
		}

		for _, c := range doc.Record.Controls {
			cc, ok := idx.ByControl[c.ID]
			if !ok {
				cc = &ControlCoverage{AddressingWays: []string{}}
				idx.ByControl[c.ID] = cc
			}
			cc.AddressingWays = appendOnce(cc.AddressingWays, key)
			if len(c.Justifications) == 0 {
				continue
			}
			if cc.Justifications == nil {
				cc.Justifications = make(map[string][]string)
			}
			cc.Justifications[key] = append(cc.Justifications[key], c.Justifications...)
		}
	}
	return idx
}

// appendOnce appends key unless it is already the last element. Ways are
// visited one at a time, so a repeat can only be at the tail.
func appendOnce(list []string, key string) []string {
	if n := len(list); n > 0 && list[n-1] == key {
		return list
	}
	return append(list, key)
}
