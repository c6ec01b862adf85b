package vault

// vault.go: Converts a traceability manifest into an Obsidian vault.
//
// Policies, controls and ways form a graph: every policy and control note
// wiki-links to the ways that cite it, and every way note links back to the
// policies and controls it cites.
//
// Vault layout:
//   index.md               entry point with counts and links to every note
//   policies/<uri>.md      one note per policy source
//   controls/<id>.md       one note per control, with justifications
//   ways/<domain-name>.md  one note per scanned way
//   gaps.md                ways missing provenance, policies or controls

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"provtrace/internal/frontmatter"
	"provtrace/internal/manifest"
	"provtrace/internal/provenance"
)

// Bundle holds generated page content keyed by slash-separated path
// relative to the vault root.
type Bundle struct {
	pages map[string][]byte
}

// Paths returns the page paths in sorted order.
func (b *Bundle) Paths() []string {
	paths := make([]string, 0, len(b.pages))
	for p := range b.pages {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	return paths
}

// Page returns the content of one page.
func (b *Bundle) Page(path string) ([]byte, bool) {
	c, ok := b.pages[path]
	return c, ok
}

// noteMeta is the front matter of every note.
type noteMeta struct {
	Tags []string `yaml:"tags"`
}

// ---------------------------------------------------------------------------
// Public API
// ---------------------------------------------------------------------------

// Generate builds every vault page from m without touching the file system.
// The same manifest always yields the same bundle.
func Generate(m *manifest.Manifest) (*Bundle, error) {
	g := &generator{
		m:        m,
		pages:    make(map[string][]byte),
		policies: newNamer("policies", sortedKeys(m.Coverage.ByPolicy)),
		controls: newNamer("controls", sortedKeys(m.Coverage.ByControl)),
		ways:     newNamer("ways", sortedKeys(m.Ways)),
	}
	steps := []func() error{g.index, g.policyNotes, g.controlNotes, g.wayNotes, g.gaps}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}
	return &Bundle{pages: g.pages}, nil
}

// Write writes all pages in bundle under outputDir in sorted path order,
// overwriting existing files. The policies/, controls/ and ways/
// directories are always created.
func Write(bundle *Bundle, outputDir string) error {
	for _, sub := range []string{"policies", "controls", "ways"} {
		if err := os.MkdirAll(filepath.Join(outputDir, sub), 0o755); err != nil {
			return fmt.Errorf("mkdir %s: %w", sub, err)
		}
	}
	for _, p := range bundle.Paths() {
		if err := writeNote(filepath.Join(outputDir, filepath.FromSlash(p)), bundle.pages[p]); err != nil {
			return err
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Page builders
// ---------------------------------------------------------------------------

type generator struct {
	m        *manifest.Manifest
	pages    map[string][]byte
	policies *namer
	controls *namer
	ways     *namer
}

func (g *generator) add(n *namer, key string, tags []string, body string) error {
	return g.put(n.path(key), tags, body)
}

func (g *generator) put(path string, tags []string, body string) error {
	sorted := slices.Clone(tags)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)
	content, err := frontmatter.Write(noteMeta{Tags: sorted}, "\n"+body)
	if err != nil {
		return fmt.Errorf("render %s: %w", path, err)
	}
	g.pages[path] = content
	return nil
}

// index builds index.md.
func (g *generator) index() error {
	m := g.m
	var b strings.Builder
	b.WriteString("# Provenance Traceability\n\n")
	fmt.Fprintf(&b, "- **Generated**: %s\n", m.GeneratedAt)
	fmt.Fprintf(&b, "- **Ways scanned**: %d\n", m.WaysScanned)
	fmt.Fprintf(&b, "- **With provenance**: %d\n", m.WaysWithProvenance)
	fmt.Fprintf(&b, "- **Without provenance**: %d\n", m.WaysWithoutProvenance)
	b.WriteString("- **Gaps**: [[gaps|Gaps]]\n")

	b.WriteString("\n## Policies\n\n")
	if len(m.Coverage.ByPolicy) == 0 {
		b.WriteString("_None._\n")
	}
	for _, uri := range g.policies.keys {
		pc := m.Coverage.ByPolicy[uri]
		fmt.Fprintf(&b, "- %s (%s, %d ways)\n", g.policies.link(uri), pc.Type, len(pc.ImplementingWays))
	}

	b.WriteString("\n## Controls\n\n")
	if len(m.Coverage.ByControl) == 0 {
		b.WriteString("_None._\n")
	}
	for _, id := range g.controls.keys {
		fmt.Fprintf(&b, "- %s (%d ways)\n", g.controls.link(id), len(m.Coverage.ByControl[id].AddressingWays))
	}

	b.WriteString("\n## Ways\n\n")
	for _, key := range g.ways.keys {
		fmt.Fprintf(&b, "- %s\n", g.ways.link(key))
	}
	return g.put("index.md", []string{"provtrace/index"}, b.String())
}

// policyNotes builds policies/<uri>.md.
func (g *generator) policyNotes() error {
	for _, uri := range g.policies.keys {
		pc := g.m.Coverage.ByPolicy[uri]
		var b strings.Builder
		fmt.Fprintf(&b, "# %s\n\n", uri)
		fmt.Fprintf(&b, "**Type**: %s\n", pc.Type)
		b.WriteString("\n## Implementing Ways\n\n")
		for _, w := range pc.ImplementingWays {
			fmt.Fprintf(&b, "- %s\n", g.ways.link(w))
		}
		tags := []string{"policy", "policy-type/" + sanitizeFilename(pc.Type)}
		if err := g.add(g.policies, uri, tags, b.String()); err != nil {
			return err
		}
	}
	return nil
}

// controlNotes builds controls/<id>.md. Justifications are nested under the
// way that gave them.
func (g *generator) controlNotes() error {
	for _, id := range g.controls.keys {
		cc := g.m.Coverage.ByControl[id]
		var b strings.Builder
		fmt.Fprintf(&b, "# %s\n\n", id)
		b.WriteString("## Addressing Ways\n\n")
		for _, w := range cc.AddressingWays {
			fmt.Fprintf(&b, "- %s\n", g.ways.link(w))
			for _, j := range cc.Justifications[w] {
				fmt.Fprintf(&b, "  - %s\n", j)
			}
		}
		tags := []string{"control"}
		if len(cc.Justifications) > 0 {
			tags = append(tags, "justified")
		}
		if err := g.add(g.controls, id, tags, b.String()); err != nil {
			return err
		}
	}
	return nil
}

// wayNotes builds ways/<domain-name>.md with links back to every policy and
// control the way cites.
func (g *generator) wayNotes() error {
	for _, key := range g.ways.keys {
		entry := g.m.Ways[key]
		domain, _, _ := strings.Cut(key, "/")
		tags := []string{"way", "domain/" + sanitizeFilename(domain)}

		var b strings.Builder
		fmt.Fprintf(&b, "# %s\n\n", key)
		fmt.Fprintf(&b, "**Path**: `%s`\n", entry.Path)

		rec := entry.Provenance
		if rec == nil {
			tags = append(tags, "provenance/missing")
			b.WriteString("\n_No provenance._\n")
			if err := g.add(g.ways, key, tags, b.String()); err != nil {
				return err
			}
			continue
		}

		tags = append(tags, "provenance/present")
		if rec.Verified != nil {
			fmt.Fprintf(&b, "**Verified**: %s\n", *rec.Verified)
		}
		if rec.Rationale != nil {
			fmt.Fprintf(&b, "\n## Rationale\n\n%s\n", *rec.Rationale)
		}
		if len(rec.Policy) > 0 {
			b.WriteString("\n## Policies\n\n")
			for _, p := range rec.Policy {
				fmt.Fprintf(&b, "- %s\n", g.policies.link(p.URI))
			}
		}
		if len(rec.Controls) > 0 {
			b.WriteString("\n## Controls\n\n")
			for _, c := range rec.Controls {
				fmt.Fprintf(&b, "- %s\n", g.controls.link(c.ID))
				if c.Form == provenance.FormStructured {
					for _, j := range c.Justifications {
						fmt.Fprintf(&b, "  - %s\n", j)
					}
				}
			}
		}
		if err := g.add(g.ways, key, tags, b.String()); err != nil {
			return err
		}
	}
	return nil
}

// gaps builds gaps.md: ways without provenance, then ways whose provenance
// cites no policy or no control.
func (g *generator) gaps() error {
	var noPolicy, noControl []string
	for _, key := range g.m.Coverage.WithProvenance {
		rec := g.m.Ways[key].Provenance
		if rec == nil {
			continue
		}
		if len(rec.Policy) == 0 {
			noPolicy = append(noPolicy, key)
		}
		if len(rec.Controls) == 0 {
			noControl = append(noControl, key)
		}
	}

	var b strings.Builder
	b.WriteString("# Gaps\n")
	g.wayList(&b, "Without Provenance", g.m.Coverage.WithoutProvenance)
	g.wayList(&b, "Without Policy", noPolicy)
	g.wayList(&b, "Without Controls", noControl)
	return g.put("gaps.md", []string{"provtrace/gaps"}, b.String())
}

func (g *generator) wayList(b *strings.Builder, title string, keys []string) {
	fmt.Fprintf(b, "\n## %s\n\n", title)
	if len(keys) == 0 {
		b.WriteString("_None._\n")
		return
	}
	for _, k := range keys {
		fmt.Fprintf(b, "- %s\n", g.ways.link(k))
	}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// namer assigns every key of one note directory a unique file name. Keys
// are visited in sorted order, so collisions after sanitizing resolve the
// same way on every run: the second holder of a name gets "-2", and so on.
type namer struct {
	dir   string
	keys  []string
	names map[string]string
}

func newNamer(dir string, keys []string) *namer {
	n := &namer{dir: dir, keys: keys, names: make(map[string]string, len(keys))}
	taken := make(map[string]bool, len(keys))
	for _, k := range keys {
		base := sanitizeFilename(k)
		if base == "" {
			base = "untitled"
		}
		name := base
		for i := 2; taken[name]; i++ {
			name = fmt.Sprintf("%s-%d", base, i)
		}
		taken[name] = true
		n.names[k] = name
	}
	return n
}

func (n *namer) path(key string) string {
	return n.dir + "/" + n.names[key] + ".md"
}

// link renders a wiki link without the .md extension. Keys with no note
// are rendered as plain text.
func (n *namer) link(key string) string {
	name, ok := n.names[key]
	if !ok {
		return key
	}
	return fmt.Sprintf("[[%s/%s|%s]]", n.dir, name, strings.ReplaceAll(key, "|", "-"))
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// sanitizeFilename replaces characters that are unsafe in file names or
// wiki links with -, collapses consecutive - to one, and trims
// leading/trailing -.
func sanitizeFilename(s string) string {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', '.', ':', '#', '|', '?', '*', '"', '<', '>', '[', ']', '^', ' ', '\t':
			return '-'
		}
		return r
	}, s)
	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	return strings.Trim(s, "-")
}

// writeNote writes content to path, creating parent directories as needed.
func writeNote(path string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
