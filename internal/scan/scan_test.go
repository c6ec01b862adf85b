package scan_test

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/tools/txtar"

	"provtrace/internal/provenance"
	"provtrace/internal/scan"
)

// writeTree materialises a txtar archive under a fresh temp dir.
func writeTree(t *testing.T, archive string) string {
	t.Helper()
	dir := t.TempDir()
	for _, f := range txtar.Parse([]byte(archive)).Files {
		path := filepath.Join(dir, filepath.FromSlash(f.Name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, f.Data, 0o644))
	}
	return dir
}

func newScanner(t *testing.T, opts scan.Options) *scan.Scanner {
	t.Helper()
	s, err := scan.New(opts)
	require.NoError(t, err)
	return s
}

func keys(docs []scan.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.Key.String()
	}
	return out
}

const tree = `
-- softwaredev/review/way.md --
---
provenance:
  policy:
    - uri: governance/policies/code-lifecycle.md
      type: governance-doc
  controls:
    - SOC 2 CC8.1
---
# Review
-- softwaredev/commits/way.md --
# Commits

No front matter here.
-- meta/knowledge/way.md --
---
description: knowledge base
provenance:
---
-- meta/way.md --
---
provenance:
---
-- way.md --
top level
-- softwaredev/review/notes.md --
---
provenance:
---
-- ops/deploy/stages/canary/way.md --
---
provenance:
  controls:
    - id: CD-1
      justifications:
        - canary gate
---
`

func TestScanSelectsDocuments(t *testing.T) {
	root := writeTree(t, tree)
	res, err := newScanner(t, scan.Options{}).Scan(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"meta/knowledge",
		"ops/deploy",
		"softwaredev/commits",
		"softwaredev/review",
	}, keys(res.Documents))
	assert.Empty(t, res.Failures)
	assert.Empty(t, res.Duplicates)

	byKey := map[string]scan.Document{}
	for _, d := range res.Documents {
		byKey[d.Key.String()] = d
	}

	review := byKey["softwaredev/review"]
	assert.Equal(t, "softwaredev/review/way.md", review.Path)
	require.NotNil(t, review.Record)
	assert.Equal(t, []provenance.ControlReference{provenance.LegacyControl("SOC 2 CC8.1")}, review.Record.Controls)

	assert.Nil(t, byKey["softwaredev/commits"].Record)

	knowledge := byKey["meta/knowledge"].Record
	require.NotNil(t, knowledge, "empty provenance key still yields a record")
	assert.True(t, knowledge.IsEmpty())

	deploy := byKey["ops/deploy"]
	assert.Equal(t, scan.Key{Domain: "ops", Name: "deploy"}, deploy.Key)
	assert.Equal(t, "ops/deploy/stages/canary/way.md", deploy.Path)
	require.NotNil(t, deploy.Record)
	assert.Equal(t, []provenance.ControlReference{provenance.StructuredControl("CD-1", "canary gate")}, deploy.Record.Controls)
}

func TestScanIsDeterministic(t *testing.T) {
	root := writeTree(t, tree)
	s := newScanner(t, scan.Options{Workers: 3})

	first, err := s.Scan(context.Background(), root)
	require.NoError(t, err)
	second, err := s.Scan(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	serial, err := newScanner(t, scan.Options{Workers: 1}).Scan(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, first.Documents, serial.Documents)
}

func TestScanDuplicateKeys(t *testing.T) {
	root := writeTree(t, `
-- a/b/way.md --
---
provenance:
  controls:
    - FIRST
---
-- a/b/sub/way.md --
---
provenance:
  controls:
    - SECOND
---
-- a/b/zz/way.md --
---
provenance:
  controls:
    - THIRD
---
`)
	res, err := newScanner(t, scan.Options{}).Scan(context.Background(), root)
	require.NoError(t, err)

	require.Len(t, res.Documents, 1)
	doc := res.Documents[0]
	assert.Equal(t, "a/b/zz/way.md", doc.Path)
	assert.Equal(t, []provenance.ControlReference{provenance.LegacyControl("THIRD")}, doc.Record.Controls)

	key := scan.Key{Domain: "a", Name: "b"}
	assert.Equal(t, []scan.Duplicate{
		{Key: key, Kept: "a/b/way.md", Dropped: "a/b/sub/way.md"},
		{Key: key, Kept: "a/b/zz/way.md", Dropped: "a/b/way.md"},
	}, res.Duplicates)
}

func TestScanReadFailureIsNotFatal(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	root := writeTree(t, `
-- ok/fine/way.md --
---
provenance:
---
`)
	broken := filepath.Join(root, "bad", "link")
	require.NoError(t, os.MkdirAll(broken, 0o755))
	require.NoError(t, os.Symlink(filepath.Join(root, "missing.md"), filepath.Join(broken, "way.md")))

	res, err := newScanner(t, scan.Options{}).Scan(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, []string{"ok/fine"}, keys(res.Documents))
	require.Len(t, res.Failures, 1)
	f := res.Failures[0]
	assert.Equal(t, scan.Key{Domain: "bad", Name: "link"}, f.Key)
	assert.Equal(t, "bad/link/way.md", f.Path)
	assert.True(t, errors.Is(f, fs.ErrNotExist))
	assert.Contains(t, f.Error(), "bad/link")
}

func TestScanExclude(t *testing.T) {
	root := writeTree(t, tree)
	s := newScanner(t, scan.Options{Exclude: []string{"softwaredev/**", "ops/deploy/stages/canary/way.md"}})

	res, err := s.Scan(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, []string{"meta/knowledge"}, keys(res.Documents))
}

func TestScanCustomDocumentName(t *testing.T) {
	root := writeTree(t, `
-- a/b/SKILL.md --
---
provenance:
---
-- a/c/way.md --
---
provenance:
---
`)
	res, err := newScanner(t, scan.Options{Document: "SKILL.md"}).Scan(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, []string{"a/b"}, keys(res.Documents))
}

func TestScanInvalidRoot(t *testing.T) {
	s := newScanner(t, scan.Options{})

	_, err := s.Scan(context.Background(), filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, fs.ErrNotExist)

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	_, err = s.Scan(context.Background(), file)
	assert.ErrorContains(t, err, "not a directory")
}

func TestScanSymlinkedRoot(t *testing.T) {
	target := writeTree(t, tree)
	link := filepath.Join(t.TempDir(), "ways")
	require.NoError(t, os.Symlink(target, link))
	s := newScanner(t, scan.Options{})

	direct, err := s.Scan(context.Background(), target)
	require.NoError(t, err)
	linked, err := s.Scan(context.Background(), link)
	require.NoError(t, err)

	require.Len(t, linked.Documents, 4)
	assert.Equal(t, direct.Documents, linked.Documents)
	assert.Equal(t, link, linked.Root)
	assert.Equal(t, "ops/deploy/stages/canary/way.md", linked.Documents[1].Path)
}

func TestScanEmptyRoot(t *testing.T) {
	res, err := newScanner(t, scan.Options{}).Scan(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, res.Documents)
}

func TestScanCancelled(t *testing.T) {
	root := writeTree(t, tree)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newScanner(t, scan.Options{}).Scan(ctx, root)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewRejectsBadOptions(t *testing.T) {
	tests := []struct {
		name string
		opts scan.Options
	}{
		{name: "bad exclude pattern", opts: scan.Options{Exclude: []string{"[unclosed"}}},
		{name: "document with separator", opts: scan.Options{Document: "sub/way.md"}},
		{name: "negative workers", opts: scan.Options{Workers: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := scan.New(tt.opts)
			assert.Error(t, err)
		})
	}
}

func TestKeyOrdering(t *testing.T) {
	a := scan.Key{Domain: "a", Name: "x"}
	ab := scan.Key{Domain: "a-b", Name: "x"}
	assert.Equal(t, "a/x", a.String())
	assert.Negative(t, scan.Compare(ab, a), "keys sort by their string form")
	assert.Zero(t, scan.Compare(a, a))
}
