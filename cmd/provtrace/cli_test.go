package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/tools/txtar"
	"gopkg.in/yaml.v3"

	"provtrace/internal/config"
)

const waysTree = `
-- softwaredev/commits/way.md --
---
description: commit conventions
provenance:
  policy:
    - uri: docs/commits.md
      type: governance-doc
  controls:
    - id: NIST SP 800-53 CM-3
      justifications:
        - Diffs are reviewed
    - ISO 27001 A.12.1.2
  verified: 2025-01-15
---
# Commits
-- softwaredev/docs/way.md --
---
description: docs
---
# Docs
-- toplevel/way.md --
---
provenance:
  controls:
    - IGNORED
---
`

// writeWays materialises waysTree under a fresh directory.
func writeWays(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for _, f := range txtar.Parse([]byte(waysTree)).Files {
		path := filepath.Join(root, filepath.FromSlash(f.Name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, f.Data, 0o644))
	}
	return root
}

// execute runs the CLI with args from an empty working directory, so no
// stray config file is picked up.
func execute(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	chdir(t, t.TempDir())
	var out, errb bytes.Buffer
	cmd := rootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&errb)
	cmd.SetIn(strings.NewReader(""))
	err = cmd.ExecuteContext(context.Background())
	return out.String(), errb.String(), err
}

func TestScanToStdout(t *testing.T) {
	root := writeWays(t)
	for _, args := range [][]string{
		{"--ways-dir", root},
		{"scan", "--ways-dir", root},
	} {
		stdout, _, err := execute(t, args...)
		require.NoError(t, err, args)

		var got map[string]any
		require.NoError(t, json.Unmarshal([]byte(stdout), &got))
		assert.Equal(t, "provtrace", got["generator"])
		assert.EqualValues(t, 2, got["ways_scanned"])
		assert.EqualValues(t, 1, got["ways_with_provenance"])
		assert.NotContains(t, stdout, "IGNORED")
	}
}

func TestScanToFilePrintsSummary(t *testing.T) {
	root := writeWays(t)
	out := filepath.Join(t.TempDir(), "manifest.yaml")

	stdout, stderr, err := execute(t, "--ways-dir", root, "-o", out, "--format", "yaml")
	require.NoError(t, err)
	assert.Empty(t, stdout)
	assert.Contains(t, stderr, "Manifest written to "+out)
	assert.Contains(t, stderr, "Ways scanned: 2")
	assert.Contains(t, stderr, "Policy sources: 1")
	assert.Contains(t, stderr, "Control references: 2")

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, yaml.Unmarshal(data, &got))
	assert.Equal(t, "1.0.0", got["manifest_version"])
}

func TestScanUsesConfigFile(t *testing.T) {
	root := writeWays(t)
	dir := t.TempDir()
	out := filepath.Join(dir, "m.json")
	cfgPath := filepath.Join(dir, "provtrace.yaml")
	cfg := "ways_dir: " + root + "\noutput: " + out + "\nexclude:\n  - softwaredev/docs\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))

	_, stderr, err := execute(t, "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, stderr, "Ways scanned: 1")

	// Flags override the file.
	_, stderr, err = execute(t, "--config", cfgPath, "-o", filepath.Join(dir, "other.json"))
	require.NoError(t, err)
	assert.Contains(t, stderr, "other.json")
}

func TestScanWritesMetrics(t *testing.T) {
	root := writeWays(t)
	prom := filepath.Join(t.TempDir(), "provtrace.prom")

	_, _, err := execute(t, "--ways-dir", root, "--metrics-file", prom)
	require.NoError(t, err)

	data, err := os.ReadFile(prom)
	require.NoError(t, err)
	assert.Contains(t, string(data), "provtrace_ways_scanned 2")
	assert.Contains(t, string(data), "provtrace_ways_without_provenance 1")
}

func TestScanErrors(t *testing.T) {
	_, _, err := execute(t, "--ways-dir", filepath.Join(t.TempDir(), "missing"))
	assert.ErrorContains(t, err, "stat root")

	_, _, err = execute(t, "--ways-dir", t.TempDir(), "--format", "xml")
	assert.ErrorContains(t, err, "xml")

	_, _, err = execute(t, "--ways-dir", t.TempDir(), "--workers", "-1")
	assert.ErrorContains(t, err, "workers")

	_, _, err = execute(t, "--config", filepath.Join(t.TempDir(), "none.yaml"))
	assert.Error(t, err)
}

func TestVault(t *testing.T) {
	root := writeWays(t)
	out := filepath.Join(t.TempDir(), "vault")

	_, stderr, err := execute(t, "vault", "--ways-dir", root, "--out", out)
	require.NoError(t, err)
	assert.Contains(t, stderr, "Vault written to "+out)

	for _, p := range []string{"index.md", "gaps.md", "ways/softwaredev-commits.md", "policies/docs-commits-md.md"} {
		assert.FileExists(t, filepath.Join(out, filepath.FromSlash(p)))
	}

	_, _, err = execute(t, "vault", "--ways-dir", root)
	assert.ErrorContains(t, err, "out")
}

func TestWatchRequiresOutput(t *testing.T) {
	_, _, err := execute(t, "watch", "--ways-dir", writeWays(t))
	assert.ErrorContains(t, err, "requires an output file")
}

func TestVersion(t *testing.T) {
	stdout, _, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "provtrace version dev\n", stdout)
}

func TestUnknownCommand(t *testing.T) {
	_, _, err := execute(t, "frobnicate")
	assert.Error(t, err)
}

// ---------------------------------------------------------------------------
// init
// ---------------------------------------------------------------------------

func TestWriteInitConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), config.FileName)
	require.NoError(t, writeInitConfig(path, map[string]string{
		keyWaysDir: "/srv/ways",
		keyOutput:  "out.yaml",
		keyFormat:  "YAML",
	}))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/ways", cfg.WaysDir)
	assert.Equal(t, "out.yaml", cfg.Output)
	assert.Equal(t, "yaml", cfg.Format)

	err = writeInitConfig(path, map[string]string{})
	assert.ErrorIs(t, err, config.ErrExists)
}

func TestWriteInitConfigRejectsBadFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), config.FileName)
	err := writeInitConfig(path, map[string]string{keyFormat: "xml"})
	assert.Error(t, err)
	assert.NoFileExists(t, path)
}

func typeText(m promptModel, s string) promptModel {
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)})
	return next.(promptModel)
}

func press(m promptModel, k tea.KeyType) (promptModel, tea.Cmd) {
	next, cmd := m.Update(tea.KeyMsg{Type: k})
	return next.(promptModel), cmd
}

func TestPromptModelAdvancesAndDefaults(t *testing.T) {
	m := newPromptModel(initQuestions)
	assert.Contains(t, m.View(), "Ways directory")

	m = typeText(m, "/srv/ways")
	m, _ = press(m, tea.KeyEnter)
	assert.Equal(t, 1, m.idx)
	assert.Contains(t, m.View(), "Manifest output file")

	m, _ = press(m, tea.KeyEnter)
	m = typeText(m, "yaml")
	m, cmd := press(m, tea.KeyEnter)
	require.NotNil(t, cmd)
	assert.True(t, m.done)
	assert.Empty(t, m.View())

	assert.Equal(t, map[string]string{
		keyWaysDir: "/srv/ways",
		keyOutput:  "provenance-manifest.json",
		keyFormat:  "yaml",
	}, m.answers())
}

func TestPromptModelCancel(t *testing.T) {
	m := newPromptModel(initQuestions)
	m, cmd := press(m, tea.KeyEsc)
	require.NotNil(t, cmd)
	assert.False(t, m.done)
}

// chdir changes the working directory for the duration of the test
// (equivalent of testing.T.Chdir, which requires Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
