package metrics_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"provtrace/internal/manifest"
	"provtrace/internal/metrics"
	"provtrace/internal/provenance"
	"provtrace/internal/scan"
)

func sampleRun() (*scan.Result, *manifest.Manifest) {
	rec := provenance.NewRecord()
	rec.Policy = append(rec.Policy, provenance.PolicyReference{URI: "P"})
	rec.Controls = append(rec.Controls, provenance.LegacyControl("C1"), provenance.LegacyControl("C2"))
	res := &scan.Result{
		Documents: []scan.Document{
			{Key: scan.Key{Domain: "a", Name: "with"}, Path: "a/with/way.md", Record: rec},
			{Key: scan.Key{Domain: "a", Name: "without"}, Path: "a/without/way.md"},
		},
		Failures:   []scan.Failure{{Key: scan.Key{Domain: "b", Name: "bad"}, Path: "b/bad/way.md", Err: errors.New("boom")}},
		Duplicates: nil,
	}
	return res, manifest.FromScan(res, time.Now())
}

func TestObserve(t *testing.T) {
	m := metrics.New()
	res, man := sampleRun()
	m.Observe(res, man, time.Now().Add(-2*time.Second))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ScansTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.WaysScanned))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WaysWithProvenance))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WaysWithoutProvenance))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PolicySources))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ControlReferences))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReadFailures))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.DuplicateKeys))
	assert.GreaterOrEqual(t, testutil.ToFloat64(m.ScanDuration), 2.0)
	assert.Positive(t, testutil.ToFloat64(m.LastRun))

	m.Observe(res, man, time.Now())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ScansTotal))
}

func TestNewUsesPrivateRegistry(t *testing.T) {
	// Two instances must not collide on registration.
	a, b := metrics.New(), metrics.New()
	assert.NotSame(t, a, b)

	count, err := testutil.GatherAndCount(a.Gatherer())
	require.NoError(t, err)
	assert.Equal(t, 10, count)
}

func TestWriteTextfile(t *testing.T) {
	m := metrics.New()
	res, man := sampleRun()
	m.Observe(res, man, time.Now())

	path := filepath.Join(t.TempDir(), "provtrace.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, "# TYPE provtrace_ways_scanned gauge")
	assert.Contains(t, text, "\nprovtrace_ways_scanned 2\n")
	assert.Contains(t, text, "\nprovtrace_read_failures 1\n")
	assert.True(t, strings.HasSuffix(text, "\n"))

	err = m.WriteTextfile(filepath.Join(t.TempDir(), "missing", "x.prom"))
	assert.ErrorContains(t, err, "write metrics")
}
