// Package scan walks a ways directory, selects documents laid out as
// <domain>/<name>/.../<document> and parses the provenance block of each.
//
// Reading and parsing run concurrently; the results are reduced in sorted
// path order once every document has been parsed, so the output does not
// depend on file-system enumeration order.
package scan

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"

	"provtrace/internal/provenance"
)

// DefaultDocument is the file name every way is stored under.
const DefaultDocument = "way.md"

// Key identifies a way by the first two segments of its path.
type Key struct {
	Domain string
	Name   string
}

func (k Key) String() string { return k.Domain + "/" + k.Name }

// Compare orders keys by their string form.
func Compare(a, b Key) int { return strings.Compare(a.String(), b.String()) }

// Document is one scanned way. Record is nil when the way has no provenance.
type Document struct {
	Key    Key
	Path   string // slash-separated, relative to the scan root
	Record *provenance.Record
}

// Failure records a way that matched but could not be read.
type Failure struct {
	Key  Key
	Path string
	Err  error
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s (%s): %v", f.Key, f.Path, f.Err)
}

func (f Failure) Unwrap() error { return f.Err }

// Duplicate records two documents that resolved to the same key. The
// document whose path sorts last is kept.
type Duplicate struct {
	Key     Key
	Kept    string
	Dropped string
}

// Result is the outcome of one scan. Documents are sorted by key.
type Result struct {
	Root       string
	Documents  []Document
	Failures   []Failure
	Duplicates []Duplicate
}

// Options configures a Scanner.
type Options struct {
	// Document is the file name selected as a way. Defaults to way.md.
	Document string
	// Exclude lists doublestar patterns, relative to the root, for files and
	// directories to skip.
	Exclude []string
	// Workers bounds concurrent read+parse. Zero means GOMAXPROCS.
	Workers int
	Logger  *slog.Logger
}

// Scanner finds and parses way documents.
type Scanner struct {
	document string
	pattern  string
	exclude  []string
	workers  int
	logger   *slog.Logger
}

// New validates opts and returns a Scanner.
func New(opts Options) (*Scanner, error) {
	doc := opts.Document
	if doc == "" {
		doc = DefaultDocument
	}
	if strings.ContainsAny(doc, `/\`) {
		return nil, fmt.Errorf("document name %q must not contain a path separator", doc)
	}
	for _, p := range opts.Exclude {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid exclude pattern %q", p)
		}
	}
	if opts.Workers < 0 {
		return nil, fmt.Errorf("workers must not be negative, got %d", opts.Workers)
	}
	workers := opts.Workers
	if workers == 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		document: doc,
		pattern:  "*/*/**/" + escapeMeta(doc),
		exclude:  slices.Clone(opts.Exclude),
		workers:  workers,
		logger:   logger,
	}, nil
}

// candidate is a matched document awaiting read+parse.
type candidate struct {
	key Key
	rel string
	abs string
}

// parsed is the per-candidate slot written by exactly one worker.
type parsed struct {
	record *provenance.Record
	err    error
}

// Scan walks root and returns every way found under it. A missing or
// non-directory root is an error; an unreadable way is recorded in
// Result.Failures and the scan continues.
func (s *Scanner) Scan(ctx context.Context, root string) (*Result, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", root)
	}
	// WalkDir does not follow a symlinked root; paths stay relative to the
	// resolved directory.
	resolved, err := filepath.EvalSymlinks(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}

	candidates, err := s.find(resolved)
	if err != nil {
		return nil, err
	}

	slots := make([]parsed, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, c := range candidates {
		i, c := i, c
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			data, err := os.ReadFile(c.abs)
			if err != nil {
				slots[i].err = err
				return nil
			}
			slots[i].record = provenance.ParseText(string(data))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}

	return s.reduce(root, candidates, slots), nil
}

// reduce folds the parsed slots into a Result. candidates are in sorted path
// order, so a later document with the same key replaces an earlier one.
func (s *Scanner) reduce(root string, candidates []candidate, slots []parsed) *Result {
	res := &Result{Root: root}
	index := make(map[Key]int, len(candidates))

	for i, c := range candidates {
		if err := slots[i].err; err != nil {
			s.logger.Warn("skipping unreadable way", "key", c.key.String(), "path", c.rel, "error", err)
			res.Failures = append(res.Failures, Failure{Key: c.key, Path: c.rel, Err: err})
			continue
		}
		doc := Document{Key: c.key, Path: c.rel, Record: slots[i].record}
		if j, ok := index[c.key]; ok {
			prev := res.Documents[j].Path
			s.logger.Warn("duplicate way key", "key", c.key.String(), "kept", c.rel, "dropped", prev)
			res.Duplicates = append(res.Duplicates, Duplicate{Key: c.key, Kept: c.rel, Dropped: prev})
			res.Documents[j] = doc
			continue
		}
		index[c.key] = len(res.Documents)
		res.Documents = append(res.Documents, doc)
	}

	slices.SortFunc(res.Documents, func(a, b Document) int {
		return Compare(a.Key, b.Key)
	})
	return res
}

// find walks root and returns the matching documents sorted by path segments.
func (s *Scanner) find(root string) ([]candidate, error) {
	var out []candidate
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			s.logger.Warn("skipping unreadable path", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if s.excluded(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if ok, _ := doublestar.Match(s.pattern, rel); !ok {
			return nil
		}
		parts := strings.SplitN(rel, "/", 3)
		out = append(out, candidate{
			key: Key{Domain: parts[0], Name: parts[1]},
			rel: rel,
			abs: path,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	slices.SortFunc(out, func(a, b candidate) int {
		return slices.Compare(strings.Split(a.rel, "/"), strings.Split(b.rel, "/"))
	})
	return out, nil
}

func (s *Scanner) excluded(rel string) bool {
	for _, p := range s.exclude {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// escapeMeta quotes doublestar metacharacters in a literal file name.
func escapeMeta(name string) string {
	var b strings.Builder
	for _, r := range name {
		if strings.ContainsRune(`*?[]{}\`, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
