// Package scan walks configured root directories and produces the entries
// fed into the index.
//
// The scanner is best-effort: invalid roots are skipped with a warning,
// and a candidate whose metadata cannot be read is dropped without
// aborting the scan. Skip reasons are available through an optional
// diagnostic sink.
package scan

import (
	"context"
	"errors"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/karrick/godirwalk"

	"github.com/fsearch/fsearch/internal/observability"
)

// Entry is one filesystem object known to the index.
type Entry struct {
	Path     string    // absolute, forward-slash normalized
	Filename string    // base name
	Modified time.Time // last modification time
	Size     int64     // zero for directories
	IsDir    bool
}

// PathLower returns the lowercase projection used for case-insensitive
// matching.
func (e Entry) PathLower() string { return strings.ToLower(e.Path) }

// SkipReason records why a candidate was dropped during a scan.
type SkipReason struct {
	Path string
	Err  error
}

// Walker abstracts directory traversal so tests can substitute one.
type Walker interface {
	Walk(root string, options *godirwalk.Options) error
}

type defaultWalker struct{}

func (defaultWalker) Walk(root string, options *godirwalk.Options) error {
	return godirwalk.Walk(root, options)
}

// Scanner produces index entries from a set of root directories.
type Scanner struct {
	walker Walker
	logger *observability.Logger
	onSkip func(SkipReason)
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithWalker substitutes the directory walker.
func WithWalker(w Walker) Option {
	return func(s *Scanner) { s.walker = w }
}

// WithSkipSink registers a sink receiving per-candidate skip reasons.
func WithSkipSink(fn func(SkipReason)) Option {
	return func(s *Scanner) { s.onSkip = fn }
}

// New creates a Scanner. A nil logger logs to stderr.
func New(logger *observability.Logger, opts ...Option) *Scanner {
	if logger == nil {
		logger = observability.NewLogger("scan", nil)
	}
	s := &Scanner{
		walker: defaultWalker{},
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// errStopWalk halts traversal when the consumer stops pulling entries.
var errStopWalk = errors.New("scan: stop walk")

// Scan returns a lazy, single-use sequence of entries under the given
// roots. Extensions must be lowercase with a leading dot; an empty list
// admits every file. When includeFolders is set each subdirectory yields
// a directory entry. The sequence ends early if ctx is cancelled.
func (s *Scanner) Scan(ctx context.Context, roots []string, extensions []string, includeFolders bool) iter.Seq[Entry] {
	extSet := make(map[string]struct{}, len(extensions))
	for _, ext := range extensions {
		extSet[ext] = struct{}{}
	}

	return func(yield func(Entry) bool) {
		for _, root := range roots {
			resolved, err := resolveRoot(root)
			if err != nil {
				s.logger.Warn("skipping invalid root", "root", root, "error", err)
				continue
			}
			if !s.walkRoot(ctx, resolved, extSet, includeFolders, yield) {
				return
			}
		}
	}
}

// walkRoot traverses one root. It reports false when the consumer or the
// context stopped the scan.
func (s *Scanner) walkRoot(ctx context.Context, root string, extSet map[string]struct{}, includeFolders bool, yield func(Entry) bool) bool {
	err := s.walker.Walk(root, &godirwalk.Options{
		Callback: func(path string, de *godirwalk.Dirent) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if de.IsDir() {
				if path == root || !includeFolders {
					return nil
				}
				entry, ok := s.statEntry(path, true)
				if !ok {
					return nil
				}
				if !yield(entry) {
					return errStopWalk
				}
				return nil
			}

			if len(extSet) > 0 {
				suffix := strings.ToLower(filepath.Ext(de.Name()))
				if _, ok := extSet[suffix]; !ok {
					return nil
				}
			}
			entry, ok := s.statEntry(path, false)
			if !ok {
				return nil
			}
			if !yield(entry) {
				return errStopWalk
			}
			return nil
		},
		ErrorCallback: func(path string, err error) godirwalk.ErrorAction {
			// Callback errors are routed here too; a stop request or a
			// cancelled context must halt instead of skipping.
			if errors.Is(err, errStopWalk) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return godirwalk.Halt
			}
			s.skip(path, err)
			return godirwalk.SkipNode
		},
	})
	if err == nil {
		return true
	}
	if errors.Is(err, errStopWalk) || ctx.Err() != nil {
		return false
	}
	// A failed root does not stop the remaining roots.
	s.logger.Warn("walk aborted", "root", root, "error", err)
	return true
}

// statEntry builds an Entry from a stat call, following symlinks. It
// reports false when the candidate must be skipped.
func (s *Scanner) statEntry(path string, wantDir bool) (Entry, bool) {
	info, err := os.Stat(path)
	if err != nil {
		s.skip(path, err)
		return Entry{}, false
	}
	if info.IsDir() != wantDir {
		return Entry{}, false
	}
	size := info.Size()
	if wantDir {
		size = 0
	}
	return Entry{
		Path:     filepath.ToSlash(path),
		Filename: filepath.Base(path),
		Modified: info.ModTime(),
		Size:     size,
		IsDir:    wantDir,
	}, true
}

func (s *Scanner) skip(path string, err error) {
	if s.onSkip != nil {
		s.onSkip(SkipReason{Path: path, Err: err})
	}
}

// resolveRoot expands a leading ~ and validates that root is an existing
// directory.
func resolveRoot(root string) (string, error) {
	path := strings.TrimSpace(root)
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", errors.New("not a directory")
	}
	return path, nil
}
