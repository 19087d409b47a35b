// Package report turns coverage report files on disk into Sections: it
// discovers candidate files from configured glob patterns, reads them with
// best-effort semantics, and parses whatever formats it recognizes into a
// unified section mapping.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultPatterns covers the report names the common toolchains emit.
var DefaultPatterns = []string{
	"**/coverage.out",
	"**/coverage.txt",
	"**/*.lcov",
	"**/lcov.info",
	"**/clover.xml",
	"**/coverage.json",
}

// DiscoveryOptions configures report discovery.
type DiscoveryOptions struct {
	// Roots are the directories to search. Empty means the current directory.
	Roots []string
	// Patterns are doublestar globs, relative to each root.
	Patterns []string
	// Verbose enables detailed logging during discovery.
	Verbose bool
	// Logger receives log messages when Verbose is true.
	Logger func(msg string)
}

// Discover finds report files matching the configured patterns under the
// configured roots. Zero matches yields an empty slice, not an error; a root
// that cannot be read is skipped. A malformed pattern is a real error.
func Discover(opts DiscoveryOptions) ([]string, error) {
	if opts.Logger == nil {
		opts.Logger = func(string) {}
	}

	roots := opts.Roots
	if len(roots) == 0 {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		roots = []string{cwd}
	}

	patterns := opts.Patterns
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	for _, pattern := range patterns {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid report pattern %q", pattern)
		}
	}

	seen := make(map[string]struct{})
	var found []string

	for _, root := range roots {
		absRoot, err := filepath.Abs(root)
		if err != nil {
			if opts.Verbose {
				opts.Logger(fmt.Sprintf("Skipping root %s: %v", root, err))
			}
			continue
		}
		if info, err := os.Stat(absRoot); err != nil || !info.IsDir() {
			if opts.Verbose {
				opts.Logger(fmt.Sprintf("Skipping root %s: not a readable directory", absRoot))
			}
			continue
		}

		fsys := os.DirFS(absRoot)
		for _, pattern := range patterns {
			matches, err := doublestar.Glob(fsys, pattern)
			if err != nil {
				// ValidatePattern passed, so this is an I/O-level problem
				// with the root; treat it as an empty match set.
				if opts.Verbose {
					opts.Logger(fmt.Sprintf("Glob %q under %s: %v", pattern, absRoot, err))
				}
				continue
			}
			for _, rel := range matches {
				path := filepath.Join(absRoot, filepath.FromSlash(rel))
				if info, err := os.Stat(path); err != nil || info.IsDir() {
					continue
				}
				if _, dup := seen[path]; dup {
					continue
				}
				seen[path] = struct{}{}
				found = append(found, path)
			}
		}
	}

	sort.Strings(found)
	if opts.Verbose {
		opts.Logger(fmt.Sprintf("Discovered %d report files", len(found)))
	}
	return found, nil
}

// MatchesAny reports whether path matches one of the patterns when evaluated
// relative to any of the roots. Used by the watcher to classify filesystem
// events.
func MatchesAny(roots, patterns []string, path string) bool {
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	for _, root := range roots {
		absRoot, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(absRoot, abs)
		if err != nil || rel == ".." || len(rel) > 1 && rel[0] == '.' && rel[1] == '.' {
			continue
		}
		slashRel := filepath.ToSlash(rel)
		for _, pattern := range patterns {
			if ok, err := doublestar.Match(pattern, slashRel); err == nil && ok {
				return true
			}
		}
	}
	return false
}
