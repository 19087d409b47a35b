package report

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/coverlay/coverlay/pkg/coverage"
)

// FindSection resolves which Section, if any, applies to the given source file
// identity. Report tools disagree about path shape (absolute vs repo-relative,
// forward vs back slashes), so resolution runs in stages:
//
//  1. exact key match
//  2. slash-normalized match
//  3. longest common path-suffix match (e.g. an editor's absolute
//     /home/a/repo/src/foo.ts against a report's src/foo.ts)
//
// When several keys tie on suffix length, the lexicographically smallest wins
// so results are deterministic.
func FindSection(snap *coverage.Snapshot, file string) (coverage.Section, bool) {
	if snap == nil || snap.IsEmpty() || file == "" {
		return coverage.Section{}, false
	}

	if sec, ok := snap.Section(file); ok {
		return sec, true
	}

	norm := normalizePath(file)
	if sec, ok := snap.Section(norm); ok {
		return sec, true
	}

	queryParts := splitPath(norm)
	if len(queryParts) == 0 {
		return coverage.Section{}, false
	}

	bestLen := 0
	var bestKeys []string
	for _, key := range snap.Keys() {
		keyParts := splitPath(normalizePath(key))
		n := commonSuffixLen(queryParts, keyParts)
		// A bare filename match is too weak to be meaningful unless the key
		// itself is a bare filename.
		if n == 0 || (n == 1 && len(keyParts) > 1 && len(queryParts) > 1) {
			continue
		}
		switch {
		case n > bestLen:
			bestLen = n
			bestKeys = bestKeys[:0]
			bestKeys = append(bestKeys, key)
		case n == bestLen:
			bestKeys = append(bestKeys, key)
		}
	}
	if len(bestKeys) == 0 {
		return coverage.Section{}, false
	}
	sort.Strings(bestKeys)
	return snap.Section(bestKeys[0])
}

func normalizePath(p string) string {
	return filepath.ToSlash(filepath.Clean(p))
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" || p == "." {
		return nil
	}
	return strings.Split(p, "/")
}

func commonSuffixLen(a, b []string) int {
	n := 0
	for n < len(a) && n < len(b) {
		if a[len(a)-1-n] != b[len(b)-1-n] {
			break
		}
		n++
	}
	return n
}
