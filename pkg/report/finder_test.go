package report

import (
	"testing"

	"github.com/coverlay/coverlay/pkg/coverage"
)

func snapshotWith(keys ...string) *coverage.Snapshot {
	sections := make(map[string]coverage.Section, len(keys))
	for _, key := range keys {
		sections[key] = coverage.NewSection(key, map[int]int{1: 1}, nil)
	}
	return coverage.NewSnapshot(sections)
}

func TestFindSection_ExactMatch(t *testing.T) {
	snap := snapshotWith("src/foo.ts", "src/bar.ts")
	if sec, ok := FindSection(snap, "src/foo.ts"); !ok || sec.File != "src/foo.ts" {
		t.Errorf("exact match failed: ok=%v sec=%v", ok, sec.File)
	}
}

func TestFindSection_SuffixMatch(t *testing.T) {
	snap := snapshotWith("src/foo.ts")
	sec, ok := FindSection(snap, "/home/user/repo/src/foo.ts")
	if !ok || sec.File != "src/foo.ts" {
		t.Errorf("suffix match failed: ok=%v sec=%v", ok, sec.File)
	}
}

func TestFindSection_PrefersLongestSuffix(t *testing.T) {
	snap := snapshotWith("a/util/helpers.go", "b/util/helpers.go")
	sec, ok := FindSection(snap, "/repo/b/util/helpers.go")
	if !ok || sec.File != "b/util/helpers.go" {
		t.Errorf("expected longest-suffix winner b/util/helpers.go, got ok=%v sec=%v", ok, sec.File)
	}
}

func TestFindSection_AmbiguousTieIsDeterministic(t *testing.T) {
	snap := snapshotWith("x/lib/f.go", "y/lib/f.go")
	// Both tie at ["lib","f.go"]; the lexicographically smaller key wins.
	sec, ok := FindSection(snap, "/other/lib/f.go")
	if !ok || sec.File != "x/lib/f.go" {
		t.Errorf("tie-break not deterministic: ok=%v sec=%v", ok, sec.File)
	}
}

func TestFindSection_BareFilenameTooWeak(t *testing.T) {
	snap := snapshotWith("deep/path/main.go")
	if _, ok := FindSection(snap, "elsewhere/main.go"); ok {
		t.Error("a bare filename match between multi-component paths should not resolve")
	}
}

func TestFindSection_EmptySnapshot(t *testing.T) {
	if _, ok := FindSection(coverage.EmptySnapshot(), "src/foo.ts"); ok {
		t.Error("empty snapshot should resolve nothing")
	}
	if _, ok := FindSection(nil, "src/foo.ts"); ok {
		t.Error("nil snapshot should resolve nothing")
	}
}
