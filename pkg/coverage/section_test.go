package coverage

import (
	"testing"
)

func TestNewSection_CopiesInputs(t *testing.T) {
	lines := map[int]int{1: 2, 3: 0}
	branches := []Branch{{Line: 3, Block: 0, Branch: 1, Taken: 4}}

	sec := NewSection("src/foo.go", lines, branches)

	lines[1] = 99
	branches[0].Taken = 99

	if hits, _ := sec.Hits(1); hits != 2 {
		t.Errorf("expected section to own its line map, got hits=%d", hits)
	}
	if sec.Branches[0].Taken != 4 {
		t.Errorf("expected section to own its branch slice, got taken=%d", sec.Branches[0].Taken)
	}
}

func TestSection_Merge_SumsHitCounts(t *testing.T) {
	a := NewSection("src/foo.go", map[int]int{1: 1, 2: 0, 5: 3}, []Branch{
		{Line: 2, Block: 0, Branch: 0, Taken: 1},
	})
	b := NewSection("src/foo.go", map[int]int{2: 2, 7: 1}, []Branch{
		{Line: 2, Block: 0, Branch: 0, Taken: 2},
		{Line: 7, Block: 0, Branch: 1, Taken: 0},
	})

	merged := a.Merge(b)

	want := map[int]int{1: 1, 2: 2, 5: 3, 7: 1}
	for ln, hits := range want {
		if got, ok := merged.Hits(ln); !ok || got != hits {
			t.Errorf("line %d: got hits=%d ok=%v, want %d", ln, got, ok, hits)
		}
	}
	if len(merged.Branches) != 2 {
		t.Fatalf("expected 2 merged branches, got %d", len(merged.Branches))
	}
	if merged.Branches[0].Taken != 3 {
		t.Errorf("expected branch taken counts to sum to 3, got %d", merged.Branches[0].Taken)
	}

	// Merge must not touch its inputs.
	if got, _ := a.Hits(2); got != 0 {
		t.Errorf("merge mutated receiver: line 2 hits=%d", got)
	}
	if got, _ := b.Hits(2); got != 2 {
		t.Errorf("merge mutated argument: line 2 hits=%d", got)
	}
}

func TestSection_MaxLine(t *testing.T) {
	sec := NewSection("a.go", map[int]int{10: 1, 3: 0, 42: 7}, nil)
	if got := sec.MaxLine(); got != 42 {
		t.Errorf("MaxLine() = %d, want 42", got)
	}

	var empty Section
	if got := empty.MaxLine(); got != 0 {
		t.Errorf("MaxLine() on empty section = %d, want 0", got)
	}
}

func TestSection_Hits_UntrackedLine(t *testing.T) {
	sec := NewSection("a.go", map[int]int{1: 1}, nil)
	if _, ok := sec.Hits(2); ok {
		t.Error("expected untracked line to report ok=false")
	}
}
