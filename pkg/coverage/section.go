// Package coverage defines the core data model: per-file coverage Sections and
// the immutable Snapshot that maps source-file keys to their Sections.
package coverage

import (
	"sort"
)

// Branch records hit data for a single branch point.
type Branch struct {
	// Line is the 1-based source line the branch belongs to.
	Line int `json:"line"`
	// Block distinguishes branch groups on the same line.
	Block int `json:"block"`
	// Branch is the index of the branch within its block.
	Branch int `json:"branch"`
	// Taken is how many times this branch was taken.
	Taken int `json:"taken"`
}

// Section holds coverage data for exactly one source file. Sections are value
// records: once produced by a parser they are never mutated in place. Merge
// and normalization always build a new Section.
type Section struct {
	// File is the source file key as reported by the coverage tool.
	File string `json:"file"`
	// Lines maps 1-based line numbers to hit counts.
	Lines map[int]int `json:"lines"`
	// Branches holds optional per-branch hit counts.
	Branches []Branch `json:"branches,omitempty"`
}

// NewSection builds a Section with defensive copies of the inputs, so callers
// can keep mutating their scratch maps without aliasing the result.
func NewSection(file string, lines map[int]int, branches []Branch) Section {
	s := Section{File: file}
	if len(lines) > 0 {
		s.Lines = make(map[int]int, len(lines))
		for ln, hits := range lines {
			s.Lines[ln] = hits
		}
	}
	if len(branches) > 0 {
		s.Branches = make([]Branch, len(branches))
		copy(s.Branches, branches)
		sortBranches(s.Branches)
	}
	return s
}

// Merge combines two Sections for the same file into a new one, summing line
// and branch hit counts. The receiver and argument are left untouched.
func (s Section) Merge(other Section) Section {
	lines := make(map[int]int, len(s.Lines)+len(other.Lines))
	for ln, hits := range s.Lines {
		lines[ln] = hits
	}
	for ln, hits := range other.Lines {
		lines[ln] += hits
	}

	type branchKey struct{ line, block, branch int }
	taken := make(map[branchKey]int, len(s.Branches)+len(other.Branches))
	order := make([]branchKey, 0, len(s.Branches)+len(other.Branches))
	for _, b := range append(append([]Branch(nil), s.Branches...), other.Branches...) {
		k := branchKey{b.Line, b.Block, b.Branch}
		if _, seen := taken[k]; !seen {
			order = append(order, k)
		}
		taken[k] += b.Taken
	}
	var branches []Branch
	if len(order) > 0 {
		branches = make([]Branch, 0, len(order))
		for _, k := range order {
			branches = append(branches, Branch{Line: k.line, Block: k.block, Branch: k.branch, Taken: taken[k]})
		}
		sortBranches(branches)
	}

	return Section{File: s.File, Lines: lines, Branches: branches}
}

// Hits returns the hit count for a line, and whether the line is tracked at
// all. Untracked lines are not the same as uncovered ones.
func (s Section) Hits(line int) (int, bool) {
	hits, ok := s.Lines[line]
	return hits, ok
}

// MaxLine returns the highest tracked line number, or 0 for an empty Section.
func (s Section) MaxLine() int {
	max := 0
	for ln := range s.Lines {
		if ln > max {
			max = ln
		}
	}
	return max
}

// IsEmpty reports whether the Section tracks no lines and no branches.
func (s Section) IsEmpty() bool {
	return len(s.Lines) == 0 && len(s.Branches) == 0
}

func sortBranches(branches []Branch) {
	sort.Slice(branches, func(i, j int) bool {
		if branches[i].Line != branches[j].Line {
			return branches[i].Line < branches[j].Line
		}
		if branches[i].Block != branches[j].Block {
			return branches[i].Block < branches[j].Block
		}
		return branches[i].Branch < branches[j].Branch
	})
}
