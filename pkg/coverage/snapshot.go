package coverage

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"time"
)

// Snapshot is an immutable, self-contained mapping from source-file key to
// Section, representing "coverage as of the last successful reload". Once
// created it never changes; consumers read from their current pointer and swap
// it wholesale when a new snapshot lands. A stale pointer is semantically
// valid (last known state) but must never be mutated.
type Snapshot struct {
	sections map[string]Section

	// CreatedAt is when this snapshot was built.
	CreatedAt time.Time
	// Hash is a deterministic fingerprint of the section data, used to skip
	// republishing identical content.
	Hash string
}

// EmptySnapshot returns a snapshot with no sections. Rendering it clears all
// overlays.
func EmptySnapshot() *Snapshot {
	return NewSnapshot(nil)
}

// NewSnapshot builds an immutable Snapshot from a section mapping. The input
// map is copied; the caller keeps ownership of its argument.
func NewSnapshot(sections map[string]Section) *Snapshot {
	owned := make(map[string]Section, len(sections))
	for key, sec := range sections {
		owned[key] = sec
	}
	return &Snapshot{
		sections:  owned,
		CreatedAt: time.Now(),
		Hash:      hashSections(owned),
	}
}

// Section returns the Section for a file key, if present.
func (s *Snapshot) Section(key string) (Section, bool) {
	if s == nil {
		return Section{}, false
	}
	sec, ok := s.sections[key]
	return sec, ok
}

// Len returns the number of covered files.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.sections)
}

// IsEmpty reports whether the snapshot covers no files.
func (s *Snapshot) IsEmpty() bool {
	return s.Len() == 0
}

// Keys returns the covered file keys in sorted order.
func (s *Snapshot) Keys() []string {
	if s == nil {
		return nil
	}
	keys := make([]string, 0, len(s.sections))
	for key := range s.sections {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Sections returns a copy of the underlying mapping. The copy is shallow:
// Sections themselves are value records that nobody mutates.
func (s *Snapshot) Sections() map[string]Section {
	if s == nil {
		return nil
	}
	out := make(map[string]Section, len(s.sections))
	for key, sec := range s.sections {
		out[key] = sec
	}
	return out
}

// Age returns how long ago this snapshot was created.
func (s *Snapshot) Age() time.Duration {
	if s == nil {
		return 0
	}
	return time.Since(s.CreatedAt)
}

// hashSections generates a deterministic hash of section data. Keys are
// visited in sorted order so the hash is independent of map iteration.
func hashSections(sections map[string]Section) string {
	if len(sections) == 0 {
		return "empty"
	}

	keys := make([]string, 0, len(sections))
	for key := range sections {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, key := range keys {
		sec := sections[key]
		h.Write([]byte(key))
		h.Write([]byte{0})

		lines := make([]int, 0, len(sec.Lines))
		for ln := range sec.Lines {
			lines = append(lines, ln)
		}
		sort.Ints(lines)
		for _, ln := range lines {
			h.Write([]byte(strconv.Itoa(ln)))
			h.Write([]byte{':'})
			h.Write([]byte(strconv.Itoa(sec.Lines[ln])))
			h.Write([]byte{0})
		}
		h.Write([]byte{0})

		for _, b := range sec.Branches {
			h.Write([]byte(strconv.Itoa(b.Line)))
			h.Write([]byte{'.'})
			h.Write([]byte(strconv.Itoa(b.Block)))
			h.Write([]byte{'.'})
			h.Write([]byte(strconv.Itoa(b.Branch)))
			h.Write([]byte{':'})
			h.Write([]byte(strconv.Itoa(b.Taken)))
			h.Write([]byte{0})
		}

		h.Write([]byte{1}) // section separator
	}

	return hex.EncodeToString(h.Sum(nil))[:16]
}
