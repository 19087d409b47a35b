package report

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/coverlay/coverlay/pkg/coverage"
)

// jsonFormat parses coverlay's JSON interchange format, the shape the robot
// output of cmd/coverlay emits and that CI post-processors can feed back in:
//
//	{
//	  "version": 1,
//	  "files": [
//	    {"file": "src/foo.go", "lines": {"1": 2, "3": 0}, "branches": [...]}
//	  ]
//	}
type jsonFormat struct{}

// JSONReport is the top-level interchange document.
type JSONReport struct {
	Version int         `json:"version"`
	Files   []JSONEntry `json:"files"`
}

// JSONEntry is one file's coverage in the interchange document. Line numbers
// are string keys because JSON object keys always are.
type JSONEntry struct {
	File     string            `json:"file"`
	Lines    map[string]int    `json:"lines"`
	Branches []coverage.Branch `json:"branches,omitempty"`
}

func (jsonFormat) Name() string { return "json" }

func (jsonFormat) Sniff(data []byte) bool {
	head := firstNonEmptyLine(data)
	if len(head) == 0 || head[0] != '{' {
		return false
	}
	return bytes.Contains(data, []byte(`"files"`))
}

func (jsonFormat) Parse(data []byte) (map[string]coverage.Section, error) {
	var doc JSONReport
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Version != 1 {
		return nil, fmt.Errorf("unsupported version %d", doc.Version)
	}

	sections := make(map[string]coverage.Section, len(doc.Files))
	for _, entry := range doc.Files {
		if entry.File == "" {
			continue
		}
		lines := make(map[int]int, len(entry.Lines))
		for key, hits := range entry.Lines {
			ln, err := strconv.Atoi(key)
			if err != nil || ln <= 0 {
				return nil, fmt.Errorf("%s: bad line key %q", entry.File, key)
			}
			lines[ln] = hits
		}
		sec := coverage.NewSection(entry.File, lines, entry.Branches)
		if existing, ok := sections[entry.File]; ok {
			sec = existing.Merge(sec)
		}
		sections[entry.File] = sec
	}

	if len(sections) == 0 {
		return nil, fmt.Errorf("no file entries")
	}
	return sections, nil
}

// MarshalSnapshot renders a section mapping as the JSON interchange format.
// Used by the robot output path.
func MarshalSnapshot(snap *coverage.Snapshot) ([]byte, error) {
	doc := JSONReport{Version: 1}
	for _, key := range snap.Keys() {
		sec, _ := snap.Section(key)
		lines := make(map[string]int, len(sec.Lines))
		for ln, hits := range sec.Lines {
			lines[strconv.Itoa(ln)] = hits
		}
		doc.Files = append(doc.Files, JSONEntry{
			File:     key,
			Lines:    lines,
			Branches: sec.Branches,
		})
	}
	return json.MarshalIndent(doc, "", "  ")
}
