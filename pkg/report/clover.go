package report

import (
	"bytes"
	"encoding/xml"
	"fmt"

	"github.com/coverlay/coverlay/pkg/coverage"
)

// cloverFormat parses Clover XML reports (phpunit, jacoco-to-clover bridges,
// istanbul's clover reporter). Files may sit directly under <project> or be
// nested in <package> elements; both layouts are accepted.
type cloverFormat struct{}

type cloverXML struct {
	XMLName  xml.Name        `xml:"coverage"`
	Projects []cloverProject `xml:"project"`
}

type cloverProject struct {
	Files    []cloverFile    `xml:"file"`
	Packages []cloverPackage `xml:"package"`
}

type cloverPackage struct {
	Files []cloverFile `xml:"file"`
}

type cloverFile struct {
	Name  string       `xml:"name,attr"`
	Path  string       `xml:"path,attr"`
	Lines []cloverLine `xml:"line"`
}

type cloverLine struct {
	Num   int    `xml:"num,attr"`
	Count int    `xml:"count,attr"`
	Type  string `xml:"type,attr"`
	// Condition lines carry truecount/falsecount branch outcomes.
	TrueCount  *int `xml:"truecount,attr"`
	FalseCount *int `xml:"falsecount,attr"`
}

func (cloverFormat) Name() string { return "clover" }

func (cloverFormat) Sniff(data []byte) bool {
	head := firstNonEmptyLine(data)
	if bytes.HasPrefix(head, []byte("<?xml")) {
		return bytes.Contains(data, []byte("<coverage"))
	}
	return bytes.HasPrefix(head, []byte("<coverage"))
}

func (cloverFormat) Parse(data []byte) (map[string]coverage.Section, error) {
	var doc cloverXML
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if len(doc.Projects) == 0 {
		return nil, fmt.Errorf("no project elements")
	}

	sections := make(map[string]coverage.Section)
	addFile := func(f cloverFile) {
		key := f.Path
		if key == "" {
			key = f.Name
		}
		if key == "" {
			return
		}

		lines := make(map[int]int, len(f.Lines))
		var branches []coverage.Branch
		for _, ln := range f.Lines {
			if ln.Num <= 0 {
				continue
			}
			if ln.Count > lines[ln.Num] {
				lines[ln.Num] = ln.Count
			} else if _, ok := lines[ln.Num]; !ok {
				lines[ln.Num] = ln.Count
			}
			if ln.Type == "cond" && ln.TrueCount != nil && ln.FalseCount != nil {
				branches = append(branches,
					coverage.Branch{Line: ln.Num, Block: 0, Branch: 0, Taken: *ln.TrueCount},
					coverage.Branch{Line: ln.Num, Block: 0, Branch: 1, Taken: *ln.FalseCount},
				)
			}
		}

		sec := coverage.NewSection(key, lines, branches)
		if existing, ok := sections[key]; ok {
			sec = existing.Merge(sec)
		}
		sections[key] = sec
	}

	for _, project := range doc.Projects {
		for _, f := range project.Files {
			addFile(f)
		}
		for _, pkg := range project.Packages {
			for _, f := range pkg.Files {
				addFile(f)
			}
		}
	}

	if len(sections) == 0 {
		return nil, fmt.Errorf("no file elements")
	}
	return sections, nil
}
