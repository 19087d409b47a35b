package report

import (
	"fmt"
	"sort"

	"github.com/coverlay/coverlay/pkg/coverage"
)

// Format parses one coverage report format into Sections.
type Format interface {
	// Name identifies the format in logs.
	Name() string
	// Sniff reports whether the payload looks like this format. Sniffing is
	// cheap and never reads the whole payload.
	Sniff(data []byte) bool
	// Parse decodes the payload into per-file Sections keyed by the file path
	// the report declares.
	Parse(data []byte) (map[string]coverage.Section, error)
}

// Formats returns the built-in format parsers in sniffing order. The order
// matters only for ambiguous payloads; each sniffer is specific enough that
// collisions do not occur in practice.
func Formats() []Format {
	return []Format{
		goCoverFormat{},
		lcovFormat{},
		cloverFormat{},
		jsonFormat{},
	}
}

// ParseOptions configures ParseAll.
type ParseOptions struct {
	// Formats overrides the built-in parser set. Nil means Formats().
	Formats []Format
	// WarningHandler receives a message for each payload that was skipped
	// because no format recognized it or parsing failed. Nil discards.
	WarningHandler func(msg string)
}

// ParseAll parses every payload into a single unified section mapping.
// Payloads that no format recognizes, or that fail to parse, are skipped with
// a warning; they never fail the whole batch. Sections reported for the same
// file by multiple payloads are merged by summing hit counts.
func ParseAll(payloads map[string][]byte, opts ParseOptions) map[string]coverage.Section {
	formats := opts.Formats
	if formats == nil {
		formats = Formats()
	}
	warn := opts.WarningHandler
	if warn == nil {
		warn = func(string) {}
	}

	unified := make(map[string]coverage.Section)

	// Deterministic payload order so merge results are stable.
	paths := make([]string, 0, len(payloads))
	for path := range payloads {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		data := payloads[path]

		var format Format
		for _, f := range formats {
			if f.Sniff(data) {
				format = f
				break
			}
		}
		if format == nil {
			warn(fmt.Sprintf("%s: unrecognized report format, skipping", path))
			continue
		}

		sections, err := format.Parse(data)
		if err != nil {
			warn(fmt.Sprintf("%s: %s parse failed: %v, skipping", path, format.Name(), err))
			continue
		}

		for key, sec := range sections {
			if existing, ok := unified[key]; ok {
				unified[key] = existing.Merge(sec)
			} else {
				unified[key] = sec
			}
		}
	}

	return unified
}
