package report

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/coverlay/coverlay/pkg/coverage"
)

// goCoverFormat parses Go coverprofile output ("go test -coverprofile").
//
// The format is a "mode:" header followed by block lines of the shape
//
//	path/file.go:startLine.startCol,endLine.endCol numStatements hitCount
//
// Block counts are projected onto lines; when blocks overlap on a line the
// larger count wins, matching how cover tooling displays per-line state.
type goCoverFormat struct{}

func (goCoverFormat) Name() string { return "gocover" }

func (goCoverFormat) Sniff(data []byte) bool {
	line := firstNonEmptyLine(data)
	return bytes.HasPrefix(line, []byte("mode:"))
}

func (goCoverFormat) Parse(data []byte) (map[string]coverage.Section, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	lineHits := make(map[string]map[int]int)
	sawMode := false
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "mode:") {
			sawMode = true
			continue
		}
		if !sawMode {
			return nil, fmt.Errorf("line %d: block before mode header", lineNo)
		}

		file, start, end, count, err := parseCoverBlock(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}

		hits := lineHits[file]
		if hits == nil {
			hits = make(map[int]int)
			lineHits[file] = hits
		}
		for ln := start; ln <= end; ln++ {
			if count > hits[ln] {
				hits[ln] = count
			} else if _, ok := hits[ln]; !ok {
				hits[ln] = count
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if !sawMode {
		return nil, fmt.Errorf("missing mode header")
	}

	sections := make(map[string]coverage.Section, len(lineHits))
	for file, hits := range lineHits {
		sections[file] = coverage.NewSection(file, hits, nil)
	}
	return sections, nil
}

// parseCoverBlock splits "file:sl.sc,el.ec stmts count" into its parts.
func parseCoverBlock(line string) (file string, startLine, endLine, count int, err error) {
	colon := strings.LastIndex(line, ":")
	if colon < 0 {
		return "", 0, 0, 0, fmt.Errorf("malformed block %q", line)
	}
	file = line[:colon]
	rest := line[colon+1:]

	fields := strings.Fields(rest)
	if len(fields) != 3 {
		return "", 0, 0, 0, fmt.Errorf("malformed block %q", line)
	}

	ranges := strings.Split(fields[0], ",")
	if len(ranges) != 2 {
		return "", 0, 0, 0, fmt.Errorf("malformed range %q", fields[0])
	}
	startLine, err = parsePositionLine(ranges[0])
	if err != nil {
		return "", 0, 0, 0, err
	}
	endLine, err = parsePositionLine(ranges[1])
	if err != nil {
		return "", 0, 0, 0, err
	}

	count, err = strconv.Atoi(fields[2])
	if err != nil {
		return "", 0, 0, 0, fmt.Errorf("malformed count %q", fields[2])
	}
	return file, startLine, endLine, count, nil
}

// parsePositionLine extracts the line number from "line.col".
func parsePositionLine(pos string) (int, error) {
	dot := strings.Index(pos, ".")
	if dot < 0 {
		return 0, fmt.Errorf("malformed position %q", pos)
	}
	ln, err := strconv.Atoi(pos[:dot])
	if err != nil || ln <= 0 {
		return 0, fmt.Errorf("malformed position %q", pos)
	}
	return ln, nil
}

// firstNonEmptyLine returns the first line of data that contains more than
// whitespace, with leading whitespace trimmed.
func firstNonEmptyLine(data []byte) []byte {
	for len(data) > 0 {
		nl := bytes.IndexByte(data, '\n')
		var line []byte
		if nl < 0 {
			line, data = data, nil
		} else {
			line, data = data[:nl], data[nl+1:]
		}
		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			return line
		}
	}
	return nil
}
