package report

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/coverlay/coverlay/pkg/coverage"
)

// lcovFormat parses LCOV tracefiles (geninfo/lcov output, also emitted by
// jest, vitest and most non-Go toolchains).
//
// Only the records the data model needs are interpreted: SF (source file),
// DA (line hits), BRDA (branch hits), end_of_record. Everything else (FN,
// FNDA, LF, LH, ...) is summary data that is skipped.
type lcovFormat struct{}

func (lcovFormat) Name() string { return "lcov" }

func (lcovFormat) Sniff(data []byte) bool {
	line := firstNonEmptyLine(data)
	return bytes.HasPrefix(line, []byte("TN:")) || bytes.HasPrefix(line, []byte("SF:"))
}

func (lcovFormat) Parse(data []byte) (map[string]coverage.Section, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	sections := make(map[string]coverage.Section)

	var (
		file     string
		lines    map[int]int
		branches []coverage.Branch
		lineNo   int
	)

	flush := func() {
		if file == "" {
			return
		}
		sec := coverage.NewSection(file, lines, branches)
		if existing, ok := sections[file]; ok {
			sec = existing.Merge(sec)
		}
		sections[file] = sec
		file, lines, branches = "", nil, nil
	}

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "" || strings.HasPrefix(line, "TN:"):
			continue

		case strings.HasPrefix(line, "SF:"):
			flush()
			file = strings.TrimSpace(line[3:])
			if file == "" {
				return nil, fmt.Errorf("line %d: empty SF record", lineNo)
			}
			lines = make(map[int]int)

		case strings.HasPrefix(line, "DA:"):
			if file == "" {
				return nil, fmt.Errorf("line %d: DA record outside SF block", lineNo)
			}
			parts := strings.Split(line[3:], ",")
			if len(parts) < 2 {
				return nil, fmt.Errorf("line %d: malformed DA record", lineNo)
			}
			ln, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
			hits, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
			if err1 != nil || err2 != nil || ln <= 0 {
				return nil, fmt.Errorf("line %d: malformed DA record", lineNo)
			}
			lines[ln] += hits

		case strings.HasPrefix(line, "BRDA:"):
			if file == "" {
				return nil, fmt.Errorf("line %d: BRDA record outside SF block", lineNo)
			}
			parts := strings.Split(line[5:], ",")
			if len(parts) != 4 {
				return nil, fmt.Errorf("line %d: malformed BRDA record", lineNo)
			}
			ln, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
			block, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
			branch, err3 := strconv.Atoi(strings.TrimSpace(parts[2]))
			if err1 != nil || err2 != nil || err3 != nil || ln <= 0 {
				return nil, fmt.Errorf("line %d: malformed BRDA record", lineNo)
			}
			// "-" means the branch was never evaluated.
			taken := 0
			if t := strings.TrimSpace(parts[3]); t != "-" {
				var err error
				taken, err = strconv.Atoi(t)
				if err != nil {
					return nil, fmt.Errorf("line %d: malformed BRDA record", lineNo)
				}
			}
			branches = append(branches, coverage.Branch{Line: ln, Block: block, Branch: branch, Taken: taken})

		case line == "end_of_record":
			flush()
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	flush()

	if len(sections) == 0 {
		return nil, fmt.Errorf("no SF records found")
	}
	return sections, nil
}
