package record

import (
	"bufio"
	"io"
	"strings"

	"github.com/teranos/vouch/errors"
)

// ParseError describes one rejected import line
type ParseError struct {
	Line int    // 1-based line number
	Text string // the offending line, trimmed
	Err  error
}

func (e ParseError) Error() string {
	return errors.Wrapf(e.Err, "line %d", e.Line).Error()
}

// ParseLine parses one import row of the form
//
//	First|Last|Branch|StartDate[|EndDate]
//
// Fields are trimmed. Branch is resolved via MatchBranch. Dates must be
// YYYY-MM-DD; the end date may be omitted or empty.
func ParseLine(line string) (*Record, error) {
	parts := strings.Split(line, "|")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	if len(parts) < 4 {
		return nil, errors.Newf("expected at least 4 fields, got %d", len(parts))
	}

	if parts[0] == "" {
		return nil, errors.New("first name is empty")
	}
	if parts[1] == "" {
		return nil, errors.New("last name is empty")
	}

	branch, err := MatchBranch(parts[2])
	if err != nil {
		return nil, err
	}

	if !ValidDate(parts[3]) {
		return nil, errors.Newf("invalid start date %q, want YYYY-MM-DD", parts[3])
	}

	rec := &Record{
		FirstName:    parts[0],
		LastName:     parts[1],
		Branch:       branch,
		ServiceStart: parts[3],
		SourceLine:   strings.TrimSpace(line),
	}

	if len(parts) > 4 && parts[4] != "" {
		if !ValidDate(parts[4]) {
			return nil, errors.Newf("invalid end date %q, want YYYY-MM-DD", parts[4])
		}
		rec.ServiceEnd = parts[4]
	}

	return rec, nil
}

// ParseReader parses an import file line by line. Blank lines are
// skipped. Malformed lines are collected as ParseErrors rather than
// aborting the import; the returned error covers only read failures.
func ParseReader(r io.Reader) ([]*Record, []ParseError, error) {
	var (
		records  []*Record
		rejected []ParseError
	)

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		rec, err := ParseLine(line)
		if err != nil {
			rejected = append(rejected, ParseError{Line: lineNo, Text: line, Err: err})
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return records, rejected, errors.Wrap(err, "read import data")
	}

	return records, rejected, nil
}
