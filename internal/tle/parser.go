package tle

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// Fixed columns on element line 2 (0-indexed, half-open). The mean motion
// field occupies columns 53-63 in the 1-indexed NORAD layout.
const (
	meanMotionStart = 52
	meanMotionEnd   = 63
	catalogIDStart  = 2
	catalogIDEnd    = 7
)

// Parse reads 3-line NORAD TLE text and returns the records in source order.
// Blank lines are ignored. Any structural violation fails the whole parse
// with a *ParseError; partial results are never returned.
func Parse(r io.Reader) ([]Record, error) {
	scanner := bufio.NewScanner(r)
	var lines []string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading TLE data: %w", err)
	}

	if len(lines)%3 != 0 {
		return nil, &ParseError{Reason: fmt.Sprintf("%d lines is not a multiple of 3", len(lines))}
	}

	records := make([]Record, 0, len(lines)/3)
	for i := 0; i < len(lines); i += 3 {
		rec, err := parseRecord(lines[i], lines[i+1], lines[i+2], i+1)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// parseRecord validates one name/line1/line2 group. first is the 1-based
// line number of the name line.
func parseRecord(name, line1, line2 string, first int) (Record, error) {
	if !strings.HasPrefix(line1, "1 ") {
		return Record{}, &ParseError{Line: first + 1, Reason: "element line 1 must start with \"1 \""}
	}
	if !strings.HasPrefix(line2, "2 ") {
		return Record{}, &ParseError{Line: first + 2, Reason: "element line 2 must start with \"2 \""}
	}

	fields := strings.Fields(line2)
	if len(fields) < 2 {
		return Record{}, &ParseError{Line: first + 2, Reason: "missing catalog identifier"}
	}
	id := fields[1]

	if len(line1) < catalogIDEnd {
		return Record{}, &ParseError{Line: first + 1, Reason: "element line 1 too short"}
	}
	if id1 := strings.TrimSpace(line1[catalogIDStart:catalogIDEnd]); id1 != id {
		return Record{}, &ParseError{
			Line:   first + 1,
			Reason: fmt.Sprintf("catalog id %q on line 1 does not match %q on line 2", id1, id),
		}
	}

	mm, err := meanMotion(line2)
	if err != nil {
		return Record{}, &ParseError{Line: first + 2, Reason: err.Error()}
	}

	return Record{
		CatalogID:  id,
		Name:       name,
		Line1:      line1,
		Line2:      line2,
		MeanMotion: mm,
	}, nil
}

// meanMotion extracts revolutions per day by column offset.
func meanMotion(line2 string) (float64, error) {
	if len(line2) < meanMotionEnd {
		return 0, fmt.Errorf("element line 2 has %d columns, mean motion needs %d", len(line2), meanMotionEnd)
	}
	field := strings.TrimSpace(line2[meanMotionStart:meanMotionEnd])
	mm, err := strconv.ParseFloat(field, 64)
	if err != nil || math.IsNaN(mm) || math.IsInf(mm, 0) {
		return 0, fmt.Errorf("invalid mean motion %q", field)
	}
	return mm, nil
}

// Format writes records back out in 3-line form.
func Format(w io.Writer, records []Record) error {
	bw := bufio.NewWriter(w)
	for _, r := range records {
		if _, err := fmt.Fprintf(bw, "%s\n%s\n%s\n", r.Name, r.Line1, r.Line2); err != nil {
			return fmt.Errorf("writing record %s: %w", r.CatalogID, err)
		}
	}
	return bw.Flush()
}
