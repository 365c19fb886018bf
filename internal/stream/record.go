package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	// RecordSeparator delimits one stream event from the next.
	RecordSeparator = "\n\n"
	// DataPrefix marks a line carrying a JSON payload.
	DataPrefix = "data: "
)

// ErrNotData is returned by ParseEvent for lines without DataPrefix.
var ErrNotData = errors.New("line is not a data record")

// Payload is the JSON object carried by a data line.
type Payload struct {
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

// EventRecord is one parsed line of the stream.
type EventRecord struct {
	Line    string
	Payload *Payload
}

// ParseEvent parses a single line. Lines without DataPrefix yield
// ErrNotData; a data line whose payload is not a JSON object yields a
// decode error.
func ParseEvent(line string) (EventRecord, error) {
	rec := EventRecord{Line: line}
	line = strings.TrimSuffix(line, "\r")
	if !strings.HasPrefix(line, DataPrefix) {
		return rec, ErrNotData
	}

	var p Payload
	if err := json.Unmarshal([]byte(line[len(DataPrefix):]), &p); err != nil {
		return rec, fmt.Errorf("failed to decode record payload: %w", err)
	}
	rec.Payload = &p
	return rec, nil
}

// splitRecords cuts buf on RecordSeparator. It returns the complete records
// and the unterminated trailing fragment, which must be carried into the
// next call.
func splitRecords(buf string) (records []string, rest string) {
	for {
		i := strings.Index(buf, RecordSeparator)
		if i < 0 {
			return records, buf
		}
		records = append(records, buf[:i])
		buf = buf[i+len(RecordSeparator):]
	}
}

// recordLines returns the non-empty lines of a record.
func recordLines(record string) []string {
	lines := strings.Split(record, "\n")
	out := lines[:0]
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			out = append(out, l)
		}
	}
	return out
}
