package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

const maxLineBytes = 4 << 20

// Entry is one decoded log line.
type Entry map[string]any

// Event returns the entry's event name.
func (e Entry) Event() string {
	return e.String("event")
}

// String returns a string field or "".
func (e Entry) String(key string) string {
	v, _ := e[key].(string)
	return v
}

// Time parses the entry timestamp. Zero if absent or malformed.
func (e Entry) Time() time.Time {
	t, err := time.Parse(time.RFC3339Nano, e.String("ts"))
	if err != nil {
		return time.Time{}
	}
	return t
}

// Filter selects entries.
type Filter func(Entry) bool

// FieldEquals matches entries whose string field key equals value.
func FieldEquals(key, value string) Filter {
	return func(e Entry) bool { return e.String(key) == value }
}

// Any matches entries accepted by at least one filter. No filters match everything.
func Any(filters ...Filter) Filter {
	return func(e Entry) bool {
		if len(filters) == 0 {
			return true
		}
		for _, f := range filters {
			if f(e) {
				return true
			}
		}
		return false
	}
}

// Read decodes all lines from r that pass filter (nil accepts all).
// Lines that are not JSON objects are skipped and counted.
func Read(r io.Reader, filter Filter) ([]Entry, int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var (
		entries []Entry
		skipped int
	)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			skipped++
			continue
		}
		if filter == nil || filter(e) {
			entries = append(entries, e)
		}
	}
	if err := scanner.Err(); err != nil {
		return entries, skipped, fmt.Errorf("eventlog: read: %w", err)
	}
	return entries, skipped, nil
}

// ReadFile is Read over a file path.
func ReadFile(path string, filter Filter) ([]Entry, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("eventlog: open %s: %w", path, err)
	}
	defer f.Close()
	return Read(f, filter)
}
