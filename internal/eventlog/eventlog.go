// Package eventlog appends structured events to newline-delimited JSON files.
//
// Two logs are kept by the server: the webhook debug trail, which records every
// webhook state transition, and the admin notification log, which is the durable
// record of each notification before any realtime delivery is attempted.
package eventlog

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrClosed is returned by Append after Close.
var ErrClosed = errors.New("eventlog: closed")

// Log is a concurrency-safe NDJSON appender. Each Append produces exactly one line.
type Log struct {
	mu     sync.Mutex
	path   string
	sink   *captureWriter
	logger zerolog.Logger
	file   *os.File
	sync   bool
	closed bool
	now    func() time.Time
}

// Option configures a Log.
type Option func(*Log)

// WithSync controls whether each append is fsynced. Defaults to true for files.
func WithSync(enabled bool) Option {
	return func(l *Log) { l.sync = enabled }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// Open creates (or appends to) the log file at path, creating parent directories.
func Open(path string, opts ...Option) (*Log, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("eventlog: create directory: %w", err)
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open %s: %w", path, err)
	}
	l := newLog(file, append([]Option{WithSync(true)}, opts...)...)
	l.path = path
	l.file = file
	return l, nil
}

// New wraps an arbitrary writer. Sync is a no-op unless the writer is an *os.File.
func New(w io.Writer, opts ...Option) *Log {
	l := newLog(w, opts...)
	if f, ok := w.(*os.File); ok {
		l.file = f
	}
	return l
}

// Discard returns a Log that drops everything.
func Discard() *Log {
	return New(io.Discard)
}

func newLog(w io.Writer, opts ...Option) *Log {
	sink := &captureWriter{w: w}
	l := &Log{
		sink:   sink,
		logger: zerolog.New(sink),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Path returns the backing file path, or "" for writer-backed logs.
func (l *Log) Path() string {
	return l.path
}

// Append writes one event line with the given fields. Keys are emitted sorted
// after the "ts" and "event" keys. The returned error reports write or sync
// failures so callers can treat the entry as not durable.
func (l *Log) Append(event string, fields map[string]any) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}

	l.sink.err = nil
	l.logger.Log().
		Str("ts", l.now().UTC().Format(time.RFC3339Nano)).
		Str("event", event).
		Fields(fields).
		Send()
	if l.sink.err != nil {
		return fmt.Errorf("eventlog: append %s: %w", event, l.sink.err)
	}

	if l.sync && l.file != nil {
		if err := l.file.Sync(); err != nil {
			return fmt.Errorf("eventlog: sync %s: %w", event, err)
		}
	}
	return nil
}

// Close flushes and closes the backing file if Log owns one.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	if l.file == nil || l.path == "" {
		return nil
	}
	if err := l.file.Sync(); err != nil {
		_ = l.file.Close()
		return err
	}
	return l.file.Close()
}

// captureWriter remembers the last write error, which zerolog otherwise swallows.
type captureWriter struct {
	w   io.Writer
	err error
}

func (c *captureWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	if err != nil {
		c.err = err
	}
	return n, err
}
