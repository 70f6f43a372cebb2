package logging

import (
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"
)

// LogEntry is a flattened log record handed to sinks.
type LogEntry struct {
	Timestamp time.Time
	Level     Level
	Service   string
	Message   string
	Fields    map[string]string
	TraceID   string
	Caller    string
}

// Sink receives a copy of every log entry at or above the logger's level.
type Sink interface {
	Write(entry LogEntry)
}

// BufferSink keeps the most recent entries in memory. Tests use it to assert
// on warnings, and `termit analyze --explain` replays it after a run.
type BufferSink struct {
	mu      sync.Mutex
	entries []LogEntry
	limit   int
}

// NewBufferSink returns a sink holding at most limit entries (0 = unbounded).
func NewBufferSink(limit int) *BufferSink {
	return &BufferSink{limit: limit}
}

// Write stores the entry, evicting the oldest one when the buffer is full.
func (s *BufferSink) Write(entry LogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.limit > 0 && len(s.entries) >= s.limit {
		copy(s.entries, s.entries[1:])
		s.entries = s.entries[:len(s.entries)-1]
	}
	s.entries = append(s.entries, entry)
}

// Entries returns a snapshot of the buffered entries, oldest first.
func (s *BufferSink) Entries() []LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]LogEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Filter returns buffered entries with the given level whose message contains substr.
func (s *BufferSink) Filter(level Level, substr string) []LogEntry {
	var out []LogEntry
	for _, e := range s.Entries() {
		if e.Level == level && strings.Contains(e.Message, substr) {
			out = append(out, e)
		}
	}
	return out
}

// Reset drops all buffered entries.
func (s *BufferSink) Reset() {
	s.mu.Lock()
	s.entries = nil
	s.mu.Unlock()
}

// getCaller returns the caller information (file:line) for logging.
func getCaller(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return ""
	}
	if i := strings.LastIndexByte(file, '/'); i >= 0 {
		file = file[i+1:]
	}
	return fmt.Sprintf("%s:%d", file, line)
}

func stringify(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case error:
		return x.Error()
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(v)
	}
}
