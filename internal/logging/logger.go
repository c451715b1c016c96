// Package logging provides leveled logging and the experiment meta log for chaosrun.
// It offers two complementary outputs:
//   - A leveled slog.Logger for stderr (operational output)
//   - A MetaLog for structured JSONL invocation records (logs/expMetaLog_<timestamp>)
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// LevelTrace is a custom slog level below Debug.
// At this level every engine argument vector is logged before launch.
const LevelTrace = slog.LevelDebug - 4

// ParseLevel maps a string level name to a slog.Level.
// Supported values: "info", "debug", "trace", "warn", "error" (case-insensitive).
// Unknown values default to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "trace":
		return LevelTrace
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ValidLevel reports whether s is a recognised level name. Empty is valid
// and means info.
func ValidLevel(s string) bool {
	switch strings.ToLower(s) {
	case "", "info", "debug", "trace", "warn", "error":
		return true
	default:
		return false
	}
}

// NewLogger creates a leveled slog.Logger writing to w.
func NewLogger(level string, w io.Writer) *slog.Logger {
	lvl := ParseLevel(level)
	opts := &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Label the custom trace level
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelTrace {
					a.Value = slog.StringValue("TRACE")
				}
			}
			return a
		},
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// MetaLog appends one JSON object per line to the experiment meta log.
// It is safe for concurrent use. A nil MetaLog is safe to use;
// all methods are no-ops on nil receiver.
type MetaLog struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// OpenMetaLog opens path for append, creating it if needed.
func OpenMetaLog(path string) (*MetaLog, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening meta log: %w", err)
	}
	return &MetaLog{file: f, path: path}, nil
}

// Path returns the file the log writes to. Empty on nil receiver.
func (ml *MetaLog) Path() string {
	if ml == nil {
		return ""
	}
	return ml.path
}

// Log writes an event as a single JSONL line.
// A "time" field is added automatically. The caller's map is not mutated.
// Safe to call on nil receiver.
func (ml *MetaLog) Log(event map[string]any) error {
	if ml == nil {
		return nil
	}

	entry := make(map[string]any, len(event)+1)
	for k, v := range event {
		entry[k] = v
	}
	entry["time"] = time.Now().UTC().Format(time.RFC3339Nano)

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding meta log entry: %w", err)
	}
	data = append(data, '\n')

	ml.mu.Lock()
	defer ml.mu.Unlock()
	if ml.file == nil {
		return fmt.Errorf("meta log is closed")
	}
	if _, err := ml.file.Write(data); err != nil {
		return fmt.Errorf("writing meta log: %w", err)
	}
	return nil
}

// Close closes the underlying file. Safe to call on nil receiver.
func (ml *MetaLog) Close() error {
	if ml == nil {
		return nil
	}

	ml.mu.Lock()
	defer ml.mu.Unlock()
	if ml.file == nil {
		return nil
	}
	err := ml.file.Close()
	ml.file = nil
	return err
}
