// Package botlog writes the per-bot activity logs the dashboard reads.
// These are human-facing trade journals, separate from the structured
// process log.
package botlog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Log categories.
const (
	CategoryStrategy = "STRATEGY"
	CategoryTrade    = "TRADE"
	CategoryPosition = "POSITION"
	CategoryNews     = "NEWS"
	CategoryError    = "ERROR"
)

// Logger appends timestamped lines to one bot's log file. Safe for
// concurrent use, though in practice only the owning worker writes.
type Logger struct {
	mu   sync.Mutex
	path string
}

// New returns the logger for bot id, writing under dir.
func New(dir string, id int) *Logger {
	return &Logger{path: filepath.Join(dir, fmt.Sprintf("bot_%d.log", id))}
}

// Path returns the underlying file path.
func (l *Logger) Path() string { return l.path }

// Write appends one line: "2006-01-02 15:04:05 [INFO] [CATEGORY] message".
func (l *Logger) Write(level, category, format string, args ...interface{}) {
	line := fmt.Sprintf("%s [%s] [%s] %s\n",
		time.Now().UTC().Format("2006-01-02 15:04:05"),
		strings.ToUpper(level), category, fmt.Sprintf(format, args...))

	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	f.WriteString(line)
}

// Info logs at INFO level.
func (l *Logger) Info(category, format string, args ...interface{}) {
	l.Write("INFO", category, format, args...)
}

// Error logs at ERROR level under the ERROR category.
func (l *Logger) Error(format string, args ...interface{}) {
	l.Write("ERROR", CategoryError, format, args...)
}

// Tail returns the last n lines of the log, oldest first. A missing file
// yields an empty slice; bots that have never run have no log yet.
func (l *Logger) Tail(n int) ([]string, error) {
	if n <= 0 {
		return []string{}, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("read bot log: %w", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return []string{}, nil
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}

// Remove deletes the log file. Called when a bot is deleted.
func (l *Logger) Remove() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	err := os.Remove(l.path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
