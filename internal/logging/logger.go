// Package logging provides file-based logging with rotation for the CLI
// and the interactive console.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Logger writes to a rotated log file, and mirrors output to stderr when
// debug is on. Console output stays clean unless the user asked for noise.
type Logger struct {
	mu          sync.Mutex
	file        *os.File
	filePath    string
	maxSizeMB   int64
	currentSize int64
	debug       bool
	std         *log.Logger
}

// Config holds logger configuration
type Config struct {
	LogDir    string // Directory to write logs (default: ~/.chariot/logs)
	Name      string // Log file base name
	MaxSizeMB int64  // Max log file size before rotation (default: 50MB)
	Debug     bool   // Mirror log output to stderr
}

// New creates a new file logger
func New(cfg Config) (*Logger, error) {
	if cfg.LogDir == "" {
		cfg.LogDir = DefaultLogDir()
	}
	if cfg.MaxSizeMB == 0 {
		cfg.MaxSizeMB = 50
	}
	if cfg.Name == "" {
		cfg.Name = "chariot"
	}

	if err := os.MkdirAll(cfg.LogDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %v", err)
	}

	l := &Logger{
		filePath:  filepath.Join(cfg.LogDir, cfg.Name+".log"),
		maxSizeMB: cfg.MaxSizeMB,
		debug:     cfg.Debug,
	}

	if err := l.openLogFile(); err != nil {
		return nil, err
	}

	var out io.Writer = l
	if cfg.Debug {
		out = io.MultiWriter(os.Stderr, l)
	}
	l.std = log.New(out, "", log.Ldate|log.Ltime|log.Lmicroseconds)

	return l, nil
}

// Std exposes the underlying standard logger for components that take one.
func (l *Logger) Std() *log.Logger {
	return l.std
}

// openLogFile opens or creates the log file
func (l *Logger) openLogFile() error {
	f, err := os.OpenFile(l.filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open log file: %v", err)
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to stat log file: %v", err)
	}

	l.file = f
	l.currentSize = stat.Size()
	return nil
}

// Write implements io.Writer for the logger
func (l *Logger) Write(p []byte) (n int, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.currentSize+int64(len(p)) > l.maxSizeMB*1024*1024 {
		if err := l.rotate(); err != nil {
			// Log rotation failed, but continue writing
			fmt.Fprintf(os.Stderr, "Log rotation failed: %v\n", err)
		}
	}

	n, err = l.file.Write(p)
	l.currentSize += int64(n)
	return n, err
}

// rotate rotates the log file
func (l *Logger) rotate() error {
	if l.file != nil {
		l.file.Close()
	}

	// Rename current log to timestamped backup
	timestamp := time.Now().Format("20060102-150405")
	backupPath := fmt.Sprintf("%s.%s", l.filePath, timestamp)

	if err := os.Rename(l.filePath, backupPath); err != nil {
		// File might not exist, that's ok
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to rename log file: %v", err)
		}
	}

	l.cleanupOldLogs()

	return l.openLogFile()
}

// cleanupOldLogs removes old rotated log files, keeping the most recent ones
func (l *Logger) cleanupOldLogs() {
	pattern := l.filePath + ".*"
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return
	}

	// Keep only the last 5 rotated logs
	if len(matches) > 5 {
		// Timestamp suffixes sort oldest first
		for i := 0; i < len(matches)-5; i++ {
			os.Remove(matches[i])
		}
	}
}

// Close closes the log file
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Info logs an info message
func (l *Logger) Info(format string, args ...interface{}) {
	l.std.Printf("[INFO] "+format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.std.Printf("[ERROR] "+format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.std.Printf("[WARN] "+format, args...)
}

// Debug logs a debug message when debug output is enabled
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.debug {
		l.std.Printf("[DEBUG] "+format, args...)
	}
}

// DefaultLogDir returns the log directory from env or default
func DefaultLogDir() string {
	if dir := os.Getenv("CHARIOT_LOG_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".chariot", "logs")
}
