package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hession/toolgate/internal/config"
)

// filePrefix names the daily log files: toolgate-YYYY-MM-DD.log
const filePrefix = "toolgate-"

// New creates a configured *slog.Logger.
// The returned closer should be deferred to close file handles.
func New(cfg config.LoggerConfig) (*slog.Logger, func() error, error) {
	writer, closer, err := openOutput(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open log output: %w", err)
	}

	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(writer, opts)
	default:
		handler = slog.NewTextHandler(writer, opts)
	}

	return slog.New(handler), closer, nil
}

// ParseLevel converts a string level to slog.Level.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func openOutput(cfg config.LoggerConfig) (io.Writer, func() error, error) {
	noop := func() error { return nil }

	switch strings.ToLower(cfg.Output) {
	case "stdout":
		return os.Stdout, noop, nil
	case "stderr", "":
		return os.Stderr, noop, nil
	case "file":
		rw, err := NewRotatingWriter(cfg.Dir, cfg.MaxDays)
		if err != nil {
			return nil, nil, err
		}
		if cfg.Console {
			return io.MultiWriter(rw, os.Stderr), rw.Close, nil
		}
		return rw, rw.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown log output %q", cfg.Output)
	}
}

// RotatingWriter writes to one file per day and keeps the newest maxDays files.
type RotatingWriter struct {
	mu          sync.Mutex
	dir         string
	maxDays     int
	currentFile *os.File
	currentDate string
	now         func() time.Time
}

// NewRotatingWriter creates the log directory and opens today's file.
func NewRotatingWriter(dir string, maxDays int) (*RotatingWriter, error) {
	if maxDays <= 0 {
		maxDays = 7
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	w := &RotatingWriter{
		dir:     dir,
		maxDays: maxDays,
		now:     time.Now,
	}

	if err := w.rotateIfNeeded(); err != nil {
		return nil, err
	}

	return w, nil
}

// Write implements io.Writer. Callers hold no lock; slog handlers serialize per record.
func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.rotateIfNeeded(); err != nil {
		return 0, err
	}
	return w.currentFile.Write(p)
}

// rotateIfNeeded opens a new file when the date changes. Caller holds mu.
func (w *RotatingWriter) rotateIfNeeded() error {
	today := w.now().Format("2006-01-02")
	if w.currentDate == today && w.currentFile != nil {
		return nil
	}

	if w.currentFile != nil {
		w.currentFile.Close()
	}

	filename := filepath.Join(w.dir, filePrefix+today+".log")
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	w.currentFile = f
	w.currentDate = today

	w.cleanOldLogs()

	return nil
}

// cleanOldLogs removes log files beyond the newest maxDays
func (w *RotatingWriter) cleanOldLogs() {
	files, err := filepath.Glob(filepath.Join(w.dir, filePrefix+"*.log"))
	if err != nil || len(files) <= w.maxDays {
		return
	}

	// Names sort by date
	sort.Strings(files)

	for i := 0; i < len(files)-w.maxDays; i++ {
		os.Remove(files[i])
	}
}

// Close closes the current file.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.currentFile == nil {
		return nil
	}
	err := w.currentFile.Close()
	w.currentFile = nil
	return err
}

// CurrentFile returns the path of the file being written.
func (w *RotatingWriter) CurrentFile() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return filepath.Join(w.dir, filePrefix+w.currentDate+".log")
}

// OrDefault returns l, or slog.Default() when l is nil.
func OrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
