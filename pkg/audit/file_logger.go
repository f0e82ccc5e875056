package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// FileLoggerConfig configures the JSON-lines sink
type FileLoggerConfig struct {
	// Dir holds one file per UTC day, security-YYYY-MM-DD.log
	Dir string

	// MaxSize starts a numbered continuation file for the same day once the
	// current one reaches it. Zero disables size limits.
	MaxSize int64

	// MaxFiles bounds how many files are kept; the oldest go first. Zero
	// keeps everything.
	MaxFiles int
}

// DefaultFileLoggerConfig returns the production defaults
func DefaultFileLoggerConfig() FileLoggerConfig {
	return FileLoggerConfig{
		Dir:      "/var/log/posalpro/audit",
		MaxSize:  100 << 20,
		MaxFiles: 30,
	}
}

var errFileLoggerClosed = errors.New("audit file logger is closed")

// FileLogger appends events as JSON lines to daily files
type FileLogger struct {
	cfg FileLoggerConfig
	now func() time.Time

	mu      sync.Mutex
	file    *os.File
	day     string
	part    int
	written int64
	closed  bool
}

// NewFileLogger creates the directory and the file for today
func NewFileLogger(cfg FileLoggerConfig) (*FileLogger, error) {
	if cfg.Dir == "" {
		return nil, errors.New("audit log directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}

	l := &FileLogger{cfg: cfg, now: time.Now}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.openFor(l.now().UTC().Format(time.DateOnly)); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *FileLogger) fileName(day string, part int) string {
	if part == 0 {
		return filepath.Join(l.cfg.Dir, "security-"+day+".log")
	}
	return filepath.Join(l.cfg.Dir, fmt.Sprintf("security-%s.%d.log", day, part))
}

// openFor switches to the last part of day, continuing it if it has room.
// Callers hold l.mu.
func (l *FileLogger) openFor(day string) error {
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}

	part := 0
	if existing, err := filepath.Glob(filepath.Join(l.cfg.Dir, "security-"+day+"*.log")); err == nil {
		for _, f := range existing {
			if d, p := splitLogName(f); d == day && p > part {
				part = p
			}
		}
	}
	var size int64
	if info, err := os.Stat(l.fileName(day, part)); err == nil {
		size = info.Size()
		if l.cfg.MaxSize > 0 && size >= l.cfg.MaxSize {
			part++
			size = 0
		}
	}

	f, err := os.OpenFile(l.fileName(day, part), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open audit log file: %w", err)
	}
	l.file, l.day, l.part, l.written = f, day, part, size
	l.prune()
	return nil
}

// prune removes the oldest files beyond MaxFiles. Failures are ignored; the
// next switch retries.
func (l *FileLogger) prune() {
	if l.cfg.MaxFiles <= 0 {
		return
	}
	files, err := l.files()
	if err != nil || len(files) <= l.cfg.MaxFiles {
		return
	}
	for _, f := range files[:len(files)-l.cfg.MaxFiles] {
		_ = os.Remove(f)
	}
}

// files lists the sink's files oldest first
func (l *FileLogger) files() ([]string, error) {
	files, err := filepath.Glob(filepath.Join(l.cfg.Dir, "security-*.log"))
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool {
		di, pi := splitLogName(files[i])
		dj, pj := splitLogName(files[j])
		if di != dj {
			return di < dj
		}
		return pi < pj
	})
	return files, nil
}

func splitLogName(path string) (string, int) {
	name := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(path), "security-"), ".log")
	day, rest, ok := strings.Cut(name, ".")
	if !ok {
		return day, 0
	}
	var part int
	fmt.Sscanf(rest, "%d", &part)
	return day, part
}

// Log appends event to today's file
func (l *FileLogger) Log(_ context.Context, event *AuditEvent) error {
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode audit event: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return errFileLoggerClosed
	}

	day := l.now().UTC().Format(time.DateOnly)
	switch {
	case day != l.day:
		err = l.openFor(day)
	case l.cfg.MaxSize > 0 && l.written >= l.cfg.MaxSize:
		err = l.openFor(day)
	}
	if err != nil {
		return err
	}

	n, err := l.file.Write(line)
	l.written += int64(n)
	if err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

// Close closes the current file. Later calls to Log fail.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
