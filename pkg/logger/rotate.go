package logger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// rotatingWriter appends to a log segment and rotates it once a write
// would push the segment past the size limit. Rotated segments are
// renamed to "<path>.1" .. "<path>.N"; the oldest slot falls off the
// end and segments outside the retention window are removed.
type rotatingWriter struct {
	mu sync.Mutex

	path      string
	limit     int64
	backups   int
	retention time.Duration

	current *os.File
	written int64
}

func newRotatingWriter(path string, maxSizeMB, maxBackups, maxAgeDays int) (*rotatingWriter, error) {
	if path == "" {
		return nil, errors.New("rotating writer needs a target path")
	}
	if maxSizeMB <= 0 {
		maxSizeMB = 100
	}
	if maxBackups <= 0 {
		maxBackups = 7
	}
	if maxAgeDays <= 0 {
		maxAgeDays = 30
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	return &rotatingWriter{
		path:      path,
		limit:     int64(maxSizeMB) << 20,
		backups:   maxBackups,
		retention: time.Duration(maxAgeDays) * 24 * time.Hour,
	}, nil
}

func (w *rotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.current == nil {
		if err := w.openCurrent(); err != nil {
			return 0, err
		}
	}
	if w.written+int64(len(p)) > w.limit {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := w.current.Write(p)
	w.written += int64(n)
	return n, err
}

func (w *rotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current == nil {
		return nil
	}
	err := w.current.Close()
	w.current = nil
	w.written = 0
	return err
}

// openCurrent opens the active segment in append mode and records its
// size, so rotation decisions survive process restarts.
func (w *rotatingWriter) openCurrent() error {
	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log segment: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("stat log segment: %w", err)
	}
	w.current = file
	w.written = info.Size()
	return nil
}

// rotate closes the active segment, shifts the numbered backups one
// slot up and reopens a fresh segment.
func (w *rotatingWriter) rotate() error {
	if w.current != nil {
		_ = w.current.Close()
		w.current = nil
		w.written = 0
	}
	w.shiftBackups()
	w.pruneExpired()
	return w.openCurrent()
}

func (w *rotatingWriter) backupName(index int) string {
	return fmt.Sprintf("%s.%d", w.path, index)
}

func (w *rotatingWriter) shiftBackups() {
	for i := w.backups - 1; i >= 1; i-- {
		if _, err := os.Stat(w.backupName(i)); err == nil {
			_ = os.Rename(w.backupName(i), w.backupName(i+1))
		}
	}
	if _, err := os.Stat(w.path); err == nil {
		_ = os.Rename(w.path, w.backupName(1))
	}
}

// pruneExpired removes backups whose last modification falls outside
// the retention window.
func (w *rotatingWriter) pruneExpired() {
	cutoff := time.Now().Add(-w.retention)
	for i := 1; i <= w.backups; i++ {
		info, err := os.Stat(w.backupName(i))
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = os.Remove(w.backupName(i))
		}
	}
}
