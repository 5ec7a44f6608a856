package log

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"
)

const dayLayout = "2006-01-02"

// FileWriter writes to dir/YYYY-MM-DD.jsonl, switching files at midnight and
// keeping a "latest" symlink pointed at the current one.
type FileWriter struct {
	dir string
	now func() time.Time

	mu   sync.Mutex
	file *os.File
	day  string
}

// NewFileWriter creates the directory if needed and opens today's file.
func NewFileWriter(dir string) (*FileWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating debug log dir: %w", err)
	}
	fw := &FileWriter{dir: dir, now: time.Now}

	fw.mu.Lock()
	defer fw.mu.Unlock()
	if err := fw.openLocked(fw.now().Format(dayLayout)); err != nil {
		return nil, err
	}
	return fw, nil
}

// Write implements io.Writer.
func (fw *FileWriter) Write(p []byte) (int, error) {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if day := fw.now().Format(dayLayout); day != fw.day {
		if err := fw.openLocked(day); err != nil {
			return 0, err
		}
	}
	return fw.file.Write(p)
}

// Close closes the current file.
func (fw *FileWriter) Close() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.file == nil {
		return nil
	}
	err := fw.file.Close()
	fw.file = nil
	return err
}

func (fw *FileWriter) openLocked(day string) error {
	if fw.file != nil {
		fw.file.Close()
	}
	name := day + ".jsonl"
	f, err := os.OpenFile(filepath.Join(fw.dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening debug log: %w", err)
	}
	fw.file = f
	fw.day = day
	fw.relink(name)
	return nil
}

// relink swaps the "latest" symlink via a temp link and rename. Best effort.
func (fw *FileWriter) relink(target string) {
	link := filepath.Join(fw.dir, "latest")
	tmp := link + ".tmp"
	os.Remove(tmp)
	if err := os.Symlink(target, tmp); err != nil {
		return
	}
	_ = os.Rename(tmp, link)
}

var dailyFile = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}\.jsonl$`)

// Cleanup removes daily files older than retentionDays and returns how many
// were removed. Unrelated files in dir are left alone.
func Cleanup(dir string, retentionDays int) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !dailyFile.MatchString(name) {
			continue
		}
		day, err := time.Parse(dayLayout, name[:len(dayLayout)])
		if err != nil || !day.Before(cutoff) {
			continue
		}
		if os.Remove(filepath.Join(dir, name)) == nil {
			removed++
		}
	}
	return removed
}
