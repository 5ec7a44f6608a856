// Package session keeps an on-disk record of every tracing session a kprof
// process currently owns, so sessions left behind by a killed process can be
// found and reaped later.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// Record describes one live tracing session and the process that owns it.
type Record struct {
	Name      string    `json:"name"`
	OutputDir string    `json:"outputDir"`
	TracePath string    `json:"tracePath"`
	PID       int       `json:"pid"`
	State     string    `json:"state"`
	Command   []string  `json:"command,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Alive reports whether the owning process still exists.
func (r *Record) Alive() bool {
	return processAlive(r.PID)
}

// ErrNotFound is returned when no record exists for a session name.
var ErrNotFound = errors.New("session record not found")

// validName matches session names that are safe to use as a directory name.
var validName = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// ValidName reports whether name can be stored in the registry.
func ValidName(name string) bool {
	return validName.MatchString(name) && len(name) <= 255
}

// processAlive is replaced in tests.
var processAlive = Alive

// Alive reports whether a process with the given pid exists. EPERM means the
// process exists but belongs to another user.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// Manager handles record persistence and lookup.
type Manager struct {
	dir string
	mu  sync.RWMutex // protects file operations
}

// NewManager creates a registry rooted at dir.
func NewManager(dir string) *Manager {
	return &Manager{dir: dir}
}

// Dir returns the registry directory.
func (m *Manager) Dir() string {
	return m.dir
}

// Create stores a new record owned by the current process.
func (m *Manager) Create(name, outputDir, tracePath, state string, command []string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	rec := &Record{
		Name:      name,
		OutputDir: outputDir,
		TracePath: tracePath,
		PID:       os.Getpid(),
		State:     state,
		Command:   command,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.saveLocked(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Get returns the record for name.
func (m *Manager) Get(name string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loadLocked(name)
}

// UpdateState records a lifecycle transition.
func (m *Manager) UpdateState(name, state string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.loadLocked(name)
	if err != nil {
		return err
	}
	rec.State = state
	rec.UpdatedAt = time.Now()
	return m.saveLocked(rec)
}

// Delete removes the record for name. Deleting a missing record is not an
// error.
func (m *Manager) Delete(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !ValidName(name) {
		return fmt.Errorf("invalid session name: %s", name)
	}
	return os.RemoveAll(filepath.Join(m.dir, name))
}

// List returns all records, newest first.
func (m *Manager) List() ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLocked()
}

// Orphans returns the records whose owning process is gone.
func (m *Manager) Orphans() ([]*Record, error) {
	recs, err := m.List()
	if err != nil {
		return nil, err
	}
	var orphans []*Record
	for _, r := range recs {
		if !r.Alive() {
			orphans = append(orphans, r)
		}
	}
	return orphans, nil
}

func (m *Manager) listLocked() ([]*Record, error) {
	entries, err := os.ReadDir(m.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading sessions directory: %w", err)
	}

	recs := make([]*Record, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		rec, err := m.loadLocked(entry.Name())
		if err != nil {
			continue // skip corrupted records
		}
		recs = append(recs, rec)
	}

	sort.Slice(recs, func(i, j int) bool {
		return recs[i].CreatedAt.After(recs[j].CreatedAt)
	})
	return recs, nil
}

// saveLocked writes metadata.json with a write-rename so readers never see a
// partial file. Caller must hold m.mu.
func (m *Manager) saveLocked(rec *Record) error {
	if !ValidName(rec.Name) {
		return fmt.Errorf("invalid session name: %s", rec.Name)
	}
	dir := filepath.Join(m.dir, rec.Name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling session record: %w", err)
	}

	path := filepath.Join(dir, "metadata.json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing session record: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("renaming session record: %w", err)
	}
	return nil
}

// loadLocked reads a record. Caller must hold m.mu.
func (m *Manager) loadLocked(name string) (*Record, error) {
	if !ValidName(name) {
		return nil, fmt.Errorf("invalid session name: %s", name)
	}
	data, err := os.ReadFile(filepath.Join(m.dir, name, "metadata.json"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("reading session record: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parsing session record: %w", err)
	}
	return &rec, nil
}
