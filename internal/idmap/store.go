// Package idmap persists legacy-id -> new-id mappings between migration phases.
//
// Each logical mapping (buyers, stylists, bookings, ...) lives in its own JSON file
// `{ "metadata": {...}, "mapping": { "<legacy>": "<new>" } }` and is loaded fully into
// memory on first use. Entries are only ever added.
package idmap

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// ErrConflict is returned when a legacy id is already mapped to a different new id
var ErrConflict = errors.New("identifier mapping conflict")

// ConflictError describes a rejected Put
type ConflictError struct {
	Name     string
	LegacyID string
	Existing string
	New      string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s mapping: legacy id %s already maps to %s, refusing %s",
		e.Name, e.LegacyID, e.Existing, e.New)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// Metadata is written alongside every mapping file
type Metadata struct {
	Name      string    `json:"name"`
	Count     int       `json:"count"`
	UpdatedAt time.Time `json:"updated_at"`
}

type file struct {
	Metadata Metadata          `json:"metadata"`
	Mapping  map[string]string `json:"mapping"`
}

type mapping struct {
	entries map[string]string
	dirty   bool
}

// Store holds every mapping of one migration run, backed by a directory
type Store struct {
	dir      string
	mu       sync.RWMutex
	mappings map[string]*mapping
}

// NewStore returns a store rooted at dir. Nothing is read until a mapping is used.
func NewStore(dir string) *Store {
	return &Store{dir: dir, mappings: make(map[string]*mapping)}
}

// Path returns the file backing the named mapping
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name+"_mapping.json")
}

// load returns the named mapping, reading it from disk on first use. Caller holds s.mu.
func (s *Store) load(name string) (*mapping, error) {
	if m, ok := s.mappings[name]; ok {
		return m, nil
	}

	m := &mapping{entries: make(map[string]string)}
	data, err := os.ReadFile(s.Path(name))
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read %s mapping: %w", name, err)
	default:
		var f file
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("failed to parse %s mapping: %w", name, err)
		}
		for k, v := range f.Mapping {
			m.entries[k] = v
		}
	}

	s.mappings[name] = m
	return m, nil
}

// Put records legacyID -> newID. Repeating an identical Put is a no-op; a Put that
// would change an existing entry fails with a *ConflictError.
func (s *Store) Put(name, legacyID, newID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.load(name)
	if err != nil {
		return err
	}
	if existing, ok := m.entries[legacyID]; ok {
		if existing == newID {
			return nil
		}
		return &ConflictError{Name: name, LegacyID: legacyID, Existing: existing, New: newID}
	}
	m.entries[legacyID] = newID
	m.dirty = true
	return nil
}

// Get resolves a legacy id. A missing entry is not an error.
func (s *Store) Get(name, legacyID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.load(name)
	if err != nil {
		return "", false, err
	}
	id, ok := m.entries[legacyID]
	return id, ok, nil
}

// All returns a copy of the named mapping
func (s *Store) All(name string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.load(name)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(m.entries))
	for k, v := range m.entries {
		out[k] = v
	}
	return out, nil
}

// Len returns the number of entries in the named mapping
func (s *Store) Len(name string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.load(name)
	if err != nil {
		return 0, err
	}
	return len(m.entries), nil
}

// View is a read-only snapshot of one mapping, used by Extract
type View map[string]string

// Lookup resolves a legacy id in the snapshot
func (v View) Lookup(legacyID string) (string, bool) {
	id, ok := v[legacyID]
	return id, ok
}

// View loads the named mapping and returns a snapshot of it
func (s *Store) View(name string) (View, error) {
	all, err := s.All(name)
	if err != nil {
		return nil, err
	}
	return View(all), nil
}

// Flush writes every mapping changed since the last flush
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.mappings))
	for name := range s.mappings {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		m := s.mappings[name]
		if !m.dirty {
			continue
		}
		if err := s.write(name, m); err != nil {
			return err
		}
		m.dirty = false
	}
	return nil
}

// write replaces the mapping file atomically. Caller holds s.mu.
func (s *Store) write(name string, m *mapping) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create mapping directory: %w", err)
	}

	data, err := json.MarshalIndent(file{
		Metadata: Metadata{Name: name, Count: len(m.entries), UpdatedAt: time.Now().UTC()},
		Mapping:  m.entries,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s mapping: %w", name, err)
	}

	tmp := s.Path(name) + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s mapping: %w", name, err)
	}
	if err := os.Rename(tmp, s.Path(name)); err != nil {
		return fmt.Errorf("failed to replace %s mapping: %w", name, err)
	}
	return nil
}
