// Package checkpoint stores the output of each migration phase so phases can be re-run
// independently. Callers address documents by (phase, entity); the file layout is an
// implementation detail of FileRepository.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrNotFound is returned when a checkpoint has not been written yet
var ErrNotFound = errors.New("checkpoint not found")

// Metadata describes a checkpoint document
type Metadata struct {
	Entity    string         `json:"entity"`
	Phase     string         `json:"phase"`
	Timestamp time.Time      `json:"timestamp"`
	Counts    map[string]int `json:"counts"`
}

// Repository saves and loads phase documents
type Repository interface {
	Save(phase, entity string, meta Metadata, records interface{}) error
	Load(phase, entity string, records interface{}) (Metadata, error)
}

type document struct {
	Metadata Metadata        `json:"metadata"`
	Records  json.RawMessage `json:"records"`
}

// FileRepository keeps one JSON file per (entity, phase) in a directory
type FileRepository struct {
	dir string
}

// NewFileRepository returns a repository rooted at dir
func NewFileRepository(dir string) *FileRepository {
	return &FileRepository{dir: dir}
}

// Path returns the file backing a checkpoint
func (r *FileRepository) Path(phase, entity string) string {
	return filepath.Join(r.dir, fmt.Sprintf("%s_%s.json", entity, phase))
}

// Save writes records with metadata, replacing any previous checkpoint atomically
func (r *FileRepository) Save(phase, entity string, meta Metadata, records interface{}) error {
	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	raw, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to encode %s %s records: %w", entity, phase, err)
	}

	meta.Entity = entity
	meta.Phase = phase
	if meta.Timestamp.IsZero() {
		meta.Timestamp = time.Now().UTC()
	}

	data, err := json.MarshalIndent(document{Metadata: meta, Records: raw}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s %s checkpoint: %w", entity, phase, err)
	}

	path := r.Path(phase, entity)
	if err := os.WriteFile(path+".tmp", data, 0644); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := os.Rename(path+".tmp", path); err != nil {
		return fmt.Errorf("failed to replace checkpoint: %w", err)
	}
	return nil
}

// Load decodes a checkpoint's records into the value records points to
func (r *FileRepository) Load(phase, entity string, records interface{}) (Metadata, error) {
	path := r.Path(phase, entity)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Metadata{}, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse checkpoint %s: %w", path, err)
	}
	if records != nil && len(doc.Records) > 0 {
		if err := json.Unmarshal(doc.Records, records); err != nil {
			return Metadata{}, fmt.Errorf("failed to decode checkpoint records %s: %w", path, err)
		}
	}
	return doc.Metadata, nil
}

// Save is a typed convenience wrapper over Repository.Save
func Save[T any](repo Repository, phase, entity string, records []T, counts map[string]int) error {
	if records == nil {
		records = []T{}
	}
	return repo.Save(phase, entity, Metadata{Counts: counts}, records)
}

// Load is a typed convenience wrapper over Repository.Load
func Load[T any](repo Repository, phase, entity string) ([]T, Metadata, error) {
	var records []T
	meta, err := repo.Load(phase, entity, &records)
	if err != nil {
		return nil, Metadata{}, err
	}
	return records, meta, nil
}
