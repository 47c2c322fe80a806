package store

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var (
	// ErrNotFound is returned by Load when the document does not exist yet.
	ErrNotFound = errors.New("todo document not found")
	// ErrPhaseNotFound is returned by UpdateTask for an unknown phase id.
	ErrPhaseNotFound = errors.New("phase not found in todo document")
	// ErrTaskNotFound is returned by UpdateTask for an unknown task id.
	ErrTaskNotFound = errors.New("task not found in todo document")
)

// CorruptError reports a document that exists but cannot be decoded.
type CorruptError struct {
	Path string
	Err  error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("todo document %s is corrupt: %v", e.Path, e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }

// TaskResult is the outcome of executing one task.
type TaskResult struct {
	Status TaskStatus
	Asset  *AssetRef
	Error  string
}

// TodoStore is a JSON file holding the Document. It is a mirror of in-memory
// state, never the source of truth during a run.
type TodoStore struct {
	Path string

	// OnRecover, if set, is called when Update recreates a missing or corrupt document.
	OnRecover func(path string, cause error)
}

func NewTodoStore(path string) *TodoStore {
	return &TodoStore{Path: path}
}

// Load reads the whole document.
func (s *TodoStore) Load() (Document, error) {
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read todo document: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &CorruptError{Path: s.Path, Err: err}
	}
	return doc, nil
}

// Save replaces the document atomically.
func (s *TodoStore) Save(doc Document) error {
	if doc == nil {
		doc = Document{}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode todo document: %w", err)
	}
	return atomicWrite(s.Path, append(data, '\n'))
}

// Update loads the document, applies fn and writes the result. A missing or
// corrupt document is replaced by whatever fn builds from an empty one.
func (s *TodoStore) Update(fn func(Document) (Document, error)) error {
	doc, err := s.Load()
	if err != nil {
		var corrupt *CorruptError
		if !errors.Is(err, ErrNotFound) && !errors.As(err, &corrupt) {
			return err
		}
		if s.OnRecover != nil {
			s.OnRecover(s.Path, err)
		}
		doc = Document{}
	}

	next, err := fn(doc)
	if err != nil {
		return err
	}
	return s.Save(next)
}

// UpdateTask records a task result. Applying the same result twice leaves the
// document unchanged after the first call.
func (s *TodoStore) UpdateTask(phaseID, taskID string, result TaskResult) error {
	doc, err := s.Load()
	if err != nil {
		return err
	}

	pi := doc.PhaseIndex(phaseID)
	if pi < 0 {
		return fmt.Errorf("%w: %s", ErrPhaseNotFound, phaseID)
	}
	ti := doc[pi].TaskIndex(taskID)
	if ti < 0 {
		return fmt.Errorf("%w: %s/%s", ErrTaskNotFound, phaseID, taskID)
	}

	task := &doc[pi].Tasks[ti]
	task.Status = result.Status
	task.Error = result.Error
	task.Asset = nil
	if result.Asset != nil {
		a := *result.Asset
		task.Asset = &a
	}
	return s.Save(doc)
}

// atomicWrite writes to a sibling temp file, syncs it and renames it over path.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	suffix := make([]byte, 4)
	if _, err := rand.Read(suffix); err != nil {
		return fmt.Errorf("failed to generate temp path: %w", err)
	}
	tmpPath := filepath.Join(dir, fmt.Sprintf(".%s.tmp.%d.%s", filepath.Base(path), os.Getpid(), hex.EncodeToString(suffix)))

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	success := false
	defer func() {
		f.Close()
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}
