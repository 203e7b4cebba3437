// internal/memory/file_store.go
package memory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// fileDocument is the on-disk layout: workflows and UI patterns live in the
// same JSON file.
type fileDocument struct {
	Workflows  map[string]WorkflowRecord       `json:"workflows"`
	UIPatterns map[string]map[string]UIPattern `json:"ui_patterns,omitempty"`
}

// FileStore persists long-term memory as a single JSON document. Saves
// rewrite the whole file atomically via a temp-file rename.
type FileStore struct {
	logger *zap.Logger
	mu     sync.Mutex
	path   string
	cache  fileDocument
}

// DefaultMemoryPath resolves the standard on-disk location,
// ~/.deskpilot/workflow_memory.json.
func DefaultMemoryPath() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".deskpilot", "workflow_memory.json"), nil
}

// NewFileStore creates a file-backed store at path. The parent directory is
// created on first save, not here.
func NewFileStore(path string, logger *zap.Logger) *FileStore {
	return &FileStore{
		logger: logger.Named("memory_file_store"),
		path:   path,
		cache: fileDocument{
			Workflows:  make(map[string]WorkflowRecord),
			UIPatterns: make(map[string]map[string]UIPattern),
		},
	}
}

// Load reads the workflow section of the document. A missing file is an empty
// memory, not an error; a corrupt file is reported so the caller can decide
// to start fresh.
func (s *FileStore) Load(_ context.Context) (map[string]WorkflowRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.readLocked(); err != nil {
		return nil, err
	}

	out := make(map[string]WorkflowRecord, len(s.cache.Workflows))
	for k, v := range s.cache.Workflows {
		out[k] = v
	}
	return out, nil
}

// LoadUIPatterns reads the UI-pattern section of the document.
func (s *FileStore) LoadUIPatterns(_ context.Context) (map[string]map[string]UIPattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.readLocked(); err != nil {
		return nil, err
	}

	out := make(map[string]map[string]UIPattern, len(s.cache.UIPatterns))
	for app, byElement := range s.cache.UIPatterns {
		copies := make(map[string]UIPattern, len(byElement))
		for element, pat := range byElement {
			copies[element] = pat
		}
		out[app] = copies
	}
	return out, nil
}

func (s *FileStore) readLocked() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read memory file %s: %w", s.path, err)
	}

	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("memory file %s is corrupt: %w", s.path, err)
	}
	if doc.Workflows == nil {
		doc.Workflows = make(map[string]WorkflowRecord)
	}
	if doc.UIPatterns == nil {
		doc.UIPatterns = make(map[string]map[string]UIPattern)
	}
	s.cache = doc
	return nil
}

// Save upserts one record and rewrites the file.
func (s *FileStore) Save(_ context.Context, signature string, rec WorkflowRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache.Workflows[signature] = rec
	return s.flushLocked()
}

// SaveUIPattern upserts one element location and rewrites the file.
func (s *FileStore) SaveUIPattern(_ context.Context, app, element string, pat UIPattern) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byElement, ok := s.cache.UIPatterns[app]
	if !ok {
		byElement = make(map[string]UIPattern)
		s.cache.UIPatterns[app] = byElement
	}
	byElement[element] = pat
	return s.flushLocked()
}

func (s *FileStore) flushLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create memory directory: %w", err)
	}

	data, err := json.MarshalIndent(s.cache, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode memory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write memory file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace memory file: %w", err)
	}
	s.logger.Debug("Memory file written", zap.String("path", s.path), zap.Int("entries", len(s.cache.Workflows)))
	return nil
}

// Close is a no-op for the file backend.
func (s *FileStore) Close(_ context.Context) error { return nil }
