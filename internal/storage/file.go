package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/rewired-gh/soulwatch/internal/models"
)

// FileStore keeps tracking lists and changelog state in a single YAML document,
// for deployments that want a hand-editable tracking list.
type FileStore struct {
	mu   sync.Mutex
	path string
}

type fileDocument struct {
	Tenants   []models.Tenant       `yaml:"tenants"`
	Changelog models.ChangelogState `yaml:"changelog"`
}

// NewFileStore creates the parent directory of path if needed.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &FileStore{path: path}, nil
}

func (f *FileStore) Close() error {
	return nil
}

func (f *FileStore) read() (fileDocument, error) {
	var doc fileDocument
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return doc, fmt.Errorf("failed to read %s: %w", f.path, err)
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("failed to parse %s: %w", f.path, err)
	}
	return doc, nil
}

// write replaces the file atomically via a sibling temp file.
func (f *FileStore) write(doc fileDocument) error {
	data, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("failed to encode tracking file: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".tracking-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", f.path, err)
	}
	return nil
}

func (f *FileStore) LoadTenants(_ context.Context) ([]models.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.read()
	if err != nil {
		return nil, err
	}
	if doc.Tenants == nil {
		doc.Tenants = []models.Tenant{}
	}
	return doc.Tenants, nil
}

func (f *FileStore) SaveTenants(_ context.Context, tenants []models.Tenant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.read()
	if err != nil {
		return err
	}
	doc.Tenants = tenants
	return f.write(doc)
}

func (f *FileStore) LoadChangelogState(_ context.Context) (models.ChangelogState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.read()
	if err != nil {
		return models.ChangelogState{}, err
	}
	return doc.Changelog, nil
}

func (f *FileStore) SaveChangelogState(_ context.Context, state models.ChangelogState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.read()
	if err != nil {
		return err
	}
	doc.Changelog = state
	return f.write(doc)
}
