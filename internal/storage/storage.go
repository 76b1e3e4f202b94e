// Package storage persists the project mappings used to route new ledger
// issues. Files are written atomically.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Tiliavir/timesync/internal/model"
)

// ErrMappingNotFound is returned when no mapping has the requested id.
var ErrMappingNotFound = errors.New("mapping not found")

const mappingsFile = "mappings.json"

// mu serializes read-modify-write cycles on the mappings file.
var mu sync.Mutex

// BaseDir returns the root data directory (~/.tsync).
func BaseDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".tsync"), nil
}

func mappingsPath(base string) string {
	return filepath.Join(base, mappingsFile)
}

// LoadMappings loads the mapping list. Returns an empty list if the file does not exist.
func LoadMappings(base string) (model.MappingFile, error) {
	path := mappingsPath(base)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return model.MappingFile{Mappings: []model.ProjectMapping{}}, nil
	}
	if err != nil {
		return model.MappingFile{}, fmt.Errorf("storage error reading %s: %w", path, err)
	}

	var mf model.MappingFile
	if err := json.Unmarshal(data, &mf); err != nil {
		// Back up corrupt file and abort.
		backupPath := path + ".corrupt"
		_ = os.Rename(path, backupPath)
		return model.MappingFile{}, fmt.Errorf("corrupt JSON in %s (backed up to %s): %w", path, backupPath, err)
	}
	if mf.Mappings == nil {
		mf.Mappings = []model.ProjectMapping{}
	}
	return mf, nil
}

// SaveMappings atomically writes the mapping list.
func SaveMappings(base string, mf model.MappingFile) error {
	path := mappingsPath(base)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("storage error creating directories: %w", err)
	}

	data, err := json.MarshalIndent(mf, "", "  ")
	if err != nil {
		return fmt.Errorf("storage error marshalling JSON: %w", err)
	}

	// Atomic write: write to temp file then rename.
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("storage error writing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("storage error renaming temp file: %w", err)
	}
	return nil
}

// AddMapping appends a mapping for prefix. An existing mapping with the same
// prefix (compared case-insensitively, trailing slash ignored) is updated in
// place so list order is kept.
func AddMapping(base, prefix string, projectID int, description string) (model.ProjectMapping, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return model.ProjectMapping{}, fmt.Errorf("mapping prefix must not be empty")
	}
	if projectID <= 0 {
		return model.ProjectMapping{}, fmt.Errorf("invalid project id %d", projectID)
	}

	mu.Lock()
	defer mu.Unlock()

	mf, err := LoadMappings(base)
	if err != nil {
		return model.ProjectMapping{}, err
	}
	ts := time.Now().UTC()
	for i, m := range mf.Mappings {
		if samePrefix(m.JiraURLPrefix, prefix) {
			mf.Mappings[i].JiraURLPrefix = prefix
			mf.Mappings[i].RedmineProjectID = projectID
			if description != "" {
				mf.Mappings[i].Description = description
			}
			mf.Mappings[i].UpdatedAt = ts
			return mf.Mappings[i], SaveMappings(base, mf)
		}
	}

	m := model.ProjectMapping{
		ID:               uuid.NewString(),
		JiraURLPrefix:    prefix,
		RedmineProjectID: projectID,
		Description:      description,
		CreatedAt:        ts,
		UpdatedAt:        ts,
	}
	mf.Mappings = append(mf.Mappings, m)
	return m, SaveMappings(base, mf)
}

// RemoveMapping deletes the mapping with the given id.
func RemoveMapping(base, id string) error {
	mu.Lock()
	defer mu.Unlock()

	mf, err := LoadMappings(base)
	if err != nil {
		return err
	}
	for i, m := range mf.Mappings {
		if m.ID == id {
			mf.Mappings = append(mf.Mappings[:i], mf.Mappings[i+1:]...)
			return SaveMappings(base, mf)
		}
	}
	return fmt.Errorf("%w: %s", ErrMappingNotFound, id)
}

func samePrefix(a, b string) bool {
	norm := func(s string) string { return strings.TrimRight(strings.ToLower(strings.TrimSpace(s)), "/") }
	return norm(a) == norm(b)
}

// MappingStore exposes the mappings stored under Base as a list source.
type MappingStore struct {
	Base string
}

// List returns the stored mappings in order.
func (s MappingStore) List() ([]model.ProjectMapping, error) {
	mf, err := LoadMappings(s.Base)
	if err != nil {
		return nil, err
	}
	return mf.Mappings, nil
}
