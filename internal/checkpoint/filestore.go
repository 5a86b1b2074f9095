package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/lamim/bookforge/pkg/models"
)

const (
	checkpointFilename = "checkpoint.json"
	pauseFilename      = "paused"
)

// FileStore keeps one checkpoint.json per project directory, written
// atomically via temp file and rename. The pause flag is the presence of a
// marker file next to it.
type FileStore struct {
	dir     string
	writeMu sync.Mutex
}

// NewFileStore creates a file-backed store rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) projectDir(projectID string) string {
	return filepath.Join(s.dir, projectID)
}

// Save implements Store.
func (s *FileStore) Save(projectID string, cp *models.Checkpoint) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	dir := s.projectDir(projectID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create project directory: %w", err)
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	path := filepath.Join(dir, checkpointFilename)
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp checkpoint: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("failed to rename checkpoint: %w", err)
	}
	return nil
}

// Load implements Store.
func (s *FileStore) Load(projectID string) (*models.Checkpoint, error) {
	data, err := os.ReadFile(filepath.Join(s.projectDir(projectID), checkpointFilename))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	var cp models.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	if cp.CompletedModuleIDs == nil {
		cp.CompletedModuleIDs = make(map[string]bool)
	}
	if cp.FailedModuleIDs == nil {
		cp.FailedModuleIDs = make(map[string]bool)
	}
	if cp.RetryCounts == nil {
		cp.RetryCounts = make(map[string]int)
	}
	return &cp, nil
}

// Delete implements Store.
func (s *FileStore) Delete(projectID string) error {
	err := os.Remove(filepath.Join(s.projectDir(projectID), checkpointFilename))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

// List implements Store.
func (s *FileStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read store directory: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.dir, entry.Name(), checkpointFilename)); err == nil {
			ids = append(ids, entry.Name())
		}
	}
	return ids, nil
}

// SetPauseFlag implements PauseStore.
func (s *FileStore) SetPauseFlag(projectID string) error {
	dir := s.projectDir(projectID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create project directory: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, pauseFilename), nil, 0644)
}

// ClearPauseFlag implements PauseStore.
func (s *FileStore) ClearPauseFlag(projectID string) error {
	err := os.Remove(filepath.Join(s.projectDir(projectID), pauseFilename))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// IsPaused implements PauseStore.
func (s *FileStore) IsPaused(projectID string) (bool, error) {
	_, err := os.Stat(filepath.Join(s.projectDir(projectID), pauseFilename))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Close implements Store.
func (s *FileStore) Close() error { return nil }
