package checkpoint

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/lamim/bookforge/pkg/models"
)

// SQLiteStore persists checkpoints and pause flags to SQLite. Suitable for
// single-process production use; records are full-row replaces keyed by
// project id.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore opens (or creates) a SQLite store at path. Use ":memory:"
// for testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL keeps pause-flag reads cheap while checkpoints are being written.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS checkpoints (
			project_id TEXT PRIMARY KEY,
			updated_at TEXT NOT NULL,
			data BLOB NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create checkpoints table: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS pause_flags (
			project_id TEXT PRIMARY KEY
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create pause_flags table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Save implements Store.
func (s *SQLiteStore) Save(projectID string, cp *models.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO checkpoints (project_id, updated_at, data)
		VALUES (?, ?, ?)
		ON CONFLICT(project_id) DO UPDATE SET
			updated_at = excluded.updated_at,
			data = excluded.data
	`, projectID, cp.UpdatedAt.UTC().Format("2006-01-02T15:04:05.999999999Z07:00"), data)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// Load implements Store.
func (s *SQLiteStore) Load(projectID string) (*models.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	var data []byte
	err := s.db.QueryRow(`
		SELECT data FROM checkpoints WHERE project_id = ?
	`, projectID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}

	var cp models.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
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
func (s *SQLiteStore) Delete(projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	if _, err := s.db.Exec(`DELETE FROM checkpoints WHERE project_id = ?`, projectID); err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

// List implements Store.
func (s *SQLiteStore) List() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.Query(`SELECT project_id FROM checkpoints ORDER BY updated_at`)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan project id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoints: %w", err)
	}
	return ids, nil
}

// SetPauseFlag implements PauseStore.
func (s *SQLiteStore) SetPauseFlag(projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	_, err := s.db.Exec(`
		INSERT INTO pause_flags (project_id) VALUES (?)
		ON CONFLICT(project_id) DO NOTHING
	`, projectID)
	return err
}

// ClearPauseFlag implements PauseStore.
func (s *SQLiteStore) ClearPauseFlag(projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	_, err := s.db.Exec(`DELETE FROM pause_flags WHERE project_id = ?`, projectID)
	return err
}

// IsPaused implements PauseStore.
func (s *SQLiteStore) IsPaused(projectID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false, ErrStoreClosed
	}

	var one int
	err := s.db.QueryRow(`SELECT 1 FROM pause_flags WHERE project_id = ?`, projectID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
