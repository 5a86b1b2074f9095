package checkpoint

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lamim/bookforge/pkg/models"
)

// Manager fronts a durable Backend with an in-memory fast path. Checkpoint
// updates hit the map first and are then written through; a failing durable
// write is logged and swallowed so generation keeps its progress in memory
// even when persistence is temporarily broken.
//
// One orchestration run per project id is assumed, so a project's record
// has a single writer; the map itself is shared across projects and locked.
type Manager struct {
	backend Backend
	logger  *slog.Logger

	mu    sync.Mutex
	cache map[string]*models.Checkpoint

	pauseMu sync.Mutex
	paused  map[string]bool
}

// NewManager creates a manager over the given durable backend.
func NewManager(backend Backend, logger *slog.Logger) *Manager {
	return &Manager{
		backend: backend,
		logger:  logger,
		cache:   make(map[string]*models.Checkpoint),
		paused:  make(map[string]bool),
	}
}

// Load returns the checkpoint for a project, consulting the in-memory map
// first and falling back to durable storage. Returns nil when none exists
// or the durable read fails (a soft failure: generation starts fresh).
func (m *Manager) Load(projectID string) *models.Checkpoint {
	m.mu.Lock()
	if cp, ok := m.cache[projectID]; ok {
		defer m.mu.Unlock()
		return cp.Clone()
	}
	m.mu.Unlock()

	cp, err := m.backend.Load(projectID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			m.logger.Warn("Failed to load checkpoint, starting fresh", "project_id", projectID, "error", err)
		}
		return nil
	}

	m.mu.Lock()
	m.cache[projectID] = cp
	m.mu.Unlock()
	return cp.Clone()
}

// ensure returns the cached record for a project, creating it on first use.
// Caller must hold m.mu.
func (m *Manager) ensure(projectID, sessionHash string) *models.Checkpoint {
	cp, ok := m.cache[projectID]
	if !ok {
		cp = models.NewCheckpoint(projectID, sessionHash)
		m.cache[projectID] = cp
	}
	return cp
}

// Reconcile unions outcomes already reflected in the caller's project
// state into the checkpoint. The caller's in-memory modules and the durable
// record can diverge after a reload; the union keeps every known-terminal
// outcome, with completion winning over failure for the same id.
func (m *Manager) Reconcile(projectID, sessionHash string, completedIDs, failedIDs []string) *models.Checkpoint {
	m.mu.Lock()
	cp := m.ensure(projectID, sessionHash)
	for _, id := range completedIDs {
		cp.CompletedModuleIDs[id] = true
		delete(cp.FailedModuleIDs, id)
		delete(cp.RetryCounts, id)
	}
	for _, id := range failedIDs {
		if !cp.CompletedModuleIDs[id] {
			cp.FailedModuleIDs[id] = true
		}
	}
	cp.UpdatedAt = time.Now()
	snapshot := cp.Clone()
	m.mu.Unlock()

	m.persist(snapshot)
	return snapshot
}

// RecordModuleOutcome updates the checkpoint after a module reaches a
// terminal state for this pass and writes it through. The completed and
// failed sets stay disjoint: recording an outcome removes the module id
// from the opposite set in the same update. Completion also drops the
// module's retry count and advances the last processed index.
func (m *Manager) RecordModuleOutcome(projectID, sessionHash, moduleID string, completed bool, moduleIndex, words int) *models.Checkpoint {
	m.mu.Lock()
	cp := m.ensure(projectID, sessionHash)
	if completed {
		cp.CompletedModuleIDs[moduleID] = true
		delete(cp.FailedModuleIDs, moduleID)
		delete(cp.RetryCounts, moduleID)
		cp.TotalWords += words
	} else {
		cp.FailedModuleIDs[moduleID] = true
		delete(cp.CompletedModuleIDs, moduleID)
	}
	cp.LastModuleIndex = moduleIndex
	cp.UpdatedAt = time.Now()
	snapshot := cp.Clone()
	m.mu.Unlock()

	m.persist(snapshot)
	return snapshot
}

// RecordRetry bumps a module's retry count and writes the record through.
func (m *Manager) RecordRetry(projectID, sessionHash, moduleID string) {
	m.mu.Lock()
	cp := m.ensure(projectID, sessionHash)
	cp.RetryCounts[moduleID]++
	cp.UpdatedAt = time.Now()
	snapshot := cp.Clone()
	m.mu.Unlock()

	m.persist(snapshot)
}

// SavePausePoint persists the current record as-is, marking the point the
// loop stopped at. lastIndex is the index of the last fully processed
// module.
func (m *Manager) SavePausePoint(projectID, sessionHash string, lastIndex int) {
	m.mu.Lock()
	cp := m.ensure(projectID, sessionHash)
	cp.LastModuleIndex = lastIndex
	cp.UpdatedAt = time.Now()
	snapshot := cp.Clone()
	m.mu.Unlock()

	m.persist(snapshot)
}

func (m *Manager) persist(cp *models.Checkpoint) {
	if err := m.backend.Save(cp.ProjectID, cp); err != nil {
		// Soft failure: progress survives in memory, resumability degrades
		// until the next successful write.
		m.logger.Warn("Failed to persist checkpoint", "project_id", cp.ProjectID, "error", err)
	}
}

// Delete removes a project's checkpoint from memory and durable storage,
// used after a fully successful run or an explicit discard.
func (m *Manager) Delete(projectID string) {
	m.mu.Lock()
	delete(m.cache, projectID)
	m.mu.Unlock()

	if err := m.backend.Delete(projectID); err != nil {
		m.logger.Warn("Failed to delete checkpoint", "project_id", projectID, "error", err)
	}
}

// Pause sets the persisted pause flag for a project.
func (m *Manager) Pause(projectID string) {
	m.pauseMu.Lock()
	m.paused[projectID] = true
	m.pauseMu.Unlock()

	if err := m.backend.SetPauseFlag(projectID); err != nil {
		m.logger.Warn("Failed to persist pause flag", "project_id", projectID, "error", err)
	}
}

// Resume clears the persisted pause flag for a project.
func (m *Manager) Resume(projectID string) {
	m.pauseMu.Lock()
	m.paused[projectID] = false
	m.pauseMu.Unlock()

	if err := m.backend.ClearPauseFlag(projectID); err != nil {
		m.logger.Warn("Failed to clear pause flag", "project_id", projectID, "error", err)
	}
}

// IsPaused reports the pause flag. The in-memory mirror answers repeat
// polls; durable storage is consulted once per project so a flag set
// before a process restart still takes effect.
func (m *Manager) IsPaused(projectID string) bool {
	m.pauseMu.Lock()
	defer m.pauseMu.Unlock()

	if v, ok := m.paused[projectID]; ok {
		return v
	}
	v, err := m.backend.IsPaused(projectID)
	if err != nil {
		m.logger.Warn("Failed to read pause flag", "project_id", projectID, "error", err)
		v = false
	}
	m.paused[projectID] = v
	return v
}

// Close closes the durable backend.
func (m *Manager) Close() error {
	return m.backend.Close()
}

// SessionHash fingerprints the generation-relevant session fields so a
// checkpoint is not resumed against a diverging session.
func SessionHash(s models.Session) string {
	data := fmt.Sprintf("%s|%s|%s|%t|%t|%t",
		s.Goal, s.TargetAudience, s.ComplexityLevel,
		s.Preferences.IncludeExamples, s.Preferences.IncludeExercises, s.Preferences.IncludeQuizzes)
	sum := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", sum[:8])
}

// ValidateSessionHash rejects a checkpoint created under a different session.
func ValidateSessionHash(cp *models.Checkpoint, s models.Session) error {
	if cp.SessionHash != "" && cp.SessionHash != SessionHash(s) {
		return fmt.Errorf("checkpoint session mismatch: checkpoint was created with a different goal or preferences")
	}
	return nil
}
