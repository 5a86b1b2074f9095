package models

import "time"

// Checkpoint is the resumability record for one project. It is written as a
// full-record replace after every module outcome and deleted once the module
// loop finishes with zero failures.
//
// Invariant: CompletedModuleIDs and FailedModuleIDs are disjoint at rest. A
// module id may appear in both only inside a single update step, before the
// opposite set is cleaned up.
type Checkpoint struct {
	ProjectID          string          `json:"project_id"`
	CompletedModuleIDs map[string]bool `json:"completed_module_ids"`
	FailedModuleIDs    map[string]bool `json:"failed_module_ids"`
	RetryCounts        map[string]int  `json:"retry_counts"`
	LastModuleIndex    int             `json:"last_module_index"`
	TotalWords         int             `json:"total_words"`
	UpdatedAt          time.Time       `json:"updated_at"`

	// SessionHash guards against resuming with a session whose
	// generation-relevant fields diverged from the checkpointed run.
	SessionHash string `json:"session_hash"`
}

// NewCheckpoint returns an empty checkpoint for a project.
func NewCheckpoint(projectID, sessionHash string) *Checkpoint {
	return &Checkpoint{
		ProjectID:          projectID,
		CompletedModuleIDs: make(map[string]bool),
		FailedModuleIDs:    make(map[string]bool),
		RetryCounts:        make(map[string]int),
		LastModuleIndex:    -1,
		UpdatedAt:          time.Now(),
		SessionHash:        sessionHash,
	}
}

// Clone returns a deep copy so callers can hand the record to an async
// writer without racing later updates.
func (c *Checkpoint) Clone() *Checkpoint {
	cp := &Checkpoint{
		ProjectID:          c.ProjectID,
		CompletedModuleIDs: make(map[string]bool, len(c.CompletedModuleIDs)),
		FailedModuleIDs:    make(map[string]bool, len(c.FailedModuleIDs)),
		RetryCounts:        make(map[string]int, len(c.RetryCounts)),
		LastModuleIndex:    c.LastModuleIndex,
		TotalWords:         c.TotalWords,
		UpdatedAt:          c.UpdatedAt,
		SessionHash:        c.SessionHash,
	}
	for k, v := range c.CompletedModuleIDs {
		cp.CompletedModuleIDs[k] = v
	}
	for k, v := range c.FailedModuleIDs {
		cp.FailedModuleIDs[k] = v
	}
	for k, v := range c.RetryCounts {
		cp.RetryCounts[k] = v
	}
	return cp
}

// CompletedCount returns the number of completed module ids.
func (c *Checkpoint) CompletedCount() int {
	return len(c.CompletedModuleIDs)
}
