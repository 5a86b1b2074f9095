// Package checkpoint persists generation progress so interrupted runs can
// resume exactly where they stopped.
package checkpoint

import (
	"errors"

	"github.com/lamim/bookforge/pkg/models"
)

// Sentinel errors for store operations.
var (
	// ErrNotFound indicates no checkpoint exists for the project.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("checkpoint store closed")
)

// Store persists checkpoint records keyed by project id. Writes are always
// a full-record replace; implementations must be safe for concurrent use
// across projects.
type Store interface {
	// Save stores the checkpoint for a project, overwriting any
	// previous record.
	Save(projectID string, cp *models.Checkpoint) error

	// Load retrieves a project's checkpoint.
	// Returns ErrNotFound if none exists.
	Load(projectID string) (*models.Checkpoint, error)

	// Delete removes a project's checkpoint.
	// Returns nil if none exists.
	Delete(projectID string) error

	// List returns the project ids that currently have checkpoints.
	List() ([]string, error)

	// Close releases any resources.
	Close() error
}

// PauseStore persists the per-project pause flag, independent of the
// checkpoint record. IsPaused is polled between suspension points and must
// be cheap.
type PauseStore interface {
	SetPauseFlag(projectID string) error
	ClearPauseFlag(projectID string) error
	IsPaused(projectID string) (bool, error)
}

// Backend is the combined durable collaborator the manager writes through to.
type Backend interface {
	Store
	PauseStore
}
