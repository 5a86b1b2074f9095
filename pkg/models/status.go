package models

import "time"

// GenerationStage is the coarse UI-facing label derived from how far into
// the target word count a module's stream has progressed.
type GenerationStage string

const (
	StageAnalyzing GenerationStage = "analyzing"
	StageWriting   GenerationStage = "writing"
	StageExamples  GenerationStage = "examples"
	StagePolishing GenerationStage = "polishing"
)

// EventKind discriminates entries on a project's event stream.
type EventKind string

const (
	// EventStatus is a fine-grained generation snapshot (current module,
	// attempt, live progress, partial text tail).
	EventStatus EventKind = "status"
	// EventProject signals a project-level mutation (status, progress,
	// modules, final book).
	EventProject EventKind = "project"
	// EventPaused signals that the module loop stopped at a pause point
	// with a consistent checkpoint saved.
	EventPaused EventKind = "paused"
)

// StatusEvent is one entry on a project's event stream.
type StatusEvent struct {
	Kind      EventKind `json:"kind"`
	ProjectID string    `json:"project_id"`
	Timestamp time.Time `json:"timestamp"`

	// Status snapshot fields (Kind == EventStatus).
	ModuleID      string          `json:"module_id,omitempty"`
	ModuleTitle   string          `json:"module_title,omitempty"`
	ModuleIndex   int             `json:"module_index,omitempty"`
	TotalModules  int             `json:"total_modules,omitempty"`
	Attempt       int             `json:"attempt,omitempty"`
	Stage         GenerationStage `json:"stage,omitempty"`
	StageProgress int             `json:"stage_progress,omitempty"`
	WordsSoFar    int             `json:"words_so_far,omitempty"`
	PartialTail   string          `json:"partial_tail,omitempty"`

	// Project update fields (Kind == EventProject).
	Status   ProjectStatus `json:"status,omitempty"`
	Progress int           `json:"progress,omitempty"`
	Message  string        `json:"message,omitempty"`
}
