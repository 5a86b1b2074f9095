package models

import "time"

// ComplexityLevel describes the requested depth of the generated book.
type ComplexityLevel string

const (
	ComplexityBeginner     ComplexityLevel = "beginner"
	ComplexityIntermediate ComplexityLevel = "intermediate"
	ComplexityAdvanced     ComplexityLevel = "advanced"
)

// ContentPreferences toggles optional instruction fragments in module prompts.
type ContentPreferences struct {
	IncludeExamples  bool `json:"include_examples"`
	IncludeExercises bool `json:"include_exercises"`
	IncludeQuizzes   bool `json:"include_quizzes"`
}

// Session is the immutable input describing what to generate. It is created
// by the caller before generation starts and never mutated by the orchestrator.
type Session struct {
	Goal            string             `json:"goal"`
	TargetAudience  string             `json:"target_audience"`
	ComplexityLevel ComplexityLevel    `json:"complexity_level"`
	Preferences     ContentPreferences `json:"preferences"`
}

// ProjectStatus is the lifecycle state of a book project.
type ProjectStatus string

const (
	StatusPlanning          ProjectStatus = "planning"
	StatusGeneratingRoadmap ProjectStatus = "generating_roadmap"
	StatusRoadmapCompleted  ProjectStatus = "roadmap_completed"
	StatusGeneratingContent ProjectStatus = "generating_content"
	StatusAssembling        ProjectStatus = "assembling"
	StatusCompleted         ProjectStatus = "completed"
	StatusError             ProjectStatus = "error"
)

// ModuleStatus is the per-chapter generation state.
type ModuleStatus string

const (
	ModulePending    ModuleStatus = "pending"
	ModuleGenerating ModuleStatus = "generating"
	ModuleCompleted  ModuleStatus = "completed"
	ModuleError      ModuleStatus = "error"
)

// RoadmapModule is one planned chapter in the roadmap.
type RoadmapModule struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Objectives    []string `json:"objectives"`
	EstimatedTime string   `json:"estimated_time"`
	Order         int      `json:"order"`
}

// Roadmap is the ordered plan produced by the first generation phase.
// Immutable after creation except for being regenerated wholesale.
type Roadmap struct {
	Modules              []RoadmapModule `json:"modules"`
	TotalModules         int             `json:"total_modules"`
	EstimatedReadingTime string          `json:"estimated_reading_time"`
	Difficulty           string          `json:"difficulty"`
}

// Module is one generated chapter. Immutable once completed or terminally
// errored for a given attempt; a retry produces a replacement record.
type Module struct {
	ID              string       `json:"id"`
	RoadmapModuleID string       `json:"roadmap_module_id"`
	Title           string       `json:"title"`
	Content         string       `json:"content"`
	WordCount       int          `json:"word_count"`
	Status          ModuleStatus `json:"status"`
	Error           string       `json:"error,omitempty"`
	GeneratedAt     time.Time    `json:"generated_at"`
}

// Project is the mutable aggregate for one book-in-progress. It is owned by
// the caller; the orchestrator mutates the snapshot it is handed and reports
// changes through the event stream.
type Project struct {
	ID        string           `json:"id"`
	Title     string           `json:"title"`
	Goal      string           `json:"goal"`
	Status    ProjectStatus    `json:"status"`
	Progress  int              `json:"progress"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
	Roadmap   *Roadmap         `json:"roadmap,omitempty"`
	Modules   []Module         `json:"modules"`
	FinalBook string           `json:"final_book,omitempty"`
	Error     string           `json:"error,omitempty"`
	Stats     *GenerationStats `json:"stats,omitempty"`
}

// CompletedModuleCount counts modules in the completed state.
func (p *Project) CompletedModuleCount() int {
	n := 0
	for _, m := range p.Modules {
		if m.Status == ModuleCompleted {
			n++
		}
	}
	return n
}

// FailedModuleCount counts modules in the error state.
func (p *Project) FailedModuleCount() int {
	n := 0
	for _, m := range p.Modules {
		if m.Status == ModuleError {
			n++
		}
	}
	return n
}

// ModuleByRoadmapID returns the module generated for a roadmap entry, if any.
func (p *Project) ModuleByRoadmapID(roadmapModuleID string) (*Module, bool) {
	for i := range p.Modules {
		if p.Modules[i].RoadmapModuleID == roadmapModuleID {
			return &p.Modules[i], true
		}
	}
	return nil, false
}

// GenerationStats tracks statistics for one orchestration run.
type GenerationStats struct {
	StartTime        time.Time     `json:"start_time"`
	EndTime          time.Time     `json:"end_time"`
	ModulesCompleted int           `json:"modules_completed"`
	ModulesFailed    int           `json:"modules_failed"`
	TotalWords       int           `json:"total_words"`
	TotalDuration    time.Duration `json:"total_duration"`
}

// ComputeStats summarizes the project's modules for a run that started at
// the given time.
func (p *Project) ComputeStats(start time.Time) *GenerationStats {
	stats := &GenerationStats{
		StartTime:        start,
		EndTime:          time.Now(),
		ModulesCompleted: p.CompletedModuleCount(),
		ModulesFailed:    p.FailedModuleCount(),
	}
	for _, m := range p.Modules {
		if m.Status == ModuleCompleted {
			stats.TotalWords += m.WordCount
		}
	}
	stats.TotalDuration = stats.EndTime.Sub(stats.StartTime)
	return stats
}
