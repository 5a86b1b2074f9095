// Package orchestrator drives the roadmap → module-loop → assembly state
// machine for one book project, owning pause/resume/cancel semantics and
// checkpointed resumability.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/lamim/bookforge/internal/checkpoint"
	"github.com/lamim/bookforge/internal/config"
	"github.com/lamim/bookforge/internal/metrics"
	"github.com/lamim/bookforge/internal/retry"
	"github.com/lamim/bookforge/internal/util"
	"github.com/lamim/bookforge/pkg/models"
)

// Progress landmarks for the project-level progress value.
const (
	progressRoadmapDone = 10
	progressLoopStart   = 15
	progressLoopEnd     = 85
	progressComplete    = 100
)

// ContentTooShortError marks a generation whose output fell below the
// minimum word count. It is retryable, the same as a transport failure.
type ContentTooShortError struct {
	Words   int
	Minimum int
}

func (e *ContentTooShortError) Error() string {
	return fmt.Sprintf("generated content too short: %d words (minimum %d)", e.Words, e.Minimum)
}

// Provider is the normalized streaming LLM interface the orchestrator
// drives. *api.Client implements it.
type Provider interface {
	Generate(ctx context.Context, modelCfg config.ModelConfig, apiKey string, prompt string, onChunk func(string)) (string, error)
}

// Orchestrator coordinates generation for book projects. It holds no
// ambient global state: one instance is constructed explicitly and a single
// orchestration run per project id is assumed at a time.
type Orchestrator struct {
	cfg         *config.Config
	secrets     *config.Secrets
	provider    Provider
	checkpoints *checkpoint.Manager
	emitter     *Emitter
	policy      retry.Policy
	logger      *slog.Logger
	collector   *metrics.Collector

	activeMu sync.Mutex
	active   map[string]context.CancelFunc // project id -> in-flight call cancel
}

// New creates an orchestrator.
func New(
	cfg *config.Config,
	secrets *config.Secrets,
	provider Provider,
	checkpoints *checkpoint.Manager,
	emitter *Emitter,
	collector *metrics.Collector,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		cfg:         cfg,
		secrets:     secrets,
		provider:    provider,
		checkpoints: checkpoints,
		emitter:     emitter,
		policy:      retry.FromConfig(cfg.Retry),
		logger:      logger,
		collector:   collector,
		active:      make(map[string]context.CancelFunc),
	}
}

// Events subscribes to the event stream for one project.
func (o *Orchestrator) Events(projectID string) (<-chan models.StatusEvent, func()) {
	return o.emitter.Subscribe(projectID)
}

// Pause requests a cooperative stop of the project's module loop. The loop
// checkpoints at the next pause point; an in-flight stream is aborted by
// the pause poll inside the chunk callback.
func (o *Orchestrator) Pause(projectID string) {
	o.checkpoints.Pause(projectID)
	o.logger.Info("Pause requested", "project_id", projectID)
}

// Resume clears the pause flag so a subsequent module-loop run proceeds.
func (o *Orchestrator) Resume(projectID string) {
	o.checkpoints.Resume(projectID)
	o.logger.Info("Pause flag cleared", "project_id", projectID)
}

// CancelActive aborts the project's in-flight provider call immediately.
// Checkpoint semantics are identical to pause: progress up to the last
// completed module is preserved and the run is resumable.
func (o *Orchestrator) CancelActive(projectID string) {
	o.checkpoints.Pause(projectID)

	o.activeMu.Lock()
	cancel, ok := o.active[projectID]
	o.activeMu.Unlock()
	if ok {
		cancel()
	}
	o.logger.Info("Active generation cancelled", "project_id", projectID, "in_flight", ok)
}

func (o *Orchestrator) registerActive(projectID string, cancel context.CancelFunc) {
	o.activeMu.Lock()
	o.active[projectID] = cancel
	o.activeMu.Unlock()
}

func (o *Orchestrator) clearActive(projectID string) {
	o.activeMu.Lock()
	delete(o.active, projectID)
	o.activeMu.Unlock()
}

func (o *Orchestrator) emitProject(project *models.Project, message string) {
	project.UpdatedAt = time.Now()
	o.emitter.Emit(models.StatusEvent{
		Kind:      models.EventProject,
		ProjectID: project.ID,
		Status:    project.Status,
		Progress:  project.Progress,
		Message:   message,
	})
}

// GenerateRoadmap runs the first phase: one structured-JSON call producing
// the ordered module plan. Parse and validation failures retry the whole
// call a small fixed number of times with a fixed delay; remaining failure
// is fatal for the run and leaves the project in the error state.
func (o *Orchestrator) GenerateRoadmap(ctx context.Context, session models.Session, project *models.Project) (*models.Roadmap, error) {
	if err := config.ValidateSession(session); err != nil {
		project.Status = models.StatusError
		project.Error = err.Error()
		o.emitProject(project, err.Error())
		return nil, err
	}

	project.Status = models.StatusGeneratingRoadmap
	o.emitProject(project, "generating roadmap")

	prompt, err := o.buildRoadmapPrompt(session)
	if err != nil {
		return nil, fmt.Errorf("failed to render roadmap template: %w", err)
	}

	mainModel := o.cfg.Models["main"]
	apiKey := o.secrets.GetAPIKey(mainModel.BaseURL)
	delay := time.Duration(o.cfg.Generation.RoadmapRetryDelayMS) * time.Millisecond

	var lastErr error
	for attempt := 1; attempt <= o.cfg.Generation.RoadmapAttempts; attempt++ {
		if attempt > 1 {
			o.logger.Warn("Retrying roadmap generation", "attempt", attempt, "error", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		content, err := o.provider.Generate(ctx, mainModel, apiKey, prompt, nil)
		if err != nil {
			lastErr = err
			continue
		}

		roadmap, err := o.parseRoadmap(content, session)
		if err != nil {
			lastErr = err
			o.logger.Warn("Roadmap response failed validation",
				"attempt", attempt,
				"error", err,
				"response", util.TruncateString(content, 200))
			continue
		}

		project.Roadmap = roadmap
		project.Status = models.StatusRoadmapCompleted
		project.Progress = progressRoadmapDone
		o.emitProject(project, fmt.Sprintf("roadmap ready: %d modules", roadmap.TotalModules))
		o.logger.Info("Roadmap generated",
			"project_id", project.ID,
			"modules", roadmap.TotalModules,
			"difficulty", roadmap.Difficulty)
		return roadmap, nil
	}

	err = fmt.Errorf("roadmap generation failed after %d attempts: %w", o.cfg.Generation.RoadmapAttempts, lastErr)
	project.Status = models.StatusError
	project.Error = err.Error()
	o.emitProject(project, err.Error())
	return nil, err
}

// roadmapResponse is the wire shape expected from the roadmap call.
type roadmapResponse struct {
	Modules []struct {
		Title         string   `json:"title"`
		Objectives    []string `json:"objectives"`
		EstimatedTime string   `json:"estimated_time"`
	} `json:"modules"`
	Difficulty string `json:"difficulty"`
}

// parseRoadmap strips code fences, extracts the first balanced JSON object,
// decodes it and normalizes every entry: stable ids, 1-based order, and
// defaults for missing fields.
func (o *Orchestrator) parseRoadmap(content string, session models.Session) (*models.Roadmap, error) {
	jsonStr := util.SanitizeJSON(util.ExtractJSONObject(content))

	var resp roadmapResponse
	if err := json.Unmarshal([]byte(jsonStr), &resp); err != nil {
		return nil, fmt.Errorf("failed to parse roadmap JSON: %w", err)
	}
	if len(resp.Modules) == 0 {
		return nil, fmt.Errorf("roadmap response has no modules array")
	}

	modules := make([]models.RoadmapModule, len(resp.Modules))
	for i, m := range resp.Modules {
		title := strings.TrimSpace(m.Title)
		if title == "" {
			title = fmt.Sprintf("Module %d", i+1)
		}
		objectives := m.Objectives
		if len(objectives) == 0 {
			objectives = []string{fmt.Sprintf("Understand the key concepts of %s", title)}
		}
		estimated := strings.TrimSpace(m.EstimatedTime)
		if estimated == "" {
			estimated = "30 min"
		}
		modules[i] = models.RoadmapModule{
			ID:            fmt.Sprintf("module_%d", i+1),
			Title:         title,
			Objectives:    objectives,
			EstimatedTime: estimated,
			Order:         i + 1,
		}
	}

	difficulty := strings.TrimSpace(resp.Difficulty)
	if difficulty == "" {
		difficulty = string(session.ComplexityLevel)
	}

	return &models.Roadmap{
		Modules:              modules,
		TotalModules:         len(modules),
		EstimatedReadingTime: fmt.Sprintf("%d min", len(modules)*25),
		Difficulty:           difficulty,
	}, nil
}
