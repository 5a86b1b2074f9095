package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lamim/bookforge/internal/checkpoint"
	"github.com/lamim/bookforge/internal/config"
	"github.com/lamim/bookforge/internal/retry"
	"github.com/lamim/bookforge/internal/util"
	"github.com/lamim/bookforge/pkg/models"
)

// errPaused aborts the module loop at a pause point. It never escapes the
// orchestrator: pausing is a normal outcome, not a failure.
var errPaused = errors.New("generation paused")

const partialTailRunes = 200

// GenerateModules runs the serialized module loop: one provider call per
// roadmap module, in roadmap order, with checkpoint recovery at entry and
// a durable write after every module outcome. A failed module never stops
// the loop; the project ends in the error state only after every module
// had its chance.
//
// Returns nil both on full success and on a paused or partially-failed
// run; those outcomes are reported through project state and the event
// stream. A non-nil error means the run itself could not proceed (context
// cancelled, checkpoint belongs to a different session).
func (o *Orchestrator) GenerateModules(ctx context.Context, session models.Session, project *models.Project) error {
	if project.Roadmap == nil || project.Roadmap.TotalModules == 0 {
		return fmt.Errorf("project %s has no roadmap", project.ID)
	}

	sessionHash := checkpoint.SessionHash(session)

	if cp := o.checkpoints.Load(project.ID); cp != nil {
		if err := checkpoint.ValidateSessionHash(cp, session); err != nil {
			return err
		}
		o.logger.Info("Resuming from checkpoint",
			"project_id", project.ID,
			"completed", cp.CompletedCount(),
			"failed", len(cp.FailedModuleIDs),
			"last_index", cp.LastModuleIndex)
	}

	// Fold any outcomes already recorded on the project record into the
	// checkpoint so a stale checkpoint cannot resurrect finished work.
	var completedIDs, failedIDs []string
	for _, m := range project.Modules {
		switch m.Status {
		case models.ModuleCompleted:
			completedIDs = append(completedIDs, m.RoadmapModuleID)
		case models.ModuleError:
			failedIDs = append(failedIDs, m.RoadmapModuleID)
		}
	}
	cp := o.checkpoints.Reconcile(project.ID, sessionHash, completedIDs, failedIDs)

	project.Status = models.StatusGeneratingContent
	if project.Progress < progressLoopStart {
		project.Progress = progressLoopStart
	}
	o.emitProject(project, "generating module content")

	total := project.Roadmap.TotalModules
	for i, rm := range project.Roadmap.Modules {
		if cp.CompletedModuleIDs[rm.ID] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if o.checkpoints.IsPaused(project.ID) {
			o.pauseAt(project, sessionHash, cp.LastModuleIndex)
			return nil
		}

		err := o.generateModule(ctx, session, project, rm, i)
		if errors.Is(err, errPaused) {
			o.pauseAt(project, sessionHash, cp.LastModuleIndex)
			return nil
		}
		if err != nil {
			return err
		}

		cp = o.checkpoints.Load(project.ID)
		project.Progress = progressLoopStart + (progressLoopEnd-progressLoopStart)*cp.CompletedCount()/total
		o.emitProject(project, fmt.Sprintf("module %d/%d finished", i+1, total))
	}

	return o.finishModuleLoop(project)
}

// RetryFailedModules re-runs only the modules that ended in the error
// state, in roadmap order, with a fresh attempt budget each. Modules that
// already completed are never regenerated.
func (o *Orchestrator) RetryFailedModules(ctx context.Context, session models.Session, project *models.Project) error {
	if project.Roadmap == nil {
		return fmt.Errorf("project %s has no roadmap", project.ID)
	}

	sessionHash := checkpoint.SessionHash(session)
	cp := o.checkpoints.Load(project.ID)
	if cp != nil {
		if err := checkpoint.ValidateSessionHash(cp, session); err != nil {
			return err
		}
	}

	retryable := make(map[string]bool)
	for _, m := range project.Modules {
		if m.Status == models.ModuleError {
			retryable[m.RoadmapModuleID] = true
		}
	}
	if cp != nil {
		for id := range cp.FailedModuleIDs {
			retryable[id] = true
		}
	}
	if len(retryable) == 0 {
		return o.finishModuleLoop(project)
	}

	project.Status = models.StatusGeneratingContent
	project.Error = ""
	o.emitProject(project, fmt.Sprintf("retrying %d failed module(s)", len(retryable)))

	for i, rm := range project.Roadmap.Modules {
		if !retryable[rm.ID] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if o.checkpoints.IsPaused(project.ID) {
			cp = o.checkpoints.Load(project.ID)
			o.pauseAt(project, sessionHash, lastIndexOf(cp))
			return nil
		}

		err := o.generateModule(ctx, session, project, rm, i)
		if errors.Is(err, errPaused) {
			cp = o.checkpoints.Load(project.ID)
			o.pauseAt(project, sessionHash, lastIndexOf(cp))
			return nil
		}
		if err != nil {
			return err
		}
	}

	if cp = o.checkpoints.Load(project.ID); cp != nil {
		project.Progress = progressLoopStart + (progressLoopEnd-progressLoopStart)*cp.CompletedCount()/project.Roadmap.TotalModules
	}
	return o.finishModuleLoop(project)
}

func lastIndexOf(cp *models.Checkpoint) int {
	if cp == nil {
		return -1
	}
	return cp.LastModuleIndex
}

// pauseAt writes the pause point durably and reports it. The project
// status is left untouched: paused is a flag over the generation phase,
// not a state of its own.
func (o *Orchestrator) pauseAt(project *models.Project, sessionHash string, lastIndex int) {
	o.checkpoints.SavePausePoint(project.ID, sessionHash, lastIndex)
	o.emitter.Emit(models.StatusEvent{
		Kind:      models.EventPaused,
		ProjectID: project.ID,
		Status:    project.Status,
		Progress:  project.Progress,
		Message:   "generation paused",
	})
	o.logger.Info("Module loop paused", "project_id", project.ID, "last_index", lastIndex)
}

// finishModuleLoop settles the project after the loop: any failure leaves
// the project in the error state (checkpoint kept so a retry can pick it
// up); a clean sweep discards the checkpoint and marks the content phase
// done at the assembly-ready landmark.
func (o *Orchestrator) finishModuleLoop(project *models.Project) error {
	failed := project.FailedModuleCount()
	if failed > 0 {
		project.Status = models.StatusError
		project.Error = fmt.Sprintf("%d failed module(s) after exhausting retries", failed)
		o.emitProject(project, project.Error)
		o.logger.Warn("Module loop finished with failures",
			"project_id", project.ID,
			"completed", project.CompletedModuleCount(),
			"failed", failed)
		return nil
	}

	o.checkpoints.Delete(project.ID)
	project.Status = models.StatusRoadmapCompleted
	project.Progress = progressLoopEnd
	o.emitProject(project, "all modules generated")
	o.logger.Info("Module loop finished",
		"project_id", project.ID,
		"modules", project.CompletedModuleCount())
	return nil
}

// generateModule runs the bounded attempt loop for one roadmap module and
// records the outcome on both the project record and the checkpoint. Only
// errPaused and context errors propagate; ordinary generation failure is
// recorded and absorbed.
func (o *Orchestrator) generateModule(ctx context.Context, session models.Session, project *models.Project, rm models.RoadmapModule, index int) error {
	sessionHash := checkpoint.SessionHash(session)
	completed := completedInOrder(project)
	prompt, err := o.buildModulePrompt(session, rm, completed)
	if err != nil {
		o.recordModuleOutcome(project, sessionHash, rm, index, "", 0, fmt.Sprintf("failed to render module template: %v", err))
		return nil
	}

	mainModel := o.cfg.Models["main"]
	apiKey := o.secrets.GetAPIKey(mainModel.BaseURL)
	total := project.Roadmap.TotalModules

	var lastErr error
	for attempt := 1; attempt <= o.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		content, err := o.streamModule(ctx, mainModel, apiKey, prompt, rm, index, total, attempt, project.ID)
		if err == nil {
			words := util.CountWords(content)
			if words < o.cfg.Generation.MinModuleWords {
				err = &ContentTooShortError{Words: words, Minimum: o.cfg.Generation.MinModuleWords}
			} else {
				o.recordModuleOutcome(project, sessionHash, rm, index, content, words, "")
				return nil
			}
		}
		if errors.Is(err, errPaused) {
			return errPaused
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		lastErr = err
		cls := retry.Classify(err)
		if !retry.ShouldRetry(err, attempt, o.policy.MaxAttempts) {
			break
		}

		o.checkpoints.RecordRetry(project.ID, sessionHash, rm.ID)
		o.collector.RecordModuleRetry()
		delay := o.policy.Delay(attempt, cls.RateLimited)
		o.logger.Warn("Module generation failed, retrying",
			"project_id", project.ID,
			"module_id", rm.ID,
			"attempt", attempt,
			"delay", delay,
			"rate_limited", cls.RateLimited,
			"error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	o.logger.Error("Module generation exhausted retries",
		"project_id", project.ID,
		"module_id", rm.ID,
		"attempts", o.policy.MaxAttempts,
		"error", lastErr)
	o.recordModuleOutcome(project, sessionHash, rm, index, "", 0, lastErr.Error())
	return nil
}

// streamModule performs one provider call for one module, emitting a live
// status snapshot per chunk and polling the pause flag between chunks so a
// pause aborts the stream mid-flight instead of waiting out the call.
func (o *Orchestrator) streamModule(ctx context.Context, modelCfg config.ModelConfig, apiKey, prompt string, rm models.RoadmapModule, index, total, attempt int, projectID string) (string, error) {
	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.registerActive(projectID, cancel)
	defer o.clearActive(projectID)

	pollInterval := time.Duration(o.cfg.Generation.PausePollIntervalMS) * time.Millisecond
	targetWords := o.cfg.Generation.TargetModuleWords

	var buf strings.Builder
	var pausedMidStream bool
	lastPoll := time.Now()

	onChunk := func(chunk string) {
		buf.WriteString(chunk)
		words := util.CountWords(buf.String())
		progress := words * 100 / targetWords
		if progress > 95 {
			progress = 95
		}

		o.emitter.Emit(models.StatusEvent{
			Kind:          models.EventStatus,
			ProjectID:     projectID,
			ModuleID:      rm.ID,
			ModuleTitle:   rm.Title,
			ModuleIndex:   index,
			TotalModules:  total,
			Attempt:       attempt,
			Stage:         stageFor(progress),
			StageProgress: progress,
			WordsSoFar:    words,
			PartialTail:   util.Tail(buf.String(), partialTailRunes),
		})

		if time.Since(lastPoll) >= pollInterval {
			lastPoll = time.Now()
			if o.checkpoints.IsPaused(projectID) {
				pausedMidStream = true
				cancel()
			}
		}
	}

	content, err := o.provider.Generate(callCtx, modelCfg, apiKey, prompt, onChunk)
	if pausedMidStream || (err != nil && errors.Is(err, context.Canceled) && o.checkpoints.IsPaused(projectID)) {
		return "", errPaused
	}
	return content, err
}

// recordModuleOutcome writes one module result into the project record
// (replacing any earlier failed record for the same roadmap module) and
// the checkpoint, in that order so a durable-write soft failure still
// leaves the in-memory project correct.
func (o *Orchestrator) recordModuleOutcome(project *models.Project, sessionHash string, rm models.RoadmapModule, index int, content string, words int, errMsg string) {
	mod := models.Module{
		ID:              uuid.NewString(),
		RoadmapModuleID: rm.ID,
		Title:           rm.Title,
		Content:         content,
		WordCount:       words,
		Status:          models.ModuleCompleted,
		GeneratedAt:     time.Now(),
	}
	if errMsg != "" {
		mod.Status = models.ModuleError
		mod.Error = util.TruncateString(errMsg, 500)
	}

	replaced := false
	for i := range project.Modules {
		if project.Modules[i].RoadmapModuleID == rm.ID {
			mod.ID = project.Modules[i].ID
			project.Modules[i] = mod
			replaced = true
			break
		}
	}
	if !replaced {
		project.Modules = append(project.Modules, mod)
	}

	o.checkpoints.RecordModuleOutcome(project.ID, sessionHash, rm.ID, errMsg == "", index, words)
	o.collector.RecordModuleOutcome(errMsg == "", words)
}

// completedInOrder returns the completed modules in roadmap order, for the
// rolling-context excerpt in the module prompt.
func completedInOrder(project *models.Project) []models.Module {
	var out []models.Module
	if project.Roadmap == nil {
		return out
	}
	for _, rm := range project.Roadmap.Modules {
		if m, ok := project.ModuleByRoadmapID(rm.ID); ok && m.Status == models.ModuleCompleted {
			out = append(out, *m)
		}
	}
	return out
}

func stageFor(progress int) models.GenerationStage {
	switch {
	case progress < 15:
		return models.StageAnalyzing
	case progress < 60:
		return models.StageWriting
	case progress < 90:
		return models.StageExamples
	default:
		return models.StagePolishing
	}
}
