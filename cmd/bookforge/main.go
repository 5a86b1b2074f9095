package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/lamim/bookforge/internal/api"
	"github.com/lamim/bookforge/internal/checkpoint"
	"github.com/lamim/bookforge/internal/config"
	"github.com/lamim/bookforge/internal/metrics"
	"github.com/lamim/bookforge/internal/orchestrator"
	"github.com/lamim/bookforge/internal/writer"
	"github.com/lamim/bookforge/pkg/models"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var (
	configPath   string
	verbose      bool
	allowPartial bool

	goal             string
	audience         string
	complexity       string
	includeExamples  bool
	includeExercises bool
	includeQuizzes   bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "bookforge",
		Short: "BookForge - LLM Book Generation Pipeline",
		Long: `BookForge generates complete instructional books with LLMs:
a structured roadmap, one generated module per chapter with streaming
progress and checkpointed resumability, and a final assembly pass that
produces a single markdown book.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildTime),
	}

	generateCmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a new book",
		Long: `Run the complete generation pipeline for a new project:
1. Generate a module roadmap from the learning goal
2. Generate each module's content in order
3. Assemble introduction, summary and glossary into the final book`,
		RunE: runGenerate,
	}
	generateCmd.Flags().StringVar(&goal, "goal", "", "Learning goal for the book (required)")
	generateCmd.Flags().StringVar(&audience, "audience", "general readers", "Target audience")
	generateCmd.Flags().StringVar(&complexity, "complexity", "intermediate", "Complexity level: beginner, intermediate or advanced")
	generateCmd.Flags().BoolVar(&includeExamples, "examples", true, "Include worked examples in modules")
	generateCmd.Flags().BoolVar(&includeExercises, "exercises", false, "Include practice exercises in modules")
	generateCmd.Flags().BoolVar(&includeQuizzes, "quizzes", false, "Include quiz questions in modules")
	addCommonFlags(generateCmd)
	_ = generateCmd.MarkFlagRequired("goal")

	resumeCmd := &cobra.Command{
		Use:   "resume <project-id>",
		Short: "Resume an interrupted project",
		Long:  "Resume a paused or interrupted project from its checkpoint. Completed modules are never regenerated.",
		Args:  cobra.ExactArgs(1),
		RunE:  runResume,
	}
	addCommonFlags(resumeCmd)

	retryCmd := &cobra.Command{
		Use:   "retry <project-id>",
		Short: "Retry failed modules of a project",
		Long:  "Re-run only the modules that failed, each with a fresh attempt budget, then continue to assembly.",
		Args:  cobra.ExactArgs(1),
		RunE:  runRetry,
	}
	addCommonFlags(retryCmd)

	checkpointCmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Manage checkpoints",
		Long:  "Manage generation checkpoints for resuming interrupted projects",
	}
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List projects with checkpoints",
		RunE:  listCheckpoints,
	}
	inspectCmd := &cobra.Command{
		Use:   "inspect <project-id>",
		Short: "Inspect a project's checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE:  inspectCheckpoint,
	}
	discardCmd := &cobra.Command{
		Use:   "discard <project-id>",
		Short: "Discard a project's checkpoint",
		Long:  "Delete a project's checkpoint and clear its pause flag. The next run starts the module loop from scratch.",
		Args:  cobra.ExactArgs(1),
		RunE:  discardCheckpoint,
	}
	checkpointCmd.AddCommand(listCmd)
	checkpointCmd.AddCommand(inspectCmd)
	checkpointCmd.AddCommand(discardCmd)
	addCommonFlags(listCmd)
	addCommonFlags(inspectCmd)
	addCommonFlags(discardCmd)

	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(retryCmd)
	rootCmd.AddCommand(checkpointCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func addCommonFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&configPath, "config", "config.toml", "Path to configuration file")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	cmd.Flags().BoolVar(&allowPartial, "allow-partial", false, "Assemble the book even when some modules failed")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	cfg, secrets, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	session := models.Session{
		Goal:            goal,
		TargetAudience:  audience,
		ComplexityLevel: models.ComplexityLevel(complexity),
		Preferences: models.ContentPreferences{
			IncludeExamples:  includeExamples,
			IncludeExercises: includeExercises,
			IncludeQuizzes:   includeQuizzes,
		},
	}
	if err := config.ValidateSession(session); err != nil {
		return err
	}

	projectID := uuid.NewString()
	pm, err := writer.NewProjectManager(slog.Default(), cfg.Storage.Dir, projectID, false)
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	if err := pm.SaveSession(session); err != nil {
		return err
	}

	project := &models.Project{
		ID:        projectID,
		Title:     goal,
		Goal:      goal,
		Status:    models.StatusPlanning,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	return runPipeline(cfg, secrets, pm, project, session, false)
}

func runResume(cmd *cobra.Command, args []string) error {
	cfg, secrets, pm, project, session, err := openProject(args[0])
	if err != nil {
		return err
	}
	if project.Status == models.StatusCompleted {
		fmt.Printf("Project %s is already complete: %s\n", project.ID, pm.GetBookPath())
		return nil
	}
	return runPipeline(cfg, secrets, pm, project, session, false)
}

func runRetry(cmd *cobra.Command, args []string) error {
	cfg, secrets, pm, project, session, err := openProject(args[0])
	if err != nil {
		return err
	}
	return runPipeline(cfg, secrets, pm, project, session, true)
}

func openProject(projectID string) (*config.Config, *config.Secrets, *writer.ProjectManager, *models.Project, models.Session, error) {
	var session models.Session

	cfg, secrets, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, nil, session, fmt.Errorf("failed to load configuration: %w", err)
	}

	pm, err := writer.NewProjectManager(slog.Default(), cfg.Storage.Dir, projectID, true)
	if err != nil {
		return nil, nil, nil, nil, session, err
	}
	project, err := pm.LoadProject()
	if err != nil {
		return nil, nil, nil, nil, session, err
	}
	session, err = pm.LoadSession()
	if err != nil {
		return nil, nil, nil, nil, session, err
	}
	return cfg, secrets, pm, project, session, nil
}

// runPipeline drives whichever phases the project still needs: roadmap,
// module loop (or failed-module retry), then assembly. An interrupt
// signal cancels the in-flight call with checkpoint semantics identical
// to pause, so the run is always resumable.
func runPipeline(cfg *config.Config, secrets *config.Secrets, pm *writer.ProjectManager, project *models.Project, session models.Session, retryOnly bool) error {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger, logFile, err := writer.SetupLogger(pm, logLevel)
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer func() {
		if logFile != nil {
			_ = logFile.Sync()
			_ = logFile.Close()
		}
	}()

	logger.Info("BookForge starting",
		"version", Version,
		"project_id", project.ID,
		"project_dir", pm.GetProjectDir(),
		"status", project.Status)

	backend, err := newBackend(cfg)
	if err != nil {
		return err
	}
	checkpointMgr := checkpoint.NewManager(backend, logger)
	defer func() {
		if err := checkpointMgr.Close(); err != nil {
			logger.Error("failed to close checkpoint backend", "error", err)
		}
	}()

	collector := metrics.NewCollector()
	apiClient := api.NewClient(logger, collector)
	if len(cfg.ProviderRateLimits) > 0 {
		apiClient.SetProviderRateLimits(cfg.ProviderRateLimits)
		logger.Info("Provider rate limits configured", "providers", cfg.ProviderRateLimits)
	}

	emitter := orchestrator.NewEmitter(logger)
	orch := orchestrator.New(cfg, secrets, apiClient, checkpointMgr, emitter, collector, logger)

	// A rerun must not inherit a stale pause flag.
	orch.Resume(project.ID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		orch.CancelActive(project.ID)
	}()

	events, cancelEvents := orch.Events(project.ID)
	barDone := make(chan struct{})
	go drawProgress(events, barDone)
	defer func() {
		cancelEvents()
		<-barDone
	}()

	start := time.Now()

	if retryOnly {
		if err := orch.RetryFailedModules(ctx, session, project); err != nil {
			return saveAndWrap(pm, project, err)
		}
	} else {
		if project.Roadmap == nil {
			if _, err := orch.GenerateRoadmap(ctx, session, project); err != nil {
				return saveAndWrap(pm, project, err)
			}
			if err := pm.SaveProject(project); err != nil {
				return err
			}
		}
		if err := orch.GenerateModules(ctx, session, project); err != nil {
			return saveAndWrap(pm, project, err)
		}
	}
	if err := pm.SaveProject(project); err != nil {
		return err
	}

	if checkpointMgr.IsPaused(project.ID) {
		logger.Warn("Generation interrupted - progress saved",
			"project_id", project.ID,
			"completed", project.CompletedModuleCount(),
			"resume_command", fmt.Sprintf("bookforge resume %s", project.ID))
		return fmt.Errorf("generation interrupted (resume with: bookforge resume %s)", project.ID)
	}

	failed := project.FailedModuleCount()
	if failed > 0 && !allowPartial {
		logger.Warn("Skipping assembly due to failed modules",
			"project_id", project.ID,
			"failed", failed,
			"retry_command", fmt.Sprintf("bookforge retry %s", project.ID))
		return fmt.Errorf("%d module(s) failed (retry with: bookforge retry %s, or rerun with --allow-partial)", failed, project.ID)
	}

	if err := orch.AssembleBook(ctx, project); err != nil {
		return saveAndWrap(pm, project, err)
	}
	if err := pm.SaveBook(project.FinalBook); err != nil {
		return err
	}
	project.Stats = project.ComputeStats(start)
	if err := pm.SaveProject(project); err != nil {
		return err
	}

	logger.Info("Generation complete",
		"project_id", project.ID,
		"modules", project.Stats.ModulesCompleted,
		"failed", project.Stats.ModulesFailed,
		"total_words", project.Stats.TotalWords,
		"duration", project.Stats.TotalDuration.Round(time.Second),
		"book", pm.GetBookPath())
	return nil
}

func saveAndWrap(pm *writer.ProjectManager, project *models.Project, err error) error {
	if saveErr := pm.SaveProject(project); saveErr != nil {
		return errors.Join(err, saveErr)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("generation interrupted (resume with: bookforge resume %s)", project.ID)
	}
	return err
}

// drawProgress renders the live terminal bar from the event stream. The
// bar tracks project progress; the description tracks the module stream.
func drawProgress(events <-chan models.StatusEvent, done chan<- struct{}) {
	defer close(done)

	bar := progressbar.NewOptions(100,
		progressbar.OptionSetDescription("starting"),
		progressbar.OptionSetWriter(os.Stdout),
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(os.Stdout) }),
	)

	for ev := range events {
		switch ev.Kind {
		case models.EventStatus:
			bar.Describe(fmt.Sprintf("module %d/%d %s: %s (%d words)",
				ev.ModuleIndex+1, ev.TotalModules,
				truncateTitle(ev.ModuleTitle, 30), ev.Stage, ev.WordsSoFar))
		case models.EventProject:
			_ = bar.Set(ev.Progress)
			if ev.Message != "" {
				bar.Describe(truncateTitle(ev.Message, 60))
			}
		case models.EventPaused:
			bar.Describe("paused")
		}
	}
}

func truncateTitle(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func newBackend(cfg *config.Config) (checkpoint.Backend, error) {
	switch cfg.Storage.Backend {
	case "sqlite":
		path := cfg.Storage.SQLitePath
		if path == "" {
			path = "output/checkpoints.db"
		}
		store, err := checkpoint.NewSQLiteStore(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite checkpoint store: %w", err)
		}
		return store, nil
	default:
		store, err := checkpoint.NewFileStore(cfg.Storage.Dir)
		if err != nil {
			return nil, fmt.Errorf("failed to open checkpoint store: %w", err)
		}
		return store, nil
	}
}

// storageConfig loads just enough configuration for the checkpoint
// commands. Unlike generation, they work without any model endpoints
// configured, so a config error falls back to the default storage layout.
func storageConfig() *config.Config {
	cfg, _, err := config.Load(configPath)
	if err != nil {
		return &config.Config{Storage: config.StorageConfig{Backend: "file", Dir: "output"}}
	}
	return cfg
}

// listCheckpoints lists projects that have a saved checkpoint.
func listCheckpoints(cmd *cobra.Command, args []string) error {
	backend, err := newBackend(storageConfig())
	if err != nil {
		return err
	}
	defer backend.Close()

	ids, err := backend.List()
	if err != nil {
		return fmt.Errorf("failed to list checkpoints: %w", err)
	}
	if len(ids) == 0 {
		fmt.Println("No checkpoints found.")
		return nil
	}

	fmt.Println("Projects with checkpoints:")
	fmt.Println()
	fmt.Printf("%-38s %-10s %-8s %-8s %s\n", "PROJECT", "COMPLETED", "FAILED", "PAUSED", "UPDATED")
	fmt.Println(strings.Repeat("-", 80))
	for _, id := range ids {
		cp, err := backend.Load(id)
		if err != nil {
			fmt.Printf("%-38s (unreadable: %v)\n", id, err)
			continue
		}
		paused, _ := backend.IsPaused(id)
		fmt.Printf("%-38s %-10d %-8d %-8v %s\n",
			id, cp.CompletedCount(), len(cp.FailedModuleIDs), paused,
			cp.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

// inspectCheckpoint prints one checkpoint in detail.
func inspectCheckpoint(cmd *cobra.Command, args []string) error {
	backend, err := newBackend(storageConfig())
	if err != nil {
		return err
	}
	defer backend.Close()

	projectID := args[0]
	cp, err := backend.Load(projectID)
	if err != nil {
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}

	fmt.Printf("Checkpoint for project: %s\n", projectID)
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("Session Hash:     %s\n", cp.SessionHash)
	fmt.Printf("Updated At:       %s\n", cp.UpdatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("Last Module:      %d\n", cp.LastModuleIndex)
	fmt.Printf("Total Words:      %d\n", cp.TotalWords)
	fmt.Println()

	fmt.Printf("Completed modules (%d):\n", cp.CompletedCount())
	for _, id := range sortedKeys(cp.CompletedModuleIDs) {
		fmt.Printf("  %s\n", id)
	}
	fmt.Printf("Failed modules (%d):\n", len(cp.FailedModuleIDs))
	for _, id := range sortedKeys(cp.FailedModuleIDs) {
		attempts := cp.RetryCounts[id]
		fmt.Printf("  %s (retries: %d)\n", id, attempts)
	}

	paused, _ := backend.IsPaused(projectID)
	fmt.Println()
	if paused {
		fmt.Printf("Project is paused. Resume with: bookforge resume %s\n", projectID)
	} else {
		fmt.Printf("Resume with: bookforge resume %s\n", projectID)
	}
	return nil
}

// discardCheckpoint deletes a checkpoint and clears its pause flag.
func discardCheckpoint(cmd *cobra.Command, args []string) error {
	backend, err := newBackend(storageConfig())
	if err != nil {
		return err
	}
	defer backend.Close()

	projectID := args[0]
	if err := backend.Delete(projectID); err != nil && !errors.Is(err, checkpoint.ErrNotFound) {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	if err := backend.ClearPauseFlag(projectID); err != nil {
		return fmt.Errorf("failed to clear pause flag: %w", err)
	}
	fmt.Printf("Discarded checkpoint for project %s\n", projectID)
	return nil
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
