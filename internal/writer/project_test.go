package writer

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lamim/bookforge/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestProjectManagerRoundTrip(t *testing.T) {
	outputDir := t.TempDir()
	pm, err := NewProjectManager(testLogger(), outputDir, "proj-1", false)
	if err != nil {
		t.Fatalf("NewProjectManager failed: %v", err)
	}

	project := &models.Project{
		ID:        "proj-1",
		Title:     "Learn Go",
		Goal:      "Learn Go",
		Status:    models.StatusRoadmapCompleted,
		Progress:  10,
		CreatedAt: time.Now(),
		Roadmap: &models.Roadmap{
			Modules:      []models.RoadmapModule{{ID: "module_1", Title: "Basics", Order: 1}},
			TotalModules: 1,
		},
		Modules: []models.Module{
			{ID: "a", RoadmapModuleID: "module_1", Title: "Basics", Content: "text", WordCount: 1, Status: models.ModuleCompleted},
		},
	}
	if err := pm.SaveProject(project); err != nil {
		t.Fatalf("SaveProject failed: %v", err)
	}

	loaded, err := pm.LoadProject()
	if err != nil {
		t.Fatalf("LoadProject failed: %v", err)
	}
	if loaded.ID != "proj-1" || loaded.Status != models.StatusRoadmapCompleted {
		t.Errorf("loaded project = %+v", loaded)
	}
	if loaded.Roadmap == nil || loaded.Roadmap.TotalModules != 1 {
		t.Error("roadmap lost in round trip")
	}
	if len(loaded.Modules) != 1 || loaded.Modules[0].Content != "text" {
		t.Error("modules lost in round trip")
	}

	// No leftover temp file from the atomic write.
	if _, err := os.Stat(pm.GetRecordPath() + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind after save")
	}
}

func TestSessionRoundTrip(t *testing.T) {
	pm, err := NewProjectManager(testLogger(), t.TempDir(), "proj-1", false)
	if err != nil {
		t.Fatalf("NewProjectManager failed: %v", err)
	}

	session := models.Session{
		Goal:            "Learn Go",
		TargetAudience:  "developers",
		ComplexityLevel: models.ComplexityAdvanced,
		Preferences:     models.ContentPreferences{IncludeExercises: true},
	}
	if err := pm.SaveSession(session); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	loaded, err := pm.LoadSession()
	if err != nil {
		t.Fatalf("LoadSession failed: %v", err)
	}
	if loaded != session {
		t.Errorf("loaded session = %+v, want %+v", loaded, session)
	}
}

func TestResumeRequiresExistingDirectory(t *testing.T) {
	if _, err := NewProjectManager(testLogger(), t.TempDir(), "nope", true); err == nil {
		t.Fatal("expected error resuming a missing project")
	}
}

func TestSaveBook(t *testing.T) {
	pm, err := NewProjectManager(testLogger(), t.TempDir(), "proj-1", false)
	if err != nil {
		t.Fatalf("NewProjectManager failed: %v", err)
	}
	if err := pm.SaveBook("# Title\n\nbody\n"); err != nil {
		t.Fatalf("SaveBook failed: %v", err)
	}
	data, err := os.ReadFile(pm.GetBookPath())
	if err != nil {
		t.Fatalf("reading book failed: %v", err)
	}
	if !strings.HasPrefix(string(data), "# Title") {
		t.Errorf("book content = %q", data)
	}
}

func TestListProjects(t *testing.T) {
	outputDir := t.TempDir()

	ids, err := ListProjects(outputDir)
	if err != nil {
		t.Fatalf("ListProjects failed: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected no projects, got %v", ids)
	}

	for _, id := range []string{"p1", "p2"} {
		pm, err := NewProjectManager(testLogger(), outputDir, id, false)
		if err != nil {
			t.Fatalf("NewProjectManager(%s) failed: %v", id, err)
		}
		if err := pm.SaveProject(&models.Project{ID: id}); err != nil {
			t.Fatalf("SaveProject(%s) failed: %v", id, err)
		}
	}
	// A directory without a record is not a project.
	if err := os.MkdirAll(filepath.Join(outputDir, "stray"), 0755); err != nil {
		t.Fatal(err)
	}

	ids, err = ListProjects(outputDir)
	if err != nil {
		t.Fatalf("ListProjects failed: %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("ListProjects = %v, want [p1 p2]", ids)
	}

	// Missing output dir is not an error.
	ids, err = ListProjects(filepath.Join(outputDir, "does-not-exist"))
	if err != nil || ids != nil {
		t.Errorf("ListProjects(missing) = %v, %v, want nil, nil", ids, err)
	}
}

func TestSetupLoggerWritesBothDestinations(t *testing.T) {
	pm, err := NewProjectManager(testLogger(), t.TempDir(), "proj-1", false)
	if err != nil {
		t.Fatalf("NewProjectManager failed: %v", err)
	}

	logger, logFile, err := SetupLogger(pm, slog.LevelInfo)
	if err != nil {
		t.Fatalf("SetupLogger failed: %v", err)
	}
	logger.Info("hello", "key", "value")
	if err := logFile.Close(); err != nil {
		t.Fatalf("closing log file failed: %v", err)
	}

	data, err := os.ReadFile(pm.GetLogPath())
	if err != nil {
		t.Fatalf("reading log file failed: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"hello"`) {
		t.Errorf("log file content = %q, want JSON record", data)
	}
}
