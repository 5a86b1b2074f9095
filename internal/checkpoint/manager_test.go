package checkpoint

import (
	"io"
	"log/slog"
	"testing"

	"github.com/lamim/bookforge/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSession() models.Session {
	return models.Session{
		Goal:            "Learn Go",
		TargetAudience:  "developers",
		ComplexityLevel: models.ComplexityIntermediate,
	}
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	return NewManager(store, testLogger())
}

func TestRecordModuleOutcomeDisjointSets(t *testing.T) {
	mgr := newTestManager(t)
	defer mgr.Close()
	hash := SessionHash(testSession())

	cp := mgr.RecordModuleOutcome("p1", hash, "module_1", false, 0, 0)
	if !cp.FailedModuleIDs["module_1"] {
		t.Fatal("expected module_1 in failed set")
	}

	// A later success for the same module moves it across; the sets must
	// never both contain it.
	cp = mgr.RecordModuleOutcome("p1", hash, "module_1", true, 0, 900)
	if !cp.CompletedModuleIDs["module_1"] {
		t.Error("expected module_1 in completed set")
	}
	if cp.FailedModuleIDs["module_1"] {
		t.Error("module_1 still present in failed set")
	}
	if cp.TotalWords != 900 {
		t.Errorf("TotalWords = %d, want 900", cp.TotalWords)
	}
}

func TestCompletionDropsRetryCount(t *testing.T) {
	mgr := newTestManager(t)
	defer mgr.Close()
	hash := SessionHash(testSession())

	mgr.RecordRetry("p1", hash, "module_2")
	mgr.RecordRetry("p1", hash, "module_2")
	cp := mgr.Load("p1")
	if cp.RetryCounts["module_2"] != 2 {
		t.Fatalf("RetryCounts = %d, want 2", cp.RetryCounts["module_2"])
	}

	cp = mgr.RecordModuleOutcome("p1", hash, "module_2", true, 1, 500)
	if _, ok := cp.RetryCounts["module_2"]; ok {
		t.Error("retry count must be dropped on completion")
	}
}

func TestOutcomesSurviveReload(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	mgr := NewManager(store, testLogger())
	hash := SessionHash(testSession())

	mgr.RecordModuleOutcome("p1", hash, "module_1", true, 0, 800)
	mgr.RecordModuleOutcome("p1", hash, "module_2", false, 1, 0)
	if err := mgr.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Fresh manager over the same directory simulates a process restart.
	store2, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	mgr2 := NewManager(store2, testLogger())
	defer mgr2.Close()

	cp := mgr2.Load("p1")
	if cp == nil {
		t.Fatal("expected checkpoint after reload")
	}
	if !cp.CompletedModuleIDs["module_1"] {
		t.Error("completed outcome lost across reload")
	}
	if !cp.FailedModuleIDs["module_2"] {
		t.Error("failed outcome lost across reload")
	}
	if cp.LastModuleIndex != 1 {
		t.Errorf("LastModuleIndex = %d, want 1", cp.LastModuleIndex)
	}
}

func TestReconcileCompletionWins(t *testing.T) {
	mgr := newTestManager(t)
	defer mgr.Close()
	hash := SessionHash(testSession())

	mgr.RecordModuleOutcome("p1", hash, "module_1", false, 0, 0)
	mgr.RecordRetry("p1", hash, "module_1")

	// The project record says module_1 completed; reconciliation must
	// prefer completion and drop the stale failure and retry count.
	cp := mgr.Reconcile("p1", hash, []string{"module_1", "module_2"}, []string{"module_3", "module_1"})
	if !cp.CompletedModuleIDs["module_1"] || !cp.CompletedModuleIDs["module_2"] {
		t.Error("expected module_1 and module_2 completed")
	}
	if cp.FailedModuleIDs["module_1"] {
		t.Error("completion must win over failure for the same id")
	}
	if !cp.FailedModuleIDs["module_3"] {
		t.Error("expected module_3 in failed set")
	}
	if _, ok := cp.RetryCounts["module_1"]; ok {
		t.Error("retry count for completed module must be dropped")
	}
}

func TestLoadReturnsClone(t *testing.T) {
	mgr := newTestManager(t)
	defer mgr.Close()
	hash := SessionHash(testSession())

	mgr.RecordModuleOutcome("p1", hash, "module_1", true, 0, 100)
	cp := mgr.Load("p1")
	cp.CompletedModuleIDs["module_99"] = true

	if mgr.Load("p1").CompletedModuleIDs["module_99"] {
		t.Error("mutating a loaded checkpoint must not affect the manager's copy")
	}
}

func TestDelete(t *testing.T) {
	mgr := newTestManager(t)
	defer mgr.Close()
	hash := SessionHash(testSession())

	mgr.RecordModuleOutcome("p1", hash, "module_1", true, 0, 100)
	mgr.Delete("p1")
	if cp := mgr.Load("p1"); cp != nil {
		t.Error("expected nil checkpoint after delete")
	}
}

func TestPauseFlagSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	mgr := NewManager(store, testLogger())

	if mgr.IsPaused("p1") {
		t.Fatal("fresh project must not be paused")
	}
	mgr.Pause("p1")
	if !mgr.IsPaused("p1") {
		t.Fatal("expected paused after Pause")
	}
	mgr.Close()

	store2, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	mgr2 := NewManager(store2, testLogger())
	defer mgr2.Close()
	if !mgr2.IsPaused("p1") {
		t.Error("pause flag must survive a restart")
	}

	mgr2.Resume("p1")
	if mgr2.IsPaused("p1") {
		t.Error("expected not paused after Resume")
	}
}

func TestSessionHash(t *testing.T) {
	s := testSession()
	if SessionHash(s) != SessionHash(s) {
		t.Error("hash must be deterministic")
	}

	changed := s
	changed.Goal = "Learn Rust"
	if SessionHash(s) == SessionHash(changed) {
		t.Error("different goals must hash differently")
	}

	prefs := s
	prefs.Preferences.IncludeQuizzes = true
	if SessionHash(s) == SessionHash(prefs) {
		t.Error("different preferences must hash differently")
	}
}

func TestValidateSessionHash(t *testing.T) {
	s := testSession()
	cp := models.NewCheckpoint("p1", SessionHash(s))
	if err := ValidateSessionHash(cp, s); err != nil {
		t.Errorf("matching session rejected: %v", err)
	}

	other := s
	other.TargetAudience = "children"
	if err := ValidateSessionHash(cp, other); err == nil {
		t.Error("expected mismatch error for a different session")
	}

	// Legacy records without a hash are accepted.
	cp.SessionHash = ""
	if err := ValidateSessionHash(cp, other); err != nil {
		t.Errorf("empty hash must be accepted: %v", err)
	}
}
