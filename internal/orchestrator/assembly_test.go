package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/lamim/bookforge/pkg/models"
)

// assemblyStub routes the three concurrent calls by prompt content.
func assemblyStub(t *testing.T, failGlossary bool) *stubProvider {
	return &stubProvider{fn: func(call int, ctx context.Context, prompt string, onChunk func(string)) (string, error) {
		switch {
		case strings.Contains(prompt, "introduction"):
			return "INTRODUCTION-TEXT", nil
		case strings.Contains(prompt, "closing summary"):
			return "SUMMARY-TEXT", nil
		case strings.Contains(prompt, "glossary"):
			if failGlossary {
				return "", errors.New("upstream timed out")
			}
			return "- **Consensus**: agreement among nodes.", nil
		default:
			t.Errorf("unexpected assembly prompt: %q", prompt)
			return "", errors.New("unexpected prompt")
		}
	}}
}

func assembledProject() *models.Project {
	project := testProject(2)
	project.Progress = 85
	project.Modules = []models.Module{
		{ID: "a", RoadmapModuleID: "module_1", Title: "Chapter 1", Content: "Content of chapter one.", WordCount: 400, Status: models.ModuleCompleted},
		{ID: "b", RoadmapModuleID: "module_2", Title: "Chapter 2", Content: "Content of chapter two.", WordCount: 400, Status: models.ModuleCompleted},
	}
	return project
}

func TestAssembleBook(t *testing.T) {
	provider := assemblyStub(t, false)
	orch, _ := newTestOrchestrator(t, provider)

	project := assembledProject()
	if err := orch.AssembleBook(context.Background(), project); err != nil {
		t.Fatalf("AssembleBook failed: %v", err)
	}

	if project.Status != models.StatusCompleted {
		t.Errorf("project status = %q, want completed", project.Status)
	}
	if project.Progress != 100 {
		t.Errorf("project progress = %d, want 100", project.Progress)
	}
	if provider.calls() != 3 {
		t.Errorf("provider calls = %d, want 3", provider.calls())
	}

	book := project.FinalBook
	for _, want := range []string{
		"# Learn distributed systems",
		"## Table of Contents",
		"[Chapter 1](#chapter-1)",
		"[Chapter 2](#chapter-2)",
		"## Introduction",
		"INTRODUCTION-TEXT",
		"## Chapter 1",
		"Content of chapter one.",
		"## Chapter 2",
		"## Summary",
		"SUMMARY-TEXT",
		"## Glossary",
		"**Consensus**",
	} {
		if !strings.Contains(book, want) {
			t.Errorf("final book missing %q", want)
		}
	}

	// Chapters appear in roadmap order.
	if strings.Index(book, "## Chapter 1") > strings.Index(book, "## Chapter 2") {
		t.Error("chapters out of roadmap order")
	}
}

func TestAssembleBookPartialFailureIsAtomic(t *testing.T) {
	provider := assemblyStub(t, true)
	orch, _ := newTestOrchestrator(t, provider)

	project := assembledProject()
	err := orch.AssembleBook(context.Background(), project)
	if err == nil {
		t.Fatal("expected error when one assembly call fails")
	}
	if project.FinalBook != "" {
		t.Error("no partial book may be produced")
	}
	if project.Status != models.StatusError {
		t.Errorf("project status = %q, want error", project.Status)
	}
	// Module content is untouched, so assembly can simply be re-run.
	if got := project.CompletedModuleCount(); got != 2 {
		t.Errorf("completed modules = %d, want 2 after failed assembly", got)
	}
}

func TestAssembleBookRequiresCompletedModules(t *testing.T) {
	provider := assemblyStub(t, false)
	orch, _ := newTestOrchestrator(t, provider)

	project := testProject(2)
	if err := orch.AssembleBook(context.Background(), project); err == nil {
		t.Fatal("expected error with no completed modules")
	}
	if provider.calls() != 0 {
		t.Errorf("provider calls = %d, want 0", provider.calls())
	}
}

func TestAssembleBookSkipsFailedModules(t *testing.T) {
	provider := assemblyStub(t, false)
	orch, _ := newTestOrchestrator(t, provider)

	project := assembledProject()
	project.Modules = append(project.Modules, models.Module{
		ID: "c", RoadmapModuleID: "module_3", Title: "Broken Chapter",
		Status: models.ModuleError, Error: "exhausted retries",
	})
	project.Roadmap.Modules = append(project.Roadmap.Modules, models.RoadmapModule{
		ID: "module_3", Title: "Broken Chapter", Order: 3,
	})
	project.Roadmap.TotalModules = 3

	if err := orch.AssembleBook(context.Background(), project); err != nil {
		t.Fatalf("AssembleBook failed: %v", err)
	}
	if strings.Contains(project.FinalBook, "Broken Chapter") {
		t.Error("failed module leaked into the assembled book")
	}
}
