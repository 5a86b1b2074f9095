package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lamim/bookforge/internal/util"
	"github.com/lamim/bookforge/pkg/models"
)

// assemblyPart is one of the three concurrent assembly calls.
type assemblyPart struct {
	name    string
	prompt  func(*models.Project) (string, error)
	content string
	err     error
}

// AssembleBook runs the final phase: introduction, summary and glossary
// generated concurrently, then the full markdown artifact stitched
// together. The three calls either all succeed or the project ends in the
// error state with no partial book; the module content itself is never
// touched, so a failed assembly can simply be re-run.
//
// Whether assembly may proceed with failed modules still on the project is
// the caller's decision; this method assembles whatever completed modules
// exist and only requires at least one.
func (o *Orchestrator) AssembleBook(ctx context.Context, project *models.Project) error {
	if project.Roadmap == nil {
		return fmt.Errorf("project %s has no roadmap", project.ID)
	}
	if project.CompletedModuleCount() == 0 {
		return fmt.Errorf("project %s has no completed modules to assemble", project.ID)
	}

	project.Status = models.StatusAssembling
	o.emitProject(project, "assembling book")

	model := o.cfg.AssemblyModel()
	apiKey := o.secrets.GetAPIKey(model.BaseURL)

	parts := []*assemblyPart{
		{name: "introduction", prompt: o.buildIntroductionPrompt},
		{name: "summary", prompt: o.buildSummaryPrompt},
		{name: "glossary", prompt: o.buildGlossaryPrompt},
	}

	var wg sync.WaitGroup
	for _, p := range parts {
		wg.Add(1)
		go func(p *assemblyPart) {
			defer wg.Done()
			prompt, err := p.prompt(project)
			if err != nil {
				p.err = fmt.Errorf("failed to render %s template: %w", p.name, err)
				return
			}
			p.content, p.err = o.provider.Generate(ctx, model, apiKey, prompt, nil)
			if p.err != nil {
				p.err = fmt.Errorf("%s generation failed: %w", p.name, p.err)
			}
		}(p)
	}
	wg.Wait()

	for _, p := range parts {
		if p.err != nil {
			project.Status = models.StatusError
			project.Error = p.err.Error()
			o.emitProject(project, p.err.Error())
			o.logger.Error("Assembly failed", "project_id", project.ID, "part", p.name, "error", p.err)
			return p.err
		}
	}

	project.FinalBook = o.renderBook(project, parts[0].content, parts[1].content, parts[2].content)
	project.Status = models.StatusCompleted
	project.Progress = progressComplete
	o.checkpoints.Delete(project.ID)
	o.checkpoints.Resume(project.ID)
	o.emitProject(project, "book assembled")
	o.logger.Info("Book assembled",
		"project_id", project.ID,
		"modules", project.CompletedModuleCount(),
		"words", util.CountWords(project.FinalBook))
	return nil
}

// renderBook produces the single markdown artifact: title page, table of
// contents with slug anchors, introduction, modules in roadmap order,
// summary, glossary.
func (o *Orchestrator) renderBook(project *models.Project, intro, summary, glossary string) string {
	var b strings.Builder

	title := project.Title
	if title == "" {
		title = project.Goal
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "*Generated %s · %s · %d modules*\n\n",
		time.Now().Format("2006-01-02"),
		project.Roadmap.Difficulty,
		project.CompletedModuleCount())
	b.WriteString("---\n\n")

	b.WriteString("## Table of Contents\n\n")
	b.WriteString("1. [Introduction](#introduction)\n")
	n := 1
	for _, rm := range project.Roadmap.Modules {
		if m, ok := project.ModuleByRoadmapID(rm.ID); ok && m.Status == models.ModuleCompleted {
			n++
			fmt.Fprintf(&b, "%d. [%s](#%s)\n", n, m.Title, util.Slugify(m.Title))
		}
	}
	fmt.Fprintf(&b, "%d. [Summary](#summary)\n", n+1)
	fmt.Fprintf(&b, "%d. [Glossary](#glossary)\n\n", n+2)

	b.WriteString("## Introduction\n\n")
	b.WriteString(strings.TrimSpace(intro))
	b.WriteString("\n\n")

	for _, rm := range project.Roadmap.Modules {
		m, ok := project.ModuleByRoadmapID(rm.ID)
		if !ok || m.Status != models.ModuleCompleted {
			continue
		}
		fmt.Fprintf(&b, "## %s\n\n", m.Title)
		b.WriteString(strings.TrimSpace(m.Content))
		b.WriteString("\n\n")
	}

	b.WriteString("## Summary\n\n")
	b.WriteString(strings.TrimSpace(summary))
	b.WriteString("\n\n")

	b.WriteString("## Glossary\n\n")
	b.WriteString(strings.TrimSpace(glossary))
	b.WriteString("\n")

	return b.String()
}
