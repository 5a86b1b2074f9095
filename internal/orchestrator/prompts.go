package orchestrator

import (
	"fmt"
	"strings"

	"github.com/lamim/bookforge/internal/util"
	"github.com/lamim/bookforge/pkg/models"
)

func (o *Orchestrator) buildRoadmapPrompt(session models.Session) (string, error) {
	audience := session.TargetAudience
	if audience == "" {
		audience = "general readers"
	}
	return util.RenderTemplate(o.cfg.PromptTemplates.Roadmap, map[string]interface{}{
		"Goal":       session.Goal,
		"Audience":   audience,
		"Complexity": string(session.ComplexityLevel),
		"MinModules": o.cfg.Generation.MinModules,
	})
}

// buildModulePrompt renders the per-chapter prompt. The context excerpt
// carries titles and truncated content of the most recently completed
// modules and is omitted entirely for the first module.
func (o *Orchestrator) buildModulePrompt(session models.Session, rm models.RoadmapModule, completed []models.Module) (string, error) {
	audience := session.TargetAudience
	if audience == "" {
		audience = "general readers"
	}

	var objectives strings.Builder
	for _, obj := range rm.Objectives {
		fmt.Fprintf(&objectives, "- %s\n", obj)
	}

	context := ""
	if len(completed) > 0 {
		n := o.cfg.Generation.ContextModules
		if len(completed) < n {
			n = len(completed)
		}
		var b strings.Builder
		b.WriteString("\nThe reader has already covered:\n")
		for _, m := range completed[len(completed)-n:] {
			fmt.Fprintf(&b, "## %s\n%s\n\n", m.Title,
				util.TruncateString(m.Content, o.cfg.Generation.ContextExcerptChars))
		}
		b.WriteString("Build on this material without repeating it.\n")
		context = b.String()
	}

	var extras []string
	if session.Preferences.IncludeExamples {
		extras = append(extras, "Include worked, practical examples throughout.")
	}
	if session.Preferences.IncludeExercises {
		extras = append(extras, "End with a short set of hands-on exercises.")
	}
	if session.Preferences.IncludeQuizzes {
		extras = append(extras, "Close with a brief self-check quiz with answers.")
	}

	return util.RenderTemplate(o.cfg.PromptTemplates.Module, map[string]interface{}{
		"Goal":        session.Goal,
		"Title":       rm.Title,
		"Objectives":  objectives.String(),
		"Audience":    audience,
		"Complexity":  string(session.ComplexityLevel),
		"Context":     context,
		"TargetWords": o.cfg.Generation.TargetModuleWords,
		"Extras":      strings.Join(extras, "\n"),
	})
}

func moduleTitleList(roadmap *models.Roadmap) string {
	var b strings.Builder
	for _, rm := range roadmap.Modules {
		fmt.Fprintf(&b, "%d. %s\n", rm.Order, rm.Title)
	}
	return b.String()
}

func (o *Orchestrator) buildIntroductionPrompt(project *models.Project) (string, error) {
	return util.RenderTemplate(o.cfg.PromptTemplates.Introduction, map[string]interface{}{
		"Title":        project.Title,
		"Goal":         project.Goal,
		"ModuleTitles": moduleTitleList(project.Roadmap),
	})
}

func (o *Orchestrator) buildSummaryPrompt(project *models.Project) (string, error) {
	return util.RenderTemplate(o.cfg.PromptTemplates.Summary, map[string]interface{}{
		"Title":        project.Title,
		"Goal":         project.Goal,
		"ModuleTitles": moduleTitleList(project.Roadmap),
	})
}

// buildGlossaryPrompt feeds a truncated concatenation of module content,
// capped at the configured character budget to bound prompt size.
func (o *Orchestrator) buildGlossaryPrompt(project *models.Project) (string, error) {
	budget := o.cfg.Generation.GlossaryInputChars
	perModule := budget
	completed := 0
	for _, m := range project.Modules {
		if m.Status == models.ModuleCompleted {
			completed++
		}
	}
	if completed > 0 {
		perModule = budget / completed
	}

	var b strings.Builder
	for _, m := range project.Modules {
		if m.Status != models.ModuleCompleted {
			continue
		}
		fmt.Fprintf(&b, "# %s\n%s\n\n", m.Title, util.TruncateString(m.Content, perModule))
		if b.Len() >= budget {
			break
		}
	}

	return util.RenderTemplate(o.cfg.PromptTemplates.Glossary, map[string]interface{}{
		"Content": util.TruncateString(b.String(), budget),
	})
}
