package config

// DefaultRoadmapTemplate returns the default template for the roadmap phase.
func DefaultRoadmapTemplate() string {
	return `You are an expert curriculum designer. Create a learning roadmap for the goal: "{{.Goal}}".

Target audience: {{.Audience}}
Complexity level: {{.Complexity}}

Produce at least {{.MinModules}} modules. Each module needs a concise title, 3-5 concrete learning objectives, and an estimated reading time such as "25 min".

Return ONLY a valid JSON object with this exact structure (no markdown, no additional text):
{
  "modules": [
    {"title": "...", "objectives": ["...", "...", "..."], "estimated_time": "25 min"}
  ],
  "difficulty": "{{.Complexity}}"
}`
}

// DefaultModuleTemplate returns the default template for per-module content
// generation.
func DefaultModuleTemplate() string {
	return `You are an expert author writing one chapter of a book whose goal is: "{{.Goal}}".

Chapter title: {{.Title}}
Learning objectives:
{{.Objectives}}

Target audience: {{.Audience}}
Complexity level: {{.Complexity}}
{{.Context}}
Write the complete chapter in markdown. Aim for roughly {{.TargetWords}} words of substantive, well-structured prose with section headings.
{{.Extras}}`
}

// DefaultIntroductionTemplate returns the default template for the book
// introduction generated during assembly.
func DefaultIntroductionTemplate() string {
	return `Write an 800-1200 word introduction for a book titled "{{.Title}}" whose goal is: "{{.Goal}}".

The book covers these chapters:
{{.ModuleTitles}}

Set expectations, motivate the reader, and preview the journey. Return markdown prose only, no heading.`
}

// DefaultSummaryTemplate returns the default template for the closing
// summary generated during assembly.
func DefaultSummaryTemplate() string {
	return `Write a 600-900 word closing summary for a book titled "{{.Title}}" covering these chapters:
{{.ModuleTitles}}

Recap the key themes and suggest next steps for the reader. Return markdown prose only, no heading.`
}

// DefaultGlossaryTemplate returns the default template for glossary
// extraction during assembly.
func DefaultGlossaryTemplate() string {
	return `Extract a glossary of 20-30 key terms from the following book content. For each term give a one-sentence definition.

Return markdown formatted as "- **Term**: definition", one per line, alphabetically ordered, nothing else.

CONTENT:
{{.Content}}`
}
