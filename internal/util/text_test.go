package util

import "testing"

func TestTruncateString(t *testing.T) {
	tests := []struct {
		input  string
		maxLen int
		want   string
	}{
		{"short", 10, "short"},
		{"exactly-10", 10, "exactly-10"},
		{"this is too long", 7, "this is..."},
		{"héllo wörld", 5, "héllo..."},
		{"", 5, ""},
	}
	for _, tt := range tests {
		if got := TruncateString(tt.input, tt.maxLen); got != tt.want {
			t.Errorf("TruncateString(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.want)
		}
	}
}

func TestTail(t *testing.T) {
	if got := Tail("abcdef", 3); got != "def" {
		t.Errorf("Tail = %q, want %q", got, "def")
	}
	if got := Tail("ab", 3); got != "ab" {
		t.Errorf("Tail = %q, want %q", got, "ab")
	}
	if got := Tail("héllo", 2); got != "lo" {
		t.Errorf("Tail = %q, want %q", got, "lo")
	}
}

func TestCountWords(t *testing.T) {
	tests := []struct {
		input string
		want  int
	}{
		{"", 0},
		{"   ", 0},
		{"one", 1},
		{"one two three", 3},
		{"spaced\t\tout\nwords", 3},
	}
	for _, tt := range tests {
		if got := CountWords(tt.input); got != tt.want {
			t.Errorf("CountWords(%q) = %d, want %d", tt.input, got, tt.want)
		}
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Introduction to Go", "introduction-to-go"},
		{"  Concurrency & Channels!  ", "concurrency-channels"},
		{"already-slugged", "already-slugged"},
		{"Module 3: Error Handling", "module-3-error-handling"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Slugify(tt.input); got != tt.want {
			t.Errorf("Slugify(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestRenderTemplate(t *testing.T) {
	out, err := RenderTemplate("Hello {{.Name}}", map[string]interface{}{"Name": "world"})
	if err != nil {
		t.Fatalf("RenderTemplate failed: %v", err)
	}
	if out != "Hello world" {
		t.Errorf("RenderTemplate = %q, want %q", out, "Hello world")
	}
}

func TestRenderTemplateForbiddenDirective(t *testing.T) {
	for _, tmpl := range []string{
		`{{template "x"}}`,
		`{{call .F}}`,
		`{{define "x"}}body{{end}}`,
		`{{block "x" .}}{{end}}`,
	} {
		if _, err := RenderTemplate(tmpl, nil); err == nil {
			t.Errorf("expected error for template %q", tmpl)
		}
	}
}

func TestRenderTemplateMissingKey(t *testing.T) {
	if _, err := RenderTemplate("{{.Missing}}", map[string]interface{}{"Name": "x"}); err == nil {
		t.Error("expected error for missing key")
	}
}
