package util

import (
	"encoding/json"
	"testing"
)

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "bare object",
			input: `{"a": 1}`,
			want:  `{"a": 1}`,
		},
		{
			name:  "json code fence",
			input: "```json\n{\"a\": 1}\n```",
			want:  `{"a": 1}`,
		},
		{
			name:  "plain code fence",
			input: "```\n{\"a\": 1}\n```",
			want:  `{"a": 1}`,
		},
		{
			name:  "surrounding prose",
			input: "Here is your roadmap:\n{\"modules\": []}\nLet me know if you need changes.",
			want:  `{"modules": []}`,
		},
		{
			name:  "nested objects",
			input: `preamble {"a": {"b": {"c": 1}}} trailer`,
			want:  `{"a": {"b": {"c": 1}}}`,
		},
		{
			name:  "braces inside strings",
			input: `{"text": "use {braces} freely"} extra`,
			want:  `{"text": "use {braces} freely"}`,
		},
		{
			name:  "escaped quote inside string",
			input: `{"text": "she said \"hi\" {ok}"}`,
			want:  `{"text": "she said \"hi\" {ok}"}`,
		},
		{
			name:  "truncated object returned as-is",
			input: `{"a": {"b": 1}`,
			want:  `{"a": {"b": 1}`,
		},
		{
			name:  "no object at all",
			input: "sorry, I cannot help with that",
			want:  "sorry, I cannot help with that",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractJSONObject(tt.input); got != tt.want {
				t.Errorf("ExtractJSONObject() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSanitizeJSON(t *testing.T) {
	input := "{\"title\": \"First\nSecond\"}"
	got := SanitizeJSON(input)

	var decoded map[string]string
	if err := json.Unmarshal([]byte(got), &decoded); err != nil {
		t.Fatalf("sanitized JSON still invalid: %v (%q)", err, got)
	}
	if decoded["title"] != "First\nSecond" {
		t.Errorf("decoded title = %q, want %q", decoded["title"], "First\nSecond")
	}
}

func TestSanitizeJSONCRLF(t *testing.T) {
	input := "{\"a\": \"x\r\ny\"}"
	got := SanitizeJSON(input)
	want := "{\"a\": \"x\\ny\"}"
	if got != want {
		t.Errorf("SanitizeJSON() = %q, want %q", got, want)
	}
}

func TestSanitizeJSONLeavesStructureAlone(t *testing.T) {
	input := "{\n  \"a\": 1,\n  \"b\": \"ok\"\n}"
	if got := SanitizeJSON(input); got != input {
		t.Errorf("newlines outside strings must be preserved, got %q", got)
	}
}

func TestSanitizeJSONPreservesEscapes(t *testing.T) {
	input := `{"a": "already\nescaped"}`
	if got := SanitizeJSON(input); got != input {
		t.Errorf("existing escapes must pass through, got %q", got)
	}
}
