package parser

import (
	"strings"
	"testing"

	apperrors "termsai/backend/pkg/errors"
)

func TestParse_StrictJSON(t *testing.T) {
	result, err := Parse(`{"Gravity": "A force of attraction", "Mass": "Amount of matter"}`, "test")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(result) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(result))
	}
	if result["Gravity"] != "A force of attraction" {
		t.Errorf("Unexpected value: %v", result["Gravity"])
	}
}

func TestParse_CodeFences(t *testing.T) {
	cases := []struct {
		name string
		text string
	}{
		{"json fence", "```json\n{\"a\": \"1\"}\n```"},
		{"bare fence", "```\n{\"a\": \"1\"}\n```"},
		{"whitespace", "  \n{\"a\": \"1\"}\n  "},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := Parse(tc.text, "test")
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			if result["a"] != "1" {
				t.Errorf("Expected a=1, got %v", result)
			}
		})
	}
}

func TestParse_RoundTrip(t *testing.T) {
	// Any well-formed flat string object must come back identical,
	// fenced or not
	original := map[string]string{
		"Neural Network": "A model inspired by the brain",
		"Backpropagation": "Gradient-based training procedure",
	}
	texts := []string{
		`{"Neural Network": "A model inspired by the brain", "Backpropagation": "Gradient-based training procedure"}`,
		"```json\n{\"Neural Network\": \"A model inspired by the brain\",\n\"Backpropagation\": \"Gradient-based training procedure\"}\n```",
	}
	for _, text := range texts {
		result, err := Parse(text, "test")
		if err != nil {
			t.Fatalf("Parse failed: %v", err)
		}
		if len(result) != len(original) {
			t.Fatalf("Expected %d entries, got %d", len(original), len(result))
		}
		for k, v := range original {
			if result[k] != v {
				t.Errorf("Key %q: expected %q, got %v", k, v, result[k])
			}
		}
	}
}

func TestParse_RepairMultiline(t *testing.T) {
	// Unescaped newlines inside values break strict parsing; the repair
	// pass collapses whitespace and re-extracts the pairs
	text := "{\"Topic\": \"first line\nsecond line\", \"Other\": \"plain\"}"
	result, err := Parse(text, "test")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if result["Topic"] != "first line second line" {
		t.Errorf("Unexpected repaired value: %v", result["Topic"])
	}
	if result["Other"] != "plain" {
		t.Errorf("Unexpected value: %v", result["Other"])
	}
}

func TestParse_RepairNestedQuotes(t *testing.T) {
	// A bare quote inside a value is re-escaped during reassembly
	text := `{"Relativity": "Einstein called it "spooky" physics", "Mass": "Amount of matter"}`
	result, err := Parse(text, "test")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if !strings.Contains(result["Relativity"].(string), `"spooky"`) {
		t.Errorf("Nested quotes lost: %v", result["Relativity"])
	}
	if len(result) != 2 {
		t.Errorf("Expected 2 entries, got %d", len(result))
	}
}

func TestParse_RepairEntryCountMatchesKeyScan(t *testing.T) {
	// If repair succeeds, the output has exactly as many entries as the
	// key scan finds
	text := "{\"a\": \"x\ny\", \"b\": \"z\", \"c\": \"w\"}"
	result, err := Parse(text, "test")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(result) != 3 {
		t.Errorf("Expected 3 entries, got %d", len(result))
	}
}

func TestParse_FailureCarriesDiagnostics(t *testing.T) {
	text := "this is not json at all"
	_, err := Parse(text, "parsing concepts for test")
	if err == nil {
		t.Fatal("Expected error for unparseable text")
	}
	parseErr, ok := err.(*apperrors.ErrParseFailed)
	if !ok {
		t.Fatalf("Expected *ErrParseFailed, got %T", err)
	}
	if parseErr.RawText != text {
		t.Errorf("Diagnostic missing original text: %q", parseErr.RawText)
	}
	if !strings.Contains(err.Error(), text) {
		t.Errorf("Error message should embed the original text: %s", err.Error())
	}
	if !strings.Contains(err.Error(), "parsing concepts for test") {
		t.Errorf("Error message should name the parse context: %s", err.Error())
	}
}

func TestCleanText(t *testing.T) {
	if got := CleanText("```json\n{\"a\": 1}\n```"); got != `{"a": 1}` {
		t.Errorf("Unexpected cleaned text: %q", got)
	}
	if got := CleanText("  plain  "); got != "plain" {
		t.Errorf("Unexpected cleaned text: %q", got)
	}
}

func TestStringMap(t *testing.T) {
	m, err := StringMap(map[string]any{"a": "1", "b": "2"}, "test")
	if err != nil {
		t.Fatalf("StringMap failed: %v", err)
	}
	if m["a"] != "1" || m["b"] != "2" {
		t.Errorf("Unexpected mapping: %v", m)
	}

	if _, err := StringMap(map[string]any{"a": 3.0}, "test"); err == nil {
		t.Error("Expected error for non-string value")
	}
}
