package parse

import "testing"

func TestMarkdownParserExtractsHeadingTitle(t *testing.T) {
	doc := "# Getting Started\n\nSome intro text.\n\n## Installation\n\nRun `go install`."
	chunks, err := MarkdownParser{}.Parse("readme.md", []byte(doc))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) == 0 {
		t.Fatalf("expected at least one chunk")
	}
	if chunks[0].Title != "Getting Started" {
		t.Errorf("Title = %q, want %q", chunks[0].Title, "Getting Started")
	}
	if chunks[0].Metadata["format"] != string(FormatMarkdown) {
		t.Errorf("expected format metadata to be markdown")
	}
}

func TestNormalizeTextCollapsesBlankLines(t *testing.T) {
	got := normalizeText("line one\r\n\r\n\r\nline two")
	if got != "line one\n\nline two" {
		t.Errorf("normalizeText collapsed incorrectly: %q", got)
	}
}
