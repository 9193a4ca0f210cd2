package parse

import (
	"strings"
	"testing"
)

func TestWindowByBoundariesShortTextSingleWindow(t *testing.T) {
	out := windowByBoundaries("a short document", DefaultChunkOptions(), nil)
	if len(out) != 1 || out[0] != "a short document" {
		t.Fatalf("expected single window unchanged, got %v", out)
	}
}

func TestWindowByBoundariesSplitsLongText(t *testing.T) {
	text := strings.Repeat("word ", 2000)
	out := windowByBoundaries(text, ChunkOptions{TargetTokens: 100, OverlapChars: 20}, nil)
	if len(out) < 2 {
		t.Fatalf("expected multiple windows for long text, got %d", len(out))
	}
	for _, w := range out {
		if strings.TrimSpace(w) == "" {
			t.Fatalf("window must not be empty")
		}
	}
}

func TestDetectFormat(t *testing.T) {
	cases := map[string]Format{
		"readme.md":        FormatMarkdown,
		"page.html":        FormatHTML,
		"openapi.yaml":     FormatOpenAPI,
		"notes.txt":        FormatPlain,
		"main.go":          FormatCode,
		"spec.pdf":         FormatPDF,
		"unknownfile.xyz":  FormatPlain,
	}
	for path, want := range cases {
		if got := DetectFormat(path); got != want {
			t.Errorf("DetectFormat(%q) = %s, want %s", path, got, want)
		}
	}
}
