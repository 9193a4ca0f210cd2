// Package parse implements the Parsers (C4): format-aware conversion of raw
// payloads into a uniform, deterministic chunk stream.
package parse

import (
	"path/filepath"
	"strings"
)

// Chunk is one unit in the uniform chunk stream produced by every parser.
type Chunk struct {
	Path     string
	Title    string
	Content  string
	Metadata map[string]any
}

// Format is the closed set of supported input formats.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
	FormatOpenAPI  Format = "openapi"
	FormatPlain    Format = "plain"
	FormatCode     Format = "code"
	FormatPDF      Format = "pdf"
)

// DetectFormat maps a file extension to a Format; unknown extensions fall
// back to plain text.
func DetectFormat(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".mdx":
		return FormatMarkdown
	case ".html", ".htm":
		return FormatHTML
	case ".yaml", ".yml", ".json":
		if looksLikeOpenAPI(path) {
			return FormatOpenAPI
		}
		return FormatPlain
	case ".pdf":
		return FormatPDF
	case ".go", ".rs", ".py", ".js", ".ts", ".c", ".cpp", ".h", ".java":
		return FormatCode
	default:
		return FormatPlain
	}
}

func looksLikeOpenAPI(path string) bool {
	base := strings.ToLower(filepath.Base(path))
	return strings.Contains(base, "openapi") || strings.Contains(base, "swagger")
}

// Parser converts raw bytes for one file into a chunk stream. Implementations
// must be deterministic: identical input produces an identical chunk
// sequence (required for idempotent upsert, §4.4).
type Parser interface {
	Parse(path string, raw []byte) ([]Chunk, error)
}

// ForFormat returns the Parser responsible for a given Format.
func ForFormat(f Format) Parser {
	switch f {
	case FormatMarkdown:
		return MarkdownParser{}
	case FormatHTML:
		return HTMLParser{}
	case FormatOpenAPI:
		return OpenAPIParser{}
	case FormatCode:
		return CodeParser{}
	case FormatPDF:
		return PDFParser{}
	default:
		return PlainTextParser{}
	}
}
