package parse

import (
	"path/filepath"
	"strings"
)

// CodeParser chunks source files on function/class/def/comment-block
// boundaries, carrying the detected language in metadata.
type CodeParser struct{ Options ChunkOptions }

func (p CodeParser) Parse(path string, raw []byte) ([]Chunk, error) {
	opt := p.Options
	if opt.TargetTokens == 0 {
		opt = DefaultChunkOptions()
	}
	windows := windowByBoundaries(normalizeText(string(raw)), opt, codeBoundary)

	lang := languageFromExt(path)
	out := make([]Chunk, 0, len(windows))
	for i, w := range windows {
		if strings.TrimSpace(w) == "" {
			continue
		}
		out = append(out, Chunk{
			Path:    path,
			Content: w,
			Metadata: map[string]any{
				"format":   string(FormatCode),
				"language": lang,
				"sequence": i,
			},
		})
	}
	return out, nil
}

func languageFromExt(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".go":
		return "go"
	case ".rs":
		return "rust"
	case ".py":
		return "python"
	case ".js":
		return "javascript"
	case ".ts":
		return "typescript"
	case ".c", ".h":
		return "c"
	case ".cpp":
		return "cpp"
	case ".java":
		return "java"
	default:
		return "unknown"
	}
}
