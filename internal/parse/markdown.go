package parse

import "strings"

// MarkdownParser chunks Markdown/MDX on heading boundaries.
type MarkdownParser struct{ Options ChunkOptions }

func (p MarkdownParser) Parse(path string, raw []byte) ([]Chunk, error) {
	opt := p.Options
	if opt.TargetTokens == 0 {
		opt = DefaultChunkOptions()
	}
	text := normalizeText(string(raw))
	windows := windowByBoundaries(text, opt, markdownBoundary)

	out := make([]Chunk, 0, len(windows))
	for i, w := range windows {
		if strings.TrimSpace(w) == "" {
			continue
		}
		out = append(out, Chunk{
			Path:    path,
			Title:   firstHeading(w),
			Content: w,
			Metadata: map[string]any{
				"format":   string(FormatMarkdown),
				"sequence": i,
			},
		})
	}
	return out, nil
}

func firstHeading(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "#") {
			return strings.TrimLeft(line, "# ")
		}
	}
	return ""
}

func normalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	for strings.Contains(s, "\n\n\n") {
		s = strings.ReplaceAll(s, "\n\n\n", "\n\n")
	}
	return strings.TrimSpace(s)
}
