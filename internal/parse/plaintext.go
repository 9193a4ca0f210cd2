package parse

import "strings"

// PlainTextParser chunks arbitrary text on whitespace boundaries.
type PlainTextParser struct{ Options ChunkOptions }

func (p PlainTextParser) Parse(path string, raw []byte) ([]Chunk, error) {
	opt := p.Options
	if opt.TargetTokens == 0 {
		opt = DefaultChunkOptions()
	}
	windows := windowByBoundaries(normalizeText(string(raw)), opt, nil)

	out := make([]Chunk, 0, len(windows))
	for i, w := range windows {
		if strings.TrimSpace(w) == "" {
			continue
		}
		out = append(out, Chunk{
			Path:     path,
			Content:  w,
			Metadata: map[string]any{"format": string(FormatPlain), "sequence": i},
		})
	}
	return out, nil
}
