package parse

import (
	"regexp"
	"strings"
)

// ChunkOptions controls the shared windowing policy (§4.4): target ~1000
// token windows with semantic boundary preference, approximated as
// chars/4 per the rest of this codebase's token-length heuristic.
type ChunkOptions struct {
	TargetTokens int
	OverlapChars int
}

func DefaultChunkOptions() ChunkOptions {
	return ChunkOptions{TargetTokens: 1000, OverlapChars: 200}
}

func targetLen(opt ChunkOptions) int {
	t := opt.TargetTokens
	if t <= 0 {
		t = 1000
	}
	return t * 4
}

// windowByBoundaries splits text into windows of approximately targetLen
// characters, preferring to break at the last match of boundary within the
// window and falling back to the last whitespace when it has no match there.
func windowByBoundaries(text string, opt ChunkOptions, boundary *regexp.Regexp) []string {
	limit := targetLen(opt)
	if len(text) <= limit {
		return []string{text}
	}

	var out []string
	start := 0
	for start < len(text) {
		end := start + limit
		if end >= len(text) {
			out = append(out, strings.TrimSpace(text[start:]))
			break
		}
		cut := end
		if boundary != nil {
			if loc := boundary.FindAllStringIndex(text[start:end], -1); len(loc) > 0 {
				cut = start + loc[len(loc)-1][0]
			}
		}
		if cut <= start {
			// no boundary found in-window; fall back to the last whitespace run
			if sp := strings.LastIndexAny(text[start:end], " \n\t"); sp > 0 {
				cut = start + sp
			} else {
				cut = end
			}
		}
		out = append(out, strings.TrimSpace(text[start:cut]))
		next := cut - opt.OverlapChars
		if next <= start {
			next = cut
		}
		start = next
	}
	return out
}

var (
	markdownBoundary = regexp.MustCompile(`(?m)^#{1,6}\s`)
	codeBoundary     = regexp.MustCompile(`(?m)^\s*(func |class |def |#[#\s]|//)`)
)
