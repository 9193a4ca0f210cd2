package parse

import (
	"bytes"
	"net/url"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown/v2"
	readability "github.com/go-shiori/go-readability"
)

// HTMLParser handles scraped doc pages and rendered API-doc HTML: it runs
// readability extraction to drop navigation/boilerplate, converts the
// resulting article to Markdown, then reuses MarkdownParser's chunker.
//
// Pages that require JS rendering to produce meaningful content (rare for
// static doc sites) are out of this parser's scope: it parses the HTML the
// materializer fetched, and nothing in this codebase renders JS.
type HTMLParser struct{ Options ChunkOptions }

func (p HTMLParser) Parse(path string, raw []byte) ([]Chunk, error) {
	article, err := readability.FromReader(bytes.NewReader(raw), &url.URL{Path: path})
	content := string(raw)
	title := ""
	if err == nil {
		content = article.Content
		title = article.Title
	}

	converted, err := md.ConvertString(content)
	if err != nil {
		converted = stripTags(content)
	}

	opt := p.Options
	if opt.TargetTokens == 0 {
		opt = DefaultChunkOptions()
	}
	windows := windowByBoundaries(normalizeText(converted), opt, markdownBoundary)

	out := make([]Chunk, 0, len(windows))
	for i, w := range windows {
		if strings.TrimSpace(w) == "" {
			continue
		}
		out = append(out, Chunk{
			Path:    path,
			Title:   title,
			Content: w,
			Metadata: map[string]any{
				"format":   string(FormatHTML),
				"sequence": i,
			},
		})
	}
	return out, nil
}

// stripTags is a last-resort fallback when markdown conversion fails; it
// removes angle-bracket tags so at least raw text is indexed.
func stripTags(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch r {
		case '<':
			inTag = true
		case '>':
			inTag = false
		default:
			if !inTag {
				b.WriteRune(r)
			}
		}
	}
	return b.String()
}
