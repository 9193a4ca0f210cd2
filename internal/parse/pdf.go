package parse

import "fmt"

// PDFParser emits one structured placeholder chunk carrying the PDF's
// location and title so the document is still discoverable (§4.4).
//
// This codebase has no PDF text-extraction dependency in its stack, so no
// text is extracted, even from PDFs that carry an embedded text layer.
type PDFParser struct{}

func (p PDFParser) Parse(path string, raw []byte) ([]Chunk, error) {
	return []Chunk{{
		Path:    path,
		Title:   path,
		Content: fmt.Sprintf("[pdf placeholder] %s (%d bytes) — text extraction unavailable", path, len(raw)),
		Metadata: map[string]any{
			"format":      string(FormatPDF),
			"placeholder": true,
		},
	}}, nil
}
