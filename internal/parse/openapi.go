package parse

import (
	"encoding/json"
	"fmt"

	yaml "gopkg.in/yaml.v3"
)

// OpenAPIParser chunks an OpenAPI document one chunk per endpoint
// (method+path), matching the "endpoint method+path for OpenAPI" metadata
// required by §4.4. JSON and YAML documents are both accepted.
type OpenAPIParser struct{}

type openapiDoc struct {
	Info struct {
		Title string `yaml:"title" json:"title"`
	} `yaml:"info" json:"info"`
	Paths map[string]map[string]any `yaml:"paths" json:"paths"`
}

func (p OpenAPIParser) Parse(path string, raw []byte) ([]Chunk, error) {
	var doc openapiDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse openapi %s: %w", path, err)
	}

	var out []Chunk
	for endpointPath, methods := range doc.Paths {
		for method, def := range methods {
			body, err := yaml.Marshal(def)
			if err != nil {
				continue
			}
			out = append(out, Chunk{
				Path:    path,
				Title:   fmt.Sprintf("%s %s", method, endpointPath),
				Content: string(body),
				Metadata: map[string]any{
					"format":        string(FormatOpenAPI),
					"endpoint_path": endpointPath,
					"http_method":   method,
					"api_title":     doc.Info.Title,
				},
			})
		}
	}
	if len(out) == 0 {
		// not a recognizable OpenAPI document; fall back to one plain chunk
		// so nothing is silently dropped.
		pretty, _ := json.MarshalIndent(doc, "", "  ")
		out = append(out, Chunk{Path: path, Content: string(pretty), Metadata: map[string]any{"format": string(FormatOpenAPI)}})
	}
	return out, nil
}
