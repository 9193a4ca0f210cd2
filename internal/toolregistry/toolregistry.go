// Package toolregistry implements the Tool Registry (C7): a declarative,
// config-driven catalog of the tools exposed over the MCP protocol layer.
package toolregistry

import (
	"encoding/json"
	"os"
	"strings"

	yaml "gopkg.in/yaml.v3"

	"docuretrieve/internal/apperr"
)

// Category is the closed set of tool categories named in SPEC_FULL.md §4.7.
type Category string

const (
	CategoryQuery  Category = "query"
	CategoryAdd    Category = "add"
	CategoryRemove Category = "remove"
	CategoryList   Category = "list"
	CategoryStatus Category = "status"
)

// DefaultCorpora is the closed corpus tag enum named in SPEC_FULL.md §6, used
// to generate the default per-corpus catalog when no SUPPORTED_DOC_TYPES
// override is configured.
var DefaultCorpora = []string{
	"rust", "jupyter", "birdeye", "cilium", "talos", "meteora",
	"raydium", "solana", "ebpf", "rust_best_practices",
}

// Tool is one catalog entry. Per §6, each tool is bound to exactly one
// corpus and named after it (`{corpus}_query`, `add_{corpus}`, ...); Corpus
// is what dispatch uses to route a call, not the tool name itself.
type Tool struct {
	Name          string         `yaml:"name" json:"name"`
	Title         string         `yaml:"title" json:"title"`
	Description   string         `yaml:"description" json:"description"`
	InputSchema   map[string]any `yaml:"input_schema" json:"input_schema"`
	DocType       string         `yaml:"doc_type" json:"doc_type"`
	Corpus        string         `yaml:"corpus" json:"corpus"`
	Category      Category       `yaml:"category" json:"category"`
	Enabled       bool           `yaml:"enabled" json:"enabled"`
	MetadataHints map[string]any `yaml:"metadata_hints" json:"metadata_hints"`
}

// catalogFile is the on-disk shape of a tools config document.
type catalogFile struct {
	Tools []Tool `yaml:"tools" json:"tools"`
}

// Registry holds the loaded catalog, keyed by tool name.
type Registry struct {
	tools map[string]Tool
	order []string
}

// Load reads the catalog from path (file) or, when path is empty, from the
// inline document. Either may be YAML or JSON; detection is by a leading '{'.
// When neither is given, the catalog is generated from corpora (falling back
// to DefaultCorpora when corpora is empty) via DefaultRegistryForCorpora.
func Load(path, inline string, corpora []string) (*Registry, error) {
	var raw []byte
	var err error
	switch {
	case path != "":
		raw, err = os.ReadFile(path)
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, err, "toolregistry: read config file")
		}
	case inline != "":
		raw = []byte(inline)
	default:
		return DefaultRegistryForCorpora(corpora), nil
	}

	var doc catalogFile
	if strings.HasPrefix(strings.TrimSpace(string(raw)), "{") {
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, apperr.Wrap(apperr.BadRequest, err, "toolregistry: parse json catalog")
		}
	} else if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, apperr.Wrap(apperr.BadRequest, err, "toolregistry: parse yaml catalog")
	}
	return fromTools(doc.Tools), nil
}

func fromTools(tools []Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		r.tools[t.Name] = t
		r.order = append(r.order, t.Name)
	}
	return r
}

// DefaultRegistry builds the built-in catalog over DefaultCorpora.
func DefaultRegistry() *Registry {
	return DefaultRegistryForCorpora(nil)
}

// DefaultRegistryForCorpora generates, for each corpus tag, the five tools
// named in SPEC_FULL.md §6 (`{corpus}_query`, `add_{corpus}`, `remove_{corpus}`,
// `list_{corpus}`, `check_{corpus}_status`). An empty corpora list falls back
// to DefaultCorpora so the service always exposes a non-empty catalog.
func DefaultRegistryForCorpora(corpora []string) *Registry {
	if len(corpora) == 0 {
		corpora = DefaultCorpora
	}
	var tools []Tool
	for _, corpus := range corpora {
		tools = append(tools, corpusTools(corpus)...)
	}
	return fromTools(tools)
}

func corpusTools(corpus string) []Tool {
	return []Tool{
		{
			Name: corpus + "_query", Title: "Search " + corpus + " documentation",
			Corpus: corpus, Category: CategoryQuery, Enabled: true,
			Description: "Semantic search over the " + corpus + " documentation corpus.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query":     map[string]any{"type": "string"},
					"limit":     map[string]any{"type": "integer", "minimum": 1, "maximum": 20},
					"predicate": map[string]any{"type": "object"},
				},
				"required": []string{"query"},
			},
		},
		{
			Name: "add_" + corpus, Title: "Add a " + corpus + " source",
			Corpus: corpus, Category: CategoryAdd, Enabled: true,
			Description: "Ingest a new source into the " + corpus + " corpus.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"source": map[string]any{"type": "string"},
					"paths":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"query":  map[string]any{"type": "string"},
				},
				"required": []string{"source"},
			},
		},
		{
			Name: "remove_" + corpus, Title: "Remove a " + corpus + " source",
			Corpus: corpus, Category: CategoryRemove, Enabled: true,
			Description: "Soft or hard delete a source from the " + corpus + " corpus.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"source": map[string]any{"type": "string"},
					"force":  map[string]any{"type": "boolean"},
				},
				"required": []string{"source"},
			},
		},
		{
			Name: "list_" + corpus, Title: "List " + corpus + " sources",
			Corpus: corpus, Category: CategoryList, Enabled: true,
			Description: "Page through sources registered in the " + corpus + " corpus.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"page": map[string]any{"type": "integer"}},
			},
		},
		{
			Name: "check_" + corpus + "_status", Title: "Check " + corpus + " ingest job status",
			Corpus: corpus, Category: CategoryStatus, Enabled: true,
			Description: "Poll the status of an asynchronous " + corpus + " ingest job.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"job_id": map[string]any{"type": "string"}},
				"required":   []string{"job_id"},
			},
		},
	}
}

// Get returns an enabled tool by name. An unknown name is ToolNotFound
// (4001); a known-but-disabled tool is ToolDisabled (4002) — the two are
// kept distinct even though both hide the tool from List().
func (r *Registry) Get(name string) (Tool, error) {
	t, ok := r.tools[name]
	if !ok {
		return Tool{}, apperr.New(apperr.ToolNotFound, "unknown tool: "+name)
	}
	if !t.Enabled {
		return Tool{}, apperr.New(apperr.ToolDisabled, "tool disabled: "+name)
	}
	return t, nil
}

// List returns enabled tools in catalog order.
func (r *Registry) List() []Tool {
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		if t := r.tools[name]; t.Enabled {
			out = append(out, t)
		}
	}
	return out
}
