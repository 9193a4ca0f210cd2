package toolregistry

import (
	"testing"

	"docuretrieve/internal/apperr"
)

func TestDefaultRegistryListsOnlyEnabled(t *testing.T) {
	r := DefaultRegistry()
	list := r.List()
	if len(list) == 0 {
		t.Fatalf("expected default catalog to be non-empty")
	}
	for _, tool := range list {
		if !tool.Enabled {
			t.Errorf("List() must only return enabled tools, got disabled %q", tool.Name)
		}
	}
}

func TestDefaultRegistryNamesToolsPerCorpus(t *testing.T) {
	r := DefaultRegistryForCorpora([]string{"rust"})
	want := []string{"rust_query", "add_rust", "remove_rust", "list_rust", "check_rust_status"}
	for _, name := range want {
		tool, err := r.Get(name)
		if err != nil {
			t.Fatalf("expected tool %q to exist: %v", name, err)
		}
		if tool.Corpus != "rust" {
			t.Errorf("tool %q Corpus = %q, want %q", name, tool.Corpus, "rust")
		}
	}
	if len(r.List()) != len(want) {
		t.Fatalf("expected exactly %d tools for a single corpus, got %d", len(want), len(r.List()))
	}
}

func TestDefaultRegistryForCorporaFallsBackWhenEmpty(t *testing.T) {
	r := DefaultRegistryForCorpora(nil)
	if len(r.List()) != len(DefaultCorpora)*5 {
		t.Fatalf("expected %d tools across DefaultCorpora, got %d", len(DefaultCorpora)*5, len(r.List()))
	}
}

func TestGetUnknownToolIsNotFound(t *testing.T) {
	r := DefaultRegistry()
	_, err := r.Get("does_not_exist")
	if err == nil {
		t.Fatalf("expected error for unknown tool")
	}
	if !apperr.Is(err, apperr.ToolNotFound) {
		t.Fatalf("expected ToolNotFound, got %v", apperr.KindOf(err))
	}
}

func TestDisabledToolIsToolDisabledNotToolNotFound(t *testing.T) {
	r := fromTools([]Tool{{Name: "hidden", Enabled: false}, {Name: "visible", Enabled: true}})
	_, err := r.Get("hidden")
	if err == nil {
		t.Fatalf("disabled tool must be reported as an error")
	}
	if !apperr.Is(err, apperr.ToolDisabled) {
		t.Fatalf("expected ToolDisabled for a disabled-but-known tool, got %v", apperr.KindOf(err))
	}
	if _, err := r.Get("visible"); err != nil {
		t.Fatalf("enabled tool should be retrievable: %v", err)
	}
	list := r.List()
	if len(list) != 1 || list[0].Name != "visible" {
		t.Fatalf("List() should only contain the enabled tool, got %v", list)
	}
}

func TestLoadFallsBackToDefaultWhenNoConfigGiven(t *testing.T) {
	r, err := Load("", "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(r.List()) == 0 {
		t.Fatalf("expected default registry fallback to be non-empty")
	}
}

func TestLoadFallsBackToConfiguredCorpora(t *testing.T) {
	r, err := Load("", "", []string{"cilium", "talos"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(r.List()) != 10 {
		t.Fatalf("expected 5 tools per configured corpus, got %d", len(r.List()))
	}
	if _, err := r.Get("cilium_query"); err != nil {
		t.Fatalf("expected cilium_query to exist: %v", err)
	}
}

func TestLoadParsesInlineYAML(t *testing.T) {
	yamlDoc := `
tools:
  - name: custom_tool
    title: Custom
    category: query
    corpus: custom
    enabled: true
`
	r, err := Load("", yamlDoc, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tool, err := r.Get("custom_tool")
	if err != nil {
		t.Fatalf("expected custom_tool to be loaded: %v", err)
	}
	if tool.Category != CategoryQuery {
		t.Errorf("Category = %q, want %q", tool.Category, CategoryQuery)
	}
}
