package ingest

import (
	"testing"

	"docuretrieve/internal/apperr"
)

func TestChunkIDIsDeterministic(t *testing.T) {
	a := chunkID("rust", "tokio", "docs/intro.md#0")
	b := chunkID("rust", "tokio", "docs/intro.md#0")
	if a != b {
		t.Fatalf("chunkID must be deterministic for identical inputs")
	}
}

func TestChunkIDDiffersByPath(t *testing.T) {
	a := chunkID("rust", "tokio", "docs/intro.md#0")
	b := chunkID("rust", "tokio", "docs/intro.md#1")
	if a == b {
		t.Fatalf("chunkID must differ when path differs")
	}
}

func TestChunkIDDiffersBySource(t *testing.T) {
	a := chunkID("rust", "tokio", "docs/intro.md#0")
	b := chunkID("rust", "serde", "docs/intro.md#0")
	if a == b {
		t.Fatalf("chunkID must differ when source differs")
	}
}

func TestResolvePlanCollectsCloneAndFetchPaths(t *testing.T) {
	plan := Plan{
		Corpus:     "rust",
		SourceName: "tokio",
		Steps: []Step{
			{Kind: StepClone, Args: map[string]any{"url": "https://example.test/tokio.git"}},
			{Kind: StepFetch, Args: map[string]any{"path": "docs/intro.md"}},
			{Kind: StepParse, Args: map[string]any{}},
			{Kind: StepLoad, Args: map[string]any{}},
		},
	}
	paths, err := resolvePlan(plan)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"https://example.test/tokio.git", "docs/intro.md"}
	if len(paths) != len(want) {
		t.Fatalf("paths = %v, want %v", paths, want)
	}
	for i, p := range want {
		if paths[i] != p {
			t.Errorf("paths[%d] = %q, want %q", i, paths[i], p)
		}
	}
}

func TestResolvePlanRejectsUnknownStepKind(t *testing.T) {
	plan := Plan{Steps: []Step{{Kind: StepKind("exec"), Args: nil}}}
	_, err := resolvePlan(plan)
	if err == nil {
		t.Fatalf("expected an error for an unrecognized step kind")
	}
	if !apperr.Is(err, apperr.BadRequest) {
		t.Fatalf("expected BadRequest, got %v", apperr.KindOf(err))
	}
}
