package retrieve

import (
	"context"
	"testing"
	"time"

	"docuretrieve/internal/apperr"
	"docuretrieve/internal/embedclient"
	"docuretrieve/internal/storage"
)

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f fakeEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, *embedclient.TruncationReport, error) {
	return f.vec, nil, f.err
}

// retryingEmbedder fails its first `fails` calls, then succeeds.
type retryingEmbedder struct {
	vec     []float32
	err     error
	fails   int
	calls   int
}

func (f *retryingEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, *embedclient.TruncationReport, error) {
	f.calls++
	if f.calls <= f.fails {
		return nil, nil, f.err
	}
	return f.vec, nil, nil
}

type failingSearcher struct{ err error }

func (f failingSearcher) VectorSearch(ctx context.Context, corpus string, predicate map[string]string, q []float32, k, poolSize int) ([]storage.VectorHit, error) {
	return nil, f.err
}

type fakeSearcher struct {
	hits     []storage.VectorHit
	gotPool  int
	gotCorpus string
}

func (f *fakeSearcher) VectorSearch(ctx context.Context, corpus string, predicate map[string]string, q []float32, k, poolSize int) ([]storage.VectorHit, error) {
	f.gotPool = poolSize
	f.gotCorpus = corpus
	if len(f.hits) > k {
		return f.hits[:k], nil
	}
	return f.hits, nil
}

func TestSearchValidatesLimit(t *testing.T) {
	e := New(fakeEmbedder{vec: []float32{1}}, &fakeSearcher{})
	_, err := e.Search(context.Background(), Request{QueryText: "q", Limit: 0})
	if apperr.KindOf(err) != apperr.BadRequest {
		t.Fatalf("expected BadRequest for limit=0, got %v", err)
	}
	_, err = e.Search(context.Background(), Request{QueryText: "q", Limit: 21})
	if apperr.KindOf(err) != apperr.BadRequest {
		t.Fatalf("expected BadRequest for limit=21, got %v", err)
	}
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	e := New(fakeEmbedder{}, &fakeSearcher{})
	_, err := e.Search(context.Background(), Request{QueryText: "", Limit: 5})
	if apperr.KindOf(err) != apperr.BadRequest {
		t.Fatalf("expected BadRequest for empty query_text")
	}
}

func TestSearchComputesCandidatePool(t *testing.T) {
	searcher := &fakeSearcher{}
	e := New(fakeEmbedder{vec: []float32{1, 0}}, searcher)
	_, err := e.Search(context.Background(), Request{QueryText: "hello", Limit: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if searcher.gotPool != candidatePoolFloor {
		t.Errorf("pool = %d, want floor %d (4*3=12 < floor 20)", searcher.gotPool, candidatePoolFloor)
	}

	_, err = e.Search(context.Background(), Request{QueryText: "hello", Limit: 10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if searcher.gotPool != 40 {
		t.Errorf("pool = %d, want 40 (4*10)", searcher.gotPool)
	}
}

func TestSearchClampsPoolToMaxCandidates(t *testing.T) {
	searcher := &fakeSearcher{}
	e := New(fakeEmbedder{vec: []float32{1}}, searcher)
	resp, err := e.Search(context.Background(), Request{QueryText: "x", Limit: 20, MaxCandidates: 30})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if searcher.gotPool != 30 {
		t.Errorf("pool = %d, want clamped 30", searcher.gotPool)
	}
	if !resp.Truncated {
		t.Errorf("expected Truncated=true when pool is clamped")
	}
}

func TestSearchAssemblesHitsWithPreview(t *testing.T) {
	longContent := make([]byte, previewChars+50)
	for i := range longContent {
		longContent[i] = 'a'
	}
	searcher := &fakeSearcher{hits: []storage.VectorHit{
		{Chunk: storage.Chunk{ID: "1", Source: "src", Path: "p", Content: string(longContent), UpdatedAt: time.Now()}, Similarity: 0.9},
	}}
	e := New(fakeEmbedder{vec: []float32{1}}, searcher)
	resp, err := e.Search(context.Background(), Request{QueryText: "x", Limit: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(resp.Hits))
	}
	if len(resp.Hits[0].Preview) >= len(resp.Hits[0].Content) {
		t.Errorf("expected preview to be shorter than full content")
	}
}

func TestSearchRetriesTransientEmbeddingFailureOnce(t *testing.T) {
	embedder := &retryingEmbedder{vec: []float32{1}, err: apperr.New(apperr.Transient, "upstream hiccup"), fails: 1}
	e := New(embedder, &fakeSearcher{})
	_, err := e.Search(context.Background(), Request{QueryText: "q", Limit: 5})
	if err != nil {
		t.Fatalf("expected the single retry to succeed, got: %v", err)
	}
	if embedder.calls != 2 {
		t.Errorf("expected exactly 2 embedding attempts, got %d", embedder.calls)
	}
}

func TestSearchSurfacesUpstreamAfterRetryExhausted(t *testing.T) {
	embedder := &retryingEmbedder{err: apperr.New(apperr.Transient, "still failing"), fails: 99}
	e := New(embedder, &fakeSearcher{})
	_, err := e.Search(context.Background(), Request{QueryText: "q", Limit: 5})
	if !apperr.Is(err, apperr.Upstream) {
		t.Fatalf("expected Upstream after retry exhausted, got %v", apperr.KindOf(err))
	}
	if embedder.calls != 2 {
		t.Errorf("expected exactly 2 embedding attempts (no further retries), got %d", embedder.calls)
	}
}

func TestSearchSurfacesStorageOnVectorSearchFailure(t *testing.T) {
	e := New(fakeEmbedder{vec: []float32{1}}, failingSearcher{err: apperr.New(apperr.Internal, "db down")})
	_, err := e.Search(context.Background(), Request{QueryText: "q", Limit: 5})
	if !apperr.Is(err, apperr.Storage) {
		t.Fatalf("expected Storage on vector search failure, got %v", apperr.KindOf(err))
	}
}
