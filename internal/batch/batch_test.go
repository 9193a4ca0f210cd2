package batch

import (
	"context"
	"testing"
	"time"

	"docuretrieve/internal/embedclient"
)

type fakeEmbedder struct {
	calls [][]string
	fail  error
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, []embedclient.TruncationReport, error) {
	f.calls = append(f.calls, texts)
	if f.fail != nil {
		return nil, nil, f.fail
	}
	vecs := make([][]float32, len(texts))
	for i := range texts {
		vecs[i] = []float32{float32(i)}
	}
	return vecs, nil, nil
}

type fakeWriter struct {
	written []Item
}

func (w *fakeWriter) WriteEmbeddings(ctx context.Context, items []Item, vectors [][]float32) error {
	w.written = append(w.written, items...)
	return nil
}

type fakeFailureSink struct {
	failed []Item
}

func (f *fakeFailureSink) RecordFailure(item Item, err error) {
	f.failed = append(f.failed, item)
}

func TestEnqueueFlushesAtBatchSize(t *testing.T) {
	embedder := &fakeEmbedder{}
	writer := &fakeWriter{}
	opt := DefaultOptions()
	opt.BatchSize = 2
	opt.FlushInterval = time.Hour
	p := New(opt, embedder, writer, nil)

	ctx := context.Background()
	_ = p.Enqueue(ctx, Item{Corpus: "c", Source: "s", Path: "a", Text: "alpha"})
	_ = p.Enqueue(ctx, Item{Corpus: "c", Source: "s", Path: "b", Text: "beta"})

	if len(writer.written) != 2 {
		t.Fatalf("expected auto-flush at batch_size, got %d written", len(writer.written))
	}
}

func TestExplicitFlushDrainsRemainder(t *testing.T) {
	embedder := &fakeEmbedder{}
	writer := &fakeWriter{}
	opt := DefaultOptions()
	opt.BatchSize = 10
	p := New(opt, embedder, writer, nil)

	ctx := context.Background()
	_ = p.Enqueue(ctx, Item{Text: "only one"})
	if p.Depth() != 1 {
		t.Fatalf("expected item to remain queued before flush")
	}
	if err := p.Flush(ctx); err != nil {
		t.Fatalf("unexpected flush error: %v", err)
	}
	if len(writer.written) != 1 {
		t.Fatalf("expected 1 item written after flush, got %d", len(writer.written))
	}
	if p.Depth() != 0 {
		t.Fatalf("expected queue empty after flush")
	}
}

func TestPermanentFailureRecordedNotRequeued(t *testing.T) {
	embedder := &fakeEmbedder{fail: &permErr{}}
	writer := &fakeWriter{}
	failures := &fakeFailureSink{}
	opt := DefaultOptions()
	opt.BatchSize = 1
	p := New(opt, embedder, writer, failures)

	ctx := context.Background()
	_ = p.Enqueue(ctx, Item{Text: "bad input"})

	if len(failures.failed) != 1 {
		t.Fatalf("expected 1 recorded failure, got %d", len(failures.failed))
	}
	if p.Depth() != 0 {
		t.Fatalf("permanent failures must not stay queued")
	}
}

type permErr struct{}

func (p *permErr) Error() string { return "permanent failure" }

// slowEmbedder blocks inside EmbedBatch until released, so a test can prove
// Enqueue doesn't wait on an in-flight embedding call.
type slowEmbedder struct {
	release chan struct{}
}

func (f *slowEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, []embedclient.TruncationReport, error) {
	<-f.release
	vecs := make([][]float32, len(texts))
	for i := range texts {
		vecs[i] = []float32{float32(i)}
	}
	return vecs, nil, nil
}

func TestEnqueueDoesNotBlockDuringInFlightFlush(t *testing.T) {
	embedder := &slowEmbedder{release: make(chan struct{})}
	writer := &fakeWriter{}
	opt := DefaultOptions()
	opt.BatchSize = 2
	opt.EnqueueBudget = time.Second
	p := New(opt, embedder, writer, nil)

	ctx := context.Background()
	go func() {
		_ = p.Enqueue(ctx, Item{Text: "first"})
		_ = p.Enqueue(ctx, Item{Text: "second"}) // crosses BatchSize, triggers a Flush that blocks in EmbedBatch
	}()
	time.Sleep(20 * time.Millisecond) // let the second enqueue reach the blocked EmbedBatch call

	// "third" stays below BatchSize, so it only needs the queue lock.
	done := make(chan error, 1)
	go func() { done <- p.Enqueue(ctx, Item{Text: "third"}) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected enqueue error: %v", err)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("Enqueue blocked while a Flush was in flight — lock held across EmbedBatch")
	}
	close(embedder.release)
}
