// Package batch implements the Batch Processor (C3): a single-producer/
// multi-consumer queue of embedding requests that flushes on size, time, or
// explicit request, with backpressure and retry of partial failures.
package batch

import (
	"context"
	"sync"
	"time"

	"docuretrieve/internal/apperr"
	"docuretrieve/internal/embedclient"
)

// Item is one queued embedding request, tagged with its destination.
type Item struct {
	Corpus   string
	Source   string
	Path     string
	Text     string
	Metadata map[string]any
	backoff  int
}

// Embedder is the subset of embedclient.Client the processor needs.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, []embedclient.TruncationReport, error)
}

// Writer persists embedded items; called once per flushed batch. The
// processor opens no transaction around the call; a failed write requeues
// the whole batch.
type Writer interface {
	WriteEmbeddings(ctx context.Context, items []Item, vectors [][]float32) error
}

// FailureSink receives items that permanently failed embedding or writing so
// the owning job can record them in its error log.
type FailureSink interface {
	RecordFailure(item Item, err error)
}

// Options configures a Processor.
type Options struct {
	BatchSize     int
	FlushInterval time.Duration
	HighWatermark int
	EnqueueBudget time.Duration
	MaxBackoff    int
}

func DefaultOptions() Options {
	return Options{BatchSize: 100, FlushInterval: time.Second, HighWatermark: 1000, EnqueueBudget: 5 * time.Second, MaxBackoff: 3}
}

// Processor owns the queue and flush loop.
type Processor struct {
	opt      Options
	embedder Embedder
	writer   Writer
	failures FailureSink

	mu       sync.Mutex
	queue    []Item
	queuedAt time.Time
	flushCh  chan chan error
}

func New(opt Options, embedder Embedder, writer Writer, failures FailureSink) *Processor {
	return &Processor{opt: opt, embedder: embedder, writer: writer, failures: failures, flushCh: make(chan chan error, 1)}
}

// Run drives the periodic flush loop until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) {
	ticker := time.NewTicker(p.opt.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = p.Flush(context.Background())
			return
		case <-ticker.C:
			p.mu.Lock()
			shouldFlush := len(p.queue) > 0 && time.Since(p.queuedAt) > p.opt.FlushInterval
			p.mu.Unlock()
			if shouldFlush {
				_ = p.Flush(ctx)
			}
		case reply := <-p.flushCh:
			reply <- p.Flush(ctx)
		}
	}
}

// Enqueue adds an item to the queue, blocking up to EnqueueBudget while the
// queue holds HighWatermark items or more, then returning a QueueFull error.
// If ctx ends first, Enqueue returns a Cancelled error instead.
func (p *Processor) Enqueue(ctx context.Context, item Item) error {
	deadline := time.Now().Add(p.opt.EnqueueBudget)
	for {
		p.mu.Lock()
		if len(p.queue) < p.opt.HighWatermark {
			if len(p.queue) == 0 {
				p.queuedAt = time.Now()
			}
			p.queue = append(p.queue, item)
			full := len(p.queue) >= p.opt.BatchSize
			p.mu.Unlock()
			if full {
				_ = p.Flush(ctx)
			}
			return nil
		}
		p.mu.Unlock()

		if time.Now().After(deadline) {
			return apperr.New(apperr.Internal, "QueueFull")
		}
		select {
		case <-ctx.Done():
			return apperr.Wrap(apperr.Cancelled, ctx.Err(), "enqueue cancelled")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// Flush drains up to BatchSize items and processes them. The queue lock is
// held only to drain/requeue the in-memory slice; the embedding call and the
// write are both made with the lock released, so a slow EmbedBatch/
// WriteEmbeddings never blocks concurrent Enqueue callers (§5: no lock held
// across a suspension point). An Enqueue whose item fills a batch runs that
// Flush itself before returning.
func (p *Processor) Flush(ctx context.Context) error {
	batch, ok := p.drain()
	if !ok {
		return nil
	}
	return p.process(ctx, batch)
}

// drain removes up to BatchSize items from the front of the queue.
func (p *Processor) drain() ([]Item, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return nil, false
	}
	n := len(p.queue)
	if n > p.opt.BatchSize {
		n = p.opt.BatchSize
	}
	batch := p.queue[:n]
	p.queue = p.queue[n:]
	return batch, true
}

// process embeds and writes one already-drained batch. It must not be
// called while holding p.mu.
func (p *Processor) process(ctx context.Context, batch []Item) error {
	texts := make([]string, len(batch))
	for i, it := range batch {
		texts[i] = it.Text
	}

	vectors, _, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		if apperr.KindOf(err) == apperr.Transient {
			p.requeueWithBackoff(batch)
			return err
		}
		for _, it := range batch {
			if p.failures != nil {
				p.failures.RecordFailure(it, err)
			}
		}
		return err
	}

	if err := p.writer.WriteEmbeddings(ctx, batch, vectors); err != nil {
		p.requeueWithBackoff(batch)
		return err
	}
	return nil
}

// requeueWithBackoff reacquires the lock only for the brief in-memory queue
// splice, not for the I/O that produced the failure.
func (p *Processor) requeueWithBackoff(batch []Item) {
	var retry []Item
	for _, it := range batch {
		it.backoff++
		if it.backoff > p.opt.MaxBackoff {
			if p.failures != nil {
				p.failures.RecordFailure(it, apperr.New(apperr.Permanent, "exceeded batch retry budget"))
			}
			continue
		}
		retry = append(retry, it)
	}
	p.mu.Lock()
	p.queue = append(retry, p.queue...)
	p.mu.Unlock()
}

// Depth reports the current queue length, for metrics/backpressure decisions.
func (p *Processor) Depth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}
