// Package jobs implements the worker-pool half of the Job Manager (C9): it
// claims queued rows from storage.JobStore and drives them through the
// ingestion orchestrator, bounding concurrency and recovering stale leases.
package jobs

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"docuretrieve/internal/apperr"
	"docuretrieve/internal/ingest"
	"docuretrieve/internal/storage"
)

// Options configures the worker pool.
type Options struct {
	Concurrency           int
	MaxPerTargetPerMinute int
	MaxAttempts           int
	LeaseFor              time.Duration
	PollInterval          time.Duration
	SweepInterval         time.Duration
}

func DefaultOptions() Options {
	return Options{Concurrency: 4, MaxPerTargetPerMinute: 1, MaxAttempts: 3, LeaseFor: 5 * time.Minute, PollInterval: 500 * time.Millisecond, SweepInterval: 30 * time.Second}
}

// Pool claims and runs jobs against an Orchestrator, bounded by a
// golang.org/x/sync/semaphore, matching the teacher's worker-budget idiom.
type Pool struct {
	store *storage.JobStore
	orch  *ingest.Orchestrator
	opt   Options
	sem   *semaphore.Weighted

	mu       sync.Mutex
	lastSeen map[string]time.Time
}

func NewPool(store *storage.JobStore, orch *ingest.Orchestrator, opt Options) *Pool {
	if opt.Concurrency <= 0 {
		opt.Concurrency = 4
	}
	return &Pool{store: store, orch: orch, opt: opt, sem: semaphore.NewWeighted(int64(opt.Concurrency)), lastSeen: make(map[string]time.Time)}
}

// Run drives the claim loop and the stale-lease sweeper until ctx is cancelled.
func (p *Pool) Run(ctx context.Context) {
	go p.sweepLoop(ctx)

	ticker := time.NewTicker(p.opt.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.claimAndDispatch(ctx)
		}
	}
}

func (p *Pool) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(p.opt.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = p.store.RecoverStaleLeases(ctx, p.opt.MaxAttempts)
		}
	}
}

func (p *Pool) claimAndDispatch(ctx context.Context) {
	if !p.sem.TryAcquire(1) {
		return
	}
	job, ok, err := p.store.ClaimNext(ctx, p.opt.LeaseFor)
	if err != nil || !ok {
		p.sem.Release(1)
		return
	}
	if p.throttled(job.Target) {
		// Already claimed (running, leased); leave it be and let the lease
		// expire so RecoverStaleLeases requeues it once the target cools down.
		p.sem.Release(1)
		return
	}

	go func() {
		defer p.sem.Release(1)
		p.run(ctx, job)
	}()
}

func (p *Pool) throttled(target string) bool {
	if p.opt.MaxPerTargetPerMinute <= 0 {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	last, seen := p.lastSeen[target]
	now := time.Now()
	if seen && now.Sub(last) < time.Minute/time.Duration(p.opt.MaxPerTargetPerMinute) {
		return true
	}
	p.lastSeen[target] = now
	return false
}

func (p *Pool) run(ctx context.Context, job storage.Job) {
	corpus, source := splitTarget(job.Target)
	target := ingest.Target{Corpus: corpus, Source: source}
	if q, ok := job.Correlation["query"].(string); ok {
		target.Query = q
	}
	if rawPaths, ok := job.Correlation["paths"].([]any); ok {
		for _, raw := range rawPaths {
			if ps, ok := raw.(string); ok {
				target.Paths = append(target.Paths, ps)
			}
		}
	}
	force, _ := job.Correlation["force"].(bool)
	target.Options = map[string]any{"force": force}

	reporter := progressReporter{store: p.store, id: job.ID}
	_, err := p.orch.Ingest(ctx, ingest.Operation(job.Kind), target, reporter)

	status := storage.JobSucceeded
	msg := ""
	if err != nil {
		status = storage.JobFailed
		msg = err.Error()
		if apperr.KindOf(err) == apperr.Transient && job.Attempt+1 < p.opt.MaxAttempts {
			// leave it to RecoverStaleLeases / a future claim rather than a
			// synchronous retry here; requeue is driven by lease expiry.
			return
		}
	}
	_ = p.store.Finish(ctx, job.ID, status, msg)
}

func splitTarget(target string) (corpus, source string) {
	idx := strings.Index(target, "/")
	if idx < 0 {
		return target, ""
	}
	return target[:idx], target[idx+1:]
}

type progressReporter struct {
	store *storage.JobStore
	id    uuid.UUID
}

func (r progressReporter) ReportProgress(ctx context.Context, fraction float64) error {
	return r.store.UpdateProgress(ctx, r.id, fraction)
}
