// Package ingest implements the Ingestion Orchestrator (C5): it turns an
// (operation, target, corpus, options) request into parsed, embedded,
// persisted chunks, reporting monotonic progress checkpoints on a Job.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"docuretrieve/internal/apperr"
	"docuretrieve/internal/batch"
	"docuretrieve/internal/embedclient"
	"docuretrieve/internal/parse"
	"docuretrieve/internal/storage"
)

// Operation is the ingest verb requested by a caller.
type Operation string

const (
	OpAddSource    Operation = "add_source"
	OpRefresh      Operation = "refresh_source"
	OpRemoveSource Operation = "remove_source"
)

// Target describes what to ingest. Either Paths is populated directly (the
// "narrow tool" path) or a Discovery query resolves it via the planner (the
// "intelligent" path) — both paths converge on the same Materialize/Parse/
// Embed/Finalize pipeline (open question 2).
type Target struct {
	Corpus  string
	Source  string
	Paths   []string // explicit files/URLs, when known up front
	Query   string   // natural-language discovery hint for the planner path
	Options map[string]any
}

// StepKind is the closed set of planner step kinds named in §4.5. A step
// outside this vocabulary fails the job rather than being silently skipped.
type StepKind string

const (
	StepClone StepKind = "clone"
	StepFetch StepKind = "fetch"
	StepParse StepKind = "parse"
	StepLoad  StepKind = "load"
)

// Step is one planner-emitted action, e.g. {kind: "clone", args: {"url": ...}}.
type Step struct {
	Kind StepKind
	Args map[string]any
}

// Plan is the structured discovery result named in §4.5: a sequence of
// steps against one corpus/source, replacing a bare path list so an
// unrecognized step kind fails the job instead of being silently dropped.
type Plan struct {
	Steps      []Step
	Corpus     string
	SourceName string
}

// Discoverer resolves a Target.Query into a Plan when Target.Paths is empty.
// It stands in for the planner client, an out-of-scope collaborator.
type Discoverer interface {
	Discover(ctx context.Context, t Target) (Plan, error)
}

// resolvePlan validates every step against the closed step-kind vocabulary
// and collects the fetchable locations a clone/fetch step names. parse/load
// steps are validated but contribute no path: the orchestrator's own
// Materialize/Parse stages below run unconditionally on whatever paths
// discovery yields.
func resolvePlan(p Plan) ([]string, error) {
	var paths []string
	for _, step := range p.Steps {
		switch step.Kind {
		case StepClone, StepFetch:
			if path, ok := step.Args["path"].(string); ok && path != "" {
				paths = append(paths, path)
			} else if url, ok := step.Args["url"].(string); ok && url != "" {
				paths = append(paths, url)
			}
		case StepParse, StepLoad:
			// downstream of discovery; validated for vocabulary, not path-bearing
		default:
			return nil, apperr.New(apperr.BadRequest, "ingest: unknown plan step kind: "+string(step.Kind))
		}
	}
	return paths, nil
}

// Materializer fetches the raw bytes behind one resolved path.
type Materializer interface {
	Fetch(ctx context.Context, path string) ([]byte, error)
}

// ProgressReporter receives monotonic progress checkpoints, typically backed
// by storage.JobStore.UpdateProgress.
type ProgressReporter interface {
	ReportProgress(ctx context.Context, fraction float64) error
}

// Result summarizes one ingest run.
type Result struct {
	SourcesTouched int
	ChunksWritten  int
	ChunksFailed   int
	Errors         []string
}

// Orchestrator wires discovery, materialization, parsing, batching, and
// storage into the single ingest() operation described in §4.5.
type Orchestrator struct {
	discoverer Discoverer
	materials  Materializer
	embedder   *embedclient.Client
	gateway    *storage.Gateway
	batchOpt   batch.Options
}

func New(discoverer Discoverer, materials Materializer, embedder *embedclient.Client, gateway *storage.Gateway, batchOpt batch.Options) *Orchestrator {
	return &Orchestrator{discoverer: discoverer, materials: materials, embedder: embedder, gateway: gateway, batchOpt: batchOpt}
}

// Ingest runs one ingestion to completion, reporting checkpoints at
// 0.1 (discovery done), 0.3 (materialization done), 0.6 (parsed), 0.9
// (embedded+written), 1.0 (finalized). Failure policy: no rollback except
// for remove_source, which is atomic via storage.DeleteSource.
func (o *Orchestrator) Ingest(ctx context.Context, op Operation, target Target, progress ProgressReporter) (Result, error) {
	if op == OpRemoveSource {
		mode := storage.DeleteSoft
		force, _ := target.Options["force"].(bool)
		if force {
			mode = storage.DeleteHard
		}
		if err := o.gateway.DeleteSource(ctx, target.Corpus, target.Source, mode, force); err != nil {
			return Result{}, err
		}
		reportBest(ctx, progress, 1.0)
		return Result{SourcesTouched: 1}, nil
	}

	paths := target.Paths
	if len(paths) == 0 {
		if o.discoverer == nil {
			return Result{}, apperr.New(apperr.BadRequest, "target has no explicit paths and no discoverer is configured")
		}
		plan, err := o.discoverer.Discover(ctx, target)
		if err != nil {
			return Result{}, apperr.Wrap(apperr.Transient, err, "ingest: discovery failed")
		}
		resolved, err := resolvePlan(plan)
		if err != nil {
			return Result{}, err
		}
		paths = resolved
	}
	reportBest(ctx, progress, 0.1)

	type fetched struct {
		path string
		raw  []byte
	}
	var materials []fetched
	for _, p := range paths {
		raw, err := o.materials.Fetch(ctx, p)
		if err != nil {
			// materialization failures are per-path, not fatal to the run
			continue
		}
		materials = append(materials, fetched{path: p, raw: raw})
	}
	reportBest(ctx, progress, 0.3)

	var chunks []parse.Chunk
	for _, m := range materials {
		format := parse.DetectFormat(m.path)
		parser := parse.ForFormat(format)
		cs, err := parser.Parse(m.path, m.raw)
		if err != nil {
			continue
		}
		chunks = append(chunks, cs...)
	}
	reportBest(ctx, progress, 0.6)

	result := Result{SourcesTouched: 1}
	writer := &gatewayWriter{gateway: o.gateway}
	failures := &failureLog{}
	proc := batch.New(o.batchOpt, embedderAdapter{o.embedder}, writer, failures)

	for i, c := range chunks {
		md := c.Metadata
		if md == nil {
			md = map[string]any{}
		}
		item := batch.Item{
			Corpus:   target.Corpus,
			Source:   target.Source,
			Path:     fmt.Sprintf("%s#%d", c.Path, i),
			Text:     c.Content,
			Metadata: md,
		}
		if err := proc.Enqueue(ctx, item); err != nil {
			result.ChunksFailed++
			result.Errors = append(result.Errors, err.Error())
		}
	}
	if err := proc.Flush(ctx); err != nil {
		result.Errors = append(result.Errors, err.Error())
	}
	result.ChunksWritten = writer.written
	result.ChunksFailed += len(failures.items)
	for _, f := range failures.items {
		result.Errors = append(result.Errors, f.err.Error())
	}
	reportBest(ctx, progress, 0.9)

	if err := o.gateway.RefreshSourceStats(ctx, target.Corpus, target.Source); err != nil {
		return result, err
	}
	reportBest(ctx, progress, 1.0)
	return result, nil
}

func reportBest(ctx context.Context, p ProgressReporter, fraction float64) {
	if p == nil {
		return
	}
	_ = p.ReportProgress(ctx, fraction)
}

// chunkID derives a stable document id from (corpus, source, path) so
// repeated ingests of the same location upsert rather than duplicate.
func chunkID(corpus, source, path string) string {
	sum := sha256.Sum256([]byte(corpus + "\x00" + source + "\x00" + path))
	return hex.EncodeToString(sum[:16])
}

type embedderAdapter struct{ c *embedclient.Client }

func (e embedderAdapter) EmbedBatch(ctx context.Context, texts []string) ([][]float32, []embedclient.TruncationReport, error) {
	return e.c.EmbedBatch(ctx, texts)
}

// gatewayWriter adapts storage.Gateway to batch.Writer, deriving each
// chunk's persisted id from (corpus, source, path) for idempotent upsert.
// Each chunk is upserted by its own statement with no enclosing transaction,
// so a failure part-way through leaves the earlier chunks of the batch written.
type gatewayWriter struct {
	gateway *storage.Gateway
	written int
}

func (w *gatewayWriter) WriteEmbeddings(ctx context.Context, items []batch.Item, vectors [][]float32) error {
	for i, it := range items {
		c := storage.Chunk{
			ID:         chunkID(it.Corpus, it.Source, it.Path),
			Corpus:     it.Corpus,
			Source:     it.Source,
			Path:       it.Path,
			Content:    it.Text,
			Metadata:   it.Metadata,
			Embedding:  vectors[i],
			TokenCount: len(it.Text) / 4,
		}
		if err := w.gateway.InsertOrUpdateChunk(ctx, c); err != nil {
			return err
		}
		w.written++
	}
	return nil
}

type failedItem struct {
	item batch.Item
	err  error
}

type failureLog struct{ items []failedItem }

func (f *failureLog) RecordFailure(item batch.Item, err error) {
	f.items = append(f.items, failedItem{item: item, err: err})
}
