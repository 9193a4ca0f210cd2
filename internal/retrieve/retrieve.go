// Package retrieve implements the Retrieval Engine (C6): validating a search
// request, embedding the query, pulling a candidate pool from the storage
// gateway, and assembling a bounded, deterministically ordered result set.
package retrieve

import (
	"context"

	"docuretrieve/internal/apperr"
	"docuretrieve/internal/embedclient"
	"docuretrieve/internal/storage"
)

// Request is one search(...) call as described in §4.6.
type Request struct {
	Corpus            string
	MetadataPredicate map[string]string
	QueryText         string
	Limit             int
	MaxCandidates     int // 0 uses the gateway's configured default
}

// Hit is one ranked result.
type Hit struct {
	ID         string
	Source     string
	Path       string
	Content    string
	Preview    string
	Metadata   map[string]any
	Similarity float64
}

const previewChars = 280

func preview(content string) string {
	if len(content) <= previewChars {
		return content
	}
	return content[:previewChars] + "…"
}

// Response is the full result of a search call.
type Response struct {
	Hits       []Hit
	Truncated  bool // true when the candidate pool was clamped before ranking
	Candidates int
}

// Embedder is the subset of embedclient.Client needed to vectorize a query.
type Embedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, *embedclient.TruncationReport, error)
}

// VectorSearcher is the subset of storage.Gateway needed to fetch candidates.
type VectorSearcher interface {
	VectorSearch(ctx context.Context, corpus string, metadataPredicate map[string]string, queryEmbedding []float32, k, poolSize int) ([]storage.VectorHit, error)
}

// Engine implements search(...).
type Engine struct {
	embedder Embedder
	gateway  VectorSearcher
}

func New(embedder Embedder, gateway VectorSearcher) *Engine {
	return &Engine{embedder: embedder, gateway: gateway}
}

const (
	minLimit            = 1
	maxLimit            = 20
	candidatePoolFactor = 4
	candidatePoolFloor  = 20
)

// Search validates the request, embeds the query text, computes the
// candidate pool size M = min(max(4*limit, 20), max_candidates), and
// returns the top `limit` hits in deterministic order.
func (e *Engine) Search(ctx context.Context, req Request) (Response, error) {
	if req.QueryText == "" {
		return Response{}, apperr.New(apperr.BadRequest, "query_text must not be empty")
	}
	if req.Limit < minLimit || req.Limit > maxLimit {
		return Response{}, apperr.New(apperr.BadRequest, "limit must be between 1 and 20")
	}

	pool := req.Limit * candidatePoolFactor
	if pool < candidatePoolFloor {
		pool = candidatePoolFloor
	}
	truncated := false
	if req.MaxCandidates > 0 && pool > req.MaxCandidates {
		pool = req.MaxCandidates
		truncated = true
	}

	vec, _, err := e.embedder.EmbedOne(ctx, req.QueryText)
	if apperr.Is(err, apperr.Transient) {
		// one extra attempt at this layer, independent of embedclient's own
		// internal retry/backoff, before surfacing a stable Upstream failure
		vec, _, err = e.embedder.EmbedOne(ctx, req.QueryText)
	}
	if err != nil {
		return Response{}, apperr.Wrap(apperr.Upstream, err, "retrieve: embedding failed")
	}

	vecHits, err := e.gateway.VectorSearch(ctx, req.Corpus, req.MetadataPredicate, vec, req.Limit, pool)
	if err != nil {
		return Response{}, apperr.Wrap(apperr.Storage, err, "retrieve: vector search failed")
	}

	hits := make([]Hit, 0, len(vecHits))
	for _, h := range vecHits {
		hits = append(hits, Hit{
			ID:         h.Chunk.ID,
			Source:     h.Chunk.Source,
			Path:       h.Chunk.Path,
			Content:    h.Chunk.Content,
			Preview:    preview(h.Chunk.Content),
			Metadata:   h.Chunk.Metadata,
			Similarity: h.Similarity,
		})
	}
	return Response{Hits: hits, Truncated: truncated, Candidates: len(vecHits)}, nil
}
