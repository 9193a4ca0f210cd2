// Package embedclient implements the Embedding Client (C2): single and
// batched text->vector calls against an external embedding service, with
// truncation, dual-bucket rate limiting, and retry/backoff.
package embedclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"docuretrieve/internal/apperr"
)

const defaultMaxChars = 30000

// Config configures a Client.
type Config struct {
	BaseURL    string
	Model      string
	APIKey     string
	Dimensions int
	Timeout    time.Duration
	MaxChars   int
	BatchSize  int
	MaxAttempts int
	RPM        int
	TPM        int
}

// TruncationReport is returned alongside a call when the input text was cut;
// truncation is explicit and reported, never silent (§4.2).
type TruncationReport struct {
	Index         int
	OriginalChars int
	KeptChars     int
}

// Client is the concrete C2 implementation over an OpenAI-compatible
// /v1/embeddings endpoint.
type Client struct {
	cfg  Config
	http *http.Client
	lim  *limiter
}

func New(cfg Config, httpClient *http.Client) *Client {
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = defaultMaxChars
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 16
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		cfg:  cfg,
		http: httpClient,
		lim:  newLimiter(cfg.RPM, cfg.TPM, nil),
	}
}

// Dimension returns the configured embedding dimension D.
func (c *Client) Dimension() int { return c.cfg.Dimensions }

// EmbedOne embeds a single text, truncating to MaxChars first.
func (c *Client) EmbedOne(ctx context.Context, text string) ([]float32, *TruncationReport, error) {
	truncated, report := truncate(text, c.cfg.MaxChars, 0)
	vecs, err := c.embedBatchRaw(ctx, []string{truncated})
	if err != nil {
		return nil, nil, err
	}
	return vecs[0], report, nil
}

// EmbedBatch embeds up to BatchSize texts, order preserving.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, []TruncationReport, error) {
	if len(texts) == 0 {
		return nil, nil, nil
	}
	if len(texts) > c.cfg.BatchSize {
		return nil, nil, apperr.New(apperr.BadRequest, fmt.Sprintf("batch of %d exceeds batch_size %d", len(texts), c.cfg.BatchSize))
	}
	truncatedTexts := make([]string, len(texts))
	var reports []TruncationReport
	for i, t := range texts {
		tt, rep := truncate(t, c.cfg.MaxChars, i)
		truncatedTexts[i] = tt
		if rep != nil {
			reports = append(reports, *rep)
		}
	}
	vecs, err := c.embedBatchRaw(ctx, truncatedTexts)
	if err != nil {
		return nil, nil, err
	}
	return vecs, reports, nil
}

func truncate(text string, maxChars, index int) (string, *TruncationReport) {
	if len(text) <= maxChars {
		return text, nil
	}
	return text[:maxChars], &TruncationReport{Index: index, OriginalChars: len(text), KeptChars: maxChars}
}

// embedBatchRaw applies rate limiting and retry policy, then issues the HTTP call.
func (c *Client) embedBatchRaw(ctx context.Context, texts []string) ([][]float32, error) {
	tokenCost := estimateTokens(texts)
	if err := c.lim.Allow(ctx, tokenCost, 10*time.Second); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		vecs, err := c.doRequest(ctx, texts)
		if err == nil {
			return vecs, nil
		}
		lastErr = err
		if apperr.KindOf(err) != apperr.Transient {
			return nil, err
		}
		backoff := time.Duration(math.Pow(2, float64(attempt))) * 200 * time.Millisecond
		jitter := time.Duration(rand.Int63n(int64(backoff/2 + 1)))
		select {
		case <-ctx.Done():
			return nil, apperr.Wrap(apperr.Cancelled, ctx.Err(), "embed call cancelled during backoff")
		case <-time.After(backoff + jitter):
		}
	}
	return nil, apperr.Wrap(apperr.Transient, lastErr, "embed call exhausted retries")
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (c *Client) doRequest(ctx context.Context, texts []string) ([][]float32, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(embedRequest{Model: c.cfg.Model, Input: texts})
	if err != nil {
		return nil, apperr.Wrap(apperr.Permanent, err, "marshal embed request")
	}
	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/v1/embeddings"
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "build embed request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, err, "embed request failed")
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, apperr.New(apperr.Transient, fmt.Sprintf("embedding service status %d: %s", resp.StatusCode, string(respBody)))
	}
	if resp.StatusCode >= 400 {
		return nil, apperr.New(apperr.Permanent, fmt.Sprintf("embedding service status %d: %s", resp.StatusCode, string(respBody)))
	}

	var parsed embedResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, apperr.Wrap(apperr.Permanent, err, "parse embed response")
	}
	if len(parsed.Data) != len(texts) {
		return nil, apperr.New(apperr.Permanent, fmt.Sprintf("embedding count mismatch: got %d want %d", len(parsed.Data), len(texts)))
	}
	out := make([][]float32, len(parsed.Data))
	for i, d := range parsed.Data {
		if c.cfg.Dimensions > 0 && len(d.Embedding) != c.cfg.Dimensions {
			return nil, apperr.New(apperr.Permanent, fmt.Sprintf("embedding dimension mismatch: got %d want %d", len(d.Embedding), c.cfg.Dimensions))
		}
		out[i] = d.Embedding
	}
	return out, nil
}

// estimateTokens approximates token count as chars/4, matching the chunker's
// token-length heuristic elsewhere in this codebase.
func estimateTokens(texts []string) int {
	total := 0
	for _, t := range texts {
		total += len(t) / 4
	}
	return total
}

// CheckReachability pings the embedding service with a minimal input.
func (c *Client) CheckReachability(ctx context.Context) error {
	_, err := c.doRequest(ctx, []string{"ping"})
	return err
}
