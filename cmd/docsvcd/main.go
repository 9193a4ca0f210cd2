// Command docsvcd serves multi-corpus semantic documentation retrieval over
// MCP: ingest sources, embed and store chunks, and answer each corpus's
// `{corpus}_query` tool calls.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"docuretrieve/internal/batch"
	"docuretrieve/internal/embedclient"
	"docuretrieve/internal/ingest"
	"docuretrieve/internal/jobs"
	"docuretrieve/internal/obsinit"
	"docuretrieve/internal/observability"
	"docuretrieve/internal/protocol"
	"docuretrieve/internal/retrieve"
	"docuretrieve/internal/storage"
	"docuretrieve/internal/svcconfig"
	"docuretrieve/internal/toolregistry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := svcconfig.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	observability.InitLogger(cfg.Log.Path, cfg.Log.Level)
	log.Info().Str("config", cfg.String()).Msg("docsvcd starting")

	if cfg.Obs.OTLPEndpoint != "" {
		shutdown, err := obsinit.Init(ctx, cfg.Obs.OTLPEndpoint, cfg.Obs.ServiceName)
		if err != nil {
			log.Warn().Err(err).Msg("otel init failed, continuing without observability")
		} else {
			defer func() { _ = shutdown(context.Background()) }()
		}
	}

	pool, err := storage.OpenPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open storage pool")
	}
	defer pool.Close()

	gateway, err := storage.New(ctx, pool, cfg.Vector.Dimensions,
		storage.WithMetric(cfg.Vector.Metric),
		storage.WithIndexEnabled(cfg.Vector.IndexEnabled),
		storage.WithMaxCandidates(cfg.Vector.MaxCandidates),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to bootstrap storage gateway")
	}

	jobStore, err := storage.NewJobStore(ctx, pool)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to bootstrap job store")
	}

	httpClient := observability.NewHTTPClient(nil)
	embedder := embedclient.New(embedclient.Config{
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		APIKey:     cfg.Embedding.APIKey,
		Dimensions: cfg.Embedding.Dimensions,
		Timeout:    cfg.Embedding.Timeout,
		BatchSize:  cfg.Batch.Size,
		RPM:        cfg.RateLimit.RPM,
		TPM:        cfg.RateLimit.TPM,
	}, httpClient)

	registry, err := toolregistry.Load(cfg.ToolsConfigPath, cfg.ToolsConfigInline, cfg.SupportedDocTypes)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load tool registry")
	}

	batchOpt := batch.Options{
		BatchSize:     cfg.Batch.Size,
		FlushInterval: cfg.Batch.FlushInterval,
		HighWatermark: cfg.Batch.HighWatermark,
		EnqueueBudget: cfg.Batch.EnqueueBudget,
		MaxBackoff:    3,
	}
	orchestrator := ingest.New(nil, httpFetcher{client: httpClient}, embedder, gateway, batchOpt)
	engine := retrieve.New(embedder, gateway)

	pool9 := jobs.NewPool(jobStore, orchestrator, jobs.Options{
		Concurrency:           cfg.Worker.Concurrency,
		MaxPerTargetPerMinute: cfg.Worker.MaxPerTargetPerMinute,
		MaxAttempts:           cfg.Worker.MaxAttempts,
		LeaseFor:              time.Duration(cfg.Worker.LeaseSeconds) * time.Second,
		PollInterval:          500 * time.Millisecond,
		SweepInterval:         30 * time.Second,
	})
	go pool9.Run(ctx)

	server := protocol.NewServer(cfg.MCP, registry, engine, jobStore, gateway, cfg.Sess.TTL)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           server.Mux(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", httpSrv.Addr).Msg("docsvcd listening")
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("http server failed")
	}
}

// httpFetcher materializes a path as an HTTP GET; it is the only
// Materializer docsvcd uses, whatever cfg.Obj says.
type httpFetcher struct {
	client *http.Client
}

func (f httpFetcher) Fetch(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}
