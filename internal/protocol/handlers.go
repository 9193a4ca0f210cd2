// Package protocol implements the Protocol Layer (C8): the HTTP surface
// (/mcp, /ingest/intelligent, /ingest/jobs/{id}, /health), JSON-RPC 2.0
// dispatch, header validation, and session lifecycle.
package protocol

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"docuretrieve/internal/apperr"
	"docuretrieve/internal/ingest"
	"docuretrieve/internal/retrieve"
	"docuretrieve/internal/storage"
	"docuretrieve/internal/svcconfig"
	"docuretrieve/internal/toolregistry"
)

// Server bundles the dependencies the protocol layer dispatches into. It
// never runs ingestion itself — it only enqueues jobs; internal/jobs.Pool,
// started separately in cmd/docsvcd, is the sole job executor.
type Server struct {
	cfg      svcconfig.MCPConfig
	tools    *toolregistry.Registry
	engine   *retrieve.Engine
	jobs     *storage.JobStore
	gateway  *storage.Gateway
	sessions *SessionManager
}

func NewServer(cfg svcconfig.MCPConfig, tools *toolregistry.Registry, engine *retrieve.Engine, jobs *storage.JobStore, gateway *storage.Gateway, sessTTL time.Duration) *Server {
	sessions := NewSessionManager(sessTTL)
	go sessions.RunSweeper(time.Minute, nil)
	return &Server{cfg: cfg, tools: tools, engine: engine, jobs: jobs, gateway: gateway, sessions: sessions}
}

// Mux builds the full HTTP handler tree for docsvcd.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/mcp", s.handleMCP)
	mux.HandleFunc("/ingest/intelligent", s.handleIngestIntelligent)
	mux.HandleFunc("/ingest/jobs/", s.handleJobStatus)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if s.gateway != nil {
		status = s.gateway.VectorIndexStatus()
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "vector_index": status})
}

// handleMCP dispatches POST (JSON-RPC call), GET (SSE, if enabled), and
// DELETE (session termination) per §4.8.
func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	if !s.validateOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}
	if !s.validateProtocolVersion(r) {
		http.Error(w, "unsupported MCP-Protocol-Version", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodPost:
		s.handleRPC(w, r)
	case http.MethodGet:
		if !s.cfg.EnableSSE {
			http.Error(w, "SSE disabled", http.StatusMethodNotAllowed)
			return
		}
		s.handleSSE(w, r)
	case http.MethodDelete:
		id := r.Header.Get("Mcp-Session-Id")
		if id != "" {
			s.sessions.Delete(id)
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.Header().Set("Allow", "GET, POST, DELETE")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) validateOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return !s.cfg.RequireOriginHeader
	}
	if s.cfg.LocalhostOnly && !isLocalOrigin(origin) {
		return false
	}
	if !s.cfg.StrictOriginValidation {
		return true
	}
	if len(s.cfg.AllowedOrigins) == 0 {
		return isLocalOrigin(origin)
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == origin {
			return true
		}
	}
	return false
}

func isLocalOrigin(origin string) bool {
	return strings.Contains(origin, "localhost") || strings.Contains(origin, "127.0.0.1")
}

func (s *Server) validateProtocolVersion(r *http.Request) bool {
	v := r.Header.Get("MCP-Protocol-Version")
	if v == "" {
		return false
	}
	for _, accepted := range s.cfg.AcceptedProtocolVersions {
		if accepted == v {
			return true
		}
	}
	return false
}

func (s *Server) sessionFor(w http.ResponseWriter, r *http.Request) *Session {
	id := r.Header.Get("Mcp-Session-Id")
	if id != "" {
		if sess, ok := s.sessions.Touch(id); ok {
			w.Header().Set("Mcp-Session-Id", sess.ID)
			return sess
		}
	}
	sess := s.sessions.Create()
	w.Header().Set("Mcp-Session-Id", sess.ID)
	return sess
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	s.sessionFor(w, r)

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusOK, errorResponse(nil, codeParseError, "invalid JSON"))
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		writeJSON(w, http.StatusOK, errorResponse(req.ID, codeInvalidRequest, "jsonrpc must be \"2.0\" and method required"))
		return
	}

	switch req.Method {
	case "initialize":
		writeJSON(w, http.StatusOK, resultResponse(req.ID, map[string]any{
			"protocolVersion": "2025-06-18",
			"serverInfo":      map[string]any{"name": "docsvcd", "version": "1.0.0"},
			"capabilities":    map[string]any{"tools": map[string]any{}},
		}))
	case "tools/list":
		writeJSON(w, http.StatusOK, resultResponse(req.ID, map[string]any{"tools": s.tools.List()}))
	case "tools/call":
		s.handleToolsCall(w, r.Context(), req)
	default:
		writeJSON(w, http.StatusOK, errorResponse(req.ID, codeMethodNotFound, "unknown method: "+req.Method))
	}
}

type toolCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

func (s *Server) handleToolsCall(w http.ResponseWriter, ctx context.Context, req Request) {
	var params toolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		writeJSON(w, http.StatusOK, errorResponse(req.ID, codeInvalidParams, "invalid tools/call params"))
		return
	}
	tool, err := s.tools.Get(params.Name)
	if err != nil {
		writeJSON(w, http.StatusOK, errorResponse(req.ID, apperr.KindOf(err).JSONRPCCode(), err.Error()))
		return
	}

	result, err := s.dispatchTool(ctx, tool, params.Arguments)
	if err != nil {
		writeJSON(w, http.StatusOK, errorResponse(req.ID, apperr.KindOf(err).JSONRPCCode(), err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, resultResponse(req.ID, result))
}

// dispatchTool routes by the tool's category (not its literal name, since
// every corpus gets its own `{corpus}_query`/`add_{corpus}`/... tool names
// per §6) to the retrieval or ingestion component. Arguments are not checked
// against the tool's InputSchema; each handler reads the fields it uses and
// rejects only the missing or malformed ones it checks itself.
func (s *Server) dispatchTool(ctx context.Context, tool toolregistry.Tool, args map[string]any) (any, error) {
	switch tool.Category {
	case toolregistry.CategoryQuery:
		return s.callSearch(ctx, tool.Corpus, args)
	case toolregistry.CategoryAdd, toolregistry.CategoryRemove:
		return s.callIngest(ctx, tool.Corpus, tool.Category, args)
	case toolregistry.CategoryList:
		return s.callListSources(ctx, tool.Corpus, args)
	case toolregistry.CategoryStatus:
		return s.callJobStatus(ctx, args)
	default:
		return nil, apperr.New(apperr.ToolNotFound, "no handler wired for tool: "+tool.Name)
	}
}

func (s *Server) callSearch(ctx context.Context, corpus string, args map[string]any) (any, error) {
	query, _ := args["query"].(string)
	limit := 10
	if l, ok := args["limit"].(float64); ok {
		limit = int(l)
	}
	predicate := map[string]string{}
	if raw, ok := args["predicate"].(map[string]any); ok {
		for k, v := range raw {
			predicate[k] = toString(v)
		}
	}
	resp, err := s.engine.Search(ctx, retrieve.Request{Corpus: corpus, MetadataPredicate: predicate, QueryText: query, Limit: limit})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// callIngest only enqueues the job; internal/jobs.Pool is the sole executor
// (see cmd/docsvcd/main.go), so the job row must stay queued until a pool
// worker claims it — running ingest.Orchestrator here too would execute the
// same job twice and skip the queued->running transition.
func (s *Server) callIngest(ctx context.Context, corpus string, category toolregistry.Category, args map[string]any) (any, error) {
	source, _ := args["source"].(string)
	if corpus == "" || source == "" {
		return nil, apperr.New(apperr.BadRequest, "corpus and source are required")
	}
	var paths []string
	if raw, ok := args["paths"].([]any); ok {
		for _, p := range raw {
			if ps, ok := p.(string); ok {
				paths = append(paths, ps)
			}
		}
	}
	force, _ := args["force"].(bool)
	query, _ := args["query"].(string)

	var op ingest.Operation
	switch category {
	case toolregistry.CategoryAdd:
		op = ingest.OpAddSource
	case toolregistry.CategoryRemove:
		op = ingest.OpRemoveSource
	}

	correlation := map[string]any{"corpus": corpus, "source": source, "force": force}
	if len(paths) > 0 {
		correlation["paths"] = paths
	}
	if query != "" {
		correlation["query"] = query
	}
	jobID, err := s.jobs.Enqueue(ctx, string(op), corpus+"/"+source, correlation)
	if err != nil {
		return nil, err
	}
	return map[string]any{"job_id": jobID.String(), "status": "queued"}, nil
}

func (s *Server) callListSources(ctx context.Context, corpus string, args map[string]any) (any, error) {
	page := 0
	if p, ok := args["page"].(float64); ok {
		page = int(p)
	}
	sources, err := s.gateway.ListSources(ctx, corpus, page, 50)
	if err != nil {
		return nil, err
	}
	return map[string]any{"sources": sources}, nil
}

func (s *Server) callJobStatus(ctx context.Context, args map[string]any) (any, error) {
	idStr, _ := args["job_id"].(string)
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, apperr.New(apperr.BadRequest, "job_id must be a UUID")
	}
	job, err := s.jobs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return job, nil
}

// handleIngestIntelligent is the planner-driven discovery path (open
// question 2): same orchestrator, a query instead of explicit paths.
func (s *Server) handleIngestIntelligent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Corpus string `json:"corpus"`
		Source string `json:"source"`
		Query  string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	jobID, err := s.jobs.Enqueue(r.Context(), string(ingest.OpAddSource), body.Corpus+"/"+body.Source, map[string]any{
		"corpus": body.Corpus, "source": body.Source, "query": body.Query,
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"job_id": jobID.String()})
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	idStr := strings.TrimPrefix(r.URL.Path, "/ingest/jobs/")
	id, err := uuid.Parse(idStr)
	if err != nil {
		http.Error(w, "invalid job id", http.StatusBadRequest)
		return
	}
	job, err := s.jobs.Get(r.Context(), id)
	if err != nil {
		code := http.StatusInternalServerError
		if apperr.KindOf(err) == apperr.NotFound {
			code = http.StatusNotFound
		}
		writeJSON(w, code, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleSSE serves the event stream when MCP_ENABLE_SSE is set; this
// codebase has no server-initiated event source, so the stream only
// carries keep-alive comments until the client disconnects.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			w.Write([]byte(": keep-alive\n\n"))
			flusher.Flush()
		}
	}
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
