// Package mcpserver implements the Model Context Protocol front end
// (component C10): it registers the eight external tools the spec defines
// over the shared vector store, job manager, and orchestrator, translating
// typed tool input into calls against those components and their errors
// back into MCP error codes.
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"local-search-mcp/internal/config"
	"local-search-mcp/internal/jobs"
	"local-search-mcp/internal/paths"
	"local-search-mcp/internal/pipeline"
	"local-search-mcp/internal/recommend"
	"local-search-mcp/internal/store"
	"local-search-mcp/pkg/version"
)

// Server is the MCP server bridging AI clients to the search engine.
type Server struct {
	mcp *mcp.Server

	vectors   *store.VectorStore
	recoRepo  *store.RecommendationRepository
	recommend *recommend.Engine
	learner   *recommend.Learner
	jobMgr    *jobs.Manager
	orch      *pipeline.Orchestrator
	roots     *paths.Roots
	cfg       *config.Config
	logger    *slog.Logger

	mu         sync.RWMutex
	session    *mcp.ServerSession
	rootCtx    context.Context
	cancelRoot context.CancelFunc
}

// Deps bundles every component a Server needs. All fields except Logger are
// required; a nil Logger makes NewServer use slog.Default().
type Deps struct {
	Vectors      *store.VectorStore
	RecoRepo     *store.RecommendationRepository
	Recommender  *recommend.Engine
	Learner      *recommend.Learner
	Jobs         *jobs.Manager
	Orchestrator *pipeline.Orchestrator
	Roots        *paths.Roots
	Config       *config.Config
	Logger       *slog.Logger
}

// NewServer builds the MCP server and registers its tool set.
func NewServer(d Deps) (*Server, error) {
	if d.Vectors == nil || d.RecoRepo == nil || d.Recommender == nil || d.Learner == nil ||
		d.Jobs == nil || d.Orchestrator == nil || d.Roots == nil || d.Config == nil {
		return nil, errors.New("mcpserver: all Deps fields are required")
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		vectors:   d.Vectors,
		recoRepo:  d.RecoRepo,
		recommend: d.Recommender,
		learner:   d.Learner,
		jobMgr:    d.Jobs,
		orch:      d.Orchestrator,
		roots:     d.Roots,
		cfg:       d.Config,
		logger:    logger,
	}

	s.mcp = mcp.NewServer(&mcp.Implementation{
		Name:    "local-search-mcp",
		Version: version.Version,
	}, nil)

	s.registerTools()
	return s, nil
}

// MCPServer returns the underlying SDK server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// backgroundContext returns a context that outlives any single tool call,
// for jobs (fetch_repo, fetch_file) that must keep running after the
// request that created them returns.
func (s *Server) backgroundContext() context.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.rootCtx != nil {
		return s.rootCtx
	}
	return context.Background()
}

// trackSession records the session a tool call arrived on, so the
// mcp-sampling embedding backend can reach the host's LLM between tool
// calls. Stdio transport serves one client at a time, so the most recent
// session is always the right one to use.
func (s *Server) trackSession(req *mcp.CallToolRequest) {
	if req == nil || req.Session == nil {
		return
	}
	s.mu.Lock()
	s.session = req.Session
	s.mu.Unlock()
}

// registerTools registers all eight tools with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_documents",
		Description: "Semantic search over the indexed document set. Embeds the query, runs a KNN search against stored chunk embeddings, and returns ranked results with an optional query-refinement recommendation when results are weak.",
	}, s.handleSearchDocuments)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_file_details",
		Description: "Returns the stored chunks for a single file. With chunkIndex, returns that chunk plus its surrounding context; without it, returns every chunk for the file in order.",
	}, s.handleGetFileDetails)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "fetch_repo",
		Description: "Flattens a git repository to a single markdown document and indexes it. Returns immediately with a job id; progress is polled via get_job_status.",
	}, s.handleFetchRepo)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "fetch_file",
		Description: "Downloads a single file over HTTP and optionally indexes it. Returns immediately with a job id.",
	}, s.handleFetchFile)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "remove_file",
		Description: "Deletes a file's document and chunk rows from the index.",
	}, s.handleRemoveFile)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "flush_all",
		Description: "Cancels running jobs, empties the vector and recommendation tables, and clears downloaded content directories.",
	}, s.handleFlushAll)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_job_status",
		Description: "Returns the full lifecycle snapshot of a job: status, progress, result, and error.",
	}, s.handleGetJobStatus)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_active_jobs",
		Description: "Lists currently running jobs plus aggregate job statistics.",
	}, s.handleListActiveJobs)

	s.logger.Info("mcp tools registered", slog.Int("count", 8))
}

// Serve starts the server on the given transport. Only "stdio" is
// supported; the MCP stdio transport owns stdin/stdout for JSON-RPC, which
// is why internal/logging writes exclusively to a file.
func (s *Server) Serve(ctx context.Context, transport string) error {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.rootCtx = ctx
	s.cancelRoot = cancel
	s.mu.Unlock()
	defer cancel()

	switch transport {
	case "stdio":
		s.logger.Info("starting mcp server", slog.String("transport", transport))
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("mcp server stopped with error", slog.String("error", err.Error()))
			return err
		}
		s.logger.Info("mcp server stopped")
		return nil
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}
