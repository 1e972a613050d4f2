package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"local-search-mcp/internal/config"
	"local-search-mcp/internal/embed"
	"local-search-mcp/internal/fetch"
	"local-search-mcp/internal/jobs"
	"local-search-mcp/internal/logging"
	"local-search-mcp/internal/mcpserver"
	"local-search-mcp/internal/paths"
	"local-search-mcp/internal/pipeline"
	"local-search-mcp/internal/recommend"
	"local-search-mcp/internal/store"
	"local-search-mcp/internal/watcher"
	"local-search-mcp/internal/watchsvc"
)

const jobStatusCacheSize = 1024

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server on stdio",
		Long: `Start the MCP server. The stdio transport owns stdin/stdout for the
JSON-RPC stream, so nothing but the protocol itself is ever written there;
all diagnostics go to the log file under the resolved data directory.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), "stdio")
		},
	}
	return cmd
}

// runServe resolves every component the MCP server depends on and blocks
// serving the given transport until the context is cancelled.
//
// embed.Factory needs a SampleFunc to support EMBEDDING_BACKEND=mcp-sampling,
// but the only real SampleFunc comes from mcpserver.Server, which in turn
// needs a fully built pipeline.Orchestrator (and therefore a fully built
// embed.Factory) to exist first. sampleFn breaks the cycle: the factory
// closes over it instead of a concrete function, and it's populated once
// the server exists. Factory.Get only calls it lazily on the first real
// embedding request, which never happens before a client has connected and
// a session is available to sample from.
func runServe(ctx context.Context, transport string) error {
	roots, err := paths.Resolve()
	if err != nil {
		return fmt.Errorf("resolving data directories: %w", err)
	}

	cfg, err := config.Load(filepath.Join(roots.Data, "config.yaml"))
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, cleanup, err := logging.Setup(logging.Config{
		Level:     cfg.Server.LogLevel,
		FilePath:  roots.LogFile,
		MaxSizeMB: 10,
		MaxFiles:  5,
	})
	if err != nil {
		return fmt.Errorf("setting up logging: %w", err)
	}
	defer cleanup()
	slog.SetDefault(logger)

	var sampleFn embed.SampleFunc = func(_ context.Context, _ string) (string, error) {
		return "", fmt.Errorf("mcp sampling requested before a client session connected")
	}
	factory := embed.NewFactory(cfg, logger, filepath.Join(roots.Data, "models"),
		func(ctx context.Context, prompt string) (string, error) {
			return sampleFn(ctx, prompt)
		})

	db, err := store.Open(ctx, roots.DatabaseFile, cfg.Embeddings.Dimension, cfg.Performance.SQLiteCacheMB)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	vectors := store.NewVectorStore(db)
	recoRepo := store.NewRecommendationRepository(db)
	recommender := recommend.NewEngine(recoRepo)
	learner := recommend.NewLearner(recoRepo)

	jobMgr := jobs.NewManager(jobStatusCacheSize)
	downloader := fetch.NewDownloader(time.Duration(cfg.Performance.HTTPTimeoutSeconds) * time.Second)
	flattener := fetch.NewFlattener("local-search-mcp")

	orch := pipeline.NewOrchestrator(jobMgr, vectors, factory, roots, cfg, downloader, flattener)

	srv, err := mcpserver.NewServer(mcpserver.Deps{
		Vectors:      vectors,
		RecoRepo:     recoRepo,
		Recommender:  recommender,
		Learner:      learner,
		Jobs:         jobMgr,
		Orchestrator: orch,
		Roots:        roots,
		Config:       cfg,
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("building mcp server: %w", err)
	}
	sampleFn = srv.SampleFunc()

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go runWatchService(watchCtx, logger, orch, roots.Watched)

	return srv.Serve(ctx, transport)
}

// runWatchService watches the directory the user points the engine at for
// live edits, feeding every debounced change through the orchestrator.
// Failures here are logged, not fatal: the MCP server is useful for
// fetch/search even if the local filesystem watch can't start (e.g. the
// directory doesn't exist yet, or inotify watches are exhausted).
func runWatchService(ctx context.Context, logger *slog.Logger, orch *pipeline.Orchestrator, root string) {
	hw, err := watcher.NewHybridWatcher(watcher.DefaultOptions())
	if err != nil {
		logger.Warn("watch service disabled: failed to start watcher", slog.String("error", err.Error()))
		return
	}
	svc := watchsvc.New(hw, orch, root)
	if err := svc.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Warn("watch service stopped with error", slog.String("error", err.Error()))
	}
}
