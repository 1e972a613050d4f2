package mcpserver

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"local-search-mcp/internal/config"
	"local-search-mcp/internal/embed"
	"local-search-mcp/internal/fetch"
	"local-search-mcp/internal/jobs"
	"local-search-mcp/internal/paths"
	"local-search-mcp/internal/pipeline"
	"local-search-mcp/internal/recommend"
	"local-search-mcp/internal/store"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	tmp := t.TempDir()
	t.Setenv("MCP_DATA_FOLDER", filepath.Join(tmp, "data"))
	t.Setenv("MCP_DOCS_FOLDER", filepath.Join(tmp, "docs"))
	roots, err := paths.Resolve()
	require.NoError(t, err)

	cfg := config.New()
	cfg.Embeddings.Dimension = 8
	cfg.Embeddings.Backend = config.BackendLocalCPU

	db, err := store.Open(context.Background(), roots.DatabaseFile, cfg.Embeddings.Dimension, cfg.Performance.SQLiteCacheMB)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	vectors := store.NewVectorStore(db)
	recoRepo := store.NewRecommendationRepository(db)
	factory := embed.NewFactory(cfg, nil, "", nil)
	jobMgr := jobs.NewManager(16)
	downloader := fetch.NewDownloader(0)
	flattener := fetch.NewFlattener("local-search-mcp")
	orch := pipeline.NewOrchestrator(jobMgr, vectors, factory, roots, cfg, downloader, flattener)

	srv, err := NewServer(Deps{
		Vectors:      vectors,
		RecoRepo:     recoRepo,
		Recommender:  recommend.NewEngine(recoRepo),
		Learner:      recommend.NewLearner(recoRepo),
		Jobs:         jobMgr,
		Orchestrator: orch,
		Roots:        roots,
		Config:       cfg,
	})
	require.NoError(t, err)
	return srv
}

func indexFile(t *testing.T, s *Server, path string) {
	t.Helper()
	jobID := s.jobMgr.Create(jobs.KindWatchAdd, nil)
	require.NoError(t, s.orch.ProcessWatchedFile(context.Background(), jobID, path, pipeline.WatchEventAdd))
}

func TestHandleSearchDocumentsReturnsMatches(t *testing.T) {
	s := testServer(t)
	path := filepath.Join(s.roots.Watched, "note.go")
	require.NoError(t, writeFile(path, "the quick brown fox jumps over the lazy dog many times in a row to fill a chunk of text."))
	indexFile(t, s, path)

	_, out, err := s.handleSearchDocuments(context.Background(), nil, SearchDocumentsInput{
		Query:   "quick brown fox",
		Options: &SearchOptionsInput{Limit: 5, MinScore: 0},
	})
	require.NoError(t, err)
	require.NotEmpty(t, out.Results)
	assert.Equal(t, path, out.Results[0].FilePath)
}

func TestHandleSearchDocumentsRejectsEmptyQuery(t *testing.T) {
	s := testServer(t)
	_, _, err := s.handleSearchDocuments(context.Background(), nil, SearchDocumentsInput{Query: "   "})
	require.Error(t, err)
	mcpErr, ok := err.(*MCPError)
	require.True(t, ok)
	assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)
}

func TestHandleSearchDocumentsAppliesLanguageFilter(t *testing.T) {
	s := testServer(t)
	goFile := filepath.Join(s.roots.Watched, "note.go")
	mdFile := filepath.Join(s.roots.Watched, "note.md")
	require.NoError(t, writeFile(goFile, "the quick brown fox jumps over the lazy dog many times in a row to fill a chunk."))
	require.NoError(t, writeFile(mdFile, "the quick brown fox jumps over the lazy dog many times in a row to fill a chunk."))
	indexFile(t, s, goFile)
	indexFile(t, s, mdFile)

	_, out, err := s.handleSearchDocuments(context.Background(), nil, SearchDocumentsInput{
		Query:   "quick brown fox",
		Options: &SearchOptionsInput{Limit: 10, MinScore: 0, LanguageFilter: "go"},
	})
	require.NoError(t, err)
	for _, r := range out.Results {
		assert.Equal(t, goFile, r.FilePath)
	}
}

func TestHandleGetFileDetailsWindowsAroundChunkIndex(t *testing.T) {
	s := testServer(t)
	path := filepath.Join(s.roots.Watched, "big.txt")
	var content string
	for i := 0; i < 50; i++ {
		content += "word "
	}
	require.NoError(t, writeFile(path, content+content+content+content+content))
	indexFile(t, s, path)

	idx := 0
	_, out, err := s.handleGetFileDetails(context.Background(), nil, GetFileDetailsInput{
		FilePath: path, ChunkIndex: &idx, ContextSize: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, path, out.FilePath)
	for _, c := range out.Chunks {
		assert.LessOrEqual(t, c.ChunkIndex, idx+1)
	}
}

func TestHandleGetFileDetailsRejectsEmptyPath(t *testing.T) {
	s := testServer(t)
	_, _, err := s.handleGetFileDetails(context.Background(), nil, GetFileDetailsInput{FilePath: ""})
	require.Error(t, err)
}

func TestHandleRemoveFileDeletesChunks(t *testing.T) {
	s := testServer(t)
	path := filepath.Join(s.roots.Watched, "note.txt")
	require.NoError(t, writeFile(path, "content long enough to produce at least one chunk for the chunker to work with here."))
	indexFile(t, s, path)

	_, out, err := s.handleRemoveFile(context.Background(), nil, RemoveFileInput{FilePath: path})
	require.NoError(t, err)
	assert.Greater(t, out.Removed, 0)

	doc, err := s.vectors.GetDocument(context.Background(), path)
	require.NoError(t, err)
	assert.Nil(t, doc)
}

func TestHandleRemoveFileRejectsEmptyPath(t *testing.T) {
	s := testServer(t)
	_, _, err := s.handleRemoveFile(context.Background(), nil, RemoveFileInput{FilePath: ""})
	require.Error(t, err)
}

func TestHandleFlushAllClearsStoreAndCancelsJobs(t *testing.T) {
	s := testServer(t)
	path := filepath.Join(s.roots.Watched, "note.txt")
	require.NoError(t, writeFile(path, "content long enough to produce at least one chunk for the chunker to work with here."))
	indexFile(t, s, path)
	runningJobID := s.jobMgr.Create(jobs.KindFetchFile, nil)

	_, out, err := s.handleFlushAll(context.Background(), nil, FlushAllInput{})
	require.NoError(t, err)
	assert.True(t, out.Cleared)
	assert.Equal(t, 1, out.JobsCancelled)

	job, ok := s.jobMgr.Get(runningJobID)
	require.True(t, ok)
	assert.Equal(t, jobs.StatusFailed, job.Status)
	assert.Equal(t, "cancelled", job.Error)

	stats, err := s.vectors.Statistics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalFiles)
}

func TestHandleGetJobStatusReturnsNotFoundForUnknownID(t *testing.T) {
	s := testServer(t)
	_, _, err := s.handleGetJobStatus(context.Background(), nil, GetJobStatusInput{JobId: "does-not-exist"})
	require.Error(t, err)
	mcpErr, ok := err.(*MCPError)
	require.True(t, ok)
	assert.Equal(t, ErrCodeJobNotFound, mcpErr.Code)
}

func TestHandleGetJobStatusReturnsKnownJob(t *testing.T) {
	s := testServer(t)
	id := s.jobMgr.Create(jobs.KindFetchFile, nil)

	_, out, err := s.handleGetJobStatus(context.Background(), nil, GetJobStatusInput{JobId: id})
	require.NoError(t, err)
	assert.Equal(t, id, out.JobId)
	assert.Equal(t, string(jobs.KindFetchFile), out.Kind)
}

func TestHandleListActiveJobsReportsStatistics(t *testing.T) {
	s := testServer(t)
	s.jobMgr.Create(jobs.KindFetchFile, nil)
	s.jobMgr.Create(jobs.KindFetchRepo, nil)

	_, out, err := s.handleListActiveJobs(context.Background(), nil, ListActiveJobsInput{})
	require.NoError(t, err)
	assert.Len(t, out.Jobs, 2)
	assert.Equal(t, 2, out.Statistics.Running)
}

func TestHandleFetchRepoReturnsJobImmediately(t *testing.T) {
	s := testServer(t)
	_, out, err := s.handleFetchRepo(context.Background(), nil, FetchRepoInput{RepoUrl: "https://example.com/org/repo.git"})
	require.NoError(t, err)
	assert.NotEmpty(t, out.JobId)
	assert.NotEmpty(t, out.RepoName)

	job, ok := s.jobMgr.Get(out.JobId)
	require.True(t, ok)
	assert.Equal(t, jobs.KindFetchRepo, job.Kind)
}

func TestHandleFetchRepoRejectsEmptyURL(t *testing.T) {
	s := testServer(t)
	_, _, err := s.handleFetchRepo(context.Background(), nil, FetchRepoInput{RepoUrl: ""})
	require.Error(t, err)
}

func TestSampleFuncFailsWithoutSession(t *testing.T) {
	s := testServer(t)
	_, err := s.SampleFunc()(context.Background(), "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, errNoSamplingSession)
}

func TestBackgroundContextFallsBackBeforeServe(t *testing.T) {
	s := testServer(t)
	ctx := s.backgroundContext()
	require.NoError(t, ctx.Err())
}

func TestMapErrorHandlesContextDeadline(t *testing.T) {
	mcpErr := MapError(context.DeadlineExceeded)
	require.NotNil(t, mcpErr)
	assert.Equal(t, ErrCodeTimeout, mcpErr.Code)
}

func TestMapErrorHandlesNil(t *testing.T) {
	assert.Nil(t, MapError(nil))
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}
