package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
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
	"local-search-mcp/internal/store"
)

func testOrchestrator(t *testing.T) (*Orchestrator, *paths.Roots) {
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
	factory := embed.NewFactory(cfg, nil, "", nil)
	jobMgr := jobs.NewManager(16)
	downloader := fetch.NewDownloader(0)
	flattener := fetch.NewFlattener("repomix")

	return NewOrchestrator(jobMgr, vectors, factory, roots, cfg, downloader, flattener), roots
}

func TestProcessWatchedFileAddIndexesContent(t *testing.T) {
	o, roots := testOrchestrator(t)
	path := filepath.Join(roots.Watched, "note.txt")
	require.NoError(t, os.WriteFile(path, []byte("the quick brown fox jumps over the lazy dog, repeated many times to fill a chunk worth of content for the test."), 0o644))

	jobID := o.Jobs.Create(jobs.KindWatchAdd, nil)
	err := o.ProcessWatchedFile(context.Background(), jobID, path, WatchEventAdd)
	require.NoError(t, err)

	job, ok := o.Jobs.Get(jobID)
	require.True(t, ok)
	assert.Equal(t, jobs.StatusCompleted, job.Status)

	doc, err := o.Vectors.GetDocument(context.Background(), path)
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Greater(t, doc.TotalChunks, 0)
}

func TestProcessWatchedFileUnlinkDeletesChunks(t *testing.T) {
	o, roots := testOrchestrator(t)
	path := filepath.Join(roots.Watched, "note.txt")
	require.NoError(t, os.WriteFile(path, []byte("content that is long enough to produce at least one chunk of meaningful size for the chunker to work with."), 0o644))

	addJob := o.Jobs.Create(jobs.KindWatchAdd, nil)
	require.NoError(t, o.ProcessWatchedFile(context.Background(), addJob, path, WatchEventAdd))

	removeJob := o.Jobs.Create(jobs.KindWatchRemove, nil)
	err := o.ProcessWatchedFile(context.Background(), removeJob, path, WatchEventUnlink)
	require.NoError(t, err)

	doc, err := o.Vectors.GetDocument(context.Background(), path)
	require.NoError(t, err)
	assert.Nil(t, doc)
}

func TestProcessFileFetchDownloadsAndIndexes(t *testing.T) {
	o, _ := testOrchestrator(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("downloaded content long enough to be chunked meaningfully by the fixed-size chunker used in tests."))
	}))
	defer srv.Close()

	jobID := o.Jobs.Create(jobs.KindFetchFile, nil)
	err := o.ProcessFileFetch(context.Background(), jobID, srv.URL, "doc.txt", FileFetchOptions{IndexAfterSave: true})
	require.NoError(t, err)

	job, ok := o.Jobs.Get(jobID)
	require.True(t, ok)
	assert.Equal(t, jobs.StatusCompleted, job.Status)
}

func TestProcessFileFetchFailsJobOnBadURL(t *testing.T) {
	o, _ := testOrchestrator(t)
	jobID := o.Jobs.Create(jobs.KindFetchFile, nil)
	err := o.ProcessFileFetch(context.Background(), jobID, "not-a-url", "doc.txt", FileFetchOptions{IndexAfterSave: true})
	assert.Error(t, err)

	job, ok := o.Jobs.Get(jobID)
	require.True(t, ok)
	assert.Equal(t, jobs.StatusFailed, job.Status)
}

func TestProcessFileFailsOnEmptyContent(t *testing.T) {
	o, roots := testOrchestrator(t)
	path := filepath.Join(roots.Watched, "empty.txt")
	require.NoError(t, os.WriteFile(path, []byte(""), 0o644))

	jobID := o.Jobs.Create(jobs.KindWatchAdd, nil)
	err := o.processFile(context.Background(), jobID, path, window{0, 100}, 0)
	assert.Error(t, err)
}

func TestWindowScalesProportionally(t *testing.T) {
	w := window{30, 100}
	assert.Equal(t, 30, w.scale(0))
	assert.Equal(t, 100, w.scale(100))
	assert.Equal(t, 65, w.scale(50))
}
