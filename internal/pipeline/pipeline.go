// Package pipeline implements the end-to-end orchestrator (component C9):
// one method per source kind, each driving reader → chunker → embedder →
// vector store against a pre-created job, reporting progress into a
// staged window of the job's [0,100] range.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"local-search-mcp/internal/chunk"
	"local-search-mcp/internal/config"
	"local-search-mcp/internal/embed"
	apperrors "local-search-mcp/internal/errors"
	"local-search-mcp/internal/fetch"
	"local-search-mcp/internal/jobs"
	"local-search-mcp/internal/paths"
	"local-search-mcp/internal/reader"
	"local-search-mcp/internal/store"
)

// Orchestrator wires together every component a fetch/watch job drives.
type Orchestrator struct {
	Jobs       *jobs.Manager
	Vectors    *store.VectorStore
	Embeddings *embed.Factory
	Roots      *paths.Roots
	Config     *config.Config
	Downloader *fetch.Downloader
	Flattener  *fetch.Flattener
}

// NewOrchestrator builds an Orchestrator from its dependencies.
func NewOrchestrator(jobMgr *jobs.Manager, vectors *store.VectorStore, embeddings *embed.Factory, roots *paths.Roots, cfg *config.Config, downloader *fetch.Downloader, flattener *fetch.Flattener) *Orchestrator {
	return &Orchestrator{
		Jobs: jobMgr, Vectors: vectors, Embeddings: embeddings,
		Roots: roots, Config: cfg, Downloader: downloader, Flattener: flattener,
	}
}

// window maps a sub-stage's own [0,100] progress onto [lo,hi] of the job.
type window struct {
	lo, hi int
}

func (w window) scale(pct int) int {
	return w.lo + (pct*(w.hi-w.lo))/100
}

func (o *Orchestrator) report(jobID string, w window, pct int, message string) {
	_ = o.Jobs.UpdateProgress(jobID, w.scale(pct), message, nil)
}

// ProcessRepoFetch drives fetch_repo: [0,15] prepare the destination
// directory, [15,30] flatten the repository to markdown (falling back to a
// local clone on auth/404), [30,100] process the emitted file.
func (o *Orchestrator) ProcessRepoFetch(ctx context.Context, jobID, repoURL, branch string) error {
	prep := window{0, 15}
	o.report(jobID, prep, 0, "preparing destination")

	dirName := fetch.RepoDirName(repoURL)
	destDir := filepath.Join(o.Roots.Repositories, dirName)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return o.fail(jobID, apperrors.Path("creating repository directory", err))
	}
	outputPath := filepath.Join(destDir, "flattened.md")
	o.report(jobID, prep, 100, "destination ready")

	flatten := window{15, 30}
	o.report(jobID, flatten, 0, "flattening repository")
	if err := o.Flattener.Flatten(ctx, repoURL, branch, outputPath, o.Roots.Temp); err != nil {
		return o.fail(jobID, err)
	}
	o.report(jobID, flatten, 100, "flattened")

	if err := o.processFile(ctx, jobID, outputPath, window{30, 100}, o.Config.Performance.MaxRepoFileSizeMB*1024*1024); err != nil {
		return err
	}
	return o.Jobs.Complete(jobID, map[string]any{"repoName": dirName, "outputPath": outputPath})
}

// FileFetchOptions configures fetch_file.
type FileFetchOptions struct {
	MaxFileSizeMB   int
	Overwrite       bool
	IndexAfterSave  bool
}

// ProcessFileFetch drives fetch_file: [0,40] stream-download, [40,100]
// process the file if IndexAfterSave is set.
func (o *Orchestrator) ProcessFileFetch(ctx context.Context, jobID, url, filename string, opts FileFetchOptions) error {
	if opts.MaxFileSizeMB <= 0 {
		opts.MaxFileSizeMB = 1024
	}
	download := window{0, 40}
	o.report(jobID, download, 0, "downloading")

	destPath := filepath.Join(o.Roots.Fetched, filename)
	maxBytes := int64(opts.MaxFileSizeMB) * 1024 * 1024
	if _, err := o.Downloader.Download(ctx, url, destPath, maxBytes, opts.Overwrite); err != nil {
		return o.fail(jobID, err)
	}
	o.report(jobID, download, 100, "downloaded")

	if !opts.IndexAfterSave {
		return o.Jobs.Complete(jobID, map[string]any{"filename": filename, "path": destPath, "indexed": false})
	}

	if err := o.processFile(ctx, jobID, destPath, window{40, 100}, maxBytes); err != nil {
		return err
	}
	return o.Jobs.Complete(jobID, map[string]any{"filename": filename, "path": destPath, "indexed": true})
}

// WatchEvent is the filesystem change kind that triggered a watch job.
type WatchEvent string

const (
	WatchEventAdd    WatchEvent = "add"
	WatchEventChange WatchEvent = "change"
	WatchEventUnlink WatchEvent = "unlink"
)

// ProcessWatchedFile drives watch_add/watch_change/watch_remove: add and
// change re-process the file in full; unlink deletes its stored chunks.
func (o *Orchestrator) ProcessWatchedFile(ctx context.Context, jobID, path string, event WatchEvent) error {
	if event == WatchEventUnlink {
		count, err := o.Vectors.DeleteFile(ctx, path)
		if err != nil {
			return o.fail(jobID, err)
		}
		return o.Jobs.Complete(jobID, map[string]any{"path": path, "chunksRemoved": count})
	}

	if err := o.processFile(ctx, jobID, path, window{0, 100}, o.Config.Performance.MaxFileSizeMB*1024*1024); err != nil {
		return err
	}
	return o.Jobs.Complete(jobID, map[string]any{"path": path})
}

// processFile is the shared read→chunk→embed→store sub-pipeline. w is the
// slice of the job's overall [0,100] progress this sub-pipeline owns.
func (o *Orchestrator) processFile(ctx context.Context, jobID, path string, w window, sizeCap int) error {
	res, err := reader.Read(path, sizeCap)
	if err != nil {
		return o.fail(jobID, err)
	}
	if res.Content == "" {
		return o.fail(jobID, apperrors.FileProcessing("file produced no text content: "+path, nil))
	}
	o.report(jobID, w, 10, "read "+filepath.Base(path))

	if o.Jobs.IsCancelled(jobID) {
		return o.fail(jobID, apperrors.Job("cancelled", nil))
	}

	chunks, err := chunk.Split(res.Content, res.Size, res.LastModified, chunkConfig(o.Config))
	if err != nil {
		return o.fail(jobID, err)
	}
	o.report(jobID, w, 25, fmt.Sprintf("split into %d chunks", len(chunks)))

	embedder, err := o.Embeddings.Get(ctx)
	if err != nil {
		return o.fail(jobID, err)
	}

	batchSize := embed.BatchSizeFor(o.Config, embedder)
	records, err := o.embedChunks(ctx, jobID, w, chunks, embedder, batchSize, path)
	if err != nil {
		return o.fail(jobID, err)
	}
	if len(records) == 0 {
		return o.fail(jobID, apperrors.Embedding("every chunk failed to embed for "+path, nil))
	}

	doc := store.Document{
		FilePath:     path,
		FileName:     filepath.Base(path),
		LastModified: res.LastModified,
	}
	if err := o.Vectors.StoreChunks(ctx, doc, records); err != nil {
		return o.fail(jobID, err)
	}
	o.report(jobID, w, 100, "stored")
	return nil
}

// embedChunks embeds chunks in batches, yielding to the scheduler between
// batches so the MCP request loop stays responsive. A failed batch, on any
// backend, is retried per-item; chunks that still fail are dropped.
func (o *Orchestrator) embedChunks(ctx context.Context, jobID string, w window, chunks []chunk.Chunk, embedder embed.Embedder, batchSize int, filePath string) ([]store.ChunkRecord, error) {
	if batchSize <= 0 {
		batchSize = 6
	}
	var records []store.ChunkRecord
	total := len(chunks)
	done := 0

	for start := 0; start < total; start += batchSize {
		if o.Jobs.IsCancelled(jobID) {
			return nil, apperrors.Job("cancelled", nil)
		}

		end := start + batchSize
		if end > total {
			end = total
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = embed.PrepareText(c.Content, o.Config.Embeddings.MaxCharsPerInput)
		}

		vectors, err := embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			vectors = embedPerItemFallback(ctx, embedder, texts)
		}

		for i, c := range batch {
			if i >= len(vectors) || vectors[i] == nil {
				continue
			}
			records = append(records, store.ChunkRecord{
				ChunkID:     store.ChunkID(filePath, c.ChunkIndex),
				FilePath:    filePath,
				ChunkIndex:  c.ChunkIndex,
				Content:     c.Content,
				ChunkOffset: c.ChunkOffset,
				TokenCount:  c.TokenCount,
				Embedding:   vectors[i],
			})
		}

		done += len(batch)
		o.report(jobID, w, 25+int(float64(done)/float64(total)*75), fmt.Sprintf("embedded %d/%d chunks", done, total))

		// Explicit yield between batches, per spec §5's suspension-point rule.
		select {
		case <-ctx.Done():
			return nil, apperrors.Job("context cancelled", ctx.Err())
		case <-time.After(0):
		}
	}
	return records, nil
}

// embedPerItemFallback retries each text individually after a batch
// failure; a text that still fails is represented by a nil vector and
// dropped by the caller.
func embedPerItemFallback(ctx context.Context, embedder embed.Embedder, texts []string) [][]float32 {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := embedder.EmbedDocuments(ctx, []string{t})
		if err != nil || len(v) == 0 {
			continue
		}
		out[i] = v[0]
	}
	return out
}

func (o *Orchestrator) fail(jobID string, err error) error {
	_ = o.Jobs.Fail(jobID, err.Error())
	return err
}

func chunkConfig(cfg *config.Config) chunk.Config {
	method := chunk.MethodFixed
	switch cfg.Chunk.Method {
	case config.ChunkMethodSentenceAware:
		method = chunk.MethodSentenceAware
	case config.ChunkMethodParagraphAware:
		method = chunk.MethodParagraphAware
	}
	return chunk.Config{Size: cfg.Chunk.Size, Overlap: cfg.Chunk.Overlap, Method: method}
}
