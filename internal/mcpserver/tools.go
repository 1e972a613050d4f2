package mcpserver

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"local-search-mcp/internal/fetch"
	"local-search-mcp/internal/jobs"
	"local-search-mcp/internal/pipeline"
	"local-search-mcp/internal/recommend"
	"local-search-mcp/internal/store"
)

// flushTimeout bounds flush_all: the spec favors a synchronous flush over
// an advisory one, but a bounded one so a stuck clear can't hang the tool
// call forever.
const flushTimeout = 30 * time.Second

// SearchDocumentsInput is the input schema for search_documents.
type SearchDocumentsInput struct {
	Query   string               `json:"query" jsonschema:"the search query to execute"`
	Options *SearchOptionsInput  `json:"options,omitempty" jsonschema:"optional search parameters"`
}

// SearchOptionsInput carries search_documents's optional tuning knobs.
type SearchOptionsInput struct {
	Limit             int    `json:"limit,omitempty" jsonschema:"maximum number of results, default 10"`
	MinScore          float64 `json:"minScore,omitempty" jsonschema:"minimum similarity score, default 0.7"`
	IncludeMetadata   *bool  `json:"includeMetadata,omitempty" jsonschema:"include chunk offset/token metadata, default true"`
	DomainFilter      string `json:"domainFilter,omitempty" jsonschema:"only return results whose file path contains this substring"`
	ContentTypeFilter string `json:"contentTypeFilter,omitempty" jsonschema:"accepted for API compatibility; the index does not classify content type so this is currently a no-op"`
	LanguageFilter    string `json:"languageFilter,omitempty" jsonschema:"only return results whose file extension matches this language, e.g. go, py"`
}

// SearchDocumentsOutput is the output schema for search_documents.
type SearchDocumentsOutput struct {
	Results        []SearchResultOutput  `json:"results" jsonschema:"ranked matching chunks"`
	Total          int                   `json:"total" jsonschema:"number of results returned"`
	ElapsedMs      int64                 `json:"elapsedMs" jsonschema:"time spent executing the search, in milliseconds"`
	Recommendation *RecommendationOutput `json:"recommendation,omitempty" jsonschema:"a query-refinement suggestion, present only when results were weak"`
}

// SearchResultOutput is a single ranked chunk, embedding omitted.
type SearchResultOutput struct {
	FilePath    string  `json:"filePath" jsonschema:"path of the source file"`
	ChunkIndex  int     `json:"chunkIndex" jsonschema:"position of this chunk within the file"`
	Content     string  `json:"content" jsonschema:"matched chunk text"`
	Score       float64 `json:"score" jsonschema:"similarity score between 0 and 1"`
	ChunkOffset int     `json:"chunkOffset,omitempty" jsonschema:"character offset of the chunk within the file"`
	TokenCount  int     `json:"tokenCount,omitempty" jsonschema:"approximate token count of the chunk"`
}

// RecommendationOutput is a derived query-refinement suggestion.
type RecommendationOutput struct {
	SuggestedTerms []string `json:"suggestedTerms"`
	Strategy       string   `json:"strategy"`
	Confidence     float64  `json:"confidence"`
}

// handleSearchDocuments embeds the query, runs a KNN search, applies the
// path-based domain/language filters, and attaches a recommendation when
// the result set is weak. Failures are best-effort per the spec's
// propagation policy: a logged error plus an empty result, not a tool
// error, so a flaky embedding backend never surfaces as a hard failure.
func (s *Server) handleSearchDocuments(ctx context.Context, req *mcp.CallToolRequest, input SearchDocumentsInput) (
	*mcp.CallToolResult, SearchDocumentsOutput, error,
) {
	s.trackSession(req)
	start := time.Now()

	query := strings.TrimSpace(input.Query)
	if query == "" {
		return nil, SearchDocumentsOutput{}, NewInvalidParamsError("query is required")
	}

	limit := 10
	minScore := 0.7
	includeMetadata := true
	var domainFilter, languageFilter string
	if input.Options != nil {
		if input.Options.Limit > 0 {
			limit = input.Options.Limit
		}
		if input.Options.MinScore > 0 {
			minScore = input.Options.MinScore
		}
		if input.Options.IncludeMetadata != nil {
			includeMetadata = *input.Options.IncludeMetadata
		}
		domainFilter = input.Options.DomainFilter
		languageFilter = input.Options.LanguageFilter
		// contentTypeFilter is accepted but unused: the store has no
		// content-type column to filter on.
	}

	embedder, err := s.orch.Embeddings.Get(ctx)
	if err != nil {
		s.logger.Error("search_documents: embedder unavailable", slog.String("error", err.Error()))
		return nil, SearchDocumentsOutput{ElapsedMs: time.Since(start).Milliseconds()}, nil
	}
	queryVec, err := embedder.EmbedQuery(ctx, query)
	if err != nil {
		s.logger.Error("search_documents: embedding query failed", slog.String("error", err.Error()))
		return nil, SearchDocumentsOutput{ElapsedMs: time.Since(start).Milliseconds()}, nil
	}

	oversample := limit * 4
	if oversample < limit {
		oversample = limit
	}
	hits, err := s.vectors.SearchSimilar(ctx, queryVec, oversample, oversample, minScore)
	if err != nil {
		s.logger.Error("search_documents: KNN search failed", slog.String("error", err.Error()))
		return nil, SearchDocumentsOutput{ElapsedMs: time.Since(start).Milliseconds()}, nil
	}

	filtered := make([]store.SearchHit, 0, len(hits))
	for _, h := range hits {
		if domainFilter != "" && !strings.Contains(h.FilePath, domainFilter) {
			continue
		}
		if languageFilter != "" && !strings.EqualFold(strings.TrimPrefix(filepath.Ext(h.FilePath), "."), languageFilter) {
			continue
		}
		filtered = append(filtered, h)
		if len(filtered) >= limit {
			break
		}
	}

	output := SearchDocumentsOutput{Results: make([]SearchResultOutput, 0, len(filtered)), Total: len(filtered)}
	for _, h := range filtered {
		r := SearchResultOutput{FilePath: h.FilePath, ChunkIndex: h.ChunkIndex, Content: h.Content, Score: h.Score}
		if includeMetadata {
			r.ChunkOffset = h.ChunkOffset
			r.TokenCount = h.TokenCount
		}
		output.Results = append(output.Results, r)
	}
	output.ElapsedMs = time.Since(start).Milliseconds()

	s.attachRecommendation(ctx, query, filtered, &output)
	return nil, output, nil
}

// attachRecommendation runs the TF-IDF recommendation engine over the
// search result set when it looks weak, mutating output in place. Failures
// here are logged, never surfaced: a recommendation is advisory.
func (s *Server) attachRecommendation(ctx context.Context, query string, hits []store.SearchHit, output *SearchDocumentsOutput) {
	threshold := 0.3
	if params, err := s.recoRepo.LoadLearningParameters(ctx); err == nil && params != nil {
		threshold = params.TFIDFThreshold
	}

	if !recommend.LowConfidence(len(hits), meanScore(hits), threshold, len(strings.Fields(query))) {
		return
	}

	docs := make([]recommend.ResultDoc, 0, len(hits))
	for _, h := range hits {
		docs = append(docs, recommend.ResultDoc{FilePath: h.FilePath, Content: h.Content})
	}
	totalDocuments := 0
	if stats, err := s.vectors.Statistics(ctx); err == nil {
		totalDocuments = stats.TotalFiles
	}

	rec, err := s.recommend.Recommend(ctx, query, docs, totalDocuments, threshold)
	if err != nil {
		s.logger.Warn("search_documents: recommendation generation failed", slog.String("error", err.Error()))
		return
	}
	if rec != nil {
		output.Recommendation = &RecommendationOutput{
			SuggestedTerms: rec.SuggestedTerms,
			Strategy:       string(rec.Strategy),
			Confidence:     rec.Confidence,
		}
	}
}

func meanScore(hits []store.SearchHit) float64 {
	if len(hits) == 0 {
		return 0
	}
	var sum float64
	for _, h := range hits {
		sum += h.Score
	}
	return sum / float64(len(hits))
}

// GetFileDetailsInput is the input schema for get_file_details.
type GetFileDetailsInput struct {
	FilePath    string `json:"filePath" jsonschema:"path of the indexed file"`
	ChunkIndex  *int   `json:"chunkIndex,omitempty" jsonschema:"when set, return this chunk plus its surrounding context instead of the whole file"`
	ContextSize int    `json:"contextSize,omitempty" jsonschema:"number of neighboring chunks on each side to include, default 3"`
}

// GetFileDetailsOutput is the output schema for get_file_details.
type GetFileDetailsOutput struct {
	FilePath string        `json:"filePath"`
	Chunks   []ChunkOutput `json:"chunks"`
}

// ChunkOutput is one stored chunk, embedding omitted.
type ChunkOutput struct {
	ChunkIndex  int    `json:"chunkIndex"`
	Content     string `json:"content"`
	ChunkOffset int    `json:"chunkOffset"`
	TokenCount  int    `json:"tokenCount"`
}

func (s *Server) handleGetFileDetails(ctx context.Context, req *mcp.CallToolRequest, input GetFileDetailsInput) (
	*mcp.CallToolResult, GetFileDetailsOutput, error,
) {
	s.trackSession(req)
	path := strings.TrimSpace(input.FilePath)
	if path == "" {
		return nil, GetFileDetailsOutput{}, NewInvalidParamsError("filePath is required")
	}

	chunks, err := s.vectors.GetFileChunks(ctx, path)
	if err != nil {
		s.logger.Error("get_file_details failed", slog.String("filePath", path), slog.String("error", err.Error()))
		return nil, GetFileDetailsOutput{FilePath: path}, nil
	}
	if len(chunks) == 0 {
		return nil, GetFileDetailsOutput{FilePath: path}, nil
	}

	selected := chunks
	if input.ChunkIndex != nil {
		contextSize := input.ContextSize
		if contextSize <= 0 {
			contextSize = 3
		}
		lo, hi := *input.ChunkIndex-contextSize, *input.ChunkIndex+contextSize
		var windowed []store.ChunkRecord
		for _, c := range chunks {
			if c.ChunkIndex >= lo && c.ChunkIndex <= hi {
				windowed = append(windowed, c)
			}
		}
		selected = windowed
	}

	out := GetFileDetailsOutput{FilePath: path, Chunks: make([]ChunkOutput, 0, len(selected))}
	for _, c := range selected {
		out.Chunks = append(out.Chunks, ChunkOutput{
			ChunkIndex: c.ChunkIndex, Content: c.Content, ChunkOffset: c.ChunkOffset, TokenCount: c.TokenCount,
		})
	}
	return nil, out, nil
}

// FetchRepoInput is the input schema for fetch_repo.
type FetchRepoInput struct {
	RepoUrl string                  `json:"repoUrl" jsonschema:"URL of the git repository to fetch"`
	Branch  string                  `json:"branch,omitempty" jsonschema:"branch to check out, defaults to the repository's default branch"`
	Options *RepoFetchOptionsInput  `json:"options,omitempty" jsonschema:"reserved for future per-call overrides"`
}

// RepoFetchOptionsInput currently has no fields; fetch_repo's behavior is
// governed entirely by server-wide configuration.
type RepoFetchOptionsInput struct{}

// FetchRepoOutput is the output schema for fetch_repo.
type FetchRepoOutput struct {
	JobId    string `json:"jobId"`
	RepoName string `json:"repoName"`
}

func (s *Server) handleFetchRepo(ctx context.Context, req *mcp.CallToolRequest, input FetchRepoInput) (
	*mcp.CallToolResult, FetchRepoOutput, error,
) {
	s.trackSession(req)
	repoURL := strings.TrimSpace(input.RepoUrl)
	if repoURL == "" {
		return nil, FetchRepoOutput{}, NewInvalidParamsError("repoUrl is required")
	}

	repoName := fetch.RepoDirName(repoURL)
	jobID := s.jobMgr.Create(jobs.KindFetchRepo, map[string]any{"repoUrl": repoURL, "branch": input.Branch})

	bg := s.backgroundContext()
	go func() {
		if err := s.orch.ProcessRepoFetch(bg, jobID, repoURL, input.Branch); err != nil {
			s.logger.Warn("fetch_repo job failed", slog.String("jobId", jobID), slog.String("error", err.Error()))
		}
	}()

	return nil, FetchRepoOutput{JobId: jobID, RepoName: repoName}, nil
}

// FetchFileInput is the input schema for fetch_file.
type FetchFileInput struct {
	URL      string                  `json:"url" jsonschema:"URL of the file to download"`
	Filename string                  `json:"filename" jsonschema:"name to save the downloaded file under"`
	Options  *FileFetchOptionsInput  `json:"options,omitempty" jsonschema:"optional download parameters"`
}

// FileFetchOptionsInput carries fetch_file's optional tuning knobs.
type FileFetchOptionsInput struct {
	MaxFileSizeMB  int   `json:"maxFileSizeMB,omitempty" jsonschema:"reject the download if it exceeds this size"`
	Overwrite      bool  `json:"overwrite,omitempty" jsonschema:"overwrite filename if it already exists"`
	IndexAfterSave *bool `json:"indexAfterSave,omitempty" jsonschema:"index the file after downloading, default true"`
}

// FetchFileOutput is the output schema for fetch_file.
type FetchFileOutput struct {
	JobId    string `json:"jobId"`
	Filename string `json:"filename"`
}

func (s *Server) handleFetchFile(ctx context.Context, req *mcp.CallToolRequest, input FetchFileInput) (
	*mcp.CallToolResult, FetchFileOutput, error,
) {
	s.trackSession(req)
	url := strings.TrimSpace(input.URL)
	filename := strings.TrimSpace(input.Filename)
	if url == "" || filename == "" {
		return nil, FetchFileOutput{}, NewInvalidParamsError("url and filename are required")
	}

	opts := pipeline.FileFetchOptions{IndexAfterSave: true}
	if input.Options != nil {
		opts.MaxFileSizeMB = input.Options.MaxFileSizeMB
		opts.Overwrite = input.Options.Overwrite
		if input.Options.IndexAfterSave != nil {
			opts.IndexAfterSave = *input.Options.IndexAfterSave
		}
	}

	jobID := s.jobMgr.Create(jobs.KindFetchFile, map[string]any{"url": url, "filename": filename})

	bg := s.backgroundContext()
	go func() {
		if err := s.orch.ProcessFileFetch(bg, jobID, url, filename, opts); err != nil {
			s.logger.Warn("fetch_file job failed", slog.String("jobId", jobID), slog.String("error", err.Error()))
		}
	}()

	return nil, FetchFileOutput{JobId: jobID, Filename: filename}, nil
}

// RemoveFileInput is the input schema for remove_file.
type RemoveFileInput struct {
	FilePath string `json:"filePath" jsonschema:"path of the file to remove from the index"`
}

// RemoveFileOutput is the output schema for remove_file.
type RemoveFileOutput struct {
	Removed int `json:"removed" jsonschema:"number of chunk rows deleted"`
}

func (s *Server) handleRemoveFile(ctx context.Context, req *mcp.CallToolRequest, input RemoveFileInput) (
	*mcp.CallToolResult, RemoveFileOutput, error,
) {
	s.trackSession(req)
	path := strings.TrimSpace(input.FilePath)
	if path == "" {
		return nil, RemoveFileOutput{}, NewInvalidParamsError("filePath is required")
	}

	count, err := s.vectors.DeleteFile(ctx, path)
	if err != nil {
		return nil, RemoveFileOutput{}, MapError(err)
	}
	return nil, RemoveFileOutput{Removed: count}, nil
}

// FlushAllInput is the (empty) input schema for flush_all.
type FlushAllInput struct{}

// FlushAllOutput is the output schema for flush_all.
type FlushAllOutput struct {
	JobsCancelled int  `json:"jobsCancelled"`
	Cleared       bool `json:"cleared"`
}

// handleFlushAll cancels running jobs, clears the vector/recommendation
// tables, and empties the repositories/fetched directories. It runs
// synchronously with a bounded timeout, per the spec's resolution of the
// flush_all synchronicity open question.
func (s *Server) handleFlushAll(ctx context.Context, req *mcp.CallToolRequest, _ FlushAllInput) (
	*mcp.CallToolResult, FlushAllOutput, error,
) {
	s.trackSession(req)

	cancelled := 0
	for _, j := range s.jobMgr.ListActive() {
		if err := s.jobMgr.Cancel(j.ID); err == nil {
			cancelled++
		}
	}

	flushCtx, cancel := context.WithTimeout(ctx, flushTimeout)
	defer cancel()

	if err := s.vectors.Clear(flushCtx); err != nil {
		return nil, FlushAllOutput{JobsCancelled: cancelled}, MapError(err)
	}

	for _, dir := range []string{s.roots.Repositories, s.roots.Fetched} {
		if err := clearDir(dir); err != nil {
			s.logger.Warn("flush_all: failed to clear directory", slog.String("dir", dir), slog.String("error", err.Error()))
		}
	}

	return nil, FlushAllOutput{JobsCancelled: cancelled, Cleared: true}, nil
}

func clearDir(dir string) error {
	if dir == "" {
		return nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	return os.MkdirAll(dir, 0o755)
}

// GetJobStatusInput is the input schema for get_job_status.
type GetJobStatusInput struct {
	JobId string `json:"jobId" jsonschema:"id of the job to look up"`
}

// JobOutput is a full lifecycle snapshot of a job.
type JobOutput struct {
	JobId     string `json:"jobId"`
	Kind      string `json:"kind"`
	Status    string `json:"status"`
	Progress  int    `json:"progress"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime,omitempty"`
	Result    any    `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (s *Server) handleGetJobStatus(ctx context.Context, req *mcp.CallToolRequest, input GetJobStatusInput) (
	*mcp.CallToolResult, JobOutput, error,
) {
	s.trackSession(req)
	id := strings.TrimSpace(input.JobId)
	if id == "" {
		return nil, JobOutput{}, NewInvalidParamsError("jobId is required")
	}

	job, ok := s.jobMgr.Get(id)
	if !ok {
		return nil, JobOutput{}, NewJobNotFoundError(id)
	}
	return nil, toJobOutput(job), nil
}

// ListActiveJobsInput is the (empty) input schema for list_active_jobs.
type ListActiveJobsInput struct{}

// ListActiveJobsOutput is the output schema for list_active_jobs.
type ListActiveJobsOutput struct {
	Jobs       []JobOutput      `json:"jobs"`
	Statistics StatisticsOutput `json:"statistics"`
}

// StatisticsOutput mirrors jobs.Statistics for the wire format.
type StatisticsOutput struct {
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Total     int `json:"total"`
}

func (s *Server) handleListActiveJobs(ctx context.Context, req *mcp.CallToolRequest, _ ListActiveJobsInput) (
	*mcp.CallToolResult, ListActiveJobsOutput, error,
) {
	s.trackSession(req)
	active := s.jobMgr.ListActive()
	out := ListActiveJobsOutput{Jobs: make([]JobOutput, 0, len(active))}
	for _, j := range active {
		out.Jobs = append(out.Jobs, toJobOutput(j))
	}
	stats := s.jobMgr.StatisticsSnapshot()
	out.Statistics = StatisticsOutput{Running: stats.Running, Completed: stats.Completed, Failed: stats.Failed, Total: stats.Total}
	return nil, out, nil
}

func toJobOutput(job jobs.Job) JobOutput {
	out := JobOutput{
		JobId:     job.ID,
		Kind:      string(job.Kind),
		Status:    string(job.Status),
		Progress:  job.Progress,
		StartTime: job.StartTime.Format(time.RFC3339Nano),
		Result:    job.Result,
		Error:     job.Error,
	}
	if job.EndTime != nil {
		out.EndTime = job.EndTime.Format(time.RFC3339Nano)
	}
	return out
}
