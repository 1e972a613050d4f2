// Package watchsvc bridges the filesystem watcher to the job pipeline: it
// turns each debounced batch of watcher.FileEvent into a job plus a call
// into the orchestrator's process_watched_file pipeline.
package watchsvc

import (
	"context"
	"log/slog"

	"local-search-mcp/internal/jobs"
	"local-search-mcp/internal/pipeline"
	"local-search-mcp/internal/watcher"
)

// Watcher is the subset of watcher.HybridWatcher this service depends on.
type Watcher interface {
	Start(ctx context.Context, path string) error
	Stop() error
	Events() <-chan []watcher.FileEvent
	Errors() <-chan error
}

// Service drains a watcher's event stream and drives the orchestrator.
type Service struct {
	Watcher Watcher
	Orch    *pipeline.Orchestrator
	Root    string
}

// New builds a Service watching root through w and feeding orch.
func New(w Watcher, orch *pipeline.Orchestrator, root string) *Service {
	return &Service{Watcher: w, Orch: orch, Root: root}
}

// Run starts the underlying watcher and processes events until ctx is
// cancelled or the watcher stops on its own.
func (s *Service) Run(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- s.Watcher.Start(ctx, s.Root) }()

	for {
		select {
		case <-ctx.Done():
			_ = s.Watcher.Stop()
			return ctx.Err()
		case err := <-done:
			return err
		case batch, ok := <-s.Watcher.Events():
			if !ok {
				continue
			}
			s.handleBatch(ctx, batch)
		case err, ok := <-s.Watcher.Errors():
			if !ok {
				continue
			}
			slog.Warn("watcher reported a non-fatal error", slog.String("error", err.Error()))
		}
	}
}

func (s *Service) handleBatch(ctx context.Context, events []watcher.FileEvent) {
	for _, ev := range events {
		if ev.IsDir {
			continue
		}
		kind, watchEvent, ok := classify(ev.Operation)
		if !ok {
			continue
		}
		path := ev.Path
		jobID := s.Orch.Jobs.Create(kind, map[string]any{"path": path})
		if err := s.Orch.ProcessWatchedFile(ctx, jobID, path, watchEvent); err != nil {
			slog.Warn("failed to process watched file",
				slog.String("path", path),
				slog.String("error", err.Error()))
		}
	}
}

// classify maps a filesystem operation onto a job kind and the pipeline's
// add|change|unlink vocabulary. Renames are treated as a change at the new
// path; spec §4.9's process_watched_file has no rename-specific behavior.
func classify(op watcher.Operation) (jobs.Kind, pipeline.WatchEvent, bool) {
	switch op {
	case watcher.OpCreate:
		return jobs.KindWatchAdd, pipeline.WatchEventAdd, true
	case watcher.OpModify, watcher.OpRename:
		return jobs.KindWatchChange, pipeline.WatchEventChange, true
	case watcher.OpDelete:
		return jobs.KindWatchRemove, pipeline.WatchEventUnlink, true
	default:
		return "", "", false
	}
}
