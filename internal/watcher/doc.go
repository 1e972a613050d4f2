// Package watcher observes the watched document root for the filesystem
// watch spec.md §7 describes, debouncing rapid edits and falling back to
// polling when an fsnotify watcher cannot be created.
//
// The package implements a hybrid watching strategy:
//   - Primary: fsnotify for efficient event-based watching
//   - Fallback: polling, used only when fsnotify.NewWatcher fails; mounts
//     where fsnotify misses events are not detected
//
// Raw filesystem events are debounced here before watchsvc ever sees them,
// so a save-triggered burst of CREATE/MODIFY/MODIFY from an editor collapses
// into the single watch_add or watch_change job the pipeline orchestrator
// expects.
//
// Usage:
//
//	opts := watcher.DefaultOptions()
//	w, err := watcher.NewHybridWatcher(opts)
//	if err != nil {
//	    return err
//	}
//	defer w.Stop()
//
//	if err := w.Start(ctx, roots.Watched); err != nil {
//	    return err
//	}
//
//	for batch := range w.Events() {
//	    for _, event := range batch {
//	        switch event.Operation {
//	        case watcher.OpCreate:
//	            // enqueue a watch_add job
//	        case watcher.OpModify:
//	            // enqueue a watch_change job
//	        case watcher.OpDelete:
//	            // enqueue a watch_remove job
//	        }
//	    }
//	}
package watcher
