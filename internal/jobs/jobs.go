// Package jobs implements the in-memory job manager and progress bus
// (component C8): lifecycle tracking, a status cache for lock-free reads,
// and asynchronous progress-event fan-out to per-job and global
// subscribers.
package jobs

import (
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	apperrors "local-search-mcp/internal/errors"
)

// Kind identifies the source pipeline that created a job.
type Kind string

const (
	KindFetchRepo   Kind = "fetch_repo"
	KindFetchFile   Kind = "fetch_file"
	KindWatchAdd    Kind = "watch_add"
	KindWatchChange Kind = "watch_change"
	KindWatchRemove Kind = "watch_remove"
)

// Status is a job's lifecycle state.
type Status string

const (
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// unsubscribeDelay is how long a terminal job's subscriptions and cached
// status entry are kept alive after completion, so late subscribers still
// observe the terminal state.
const unsubscribeDelay = 5 * time.Second

// Job is an immutable snapshot of a tracked async task.
type Job struct {
	ID        string
	Kind      Kind
	Status    Status
	Progress  int
	StartTime time.Time
	EndTime   *time.Time
	Result    any
	Error     string
	Metadata  map[string]any
}

type jobState struct {
	mu        sync.Mutex
	job       Job
	cancelled bool
	subs      []chan ProgressEvent

	deliverMu  sync.Mutex
	queue      []pendingDispatch
	delivering bool
}

// pendingDispatch is one queued delivery: the event plus the subscriber set
// captured at the moment the event was produced.
type pendingDispatch struct {
	evt    ProgressEvent
	perJob []chan ProgressEvent
}

// ProgressEvent is delivered to subscribers on every update_progress,
// complete, or fail call.
type ProgressEvent struct {
	JobID    string
	Status   Status
	Progress int
	Message  string
	Terminal bool
}

// Statistics summarizes the job population for list_active_jobs.
type Statistics struct {
	Running   int
	Completed int
	Failed    int
	Total     int
}

// Manager owns the process-wide job map and status cache described in
// spec §4.8. All mutation goes through a single lock; reads of the
// recent-status cache avoid contention with in-flight writers.
type Manager struct {
	mu    sync.Mutex
	jobs  map[string]*jobState
	cache *lru.Cache[string, Job]

	globalMu   sync.Mutex
	globalSubs []chan ProgressEvent

	newID func() string
	now   func() time.Time
}

// NewManager builds a Manager with a status cache of the given size.
func NewManager(cacheSize int) *Manager {
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	cache, _ := lru.New[string, Job](cacheSize)
	return &Manager{
		jobs:  make(map[string]*jobState),
		cache: cache,
		newID: func() string { return uuid.NewString() },
		now:   time.Now,
	}
}

// Create registers a new RUNNING job at progress 0 and returns its id.
func (m *Manager) Create(kind Kind, metadata map[string]any) string {
	id := m.newID()
	job := Job{
		ID:        id,
		Kind:      kind,
		Status:    StatusRunning,
		Progress:  0,
		StartTime: m.now(),
		Metadata:  metadata,
	}

	state := &jobState{job: job}

	m.mu.Lock()
	m.jobs[id] = state
	m.mu.Unlock()

	m.cache.Add(id, job)
	return id
}

// UpdateProgress clamps pct to [0,100], updates the job, and schedules an
// asynchronous dispatch to subscribers — never synchronous from the
// caller's goroutine, so a slow or panicking subscriber cannot block or
// re-enter the pipeline.
func (m *Manager) UpdateProgress(id string, pct int, message string, meta map[string]any) error {
	state, ok := m.lookup(id)
	if !ok {
		return apperrors.Job("unknown job: "+id, nil)
	}
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}

	state.mu.Lock()
	if state.job.Status != StatusRunning {
		state.mu.Unlock()
		return nil
	}
	state.job.Progress = pct
	if meta != nil {
		if state.job.Metadata == nil {
			state.job.Metadata = map[string]any{}
		}
		for k, v := range meta {
			state.job.Metadata[k] = v
		}
	}
	snapshot := state.job
	subs := append([]chan ProgressEvent(nil), state.subs...)
	state.mu.Unlock()

	m.cache.Add(id, snapshot)
	m.dispatch(state, ProgressEvent{JobID: id, Status: snapshot.Status, Progress: pct, Message: message}, subs)
	return nil
}

// Complete transitions a job to COMPLETED, forcing progress to 100.
func (m *Manager) Complete(id string, result any) error {
	return m.finish(id, StatusCompleted, result, "")
}

// Fail transitions a job to FAILED with the given error message.
func (m *Manager) Fail(id string, errMsg string) error {
	return m.finish(id, StatusFailed, nil, errMsg)
}

// Cancel cooperatively requests cancellation: only RUNNING jobs transition,
// landing in FAILED with error="cancelled". Long-running stages observe
// IsCancelled between batches and abort on their own.
func (m *Manager) Cancel(id string) error {
	state, ok := m.lookup(id)
	if !ok {
		return apperrors.Job("unknown job: "+id, nil)
	}
	state.mu.Lock()
	if state.job.Status != StatusRunning {
		state.mu.Unlock()
		return nil
	}
	state.cancelled = true
	state.mu.Unlock()
	return m.Fail(id, "cancelled")
}

// IsCancelled reports whether cancellation has been requested for id.
// Pipeline stages poll this between batches/HTTP calls.
func (m *Manager) IsCancelled(id string) bool {
	state, ok := m.lookup(id)
	if !ok {
		return false
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.cancelled
}

func (m *Manager) finish(id string, status Status, result any, errMsg string) error {
	state, ok := m.lookup(id)
	if !ok {
		return apperrors.Job("unknown job: "+id, nil)
	}

	state.mu.Lock()
	if state.job.Status != StatusRunning {
		state.mu.Unlock()
		return nil
	}
	now := m.now()
	state.job.Status = status
	state.job.Progress = 100
	state.job.EndTime = &now
	state.job.Result = result
	state.job.Error = errMsg
	snapshot := state.job
	subs := append([]chan ProgressEvent(nil), state.subs...)
	state.mu.Unlock()

	m.cache.Add(id, snapshot)
	m.dispatch(state, ProgressEvent{JobID: id, Status: status, Progress: 100, Terminal: true}, subs)

	time.AfterFunc(unsubscribeDelay, func() {
		state.mu.Lock()
		state.subs = nil
		state.mu.Unlock()
		m.cache.Remove(id)
	})
	return nil
}

// Get returns a snapshot of job id, preferring the hot cache.
func (m *Manager) Get(id string) (Job, bool) {
	if j, ok := m.cache.Get(id); ok {
		return j, true
	}
	state, ok := m.lookup(id)
	if !ok {
		return Job{}, false
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.job, true
}

// ListActive returns all currently RUNNING jobs.
func (m *Manager) ListActive() []Job {
	m.mu.Lock()
	states := make([]*jobState, 0, len(m.jobs))
	for _, s := range m.jobs {
		states = append(states, s)
	}
	m.mu.Unlock()

	var active []Job
	for _, s := range states {
		s.mu.Lock()
		if s.job.Status == StatusRunning {
			active = append(active, s.job)
		}
		s.mu.Unlock()
	}
	return active
}

// StatisticsSnapshot reports aggregate counts across tracked jobs.
func (m *Manager) StatisticsSnapshot() Statistics {
	m.mu.Lock()
	states := make([]*jobState, 0, len(m.jobs))
	for _, s := range m.jobs {
		states = append(states, s)
	}
	m.mu.Unlock()

	var stats Statistics
	for _, s := range states {
		s.mu.Lock()
		switch s.job.Status {
		case StatusRunning:
			stats.Running++
		case StatusCompleted:
			stats.Completed++
		case StatusFailed:
			stats.Failed++
		}
		s.mu.Unlock()
	}
	stats.Total = stats.Running + stats.Completed + stats.Failed
	return stats
}

// Cleanup evicts terminal jobs whose end_time is older than maxAge.
// RUNNING jobs are never evicted.
func (m *Manager) Cleanup(maxAge time.Duration) int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0
	for id, s := range m.jobs {
		s.mu.Lock()
		stale := s.job.Status != StatusRunning && s.job.EndTime != nil && now.Sub(*s.job.EndTime) > maxAge
		s.mu.Unlock()
		if stale {
			delete(m.jobs, id)
			m.cache.Remove(id)
			evicted++
		}
	}
	return evicted
}

// Subscribe registers a per-job progress channel. The returned function
// deregisters it; deregistration is the only reference the manager holds,
// matching the spec's "weak reference, deregistered on unsubscribe"
// contract.
func (m *Manager) Subscribe(id string, buffer int) (<-chan ProgressEvent, func(), bool) {
	state, ok := m.lookup(id)
	if !ok {
		return nil, func() {}, false
	}
	ch := make(chan ProgressEvent, buffer)
	state.mu.Lock()
	state.subs = append(state.subs, ch)
	state.mu.Unlock()

	unsubscribe := func() {
		state.mu.Lock()
		for i, s := range state.subs {
			if s == ch {
				state.subs = append(state.subs[:i], state.subs[i+1:]...)
				break
			}
		}
		state.mu.Unlock()
		close(ch)
	}
	return ch, unsubscribe, true
}

// SubscribeGlobal registers a firehose channel receiving every job's events.
func (m *Manager) SubscribeGlobal(buffer int) (<-chan ProgressEvent, func()) {
	ch := make(chan ProgressEvent, buffer)
	m.globalMu.Lock()
	m.globalSubs = append(m.globalSubs, ch)
	m.globalMu.Unlock()

	unsubscribe := func() {
		m.globalMu.Lock()
		for i, s := range m.globalSubs {
			if s == ch {
				m.globalSubs = append(m.globalSubs[:i], m.globalSubs[i+1:]...)
				break
			}
		}
		m.globalMu.Unlock()
		close(ch)
	}
	return ch, unsubscribe
}

// dispatch enqueues an event for asynchronous delivery, never blocking or
// re-entering the caller. Events for the same job are delivered strictly in
// the order they were enqueued here: a single per-job drain goroutine is
// started on the first queued event and keeps running until the queue empties,
// so two events produced back-to-back for one job (e.g. a progress update
// immediately followed by completion) can never be observed out of order by a
// subscriber, even though each dispatch call itself returns immediately.
func (m *Manager) dispatch(state *jobState, evt ProgressEvent, perJob []chan ProgressEvent) {
	state.deliverMu.Lock()
	state.queue = append(state.queue, pendingDispatch{evt: evt, perJob: perJob})
	if state.delivering {
		state.deliverMu.Unlock()
		return
	}
	state.delivering = true
	state.deliverMu.Unlock()

	go m.drain(state)
}

// drain delivers state's queued events in order, one at a time, until the
// queue is empty.
func (m *Manager) drain(state *jobState) {
	for {
		state.deliverMu.Lock()
		if len(state.queue) == 0 {
			state.delivering = false
			state.deliverMu.Unlock()
			return
		}
		item := state.queue[0]
		state.queue = state.queue[1:]
		state.deliverMu.Unlock()

		m.deliverOne(item.evt, item.perJob)
	}
}

// deliverOne fans a single event out to its per-job and global subscribers.
// Slow or full subscriber channels drop the event rather than block.
func (m *Manager) deliverOne(evt ProgressEvent, perJob []chan ProgressEvent) {
	for _, ch := range perJob {
		select {
		case ch <- evt:
		default:
		}
	}

	m.globalMu.Lock()
	global := append([]chan ProgressEvent(nil), m.globalSubs...)
	m.globalMu.Unlock()

	for _, ch := range global {
		select {
		case ch <- evt:
		default:
		}
	}
}

func (m *Manager) lookup(id string) (*jobState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.jobs[id]
	return s, ok
}
