// Package memory is the in-process reference implementation of store.Store.
//
// Mutations on a job are serialized by a per-job lock held from BeginJobTx
// until Commit or Rollback. Staged writes live in the transaction and are
// applied to the shared maps in one step on Commit, so an abandoned
// transaction leaves no trace. Reads return copies.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"draftplane/internal/fsm"
	"draftplane/internal/store"
)

var _ store.Store = (*Store)(nil)

type eventKey struct {
	jobID   string
	eventID string
}

type retryKey struct {
	jobID           string
	clientRequestID string
}

// Stats counts committed writes. It is an observability hook for tests and
// metrics, not a persisted value.
type Stats struct {
	JobWrites         int64
	DispatchWrites    int64
	ProjectWrites     int64
	InstructionWrites int64
	AuditWrites       int64
}

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access.
type Store struct {
	mu sync.RWMutex

	projects       map[string]*store.Project
	instructions   map[string][]store.Instruction
	apiKeys        map[string]*store.APIKey
	jobs           map[string]*store.Job
	callbackEvents map[eventKey]store.CallbackEvent
	latestCallback map[string]time.Time
	dispatches     map[string]store.WorkflowDispatch
	retryRequests  map[retryKey]store.RetryRequest
	transcripts    map[string][]store.TranscriptSegment
	audits         []store.TransitionAudit
	stats          Stats

	locksMu  sync.Mutex
	jobLocks map[string]chan struct{}
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		projects:       make(map[string]*store.Project),
		instructions:   make(map[string][]store.Instruction),
		apiKeys:        make(map[string]*store.APIKey),
		jobs:           make(map[string]*store.Job),
		callbackEvents: make(map[eventKey]store.CallbackEvent),
		latestCallback: make(map[string]time.Time),
		dispatches:     make(map[string]store.WorkflowDispatch),
		retryRequests:  make(map[retryKey]store.RetryRequest),
		transcripts:    make(map[string][]store.TranscriptSegment),
		jobLocks:       make(map[string]chan struct{}),
	}
}

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// Stats returns the committed write counters.
func (m *Store) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

// Projects

func (m *Store) CreateProject(_ context.Context, p *store.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *p
	m.projects[p.ID] = &cp
	m.stats.ProjectWrites++
	return nil
}

func (m *Store) GetProject(_ context.Context, id string) (*store.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.projects[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *Store) ListProjectsByOwner(_ context.Context, ownerID string) ([]store.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []store.Project
	for _, p := range m.projects {
		if p.OwnerID == ownerID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Instructions

func (m *Store) LatestInstruction(_ context.Context, projectID string) (*store.Instruction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	versions := m.instructions[projectID]
	if len(versions) == 0 {
		return nil, store.ErrNotFound
	}
	cp := versions[len(versions)-1]
	return &cp, nil
}

func (m *Store) GetInstructionVersion(_ context.Context, projectID string, version int) (*store.Instruction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, in := range m.instructions[projectID] {
		if in.Version == version {
			cp := in
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *Store) AppendInstruction(_ context.Context, in *store.Instruction, baseVersion int) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	versions := m.instructions[in.ProjectID]
	current := 0
	if len(versions) > 0 {
		current = versions[len(versions)-1].Version
	}
	if current != baseVersion {
		return current, false, nil
	}
	m.instructions[in.ProjectID] = append(versions, *in)
	m.stats.InstructionWrites++
	return in.Version, true, nil
}

// API keys

func (m *Store) CreateAPIKey(_ context.Context, key *store.APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *key
	m.apiKeys[key.KeyHash] = &cp
	return nil
}

func (m *Store) GetAPIKeyByHash(_ context.Context, hash string) (*store.APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	k, ok := m.apiKeys[hash]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *k
	return &cp, nil
}

// Jobs

func (m *Store) CreateJob(_ context.Context, j *store.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := j.Clone()
	m.jobs[j.ID] = &cp
	m.stats.JobWrites++
	return nil
}

func (m *Store) GetJob(_ context.Context, id string) (*store.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := j.Clone()
	return &cp, nil
}

func (m *Store) CountActiveJobs(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, j := range m.jobs {
		if !fsm.IsTerminal(j.Status) {
			n++
		}
	}
	return n, nil
}

// BeginJobTx waits for the job's lock, honoring ctx while waiting.
func (m *Store) BeginJobTx(ctx context.Context, jobID string) (store.JobTx, error) {
	lock := m.lockFor(jobID)
	select {
	case lock <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	m.mu.RLock()
	j, ok := m.jobs[jobID]
	var base store.Job
	if ok {
		base = j.Clone()
	}
	m.mu.RUnlock()

	if !ok {
		<-lock
		return nil, store.ErrNotFound
	}

	return &jobTx{
		store:   m,
		lock:    lock,
		job:     base,
		events:  make(map[string]store.CallbackEvent),
		retries: make(map[string]store.RetryRequest),
	}, nil
}

func (m *Store) lockFor(jobID string) chan struct{} {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()

	lock, ok := m.jobLocks[jobID]
	if !ok {
		lock = make(chan struct{}, 1)
		m.jobLocks[jobID] = lock
	}
	return lock
}

// Snapshot is a deep copy of every record owned by one job.
type Snapshot struct {
	Job            store.Job
	CallbackEvents map[string]store.CallbackEvent
	Audits         []store.TransitionAudit
	LatestCallback *time.Time
	Dispatch       *store.WorkflowDispatch
	RetryRequests  map[string]store.RetryRequest
	Transcript     []store.TranscriptSegment
}

// Snapshot captures the committed state of a job for inspection.
func (m *Store) Snapshot(jobID string) Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var snap Snapshot
	if j, ok := m.jobs[jobID]; ok {
		snap.Job = j.Clone()
	}
	snap.CallbackEvents = make(map[string]store.CallbackEvent)
	for k, ev := range m.callbackEvents {
		if k.jobID == jobID {
			snap.CallbackEvents[k.eventID] = ev
		}
	}
	for _, a := range m.audits {
		if a.JobID == jobID {
			snap.Audits = append(snap.Audits, a)
		}
	}
	if at, ok := m.latestCallback[jobID]; ok {
		snap.LatestCallback = &at
	}
	if d, ok := m.dispatches[jobID]; ok {
		d.Payload = copyPayload(d.Payload)
		snap.Dispatch = &d
	}
	snap.RetryRequests = make(map[string]store.RetryRequest)
	for k, r := range m.retryRequests {
		if k.jobID == jobID {
			snap.RetryRequests[k.clientRequestID] = r
		}
	}
	if segs, ok := m.transcripts[jobID]; ok {
		snap.Transcript = append([]store.TranscriptSegment{}, segs...)
	}
	return snap
}

func copyPayload(p map[string]string) map[string]string {
	if p == nil {
		return nil
	}
	out := make(map[string]string, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
