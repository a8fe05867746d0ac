package memory

import (
	"context"
	"errors"
	"time"

	"draftplane/internal/store"
)

var errTxDone = errors.New("memory: transaction already finished")

// jobTx stages writes for one job. Nothing touches the Store until Commit.
type jobTx struct {
	store *Store
	lock  chan struct{}
	done  bool

	job      store.Job
	jobDirty bool

	events  map[string]store.CallbackEvent
	audits  []store.TransitionAudit
	latest  *time.Time
	retries map[string]store.RetryRequest

	dispatch        *store.WorkflowDispatch
	dispatchDeleted bool

	transcript    []store.TranscriptSegment
	transcriptSet bool
}

func (tx *jobTx) Job() store.Job {
	return tx.job.Clone()
}

func (tx *jobTx) CallbackEvent(_ context.Context, eventID string) (*store.CallbackEvent, error) {
	if ev, ok := tx.events[eventID]; ok {
		return &ev, nil
	}
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()

	ev, ok := tx.store.callbackEvents[eventKey{jobID: tx.job.ID, eventID: eventID}]
	if !ok {
		return nil, nil
	}
	return &ev, nil
}

func (tx *jobTx) LatestCallbackAt(_ context.Context) (*time.Time, error) {
	if tx.latest != nil {
		at := *tx.latest
		return &at, nil
	}
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()

	at, ok := tx.store.latestCallback[tx.job.ID]
	if !ok {
		return nil, nil
	}
	return &at, nil
}

func (tx *jobTx) Dispatch(_ context.Context) (*store.WorkflowDispatch, error) {
	if tx.dispatchDeleted {
		return nil, nil
	}
	if tx.dispatch != nil {
		d := *tx.dispatch
		d.Payload = copyPayload(d.Payload)
		return &d, nil
	}
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()

	d, ok := tx.store.dispatches[tx.job.ID]
	if !ok {
		return nil, nil
	}
	d.Payload = copyPayload(d.Payload)
	return &d, nil
}

func (tx *jobTx) RetryRequest(_ context.Context, clientRequestID string) (*store.RetryRequest, error) {
	if r, ok := tx.retries[clientRequestID]; ok {
		return &r, nil
	}
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()

	r, ok := tx.store.retryRequests[retryKey{jobID: tx.job.ID, clientRequestID: clientRequestID}]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (tx *jobTx) Transcript(_ context.Context) ([]store.TranscriptSegment, error) {
	if tx.transcriptSet {
		return append([]store.TranscriptSegment{}, tx.transcript...), nil
	}
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()

	return append([]store.TranscriptSegment{}, tx.store.transcripts[tx.job.ID]...), nil
}

func (tx *jobTx) PutJob(_ context.Context, job store.Job) error {
	if tx.done {
		return errTxDone
	}
	tx.job = job.Clone()
	tx.jobDirty = true
	return nil
}

func (tx *jobTx) PutTranscript(_ context.Context, segments []store.TranscriptSegment) error {
	if tx.done {
		return errTxDone
	}
	tx.transcript = append([]store.TranscriptSegment{}, segments...)
	tx.transcriptSet = true
	return nil
}

func (tx *jobTx) PutCallbackEvent(_ context.Context, event store.CallbackEvent) error {
	if tx.done {
		return errTxDone
	}
	tx.events[event.EventID] = event
	return nil
}

func (tx *jobTx) AppendAudit(_ context.Context, record store.TransitionAudit) error {
	if tx.done {
		return errTxDone
	}
	tx.audits = append(tx.audits, record)
	return nil
}

func (tx *jobTx) SetLatestCallbackAt(_ context.Context, at time.Time) error {
	if tx.done {
		return errTxDone
	}
	tx.latest = &at
	return nil
}

func (tx *jobTx) PutDispatch(_ context.Context, dispatch store.WorkflowDispatch) error {
	if tx.done {
		return errTxDone
	}
	d := dispatch
	d.Payload = copyPayload(dispatch.Payload)
	tx.dispatch = &d
	tx.dispatchDeleted = false
	return nil
}

func (tx *jobTx) DeleteDispatch(_ context.Context) error {
	if tx.done {
		return errTxDone
	}
	tx.dispatch = nil
	tx.dispatchDeleted = true
	return nil
}

func (tx *jobTx) PutRetryRequest(_ context.Context, request store.RetryRequest) error {
	if tx.done {
		return errTxDone
	}
	tx.retries[request.ClientRequestID] = request
	return nil
}

// Commit applies every staged write under the store lock in one step.
func (tx *jobTx) Commit() error {
	if tx.done {
		return errTxDone
	}
	s := tx.store
	s.mu.Lock()

	jobID := tx.job.ID
	if tx.jobDirty {
		j := tx.job.Clone()
		s.jobs[jobID] = &j
		s.stats.JobWrites++
	}
	for id, ev := range tx.events {
		s.callbackEvents[eventKey{jobID: jobID, eventID: id}] = ev
	}
	if len(tx.audits) > 0 {
		s.audits = append(s.audits, tx.audits...)
		s.stats.AuditWrites += int64(len(tx.audits))
	}
	if tx.latest != nil {
		s.latestCallback[jobID] = *tx.latest
	}
	for crid, r := range tx.retries {
		s.retryRequests[retryKey{jobID: jobID, clientRequestID: crid}] = r
	}
	switch {
	case tx.dispatch != nil:
		s.dispatches[jobID] = *tx.dispatch
		s.stats.DispatchWrites++
	case tx.dispatchDeleted:
		delete(s.dispatches, jobID)
	}
	if tx.transcriptSet {
		s.transcripts[jobID] = tx.transcript
	}

	s.mu.Unlock()
	tx.finish()
	return nil
}

// Rollback discards staged writes. It is a no-op after Commit.
func (tx *jobTx) Rollback() error {
	if tx.done {
		return nil
	}
	tx.finish()
	return nil
}

func (tx *jobTx) finish() {
	tx.done = true
	<-tx.lock
}
