package memory

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"draftplane/internal/fsm"
	"draftplane/internal/store"
)

func strPtr(s string) *string { return &s }

func seedJob(t *testing.T, s *Store, status fsm.Status, manifest *store.Manifest) store.Job {
	t.Helper()
	job := store.Job{
		ID:        "job-1",
		ProjectID: "project-1",
		OwnerID:   "user-1",
		Status:    status,
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Manifest:  manifest,
	}
	if err := s.CreateJob(context.Background(), &job); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	return job
}

func callbackEvent(id string, status fsm.Status, at time.Time, artifacts string) store.CallbackEvent {
	return store.CallbackEvent{
		JobID:           "job-1",
		EventID:         id,
		Status:          status,
		OccurredAt:      at,
		ActorType:       strPtr("orchestrator"),
		ArtifactUpdates: json.RawMessage(artifacts),
		FailureCode:     strPtr("E_AUDIO"),
		CorrelationID:   "corr-1",
	}
}

func TestApplyCallbackMutation_Commit(t *testing.T) {
	s := New()
	seedJob(t, s, fsm.Uploaded, &store.Manifest{VideoURI: strPtr("s3://v.mp4")})
	ctx := context.Background()
	at := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)

	tx, err := s.BeginJobTx(ctx, "job-1")
	if err != nil {
		t.Fatalf("BeginJobTx failed: %v", err)
	}
	defer tx.Rollback()

	ev := callbackEvent("e1", fsm.AudioExtracting, at, `{"audio_uri": "s3://a.wav", "video_uri": "s3://other.mp4", "transcript_segments": [{"start_ms": 0, "end_ms": 5, "text": "hi"}]}`)
	job, err := store.ApplyCallbackMutation(ctx, tx, ev, at.Add(time.Minute), nil)
	if err != nil {
		t.Fatalf("ApplyCallbackMutation failed: %v", err)
	}
	if job.Status != fsm.AudioExtracting {
		t.Errorf("expected AUDIO_EXTRACTING, got %s", job.Status)
	}

	if got := s.Snapshot("job-1").Job.Status; got != fsm.Uploaded {
		t.Errorf("staged writes must not be visible before commit, got %s", got)
	}

	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	snap := s.Snapshot("job-1")
	if snap.Job.Status != fsm.AudioExtracting {
		t.Errorf("expected committed AUDIO_EXTRACTING, got %s", snap.Job.Status)
	}
	if *snap.Job.Manifest.VideoURI != "s3://v.mp4" {
		t.Errorf("video uri must be write once, got %s", *snap.Job.Manifest.VideoURI)
	}
	if snap.Job.Manifest.AudioURI == nil || *snap.Job.Manifest.AudioURI != "s3://a.wav" {
		t.Errorf("expected audio uri to be set, got %v", snap.Job.Manifest.AudioURI)
	}
	if snap.Job.FailureCode == nil || *snap.Job.FailureCode != "E_AUDIO" {
		t.Errorf("expected failure code E_AUDIO, got %v", snap.Job.FailureCode)
	}
	if _, ok := snap.CallbackEvents["e1"]; !ok {
		t.Error("expected callback event e1 to be stored")
	}
	if len(snap.Audits) != 1 {
		t.Fatalf("expected 1 audit, got %d", len(snap.Audits))
	}
	audit := snap.Audits[0]
	if audit.PrevStatus != fsm.Uploaded || audit.NewStatus != fsm.AudioExtracting {
		t.Errorf("unexpected audit transition %s -> %s", audit.PrevStatus, audit.NewStatus)
	}
	if audit.EventType != store.TransitionAuditEventType || audit.ActorType != "orchestrator" {
		t.Errorf("unexpected audit %+v", audit)
	}
	if snap.LatestCallback == nil || !snap.LatestCallback.Equal(at) {
		t.Errorf("expected latest callback %v, got %v", at, snap.LatestCallback)
	}
	if len(snap.Transcript) != 1 {
		t.Errorf("expected 1 transcript segment, got %d", len(snap.Transcript))
	}
}

func TestApplyCallbackMutation_RollbackAtEveryStage(t *testing.T) {
	stages := []string{
		store.StageAfterStatus,
		store.StageAfterManifest,
		store.StageAfterFailureMetadata,
		store.StageAfterCallbackEvent,
	}

	for _, stage := range stages {
		t.Run(stage, func(t *testing.T) {
			s := New()
			seedJob(t, s, fsm.AudioExtracting, &store.Manifest{VideoURI: strPtr("s3://v.mp4")})
			ctx := context.Background()
			t0 := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)

			// One applied callback so the latest index and audit list are non-empty.
			tx, _ := s.BeginJobTx(ctx, "job-1")
			if _, err := store.ApplyCallbackMutation(ctx, tx, callbackEvent("e0", fsm.AudioExtracting, t0, `{}`), t0, nil); err != nil {
				t.Fatalf("seed callback failed: %v", err)
			}
			tx.Commit()

			before := s.Snapshot("job-1")
			statsBefore := s.Stats()

			fp := store.NewFailPoints()
			fp.Inject("e1", stage, "injected fault")

			tx, err := s.BeginJobTx(ctx, "job-1")
			if err != nil {
				t.Fatalf("BeginJobTx failed: %v", err)
			}
			ev := callbackEvent("e1", fsm.AudioReady, t0.Add(time.Second), `{"audio_uri": "s3://a.wav", "transcript_segments": []}`)
			_, err = store.ApplyCallbackMutation(ctx, tx, ev, t0.Add(time.Minute), fp)
			tx.Rollback()

			if err == nil || err.Error() != "injected fault" {
				t.Fatalf("expected injected fault, got %v", err)
			}

			after := s.Snapshot("job-1")
			if !reflect.DeepEqual(before, after) {
				t.Errorf("state changed after rollback:\nbefore %+v\nafter  %+v", before, after)
			}
			if s.Stats() != statsBefore {
				t.Errorf("write counters changed: %+v -> %+v", statsBefore, s.Stats())
			}

			// The fault is one-shot, so the same event now applies.
			tx, _ = s.BeginJobTx(ctx, "job-1")
			if _, err := store.ApplyCallbackMutation(ctx, tx, ev, t0.Add(time.Minute), fp); err != nil {
				t.Fatalf("retry after cleared fault failed: %v", err)
			}
			tx.Commit()
			if got := s.Snapshot("job-1").Job.Status; got != fsm.AudioReady {
				t.Errorf("expected AUDIO_READY, got %s", got)
			}
		})
	}
}

func TestApplyCallbackMutation_RetryResumeBranch(t *testing.T) {
	s := New()
	job := store.Job{
		ID:                    "job-1",
		ProjectID:             "project-1",
		OwnerID:               "user-1",
		Status:                fsm.Failed,
		RetryResumeFromStatus: fsm.DraftReady,
		RetryDispatchID:       "dispatch-1",
	}
	s.CreateJob(context.Background(), &job)
	ctx := context.Background()
	now := time.Now()

	tx, _ := s.BeginJobTx(ctx, "job-1")
	got, err := store.ApplyCallbackMutation(ctx, tx, callbackEvent("e1", fsm.Regenerating, now, ``), now, nil)
	if err != nil {
		t.Fatalf("resume callback failed: %v", err)
	}
	tx.Commit()

	if got.Status != fsm.Regenerating {
		t.Errorf("expected REGENERATING, got %s", got.Status)
	}
	if got.RetryDispatchID != "" {
		t.Errorf("applied resume must consume the retry dispatch id, got %q", got.RetryDispatchID)
	}
	if got.RetryResumeFromStatus != fsm.DraftReady {
		t.Errorf("resume status should be kept for traceability, got %s", got.RetryResumeFromStatus)
	}
}

func TestApplyCallbackMutation_StaleRetryDoesNotUnlockResume(t *testing.T) {
	s := New()
	job := store.Job{
		ID:                    "job-1",
		Status:                fsm.Failed,
		RetryResumeFromStatus: fsm.DraftReady,
	}
	s.CreateJob(context.Background(), &job)
	ctx := context.Background()
	now := time.Now()

	tx, _ := s.BeginJobTx(ctx, "job-1")
	defer tx.Rollback()
	_, err := store.ApplyCallbackMutation(ctx, tx, callbackEvent("e1", fsm.Regenerating, now, ``), now, nil)
	if err == nil {
		t.Fatal("expected FSM_TERMINAL_IMMUTABLE without an active retry dispatch")
	}
}

func TestBeginJobTx_NotFound(t *testing.T) {
	s := New()
	_, err := s.BeginJobTx(context.Background(), "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	// The lock must have been released.
	seedJob(t, s, fsm.Created, nil)
	tx, err := s.BeginJobTx(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("BeginJobTx failed: %v", err)
	}
	tx.Rollback()
}

func TestBeginJobTx_SerializesPerJob(t *testing.T) {
	s := New()
	seedJob(t, s, fsm.Created, nil)
	ctx := context.Background()

	tx, _ := s.BeginJobTx(ctx, "job-1")

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if _, err := s.BeginJobTx(waitCtx, "job-1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected second tx to wait, got %v", err)
	}

	tx.Rollback()
	tx2, err := s.BeginJobTx(ctx, "job-1")
	if err != nil {
		t.Fatalf("expected lock to be free after rollback, got %v", err)
	}
	tx2.Rollback()
}

func TestBeginJobTx_ConcurrentWritersDoNotLoseUpdates(t *testing.T) {
	s := New()
	seedJob(t, s, fsm.Created, nil)
	ctx := context.Background()

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tx, err := s.BeginJobTx(ctx, "job-1")
			if err != nil {
				t.Errorf("BeginJobTx failed: %v", err)
				return
			}
			defer tx.Rollback()
			job := tx.Job()
			job.RetryCheckpointRef += "x"
			tx.PutJob(ctx, job)
			tx.Commit()
		}()
	}
	wg.Wait()

	got := s.Snapshot("job-1").Job.RetryCheckpointRef
	if len(got) != writers {
		t.Errorf("expected %d serialized writes, got %d", writers, len(got))
	}
}

func TestJobTx_DispatchLifecycle(t *testing.T) {
	s := New()
	seedJob(t, s, fsm.Uploaded, nil)
	ctx := context.Background()

	tx, _ := s.BeginJobTx(ctx, "job-1")
	tx.PutDispatch(ctx, store.WorkflowDispatch{ID: "dispatch-1", JobID: "job-1", Type: store.DispatchRun})
	d, _ := tx.Dispatch(ctx)
	if d == nil || d.ID != "dispatch-1" {
		t.Fatalf("expected staged dispatch to be readable, got %v", d)
	}
	tx.Commit()

	if s.Stats().DispatchWrites != 1 {
		t.Errorf("expected 1 dispatch write, got %d", s.Stats().DispatchWrites)
	}

	tx, _ = s.BeginJobTx(ctx, "job-1")
	tx.DeleteDispatch(ctx)
	tx.Commit()

	if s.Snapshot("job-1").Dispatch != nil {
		t.Error("expected dispatch to be deleted")
	}
}

func TestJobTx_WriteAfterCommitFails(t *testing.T) {
	s := New()
	seedJob(t, s, fsm.Created, nil)
	ctx := context.Background()

	tx, _ := s.BeginJobTx(ctx, "job-1")
	tx.Commit()

	if err := tx.PutJob(ctx, store.Job{ID: "job-1"}); err == nil {
		t.Error("expected error writing to a finished transaction")
	}
	if err := tx.Rollback(); err != nil {
		t.Errorf("rollback after commit must be a no-op, got %v", err)
	}
}

func TestInstructions_Versioning(t *testing.T) {
	s := New()
	ctx := context.Background()

	current, ok, err := s.AppendInstruction(ctx, &store.Instruction{ProjectID: "p1", Version: 1, Markdown: "v1"}, 0)
	if err != nil || !ok || current != 1 {
		t.Fatalf("expected version 1 to be appended, got %d %v %v", current, ok, err)
	}

	current, ok, _ = s.AppendInstruction(ctx, &store.Instruction{ProjectID: "p1", Version: 1, Markdown: "stale"}, 0)
	if ok || current != 1 {
		t.Errorf("expected conflict at version 1, got %d %v", current, ok)
	}

	s.AppendInstruction(ctx, &store.Instruction{ProjectID: "p1", Version: 2, Markdown: "v2"}, 1)
	latest, _ := s.LatestInstruction(ctx, "p1")
	if latest.Version != 2 || latest.Markdown != "v2" {
		t.Errorf("unexpected latest %+v", latest)
	}
	v1, _ := s.GetInstructionVersion(ctx, "p1", 1)
	if v1.Markdown != "v1" {
		t.Errorf("expected v1 markdown, got %q", v1.Markdown)
	}
	if _, err := s.GetInstructionVersion(ctx, "p1", 9); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListProjectsByOwner_Sorted(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	s.CreateProject(ctx, &store.Project{ID: "b", OwnerID: "u1", CreatedAt: base.Add(time.Hour)})
	s.CreateProject(ctx, &store.Project{ID: "a", OwnerID: "u1", CreatedAt: base})
	s.CreateProject(ctx, &store.Project{ID: "c", OwnerID: "u2", CreatedAt: base})

	projects, _ := s.ListProjectsByOwner(ctx, "u1")
	if len(projects) != 2 || projects[0].ID != "a" || projects[1].ID != "b" {
		t.Errorf("unexpected projects %+v", projects)
	}
}

func TestCountActiveJobs(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.CreateJob(ctx, &store.Job{ID: "1", Status: fsm.Generating})
	s.CreateJob(ctx, &store.Job{ID: "2", Status: fsm.Done})
	s.CreateJob(ctx, &store.Job{ID: "3", Status: fsm.Created})

	n, _ := s.CountActiveJobs(ctx)
	if n != 2 {
		t.Errorf("expected 2 active jobs, got %d", n)
	}
}

func TestApplyCallbackMutation_FailedClosesDispatch(t *testing.T) {
	s := New()
	seedJob(t, s, fsm.AudioExtracting, &store.Manifest{VideoURI: strPtr("s3://v.mp4")})
	ctx := context.Background()
	t0 := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)

	tx, _ := s.BeginJobTx(ctx, "job-1")
	tx.PutDispatch(ctx, store.WorkflowDispatch{ID: "dispatch-1", JobID: "job-1", Type: store.DispatchRun})
	tx.Commit()

	fp := store.NewFailPoints()
	fp.Inject("e1", store.StageAfterCallbackEvent, "injected fault")
	tx, _ = s.BeginJobTx(ctx, "job-1")
	if _, err := store.ApplyCallbackMutation(ctx, tx, callbackEvent("e1", fsm.Failed, t0, ``), t0, fp); err == nil {
		t.Fatal("expected injected fault")
	}
	tx.Rollback()
	if s.Snapshot("job-1").Dispatch == nil {
		t.Fatal("rolled back failure must keep the dispatch")
	}

	tx, _ = s.BeginJobTx(ctx, "job-1")
	if _, err := store.ApplyCallbackMutation(ctx, tx, callbackEvent("e1", fsm.Failed, t0, ``), t0, fp); err != nil {
		t.Fatalf("ApplyCallbackMutation failed: %v", err)
	}
	tx.Commit()
	if d := s.Snapshot("job-1").Dispatch; d != nil {
		t.Errorf("expected FAILED to close the dispatch, got %+v", d)
	}
}
