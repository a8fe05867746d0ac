package jobs

import (
	"context"
	"testing"

	"draftplane/internal/apierror"
	"draftplane/internal/fsm"
	"draftplane/internal/store"
	"draftplane/internal/store/memory"
)

func seedTranscript(t *testing.T, mem *memory.Store, segments []store.TranscriptSegment) {
	t.Helper()
	ctx := context.Background()
	tx, err := mem.BeginJobTx(ctx, "job-1")
	if err != nil {
		t.Fatalf("BeginJobTx failed: %v", err)
	}
	if err := tx.PutTranscript(ctx, segments); err != nil {
		t.Fatalf("PutTranscript failed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
}

func TestTranscript_PagesInTimeOrder(t *testing.T) {
	svc, mem, _ := newTestService(t)
	seedJob(t, mem, fsm.TranscriptReady, nil)
	seedTranscript(t, mem, []store.TranscriptSegment{
		{StartMS: 2000, EndMS: 3000, Text: "third"},
		{StartMS: 0, EndMS: 1000, Text: "first"},
		{StartMS: 1000, EndMS: 2000, Text: "second b"},
		{StartMS: 1000, EndMS: 2000, Text: "second a"},
	})
	ctx := context.Background()

	page, err := svc.Transcript(ctx, "user-1", "job-1", 3, "")
	if err != nil {
		t.Fatalf("Transcript failed: %v", err)
	}
	got := []string{}
	for _, s := range page.Items {
		got = append(got, s.Text)
	}
	want := []string{"first", "second a", "second b"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("item %d: expected %q, got %q", i, want[i], got[i])
		}
	}
	if page.Limit != 3 || page.NextCursor == nil || *page.NextCursor != "3" {
		t.Fatalf("unexpected paging %+v", page)
	}

	last, err := svc.Transcript(ctx, "user-1", "job-1", 3, *page.NextCursor)
	if err != nil {
		t.Fatalf("Transcript failed: %v", err)
	}
	if len(last.Items) != 1 || last.Items[0].Text != "third" || last.NextCursor != nil {
		t.Errorf("unexpected last page %+v", last)
	}
}

func TestTranscript_Cursor(t *testing.T) {
	svc, mem, _ := newTestService(t)
	seedJob(t, mem, fsm.Done, nil)
	seedTranscript(t, mem, []store.TranscriptSegment{
		{StartMS: 0, EndMS: 1, Text: "a"},
		{StartMS: 1, EndMS: 2, Text: "b"},
	})

	tests := []struct {
		name   string
		cursor string
		items  int
	}{
		{"garbage starts at zero", "abc", 2},
		{"negative starts at zero", "-4", 2},
		{"past the end is empty", "99", 0},
		{"middle", "1", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := svc.Transcript(context.Background(), "user-1", "job-1", DefaultTranscriptLimit, tt.cursor)
			if err != nil {
				t.Fatalf("Transcript failed: %v", err)
			}
			if len(page.Items) != tt.items {
				t.Errorf("expected %d items, got %d", tt.items, len(page.Items))
			}
			if page.NextCursor != nil {
				t.Errorf("expected no next cursor, got %q", *page.NextCursor)
			}
		})
	}
}

func TestTranscript_LimitOutOfRange(t *testing.T) {
	svc, mem, _ := newTestService(t)
	seedJob(t, mem, fsm.Done, nil)

	for _, limit := range []int{0, -1, 501} {
		_, err := svc.Transcript(context.Background(), "user-1", "job-1", limit, "")
		apiErr, ok := apierror.As(err)
		if !ok || apiErr.Status != 422 || apiErr.Code != apierror.CodeValidation {
			t.Fatalf("limit %d: expected 422 VALIDATION_ERROR, got %v", limit, err)
		}
		if apiErr.Details["limit"] != limit || apiErr.Details["min_limit"] != 1 || apiErr.Details["max_limit"] != 500 {
			t.Errorf("limit %d: unexpected details %v", limit, apiErr.Details)
		}
	}
}

func TestTranscript_NotReady(t *testing.T) {
	for _, status := range []fsm.Status{fsm.Created, fsm.Uploaded, fsm.Transcribing, fsm.Regenerating, fsm.Cancelled} {
		t.Run(string(status), func(t *testing.T) {
			svc, mem, _ := newTestService(t)
			seedJob(t, mem, status, nil)

			_, err := svc.Transcript(context.Background(), "user-1", "job-1", 10, "")
			assertCode(t, err, apierror.CodeTranscriptNotReady)
			apiErr, _ := apierror.As(err)
			if apiErr.Details["current_status"] != string(status) {
				t.Errorf("unexpected details %v", apiErr.Details)
			}
		})
	}
}
