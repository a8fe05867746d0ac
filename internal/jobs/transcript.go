package jobs

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"draftplane/internal/apierror"
	"draftplane/internal/fsm"
	"draftplane/internal/store"
)

// Transcript page size bounds.
const (
	DefaultTranscriptLimit = 200
	MinTranscriptLimit     = 1
	MaxTranscriptLimit     = 500
)

// REGENERATING rewrites the draft from the transcript and is not readable.
var transcriptReadable = map[fsm.Status]bool{
	fsm.TranscriptReady: true,
	fsm.Generating:      true,
	fsm.DraftReady:      true,
	fsm.Editing:         true,
	fsm.Exporting:       true,
	fsm.Done:            true,
	fsm.Failed:          true,
}

// TranscriptPage is one page of segments ordered by time.
type TranscriptPage struct {
	Items      []store.TranscriptSegment
	Limit      int
	NextCursor *string
}

// Transcript pages through the job's transcript. cursor is an opaque offset;
// anything unparsable starts from the beginning.
func (s *Service) Transcript(ctx context.Context, ownerID, jobID string, limit int, cursor string) (TranscriptPage, error) {
	if limit < MinTranscriptLimit || limit > MaxTranscriptLimit {
		return TranscriptPage{}, apierror.InvalidParameter("limit is out of range.", map[string]any{
			"limit":     limit,
			"min_limit": MinTranscriptLimit,
			"max_limit": MaxTranscriptLimit,
		})
	}

	tx, job, err := s.beginOwned(ctx, ownerID, jobID)
	if err != nil {
		return TranscriptPage{}, err
	}
	defer tx.Rollback()

	if !transcriptReadable[job.Status] {
		return TranscriptPage{}, apierror.TranscriptNotReady(string(job.Status))
	}

	segments, err := tx.Transcript(ctx)
	if err != nil {
		return TranscriptPage{}, fmt.Errorf("failed to load transcript: %w", err)
	}
	sort.SliceStable(segments, func(i, j int) bool {
		a, b := segments[i], segments[j]
		if a.StartMS != b.StartMS {
			return a.StartMS < b.StartMS
		}
		if a.EndMS != b.EndMS {
			return a.EndMS < b.EndMS
		}
		return a.Text < b.Text
	})

	total := len(segments)
	offset, err := strconv.Atoi(cursor)
	if err != nil || offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}

	page := TranscriptPage{
		Items: append([]store.TranscriptSegment{}, segments[offset:end]...),
		Limit: limit,
	}
	if end < total {
		next := strconv.Itoa(end)
		page.NextCursor = &next
	}
	return page, nil
}
