package store

import (
	"encoding/json"
	"reflect"
	"testing"
)

func strPtr(s string) *string { return &s }

func TestMergeManifest(t *testing.T) {
	tests := []struct {
		name     string
		current  *Manifest
		updates  string
		expected *Manifest
	}{
		{
			name:     "no manifest and no qualifying keys stays nil",
			current:  nil,
			updates:  `{"unknown_key": "x", "draft_uri": null}`,
			expected: nil,
		},
		{
			name:     "first write sets raw artifacts",
			current:  nil,
			updates:  `{"video_uri": "s3://v.mp4", "audio_uri": "s3://a.wav"}`,
			expected: &Manifest{VideoURI: strPtr("s3://v.mp4"), AudioURI: strPtr("s3://a.wav")},
		},
		{
			name:     "raw artifacts are write once",
			current:  &Manifest{VideoURI: strPtr("s3://v.mp4")},
			updates:  `{"video_uri": "s3://other.mp4", "transcript_uri": "s3://t.json"}`,
			expected: &Manifest{VideoURI: strPtr("s3://v.mp4"), TranscriptURI: strPtr("s3://t.json")},
		},
		{
			name:     "non string raw value ignored",
			current:  nil,
			updates:  `{"audio_uri": 42}`,
			expected: nil,
		},
		{
			name:     "draft and exports overwrite",
			current:  &Manifest{DraftURI: strPtr("s3://d1"), Exports: []string{"e1"}},
			updates:  `{"draft_uri": "s3://d2", "exports": ["e2", "e3"]}`,
			expected: &Manifest{DraftURI: strPtr("s3://d2"), Exports: []string{"e2", "e3"}},
		},
		{
			name:     "null never clears mutable fields",
			current:  &Manifest{DraftURI: strPtr("s3://d1"), Exports: []string{"e1"}},
			updates:  `{"draft_uri": null, "exports": null}`,
			expected: &Manifest{DraftURI: strPtr("s3://d1"), Exports: []string{"e1"}},
		},
		{
			name:     "malformed exports ignored",
			current:  &Manifest{Exports: []string{"e1"}},
			updates:  `{"exports": [1, 2]}`,
			expected: &Manifest{Exports: []string{"e1"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			updates, err := ParseArtifactUpdates(json.RawMessage(tt.updates))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			got := MergeManifest(tt.current, updates.Manifest)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("expected %+v, got %+v", tt.expected, got)
			}
		})
	}
}

func TestMergeManifest_DoesNotAliasInput(t *testing.T) {
	current := &Manifest{Exports: []string{"e1"}}
	merged := MergeManifest(current, []ManifestUpdate{DraftURIUpdate{Value: "s3://d"}})

	merged.Exports[0] = "changed"
	if current.Exports[0] != "e1" {
		t.Error("merge must not alias the current manifest")
	}
	if current.DraftURI != nil {
		t.Error("merge must not mutate the current manifest")
	}
}

func TestParseArtifactUpdates_Transcript(t *testing.T) {
	raw := json.RawMessage(`{"transcript_segments": [{"start_ms": 10, "end_ms": 20, "text": "hi"}]}`)

	updates, err := ParseArtifactUpdates(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !updates.HasTranscript {
		t.Fatal("expected transcript segments")
	}
	want := []TranscriptSegment{{StartMS: 10, EndMS: 20, Text: "hi"}}
	if !reflect.DeepEqual(updates.Transcript, want) {
		t.Errorf("expected %v, got %v", want, updates.Transcript)
	}
	if len(updates.Manifest) != 0 {
		t.Errorf("transcript segments are not manifest updates, got %v", updates.Manifest)
	}
}

func TestParseArtifactUpdates_Empty(t *testing.T) {
	for _, raw := range []string{"", "null", "  "} {
		updates, err := ParseArtifactUpdates(json.RawMessage(raw))
		if err != nil {
			t.Errorf("%q: unexpected error: %v", raw, err)
		}
		if len(updates.Manifest) != 0 || updates.HasTranscript {
			t.Errorf("%q: expected no updates", raw)
		}
	}
}

func TestParseArtifactUpdates_NotAnObject(t *testing.T) {
	if _, err := ParseArtifactUpdates(json.RawMessage(`[1,2]`)); err == nil {
		t.Error("expected error for non-object artifact updates")
	}
}

func TestCanonicalJSON(t *testing.T) {
	a, err := CanonicalJSON(json.RawMessage(`{"b": 1, "a": {"y": true, "x": null}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := CanonicalJSON(json.RawMessage(`{"a":{"x":null,"y":true},"b":1}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(a) != string(b) {
		t.Errorf("expected equal canonical forms, got %s and %s", a, b)
	}

	empty, err := CanonicalJSON(json.RawMessage("null"))
	if err != nil || empty != nil {
		t.Errorf("expected nil for null, got %s, %v", empty, err)
	}
}
