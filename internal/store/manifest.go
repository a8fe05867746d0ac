package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// ManifestUpdate is one field update of an artifact manifest. The set of
// implementations is closed: each carries its own overwrite policy.
type ManifestUpdate interface {
	apply(m *Manifest)
}

// RawArtifact names a write-once manifest field.
type RawArtifact int

const (
	RawVideo RawArtifact = iota
	RawAudio
	RawTranscript
)

func (r RawArtifact) field(m *Manifest) **string {
	switch r {
	case RawVideo:
		return &m.VideoURI
	case RawAudio:
		return &m.AudioURI
	default:
		return &m.TranscriptURI
	}
}

// RawArtifactUpdate is accepted only while the field is unset.
type RawArtifactUpdate struct {
	Artifact RawArtifact
	Value    string
}

func (u RawArtifactUpdate) apply(m *Manifest) {
	f := u.Artifact.field(m)
	if *f != nil {
		return
	}
	v := u.Value
	*f = &v
}

// DraftURIUpdate always overwrites. A JSON null never becomes an update.
type DraftURIUpdate struct {
	Value string
}

func (u DraftURIUpdate) apply(m *Manifest) {
	v := u.Value
	m.DraftURI = &v
}

// ExportsUpdate replaces the export list. A JSON null never becomes an update.
type ExportsUpdate struct {
	Value []string
}

func (u ExportsUpdate) apply(m *Manifest) {
	m.Exports = append([]string{}, u.Value...)
}

// ArtifactUpdates is the decoded artifact_updates object of a callback.
type ArtifactUpdates struct {
	Manifest []ManifestUpdate

	// Transcript replaces the job's segment list when HasTranscript is set.
	Transcript    []TranscriptSegment
	HasTranscript bool
}

var rawArtifactKeys = map[string]RawArtifact{
	"video_uri":      RawVideo,
	"audio_uri":      RawAudio,
	"transcript_uri": RawTranscript,
}

// ParseArtifactUpdates decodes a callback's artifact_updates object.
// Unknown keys and values of the wrong type are ignored. An empty or null
// input yields no updates.
func ParseArtifactUpdates(raw json.RawMessage) (ArtifactUpdates, error) {
	var out ArtifactUpdates
	if isNull(raw) {
		return out, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return out, fmt.Errorf("decode artifact updates: %w", err)
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := fields[key]
		if isNull(value) {
			continue
		}

		if artifact, ok := rawArtifactKeys[key]; ok {
			var s string
			if json.Unmarshal(value, &s) == nil {
				out.Manifest = append(out.Manifest, RawArtifactUpdate{Artifact: artifact, Value: s})
			}
			continue
		}

		switch key {
		case "draft_uri":
			var s string
			if json.Unmarshal(value, &s) == nil {
				out.Manifest = append(out.Manifest, DraftURIUpdate{Value: s})
			}
		case "exports":
			var list []string
			if json.Unmarshal(value, &list) == nil {
				out.Manifest = append(out.Manifest, ExportsUpdate{Value: list})
			}
		case "transcript_segments":
			var segments []TranscriptSegment
			if json.Unmarshal(value, &segments) == nil {
				out.Transcript = segments
				out.HasTranscript = true
			}
		}
	}
	return out, nil
}

// MergeManifest applies updates to a copy of current. If current is nil and
// no update qualifies, the result stays nil.
func MergeManifest(current *Manifest, updates []ManifestUpdate) *Manifest {
	if len(updates) == 0 {
		return current.Clone()
	}
	merged := current.Clone()
	if merged == nil {
		merged = &Manifest{}
	}
	for _, u := range updates {
		u.apply(merged)
	}
	return merged
}

// CanonicalJSON re-encodes a JSON document with sorted object keys so two
// semantically equal payloads compare byte-equal. Null and empty inputs
// canonicalize to nil.
func CanonicalJSON(raw json.RawMessage) (json.RawMessage, error) {
	if isNull(raw) {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("canonicalize json: %w", err)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize json: %w", err)
	}
	return out, nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
