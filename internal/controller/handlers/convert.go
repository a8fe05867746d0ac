package handlers

import (
	"draftplane/internal/store"
	"draftplane/pkg/api"
)

func toAPIProject(p store.Project) api.Project {
	return api.Project{ID: p.ID, Name: p.Name, OwnerID: p.OwnerID, CreatedAt: p.CreatedAt}
}

func toAPIJob(j store.Job) api.Job {
	out := api.Job{
		ID:        j.ID,
		ProjectID: j.ProjectID,
		Status:    string(j.Status),
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
	if m := j.Manifest; m != nil {
		out.Manifest = &api.Manifest{
			VideoURI:      m.VideoURI,
			AudioURI:      m.AudioURI,
			TranscriptURI: m.TranscriptURI,
			DraftURI:      m.DraftURI,
			Exports:       m.Exports,
		}
	}
	return out
}

func toAPIInstruction(in store.Instruction) api.Instruction {
	return api.Instruction{
		ProjectID: in.ProjectID,
		Version:   in.Version,
		Markdown:  in.Markdown,
		CreatedAt: in.CreatedAt,
	}
}
