// Package projects manages projects and their versioned generation
// instructions.
package projects

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"draftplane/internal/apierror"
	"draftplane/internal/store"

	"github.com/google/uuid"
)

// Repository is the subset of the store the service needs.
type Repository interface {
	store.ProjectStore
	store.InstructionStore
}

type Service struct {
	repo  Repository
	now   func() time.Time
	newID func() string
}

// Option configures a Service.
type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

func New(repo Repository, opts ...Option) *Service {
	s := &Service{repo: repo, now: time.Now, newID: uuid.NewString}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create creates a project owned by ownerID.
func (s *Service) Create(ctx context.Context, ownerID, name string) (*store.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apierror.Validation("name is required.", map[string]any{"field": "name"})
	}
	p := &store.Project{
		ID:        s.newID(),
		Name:      name,
		OwnerID:   ownerID,
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.CreateProject(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}
	return p, nil
}

// List returns the owner's projects oldest first.
func (s *Service) List(ctx context.Context, ownerID string) ([]store.Project, error) {
	projects, err := s.repo.ListProjectsByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	return projects, nil
}

// Get returns the owner's project. Foreign projects are reported as not
// found.
func (s *Service) Get(ctx context.Context, ownerID, projectID string) (*store.Project, error) {
	p, err := s.repo.GetProject(ctx, projectID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apierror.NotFound()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load project: %w", err)
	}
	if p.OwnerID != ownerID {
		return nil, apierror.NotFound()
	}
	return p, nil
}

// Instruction returns one instruction version of the project, or the latest
// when version is 0.
func (s *Service) Instruction(ctx context.Context, ownerID, projectID string, version int) (*store.Instruction, error) {
	if version < 0 {
		return nil, apierror.InvalidParameter("version must be positive.", map[string]any{"version": version})
	}
	if _, err := s.Get(ctx, ownerID, projectID); err != nil {
		return nil, err
	}

	var (
		in  *store.Instruction
		err error
	)
	if version == 0 {
		in, err = s.repo.LatestInstruction(ctx, projectID)
	} else {
		in, err = s.repo.GetInstructionVersion(ctx, projectID, version)
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, apierror.NotFound()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load instruction: %w", err)
	}
	return in, nil
}

// PutInstruction appends a new version on top of baseVersion. The first
// version is written with baseVersion 0.
func (s *Service) PutInstruction(ctx context.Context, ownerID, projectID string, baseVersion int, markdown string) (*store.Instruction, error) {
	if baseVersion < 0 {
		return nil, apierror.Validation("base_version must not be negative.", map[string]any{"base_version": baseVersion})
	}
	if _, err := s.Get(ctx, ownerID, projectID); err != nil {
		return nil, err
	}

	in := &store.Instruction{
		ProjectID: projectID,
		Version:   baseVersion + 1,
		Markdown:  markdown,
		CreatedBy: ownerID,
		CreatedAt: s.now().UTC(),
	}
	current, ok, err := s.repo.AppendInstruction(ctx, in, baseVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to append instruction: %w", err)
	}
	if !ok {
		return nil, apierror.VersionConflict(baseVersion, current)
	}
	return in, nil
}
