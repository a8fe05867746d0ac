package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"draftplane/internal/store"
)

func (s *Store) CreateProject(ctx context.Context, p *store.Project) error {
	query := `
		INSERT INTO projects (id, name, owner_id, created_at)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := s.db.ExecContext(ctx, query, p.ID, p.Name, p.OwnerID, p.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert project: %w", err)
	}
	return nil
}

func (s *Store) GetProject(ctx context.Context, id string) (*store.Project, error) {
	query := "SELECT id, name, owner_id, created_at FROM projects WHERE id = $1"

	var p store.Project
	err := s.db.QueryRowContext(ctx, query, id).Scan(&p.ID, &p.Name, &p.OwnerID, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return &p, nil
}

func (s *Store) ListProjectsByOwner(ctx context.Context, ownerID string) ([]store.Project, error) {
	query := `
		SELECT id, name, owner_id, created_at
		FROM projects
		WHERE owner_id = $1
		ORDER BY created_at ASC, id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var projects []store.Project
	for rows.Next() {
		var p store.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.OwnerID, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func (s *Store) CreateAPIKey(ctx context.Context, key *store.APIKey) error {
	query := `
		INSERT INTO api_keys (key_hash, user_id, role, name, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := s.db.ExecContext(ctx, query, key.KeyHash, key.UserID, key.Role, key.Name, key.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert api key: %w", err)
	}
	return nil
}

func (s *Store) GetAPIKeyByHash(ctx context.Context, hash string) (*store.APIKey, error) {
	query := "SELECT key_hash, user_id, role, name, created_at FROM api_keys WHERE key_hash = $1"

	var k store.APIKey
	err := s.db.QueryRowContext(ctx, query, hash).Scan(&k.KeyHash, &k.UserID, &k.Role, &k.Name, &k.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get api key: %w", err)
	}
	return &k, nil
}
