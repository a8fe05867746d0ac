package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"draftplane/internal/store"
)

const instructionColumns = "project_id, version, markdown, created_by, created_at"

func scanInstruction(row *sql.Row) (*store.Instruction, error) {
	var in store.Instruction
	err := row.Scan(&in.ProjectID, &in.Version, &in.Markdown, &in.CreatedBy, &in.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan instruction: %w", err)
	}
	return &in, nil
}

func (s *Store) LatestInstruction(ctx context.Context, projectID string) (*store.Instruction, error) {
	query := "SELECT " + instructionColumns + " FROM instructions WHERE project_id = $1 ORDER BY version DESC LIMIT 1"
	return scanInstruction(s.db.QueryRowContext(ctx, query, projectID))
}

func (s *Store) GetInstructionVersion(ctx context.Context, projectID string, version int) (*store.Instruction, error) {
	query := "SELECT " + instructionColumns + " FROM instructions WHERE project_id = $1 AND version = $2"
	return scanInstruction(s.db.QueryRowContext(ctx, query, projectID, version))
}

// AppendInstruction locks the project row so concurrent writers see a
// consistent latest version.
func (s *Store) AppendInstruction(ctx context.Context, in *store.Instruction, baseVersion int) (int, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var projectID string
	err = tx.QueryRowContext(ctx, "SELECT id FROM projects WHERE id = $1 FOR UPDATE", in.ProjectID).Scan(&projectID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, store.ErrNotFound
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to lock project: %w", err)
	}

	var current int
	err = tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM instructions WHERE project_id = $1", in.ProjectID).Scan(&current)
	if err != nil {
		return 0, false, fmt.Errorf("failed to read instruction version: %w", err)
	}
	if current != baseVersion {
		return current, false, nil
	}

	query := "INSERT INTO instructions (" + instructionColumns + ") VALUES ($1, $2, $3, $4, $5)"
	if _, err := tx.ExecContext(ctx, query, in.ProjectID, in.Version, in.Markdown, in.CreatedBy, in.CreatedAt); err != nil {
		return 0, false, fmt.Errorf("failed to insert instruction: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("failed to commit instruction: %w", err)
	}
	return in.Version, true, nil
}
