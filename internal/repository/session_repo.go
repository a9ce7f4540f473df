// Package repository provides data access for persisted session records.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/wwng2333/nexus-terminal-sub000/internal/model"
)

// SessionRepository provides data access for session records.
type SessionRepository struct {
	db *sql.DB
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create inserts a new session record into the database.
func (r *SessionRepository) Create(ctx context.Context, record *model.SessionRecord) error {
	query := `
		INSERT INTO sessions (id, target_id, status, cwd, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		record.ID,
		record.TargetID,
		record.Status,
		record.Cwd,
		record.CreatedAt,
		record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session record: %w", err)
	}

	return nil
}

// GetByID retrieves a session record by its ID.
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*model.SessionRecord, error) {
	query := `
		SELECT id, target_id, status, cwd, created_at, updated_at
		FROM sessions
		WHERE id = ?
	`

	record := &model.SessionRecord{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&record.ID,
		&record.TargetID,
		&record.Status,
		&record.Cwd,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, model.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session record: %w", err)
	}

	return record, nil
}

// List retrieves all session records, newest first.
func (r *SessionRepository) List(ctx context.Context) ([]*model.SessionRecord, error) {
	query := `
		SELECT id, target_id, status, cwd, created_at, updated_at
		FROM sessions
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list session records: %w", err)
	}
	defer rows.Close()

	var records []*model.SessionRecord
	for rows.Next() {
		record := &model.SessionRecord{}
		err := rows.Scan(
			&record.ID,
			&record.TargetID,
			&record.Status,
			&record.Cwd,
			&record.CreatedAt,
			&record.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session record: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session records: %w", err)
	}

	return records, nil
}

// ListByTarget retrieves all session records for one target, newest first.
func (r *SessionRepository) ListByTarget(ctx context.Context, targetID string) ([]*model.SessionRecord, error) {
	query := `
		SELECT id, target_id, status, cwd, created_at, updated_at
		FROM sessions
		WHERE target_id = ?
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, targetID)
	if err != nil {
		return nil, fmt.Errorf("failed to list session records: %w", err)
	}
	defer rows.Close()

	var records []*model.SessionRecord
	for rows.Next() {
		record := &model.SessionRecord{}
		err := rows.Scan(
			&record.ID,
			&record.TargetID,
			&record.Status,
			&record.Cwd,
			&record.CreatedAt,
			&record.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session record: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session records: %w", err)
	}

	return records, nil
}

// UpdateStatus updates the status of a session record.
func (r *SessionRepository) UpdateStatus(ctx context.Context, id string, status model.SessionStatus) error {
	query := `
		UPDATE sessions
		SET status = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query, status, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return model.ErrSessionNotFound
	}

	return nil
}

// UpdateCwd updates the working directory of a session record.
func (r *SessionRepository) UpdateCwd(ctx context.Context, id string, cwd string) error {
	query := `
		UPDATE sessions
		SET cwd = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query, cwd, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update session cwd: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return model.ErrSessionNotFound
	}

	return nil
}

// Delete removes a session record from the database.
func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM sessions WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete session record: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return model.ErrSessionNotFound
	}

	return nil
}

// CountOpen returns the number of open sessions.
func (r *SessionRepository) CountOpen(ctx context.Context) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM sessions
		WHERE status = ?
	`

	var count int
	err := r.db.QueryRowContext(ctx, query, model.SessionStatusOpen).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count open sessions: %w", err)
	}

	return count, nil
}
