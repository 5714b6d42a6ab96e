package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/example/agentcoach/pkg/models"
)

// GetSession returns a training session by ID
func (s *SQLStore) GetSession(ctx context.Context, id string) (*models.TrainingSession, error) {
	var session models.TrainingSession
	err := s.db.GetContext(ctx, &session, s.db.Rebind("SELECT * FROM training_sessions WHERE id = ?"), id)
	if err != nil {
		return nil, notFound(err, "session", id)
	}
	return &session, nil
}

// ListSessions returns sessions matching filter, oldest first
func (s *SQLStore) ListSessions(ctx context.Context, filter SessionFilter) ([]models.TrainingSession, error) {
	var (
		conditions []string
		args       []interface{}
	)
	if filter.AgentID != "" {
		conditions = append(conditions, "agent_id = ?")
		args = append(args, filter.AgentID)
	}
	if filter.SpecialtyID != "" {
		conditions = append(conditions, "specialty_id = ?")
		args = append(args, filter.SpecialtyID)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := "SELECT * FROM training_sessions"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY started_at, id"

	var sessions []models.TrainingSession
	if err := s.db.SelectContext(ctx, &sessions, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

// SaveSession inserts or updates a session
func (s *SQLStore) SaveSession(ctx context.Context, session *models.TrainingSession) error {
	query := `
		INSERT INTO training_sessions (
			id, agent_id, specialty_id, target_competency_level, current_competency_level,
			status, progress, current_iteration, max_iterations, started_at, completed_at,
			phase_metadata, updated_at
		) VALUES (
			:id, :agent_id, :specialty_id, :target_competency_level, :current_competency_level,
			:status, :progress, :current_iteration, :max_iterations, :started_at, :completed_at,
			:phase_metadata, :updated_at
		)
		ON CONFLICT (id) DO UPDATE SET
			target_competency_level = excluded.target_competency_level,
			current_competency_level = excluded.current_competency_level,
			status = excluded.status,
			progress = excluded.progress,
			current_iteration = excluded.current_iteration,
			max_iterations = excluded.max_iterations,
			completed_at = excluded.completed_at,
			phase_metadata = excluded.phase_metadata,
			updated_at = excluded.updated_at
	`
	if _, err := s.db.NamedExecContext(ctx, query, session); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// DeleteSession removes a session together with its tests and attempts
func (s *SQLStore) DeleteSession(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		return deleteSessionTx(ctx, tx, id)
	})
}

func deleteSessionTx(ctx context.Context, tx *sqlx.Tx, id string) error {
	if _, err := tx.ExecContext(ctx, tx.Rebind("DELETE FROM test_attempts WHERE session_id = ?"), id); err != nil {
		return fmt.Errorf("failed to delete session attempts: %w", err)
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind("DELETE FROM tests WHERE session_id = ?"), id); err != nil {
		return fmt.Errorf("failed to delete session tests: %w", err)
	}
	res, err := tx.ExecContext(ctx, tx.Rebind("DELETE FROM training_sessions WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s: %w", id, models.ErrNotFound)
	}
	return nil
}
