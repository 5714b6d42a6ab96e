package database

import (
	"context"
	"fmt"

	"github.com/example/agentcoach/pkg/models"
)

// GetTest returns a test by ID
func (s *SQLStore) GetTest(ctx context.Context, id string) (*models.Test, error) {
	var test models.Test
	err := s.db.GetContext(ctx, &test, s.db.Rebind("SELECT * FROM tests WHERE id = ?"), id)
	if err != nil {
		return nil, notFound(err, "test", id)
	}
	return &test, nil
}

// ListTests returns all tests generated for a session, oldest first
func (s *SQLStore) ListTests(ctx context.Context, sessionID string) ([]models.Test, error) {
	var tests []models.Test
	err := s.db.SelectContext(ctx, &tests,
		s.db.Rebind("SELECT * FROM tests WHERE session_id = ? ORDER BY created_at, id"), sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tests: %w", err)
	}
	return tests, nil
}

// SaveTest inserts a test; tests are immutable once generated
func (s *SQLStore) SaveTest(ctx context.Context, test *models.Test) error {
	query := `
		INSERT INTO tests (
			id, session_id, test_type, questions, passing_score, generated_by, difficulty, created_at
		) VALUES (
			:id, :session_id, :test_type, :questions, :passing_score, :generated_by, :difficulty, :created_at
		)
	`
	if _, err := s.db.NamedExecContext(ctx, query, test); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("test %s already exists: %w", test.ID, models.ErrConflict)
		}
		return fmt.Errorf("failed to save test: %w", err)
	}
	return nil
}

// ListAttempts returns attempts for a test within a session ordered by attempt number
func (s *SQLStore) ListAttempts(ctx context.Context, testID, sessionID string) ([]models.TestAttempt, error) {
	var attempts []models.TestAttempt
	err := s.db.SelectContext(ctx, &attempts, s.db.Rebind(`
		SELECT * FROM test_attempts
		WHERE test_id = ? AND session_id = ?
		ORDER BY attempt_number
	`), testID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	return attempts, nil
}

// ListSessionAttempts returns every attempt of a session in completion order
func (s *SQLStore) ListSessionAttempts(ctx context.Context, sessionID string) ([]models.TestAttempt, error) {
	var attempts []models.TestAttempt
	err := s.db.SelectContext(ctx, &attempts, s.db.Rebind(`
		SELECT * FROM test_attempts WHERE session_id = ? ORDER BY completed_at, attempt_number
	`), sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list session attempts: %w", err)
	}
	return attempts, nil
}

// CreateAttempt inserts an attempt. The unique index on
// (test_id, session_id, attempt_number) rejects duplicates.
func (s *SQLStore) CreateAttempt(ctx context.Context, attempt *models.TestAttempt) error {
	query := `
		INSERT INTO test_attempts (
			id, test_id, session_id, attempt_number, answers, score, passed, feedback, completed_at
		) VALUES (
			:id, :test_id, :session_id, :attempt_number, :answers, :score, :passed, :feedback, :completed_at
		)
	`
	if _, err := s.db.NamedExecContext(ctx, query, attempt); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("attempt %d for test %s: %w", attempt.AttemptNumber, attempt.TestID, models.ErrConflict)
		}
		return fmt.Errorf("failed to create attempt: %w", err)
	}
	return nil
}
