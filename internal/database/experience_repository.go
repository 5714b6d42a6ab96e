package database

import (
	"context"
	"fmt"

	"github.com/example/agentcoach/pkg/models"
)

// AppendExperience inserts an experience entry. Entries are never updated.
func (s *SQLStore) AppendExperience(ctx context.Context, entry *models.ExperienceEntry) error {
	query := `
		INSERT INTO experiences (
			id, agent_id, session_id, type, context, outcome, lessons_learned,
			emotional_response, impact_score, created_at
		) VALUES (
			:id, :agent_id, :session_id, :type, :context, :outcome, :lessons_learned,
			:emotional_response, :impact_score, :created_at
		)
	`
	if _, err := s.db.NamedExecContext(ctx, query, entry); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("experience %s already exists: %w", entry.ID, models.ErrConflict)
		}
		return fmt.Errorf("failed to append experience: %w", err)
	}
	return nil
}

// ListExperiences returns an agent's experiences, newest first
func (s *SQLStore) ListExperiences(ctx context.Context, agentID string) ([]models.ExperienceEntry, error) {
	var entries []models.ExperienceEntry
	err := s.db.SelectContext(ctx, &entries,
		s.db.Rebind("SELECT * FROM experiences WHERE agent_id = ? ORDER BY created_at DESC, id DESC"), agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list experiences: %w", err)
	}
	return entries, nil
}
