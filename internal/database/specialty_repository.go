package database

import (
	"context"
	"fmt"

	"github.com/example/agentcoach/pkg/models"
)

// GetSpecialty returns a specialty by ID
func (s *SQLStore) GetSpecialty(ctx context.Context, id string) (*models.Specialty, error) {
	var specialty models.Specialty
	err := s.db.GetContext(ctx, &specialty, s.db.Rebind("SELECT * FROM specialties WHERE id = ?"), id)
	if err != nil {
		return nil, notFound(err, "specialty", id)
	}
	return &specialty, nil
}

// ListSpecialties returns all specialties ordered by name
func (s *SQLStore) ListSpecialties(ctx context.Context) ([]models.Specialty, error) {
	var specialties []models.Specialty
	if err := s.db.SelectContext(ctx, &specialties, "SELECT * FROM specialties ORDER BY name"); err != nil {
		return nil, fmt.Errorf("failed to list specialties: %w", err)
	}
	return specialties, nil
}

// SaveSpecialty inserts or updates a specialty
func (s *SQLStore) SaveSpecialty(ctx context.Context, specialty *models.Specialty) error {
	query := `
		INSERT INTO specialties (
			id, name, domain, description, required_knowledge, competency_levels, created_at, updated_at
		) VALUES (
			:id, :name, :domain, :description, :required_knowledge, :competency_levels, :created_at, :updated_at
		)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			domain = excluded.domain,
			description = excluded.description,
			required_knowledge = excluded.required_knowledge,
			competency_levels = excluded.competency_levels,
			updated_at = excluded.updated_at
	`
	if _, err := s.db.NamedExecContext(ctx, query, specialty); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("specialty name %q already exists: %w", specialty.Name, models.ErrConflict)
		}
		return fmt.Errorf("failed to save specialty: %w", err)
	}
	return nil
}

// DeleteSpecialty removes a specialty. Sessions only reference specialties, so they are kept.
func (s *SQLStore) DeleteSpecialty(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind("DELETE FROM specialties WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("failed to delete specialty: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("specialty %s: %w", id, models.ErrNotFound)
	}
	return nil
}
