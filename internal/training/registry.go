package training

import (
	"context"
	"fmt"
	"strings"

	"github.com/facebookgo/clock"
	"github.com/google/uuid"

	"github.com/example/agentcoach/internal/database"
	"github.com/example/agentcoach/pkg/models"
)

// Registry is the catalog of trainable specialties
type Registry struct {
	specialties database.SpecialtyStore
	sessions    database.SessionStore
	clock       clock.Clock
}

// NewRegistry creates a registry
func NewRegistry(specialties database.SpecialtyStore, sessions database.SessionStore, clk clock.Clock) *Registry {
	return &Registry{specialties: specialties, sessions: sessions, clock: clk}
}

// normalizeSpecialty trims and validates the operator-supplied fields of s.
// An empty level list gets the default ladder.
func normalizeSpecialty(s *models.Specialty) error {
	s.Name = strings.TrimSpace(s.Name)
	s.Domain = strings.TrimSpace(s.Domain)
	if s.Name == "" {
		return fmt.Errorf("specialty name is required: %w", models.ErrValidation)
	}

	var required models.StringList
	for _, k := range s.RequiredKnowledge {
		if k = strings.TrimSpace(k); k != "" {
			required = append(required, k)
		}
	}
	s.RequiredKnowledge = required

	if len(s.CompetencyLevels) == 0 {
		s.CompetencyLevels = append(models.StringList(nil), models.DefaultCompetencyLevels...)
		return nil
	}
	seen := make(map[string]bool, len(s.CompetencyLevels))
	levels := make(models.StringList, 0, len(s.CompetencyLevels))
	for _, l := range s.CompetencyLevels {
		l = strings.TrimSpace(l)
		if l == "" {
			return fmt.Errorf("competency levels must not be empty: %w", models.ErrValidation)
		}
		if seen[l] {
			return fmt.Errorf("competency level %q is repeated: %w", l, models.ErrValidation)
		}
		seen[l] = true
		levels = append(levels, l)
	}
	s.CompetencyLevels = levels
	return nil
}

// Create validates and stores a new specialty
func (r *Registry) Create(ctx context.Context, specialty *models.Specialty) (*models.Specialty, error) {
	if specialty == nil {
		return nil, fmt.Errorf("specialty is required: %w", models.ErrValidation)
	}
	s := specialty.Clone()
	if err := normalizeSpecialty(s); err != nil {
		return nil, err
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	now := r.clock.Now()
	s.CreatedAt = now
	s.UpdatedAt = now
	if err := r.specialties.SaveSpecialty(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Update replaces the mutable fields of a specialty. Levels still used by an
// in-progress session cannot be removed.
func (r *Registry) Update(ctx context.Context, id string, update *models.Specialty) (*models.Specialty, error) {
	if update == nil {
		return nil, fmt.Errorf("specialty is required: %w", models.ErrValidation)
	}
	current, err := r.specialties.GetSpecialty(ctx, id)
	if err != nil {
		return nil, err
	}
	s := update.Clone()
	if err := normalizeSpecialty(s); err != nil {
		return nil, err
	}

	active, err := r.sessions.ListSessions(ctx, database.SessionFilter{SpecialtyID: id, Status: models.SessionInProgress})
	if err != nil {
		return nil, err
	}
	for _, session := range active {
		for _, level := range []string{session.CurrentCompetencyLevel, session.TargetCompetencyLevel} {
			if !s.HasLevel(level) {
				return nil, fmt.Errorf("level %q is used by in-progress session %s: %w", level, session.ID, models.ErrConflict)
			}
		}
		if s.LevelIndex(session.CurrentCompetencyLevel) > s.LevelIndex(session.TargetCompetencyLevel) {
			return nil, fmt.Errorf("new level order would put session %s above its target: %w", session.ID, models.ErrConflict)
		}
	}

	s.ID = current.ID
	s.CreatedAt = current.CreatedAt
	s.UpdatedAt = r.clock.Now()
	if err := r.specialties.SaveSpecialty(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Delete removes a specialty that no in-progress session trains for
func (r *Registry) Delete(ctx context.Context, id string) error {
	if _, err := r.specialties.GetSpecialty(ctx, id); err != nil {
		return err
	}
	active, err := r.sessions.ListSessions(ctx, database.SessionFilter{SpecialtyID: id, Status: models.SessionInProgress})
	if err != nil {
		return err
	}
	if len(active) > 0 {
		return fmt.Errorf("specialty %s has %d sessions in progress: %w", id, len(active), models.ErrConflict)
	}
	return r.specialties.DeleteSpecialty(ctx, id)
}

// Get returns a specialty
func (r *Registry) Get(ctx context.Context, id string) (*models.Specialty, error) {
	return r.specialties.GetSpecialty(ctx, id)
}

// List returns every specialty ordered by name
func (r *Registry) List(ctx context.Context) ([]models.Specialty, error) {
	return r.specialties.ListSpecialties(ctx)
}
