package database

import (
	"context"

	"github.com/example/agentcoach/pkg/models"
)

// SpecialtyStore persists the specialty catalog
type SpecialtyStore interface {
	GetSpecialty(ctx context.Context, id string) (*models.Specialty, error)
	ListSpecialties(ctx context.Context) ([]models.Specialty, error)
	SaveSpecialty(ctx context.Context, specialty *models.Specialty) error
	DeleteSpecialty(ctx context.Context, id string) error
}

// SessionFilter narrows ListSessions. Zero fields match everything.
type SessionFilter struct {
	AgentID     string
	SpecialtyID string
	Status      models.SessionStatus
}

// SessionStore persists training sessions. Deleting a session deletes its
// tests and attempts.
type SessionStore interface {
	GetSession(ctx context.Context, id string) (*models.TrainingSession, error)
	ListSessions(ctx context.Context, filter SessionFilter) ([]models.TrainingSession, error)
	SaveSession(ctx context.Context, session *models.TrainingSession) error
	DeleteSession(ctx context.Context, id string) error
}

// TestStore persists tests and their attempts
type TestStore interface {
	GetTest(ctx context.Context, id string) (*models.Test, error)
	ListTests(ctx context.Context, sessionID string) ([]models.Test, error)
	SaveTest(ctx context.Context, test *models.Test) error
	// ListAttempts returns attempts for a test within a session ordered by attempt number
	ListAttempts(ctx context.Context, testID, sessionID string) ([]models.TestAttempt, error)
	ListSessionAttempts(ctx context.Context, sessionID string) ([]models.TestAttempt, error)
	// CreateAttempt fails with models.ErrConflict when the attempt number is taken
	CreateAttempt(ctx context.Context, attempt *models.TestAttempt) error
}

// KnowledgeStore is the durable sink for agent knowledge
type KnowledgeStore interface {
	GetKnowledge(ctx context.Context, id string) (*models.KnowledgeItem, error)
	// ListKnowledge returns an agent's items oldest first
	ListKnowledge(ctx context.Context, agentID string) ([]models.KnowledgeItem, error)
	SaveKnowledge(ctx context.Context, item *models.KnowledgeItem) error
	DeleteKnowledge(ctx context.Context, ids ...string) (int, error)
}

// ExperienceStore is the append-only experience log
type ExperienceStore interface {
	AppendExperience(ctx context.Context, entry *models.ExperienceEntry) error
	// ListExperiences returns an agent's entries newest first
	ListExperiences(ctx context.Context, agentID string) ([]models.ExperienceEntry, error)
}

// Store is the full repository capability used by the engine
type Store interface {
	SpecialtyStore
	SessionStore
	TestStore
	KnowledgeStore
	ExperienceStore
	// DeleteAgentData removes everything owned by an agent: knowledge,
	// experiences and sessions with their tests and attempts.
	DeleteAgentData(ctx context.Context, agentID string) error
	Close() error
}
