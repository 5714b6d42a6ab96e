package database

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/example/agentcoach/pkg/models"
)

// InMemory implements Store with maps. Values are copied in and out so callers
// never share state with the store.
type InMemory struct {
	mu          sync.RWMutex
	specialties map[string]*models.Specialty
	sessions    map[string]*models.TrainingSession
	tests       map[string]*models.Test
	attempts    map[string]*models.TestAttempt
	knowledge   map[string]*models.KnowledgeItem
	experiences map[string]*models.ExperienceEntry
	seq         int64            // Insertion order for stable listing
	order       map[string]int64 // id -> seq
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty in-memory store
func NewInMemory() *InMemory {
	return &InMemory{
		specialties: make(map[string]*models.Specialty),
		sessions:    make(map[string]*models.TrainingSession),
		tests:       make(map[string]*models.Test),
		attempts:    make(map[string]*models.TestAttempt),
		knowledge:   make(map[string]*models.KnowledgeItem),
		experiences: make(map[string]*models.ExperienceEntry),
		order:       make(map[string]int64),
	}
}

func (m *InMemory) Close() error { return nil }

func (m *InMemory) touch(id string) {
	if _, ok := m.order[id]; !ok {
		m.seq++
		m.order[id] = m.seq
	}
}

func (m *InMemory) GetSpecialty(ctx context.Context, id string) (*models.Specialty, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.specialties[id]
	if !ok {
		return nil, fmt.Errorf("specialty %s: %w", id, models.ErrNotFound)
	}
	return s.Clone(), nil
}

func (m *InMemory) ListSpecialties(ctx context.Context) ([]models.Specialty, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Specialty, 0, len(m.specialties))
	for _, s := range m.specialties {
		out = append(out, *s.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *InMemory) SaveSpecialty(ctx context.Context, specialty *models.Specialty) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.specialties {
		if id != specialty.ID && s.Name == specialty.Name {
			return fmt.Errorf("specialty name %q already exists: %w", specialty.Name, models.ErrConflict)
		}
	}
	m.touch(specialty.ID)
	m.specialties[specialty.ID] = specialty.Clone()
	return nil
}

func (m *InMemory) DeleteSpecialty(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.specialties[id]; !ok {
		return fmt.Errorf("specialty %s: %w", id, models.ErrNotFound)
	}
	delete(m.specialties, id)
	return nil
}

func (m *InMemory) GetSession(ctx context.Context, id string) (*models.TrainingSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, models.ErrNotFound)
	}
	return s.Clone(), nil
}

func (m *InMemory) ListSessions(ctx context.Context, filter SessionFilter) ([]models.TrainingSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.TrainingSession
	for _, s := range m.sessions {
		if filter.AgentID != "" && s.AgentID != filter.AgentID {
			continue
		}
		if filter.SpecialtyID != "" && s.SpecialtyID != filter.SpecialtyID {
			continue
		}
		if filter.Status != "" && s.Status != filter.Status {
			continue
		}
		out = append(out, *s.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return m.order[out[i].ID] < m.order[out[j].ID] })
	return out, nil
}

func (m *InMemory) SaveSession(ctx context.Context, session *models.TrainingSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touch(session.ID)
	m.sessions[session.ID] = session.Clone()
	return nil
}

func (m *InMemory) DeleteSession(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteSessionLocked(id)
}

func (m *InMemory) deleteSessionLocked(id string) error {
	if _, ok := m.sessions[id]; !ok {
		return fmt.Errorf("session %s: %w", id, models.ErrNotFound)
	}
	for aid, a := range m.attempts {
		if a.SessionID == id {
			delete(m.attempts, aid)
		}
	}
	for tid, t := range m.tests {
		if t.SessionID == id {
			delete(m.tests, tid)
		}
	}
	delete(m.sessions, id)
	return nil
}

func (m *InMemory) GetTest(ctx context.Context, id string) (*models.Test, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tests[id]
	if !ok {
		return nil, fmt.Errorf("test %s: %w", id, models.ErrNotFound)
	}
	return t.Clone(), nil
}

func (m *InMemory) ListTests(ctx context.Context, sessionID string) ([]models.Test, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Test
	for _, t := range m.tests {
		if t.SessionID == sessionID {
			out = append(out, *t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return m.order[out[i].ID] < m.order[out[j].ID] })
	return out, nil
}

func (m *InMemory) SaveTest(ctx context.Context, test *models.Test) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[test.SessionID]; !ok {
		return fmt.Errorf("session %s: %w", test.SessionID, models.ErrNotFound)
	}
	if _, ok := m.tests[test.ID]; ok {
		return fmt.Errorf("test %s already exists: %w", test.ID, models.ErrConflict)
	}
	m.touch(test.ID)
	m.tests[test.ID] = test.Clone()
	return nil
}

func (m *InMemory) ListAttempts(ctx context.Context, testID, sessionID string) ([]models.TestAttempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.TestAttempt
	for _, a := range m.attempts {
		if a.TestID == testID && a.SessionID == sessionID {
			out = append(out, *a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AttemptNumber < out[j].AttemptNumber })
	return out, nil
}

func (m *InMemory) ListSessionAttempts(ctx context.Context, sessionID string) ([]models.TestAttempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.TestAttempt
	for _, a := range m.attempts {
		if a.SessionID == sessionID {
			out = append(out, *a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return m.order[out[i].ID] < m.order[out[j].ID] })
	return out, nil
}

func (m *InMemory) CreateAttempt(ctx context.Context, attempt *models.TestAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tests[attempt.TestID]; !ok {
		return fmt.Errorf("test %s: %w", attempt.TestID, models.ErrNotFound)
	}
	for _, a := range m.attempts {
		if a.TestID == attempt.TestID && a.SessionID == attempt.SessionID && a.AttemptNumber == attempt.AttemptNumber {
			return fmt.Errorf("attempt %d for test %s: %w", attempt.AttemptNumber, attempt.TestID, models.ErrConflict)
		}
	}
	m.touch(attempt.ID)
	m.attempts[attempt.ID] = attempt.Clone()
	return nil
}

func (m *InMemory) GetKnowledge(ctx context.Context, id string) (*models.KnowledgeItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	k, ok := m.knowledge[id]
	if !ok {
		return nil, fmt.Errorf("knowledge item %s: %w", id, models.ErrNotFound)
	}
	return k.Clone(), nil
}

func (m *InMemory) ListKnowledge(ctx context.Context, agentID string) ([]models.KnowledgeItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.KnowledgeItem
	for _, k := range m.knowledge {
		if k.AgentID == agentID {
			out = append(out, *k.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return m.order[out[i].ID] < m.order[out[j].ID] })
	return out, nil
}

func (m *InMemory) SaveKnowledge(ctx context.Context, item *models.KnowledgeItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touch(item.ID)
	m.knowledge[item.ID] = item.Clone()
	return nil
}

func (m *InMemory) DeleteKnowledge(ctx context.Context, ids ...string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, id := range ids {
		if _, ok := m.knowledge[id]; ok {
			delete(m.knowledge, id)
			n++
		}
	}
	return n, nil
}

func (m *InMemory) AppendExperience(ctx context.Context, entry *models.ExperienceEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.experiences[entry.ID]; ok {
		return fmt.Errorf("experience %s already exists: %w", entry.ID, models.ErrConflict)
	}
	m.touch(entry.ID)
	m.experiences[entry.ID] = entry.Clone()
	return nil
}

func (m *InMemory) ListExperiences(ctx context.Context, agentID string) ([]models.ExperienceEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.ExperienceEntry
	for _, e := range m.experiences {
		if e.AgentID == agentID {
			out = append(out, *e.Clone())
		}
	}
	// Newest first; insertion order breaks ties between equal timestamps
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return m.order[out[i].ID] > m.order[out[j].ID]
	})
	return out, nil
}

func (m *InMemory) DeleteAgentData(ctx context.Context, agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		if s.AgentID == agentID {
			if err := m.deleteSessionLocked(id); err != nil {
				return err
			}
		}
	}
	for id, k := range m.knowledge {
		if k.AgentID == agentID {
			delete(m.knowledge, id)
		}
	}
	for id, e := range m.experiences {
		if e.AgentID == agentID {
			delete(m.experiences, id)
		}
	}
	return nil
}
