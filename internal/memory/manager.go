package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/facebookgo/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/example/agentcoach/internal/database"
	"github.com/example/agentcoach/pkg/models"
)

const (
	// DefaultConfidence is assigned to new items that do not carry one
	DefaultConfidence = 50.0
	// DefaultRelevance is assigned to new items that do not carry one
	DefaultRelevance = 50.0

	dedupBoost       = 10.0
	reinforceBoost   = 5.0
	correctPenalty   = 2.0
	correctionScore  = 70.0
	insightScore     = 60.0
	uncertainBelow   = 50.0
	obsoleteBelow    = 20.0
	obsoleteAfter    = 30 * 24 * time.Hour
	defaultLimit     = 10
	applicationScore = 75.0
	mistakeScore     = 60.0
)

// Manager is the confidence-weighted knowledge store and experience log of
// every agent. Mutations are serialized so read-modify-write updates of a
// knowledge item never interleave.
type Manager struct {
	mu          sync.Mutex
	knowledge   database.KnowledgeStore
	experiences database.ExperienceStore
	clock       clock.Clock
	logger      zerolog.Logger
}

// NewManager creates a manager on top of the given stores
func NewManager(knowledge database.KnowledgeStore, experiences database.ExperienceStore, clk clock.Clock, logger zerolog.Logger) *Manager {
	return &Manager{
		knowledge:   knowledge,
		experiences: experiences,
		clock:       clk,
		logger:      logger.With().Str("component", "memory").Logger(),
	}
}

// Keywords returns the lowercase words of s longer than minLen runes
func Keywords(s string, minLen int) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(fields))
	var out []string
	for _, f := range fields {
		if len([]rune(f)) > minLen && !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}

func sharesKeyword(content string, keywords []string) bool {
	for _, k := range Keywords(content, 3) {
		for _, kw := range keywords {
			if k == kw {
				return true
			}
		}
	}
	return false
}

// StoreKnowledge saves item unless the agent already holds an item sharing a
// keyword with it; in that case the first such item is reinforced instead.
// It returns the stored or reinforced item and whether it was a reinforcement.
func (m *Manager) StoreKnowledge(ctx context.Context, item *models.KnowledgeItem) (*models.KnowledgeItem, bool, error) {
	if err := validateItem(item); err != nil {
		return nil, false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, err := m.knowledge.ListKnowledge(ctx, item.AgentID)
	if err != nil {
		return nil, false, err
	}

	now := m.clock.Now()
	if keywords := Keywords(item.Content, 3); len(keywords) > 0 {
		for i := range existing {
			match := &existing[i]
			if !sharesKeyword(match.Content, keywords) {
				continue
			}
			match.Confidence = models.Clamp(match.Confidence + dedupBoost)
			match.AccessCount++
			match.LastAccessed = now
			if err := m.knowledge.SaveKnowledge(ctx, match); err != nil {
				return nil, false, err
			}
			m.logger.Debug().Str("agent_id", item.AgentID).Str("knowledge_id", match.ID).
				Float64("confidence", match.Confidence).Msg("Reinforced existing knowledge instead of storing duplicate")
			return match, true, nil
		}
	}

	stored := m.prepare(item, now)
	if err := m.knowledge.SaveKnowledge(ctx, stored); err != nil {
		return nil, false, err
	}
	return stored, false, nil
}

func validateItem(item *models.KnowledgeItem) error {
	if item == nil {
		return fmt.Errorf("knowledge item is required: %w", models.ErrValidation)
	}
	if strings.TrimSpace(item.AgentID) == "" {
		return fmt.Errorf("agent id is required: %w", models.ErrValidation)
	}
	if strings.TrimSpace(item.Content) == "" {
		return fmt.Errorf("knowledge content is required: %w", models.ErrValidation)
	}
	if math.IsNaN(item.Confidence) || math.IsNaN(item.RelevanceScore) {
		return fmt.Errorf("knowledge scores must be numbers: %w", models.ErrValidation)
	}
	return nil
}

// prepare fills defaults on a copy of item
func (m *Manager) prepare(item *models.KnowledgeItem, now time.Time) *models.KnowledgeItem {
	stored := item.Clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.Type == "" {
		stored.Type = models.KnowledgeConcept
	}
	if stored.Confidence == 0 {
		stored.Confidence = DefaultConfidence
	}
	if stored.RelevanceScore == 0 {
		stored.RelevanceScore = DefaultRelevance
	}
	stored.Confidence = models.Clamp(stored.Confidence)
	stored.RelevanceScore = models.Clamp(stored.RelevanceScore)
	stored.LastAccessed = now
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	return stored
}

// GetKnowledge returns one knowledge item
func (m *Manager) GetKnowledge(ctx context.Context, id string) (*models.KnowledgeItem, error) {
	return m.knowledge.GetKnowledge(ctx, id)
}

// ListKnowledge returns an agent's knowledge, optionally limited to a specialty
func (m *Manager) ListKnowledge(ctx context.Context, agentID, specialtyID string) ([]models.KnowledgeItem, error) {
	items, err := m.knowledge.ListKnowledge(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if specialtyID == "" {
		return items, nil
	}
	filtered := items[:0]
	for _, it := range items {
		if it.SpecialtyID == specialtyID {
			filtered = append(filtered, it)
		}
	}
	return filtered, nil
}

// UpdateConfidence sets the confidence of an item, saturating at [0,100]
func (m *Manager) UpdateConfidence(ctx context.Context, id string, confidence float64) (*models.KnowledgeItem, error) {
	if math.IsNaN(confidence) {
		return nil, fmt.Errorf("confidence must be a number: %w", models.ErrValidation)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	item, err := m.knowledge.GetKnowledge(ctx, id)
	if err != nil {
		return nil, err
	}
	item.Confidence = models.Clamp(confidence)
	if err := m.knowledge.SaveKnowledge(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// Reinforce raises confidence after the item was applied successfully and
// logs the application as an experience
func (m *Manager) Reinforce(ctx context.Context, id, situation string) (*models.KnowledgeItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, err := m.knowledge.GetKnowledge(ctx, id)
	if err != nil {
		return nil, err
	}
	now := m.clock.Now()
	item.Confidence = models.Clamp(item.Confidence + reinforceBoost)
	item.AccessCount++
	item.LastAccessed = now
	if err := m.knowledge.SaveKnowledge(ctx, item); err != nil {
		return nil, err
	}

	entry := &models.ExperienceEntry{
		AgentID:           item.AgentID,
		Type:              models.ExperienceKnowledgeApplication,
		Context:           situation,
		Outcome:           "Applied knowledge: " + truncate(item.Content, 200),
		EmotionalResponse: "confident",
		ImpactScore:       applicationScore,
	}
	if _, err := m.recordExperience(ctx, entry); err != nil {
		return nil, err
	}
	return item, nil
}

// Correct lowers confidence in an item that proved wrong, stores the
// correction as a new item and logs the mistake. It returns the new item.
func (m *Manager) Correct(ctx context.Context, id, situation, correction string) (*models.KnowledgeItem, error) {
	if strings.TrimSpace(correction) == "" {
		return nil, fmt.Errorf("correction text is required: %w", models.ErrValidation)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	original, err := m.knowledge.GetKnowledge(ctx, id)
	if err != nil {
		return nil, err
	}
	now := m.clock.Now()
	original.Confidence = models.Clamp(original.Confidence - correctPenalty)
	if err := m.knowledge.SaveKnowledge(ctx, original); err != nil {
		return nil, err
	}

	corrective := m.prepare(&models.KnowledgeItem{
		AgentID:        original.AgentID,
		SpecialtyID:    original.SpecialtyID,
		Type:           models.KnowledgeCorrection,
		Content:        correction,
		Source:         "correction_of_" + original.ID,
		Confidence:     correctionScore,
		RelevanceScore: original.RelevanceScore,
		Tags:           models.StringList{"correction", "improvement"},
	}, now)
	if err := m.knowledge.SaveKnowledge(ctx, corrective); err != nil {
		return nil, err
	}

	entry := &models.ExperienceEntry{
		AgentID:           original.AgentID,
		Type:              models.ExperienceMistakeCorrection,
		Context:           situation,
		Outcome:           "Corrected knowledge: " + truncate(original.Content, 200),
		LessonsLearned:    models.StringList{correction},
		EmotionalResponse: "determined",
		ImpactScore:       mistakeScore,
	}
	if _, err := m.recordExperience(ctx, entry); err != nil {
		return nil, err
	}
	return corrective, nil
}

// ForgetObsolete deletes an agent's items with confidence below 20 that
// have not been accessed for 30 days, and returns how many were removed
func (m *Manager) ForgetObsolete(ctx context.Context, agentID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	items, err := m.knowledge.ListKnowledge(ctx, agentID)
	if err != nil {
		return 0, err
	}
	cutoff := m.clock.Now().Add(-obsoleteAfter)
	var ids []string
	for _, it := range items {
		if it.Confidence < obsoleteBelow && it.LastAccessed.Before(cutoff) {
			ids = append(ids, it.ID)
		}
	}
	n, err := m.knowledge.DeleteKnowledge(ctx, ids...)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.logger.Info().Str("agent_id", agentID).Int("removed", n).Msg("Forgot obsolete knowledge")
	}
	return n, nil
}

// RecordExperience validates and appends an experience entry
func (m *Manager) RecordExperience(ctx context.Context, entry *models.ExperienceEntry) (*models.ExperienceEntry, error) {
	if entry == nil {
		return nil, fmt.Errorf("experience is required: %w", models.ErrValidation)
	}
	if strings.TrimSpace(entry.AgentID) == "" {
		return nil, fmt.Errorf("agent id is required: %w", models.ErrValidation)
	}
	if !entry.Type.Valid() {
		return nil, fmt.Errorf("unknown experience type %q: %w", entry.Type, models.ErrValidation)
	}
	if math.IsNaN(entry.ImpactScore) {
		return nil, fmt.Errorf("impact score must be a number: %w", models.ErrValidation)
	}
	return m.recordExperience(ctx, entry)
}

func (m *Manager) recordExperience(ctx context.Context, entry *models.ExperienceEntry) (*models.ExperienceEntry, error) {
	stored := entry.Clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = m.clock.Now()
	}
	stored.ImpactScore = models.Clamp(stored.ImpactScore)
	if err := m.experiences.AppendExperience(ctx, stored); err != nil {
		return nil, err
	}
	return stored, nil
}

// GetExperiences returns an agent's experiences, newest first. A positive
// limit caps the result.
func (m *Manager) GetExperiences(ctx context.Context, agentID string, limit int) ([]models.ExperienceEntry, error) {
	entries, err := m.experiences.ListExperiences(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// ExtractInsights turns lessons into insight knowledge for the agent and
// returns how many lessons were kept
func (m *Manager) ExtractInsights(ctx context.Context, agentID, specialtyID, sessionID string, lessons []string) (int, error) {
	n := 0
	for _, lesson := range lessons {
		lesson = strings.TrimSpace(lesson)
		if lesson == "" {
			continue
		}
		_, _, err := m.StoreKnowledge(ctx, &models.KnowledgeItem{
			AgentID:     agentID,
			SpecialtyID: specialtyID,
			Type:        models.KnowledgeInsight,
			Content:     lesson,
			Source:      "insight_training_session_" + sessionID,
			Confidence:  insightScore,
			Tags:        models.StringList{"insight"},
		})
		if err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// LevelFor maps an average confidence to a skill label
func LevelFor(avg float64) string {
	switch {
	case avg >= 90:
		return "Expert"
	case avg >= 75:
		return "Advanced"
	case avg >= 60:
		return "Intermediate"
	default:
		return "Beginner"
	}
}

// SkillLevels aggregates an agent's knowledge per specialty. Items not tied
// to a specialty are ignored.
func (m *Manager) SkillLevels(ctx context.Context, agentID string) ([]models.SkillLevel, error) {
	items, err := m.knowledge.ListKnowledge(ctx, agentID)
	if err != nil {
		return nil, err
	}
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, it := range items {
		if it.SpecialtyID == "" {
			continue
		}
		sums[it.SpecialtyID] += it.Confidence
		counts[it.SpecialtyID]++
	}

	skills := make([]models.SkillLevel, 0, len(counts))
	for id, n := range counts {
		avg := sums[id] / float64(n)
		skills = append(skills, models.SkillLevel{
			SpecialtyID:       id,
			AverageConfidence: avg,
			Level:             LevelFor(avg),
			Items:             n,
		})
	}
	sort.Slice(skills, func(i, j int) bool { return skills[i].SpecialtyID < skills[j].SpecialtyID })
	return skills, nil
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
