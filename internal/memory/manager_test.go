package memory

import (
	"context"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/agentcoach/internal/database"
	"github.com/example/agentcoach/pkg/models"
)

func newManager(t *testing.T) (*Manager, *database.InMemory, *clock.Mock) {
	t.Helper()
	store := database.NewInMemory()
	mock := clock.NewMock()
	mock.Add(400 * 24 * time.Hour)
	return NewManager(store, store, mock, zerolog.Nop()), store, mock
}

func TestStoreKnowledgeDefaults(t *testing.T) {
	m, _, mock := newManager(t)
	item, reinforced, err := m.StoreKnowledge(context.Background(), &models.KnowledgeItem{
		AgentID: "agent-a",
		Content: "Goroutines are multiplexed onto OS threads",
	})
	require.NoError(t, err)
	assert.False(t, reinforced)
	assert.NotEmpty(t, item.ID)
	assert.Equal(t, models.KnowledgeConcept, item.Type)
	assert.Equal(t, DefaultConfidence, item.Confidence)
	assert.Equal(t, mock.Now(), item.CreatedAt)
}

func TestStoreKnowledgeReinforcesDuplicates(t *testing.T) {
	m, store, _ := newManager(t)
	ctx := context.Background()

	first, _, err := m.StoreKnowledge(ctx, &models.KnowledgeItem{
		AgentID: "agent-a", Content: "Channels synchronize goroutines", Confidence: 95,
	})
	require.NoError(t, err)

	// "goroutines" is shared; short words like "are" never count
	again, reinforced, err := m.StoreKnowledge(ctx, &models.KnowledgeItem{
		AgentID: "agent-a", Content: "Goroutines are cheap",
	})
	require.NoError(t, err)
	assert.True(t, reinforced)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, 100.0, again.Confidence)
	assert.Equal(t, 1, again.AccessCount)

	_, reinforced, err = m.StoreKnowledge(ctx, &models.KnowledgeItem{AgentID: "agent-a", Content: "Maps are not safe"})
	require.NoError(t, err)
	assert.False(t, reinforced)

	// Other agents are independent
	_, reinforced, err = m.StoreKnowledge(ctx, &models.KnowledgeItem{AgentID: "agent-b", Content: "Goroutines are cheap"})
	require.NoError(t, err)
	assert.False(t, reinforced)

	items, err := store.ListKnowledge(ctx, "agent-a")
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestStoreKnowledgeValidation(t *testing.T) {
	m, _, _ := newManager(t)
	ctx := context.Background()
	_, _, err := m.StoreKnowledge(ctx, &models.KnowledgeItem{Content: "x"})
	assert.ErrorIs(t, err, models.ErrValidation)
	_, _, err = m.StoreKnowledge(ctx, &models.KnowledgeItem{AgentID: "a", Content: "  "})
	assert.ErrorIs(t, err, models.ErrValidation)
	_, _, err = m.StoreKnowledge(ctx, nil)
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestRecallRoundTrip(t *testing.T) {
	m, _, _ := newManager(t)
	ctx := context.Background()
	content := "Deadlocks happen when every goroutine is asleep"
	_, _, err := m.StoreKnowledge(ctx, &models.KnowledgeItem{AgentID: "agent-a", Content: content})
	require.NoError(t, err)

	for _, sub := range []string{"Deadlocks", "every goroutine", "adloc", "is"} {
		recall, err := m.Recall(ctx, "agent-a", sub, RecallOptions{})
		require.NoError(t, err, sub)
		require.NotEmpty(t, recall.Knowledge, sub)
		assert.Contains(t, recall.Knowledge[0].Content, sub)
	}

	recall, err := m.Recall(ctx, "agent-a", "kubernetes", RecallOptions{})
	require.NoError(t, err)
	assert.Empty(t, recall.Knowledge)
	assert.Contains(t, recall.Suggestions[0], "kubernetes")
}

func TestRecallRanksAndBumpsAccess(t *testing.T) {
	m, store, mock := newManager(t)
	ctx := context.Background()
	for _, it := range []models.KnowledgeItem{
		{ID: "low", AgentID: "a", SpecialtyID: "go", Content: "select statement basics", Confidence: 30, RelevanceScore: 40},
		{ID: "high", AgentID: "a", SpecialtyID: "go", Content: "select with default", Confidence: 80, RelevanceScore: 90},
		{ID: "tie", AgentID: "a", SpecialtyID: "go", Content: "select blocks", Confidence: 85, RelevanceScore: 40},
		{ID: "other", AgentID: "a", SpecialtyID: "sql", Content: "select columns", Confidence: 80, RelevanceScore: 99},
	} {
		it := it
		it.LastAccessed = mock.Now()
		it.CreatedAt = mock.Now()
		require.NoError(t, store.SaveKnowledge(ctx, &it))
	}
	require.NoError(t, store.AppendExperience(ctx, &models.ExperienceEntry{
		ID: "e1", AgentID: "a", Type: models.ExperienceFailure, Context: "select loop",
		Outcome: "leaked goroutine", ImpactScore: 60, LessonsLearned: models.StringList{"close channels"}, CreatedAt: mock.Now(),
	}))
	require.NoError(t, store.AppendExperience(ctx, &models.ExperienceEntry{
		ID: "e2", AgentID: "a", Type: models.ExperienceSuccess, Context: "unrelated", Outcome: "fine",
		ImpactScore: 100, CreatedAt: mock.Now(),
	}))

	mock.Add(time.Hour)
	recall, err := m.Recall(ctx, "a", "select", RecallOptions{SpecialtyID: "go", Limit: 2})
	require.NoError(t, err)

	require.Len(t, recall.Knowledge, 2)
	assert.Equal(t, "high", recall.Knowledge[0].ID)
	assert.Equal(t, "tie", recall.Knowledge[1].ID)
	require.Len(t, recall.Experiences, 1)
	assert.Equal(t, "e1", recall.Experiences[0].ID)

	// Knowledge averages (90+40+40)/3 over all matches; experience 60
	assert.InDelta(t, (170.0/3+60)/2, recall.Relevance, 0.001)
	assert.Contains(t, recall.Insights, "Lesson: close channels")
	assert.Contains(t, recall.Suggestions, "Review past mistakes before applying this knowledge again")

	high, err := store.GetKnowledge(ctx, "high")
	require.NoError(t, err)
	assert.Equal(t, 1, high.AccessCount)
	assert.True(t, high.LastAccessed.Equal(mock.Now()))
	low, err := store.GetKnowledge(ctx, "low")
	require.NoError(t, err)
	assert.Zero(t, low.AccessCount)
}

func TestRecallSuggestsValidatingUncertainKnowledge(t *testing.T) {
	m, _, _ := newManager(t)
	ctx := context.Background()
	_, _, err := m.StoreKnowledge(ctx, &models.KnowledgeItem{AgentID: "a", Content: "Mutexes are reentrant", Confidence: 20})
	require.NoError(t, err)

	recall, err := m.Recall(ctx, "a", "mutexes", RecallOptions{})
	require.NoError(t, err)
	require.Len(t, recall.Suggestions, 1)
	assert.Contains(t, recall.Suggestions[0], "Validate uncertain knowledge")

	_, err = m.Recall(ctx, "a", "   ", RecallOptions{})
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestConfidenceSaturates(t *testing.T) {
	m, store, _ := newManager(t)
	ctx := context.Background()
	item, _, err := m.StoreKnowledge(ctx, &models.KnowledgeItem{AgentID: "a", Content: "Interfaces are satisfied implicitly", Confidence: 90})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		reinforced, err := m.Reinforce(ctx, item.ID, "used in review")
		require.NoError(t, err)
		assert.LessOrEqual(t, reinforced.Confidence, 100.0)
	}
	got, err := store.GetKnowledge(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 100.0, got.Confidence)

	for i := 0; i < 60; i++ {
		_, err := m.Correct(ctx, item.ID, "code review", "Interfaces need explicit declarations in Java, not Go")
		require.NoError(t, err)
	}
	got, err = store.GetKnowledge(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.0, got.Confidence)

	updated, err := m.UpdateConfidence(ctx, item.ID, 250)
	require.NoError(t, err)
	assert.Equal(t, 100.0, updated.Confidence)
	updated, err = m.UpdateConfidence(ctx, item.ID, -4)
	require.NoError(t, err)
	assert.Equal(t, 0.0, updated.Confidence)
}

func TestReinforceAndCorrectLogExperiences(t *testing.T) {
	m, store, _ := newManager(t)
	ctx := context.Background()
	item, _, err := m.StoreKnowledge(ctx, &models.KnowledgeItem{
		AgentID: "a", SpecialtyID: "go", Content: "Slices share backing arrays", Confidence: 60, RelevanceScore: 80,
	})
	require.NoError(t, err)

	_, err = m.Reinforce(ctx, item.ID, "fixed an aliasing bug")
	require.NoError(t, err)
	corrective, err := m.Correct(ctx, item.ID, "review", "append may reallocate the backing array")
	require.NoError(t, err)

	assert.Equal(t, models.KnowledgeCorrection, corrective.Type)
	assert.Equal(t, 70.0, corrective.Confidence)
	assert.Equal(t, models.StringList{"correction", "improvement"}, corrective.Tags)
	assert.Equal(t, "go", corrective.SpecialtyID)

	original, err := store.GetKnowledge(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 63.0, original.Confidence)

	entries, err := m.GetExperiences(ctx, "a", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	types := map[models.ExperienceType]float64{}
	for _, e := range entries {
		types[e.Type] = e.ImpactScore
	}
	assert.Equal(t, 75.0, types[models.ExperienceKnowledgeApplication])
	assert.Equal(t, 60.0, types[models.ExperienceMistakeCorrection])

	_, err = m.Correct(ctx, item.ID, "review", "")
	assert.ErrorIs(t, err, models.ErrValidation)
	_, err = m.Reinforce(ctx, "missing", "x")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestForgetObsolete(t *testing.T) {
	m, store, mock := newManager(t)
	ctx := context.Background()
	now := mock.Now()
	for _, it := range []models.KnowledgeItem{
		{ID: "stale-weak", Confidence: 10, LastAccessed: now.Add(-31 * 24 * time.Hour)},
		{ID: "fresh-weak", Confidence: 10, LastAccessed: now.Add(-24 * time.Hour)},
		{ID: "stale-strong", Confidence: 20, LastAccessed: now.Add(-90 * 24 * time.Hour)},
	} {
		it := it
		it.AgentID = "a"
		it.Content = it.ID
		it.CreatedAt = it.LastAccessed
		require.NoError(t, store.SaveKnowledge(ctx, &it))
	}

	n, err := m.ForgetObsolete(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	items, err := store.ListKnowledge(ctx, "a")
	require.NoError(t, err)
	var ids []string
	for _, it := range items {
		ids = append(ids, it.ID)
	}
	assert.ElementsMatch(t, []string{"fresh-weak", "stale-strong"}, ids)
}

func TestSkillLevels(t *testing.T) {
	m, store, mock := newManager(t)
	ctx := context.Background()
	for i, it := range []models.KnowledgeItem{
		{SpecialtyID: "go", Confidence: 95},
		{SpecialtyID: "go", Confidence: 85},
		{SpecialtyID: "sql", Confidence: 59},
		{SpecialtyID: "", Confidence: 10},
	} {
		it.ID = string(rune('a' + i))
		it.AgentID = "agent"
		it.Content = "item"
		it.CreatedAt = mock.Now()
		require.NoError(t, store.SaveKnowledge(ctx, &it))
	}

	skills, err := m.SkillLevels(ctx, "agent")
	require.NoError(t, err)
	require.Len(t, skills, 2)
	assert.Equal(t, "go", skills[0].SpecialtyID)
	assert.Equal(t, "Expert", skills[0].Level)
	assert.Equal(t, 2, skills[0].Items)
	assert.Equal(t, "Beginner", skills[1].Level)

	assert.Equal(t, "Advanced", LevelFor(75))
	assert.Equal(t, "Intermediate", LevelFor(60))
}

func TestExtractInsights(t *testing.T) {
	m, store, _ := newManager(t)
	ctx := context.Background()
	n, err := m.ExtractInsights(ctx, "a", "go", "s1", []string{"Review select semantics", "", "Review select semantics"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	items, err := store.ListKnowledge(ctx, "a")
	require.NoError(t, err)
	require.Len(t, items, 1, "the repeated lesson reinforces the first insight")
	assert.Equal(t, models.KnowledgeInsight, items[0].Type)
	assert.Equal(t, 70.0, items[0].Confidence)
}

func TestRecordExperienceValidation(t *testing.T) {
	m, _, mock := newManager(t)
	ctx := context.Background()

	_, err := m.RecordExperience(ctx, &models.ExperienceEntry{AgentID: "a", Type: "daydream"})
	assert.ErrorIs(t, err, models.ErrValidation)
	_, err = m.RecordExperience(ctx, &models.ExperienceEntry{Type: models.ExperienceLearning})
	assert.ErrorIs(t, err, models.ErrValidation)

	entry, err := m.RecordExperience(ctx, &models.ExperienceEntry{
		AgentID: "a", Type: models.ExperienceInteraction, Context: "pairing", ImpactScore: 140,
	})
	require.NoError(t, err)
	assert.Equal(t, 100.0, entry.ImpactScore)
	assert.Equal(t, mock.Now(), entry.CreatedAt)
}
