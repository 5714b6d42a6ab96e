package training

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/agentcoach/internal/agents"
	"github.com/example/agentcoach/internal/assessment"
	"github.com/example/agentcoach/internal/database"
	"github.com/example/agentcoach/internal/events"
	"github.com/example/agentcoach/internal/memory"
	"github.com/example/agentcoach/pkg/models"
)

const phase = 30 * time.Minute

// answerKey answers every question correctly, or leaves every answer blank
type answerKey struct {
	correct bool
}

func (a answerKey) AnswerTest(ctx context.Context, agent *models.Agent, test *models.Test, notes []string) ([]models.Answer, error) {
	answers := make([]models.Answer, 0, len(test.Questions))
	for _, q := range test.Questions {
		response := ""
		if a.correct {
			response = q.CorrectAnswer
		}
		answers = append(answers, models.Answer{QuestionID: q.ID, Response: response})
	}
	return answers, nil
}

// duplicateAnswers answers the first question twice
type duplicateAnswers struct{}

func (duplicateAnswers) AnswerTest(ctx context.Context, agent *models.Agent, test *models.Test, notes []string) ([]models.Answer, error) {
	id := test.Questions[0].ID
	return []models.Answer{{QuestionID: id, Response: "a"}, {QuestionID: id, Response: "b"}}, nil
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) HandleEvent(ctx context.Context, event events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recorder) count(t events.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

type fixture struct {
	svc       *Service
	store     *database.InMemory
	clock     *clock.Mock
	events    *recorder
	specialty *models.Specialty
}

func newFixture(t *testing.T, responder Responder) *fixture {
	t.Helper()
	store := database.NewInMemory()
	mock := clock.NewMock()
	logger := zerolog.Nop()

	directory, err := agents.NewDirectory(models.Agent{ID: "agent-1", Name: "Ada"})
	require.NoError(t, err)

	rec := &recorder{}
	bus := events.NewBus(mock, logger)
	bus.Register("recorder", rec)

	svc := NewService(Dependencies{
		Store:     store,
		Engine:    assessment.New(nil, mock, logger),
		Memory:    memory.NewManager(store, store, mock, logger),
		Agents:    directory,
		Responder: responder,
		Events:    bus,
		Clock:     mock,
		Logger:    logger,
	}, Config{MaxIterations: 10, PhaseDuration: phase})

	specialty, err := svc.CreateSpecialty(context.Background(), &models.Specialty{
		Name:              "Incident Response",
		Domain:            "operations",
		RequiredKnowledge: models.StringList{"triage", "escalation paths", "postmortems"},
	})
	require.NoError(t, err)

	return &fixture{svc: svc, store: store, clock: mock, events: rec, specialty: specialty}
}

func (f *fixture) start(t *testing.T, target string, maxIterations int) *models.TrainingSession {
	t.Helper()
	session, err := f.svc.StartSession(context.Background(), StartRequest{
		AgentID:       "agent-1",
		SpecialtyID:   f.specialty.ID,
		TargetLevel:   target,
		MaxIterations: maxIterations,
	})
	require.NoError(t, err)
	return session
}

func TestStartSessionDefaults(t *testing.T) {
	f := newFixture(t, nil)
	session, err := f.svc.StartSession(context.Background(), StartRequest{AgentID: "agent-1", SpecialtyID: f.specialty.ID})
	require.NoError(t, err)

	assert.Equal(t, models.SessionInProgress, session.Status)
	assert.Equal(t, "Beginner", session.CurrentCompetencyLevel)
	assert.Equal(t, "Expert", session.TargetCompetencyLevel)
	assert.Equal(t, 10, session.MaxIterations)
	assert.Equal(t, 1, session.CurrentIteration)
	assert.Equal(t, 1, f.events.count(events.SessionStarted))
}

func TestStartSessionErrors(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.start(t, "Intermediate", 0)

	tests := []struct {
		name string
		req  StartRequest
		err  error
	}{
		{"missing agent id", StartRequest{SpecialtyID: f.specialty.ID}, models.ErrValidation},
		{"unknown agent", StartRequest{AgentID: "ghost", SpecialtyID: f.specialty.ID}, models.ErrNotFound},
		{"unknown specialty", StartRequest{AgentID: "agent-1", SpecialtyID: "nope"}, models.ErrNotFound},
		{"unknown level", StartRequest{AgentID: "agent-1", SpecialtyID: f.specialty.ID, TargetLevel: "Guru"}, models.ErrValidation},
		{"start above target", StartRequest{AgentID: "agent-1", SpecialtyID: f.specialty.ID, TargetLevel: "Beginner", StartLevel: "Expert"}, models.ErrValidation},
		{"negative iterations", StartRequest{AgentID: "agent-1", SpecialtyID: f.specialty.ID, MaxIterations: -1}, models.ErrValidation},
		{"already training", StartRequest{AgentID: "agent-1", SpecialtyID: f.specialty.ID}, models.ErrConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.StartSession(ctx, tt.req)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestSubmitAttemptAchievesTargetLevel(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	session := f.start(t, "Beginner", 0)

	test, err := f.svc.GenerateTest(ctx, session.ID)
	require.NoError(t, err)
	assert.Len(t, test.Questions, 5)
	assert.Equal(t, 70, test.PassingScore)

	answers, _ := answerKey{correct: true}.AnswerTest(ctx, nil, test, nil)
	result, err := f.svc.SubmitAttempt(ctx, session.ID, test.ID, answers)
	require.NoError(t, err)

	assert.Equal(t, 100, result.Attempt.Score)
	assert.Equal(t, OutcomeAchieved, result.Outcome)
	assert.Equal(t, models.SessionCompleted, result.Session.Status)
	assert.Equal(t, 100.0, result.Session.Progress)
	require.NotNil(t, result.Session.CompletedAt)
	assert.Equal(t, 1, f.events.count(events.CompetencyAchieved))
	assert.Equal(t, 1, f.events.count(events.TestCompleted))

	stored, err := f.svc.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, stored.Status)

	// A completed session takes no more attempts
	_, err = f.svc.SubmitAttempt(ctx, session.ID, test.ID, answers)
	assert.ErrorIs(t, err, models.ErrConflict)
}

func TestSubmitAttemptNumbersAttempts(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	session := f.start(t, "Intermediate", 0)

	test, err := f.svc.GenerateTest(ctx, session.ID)
	require.NoError(t, err)

	first, err := f.svc.SubmitAttempt(ctx, session.ID, test.ID, nil)
	require.NoError(t, err)
	second, err := f.svc.SubmitAttempt(ctx, session.ID, test.ID, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, first.Attempt.AttemptNumber)
	assert.Equal(t, 2, second.Attempt.AttemptNumber)
	assert.Equal(t, OutcomeContinued, second.Outcome)
	assert.Equal(t, 3, second.Session.CurrentIteration)

	attempts, err := f.svc.ListAttempts(ctx, session.ID, test.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, 1, attempts[0].AttemptNumber)
	assert.Equal(t, 2, attempts[1].AttemptNumber)

	experiences, err := f.svc.GetExperiences(ctx, "agent-1", 0)
	require.NoError(t, err)
	require.Len(t, experiences, 2)
	assert.Equal(t, models.ExperienceFailure, experiences[0].Type)
	assert.Equal(t, "determined", experiences[0].EmotionalResponse)
	assert.NotEmpty(t, experiences[0].LessonsLearned)
}

func TestSubmitAttemptAdvancesLevel(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	session := f.start(t, "Expert", 0)

	test, err := f.svc.GenerateTest(ctx, session.ID)
	require.NoError(t, err)
	answers, _ := answerKey{correct: true}.AnswerTest(ctx, nil, test, nil)

	result, err := f.svc.SubmitAttempt(ctx, session.ID, test.ID, answers)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAdvanced, result.Outcome)
	assert.Equal(t, "Intermediate", result.Session.CurrentCompetencyLevel)
	assert.Equal(t, 2, result.Session.CurrentIteration)
	assert.True(t, result.Session.InProgress())

	next, err := f.svc.GenerateTest(ctx, session.ID)
	require.NoError(t, err)
	assert.Len(t, next.Questions, 7)
	assert.Equal(t, 80, next.PassingScore)
}

func TestSubmitAttemptRejectsTestBelowCurrentLevel(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	session := f.start(t, "Expert", 0)

	beginner, err := f.svc.GenerateTest(ctx, session.ID)
	require.NoError(t, err)
	answers, _ := answerKey{correct: true}.AnswerTest(ctx, nil, beginner, nil)
	result, err := f.svc.SubmitAttempt(ctx, session.ID, beginner.ID, answers)
	require.NoError(t, err)
	require.Equal(t, "Intermediate", result.Session.CurrentCompetencyLevel)

	_, err = f.svc.SubmitAttempt(ctx, session.ID, beginner.ID, answers)
	assert.ErrorIs(t, err, models.ErrConflict)

	stored, err := f.svc.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, "Intermediate", stored.CurrentCompetencyLevel)
	assert.Equal(t, 2, stored.CurrentIteration)
	attempts, err := f.svc.ListAttempts(ctx, session.ID, beginner.ID)
	require.NoError(t, err)
	assert.Len(t, attempts, 1)
}

func TestSubmitAttemptExhaustsIterations(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	session := f.start(t, "Advanced", 1)

	test, err := f.svc.GenerateTest(ctx, session.ID)
	require.NoError(t, err)
	result, err := f.svc.SubmitAttempt(ctx, session.ID, test.ID, nil)
	require.NoError(t, err)

	assert.Equal(t, OutcomeExhausted, result.Outcome)
	assert.Equal(t, models.SessionCompleted, result.Session.Status)
	assert.Equal(t, "Beginner", result.Session.CurrentCompetencyLevel)
	assert.Equal(t, 1, f.events.count(events.SessionCompleted))
}

func TestSubmitAttemptRejectsBadInput(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	session := f.start(t, "Intermediate", 0)
	test, err := f.svc.GenerateTest(ctx, session.ID)
	require.NoError(t, err)

	_, err = f.svc.SubmitAttempt(ctx, session.ID, test.ID, []models.Answer{{QuestionID: "q99", Response: "x"}})
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = f.svc.SubmitAttempt(ctx, session.ID, "missing", nil)
	assert.ErrorIs(t, err, models.ErrNotFound)

	attempts, err := f.svc.ListAttempts(ctx, session.ID, test.ID)
	require.NoError(t, err)
	assert.Empty(t, attempts)

	other, err := f.svc.CreateSpecialty(ctx, &models.Specialty{Name: "Capacity Planning"})
	require.NoError(t, err)
	otherSession, err := f.svc.StartSession(ctx, StartRequest{AgentID: "agent-1", SpecialtyID: other.ID})
	require.NoError(t, err)
	_, err = f.svc.SubmitAttempt(ctx, otherSession.ID, test.ID, nil)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestUpdateProgressBounds(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	session := f.start(t, "Intermediate", 0)

	for _, p := range []float64{-1, 100.5} {
		_, err := f.svc.UpdateProgress(ctx, session.ID, p)
		assert.ErrorIs(t, err, models.ErrValidation)
	}

	updated, err := f.svc.UpdateProgress(ctx, session.ID, 42)
	require.NoError(t, err)
	assert.Equal(t, 42.0, updated.Progress)

	_, err = f.svc.UpdateProgress(ctx, "missing", 10)
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = f.svc.CompleteSession(ctx, session.ID)
	require.NoError(t, err)
	_, err = f.svc.UpdateProgress(ctx, session.ID, 10)
	assert.ErrorIs(t, err, models.ErrConflict)
}

func TestStopSessions(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	session := f.start(t, "Intermediate", 0)
	reset, err := f.svc.ResetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionReset, reset.Status)
	assert.NotNil(t, reset.CompletedAt)

	// The agent may start over once the previous session stopped
	again := f.start(t, "Intermediate", 0)
	failed, err := f.svc.FailSession(ctx, again.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionFailed, failed.Status)

	_, err = f.svc.ResetSession(ctx, again.ID)
	assert.ErrorIs(t, err, models.ErrConflict)
}

func TestDeleteSessionCascades(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	session := f.start(t, "Intermediate", 0)
	test, err := f.svc.GenerateTest(ctx, session.ID)
	require.NoError(t, err)
	_, err = f.svc.SubmitAttempt(ctx, session.ID, test.ID, nil)
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteSession(ctx, session.ID))

	_, err = f.svc.GetSession(ctx, session.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = f.store.GetTest(ctx, test.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	attempts, err := f.store.ListSessionAttempts(ctx, session.ID)
	require.NoError(t, err)
	assert.Empty(t, attempts)
}

func TestAdvancePhaseRunsOncePerWindow(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	session := f.start(t, "Expert", 0)
	window := models.PhaseWindow{Phase: models.PhaseStudy, Index: 0, Cycle: 1, Progress: 0}
	now := f.clock.Now()

	ran, err := f.svc.AdvancePhase(ctx, session.ID, window, now)
	require.NoError(t, err)
	assert.True(t, ran)

	ran, err = f.svc.AdvancePhase(ctx, session.ID, window, now)
	require.NoError(t, err)
	assert.False(t, ran)

	tests, err := f.store.ListTests(ctx, session.ID)
	require.NoError(t, err)
	assert.Len(t, tests, 1)

	stored, err := f.svc.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseStudy, stored.PhaseMetadata.LastProcessedPhase)
	assert.Equal(t, now, stored.PhaseMetadata.LastProcessedTime)

	// The same phase is due again only a full phase later
	ran, err = f.svc.AdvancePhase(ctx, session.ID, window, now.Add(phase))
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestAdvancePhaseFallsBackOnInvalidAnswers(t *testing.T) {
	f := newFixture(t, duplicateAnswers{})
	ctx := context.Background()
	session := f.start(t, "Expert", 0)

	ran, err := f.svc.AdvancePhase(ctx, session.ID, models.PhaseWindow{Phase: models.PhaseStudy, Cycle: 1}, f.clock.Now())
	require.NoError(t, err)
	assert.True(t, ran)

	attempts, err := f.store.ListSessionAttempts(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, 1, f.events.count(events.TestCompleted))
}

func TestAdvancePhaseKeepsHigherProgress(t *testing.T) {
	f := newFixture(t, answerKey{correct: false})
	ctx := context.Background()
	session := f.start(t, "Expert", 0)
	_, err := f.svc.UpdateProgress(ctx, session.ID, 60)
	require.NoError(t, err)

	window := models.PhaseWindow{Phase: models.PhasePractice, Index: 1, Cycle: 1, Progress: 2.5}
	_, err = f.svc.AdvancePhase(ctx, session.ID, window, f.clock.Now())
	require.NoError(t, err)

	stored, err := f.svc.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 60.0, stored.Progress)
}

func TestAdvancePhaseStoresStudyNotes(t *testing.T) {
	f := newFixture(t, answerKey{correct: false})
	ctx := context.Background()
	session := f.start(t, "Expert", 0)

	_, err := f.svc.AdvancePhase(ctx, session.ID, models.PhaseWindow{Phase: models.PhaseStudy, Cycle: 1}, f.clock.Now())
	require.NoError(t, err)

	items, err := f.svc.memory.ListKnowledge(ctx, "agent-1", f.specialty.ID)
	require.NoError(t, err)
	require.NotEmpty(t, items)
	assert.Equal(t, models.KnowledgeConcept, items[0].Type)
	assert.Equal(t, "training_session_"+session.ID, items[0].Source)
	// Insights from the failed attempt share words with the notes and reinforce them
	assert.GreaterOrEqual(t, items[0].Confidence, 75.0)
	assert.Contains(t, items[0].Content, "triage")
}

func TestAdvancePhaseKeepsLevelWithinTarget(t *testing.T) {
	f := newFixture(t, answerKey{correct: true})
	ctx := context.Background()
	session := f.start(t, "Advanced", 10)
	phases := models.Phases

	for i := 0; i < 12; i++ {
		window := models.PhaseWindow{Phase: phases[i%4], Index: i % 4, Cycle: i/4 + 1, Progress: float64(i)}
		_, err := f.svc.AdvancePhase(ctx, session.ID, window, f.clock.Now())
		require.NoError(t, err)
		f.clock.Add(phase)

		current, err := f.svc.GetSession(ctx, session.ID)
		require.NoError(t, err)
		assert.LessOrEqual(t, f.specialty.LevelIndex(current.CurrentCompetencyLevel), f.specialty.LevelIndex(current.TargetCompetencyLevel))
		assert.GreaterOrEqual(t, current.Progress, 0.0)
		assert.LessOrEqual(t, current.Progress, 100.0)
	}

	final, err := f.svc.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, final.Status)
	assert.Equal(t, "Advanced", final.CurrentCompetencyLevel)
	assert.Equal(t, 1, f.events.count(events.CompetencyAchieved))
}

func TestAdvancePhaseForceCompletesOnLastCycle(t *testing.T) {
	f := newFixture(t, answerKey{correct: false})
	ctx := context.Background()
	session := f.start(t, "Intermediate", 3)

	ran, err := f.svc.AdvancePhase(ctx, session.ID, models.PhaseWindow{Phase: models.PhaseTest, Index: 2, Cycle: 3, Progress: 95}, f.clock.Now())
	require.NoError(t, err)
	assert.True(t, ran)

	final, err := f.svc.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, final.Status)
	assert.Equal(t, 100.0, final.Progress)
	assert.Equal(t, "Beginner", final.CurrentCompetencyLevel)
	assert.Equal(t, 1, f.events.count(events.SessionCompleted))
}

func TestKnowledgeOperations(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, _, err := f.svc.AddKnowledge(ctx, &models.KnowledgeItem{AgentID: "ghost", Content: "anything at all"})
	assert.ErrorIs(t, err, models.ErrNotFound)

	item, reinforced, err := f.svc.AddKnowledge(ctx, &models.KnowledgeItem{
		AgentID:     "agent-1",
		SpecialtyID: f.specialty.ID,
		Content:     "Page the incident commander before touching production",
	})
	require.NoError(t, err)
	assert.False(t, reinforced)

	updated, err := f.svc.UpdateConfidence(ctx, item.ID, 150)
	require.NoError(t, err)
	assert.Equal(t, 100.0, updated.Confidence)

	recall, err := f.svc.RecallMemory(ctx, "agent-1", "incident commander", memory.RecallOptions{})
	require.NoError(t, err)
	require.Len(t, recall.Knowledge, 1)
	assert.Equal(t, item.ID, recall.Knowledge[0].ID)

	corrective, err := f.svc.CorrectKnowledge(ctx, item.ID, "postmortem review", "Declare the incident first")
	require.NoError(t, err)
	assert.Equal(t, models.StringList{"correction", "improvement"}, corrective.Tags)

	_, err = f.svc.RecordExperience(ctx, &models.ExperienceEntry{AgentID: "ghost", Type: models.ExperienceLearning})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestBuildExpertiseProfile(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	session := f.start(t, "Beginner", 0)
	test, err := f.svc.GenerateTest(ctx, session.ID)
	require.NoError(t, err)
	answers, _ := answerKey{correct: true}.AnswerTest(ctx, nil, test, nil)
	_, err = f.svc.SubmitAttempt(ctx, session.ID, test.ID, answers)
	require.NoError(t, err)

	_, _, err = f.svc.AddKnowledge(ctx, &models.KnowledgeItem{
		AgentID: "agent-1", SpecialtyID: f.specialty.ID, Content: "Runbooks shorten recovery", Confidence: 95,
	})
	require.NoError(t, err)

	profile, err := f.svc.BuildExpertiseProfile(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", profile.Agent.Name)
	assert.Equal(t, 1, profile.CompletedSessions)
	assert.Equal(t, 0, profile.ActiveSessions)
	assert.Equal(t, 1, profile.ExperienceByType[models.ExperienceTrainingCompletion])
	assert.Equal(t, 1, profile.ExperienceByType[models.ExperienceSuccess])
	require.Len(t, profile.Skills, 1)
	assert.Equal(t, "Incident Response", profile.Skills[0].SpecialtyName)
	assert.Equal(t, 1, profile.KnowledgeCount)
	assert.Equal(t, []string{"Incident Response"}, profile.Strengths)
	assert.Empty(t, profile.GrowthAreas)

	_, err = f.svc.BuildExpertiseProfile(ctx, "ghost")
	assert.ErrorIs(t, err, models.ErrNotFound)
}
