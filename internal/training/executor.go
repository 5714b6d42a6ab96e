package training

import (
	"context"
	"fmt"
	"strings"

	"github.com/facebookgo/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/example/agentcoach/internal/assessment"
	"github.com/example/agentcoach/internal/database"
	"github.com/example/agentcoach/internal/events"
	"github.com/example/agentcoach/internal/memory"
	"github.com/example/agentcoach/pkg/models"
)

const (
	maxPlanTopics     = 5
	studyConfidence   = 75.0
	studyRelevance    = 70.0
	maxStudyNoteRunes = 2000
	passBonus         = 10.0
)

// AgentProvider resolves agent identities
type AgentProvider interface {
	GetAgent(ctx context.Context, id string) (*models.Agent, error)
}

// Responder produces an agent's answers to a test. notes are what the agent
// recalls about the specialty.
type Responder interface {
	AnswerTest(ctx context.Context, agent *models.Agent, test *models.Test, notes []string) ([]models.Answer, error)
}

// Outcome is the result of evaluating an attempt
type Outcome string

const (
	// OutcomeContinued keeps the level and moves to the next iteration
	OutcomeContinued Outcome = "continued"
	// OutcomeAdvanced moves the session up one level
	OutcomeAdvanced Outcome = "advanced"
	// OutcomeAchieved completes the session at its target level
	OutcomeAchieved Outcome = "competency_achieved"
	// OutcomeExhausted completes the session because it ran out of iterations
	OutcomeExhausted Outcome = "iterations_exhausted"
)

// Completed reports whether the outcome ends the session
func (o Outcome) Completed() bool {
	return o == OutcomeAchieved || o == OutcomeExhausted
}

// IterationResult summarises one design, study, test and evaluate cycle
type IterationResult struct {
	Plan    []string
	Test    *models.Test
	Attempt *models.TestAttempt
	Outcome Outcome
}

// Executor runs training iterations. Callers serialize access per session;
// the executor mutates the session it is given but does not persist it.
type Executor struct {
	tests     database.TestStore
	engine    *assessment.Engine
	memory    *memory.Manager
	agents    AgentProvider
	responder Responder
	events    events.Publisher
	clock     clock.Clock
	logger    zerolog.Logger
}

// NewExecutor creates an executor. responder may be nil, in which case the
// agent answers from its notes.
func NewExecutor(tests database.TestStore, engine *assessment.Engine, mem *memory.Manager, agents AgentProvider,
	responder Responder, publisher events.Publisher, clk clock.Clock, logger zerolog.Logger) *Executor {
	return &Executor{
		tests:     tests,
		engine:    engine,
		memory:    mem,
		agents:    agents,
		responder: responder,
		events:    publisher,
		clock:     clk,
		logger:    logger.With().Str("component", "executor").Logger(),
	}
}

// Run performs one full iteration for session
func (e *Executor) Run(ctx context.Context, session *models.TrainingSession, specialty *models.Specialty) (*IterationResult, error) {
	level := session.CurrentCompetencyLevel
	logger := e.logger.With().Str("session_id", session.ID).Str("level", level).Logger()

	// Design
	plan := ResearchPlan(specialty, level)
	test, err := e.GenerateTest(ctx, session, specialty)
	if err != nil {
		return nil, fmt.Errorf("design: %w", err)
	}

	// Study
	if _, _, err := e.memory.StoreKnowledge(ctx, &models.KnowledgeItem{
		AgentID:        session.AgentID,
		SpecialtyID:    specialty.ID,
		Type:           models.KnowledgeConcept,
		Content:        StudyNotes(specialty, level, plan),
		Source:         "training_session_" + session.ID,
		Confidence:     studyConfidence,
		RelevanceScore: studyRelevance,
		Tags:           models.StringList{"study", level},
	}); err != nil {
		return nil, fmt.Errorf("study: %w", err)
	}

	// Test
	answers := e.answer(ctx, session, specialty, test)
	attempt, _, err := e.Attempt(ctx, session, specialty, test, answers)
	if err != nil {
		return nil, fmt.Errorf("test: %w", err)
	}

	// Evaluate
	outcome, err := e.Evaluate(ctx, session, specialty, attempt)
	if err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}
	logger.Info().
		Int("score", attempt.Score).
		Bool("passed", attempt.Passed).
		Str("outcome", string(outcome)).
		Int("iteration", session.CurrentIteration).
		Msg("Iteration finished")

	return &IterationResult{Plan: plan, Test: test, Attempt: attempt, Outcome: outcome}, nil
}

// ResearchPlan lists what to study for level, at most five topics
func ResearchPlan(specialty *models.Specialty, level string) []string {
	var plan []string
	for _, k := range specialty.RequiredKnowledge {
		if len(plan) == maxPlanTopics-1 {
			break
		}
		plan = append(plan, k)
	}
	if len(plan) == 0 {
		plan = append(plan, specialty.Name+" fundamentals")
	}
	return append(plan, fmt.Sprintf("%s at the %s level: %s", specialty.Name, level, LevelFocus(specialty, level)))
}

// StudyNotes turns a research plan into prose
func StudyNotes(specialty *models.Specialty, level string, plan []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Study notes for %s (%s level). ", specialty.Name, level)
	for i, topic := range plan {
		if i == len(plan)-1 {
			fmt.Fprintf(&b, "Focus for this level: %s.", topic)
			break
		}
		fmt.Fprintf(&b, "%s. ", assessment.CorrectStatement(specialty.Name, topic))
	}
	notes := []rune(b.String())
	if len(notes) > maxStudyNoteRunes {
		notes = notes[:maxStudyNoteRunes]
	}
	return string(notes)
}

// GenerateTest builds and stores a test at the session's current level
func (e *Executor) GenerateTest(ctx context.Context, session *models.TrainingSession, specialty *models.Specialty) (*models.Test, error) {
	level := session.CurrentCompetencyLevel
	test, err := e.engine.BuildTest(ctx, session.ID, specialty, level,
		QuestionCount(specialty, level), RequiredScore(specialty, level))
	if err != nil {
		return nil, err
	}
	if err := e.tests.SaveTest(ctx, test); err != nil {
		return nil, err
	}
	e.events.Publish(ctx, events.TestGenerated, session.ID, session.AgentID, map[string]interface{}{
		"test_id":       test.ID,
		"difficulty":    test.Difficulty,
		"questions":     len(test.Questions),
		"passing_score": test.PassingScore,
		"generated_by":  test.GeneratedBy,
	})
	return test, nil
}

// answer asks the responder for answers and falls back to answering from
// recalled notes
func (e *Executor) answer(ctx context.Context, session *models.TrainingSession, specialty *models.Specialty, test *models.Test) []models.Answer {
	agent, err := e.agents.GetAgent(ctx, session.AgentID)
	if err != nil {
		e.logger.Warn().Err(err).Str("agent_id", session.AgentID).Msg("Agent lookup failed, answering anonymously")
		agent = &models.Agent{ID: session.AgentID, Name: session.AgentID}
	}

	var notes []string
	recall, err := e.memory.Recall(ctx, session.AgentID, specialty.Name+" "+strings.Join(specialty.RequiredKnowledge, " "),
		memory.RecallOptions{SpecialtyID: specialty.ID})
	if err != nil {
		e.logger.Warn().Err(err).Str("session_id", session.ID).Msg("Recall failed, answering without notes")
	} else {
		for _, k := range recall.Knowledge {
			notes = append(notes, k.Content)
		}
	}

	if e.responder != nil {
		answers, err := e.responder.AnswerTest(ctx, agent, test, notes)
		if err == nil {
			err = assessment.ValidateAnswers(test, answers)
		}
		if err == nil {
			return answers
		}
		e.logger.Warn().Err(err).Str("session_id", session.ID).Msg("Responder failed, answering from notes")
	}
	return AnswerFromNotes(test, notes)
}

// AnswerFromNotes answers deterministically: multiple choice picks the option
// sharing the most words with the notes, open questions get the best
// matching note sentence
func AnswerFromNotes(test *models.Test, notes []string) []models.Answer {
	noteWords := make(map[string]bool)
	var sentences []string
	for _, n := range notes {
		for _, w := range memory.Keywords(n, 3) {
			noteWords[w] = true
		}
		for _, s := range strings.Split(n, ". ") {
			if s = strings.TrimSpace(s); s != "" {
				sentences = append(sentences, s)
			}
		}
	}
	overlap := func(text string) int {
		n := 0
		for _, w := range memory.Keywords(text, 3) {
			if noteWords[w] {
				n++
			}
		}
		return n
	}

	answers := make([]models.Answer, 0, len(test.Questions))
	for _, q := range test.Questions {
		response := ""
		if q.Type == models.MultipleChoice {
			best := -1
			for _, o := range q.Options {
				if score := overlap(o); score > best {
					best, response = score, o
				}
			}
		} else {
			promptWords := make(map[string]bool)
			for _, w := range memory.Keywords(q.Prompt, 3) {
				promptWords[w] = true
			}
			best := 0
			for _, s := range sentences {
				score := 0
				for _, w := range memory.Keywords(s, 3) {
					if promptWords[w] {
						score++
					}
				}
				if score > best {
					best, response = score, s
				}
			}
		}
		answers = append(answers, models.Answer{QuestionID: q.ID, Response: response})
	}
	return answers
}

// Attempt grades answers, records the numbered attempt and the experience
// it produced, and turns the feedback into insights
func (e *Executor) Attempt(ctx context.Context, session *models.TrainingSession, specialty *models.Specialty,
	test *models.Test, answers []models.Answer) (*models.TestAttempt, *assessment.GradeResult, error) {
	grade, err := e.engine.GradeAttempt(ctx, test, answers)
	if err != nil {
		return nil, nil, err
	}

	previous, err := e.tests.ListAttempts(ctx, test.ID, session.ID)
	if err != nil {
		return nil, nil, err
	}
	attempt := &models.TestAttempt{
		ID:            uuid.NewString(),
		TestID:        test.ID,
		SessionID:     session.ID,
		AttemptNumber: len(previous) + 1,
		Answers:       append(models.Answers(nil), answers...),
		Score:         grade.Score,
		Passed:        grade.Passed,
		Feedback:      grade.Feedback,
		CompletedAt:   e.clock.Now(),
	}
	if err := e.tests.CreateAttempt(ctx, attempt); err != nil {
		return nil, nil, err
	}

	lessons := lessonsFrom(test, grade)
	entry := &models.ExperienceEntry{
		AgentID:   session.AgentID,
		SessionID: session.ID,
		Context: fmt.Sprintf("%s competency test at the %s level (attempt %d)",
			specialty.Name, test.Difficulty, attempt.AttemptNumber),
		LessonsLearned: lessons,
	}
	if attempt.Passed {
		entry.Type = models.ExperienceSuccess
		entry.Outcome = fmt.Sprintf("Passed with %d/100 (needed %d)", attempt.Score, test.PassingScore)
		entry.EmotionalResponse = "confident"
		entry.ImpactScore = models.Clamp(float64(attempt.Score) + passBonus)
	} else {
		entry.Type = models.ExperienceFailure
		entry.Outcome = fmt.Sprintf("Failed with %d/100 (needed %d)", attempt.Score, test.PassingScore)
		entry.EmotionalResponse = "determined"
		entry.ImpactScore = models.Clamp(float64(attempt.Score))
	}
	if _, err := e.memory.RecordExperience(ctx, entry); err != nil {
		return nil, nil, err
	}

	e.events.Publish(ctx, events.TestCompleted, session.ID, session.AgentID, map[string]interface{}{
		"test_id":        test.ID,
		"attempt_id":     attempt.ID,
		"attempt_number": attempt.AttemptNumber,
		"score":          attempt.Score,
		"passed":         attempt.Passed,
		"difficulty":     test.Difficulty,
	})

	if _, err := e.memory.ExtractInsights(ctx, session.AgentID, specialty.ID, session.ID, lessons); err != nil {
		e.logger.Warn().Err(err).Str("session_id", session.ID).Msg("Failed to store insights")
	}
	return attempt, grade, nil
}

// lessonsFrom collects the improvement notes of a graded attempt. Automatic
// grading notes carry no content, so the question itself becomes the lesson.
func lessonsFrom(test *models.Test, grade *assessment.GradeResult) models.StringList {
	var lessons models.StringList
	for _, f := range grade.Feedback {
		if f.Kind != models.FeedbackImprovement {
			continue
		}
		msg := f.Message
		if msg == assessment.AutoEvaluatedFeedback {
			q, _ := test.Question(f.QuestionID)
			msg = "Review: " + q.Prompt
		}
		lessons = append(lessons, msg)
	}
	return lessons
}

// Evaluate applies the decision table to session after attempt:
//
//  1. passed at the target level with the target's required score: completed
//  2. passed with at least AdvanceThreshold below the target: next level
//  3. out of iterations: completed at the best level passed so far
//  4. otherwise: next iteration
func (e *Executor) Evaluate(ctx context.Context, session *models.TrainingSession, specialty *models.Specialty,
	attempt *models.TestAttempt) (Outcome, error) {
	current := specialty.LevelIndex(session.CurrentCompetencyLevel)
	target := specialty.LevelIndex(session.TargetCompetencyLevel)

	switch {
	case attempt.Passed && current == target && attempt.Score >= RequiredScore(specialty, session.TargetCompetencyLevel):
		e.complete(session)
		return OutcomeAchieved, nil

	case attempt.Passed && attempt.Score >= AdvanceThreshold && current < target:
		next, _ := specialty.NextLevel(session.CurrentCompetencyLevel)
		session.CurrentCompetencyLevel = next
		session.CurrentIteration++
		session.UpdatedAt = e.clock.Now()
		return OutcomeAdvanced, nil

	case session.CurrentIteration+1 > session.MaxIterations:
		if err := e.ForceComplete(ctx, session, specialty); err != nil {
			return "", err
		}
		return OutcomeExhausted, nil

	default:
		session.CurrentIteration++
		session.UpdatedAt = e.clock.Now()
		return OutcomeContinued, nil
	}
}

// ForceComplete ends session at the highest level it has passed a test at,
// never above its target and never below where it stands
func (e *Executor) ForceComplete(ctx context.Context, session *models.TrainingSession, specialty *models.Specialty) error {
	best, err := e.bestEvidencedLevel(ctx, session, specialty)
	if err != nil {
		return err
	}
	session.CurrentCompetencyLevel = best
	e.complete(session)
	return nil
}

func (e *Executor) bestEvidencedLevel(ctx context.Context, session *models.TrainingSession, specialty *models.Specialty) (string, error) {
	attempts, err := e.tests.ListSessionAttempts(ctx, session.ID)
	if err != nil {
		return "", err
	}
	best := specialty.LevelIndex(session.CurrentCompetencyLevel)
	target := specialty.LevelIndex(session.TargetCompetencyLevel)

	difficulty := make(map[string]string)
	for _, a := range attempts {
		if !a.Passed {
			continue
		}
		level, ok := difficulty[a.TestID]
		if !ok {
			test, err := e.tests.GetTest(ctx, a.TestID)
			if err != nil {
				return "", err
			}
			level = test.Difficulty
			difficulty[a.TestID] = level
		}
		if idx := specialty.LevelIndex(level); idx > best {
			best = idx
		}
	}
	if best > target {
		best = target
	}
	if best < 0 {
		return session.CurrentCompetencyLevel, nil
	}
	return specialty.CompetencyLevels[best], nil
}

func (e *Executor) complete(session *models.TrainingSession) {
	now := e.clock.Now()
	session.Status = models.SessionCompleted
	session.Progress = 100
	session.CompletedAt = &now
	session.UpdatedAt = now
}
