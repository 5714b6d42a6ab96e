package assessment

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/facebookgo/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/example/agentcoach/pkg/models"
)

// Question sources recorded in Test.GeneratedBy
const (
	GeneratedByLLM      = "llm"
	GeneratedByFallback = "fallback"
)

// TestTypeCompetency is the only test type the engine generates
const TestTypeCompetency = "competency"

// AutoEvaluatedFeedback marks open-ended answers graded without the model
const AutoEvaluatedFeedback = "answer evaluated automatically"

// LLMProvider does the natural-language work of the engine. Implementations
// may fail or return garbage; the engine never passes either on.
type LLMProvider interface {
	GenerateQuestions(ctx context.Context, specialty *models.Specialty, level string, count int) ([]models.Question, error)
	EvaluateAnswer(ctx context.Context, question models.Question, answer, correctAnswer string) (*models.AnswerEvaluation, error)
}

// FallbackRecorder counts how often the engine degraded to its deterministic path
type FallbackRecorder interface {
	RecordFallback(operation string)
}

// Engine generates competency tests and grades attempts
type Engine struct {
	llm       LLMProvider
	clock     clock.Clock
	fallbacks FallbackRecorder
	logger    zerolog.Logger
}

// Option configures an Engine
type Option func(*Engine)

// WithFallbackRecorder reports fallback usage to r
func WithFallbackRecorder(r FallbackRecorder) Option {
	return func(e *Engine) { e.fallbacks = r }
}

// New creates an engine. llm may be nil, in which case every call uses the
// deterministic fallback.
func New(llm LLMProvider, clk clock.Clock, logger zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		llm:    llm,
		clock:  clk,
		logger: logger.With().Str("component", "assessment").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// GenerateQuestions returns exactly count well-formed questions. Model
// failures and malformed output fall back to templated questions.
func (e *Engine) GenerateQuestions(ctx context.Context, specialty *models.Specialty, level string, count int) ([]models.Question, error) {
	questions, _, err := e.generate(ctx, specialty, level, count)
	return questions, err
}

func (e *Engine) generate(ctx context.Context, specialty *models.Specialty, level string, count int) ([]models.Question, string, error) {
	if specialty == nil {
		return nil, "", fmt.Errorf("specialty is required: %w", models.ErrValidation)
	}
	if count < 1 {
		return nil, "", fmt.Errorf("question count must be positive, got %d: %w", count, models.ErrValidation)
	}

	if e.llm != nil {
		generated, err := e.llm.GenerateQuestions(ctx, specialty, level, count)
		if err == nil {
			questions, verr := normalizeQuestions(generated, level, count)
			if verr == nil {
				return questions, GeneratedByLLM, nil
			}
			err = verr
		}
		e.logger.Warn().Err(err).
			Str("specialty", specialty.Name).
			Str("level", level).
			Msg("Question generation failed, using fallback questions")
	}
	e.recordFallback("generate_questions")
	return FallbackQuestions(specialty, level, count), GeneratedByFallback, nil
}

// normalizeQuestions checks model output and assigns stable IDs. The first
// count questions must all be usable.
func normalizeQuestions(generated []models.Question, level string, count int) ([]models.Question, error) {
	if len(generated) < count {
		return nil, fmt.Errorf("model returned %d of %d questions: %w", len(generated), count, models.ErrProvider)
	}
	questions := make([]models.Question, 0, count)
	for i, q := range generated[:count] {
		q.Prompt = strings.TrimSpace(q.Prompt)
		q.CorrectAnswer = strings.TrimSpace(q.CorrectAnswer)
		if q.Prompt == "" || !q.Type.Valid() || q.CorrectAnswer == "" {
			return nil, fmt.Errorf("question %d is malformed: %w", i+1, models.ErrProvider)
		}
		if q.Type == models.MultipleChoice && !containsOption(q.Options, q.CorrectAnswer) {
			return nil, fmt.Errorf("question %d: correct answer is not an option: %w", i+1, models.ErrProvider)
		}
		if q.Type != models.MultipleChoice {
			q.Options = nil
		}
		if q.Points <= 0 {
			q.Points = defaultPoints(q.Type)
		}
		q.ID = fmt.Sprintf("q%d", i+1)
		q.Difficulty = level
		questions = append(questions, q)
	}
	return questions, nil
}

func containsOption(options []string, answer string) bool {
	for _, o := range options {
		if strings.TrimSpace(o) == answer {
			return true
		}
	}
	return false
}

// BuildTest generates a competency test for a session
func (e *Engine) BuildTest(ctx context.Context, sessionID string, specialty *models.Specialty, level string, count, passingScore int) (*models.Test, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session id is required: %w", models.ErrValidation)
	}
	if passingScore < 0 || passingScore > 100 {
		return nil, fmt.Errorf("passing score %d out of range: %w", passingScore, models.ErrValidation)
	}
	questions, source, err := e.generate(ctx, specialty, level, count)
	if err != nil {
		return nil, err
	}
	return &models.Test{
		ID:           uuid.NewString(),
		SessionID:    sessionID,
		TestType:     TestTypeCompetency,
		Questions:    questions,
		PassingScore: passingScore,
		GeneratedBy:  source,
		Difficulty:   level,
		CreatedAt:    e.clock.Now(),
	}, nil
}

// GradeResult is the outcome of grading one attempt
type GradeResult struct {
	Score    int
	Passed   bool
	Earned   float64
	Total    int
	Feedback []models.Feedback
}

// Improvements returns the feedback messages marked as something to work on
func (r *GradeResult) Improvements() []string {
	var out []string
	for _, f := range r.Feedback {
		if f.Kind == models.FeedbackImprovement {
			out = append(out, f.Message)
		}
	}
	return out
}

// ValidateAnswers rejects answers that do not belong to test
func ValidateAnswers(test *models.Test, answers []models.Answer) error {
	seen := make(map[string]bool, len(answers))
	for _, a := range answers {
		if _, ok := test.Question(a.QuestionID); !ok {
			return fmt.Errorf("answer for unknown question %q: %w", a.QuestionID, models.ErrValidation)
		}
		if seen[a.QuestionID] {
			return fmt.Errorf("duplicate answer for question %q: %w", a.QuestionID, models.ErrValidation)
		}
		seen[a.QuestionID] = true
	}
	return nil
}

// GradeAttempt scores answers against test. Unanswered questions earn nothing.
func (e *Engine) GradeAttempt(ctx context.Context, test *models.Test, answers []models.Answer) (*GradeResult, error) {
	if err := ValidateAnswers(test, answers); err != nil {
		return nil, err
	}
	byQuestion := make(map[string]string, len(answers))
	for _, a := range answers {
		byQuestion[a.QuestionID] = a.Response
	}

	result := &GradeResult{}
	for _, q := range test.Questions {
		result.Total += q.Points
		fb := e.gradeQuestion(ctx, q, strings.TrimSpace(byQuestion[q.ID]))
		result.Earned += float64(q.Points) * float64(fb.Score) / 100
		result.Feedback = append(result.Feedback, fb)
	}

	if result.Total > 0 {
		result.Score = models.ClampInt(int(math.Round(100 * result.Earned / float64(result.Total))))
	}
	result.Passed = result.Score >= test.PassingScore
	return result, nil
}

func (e *Engine) gradeQuestion(ctx context.Context, q models.Question, response string) models.Feedback {
	fb := models.Feedback{QuestionID: q.ID}

	switch {
	case response == "":
		fb.Message = "No answer given: " + q.Prompt
	case q.Type == models.MultipleChoice:
		fb.Correct = response == strings.TrimSpace(q.CorrectAnswer)
		if fb.Correct {
			fb.Score = 100
			fb.Message = "Correct: " + q.Prompt
		} else {
			fb.Message = fmt.Sprintf("Review %q: the answer is %q", q.Prompt, q.CorrectAnswer)
			if q.Explanation != "" {
				fb.Message += ". " + q.Explanation
			}
		}
	default:
		fb.Correct, fb.Score, fb.Message = e.evaluateOpenEnded(ctx, q, response)
	}

	if fb.Correct {
		fb.Kind = models.FeedbackStrength
	} else {
		fb.Kind = models.FeedbackImprovement
	}
	return fb
}

func (e *Engine) evaluateOpenEnded(ctx context.Context, q models.Question, response string) (bool, int, string) {
	if e.llm != nil {
		eval, err := e.llm.EvaluateAnswer(ctx, q, response, q.CorrectAnswer)
		if err == nil && eval != nil {
			score := models.ClampInt(int(math.Round(eval.Score)))
			msg := strings.TrimSpace(eval.Feedback)
			if msg == "" {
				msg = q.Prompt
			}
			return eval.IsCorrect, score, msg
		}
		e.logger.Warn().Err(err).Str("question_id", q.ID).Msg("Answer evaluation failed, using exact match")
	}
	e.recordFallback("evaluate_answer")

	if strings.EqualFold(response, strings.TrimSpace(q.CorrectAnswer)) {
		return true, 100, AutoEvaluatedFeedback
	}
	return false, 0, AutoEvaluatedFeedback
}

func (e *Engine) recordFallback(operation string) {
	if e.fallbacks != nil {
		e.fallbacks.RecordFallback(operation)
	}
}
