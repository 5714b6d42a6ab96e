package models

import "time"

// QuestionType represents different kinds of test questions
type QuestionType string

const (
	// MultipleChoice is graded by exact match against one of the options
	MultipleChoice QuestionType = "multiple_choice"
	// ShortAnswer expects a brief free-text answer
	ShortAnswer QuestionType = "short_answer"
	// Essay expects a longer free-text answer
	Essay QuestionType = "essay"
	// Scenario describes a situation and asks how to act in it
	Scenario QuestionType = "scenario"
)

// Valid reports whether t is a known question type
func (t QuestionType) Valid() bool {
	switch t {
	case MultipleChoice, ShortAnswer, Essay, Scenario:
		return true
	}
	return false
}

// OpenEnded reports whether answers of this type need semantic evaluation
func (t QuestionType) OpenEnded() bool {
	return t.Valid() && t != MultipleChoice
}

// Question is a single test question
type Question struct {
	ID            string       `json:"id"`
	Prompt        string       `json:"prompt"`
	Type          QuestionType `json:"type"`
	Options       []string     `json:"options,omitempty"` // Multiple choice only
	CorrectAnswer string       `json:"correct_answer"`
	Explanation   string       `json:"explanation,omitempty"`
	Points        int          `json:"points"`
	Difficulty    string       `json:"difficulty"`
}

// Test is a generated competency test owned by a session
type Test struct {
	ID           string    `json:"id" db:"id"`
	SessionID    string    `json:"session_id" db:"session_id"`
	TestType     string    `json:"test_type" db:"test_type"` // e.g. "competency"
	Questions    Questions `json:"questions" db:"questions"`
	PassingScore int       `json:"passing_score" db:"passing_score"`
	GeneratedBy  string    `json:"generated_by" db:"generated_by"` // "llm" or "fallback"
	Difficulty   string    `json:"difficulty" db:"difficulty"`     // Competency level the test targets
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// Question returns the question with the given id
func (t *Test) Question(id string) (Question, bool) {
	for _, q := range t.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

// Answer is a response to one question
type Answer struct {
	QuestionID string `json:"question_id"`
	Response   string `json:"response"`
}

// FeedbackKind marks feedback as something to keep or something to work on
type FeedbackKind string

const (
	FeedbackStrength    FeedbackKind = "strength"
	FeedbackImprovement FeedbackKind = "improvement"
)

// Feedback is the grading note for one question
type Feedback struct {
	QuestionID string       `json:"question_id"`
	Correct    bool         `json:"correct"`
	Score      int          `json:"score"` // 0-100 for this question
	Kind       FeedbackKind `json:"kind"`
	Message    string       `json:"message"`
}

// AnswerEvaluation is an LLM judgement of an open-ended answer
type AnswerEvaluation struct {
	IsCorrect bool    `json:"isCorrect"`
	Score     float64 `json:"score"`
	Feedback  string  `json:"feedback"`
}

// TestAttempt is one graded submission against a test
type TestAttempt struct {
	ID            string       `json:"id" db:"id"`
	TestID        string       `json:"test_id" db:"test_id"`
	SessionID     string       `json:"session_id" db:"session_id"`
	AttemptNumber int          `json:"attempt_number" db:"attempt_number"` // 1-based per test and session
	Answers       Answers      `json:"answers" db:"answers"`
	Score         int          `json:"score" db:"score"`
	Passed        bool         `json:"passed" db:"passed"`
	Feedback      FeedbackList `json:"feedback" db:"feedback"`
	CompletedAt   time.Time    `json:"completed_at" db:"completed_at"`
}

// Clone returns a deep copy of the test
func (t *Test) Clone() *Test {
	c := *t
	c.Questions = make(Questions, len(t.Questions))
	for i, q := range t.Questions {
		q.Options = append([]string(nil), q.Options...)
		c.Questions[i] = q
	}
	return &c
}

// Clone returns a deep copy of the attempt
func (a *TestAttempt) Clone() *TestAttempt {
	c := *a
	c.Answers = append(Answers(nil), a.Answers...)
	c.Feedback = append(FeedbackList(nil), a.Feedback...)
	return &c
}
