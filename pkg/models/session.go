package models

import (
	"time"
)

// SessionStatus is the lifecycle state of a training session
type SessionStatus string

const (
	SessionInProgress SessionStatus = "in_progress"
	SessionCompleted  SessionStatus = "completed"
	SessionFailed     SessionStatus = "failed"
	SessionReset      SessionStatus = "reset"
)

// Phase is one step of the training cycle
type Phase string

const (
	PhaseStudy    Phase = "study"
	PhasePractice Phase = "practice"
	PhaseTest     Phase = "test"
	PhaseReview   Phase = "review"
)

// Phases lists the cycle in order
var Phases = [4]Phase{PhaseStudy, PhasePractice, PhaseTest, PhaseReview}

// PhaseMetadata remembers the last phase window the scheduler acted on
type PhaseMetadata struct {
	LastProcessedPhase Phase     `json:"last_processed_phase,omitempty"`
	LastProcessedTime  time.Time `json:"last_processed_time,omitempty"`
}

// Due reports whether phase may be processed at now. A phase is processed once
// per entry; the same phase is processed again only after a full phase duration.
func (m PhaseMetadata) Due(phase Phase, now time.Time, phaseDuration time.Duration) bool {
	if phase != m.LastProcessedPhase {
		return true
	}
	return now.Sub(m.LastProcessedTime) >= phaseDuration
}

// PhaseWindow is the scheduler's view of where a session is in its cycle
type PhaseWindow struct {
	Phase    Phase   `json:"phase"`
	Index    int     `json:"index"`    // 0..3
	Cycle    int     `json:"cycle"`    // 1-based
	Progress float64 `json:"progress"` // Time-based progress, capped below completion
}

// TrainingSession tracks one agent training toward one target level in one specialty
type TrainingSession struct {
	ID                     string        `json:"id" db:"id"`
	AgentID                string        `json:"agent_id" db:"agent_id"`
	SpecialtyID            string        `json:"specialty_id" db:"specialty_id"`
	TargetCompetencyLevel  string        `json:"target_competency_level" db:"target_competency_level"`
	CurrentCompetencyLevel string        `json:"current_competency_level" db:"current_competency_level"`
	Status                 SessionStatus `json:"status" db:"status"`
	Progress               float64       `json:"progress" db:"progress"` // 0-100
	CurrentIteration       int           `json:"current_iteration" db:"current_iteration"`
	MaxIterations          int           `json:"max_iterations" db:"max_iterations"`
	StartedAt              time.Time     `json:"started_at" db:"started_at"`
	CompletedAt            *time.Time    `json:"completed_at,omitempty" db:"completed_at"`
	PhaseMetadata          PhaseMetadata `json:"phase_metadata" db:"phase_metadata"`
	UpdatedAt              time.Time     `json:"updated_at" db:"updated_at"`
}

// InProgress reports whether the session still accepts work
func (s *TrainingSession) InProgress() bool {
	return s.Status == SessionInProgress
}

// Clone returns a copy of the session
func (s *TrainingSession) Clone() *TrainingSession {
	c := *s
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
