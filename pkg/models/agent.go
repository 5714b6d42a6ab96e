package models

import (
	"errors"
	"time"
)

// Error kinds shared by every layer. Wrap them with fmt.Errorf("...: %w", Err...)
// and test with errors.Is.
var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("conflict")
	ErrProvider   = errors.New("provider error")
)

// Agent is the identity of a trainable agent
type Agent struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Personality string `json:"personality" yaml:"personality"`
}

// SkillLevel aggregates an agent's knowledge within one specialty
type SkillLevel struct {
	SpecialtyID       string  `json:"specialty_id"`
	SpecialtyName     string  `json:"specialty_name,omitempty"`
	AverageConfidence float64 `json:"average_confidence"`
	Level             string  `json:"level"`
	Items             int     `json:"items"`
}

// Recall is the result of a memory query
type Recall struct {
	Knowledge   []KnowledgeItem   `json:"knowledge"`
	Experiences []ExperienceEntry `json:"experiences"`
	Relevance   float64           `json:"relevance"` // 0-100
	Insights    []string          `json:"insights"`
	Suggestions []string          `json:"suggestions"`
}

// ExpertiseProfile summarises what an agent knows and has done
type ExpertiseProfile struct {
	Agent             Agent                  `json:"agent"`
	Skills            []SkillLevel           `json:"skills"`
	KnowledgeCount    int                    `json:"knowledge_count"`
	ExperienceCount   int                    `json:"experience_count"`
	ExperienceByType  map[ExperienceType]int `json:"experience_by_type"`
	CompletedSessions int                    `json:"completed_sessions"`
	ActiveSessions    int                    `json:"active_sessions"`
	Strengths         []string               `json:"strengths"`
	GrowthAreas       []string               `json:"growth_areas"`
	GeneratedAt       time.Time              `json:"generated_at"`
}
