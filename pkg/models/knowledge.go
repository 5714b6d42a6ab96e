package models

import "time"

// Knowledge item types
const (
	KnowledgeConcept    = "concept"
	KnowledgeFact       = "fact"
	KnowledgeProcedure  = "procedure"
	KnowledgeInsight    = "insight"
	KnowledgeCorrection = "correction"
)

// KnowledgeItem is a confidence-weighted fact held by an agent
type KnowledgeItem struct {
	ID             string     `json:"id" db:"id"`
	AgentID        string     `json:"agent_id" db:"agent_id"`
	SpecialtyID    string     `json:"specialty_id,omitempty" db:"specialty_id"` // Empty when not tied to a specialty
	Type           string     `json:"type" db:"type"`
	Content        string     `json:"content" db:"content"`
	Source         string     `json:"source" db:"source"`
	Confidence     float64    `json:"confidence" db:"confidence"`           // 0-100
	RelevanceScore float64    `json:"relevance_score" db:"relevance_score"` // 0-100
	AccessCount    int        `json:"access_count" db:"access_count"`
	LastAccessed   time.Time  `json:"last_accessed" db:"last_accessed"`
	Tags           StringList `json:"tags" db:"tags"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
}

// Clone returns a deep copy of the item
func (k *KnowledgeItem) Clone() *KnowledgeItem {
	c := *k
	c.Tags = k.Tags.Clone()
	return &c
}

// ExperienceType classifies an experience log entry
type ExperienceType string

const (
	ExperienceSuccess              ExperienceType = "success"
	ExperienceFailure              ExperienceType = "failure"
	ExperienceLearning             ExperienceType = "learning"
	ExperienceInteraction          ExperienceType = "interaction"
	ExperienceKnowledgeApplication ExperienceType = "knowledge_application"
	ExperienceMistakeCorrection    ExperienceType = "mistake_correction"
	ExperienceAssessment           ExperienceType = "assessment"
	ExperienceTrainingCompletion   ExperienceType = "training_completion"
)

// Valid reports whether t is a known experience type
func (t ExperienceType) Valid() bool {
	switch t {
	case ExperienceSuccess, ExperienceFailure, ExperienceLearning, ExperienceInteraction,
		ExperienceKnowledgeApplication, ExperienceMistakeCorrection, ExperienceAssessment,
		ExperienceTrainingCompletion:
		return true
	}
	return false
}

// ExperienceEntry is an append-only record of something the agent went through
type ExperienceEntry struct {
	ID                string         `json:"id" db:"id"`
	AgentID           string         `json:"agent_id" db:"agent_id"`
	SessionID         string         `json:"session_id,omitempty" db:"session_id"`
	Type              ExperienceType `json:"type" db:"type"`
	Context           string         `json:"context" db:"context"`
	Outcome           string         `json:"outcome" db:"outcome"`
	LessonsLearned    StringList     `json:"lessons_learned" db:"lessons_learned"`
	EmotionalResponse string         `json:"emotional_response" db:"emotional_response"`
	ImpactScore       float64        `json:"impact_score" db:"impact_score"` // 0-100
	CreatedAt         time.Time      `json:"created_at" db:"created_at"`
}

// Clone returns a deep copy of the entry
func (e *ExperienceEntry) Clone() *ExperienceEntry {
	c := *e
	c.LessonsLearned = e.LessonsLearned.Clone()
	return &c
}

// Clamp saturates v to the [0,100] range used by confidence, relevance, impact and scores
func Clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// ClampInt is Clamp for integer scores
func ClampInt(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
