package models

import "time"

// DefaultCompetencyLevels is the level sequence used when a specialty does not declare its own.
var DefaultCompetencyLevels = []string{"Beginner", "Intermediate", "Advanced", "Expert"}

// Specialty is a trainable skill domain with an ordered sequence of competency levels
type Specialty struct {
	ID                string     `json:"id" db:"id"`
	Name              string     `json:"name" db:"name"`
	Domain            string     `json:"domain" db:"domain"`
	Description       string     `json:"description" db:"description"`
	RequiredKnowledge StringList `json:"required_knowledge" db:"required_knowledge"`
	CompetencyLevels  StringList `json:"competency_levels" db:"competency_levels"` // Lowest first
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
}

// LevelIndex returns the position of level in the competency sequence, or -1
func (s *Specialty) LevelIndex(level string) int {
	for i, l := range s.CompetencyLevels {
		if l == level {
			return i
		}
	}
	return -1
}

// HasLevel reports whether level belongs to the specialty
func (s *Specialty) HasLevel(level string) bool {
	return s.LevelIndex(level) >= 0
}

// FirstLevel returns the entry level of the specialty
func (s *Specialty) FirstLevel() string {
	if len(s.CompetencyLevels) == 0 {
		return ""
	}
	return s.CompetencyLevels[0]
}

// NextLevel returns the level following level, if there is one
func (s *Specialty) NextLevel(level string) (string, bool) {
	idx := s.LevelIndex(level)
	if idx < 0 || idx+1 >= len(s.CompetencyLevels) {
		return "", false
	}
	return s.CompetencyLevels[idx+1], true
}

// Clone returns a deep copy of the specialty
func (s *Specialty) Clone() *Specialty {
	c := *s
	c.RequiredKnowledge = s.RequiredKnowledge.Clone()
	c.CompetencyLevels = s.CompetencyLevels.Clone()
	return &c
}
