package training

import (
	"math"

	"github.com/example/agentcoach/pkg/models"
)

// AdvanceThreshold is the score an attempt needs to move the session up one level
const AdvanceThreshold = 90

// The canonical tables are indexed by position in a four-step ladder
// (Beginner, Intermediate, Advanced, Expert)
var (
	requiredScores = [4]int{70, 80, 85, 90}
	questionCounts = [4]int{5, 7, 8, 10}
	levelFocus     = [4]string{
		"core terminology and definitions",
		"applying concepts to common situations",
		"trade-offs, edge cases and unfamiliar situations",
		"synthesis across topics and judgement under ambiguity",
	}
)

// ladderPosition maps a level of specialty onto the four-step ladder by its
// relative position, so custom level sequences of any length share the
// canonical tables. Unknown levels map to the bottom.
func ladderPosition(specialty *models.Specialty, level string) int {
	idx := specialty.LevelIndex(level)
	n := len(specialty.CompetencyLevels)
	if idx <= 0 || n <= 1 {
		return 0
	}
	return int(math.Round(float64(idx) * 3 / float64(n-1)))
}

// RequiredScore is the score needed to prove level
func RequiredScore(specialty *models.Specialty, level string) int {
	return requiredScores[ladderPosition(specialty, level)]
}

// QuestionCount is the size of a test at level
func QuestionCount(specialty *models.Specialty, level string) int {
	return questionCounts[ladderPosition(specialty, level)]
}

// LevelFocus describes what study and tests concentrate on at level
func LevelFocus(specialty *models.Specialty, level string) string {
	return levelFocus[ladderPosition(specialty, level)]
}
