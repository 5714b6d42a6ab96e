package assessment

import (
	"fmt"

	"github.com/example/agentcoach/pkg/models"
)

func defaultPoints(t models.QuestionType) int {
	switch t {
	case models.MultipleChoice:
		return 10
	case models.Essay:
		return 20
	default:
		return 15
	}
}

var openEndedTypes = []models.QuestionType{models.ShortAnswer, models.Scenario, models.Essay}

// FallbackQuestions builds count templated questions from the specialty's
// required knowledge. The output depends only on the arguments: three in
// every ten questions are open-ended, the rest are multiple choice with the
// correct option rotating through the four positions.
func FallbackQuestions(specialty *models.Specialty, level string, count int) []models.Question {
	topics := fallbackTopics(specialty)
	questions := make([]models.Question, 0, count)

	for i := 0; i < count; i++ {
		topic := topics[i%len(topics)]
		q := models.Question{
			ID:         fmt.Sprintf("q%d", i+1),
			Difficulty: level,
		}

		if slot := i % 10; slot == 3 || slot == 6 || slot == 9 {
			q.Type = openEndedTypes[(i/3)%len(openEndedTypes)]
			q.Prompt = fmt.Sprintf("Name the %s topic this describes: the part of %s you must master at the %s level that covers %s.",
				specialty.Name, specialty.Name, level, topic)
			q.CorrectAnswer = topic
			q.Explanation = fmt.Sprintf("%s is listed as required knowledge for %s.", topic, specialty.Name)
		} else {
			correct := CorrectStatement(specialty.Name, topic)
			distractors := []string{
				fmt.Sprintf("%s is unrelated to %s", topic, specialty.Name),
				fmt.Sprintf("%s only matters after %s work is finished", topic, specialty.Name),
				fmt.Sprintf("%s can be skipped at the %s level", topic, level),
			}
			pos := i % 4
			options := make([]string, 0, 4)
			options = append(options, distractors[:pos]...)
			options = append(options, correct)
			options = append(options, distractors[pos:]...)

			q.Type = models.MultipleChoice
			q.Prompt = fmt.Sprintf("Which statement about %s in %s is accurate?", topic, specialty.Name)
			q.Options = options
			q.CorrectAnswer = correct
		}
		q.Points = defaultPoints(q.Type)
		questions = append(questions, q)
	}
	return questions
}

// CorrectStatement is the accurate option of a fallback multiple-choice question
func CorrectStatement(specialtyName, topic string) string {
	return fmt.Sprintf("%s is a core element of %s practice", topic, specialtyName)
}

func fallbackTopics(specialty *models.Specialty) []string {
	var topics []string
	for _, k := range specialty.RequiredKnowledge {
		if k != "" {
			topics = append(topics, k)
		}
	}
	if len(topics) == 0 {
		name := specialty.Name
		if name == "" {
			name = "the specialty"
		}
		topics = []string{
			name + " fundamentals",
			name + " terminology",
			name + " best practices",
		}
	}
	return topics
}
