package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/example/agentcoach/pkg/models"
)

// RecallOptions narrows a recall query
type RecallOptions struct {
	SpecialtyID string // Only knowledge of this specialty when set
	Limit       int    // Per kind; defaults to 10
}

// queryTokens returns the lowercase words of q longer than two runes. A
// query made only of short words is matched as a whole.
func queryTokens(q string) []string {
	tokens := Keywords(q, 2)
	if len(tokens) == 0 {
		if s := strings.ToLower(strings.TrimSpace(q)); s != "" {
			tokens = []string{s}
		}
	}
	return tokens
}

func containsAny(text string, tokens []string) bool {
	text = strings.ToLower(text)
	for _, t := range tokens {
		if strings.Contains(text, t) {
			return true
		}
	}
	return false
}

// Recall returns the agent's knowledge and experiences matching query,
// ranked and capped, together with derived insights and suggestions.
// Returned knowledge counts as accessed.
func (m *Manager) Recall(ctx context.Context, agentID, query string, opts RecallOptions) (*models.Recall, error) {
	if strings.TrimSpace(agentID) == "" {
		return nil, fmt.Errorf("agent id is required: %w", models.ErrValidation)
	}
	tokens := queryTokens(query)
	if len(tokens) == 0 {
		return nil, fmt.Errorf("recall query is empty: %w", models.ErrValidation)
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	items, err := m.knowledge.ListKnowledge(ctx, agentID)
	if err != nil {
		return nil, err
	}
	entries, err := m.experiences.ListExperiences(ctx, agentID)
	if err != nil {
		return nil, err
	}

	var knowledge []models.KnowledgeItem
	for _, it := range items {
		if opts.SpecialtyID != "" && it.SpecialtyID != opts.SpecialtyID {
			continue
		}
		if containsAny(it.Content, tokens) {
			knowledge = append(knowledge, it)
		}
	}
	var experiences []models.ExperienceEntry
	for _, e := range entries {
		if containsAny(e.Context, tokens) || containsAny(e.Outcome, tokens) {
			experiences = append(experiences, e)
		}
	}

	result := &models.Recall{
		Relevance: aggregateRelevance(knowledge, experiences),
	}

	sort.SliceStable(knowledge, func(i, j int) bool {
		if knowledge[i].RelevanceScore != knowledge[j].RelevanceScore {
			return knowledge[i].RelevanceScore > knowledge[j].RelevanceScore
		}
		return knowledge[i].Confidence > knowledge[j].Confidence
	})
	sort.SliceStable(experiences, func(i, j int) bool {
		if experiences[i].ImpactScore != experiences[j].ImpactScore {
			return experiences[i].ImpactScore > experiences[j].ImpactScore
		}
		return experiences[i].CreatedAt.After(experiences[j].CreatedAt)
	})
	if len(knowledge) > limit {
		knowledge = knowledge[:limit]
	}
	if len(experiences) > limit {
		experiences = experiences[:limit]
	}

	now := m.clock.Now()
	for i := range knowledge {
		knowledge[i].AccessCount++
		knowledge[i].LastAccessed = now
		if err := m.knowledge.SaveKnowledge(ctx, &knowledge[i]); err != nil {
			return nil, err
		}
	}

	result.Knowledge = knowledge
	result.Experiences = experiences
	result.Insights = insights(knowledge, experiences)
	result.Suggestions = suggestions(query, knowledge, experiences)
	return result, nil
}

// aggregateRelevance averages the mean relevance of matched knowledge and
// the mean impact of matched experiences. A kind with no matches counts as 0.
func aggregateRelevance(knowledge []models.KnowledgeItem, experiences []models.ExperienceEntry) float64 {
	var avgK, avgE float64
	if len(knowledge) > 0 {
		for _, k := range knowledge {
			avgK += k.RelevanceScore
		}
		avgK /= float64(len(knowledge))
	}
	if len(experiences) > 0 {
		for _, e := range experiences {
			avgE += e.ImpactScore
		}
		avgE /= float64(len(experiences))
	}
	return models.Clamp((avgK + avgE) / 2)
}

func insights(knowledge []models.KnowledgeItem, experiences []models.ExperienceEntry) []string {
	var out []string
	if len(knowledge) > 0 {
		var sum float64
		for _, k := range knowledge {
			sum += k.Confidence
		}
		out = append(out, fmt.Sprintf("%d related knowledge items with average confidence %.0f",
			len(knowledge), sum/float64(len(knowledge))))
	}
	if len(experiences) > 0 {
		top := experiences[0]
		out = append(out, fmt.Sprintf("Most significant related experience (%s): %s", top.Type, truncate(top.Outcome, 200)))

		successes, failures := 0, 0
		for _, e := range experiences {
			switch e.Type {
			case models.ExperienceSuccess:
				successes++
			case models.ExperienceFailure:
				failures++
			}
		}
		if successes+failures > 0 {
			out = append(out, fmt.Sprintf("Track record on this topic: %d successes, %d failures", successes, failures))
		}
		for _, lesson := range top.LessonsLearned {
			out = append(out, "Lesson: "+lesson)
		}
	}
	return out
}

func suggestions(query string, knowledge []models.KnowledgeItem, experiences []models.ExperienceEntry) []string {
	var out []string
	if len(knowledge) == 0 {
		out = append(out, fmt.Sprintf("Study %q to build foundational knowledge", strings.TrimSpace(query)))
	}
	for _, k := range knowledge {
		if k.Confidence < uncertainBelow {
			out = append(out, "Validate uncertain knowledge: "+truncate(k.Content, 120))
		}
	}
	for _, e := range experiences {
		if e.Type == models.ExperienceFailure || e.Type == models.ExperienceMistakeCorrection {
			out = append(out, "Review past mistakes before applying this knowledge again")
			break
		}
	}
	return out
}
