package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/agentcoach/pkg/models"
)

// Config configures the ChatGPT client
type Config struct {
	APIKey  string
	APIURL  string
	Model   string
	Timeout time.Duration // Bounds every request; the engine itself imposes no deadline
}

// ChatGPT represents a client for the OpenAI chat completions API. It
// implements question generation, answer evaluation and test answering.
type ChatGPT struct {
	apiKey      string
	apiURL      string
	model       string
	maxTokens   int
	temperature float64
	client      *http.Client
	logger      zerolog.Logger
}

// New creates a new ChatGPT client
func New(cfg Config, logger zerolog.Logger) (*ChatGPT, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is not set")
	}
	if cfg.APIURL == "" {
		cfg.APIURL = "https://api.openai.com/v1/chat/completions"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-3.5-turbo"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	return &ChatGPT{
		apiKey:      cfg.APIKey,
		apiURL:      cfg.APIURL,
		model:       cfg.Model,
		maxTokens:   1500,
		temperature: 0.7,
		client:      &http.Client{Timeout: cfg.Timeout},
		logger:      logger.With().Str("component", "chatgpt").Logger(),
	}, nil
}

// Message represents a message in the ChatGPT conversation
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest represents a request to the ChatGPT API
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
}

// ChatResponse represents a response from the ChatGPT API
type ChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// complete sends one chat request and returns the trimmed reply. Every
// failure is wrapped in models.ErrProvider.
func (c *ChatGPT) complete(ctx context.Context, system, prompt string, maxTokens int, temperature float64) (string, error) {
	request := ChatRequest{
		Model: c.model,
		Messages: []Message{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}

	requestData, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %v: %w", err, models.ErrProvider)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(requestData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %v: %w", err, models.ErrProvider)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %v: %w", err, models.ErrProvider)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %v: %w", err, models.ErrProvider)
	}

	var response ChatResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("failed to decode response (status %d): %v: %w", resp.StatusCode, err, models.ErrProvider)
	}
	if response.Error != nil {
		return "", fmt.Errorf("API error: %s: %w", response.Error.Message, models.ErrProvider)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("API returned status %d: %w", resp.StatusCode, models.ErrProvider)
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("no response choices returned: %w", models.ErrProvider)
	}

	c.logger.Debug().Dur("latency", time.Since(start)).Int("bytes", len(body)).Msg("chat completion")
	return strings.TrimSpace(response.Choices[0].Message.Content), nil
}

// levelGuidance describes how hard questions should be at each level
var levelGuidance = map[string]string{
	"Beginner":     "basic definitions and core concepts; straightforward wording",
	"Intermediate": "applying concepts to common situations; some multi-step reasoning",
	"Advanced":     "trade-offs, edge cases and analysis of unfamiliar situations",
	"Expert":       "synthesis across topics, ambiguous scenarios and justification of decisions",
}

type generatedQuestion struct {
	Prompt        string   `json:"prompt"`
	Type          string   `json:"type"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correct_answer"`
	Explanation   string   `json:"explanation"`
	Points        int      `json:"points"`
}

// GenerateQuestions asks the model for count questions about specialty at level
func (c *ChatGPT) GenerateQuestions(ctx context.Context, specialty *models.Specialty, level string, count int) ([]models.Question, error) {
	guidance, ok := levelGuidance[level]
	if !ok {
		guidance = "difficulty appropriate for the " + level + " level"
	}

	prompt := fmt.Sprintf(
		"Create %d competency test questions for the specialty %q (domain: %s) at the %s level.\n"+
			"Focus on: %s.\n"+
			"Key knowledge areas: %s.\n"+
			"About 70%% must be multiple_choice with 4 options and plausible distractors; the rest must be "+
			"short_answer, essay or scenario.\n"+
			"Return only a JSON array. Each element has the fields: prompt, type "+
			"(multiple_choice|short_answer|essay|scenario), options (multiple_choice only), correct_answer "+
			"(for multiple_choice it must equal one of the options exactly), explanation, points (1-20).",
		count, specialty.Name, specialty.Domain, level, guidance, strings.Join(specialty.RequiredKnowledge, ", "),
	)

	content, err := c.complete(ctx,
		"You are an examiner who writes precise, unambiguous competency tests. You answer with JSON only.",
		prompt, c.maxTokens, c.temperature)
	if err != nil {
		return nil, err
	}

	var generated []generatedQuestion
	if err := decodeJSON(content, &generated); err != nil {
		return nil, fmt.Errorf("malformed question list: %v: %w", err, models.ErrProvider)
	}

	questions := make([]models.Question, 0, len(generated))
	for i, g := range generated {
		questions = append(questions, models.Question{
			ID:            fmt.Sprintf("q%d", i+1),
			Prompt:        strings.TrimSpace(g.Prompt),
			Type:          models.QuestionType(strings.TrimSpace(g.Type)),
			Options:       g.Options,
			CorrectAnswer: strings.TrimSpace(g.CorrectAnswer),
			Explanation:   g.Explanation,
			Points:        g.Points,
			Difficulty:    level,
		})
	}
	return questions, nil
}

// EvaluateAnswer grades an open-ended answer against the reference answer
func (c *ChatGPT) EvaluateAnswer(ctx context.Context, question models.Question, answer, correctAnswer string) (*models.AnswerEvaluation, error) {
	prompt := fmt.Sprintf(
		"Question (%s, %s level):\n%s\n\nReference answer:\n%s\n\nCandidate answer:\n%s\n\n"+
			"Judge whether the candidate answer is correct in substance. Return only a JSON object with the "+
			"fields isCorrect (boolean), score (0-100) and feedback (one or two sentences).",
		question.Type, question.Difficulty, question.Prompt, correctAnswer, answer,
	)

	content, err := c.complete(ctx,
		"You are a fair examiner. You grade on substance rather than wording and answer with JSON only.",
		prompt, 300, 0.2)
	if err != nil {
		return nil, err
	}

	var eval models.AnswerEvaluation
	if err := decodeJSON(content, &eval); err != nil {
		return nil, fmt.Errorf("malformed evaluation: %v: %w", err, models.ErrProvider)
	}
	return &eval, nil
}

// AnswerTest lets the model answer a test in the role of agent, using notes
// from the agent's memory as context
func (c *ChatGPT) AnswerTest(ctx context.Context, agent *models.Agent, test *models.Test, notes []string) ([]models.Answer, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s. %s\n", agent.Name, agent.Description)
	if agent.Personality != "" {
		fmt.Fprintf(&b, "Personality: %s\n", agent.Personality)
	}
	if len(notes) > 0 {
		b.WriteString("\nWhat you have learned so far:\n")
		for _, n := range notes {
			fmt.Fprintf(&b, "- %s\n", n)
		}
	}
	b.WriteString("\nAnswer every question below. For multiple_choice questions reply with the exact text of one option.\n")
	for _, q := range test.Questions {
		fmt.Fprintf(&b, "\n[%s] (%s) %s\n", q.ID, q.Type, q.Prompt)
		for _, o := range q.Options {
			fmt.Fprintf(&b, "  * %s\n", o)
		}
	}
	b.WriteString("\nReturn only a JSON array of objects with the fields question_id and response.")

	content, err := c.complete(ctx,
		"You are taking a competency test. You answer with JSON only.",
		b.String(), c.maxTokens, 0.3)
	if err != nil {
		return nil, err
	}

	var answers []models.Answer
	if err := decodeJSON(content, &answers); err != nil {
		return nil, fmt.Errorf("malformed answers: %v: %w", err, models.ErrProvider)
	}
	return answers, nil
}

// decodeJSON unmarshals a model reply, tolerating markdown fences and
// prose around the JSON value
func decodeJSON(content string, v interface{}) error {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	if s == "" {
		return fmt.Errorf("empty reply")
	}

	start := strings.IndexAny(s, "[{")
	if start < 0 {
		return fmt.Errorf("no JSON value in reply")
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end < start {
		return fmt.Errorf("unterminated JSON value in reply")
	}
	return json.Unmarshal([]byte(s[start:end+1]), v)
}
