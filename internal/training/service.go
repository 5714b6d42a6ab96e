package training

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/example/agentcoach/internal/assessment"
	"github.com/example/agentcoach/internal/database"
	"github.com/example/agentcoach/internal/events"
	"github.com/example/agentcoach/internal/memory"
	"github.com/example/agentcoach/pkg/models"
)

// Config holds the service defaults
type Config struct {
	MaxIterations int
	PhaseDuration time.Duration
}

// Dependencies are the collaborators of a Service
type Dependencies struct {
	Store     database.Store
	Engine    *assessment.Engine
	Memory    *memory.Manager
	Agents    AgentProvider
	Responder Responder // Optional
	Events    events.Publisher
	Clock     clock.Clock
	Logger    zerolog.Logger
}

// Service exposes the training operations. Every operation that changes a
// session holds that session's lock, so scheduler processing and callers
// never interleave on the same session.
type Service struct {
	store    database.Store
	registry *Registry
	executor *Executor
	memory   *memory.Manager
	agents   AgentProvider
	events   events.Publisher
	clock    clock.Clock
	logger   zerolog.Logger
	config   Config

	startMu sync.Mutex
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewService wires a service from deps
func NewService(deps Dependencies, cfg Config) *Service {
	return &Service{
		store:    deps.Store,
		registry: NewRegistry(deps.Store, deps.Store, deps.Clock),
		executor: NewExecutor(deps.Store, deps.Engine, deps.Memory, deps.Agents, deps.Responder, deps.Events, deps.Clock, deps.Logger),
		memory:   deps.Memory,
		agents:   deps.Agents,
		events:   deps.Events,
		clock:    deps.Clock,
		logger:   deps.Logger.With().Str("component", "training").Logger(),
		config:   cfg,
		locks:    make(map[string]*sync.Mutex),
	}
}

func (s *Service) lock(sessionID string) func() {
	s.locksMu.Lock()
	mu, ok := s.locks[sessionID]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[sessionID] = mu
	}
	s.locksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// activeSession loads a session that must still be in progress
func (s *Service) activeSession(ctx context.Context, id string) (*models.TrainingSession, *models.Specialty, error) {
	session, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if !session.InProgress() {
		return nil, nil, fmt.Errorf("session %s is %s: %w", id, session.Status, models.ErrConflict)
	}
	specialty, err := s.store.GetSpecialty(ctx, session.SpecialtyID)
	if err != nil {
		return nil, nil, err
	}
	return session, specialty, nil
}

// Specialties

func (s *Service) CreateSpecialty(ctx context.Context, specialty *models.Specialty) (*models.Specialty, error) {
	created, err := s.registry.Create(ctx, specialty)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("specialty_id", created.ID).Str("name", created.Name).Msg("Specialty created")
	return created, nil
}

func (s *Service) UpdateSpecialty(ctx context.Context, id string, specialty *models.Specialty) (*models.Specialty, error) {
	return s.registry.Update(ctx, id, specialty)
}

func (s *Service) DeleteSpecialty(ctx context.Context, id string) error {
	return s.registry.Delete(ctx, id)
}

func (s *Service) GetSpecialty(ctx context.Context, id string) (*models.Specialty, error) {
	return s.registry.Get(ctx, id)
}

func (s *Service) ListSpecialties(ctx context.Context) ([]models.Specialty, error) {
	return s.registry.List(ctx)
}

// Sessions

// StartRequest describes a new training session. Empty levels default to
// the specialty's first and last levels; zero MaxIterations uses the
// service default.
type StartRequest struct {
	AgentID       string
	SpecialtyID   string
	TargetLevel   string
	StartLevel    string
	MaxIterations int
}

// StartSession begins training an agent toward a level. An agent can have
// only one session in progress per specialty.
func (s *Service) StartSession(ctx context.Context, req StartRequest) (*models.TrainingSession, error) {
	if strings.TrimSpace(req.AgentID) == "" || strings.TrimSpace(req.SpecialtyID) == "" {
		return nil, fmt.Errorf("agent id and specialty id are required: %w", models.ErrValidation)
	}
	maxIterations := req.MaxIterations
	if maxIterations == 0 {
		maxIterations = s.config.MaxIterations
	}
	if maxIterations < 1 {
		return nil, fmt.Errorf("max iterations must be at least 1, got %d: %w", maxIterations, models.ErrValidation)
	}

	if _, err := s.agents.GetAgent(ctx, req.AgentID); err != nil {
		return nil, err
	}
	specialty, err := s.store.GetSpecialty(ctx, req.SpecialtyID)
	if err != nil {
		return nil, err
	}

	target := req.TargetLevel
	if target == "" {
		target = specialty.CompetencyLevels[len(specialty.CompetencyLevels)-1]
	}
	start := req.StartLevel
	if start == "" {
		start = specialty.FirstLevel()
	}
	for _, level := range []string{target, start} {
		if !specialty.HasLevel(level) {
			return nil, fmt.Errorf("%q is not a level of %s: %w", level, specialty.Name, models.ErrValidation)
		}
	}
	if specialty.LevelIndex(start) > specialty.LevelIndex(target) {
		return nil, fmt.Errorf("start level %q is above target %q: %w", start, target, models.ErrValidation)
	}

	s.startMu.Lock()
	defer s.startMu.Unlock()

	active, err := s.store.ListSessions(ctx, database.SessionFilter{
		AgentID:     req.AgentID,
		SpecialtyID: req.SpecialtyID,
		Status:      models.SessionInProgress,
	})
	if err != nil {
		return nil, err
	}
	if len(active) > 0 {
		return nil, fmt.Errorf("agent %s already trains %s in session %s: %w",
			req.AgentID, specialty.Name, active[0].ID, models.ErrConflict)
	}

	now := s.clock.Now()
	session := &models.TrainingSession{
		ID:                     uuid.NewString(),
		AgentID:                req.AgentID,
		SpecialtyID:            specialty.ID,
		TargetCompetencyLevel:  target,
		CurrentCompetencyLevel: start,
		Status:                 models.SessionInProgress,
		CurrentIteration:       1,
		MaxIterations:          maxIterations,
		StartedAt:              now,
		UpdatedAt:              now,
	}
	if err := s.store.SaveSession(ctx, session); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("session_id", session.ID).
		Str("agent_id", session.AgentID).
		Str("specialty", specialty.Name).
		Str("target", target).
		Msg("Training session started")
	s.events.Publish(ctx, events.SessionStarted, session.ID, session.AgentID, map[string]interface{}{
		"specialty_id":   specialty.ID,
		"target_level":   target,
		"start_level":    start,
		"max_iterations": maxIterations,
	})
	return session, nil
}

func (s *Service) GetSession(ctx context.Context, id string) (*models.TrainingSession, error) {
	return s.store.GetSession(ctx, id)
}

func (s *Service) ListSessions(ctx context.Context, filter database.SessionFilter) ([]models.TrainingSession, error) {
	return s.store.ListSessions(ctx, filter)
}

// UpdateProgress sets the progress of an in-progress session
func (s *Service) UpdateProgress(ctx context.Context, id string, progress float64) (*models.TrainingSession, error) {
	if math.IsNaN(progress) || progress < 0 || progress > 100 {
		return nil, fmt.Errorf("progress must be within [0,100], got %v: %w", progress, models.ErrValidation)
	}
	defer s.lock(id)()

	session, _, err := s.activeSession(ctx, id)
	if err != nil {
		return nil, err
	}
	session.Progress = progress
	session.UpdatedAt = s.clock.Now()
	if err := s.store.SaveSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// CompleteSession marks a session completed at its current level
func (s *Service) CompleteSession(ctx context.Context, id string) (*models.TrainingSession, error) {
	defer s.lock(id)()

	session, specialty, err := s.activeSession(ctx, id)
	if err != nil {
		return nil, err
	}
	s.executor.complete(session)
	if err := s.store.SaveSession(ctx, session); err != nil {
		return nil, err
	}
	s.finish(ctx, session, specialty, OutcomeExhausted, "manual")
	return session, nil
}

// FailSession stops a session without granting a level
func (s *Service) FailSession(ctx context.Context, id string) (*models.TrainingSession, error) {
	return s.stop(ctx, id, models.SessionFailed)
}

// ResetSession abandons a session so the agent can start over
func (s *Service) ResetSession(ctx context.Context, id string) (*models.TrainingSession, error) {
	return s.stop(ctx, id, models.SessionReset)
}

func (s *Service) stop(ctx context.Context, id string, status models.SessionStatus) (*models.TrainingSession, error) {
	defer s.lock(id)()

	session, _, err := s.activeSession(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	session.Status = status
	session.CompletedAt = &now
	session.UpdatedAt = now
	if err := s.store.SaveSession(ctx, session); err != nil {
		return nil, err
	}
	s.logger.Info().Str("session_id", id).Str("status", string(status)).Msg("Training session stopped")
	return session, nil
}

// DeleteSession removes a session with its tests and attempts
func (s *Service) DeleteSession(ctx context.Context, id string) error {
	unlock := s.lock(id)
	err := s.store.DeleteSession(ctx, id)
	unlock()
	if err != nil {
		return err
	}

	s.locksMu.Lock()
	delete(s.locks, id)
	s.locksMu.Unlock()
	return nil
}

// Tests and attempts

// GenerateTest builds a test at the session's current level
func (s *Service) GenerateTest(ctx context.Context, sessionID string) (*models.Test, error) {
	defer s.lock(sessionID)()

	session, specialty, err := s.activeSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.executor.GenerateTest(ctx, session, specialty)
}

// SubmitResult is the outcome of a submitted attempt
type SubmitResult struct {
	Attempt *models.TestAttempt
	Outcome Outcome
	Session *models.TrainingSession
}

// SubmitAttempt grades answers to one of the session's tests and evaluates
// the session against the result
func (s *Service) SubmitAttempt(ctx context.Context, sessionID, testID string, answers []models.Answer) (*SubmitResult, error) {
	defer s.lock(sessionID)()

	session, specialty, err := s.activeSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	test, err := s.store.GetTest(ctx, testID)
	if err != nil {
		return nil, err
	}
	if test.SessionID != sessionID {
		return nil, fmt.Errorf("test %s does not belong to session %s: %w", testID, sessionID, models.ErrNotFound)
	}
	if test.Difficulty != session.CurrentCompetencyLevel {
		return nil, fmt.Errorf("test %s is at level %s, session is at %s: %w",
			testID, test.Difficulty, session.CurrentCompetencyLevel, models.ErrConflict)
	}
	if err := assessment.ValidateAnswers(test, answers); err != nil {
		return nil, err
	}

	attempt, _, err := s.executor.Attempt(ctx, session, specialty, test, answers)
	if err != nil {
		return nil, err
	}
	outcome, err := s.executor.Evaluate(ctx, session, specialty, attempt)
	if err != nil {
		return nil, err
	}
	if err := s.store.SaveSession(ctx, session); err != nil {
		return nil, err
	}
	s.finish(ctx, session, specialty, outcome, "attempt")
	return &SubmitResult{Attempt: attempt, Outcome: outcome, Session: session}, nil
}

// ListAttempts returns the attempts against a test in a session, in order
func (s *Service) ListAttempts(ctx context.Context, sessionID, testID string) ([]models.TestAttempt, error) {
	return s.store.ListAttempts(ctx, testID, sessionID)
}

// AdvancePhase processes one phase window of a session for the scheduler.
// It reports whether an iteration ran; a window that was already processed,
// or a session no longer in progress, is skipped.
func (s *Service) AdvancePhase(ctx context.Context, sessionID string, window models.PhaseWindow, now time.Time) (bool, error) {
	defer s.lock(sessionID)()

	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if !session.InProgress() || !session.PhaseMetadata.Due(window.Phase, now, s.config.PhaseDuration) {
		return false, nil
	}
	specialty, err := s.store.GetSpecialty(ctx, session.SpecialtyID)
	if err != nil {
		return false, err
	}

	// The window is claimed before the iteration runs so a failure or
	// restart does not run it twice.
	session.PhaseMetadata = models.PhaseMetadata{LastProcessedPhase: window.Phase, LastProcessedTime: now}
	session.UpdatedAt = now
	if err := s.store.SaveSession(ctx, session); err != nil {
		return false, err
	}

	// A failed iteration still counts against the budget so the session
	// cannot stay in progress forever.
	outcome := OutcomeContinued
	result, runErr := s.executor.Run(ctx, session, specialty)
	if runErr != nil {
		s.logger.Error().Err(runErr).Str("session_id", sessionID).Msg("Training iteration failed")
	} else {
		outcome = result.Outcome
	}
	if session.InProgress() {
		session.Progress = math.Max(session.Progress, window.Progress)
		if window.Cycle >= session.MaxIterations {
			if err := s.executor.ForceComplete(ctx, session, specialty); err != nil {
				return true, err
			}
			outcome = OutcomeExhausted
		}
	}
	if err := s.store.SaveSession(ctx, session); err != nil {
		return true, err
	}
	s.finish(ctx, session, specialty, outcome, "scheduler")
	return true, runErr
}

// finish announces a completed session and records it in the agent's history
func (s *Service) finish(ctx context.Context, session *models.TrainingSession, specialty *models.Specialty, outcome Outcome, trigger string) {
	if !outcome.Completed() {
		if outcome == OutcomeAdvanced {
			s.logger.Info().
				Str("session_id", session.ID).
				Str("level", session.CurrentCompetencyLevel).
				Msg("Session advanced a level")
		}
		return
	}

	data := map[string]interface{}{
		"specialty_id": specialty.ID,
		"level":        session.CurrentCompetencyLevel,
		"target_level": session.TargetCompetencyLevel,
		"iterations":   session.CurrentIteration,
		"trigger":      trigger,
	}
	entry := &models.ExperienceEntry{
		AgentID:   session.AgentID,
		SessionID: session.ID,
		Type:      models.ExperienceTrainingCompletion,
		Context:   fmt.Sprintf("%s training toward %s", specialty.Name, session.TargetCompetencyLevel),
	}
	if outcome == OutcomeAchieved {
		entry.Outcome = fmt.Sprintf("Achieved %s competency after %d iterations", session.CurrentCompetencyLevel, session.CurrentIteration)
		entry.EmotionalResponse = "accomplished"
		entry.ImpactScore = 90
		s.events.Publish(ctx, events.CompetencyAchieved, session.ID, session.AgentID, data)
	} else {
		entry.Outcome = fmt.Sprintf("Finished at %s after %d iterations (target %s)",
			session.CurrentCompetencyLevel, session.CurrentIteration, session.TargetCompetencyLevel)
		entry.EmotionalResponse = "reflective"
		entry.ImpactScore = 60
		s.events.Publish(ctx, events.SessionCompleted, session.ID, session.AgentID, data)
	}
	if _, err := s.memory.RecordExperience(ctx, entry); err != nil {
		s.logger.Warn().Err(err).Str("session_id", session.ID).Msg("Failed to record training completion")
	}
	s.logger.Info().
		Str("session_id", session.ID).
		Str("outcome", string(outcome)).
		Str("level", session.CurrentCompetencyLevel).
		Msg("Training session completed")
}

// Memory

// AddKnowledge stores an item for a known agent. The returned flag is true
// when an existing item was reinforced instead.
func (s *Service) AddKnowledge(ctx context.Context, item *models.KnowledgeItem) (*models.KnowledgeItem, bool, error) {
	if item == nil {
		return nil, false, fmt.Errorf("knowledge item is required: %w", models.ErrValidation)
	}
	if _, err := s.agents.GetAgent(ctx, item.AgentID); err != nil {
		return nil, false, err
	}
	return s.memory.StoreKnowledge(ctx, item)
}

func (s *Service) GetKnowledge(ctx context.Context, id string) (*models.KnowledgeItem, error) {
	return s.memory.GetKnowledge(ctx, id)
}

func (s *Service) UpdateConfidence(ctx context.Context, id string, confidence float64) (*models.KnowledgeItem, error) {
	if math.IsNaN(confidence) {
		return nil, fmt.Errorf("confidence must be a number: %w", models.ErrValidation)
	}
	return s.memory.UpdateConfidence(ctx, id, confidence)
}

func (s *Service) ReinforceKnowledge(ctx context.Context, id, situation string) (*models.KnowledgeItem, error) {
	return s.memory.Reinforce(ctx, id, situation)
}

func (s *Service) CorrectKnowledge(ctx context.Context, id, situation, correction string) (*models.KnowledgeItem, error) {
	return s.memory.Correct(ctx, id, situation, correction)
}

// ForgetObsolete prunes an agent's stale, low-confidence knowledge
func (s *Service) ForgetObsolete(ctx context.Context, agentID string) (int, error) {
	return s.memory.ForgetObsolete(ctx, agentID)
}

func (s *Service) RecordExperience(ctx context.Context, entry *models.ExperienceEntry) (*models.ExperienceEntry, error) {
	if entry == nil {
		return nil, fmt.Errorf("experience is required: %w", models.ErrValidation)
	}
	if _, err := s.agents.GetAgent(ctx, entry.AgentID); err != nil {
		return nil, err
	}
	return s.memory.RecordExperience(ctx, entry)
}

func (s *Service) GetExperiences(ctx context.Context, agentID string, limit int) ([]models.ExperienceEntry, error) {
	return s.memory.GetExperiences(ctx, agentID, limit)
}

func (s *Service) RecallMemory(ctx context.Context, agentID, query string, opts memory.RecallOptions) (*models.Recall, error) {
	return s.memory.Recall(ctx, agentID, query, opts)
}

// BuildExpertiseProfile summarises an agent's skills, history and sessions
func (s *Service) BuildExpertiseProfile(ctx context.Context, agentID string) (*models.ExpertiseProfile, error) {
	agent, err := s.agents.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	skills, err := s.memory.SkillLevels(ctx, agentID)
	if err != nil {
		return nil, err
	}
	knowledge, err := s.memory.ListKnowledge(ctx, agentID, "")
	if err != nil {
		return nil, err
	}
	experiences, err := s.memory.GetExperiences(ctx, agentID, 0)
	if err != nil {
		return nil, err
	}
	sessions, err := s.store.ListSessions(ctx, database.SessionFilter{AgentID: agentID})
	if err != nil {
		return nil, err
	}

	profile := &models.ExpertiseProfile{
		Agent:            *agent,
		KnowledgeCount:   len(knowledge),
		ExperienceCount:  len(experiences),
		ExperienceByType: make(map[models.ExperienceType]int),
		GeneratedAt:      s.clock.Now(),
	}
	for _, e := range experiences {
		profile.ExperienceByType[e.Type]++
	}
	for _, session := range sessions {
		switch session.Status {
		case models.SessionCompleted:
			profile.CompletedSessions++
		case models.SessionInProgress:
			profile.ActiveSessions++
		}
	}

	for i := range skills {
		name := skills[i].SpecialtyID
		if specialty, err := s.store.GetSpecialty(ctx, skills[i].SpecialtyID); err == nil {
			name = specialty.Name
			skills[i].SpecialtyName = name
		}
		switch skills[i].Level {
		case "Expert", "Advanced":
			profile.Strengths = append(profile.Strengths, name)
		case "Beginner":
			profile.GrowthAreas = append(profile.GrowthAreas, name)
		}
	}
	profile.Skills = skills
	return profile, nil
}
