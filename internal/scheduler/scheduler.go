package scheduler

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/facebookgo/clock"
	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"

	"github.com/example/agentcoach/internal/database"
	"github.com/example/agentcoach/pkg/models"
)

// maxScheduledProgress keeps time-based progress below completion; only an
// evaluation completes a session
const maxScheduledProgress = 95.0

// Trainer is the part of the training service the scheduler drives
type Trainer interface {
	ListSessions(ctx context.Context, filter database.SessionFilter) ([]models.TrainingSession, error)
	AdvancePhase(ctx context.Context, sessionID string, window models.PhaseWindow, now time.Time) (bool, error)
}

// TickObserver is told about every tick, including skipped ones
type TickObserver interface {
	ObserveTick(report TickReport)
}

// TickReport summarises one tick
type TickReport struct {
	Skipped   bool // Another tick was still running
	Sessions  int
	Processed int
	Failed    int
	Duration  time.Duration
}

// Scheduler polls in-progress sessions and advances each one at most once
// per phase window
type Scheduler struct {
	scheduler     *gocron.Scheduler
	trainer       Trainer
	clock         clock.Clock
	interval      time.Duration
	phaseDuration time.Duration
	observer      TickObserver
	logger        zerolog.Logger

	running atomic.Bool
}

// New creates a scheduler ticking every interval. observer may be nil.
func New(trainer Trainer, clk clock.Clock, interval, phaseDuration time.Duration, observer TickObserver, logger zerolog.Logger) (*Scheduler, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("tick interval must be positive, got %s: %w", interval, models.ErrValidation)
	}
	if phaseDuration <= 0 {
		return nil, fmt.Errorf("phase duration must be positive, got %s: %w", phaseDuration, models.ErrValidation)
	}
	return &Scheduler{
		scheduler:     gocron.NewScheduler(time.UTC),
		trainer:       trainer,
		clock:         clk,
		interval:      interval,
		phaseDuration: phaseDuration,
		observer:      observer,
		logger:        logger.With().Str("component", "scheduler").Logger(),
	}, nil
}

// Start runs Tick every interval in the background until Stop
func (s *Scheduler) Start(ctx context.Context) error {
	gocron.SetPanicHandler(func(jobName string, recovered interface{}) {
		s.logger.Error().Str("job", jobName).Interface("panic", recovered).Msg("Scheduled job panicked")
	})
	if _, err := s.scheduler.Every(s.interval).Do(func() { s.Tick(ctx) }); err != nil {
		return err
	}
	s.scheduler.StartAsync()
	s.logger.Info().Dur("interval", s.interval).Dur("phase_duration", s.phaseDuration).Msg("Scheduler started")
	return nil
}

// Stop cancels future ticks. A tick already running finishes.
func (s *Scheduler) Stop() {
	s.scheduler.Stop()
	s.logger.Info().Msg("Scheduler stopped")
}

// Window computes where session stands in its phase cycle at now
func Window(session *models.TrainingSession, now time.Time, phaseDuration time.Duration) models.PhaseWindow {
	elapsed := now.Sub(session.StartedAt)
	if elapsed < 0 || phaseDuration <= 0 {
		elapsed = 0
		phaseDuration = 1
	}
	slot := int(elapsed / phaseDuration)
	index := slot % len(models.Phases)
	cycle := slot/len(models.Phases) + 1

	maxIterations := session.MaxIterations
	if maxIterations < 1 {
		maxIterations = 1
	}
	progress := (float64(cycle-1) + float64(index)/float64(len(models.Phases))) / float64(maxIterations) * 100

	return models.PhaseWindow{
		Phase:    models.Phases[index],
		Index:    index,
		Cycle:    cycle,
		Progress: math.Min(maxScheduledProgress, progress),
	}
}

// Tick processes every in-progress session once, sequentially. It returns
// immediately when the previous tick has not finished.
func (s *Scheduler) Tick(ctx context.Context) TickReport {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn().Msg("Previous tick still running, skipping")
		report := TickReport{Skipped: true}
		s.observe(report)
		return report
	}
	defer s.running.Store(false)

	start := s.clock.Now()
	var report TickReport

	sessions, err := s.trainer.ListSessions(ctx, database.SessionFilter{Status: models.SessionInProgress})
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list sessions")
		report.Failed++
		s.observe(report)
		return report
	}
	report.Sessions = len(sessions)

	for i := range sessions {
		session := &sessions[i]
		now := s.clock.Now()
		window := Window(session, now, s.phaseDuration)

		ran, err := s.trainer.AdvancePhase(ctx, session.ID, window, now)
		if err != nil {
			report.Failed++
			s.logger.Error().Err(err).
				Str("session_id", session.ID).
				Str("phase", string(window.Phase)).
				Int("cycle", window.Cycle).
				Msg("Failed to process session")
			continue
		}
		if ran {
			report.Processed++
			s.logger.Debug().
				Str("session_id", session.ID).
				Str("phase", string(window.Phase)).
				Int("cycle", window.Cycle).
				Float64("progress", window.Progress).
				Msg("Processed phase")
		}
	}

	report.Duration = s.clock.Now().Sub(start)
	s.observe(report)
	return report
}

func (s *Scheduler) observe(report TickReport) {
	if s.observer != nil {
		s.observer.ObserveTick(report)
	}
}
