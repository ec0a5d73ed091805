package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	appTrade "github.com/escrow-hub/escrow-hub/internal/application/trade"
	domainTrade "github.com/escrow-hub/escrow-hub/internal/domain/trade"
	"github.com/escrow-hub/escrow-hub/internal/infrastructure/metrics"
)

// Engine is the part of the protocol engine the supervisor drives.
type Engine interface {
	ApplySystem(ctx context.Context, in appTrade.SystemTransition) (*domainTrade.Session, error)
}

// Supervisor cancels sessions that sat in a stage past its deadline.
type Supervisor struct {
	engine    Engine
	repo      domainTrade.Repository
	deadlines map[domainTrade.Stage]time.Duration
	metrics   *metrics.TradeMetrics
	logger    zerolog.Logger
	now       func() time.Time
}

// New validates the deadline table; only cancellable stages may carry one.
func New(engine Engine, repo domainTrade.Repository, deadlines map[domainTrade.Stage]time.Duration, m *metrics.TradeMetrics, logger zerolog.Logger) (*Supervisor, error) {
	for stage, d := range deadlines {
		if !stage.Cancellable() {
			return nil, fmt.Errorf("%w: stage %s cannot carry a deadline", domainTrade.ErrInvalidInput, stage)
		}
		if d <= 0 {
			return nil, fmt.Errorf("%w: deadline for %s must be positive", domainTrade.ErrInvalidInput, stage)
		}
	}
	return &Supervisor{
		engine:    engine,
		repo:      repo,
		deadlines: deadlines,
		metrics:   m,
		logger:    logger.With().Str("service", "supervisor").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// Result summarises one sweep.
type Result struct {
	Cancelled int
	Stale     int
	Failed    int
}

// ProcessDeadlines cancels up to limit expired sessions per stage. A session
// that moved on since it was listed is left alone.
func (s *Supervisor) ProcessDeadlines(ctx context.Context, limit int) (Result, error) {
	if limit <= 0 {
		limit = 100
	}
	var res Result
	now := s.now()
	for _, stage := range s.stages() {
		deadline := s.deadlines[stage]
		expired, err := s.repo.ListStageExpired(ctx, stage, now.Add(-deadline), limit)
		if err != nil {
			return res, fmt.Errorf("list expired %s: %w", stage, err)
		}
		for _, session := range expired {
			_, err := s.engine.ApplySystem(ctx, appTrade.SystemTransition{
				SessionID: session.SessionID,
				Trigger:   domainTrade.TriggerSupervisor,
				From:      stage,
				To:        domainTrade.StageCancelled,
				Details: domainTrade.Cancellation{
					Reason: fmt.Sprintf("%s: %s exceeded %s", domainTrade.ErrDeadlineExceeded, stage, deadline),
				},
			})
			switch {
			case err == nil:
				res.Cancelled++
				s.metrics.ObserveDeadlineCancel(string(stage))
				s.logger.Info().
					Str("session_id", session.SessionID.String()).
					Str("stage", string(stage)).
					Dur("deadline", deadline).
					Msg("trade cancelled after deadline")
			case errors.Is(err, domainTrade.ErrStaleState), errors.Is(err, domainTrade.ErrInvalidTransition):
				res.Stale++
				s.logger.Debug().
					Str("session_id", session.SessionID.String()).
					Msg("deadline cancel dropped, session moved on")
			default:
				res.Failed++
				s.logger.Warn().Err(err).
					Str("session_id", session.SessionID.String()).
					Msg("failed to cancel expired trade")
			}
		}
	}
	return res, nil
}

// Run sweeps on every tick until ctx ends.
func (s *Supervisor) Run(ctx context.Context, interval time.Duration, limit int) error {
	if len(s.deadlines) == 0 {
		s.logger.Info().Msg("no stage deadlines configured")
		<-ctx.Done()
		return ctx.Err()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.ProcessDeadlines(ctx, limit); err != nil {
				s.logger.Warn().Err(err).Msg("deadline sweep failed")
			}
		}
	}
}

func (s *Supervisor) stages() []domainTrade.Stage {
	out := make([]domainTrade.Stage, 0, len(s.deadlines))
	for st := range s.deadlines {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
