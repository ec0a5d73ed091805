package trade

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	domainTrade "github.com/escrow-hub/escrow-hub/internal/domain/trade"
)

// SetStageInput is a party's request to move a session.
type SetStageInput struct {
	SessionID uuid.UUID
	CallerID  uuid.UUID
	Target    domainTrade.Stage
	Details   domainTrade.Details
}

// SetStage applies a party-triggered transition. A lost race is re-read and
// re-validated once; a second loss is reported as stale.
func (s *Service) SetStage(ctx context.Context, in SetStageInput) (*SessionView, error) {
	session, role, err := s.load(ctx, in.SessionID, in.CallerID)
	if err != nil {
		return nil, err
	}
	updated, err := s.transition(ctx, session, in.Target, domainTrade.TriggerFor(role), partyActor(role, in.CallerID), in.Details)
	if err != nil {
		s.reject("set_stage", err)
		return nil, err
	}
	return s.view(updated, role), nil
}

// Cancel moves the session to cancelled on behalf of a party.
func (s *Service) Cancel(ctx context.Context, sessionID, callerID uuid.UUID, reason string) (*SessionView, error) {
	return s.SetStage(ctx, SetStageInput{
		SessionID: sessionID,
		CallerID:  callerID,
		Target:    domainTrade.StageCancelled,
		Details:   domainTrade.Cancellation{Reason: reason},
	})
}

func (s *Service) transition(
	ctx context.Context,
	cur *domainTrade.Session,
	to domainTrade.Stage,
	trig domainTrade.Trigger,
	actor string,
	details domainTrade.Details,
) (*domainTrade.Session, error) {
	if err := domainTrade.CheckDetails(to, details); err != nil {
		return nil, err
	}
	if err := domainTrade.CheckTransition(cur, to, trig); err != nil {
		return nil, err
	}
	updated, err := s.commit(ctx, cur.SessionID, cur.Stage, to, trig, actor, details)
	if !errors.Is(err, domainTrade.ErrStaleState) {
		return updated, err
	}
	s.metrics.ObserveStale("engine")

	latest, err := s.repo.GetByID(ctx, cur.SessionID)
	if err != nil {
		return nil, err
	}
	if latest.Stage == to {
		return latest, nil
	}
	if err := domainTrade.CheckTransition(latest, to, trig); err != nil {
		return nil, err
	}
	updated, err = s.commit(ctx, latest.SessionID, latest.Stage, to, trig, actor, details)
	if errors.Is(err, domainTrade.ErrStaleState) {
		s.metrics.ObserveStale("engine")
		return nil, fmt.Errorf("%w: trade kept changing while moving to %s", domainTrade.ErrStaleState, to)
	}
	return updated, err
}

// SystemTransition is a reconciler or supervisor request. From pins the
// stage the decision was based on.
type SystemTransition struct {
	SessionID uuid.UUID
	Trigger   domainTrade.Trigger
	From      domainTrade.Stage
	To        domainTrade.Stage
	Details   domainTrade.Details
}

// ApplySystem skips the role check but not the table. It never retries:
// if the session left From the caller gets ErrStaleState.
func (s *Service) ApplySystem(ctx context.Context, in SystemTransition) (*domainTrade.Session, error) {
	if !in.Trigger.IsSystem() {
		return nil, fmt.Errorf("%w: %s is not a system trigger", domainTrade.ErrInvalidInput, in.Trigger)
	}
	cur, err := s.repo.GetByID(ctx, in.SessionID)
	if err != nil {
		return nil, err
	}
	if cur.Stage != in.From {
		s.metrics.ObserveStale(string(in.Trigger))
		return cur, fmt.Errorf("%w: expected %s, found %s", domainTrade.ErrStaleState, in.From, cur.Stage)
	}
	if err := domainTrade.CheckDetails(in.To, in.Details); err != nil {
		return nil, err
	}
	if err := domainTrade.CheckTransition(cur, in.To, in.Trigger); err != nil {
		return nil, err
	}
	updated, err := s.commit(ctx, in.SessionID, in.From, in.To, in.Trigger, string(in.Trigger), in.Details)
	if errors.Is(err, domainTrade.ErrStaleState) {
		s.metrics.ObserveStale(string(in.Trigger))
	}
	return updated, err
}

func (s *Service) commit(
	ctx context.Context,
	sessionID uuid.UUID,
	from, to domainTrade.Stage,
	trig domainTrade.Trigger,
	actor string,
	details domainTrade.Details,
) (*domainTrade.Session, error) {
	updated, err := s.repo.CompareAndSetStage(ctx, sessionID, from, to, domainTrade.StageChange{
		Trigger: trig,
		Actor:   actor,
		Details: details,
		At:      s.now(),
	})
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveTransition(string(from), string(to), string(trig))
	s.logger.Info().
		Str("session_id", sessionID.String()).
		Str("from", string(from)).
		Str("to", string(to)).
		Str("trigger", string(trig)).
		Msg("trade stage changed")
	s.publish(updated)
	return updated, nil
}
