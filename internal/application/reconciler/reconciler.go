package reconciler

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	appTrade "github.com/escrow-hub/escrow-hub/internal/application/trade"
	"github.com/escrow-hub/escrow-hub/internal/domain/escrow"
	domainTrade "github.com/escrow-hub/escrow-hub/internal/domain/trade"
	"github.com/escrow-hub/escrow-hub/internal/infrastructure/metrics"
)

// Outcome is what happened to one escrow event.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeParked    Outcome = "parked"
	OutcomeUnknown   Outcome = "unknown"
	OutcomeAmbiguous Outcome = "ambiguous"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeRejected  Outcome = "rejected"
	OutcomeExpired   Outcome = "expired"
)

// Engine is the part of the protocol engine the reconciler drives.
type Engine interface {
	ApplySystem(ctx context.Context, in appTrade.SystemTransition) (*domainTrade.Session, error)
}

type Config struct {
	// OperatorAddress is the signer used for relayed locks. A relayed
	// FundsLocked the engine did not submit is matched on the buyer alone.
	OperatorAddress string
	ParkTTL         time.Duration
	MaxParked       int
}

// waits reports whether an event with this outcome should be retried later.
// Unknown and ambiguous locks can resolve once a wallet is connected, a lock
// submission is recorded, or a competing session moves on.
func (o Outcome) waits() bool {
	return o == OutcomeParked || o == OutcomeUnknown || o == OutcomeAmbiguous
}

type parkedEvent struct {
	event    escrow.Event
	parkedAt time.Time
}

// Reconciler folds escrow contract events into session stages. Delivery is
// at-least-once and unordered; replays are absorbed and a cancelled session
// is never moved again.
type Reconciler struct {
	engine  Engine
	repo    domainTrade.Repository
	cfg     Config
	metrics *metrics.TradeMetrics
	logger  zerolog.Logger
	now     func() time.Time

	mu     sync.Mutex
	parked map[string]*parkedEvent
}

func New(engine Engine, repo domainTrade.Repository, cfg Config, m *metrics.TradeMetrics, logger zerolog.Logger) *Reconciler {
	if cfg.ParkTTL <= 0 {
		cfg.ParkTTL = 30 * time.Minute
	}
	if cfg.MaxParked <= 0 {
		cfg.MaxParked = 1024
	}
	return &Reconciler{
		engine:  engine,
		repo:    repo,
		cfg:     cfg,
		metrics: m,
		logger:  logger.With().Str("service", "reconciler").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
		parked:  make(map[string]*parkedEvent),
	}
}

// OnEvent handles a single event. Errors are infrastructure failures; the
// event is parked and retried on the next Flush.
func (r *Reconciler) OnEvent(ctx context.Context, ev escrow.Event) (Outcome, error) {
	out, err := r.handle(ctx, ev)
	if err != nil {
		out = OutcomeParked
	}
	if out.waits() {
		r.park(ev)
	}
	r.record(ev, out, err)
	return out, err
}

// Flush re-attempts parked events and expires the ones past their TTL. It
// returns how many were resolved.
func (r *Reconciler) Flush(ctx context.Context) int {
	r.mu.Lock()
	pending := make([]*parkedEvent, 0, len(r.parked))
	for _, p := range r.parked {
		pending = append(pending, p)
	}
	r.mu.Unlock()
	sort.Slice(pending, func(i, j int) bool { return pending[i].parkedAt.Before(pending[j].parkedAt) })

	resolved := 0
	now := r.now()
	for _, p := range pending {
		if ctx.Err() != nil {
			break
		}
		if now.Sub(p.parkedAt) > r.cfg.ParkTTL {
			r.unpark(p.event.Key())
			r.record(p.event, OutcomeExpired, nil)
			resolved++
			continue
		}
		out, err := r.handle(ctx, p.event)
		if err != nil || out.waits() {
			continue
		}
		r.unpark(p.event.Key())
		r.record(p.event, out, nil)
		resolved++
	}
	return resolved
}

// Run consumes events until ctx ends or the channel closes, flushing parked
// events every flushEvery.
func (r *Reconciler) Run(ctx context.Context, events <-chan escrow.Event, flushEvery time.Duration) error {
	if flushEvery <= 0 {
		flushEvery = 15 * time.Second
	}
	ticker := time.NewTicker(flushEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			_, _ = r.OnEvent(ctx, ev)
		case <-ticker.C:
			r.Flush(ctx)
		}
	}
}

// Parked returns the number of events waiting for their session.
func (r *Reconciler) Parked() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.parked)
}

func (r *Reconciler) handle(ctx context.Context, ev escrow.Event) (Outcome, error) {
	from, to, ok := stagesFor(ev.Kind)
	if !ok {
		return OutcomeRejected, nil
	}
	// one re-read if the session moves between lookup and commit
	for attempt := 0; attempt < 2; attempt++ {
		session, out, err := r.locate(ctx, ev)
		if err != nil || session == nil {
			return out, err
		}
		switch {
		case session.Stage == domainTrade.StageCancelled:
			return OutcomeCancelled, nil
		case session.Stage.Reached(to):
			return OutcomeDuplicate, nil
		case session.Stage != from:
			return OutcomeParked, nil
		}

		_, err = r.engine.ApplySystem(ctx, appTrade.SystemTransition{
			SessionID: session.SessionID,
			Trigger:   domainTrade.TriggerReconciler,
			From:      from,
			To:        to,
			Details:   proofFor(ev),
		})
		switch {
		case err == nil:
			return OutcomeApplied, nil
		case errors.Is(err, domainTrade.ErrStaleState):
			continue
		case errors.Is(err, domainTrade.ErrInvalidTransition), errors.Is(err, domainTrade.ErrInvalidInput):
			r.logger.Warn().Err(err).
				Str("session_id", session.SessionID.String()).
				Str("event", ev.Key()).
				Msg("escrow event rejected by transition table")
			return OutcomeRejected, nil
		default:
			return "", err
		}
	}
	return OutcomeParked, nil
}

// locate finds the session an event belongs to: by the bound escrow trade
// id, then by the hash of a lock transaction the engine submitted, and last
// by the exact (vendor wallet, customer wallet) pair.
func (r *Reconciler) locate(ctx context.Context, ev escrow.Event) (*domainTrade.Session, Outcome, error) {
	if ev.TradeID != "" {
		session, err := r.repo.FindByEscrowTradeID(ctx, ev.TradeID)
		if err == nil {
			return session, "", nil
		}
		if !errors.Is(err, domainTrade.ErrNotFound) {
			return nil, "", err
		}
	}
	if ev.Kind == escrow.KindFundsReleased {
		// the lock that binds the trade id may still be on its way
		return nil, OutcomeParked, nil
	}

	if ev.TxHash != "" {
		session, err := r.repo.FindByLockTx(ctx, ev.TxHash)
		if err == nil {
			return session, "", nil
		}
		if !errors.Is(err, domainTrade.ErrNotFound) {
			return nil, "", err
		}
	}
	if ev.Buyer == "" {
		return nil, OutcomeUnknown, nil
	}

	seller := ev.Seller
	if r.cfg.OperatorAddress != "" && strings.EqualFold(ev.Seller, r.cfg.OperatorAddress) {
		seller = ""
	}
	candidates, err := r.repo.FindAwaitingLock(ctx, seller, ev.Buyer)
	if err != nil {
		return nil, "", err
	}
	switch len(candidates) {
	case 0:
		return nil, OutcomeUnknown, nil
	case 1:
		return candidates[0], "", nil
	}
	return nil, OutcomeAmbiguous, nil
}

func stagesFor(kind escrow.Kind) (from, to domainTrade.Stage, ok bool) {
	switch kind {
	case escrow.KindFundsLocked:
		return domainTrade.StageLockFunds, domainTrade.StageFiatSent, true
	case escrow.KindFundsReleased:
		return domainTrade.StageReleaseFunds, domainTrade.StageCompleted, true
	}
	return "", "", false
}

func proofFor(ev escrow.Event) domainTrade.Details {
	if ev.Kind == escrow.KindFundsReleased {
		return domainTrade.FundsReleasedProof{TradeID: ev.TradeID, TxHash: ev.TxHash}
	}
	return domainTrade.FundsLockedProof{
		TradeID: ev.TradeID,
		TxHash:  ev.TxHash,
		Seller:  ev.Seller,
		Buyer:   ev.Buyer,
		Token:   ev.Token,
		Amount:  ev.AmountString(),
	}
}

func (r *Reconciler) park(ev escrow.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := ev.Key()
	if _, ok := r.parked[key]; ok {
		return
	}
	if len(r.parked) >= r.cfg.MaxParked {
		var oldestKey string
		var oldest time.Time
		for k, p := range r.parked {
			if oldestKey == "" || p.parkedAt.Before(oldest) {
				oldestKey, oldest = k, p.parkedAt
			}
		}
		delete(r.parked, oldestKey)
		r.logger.Warn().Str("event", oldestKey).Msg("parked escrow events full, dropping oldest")
	}
	r.parked[key] = &parkedEvent{event: ev, parkedAt: r.now()}
	r.metrics.SetParked(len(r.parked))
}

func (r *Reconciler) unpark(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.parked, key)
	r.metrics.SetParked(len(r.parked))
}

func (r *Reconciler) record(ev escrow.Event, out Outcome, err error) {
	r.metrics.ObserveEscrowEvent(string(ev.Kind), string(out))
	var e *zerolog.Event
	switch out {
	case OutcomeApplied:
		e = r.logger.Info()
	case OutcomeDuplicate, OutcomeParked, OutcomeUnknown:
		e = r.logger.Debug()
	default:
		e = r.logger.Warn()
	}
	if err != nil {
		e = r.logger.Error().Err(err)
	}
	e.Str("kind", string(ev.Kind)).
		Str("trade_id", ev.TradeID).
		Str("event", ev.Key()).
		Str("outcome", string(out)).
		Msg("escrow event processed")
}
