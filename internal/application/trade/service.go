package trade

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/escrow-hub/escrow-hub/internal/domain/escrow"
	"github.com/escrow-hub/escrow-hub/internal/domain/notification"
	domainTrade "github.com/escrow-hub/escrow-hub/internal/domain/trade"
	"github.com/escrow-hub/escrow-hub/internal/infrastructure/metrics"
)

// Service is the protocol engine. It validates every request against the
// authorization guard and the transition table before touching the store.
type Service struct {
	repo    domainTrade.Repository
	escrow  escrow.Client
	sseHub  notification.SSEHub
	metrics *metrics.TradeMetrics
	logger  zerolog.Logger
	now     func() time.Time
}

// NewService creates the engine. escrowClient and sseHub may be nil.
func NewService(
	repo domainTrade.Repository,
	escrowClient escrow.Client,
	sseHub notification.SSEHub,
	m *metrics.TradeMetrics,
	logger zerolog.Logger,
) *Service {
	return &Service{
		repo:    repo,
		escrow:  escrowClient,
		sseHub:  sseHub,
		metrics: m,
		logger:  logger.With().Str("service", "trade").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// CreateSessionInput opens a trade on a listing. The caller is the customer.
type CreateSessionInput struct {
	ListingID  uuid.UUID
	VendorID   uuid.UUID
	CustomerID uuid.UUID
	OnChain    bool
}

func (s *Service) CreateSession(ctx context.Context, in CreateSessionInput) (*domainTrade.Session, error) {
	session, err := domainTrade.NewSession(in.ListingID, in.VendorID, in.CustomerID, in.OnChain, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, session, partyActor(domainTrade.RoleCustomer, in.CustomerID)); err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("session_id", session.SessionID.String()).
		Bool("on_chain", session.OnChain).
		Msg("trade session created")
	s.publish(session)
	return session, nil
}

// SessionView is a session as seen by one of its parties.
type SessionView struct {
	*domainTrade.Session
	Role       domainTrade.Role    `json:"role"`
	NextStages []domainTrade.Stage `json:"nextStages"`
}

func (s *Service) GetSession(ctx context.Context, sessionID, callerID uuid.UUID) (*SessionView, error) {
	session, role, err := s.load(ctx, sessionID, callerID)
	if err != nil {
		return nil, err
	}
	return s.view(session, role), nil
}

func (s *Service) view(session *domainTrade.Session, role domainTrade.Role) *SessionView {
	next := domainTrade.AvailableTransitions(session, domainTrade.TriggerFor(role))
	if next == nil {
		next = []domainTrade.Stage{}
	}
	return &SessionView{Session: session, Role: role, NextStages: next}
}

// SetConfirmation records the caller's acceptance. Once both sides have
// confirmed in initiate the session moves on to connect_wallet.
func (s *Service) SetConfirmation(ctx context.Context, sessionID, callerID uuid.UUID, role domainTrade.Role) (*SessionView, error) {
	session, err := s.repo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if _, err := domainTrade.AuthorizeFieldWrite(session, callerID, role); err != nil {
		s.reject("set_confirmation", err)
		return nil, err
	}
	actor := partyActor(role, callerID)
	updated, err := s.writeField(ctx, session, domainTrade.ConfirmationWrite(role), actor)
	if err != nil {
		s.reject("set_confirmation", err)
		return nil, err
	}
	if updated.Stage == domainTrade.StageInitiate && updated.BothConfirmed() {
		updated = s.advance(ctx, updated, domainTrade.StageConnectWallet, domainTrade.TriggerFor(role), actor)
	}
	return s.view(updated, role), nil
}

// SetWallet records the caller's wallet address. The vendor's wallet in
// connect_wallet moves the session on to lock_funds.
func (s *Service) SetWallet(ctx context.Context, sessionID, callerID uuid.UUID, role domainTrade.Role, address string) (*SessionView, error) {
	session, err := s.repo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if _, err := domainTrade.AuthorizeFieldWrite(session, callerID, role); err != nil {
		s.reject("set_wallet", err)
		return nil, err
	}
	write, err := domainTrade.WalletWrite(role, address)
	if err != nil {
		return nil, err
	}
	actor := partyActor(role, callerID)
	updated, err := s.writeField(ctx, session, write, actor)
	if err != nil {
		s.reject("set_wallet", err)
		return nil, err
	}
	if role == domainTrade.RoleVendor && updated.Stage == domainTrade.StageConnectWallet {
		updated = s.advance(ctx, updated, domainTrade.StageLockFunds, domainTrade.TriggerVendor, actor)
	}
	return s.view(updated, role), nil
}

func (s *Service) writeField(ctx context.Context, session *domainTrade.Session, w domainTrade.FieldWrite, actor string) (*domainTrade.Session, error) {
	// fail fast on the snapshot; the store re-checks atomically
	if err := w.Check(session.Stage); err != nil {
		return nil, err
	}
	updated, err := s.repo.SetRoleField(ctx, session.SessionID, w, actor, s.now())
	if err != nil {
		return nil, err
	}
	if updated.Version != session.Version {
		s.logger.Info().
			Str("session_id", updated.SessionID.String()).
			Str("role", string(w.Role)).
			Str("field", string(w.Field)).
			Msg("trade field set")
		s.publish(updated)
	}
	return updated, nil
}

// advance is the automatic follow-up of a field write. It pins the source
// stage; losing the race or an unmet guard leaves the session as it is.
func (s *Service) advance(ctx context.Context, cur *domainTrade.Session, to domainTrade.Stage, trig domainTrade.Trigger, actor string) *domainTrade.Session {
	if domainTrade.CheckTransition(cur, to, trig) != nil {
		return cur
	}
	updated, err := s.commit(ctx, cur.SessionID, cur.Stage, to, trig, actor, nil)
	if err == nil {
		return updated
	}
	if errors.Is(err, domainTrade.ErrStaleState) {
		s.metrics.ObserveStale("engine")
		if latest, gerr := s.repo.GetByID(ctx, cur.SessionID); gerr == nil {
			return latest
		}
		return cur
	}
	s.logger.Warn().Err(err).
		Str("session_id", cur.SessionID.String()).
		Str("to", string(to)).
		Msg("automatic advance failed")
	return cur
}

// Timeline is a page of a session's history.
type Timeline struct {
	Events     []*domainTrade.Event `json:"events"`
	Total      int                  `json:"total"`
	ChainValid bool                 `json:"chainValid"`
	ChainError string               `json:"chainError,omitempty"`
}

// ListEvents returns one page of the timeline. The chain is verified from
// the first event up to the end of the page.
func (s *Service) ListEvents(ctx context.Context, sessionID, callerID uuid.UUID, limit, offset int) (*Timeline, error) {
	if _, _, err := s.load(ctx, sessionID, callerID); err != nil {
		return nil, err
	}
	if offset < 0 {
		offset = 0
	}
	total, err := s.repo.CountEvents(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	upto := 0
	if limit > 0 {
		upto = offset + limit
	}
	prefix, err := s.repo.ListEvents(ctx, sessionID, upto, 0)
	if err != nil {
		return nil, err
	}
	out := &Timeline{Total: total, ChainValid: true}
	if err := domainTrade.VerifyChain(prefix); err != nil {
		out.ChainValid = false
		out.ChainError = err.Error()
		s.logger.Error().Err(err).Str("session_id", sessionID.String()).Msg("timeline chain verification failed")
	}
	if offset > len(prefix) {
		offset = len(prefix)
	}
	out.Events = prefix[offset:]
	return out, nil
}

// Subscribe authorizes a party and returns a stream client for the session.
func (s *Service) Subscribe(ctx context.Context, sessionID, callerID uuid.UUID) (*notification.SSEClient, error) {
	if s.sseHub == nil {
		return nil, fmt.Errorf("%w: streaming is disabled", domainTrade.ErrInvalidInput)
	}
	if _, _, err := s.load(ctx, sessionID, callerID); err != nil {
		return nil, err
	}
	client := notification.NewSSEClient(callerID.String(), []string{notification.TradeGroup(sessionID)}, 32)
	s.sseHub.Register(client)
	return client, nil
}

func (s *Service) Unsubscribe(clientID string) {
	if s.sseHub != nil {
		s.sseHub.Unregister(clientID)
	}
}

func (s *Service) load(ctx context.Context, sessionID, callerID uuid.UUID) (*domainTrade.Session, domainTrade.Role, error) {
	session, err := s.repo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, "", err
	}
	role, err := domainTrade.ResolveRole(session, callerID)
	if err != nil {
		s.reject("read", err)
		return nil, "", err
	}
	return session, role, nil
}

func (s *Service) publish(session *domainTrade.Session) {
	s.broadcast(session.SessionID, notification.EventTradeUpdated, session)
}

func (s *Service) publishTimeline(ev *domainTrade.Event) {
	s.broadcast(ev.SessionID, notification.EventTimeline, ev)
}

func (s *Service) broadcast(sessionID uuid.UUID, event string, data interface{}) {
	if s.sseHub == nil {
		return
	}
	msg, err := notification.NewSSEMessage(event, data)
	if err != nil {
		s.logger.Warn().Err(err).Str("event", event).Msg("encode stream message")
		return
	}
	s.sseHub.BroadcastToGroup(notification.TradeGroup(sessionID), msg)
}

func (s *Service) reject(op string, err error) {
	s.metrics.ObserveRejection(op, ErrorClass(err))
}

// ErrorClass names the taxonomy bucket of err.
func ErrorClass(err error) string {
	switch {
	case errors.Is(err, domainTrade.ErrNotFound):
		return "not_found"
	case errors.Is(err, domainTrade.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, domainTrade.ErrForbidden):
		return "forbidden"
	case errors.Is(err, domainTrade.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, domainTrade.ErrStaleState):
		return "stale_state"
	case errors.Is(err, domainTrade.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, escrow.ErrUnavailable):
		return "escrow_unavailable"
	}
	return "internal"
}

func partyActor(role domainTrade.Role, id uuid.UUID) string {
	return string(role) + ":" + id.String()
}
