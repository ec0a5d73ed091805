package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/escrow-hub/escrow-hub/internal/domain/trade"
)

// TradeRepository is an in-process Session Store. A single mutex makes every
// operation atomic; it is used for development and tests.
type TradeRepository struct {
	mu       sync.Mutex
	nextID   int64
	nextEvID int64
	sessions map[uuid.UUID]*trade.Session
	events   map[uuid.UUID][]*trade.Event
	byEscrow map[string]uuid.UUID
	byLockTx map[string]uuid.UUID
	cursors  map[string]uint64
}

func NewTradeRepository() *TradeRepository {
	return &TradeRepository{
		sessions: make(map[uuid.UUID]*trade.Session),
		events:   make(map[uuid.UUID][]*trade.Event),
		byEscrow: make(map[string]uuid.UUID),
		byLockTx: make(map[string]uuid.UUID),
		cursors:  make(map[string]uint64),
	}
}

var _ trade.Repository = (*TradeRepository)(nil)

func (r *TradeRepository) Create(ctx context.Context, s *trade.Session, actor string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.SessionID]; ok {
		return fmt.Errorf("%w: session %s already exists", trade.ErrInvalidInput, s.SessionID)
	}
	ev, err := trade.CreatedEvent(s, actor)
	if err != nil {
		return err
	}
	r.nextID++
	s.ID = r.nextID
	s.Version = 1
	if err := r.appendLocked(ev); err != nil {
		return err
	}
	r.sessions[s.SessionID] = s.Clone()
	return nil
}

func (r *TradeRepository) GetByID(ctx context.Context, sessionID uuid.UUID) (*trade.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, trade.ErrNotFound
	}
	return s.Clone(), nil
}

func (r *TradeRepository) CompareAndSetStage(ctx context.Context, sessionID uuid.UUID, expected, next trade.Stage, change trade.StageChange) (*trade.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, trade.ErrNotFound
	}
	if s.Stage != expected {
		return nil, fmt.Errorf("%w: expected %s, found %s", trade.ErrStaleState, expected, s.Stage)
	}
	binding := trade.EscrowBindingFor(change.Details)
	if binding != nil {
		if owner, taken := r.byEscrow[binding.TradeID]; taken && owner != sessionID {
			return nil, fmt.Errorf("%w: escrow trade %s is bound to another session", trade.ErrInvalidTransition, binding.TradeID)
		}
	}
	ev, err := trade.StageChangedEvent(sessionID, expected, next, change)
	if err != nil {
		return nil, err
	}
	if err := r.appendLocked(ev); err != nil {
		return nil, err
	}

	at := change.At.UTC()
	s.Stage = next
	s.StageEnteredAt = at
	s.UpdatedAt = at
	s.Version++
	if binding != nil {
		s.Escrow = binding
		r.byEscrow[binding.TradeID] = sessionID
	}
	return s.Clone(), nil
}

func (r *TradeRepository) SetRoleField(ctx context.Context, sessionID uuid.UUID, write trade.FieldWrite, actor string, at time.Time) (*trade.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, trade.ErrNotFound
	}
	if err := write.Check(s.Stage); err != nil {
		return nil, err
	}
	updated := s.Clone()
	if !write.Apply(updated) {
		return updated, nil
	}
	ev, err := trade.FieldSetEvent(sessionID, write, actor, at)
	if err != nil {
		return nil, err
	}
	if err := r.appendLocked(ev); err != nil {
		return nil, err
	}
	updated.UpdatedAt = at.UTC()
	updated.Version++
	r.sessions[sessionID] = updated
	return updated.Clone(), nil
}

func (r *TradeRepository) AppendEvent(ctx context.Context, event *trade.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[event.SessionID]; !ok {
		return trade.ErrNotFound
	}
	return r.appendLocked(event)
}

func (r *TradeRepository) appendLocked(ev *trade.Event) error {
	var prev *trade.Event
	if chain := r.events[ev.SessionID]; len(chain) > 0 {
		prev = chain[len(chain)-1]
	}
	if err := ev.Seal(prev); err != nil {
		return fmt.Errorf("seal event: %w", err)
	}
	r.nextEvID++
	ev.ID = r.nextEvID
	stored := *ev
	r.events[ev.SessionID] = append(r.events[ev.SessionID], &stored)
	return nil
}

func (r *TradeRepository) ListEvents(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]*trade.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sessionID]; !ok {
		return nil, trade.ErrNotFound
	}
	chain := r.events[sessionID]
	if offset >= len(chain) {
		return []*trade.Event{}, nil
	}
	end := len(chain)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]*trade.Event, 0, end-offset)
	for _, ev := range chain[offset:end] {
		c := *ev
		out = append(out, &c)
	}
	return out, nil
}

func (r *TradeRepository) CountEvents(ctx context.Context, sessionID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sessionID]; !ok {
		return 0, trade.ErrNotFound
	}
	return len(r.events[sessionID]), nil
}

func (r *TradeRepository) RecordLockSubmission(ctx context.Context, sessionID uuid.UUID, txHash string, event *trade.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sessionID]; !ok {
		return trade.ErrNotFound
	}
	key := strings.ToLower(txHash)
	if owner, taken := r.byLockTx[key]; taken && owner != sessionID {
		return fmt.Errorf("%w: transaction %s belongs to another session", trade.ErrInvalidInput, txHash)
	}
	if err := r.appendLocked(event); err != nil {
		return err
	}
	r.byLockTx[key] = sessionID
	return nil
}

func (r *TradeRepository) FindByLockTx(ctx context.Context, txHash string) (*trade.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byLockTx[strings.ToLower(txHash)]
	if !ok {
		return nil, trade.ErrNotFound
	}
	return r.sessions[id].Clone(), nil
}

func (r *TradeRepository) FindByEscrowTradeID(ctx context.Context, tradeID string) (*trade.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byEscrow[tradeID]
	if !ok {
		return nil, trade.ErrNotFound
	}
	return r.sessions[id].Clone(), nil
}

func (r *TradeRepository) FindAwaitingLock(ctx context.Context, seller, buyer string) ([]*trade.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*trade.Session
	for _, s := range r.sessions {
		if !s.OnChain || s.Stage != trade.StageLockFunds || s.Escrow != nil {
			continue
		}
		if s.Wallets.Vendor == nil || (seller != "" && !strings.EqualFold(*s.Wallets.Vendor, seller)) {
			continue
		}
		if s.Wallets.Customer == nil || !strings.EqualFold(*s.Wallets.Customer, buyer) {
			continue
		}
		out = append(out, s.Clone())
	}
	sortByEntered(out)
	return out, nil
}

func (r *TradeRepository) ListStageExpired(ctx context.Context, stage trade.Stage, cutoff time.Time, limit int) ([]*trade.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*trade.Session
	for _, s := range r.sessions {
		if s.Stage == stage && s.StageEnteredAt.Before(cutoff) {
			out = append(out, s.Clone())
		}
	}
	sortByEntered(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *TradeRepository) GetCursor(ctx context.Context, name string) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cursors[name], nil
}

func (r *TradeRepository) SetCursor(ctx context.Context, name string, value uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cursors[name] = value
	return nil
}

func sortByEntered(list []*trade.Session) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].StageEnteredAt.Equal(list[j].StageEnteredAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].StageEnteredAt.Before(list[j].StageEnteredAt)
	})
}
