package trade

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_repository.go -package=mocks . Repository

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// StageChange describes a committed transition for the timeline.
type StageChange struct {
	Trigger Trigger
	Actor   string
	Details Details
	At      time.Time
}

// Repository is the Session Store. Every mutation is a single atomic
// operation that also appends the matching timeline event.
type Repository interface {
	// Create persists a new session and its TRADE_CREATED event.
	Create(ctx context.Context, s *Session, actor string) error
	// GetByID returns ErrNotFound for unknown ids.
	GetByID(ctx context.Context, sessionID uuid.UUID) (*Session, error)
	// CompareAndSetStage moves the session from expected to next. It fails
	// with ErrStaleState when the stored stage is no longer expected.
	CompareAndSetStage(ctx context.Context, sessionID uuid.UUID, expected, next Stage, change StageChange) (*Session, error)
	// SetRoleField applies a role-owned field write.
	SetRoleField(ctx context.Context, sessionID uuid.UUID, write FieldWrite, actor string, at time.Time) (*Session, error)
	// AppendEvent records a non-mutating timeline entry.
	AppendEvent(ctx context.Context, event *Event) error
	ListEvents(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]*Event, error)
	CountEvents(ctx context.Context, sessionID uuid.UUID) (int, error)

	// RecordLockSubmission remembers txHash as a lock transaction sent for
	// the session and appends event with it.
	RecordLockSubmission(ctx context.Context, sessionID uuid.UUID, txHash string, event *Event) error
	// FindByLockTx returns the session that sent txHash, or ErrNotFound.
	FindByLockTx(ctx context.Context, txHash string) (*Session, error)

	// FindByEscrowTradeID returns ErrNotFound when no session is bound.
	FindByEscrowTradeID(ctx context.Context, tradeID string) (*Session, error)
	// FindAwaitingLock lists unbound on-chain sessions in lock_funds whose
	// customer wallet is buyer and whose vendor wallet is seller. An empty
	// seller matches any vendor wallet. Sessions without a customer wallet
	// never match.
	FindAwaitingLock(ctx context.Context, seller, buyer string) ([]*Session, error)
	// ListStageExpired lists sessions that entered stage before cutoff.
	ListStageExpired(ctx context.Context, stage Stage, cutoff time.Time, limit int) ([]*Session, error)

	GetCursor(ctx context.Context, name string) (uint64, error)
	SetCursor(ctx context.Context, name string, value uint64) error
}

