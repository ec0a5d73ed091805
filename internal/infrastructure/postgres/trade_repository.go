package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/escrow-hub/escrow-hub/internal/domain/trade"
)

const (
	uniqueViolation     = "23505"
	escrowBindingUnique = "trade_sessions_escrow_trade_id_key"
)

const sessionColumns = `id, session_id, listing_id, vendor_id, customer_id, on_chain,
	vendor_confirmed, customer_confirmed, vendor_wallet, customer_wallet, escrow_trade_id,
	stage, stage_entered_at, version, created_at, updated_at`

const eventColumns = `id, event_id, session_id, seq, type, from_stage, to_stage, actor,
	payload, prev_hash, hash, created_at`

// TradeRepository is the Postgres Session Store. Every mutation runs in one
// transaction holding the session row lock, and its timeline event commits
// with it.
type TradeRepository struct {
	pool *pgxpool.Pool
}

func NewTradeRepository(pool *pgxpool.Pool) *TradeRepository {
	return &TradeRepository{pool: pool}
}

var _ trade.Repository = (*TradeRepository)(nil)

func (r *TradeRepository) Create(ctx context.Context, s *trade.Session, actor string) error {
	ev, err := trade.CreatedEvent(s, actor)
	if err != nil {
		return err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("trade: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	s.Version = 1
	err = tx.QueryRow(ctx, `
		INSERT INTO trade_sessions (session_id, listing_id, vendor_id, customer_id, on_chain,
			vendor_confirmed, customer_confirmed, vendor_wallet, customer_wallet, escrow_trade_id,
			stage, stage_entered_at, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id
	`, s.SessionID, s.ListingID, s.VendorID, s.CustomerID, s.OnChain,
		s.Confirmations.Vendor, s.Confirmations.Customer, s.Wallets.Vendor, s.Wallets.Customer, escrowTradeID(s.Escrow),
		string(s.Stage), s.StageEnteredAt, s.Version, s.CreatedAt, s.UpdatedAt,
	).Scan(&s.ID)
	if err != nil {
		if isUniqueViolation(err, "") {
			return fmt.Errorf("%w: session %s already exists", trade.ErrInvalidInput, s.SessionID)
		}
		return fmt.Errorf("trade: insert session: %w", err)
	}
	if err := appendEventTx(ctx, tx, ev); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("trade: commit create: %w", err)
	}
	return nil
}

func (r *TradeRepository) GetByID(ctx context.Context, sessionID uuid.UUID) (*trade.Session, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM trade_sessions WHERE session_id=$1`, sessionID)
	return scanSession(row)
}

func (r *TradeRepository) CompareAndSetStage(ctx context.Context, sessionID uuid.UUID, expected, next trade.Stage, change trade.StageChange) (*trade.Session, error) {
	ev, err := trade.StageChangedEvent(sessionID, expected, next, change)
	if err != nil {
		return nil, err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("trade: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := scanSession(tx.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM trade_sessions WHERE session_id=$1 FOR UPDATE`, sessionID))
	if err != nil {
		return nil, err
	}
	if current.Stage != expected {
		return nil, fmt.Errorf("%w: expected %s, found %s", trade.ErrStaleState, expected, current.Stage)
	}

	binding := trade.EscrowBindingFor(change.Details)
	if binding == nil {
		binding = current.Escrow
	}
	at := change.At.UTC()
	updated, err := scanSession(tx.QueryRow(ctx, `
		UPDATE trade_sessions
		SET stage=$2, stage_entered_at=$3, updated_at=$3, escrow_trade_id=$4, version=version+1
		WHERE session_id=$1
		RETURNING `+sessionColumns,
		sessionID, string(next), at, escrowTradeID(binding)))
	if err != nil {
		if isUniqueViolation(err, escrowBindingUnique) {
			return nil, fmt.Errorf("%w: escrow trade %s is bound to another session", trade.ErrInvalidTransition, binding.TradeID)
		}
		return nil, fmt.Errorf("trade: compare and set: %w", err)
	}
	if err := appendEventTx(ctx, tx, ev); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("trade: commit stage change: %w", err)
	}
	return updated, nil
}

func (r *TradeRepository) SetRoleField(ctx context.Context, sessionID uuid.UUID, write trade.FieldWrite, actor string, at time.Time) (*trade.Session, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("trade: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	s, err := scanSession(tx.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM trade_sessions WHERE session_id=$1 FOR UPDATE`, sessionID))
	if err != nil {
		return nil, err
	}
	if err := write.Check(s.Stage); err != nil {
		return nil, err
	}
	if !write.Apply(s) {
		return s, nil
	}

	ev, err := trade.FieldSetEvent(sessionID, write, actor, at)
	if err != nil {
		return nil, err
	}
	updated, err := scanSession(tx.QueryRow(ctx, `
		UPDATE trade_sessions
		SET vendor_confirmed=$2, customer_confirmed=$3, vendor_wallet=$4, customer_wallet=$5,
			updated_at=$6, version=version+1
		WHERE session_id=$1
		RETURNING `+sessionColumns,
		sessionID, s.Confirmations.Vendor, s.Confirmations.Customer, s.Wallets.Vendor, s.Wallets.Customer, at.UTC()))
	if err != nil {
		return nil, fmt.Errorf("trade: set role field: %w", err)
	}
	if err := appendEventTx(ctx, tx, ev); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("trade: commit field write: %w", err)
	}
	return updated, nil
}

func (r *TradeRepository) AppendEvent(ctx context.Context, event *trade.Event) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("trade: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var locked int64
	err = tx.QueryRow(ctx, `SELECT id FROM trade_sessions WHERE session_id=$1 FOR UPDATE`, event.SessionID).Scan(&locked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return trade.ErrNotFound
		}
		return fmt.Errorf("trade: lock session: %w", err)
	}
	if err := appendEventTx(ctx, tx, event); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("trade: commit event: %w", err)
	}
	return nil
}

// appendEventTx seals ev after the session's last event and inserts it. The
// caller must hold the session row lock.
func appendEventTx(ctx context.Context, tx pgx.Tx, ev *trade.Event) error {
	prev, err := scanEvent(tx.QueryRow(ctx, `
		SELECT `+eventColumns+` FROM trade_events
		WHERE session_id=$1 ORDER BY seq DESC LIMIT 1
	`, ev.SessionID))
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("trade: load last event: %w", err)
	}
	if err := ev.Seal(prev); err != nil {
		return fmt.Errorf("seal event: %w", err)
	}

	var payload interface{}
	if len(ev.Payload) > 0 {
		payload = ev.Payload
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO trade_events (event_id, session_id, seq, type, from_stage, to_stage, actor,
			payload, prev_hash, hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`, ev.EventID, ev.SessionID, ev.Seq, string(ev.Type), stageText(ev.FromStage), stageText(ev.ToStage), ev.Actor,
		payload, ev.PrevHash, ev.Hash, ev.CreatedAt,
	).Scan(&ev.ID)
	if err != nil {
		return fmt.Errorf("trade: insert event: %w", err)
	}
	return nil
}

func (r *TradeRepository) ListEvents(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]*trade.Event, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM trade_sessions WHERE session_id=$1)`, sessionID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("trade: list events: %w", err)
	}
	if !exists {
		return nil, trade.ErrNotFound
	}

	var lim *int
	if limit > 0 {
		lim = &limit
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+eventColumns+` FROM trade_events
		WHERE session_id=$1
		ORDER BY seq ASC
		LIMIT $2 OFFSET $3
	`, sessionID, lim, offset)
	if err != nil {
		return nil, fmt.Errorf("trade: list events: %w", err)
	}
	defer rows.Close()

	events := make([]*trade.Event, 0)
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (r *TradeRepository) CountEvents(ctx context.Context, sessionID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT count(e.id) FROM trade_sessions s
		LEFT JOIN trade_events e ON e.session_id = s.session_id
		WHERE s.session_id=$1
		GROUP BY s.session_id
	`, sessionID).Scan(&n)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, trade.ErrNotFound
		}
		return 0, fmt.Errorf("trade: count events: %w", err)
	}
	return n, nil
}

func (r *TradeRepository) RecordLockSubmission(ctx context.Context, sessionID uuid.UUID, txHash string, event *trade.Event) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("trade: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var locked int64
	err = tx.QueryRow(ctx, `SELECT id FROM trade_sessions WHERE session_id=$1 FOR UPDATE`, sessionID).Scan(&locked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return trade.ErrNotFound
		}
		return fmt.Errorf("trade: lock session: %w", err)
	}
	var owner uuid.UUID
	err = tx.QueryRow(ctx, `
		INSERT INTO escrow_lock_submissions (tx_hash, session_id, created_at)
		VALUES (lower($1), $2, $3)
		ON CONFLICT (tx_hash) DO UPDATE SET tx_hash=EXCLUDED.tx_hash
		RETURNING session_id
	`, txHash, sessionID, event.CreatedAt).Scan(&owner)
	if err != nil {
		return fmt.Errorf("trade: record lock submission: %w", err)
	}
	if owner != sessionID {
		return fmt.Errorf("%w: transaction %s belongs to another session", trade.ErrInvalidInput, txHash)
	}
	if err := appendEventTx(ctx, tx, event); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("trade: commit lock submission: %w", err)
	}
	return nil
}

func (r *TradeRepository) FindByLockTx(ctx context.Context, txHash string) (*trade.Session, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+prefixed("s.", sessionColumns)+` FROM trade_sessions s
		JOIN escrow_lock_submissions l ON l.session_id = s.session_id
		WHERE l.tx_hash = lower($1)
	`, txHash)
	return scanSession(row)
}

func (r *TradeRepository) FindByEscrowTradeID(ctx context.Context, tradeID string) (*trade.Session, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM trade_sessions WHERE escrow_trade_id=$1`, tradeID)
	return scanSession(row)
}

func (r *TradeRepository) FindAwaitingLock(ctx context.Context, seller, buyer string) ([]*trade.Session, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+sessionColumns+` FROM trade_sessions
		WHERE stage=$1 AND on_chain AND escrow_trade_id IS NULL
		  AND vendor_wallet IS NOT NULL AND customer_wallet IS NOT NULL
		  AND ($2 = '' OR lower(vendor_wallet) = lower($2))
		  AND lower(customer_wallet) = lower($3)
		ORDER BY stage_entered_at ASC, id ASC
	`, string(trade.StageLockFunds), seller, buyer)
	if err != nil {
		return nil, fmt.Errorf("trade: find awaiting lock: %w", err)
	}
	return collectSessions(rows)
}

func (r *TradeRepository) ListStageExpired(ctx context.Context, stage trade.Stage, cutoff time.Time, limit int) ([]*trade.Session, error) {
	var lim *int
	if limit > 0 {
		lim = &limit
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+sessionColumns+` FROM trade_sessions
		WHERE stage=$1 AND stage_entered_at < $2
		ORDER BY stage_entered_at ASC, id ASC
		LIMIT $3
	`, string(stage), cutoff.UTC(), lim)
	if err != nil {
		return nil, fmt.Errorf("trade: list stage expired: %w", err)
	}
	return collectSessions(rows)
}

func (r *TradeRepository) GetCursor(ctx context.Context, name string) (uint64, error) {
	var value int64
	err := r.pool.QueryRow(ctx, `SELECT value FROM escrow_cursors WHERE name=$1`, name).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("trade: get cursor: %w", err)
	}
	return uint64(value), nil
}

func (r *TradeRepository) SetCursor(ctx context.Context, name string, value uint64) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO escrow_cursors (name, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE SET value=EXCLUDED.value, updated_at=EXCLUDED.updated_at
	`, name, int64(value))
	if err != nil {
		return fmt.Errorf("trade: set cursor: %w", err)
	}
	return nil
}

func collectSessions(rows pgx.Rows) ([]*trade.Session, error) {
	defer rows.Close()
	sessions := make([]*trade.Session, 0)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func scanSession(row pgx.Row) (*trade.Session, error) {
	var s trade.Session
	var stage string
	var escrowID *string
	err := row.Scan(
		&s.ID, &s.SessionID, &s.ListingID, &s.VendorID, &s.CustomerID, &s.OnChain,
		&s.Confirmations.Vendor, &s.Confirmations.Customer, &s.Wallets.Vendor, &s.Wallets.Customer, &escrowID,
		&stage, &s.StageEnteredAt, &s.Version, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, trade.ErrNotFound
		}
		return nil, err
	}
	s.Stage = trade.Stage(stage)
	if escrowID != nil {
		s.Escrow = &trade.EscrowBinding{TradeID: *escrowID}
	}
	s.StageEnteredAt = s.StageEnteredAt.UTC()
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	return &s, nil
}

// scanEvent passes pgx.ErrNoRows through unchanged.
func scanEvent(row pgx.Row) (*trade.Event, error) {
	var ev trade.Event
	var typ string
	var from, to *string
	var payload []byte
	err := row.Scan(
		&ev.ID, &ev.EventID, &ev.SessionID, &ev.Seq, &typ, &from, &to, &ev.Actor,
		&payload, &ev.PrevHash, &ev.Hash, &ev.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	ev.Type = trade.EventType(typ)
	if from != nil {
		st := trade.Stage(*from)
		ev.FromStage = &st
	}
	if to != nil {
		st := trade.Stage(*to)
		ev.ToStage = &st
	}
	if len(payload) > 0 {
		ev.Payload = payload
	}
	ev.CreatedAt = ev.CreatedAt.UTC()
	return &ev, nil
}

// prefixed qualifies every column of a column list with prefix.
func prefixed(prefix, columns string) string {
	parts := strings.Split(columns, ",")
	for i, c := range parts {
		parts[i] = prefix + strings.TrimSpace(c)
	}
	return strings.Join(parts, ", ")
}

func stageText(st *trade.Stage) *string {
	if st == nil {
		return nil
	}
	s := string(*st)
	return &s
}

func escrowTradeID(b *trade.EscrowBinding) *string {
	if b == nil {
		return nil
	}
	id := b.TradeID
	return &id
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}
