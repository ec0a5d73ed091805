package trade

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/escrow-hub/escrow-hub/internal/domain/escrow"
	domainTrade "github.com/escrow-hub/escrow-hub/internal/domain/trade"
)

// LockFundsInput asks the escrow contract to lock the vendor's crypto for
// the customer's wallet.
type LockFundsInput struct {
	SessionID uuid.UUID
	CallerID  uuid.UUID
	Token     string
	Amount    *uint256.Int
}

// LockFunds submits the lock transaction. The stage does not change here;
// the reconciler advances it once the contract emits FundsLocked.
func (s *Service) LockFunds(ctx context.Context, in LockFundsInput) (escrow.TxHandle, error) {
	session, role, err := s.load(ctx, in.SessionID, in.CallerID)
	if err != nil {
		return escrow.TxHandle{}, err
	}
	if err := checkEscrowCall(session, role, domainTrade.StageLockFunds, "lock funds"); err != nil {
		s.reject("lock_funds", err)
		return escrow.TxHandle{}, err
	}
	if session.Wallets.Customer == nil {
		return escrow.TxHandle{}, fmt.Errorf("%w: the customer must connect a wallet first", domainTrade.ErrInvalidTransition)
	}
	token, err := domainTrade.NormalizeAddress(in.Token)
	if err != nil {
		return escrow.TxHandle{}, err
	}
	if in.Amount == nil || in.Amount.IsZero() {
		return escrow.TxHandle{}, fmt.Errorf("%w: amount must be positive", domainTrade.ErrInvalidInput)
	}
	if s.escrow == nil {
		return escrow.TxHandle{}, fmt.Errorf("%w: escrow client is not configured", escrow.ErrUnavailable)
	}

	buyer := *session.Wallets.Customer
	handle, err := s.escrow.LockFunds(ctx, buyer, token, in.Amount)
	if err != nil {
		s.logger.Error().Err(err).Str("session_id", session.SessionID.String()).Msg("escrow lockFunds failed")
		return escrow.TxHandle{}, wrapEscrow(err)
	}
	s.recordSubmission(ctx, session, domainTrade.EventTypeEscrowLockSubmitted, partyActor(role, in.CallerID), handle.Hash, map[string]interface{}{
		"buyer":  buyer,
		"token":  token,
		"amount": in.Amount.Dec(),
	})
	return handle, nil
}

// ReleaseFunds submits the release of the bound escrow trade.
func (s *Service) ReleaseFunds(ctx context.Context, sessionID, callerID uuid.UUID) (escrow.TxHandle, error) {
	session, role, err := s.load(ctx, sessionID, callerID)
	if err != nil {
		return escrow.TxHandle{}, err
	}
	if err := checkEscrowCall(session, role, domainTrade.StageReleaseFunds, "release funds"); err != nil {
		s.reject("release_funds", err)
		return escrow.TxHandle{}, err
	}
	if session.Escrow == nil || session.Escrow.TradeID == "" {
		return escrow.TxHandle{}, fmt.Errorf("%w: no escrow trade is bound to this session", domainTrade.ErrInvalidTransition)
	}
	if s.escrow == nil {
		return escrow.TxHandle{}, fmt.Errorf("%w: escrow client is not configured", escrow.ErrUnavailable)
	}

	handle, err := s.escrow.ReleaseFunds(ctx, session.Escrow.TradeID)
	if err != nil {
		s.logger.Error().Err(err).Str("session_id", session.SessionID.String()).Msg("escrow releaseFunds failed")
		return escrow.TxHandle{}, wrapEscrow(err)
	}
	s.recordSubmission(ctx, session, domainTrade.EventTypeEscrowReleaseSubmitted, partyActor(role, callerID), handle.Hash, map[string]interface{}{
		"tradeId": session.Escrow.TradeID,
	})
	return handle, nil
}

func checkEscrowCall(session *domainTrade.Session, role domainTrade.Role, stage domainTrade.Stage, action string) error {
	if role != domainTrade.RoleVendor {
		return fmt.Errorf("%w: only the vendor may %s", domainTrade.ErrForbidden, action)
	}
	if !session.OnChain {
		return fmt.Errorf("%w: trade is settled off-chain", domainTrade.ErrInvalidTransition)
	}
	if session.Stage == domainTrade.StageCancelled {
		return fmt.Errorf("%w: trade already cancelled", domainTrade.ErrInvalidTransition)
	}
	if session.Stage != stage {
		return fmt.Errorf("%w: cannot %s in stage %s", domainTrade.ErrInvalidTransition, action, session.Stage)
	}
	return nil
}

// recordSubmission logs instead of failing; the transaction is already sent.
// A lock's hash is stored with the session so the reconciler can match the
// resulting FundsLocked event to it exactly.
func (s *Service) recordSubmission(ctx context.Context, session *domainTrade.Session, typ domainTrade.EventType, actor, txHash string, payload map[string]interface{}) {
	payload["txHash"] = txHash
	ev, err := domainTrade.NewEvent(session.SessionID, typ, actor, payload, s.now())
	if err == nil {
		if typ == domainTrade.EventTypeEscrowLockSubmitted {
			err = s.repo.RecordLockSubmission(ctx, session.SessionID, txHash, ev)
		} else {
			err = s.repo.AppendEvent(ctx, ev)
		}
	}
	if err != nil {
		s.logger.Error().Err(err).
			Str("session_id", session.SessionID.String()).
			Str("event", string(typ)).
			Str("tx_hash", txHash).
			Msg("record escrow submission")
		return
	}
	s.logger.Info().
		Str("session_id", session.SessionID.String()).
		Str("event", string(typ)).
		Str("tx_hash", txHash).
		Msg("escrow transaction submitted")
	s.publishTimeline(ev)
}

func wrapEscrow(err error) error {
	if errors.Is(err, escrow.ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", escrow.ErrUnavailable, err)
}
