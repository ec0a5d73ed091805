package trade

import (
	"fmt"
	"strings"
)

// Details is stage-scoped data carried by a transition. Each variant belongs
// to exactly one target stage.
type Details interface {
	TargetStage() Stage
	Payload() map[string]interface{}
}

// FiatPayment is the customer's assertion that fiat was sent.
type FiatPayment struct {
	Reference string
}

func (FiatPayment) TargetStage() Stage { return StageReleaseFunds }

func (d FiatPayment) Payload() map[string]interface{} {
	if d.Reference == "" {
		return nil
	}
	return map[string]interface{}{"paymentReference": d.Reference}
}

// FundsLockedProof is the escrow contract's lock confirmation.
type FundsLockedProof struct {
	TradeID string
	TxHash  string
	Seller  string
	Buyer   string
	Token   string
	Amount  string
}

func (FundsLockedProof) TargetStage() Stage { return StageFiatSent }

func (d FundsLockedProof) Payload() map[string]interface{} {
	return map[string]interface{}{
		"tradeId": d.TradeID,
		"txHash":  d.TxHash,
		"seller":  d.Seller,
		"buyer":   d.Buyer,
		"token":   d.Token,
		"amount":  d.Amount,
	}
}

// FundsReleasedProof is the escrow contract's release confirmation.
type FundsReleasedProof struct {
	TradeID string
	TxHash  string
}

func (FundsReleasedProof) TargetStage() Stage { return StageCompleted }

func (d FundsReleasedProof) Payload() map[string]interface{} {
	return map[string]interface{}{
		"tradeId": d.TradeID,
		"txHash":  d.TxHash,
	}
}

// Cancellation records why a trade was cancelled.
type Cancellation struct {
	Reason string
}

func (Cancellation) TargetStage() Stage { return StageCancelled }

func (d Cancellation) Payload() map[string]interface{} {
	if d.Reason == "" {
		return nil
	}
	return map[string]interface{}{"reason": d.Reason}
}

// CheckDetails rejects details that belong to another stage.
func CheckDetails(to Stage, d Details) error {
	if d == nil {
		return nil
	}
	if d.TargetStage() != to {
		return fmt.Errorf("%w: %T does not apply to stage %s", ErrInvalidTransition, d, to)
	}
	if p, ok := d.(FundsLockedProof); ok && strings.TrimSpace(p.TradeID) == "" {
		return fmt.Errorf("%w: escrow trade id is required", ErrInvalidInput)
	}
	return nil
}

// EscrowBindingFor extracts the binding a transition establishes, if any.
func EscrowBindingFor(d Details) *EscrowBinding {
	if p, ok := d.(FundsLockedProof); ok {
		return &EscrowBinding{TradeID: p.TradeID}
	}
	return nil
}
