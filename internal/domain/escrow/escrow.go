package escrow

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_client.go -package=mocks . Client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/holiman/uint256"
)

// Kind is the type of an escrow contract event.
type Kind string

const (
	KindFundsLocked   Kind = "FundsLocked"
	KindFundsReleased Kind = "FundsReleased"
)

// ErrUnavailable wraps failures talking to the escrow contract.
var ErrUnavailable = errors.New("escrow contract unavailable")

// Event is an observed escrow contract log. Buyer, Token and Amount are set
// for FundsLocked only.
type Event struct {
	Kind        Kind
	TradeID     string
	Seller      string
	Buyer       string
	Token       string
	Amount      *uint256.Int
	TxHash      string
	LogIndex    uint
	BlockNumber uint64
	ObservedAt  time.Time
}

// Key identifies the event for deduplication.
func (e Event) Key() string {
	if e.TxHash != "" {
		return fmt.Sprintf("%s:%d", e.TxHash, e.LogIndex)
	}
	return fmt.Sprintf("%s:%s", e.Kind, e.TradeID)
}

// AmountString renders the amount in base units.
func (e Event) AmountString() string {
	if e.Amount == nil {
		return ""
	}
	return e.Amount.Dec()
}

// TxHandle references a submitted escrow transaction.
type TxHandle struct {
	Hash  string `json:"txHash"`
	Nonce uint64 `json:"nonce"`
}

// Client invokes the escrow contract. Submission does not advance any
// session; the confirming event arrives through the reconciler.
type Client interface {
	LockFunds(ctx context.Context, buyer, token string, amount *uint256.Int) (TxHandle, error)
	ReleaseFunds(ctx context.Context, tradeID string) (TxHandle, error)
}
