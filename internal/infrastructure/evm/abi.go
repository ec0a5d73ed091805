package evm

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"

	"github.com/escrow-hub/escrow-hub/internal/domain/escrow"
)

const escrowABIJSON = `[
  {"type":"function","name":"lockFunds","stateMutability":"nonpayable",
   "inputs":[{"name":"buyer","type":"address"},{"name":"token","type":"address"},{"name":"amount","type":"uint256"}],
   "outputs":[{"name":"tradeId","type":"bytes32"}]},
  {"type":"function","name":"releaseFunds","stateMutability":"nonpayable",
   "inputs":[{"name":"tradeId","type":"bytes32"}],"outputs":[]},
  {"type":"event","name":"FundsLocked","anonymous":false,
   "inputs":[{"name":"seller","type":"address","indexed":true},{"name":"buyer","type":"address","indexed":true},
             {"name":"token","type":"address","indexed":false},{"name":"amount","type":"uint256","indexed":false},
             {"name":"tradeId","type":"bytes32","indexed":false}]},
  {"type":"event","name":"FundsReleased","anonymous":false,
   "inputs":[{"name":"seller","type":"address","indexed":true},{"name":"tradeId","type":"bytes32","indexed":true}]}
]`

var escrowABI = mustParseABI(escrowABIJSON)

var (
	fundsLockedTopic   = escrowABI.Events["FundsLocked"].ID
	fundsReleasedTopic = escrowABI.Events["FundsReleased"].ID
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("evm: parse escrow abi: %v", err))
	}
	return parsed
}

// decodeLog maps a contract log to an escrow event. ok is false for logs of
// other events.
func decodeLog(lg gethtypes.Log) (ev escrow.Event, ok bool, err error) {
	if len(lg.Topics) == 0 {
		return escrow.Event{}, false, nil
	}
	ev = escrow.Event{
		TxHash:      lg.TxHash.Hex(),
		LogIndex:    lg.Index,
		BlockNumber: lg.BlockNumber,
	}
	switch lg.Topics[0] {
	case fundsLockedTopic:
		if len(lg.Topics) != 3 {
			return escrow.Event{}, false, fmt.Errorf("FundsLocked: want 3 topics, got %d", len(lg.Topics))
		}
		vals, err := escrowABI.Unpack("FundsLocked", lg.Data)
		if err != nil {
			return escrow.Event{}, false, fmt.Errorf("FundsLocked: %w", err)
		}
		if len(vals) != 3 {
			return escrow.Event{}, false, fmt.Errorf("FundsLocked: want 3 values, got %d", len(vals))
		}
		token, okToken := vals[0].(common.Address)
		amount, okAmount := vals[1].(*big.Int)
		tradeID, okTrade := vals[2].([32]byte)
		if !okToken || !okAmount || !okTrade {
			return escrow.Event{}, false, fmt.Errorf("FundsLocked: unexpected value types")
		}
		amt, overflow := uint256.FromBig(amount)
		if overflow {
			return escrow.Event{}, false, fmt.Errorf("FundsLocked: amount overflows uint256")
		}
		ev.Kind = escrow.KindFundsLocked
		ev.Seller = common.BytesToAddress(lg.Topics[1].Bytes()).Hex()
		ev.Buyer = common.BytesToAddress(lg.Topics[2].Bytes()).Hex()
		ev.Token = token.Hex()
		ev.Amount = amt
		ev.TradeID = common.Hash(tradeID).Hex()
		return ev, true, nil
	case fundsReleasedTopic:
		if len(lg.Topics) != 3 {
			return escrow.Event{}, false, fmt.Errorf("FundsReleased: want 3 topics, got %d", len(lg.Topics))
		}
		ev.Kind = escrow.KindFundsReleased
		ev.Seller = common.BytesToAddress(lg.Topics[1].Bytes()).Hex()
		ev.TradeID = lg.Topics[2].Hex()
		return ev, true, nil
	}
	return escrow.Event{}, false, nil
}

// TradeIDBytes parses a 0x-prefixed bytes32 trade id.
func TradeIDBytes(tradeID string) ([32]byte, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(tradeID), "0x"))
	if err != nil || len(raw) != 32 {
		return [32]byte{}, fmt.Errorf("trade id %q is not a bytes32 value", tradeID)
	}
	return common.BytesToHash(raw), nil
}
