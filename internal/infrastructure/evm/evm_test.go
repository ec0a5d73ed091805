package evm

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/escrow-hub/escrow-hub/internal/domain/escrow"
	"github.com/escrow-hub/escrow-hub/internal/infrastructure/memory"
)

var (
	contract = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	seller   = common.HexToAddress("0x1111111111111111111111111111111111111111")
	buyer    = common.HexToAddress("0x2222222222222222222222222222222222222222")
	token    = common.HexToAddress("0x3333333333333333333333333333333333333333")
	tradeID  = common.HexToHash("0x00000000000000000000000000000000000000000000000000000000000000aa")
)

func lockedLog(t *testing.T, block uint64, index uint) gethtypes.Log {
	t.Helper()
	data, err := escrowABI.Events["FundsLocked"].Inputs.NonIndexed().Pack(token, big.NewInt(1500), [32]byte(tradeID))
	require.NoError(t, err)
	return gethtypes.Log{
		Address:     contract,
		Topics:      []common.Hash{fundsLockedTopic, common.BytesToHash(seller.Bytes()), common.BytesToHash(buyer.Bytes())},
		Data:        data,
		BlockNumber: block,
		TxHash:      common.BigToHash(big.NewInt(int64(block))),
		Index:       index,
	}
}

func releasedLog(block uint64) gethtypes.Log {
	return gethtypes.Log{
		Address:     contract,
		Topics:      []common.Hash{fundsReleasedTopic, common.BytesToHash(seller.Bytes()), tradeID},
		BlockNumber: block,
		TxHash:      common.BigToHash(big.NewInt(int64(block))),
	}
}

func TestDecodeLog(t *testing.T) {
	ev, ok, err := decodeLog(lockedLog(t, 10, 2))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, escrow.KindFundsLocked, ev.Kind)
	assert.Equal(t, seller.Hex(), ev.Seller)
	assert.Equal(t, buyer.Hex(), ev.Buyer)
	assert.Equal(t, token.Hex(), ev.Token)
	assert.Equal(t, "1500", ev.AmountString())
	assert.Equal(t, tradeID.Hex(), ev.TradeID)
	assert.Equal(t, uint(2), ev.LogIndex)

	ev, ok, err = decodeLog(releasedLog(11))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, escrow.KindFundsReleased, ev.Kind)
	assert.Equal(t, tradeID.Hex(), ev.TradeID)

	_, ok, err = decodeLog(gethtypes.Log{Topics: []common.Hash{common.HexToHash("0x01")}})
	require.NoError(t, err)
	assert.False(t, ok)

	bad := lockedLog(t, 12, 0)
	bad.Data = bad.Data[:10]
	_, _, err = decodeLog(bad)
	assert.Error(t, err)
}

func TestTradeIDBytes(t *testing.T) {
	got, err := TradeIDBytes(tradeID.Hex())
	require.NoError(t, err)
	assert.Equal(t, [32]byte(tradeID), got)

	_, err = TradeIDBytes("0x1234")
	assert.Error(t, err)
	_, err = TradeIDBytes("nothex")
	assert.Error(t, err)
}

type fakeChain struct {
	head    uint64
	logs    []gethtypes.Log
	queries []ethereum.FilterQuery
}

func (f *fakeChain) BlockNumber(ctx context.Context) (uint64, error) { return f.head, nil }

func (f *fakeChain) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]gethtypes.Log, error) {
	f.queries = append(f.queries, q)
	var out []gethtypes.Log
	for _, lg := range f.logs {
		if lg.BlockNumber >= q.FromBlock.Uint64() && lg.BlockNumber <= q.ToBlock.Uint64() {
			out = append(out, lg)
		}
	}
	return out, nil
}

func TestWatcher_PollRespectsConfirmationsAndCursor(t *testing.T) {
	chain := &fakeChain{head: 20}
	chain.logs = []gethtypes.Log{lockedLog(t, 5, 0), releasedLog(18)}
	cursors := memory.NewTradeRepository()
	w := NewWatcher(chain, cursors, WatcherConfig{Contract: contract, Confirmations: 3, StartBlock: 1}, nil, zerolog.Nop())
	ctx := context.Background()
	out := make(chan escrow.Event, 10)

	n, err := w.Poll(ctx, out)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	ev := <-out
	assert.Equal(t, escrow.KindFundsLocked, ev.Kind)
	assert.False(t, ev.ObservedAt.IsZero())

	cursor, err := cursors.GetCursor(ctx, "escrow:"+contract.Hex())
	require.NoError(t, err)
	assert.Equal(t, uint64(17), cursor)

	// nothing new until the release is confirmed
	n, err = w.Poll(ctx, out)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	chain.head = 21
	n, err = w.Poll(ctx, out)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, escrow.KindFundsReleased, (<-out).Kind)
	assert.Equal(t, uint64(18), chain.queries[len(chain.queries)-1].FromBlock.Uint64())
}

func TestWatcher_BatchesLargeRanges(t *testing.T) {
	chain := &fakeChain{head: 100}
	cursors := memory.NewTradeRepository()
	w := NewWatcher(chain, cursors, WatcherConfig{Contract: contract, BatchBlocks: 40}, nil, zerolog.Nop())
	ctx := context.Background()
	out := make(chan escrow.Event, 1)

	_, err := w.Poll(ctx, out)
	require.NoError(t, err)
	q := chain.queries[0]
	assert.Equal(t, uint64(0), q.FromBlock.Uint64())
	assert.Equal(t, uint64(39), q.ToBlock.Uint64())
	assert.Equal(t, []common.Address{contract}, q.Addresses)
}

func TestWatcher_SkipsRemovedLogs(t *testing.T) {
	removed := releasedLog(3)
	removed.Removed = true
	chain := &fakeChain{head: 10, logs: []gethtypes.Log{removed}}
	w := NewWatcher(chain, memory.NewTradeRepository(), WatcherConfig{Contract: contract}, nil, zerolog.Nop())

	n, err := w.Poll(context.Background(), make(chan escrow.Event, 1))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

type fakeBackend struct {
	nonce   uint64
	sent    []*gethtypes.Transaction
	sendErr error
}

func (f *fakeBackend) HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error) {
	return &gethtypes.Header{Number: big.NewInt(100), BaseFee: big.NewInt(1_000_000_000)}, nil
}

func (f *fakeBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return f.nonce, nil
}

func (f *fakeBackend) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return big.NewInt(2_000_000_000), nil
}

func (f *fakeBackend) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	return 90_000, nil
}

func (f *fakeBackend) SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	f.nonce++
	return nil
}

func TestEscrowClient_LockAndRelease(t *testing.T) {
	key, err := gethcrypto.GenerateKey()
	require.NoError(t, err)
	backend := &fakeBackend{nonce: 4}
	chainID := big.NewInt(31337)
	client, err := NewEscrowClient(backend, contract, chainID, key, zerolog.Nop())
	require.NoError(t, err)
	ctx := context.Background()

	h, err := client.LockFunds(ctx, buyer.Hex(), token.Hex(), uint256.NewInt(1500))
	require.NoError(t, err)
	assert.Equal(t, uint64(4), h.Nonce)
	require.Len(t, backend.sent, 1)

	tx := backend.sent[0]
	assert.Equal(t, h.Hash, tx.Hash().Hex())
	assert.Equal(t, contract, *tx.To())
	assert.Equal(t, escrowABI.Methods["lockFunds"].ID, tx.Data()[:4])
	from, err := gethtypes.Sender(gethtypes.LatestSignerForChainID(chainID), tx)
	require.NoError(t, err)
	assert.Equal(t, client.Operator(), from)
	assert.Equal(t, big.NewInt(4_000_000_000), tx.GasFeeCap())

	h, err = client.ReleaseFunds(ctx, tradeID.Hex())
	require.NoError(t, err)
	assert.Equal(t, uint64(5), h.Nonce)
	assert.Equal(t, escrowABI.Methods["releaseFunds"].ID, backend.sent[1].Data()[:4])

	_, err = client.ReleaseFunds(ctx, "0x12")
	assert.Error(t, err)
	_, err = client.LockFunds(ctx, "nope", token.Hex(), uint256.NewInt(1))
	assert.Error(t, err)
}

func TestEscrowClient_SendFailureIsUnavailable(t *testing.T) {
	key, err := gethcrypto.GenerateKey()
	require.NoError(t, err)
	backend := &fakeBackend{sendErr: errors.New("connection refused")}
	client, err := NewEscrowClient(backend, contract, big.NewInt(1), key, zerolog.Nop())
	require.NoError(t, err)

	_, err = client.ReleaseFunds(context.Background(), tradeID.Hex())
	assert.ErrorIs(t, err, escrow.ErrUnavailable)
}

func TestNewEscrowClient_Validates(t *testing.T) {
	key, err := gethcrypto.GenerateKey()
	require.NoError(t, err)

	_, err = NewEscrowClient(nil, contract, big.NewInt(1), key, zerolog.Nop())
	assert.Error(t, err)
	_, err = NewEscrowClient(&fakeBackend{}, common.Address{}, big.NewInt(1), key, zerolog.Nop())
	assert.Error(t, err)
	_, err = NewEscrowClient(&fakeBackend{}, contract, big.NewInt(0), key, zerolog.Nop())
	assert.Error(t, err)
	_, err = NewEscrowClient(&fakeBackend{}, contract, big.NewInt(1), nil, zerolog.Nop())
	assert.Error(t, err)
}
