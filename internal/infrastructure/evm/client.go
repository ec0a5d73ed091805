package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"

	"github.com/escrow-hub/escrow-hub/internal/domain/escrow"
	"github.com/escrow-hub/escrow-hub/internal/infrastructure/keystore"
)

// Backend is the subset of the Ethereum RPC used to submit transactions.
type Backend interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error
}

// Dial opens an RPC client for the given endpoint.
func Dial(endpoint string) (*ethclient.Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("evm endpoint required")
	}
	return ethclient.Dial(trimmed)
}

// EscrowClient submits lockFunds and releaseFunds to the escrow contract as
// EIP-1559 transactions signed by the operator key.
type EscrowClient struct {
	backend  Backend
	contract common.Address
	chainID  *big.Int
	key      *ecdsa.PrivateKey
	from     common.Address
	logger   zerolog.Logger

	// serializes nonce assignment
	mu sync.Mutex
}

var _ escrow.Client = (*EscrowClient)(nil)

func NewEscrowClient(backend Backend, contract common.Address, chainID *big.Int, key *ecdsa.PrivateKey, logger zerolog.Logger) (*EscrowClient, error) {
	if backend == nil {
		return nil, fmt.Errorf("evm backend required")
	}
	if (contract == common.Address{}) {
		return nil, fmt.Errorf("escrow contract address required")
	}
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, fmt.Errorf("chain id must be positive")
	}
	if key == nil {
		return nil, fmt.Errorf("signer key required")
	}
	return &EscrowClient{
		backend:  backend,
		contract: contract,
		chainID:  new(big.Int).Set(chainID),
		key:      key,
		from:     keystore.Address(key),
		logger:   logger.With().Str("component", "escrow_client").Logger(),
	}, nil
}

// Operator is the account that signs escrow transactions.
func (c *EscrowClient) Operator() common.Address {
	return c.from
}

func (c *EscrowClient) LockFunds(ctx context.Context, buyer, token string, amount *uint256.Int) (escrow.TxHandle, error) {
	if !common.IsHexAddress(buyer) || !common.IsHexAddress(token) {
		return escrow.TxHandle{}, fmt.Errorf("lockFunds: invalid buyer or token address")
	}
	if amount == nil || amount.IsZero() {
		return escrow.TxHandle{}, fmt.Errorf("lockFunds: amount must be positive")
	}
	data, err := escrowABI.Pack("lockFunds", common.HexToAddress(buyer), common.HexToAddress(token), amount.ToBig())
	if err != nil {
		return escrow.TxHandle{}, fmt.Errorf("lockFunds: pack: %w", err)
	}
	return c.submit(ctx, "lockFunds", data)
}

func (c *EscrowClient) ReleaseFunds(ctx context.Context, tradeID string) (escrow.TxHandle, error) {
	id, err := TradeIDBytes(tradeID)
	if err != nil {
		return escrow.TxHandle{}, fmt.Errorf("releaseFunds: %w", err)
	}
	data, err := escrowABI.Pack("releaseFunds", id)
	if err != nil {
		return escrow.TxHandle{}, fmt.Errorf("releaseFunds: pack: %w", err)
	}
	return c.submit(ctx, "releaseFunds", data)
}

func (c *EscrowClient) submit(ctx context.Context, method string, data []byte) (escrow.TxHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	nonce, err := c.backend.PendingNonceAt(ctx, c.from)
	if err != nil {
		return escrow.TxHandle{}, c.fail(method, "nonce", err)
	}
	tip, err := c.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return escrow.TxHandle{}, c.fail(method, "gas tip", err)
	}
	head, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return escrow.TxHandle{}, c.fail(method, "head", err)
	}
	feeCap := new(big.Int).Set(tip)
	if head != nil && head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}
	to := c.contract
	gas, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{From: c.from, To: &to, Data: data})
	if err != nil {
		return escrow.TxHandle{}, c.fail(method, "estimate gas", err)
	}

	tx := gethtypes.NewTx(&gethtypes.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Data:      data,
	})
	signed, err := gethtypes.SignTx(tx, gethtypes.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return escrow.TxHandle{}, fmt.Errorf("%s: sign: %w", method, err)
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return escrow.TxHandle{}, c.fail(method, "send", err)
	}
	c.logger.Info().
		Str("method", method).
		Str("tx_hash", signed.Hash().Hex()).
		Uint64("nonce", nonce).
		Msg("escrow transaction sent")
	return escrow.TxHandle{Hash: signed.Hash().Hex(), Nonce: nonce}, nil
}

func (c *EscrowClient) fail(method, step string, err error) error {
	return fmt.Errorf("%w: %s: %s: %v", escrow.ErrUnavailable, method, step, err)
}
