package evm

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/escrow-hub/escrow-hub/internal/domain/escrow"
	"github.com/escrow-hub/escrow-hub/internal/infrastructure/metrics"
)

// LogReader is the subset of the Ethereum RPC used to scan contract logs.
type LogReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]gethtypes.Log, error)
}

// CursorStore persists the last scanned block.
type CursorStore interface {
	GetCursor(ctx context.Context, name string) (uint64, error)
	SetCursor(ctx context.Context, name string, value uint64) error
}

type WatcherConfig struct {
	Contract      common.Address
	Confirmations uint64
	StartBlock    uint64
	PollInterval  time.Duration
	BatchBlocks   uint64
}

// Watcher polls confirmed blocks for escrow events. Events are emitted
// before the cursor advances, so a restart may deliver some twice.
type Watcher struct {
	reader  LogReader
	cursors CursorStore
	cfg     WatcherConfig
	metrics *metrics.TradeMetrics
	logger  zerolog.Logger
	nowFn   func() time.Time
}

func NewWatcher(reader LogReader, cursors CursorStore, cfg WatcherConfig, m *metrics.TradeMetrics, logger zerolog.Logger) *Watcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.BatchBlocks == 0 {
		cfg.BatchBlocks = 2000
	}
	return &Watcher{
		reader:  reader,
		cursors: cursors,
		cfg:     cfg,
		metrics: m,
		logger:  logger.With().Str("component", "escrow_watcher").Logger(),
		nowFn:   time.Now,
	}
}

func (w *Watcher) cursorName() string {
	return "escrow:" + w.cfg.Contract.Hex()
}

// Run polls until ctx ends. out is never closed by the watcher.
func (w *Watcher) Run(ctx context.Context, out chan<- escrow.Event) error {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if _, err := w.Poll(ctx, out); err != nil && ctx.Err() == nil {
			w.logger.Warn().Err(err).Msg("escrow log poll failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Poll scans one batch of confirmed blocks and returns the number of events
// emitted.
func (w *Watcher) Poll(ctx context.Context, out chan<- escrow.Event) (int, error) {
	head, err := w.reader.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch head: %w", err)
	}
	if head < w.cfg.Confirmations {
		return 0, nil
	}
	safe := head - w.cfg.Confirmations

	cursor, err := w.cursors.GetCursor(ctx, w.cursorName())
	if err != nil {
		return 0, fmt.Errorf("load cursor: %w", err)
	}
	from := w.cfg.StartBlock
	if cursor > 0 && cursor+1 > from {
		from = cursor + 1
	}
	if from > safe {
		return 0, nil
	}
	to := safe
	if to-from+1 > w.cfg.BatchBlocks {
		to = from + w.cfg.BatchBlocks - 1
	}

	logs, err := w.reader.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{w.cfg.Contract},
		Topics:    [][]common.Hash{{fundsLockedTopic, fundsReleasedTopic}},
	})
	if err != nil {
		return 0, fmt.Errorf("filter logs %d-%d: %w", from, to, err)
	}

	emitted := 0
	for _, lg := range logs {
		if lg.Removed {
			continue
		}
		ev, ok, err := decodeLog(lg)
		if err != nil {
			w.logger.Warn().Err(err).
				Str("tx_hash", lg.TxHash.Hex()).
				Uint("log_index", lg.Index).
				Msg("skip undecodable escrow log")
			continue
		}
		if !ok {
			continue
		}
		ev.ObservedAt = w.nowFn().UTC()
		select {
		case out <- ev:
			emitted++
		case <-ctx.Done():
			return emitted, ctx.Err()
		}
	}

	if err := w.cursors.SetCursor(ctx, w.cursorName(), to); err != nil {
		return emitted, fmt.Errorf("save cursor: %w", err)
	}
	w.metrics.SetWatcherBlock(to)
	w.logger.Debug().Uint64("from", from).Uint64("to", to).Int("events", emitted).Msg("escrow logs scanned")
	return emitted, nil
}
