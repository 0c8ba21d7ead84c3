// Package indexer drives the UTXO store from the chain source: initial
// sync to the tip, then poll-driven tail following.
package indexer

import (
	"context"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/rs/zerolog"

	"github.com/Klingon-tech/coinpick/config"
	"github.com/Klingon-tech/coinpick/internal/chain"
	klog "github.com/Klingon-tech/coinpick/internal/log"
	"github.com/Klingon-tech/coinpick/internal/utxo"
	"github.com/Klingon-tech/coinpick/pkg/script"
	"github.com/Klingon-tech/coinpick/pkg/types"
)

// statsRefreshInterval is how many blocks pass between progress refreshes
// during initial sync.
const statsRefreshInterval = 10

// interBatchYield lets concurrent readers make progress between batches.
const interBatchYield = 10 * time.Millisecond

// Indexer is the single writer of the UTXO store. It applies blocks
// strictly in height order, one atomic batch per block.
type Indexer struct {
	source chain.Source
	store  *utxo.Store
	cfg    config.IndexerConfig
	params *chaincfg.Params
	hub    *Hub
	logger zerolog.Logger

	network string
	stats   types.IndexStats
}

// New creates an indexer over the given source and store. hub may be nil
// when no event consumers exist.
func New(source chain.Source, store *utxo.Store, cfg config.Config, hub *Hub) *Indexer {
	return &Indexer{
		source:  source,
		store:   store,
		cfg:     cfg.Indexer,
		params:  script.ParamsForNetwork(cfg.Bitcoin.Network),
		hub:     hub,
		logger:  klog.Indexer,
		network: cfg.Bitcoin.Network,
	}
}

// Start runs the indexer until the context is cancelled or an
// unrecoverable error (store corruption, persistent RPC failure) occurs.
func (ix *Indexer) Start(ctx context.Context) error {
	if ix.network == "regtest" && ix.cfg.EnableValidation {
		ok, err := ix.source.IsRegtest(ctx)
		if err != nil {
			return fmt.Errorf("verify network: %w", err)
		}
		if !ok {
			return fmt.Errorf("expected regtest network, but node is not in regtest mode")
		}
	}

	next := ix.cfg.StartHeight
	if st, err := ix.store.ReadStats(); err == nil {
		ix.stats = *st
		next = st.CurrentHeight + 1
		ix.logger.Info().
			Uint64("utxos", st.TotalUtxos).
			Uint64("height", st.CurrentHeight).
			Msg("Resuming existing index")
	} else {
		ix.stats.LastUpdate = uint64(time.Now().Unix())
		ix.logger.Info().Uint64("start_height", next).Msg("No existing index, starting fresh")
	}

	tip, err := ix.source.GetBlockCount(ctx)
	if err != nil {
		return fmt.Errorf("query chain tip: %w", err)
	}
	metricChainTip.Set(float64(tip))

	if next <= tip {
		if err := ix.syncRange(ctx, next, tip, true); err != nil {
			return err
		}
	}

	return ix.followTail(ctx, tip)
}

// syncRange processes [from, to] in configured batches, yielding briefly
// between batches so concurrent readers are not starved.
func (ix *Indexer) syncRange(ctx context.Context, from, to uint64, strict bool) error {
	ix.logger.Info().Uint64("from", from).Uint64("to", to).Msg("Syncing blocks")

	batchSize := ix.cfg.BatchSize
	if batchSize == 0 {
		batchSize = 10
	}

	current := from
	for current <= to {
		batchEnd := current + batchSize - 1
		if batchEnd > to {
			batchEnd = to
		}

		for height := current; height <= batchEnd; height++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			result, err := ix.processBlock(ctx, height, to, strict)
			if err != nil {
				return err
			}
			ix.logger.Debug().
				Uint64("height", result.Height).
				Uint32("created", result.UtxosCreated).
				Uint32("spent", result.UtxosSpent).
				Uint64("ms", result.DurationMS).
				Msg("Processed block")

			if height%statsRefreshInterval == 0 {
				ix.logger.Info().
					Uint64("height", height).
					Float64("progress", ix.stats.ProgressPercent).
					Uint64("utxos", ix.stats.TotalUtxos).
					Msg("Sync progress")
			}
		}

		current = batchEnd + 1

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interBatchYield):
		}
	}

	ix.logger.Info().Uint64("height", to).Msg("Block sync completed")
	return nil
}

// followTail polls the tip and processes new blocks in height order.
func (ix *Indexer) followTail(ctx context.Context, last uint64) error {
	interval := time.Duration(ix.cfg.PollIntervalSecs) * time.Second
	if interval == 0 {
		interval = 5 * time.Second
	}
	ix.logger.Info().Uint64("height", last).Dur("poll", interval).Msg("Following chain tip")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		tip, err := ix.source.GetBlockCount(ctx)
		if err != nil {
			return fmt.Errorf("poll chain tip: %w", err)
		}
		metricChainTip.Set(float64(tip))
		if tip <= last {
			continue
		}

		ix.logger.Info().Uint64("from", last).Uint64("to", tip).Msg("New blocks detected")
		for height := last + 1; height <= tip; height++ {
			result, err := ix.processBlock(ctx, height, tip, true)
			if err != nil {
				return err
			}
			ix.logger.Info().
				Uint64("height", result.Height).
				Uint32("created", result.UtxosCreated).
				Uint32("spent", result.UtxosSpent).
				Msg("Processed new block")
		}
		last = tip
	}
}

// processBlock fetches one block and applies its mutations atomically.
// Within the block, input deletions precede output insertions; tx index 0
// is the coinbase and spends nothing.
func (ix *Indexer) processBlock(ctx context.Context, height, tip uint64, strict bool) (*BlockResult, error) {
	start := time.Now()

	block, err := chain.GetBlockAt(ctx, ix.source, height)
	if err != nil {
		return nil, fmt.Errorf("fetch block %d: %w", height, err)
	}
	blockHash := types.Hash(block.BlockHash())

	var spends []types.Outpoint
	var creates []types.UtxoRecord
	// Outputs created earlier in this block may be spent later in it; such
	// pairs cancel out instead of reaching the store, since the whole block
	// commits as one batch.
	pending := make(map[types.Outpoint]int)
	cancelled := make(map[int]bool)

	for txIndex, tx := range block.Transactions {
		txid := types.Hash(tx.TxHash())

		if txIndex > 0 {
			for _, in := range tx.TxIn {
				op := types.Outpoint{
					TxID: types.Hash(in.PreviousOutPoint.Hash),
					Vout: in.PreviousOutPoint.Index,
				}
				if idx, ok := pending[op]; ok {
					cancelled[idx] = true
					delete(pending, op)
					continue
				}
				spends = append(spends, op)
			}
		}

		for vout, out := range tx.TxOut {
			rec := ix.buildRecord(txid, uint32(vout), out, height, blockHash, txIndex == 0)
			creates = append(creates, rec)
			pending[rec.Outpoint] = len(creates) - 1
		}
	}

	if len(cancelled) > 0 {
		kept := creates[:0]
		for i := range creates {
			if !cancelled[i] {
				kept = append(kept, creates[i])
			}
		}
		creates = kept
	}

	ix.stats.CurrentHeight = height
	ix.stats.BlocksProcessed++
	ix.stats.LastUpdate = uint64(time.Now().Unix())
	if tip > 0 {
		ix.stats.ProgressPercent = float64(height) / float64(tip) * 100
	}

	spent, err := ix.store.ApplyBlock(spends, creates, &ix.stats, strict)
	if err != nil {
		return nil, fmt.Errorf("apply block %d: %w", height, err)
	}

	metricBlocksProcessed.Inc()
	metricUtxosCreated.Add(float64(len(creates)))
	metricUtxosSpent.Add(float64(len(spent)))
	metricCurrentHeight.Set(float64(height))
	metricBlockSeconds.Observe(time.Since(start).Seconds())

	result := &BlockResult{
		Height:       height,
		Hash:         blockHash.String(),
		UtxosCreated: uint32(len(creates)),
		UtxosSpent:   uint32(len(spent)),
		DurationMS:   uint64(time.Since(start).Milliseconds()),
	}
	if ix.hub != nil {
		ix.hub.Publish(*result)
	}
	return result, nil
}

// buildRecord derives the address and script type for one output.
func (ix *Indexer) buildRecord(txid types.Hash, vout uint32, out *wire.TxOut, height uint64, blockHash types.Hash, coinbase bool) types.UtxoRecord {
	addr, _ := script.ExtractAddress(out.PkScript, ix.params)
	return types.UtxoRecord{
		Outpoint:    types.Outpoint{TxID: txid, Vout: vout},
		Value:       uint64(out.Value),
		Script:      out.PkScript,
		BlockHeight: height,
		BlockHash:   blockHash,
		IsCoinbase:  coinbase,
		Address:     addr,
		ScriptType:  script.Classify(out.PkScript),
	}
}

// RescanFrom re-enters sync from the given height against the current tip.
// It re-applies blocks over the existing records rather than rebuilding, so
// spends that were already consumed are skipped, not treated as corruption.
func (ix *Indexer) RescanFrom(ctx context.Context, height uint64) error {
	ix.logger.Warn().Uint64("height", height).Msg("Starting rescan")

	tip, err := ix.source.GetBlockCount(ctx)
	if err != nil {
		return fmt.Errorf("query chain tip: %w", err)
	}
	if err := ix.syncRange(ctx, height, tip, false); err != nil {
		return err
	}
	ix.logger.Info().Msg("Rescan completed")
	return nil
}

// Stats returns a copy of the running statistics.
func (ix *Indexer) Stats() types.IndexStats {
	return ix.stats
}
