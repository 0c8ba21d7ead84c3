// Package chain talks to the external chain source: a Bitcoin-compatible
// node reached over JSON-RPC.
package chain

import (
	"context"

	"github.com/btcsuite/btcd/wire"

	"github.com/Klingon-tech/coinpick/pkg/types"
)

// Source is the semantic contract the indexer needs from a node. Blocks
// form a total order by height with no gaps.
type Source interface {
	// GetBlockCount returns the current tip height.
	GetBlockCount(ctx context.Context) (uint64, error)
	// GetBlockHash returns the hash of the block at the given height.
	GetBlockHash(ctx context.Context, height uint64) (types.Hash, error)
	// GetBlock returns the full block with the given hash.
	GetBlock(ctx context.Context, hash types.Hash) (*wire.MsgBlock, error)
	// GetRawTransaction returns a transaction by id.
	GetRawTransaction(ctx context.Context, txid types.Hash) (*wire.MsgTx, error)
	// IsRegtest reports whether the node runs a regression-test chain.
	IsRegtest(ctx context.Context) (bool, error)
}

// GetBlockAt fetches the block at a height through any Source.
func GetBlockAt(ctx context.Context, src Source, height uint64) (*wire.MsgBlock, error) {
	hash, err := src.GetBlockHash(ctx, height)
	if err != nil {
		return nil, err
	}
	return src.GetBlock(ctx, hash)
}
