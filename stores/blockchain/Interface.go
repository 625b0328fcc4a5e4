// Package blockchain defines the chain store: the persistent block index with cumulative
// work and canonical-chain membership. Blocks are never deleted; reorganizations only flip
// main-chain membership.
package blockchain

import (
	"context"
	"math/big"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/dieguito9000/rskj/model"
)

type Store interface {
	// StoreBlock persists the block off the main chain with the given cumulative work.
	// Storing a block twice returns ERR_BLOCK_EXISTS.
	StoreBlock(ctx context.Context, block *model.Block, chainWork *big.Int) (*model.BlockHeaderMeta, error)
	GetBlock(ctx context.Context, blockHash *chainhash.Hash) (*model.Block, *model.BlockHeaderMeta, error)
	GetBlockHeader(ctx context.Context, blockHash *chainhash.Hash) (*model.BlockHeader, *model.BlockHeaderMeta, error)
	GetBlockExists(ctx context.Context, blockHash *chainhash.Hash) (bool, error)
	// GetBlockByHeight returns the main chain block at the height.
	GetBlockByHeight(ctx context.Context, height uint64) (*model.Block, *model.BlockHeaderMeta, error)
	// GetBestBlockHeader returns ERR_NOT_FOUND on an empty store.
	GetBestBlockHeader(ctx context.Context) (*model.BlockHeader, *model.BlockHeaderMeta, error)
	// SetBestChain removes the disconnect blocks from the main chain, adds the connect
	// blocks (ordered by increasing height) and makes the last connect block the best block,
	// all in one atomic step.
	SetBestChain(ctx context.Context, disconnect []*chainhash.Hash, connect []*chainhash.Hash) error
	Close() error
}
