// Package blockchain maintains the local chain: it connects validated blocks to the chain
// store, keeps the best block on the branch with the greatest cumulative work and switches
// branches when a side branch overtakes the main chain.
package blockchain

import (
	"context"
	"math/big"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/dieguito9000/rskj/model"
)

// ClientI is the view of the chain used by the sync services and the status API.
type ClientI interface {
	// TryToConnect adds a block whose parent is stored. The result tells whether the block
	// became the new best block, was stored on a side branch, or was rejected.
	TryToConnect(ctx context.Context, block *model.Block) (ImportResult, error)

	GetBestBlock(ctx context.Context) (*model.Block, *model.BlockHeaderMeta, error)
	GetBlock(ctx context.Context, blockHash *chainhash.Hash) (*model.Block, *model.BlockHeaderMeta, error)
	GetBlockByHeight(ctx context.Context, height uint64) (*model.Block, *model.BlockHeaderMeta, error)
	HasBlock(ctx context.Context, blockHash *chainhash.Hash) (bool, error)
	GetStatus(ctx context.Context) (*Status, error)

	// Subscribe returns a channel receiving a notification every time the best block
	// changes. The channel is closed when ctx is done.
	Subscribe(ctx context.Context, source string) <-chan *Notification
}

// Status is the summary of the local best chain.
type Status struct {
	BestBlockHash   *chainhash.Hash `json:"best_block_hash"`
	BestBlockNumber uint64          `json:"best_block_number"`
	TotalDifficulty *big.Int        `json:"total_difficulty"`
}

// HasHigherWorkThan compares cumulative work with another status.
func (s *Status) HasHigherWorkThan(other *Status) bool {
	if other == nil || other.TotalDifficulty == nil {
		return s.TotalDifficulty != nil
	}

	if s.TotalDifficulty == nil {
		return false
	}

	return s.TotalDifficulty.Cmp(other.TotalDifficulty) > 0
}

type NotificationType int

const (
	NotificationBestBlock NotificationType = iota
	NotificationReorg
)

func (n NotificationType) String() string {
	switch n {
	case NotificationBestBlock:
		return "BestBlock"
	case NotificationReorg:
		return "Reorg"
	default:
		return "Unknown"
	}
}

type Notification struct {
	Type   NotificationType
	Hash   *chainhash.Hash
	Number uint64
}
