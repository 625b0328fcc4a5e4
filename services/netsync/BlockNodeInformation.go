package netsync

import (
	"sort"
	"sync"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/dieguito9000/rskj/errors"
	"github.com/dieguito9000/rskj/model"
	lru "github.com/hashicorp/golang-lru/v2"
)

// BlockNodeInformation remembers which peers are known to hold which blocks. Only the most
// recently recorded blocks are retained.
type BlockNodeInformation struct {
	mu     sync.Mutex
	blocks *lru.Cache[chainhash.Hash, map[string]model.PeerIdentity]
}

func NewBlockNodeInformation(retention int) (*BlockNodeInformation, error) {
	blocks, err := lru.New[chainhash.Hash, map[string]model.PeerIdentity](retention)
	if err != nil {
		return nil, errors.NewConfigurationError("could not create block node information with retention %d", retention, err)
	}

	return &BlockNodeInformation{blocks: blocks}, nil
}

func (b *BlockNodeInformation) RecordBlockKnownByPeer(blockHash *chainhash.Hash, peer model.PeerIdentity) {
	b.mu.Lock()
	defer b.mu.Unlock()

	peers, ok := b.blocks.Get(*blockHash)
	if !ok {
		peers = make(map[string]model.PeerIdentity)
		b.blocks.Add(*blockHash, peers)
	}

	peers[peer.Key()] = peer
}

// GetPeersWithBlock returns the peers known to hold the block, ordered by node id.
func (b *BlockNodeInformation) GetPeersWithBlock(blockHash *chainhash.Hash) []model.PeerIdentity {
	b.mu.Lock()
	defer b.mu.Unlock()

	peers, ok := b.blocks.Peek(*blockHash)
	if !ok {
		return nil
	}

	result := make([]model.PeerIdentity, 0, len(peers))
	for _, peer := range peers {
		result = append(result, peer)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].NodeID < result[j].NodeID
	})

	return result
}

func (b *BlockNodeInformation) IsBlockKnownByPeer(blockHash *chainhash.Hash, peer model.PeerIdentity) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	peers, ok := b.blocks.Peek(*blockHash)
	if !ok {
		return false
	}

	_, ok = peers[peer.Key()]

	return ok
}

// ForgetPeer drops the peer from every retained block.
func (b *BlockNodeInformation) ForgetPeer(peer model.PeerIdentity) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, hash := range b.blocks.Keys() {
		if peers, ok := b.blocks.Peek(hash); ok {
			delete(peers, peer.Key())
		}
	}
}

func (b *BlockNodeInformation) Len() int {
	return b.blocks.Len()
}
