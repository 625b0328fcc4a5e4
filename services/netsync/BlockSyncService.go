package netsync

import (
	"context"
	"sync"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/dieguito9000/rskj/errors"
	"github.com/dieguito9000/rskj/model"
	"github.com/dieguito9000/rskj/services/blockchain"
	"github.com/dieguito9000/rskj/ulogger"
	"github.com/jellydator/ttlcache/v3"
)

type orphanBlock struct {
	block  *model.Block
	sender model.PeerIdentity
}

// BlockSyncService connects blocks to the chain and buffers the ones whose parent is not
// known yet. When a block connects, its buffered descendants are connected after it.
type BlockSyncService struct {
	logger     ulogger.Logger
	config     *SyncConfiguration
	blockchain blockchain.ClientI

	// orphans is bounded by capacity and TTL. orphansByParent may hold hashes the cache has
	// already dropped; lookups skip them.
	orphans         *ttlcache.Cache[chainhash.Hash, *orphanBlock]
	mu              sync.Mutex
	orphansByParent map[chainhash.Hash]map[chainhash.Hash]struct{}
}

func NewBlockSyncService(logger ulogger.Logger, config *SyncConfiguration, chain blockchain.ClientI) *BlockSyncService {
	initPrometheusMetrics()

	orphans := ttlcache.New[chainhash.Hash, *orphanBlock](
		ttlcache.WithTTL[chainhash.Hash, *orphanBlock](config.OrphanTTL()),
		ttlcache.WithCapacity[chainhash.Hash, *orphanBlock](uint64(config.MaxOrphanBlocks())),
		ttlcache.WithDisableTouchOnHit[chainhash.Hash, *orphanBlock](),
	)

	orphans.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[chainhash.Hash, *orphanBlock]) {
		if reason == ttlcache.EvictionReasonCapacityReached || reason == ttlcache.EvictionReasonExpired {
			prometheusNetsyncOrphansEvicted.Inc()
		}
	})

	return &BlockSyncService{
		logger:          logger,
		config:          config,
		blockchain:      chain,
		orphans:         orphans,
		orphansByParent: make(map[chainhash.Hash]map[chainhash.Hash]struct{}),
	}
}

// ConnectBlock imports a block. Orphans are buffered and reported as such; after a
// successful import every buffered descendant that now connects is imported too.
func (s *BlockSyncService) ConnectBlock(ctx context.Context, block *model.Block, sender model.PeerIdentity) (blockchain.ImportResult, error) {
	if s.orphans.Has(*block.Hash()) {
		return blockchain.Duplicate, nil
	}

	result, err := s.blockchain.TryToConnect(ctx, block)
	if err != nil {
		return result, err
	}

	switch result {
	case blockchain.Orphan:
		s.addOrphan(block, sender)

		// the parent may have connected while the orphan was being buffered
		exists, err := s.blockchain.HasBlock(ctx, block.ParentHash())
		if err != nil {
			return result, err
		}

		if exists {
			s.connectDescendants(ctx, block.ParentHash())
		}

		return blockchain.Orphan, nil

	case blockchain.ImportedBest, blockchain.ImportedNotBest:
		s.connectDescendants(ctx, block.Hash())
	}

	return result, nil
}

func (s *BlockSyncService) addOrphan(block *model.Block, sender model.PeerIdentity) {
	hash := *block.Hash()
	parent := *block.ParentHash()

	s.orphans.Set(hash, &orphanBlock{block: block, sender: sender}, ttlcache.DefaultTTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	children, ok := s.orphansByParent[parent]
	if !ok {
		children = make(map[chainhash.Hash]struct{})
		s.orphansByParent[parent] = children
	}

	children[hash] = struct{}{}

	if len(s.orphansByParent) > 2*s.config.MaxOrphanBlocks() {
		s.pruneIndexLocked()
	}

	prometheusNetsyncOrphans.Set(float64(s.orphans.Len()))

	s.logger.Debugf("[BlockSyncService][%s] buffered orphan at height %d, missing parent %s", block.Hash(), block.Number(), block.ParentHash())
}

// pruneIndexLocked drops index entries whose orphans left the cache.
func (s *BlockSyncService) pruneIndexLocked() {
	s.orphans.DeleteExpired()

	for parent, children := range s.orphansByParent {
		for hash := range children {
			if !s.orphans.Has(hash) {
				delete(children, hash)
			}
		}

		if len(children) == 0 {
			delete(s.orphansByParent, parent)
		}
	}
}

// takeChildren removes and returns the buffered orphans whose parent is parentHash.
func (s *BlockSyncService) takeChildren(parentHash *chainhash.Hash) []*orphanBlock {
	s.mu.Lock()
	children := s.orphansByParent[*parentHash]
	delete(s.orphansByParent, *parentHash)
	s.mu.Unlock()

	result := make([]*orphanBlock, 0, len(children))

	for hash := range children {
		item, present := s.orphans.GetAndDelete(hash)
		if !present || item == nil {
			continue
		}

		result = append(result, item.Value())
	}

	prometheusNetsyncOrphans.Set(float64(s.orphans.Len()))

	return result
}

// connectDescendants imports buffered descendants of hash, breadth first.
func (s *BlockSyncService) connectDescendants(ctx context.Context, hash *chainhash.Hash) {
	queue := []*chainhash.Hash{hash}

	for len(queue) > 0 {
		parent := queue[0]
		queue = queue[1:]

		for _, orphan := range s.takeChildren(parent) {
			result, err := s.blockchain.TryToConnect(ctx, orphan.block)
			if err != nil {
				s.logger.Warnf("[BlockSyncService][%s] could not connect buffered block from %s: %v", orphan.block.Hash(), orphan.sender, err)
				continue
			}

			prometheusNetsyncOrphansConnected.Inc()

			if result.IsImported() {
				s.logger.Debugf("[BlockSyncService][%s] connected buffered block at height %d: %s", orphan.block.Hash(), orphan.block.Number(), result)
				queue = append(queue, orphan.block.Hash())
			}
		}
	}
}

// GetUnknownAncestor follows the buffered orphans from hash towards genesis and returns the
// first hash that is not buffered: the block to ask peers for.
func (s *BlockSyncService) GetUnknownAncestor(hash *chainhash.Hash) *chainhash.Hash {
	current := hash

	for i := 0; i <= s.config.MaxOrphanBlocks(); i++ {
		item := s.orphans.Get(*current)
		if item == nil {
			return current
		}

		current = item.Value().block.ParentHash()
	}

	return current
}

func (s *BlockSyncService) IsOrphan(hash *chainhash.Hash) bool {
	return s.orphans.Has(*hash)
}

func (s *BlockSyncService) OrphanCount() int {
	return s.orphans.Len()
}

// ClearOrphans drops every buffered block.
func (s *BlockSyncService) ClearOrphans() {
	s.orphans.DeleteAll()

	s.mu.Lock()
	s.orphansByParent = make(map[chainhash.Hash]map[chainhash.Hash]struct{})
	s.mu.Unlock()

	prometheusNetsyncOrphans.Set(0)
}

func (s *BlockSyncService) GetBestBlockNumber(ctx context.Context) (uint64, error) {
	status, err := s.blockchain.GetStatus(ctx)
	if err != nil {
		return 0, errors.NewServiceError("could not read best block", err)
	}

	return status.BestBlockNumber, nil
}
