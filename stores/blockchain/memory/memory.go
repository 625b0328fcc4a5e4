// Package memory is a map backed chain store for tests and simulations.
package memory

import (
	"context"
	"math/big"
	"sync"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/dieguito9000/rskj/errors"
	"github.com/dieguito9000/rskj/model"
)

type storedBlock struct {
	block *model.Block
	meta  model.BlockHeaderMeta
}

type Memory struct {
	mu       sync.RWMutex
	blocks   map[chainhash.Hash]*storedBlock
	byHeight map[uint64]chainhash.Hash
	best     *chainhash.Hash
	nextID   uint64
}

func New() *Memory {
	return &Memory{
		blocks:   make(map[chainhash.Hash]*storedBlock),
		byHeight: make(map[uint64]chainhash.Hash),
	}
}

func (m *Memory) StoreBlock(_ context.Context, block *model.Block, chainWork *big.Int) (*model.BlockHeaderMeta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	hash := *block.Hash()
	if _, ok := m.blocks[hash]; ok {
		return nil, errors.NewBlockExistsError("block %s already stored", hash)
	}

	m.nextID++

	sb := &storedBlock{
		block: block,
		meta: model.BlockHeaderMeta{
			ID:          m.nextID,
			Height:      block.Number(),
			ChainWork:   new(big.Int).Set(chainWork),
			TxCount:     uint64(len(block.Transactions)),
			SizeInBytes: uint64(len(block.Bytes())),
		},
	}
	m.blocks[hash] = sb

	meta := sb.meta

	return &meta, nil
}

func (m *Memory) GetBlock(_ context.Context, blockHash *chainhash.Hash) (*model.Block, *model.BlockHeaderMeta, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sb, ok := m.blocks[*blockHash]
	if !ok {
		return nil, nil, errors.NewBlockNotFoundError("block %s not found", blockHash)
	}

	meta := sb.meta

	return sb.block, &meta, nil
}

func (m *Memory) GetBlockHeader(ctx context.Context, blockHash *chainhash.Hash) (*model.BlockHeader, *model.BlockHeaderMeta, error) {
	block, meta, err := m.GetBlock(ctx, blockHash)
	if err != nil {
		return nil, nil, err
	}

	return block.Header, meta, nil
}

func (m *Memory) GetBlockExists(_ context.Context, blockHash *chainhash.Hash) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.blocks[*blockHash]

	return ok, nil
}

func (m *Memory) GetBlockByHeight(ctx context.Context, height uint64) (*model.Block, *model.BlockHeaderMeta, error) {
	m.mu.RLock()
	hash, ok := m.byHeight[height]
	m.mu.RUnlock()

	if !ok {
		return nil, nil, errors.NewBlockNotFoundError("no main chain block at height %d", height)
	}

	return m.GetBlock(ctx, &hash)
}

func (m *Memory) GetBestBlockHeader(ctx context.Context) (*model.BlockHeader, *model.BlockHeaderMeta, error) {
	m.mu.RLock()
	best := m.best
	m.mu.RUnlock()

	if best == nil {
		return nil, nil, errors.NewNotFoundError("no best block")
	}

	return m.GetBlockHeader(ctx, best)
}

func (m *Memory) SetBestChain(_ context.Context, disconnect []*chainhash.Hash, connect []*chainhash.Hash) error {
	if len(connect) == 0 {
		return errors.NewInvalidArgumentError("no blocks to connect")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, h := range append(append([]*chainhash.Hash{}, disconnect...), connect...) {
		if _, ok := m.blocks[*h]; !ok {
			return errors.NewBlockNotFoundError("block %s not found", h)
		}
	}

	for _, h := range disconnect {
		sb := m.blocks[*h]
		sb.meta.OnMainChain = false

		if current, ok := m.byHeight[sb.meta.Height]; ok && current.IsEqual(h) {
			delete(m.byHeight, sb.meta.Height)
		}
	}

	for _, h := range connect {
		sb := m.blocks[*h]
		sb.meta.OnMainChain = true
		m.byHeight[sb.meta.Height] = *h
	}

	best := *connect[len(connect)-1]
	m.best = &best

	// a shorter branch can win on work, so drop main chain entries above the new tip
	bestHeight := m.blocks[best].meta.Height
	for height, h := range m.byHeight {
		if height > bestHeight {
			m.blocks[h].meta.OnMainChain = false
			delete(m.byHeight, height)
		}
	}

	return nil
}

func (m *Memory) Close() error {
	return nil
}
