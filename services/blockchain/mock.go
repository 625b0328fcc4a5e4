package blockchain

import (
	"context"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/dieguito9000/rskj/model"
	"github.com/stretchr/testify/mock"
)

// Mock implements ClientI for testing purposes
type Mock struct {
	mock.Mock
}

func (m *Mock) TryToConnect(ctx context.Context, block *model.Block) (ImportResult, error) {
	args := m.Called(ctx, block)

	return args.Get(0).(ImportResult), args.Error(1)
}

func (m *Mock) GetBestBlock(ctx context.Context) (*model.Block, *model.BlockHeaderMeta, error) {
	args := m.Called(ctx)

	if args.Error(2) != nil {
		return nil, nil, args.Error(2)
	}

	return args.Get(0).(*model.Block), args.Get(1).(*model.BlockHeaderMeta), args.Error(2)
}

func (m *Mock) GetBlock(ctx context.Context, blockHash *chainhash.Hash) (*model.Block, *model.BlockHeaderMeta, error) {
	args := m.Called(ctx, blockHash)

	if args.Error(2) != nil {
		return nil, nil, args.Error(2)
	}

	return args.Get(0).(*model.Block), args.Get(1).(*model.BlockHeaderMeta), args.Error(2)
}

func (m *Mock) GetBlockByHeight(ctx context.Context, height uint64) (*model.Block, *model.BlockHeaderMeta, error) {
	args := m.Called(ctx, height)

	if args.Error(2) != nil {
		return nil, nil, args.Error(2)
	}

	return args.Get(0).(*model.Block), args.Get(1).(*model.BlockHeaderMeta), args.Error(2)
}

func (m *Mock) HasBlock(ctx context.Context, blockHash *chainhash.Hash) (bool, error) {
	args := m.Called(ctx, blockHash)

	return args.Bool(0), args.Error(1)
}

func (m *Mock) GetStatus(ctx context.Context) (*Status, error) {
	args := m.Called(ctx)

	if args.Error(1) != nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*Status), args.Error(1)
}

func (m *Mock) Subscribe(ctx context.Context, source string) <-chan *Notification {
	args := m.Called(ctx, source)

	return args.Get(0).(<-chan *Notification)
}
