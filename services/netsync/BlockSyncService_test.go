package netsync

import (
	"context"
	"math/rand"
	"testing"

	"github.com/dieguito9000/rskj/errors"
	"github.com/dieguito9000/rskj/model"
	"github.com/dieguito9000/rskj/services/blockchain"
	"github.com/dieguito9000/rskj/ulogger"
	"github.com/dieguito9000/rskj/util/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestBlockSyncServiceConnectBlock(t *testing.T) {
	ctx := context.Background()
	peer := model.NewPeerIdentity("node-1", "10.0.0.1:5050")
	blocks := test.GenerateChain(test.Genesis(), 5, "bss")

	t.Run("in order", func(t *testing.T) {
		chain := newTestChain(t, nil)
		bss := NewBlockSyncService(&ulogger.TestLogger{}, newTestConfig(t, 1), chain)

		for _, block := range blocks {
			result, err := bss.ConnectBlock(ctx, block, peer)
			require.NoError(t, err)
			assert.Equal(t, blockchain.ImportedBest, result)
		}

		result, err := bss.ConnectBlock(ctx, blocks[2], peer)
		require.NoError(t, err)
		assert.Equal(t, blockchain.Duplicate, result)

		number, err := bss.GetBestBlockNumber(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(5), number)
	})

	t.Run("orphans connect when the gap is filled", func(t *testing.T) {
		chain := newTestChain(t, nil)
		bss := NewBlockSyncService(&ulogger.TestLogger{}, newTestConfig(t, 1), chain)

		for _, block := range []*model.Block{blocks[4], blocks[2], blocks[3], blocks[1]} {
			result, err := bss.ConnectBlock(ctx, block, peer)
			require.NoError(t, err)
			assert.Equal(t, blockchain.Orphan, result)
		}

		assert.Equal(t, 4, bss.OrphanCount())
		assert.True(t, bss.IsOrphan(blocks[3].Hash()))

		result, err := bss.ConnectBlock(ctx, blocks[3], peer)
		require.NoError(t, err)
		assert.Equal(t, blockchain.Duplicate, result)

		result, err = bss.ConnectBlock(ctx, blocks[0], peer)
		require.NoError(t, err)
		assert.Equal(t, blockchain.ImportedBest, result)

		assert.Equal(t, 0, bss.OrphanCount())

		number, err := bss.GetBestBlockNumber(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(5), number)
	})

	t.Run("invalid block", func(t *testing.T) {
		chain := newTestChain(t, nil)
		bss := NewBlockSyncService(&ulogger.TestLogger{}, newTestConfig(t, 1), chain)

		wrongNumber := model.MineBlock(test.Genesis().Header, blocks[0].Header.Bits, test.GenesisTime.Add(1), [][]byte{[]byte("x")})
		wrongNumber.Header.Number = 7
		wrongNumber.Header.Solve()

		result, err := bss.ConnectBlock(ctx, wrongNumber, peer)
		require.Error(t, err)
		assert.Equal(t, blockchain.Invalid, result)
		assert.True(t, errors.Is(err, errors.ErrBlockInvalid))
		assert.Equal(t, 0, bss.OrphanCount())
	})
}

func TestBlockSyncServiceGetUnknownAncestor(t *testing.T) {
	ctx := context.Background()
	peer := model.NewPeerIdentity("node-1", "10.0.0.1:5050")
	blocks := test.GenerateChain(test.Genesis(), 6, "ancestor")

	chain := newTestChain(t, blocks[:1])
	bss := NewBlockSyncService(&ulogger.TestLogger{}, newTestConfig(t, 1), chain)

	for _, block := range blocks[3:] {
		_, err := bss.ConnectBlock(ctx, block, peer)
		require.NoError(t, err)
	}

	// blocks 4..6 are buffered, 3 is missing
	assert.Equal(t, blocks[2].Hash(), bss.GetUnknownAncestor(blocks[5].ParentHash()))
	assert.Equal(t, blocks[2].Hash(), bss.GetUnknownAncestor(blocks[2].Hash()))

	bss.ClearOrphans()

	assert.Equal(t, 0, bss.OrphanCount())
	assert.Equal(t, blocks[4].Hash(), bss.GetUnknownAncestor(blocks[5].ParentHash()))
}

func TestBlockSyncServiceChainErrors(t *testing.T) {
	ctx := context.Background()
	block := test.GenerateChain(test.Genesis(), 1, "errors")[0]

	chain := &blockchain.Mock{}
	chain.On("TryToConnect", mock.Anything, block).Return(blockchain.ImportUnknown, errors.NewStorageError("disk gone"))
	chain.On("GetStatus", mock.Anything).Return(nil, errors.NewStorageUnavailableError("disk gone"))

	bss := NewBlockSyncService(&ulogger.TestLogger{}, newTestConfig(t, 1), chain)

	result, err := bss.ConnectBlock(ctx, block, model.NewPeerIdentity("node-1", ""))
	require.Error(t, err)
	assert.Equal(t, blockchain.ImportUnknown, result)

	_, err = bss.GetBestBlockNumber(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrServiceError))
}

func TestBlockSyncServiceConvergesInAnyOrder(t *testing.T) {
	ctx := context.Background()
	peer := model.NewPeerIdentity("node-1", "10.0.0.1:5050")

	short := test.GenerateChain(test.Genesis(), 3, "short")
	long := test.GenerateChain(test.Genesis(), 4, "long")
	all := append(append([]*model.Block{}, short...), long...)

	orders := [][]int{
		{6, 5, 4, 3, 2, 1, 0},
		{3, 6, 2, 5, 1, 4, 0},
	}

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		orders = append(orders, rng.Perm(len(all)))
	}

	for i, order := range orders {
		chain := newTestChain(t, nil)
		bss := NewBlockSyncService(&ulogger.TestLogger{}, newTestConfig(t, 1), chain)

		for _, idx := range order {
			result, err := bss.ConnectBlock(ctx, all[idx], peer)
			require.NoError(t, err, "order %d", i)
			require.NotEqual(t, blockchain.Invalid, result, "order %d", i)
		}

		assert.Equal(t, 0, bss.OrphanCount(), "order %v", order)

		status, err := chain.GetStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, long[3].Hash().String(), status.BestBlockHash.String(), "order %v", order)
		assert.Equal(t, uint64(4), status.BestBlockNumber, "order %v", order)

		for _, block := range all {
			exists, err := chain.HasBlock(ctx, block.Hash())
			require.NoError(t, err)
			assert.True(t, exists, "order %v", order)
		}
	}
}
