package blockchain_test

import (
	"context"
	"math/big"
	"net/url"
	"testing"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/dieguito9000/rskj/errors"
	"github.com/dieguito9000/rskj/stores/blockchain"
	"github.com/dieguito9000/rskj/ulogger"
	"github.com/dieguito9000/rskj/util/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStores(t *testing.T) map[string]blockchain.Store {
	t.Helper()

	tSettings := test.CreateBaseTestSettings()
	stores := make(map[string]blockchain.Store)

	for _, rawURL := range []string{"memory:///", "sqlitememory:///blockchain"} {
		storeURL, err := url.Parse(rawURL)
		require.NoError(t, err)

		store, err := blockchain.NewStore(&ulogger.TestLogger{}, storeURL, tSettings)
		require.NoError(t, err)

		t.Cleanup(func() { _ = store.Close() })

		stores[storeURL.Scheme] = store
	}

	return stores
}

func TestNewStoreUnknownScheme(t *testing.T) {
	storeURL, err := url.Parse("leveldb:///blocks")
	require.NoError(t, err)

	_, err = blockchain.NewStore(&ulogger.TestLogger{}, storeURL, test.CreateBaseTestSettings())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConfiguration))

	_, err = blockchain.NewStore(&ulogger.TestLogger{}, nil, test.CreateBaseTestSettings())
	require.Error(t, err)
}

func TestStoreAndGetBlock(t *testing.T) {
	ctx := context.Background()
	genesis := test.Genesis()
	chain := test.GenerateChain(genesis, 2, "a")

	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			_, _, err := store.GetBestBlockHeader(ctx)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrNotFound))

			meta, err := store.StoreBlock(ctx, genesis, big.NewInt(2))
			require.NoError(t, err)
			assert.Positive(t, meta.ID)
			assert.False(t, meta.OnMainChain)

			_, err = store.StoreBlock(ctx, chain[0], big.NewInt(4))
			require.NoError(t, err)

			_, err = store.StoreBlock(ctx, chain[0], big.NewInt(4))
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrBlockExists))

			block, meta, err := store.GetBlock(ctx, chain[0].Hash())
			require.NoError(t, err)
			assert.Equal(t, chain[0].Hash(), block.Hash())
			assert.Equal(t, uint64(1), meta.Height)
			assert.Equal(t, 0, big.NewInt(4).Cmp(meta.ChainWork))
			assert.Equal(t, uint64(1), meta.TxCount)

			header, _, err := store.GetBlockHeader(ctx, chain[0].Hash())
			require.NoError(t, err)
			assert.Equal(t, chain[0].Header, header)

			exists, err := store.GetBlockExists(ctx, chain[0].Hash())
			require.NoError(t, err)
			assert.True(t, exists)

			exists, err = store.GetBlockExists(ctx, chain[1].Hash())
			require.NoError(t, err)
			assert.False(t, exists)

			_, _, err = store.GetBlock(ctx, chain[1].Hash())
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrBlockNotFound))
		})
	}
}

func TestSetBestChain(t *testing.T) {
	ctx := context.Background()
	genesis := test.Genesis()
	branchA := test.GenerateChain(genesis, 3, "a")
	branchB := test.GenerateChain(genesis, 2, "b")

	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.StoreBlock(ctx, genesis, big.NewInt(2))
			require.NoError(t, err)

			for i, b := range branchA {
				_, err = store.StoreBlock(ctx, b, big.NewInt(int64(4+2*i)))
				require.NoError(t, err)
			}

			for i, b := range branchB {
				_, err = store.StoreBlock(ctx, b, big.NewInt(int64(100+i)))
				require.NoError(t, err)
			}

			connectA := []*chainhash.Hash{genesis.Hash()}
			for _, b := range branchA {
				connectA = append(connectA, b.Hash())
			}

			require.NoError(t, store.SetBestChain(ctx, nil, connectA))

			best, meta, err := store.GetBestBlockHeader(ctx)
			require.NoError(t, err)
			assert.Equal(t, branchA[2].Hash(), best.Hash())
			assert.True(t, meta.OnMainChain)

			atHeight, _, err := store.GetBlockByHeight(ctx, 2)
			require.NoError(t, err)
			assert.Equal(t, branchA[1].Hash(), atHeight.Hash())

			// switch to the shorter branch b, which has more work
			disconnect := []*chainhash.Hash{branchA[2].Hash(), branchA[1].Hash(), branchA[0].Hash()}
			connect := []*chainhash.Hash{branchB[0].Hash(), branchB[1].Hash()}
			require.NoError(t, store.SetBestChain(ctx, disconnect, connect))

			best, _, err = store.GetBestBlockHeader(ctx)
			require.NoError(t, err)
			assert.Equal(t, branchB[1].Hash(), best.Hash())

			atHeight, _, err = store.GetBlockByHeight(ctx, 1)
			require.NoError(t, err)
			assert.Equal(t, branchB[0].Hash(), atHeight.Hash())

			_, _, err = store.GetBlockByHeight(ctx, 3)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrBlockNotFound))

			// old branch is kept as history
			_, oldMeta, err := store.GetBlock(ctx, branchA[2].Hash())
			require.NoError(t, err)
			assert.False(t, oldMeta.OnMainChain)

			require.Error(t, store.SetBestChain(ctx, nil, nil))
			require.Error(t, store.SetBestChain(ctx, nil, []*chainhash.Hash{test.GenerateChain(branchB[1], 1, "x")[0].Hash()}))
		})
	}
}

func TestStoreBlockChainWorkRange(t *testing.T) {
	ctx := context.Background()

	stores := newStores(t)
	store := stores["sqlitememory"]

	tooBig := new(big.Int).Lsh(big.NewInt(1), 300)
	_, err := store.StoreBlock(ctx, test.Genesis(), tooBig)
	require.Error(t, err)
}
