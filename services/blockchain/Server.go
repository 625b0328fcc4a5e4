package blockchain

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/dieguito9000/rskj/chaincfg"
	"github.com/dieguito9000/rskj/errors"
	"github.com/dieguito9000/rskj/model"
	blockchain_store "github.com/dieguito9000/rskj/stores/blockchain"
	"github.com/dieguito9000/rskj/ulogger"
)

const subscriberBufferSize = 100

type subscriber struct {
	source string
	ch     chan *Notification
}

// Blockchain connects blocks to the chain store and owns the best block pointer.
type Blockchain struct {
	logger      ulogger.Logger
	store       blockchain_store.Store
	chainParams *chaincfg.Params

	// connectMu serialises TryToConnect so a reorganisation is never interleaved with
	// another import.
	connectMu sync.Mutex

	subscribersMu sync.RWMutex
	subscribers   map[*subscriber]struct{}
}

// New returns a Blockchain over the store, storing the genesis block first when the store
// is empty.
func New(ctx context.Context, logger ulogger.Logger, store blockchain_store.Store, chainParams *chaincfg.Params) (*Blockchain, error) {
	initPrometheusMetrics()

	b := &Blockchain{
		logger:      logger,
		store:       store,
		chainParams: chainParams,
		subscribers: make(map[*subscriber]struct{}),
	}

	if err := b.initGenesis(ctx); err != nil {
		return nil, err
	}

	return b, nil
}

func (b *Blockchain) initGenesis(ctx context.Context) error {
	genesis := model.GenesisBlock(b.chainParams)

	_, bestMeta, err := b.store.GetBestBlockHeader(ctx)
	if err == nil {
		stored, _, err := b.store.GetBlockByHeight(ctx, 0)
		if err != nil {
			return errors.NewStorageError("could not read stored genesis block", err)
		}

		if !stored.Hash().IsEqual(genesis.Hash()) {
			return errors.NewConfigurationError("stored genesis %s does not match %s genesis %s", stored.Hash(), b.chainParams.Name, genesis.Hash())
		}

		prometheusBlockchainBestHeight.Set(float64(bestMeta.Height))
		b.logger.Infof("[Blockchain] resuming at height %d", bestMeta.Height)

		return nil
	}

	if !errors.Is(err, errors.ErrNotFound) {
		return errors.NewStorageError("could not read best block", err)
	}

	if _, err = b.store.StoreBlock(ctx, genesis, genesis.Header.Bits.CalculateWork()); err != nil {
		return errors.NewStorageError("could not store genesis block", err)
	}

	if err = b.store.SetBestChain(ctx, nil, []*chainhash.Hash{genesis.Hash()}); err != nil {
		return errors.NewStorageError("could not set genesis as best block", err)
	}

	prometheusBlockchainBestHeight.Set(0)
	b.logger.Infof("[Blockchain] stored %s genesis block %s", b.chainParams.Name, genesis.Hash())

	return nil
}

func (b *Blockchain) TryToConnect(ctx context.Context, block *model.Block) (ImportResult, error) {
	start := time.Now()

	b.connectMu.Lock()
	defer b.connectMu.Unlock()

	result, err := b.tryToConnect(ctx, block)

	prometheusBlockchainTryToConnect.Observe(float64(time.Since(start).Microseconds()) / 1_000_000)
	prometheusBlockchainImportResults.WithLabelValues(result.String()).Inc()

	return result, err
}

func (b *Blockchain) tryToConnect(ctx context.Context, block *model.Block) (ImportResult, error) {
	hash := block.Hash()

	exists, err := b.store.GetBlockExists(ctx, hash)
	if err != nil {
		return ImportUnknown, errors.NewStorageError("[TryToConnect][%s] could not check block existence", hash, err)
	}

	if exists {
		return b.resumeStored(ctx, block)
	}

	_, parentMeta, err := b.store.GetBlockHeader(ctx, block.ParentHash())
	if err != nil {
		if errors.Is(err, errors.ErrBlockNotFound) {
			return Orphan, nil
		}

		return ImportUnknown, errors.NewStorageError("[TryToConnect][%s] could not read parent %s", hash, block.ParentHash(), err)
	}

	if block.Number() != parentMeta.Height+1 {
		return Invalid, errors.NewBlockInvalidError("[TryToConnect][%s] block number %d does not follow parent number %d", hash, block.Number(), parentMeta.Height)
	}

	chainWork := new(big.Int).Add(parentMeta.ChainWork, block.Header.Bits.CalculateWork())

	bestHeader, bestMeta, err := b.store.GetBestBlockHeader(ctx)
	if err != nil {
		return ImportUnknown, errors.NewStorageError("[TryToConnect][%s] could not read best block", hash, err)
	}

	if _, err = b.store.StoreBlock(ctx, block, chainWork); err != nil {
		if errors.Is(err, errors.ErrBlockExists) {
			return Duplicate, nil
		}

		return ImportUnknown, errors.NewStorageError("[TryToConnect][%s] could not store block", hash, err)
	}

	return b.updateBest(ctx, block, chainWork, bestHeader, bestMeta)
}

// resumeStored handles a block that is already stored. A block left off the main chain with
// more work than the best block had its best chain update fail, so the update is redone.
func (b *Blockchain) resumeStored(ctx context.Context, block *model.Block) (ImportResult, error) {
	hash := block.Hash()

	_, meta, err := b.store.GetBlockHeader(ctx, hash)
	if err != nil {
		return ImportUnknown, errors.NewStorageError("[TryToConnect][%s] could not read stored block", hash, err)
	}

	if meta.OnMainChain {
		return Duplicate, nil
	}

	bestHeader, bestMeta, err := b.store.GetBestBlockHeader(ctx)
	if err != nil {
		return ImportUnknown, errors.NewStorageError("[TryToConnect][%s] could not read best block", hash, err)
	}

	if meta.ChainWork.Cmp(bestMeta.ChainWork) <= 0 {
		return Duplicate, nil
	}

	b.logger.Warnf("[TryToConnect][%s] stored block has more work than the best block, updating best chain", hash)

	result, err := b.updateBest(ctx, block, meta.ChainWork, bestHeader, bestMeta)
	if result == ImportedNotBest {
		return Duplicate, err
	}

	return result, err
}

// updateBest moves the best block to the stored block when its chain has more work.
func (b *Blockchain) updateBest(ctx context.Context, block *model.Block, chainWork *big.Int, bestHeader *model.BlockHeader, bestMeta *model.BlockHeaderMeta) (ImportResult, error) {
	hash := block.Hash()

	if block.ParentHash().IsEqual(bestHeader.Hash()) {
		if err := b.store.SetBestChain(ctx, nil, []*chainhash.Hash{hash}); err != nil {
			return ImportUnknown, errors.NewStorageError("[TryToConnect][%s] could not extend best chain", hash, err)
		}

		b.bestBlockChanged(NotificationBestBlock, hash, block.Number())

		return ImportedBest, nil
	}

	// equal work keeps the branch that was seen first
	if chainWork.Cmp(bestMeta.ChainWork) <= 0 {
		b.logger.Debugf("[TryToConnect][%s] stored on side branch at height %d", hash, block.Number())
		return ImportedNotBest, nil
	}

	if err := b.reorganize(ctx, block, bestMeta); err != nil {
		return ImportUnknown, err
	}

	b.bestBlockChanged(NotificationReorg, hash, block.Number())

	return ImportedBest, nil
}

// reorganize makes newTip the best block. It walks the new branch back to the first main
// chain ancestor, then swaps the main chain blocks above that ancestor for the new branch.
func (b *Blockchain) reorganize(ctx context.Context, newTip *model.Block, bestMeta *model.BlockHeaderMeta) error {
	connect := []*chainhash.Hash{newTip.Hash()}
	cursor := newTip.ParentHash()

	var ancestorHeight uint64

	for {
		header, meta, err := b.store.GetBlockHeader(ctx, cursor)
		if err != nil {
			return errors.NewStorageError("[reorganize][%s] could not read branch block %s", newTip.Hash(), cursor, err)
		}

		if meta.OnMainChain {
			ancestorHeight = meta.Height
			break
		}

		connect = append(connect, cursor)
		cursor = header.HashPrevBlock
	}

	for i, j := 0, len(connect)-1; i < j; i, j = i+1, j-1 {
		connect[i], connect[j] = connect[j], connect[i]
	}

	disconnect := make([]*chainhash.Hash, 0, bestMeta.Height-ancestorHeight)

	for height := bestMeta.Height; height > ancestorHeight; height-- {
		mainBlock, _, err := b.store.GetBlockByHeight(ctx, height)
		if err != nil {
			return errors.NewStorageError("[reorganize][%s] could not read main chain block at height %d", newTip.Hash(), height, err)
		}

		disconnect = append(disconnect, mainBlock.Hash())
	}

	if err := b.store.SetBestChain(ctx, disconnect, connect); err != nil {
		return errors.NewStorageError("[reorganize][%s] could not switch best chain", newTip.Hash(), err)
	}

	prometheusBlockchainReorgs.Inc()
	prometheusBlockchainReorgDepth.Observe(float64(len(disconnect)))

	b.logger.Warnf("[Blockchain] reorganized from height %d to %d, fork at %d, %d blocks disconnected, %d connected",
		bestMeta.Height, newTip.Number(), ancestorHeight, len(disconnect), len(connect))

	return nil
}

func (b *Blockchain) bestBlockChanged(notificationType NotificationType, hash *chainhash.Hash, number uint64) {
	prometheusBlockchainBestHeight.Set(float64(number))

	notification := &Notification{Type: notificationType, Hash: hash, Number: number}

	b.subscribersMu.RLock()
	defer b.subscribersMu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub.ch <- notification:
		default:
			b.logger.Warnf("[Blockchain] subscriber %s is not keeping up, dropping %s notification for %s", sub.source, notificationType, hash)
		}
	}
}

func (b *Blockchain) Subscribe(ctx context.Context, source string) <-chan *Notification {
	sub := &subscriber{
		source: source,
		ch:     make(chan *Notification, subscriberBufferSize),
	}

	b.subscribersMu.Lock()
	b.subscribers[sub] = struct{}{}
	total := len(b.subscribers)
	b.subscribersMu.Unlock()

	b.logger.Infof("[Blockchain] new subscription from %s (Total=%d)", source, total)

	go func() {
		<-ctx.Done()

		b.subscribersMu.Lock()
		delete(b.subscribers, sub)
		close(sub.ch)
		b.subscribersMu.Unlock()
	}()

	return sub.ch
}

func (b *Blockchain) GetBestBlock(ctx context.Context) (*model.Block, *model.BlockHeaderMeta, error) {
	header, _, err := b.store.GetBestBlockHeader(ctx)
	if err != nil {
		return nil, nil, err
	}

	return b.store.GetBlock(ctx, header.Hash())
}

func (b *Blockchain) GetBlock(ctx context.Context, blockHash *chainhash.Hash) (*model.Block, *model.BlockHeaderMeta, error) {
	return b.store.GetBlock(ctx, blockHash)
}

func (b *Blockchain) GetBlockByHeight(ctx context.Context, height uint64) (*model.Block, *model.BlockHeaderMeta, error) {
	return b.store.GetBlockByHeight(ctx, height)
}

func (b *Blockchain) HasBlock(ctx context.Context, blockHash *chainhash.Hash) (bool, error) {
	return b.store.GetBlockExists(ctx, blockHash)
}

func (b *Blockchain) GetStatus(ctx context.Context) (*Status, error) {
	header, meta, err := b.store.GetBestBlockHeader(ctx)
	if err != nil {
		return nil, err
	}

	return &Status{
		BestBlockHash:   header.Hash(),
		BestBlockNumber: meta.Height,
		TotalDifficulty: meta.ChainWork,
	}, nil
}
