package daemon

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dieguito9000/rskj/chaincfg"
	"github.com/dieguito9000/rskj/errors"
	"github.com/dieguito9000/rskj/model"
	"github.com/dieguito9000/rskj/services/blockchain"
	"github.com/dieguito9000/rskj/services/netsync"
	"github.com/dieguito9000/rskj/services/scoring"
	"github.com/dieguito9000/rskj/settings"
	blockchain_store "github.com/dieguito9000/rskj/stores/blockchain"
	"github.com/dieguito9000/rskj/ulogger"
)

// Node is one sync node: its chain store, the blockchain on top of it, the peer scoring
// manager and the netsync server.
type Node struct {
	Identity    model.PeerIdentity
	ChainParams *chaincfg.Params
	Store       blockchain_store.Store
	Chain       *blockchain.Blockchain
	Scoring     *scoring.PeerScoringManager
	Sync        *netsync.Server
}

// NewNode builds a node in dependency order: chain store, blockchain, peer scoring (with
// the banned addresses file when configured) and the netsync server.
func NewNode(ctx context.Context, createLogger func(string) ulogger.Logger, tSettings *settings.Settings, clk clock.Clock,
	identity model.PeerIdentity, endpoint netsync.Endpoint, storeURL *url.URL) (*Node, error) {
	chainParams := tSettings.ChainCfgParams
	if chainParams == nil {
		return nil, errors.NewConfigurationError("[%s] no chain parameters configured", identity.NodeID)
	}

	store, err := blockchain_store.NewStore(createLogger("bcst"), storeURL, tSettings)
	if err != nil {
		return nil, err
	}

	chain, err := blockchain.New(ctx, createLogger("bchn"), store, chainParams)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	peerScoring, err := scoring.NewPeerScoringManagerFromSettings(createLogger("scor"), tSettings, scoring.WithClock(clk))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	if tSettings.Scoring.BannedFile != "" {
		if err = loadBannedAddresses(createLogger("scor"), peerScoring, tSettings.Scoring.BannedFile); err != nil {
			_ = store.Close()
			return nil, err
		}
	}

	syncServer, err := netsync.New(createLogger("sync"), tSettings, clk, endpoint, chain, peerScoring)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	return &Node{
		Identity:    identity,
		ChainParams: chainParams,
		Store:       store,
		Chain:       chain,
		Scoring:     peerScoring,
		Sync:        syncServer,
	}, nil
}

func loadBannedAddresses(logger ulogger.Logger, peerScoring *scoring.PeerScoringManager, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.NewConfigurationError("could not open banned addresses file %s", path, err)
	}

	defer f.Close()

	count, err := peerScoring.LoadBannedAddresses(f)
	if err != nil {
		return errors.NewConfigurationError("could not load banned addresses from %s", path, err)
	}

	logger.Infof("[Node] loaded %d banned addresses from %s", count, path)

	return nil
}

func (n *Node) BestStatus(ctx context.Context) (*blockchain.Status, error) {
	return n.Chain.GetStatus(ctx)
}

// MineBlocks extends the best chain with count blocks at the network's minimum difficulty.
// Each block is stamped a second after its parent, or at now when that is later; a zero
// now keeps the one second spacing.
func (n *Node) MineBlocks(ctx context.Context, count int, now time.Time) ([]*model.Block, error) {
	best, _, err := n.Chain.GetBestBlock(ctx)
	if err != nil {
		return nil, err
	}

	blocks := make([]*model.Block, 0, count)
	parent := best.Header

	for i := 0; i < count; i++ {
		timestamp := time.Unix(int64(parent.Timestamp), 0).Add(time.Second)
		if timestamp.Before(now) {
			timestamp = now
		}

		tx := []byte(fmt.Sprintf("%s-%d-%d", n.Identity.NodeID, parent.Number+1, timestamp.UnixNano()))
		block := model.MineBlock(parent, model.NBit(n.ChainParams.PowLimitBits), timestamp, [][]byte{tx})

		result, err := n.Chain.TryToConnect(ctx, block)
		if err != nil {
			return blocks, err
		}

		if result != blockchain.ImportedBest {
			return blocks, errors.NewProcessingError("[%s] mined block %s was not accepted as best: %s", n.Identity.NodeID, block.Hash(), result)
		}

		blocks = append(blocks, block)
		parent = block.Header
	}

	return blocks, nil
}

func (n *Node) Close() error {
	return n.Store.Close()
}
