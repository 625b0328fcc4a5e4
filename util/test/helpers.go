// Package test holds shared fixtures: regtest settings and chain builders.
package test

import (
	"fmt"
	"net/url"
	"time"

	"github.com/dieguito9000/rskj/chaincfg"
	"github.com/dieguito9000/rskj/model"
	"github.com/dieguito9000/rskj/settings"
)

// GenesisTime is the timestamp fixture chains start from.
var GenesisTime = time.Unix(int64(chaincfg.RegressionNetParams.GenesisTimestamp), 0)

func CreateBaseTestSettings() *settings.Settings {
	tSettings := settings.NewSettings()
	tSettings.ChainCfgParams = &chaincfg.RegressionNetParams
	tSettings.Network = "regtest"
	tSettings.BlockChain.StoreURL, _ = url.Parse("memory:///")
	tSettings.Status.Enabled = false

	tSettings.Sync.ExpectedPeers = 1
	tSettings.Sync.TimeoutWaitingPeers = 5 * time.Second
	tSettings.Sync.TimeoutWaitingRequest = 2 * time.Second
	tSettings.Sync.ExpirationTimePeerStatus = 10 * time.Minute
	tSettings.Sync.ChunkSize = 10
	tSettings.Sync.MaxSkeletonChunks = 4
	tSettings.Sync.MaxOrphanBlocks = 100
	tSettings.Sync.OrphanTTL = 10 * time.Minute
	tSettings.Sync.BlockNodeInfoRetention = 1000
	tSettings.Sync.SyncInterval = time.Second
	tSettings.Sync.PeerInboxSize = 64

	tSettings.Scoring.NumberOfNodes = 100
	tSettings.Scoring.Nodes = settings.PunishmentSettings{Duration: time.Minute, IncrementRate: 10}
	tSettings.Scoring.Addresses = settings.PunishmentSettings{Duration: time.Minute, IncrementRate: 10, MaximumDuration: time.Hour}

	return tSettings
}

// Genesis returns the regtest genesis block.
func Genesis() *model.Block {
	return model.GenesisBlock(&chaincfg.RegressionNetParams)
}

// GenerateChain mines n blocks on top of parent at the regtest difficulty. The salt is
// mixed into every block so two calls with different salts produce competing branches.
func GenerateChain(parent *model.Block, n int, salt string) []*model.Block {
	return GenerateChainWithBits(parent, n, salt, model.NBit(chaincfg.RegressionNetParams.PowLimitBits))
}

// GenerateChainWithBits is GenerateChain with an explicit target, used to build branches of
// different cumulative work with the same length.
func GenerateChainWithBits(parent *model.Block, n int, salt string, bits model.NBit) []*model.Block {
	blocks := make([]*model.Block, 0, n)
	prev := parent.Header

	for i := 0; i < n; i++ {
		timestamp := time.Unix(int64(prev.Timestamp), 0).Add(time.Second)
		tx := []byte(fmt.Sprintf("%s-%d-%d", salt, prev.Number+1, i))

		block := model.MineBlock(prev, bits, timestamp, [][]byte{tx})
		blocks = append(blocks, block)
		prev = block.Header
	}

	return blocks
}
