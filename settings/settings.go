// Package settings reads the node configuration once at startup. Values come from
// settings.conf / settings_local.conf through gocore, and every key can be overridden by an
// environment variable of the same name.
package settings

import (
	"net/url"
	"time"

	"github.com/dieguito9000/rskj/chaincfg"
)

type Settings struct {
	ClientName     string
	DataFolder     string
	LogLevel       string
	PrettyLogs     bool
	Network        string
	ChainCfgParams *chaincfg.Params
	BlockChain     BlockChainSettings
	Sync           SyncSettings
	Scoring        ScoringSettings
	Status         StatusSettings
	Simulation     SimulationSettings
}

type BlockChainSettings struct {
	StoreURL *url.URL
}

// SyncSettings holds the synchronization tunables. The gocore keys are the names the
// sync configuration has always been known by (expectedPeers, chunkSize, ...).
type SyncSettings struct {
	ExpectedPeers            int
	TimeoutWaitingPeers      time.Duration
	TimeoutWaitingRequest    time.Duration
	ExpirationTimePeerStatus time.Duration
	MaxSkeletonChunks        int
	ChunkSize                int
	MaxOrphanBlocks          int
	OrphanTTL                time.Duration
	BlockNodeInfoRetention   int
	SyncInterval             time.Duration
	PeerInboxSize            int
}

type PunishmentSettings struct {
	Duration        time.Duration
	IncrementRate   int
	MaximumDuration time.Duration
}

type ScoringSettings struct {
	NumberOfNodes int
	Nodes         PunishmentSettings
	Addresses     PunishmentSettings
	BannedFile    string
}

type StatusSettings struct {
	Enabled           bool
	HTTPListenAddress string
}

// SimulationSettings describe the in-memory peers started next to the local node.
type SimulationSettings struct {
	Peers         int
	InitialBlocks int
	BlockInterval time.Duration
	Timeout       time.Duration
}

func NewSettings() *Settings {
	network := getString("network", "regtest")

	params, err := chaincfg.GetChainParams(network)
	if err != nil {
		panic(err)
	}

	return &Settings{
		ClientName:     getString("clientName", "syncnode"),
		DataFolder:     getString("dataFolder", "data"),
		LogLevel:       getString("logLevel", "INFO"),
		PrettyLogs:     getBool("PRETTY_LOGS", true),
		Network:        network,
		ChainCfgParams: params,
		BlockChain: BlockChainSettings{
			StoreURL: getURL("blockchain_store", "sqlitememory:///blockchain"),
		},
		Sync: SyncSettings{
			ExpectedPeers:            getInt("expectedPeers", 5),
			TimeoutWaitingPeers:      getDuration("timeoutWaitingPeers", 60*time.Second),
			TimeoutWaitingRequest:    getDuration("timeoutWaitingRequest", 30*time.Second),
			ExpirationTimePeerStatus: getDuration("expirationTimePeerStatus", 10*time.Minute),
			MaxSkeletonChunks:        getInt("maxSkeletonChunks", 20),
			ChunkSize:                getInt("chunkSize", 192),
			MaxOrphanBlocks:          getInt("sync_maxOrphanBlocks", 1000),
			OrphanTTL:                getDuration("sync_orphanTTL", 10*time.Minute),
			BlockNodeInfoRetention:   getInt("sync_blockNodeInformationRetention", 1000),
			SyncInterval:             getDuration("sync_interval", 10*time.Second),
			PeerInboxSize:            getInt("sync_peerInboxSize", 256),
		},
		Scoring: ScoringSettings{
			NumberOfNodes: getInt("scoringNumberOfNodes", 100),
			Nodes: PunishmentSettings{
				Duration:        getDuration("scoringNodesPunishmentDuration", 10*time.Minute),
				IncrementRate:   getInt("scoringNodesPunishmentIncrement", 10),
				MaximumDuration: getDuration("scoringNodesPunishmentMaximumDuration", 0),
			},
			Addresses: PunishmentSettings{
				Duration:        getDuration("scoringAddressesPunishmentDuration", 10*time.Minute),
				IncrementRate:   getInt("scoringAddressesPunishmentIncrement", 10),
				MaximumDuration: getDuration("scoringAddressesPunishmentMaximumDuration", 7*24*time.Hour),
			},
			BannedFile: getString("scoring_bannedAddressesFile", ""),
		},
		Status: StatusSettings{
			Enabled:           getBool("status_enabled", true),
			HTTPListenAddress: getString("status_httpListenAddress", ":8095"),
		},
		Simulation: SimulationSettings{
			Peers:         getInt("sim_peers", 3),
			InitialBlocks: getInt("sim_initialBlocks", 500),
			BlockInterval: getDuration("sim_blockInterval", 5*time.Second),
			Timeout:       getDuration("sim_timeout", 2*time.Minute),
		},
	}
}
