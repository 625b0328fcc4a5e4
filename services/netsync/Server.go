// Package netsync keeps the local chain in step with the network. The SyncProcessor decides
// what to ask which peer, the NodeBlockProcessor validates what comes back and serves the
// requests of other peers, the BlockSyncService connects blocks to the chain and buffers
// orphans, and the MessageHandler runs one session per connected peer.
package netsync

import (
	"context"
	"net/http"

	"github.com/benbjohnson/clock"
	"github.com/dieguito9000/rskj/chaincfg"
	"github.com/dieguito9000/rskj/errors"
	"github.com/dieguito9000/rskj/model"
	"github.com/dieguito9000/rskj/services/blockchain"
	"github.com/dieguito9000/rskj/services/scoring"
	"github.com/dieguito9000/rskj/settings"
	"github.com/dieguito9000/rskj/ulogger"
	"github.com/dieguito9000/rskj/util/health"
	"golang.org/x/sync/errgroup"
)

// Endpoint is a transport that delivers inbound traffic to a Receiver.
type Endpoint interface {
	Transport
	SetReceiver(receiver Receiver)
}

type Server struct {
	logger               ulogger.Logger
	settings             *settings.Settings
	clock                clock.Clock
	endpoint             Endpoint
	blockchain           blockchain.ClientI
	peerScoring          *scoring.PeerScoringManager
	config               *SyncConfiguration
	blockNodeInformation *BlockNodeInformation
	blockSyncService     *BlockSyncService
	nodeBlockProcessor   *NodeBlockProcessor
	syncProcessor        *SyncProcessor
	messageHandler       *MessageHandler
}

// New wires the sync components in dependency order: block node information, sync
// configuration, block sync service, node block processor, sync processor and message
// handler. The scoring manager is shared with the rest of the node and built by the caller.
func New(logger ulogger.Logger, tSettings *settings.Settings, clk clock.Clock, endpoint Endpoint,
	chain blockchain.ClientI, peerScoring *scoring.PeerScoringManager) (*Server, error) {
	initPrometheusMetrics()

	blockNodeInformation, err := NewBlockNodeInformation(tSettings.Sync.BlockNodeInfoRetention)
	if err != nil {
		return nil, err
	}

	config, err := NewSyncConfigurationFromSettings(tSettings)
	if err != nil {
		return nil, err
	}

	chainParams := tSettings.ChainCfgParams
	if chainParams == nil {
		chainParams = &chaincfg.RegressionNetParams
	}

	blockSyncService := NewBlockSyncService(logger, config, chain)
	nodeBlockProcessor := NewNodeBlockProcessor(logger, config, chainParams, clk, chain, blockSyncService, blockNodeInformation)

	syncProcessor, err := NewSyncProcessor(logger, config, clk, endpoint, chain, peerScoring, blockNodeInformation, nodeBlockProcessor)
	if err != nil {
		return nil, err
	}

	messageHandler := NewMessageHandler(logger, config, endpoint, chain, peerScoring, nodeBlockProcessor, syncProcessor, blockNodeInformation)

	return &Server{
		logger:               logger,
		settings:             tSettings,
		clock:                clk,
		endpoint:             endpoint,
		blockchain:           chain,
		peerScoring:          peerScoring,
		config:               config,
		blockNodeInformation: blockNodeInformation,
		blockSyncService:     blockSyncService,
		nodeBlockProcessor:   nodeBlockProcessor,
		syncProcessor:        syncProcessor,
		messageHandler:       messageHandler,
	}, nil
}

func (s *Server) Health(ctx context.Context, checkLiveness bool) (int, string, error) {
	if checkLiveness {
		return http.StatusOK, "OK", nil
	}

	checks := []health.Check{
		{Name: "Blockchain", Check: func(ctx context.Context, _ bool) (int, string, error) {
			if _, err := s.blockchain.GetStatus(ctx); err != nil {
				return http.StatusServiceUnavailable, "chain status unavailable", err
			}

			return http.StatusOK, "OK", nil
		}},
		{Name: "SyncProcessor", Check: func(_ context.Context, _ bool) (int, string, error) {
			status := s.syncProcessor.GetStatus()
			if status.Stalled {
				return http.StatusServiceUnavailable, "sync stalled, no eligible peers", nil
			}

			return http.StatusOK, string(status.State), nil
		}},
	}

	return health.CheckAll(ctx, checkLiveness, checks)
}

// Init plugs the message handler into the transport; from then on peers can connect.
func (s *Server) Init(_ context.Context) error {
	if s.endpoint == nil {
		return errors.NewConfigurationError("netsync needs a transport endpoint")
	}

	s.endpoint.SetReceiver(s.messageHandler)

	return nil
}

// Start runs the sync processor and the message handler until ctx is done.
func (s *Server) Start(ctx context.Context, readyCh chan<- struct{}) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.syncProcessor.Start(gCtx)
	})

	g.Go(func() error {
		return s.messageHandler.Start(gCtx)
	})

	close(readyCh)

	return g.Wait()
}

func (s *Server) Stop(_ context.Context) error {
	s.blockSyncService.ClearOrphans()
	return nil
}

func (s *Server) SyncStatus() SyncStatus {
	return s.syncProcessor.GetStatus()
}

func (s *Server) Peers() []PeerInfo {
	return s.messageHandler.GetPeers()
}

// Reset abandons the current sync attempt.
func (s *Server) Reset(ctx context.Context, reason string) {
	s.syncProcessor.Reset(ctx, reason)
}

// AnnounceBlock relays a block produced by this node to its peers.
func (s *Server) AnnounceBlock(ctx context.Context, block *model.Block) {
	s.messageHandler.AnnounceBlock(ctx, block)
}

func (s *Server) OrphanCount() int {
	return s.blockSyncService.OrphanCount()
}

func (s *Server) Config() *SyncConfiguration {
	return s.config
}
