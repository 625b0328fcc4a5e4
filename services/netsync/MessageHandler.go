package netsync

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dieguito9000/rskj/errors"
	"github.com/dieguito9000/rskj/model"
	"github.com/dieguito9000/rskj/services/blockchain"
	"github.com/dieguito9000/rskj/services/scoring"
	"github.com/dieguito9000/rskj/ulogger"
	"go.uber.org/atomic"
)

// PeerInfo describes a connected peer session.
type PeerInfo struct {
	Peer        model.PeerIdentity `json:"peer"`
	ConnectedAt time.Time          `json:"connected_at"`
	Received    uint64             `json:"received"`
	Dropped     uint64             `json:"dropped"`
	Punished    bool               `json:"punished"`
}

type peerSession struct {
	peer        model.PeerIdentity
	connectedAt time.Time
	inbox       chan Message
	cancel      context.CancelFunc
	done        chan struct{}
	received    *atomic.Uint64
	dropped     *atomic.Uint64
	running     *atomic.Bool
}

// MessageHandler is the receiver plugged into the transport. Every peer gets a session
// goroutine with a bounded inbox, so a slow or flooding peer never stalls the others.
// Requests are answered from the local chain, responses and statuses go to the
// SyncProcessor, announced blocks go to the NodeBlockProcessor.
type MessageHandler struct {
	logger             ulogger.Logger
	config             *SyncConfiguration
	transport          Transport
	blockchain         blockchain.ClientI
	peerScoring        *scoring.PeerScoringManager
	nodeBlockProcessor *NodeBlockProcessor
	syncProcessor      *SyncProcessor
	blockNodeInfo      *BlockNodeInformation

	mu       sync.RWMutex
	ctx      context.Context
	sessions map[string]*peerSession
}

func NewMessageHandler(logger ulogger.Logger, config *SyncConfiguration, transport Transport, chain blockchain.ClientI,
	peerScoring *scoring.PeerScoringManager, nodeBlockProcessor *NodeBlockProcessor, syncProcessor *SyncProcessor,
	blockNodeInfo *BlockNodeInformation) *MessageHandler {
	initPrometheusMetrics()

	return &MessageHandler{
		logger:             logger,
		config:             config,
		transport:          transport,
		blockchain:         chain,
		peerScoring:        peerScoring,
		nodeBlockProcessor: nodeBlockProcessor,
		syncProcessor:      syncProcessor,
		blockNodeInfo:      blockNodeInfo,
		ctx:                context.Background(),
		sessions:           make(map[string]*peerSession),
	}
}

// Start announces every best block change to the connected peers until ctx is done, then
// closes all sessions.
func (h *MessageHandler) Start(ctx context.Context) error {
	h.mu.Lock()
	h.ctx = ctx
	h.mu.Unlock()

	notifications := h.blockchain.Subscribe(ctx, "netsync")

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return nil

		case notification, ok := <-notifications:
			if !ok {
				h.closeAll()
				return nil
			}

			h.logger.Debugf("[MessageHandler] %s notification for %d %s", notification.Type, notification.Number, notification.Hash)
			h.broadcastStatus(ctx)
		}
	}
}

func (h *MessageHandler) closeAll() {
	h.mu.Lock()
	sessions := h.sessions
	h.sessions = make(map[string]*peerSession)
	h.mu.Unlock()

	for _, s := range sessions {
		s.cancel()
		<-s.done
	}

	prometheusNetsyncConnectedSessions.Set(0)
}

func (h *MessageHandler) PeerConnected(ctx context.Context, peer model.PeerIdentity) {
	h.mu.Lock()

	if _, ok := h.sessions[peer.Key()]; ok {
		h.mu.Unlock()
		h.logger.Warnf("[MessageHandler] peer %s already connected", peer)

		return
	}

	sessionCtx, cancel := context.WithCancel(h.ctx)

	s := &peerSession{
		peer:        peer,
		connectedAt: time.Now(),
		inbox:       make(chan Message, h.config.PeerInboxSize()),
		cancel:      cancel,
		done:        make(chan struct{}),
		received:    atomic.NewUint64(0),
		dropped:     atomic.NewUint64(0),
		running:     atomic.NewBool(true),
	}

	h.sessions[peer.Key()] = s
	prometheusNetsyncConnectedSessions.Set(float64(len(h.sessions)))

	h.mu.Unlock()

	go h.runSession(sessionCtx, s)

	h.syncProcessor.OnPeerConnected(ctx, peer)
	h.logger.Infof("[MessageHandler] peer %s connected", peer)

	h.sendStatus(ctx, peer)
}

func (h *MessageHandler) PeerDisconnected(ctx context.Context, peer model.PeerIdentity) {
	h.mu.Lock()
	s, ok := h.sessions[peer.Key()]
	delete(h.sessions, peer.Key())
	prometheusNetsyncConnectedSessions.Set(float64(len(h.sessions)))
	h.mu.Unlock()

	if !ok {
		return
	}

	s.cancel()
	<-s.done

	h.syncProcessor.OnPeerDisconnected(ctx, peer)
	h.logger.Infof("[MessageHandler] peer %s disconnected after %d messages", peer, s.received.Load())
}

// HandleMessage queues msg in the session of peer. Messages overflowing the inbox are
// dropped, as is everything but Status from punished peers.
func (h *MessageHandler) HandleMessage(_ context.Context, peer model.PeerIdentity, msg Message) {
	h.mu.RLock()
	s, ok := h.sessions[peer.Key()]
	h.mu.RUnlock()

	if !ok || !s.running.Load() {
		prometheusNetsyncMessagesDropped.WithLabelValues("no_session").Inc()
		return
	}

	if msg.Type() != MessageStatus && h.peerScoring.IsPunished(peer) {
		s.dropped.Inc()
		prometheusNetsyncMessagesDropped.WithLabelValues("punished").Inc()

		return
	}

	select {
	case s.inbox <- msg:
	default:
		s.dropped.Inc()
		prometheusNetsyncMessagesDropped.WithLabelValues("inbox_full").Inc()
		h.logger.Warnf("[MessageHandler] inbox of %s full, dropping %s", peer, msg.Type())
	}
}

func (h *MessageHandler) runSession(ctx context.Context, s *peerSession) {
	defer close(s.done)
	defer s.running.Store(false)

	for {
		select {
		case <-ctx.Done():
			return

		case msg := <-s.inbox:
			s.received.Inc()
			prometheusNetsyncMessagesReceived.WithLabelValues(msg.Type().String()).Inc()

			h.dispatch(ctx, s.peer, msg)
		}
	}
}

func (h *MessageHandler) dispatch(ctx context.Context, peer model.PeerIdentity, msg Message) {
	switch m := msg.(type) {
	case *Status, *BlockHeaders, *BlockBodies, *Skeleton, *Block:
		h.syncProcessor.OnMessage(ctx, peer, msg)

	case *NewBlock:
		h.handleNewBlock(ctx, peer, m)

	case *GetStatus:
		h.sendStatus(ctx, peer)

	case *GetBlockHeaders:
		response, err := h.nodeBlockProcessor.ProcessGetBlockHeaders(ctx, m)
		h.reply(ctx, peer, msg, response, err)

	case *GetBlockBodies:
		response, err := h.nodeBlockProcessor.ProcessGetBlockBodies(ctx, m)
		h.reply(ctx, peer, msg, response, err)

	case *GetSkeleton:
		response, err := h.nodeBlockProcessor.ProcessGetSkeleton(ctx, m)
		h.reply(ctx, peer, msg, response, err)

	case *GetBlock:
		response, err := h.nodeBlockProcessor.ProcessGetBlock(ctx, m)
		h.reply(ctx, peer, msg, response, err)

	default:
		h.logger.Warnf("[MessageHandler] unknown message %s from %s", msg.Type(), peer)
		h.peerScoring.RecordEvent(peer, scoring.EventInvalidMessage)
	}
}

// reply sends the answer to a request. Malformed requests are punished; requests for
// blocks we do not have are left unanswered and the peer times out.
func (h *MessageHandler) reply(ctx context.Context, peer model.PeerIdentity, request Message, response Message, err error) {
	if err != nil {
		if errors.Is(err, errors.ErrPeerProtocolViolation) {
			h.logger.Warnf("[MessageHandler] invalid %s from %s: %v", request.Type(), peer, err)
			h.peerScoring.RecordEvent(peer, scoring.EventInvalidMessage)

			return
		}

		h.logger.Debugf("[MessageHandler] not answering %s from %s: %v", request.Type(), peer, err)

		return
	}

	if err = h.transport.SendMessage(ctx, peer, response); err != nil {
		h.logger.Warnf("[MessageHandler] could not send %s to %s: %v", response.Type(), peer, err)
	}
}

func (h *MessageHandler) handleNewBlock(ctx context.Context, peer model.PeerIdentity, m *NewBlock) {
	result := h.nodeBlockProcessor.ProcessBlock(ctx, peer, m.Block)

	switch result.Status {
	case AcceptedBest:
		h.peerScoring.RecordEvent(peer, scoring.EventValidBlock)
		h.relay(ctx, peer, m.Block)

	case AcceptedSide:
		h.peerScoring.RecordEvent(peer, scoring.EventValidBlock)

	case Orphan:
		h.syncProcessor.RequestBlock(ctx, peer, result.MissingParent)

	case Invalid:
		h.logger.Warnf("[MessageHandler] invalid new block from %s: %v", peer, result.Err)
		h.peerScoring.RecordEvent(peer, scoring.EventInvalidBlock)

	case Failed:
		h.logger.Errorf("[MessageHandler] could not process new block from %s: %v", peer, result.Err)
	}
}

// AnnounceBlock sends a locally produced block to every connected peer.
func (h *MessageHandler) AnnounceBlock(ctx context.Context, block *model.Block) {
	h.relay(ctx, model.PeerIdentity{}, block)
}

// relay forwards block to the peers not known to have it, except from.
func (h *MessageHandler) relay(ctx context.Context, from model.PeerIdentity, block *model.Block) {
	hash := block.Hash()

	for _, peer := range h.connectedPeers() {
		if peer.Key() == from.Key() || h.blockNodeInfo.IsBlockKnownByPeer(hash, peer) {
			continue
		}

		if err := h.transport.SendMessage(ctx, peer, &NewBlock{Block: block}); err != nil {
			h.logger.Warnf("[MessageHandler] could not relay %s to %s: %v", hash, peer, err)
			continue
		}

		h.blockNodeInfo.RecordBlockKnownByPeer(hash, peer)
	}
}

func (h *MessageHandler) sendStatus(ctx context.Context, peer model.PeerIdentity) {
	status, err := h.nodeBlockProcessor.ProcessStatusRequest(ctx)
	if err != nil {
		h.logger.Errorf("[MessageHandler] could not build status: %v", err)
		return
	}

	if err = h.transport.SendMessage(ctx, peer, status); err != nil {
		h.logger.Warnf("[MessageHandler] could not send status to %s: %v", peer, err)
	}
}

func (h *MessageHandler) broadcastStatus(ctx context.Context) {
	for _, peer := range h.connectedPeers() {
		h.sendStatus(ctx, peer)
	}
}

func (h *MessageHandler) connectedPeers() []model.PeerIdentity {
	h.mu.RLock()
	defer h.mu.RUnlock()

	peers := make([]model.PeerIdentity, 0, len(h.sessions))
	for _, s := range h.sessions {
		peers = append(peers, s.peer)
	}

	sort.Slice(peers, func(i, j int) bool { return peers[i].NodeID < peers[j].NodeID })

	return peers
}

// GetPeers lists the connected peers ordered by node id.
func (h *MessageHandler) GetPeers() []PeerInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()

	infos := make([]PeerInfo, 0, len(h.sessions))

	for _, s := range h.sessions {
		infos = append(infos, PeerInfo{
			Peer:        s.peer,
			ConnectedAt: s.connectedAt,
			Received:    s.received.Load(),
			Dropped:     s.dropped.Load(),
			Punished:    h.peerScoring.IsPunished(s.peer),
		})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Peer.NodeID < infos[j].Peer.NodeID })

	return infos
}
