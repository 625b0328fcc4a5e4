package netsync

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/dieguito9000/rskj/model"
	"github.com/dieguito9000/rskj/services/blockchain"
	"github.com/dieguito9000/rskj/services/scoring"
	"github.com/dieguito9000/rskj/ulogger"
	"github.com/google/uuid"
	"github.com/looplab/fsm"
)

const (
	syncEventBufferSize = 1024
	minTickInterval     = 10 * time.Millisecond
)

type peerConnectedEvent struct{ peer model.PeerIdentity }

type peerDisconnectedEvent struct{ peer model.PeerIdentity }

type peerPunishedEvent struct{ peer model.PeerIdentity }

type messageEvent struct {
	peer model.PeerIdentity
	msg  Message
}

type requestBlockEvent struct {
	peer model.PeerIdentity
	hash *chainhash.Hash
}

type resetEvent struct{ reason string }

// SyncProcessor drives block synchronization. A single goroutine owns the state machine and
// every field below the events channel; the public methods only queue events for it.
type SyncProcessor struct {
	logger               ulogger.Logger
	config               *SyncConfiguration
	clock                clock.Clock
	transport            Transport
	blockchain           blockchain.ClientI
	peerScoring          *scoring.PeerScoringManager
	blockNodeInformation *BlockNodeInformation
	nodeBlockProcessor   *NodeBlockProcessor
	fsm                  *fsm.FSM
	events               chan interface{}

	peers         map[string]*peerState
	pending       map[uint64]*pendingRequest
	cancelled     map[uint64]time.Time
	nextRequestID uint64
	attempt       *syncAttempt
	waitingSince  time.Time
	stalled       bool
	nextSyncCheck time.Time

	statusMu sync.RWMutex
	status   SyncStatus
}

func NewSyncProcessor(logger ulogger.Logger, config *SyncConfiguration, clk clock.Clock, transport Transport, chain blockchain.ClientI,
	peerScoring *scoring.PeerScoringManager, blockNodeInformation *BlockNodeInformation, nodeBlockProcessor *NodeBlockProcessor) (*SyncProcessor, error) {
	initPrometheusMetrics()

	sp := &SyncProcessor{
		logger:               logger,
		config:               config,
		clock:                clk,
		transport:            transport,
		blockchain:           chain,
		peerScoring:          peerScoring,
		blockNodeInformation: blockNodeInformation,
		nodeBlockProcessor:   nodeBlockProcessor,
		events:               make(chan interface{}, syncEventBufferSize),
		peers:                make(map[string]*peerState),
		pending:              make(map[uint64]*pendingRequest),
		cancelled:            make(map[uint64]time.Time),
		nextSyncCheck:        clk.Now(),
	}

	sp.fsm = newSyncFSM(sp.onStateChange)

	if err := peerScoring.SetPunishmentHandler(sp); err != nil {
		return nil, err
	}

	for _, state := range allSyncStates {
		prometheusNetsyncState.WithLabelValues(string(state)).Set(0)
	}

	prometheusNetsyncState.WithLabelValues(string(StateIdle)).Set(1)

	sp.publishStatus()

	return sp, nil
}

func (sp *SyncProcessor) onStateChange(from, to SyncState) {
	prometheusNetsyncState.WithLabelValues(string(from)).Set(0)
	prometheusNetsyncState.WithLabelValues(string(to)).Set(1)

	sp.logger.Debugf("[SyncProcessor] %s -> %s", from, to)
}

func (sp *SyncProcessor) State() SyncState {
	return SyncState(sp.fsm.Current())
}

// GetStatus returns the snapshot published after the last handled event.
func (sp *SyncProcessor) GetStatus() SyncStatus {
	sp.statusMu.RLock()
	defer sp.statusMu.RUnlock()

	return sp.status
}

func (sp *SyncProcessor) OnPeerConnected(ctx context.Context, peer model.PeerIdentity) {
	sp.enqueue(ctx, peerConnectedEvent{peer: peer})
}

func (sp *SyncProcessor) OnPeerDisconnected(ctx context.Context, peer model.PeerIdentity) {
	sp.enqueue(ctx, peerDisconnectedEvent{peer: peer})
}

// OnMessage queues a Status or a response message received from peer.
func (sp *SyncProcessor) OnMessage(ctx context.Context, peer model.PeerIdentity, msg Message) {
	sp.enqueue(ctx, messageEvent{peer: peer, msg: msg})
}

// RequestBlock asks peer for a single block, used to fetch the missing ancestor of an orphan.
func (sp *SyncProcessor) RequestBlock(ctx context.Context, peer model.PeerIdentity, hash *chainhash.Hash) {
	sp.enqueue(ctx, requestBlockEvent{peer: peer, hash: hash})
}

// Reset discards the current sync attempt and its outstanding requests.
func (sp *SyncProcessor) Reset(ctx context.Context, reason string) {
	sp.enqueue(ctx, resetEvent{reason: reason})
}

// OnPeerPunished is called by the scoring manager, possibly from the processor goroutine
// itself, so it never blocks.
func (sp *SyncProcessor) OnPeerPunished(peer model.PeerIdentity, _ time.Time, _ scoring.EventType) {
	select {
	case sp.events <- peerPunishedEvent{peer: peer}:
	default:
		sp.logger.Warnf("[SyncProcessor] event queue full, punishment of %s handled on next timeout", peer)
	}
}

func (sp *SyncProcessor) enqueue(ctx context.Context, ev interface{}) {
	select {
	case sp.events <- ev:
	case <-ctx.Done():
	}
}

func (sp *SyncProcessor) tickInterval() time.Duration {
	interval := sp.config.TimeoutWaitingRequest()

	if sp.config.TimeoutWaitingPeers() < interval {
		interval = sp.config.TimeoutWaitingPeers()
	}

	if sp.config.SyncInterval() < interval {
		interval = sp.config.SyncInterval()
	}

	interval /= 4
	if interval < minTickInterval {
		interval = minTickInterval
	}

	return interval
}

// Start runs the processor until ctx is done.
func (sp *SyncProcessor) Start(ctx context.Context) error {
	ticker := sp.clock.Ticker(sp.tickInterval())
	defer ticker.Stop()

	sp.logger.Infof("[SyncProcessor] started, expecting %d peers", sp.config.ExpectedPeers())

	for {
		select {
		case <-ctx.Done():
			sp.reset(context.Background(), "shutdown")
			sp.logger.Infof("[SyncProcessor] stopped")

			return nil

		case ev := <-sp.events:
			sp.handleEvent(ctx, ev)

		case <-ticker.C:
			sp.tick(ctx)
		}
	}
}

func (sp *SyncProcessor) handleEvent(ctx context.Context, ev interface{}) {
	switch e := ev.(type) {
	case peerConnectedEvent:
		sp.handlePeerConnected(e.peer)
	case peerDisconnectedEvent:
		sp.handlePeerDisconnected(ctx, e.peer)
	case peerPunishedEvent:
		sp.handlePeerPunished(ctx, e.peer)
	case messageEvent:
		sp.handleMessage(ctx, e.peer, e.msg)
	case requestBlockEvent:
		sp.requestBlock(ctx, e.peer, e.hash, "", 1)
	case resetEvent:
		sp.reset(ctx, e.reason)
	default:
		sp.logger.Errorf("[SyncProcessor] unknown event %T", ev)
	}

	sp.publishStatus()
}

// tick handles everything driven by the passage of time: request deadlines, peer status
// expiry, the waiting-peers timeout and the periodic sync trigger.
func (sp *SyncProcessor) tick(ctx context.Context) {
	now := sp.clock.Now()

	for _, ps := range sp.peers {
		if ps.status != nil && now.Sub(ps.statusAt) >= sp.config.ExpirationTimePeerStatus() {
			sp.logger.Debugf("[SyncProcessor] status of %s expired", ps.peer)
			ps.status = nil
		}
	}

	sp.refreshStatuses(ctx, now)

	for id, at := range sp.cancelled {
		if now.Sub(at) > 2*sp.config.TimeoutWaitingRequest() {
			delete(sp.cancelled, id)
		}
	}

	expired := make([]*pendingRequest, 0)

	for _, req := range sp.pending {
		if !now.Before(req.Deadline) {
			expired = append(expired, req)
		}
	}

	sort.Slice(expired, func(i, j int) bool { return expired[i].ID < expired[j].ID })

	for _, req := range expired {
		if _, ok := sp.pending[req.ID]; !ok {
			continue
		}

		sp.logger.Warnf("[SyncProcessor] %s request %d to %s timed out", req.Type, req.ID, req.Peer)
		prometheusNetsyncRequestTimeouts.WithLabelValues(req.Type.String()).Inc()

		sp.removePending(req, now)
		sp.peerScoring.RecordEvent(req.Peer, scoring.EventTimeoutMessage)
		sp.handleRequestFailure(ctx, req)
	}

	switch sp.State() {
	case StateIdle:
		if !now.Before(sp.nextSyncCheck) {
			sp.startSync(ctx, "periodic check")
		}
	case StateWaitingPeers:
		sp.evaluateWaitingPeers(ctx)
	case StateRequestingBlocks:
		sp.dispatchChunks(ctx)
	}

	sp.publishStatus()
}

func (sp *SyncProcessor) transition(ctx context.Context, event string) {
	if !sp.fsm.Can(event) {
		return
	}

	if err := sp.fsm.Event(ctx, event); err != nil {
		sp.logger.Errorf("[SyncProcessor] transition %s from %s failed: %v", event, sp.fsm.Current(), err)
	}
}

func (sp *SyncProcessor) handlePeerConnected(peer model.PeerIdentity) {
	if _, ok := sp.peers[peer.Key()]; ok {
		return
	}

	sp.peers[peer.Key()] = &peerState{peer: peer}
	sp.logger.Debugf("[SyncProcessor] peer %s connected", peer)
}

// handlePeerDisconnected forgets the peer and hands its outstanding requests to others. A
// peer that leaves with outstanding requests is scored as if they had timed out.
func (sp *SyncProcessor) handlePeerDisconnected(ctx context.Context, peer model.PeerIdentity) {
	delete(sp.peers, peer.Key())
	sp.blockNodeInformation.ForgetPeer(peer)

	requests := sp.pendingOf(peer)
	if len(requests) == 0 {
		return
	}

	now := sp.clock.Now()

	for _, req := range requests {
		sp.removePending(req, now)
	}

	sp.logger.Infof("[SyncProcessor] peer %s disconnected with %d outstanding requests", peer, len(requests))
	sp.peerScoring.RecordEvent(peer, scoring.EventTimeoutMessage)

	for _, req := range requests {
		sp.handleRequestFailure(ctx, req)
	}
}

func (sp *SyncProcessor) handlePeerPunished(ctx context.Context, peer model.PeerIdentity) {
	requests := sp.pendingOf(peer)
	now := sp.clock.Now()

	for _, req := range requests {
		sp.removePending(req, now)
	}

	for _, req := range requests {
		sp.handleRequestFailure(ctx, req)
	}
}

func (sp *SyncProcessor) pendingOf(peer model.PeerIdentity) []*pendingRequest {
	requests := make([]*pendingRequest, 0)

	for _, req := range sp.pending {
		if req.Peer.Key() == peer.Key() {
			requests = append(requests, req)
		}
	}

	sort.Slice(requests, func(i, j int) bool { return requests[i].ID < requests[j].ID })

	return requests
}

func (sp *SyncProcessor) removePending(req *pendingRequest, now time.Time) {
	delete(sp.pending, req.ID)
	sp.cancelled[req.ID] = now
	prometheusNetsyncPendingRequests.Set(float64(len(sp.pending)))
}

// handleRequestFailure retries a request that will not be answered: timed out, sent to a
// peer that left or got punished, or answered with garbage.
func (sp *SyncProcessor) handleRequestFailure(ctx context.Context, req *pendingRequest) {
	if req.attemptID != "" && (sp.attempt == nil || sp.attempt.id != req.attemptID) {
		return
	}

	switch req.Type {
	case MessageGetSkeleton:
		if sp.State() == StateRequestingSkeleton {
			sp.requestSkeleton(ctx)
		}

	case MessageGetBlockHeaders, MessageGetBlockBodies:
		sp.chunkFailed(ctx, req.chunk, req.Peer)

	case MessageGetBlock:
		if next, ok := sp.nextBlockSource(req.Peer); ok {
			sp.requestBlock(ctx, next, req.hash, req.attemptID, req.depth)
		} else {
			sp.logger.Warnf("[SyncProcessor] no peer left to ask for block %s", req.hash)
		}

		sp.dispatchChunks(ctx)
		sp.maybeComplete(ctx)
	}
}

// nextBlockSource picks a peer other than failed to ask for a single block.
func (sp *SyncProcessor) nextBlockSource(failed model.PeerIdentity) (model.PeerIdentity, bool) {
	candidates := make([]model.PeerIdentity, 0, len(sp.peers))

	for key, ps := range sp.peers {
		if key != failed.Key() && ps.status != nil {
			candidates = append(candidates, ps.peer)
		}
	}

	ranked := sp.rankPeers(candidates)
	if len(ranked) == 0 {
		return model.PeerIdentity{}, false
	}

	return ranked[0], true
}

func (sp *SyncProcessor) handleMessage(ctx context.Context, peer model.PeerIdentity, msg Message) {
	if status, ok := msg.(*Status); ok {
		sp.handleStatus(ctx, peer, status)
		return
	}

	response, ok := msg.(Response)
	if !ok {
		sp.logger.Warnf("[SyncProcessor] ignoring %s from %s", msg.Type(), peer)
		return
	}

	req := sp.matchResponse(peer, response)
	if req == nil {
		return
	}

	switch m := msg.(type) {
	case *Skeleton:
		sp.handleSkeleton(ctx, req, m)
	case *BlockHeaders:
		sp.handleBlockHeaders(ctx, req, m)
	case *BlockBodies:
		sp.handleBlockBodies(ctx, req, m)
	case *Block:
		sp.handleBlock(ctx, req, m)
	}
}

// matchResponse pops the outstanding request a response answers. Responses matching no
// request are punished, unless they answer a request that was already given up on.
func (sp *SyncProcessor) matchResponse(peer model.PeerIdentity, response Response) *pendingRequest {
	id := response.GetRequestID()

	req, ok := sp.pending[id]
	if !ok || req.Peer.Key() != peer.Key() || req.Type != responseTo[response.Type()] {
		if _, late := sp.cancelled[id]; late && !ok {
			sp.logger.Debugf("[SyncProcessor] ignoring late %s %d from %s", response.Type(), id, peer)
			return nil
		}

		sp.logger.Warnf("[SyncProcessor] unexpected %s %d from %s", response.Type(), id, peer)
		prometheusNetsyncUnexpected.WithLabelValues(response.Type().String()).Inc()
		sp.peerScoring.RecordEvent(peer, scoring.EventUnexpectedMessage)

		return nil
	}

	delete(sp.pending, id)
	prometheusNetsyncPendingRequests.Set(float64(len(sp.pending)))

	return req
}

func (sp *SyncProcessor) handleStatus(ctx context.Context, peer model.PeerIdentity, status *Status) {
	if status.BestBlockHash == nil || status.TotalDifficulty == nil {
		sp.peerScoring.RecordEvent(peer, scoring.EventInvalidMessage)
		return
	}

	ps, ok := sp.peers[peer.Key()]
	if !ok {
		ps = &peerState{peer: peer}
		sp.peers[peer.Key()] = ps
	}

	ps.peer = peer
	ps.status = status
	ps.statusAt = sp.clock.Now()

	sp.blockNodeInformation.RecordBlockKnownByPeer(status.BestBlockHash, peer)

	switch sp.State() {
	case StateIdle:
		local, err := sp.blockchain.GetStatus(ctx)
		if err != nil {
			sp.logger.Errorf("[SyncProcessor] could not read local status: %v", err)
			return
		}

		if status.TotalDifficulty.Cmp(local.TotalDifficulty) > 0 {
			sp.startSync(ctx, "peer "+peer.String()+" has a better chain")
		}

	case StateWaitingPeers:
		sp.evaluateWaitingPeers(ctx)

	case StateRequestingBlocks:
		sp.dispatchChunks(ctx)
	}
}

// refreshStatuses asks unpunished peers for their Status once it is missing or past half
// its lifetime, at most once per request timeout.
func (sp *SyncProcessor) refreshStatuses(ctx context.Context, now time.Time) {
	for _, ps := range sp.sortedPeers() {
		if ps.status != nil && now.Sub(ps.statusAt) < sp.config.ExpirationTimePeerStatus()/2 {
			continue
		}

		if !ps.statusRequestedAt.IsZero() && now.Sub(ps.statusRequestedAt) < sp.config.TimeoutWaitingRequest() {
			continue
		}

		if sp.peerScoring.IsPunished(ps.peer) {
			continue
		}

		ps.statusRequestedAt = now

		if err := sp.transport.SendMessage(ctx, ps.peer, &GetStatus{}); err != nil {
			sp.logger.Warnf("[SyncProcessor] could not request status from %s: %v", ps.peer, err)
		}
	}
}

func (sp *SyncProcessor) sortedPeers() []*peerState {
	peers := make([]*peerState, 0, len(sp.peers))
	for _, ps := range sp.peers {
		peers = append(peers, ps)
	}

	sort.Slice(peers, func(i, j int) bool { return peers[i].peer.NodeID < peers[j].peer.NodeID })

	return peers
}

func (sp *SyncProcessor) startSync(ctx context.Context, reason string) {
	now := sp.clock.Now()

	sp.nextSyncCheck = now.Add(sp.config.SyncInterval())
	sp.waitingSince = now
	sp.stalled = false

	sp.logger.Debugf("[SyncProcessor] starting sync: %s", reason)
	sp.transition(ctx, eventWaitPeers)
	sp.evaluateWaitingPeers(ctx)
}

// eligiblePeers returns the unpunished peers with a fresh status, ordered by node id.
func (sp *SyncProcessor) eligiblePeers(now time.Time) []model.PeerIdentity {
	peers := make([]model.PeerIdentity, 0, len(sp.peers))

	for _, ps := range sp.peers {
		if ps.status == nil || now.Sub(ps.statusAt) >= sp.config.ExpirationTimePeerStatus() {
			continue
		}

		if sp.peerScoring.IsPunished(ps.peer) {
			continue
		}

		peers = append(peers, ps.peer)
	}

	sort.Slice(peers, func(i, j int) bool { return peers[i].NodeID < peers[j].NodeID })

	return peers
}

func (sp *SyncProcessor) evaluateWaitingPeers(ctx context.Context) {
	now := sp.clock.Now()
	eligible := sp.eligiblePeers(now)

	if len(eligible) >= sp.config.ExpectedPeers() {
		sp.beginSkeletonPhase(ctx)
		return
	}

	if now.Sub(sp.waitingSince) < sp.config.TimeoutWaitingPeers() {
		return
	}

	if len(eligible) > 0 {
		sp.logger.Warnf("[SyncProcessor] timed out after %s waiting for %d peers, continuing with %d",
			sp.config.TimeoutWaitingPeers(), sp.config.ExpectedPeers(), len(eligible))
		sp.beginSkeletonPhase(ctx)

		return
	}

	if !sp.stalled {
		sp.stalled = true
		sp.logger.Warnf("[SyncProcessor] no eligible peers after %s, sync stalled", sp.config.TimeoutWaitingPeers())
	}
}

func (sp *SyncProcessor) beginSkeletonPhase(ctx context.Context) {
	local, err := sp.blockchain.GetStatus(ctx)
	if err != nil {
		sp.logger.Errorf("[SyncProcessor] could not read local status: %v", err)
		sp.reset(ctx, "local status unavailable")

		return
	}

	now := sp.clock.Now()
	sp.stalled = false

	better := make([]model.PeerIdentity, 0)

	for _, peer := range sp.eligiblePeers(now) {
		if sp.peers[peer.Key()].status.TotalDifficulty.Cmp(local.TotalDifficulty) > 0 {
			better = append(better, peer)
		}
	}

	sp.attempt = newSyncAttempt(uuid.New().String(), now, local, sp.rankPeers(better))
	sp.transition(ctx, eventRequestSkeleton)

	if len(sp.attempt.skeletonCandidates) == 0 {
		sp.completeAttempt(ctx)
		return
	}

	sp.logger.Infof("[SyncProcessor][%s] sync attempt started at %d with %d candidate peers", sp.attempt.id, local.BestBlockNumber, len(better))

	sp.requestSkeleton(ctx)
}

// requestSkeleton asks the next skeleton candidate. When none is left the attempt falls
// back to waiting for peers.
func (sp *SyncProcessor) requestSkeleton(ctx context.Context) {
	attempt := sp.attempt

	for len(attempt.skeletonCandidates) > 0 {
		peer := attempt.skeletonCandidates[0]
		attempt.skeletonCandidates = attempt.skeletonCandidates[1:]

		ps, ok := sp.peers[peer.Key()]
		if !ok || ps.status == nil || sp.peerScoring.IsPunished(peer) {
			continue
		}

		msg := &GetSkeleton{StartNumber: attempt.local.BestBlockNumber}

		if _, err := sp.sendRequest(ctx, peer, msg, func(req *pendingRequest) { req.attemptID = attempt.id }); err != nil {
			sp.logger.Warnf("[SyncProcessor][%s] could not request skeleton from %s: %v", attempt.id, peer, err)
			continue
		}

		attempt.skeletonPeer = peer
		attempt.target = ps.status

		return
	}

	sp.fallBackToWaitingPeers(ctx, "no peer delivered a valid skeleton")
}

func (sp *SyncProcessor) handleSkeleton(ctx context.Context, req *pendingRequest, m *Skeleton) {
	attempt := sp.attempt
	if attempt == nil || attempt.id != req.attemptID || sp.State() != StateRequestingSkeleton {
		return
	}

	if err := sp.nodeBlockProcessor.ProcessSkeleton(attempt.target.BestBlockNumber, m.Checkpoints); err != nil {
		sp.logger.Warnf("[SyncProcessor][%s] invalid skeleton from %s: %v", attempt.id, req.Peer, err)
		sp.peerScoring.RecordEvent(req.Peer, scoring.EventInvalidMessage)
		sp.requestSkeleton(ctx)

		return
	}

	sp.peerScoring.RecordEvent(req.Peer, scoring.EventValidSkeleton)

	for _, cp := range m.Checkpoints {
		sp.blockNodeInformation.RecordBlockKnownByPeer(cp.Hash, req.Peer)
	}

	attempt.buildChunks(m.Checkpoints)
	sp.transition(ctx, eventRequestBlocks)

	for _, c := range attempt.chunks {
		known, err := sp.blockchain.HasBlock(ctx, c.end.Hash)
		if err != nil {
			sp.logger.Errorf("[SyncProcessor][%s] could not check block %s: %v", attempt.id, c.end.Hash, err)
			sp.reset(ctx, "local store failure")

			return
		}

		if known {
			c.state = chunkDone
		}
	}

	sp.logger.Infof("[SyncProcessor][%s] skeleton from %s: %d chunks up to %d", attempt.id, req.Peer, len(attempt.chunks), m.Checkpoints[len(m.Checkpoints)-1].Number)

	sp.processReadyChunks(ctx)
	sp.dispatchChunks(ctx)
	sp.maybeComplete(ctx)
}

// chunkCandidates lists the peers that may serve the chunk, best first: peers known to hold
// the chunk end, peers advertising a best block at or above it, and the skeleton source.
func (sp *SyncProcessor) chunkCandidates(c *chunk) []model.PeerIdentity {
	now := sp.clock.Now()
	seen := make(map[string]struct{})
	candidates := make([]model.PeerIdentity, 0)

	add := func(peer model.PeerIdentity) {
		if _, failed := c.failedPeers[peer.Key()]; failed {
			return
		}

		if _, connected := sp.peers[peer.Key()]; !connected {
			return
		}

		if _, dup := seen[peer.Key()]; dup {
			return
		}

		seen[peer.Key()] = struct{}{}
		candidates = append(candidates, peer)
	}

	for _, peer := range sp.blockNodeInformation.GetPeersWithBlock(c.end.Hash) {
		add(peer)
	}

	for _, ps := range sp.peers {
		if ps.status != nil && now.Sub(ps.statusAt) < sp.config.ExpirationTimePeerStatus() && ps.status.BestBlockNumber >= c.end.Number {
			add(ps.peer)
		}
	}

	add(sp.attempt.skeletonPeer)

	return sp.rankPeers(candidates)
}

func (sp *SyncProcessor) isBusy(peer model.PeerIdentity) bool {
	for _, req := range sp.pending {
		if req.Peer.Key() == peer.Key() {
			return true
		}
	}

	return false
}

// dispatchChunks requests the headers of every chunk waiting for a peer. Each peer has at
// most one outstanding request; a chunk nobody can serve aborts the attempt.
func (sp *SyncProcessor) dispatchChunks(ctx context.Context) {
	attempt := sp.attempt
	if attempt == nil || sp.State() != StateRequestingBlocks {
		return
	}

	for _, c := range attempt.chunks {
		if c.state != chunkPending {
			continue
		}

		candidates := sp.chunkCandidates(c)
		if len(candidates) == 0 {
			sp.fallBackToWaitingPeers(ctx, "no peer can serve chunk "+c.end.Hash.String())
			return
		}

		for _, peer := range candidates {
			if sp.isBusy(peer) {
				continue
			}

			msg := &GetBlockHeaders{FromHash: c.end.Hash, Count: c.size()}

			_, err := sp.sendRequest(ctx, peer, msg, func(req *pendingRequest) {
				req.attemptID = attempt.id
				req.chunk = c
			})
			if err != nil {
				sp.logger.Warnf("[SyncProcessor][%s] could not request chunk %d from %s: %v", attempt.id, c.index, peer, err)
				c.failedPeers[peer.Key()] = struct{}{}

				continue
			}

			c.state = chunkRequestingHeaders
			c.source = peer

			break
		}
	}
}

// chunkFailed puts the chunk back in the queue, excluding peer for it.
func (sp *SyncProcessor) chunkFailed(ctx context.Context, c *chunk, peer model.PeerIdentity) {
	if c == nil {
		return
	}

	c.failedPeers[peer.Key()] = struct{}{}
	c.state = chunkPending
	c.headers = nil
	c.blocks = nil

	sp.dispatchChunks(ctx)
}

func (sp *SyncProcessor) handleBlockHeaders(ctx context.Context, req *pendingRequest, m *BlockHeaders) {
	attempt := sp.attempt
	if attempt == nil || attempt.id != req.attemptID {
		return
	}

	c := req.chunk

	if err := sp.nodeBlockProcessor.ProcessHeaders(c.start, c.end, m.Headers); err != nil {
		sp.logger.Warnf("[SyncProcessor][%s] invalid headers for chunk %d from %s: %v", attempt.id, c.index, req.Peer, err)
		sp.peerScoring.RecordEvent(req.Peer, scoring.EventInvalidHeader)
		sp.chunkFailed(ctx, c, req.Peer)

		return
	}

	sp.peerScoring.RecordEvent(req.Peer, scoring.EventValidHeader)

	headers := make([]*model.BlockHeader, len(m.Headers))
	for i, header := range m.Headers {
		headers[len(m.Headers)-1-i] = header
	}

	hashes := model.BlockHashes(headers)
	for _, hash := range hashes {
		sp.blockNodeInformation.RecordBlockKnownByPeer(hash, req.Peer)
	}

	c.headers = headers

	_, err := sp.sendRequest(ctx, req.Peer, &GetBlockBodies{Hashes: hashes}, func(bodiesReq *pendingRequest) {
		bodiesReq.attemptID = attempt.id
		bodiesReq.chunk = c
	})
	if err != nil {
		sp.logger.Warnf("[SyncProcessor][%s] could not request bodies of chunk %d from %s: %v", attempt.id, c.index, req.Peer, err)
		sp.chunkFailed(ctx, c, req.Peer)

		return
	}

	c.state = chunkRequestingBodies
}

func (sp *SyncProcessor) handleBlockBodies(ctx context.Context, req *pendingRequest, m *BlockBodies) {
	attempt := sp.attempt
	if attempt == nil || attempt.id != req.attemptID {
		return
	}

	c := req.chunk

	if len(m.Bodies) != len(c.headers) {
		sp.logger.Warnf("[SyncProcessor][%s] %s sent %d bodies for %d headers", attempt.id, req.Peer, len(m.Bodies), len(c.headers))
		sp.peerScoring.RecordEvent(req.Peer, scoring.EventInvalidMessage)
		sp.chunkFailed(ctx, c, req.Peer)

		return
	}

	blocks := make([]*model.Block, 0, len(c.headers))

	for i, header := range c.headers {
		block, err := model.NewBlockFromHeaderAndBody(header, m.Bodies[i])
		if err != nil {
			sp.logger.Warnf("[SyncProcessor][%s] invalid body for %s from %s: %v", attempt.id, header.Hash(), req.Peer, err)
			sp.peerScoring.RecordEvent(req.Peer, scoring.EventInvalidBlock)
			sp.chunkFailed(ctx, c, req.Peer)

			return
		}

		blocks = append(blocks, block)
	}

	c.blocks = blocks
	c.state = chunkDownloaded

	sp.processReadyChunks(ctx)
	sp.dispatchChunks(ctx)
	sp.maybeComplete(ctx)
}

// processReadyChunks imports downloaded chunks in chain order.
func (sp *SyncProcessor) processReadyChunks(ctx context.Context) {
	for sp.attempt != nil && sp.attempt.nextChunk < len(sp.attempt.chunks) {
		attempt := sp.attempt
		c := attempt.chunks[attempt.nextChunk]

		if c.state == chunkDone {
			attempt.nextChunk++
			continue
		}

		if c.state != chunkDownloaded {
			return
		}

		if !sp.importChunk(ctx, c) {
			return
		}

		c.state = chunkDone
		c.blocks = nil
		c.headers = nil
		attempt.nextChunk++
	}
}

// importChunk hands the blocks of a chunk to the block processor. It returns false when the
// chunk has to be downloaded again or the attempt was reset.
func (sp *SyncProcessor) importChunk(ctx context.Context, c *chunk) bool {
	attempt := sp.attempt
	ancestorRequested := false

	for _, block := range c.blocks {
		result := sp.nodeBlockProcessor.ProcessBlock(ctx, c.source, block)

		switch result.Status {
		case AcceptedBest, AcceptedSide:
			sp.peerScoring.RecordEvent(c.source, scoring.EventValidBlock)

		case Orphan:
			if !ancestorRequested && result.MissingParent != nil {
				ancestorRequested = true
				sp.logger.Infof("[SyncProcessor][%s] chunk %d does not connect, fetching ancestor %s from %s", attempt.id, c.index, result.MissingParent, c.source)
				sp.requestBlock(ctx, c.source, result.MissingParent, attempt.id, 1)
			}

		case Invalid:
			sp.logger.Warnf("[SyncProcessor][%s] invalid block %s in chunk %d from %s: %v", attempt.id, block.Hash(), c.index, c.source, result.Err)
			sp.peerScoring.RecordEvent(c.source, scoring.EventInvalidBlock)
			sp.chunkFailed(ctx, c, c.source)

			return false

		case Failed:
			sp.logger.Errorf("[SyncProcessor][%s] could not process block %s: %v", attempt.id, block.Hash(), result.Err)
			sp.reset(ctx, "block processing failed")

			return false
		}
	}

	return true
}

// requestBlock asks peer for a single block unless it is already being fetched.
func (sp *SyncProcessor) requestBlock(ctx context.Context, peer model.PeerIdentity, hash *chainhash.Hash, attemptID string, depth int) {
	if hash == nil {
		return
	}

	for _, req := range sp.pending {
		if req.Type == MessageGetBlock && req.hash.IsEqual(hash) {
			return
		}
	}

	if depth > sp.config.MaxOrphanBlocks() {
		sp.logger.Warnf("[SyncProcessor] giving up on ancestor %s after %d requests", hash, depth)
		return
	}

	if sp.peerScoring.IsPunished(peer) {
		return
	}

	_, err := sp.sendRequest(ctx, peer, &GetBlock{Hash: hash}, func(req *pendingRequest) {
		req.attemptID = attemptID
		req.hash = hash
		req.depth = depth
	})
	if err != nil {
		sp.logger.Warnf("[SyncProcessor] could not request block %s from %s: %v", hash, peer, err)
	}
}

func (sp *SyncProcessor) handleBlock(ctx context.Context, req *pendingRequest, m *Block) {
	defer func() {
		sp.dispatchChunks(ctx)
		sp.maybeComplete(ctx)
	}()

	if m.Block == nil || m.Block.Header == nil || !m.Block.Hash().IsEqual(req.hash) {
		sp.logger.Warnf("[SyncProcessor] %s answered block request %d with another block", req.Peer, req.ID)
		sp.peerScoring.RecordEvent(req.Peer, scoring.EventInvalidMessage)

		return
	}

	result := sp.nodeBlockProcessor.ProcessBlock(ctx, req.Peer, m.Block)

	switch result.Status {
	case AcceptedBest, AcceptedSide:
		sp.peerScoring.RecordEvent(req.Peer, scoring.EventValidBlock)
	case Orphan:
		sp.requestBlock(ctx, req.Peer, result.MissingParent, req.attemptID, req.depth+1)
	case Invalid:
		sp.logger.Warnf("[SyncProcessor] invalid block %s from %s: %v", req.hash, req.Peer, result.Err)
		sp.peerScoring.RecordEvent(req.Peer, scoring.EventInvalidBlock)
	case Failed:
		sp.logger.Errorf("[SyncProcessor] could not process block %s: %v", req.hash, result.Err)
	}
}

// sendRequest assigns a request id, sends the message and registers it as outstanding.
func (sp *SyncProcessor) sendRequest(ctx context.Context, peer model.PeerIdentity, msg Message, decorate func(*pendingRequest)) (*pendingRequest, error) {
	sp.nextRequestID++
	id := sp.nextRequestID

	switch m := msg.(type) {
	case *GetSkeleton:
		m.RequestID = id
	case *GetBlockHeaders:
		m.RequestID = id
	case *GetBlockBodies:
		m.RequestID = id
	case *GetBlock:
		m.RequestID = id
	}

	if err := sp.transport.SendMessage(ctx, peer, msg); err != nil {
		return nil, err
	}

	now := sp.clock.Now()

	req := &pendingRequest{
		ID:       id,
		Peer:     peer,
		Type:     msg.Type(),
		IssuedAt: now,
		Deadline: now.Add(sp.config.TimeoutWaitingRequest()),
	}

	if decorate != nil {
		decorate(req)
	}

	sp.pending[id] = req

	if ps, ok := sp.peers[peer.Key()]; ok {
		ps.lastUsed = now
	}

	prometheusNetsyncRequests.WithLabelValues(msg.Type().String()).Inc()
	prometheusNetsyncPendingRequests.Set(float64(len(sp.pending)))

	return req, nil
}

// rankPeers drops punished peers and orders the rest by reputation, then least recently
// used, then node id.
func (sp *SyncProcessor) rankPeers(candidates []model.PeerIdentity) []model.PeerIdentity {
	ranked := sp.peerScoring.GetPeersByReputation(candidates)

	reputations := make(map[string]scoring.Reputation, len(ranked))
	for _, peer := range ranked {
		reputations[peer.Key()] = sp.peerScoring.Reputation(peer)
	}

	lastUsed := func(peer model.PeerIdentity) time.Time {
		if ps, ok := sp.peers[peer.Key()]; ok {
			return ps.lastUsed
		}

		return time.Time{}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		ri, rj := reputations[ranked[i].Key()], reputations[ranked[j].Key()]
		if ri != rj {
			return ri.Better(rj)
		}

		li, lj := lastUsed(ranked[i]), lastUsed(ranked[j])
		if !li.Equal(lj) {
			return li.Before(lj)
		}

		return ranked[i].NodeID < ranked[j].NodeID
	})

	return ranked
}

func (sp *SyncProcessor) attemptHasPending() bool {
	for _, req := range sp.pending {
		if req.attemptID == sp.attempt.id {
			return true
		}
	}

	return false
}

func (sp *SyncProcessor) maybeComplete(ctx context.Context) {
	if sp.attempt == nil || sp.State() != StateRequestingBlocks {
		return
	}

	if !sp.attempt.allChunksDone() || sp.attemptHasPending() {
		return
	}

	sp.completeAttempt(ctx)
}

// completeAttempt passes through SYNCED back to IDLE. When the attempt made progress and a
// peer still advertises more work, the next attempt starts right away.
func (sp *SyncProcessor) completeAttempt(ctx context.Context) {
	attempt := sp.attempt
	sp.transition(ctx, eventSynced)

	local, err := sp.blockchain.GetStatus(ctx)
	progressed := err == nil && local.HasHigherWorkThan(attempt.local)

	if err == nil {
		sp.logger.Infof("[SyncProcessor][%s] synced to %d (%s) in %s", attempt.id, local.BestBlockNumber, local.BestBlockHash, sp.clock.Since(attempt.startedAt))
	}

	prometheusNetsyncAttempts.WithLabelValues("completed").Inc()

	sp.attempt = nil
	sp.stalled = false
	sp.nextSyncCheck = sp.clock.Now().Add(sp.config.SyncInterval())
	sp.transition(ctx, eventReset)

	if !progressed {
		return
	}

	for _, peer := range sp.eligiblePeers(sp.clock.Now()) {
		if sp.peers[peer.Key()].status.TotalDifficulty.Cmp(local.TotalDifficulty) > 0 {
			sp.beginSkeletonPhase(ctx)
			return
		}
	}
}

// cancelAttemptRequests forgets the outstanding requests of the current attempt.
func (sp *SyncProcessor) cancelAttemptRequests() {
	if sp.attempt == nil {
		return
	}

	now := sp.clock.Now()

	for _, req := range sp.pending {
		if req.attemptID == sp.attempt.id {
			sp.removePending(req, now)
		}
	}
}

func (sp *SyncProcessor) fallBackToWaitingPeers(ctx context.Context, reason string) {
	if sp.attempt != nil {
		sp.logger.Warnf("[SyncProcessor][%s] sync attempt aborted: %s", sp.attempt.id, reason)
	}

	sp.cancelAttemptRequests()
	sp.attempt = nil

	prometheusNetsyncAttempts.WithLabelValues("aborted").Inc()

	sp.waitingSince = sp.clock.Now()
	sp.transition(ctx, eventWaitPeers)
}

func (sp *SyncProcessor) reset(ctx context.Context, reason string) {
	if sp.attempt != nil {
		sp.logger.Infof("[SyncProcessor][%s] sync attempt reset: %s", sp.attempt.id, reason)
		prometheusNetsyncAttempts.WithLabelValues("reset").Inc()
	}

	sp.cancelAttemptRequests()
	sp.attempt = nil
	sp.stalled = false
	sp.nextSyncCheck = sp.clock.Now().Add(sp.config.SyncInterval())
	sp.transition(ctx, eventReset)
}

func (sp *SyncProcessor) publishStatus() {
	status := SyncStatus{
		State:           sp.State(),
		Stalled:         sp.stalled,
		PendingRequests: len(sp.pending),
		ConnectedPeers:  len(sp.peers),
	}

	for _, ps := range sp.peers {
		if ps.status != nil {
			status.PeersWithStatus++
		}
	}

	if sp.attempt != nil {
		status.AttemptID = sp.attempt.id
		status.Chunks = len(sp.attempt.chunks)
		status.ChunksDone = sp.attempt.chunksDone()

		if sp.attempt.target != nil {
			status.TargetPeer = sp.attempt.skeletonPeer.String()
			status.TargetNumber = sp.attempt.target.BestBlockNumber
		}
	}

	sp.statusMu.Lock()
	sp.status = status
	sp.statusMu.Unlock()
}
