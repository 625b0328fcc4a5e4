package netsync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dieguito9000/rskj/chaincfg"
	"github.com/dieguito9000/rskj/model"
	"github.com/dieguito9000/rskj/services/blockchain"
	"github.com/dieguito9000/rskj/services/scoring"
	"github.com/dieguito9000/rskj/stores/blockchain/memory"
	"github.com/dieguito9000/rskj/ulogger"
	"github.com/dieguito9000/rskj/util/test"
	"github.com/dieguito9000/rskj/util/test/mocklogger"
	"github.com/stretchr/testify/require"
)

type sentMessage struct {
	peer model.PeerIdentity
	msg  Message
}

type recordingTransport struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (r *recordingTransport) SendMessage(_ context.Context, peer model.PeerIdentity, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sent = append(r.sent, sentMessage{peer: peer, msg: msg})

	return nil
}

func (r *recordingTransport) take() []sentMessage {
	r.mu.Lock()
	defer r.mu.Unlock()

	sent := r.sent
	r.sent = nil

	return sent
}

func newTestConfig(t *testing.T, expectedPeers int) *SyncConfiguration {
	t.Helper()

	config, err := NewSyncConfiguration(expectedPeers, 5*time.Second, 2*time.Second, 10*time.Minute, 4, 10)
	require.NoError(t, err)

	return config
}

func newTestChain(t *testing.T, blocks []*model.Block) *blockchain.Blockchain {
	t.Helper()

	ctx := context.Background()

	chain, err := blockchain.New(ctx, &ulogger.TestLogger{}, memory.New(), &chaincfg.RegressionNetParams)
	require.NoError(t, err)

	for _, block := range blocks {
		_, err = chain.TryToConnect(ctx, block)
		require.NoError(t, err)
	}

	return chain
}

// servingNode is a remote peer answering requests from its own chain.
type servingNode struct {
	peer  model.PeerIdentity
	chain *blockchain.Blockchain
	nbp   *NodeBlockProcessor

	// mutate, when set, tampers with every response before it is delivered
	mutate func(Message) Message
}

func newServingNode(t *testing.T, nodeID string, config *SyncConfiguration, blocks []*model.Block) *servingNode {
	t.Helper()

	chain := newTestChain(t, blocks)

	bni, err := NewBlockNodeInformation(config.BlockNodeInformationRetention())
	require.NoError(t, err)

	bss := NewBlockSyncService(&ulogger.TestLogger{}, config, chain)
	nbp := NewNodeBlockProcessor(&ulogger.TestLogger{}, config, &chaincfg.RegressionNetParams, clock.New(), chain, bss, bni)

	return &servingNode{
		peer:  model.NewPeerIdentity(nodeID, "10.0.0."+nodeID[len(nodeID)-1:]+":5050"),
		chain: chain,
		nbp:   nbp,
	}
}

func (s *servingNode) status(t *testing.T) *Status {
	t.Helper()

	status, err := s.nbp.ProcessStatusRequest(context.Background())
	require.NoError(t, err)

	return status
}

// answer builds the response to a request, nil when the node has nothing to say.
func (s *servingNode) answer(t *testing.T, msg Message) Message {
	t.Helper()

	ctx := context.Background()

	var (
		response Message
		err      error
	)

	switch m := msg.(type) {
	case *GetSkeleton:
		response, err = s.nbp.ProcessGetSkeleton(ctx, m)
	case *GetBlockHeaders:
		response, err = s.nbp.ProcessGetBlockHeaders(ctx, m)
	case *GetBlockBodies:
		response, err = s.nbp.ProcessGetBlockBodies(ctx, m)
	case *GetBlock:
		response, err = s.nbp.ProcessGetBlock(ctx, m)
	case *GetStatus:
		response, err = s.nbp.ProcessStatusRequest(ctx)
	default:
		return nil
	}

	require.NoError(t, err)

	if s.mutate != nil {
		response = s.mutate(response)
	}

	return response
}

type syncFixture struct {
	t         *testing.T
	ctx       context.Context
	clock     *clock.Mock
	logger    *mocklogger.MockLogger
	config    *SyncConfiguration
	chain     *blockchain.Blockchain
	scoring   *scoring.PeerScoringManager
	bni       *BlockNodeInformation
	bss       *BlockSyncService
	nbp       *NodeBlockProcessor
	sp        *SyncProcessor
	transport *recordingTransport
	history   []sentMessage
}

func newSyncFixture(t *testing.T, config *SyncConfiguration, blocks ...*model.Block) *syncFixture {
	t.Helper()

	mockClock := clock.NewMock()
	mockClock.Set(test.GenesisTime.Add(24 * time.Hour))

	chain := newTestChain(t, blocks)

	nodeParams, err := scoring.NewPunishmentParameters(10*time.Minute, 10, 0)
	require.NoError(t, err)

	addressParams, err := scoring.NewPunishmentParameters(10*time.Minute, 10, 7*24*time.Hour)
	require.NoError(t, err)

	peerScoring, err := scoring.NewPeerScoringManager(&ulogger.TestLogger{}, 100, nodeParams, addressParams, scoring.WithClock(mockClock))
	require.NoError(t, err)

	bni, err := NewBlockNodeInformation(config.BlockNodeInformationRetention())
	require.NoError(t, err)

	bss := NewBlockSyncService(&ulogger.TestLogger{}, config, chain)
	nbp := NewNodeBlockProcessor(&ulogger.TestLogger{}, config, &chaincfg.RegressionNetParams, mockClock, chain, bss, bni)

	logger := mocklogger.NewTestLogger()
	transport := &recordingTransport{}

	sp, err := NewSyncProcessor(logger, config, mockClock, transport, chain, peerScoring, bni, nbp)
	require.NoError(t, err)

	return &syncFixture{
		t:         t,
		ctx:       context.Background(),
		clock:     mockClock,
		logger:    logger,
		config:    config,
		chain:     chain,
		scoring:   peerScoring,
		bni:       bni,
		bss:       bss,
		nbp:       nbp,
		sp:        sp,
		transport: transport,
	}
}

// drain handles the events queued by the processor itself, such as punishments.
func (f *syncFixture) drain() {
	for {
		select {
		case ev := <-f.sp.events:
			f.sp.handleEvent(f.ctx, ev)
		default:
			return
		}
	}
}

func (f *syncFixture) connect(nodes ...*servingNode) {
	for _, node := range nodes {
		f.sp.handleEvent(f.ctx, peerConnectedEvent{peer: node.peer})
	}

	for _, node := range nodes {
		f.deliver(node.peer, node.status(f.t))
	}
}

func (f *syncFixture) deliver(peer model.PeerIdentity, msg Message) {
	f.sp.handleEvent(f.ctx, messageEvent{peer: peer, msg: msg})
	f.drain()
}

func (f *syncFixture) tick(d time.Duration) {
	f.clock.Add(d)
	f.sp.tick(f.ctx)
	f.drain()
}

// serve answers every request sent to the given nodes until the processor goes quiet.
// Requests for which hold returns true are left unanswered and returned.
func (f *syncFixture) serve(nodes []*servingNode, hold func(sentMessage) bool) []sentMessage {
	byKey := make(map[string]*servingNode, len(nodes))
	for _, node := range nodes {
		byKey[node.peer.Key()] = node
	}

	held := make([]sentMessage, 0)

	for i := 0; i < 10_000; i++ {
		sent := f.transport.take()
		if len(sent) == 0 {
			return held
		}

		f.history = append(f.history, sent...)

		for _, s := range sent {
			node, ok := byKey[s.peer.Key()]
			if !ok || (hold != nil && hold(s)) {
				held = append(held, s)
				continue
			}

			if response := node.answer(f.t, s.msg); response != nil {
				f.deliver(node.peer, response)
			}
		}
	}

	f.t.Fatal("sync did not go quiet")

	return nil
}

func (f *syncFixture) best() *blockchain.Status {
	status, err := f.chain.GetStatus(f.ctx)
	require.NoError(f.t, err)

	return status
}

func requestsOf(sent []sentMessage, msgType MessageType) []sentMessage {
	matching := make([]sentMessage, 0)

	for _, s := range sent {
		if s.msg.Type() == msgType {
			matching = append(matching, s)
		}
	}

	return matching
}
