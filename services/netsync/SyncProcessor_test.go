package netsync

import (
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/dieguito9000/rskj/model"
	"github.com/dieguito9000/rskj/services/scoring"
	"github.com/dieguito9000/rskj/util/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func eventCount(t *testing.T, f *syncFixture, peer model.PeerIdentity, event scoring.EventType) uint64 {
	t.Helper()

	record, ok := f.scoring.GetPeerScoring(peer)
	if !ok {
		return 0
	}

	return record.EventCount(event)
}

func fakeHash(i int) *chainhash.Hash {
	h := chainhash.DoubleHashH([]byte(fmt.Sprintf("checkpoint-%d", i)))
	return &h
}

func TestSyncProcessorWaitsForExpectedPeers(t *testing.T) {
	config, err := NewSyncConfiguration(3, 5000*time.Millisecond, 2*time.Second, 10*time.Minute, 4, 10)
	require.NoError(t, err)

	node := newServingNode(t, "node-1", config, test.GenerateChain(test.Genesis(), 25, "remote"))
	f := newSyncFixture(t, config)

	f.connect(node)

	require.Equal(t, StateWaitingPeers, f.sp.State())
	assert.Empty(t, f.transport.take())

	warnings := f.logger.GetCallCount("Warnf")

	f.tick(4999 * time.Millisecond)

	assert.Equal(t, StateWaitingPeers, f.sp.State())
	assert.Empty(t, f.transport.take())
	assert.Equal(t, warnings, f.logger.GetCallCount("Warnf"))

	f.tick(time.Millisecond)

	assert.Equal(t, StateRequestingSkeleton, f.sp.State())
	assert.Equal(t, warnings+1, f.logger.GetCallCount("Warnf"))

	sent := f.transport.take()
	require.Len(t, sent, 1)
	assert.Equal(t, node.peer, sent[0].peer)

	request, ok := sent[0].msg.(*GetSkeleton)
	require.True(t, ok)
	assert.Equal(t, uint64(0), request.StartNumber)

	status := f.sp.GetStatus()
	assert.Equal(t, StateRequestingSkeleton, status.State)
	assert.Equal(t, 1, status.PendingRequests)
	assert.NotEmpty(t, status.AttemptID)
}

func TestSyncProcessorStallsWithoutPeers(t *testing.T) {
	f := newSyncFixture(t, newTestConfig(t, 3))

	f.tick(0)
	require.Equal(t, StateWaitingPeers, f.sp.State())
	assert.False(t, f.sp.GetStatus().Stalled)

	warnings := f.logger.GetCallCount("Warnf")

	f.tick(5 * time.Second)
	assert.Equal(t, StateWaitingPeers, f.sp.State())
	assert.True(t, f.sp.GetStatus().Stalled)
	assert.Equal(t, warnings+1, f.logger.GetCallCount("Warnf"))

	f.tick(time.Second)
	assert.Equal(t, warnings+1, f.logger.GetCallCount("Warnf"))

	// a peer turning up clears the stall
	node := newServingNode(t, "node-1", f.config, test.GenerateChain(test.Genesis(), 5, "remote"))
	f.connect(node)
	assert.Equal(t, StateRequestingSkeleton, f.sp.State())
	assert.False(t, f.sp.GetStatus().Stalled)
}

func TestSyncProcessorSyncsFromSinglePeer(t *testing.T) {
	blocks := test.GenerateChain(test.Genesis(), 25, "remote")
	node := newServingNode(t, "node-1", newTestConfig(t, 1), blocks)
	f := newSyncFixture(t, newTestConfig(t, 1))

	f.connect(node)
	require.Equal(t, StateRequestingSkeleton, f.sp.State())

	held := f.serve([]*servingNode{node}, nil)
	assert.Empty(t, held)

	best := f.best()
	assert.Equal(t, uint64(25), best.BestBlockNumber)
	assert.Equal(t, blocks[24].Hash().String(), best.BestBlockHash.String())

	assert.Equal(t, StateIdle, f.sp.State())
	assert.Equal(t, 0, f.sp.GetStatus().PendingRequests)

	// checkpoints 0, 10, 20, 25 give three chunks
	assert.Len(t, requestsOf(f.history, MessageGetBlockHeaders), 3)
	assert.Len(t, requestsOf(f.history, MessageGetBlockBodies), 3)

	assert.Equal(t, uint64(1), eventCount(t, f, node.peer, scoring.EventValidSkeleton))
	assert.Equal(t, uint64(3), eventCount(t, f, node.peer, scoring.EventValidHeader))
	assert.Equal(t, uint64(25), eventCount(t, f, node.peer, scoring.EventValidBlock))
	assert.True(t, f.bni.IsBlockKnownByPeer(blocks[12].Hash(), node.peer))
}

func TestSyncProcessorIgnoresPeersWithLessWork(t *testing.T) {
	local := test.GenerateChain(test.Genesis(), 10, "local")
	node := newServingNode(t, "node-1", newTestConfig(t, 1), local[:5])
	f := newSyncFixture(t, newTestConfig(t, 1), local...)

	f.connect(node)
	assert.Equal(t, StateIdle, f.sp.State())

	// the periodic check finds no better peer and goes straight back to idle
	f.tick(time.Second)
	assert.Equal(t, StateIdle, f.sp.State())
	assert.Empty(t, f.transport.take())
}

func TestSyncProcessorRejectsSkeletonWithTooManyChunks(t *testing.T) {
	f := newSyncFixture(t, newTestConfig(t, 1))
	peer := model.NewPeerIdentity("node-9", "10.0.0.9:5050")

	f.sp.handleEvent(f.ctx, peerConnectedEvent{peer: peer})
	f.deliver(peer, &Status{BestBlockNumber: 60, BestBlockHash: fakeHash(60), TotalDifficulty: big.NewInt(1_000_000)})

	sent := f.transport.take()
	require.Len(t, sent, 1)

	request, ok := sent[0].msg.(*GetSkeleton)
	require.True(t, ok)

	checkpoints := make([]model.BlockIdentifier, 0, 6)
	for i := 0; i <= 5; i++ {
		checkpoints = append(checkpoints, model.BlockIdentifier{Number: uint64(i * 10), Hash: fakeHash(i * 10)})
	}

	f.deliver(peer, &Skeleton{RequestID: request.RequestID, Checkpoints: checkpoints})

	assert.True(t, f.scoring.IsPunished(peer))
	assert.Equal(t, uint64(1), eventCount(t, f, peer, scoring.EventInvalidMessage))
	assert.Equal(t, StateWaitingPeers, f.sp.State())
	assert.Empty(t, requestsOf(f.transport.take(), MessageGetBlockHeaders))
}

func TestSyncProcessorTriesNextPeerAfterInvalidSkeleton(t *testing.T) {
	blocks := test.GenerateChain(test.Genesis(), 25, "remote")
	config := newTestConfig(t, 2)

	liar := newServingNode(t, "node-1", config, blocks)
	honest := newServingNode(t, "node-2", config, blocks)

	liar.mutate = func(msg Message) Message {
		if skeleton, ok := msg.(*Skeleton); ok {
			skeleton.Checkpoints[1].Number += 100
		}

		return msg
	}

	f := newSyncFixture(t, config)
	f.connect(liar, honest)

	f.serve([]*servingNode{liar, honest}, nil)

	assert.True(t, f.scoring.IsPunished(liar.peer))
	assert.False(t, f.scoring.IsPunished(honest.peer))
	assert.Equal(t, uint64(25), f.best().BestBlockNumber)
	assert.Equal(t, StateIdle, f.sp.State())
}

func TestSyncProcessorRerequestsAfterTimeout(t *testing.T) {
	blocks := test.GenerateChain(test.Genesis(), 25, "remote")
	config := newTestConfig(t, 2)

	fast := newServingNode(t, "node-1", config, blocks)
	slow := newServingNode(t, "node-2", config, blocks)

	f := newSyncFixture(t, config)
	f.connect(fast, slow)
	require.Equal(t, StateRequestingSkeleton, f.sp.State())

	held := f.serve([]*servingNode{fast, slow}, func(s sentMessage) bool {
		return s.peer.Key() == slow.peer.Key()
	})

	require.Len(t, held, 1)

	chunkRequest, ok := held[0].msg.(*GetBlockHeaders)
	require.True(t, ok)
	assert.Equal(t, blocks[19].Hash().String(), chunkRequest.FromHash.String())
	assert.Equal(t, StateRequestingBlocks, f.sp.State())
	assert.Less(t, f.best().BestBlockNumber, uint64(25))

	f.tick(f.config.TimeoutWaitingRequest())

	assert.True(t, f.scoring.IsPunished(slow.peer))
	assert.Equal(t, uint64(1), eventCount(t, f, slow.peer, scoring.EventTimeoutMessage))

	f.serve([]*servingNode{fast, slow}, nil)

	rerequested := false

	for _, s := range requestsOf(f.history, MessageGetBlockHeaders) {
		if s.peer.Key() == fast.peer.Key() && s.msg.(*GetBlockHeaders).FromHash.IsEqual(blocks[19].Hash()) {
			rerequested = true
		}
	}

	assert.True(t, rerequested)
	assert.Equal(t, uint64(25), f.best().BestBlockNumber)
	assert.Equal(t, StateIdle, f.sp.State())
	assert.Equal(t, uint64(0), eventCount(t, f, fast.peer, scoring.EventTimeoutMessage))
}

func TestSyncProcessorRerequestsInvalidBlocks(t *testing.T) {
	blocks := test.GenerateChain(test.Genesis(), 25, "remote")
	config := newTestConfig(t, 2)

	forger := newServingNode(t, "node-1", config, blocks)
	honest := newServingNode(t, "node-2", config, blocks)

	forger.mutate = func(msg Message) Message {
		if bodies, ok := msg.(*BlockBodies); ok && len(bodies.Bodies) > 0 {
			bodies.Bodies[0] = &model.BlockBody{Transactions: [][]byte{[]byte("forged")}}
		}

		return msg
	}

	f := newSyncFixture(t, config)
	f.connect(forger, honest)

	f.serve([]*servingNode{forger, honest}, nil)

	assert.True(t, f.scoring.IsPunished(forger.peer))
	assert.Equal(t, uint64(1), eventCount(t, f, forger.peer, scoring.EventInvalidBlock))
	assert.False(t, f.scoring.IsPunished(honest.peer))

	// the chunk the forger failed was downloaded again from the honest peer
	chunk0From := make(map[string]int)

	for _, s := range requestsOf(f.history, MessageGetBlockHeaders) {
		if s.msg.(*GetBlockHeaders).FromHash.IsEqual(blocks[9].Hash()) {
			chunk0From[s.peer.Key()]++
		}
	}

	assert.Equal(t, 1, chunk0From[forger.peer.Key()])
	assert.Equal(t, 1, chunk0From[honest.peer.Key()])

	assert.Equal(t, uint64(25), f.best().BestBlockNumber)
	assert.Equal(t, blocks[24].Hash().String(), f.best().BestBlockHash.String())
}

func TestSyncProcessorRedistributesOnDisconnect(t *testing.T) {
	blocks := test.GenerateChain(test.Genesis(), 25, "remote")
	config := newTestConfig(t, 2)

	stays := newServingNode(t, "node-1", config, blocks)
	leaves := newServingNode(t, "node-2", config, blocks)

	f := newSyncFixture(t, config)
	f.connect(stays, leaves)

	held := f.serve([]*servingNode{stays, leaves}, func(s sentMessage) bool {
		return s.peer.Key() == leaves.peer.Key()
	})
	require.Len(t, held, 1)
	require.Equal(t, 1, f.sp.GetStatus().PendingRequests)

	f.sp.handleEvent(f.ctx, peerDisconnectedEvent{peer: leaves.peer})
	f.drain()

	assert.Equal(t, uint64(1), eventCount(t, f, leaves.peer, scoring.EventTimeoutMessage))
	assert.False(t, f.bni.IsBlockKnownByPeer(blocks[24].Hash(), leaves.peer))
	assert.Equal(t, 1, f.sp.GetStatus().ConnectedPeers)

	f.serve([]*servingNode{stays}, nil)

	assert.Equal(t, uint64(25), f.best().BestBlockNumber)
	assert.Equal(t, StateIdle, f.sp.State())
}

func TestSyncProcessorDisconnectWithoutRequestsIsNotPunished(t *testing.T) {
	node := newServingNode(t, "node-1", newTestConfig(t, 1), nil)
	f := newSyncFixture(t, newTestConfig(t, 1))

	f.connect(node)
	f.sp.handleEvent(f.ctx, peerDisconnectedEvent{peer: node.peer})

	assert.Equal(t, uint64(0), eventCount(t, f, node.peer, scoring.EventTimeoutMessage))
	assert.Equal(t, 0, f.sp.GetStatus().ConnectedPeers)
}

func TestSyncProcessorPunishesUnexpectedResponses(t *testing.T) {
	blocks := test.GenerateChain(test.Genesis(), 5, "shared")
	node := newServingNode(t, "node-1", newTestConfig(t, 1), blocks)
	f := newSyncFixture(t, newTestConfig(t, 1), blocks...)

	f.connect(node)
	require.Equal(t, StateIdle, f.sp.State())

	f.deliver(node.peer, &BlockHeaders{RequestID: 42})

	assert.True(t, f.scoring.IsPunished(node.peer))
	assert.Equal(t, uint64(1), eventCount(t, f, node.peer, scoring.EventUnexpectedMessage))
}

func TestSyncProcessorPunishesResponseFromWrongPeer(t *testing.T) {
	blocks := test.GenerateChain(test.Genesis(), 25, "remote")
	config := newTestConfig(t, 1)

	asked := newServingNode(t, "node-1", config, blocks)
	f := newSyncFixture(t, config)
	f.connect(asked)

	sent := f.transport.take()
	require.Len(t, sent, 1)

	intruder := model.NewPeerIdentity("node-7", "10.0.0.7:5050")
	f.sp.handleEvent(f.ctx, peerConnectedEvent{peer: intruder})

	response := asked.answer(t, sent[0].msg)
	f.deliver(intruder, response)

	assert.Equal(t, uint64(1), eventCount(t, f, intruder, scoring.EventUnexpectedMessage))
	assert.Equal(t, StateRequestingSkeleton, f.sp.State())

	// the real answer is still accepted
	f.deliver(asked.peer, response)
	assert.Equal(t, StateRequestingBlocks, f.sp.State())
}

func TestSyncProcessorIgnoresLateResponses(t *testing.T) {
	blocks := test.GenerateChain(test.Genesis(), 25, "remote")
	node := newServingNode(t, "node-1", newTestConfig(t, 1), blocks)
	f := newSyncFixture(t, newTestConfig(t, 1))

	f.connect(node)

	sent := f.transport.take()
	require.Len(t, sent, 1)

	f.tick(f.config.TimeoutWaitingRequest())

	assert.Equal(t, uint64(1), eventCount(t, f, node.peer, scoring.EventTimeoutMessage))
	assert.Equal(t, StateWaitingPeers, f.sp.State())

	f.deliver(node.peer, node.answer(t, sent[0].msg))

	assert.Equal(t, uint64(0), eventCount(t, f, node.peer, scoring.EventUnexpectedMessage))
	assert.Equal(t, StateWaitingPeers, f.sp.State())
}

func TestSyncProcessorReset(t *testing.T) {
	blocks := test.GenerateChain(test.Genesis(), 25, "remote")
	node := newServingNode(t, "node-1", newTestConfig(t, 1), blocks)
	f := newSyncFixture(t, newTestConfig(t, 1))

	f.connect(node)

	sent := f.transport.take()
	require.Len(t, sent, 1)

	f.sp.handleEvent(f.ctx, resetEvent{reason: "operator request"})

	status := f.sp.GetStatus()
	assert.Equal(t, StateIdle, status.State)
	assert.Equal(t, 0, status.PendingRequests)
	assert.Empty(t, status.AttemptID)

	f.deliver(node.peer, node.answer(t, sent[0].msg))

	assert.False(t, f.scoring.IsPunished(node.peer))
	assert.Equal(t, StateIdle, f.sp.State())

	// the next periodic check starts over
	f.tick(f.config.SyncInterval())
	assert.Equal(t, StateRequestingSkeleton, f.sp.State())
}

func TestSyncProcessorResolvesForkThroughAncestors(t *testing.T) {
	local := test.GenerateChain(test.Genesis(), 15, "local")
	remote := test.GenerateChain(test.Genesis(), 25, "remote")

	node := newServingNode(t, "node-1", newTestConfig(t, 1), remote)
	f := newSyncFixture(t, newTestConfig(t, 1), local...)

	f.connect(node)

	sent := f.transport.take()
	require.Len(t, sent, 1)
	assert.Equal(t, uint64(15), sent[0].msg.(*GetSkeleton).StartNumber)

	f.deliver(node.peer, node.answer(t, sent[0].msg))
	f.serve([]*servingNode{node}, nil)

	best := f.best()
	assert.Equal(t, uint64(25), best.BestBlockNumber)
	assert.Equal(t, remote[24].Hash().String(), best.BestBlockHash.String())

	assert.NotEmpty(t, requestsOf(f.history, MessageGetBlock))
	assert.Equal(t, 0, f.bss.OrphanCount())
	assert.Equal(t, StateIdle, f.sp.State())
	assert.False(t, f.scoring.IsPunished(node.peer))
}

func TestSyncProcessorRequestBlock(t *testing.T) {
	blocks := test.GenerateChain(test.Genesis(), 3, "remote")
	node := newServingNode(t, "node-1", newTestConfig(t, 1), blocks)
	f := newSyncFixture(t, newTestConfig(t, 1), blocks[:1]...)

	f.sp.handleEvent(f.ctx, peerConnectedEvent{peer: node.peer})
	f.sp.handleEvent(f.ctx, requestBlockEvent{peer: node.peer, hash: blocks[1].Hash()})

	// asking twice for the same block sends one request
	f.sp.handleEvent(f.ctx, requestBlockEvent{peer: node.peer, hash: blocks[1].Hash()})

	f.serve([]*servingNode{node}, nil)

	assert.Len(t, requestsOf(f.history, MessageGetBlock), 1)
	assert.Equal(t, uint64(2), f.best().BestBlockNumber)
}

func TestSyncProcessorTickInterval(t *testing.T) {
	config, err := NewSyncConfiguration(1, 40*time.Millisecond, 20*time.Millisecond, time.Minute, 4, 10)
	require.NoError(t, err)

	f := newSyncFixture(t, config)
	assert.Equal(t, minTickInterval, f.sp.tickInterval())

	f = newSyncFixture(t, newTestConfig(t, 1))
	assert.Equal(t, 500*time.Millisecond, f.sp.tickInterval())
}

func TestSyncProcessorRecoversAfterPunishmentExpires(t *testing.T) {
	blocks := test.GenerateChain(test.Genesis(), 25, "remote")
	config := newTestConfig(t, 1)

	node := newServingNode(t, "node-1", config, blocks)
	f := newSyncFixture(t, config)
	f.connect(node)

	held := f.serve([]*servingNode{node}, func(s sentMessage) bool {
		return s.msg.Type() == MessageGetSkeleton
	})
	require.Len(t, held, 1)

	f.tick(config.TimeoutWaitingRequest())
	require.True(t, f.scoring.IsPunished(node.peer))

	stalled := false

	for i := 0; i < 30 && f.best().BestBlockNumber < 25; i++ {
		f.tick(30 * time.Second)
		stalled = stalled || f.sp.GetStatus().Stalled

		f.serve([]*servingNode{node}, nil)
	}

	// the status sent on connect expired while the peer was punished
	assert.True(t, stalled)
	assert.NotEmpty(t, requestsOf(f.history, MessageGetStatus))

	assert.False(t, f.scoring.IsPunished(node.peer))
	assert.Equal(t, uint64(25), f.best().BestBlockNumber)
	assert.Equal(t, StateIdle, f.sp.State())
	assert.False(t, f.sp.GetStatus().Stalled)
}

func TestSyncProcessorRefreshesAgingStatus(t *testing.T) {
	blocks := test.GenerateChain(test.Genesis(), 5, "shared")
	node := newServingNode(t, "node-1", newTestConfig(t, 1), blocks)
	f := newSyncFixture(t, newTestConfig(t, 1), blocks...)

	f.connect(node)
	require.Equal(t, StateIdle, f.sp.State())

	f.tick(time.Minute)
	assert.Empty(t, requestsOf(f.transport.take(), MessageGetStatus))

	f.tick(4 * time.Minute)

	sent := requestsOf(f.transport.take(), MessageGetStatus)
	require.Len(t, sent, 1)
	assert.Equal(t, node.peer, sent[0].peer)

	// no second request until the first one had time to be answered
	f.tick(time.Second)
	assert.Empty(t, requestsOf(f.transport.take(), MessageGetStatus))

	f.tick(time.Second)
	assert.Len(t, requestsOf(f.transport.take(), MessageGetStatus), 1)

	f.deliver(node.peer, node.status(t))
	f.tick(time.Second)
	assert.Empty(t, requestsOf(f.transport.take(), MessageGetStatus))
	assert.Equal(t, 1, f.sp.GetStatus().PeersWithStatus)
}
