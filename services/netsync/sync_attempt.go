package netsync

import (
	"time"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/dieguito9000/rskj/model"
	"github.com/dieguito9000/rskj/services/blockchain"
)

type chunkState int

const (
	chunkPending chunkState = iota
	chunkRequestingHeaders
	chunkRequestingBodies
	chunkDownloaded
	chunkDone
)

// chunk is the block range (start, end] between two consecutive skeleton checkpoints.
type chunk struct {
	index  int
	start  model.BlockIdentifier
	end    model.BlockIdentifier
	state  chunkState
	source model.PeerIdentity

	// headers are ascending once validated
	headers []*model.BlockHeader
	blocks  []*model.Block

	// peers that failed this chunk are not asked for it again
	failedPeers map[string]struct{}
}

func (c *chunk) size() int {
	return int(c.end.Number - c.start.Number)
}

// syncAttempt is one skeleton plus the download of its chunks.
type syncAttempt struct {
	id                 string
	startedAt          time.Time
	local              *blockchain.Status
	skeletonCandidates []model.PeerIdentity
	skeletonPeer       model.PeerIdentity
	target             *Status
	chunks             []*chunk
	nextChunk          int
}

func newSyncAttempt(id string, now time.Time, local *blockchain.Status, candidates []model.PeerIdentity) *syncAttempt {
	return &syncAttempt{
		id:                 id,
		startedAt:          now,
		local:              local,
		skeletonCandidates: candidates,
	}
}

func (a *syncAttempt) buildChunks(checkpoints []model.BlockIdentifier) {
	a.chunks = make([]*chunk, 0, len(checkpoints)-1)

	for i := 1; i < len(checkpoints); i++ {
		a.chunks = append(a.chunks, &chunk{
			index:       i - 1,
			start:       checkpoints[i-1],
			end:         checkpoints[i],
			failedPeers: make(map[string]struct{}),
		})
	}

	a.nextChunk = 0
}

func (a *syncAttempt) chunksDone() int {
	done := 0

	for _, c := range a.chunks {
		if c.state == chunkDone {
			done++
		}
	}

	return done
}

func (a *syncAttempt) allChunksDone() bool {
	return len(a.chunks) > 0 && a.chunksDone() == len(a.chunks)
}

// pendingRequest is an outstanding request to a peer.
type pendingRequest struct {
	ID        uint64
	Peer      model.PeerIdentity
	Type      MessageType
	IssuedAt  time.Time
	Deadline  time.Time
	attemptID string
	chunk     *chunk
	hash      *chainhash.Hash
	depth     int
}

type peerState struct {
	peer     model.PeerIdentity
	status   *Status
	statusAt time.Time
	lastUsed time.Time

	statusRequestedAt time.Time
}

// SyncStatus is a read-only snapshot of the sync driver.
type SyncStatus struct {
	State           SyncState `json:"state"`
	Stalled         bool      `json:"stalled"`
	AttemptID       string    `json:"attempt_id,omitempty"`
	TargetPeer      string    `json:"target_peer,omitempty"`
	TargetNumber    uint64    `json:"target_number,omitempty"`
	Chunks          int       `json:"chunks"`
	ChunksDone      int       `json:"chunks_done"`
	PendingRequests int       `json:"pending_requests"`
	ConnectedPeers  int       `json:"connected_peers"`
	PeersWithStatus int       `json:"peers_with_status"`
}
