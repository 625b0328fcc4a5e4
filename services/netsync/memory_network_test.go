package netsync

import (
	"context"
	"sync"
	"testing"

	"github.com/dieguito9000/rskj/errors"
	"github.com/dieguito9000/rskj/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingReceiver struct {
	mu           sync.Mutex
	connected    []string
	disconnected []string
	messages     []sentMessage
}

func (r *recordingReceiver) PeerConnected(_ context.Context, peer model.PeerIdentity) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.connected = append(r.connected, peer.NodeID)
}

func (r *recordingReceiver) PeerDisconnected(_ context.Context, peer model.PeerIdentity) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.disconnected = append(r.disconnected, peer.NodeID)
}

func (r *recordingReceiver) HandleMessage(_ context.Context, peer model.PeerIdentity, msg Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.messages = append(r.messages, sentMessage{peer: peer, msg: msg})
}

func TestMemoryNetwork(t *testing.T) {
	ctx := context.Background()
	network := NewMemoryNetwork()

	alice := model.NewPeerIdentity("alice", "mem://alice")
	bob := model.NewPeerIdentity("bob", "mem://bob")

	aliceEndpoint := network.NewEndpoint(alice)
	bobEndpoint := network.NewEndpoint(bob)

	aliceReceiver := &recordingReceiver{}
	bobReceiver := &recordingReceiver{}

	aliceEndpoint.SetReceiver(aliceReceiver)
	bobEndpoint.SetReceiver(bobReceiver)

	assert.Equal(t, alice, aliceEndpoint.Self())

	t.Run("send before connecting", func(t *testing.T) {
		err := aliceEndpoint.SendMessage(ctx, bob, &GetBlock{Hash: fakeHash(1)})
		assert.True(t, errors.Is(err, errors.ErrNetwork))
	})

	t.Run("connect unknown endpoint", func(t *testing.T) {
		err := network.Connect(ctx, alice, model.NewPeerIdentity("carol", ""))
		assert.True(t, errors.Is(err, errors.ErrNotFound))
	})

	t.Run("connect and send", func(t *testing.T) {
		require.NoError(t, network.Connect(ctx, alice, bob))
		require.NoError(t, network.Connect(ctx, bob, alice))

		assert.Equal(t, []string{"alice"}, bobReceiver.connected)
		assert.Equal(t, []string{"bob"}, aliceReceiver.connected)

		require.NoError(t, aliceEndpoint.SendMessage(ctx, bob, &GetBlock{RequestID: 3, Hash: fakeHash(1)}))

		require.Len(t, bobReceiver.messages, 1)
		assert.Equal(t, alice, bobReceiver.messages[0].peer)
		assert.Equal(t, MessageGetBlock, bobReceiver.messages[0].msg.Type())
	})

	t.Run("disconnect", func(t *testing.T) {
		network.Disconnect(ctx, bob, alice)
		network.Disconnect(ctx, bob, alice)

		assert.Equal(t, []string{"bob"}, aliceReceiver.disconnected)
		assert.Equal(t, []string{"alice"}, bobReceiver.disconnected)

		err := bobEndpoint.SendMessage(ctx, alice, &GetBlock{Hash: fakeHash(1)})
		assert.True(t, errors.Is(err, errors.ErrNetwork))
	})
}
