package netsync

import (
	"testing"

	"github.com/dieguito9000/rskj/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockNodeInformation(t *testing.T) {
	bni, err := NewBlockNodeInformation(10)
	require.NoError(t, err)

	alice := model.NewPeerIdentity("alice", "10.0.0.1:5050")
	bob := model.NewPeerIdentity("bob", "10.0.0.2:5050")

	t.Run("unknown block", func(t *testing.T) {
		assert.Empty(t, bni.GetPeersWithBlock(fakeHash(1)))
		assert.False(t, bni.IsBlockKnownByPeer(fakeHash(1), alice))
	})

	t.Run("peers are ordered by node id", func(t *testing.T) {
		bni.RecordBlockKnownByPeer(fakeHash(2), bob)
		bni.RecordBlockKnownByPeer(fakeHash(2), alice)
		bni.RecordBlockKnownByPeer(fakeHash(2), alice)

		assert.Equal(t, []model.PeerIdentity{alice, bob}, bni.GetPeersWithBlock(fakeHash(2)))
		assert.True(t, bni.IsBlockKnownByPeer(fakeHash(2), bob))
	})

	t.Run("address changes keep the node", func(t *testing.T) {
		moved := model.NewPeerIdentity("alice", "10.0.0.9:5050")
		assert.True(t, bni.IsBlockKnownByPeer(fakeHash(2), moved))
	})

	t.Run("forget peer", func(t *testing.T) {
		bni.RecordBlockKnownByPeer(fakeHash(3), alice)
		bni.ForgetPeer(alice)

		assert.Equal(t, []model.PeerIdentity{bob}, bni.GetPeersWithBlock(fakeHash(2)))
		assert.Empty(t, bni.GetPeersWithBlock(fakeHash(3)))
	})
}

func TestBlockNodeInformationRetention(t *testing.T) {
	bni, err := NewBlockNodeInformation(3)
	require.NoError(t, err)

	peer := model.NewPeerIdentity("alice", "10.0.0.1:5050")

	for i := 0; i < 5; i++ {
		bni.RecordBlockKnownByPeer(fakeHash(i), peer)
	}

	assert.Equal(t, 3, bni.Len())
	assert.False(t, bni.IsBlockKnownByPeer(fakeHash(0), peer))
	assert.False(t, bni.IsBlockKnownByPeer(fakeHash(1), peer))
	assert.True(t, bni.IsBlockKnownByPeer(fakeHash(4), peer))
}

func TestNewBlockNodeInformationRejectsZeroRetention(t *testing.T) {
	_, err := NewBlockNodeInformation(0)
	require.Error(t, err)
}
