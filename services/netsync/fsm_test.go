package netsync

import (
	"context"
	"testing"

	"github.com/looplab/fsm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncFSM(t *testing.T) {
	ctx := context.Background()

	var entered []SyncState

	machine := newSyncFSM(func(_, to SyncState) {
		entered = append(entered, to)
	})

	assert.Equal(t, string(StateIdle), machine.Current())

	t.Run("blocks cannot be requested without a skeleton", func(t *testing.T) {
		assert.False(t, machine.Can(eventRequestBlocks))
		assert.False(t, machine.Can(eventSynced))
		assert.False(t, machine.Can(eventReset))

		err := machine.Event(ctx, eventRequestBlocks)
		require.Error(t, err)

		var invalid fsm.InvalidEventError
		assert.ErrorAs(t, err, &invalid)
	})

	t.Run("full attempt", func(t *testing.T) {
		for _, event := range []string{eventWaitPeers, eventRequestSkeleton, eventRequestBlocks, eventSynced, eventReset} {
			require.NoError(t, machine.Event(ctx, event))
		}

		assert.Equal(t, []SyncState{StateWaitingPeers, StateRequestingSkeleton, StateRequestingBlocks, StateSynced, StateIdle}, entered)
	})

	t.Run("fall back to waiting from a download", func(t *testing.T) {
		require.NoError(t, machine.Event(ctx, eventRequestSkeleton))
		require.NoError(t, machine.Event(ctx, eventRequestBlocks))
		require.NoError(t, machine.Event(ctx, eventWaitPeers))

		assert.Equal(t, string(StateWaitingPeers), machine.Current())
		assert.False(t, machine.Can(eventSynced))
	})
}
