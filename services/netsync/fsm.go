package netsync

import (
	"context"

	"github.com/looplab/fsm"
)

type SyncState string

const (
	StateIdle               SyncState = "IDLE"
	StateWaitingPeers       SyncState = "WAITING_PEERS"
	StateRequestingSkeleton SyncState = "REQUESTING_SKELETON"
	StateRequestingBlocks   SyncState = "REQUESTING_BLOCKS"
	StateSynced             SyncState = "SYNCED"
)

var allSyncStates = []SyncState{StateIdle, StateWaitingPeers, StateRequestingSkeleton, StateRequestingBlocks, StateSynced}

const (
	eventWaitPeers       = "waitPeers"
	eventRequestSkeleton = "requestSkeleton"
	eventRequestBlocks   = "requestBlocks"
	eventSynced          = "synced"
	eventReset           = "reset"
)

// newSyncFSM creates the sync state machine. The machine has the following states:
// - IDLE
// - WAITING_PEERS
// - REQUESTING_SKELETON
// - REQUESTING_BLOCKS
// - SYNCED
// The machine has the following events:
// - waitPeers
// - requestSkeleton
// - requestBlocks
// - synced
// - reset
func newSyncFSM(onEnter func(from, to SyncState)) *fsm.FSM {
	return fsm.NewFSM(
		string(StateIdle),
		fsm.Events{
			{
				Name: eventWaitPeers,
				Src: []string{
					string(StateIdle),
					string(StateRequestingSkeleton),
					string(StateRequestingBlocks),
				},
				Dst: string(StateWaitingPeers),
			},
			{
				Name: eventRequestSkeleton,
				Src: []string{
					string(StateIdle),
					string(StateWaitingPeers),
				},
				Dst: string(StateRequestingSkeleton),
			},
			{
				Name: eventRequestBlocks,
				Src: []string{
					string(StateRequestingSkeleton),
				},
				Dst: string(StateRequestingBlocks),
			},
			{
				Name: eventSynced,
				Src: []string{
					string(StateRequestingSkeleton),
					string(StateRequestingBlocks),
				},
				Dst: string(StateSynced),
			},
			{
				Name: eventReset,
				Src: []string{
					string(StateWaitingPeers),
					string(StateRequestingSkeleton),
					string(StateRequestingBlocks),
					string(StateSynced),
				},
				Dst: string(StateIdle),
			},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				onEnter(SyncState(e.Src), SyncState(e.Dst))
			},
		},
	)
}
