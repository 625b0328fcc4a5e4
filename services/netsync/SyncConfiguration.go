package netsync

import (
	"time"

	"github.com/dieguito9000/rskj/errors"
	"github.com/dieguito9000/rskj/settings"
)

// SyncConfiguration holds the validated synchronization tunables. It is immutable once built.
type SyncConfiguration struct {
	expectedPeers                 int
	timeoutWaitingPeers           time.Duration
	timeoutWaitingRequest         time.Duration
	expirationTimePeerStatus      time.Duration
	maxSkeletonChunks             int
	chunkSize                     int
	maxOrphanBlocks               int
	orphanTTL                     time.Duration
	blockNodeInformationRetention int
	syncInterval                  time.Duration
	peerInboxSize                 int
}

func NewSyncConfigurationFromSettings(tSettings *settings.Settings) (*SyncConfiguration, error) {
	s := tSettings.Sync

	c := &SyncConfiguration{
		expectedPeers:                 s.ExpectedPeers,
		timeoutWaitingPeers:           s.TimeoutWaitingPeers,
		timeoutWaitingRequest:         s.TimeoutWaitingRequest,
		expirationTimePeerStatus:      s.ExpirationTimePeerStatus,
		maxSkeletonChunks:             s.MaxSkeletonChunks,
		chunkSize:                     s.ChunkSize,
		maxOrphanBlocks:               s.MaxOrphanBlocks,
		orphanTTL:                     s.OrphanTTL,
		blockNodeInformationRetention: s.BlockNodeInfoRetention,
		syncInterval:                  s.SyncInterval,
		peerInboxSize:                 s.PeerInboxSize,
	}

	if err := c.validate(); err != nil {
		return nil, err
	}

	return c, nil
}

// NewSyncConfiguration builds a configuration from the core tunables, taking the remaining
// ones from their defaults.
func NewSyncConfiguration(expectedPeers int, timeoutWaitingPeers, timeoutWaitingRequest, expirationTimePeerStatus time.Duration, maxSkeletonChunks, chunkSize int) (*SyncConfiguration, error) {
	c := &SyncConfiguration{
		expectedPeers:                 expectedPeers,
		timeoutWaitingPeers:           timeoutWaitingPeers,
		timeoutWaitingRequest:         timeoutWaitingRequest,
		expirationTimePeerStatus:      expirationTimePeerStatus,
		maxSkeletonChunks:             maxSkeletonChunks,
		chunkSize:                     chunkSize,
		maxOrphanBlocks:               1000,
		orphanTTL:                     10 * time.Minute,
		blockNodeInformationRetention: 1000,
		syncInterval:                  10 * time.Second,
		peerInboxSize:                 256,
	}

	if err := c.validate(); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *SyncConfiguration) validate() error {
	positiveInts := []struct {
		name  string
		value int
	}{
		{"expectedPeers", c.expectedPeers},
		{"maxSkeletonChunks", c.maxSkeletonChunks},
		{"chunkSize", c.chunkSize},
		{"maxOrphanBlocks", c.maxOrphanBlocks},
		{"blockNodeInformationRetention", c.blockNodeInformationRetention},
		{"peerInboxSize", c.peerInboxSize},
	}

	for _, v := range positiveInts {
		if v.value <= 0 {
			return errors.NewConfigurationError("%s must be positive, got %d", v.name, v.value)
		}
	}

	positiveDurations := []struct {
		name  string
		value time.Duration
	}{
		{"timeoutWaitingPeers", c.timeoutWaitingPeers},
		{"timeoutWaitingRequest", c.timeoutWaitingRequest},
		{"expirationTimePeerStatus", c.expirationTimePeerStatus},
		{"orphanTTL", c.orphanTTL},
		{"syncInterval", c.syncInterval},
	}

	for _, v := range positiveDurations {
		if v.value <= 0 {
			return errors.NewConfigurationError("%s must be positive, got %s", v.name, v.value)
		}
	}

	return nil
}

func (c *SyncConfiguration) ExpectedPeers() int                      { return c.expectedPeers }
func (c *SyncConfiguration) TimeoutWaitingPeers() time.Duration      { return c.timeoutWaitingPeers }
func (c *SyncConfiguration) TimeoutWaitingRequest() time.Duration    { return c.timeoutWaitingRequest }
func (c *SyncConfiguration) ExpirationTimePeerStatus() time.Duration { return c.expirationTimePeerStatus }
func (c *SyncConfiguration) MaxSkeletonChunks() int                  { return c.maxSkeletonChunks }
func (c *SyncConfiguration) ChunkSize() int                          { return c.chunkSize }
func (c *SyncConfiguration) MaxOrphanBlocks() int                    { return c.maxOrphanBlocks }
func (c *SyncConfiguration) OrphanTTL() time.Duration                { return c.orphanTTL }
func (c *SyncConfiguration) BlockNodeInformationRetention() int      { return c.blockNodeInformationRetention }
func (c *SyncConfiguration) SyncInterval() time.Duration             { return c.syncInterval }
func (c *SyncConfiguration) PeerInboxSize() int                      { return c.peerInboxSize }

// MaxSyncDistance is how far ahead of the local best a block may be before block processing
// leaves it to the sync driver.
func (c *SyncConfiguration) MaxSyncDistance() uint64 {
	return uint64(c.chunkSize) * uint64(c.maxSkeletonChunks)
}
