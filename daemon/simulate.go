package daemon

import (
	"context"
	"time"

	"github.com/dieguito9000/rskj/errors"
	"github.com/dieguito9000/rskj/settings"
	"golang.org/x/sync/errgroup"
)

type NodeResult struct {
	NodeID          string `json:"node_id"`
	BestBlockNumber uint64 `json:"best_block_number"`
	BestBlockHash   string `json:"best_block_hash"`
	Synced          bool   `json:"synced"`
	PunishedPeers   int    `json:"punished_peers"`
}

type SimulationResult struct {
	TargetNumber uint64        `json:"target_number"`
	TargetHash   string        `json:"target_hash"`
	Elapsed      time.Duration `json:"elapsed"`
	Nodes        []NodeResult  `json:"nodes"`
}

// Simulate starts the local node next to the configured in-memory peers, with the status
// API and the periodic miner disabled, and waits until every node holds the chain mined
// by the first peer or the simulation timeout expires.
func Simulate(ctx context.Context, tSettings *settings.Settings, opts ...Option) (*SimulationResult, error) {
	simSettings := *tSettings
	simSettings.Status.Enabled = false
	simSettings.Simulation.BlockInterval = 0

	if simSettings.Simulation.Peers < 1 {
		return nil, errors.NewConfigurationError("simulation needs at least one peer")
	}

	d, err := New(&simSettings, append(opts, WithContext(ctx))...)
	if err != nil {
		return nil, err
	}

	start := d.clock.Now()
	readyCh := make(chan struct{})
	errCh := make(chan error, 1)

	go func() {
		errCh <- d.Start(readyCh)
	}()

	select {
	case <-readyCh:
	case err = <-errCh:
		if err == nil {
			err = errors.NewServiceError("daemon stopped before the nodes were linked")
		}

		return nil, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, simSettings.Simulation.Timeout)
	defer cancel()

	syncErr := d.WaitForSync(waitCtx, 50*time.Millisecond)

	result, err := d.collect(ctx, d.clock.Since(start))

	d.Stop()

	if startErr := <-errCh; startErr != nil && syncErr == nil && err == nil {
		err = startErr
	}

	if syncErr != nil {
		return result, syncErr
	}

	return result, err
}

// WaitForSync polls every node until its best block is the best block of the mining peer.
func (d *Daemon) WaitForSync(ctx context.Context, pollInterval time.Duration) error {
	if len(d.peers) == 0 {
		return nil
	}

	target, err := d.peers[0].BestStatus(ctx)
	if err != nil {
		return err
	}

	g, gCtx := errgroup.WithContext(ctx)

	for _, node := range d.Nodes() {
		node := node

		g.Go(func() error {
			ticker := d.clock.Ticker(pollInterval)
			defer ticker.Stop()

			for {
				status, err := node.BestStatus(gCtx)
				if err != nil {
					return err
				}

				if status.BestBlockHash.IsEqual(target.BestBlockHash) {
					return nil
				}

				select {
				case <-gCtx.Done():
					return errors.NewContextCanceledError("[%s] not synced, at %d of %d", node.Identity.NodeID, status.BestBlockNumber, target.BestBlockNumber, gCtx.Err())
				case <-ticker.C:
				}
			}
		})
	}

	return g.Wait()
}

func (d *Daemon) collect(ctx context.Context, elapsed time.Duration) (*SimulationResult, error) {
	target, err := d.peers[0].BestStatus(ctx)
	if err != nil {
		return nil, err
	}

	result := &SimulationResult{
		TargetNumber: target.BestBlockNumber,
		TargetHash:   target.BestBlockHash.String(),
		Elapsed:      elapsed,
		Nodes:        make([]NodeResult, 0, len(d.peers)+1),
	}

	for _, node := range d.Nodes() {
		status, err := node.BestStatus(ctx)
		if err != nil {
			return nil, err
		}

		punished := 0

		for _, peer := range node.Sync.Peers() {
			if peer.Punished {
				punished++
			}
		}

		result.Nodes = append(result.Nodes, NodeResult{
			NodeID:          node.Identity.NodeID,
			BestBlockNumber: status.BestBlockNumber,
			BestBlockHash:   status.BestBlockHash.String(),
			Synced:          status.BestBlockHash.IsEqual(target.BestBlockHash),
			PunishedPeers:   punished,
		})
	}

	return result, nil
}
