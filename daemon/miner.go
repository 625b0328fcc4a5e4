package daemon

import (
	"context"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dieguito9000/rskj/ulogger"
)

// Miner extends the chain of a simulated peer at a fixed interval and announces every
// block to the peer's neighbours.
type Miner struct {
	logger   ulogger.Logger
	node     *Node
	clock    clock.Clock
	interval time.Duration
}

func NewMiner(logger ulogger.Logger, node *Node, clk clock.Clock, interval time.Duration) *Miner {
	return &Miner{
		logger:   logger,
		node:     node,
		clock:    clk,
		interval: interval,
	}
}

func (m *Miner) Health(_ context.Context, _ bool) (int, string, error) {
	return http.StatusOK, "OK", nil
}

func (m *Miner) Init(_ context.Context) error {
	return nil
}

func (m *Miner) Start(ctx context.Context, readyCh chan<- struct{}) error {
	if m.interval <= 0 {
		close(readyCh)
		<-ctx.Done()

		return nil
	}

	ticker := m.clock.Ticker(m.interval)
	defer ticker.Stop()

	close(readyCh)

	m.logger.Infof("[Miner] mining on %s every %s", m.node.Identity, m.interval)

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ticker.C:
			if err := m.mineOne(ctx); err != nil {
				m.logger.Errorf("[Miner] %v", err)
			}
		}
	}
}

func (m *Miner) mineOne(ctx context.Context) error {
	blocks, err := m.node.MineBlocks(ctx, 1, m.clock.Now())
	if err != nil {
		return err
	}

	for _, block := range blocks {
		m.logger.Infof("[Miner][%s] mined block %d", block.Hash(), block.Number())
		m.node.Sync.AnnounceBlock(ctx, block)
	}

	return nil
}

func (m *Miner) Stop(_ context.Context) error {
	return nil
}
