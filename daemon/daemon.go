// Package daemon assembles a node from the settings: the local sync node, the in-memory
// peers it is connected to, the block producer on the first peer and the status API, all
// run by a service manager.
package daemon

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dieguito9000/rskj/errors"
	"github.com/dieguito9000/rskj/model"
	"github.com/dieguito9000/rskj/services/netsync"
	"github.com/dieguito9000/rskj/settings"
	"github.com/dieguito9000/rskj/ulogger"
	"github.com/dieguito9000/rskj/util/servicemanager"
)

const (
	localNodeID = "local"
	regtest     = "regtest"
)

type Daemon struct {
	Ctx            context.Context
	ServiceManager *servicemanager.ServiceManager
	loggerFactory  func(serviceName string) ulogger.Logger
	clock          clock.Clock
	settings       *settings.Settings

	network *netsync.MemoryNetwork
	local   *Node
	peers   []*Node
	status  *StatusServer

	closeOnce sync.Once
}

// New builds every node of the daemon. Nothing is connected until Start, so a
// configuration error never reaches the network.
func New(tSettings *settings.Settings, opts ...Option) (*Daemon, error) {
	d := &Daemon{
		Ctx:      context.Background(),
		clock:    clock.New(),
		settings: tSettings,
		loggerFactory: func(serviceName string) ulogger.Logger {
			return ulogger.New(serviceName, ulogger.WithLevel(tSettings.LogLevel))
		},
		network: netsync.NewMemoryNetwork(),
	}

	for _, opt := range opts {
		opt(d)
	}

	d.ServiceManager = servicemanager.NewServiceManager(d.Ctx, d.loggerFactory("smgr"))

	if err := d.buildNodes(); err != nil {
		d.closeNodes()
		return nil, err
	}

	return d, nil
}

func (d *Daemon) buildNodes() error {
	sim := d.settings.Simulation

	if sim.Peers < 0 || sim.InitialBlocks < 0 {
		return errors.NewConfigurationError("simulation needs a non negative peer and block count, got %d peers and %d blocks", sim.Peers, sim.InitialBlocks)
	}

	if sim.Peers > 0 && d.settings.Network != regtest {
		return errors.NewConfigurationError("simulated peers mine at the minimum difficulty and need the %s network, got %s", regtest, d.settings.Network)
	}

	local, err := d.newNode(localNodeID, d.settings.BlockChain.StoreURL)
	if err != nil {
		return err
	}

	d.local = local

	for i := 1; i <= sim.Peers; i++ {
		storeURL, _ := url.Parse("memory:///")

		peer, err := d.newNode(fmt.Sprintf("sim-%d", i), storeURL)
		if err != nil {
			return err
		}

		d.peers = append(d.peers, peer)
	}

	if len(d.peers) > 0 && sim.InitialBlocks > 0 {
		if _, err = d.peers[0].MineBlocks(d.Ctx, sim.InitialBlocks, time.Time{}); err != nil {
			return err
		}
	}

	if d.settings.Status.Enabled {
		d.status = NewStatusServer(d.loggerFactory("http"), d.settings.Status.HTTPListenAddress, d.local, d.ServiceManager.HealthHandler)
	}

	return nil
}

func (d *Daemon) newNode(nodeID string, storeURL *url.URL) (*Node, error) {
	identity := model.NewPeerIdentity(nodeID, "mem://"+nodeID)
	endpoint := d.network.NewEndpoint(identity)

	createLogger := func(service string) ulogger.Logger {
		return d.loggerFactory(service + "-" + nodeID)
	}

	return NewNode(d.Ctx, createLogger, d.settings, d.clock, identity, endpoint, storeURL)
}

// Start runs every service, links the nodes once they are all running and blocks until the
// daemon is stopped or a service fails. readyCh, when given, is closed after the nodes are
// linked.
func (d *Daemon) Start(readyCh ...chan struct{}) error {
	logger := d.loggerFactory("daemon")
	sm := d.ServiceManager

	defer d.closeNodes()

	if err := d.addServices(sm); err != nil {
		sm.ForceShutdown()
		_ = sm.Wait()

		return err
	}

	go func() {
		if err := sm.WaitForServiceToBeReady(sm.Ctx); err != nil {
			return
		}

		if err := d.linkNodes(sm.Ctx); err != nil {
			logger.Errorf("[Daemon] could not link nodes: %v", err)
			sm.ForceShutdown()

			return
		}

		logger.Infof("[Daemon] %d nodes linked", len(d.peers)+1)

		for _, ch := range readyCh {
			close(ch)
		}
	}()

	return sm.Wait()
}

func (d *Daemon) addServices(sm *servicemanager.ServiceManager) error {
	if err := sm.AddService("Sync-"+d.local.Identity.NodeID, d.local.Sync); err != nil {
		return err
	}

	for _, peer := range d.peers {
		if err := sm.AddService("Sync-"+peer.Identity.NodeID, peer.Sync); err != nil {
			return err
		}
	}

	if len(d.peers) > 0 {
		miner := NewMiner(d.loggerFactory("minr"), d.peers[0], d.clock, d.settings.Simulation.BlockInterval)
		if err := sm.AddService("Miner", miner); err != nil {
			return err
		}
	}

	if d.status != nil {
		if err := sm.AddService("StatusServer", d.status); err != nil {
			return err
		}
	}

	return nil
}

// linkNodes connects the local node to every simulated peer, and the mining peer to the
// other simulated peers.
func (d *Daemon) linkNodes(ctx context.Context) error {
	for i, peer := range d.peers {
		if err := d.network.Connect(ctx, d.local.Identity, peer.Identity); err != nil {
			return err
		}

		if i > 0 {
			if err := d.network.Connect(ctx, d.peers[0].Identity, peer.Identity); err != nil {
				return err
			}
		}
	}

	return nil
}

// Stop cancels every service; Start returns once they have stopped.
func (d *Daemon) Stop() {
	d.ServiceManager.ForceShutdown()
}

func (d *Daemon) closeNodes() {
	d.closeOnce.Do(func() {
		for _, node := range d.Nodes() {
			if err := node.Close(); err != nil {
				d.loggerFactory("daemon").Warnf("[Daemon] could not close store of %s: %v", node.Identity, err)
			}
		}
	})
}

func (d *Daemon) Local() *Node {
	return d.local
}

// Nodes lists the local node followed by the simulated peers.
func (d *Daemon) Nodes() []*Node {
	nodes := make([]*Node, 0, len(d.peers)+1)

	if d.local != nil {
		nodes = append(nodes, d.local)
	}

	return append(nodes, d.peers...)
}

// StatusAddr is the address the status API is bound to, empty when it is disabled or not
// started.
func (d *Daemon) StatusAddr() string {
	if d.status == nil {
		return ""
	}

	return d.status.Addr()
}
