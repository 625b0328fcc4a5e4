package netsync

import (
	"context"
	"sync"

	"github.com/dieguito9000/rskj/errors"
	"github.com/dieguito9000/rskj/model"
)

type link struct{ a, b string }

func newLink(a, b string) link {
	if a > b {
		a, b = b, a
	}

	return link{a: a, b: b}
}

// MemoryNetwork connects endpoints living in the same process. Messages are handed to the
// remote receiver synchronously; receivers are expected to queue them.
type MemoryNetwork struct {
	mu        sync.RWMutex
	endpoints map[string]*MemoryEndpoint
	links     map[link]struct{}
}

func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{
		endpoints: make(map[string]*MemoryEndpoint),
		links:     make(map[link]struct{}),
	}
}

// MemoryEndpoint is the Transport of one node on a MemoryNetwork.
type MemoryEndpoint struct {
	network  *MemoryNetwork
	self     model.PeerIdentity
	mu       sync.RWMutex
	receiver Receiver
}

func (n *MemoryNetwork) NewEndpoint(self model.PeerIdentity) *MemoryEndpoint {
	n.mu.Lock()
	defer n.mu.Unlock()

	e := &MemoryEndpoint{network: n, self: self}
	n.endpoints[self.Key()] = e

	return e
}

func (e *MemoryEndpoint) Self() model.PeerIdentity {
	return e.self
}

func (e *MemoryEndpoint) SetReceiver(receiver Receiver) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.receiver = receiver
}

func (e *MemoryEndpoint) getReceiver() Receiver {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.receiver
}

func (e *MemoryEndpoint) SendMessage(ctx context.Context, peer model.PeerIdentity, msg Message) error {
	e.network.mu.RLock()
	remote, ok := e.network.endpoints[peer.Key()]
	_, linked := e.network.links[newLink(e.self.Key(), peer.Key())]
	e.network.mu.RUnlock()

	if !ok || !linked {
		return errors.NewNetworkError("peer %s is not connected to %s", peer, e.self)
	}

	receiver := remote.getReceiver()
	if receiver == nil {
		return errors.NewNetworkError("peer %s has no receiver", peer)
	}

	receiver.HandleMessage(ctx, e.self, msg)

	return nil
}

// Connect links two endpoints and notifies both receivers.
func (n *MemoryNetwork) Connect(ctx context.Context, a, b model.PeerIdentity) error {
	n.mu.Lock()

	ea, okA := n.endpoints[a.Key()]
	eb, okB := n.endpoints[b.Key()]

	if !okA || !okB {
		n.mu.Unlock()
		return errors.NewNotFoundError("cannot connect %s to %s: unknown endpoint", a, b)
	}

	l := newLink(a.Key(), b.Key())
	if _, exists := n.links[l]; exists {
		n.mu.Unlock()
		return nil
	}

	n.links[l] = struct{}{}
	n.mu.Unlock()

	if r := eb.getReceiver(); r != nil {
		r.PeerConnected(ctx, ea.self)
	}

	if r := ea.getReceiver(); r != nil {
		r.PeerConnected(ctx, eb.self)
	}

	return nil
}

// Disconnect removes the link between two endpoints and notifies both receivers.
func (n *MemoryNetwork) Disconnect(ctx context.Context, a, b model.PeerIdentity) {
	n.mu.Lock()

	l := newLink(a.Key(), b.Key())
	if _, exists := n.links[l]; !exists {
		n.mu.Unlock()
		return
	}

	delete(n.links, l)
	ea, eb := n.endpoints[a.Key()], n.endpoints[b.Key()]
	n.mu.Unlock()

	if r := eb.getReceiver(); r != nil {
		r.PeerDisconnected(ctx, ea.self)
	}

	if r := ea.getReceiver(); r != nil {
		r.PeerDisconnected(ctx, eb.self)
	}
}
