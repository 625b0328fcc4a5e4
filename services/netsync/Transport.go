package netsync

import (
	"context"

	"github.com/dieguito9000/rskj/model"
)

// Transport delivers messages to connected peers. Implementations must not block on the
// remote side: SendMessage queues the message and returns.
type Transport interface {
	SendMessage(ctx context.Context, peer model.PeerIdentity, msg Message) error
}

// Receiver is the inbound side of a transport.
type Receiver interface {
	PeerConnected(ctx context.Context, peer model.PeerIdentity)
	PeerDisconnected(ctx context.Context, peer model.PeerIdentity)
	HandleMessage(ctx context.Context, peer model.PeerIdentity, msg Message)
}
