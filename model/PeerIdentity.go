package model

import "fmt"

// PeerIdentity identifies a connected peer. NodeID is stable across reconnects, Address is
// the remote network address of the current connection and may change.
type PeerIdentity struct {
	NodeID  string `json:"node_id"`
	Address string `json:"address"`
}

func NewPeerIdentity(nodeID, address string) PeerIdentity {
	return PeerIdentity{NodeID: nodeID, Address: address}
}

func (p PeerIdentity) Key() string {
	return p.NodeID
}

func (p PeerIdentity) String() string {
	if p.Address == "" {
		return p.NodeID
	}

	return fmt.Sprintf("%s@%s", p.NodeID, p.Address)
}
