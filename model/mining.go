package model

import (
	"math"
	"time"
)

// Solve searches the nonce space for a hash meeting the header's target. It is only meant for
// test and simulation networks with trivial targets.
func (bh *BlockHeader) Solve() bool {
	for nonce := uint32(0); ; nonce++ {
		bh.Nonce = nonce
		if bh.HasValidProofOfWork() {
			return true
		}

		if nonce == math.MaxUint32 {
			return false
		}
	}
}

// MineBlock creates and solves a child of parent carrying the given transactions.
func MineBlock(parent *BlockHeader, bits NBit, timestamp time.Time, transactions [][]byte) *Block {
	header := &BlockHeader{
		Version:        1,
		Number:         parent.Number + 1,
		HashPrevBlock:  parent.Hash(),
		HashMerkleRoot: CalculateMerkleRoot(transactions),
		Timestamp:      uint32(timestamp.Unix()),
		Bits:           bits,
	}

	header.Solve()

	return NewBlock(header, transactions)
}
