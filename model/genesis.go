package model

import (
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/dieguito9000/rskj/chaincfg"
)

// GenesisBlock builds the first block of the network described by params.
func GenesisBlock(params *chaincfg.Params) *Block {
	header := &BlockHeader{
		Version:        1,
		Number:         0,
		HashPrevBlock:  &chainhash.Hash{},
		HashMerkleRoot: CalculateMerkleRoot(nil),
		Timestamp:      params.GenesisTimestamp,
		Bits:           NBit(params.GenesisBits),
		Nonce:          0,
	}

	return NewBlock(header, nil)
}
