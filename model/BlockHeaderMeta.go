package model

import "math/big"

// BlockHeaderMeta is the chain-store bookkeeping kept next to a block.
type BlockHeaderMeta struct {
	ID          uint64   `json:"id"`            // ID of the block in the internal blockchain DB.
	Height      uint64   `json:"height"`        // Height of the block in the blockchain.
	ChainWork   *big.Int `json:"chain_work"`    // Cumulative work up to and including this block.
	OnMainChain bool     `json:"on_main_chain"` // Whether the block is part of the canonical chain.
	TxCount     uint64   `json:"tx_count"`      // Number of transactions in the block.
	SizeInBytes uint64   `json:"size_in_bytes"` // Size of the block in bytes.
}
