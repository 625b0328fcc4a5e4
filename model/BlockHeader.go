package model

import (
	"encoding/binary"
	"encoding/hex"
	"math/big"
	"time"

	"github.com/bsv-blockchain/go-bt/v2"
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/dieguito9000/rskj/errors"
)

// BlockHeaderSize is the serialized size of a block header.
const BlockHeaderSize = 4 + 8 + 32 + 32 + 4 + 4 + 4

type BlockHeader struct {
	// Version of the block.  This is not the same as the protocol version.
	Version uint32

	// Number is the height of the block, genesis is 0.
	Number uint64

	// Hash of the previous block header in the blockchain.
	HashPrevBlock *chainhash.Hash

	// Merkle tree reference to hash of all transactions for the block.
	HashMerkleRoot *chainhash.Hash

	// Time the block was created in unix time.
	Timestamp uint32

	// Difficulty target for the block.
	Bits NBit

	// Nonce used to generate the block.
	Nonce uint32
}

func NewBlockHeaderFromBytes(headerBytes []byte) (*BlockHeader, error) {
	if len(headerBytes) != BlockHeaderSize {
		return nil, errors.NewInvalidArgumentError("block header should be %d bytes long, got %d", BlockHeaderSize, len(headerBytes))
	}

	hashPrevBlock, err := chainhash.NewHash(headerBytes[12:44])
	if err != nil {
		return nil, errors.NewInvalidArgumentError("error creating previous block hash from bytes", err)
	}

	hashMerkleRoot, err := chainhash.NewHash(headerBytes[44:76])
	if err != nil {
		return nil, errors.NewInvalidArgumentError("error creating merkle root hash from bytes", err)
	}

	return &BlockHeader{
		Version:        binary.LittleEndian.Uint32(headerBytes[:4]),
		Number:         binary.LittleEndian.Uint64(headerBytes[4:12]),
		HashPrevBlock:  hashPrevBlock,
		HashMerkleRoot: hashMerkleRoot,
		Timestamp:      binary.LittleEndian.Uint32(headerBytes[76:80]),
		Bits:           NBit(binary.LittleEndian.Uint32(headerBytes[80:84])),
		Nonce:          binary.LittleEndian.Uint32(headerBytes[84:]),
	}, nil
}

func NewBlockHeaderFromString(headerHex string) (*BlockHeader, error) {
	headerBytes, err := hex.DecodeString(headerHex)
	if err != nil {
		return nil, errors.NewInvalidArgumentError("error decoding hex string to bytes", err)
	}

	return NewBlockHeaderFromBytes(headerBytes)
}

func (bh *BlockHeader) Hash() *chainhash.Hash {
	hash := chainhash.DoubleHashH(bh.Bytes())
	return &hash
}

func (bh *BlockHeader) String() string {
	return bh.Hash().String()
}

func (bh *BlockHeader) Bytes() []byte {
	b := make([]byte, BlockHeaderSize)

	binary.LittleEndian.PutUint32(b[:4], bh.Version)
	binary.LittleEndian.PutUint64(b[4:12], bh.Number)

	if bh.HashPrevBlock != nil {
		copy(b[12:44], bh.HashPrevBlock[:])
	}

	if bh.HashMerkleRoot != nil {
		copy(b[44:76], bh.HashMerkleRoot[:])
	}

	binary.LittleEndian.PutUint32(b[76:80], bh.Timestamp)
	binary.LittleEndian.PutUint32(b[80:84], uint32(bh.Bits))
	binary.LittleEndian.PutUint32(b[84:], bh.Nonce)

	return b
}

// HasValidProofOfWork reports whether the header hash meets its own target.
func (bh *BlockHeader) HasValidProofOfWork() bool {
	target := bh.Bits.CalculateTarget()
	if target.Sign() <= 0 {
		return false
	}

	digest := bt.ReverseBytes(bh.Hash().CloneBytes())
	bn := new(big.Int).SetBytes(digest)

	return bn.Cmp(target) <= 0
}

// Validate runs the context free checks of a header: the target must be inside the network
// limit, the hash must meet the target and the timestamp must not be too far in the future.
func (bh *BlockHeader) Validate(powLimit *big.Int, maxFuture time.Duration, now time.Time) error {
	if bh.HashPrevBlock == nil || bh.HashMerkleRoot == nil {
		return errors.NewBlockInvalidError("[%s] header is missing hashes", bh.Hash())
	}

	target := bh.Bits.CalculateTarget()
	if target.Sign() <= 0 {
		return errors.NewBlockInvalidError("[%s] target %s is not positive", bh.Hash(), bh.Bits)
	}

	if powLimit != nil && target.Cmp(powLimit) > 0 {
		return errors.NewBlockInvalidError("[%s] target %s is above the proof of work limit", bh.Hash(), bh.Bits)
	}

	if !bh.HasValidProofOfWork() {
		return errors.NewBlockInvalidError("[%s] hash does not meet target %s", bh.Hash(), bh.Bits)
	}

	if maxFuture > 0 && int64(bh.Timestamp) > now.Add(maxFuture).Unix() {
		return errors.NewBlockInvalidError("[%s] timestamp %d too far in the future", bh.Hash(), bh.Timestamp)
	}

	return nil
}
