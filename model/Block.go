package model

import (
	"bytes"

	"github.com/bsv-blockchain/go-bt/v2"
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/dieguito9000/rskj/errors"
)

// Block is a header plus its transactions. Transactions are opaque to the sync core; only
// their hashes matter, through the merkle root committed in the header.
type Block struct {
	Header       *BlockHeader
	Transactions [][]byte
}

// BlockBody is what a peer sends in answer to a body request.
type BlockBody struct {
	Transactions [][]byte
}

// BlockIdentifier is a (number, hash) pair, used for skeleton checkpoints.
type BlockIdentifier struct {
	Number uint64
	Hash   *chainhash.Hash
}

func NewBlock(header *BlockHeader, transactions [][]byte) *Block {
	return &Block{
		Header:       header,
		Transactions: transactions,
	}
}

// NewBlockFromHeaderAndBody assembles a block from a previously validated header and a body
// received separately, checking that the body matches the header's merkle root.
func NewBlockFromHeaderAndBody(header *BlockHeader, body *BlockBody) (*Block, error) {
	if body == nil {
		return nil, errors.NewBlockInvalidError("[%s] missing body", header.Hash())
	}

	block := NewBlock(header, body.Transactions)
	if err := block.CheckMerkleRoot(); err != nil {
		return nil, err
	}

	return block, nil
}

func (b *Block) Hash() *chainhash.Hash {
	return b.Header.Hash()
}

func (b *Block) Number() uint64 {
	return b.Header.Number
}

func (b *Block) ParentHash() *chainhash.Hash {
	return b.Header.HashPrevBlock
}

func (b *Block) Body() *BlockBody {
	return &BlockBody{Transactions: b.Transactions}
}

func (b *Block) Identifier() BlockIdentifier {
	return BlockIdentifier{Number: b.Header.Number, Hash: b.Hash()}
}

func (b *Block) String() string {
	return b.Hash().String()
}

// CheckMerkleRoot verifies that the transactions hash to the root committed in the header.
func (b *Block) CheckMerkleRoot() error {
	root := CalculateMerkleRoot(b.Transactions)
	if !root.IsEqual(b.Header.HashMerkleRoot) {
		return errors.NewBlockInvalidError("[%s] merkle root mismatch, header %s, calculated %s", b.Hash(), b.Header.HashMerkleRoot, root)
	}

	return nil
}

// CalculateMerkleRoot builds the merkle root of the transaction hashes, duplicating the last
// hash on levels with an odd count. An empty transaction list has the zero hash as root.
func CalculateMerkleRoot(transactions [][]byte) *chainhash.Hash {
	if len(transactions) == 0 {
		return &chainhash.Hash{}
	}

	level := make([]chainhash.Hash, 0, len(transactions))
	for _, tx := range transactions {
		level = append(level, chainhash.DoubleHashH(tx))
	}

	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}

		next := make([]chainhash.Hash, 0, len(level)/2)

		for i := 0; i < len(level); i += 2 {
			var buf [chainhash.HashSize * 2]byte

			copy(buf[:chainhash.HashSize], level[i][:])
			copy(buf[chainhash.HashSize:], level[i+1][:])
			next = append(next, chainhash.DoubleHashH(buf[:]))
		}

		level = next
	}

	root := level[0]

	return &root
}

// Bytes serializes the block as header, varint transaction count and varint length
// prefixed transactions.
func (b *Block) Bytes() []byte {
	var buf bytes.Buffer

	buf.Write(b.Header.Bytes())
	buf.Write(bt.VarInt(uint64(len(b.Transactions))).Bytes())

	for _, tx := range b.Transactions {
		buf.Write(bt.VarInt(uint64(len(tx))).Bytes())
		buf.Write(tx)
	}

	return buf.Bytes()
}

func NewBlockFromBytes(blockBytes []byte) (*Block, error) {
	if len(blockBytes) < BlockHeaderSize+1 {
		return nil, errors.NewInvalidArgumentError("block should be at least %d bytes long", BlockHeaderSize+1)
	}

	header, err := NewBlockHeaderFromBytes(blockBytes[:BlockHeaderSize])
	if err != nil {
		return nil, err
	}

	offset := BlockHeaderSize

	txCount, size, err := readVarInt(blockBytes[offset:])
	if err != nil {
		return nil, err
	}

	offset += size

	// every transaction needs at least one byte of length prefix
	if uint64(len(blockBytes)-offset) < uint64(txCount) {
		return nil, errors.NewInvalidArgumentError("[%s] transaction count %d exceeds block size", header.Hash(), txCount)
	}

	transactions := make([][]byte, 0, txCount)

	for i := uint64(0); i < uint64(txCount); i++ {
		txLen, size, err := readVarInt(blockBytes[offset:])
		if err != nil {
			return nil, err
		}

		offset += size

		if uint64(len(blockBytes)-offset) < uint64(txLen) {
			return nil, errors.NewInvalidArgumentError("[%s] truncated transaction %d", header.Hash(), i)
		}

		tx := make([]byte, txLen)
		copy(tx, blockBytes[offset:offset+int(txLen)])
		offset += int(txLen)

		transactions = append(transactions, tx)
	}

	if offset != len(blockBytes) {
		return nil, errors.NewInvalidArgumentError("[%s] %d trailing bytes after transactions", header.Hash(), len(blockBytes)-offset)
	}

	return NewBlock(header, transactions), nil
}

// BlockIdentifiers returns the identifiers of the blocks, in the same order.
func BlockIdentifiers(blocks []*Block) []BlockIdentifier {
	ids := make([]BlockIdentifier, 0, len(blocks))
	for _, b := range blocks {
		ids = append(ids, b.Identifier())
	}

	return ids
}

// BlockHashes returns the hashes of the headers, in the same order.
func BlockHashes(headers []*BlockHeader) []*chainhash.Hash {
	hashes := make([]*chainhash.Hash, 0, len(headers))
	for _, h := range headers {
		hashes = append(hashes, h.Hash())
	}

	return hashes
}

func readVarInt(b []byte) (bt.VarInt, int, error) {
	if len(b) == 0 {
		return 0, 0, errors.NewInvalidArgumentError("missing varint")
	}

	need := 1

	switch b[0] {
	case 0xfd:
		need = 3
	case 0xfe:
		need = 5
	case 0xff:
		need = 9
	}

	if len(b) < need {
		return 0, 0, errors.NewInvalidArgumentError("truncated varint")
	}

	v, size := bt.NewVarIntFromBytes(b)

	return v, size, nil
}
