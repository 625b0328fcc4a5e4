package netsync

import (
	"fmt"
	"math/big"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/dieguito9000/rskj/model"
)

type MessageType int

const (
	MessageStatus MessageType = iota
	MessageGetBlockHeaders
	MessageBlockHeaders
	MessageGetBlockBodies
	MessageBlockBodies
	MessageNewBlock
	MessageGetSkeleton
	MessageSkeleton
	MessageGetBlock
	MessageBlock
	MessageGetStatus
)

func (t MessageType) String() string {
	switch t {
	case MessageStatus:
		return "Status"
	case MessageGetBlockHeaders:
		return "GetBlockHeaders"
	case MessageBlockHeaders:
		return "BlockHeaders"
	case MessageGetBlockBodies:
		return "GetBlockBodies"
	case MessageBlockBodies:
		return "BlockBodies"
	case MessageNewBlock:
		return "NewBlock"
	case MessageGetSkeleton:
		return "GetSkeleton"
	case MessageSkeleton:
		return "Skeleton"
	case MessageGetBlock:
		return "GetBlock"
	case MessageBlock:
		return "Block"
	case MessageGetStatus:
		return "GetStatus"
	default:
		return fmt.Sprintf("Unknown(%d)", int(t))
	}
}

// responseTo maps a response kind to the request kind it answers.
var responseTo = map[MessageType]MessageType{
	MessageBlockHeaders: MessageGetBlockHeaders,
	MessageBlockBodies:  MessageGetBlockBodies,
	MessageSkeleton:     MessageGetSkeleton,
	MessageBlock:        MessageGetBlock,
}

// Message is a decoded peer message. Encoding is the transport's business.
type Message interface {
	Type() MessageType
}

// Response is a message answering a request; it carries the request id back.
type Response interface {
	Message
	GetRequestID() uint64
}

// Status advertises a peer's best block and the cumulative work of its chain.
type Status struct {
	BestBlockNumber uint64
	BestBlockHash   *chainhash.Hash
	TotalDifficulty *big.Int
}

func (m *Status) Type() MessageType { return MessageStatus }

// GetStatus asks a peer to send its Status again.
type GetStatus struct{}

func (m *GetStatus) Type() MessageType { return MessageGetStatus }

// GetBlockHeaders asks for Count headers ending at FromHash, walking towards genesis.
type GetBlockHeaders struct {
	RequestID uint64
	FromHash  *chainhash.Hash
	Count     int
}

func (m *GetBlockHeaders) Type() MessageType { return MessageGetBlockHeaders }

// BlockHeaders answers GetBlockHeaders, in descending order.
type BlockHeaders struct {
	RequestID uint64
	Headers   []*model.BlockHeader
}

func (m *BlockHeaders) Type() MessageType     { return MessageBlockHeaders }
func (m *BlockHeaders) GetRequestID() uint64 { return m.RequestID }

type GetBlockBodies struct {
	RequestID uint64
	Hashes    []*chainhash.Hash
}

func (m *GetBlockBodies) Type() MessageType { return MessageGetBlockBodies }

// BlockBodies answers GetBlockBodies, one body per requested hash, in request order.
type BlockBodies struct {
	RequestID uint64
	Bodies    []*model.BlockBody
}

func (m *BlockBodies) Type() MessageType     { return MessageBlockBodies }
func (m *BlockBodies) GetRequestID() uint64 { return m.RequestID }

// NewBlock announces a freshly mined or relayed block.
type NewBlock struct {
	Block *model.Block
}

func (m *NewBlock) Type() MessageType { return MessageNewBlock }

// GetSkeleton asks for checkpoints starting around StartNumber.
type GetSkeleton struct {
	RequestID   uint64
	StartNumber uint64
}

func (m *GetSkeleton) Type() MessageType { return MessageGetSkeleton }

// Skeleton answers GetSkeleton with increasing checkpoints of the peer's main chain.
type Skeleton struct {
	RequestID   uint64
	Checkpoints []model.BlockIdentifier
}

func (m *Skeleton) Type() MessageType     { return MessageSkeleton }
func (m *Skeleton) GetRequestID() uint64 { return m.RequestID }

type GetBlock struct {
	RequestID uint64
	Hash      *chainhash.Hash
}

func (m *GetBlock) Type() MessageType { return MessageGetBlock }

type Block struct {
	RequestID uint64
	Block     *model.Block
}

func (m *Block) Type() MessageType     { return MessageBlock }
func (m *Block) GetRequestID() uint64 { return m.RequestID }
