package netsync

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/dieguito9000/rskj/chaincfg"
	"github.com/dieguito9000/rskj/errors"
	"github.com/dieguito9000/rskj/model"
	"github.com/dieguito9000/rskj/services/blockchain"
	"github.com/dieguito9000/rskj/ulogger"
)

type ProcessStatus int

const (
	AcceptedBest ProcessStatus = iota
	AcceptedSide
	AlreadyKnown
	Invalid
	Orphan
	Ignored
	Failed
)

func (s ProcessStatus) String() string {
	switch s {
	case AcceptedBest:
		return "AcceptedBest"
	case AcceptedSide:
		return "AcceptedSide"
	case AlreadyKnown:
		return "AlreadyKnown"
	case Invalid:
		return "Invalid"
	case Orphan:
		return "Orphan"
	case Ignored:
		return "Ignored"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// ProcessResult is the outcome of ProcessBlock. MissingParent is set for orphans and names
// the first ancestor that is neither stored nor buffered. Err explains Invalid and Failed.
type ProcessResult struct {
	Status        ProcessStatus
	MissingParent *chainhash.Hash
	Err           error
}

// NodeBlockProcessor validates incoming blocks and protocol payloads, and answers the
// block requests of other peers.
type NodeBlockProcessor struct {
	logger               ulogger.Logger
	config               *SyncConfiguration
	chainParams          *chaincfg.Params
	clock                clock.Clock
	blockchain           blockchain.ClientI
	blockSyncService     *BlockSyncService
	blockNodeInformation *BlockNodeInformation
}

func NewNodeBlockProcessor(logger ulogger.Logger, config *SyncConfiguration, chainParams *chaincfg.Params, clk clock.Clock,
	chain blockchain.ClientI, blockSyncService *BlockSyncService, blockNodeInformation *BlockNodeInformation) *NodeBlockProcessor {
	initPrometheusMetrics()

	return &NodeBlockProcessor{
		logger:               logger,
		config:               config,
		chainParams:          chainParams,
		clock:                clk,
		blockchain:           chain,
		blockSyncService:     blockSyncService,
		blockNodeInformation: blockNodeInformation,
	}
}

// ProcessBlock checks a block received from sender and hands it to the block sync service.
func (p *NodeBlockProcessor) ProcessBlock(ctx context.Context, sender model.PeerIdentity, block *model.Block) ProcessResult {
	start := time.Now()
	result := p.processBlock(ctx, sender, block)

	prometheusNetsyncProcessBlock.WithLabelValues(result.Status.String()).Observe(time.Since(start).Seconds())

	return result
}

func (p *NodeBlockProcessor) processBlock(ctx context.Context, sender model.PeerIdentity, block *model.Block) ProcessResult {
	if block == nil || block.Header == nil {
		return ProcessResult{Status: Invalid, Err: errors.NewPeerProtocolViolationError("block without header from %s", sender)}
	}

	hash := block.Hash()

	known, err := p.blockchain.HasBlock(ctx, hash)
	if err != nil {
		return ProcessResult{Status: Failed, Err: err}
	}

	if known {
		p.blockNodeInformation.RecordBlockKnownByPeer(hash, sender)
		return ProcessResult{Status: AlreadyKnown}
	}

	bestNumber, err := p.blockSyncService.GetBestBlockNumber(ctx)
	if err != nil {
		return ProcessResult{Status: Failed, Err: err}
	}

	if block.Number() > bestNumber+p.config.MaxSyncDistance() {
		p.logger.Debugf("[NodeBlockProcessor][%s] ignoring block %d from %s, local best is %d", hash, block.Number(), sender, bestNumber)
		return ProcessResult{Status: Ignored}
	}

	if err = p.validateBlock(block); err != nil {
		return ProcessResult{Status: Invalid, Err: err}
	}

	p.blockNodeInformation.RecordBlockKnownByPeer(hash, sender)

	importResult, err := p.blockSyncService.ConnectBlock(ctx, block, sender)

	switch importResult {
	case blockchain.ImportedBest:
		return ProcessResult{Status: AcceptedBest}
	case blockchain.ImportedNotBest:
		return ProcessResult{Status: AcceptedSide}
	case blockchain.Duplicate:
		return ProcessResult{Status: AlreadyKnown}
	case blockchain.Orphan:
		return ProcessResult{Status: Orphan, MissingParent: p.blockSyncService.GetUnknownAncestor(block.ParentHash())}
	case blockchain.Invalid:
		return ProcessResult{Status: Invalid, Err: err}
	default:
		if err == nil {
			err = errors.NewProcessingError("[NodeBlockProcessor][%s] unexpected import result %s", hash, importResult)
		}

		return ProcessResult{Status: Failed, Err: err}
	}
}

// validateBlock runs the checks that need nothing but the block itself.
func (p *NodeBlockProcessor) validateBlock(block *model.Block) error {
	if err := block.Header.Validate(p.chainParams.PowLimit, p.chainParams.MaxFutureBlockTime, p.clock.Now()); err != nil {
		return err
	}

	if p.chainParams.MaxBlockTransactions > 0 && len(block.Transactions) > p.chainParams.MaxBlockTransactions {
		return errors.NewBlockInvalidError("[%s] %d transactions exceed the limit of %d", block.Hash(), len(block.Transactions), p.chainParams.MaxBlockTransactions)
	}

	return block.CheckMerkleRoot()
}

// ProcessHeaders checks the headers of the chunk (start, end]. Headers arrive in descending
// order: the first one is end, the last one is the child of start.
func (p *NodeBlockProcessor) ProcessHeaders(start, end model.BlockIdentifier, headers []*model.BlockHeader) error {
	expected := end.Number - start.Number

	if uint64(len(headers)) != expected {
		return errors.NewPeerProtocolViolationError("expected %d headers for chunk (%d, %d], got %d", expected, start.Number, end.Number, len(headers))
	}

	if !headers[0].Hash().IsEqual(end.Hash) {
		return errors.NewPeerProtocolViolationError("first header %s is not the chunk end %s", headers[0].Hash(), end.Hash)
	}

	if !headers[len(headers)-1].HashPrevBlock.IsEqual(start.Hash) {
		return errors.NewPeerProtocolViolationError("last header parent %s is not the chunk start %s", headers[len(headers)-1].HashPrevBlock, start.Hash)
	}

	now := p.clock.Now()

	for i, header := range headers {
		if header.Number != end.Number-uint64(i) {
			return errors.NewPeerProtocolViolationError("header %s has number %d, expected %d", header.Hash(), header.Number, end.Number-uint64(i))
		}

		if err := header.Validate(p.chainParams.PowLimit, p.chainParams.MaxFutureBlockTime, now); err != nil {
			return err
		}

		if i > 0 && !headers[i-1].HashPrevBlock.IsEqual(header.Hash()) {
			return errors.NewPeerProtocolViolationError("header %s does not link to %s", headers[i-1].Hash(), header.Hash())
		}
	}

	return nil
}

// ProcessSkeleton checks a skeleton sent by a peer advertising peerBest as its best number.
func (p *NodeBlockProcessor) ProcessSkeleton(peerBest uint64, checkpoints []model.BlockIdentifier) error {
	if len(checkpoints) < 2 {
		return errors.NewPeerProtocolViolationError("skeleton needs at least 2 checkpoints, got %d", len(checkpoints))
	}

	if chunks := len(checkpoints) - 1; chunks > p.config.MaxSkeletonChunks() {
		return errors.NewPeerProtocolViolationError("skeleton has %d chunks, maximum is %d", chunks, p.config.MaxSkeletonChunks())
	}

	for i, cp := range checkpoints {
		if cp.Hash == nil {
			return errors.NewPeerProtocolViolationError("skeleton checkpoint %d has no hash", i)
		}

		if i == 0 {
			continue
		}

		previous := checkpoints[i-1].Number
		if cp.Number <= previous {
			return errors.NewPeerProtocolViolationError("skeleton checkpoint %d is not above %d", cp.Number, previous)
		}

		if cp.Number-previous > uint64(p.config.ChunkSize()) {
			return errors.NewPeerProtocolViolationError("skeleton gap %d..%d exceeds chunk size %d", previous, cp.Number, p.config.ChunkSize())
		}
	}

	if last := checkpoints[len(checkpoints)-1].Number; last > peerBest {
		return errors.NewPeerProtocolViolationError("skeleton ends at %d, beyond the advertised best %d", last, peerBest)
	}

	return nil
}

// ProcessGetBlockHeaders answers with up to Count main or side chain headers ending at
// FromHash, in descending order.
func (p *NodeBlockProcessor) ProcessGetBlockHeaders(ctx context.Context, request *GetBlockHeaders) (*BlockHeaders, error) {
	if request.FromHash == nil || request.Count <= 0 {
		return nil, errors.NewPeerProtocolViolationError("invalid headers request for %d headers", request.Count)
	}

	count := request.Count
	if count > p.config.ChunkSize() {
		count = p.config.ChunkSize()
	}

	headers := make([]*model.BlockHeader, 0, count)
	cursor := request.FromHash

	for len(headers) < count {
		block, _, err := p.blockchain.GetBlock(ctx, cursor)
		if err != nil {
			if errors.Is(err, errors.ErrBlockNotFound) && len(headers) > 0 {
				break
			}

			return nil, err
		}

		headers = append(headers, block.Header)

		if block.Number() == 0 {
			break
		}

		cursor = block.ParentHash()
	}

	return &BlockHeaders{RequestID: request.RequestID, Headers: headers}, nil
}

func (p *NodeBlockProcessor) ProcessGetBlockBodies(ctx context.Context, request *GetBlockBodies) (*BlockBodies, error) {
	if len(request.Hashes) > p.config.ChunkSize() {
		return nil, errors.NewPeerProtocolViolationError("body request for %d blocks exceeds chunk size %d", len(request.Hashes), p.config.ChunkSize())
	}

	bodies := make([]*model.BlockBody, 0, len(request.Hashes))

	for _, hash := range request.Hashes {
		block, _, err := p.blockchain.GetBlock(ctx, hash)
		if err != nil {
			return nil, err
		}

		bodies = append(bodies, block.Body())
	}

	return &BlockBodies{RequestID: request.RequestID, Bodies: bodies}, nil
}

// ProcessGetSkeleton answers with checkpoints of the main chain, one every chunk size
// blocks from StartNumber rounded down to a chunk boundary, closing with the best block.
func (p *NodeBlockProcessor) ProcessGetSkeleton(ctx context.Context, request *GetSkeleton) (*Skeleton, error) {
	best, _, err := p.blockchain.GetBestBlock(ctx)
	if err != nil {
		return nil, err
	}

	chunkSize := uint64(p.config.ChunkSize())
	bestNumber := best.Number()

	start := request.StartNumber
	if start >= bestNumber && bestNumber > 0 {
		start = bestNumber - 1
	}

	start = start / chunkSize * chunkSize

	maxCheckpoints := p.config.MaxSkeletonChunks() + 1
	numbers := []uint64{start}

	for n := start + chunkSize; n < bestNumber && len(numbers) < maxCheckpoints; n += chunkSize {
		numbers = append(numbers, n)
	}

	if len(numbers) < maxCheckpoints && numbers[len(numbers)-1] < bestNumber {
		numbers = append(numbers, bestNumber)
	}

	checkpoints := make([]model.BlockIdentifier, 0, len(numbers))

	for _, number := range numbers {
		block, _, err := p.blockchain.GetBlockByHeight(ctx, number)
		if err != nil {
			return nil, err
		}

		checkpoints = append(checkpoints, block.Identifier())
	}

	return &Skeleton{RequestID: request.RequestID, Checkpoints: checkpoints}, nil
}

func (p *NodeBlockProcessor) ProcessGetBlock(ctx context.Context, request *GetBlock) (*Block, error) {
	if request.Hash == nil {
		return nil, errors.NewPeerProtocolViolationError("block request without hash")
	}

	block, _, err := p.blockchain.GetBlock(ctx, request.Hash)
	if err != nil {
		return nil, err
	}

	return &Block{RequestID: request.RequestID, Block: block}, nil
}

// ProcessStatusRequest builds the Status message describing the local best chain.
func (p *NodeBlockProcessor) ProcessStatusRequest(ctx context.Context) (*Status, error) {
	status, err := p.blockchain.GetStatus(ctx)
	if err != nil {
		return nil, err
	}

	return &Status{
		BestBlockNumber: status.BestBlockNumber,
		BestBlockHash:   status.BestBlockHash,
		TotalDifficulty: status.TotalDifficulty,
	}, nil
}
