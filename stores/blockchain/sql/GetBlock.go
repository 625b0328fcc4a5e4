package sql

import (
	"context"
	"database/sql"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/dieguito9000/rskj/errors"
	"github.com/dieguito9000/rskj/model"
)

const selectBlockColumns = `
	SELECT
	     b.id
	    ,b.height
	    ,b.chain_work
	    ,b.on_main_chain
	    ,b.tx_count
	    ,b.size_in_bytes
	    ,b.block_data
	FROM blocks b
`

func scanBlock(row *sql.Row) (*model.Block, *model.BlockHeaderMeta, error) {
	var (
		meta      model.BlockHeaderMeta
		chainWork []byte
		blockData []byte
	)

	if err := row.Scan(
		&meta.ID,
		&meta.Height,
		&chainWork,
		&meta.OnMainChain,
		&meta.TxCount,
		&meta.SizeInBytes,
		&blockData,
	); err != nil {
		return nil, nil, err
	}

	block, err := model.NewBlockFromBytes(blockData)
	if err != nil {
		return nil, nil, errors.NewStorageError("failed to decode stored block %d", meta.ID, err)
	}

	meta.ChainWork = chainWorkFromBytes(chainWork)

	return block, &meta, nil
}

func (s *SQL) GetBlock(ctx context.Context, blockHash *chainhash.Hash) (*model.Block, *model.BlockHeaderMeta, error) {
	block, meta, err := scanBlock(s.db.QueryRowContext(ctx, "GetBlock", selectBlockColumns+` WHERE b.hash = $1`, blockHash[:]))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, errors.NewBlockNotFoundError("[GetBlock][%s] block not found", blockHash)
		}

		return nil, nil, errors.NewStorageError("[GetBlock][%s] failed to get block", blockHash, err)
	}

	return block, meta, nil
}

func (s *SQL) GetBlockHeader(ctx context.Context, blockHash *chainhash.Hash) (*model.BlockHeader, *model.BlockHeaderMeta, error) {
	block, meta, err := s.GetBlock(ctx, blockHash)
	if err != nil {
		return nil, nil, err
	}

	return block.Header, meta, nil
}

func (s *SQL) GetBlockByHeight(ctx context.Context, height uint64) (*model.Block, *model.BlockHeaderMeta, error) {
	block, meta, err := scanBlock(s.db.QueryRowContext(ctx, "GetBlockByHeight", selectBlockColumns+` WHERE b.height = $1 AND b.on_main_chain = $2`, height, true))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, errors.NewBlockNotFoundError("[GetBlockByHeight][%d] no main chain block", height)
		}

		return nil, nil, errors.NewStorageError("[GetBlockByHeight][%d] failed to get block", height, err)
	}

	return block, meta, nil
}

func (s *SQL) GetBlockExists(ctx context.Context, blockHash *chainhash.Hash) (bool, error) {
	var height uint64

	err := s.db.QueryRowContext(ctx, "GetBlockExists", `SELECT b.height FROM blocks b WHERE b.hash = $1`, blockHash[:]).Scan(&height)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}

		return false, errors.NewStorageError("[GetBlockExists][%s] failed to check block", blockHash, err)
	}

	return true, nil
}

func (s *SQL) GetBestBlockHeader(ctx context.Context) (*model.BlockHeader, *model.BlockHeaderMeta, error) {
	var data []byte

	err := s.db.QueryRowContext(ctx, "GetBestBlockHeader", `SELECT data FROM state WHERE key = $1`, stateKeyBestBlock).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, errors.NewNotFoundError("[GetBestBlockHeader] no best block")
		}

		return nil, nil, errors.NewStorageError("[GetBestBlockHeader] failed to read state", err)
	}

	hash, err := chainhash.NewHash(data)
	if err != nil {
		return nil, nil, errors.NewStorageError("[GetBestBlockHeader] invalid best block hash", err)
	}

	return s.GetBlockHeader(ctx, hash)
}
