package sql

import (
	"context"
	"database/sql"
	"math/big"

	"github.com/dieguito9000/rskj/errors"
	"github.com/dieguito9000/rskj/model"
)

func (s *SQL) StoreBlock(ctx context.Context, block *model.Block, chainWork *big.Int) (*model.BlockHeaderMeta, error) {
	hash := block.Hash()
	blockBytes := block.Bytes()

	if chainWork.Sign() < 0 || chainWork.BitLen() > chainWorkSize*8 {
		return nil, errors.NewInvalidArgumentError("[StoreBlock][%s] chain work out of range", hash)
	}

	meta := &model.BlockHeaderMeta{
		Height:      block.Number(),
		ChainWork:   new(big.Int).Set(chainWork),
		TxCount:     uint64(len(block.Transactions)),
		SizeInBytes: uint64(len(blockBytes)),
	}

	err := s.db.WithTx(ctx, "StoreBlock", func(tx *sql.Tx) error {
		var existing uint64

		err := tx.QueryRowContext(ctx, `SELECT id FROM blocks WHERE hash = $1`, hash[:]).Scan(&existing)
		if err == nil {
			return errors.NewBlockExistsError("[StoreBlock][%s] block already stored", hash)
		}

		if !errors.Is(err, sql.ErrNoRows) {
			return errors.NewStorageError("[StoreBlock][%s] failed to check block", hash, err)
		}

		var parentID sql.NullInt64

		err = tx.QueryRowContext(ctx, `SELECT id FROM blocks WHERE hash = $1`, block.ParentHash()[:]).Scan(&parentID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return errors.NewStorageError("[StoreBlock][%s] failed to look up parent", hash, err)
		}

		q := `
			INSERT INTO blocks (
				 parent_id
				,hash
				,previous_hash
				,height
				,chain_work
				,on_main_chain
				,tx_count
				,size_in_bytes
				,block_data
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING id
		`

		if err = tx.QueryRowContext(ctx, q,
			parentID,
			hash[:],
			block.ParentHash()[:],
			meta.Height,
			chainWorkToBytes(chainWork),
			false,
			meta.TxCount,
			meta.SizeInBytes,
			blockBytes,
		).Scan(&meta.ID); err != nil {
			return errors.NewStorageError("[StoreBlock][%s] failed to insert block", hash, err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return meta, nil
}
