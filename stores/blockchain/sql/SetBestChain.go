package sql

import (
	"context"
	"database/sql"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/dieguito9000/rskj/errors"
)

func (s *SQL) SetBestChain(ctx context.Context, disconnect []*chainhash.Hash, connect []*chainhash.Hash) error {
	if len(connect) == 0 {
		return errors.NewInvalidArgumentError("[SetBestChain] no blocks to connect")
	}

	tip := connect[len(connect)-1]

	return s.db.WithTx(ctx, "SetBestChain", func(tx *sql.Tx) error {
		for _, h := range disconnect {
			if err := setOnMainChain(ctx, tx, h, false); err != nil {
				return err
			}
		}

		for _, h := range connect {
			if err := setOnMainChain(ctx, tx, h, true); err != nil {
				return err
			}
		}

		var tipHeight uint64
		if err := tx.QueryRowContext(ctx, `SELECT height FROM blocks WHERE hash = $1`, tip[:]).Scan(&tipHeight); err != nil {
			return errors.NewStorageError("[SetBestChain][%s] failed to read tip height", tip, err)
		}

		if _, err := tx.ExecContext(ctx, `UPDATE blocks SET on_main_chain = $1 WHERE height > $2 AND on_main_chain = $3`, false, tipHeight, true); err != nil {
			return errors.NewStorageError("[SetBestChain][%s] failed to trim main chain", tip, err)
		}

		q := `
			INSERT INTO state (key, data, updated_at) VALUES ($1, $2, CURRENT_TIMESTAMP)
			ON CONFLICT (key) DO UPDATE SET data = excluded.data, updated_at = CURRENT_TIMESTAMP
		`
		if _, err := tx.ExecContext(ctx, q, stateKeyBestBlock, tip[:]); err != nil {
			return errors.NewStorageError("[SetBestChain][%s] failed to store best block", tip, err)
		}

		return nil
	})
}

func setOnMainChain(ctx context.Context, tx *sql.Tx, hash *chainhash.Hash, onMainChain bool) error {
	res, err := tx.ExecContext(ctx, `UPDATE blocks SET on_main_chain = $1 WHERE hash = $2`, onMainChain, hash[:])
	if err != nil {
		return errors.NewStorageError("[SetBestChain][%s] failed to update block", hash, err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.NewBlockNotFoundError("[SetBestChain][%s] block not found", hash)
	}

	return nil
}
