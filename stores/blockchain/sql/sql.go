// Package sql is the chain store backed by sqlite (file or shared memory) or postgres.
package sql

import (
	"context"
	"math/big"
	"net/url"

	"github.com/dieguito9000/rskj/errors"
	"github.com/dieguito9000/rskj/settings"
	"github.com/dieguito9000/rskj/ulogger"
	"github.com/dieguito9000/rskj/util"
	"github.com/dieguito9000/rskj/util/usql"
)

const (
	stateKeyBestBlock = "best_block"
	chainWorkSize     = 32
)

type SQL struct {
	db     *usql.DB
	engine util.SQLEngine
	logger ulogger.Logger
}

func New(logger ulogger.Logger, storeURL *url.URL, tSettings *settings.Settings) (*SQL, error) {
	logger = logger.New("bcsql")

	db, err := util.InitSQLDB(logger, storeURL, tSettings)
	if err != nil {
		return nil, errors.NewStorageError("failed to init sql db", err)
	}

	engine := util.SQLEngine(storeURL.Scheme)

	switch engine {
	case util.Postgres:
		err = createSchema(db, postgresSchema)
	case util.Sqlite, util.SqliteMemory:
		err = createSchema(db, sqliteSchema)
	default:
		err = errors.NewConfigurationError("unknown database engine: %s", storeURL.Scheme)
	}

	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQL{
		db:     db,
		engine: engine,
		logger: logger,
	}, nil
}

func (s *SQL) GetDB() *usql.DB {
	return s.db
}

func (s *SQL) GetDBEngine() util.SQLEngine {
	return s.engine
}

func (s *SQL) Close() error {
	return s.db.Close()
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS state (
	    key            VARCHAR(32) PRIMARY KEY
	    ,data          BYTEA NOT NULL
	    ,inserted_at   TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	    ,updated_at    TIMESTAMPTZ NULL
	)`,
	`CREATE TABLE IF NOT EXISTS blocks (
	    id              BIGSERIAL PRIMARY KEY
	    ,parent_id      BIGINT NULL REFERENCES blocks(id)
	    ,hash           BYTEA NOT NULL
	    ,previous_hash  BYTEA NOT NULL
	    ,height         BIGINT NOT NULL
	    ,chain_work     BYTEA NOT NULL
	    ,on_main_chain  BOOLEAN NOT NULL DEFAULT FALSE
	    ,tx_count       BIGINT NOT NULL
	    ,size_in_bytes  BIGINT NOT NULL
	    ,block_data     BYTEA NOT NULL
	    ,inserted_at    TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_blocks_hash ON blocks (hash)`,
	`CREATE INDEX IF NOT EXISTS idx_blocks_height_main ON blocks (height, on_main_chain)`,
	`CREATE INDEX IF NOT EXISTS idx_blocks_previous_hash ON blocks (previous_hash)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS state (
	    key            VARCHAR(32) PRIMARY KEY
	    ,data          BLOB NOT NULL
	    ,inserted_at   TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
	    ,updated_at    TEXT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS blocks (
	    id              INTEGER PRIMARY KEY AUTOINCREMENT
	    ,parent_id      INTEGER NULL REFERENCES blocks(id)
	    ,hash           BLOB NOT NULL
	    ,previous_hash  BLOB NOT NULL
	    ,height         BIGINT NOT NULL
	    ,chain_work     BLOB NOT NULL
	    ,on_main_chain  BOOLEAN NOT NULL DEFAULT FALSE
	    ,tx_count       BIGINT NOT NULL
	    ,size_in_bytes  BIGINT NOT NULL
	    ,block_data     BLOB NOT NULL
	    ,inserted_at    TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_blocks_hash ON blocks (hash)`,
	`CREATE INDEX IF NOT EXISTS idx_blocks_height_main ON blocks (height, on_main_chain)`,
	`CREATE INDEX IF NOT EXISTS idx_blocks_previous_hash ON blocks (previous_hash)`,
}

func createSchema(db *usql.DB, statements []string) error {
	for _, stmt := range statements {
		if _, err := db.ExecContext(context.Background(), "createSchema", stmt); err != nil {
			return errors.NewStorageError("could not create schema", err)
		}
	}

	return nil
}

func chainWorkToBytes(work *big.Int) []byte {
	b := make([]byte, chainWorkSize)
	return work.FillBytes(b)
}

func chainWorkFromBytes(b []byte) *big.Int {
	return new(big.Int).SetBytes(b)
}
