// Package chaincfg defines the parameters of the networks a node can join. The sync core only
// needs the proof-of-work limits and the genesis template; everything else is left to the
// consensus layer.
package chaincfg

import (
	"math/big"
	"time"

	"github.com/dieguito9000/rskj/errors"
)

// These variables are the chain proof-of-work limit parameters for each default
// network.
var (
	// bigOne is 1 represented as a big.Int.  It is defined here to avoid
	// the overhead of creating it multiple times.
	bigOne = big.NewInt(1)

	// mainPowLimit is the highest proof of work value a block can have for the main network.
	mainPowLimit = new(big.Int).Sub(new(big.Int).Lsh(bigOne, 224), bigOne)

	// testNetPowLimit is the highest proof of work value a block can have for the test network.
	testNetPowLimit = new(big.Int).Sub(new(big.Int).Lsh(bigOne, 225), bigOne)

	// regressionPowLimit is the highest proof of work value a block can have for the
	// regression test network.
	regressionPowLimit = new(big.Int).Sub(new(big.Int).Lsh(bigOne, 255), bigOne)
)

// Params defines a network by its parameters.
type Params struct {
	// Name defines a human-readable identifier for the network.
	Name string

	// PowLimit defines the highest allowed proof of work value for a block
	// as a uint256.
	PowLimit *big.Int

	// PowLimitBits defines the highest allowed proof of work value for a
	// block in compact form.
	PowLimitBits uint32

	// GenesisTimestamp and GenesisBits define the first block of the chain, which is
	// trusted and never validated.
	GenesisTimestamp uint32
	GenesisBits      uint32

	// TargetTimePerBlock is the desired amount of time to generate each block.
	TargetTimePerBlock time.Duration

	// MaxFutureBlockTime bounds how far ahead of the local clock a block timestamp may be.
	MaxFutureBlockTime time.Duration

	// MaxBlockTransactions bounds the number of transactions accepted in one block.
	MaxBlockTransactions int
}

var MainNetParams = Params{
	Name:                 "mainnet",
	PowLimit:             mainPowLimit,
	PowLimitBits:         0x1d00ffff,
	GenesisTimestamp:     1514764800,
	GenesisBits:          0x1d00ffff,
	TargetTimePerBlock:   30 * time.Second,
	MaxFutureBlockTime:   2 * time.Hour,
	MaxBlockTransactions: 100_000,
}

var TestNetParams = Params{
	Name:                 "testnet",
	PowLimit:             testNetPowLimit,
	PowLimitBits:         0x1d01ffff,
	GenesisTimestamp:     1530403200,
	GenesisBits:          0x1d01ffff,
	TargetTimePerBlock:   30 * time.Second,
	MaxFutureBlockTime:   2 * time.Hour,
	MaxBlockTransactions: 100_000,
}

var RegressionNetParams = Params{
	Name:                 "regtest",
	PowLimit:             regressionPowLimit,
	PowLimitBits:         0x207fffff,
	GenesisTimestamp:     1296688602,
	GenesisBits:          0x207fffff,
	TargetTimePerBlock:   time.Second,
	MaxFutureBlockTime:   2 * time.Hour,
	MaxBlockTransactions: 10_000,
}

func GetChainParams(network string) (*Params, error) {
	switch network {
	case "mainnet":
		return &MainNetParams, nil
	case "testnet":
		return &TestNetParams, nil
	case "regtest":
		return &RegressionNetParams, nil
	default:
		return nil, errors.NewConfigurationError("unknown network %s", network)
	}
}
