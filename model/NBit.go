package model

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"github.com/dieguito9000/rskj/errors"
)

var (
	bigOne      = big.NewInt(1)
	oneLsh256   = new(big.Int).Lsh(bigOne, 256)
	maxTarget32 = int64(0x007fffff)
)

// NBit is the compact representation of a proof-of-work target.
type NBit uint32

func NewNBitFromString(s string) (NBit, error) {
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, errors.NewInvalidArgumentError("invalid nBits %q", s, err)
	}

	return NBit(v), nil
}

func (n NBit) String() string {
	b := []byte{byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)}
	return hex.EncodeToString(b)
}

// CalculateTarget expands the compact form into the full 256 bit target.
func (n NBit) CalculateTarget() *big.Int {
	exponent := uint32(n) >> 24
	mantissa := int64(uint32(n) & uint32(maxTarget32))

	// the sign bit is never valid for a target
	if uint32(n)&0x00800000 != 0 {
		return big.NewInt(0)
	}

	if exponent <= 3 {
		mantissa >>= 8 * (3 - exponent)
		return big.NewInt(mantissa)
	}

	target := big.NewInt(mantissa)

	return target.Lsh(target, uint(8*(exponent-3)))
}

// CalculateWork returns the expected number of hashes needed to meet the target,
// 2^256 / (target + 1).
func (n NBit) CalculateWork() *big.Int {
	target := n.CalculateTarget()
	if target.Sign() <= 0 {
		return big.NewInt(0)
	}

	return new(big.Int).Div(oneLsh256, new(big.Int).Add(target, bigOne))
}
