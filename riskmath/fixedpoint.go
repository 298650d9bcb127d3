// Package riskmath provides the integer fixed-point arithmetic shared by the
// pool accounting engine, the waterfall primitives, and the stress simulator.
// All monetary quantities are unsigned integers in the settlement currency's
// smallest unit (6 decimals); shares use an 18-decimal scale; ratios use
// basis points (denominator 10,000).
package riskmath

import (
	"errors"
	"math/big"
)

// ErrOverflow is returned by checked arithmetic when a result would overflow
// the 256-bit range this package operates in.
var ErrOverflow = errors.New("riskmath: arithmetic overflow")

// BasisPointsDenominator is the fixed denominator for all basis-point ratios.
const BasisPointsDenominator = 10_000

// ShareScale is the 18-decimal scale used for LP share accounting.
var ShareScale = mustBigInt("1000000000000000000")

var basisPoints = big.NewInt(BasisPointsDenominator)

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("riskmath: invalid big integer constant " + value)
	}
	return v
}

// bound256 mirrors the 256-bit ceiling the settlement ledger enforces on any
// single balance or share count. It is generous enough never to bind in
// practice; it exists so overflow is caught deterministically rather than
// silently wrapping.
var bound256 = new(big.Int).Lsh(big.NewInt(1), 256)

func checkBounds(v *big.Int) error {
	if v.Sign() < 0 {
		return ErrOverflow
	}
	if v.CmpAbs(bound256) >= 0 {
		return ErrOverflow
	}
	return nil
}

// MulDiv computes floor(a*b/c) with overflow checking on the intermediate
// product. c must be positive.
func MulDiv(a, b, c *big.Int) (*big.Int, error) {
	if a == nil || b == nil || c == nil || c.Sign() <= 0 {
		return nil, ErrOverflow
	}
	product := new(big.Int).Mul(a, b)
	if err := checkBounds(product); err != nil {
		return nil, err
	}
	result := new(big.Int).Quo(product, c)
	if err := checkBounds(result); err != nil {
		return nil, err
	}
	return result, nil
}

// BpsOf computes floor(amount*bps/BasisPointsDenominator).
func BpsOf(amount *big.Int, bps uint64) (*big.Int, error) {
	if amount == nil {
		return nil, ErrOverflow
	}
	return MulDiv(amount, new(big.Int).SetUint64(bps), basisPoints)
}

// RatioBps computes floor(numerator*10_000/denominator), saturating at 0 when
// the denominator is zero or non-positive (the convention used throughout the
// pool for "no exposure yet" ratios).
func RatioBps(numerator, denominator *big.Int) uint64 {
	if numerator == nil || denominator == nil || denominator.Sign() <= 0 {
		return 0
	}
	if numerator.Sign() <= 0 {
		return 0
	}
	ratio := new(big.Int).Mul(numerator, basisPoints)
	ratio.Quo(ratio, denominator)
	if !ratio.IsUint64() {
		return ^uint64(0)
	}
	return ratio.Uint64()
}

// ConvertToShares mints shares for a deposit of assets against the tranche's
// current NAV and outstanding share count, floor-rounded so the pool never
// mints more shares than the deposit's fair value. When totalShares is zero
// the pool is bootstrapping and shares are minted 1:1 with assets.
func ConvertToShares(assets, trancheNAV, totalShares *big.Int) (*big.Int, error) {
	if assets == nil || assets.Sign() < 0 {
		return nil, ErrOverflow
	}
	if totalShares == nil || totalShares.Sign() == 0 {
		return new(big.Int).Set(assets), nil
	}
	if trancheNAV == nil || trancheNAV.Sign() <= 0 {
		return nil, ErrOverflow
	}
	return MulDiv(assets, totalShares, trancheNAV)
}

// ConvertToAssets redeems shares into assets against the tranche's current
// NAV and outstanding share count, floor-rounded. When totalShares is zero
// there is nothing to redeem against and the shares convert 1:1.
func ConvertToAssets(shares, trancheNAV, totalShares *big.Int) (*big.Int, error) {
	if shares == nil || shares.Sign() < 0 {
		return nil, ErrOverflow
	}
	if totalShares == nil || totalShares.Sign() == 0 {
		return new(big.Int).Set(shares), nil
	}
	return MulDiv(shares, trancheNAV, totalShares)
}

// SaturatingSub computes a-b but floors the result at zero rather than going
// negative, matching the spec's "saturating at 0" convention used by INV-6.
func SaturatingSub(a, b *big.Int) *big.Int {
	if a == nil {
		return big.NewInt(0)
	}
	if b == nil {
		return new(big.Int).Set(a)
	}
	diff := new(big.Int).Sub(a, b)
	if diff.Sign() < 0 {
		return big.NewInt(0)
	}
	return diff
}

// Min returns the smaller of two non-negative integers.
func Min(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// Zero returns a fresh zero-valued big.Int, used to avoid aliasing shared
// zero constants across mutation sites.
func Zero() *big.Int { return big.NewInt(0) }
