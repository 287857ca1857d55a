package brokerage

import "math/big"

const secondsPerYear = 31_536_000

var (
	basisPoints = big.NewInt(10_000)
	wad         = big.NewInt(1_000_000_000_000_000_000)
)

// mulDivDown returns floor(a*b/d). A zero denominator yields zero.
func mulDivDown(a, b, d *big.Int) *big.Int {
	if a == nil || b == nil || d == nil || d.Sign() == 0 {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	return product.Quo(product, d)
}

// mulDivUp returns ceil(a*b/d) for non-negative operands.
func mulDivUp(a, b, d *big.Int) *big.Int {
	if a == nil || b == nil || d == nil || d.Sign() == 0 {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	quotient, remainder := new(big.Int).QuoRem(product, d, new(big.Int))
	if remainder.Sign() > 0 {
		quotient.Add(quotient, big.NewInt(1))
	}
	return quotient
}

// bpsUp returns ceil(amount*bps/10000).
func bpsUp(amount *big.Int, bps uint64) *big.Int {
	if bps == 0 || amount == nil || amount.Sign() <= 0 {
		return big.NewInt(0)
	}
	return mulDivUp(amount, new(big.Int).SetUint64(bps), basisPoints)
}

func minInt(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}
