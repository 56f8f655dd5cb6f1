package escrow

import (
	"fmt"
	"math/bits"
)

const feeDenominator = 10_000

// checkedAdd returns a+b or ErrOverflow when the sum wraps.
func checkedAdd(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, fmt.Errorf("%w: %d + %d", ErrOverflow, a, b)
	}
	return sum, nil
}

// checkedSub returns a-b or ErrOverflow when b exceeds a.
func checkedSub(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, fmt.Errorf("%w: %d - %d", ErrOverflow, a, b)
	}
	return diff, nil
}

// feeFromPool computes pool*bps/10_000 with truncating division. The 128-bit
// intermediate keeps the product exact for any pool that fits in 64 bits; the
// quotient is always <= pool so it cannot overflow.
func feeFromPool(pool uint64, bps uint32) uint64 {
	if bps == 0 || pool == 0 {
		return 0
	}
	hi, lo := bits.Mul64(pool, uint64(bps))
	fee, _ := bits.Div64(hi, lo, feeDenominator)
	return fee
}
