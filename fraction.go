package circle

import (
	"fmt"
	"math"

	"github.com/holiman/uint256"
)

// Fraction is a fixed-precision fraction of a whole, expressed in basis
// points: Full (10000) is 1.0. Quorum, threshold and slash portions are all
// fractions.
type Fraction uint32

// Full is the fraction representing the whole, 100%.
const Full Fraction = 10_000

// Percent returns p% as a Fraction. Values over 100 stay out of range so
// validation rejects them instead of wrapping around.
func Percent(p uint32) Fraction {
	v := uint64(p) * 100
	if v > math.MaxUint32 {
		v = math.MaxUint32
	}
	return Fraction(v)
}

func (f Fraction) String() string {
	return fmt.Sprintf("%d.%02d%%", f/100, f%100)
}

// votesNeeded returns the minimum whole number of votes satisfying the
// fraction of the given weight, rounding up: 50% of 15 needs 8 votes, not 7.
func votesNeeded(weight uint64, f Fraction) uint64 {
	return (weight*uint64(f) + uint64(Full) - 1) / uint64(Full)
}

// portionOf returns amount scaled by the fraction, rounding down.
func portionOf(amount *uint256.Int, f Fraction) *uint256.Int {
	p := new(uint256.Int).Mul(amount, uint256.NewInt(uint64(f)))
	return p.Div(p, uint256.NewInt(uint64(Full)))
}
