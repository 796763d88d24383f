// Package amount renders a non-negative arbitrary-precision integer plus a
// decimal-places count into the canonical decimal string used for every
// Holding.Amount in the engine.
package amount

import (
	"math/big"
	"strings"
)

// Format renders n (non-negative, arbitrary precision) with decimals digits
// of fractional precision. With decimals == 0 it returns the bare integer.
// Otherwise it returns "q.f" where q, f = divmod(n, 10^decimals), f
// left-padded with zeros to width decimals. Trailing fractional zeros are
// preserved — this is not a display-trimmed form.
func Format(n *big.Int, decimals uint8) string {
	if n == nil {
		n = new(big.Int)
	}
	if decimals == 0 {
		return n.String()
	}

	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	q, r := new(big.Int).QuoRem(n, scale, new(big.Int))

	frac := r.String()
	if len(frac) < int(decimals) {
		frac = strings.Repeat("0", int(decimals)-len(frac)) + frac
	}
	return q.String() + "." + frac
}
