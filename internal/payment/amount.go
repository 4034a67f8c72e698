package payment

import (
	"strconv"
	"strings"
)

// FormatUnits renders an amount given in the token's smallest unit as a
// decimal string, dropping trailing fractional zeros.
func FormatUnits(units uint64, decimals uint8) string {
	digits := strconv.FormatUint(units, 10)
	if decimals == 0 {
		return digits
	}

	d := int(decimals)
	if len(digits) <= d {
		digits = strings.Repeat("0", d-len(digits)+1) + digits
	}

	whole, frac := digits[:len(digits)-d], strings.TrimRight(digits[len(digits)-d:], "0")
	if frac == "" {
		return whole
	}
	return whole + "." + frac
}
