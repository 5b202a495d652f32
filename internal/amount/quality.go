package amount

import "fmt"

// EncodeQuality converts a positive quality ratio into the ledger's
// 64-bit sortable key, rendered as 16 uppercase hex digits. The key is
// (exponent+100)<<56 | mantissa with the mantissa normalized to
// [10^15, 10^16), which makes lexicographic order on the hex string
// agree with numeric order on the quality.
func EncodeQuality(quality Value) (string, error) {
	if quality.inf || quality.Signum() <= 0 {
		return "", ErrInvalidAmount
	}
	key := uint64(quality.exponent+100)<<56 | uint64(quality.mantissa)
	return fmt.Sprintf("%016X", key), nil
}
