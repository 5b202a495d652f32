package amount

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeQualityOne(t *testing.T) {
	hex, err := EncodeQuality(MustParseValue("1"))
	require.NoError(t, err)
	// mantissa 10^15, exponent -15: (85<<56) | 10^15
	assert.Equal(t, "55038D7EA4C68000", hex)
}

func TestEncodeQualityRejectsNonPositive(t *testing.T) {
	_, err := EncodeQuality(Zero())
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = EncodeQuality(MustParseValue("-2"))
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = EncodeQuality(Infinity())
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

// Key order must agree with numeric order on the underlying qualities,
// including across exponent boundaries.
func TestEncodeQualityOrdering(t *testing.T) {
	qualities := []string{
		"0.0000001",
		"0.000123456",
		"0.5",
		"0.999999",
		"1",
		"1.000001",
		"1.8",
		"2",
		"142857.142857",
		"10000000",
	}
	var prev string
	for i, q := range qualities {
		hex, err := EncodeQuality(MustParseValue(q))
		require.NoError(t, err, q)
		if i > 0 {
			assert.Less(t, prev, hex, "key for %s must sort after %s", q, qualities[i-1])
		}
		prev = hex
	}
}

// Encoding keeps at least 6 significant digits: nearby qualities that
// differ in the 6th digit must produce distinct, correctly ordered keys.
func TestEncodeQualityPrecision(t *testing.T) {
	a, err := EncodeQuality(MustParseValue("1.00000"))
	require.NoError(t, err)
	b, err := EncodeQuality(MustParseValue("1.00001"))
	require.NoError(t, err)
	assert.Less(t, a, b)
}
