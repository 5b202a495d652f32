package amount

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmountNative(t *testing.T) {
	a, err := ParseAmount(json.RawMessage(`"1000000"`))
	require.NoError(t, err)
	assert.True(t, a.IsNative())
	assert.Equal(t, "1000000", a.ValueString())
	assert.Equal(t, "XRP", a.CurrencyString())
}

func TestParseAmountIssued(t *testing.T) {
	raw := json.RawMessage(`{"currency":"CNY","issuer":"rKiCet8SdvWxPXnAgYarFUXMh1zCPz432Y","value":"31.5"}`)
	a, err := ParseAmount(raw)
	require.NoError(t, err)
	assert.False(t, a.IsNative())
	assert.Equal(t, "31.5", a.ValueString())
	assert.Equal(t, "CNY/rKiCet8SdvWxPXnAgYarFUXMh1zCPz432Y", a.CurrencyString())
}

func TestParseAmountMalformed(t *testing.T) {
	_, err := ParseAmount(json.RawMessage(`"not a number"`))
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = ParseAmount(json.RawMessage(`{"currency":"CNY","issuer":"r...","value":"abc"}`))
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestAmountJSONRoundTrip(t *testing.T) {
	native := NewNative(MustParseValue("1500000.7"))
	data, err := json.Marshal(native)
	require.NoError(t, err)
	// Native drops render floored to whole drops.
	assert.Equal(t, `"1500000"`, string(data))

	issued := NewIssued(MustParseValue("0.25"), "USD", "rhub8VRN55s94qWKDv6jmDy1pUykJzF3wq")
	data, err = json.Marshal(issued)
	require.NoError(t, err)

	var back Amount
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, back.Value.Equal(issued.Value))
	assert.Equal(t, issued.Currency, back.Currency)
	assert.Equal(t, issued.Issuer, back.Issuer)
}

func TestNormalizeCurrency(t *testing.T) {
	assert.Equal(t, "XRP", NormalizeCurrency("xrp"))
	assert.Equal(t, "CNY", NormalizeCurrency("CNY"))
}

func TestIsValidCurrency(t *testing.T) {
	assert.True(t, IsValidCurrency("CNY"))
	assert.True(t, IsValidCurrency("0158415500000000C1F76FF6ECB0BAC600000000"))
	assert.False(t, IsValidCurrency("TOOLONG"))
	assert.False(t, IsValidCurrency(""))
}
