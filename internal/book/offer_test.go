package book

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xrpmon/bookd/internal/amount"
)

func TestParseOfferDirectoryQuality(t *testing.T) {
	dir := strings.Repeat("0", 48) + "55038d7ea4c68000"
	raw := `{"Account":"` + makerOne + `","Sequence":5,"Flags":131072,
		"BookDirectory":"` + dir + `",
		"TakerGets":{"currency":"USD","issuer":"` + issuerUSD + `","value":"7"},
		"TakerPays":{"currency":"EUR","issuer":"` + issuerEUR + `","value":"7"},
		"index":"ABCD"}`

	o, err := ParseOffer(json.RawMessage(raw))
	require.NoError(t, err)
	// The directory key wins over the derived encoding, upper-cased.
	assert.Equal(t, "55038D7EA4C68000", o.QualityHex)
	assert.Equal(t, "1", o.Quality.String())
	assert.Equal(t, uint32(131072), o.Flags)
	assert.Equal(t, "ABCD", o.ID)
}

func TestParseOfferRejectsBadAmounts(t *testing.T) {
	_, err := ParseOffer(json.RawMessage(`{"Account":"x","TakerGets":"abc","TakerPays":"1"}`))
	require.ErrorIs(t, err, amount.ErrInvalidAmount)

	_, err = ParseOffer(json.RawMessage(`{"Account":"x","TakerGets":"0","TakerPays":"1"}`))
	require.Error(t, err, "zero TakerGets has no quality")
}

func TestSetFunded(t *testing.T) {
	base := func() *Offer {
		o, err := ParseOffer(json.RawMessage(`{"Account":"` + makerOne + `","Sequence":1,
			"TakerGets":{"currency":"USD","issuer":"` + issuerUSD + `","value":"30"},
			"TakerPays":"9000001","index":"AA"}`))
		require.NoError(t, err)
		return o
	}

	full := base()
	full.setFunded(amount.MustParseValue("30"))
	assert.True(t, full.IsFullyFunded)
	assert.Equal(t, "9000001", full.TakerPaysFunded.String())

	partial := base()
	partial.setFunded(amount.MustParseValue("10"))
	assert.False(t, partial.IsFullyFunded)
	assert.Equal(t, "10", partial.TakerGetsFunded.String())
	// 10 * 300000.0333... floors to whole drops.
	assert.Equal(t, "3000000", partial.TakerPaysFunded.String())

	broke := base()
	broke.setFunded(amount.MustParseValue("-3"))
	assert.True(t, broke.TakerGetsFunded.IsZero())
	assert.True(t, broke.TakerPaysFunded.IsZero())

	issuer := base()
	issuer.setFunded(amount.Infinity())
	assert.True(t, issuer.IsFullyFunded)
}

func TestOfferJSONShape(t *testing.T) {
	o, err := ParseOffer(json.RawMessage(`{"Account":"` + makerOne + `","Sequence":1,
		"TakerGets":{"currency":"USD","issuer":"` + issuerUSD + `","value":"30"},
		"TakerPays":"9000000","index":"AA","owner_funds":"12.5"}`))
	require.NoError(t, err)
	o.setFunded(amount.MustParseValue("12.5"))

	data, err := json.Marshal(o)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "12.5", out["owner_funds"])
	assert.Equal(t, "12.5", out["taker_gets_funded"])
	assert.Equal(t, "3750000", out["taker_pays_funded"])
	assert.Equal(t, false, out["is_fully_funded"])
	assert.NotContains(t, out, "autobridged")
}
