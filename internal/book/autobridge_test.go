package book

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xrpmon/bookd/internal/amount"
)

const (
	makerOne   = "rKiCet8SdvWxPXnAgYarFUXMh1zCPz432Y"
	makerTwo   = "rBxy23n7ZFbUpS699rFVj1V9ZVhAq6EGwC"
	issuerUSD  = "rvYAfWj5gh67oV6fW32ZzP3Aw4Eubs59B"
	issuerEUR  = "rMwjYedjc7qqtKYVLiAccJSmCwih4LnE2q"
	bridgePair = "USD"
)

func bridgedPair() Pair {
	return Pair{
		CurrencyGets: "USD", IssuerGets: issuerUSD,
		CurrencyPays: "EUR", IssuerPays: issuerEUR,
	}
}

// legOneOffer sells native for the pays currency. gets is the funded
// native quantity, quality the pays-per-native price.
func legOneOffer(t *testing.T, account, gets, quality string) *Offer {
	t.Helper()
	g := amount.MustParseValue(gets)
	q := amount.MustParseValue(quality)
	o := &Offer{
		Account:   account,
		TakerGets: amount.NewNative(g),
		TakerPays: amount.NewIssued(g.Mul(q), "EUR", issuerEUR),
		Quality:   q,
	}
	hex, err := amount.EncodeQuality(q)
	require.NoError(t, err)
	o.QualityHex = hex
	o.setFunded(amount.Infinity())
	return o
}

// legTwoOffer sells the gets currency for native. pays is the funded
// native quantity, quality the native-per-gets price.
func legTwoOffer(t *testing.T, account, pays, quality string) *Offer {
	t.Helper()
	p := amount.MustParseValue(pays)
	q := amount.MustParseValue(quality)
	gets, err := p.Div(q)
	require.NoError(t, err)
	o := &Offer{
		Account:   account,
		TakerGets: amount.NewIssued(gets, "USD", issuerUSD),
		TakerPays: amount.NewNative(p),
		Quality:   q,
	}
	hex, err := amount.EncodeQuality(q)
	require.NoError(t, err)
	o.QualityHex = hex
	o.setFunded(amount.Infinity())
	return o
}

func requireSortedByQuality(t *testing.T, offers []*Offer) {
	t.Helper()
	for i := 1; i < len(offers); i++ {
		require.LessOrEqual(t, offers[i-1].QualityHex, offers[i].QualityHex,
			"offer %d out of order", i)
	}
}

func TestBridgeMergeJoin(t *testing.T) {
	legOne := []*Offer{
		legOneOffer(t, makerOne, "10", "2"),
		legOneOffer(t, makerOne, "5", "3"),
	}
	legTwo := []*Offer{
		legTwoOffer(t, makerTwo, "8", "0.5"),
		legTwoOffer(t, makerTwo, "7", "0.6"),
	}

	calc := newBridgeCalculator(bridgedPair(), legOne, legTwo)
	offers, err := calc.Calculate(context.Background())
	require.NoError(t, err)
	require.Len(t, offers, 3)

	// First round bridges all of leg two's 8 native through leg
	// one's 10, leaving leg one 2 funded.
	assert.Equal(t, "1", offers[0].Quality.String())
	assert.Equal(t, "16", offers[0].TakerGets.Value.String())
	assert.Equal(t, "16", offers[0].TakerPays.Value.String())

	// The remaining 2 clamps leg two's second offer.
	assert.Equal(t, "1.2", offers[1].Quality.String())
	assert.Equal(t, "4", offers[1].TakerPays.Value.String())

	// Both second offers now hold 5 native and consume each other.
	assert.Equal(t, "1.8", offers[2].Quality.String())
	assert.Equal(t, "15", offers[2].TakerPays.Value.String())

	requireSortedByQuality(t, offers)

	for _, o := range offers {
		assert.True(t, o.Autobridged)
		assert.Equal(t, "USD", o.TakerGets.Currency)
		assert.Equal(t, "EUR", o.TakerPays.Currency)
		assert.True(t, o.TakerGetsFunded.Equal(o.TakerGets.Value))
		assert.True(t, o.TakerPaysFunded.Equal(o.TakerPays.Value))
	}
}

func TestBridgeSkipsUnfundedLegs(t *testing.T) {
	dry := legOneOffer(t, makerOne, "10", "2")
	dry.setFunded(amount.Zero())
	legOne := []*Offer{
		dry,
		legOneOffer(t, makerOne, "8", "2"),
	}
	legTwo := []*Offer{
		legTwoOffer(t, makerTwo, "8", "0.5"),
	}

	calc := newBridgeCalculator(bridgedPair(), legOne, legTwo)
	offers, err := calc.Calculate(context.Background())
	require.NoError(t, err)
	require.Len(t, offers, 1)
	assert.Equal(t, "1", offers[0].Quality.String())
}

func TestBridgeSameOwnerUnclamp(t *testing.T) {
	// The owner's leg-one offer is only funded for 4 native, but the
	// same owner sits on leg two, so the funds constraint does not
	// bind for that round.
	one := legOneOffer(t, makerOne, "10", "2")
	one.setFunded(amount.MustParseValue("4"))
	worse := legOneOffer(t, makerOne, "5", "3")
	worse.setFunded(amount.Zero())

	legOne := []*Offer{one, worse}
	legTwo := []*Offer{
		legTwoOffer(t, makerOne, "8", "0.5"),
		legTwoOffer(t, makerTwo, "2", "0.6"),
		legTwoOffer(t, makerTwo, "6", "0.7"),
	}

	calc := newBridgeCalculator(bridgedPair(), legOne, legTwo)
	offers, err := calc.Calculate(context.Background())
	require.NoError(t, err)
	require.Len(t, offers, 3)

	// Round one bridges the full 8 despite the 4 clamp; clamping
	// back leaves 2 real funding on the offer and 2 as leftover.
	assert.Equal(t, "1", offers[0].Quality.String())
	assert.Equal(t, "16", offers[0].TakerGets.Value.String())

	// Round two consumes the remaining 2 of the first offer.
	assert.Equal(t, "1.2", offers[1].Quality.String())
	assert.Equal(t, "4", offers[1].TakerPays.Value.String())

	// The leftover 2 tops up the owner's otherwise unfunded worse
	// offer for round three.
	assert.Equal(t, "2.1", offers[2].Quality.String())
	assert.Equal(t, "6", offers[2].TakerPays.Value.String())
	requireSortedByQuality(t, offers)
}

func TestBridgeDeepBooksComplete(t *testing.T) {
	var legOne, legTwo []*Offer
	for i := 0; i < 500; i++ {
		legOne = append(legOne, legOneOffer(t, makerOne, "10", fmt.Sprintf("%d", 2+i)))
		legTwo = append(legTwo, legTwoOffer(t, makerTwo, "10", fmt.Sprintf("0.%03d", 500+i)))
	}

	calc := newBridgeCalculator(bridgedPair(), legOne, legTwo)
	offers, err := calc.Calculate(context.Background())
	require.NoError(t, err)
	require.Len(t, offers, 500)
	requireSortedByQuality(t, offers)
}

func TestBridgeCancelled(t *testing.T) {
	legOne := []*Offer{legOneOffer(t, makerOne, "10", "2")}
	legTwo := []*Offer{legTwoOffer(t, makerTwo, "8", "0.5")}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// A cancelled context is only observed at slice boundaries, so a
	// shallow book still completes.
	calc := newBridgeCalculator(bridgedPair(), legOne, legTwo)
	offers, err := calc.Calculate(ctx)
	require.NoError(t, err)
	require.Len(t, offers, 1)
}
