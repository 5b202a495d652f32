package book

import (
	"context"
	"runtime"
	"time"

	"github.com/xrpmon/bookd/internal/amount"
)

// workSlice bounds how long one merge-join burst may hold the
// goroutine before yielding.
const workSlice = 30 * time.Millisecond

// bridgeCalculator composes synthetic offers for an issued-to-issued
// book out of the two native legs: leg one sells native for the pays
// currency, leg two sells the gets currency for native. Both legs are
// private clones; the calculator consumes them destructively.
type bridgeCalculator struct {
	pair     Pair
	legOne   []*Offer
	legTwo   []*Offer
	leftover map[string]amount.Value
}

func newBridgeCalculator(pair Pair, legOne, legTwo []*Offer) *bridgeCalculator {
	return &bridgeCalculator{
		pair:     pair,
		legOne:   legOne,
		legTwo:   legTwo,
		leftover: make(map[string]amount.Value),
	}
}

// Calculate runs the merge-join over both legs in quality order,
// yielding periodically so long books do not starve the scheduler.
func (c *bridgeCalculator) Calculate(ctx context.Context) ([]*Offer, error) {
	var out []*Offer
	i, j := 0, 0
	sliceStart := time.Now()

	for i < len(c.legOne) && j < len(c.legTwo) {
		if time.Since(sliceStart) > workSlice {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			runtime.Gosched()
			sliceStart = time.Now()
		}

		one := c.legOne[i]
		two := c.legTwo[j]

		// An owner present on both legs round-trips its native
		// funds through the bridge, so its leg-one funding clamp
		// does not bind.
		if one.Account == two.Account {
			c.unclampLegOne(one)
		} else if !one.IsFullyFunded && c.leftoverFunds(one.Account).Signum() > 0 {
			c.adjustLegOneFunded(one)
		}

		oneGetsFunded := one.TakerGetsFunded
		twoPaysFunded := two.TakerPaysFunded
		if oneGetsFunded.Signum() <= 0 {
			i++
			continue
		}
		if twoPaysFunded.Signum() <= 0 {
			j++
			continue
		}

		var gets, pays amount.Value
		var err error
		switch cmp := oneGetsFunded.Compare(twoPaysFunded); {
		case cmp > 0:
			// Leg two's native input limits the bridge.
			gets, pays = c.consumeClampedLegOne(one, two)
			j++
		case cmp < 0:
			// Leg one's native output limits the bridge.
			gets, pays, err = c.consumeClampedLegTwo(one, two)
			if err != nil {
				return nil, err
			}
			i++
		default:
			gets, pays = two.TakerGetsFunded, one.TakerPaysFunded
			i++
			j++
		}

		offer, err := c.compose(gets, pays, one.Quality.Mul(two.Quality))
		if err != nil {
			return nil, err
		}
		out = append(out, offer)
	}
	return out, nil
}

// consumeClampedLegOne bridges all of leg two through part of leg one.
func (c *bridgeCalculator) consumeClampedLegOne(one, two *Offer) (gets, pays amount.Value) {
	oneGetsFunded := one.TakerGetsFunded
	twoPaysFunded := two.TakerPaysFunded

	gets = two.TakerGetsFunded
	pays = twoPaysFunded.Mul(one.Quality)

	if one.Account == two.Account {
		c.setLegOneTakerGets(one, one.TakerGets.Value.Sub(twoPaysFunded))
		c.clampBackLegOne(one)
	} else {
		c.setLegOneTakerGetsFunded(one, oneGetsFunded.Sub(twoPaysFunded))
	}
	return gets, pays
}

// consumeClampedLegTwo bridges all of leg one through part of leg two.
func (c *bridgeCalculator) consumeClampedLegTwo(one, two *Offer) (gets, pays amount.Value, err error) {
	oneGetsFunded := one.TakerGetsFunded

	gets, err = oneGetsFunded.Div(two.Quality)
	if err != nil {
		return gets, pays, err
	}
	pays = one.TakerPaysFunded

	two.TakerGetsFunded = two.TakerGetsFunded.Sub(gets)
	two.TakerPaysFunded = two.TakerPaysFunded.Sub(oneGetsFunded)
	return gets, pays, nil
}

// compose builds the synthetic offer for one bridge step.
func (c *bridgeCalculator) compose(gets, pays, quality amount.Value) (*Offer, error) {
	hex, err := amount.EncodeQuality(quality)
	if err != nil {
		return nil, err
	}
	return &Offer{
		TakerGets:       amount.NewIssued(gets, c.pair.CurrencyGets, c.pair.IssuerGets),
		TakerPays:       amount.NewIssued(pays, c.pair.CurrencyPays, c.pair.IssuerPays),
		Quality:         quality,
		QualityHex:      hex,
		TakerGetsFunded: gets,
		TakerPaysFunded: pays,
		IsFullyFunded:   true,
		Autobridged:     true,
	}, nil
}

// unclampLegOne lifts the funding clamp for a same-owner bridge step,
// remembering the real funding for the clamp-back.
func (c *bridgeCalculator) unclampLegOne(one *Offer) {
	one.initTakerGetsFunded = one.TakerGetsFunded
	c.setLegOneTakerGetsFunded(one, one.TakerGets.Value)
}

// clampBackLegOne restores the funding clamp after a same-owner step.
// Funding the step did not actually spend becomes leftover usable by
// the owner's worse offers on leg one.
func (c *bridgeCalculator) clampBackLegOne(one *Offer) {
	takerGets := one.TakerGets.Value
	if takerGets.Compare(one.initTakerGetsFunded) > 0 {
		c.setLegOneTakerGetsFunded(one, one.initTakerGetsFunded)
		return
	}
	spare := one.initTakerGetsFunded.Sub(takerGets)
	c.setLegOneTakerGetsFunded(one, takerGets)
	c.leftover[one.Account] = c.leftoverFunds(one.Account).Add(spare)
}

// adjustLegOneFunded tops a partially funded leg-one offer up from the
// owner's leftover funds.
func (c *bridgeCalculator) adjustLegOneFunded(one *Offer) {
	fundedSum := one.TakerGetsFunded.Add(c.leftoverFunds(one.Account))
	if fundedSum.Compare(one.TakerGets.Value) >= 0 {
		c.setLegOneTakerGetsFunded(one, one.TakerGets.Value)
		c.leftover[one.Account] = fundedSum.Sub(one.TakerGets.Value)
		return
	}
	c.setLegOneTakerGetsFunded(one, fundedSum)
	c.leftover[one.Account] = amount.Zero()
}

// setLegOneTakerGets rewrites a leg-one offer's amounts at constant
// quality.
func (c *bridgeCalculator) setLegOneTakerGets(one *Offer, takerGets amount.Value) {
	one.TakerGets = one.TakerGets.WithValue(takerGets)
	one.TakerPays = one.TakerPays.WithValue(takerGets.Mul(one.Quality))
}

// setLegOneTakerGetsFunded rewrites a leg-one offer's funded amounts
// at constant quality.
func (c *bridgeCalculator) setLegOneTakerGetsFunded(one *Offer, funded amount.Value) {
	one.TakerGetsFunded = funded
	one.TakerPaysFunded = funded.Mul(one.Quality)
	if funded.Equal(one.TakerGets.Value) {
		one.IsFullyFunded = true
	}
}

func (c *bridgeCalculator) leftoverFunds(account string) amount.Value {
	if v, ok := c.leftover[account]; ok {
		return v
	}
	return amount.Zero()
}
