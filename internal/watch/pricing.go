package watch

import (
	"errors"

	"github.com/xrpmon/bookd/internal/amount"
	"github.com/xrpmon/bookd/internal/book"
)

// ErrNoLiquidity reports a book too empty to price.
var ErrNoLiquidity = errors.New("no funded liquidity")

// Fees is a venue's fee schedule as fractions of the traded price:
// Ask applies when buying from the venue, Bid when selling to it.
type Fees struct {
	Ask amount.Value
	Bid amount.Value
}

// AveragePrice walks funded offers from the top of the book until
// depth base units are covered and returns the volume-weighted price
// in quote units per base unit.
//
// On an ask book the base currency is TakerGets; on a bid book it is
// TakerPays.
func AveragePrice(offers []*book.Offer, depth amount.Value, ask bool) (amount.Value, error) {
	base := amount.Zero()
	quote := amount.Zero()

	for _, o := range offers {
		if base.Compare(depth) >= 0 {
			break
		}
		var b, q amount.Value
		if ask {
			b, q = o.TakerGetsFunded, o.TakerPaysFunded
		} else {
			b, q = o.TakerPaysFunded, o.TakerGetsFunded
		}
		base = base.Add(b)
		quote = quote.Add(q)
	}
	if base.Signum() <= 0 {
		return amount.Value{}, ErrNoLiquidity
	}
	return quote.Div(base)
}

// Profit computes the relative gain of selling at venue A's bid and
// buying back at venue B's ask, net of both venues' fees, as a
// fraction of the buy price.
func Profit(bidA, askB amount.Value, feesA, feesB Fees) (amount.Value, error) {
	if askB.Signum() <= 0 {
		return amount.Value{}, ErrNoLiquidity
	}
	cost := bidA.Mul(feesA.Bid).Add(askB.Mul(feesB.Bid))
	return bidA.Sub(askB).Sub(cost).Div(askB)
}
