package watch

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/xrpmon/bookd/internal/amount"
	"github.com/xrpmon/bookd/internal/book"
)

// venueQuote holds the latest averaged prices for one venue. Ask is
// what buying there costs, bid what selling there pays.
type venueQuote struct {
	ask, bid         amount.Value
	haveAsk, haveBid bool
}

// PriceMonitor averages the top of each venue's ask and bid books and
// alerts when selling at one venue and buying at another clears the
// profit threshold after fees.
type PriceMonitor struct {
	depth     amount.Value
	minProfit amount.Value
	fees      map[string]Fees
	notifier  *Notifier
	log       *zap.Logger

	mu     sync.Mutex
	quotes map[string]*venueQuote
}

// NewPriceMonitor builds a monitor. depth is the base-currency volume
// averaged per quote; minProfit the alert threshold as a fraction.
func NewPriceMonitor(depth, minProfit amount.Value, fees map[string]Fees, notifier *Notifier, log *zap.Logger) *PriceMonitor {
	if log == nil {
		log = zap.NewNop()
	}
	return &PriceMonitor{
		depth:     depth,
		minProfit: minProfit,
		fees:      fees,
		notifier:  notifier,
		log:       log.Named("prices"),
		quotes:    make(map[string]*venueQuote),
	}
}

// WatchVenue attaches the monitor to one venue's ask and bid books.
// The returned cancel detaches both registrations.
func (m *PriceMonitor) WatchVenue(name string, asks, bids *book.OrderBook) func() {
	cancelAsks := asks.OnModel(func(offers []*book.Offer) {
		m.update(name, offers, true)
	})
	cancelBids := bids.OnModel(func(offers []*book.Offer) {
		m.update(name, offers, false)
	})
	return func() {
		cancelAsks()
		cancelBids()
	}
}

func (m *PriceMonitor) update(name string, offers []*book.Offer, ask bool) {
	price, err := AveragePrice(offers, m.depth, ask)

	m.mu.Lock()
	quote, ok := m.quotes[name]
	if !ok {
		quote = &venueQuote{}
		m.quotes[name] = quote
	}
	if ask {
		quote.ask, quote.haveAsk = price, err == nil
	} else {
		quote.bid, quote.haveBid = price, err == nil
	}
	m.mu.Unlock()

	if err != nil {
		m.log.Debug("venue unpriceable", zap.String("venue", name), zap.Error(err))
		return
	}
	m.compare()
}

// compare checks every ordered venue pair against the threshold.
func (m *PriceMonitor) compare() {
	m.mu.Lock()
	type hit struct {
		sell, buy string
		profit    amount.Value
		bid, ask  amount.Value
	}
	var best *hit
	for sellName, sell := range m.quotes {
		for buyName, buy := range m.quotes {
			if sellName == buyName || !sell.haveBid || !buy.haveAsk {
				continue
			}
			profit, err := Profit(sell.bid, buy.ask, m.fees[sellName], m.fees[buyName])
			if err != nil {
				continue
			}
			if profit.Compare(m.minProfit) <= 0 {
				continue
			}
			if best == nil || profit.Compare(best.profit) > 0 {
				best = &hit{sell: sellName, buy: buyName, profit: profit, bid: sell.bid, ask: buy.ask}
			}
		}
	}
	m.mu.Unlock()

	if best == nil {
		return
	}
	pct := best.profit.Mul(amount.MustParseValue("100"))
	msg := fmt.Sprintf("%s%% profit: sell %s at %s, buy %s at %s",
		pct.String(), best.sell, best.bid.String(), best.buy, best.ask.String())
	if err := m.notifier.Notify(context.Background(), msg); err != nil {
		m.log.Warn("notify failed", zap.Error(err))
	}
}
