package book

import (
	"context"
	"fmt"

	addresscodec "github.com/Peersyst/xrpl-go/address-codec"
	"go.uber.org/zap"

	"github.com/xrpmon/bookd/internal/amount"
)

// ensureTransferRate fetches and caches the TakerGets issuer's fee
// factor. Funding math cannot run before the rate is known.
func (b *OrderBook) ensureTransferRate(ctx context.Context) error {
	b.mu.Lock()
	have := b.haveTransferRate
	b.mu.Unlock()
	if have {
		return nil
	}

	settings, err := b.client.AccountSettings(ctx, b.pair.IssuerGets)
	if err != nil {
		return fmt.Errorf("transfer rate for %s: %w", b.pair.IssuerGets, err)
	}
	rate, err := amount.ParseValue(settings.TransferRate)
	if err != nil || rate.Signum() <= 0 {
		return fmt.Errorf("transfer rate for %s: %w", b.pair.IssuerGets, amount.ErrInvalidAmount)
	}

	b.mu.Lock()
	b.transferRate = rate
	b.haveTransferRate = true
	b.mu.Unlock()
	b.log.Debug("transfer rate cached", zap.String("rate", rate.String()))
	return nil
}

// isValidAccountLocked validates a classic address, memoizing results.
// Caller holds b.mu.
func (b *OrderBook) isValidAccountLocked(account string) bool {
	if _, ok := b.validAccounts.Get(account); ok {
		return true
	}
	if !addresscodec.IsValidClassicAddress(account) {
		return false
	}
	b.validAccounts.Add(account, struct{}{})
	return true
}

// setOwnerFundsLocked records an owner's spendable balance, both as
// disclosed and adjusted for the issuer's transfer fee. Caller holds
// b.mu.
func (b *OrderBook) setOwnerFundsLocked(account, funds string) error {
	v, err := amount.ParseValue(funds)
	if err != nil {
		return fmt.Errorf("owner funds for %s: %w", account, err)
	}
	b.ownerFundsUnadjusted[account] = funds

	adjusted := v
	if !v.IsInfinite() {
		adjusted, err = v.Div(b.transferRate)
		if err != nil {
			return err
		}
	}
	b.ownerFunds[account] = adjusted.String()
	return nil
}

func (b *OrderBook) hasOwnerFundsLocked(account string) bool {
	_, ok := b.ownerFunds[account]
	return ok
}

// getOwnerFundsLocked returns the fee-adjusted spendable balance.
// Caller holds b.mu.
func (b *OrderBook) getOwnerFundsLocked(account string) (amount.Value, bool) {
	s, ok := b.ownerFunds[account]
	if !ok {
		return amount.Value{}, false
	}
	v, err := amount.ParseValue(s)
	if err != nil {
		return amount.Value{}, false
	}
	return v, true
}

func (b *OrderBook) deleteOwnerFundsLocked(account string) {
	delete(b.ownerFunds, account)
	delete(b.ownerFundsUnadjusted, account)
}

func (b *OrderBook) incrementOwnerOfferCountLocked(account string) int {
	b.offerCounts[account]++
	return b.offerCounts[account]
}

// decrementOwnerOfferCountLocked drops one offer reference. The
// owner's funding entries are evicted once no offers remain so the
// caches only track accounts present in the book.
func (b *OrderBook) decrementOwnerOfferCountLocked(account string) int {
	count := b.offerCounts[account] - 1
	if count > 0 {
		b.offerCounts[account] = count
		return count
	}
	delete(b.offerCounts, account)
	delete(b.ownerOffersTotal, account)
	b.deleteOwnerFundsLocked(account)
	return 0
}

func (b *OrderBook) ownerOfferTotalLocked(account string) amount.Value {
	if v, ok := b.ownerOffersTotal[account]; ok {
		return v
	}
	return amount.Zero()
}

func (b *OrderBook) addOwnerOfferTotalLocked(account string, gets amount.Value) {
	b.ownerOffersTotal[account] = b.ownerOfferTotalLocked(account).Add(gets)
}

func (b *OrderBook) subtractOwnerOfferTotalLocked(account string, gets amount.Value) {
	b.ownerOffersTotal[account] = b.ownerOfferTotalLocked(account).Sub(gets)
}

// applyFundingLocked allocates the owner's remaining balance to one
// offer and claims its full TakerGets against the owner's running
// total. Offers must be visited in book order so better-priced offers
// claim funds first. Caller holds b.mu.
func (b *OrderBook) applyFundingLocked(o *Offer) {
	funds, ok := b.getOwnerFundsLocked(o.Account)
	if !ok {
		b.addOwnerOfferTotalLocked(o.Account, o.TakerGets.Value)
		return
	}
	o.OwnerFunds = b.ownerFundsUnadjusted[o.Account]
	remaining := funds.Sub(b.ownerOfferTotalLocked(o.Account))
	o.setFunded(remaining)
	b.addOwnerOfferTotalLocked(o.Account, o.TakerGets.Value)
}

// updateOwnerOffersLocked re-allocates an owner's balance across all
// of their offers in book order, collecting the events to fire after
// the lock is released. Caller holds b.mu.
func (b *OrderBook) updateOwnerOffersLocked(account string, fires *[]func()) {
	if !b.hasOwnerFundsLocked(account) {
		return
	}
	b.ownerOffersTotal[account] = amount.Zero()

	for _, offer := range b.offers {
		if offer.Account != account {
			continue
		}
		previous := offer.Clone()
		b.applyFundingLocked(offer)
		if previous.TakerGetsFunded.Equal(offer.TakerGetsFunded) {
			continue
		}
		current := offer.Clone()
		change := FundsChange{
			Offer:         current,
			PreviousFunds: previous.TakerGets.WithValue(previous.TakerGetsFunded).ValueString(),
			Funds:         current.TakerGets.WithValue(current.TakerGetsFunded).ValueString(),
		}
		*fires = append(*fires, func() {
			b.fundsEvents.Emit(change)
			b.changedEvents.Emit(OfferChange{Previous: previous, Current: current})
		})
	}
}

// resetCacheLocked clears all funding state. Caller holds b.mu.
func (b *OrderBook) resetCacheLocked() {
	b.ownerFunds = make(map[string]string)
	b.ownerFundsUnadjusted = make(map[string]string)
	b.ownerOffersTotal = make(map[string]amount.Value)
	b.offerCounts = make(map[string]int)
	b.validAccounts.Purge()
}
