package book

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/xrpmon/bookd/internal/amount"
	"github.com/xrpmon/bookd/internal/meta"
	"github.com/xrpmon/bookd/internal/remote"
)

// onLedgerClosed opens a new per-ledger window. Model snapshots are
// emitted only once the window's transaction count has been consumed,
// so consumers never observe a half-applied ledger.
func (b *OrderBook) onLedgerClosed(ev remote.LedgerClosed) {
	b.mu.Lock()
	if b.listeners == 0 {
		b.mu.Unlock()
		return
	}
	b.closeTime = ev.CloseTime
	b.transactionsLeft = ev.TransactionCount
	if b.synced {
		b.lastUpdateLedger = ev.LedgerVersion
	}

	var fires []func()
	swept := b.sweepExpiredLocked(ev.CloseTime, &fires)
	synced := b.synced
	b.mu.Unlock()

	for _, fire := range fires {
		fire()
	}
	if swept > 0 && synced {
		b.log.Debug("expired offers swept", zap.Int("count", swept))
		b.publishWindow()
	}
}

// onTransaction applies one validated transaction and counts down the
// current ledger window.
func (b *OrderBook) onTransaction(tx remote.Transaction) {
	b.mu.Lock()
	if b.listeners == 0 || !b.synced {
		b.mu.Unlock()
		return
	}
	fires, touched := b.processTransactionLocked(tx)
	b.transactionsLeft--
	windowDone := b.transactionsLeft == 0
	b.mu.Unlock()

	for _, fire := range fires {
		fire()
	}
	if touched {
		b.txEvents.Emit(tx)
	}
	if windowDone {
		b.publishWindow()
	}
}

// publishWindow emits the model for a fully applied ledger. Bridged
// books recompute the merged model first.
func (b *OrderBook) publishWindow() {
	if b.bridged {
		b.computeAutobridgedOffers()
		return
	}
	b.emitModel()
}

// processTransactionLocked applies a transaction's ledger-entry
// mutations. It returns the deferred event emissions plus whether the
// book itself was touched. Caller holds b.mu.
func (b *OrderBook) processTransactionLocked(tx remote.Transaction) ([]func(), bool) {
	var fires []func()

	nodes := meta.AffectedNodes(tx.Meta, &meta.Filter{EntryType: "Offer", BookKey: b.key})
	isCancel := tx.TransactionType == "OfferCancel"
	txAccount := transactionAccount(tx.Transaction)

	takerGetsTotal := amount.Zero()
	takerPaysTotal := amount.Zero()

	for _, node := range nodes {
		switch node.NodeType {
		case meta.NodeCreated:
			offer, err := offerFromNode(node)
			if err != nil {
				b.log.Warn("skipping unparseable created offer", zap.Error(err))
				continue
			}
			if !b.isValidAccountLocked(offer.Account) {
				b.log.Error("dropping offer with invalid account",
					zap.String("account", offer.Account))
				continue
			}
			if offer.Account == txAccount {
				// The stream omits owner_funds when the maker issues
				// the TakerGets currency; issuer funds are unbounded.
				funds := tx.OwnerFunds
				if funds == "" {
					funds = "Infinity"
				}
				if err := b.setOwnerFundsLocked(offer.Account, funds); err != nil {
					b.log.Warn("bad owner_funds", zap.Error(err))
				}
			}
			b.insertOfferLocked(offer, &fires)

		case meta.NodeModified:
			if gets, pays, ok := consumedAmounts(node); ok {
				takerGetsTotal = takerGetsTotal.Add(gets)
				takerPaysTotal = takerPaysTotal.Add(pays)
			}
			b.modifyOfferLocked(node, &fires)

		case meta.NodeDeleted:
			if !isCancel {
				if gets, err := node.FinalAmount("TakerGets"); err == nil {
					takerGetsTotal = takerGetsTotal.Add(gets.Value)
				}
				if pays, err := node.FinalAmount("TakerPays"); err == nil {
					takerPaysTotal = takerPaysTotal.Add(pays.Value)
				}
			}
			b.deleteOfferLocked(node, isCancel, &fires)
		}
	}

	b.updateFundedAmountsLocked(tx, &fires)

	if takerGetsTotal.Signum() > 0 || takerPaysTotal.Signum() > 0 {
		trade := Trade{
			Gets: amount.Amount{Value: takerGetsTotal, Currency: b.pair.CurrencyGets, Issuer: b.pair.IssuerGets},
			Pays: amount.Amount{Value: takerPaysTotal, Currency: b.pair.CurrencyPays, Issuer: b.pair.IssuerPays},
		}
		fires = append(fires, func() { b.tradeEvents.Emit(trade) })
	}
	return fires, len(nodes) > 0
}

// consumedAmounts derives how much a modified offer traded: the drop
// from its previous to its final amounts.
func consumedAmounts(node meta.Node) (gets, pays amount.Value, ok bool) {
	prevGets, err := node.PrevAmount("TakerGets")
	if err != nil {
		return gets, pays, false
	}
	prevPays, err := node.PrevAmount("TakerPays")
	if err != nil {
		return gets, pays, false
	}
	finalGets, err := node.FinalAmount("TakerGets")
	if err != nil {
		return gets, pays, false
	}
	finalPays, err := node.FinalAmount("TakerPays")
	if err != nil {
		return gets, pays, false
	}
	return prevGets.Value.Sub(finalGets.Value), prevPays.Value.Sub(finalPays.Value), true
}

// insertOfferLocked places an offer at its quality-sorted position.
// New offers rank ahead of resting offers at equal quality, matching
// the directory ordering the snapshot would report. Caller holds b.mu.
func (b *OrderBook) insertOfferLocked(offer *Offer, fires *[]func()) {
	pos := len(b.offers)
	for i, existing := range b.offers {
		if offer.QualityHex <= existing.QualityHex {
			pos = i
			break
		}
	}
	b.offers = append(b.offers, nil)
	copy(b.offers[pos+1:], b.offers[pos:])
	b.offers[pos] = offer

	b.incrementOwnerOfferCountLocked(offer.Account)
	b.updateOwnerOffersLocked(offer.Account, fires)

	added := offer.Clone()
	*fires = append(*fires, func() { b.addedEvents.Emit(added) })
}

// modifyOfferLocked applies a partial consumption to a resting offer.
// Caller holds b.mu.
func (b *OrderBook) modifyOfferLocked(node meta.Node, fires *[]func()) {
	offer := b.findOfferLocked(node.LedgerIndex)
	if offer == nil {
		return
	}
	gets, errGets := node.Amount("TakerGets")
	pays, errPays := node.Amount("TakerPays")
	if errGets != nil || errPays != nil {
		b.log.Warn("skipping unparseable offer modification",
			zap.String("index", node.LedgerIndex))
		return
	}
	offer.TakerGets = gets
	offer.TakerPays = pays
	if err := offer.deriveQuality(); err != nil {
		b.log.Warn("offer quality lost", zap.String("index", node.LedgerIndex), zap.Error(err))
	}
	b.updateOwnerOffersLocked(offer.Account, fires)
}

// deleteOfferLocked removes an offer. A cancellation frees the owner's
// balance immediately, so the remaining offers are re-funded; a
// consumption's balance effects arrive as separate balance mutations.
// Caller holds b.mu.
func (b *OrderBook) deleteOfferLocked(node meta.Node, isCancel bool, fires *[]func()) {
	var offer *Offer
	for i, o := range b.offers {
		if o.ID == node.LedgerIndex {
			offer = o
			b.offers = append(b.offers[:i], b.offers[i+1:]...)
			break
		}
	}
	if offer == nil {
		return
	}

	remaining := b.decrementOwnerOfferCountLocked(offer.Account)
	if isCancel && remaining > 0 {
		b.updateOwnerOffersLocked(offer.Account, fires)
	}

	removed := offer.Clone()
	*fires = append(*fires, func() { b.removedEvents.Emit(removed) })
}

func (b *OrderBook) findOfferLocked(id string) *Offer {
	for _, o := range b.offers {
		if o.ID == id {
			return o
		}
	}
	return nil
}

// updateFundedAmountsLocked picks up balance mutations for the
// TakerGets currency and re-funds the affected owners' offers. Caller
// holds b.mu.
func (b *OrderBook) updateFundedAmountsLocked(tx remote.Transaction, fires *[]func()) {
	if !b.haveTransferRate {
		// The rate arrives with the first snapshot; without it the
		// adjusted balances would be wrong, so skip this update.
		b.log.Warn("transfer rate unknown, balance update skipped")
		return
	}

	if b.pair.CurrencyGets == amount.Native {
		nodes := meta.AffectedNodes(tx.Meta, &meta.Filter{
			NodeType:  meta.NodeModified,
			EntryType: "AccountRoot",
		})
		for _, node := range nodes {
			if !node.HasPrev("Balance") {
				continue
			}
			account := node.Text("Account")
			if b.offerCounts[account] == 0 {
				continue
			}
			balance, err := node.FinalAmount("Balance")
			if err != nil {
				continue
			}
			b.refundOwnerLocked(account, balance.Value, fires)
		}
		return
	}

	nodes := meta.AffectedNodes(tx.Meta, &meta.Filter{EntryType: "RippleState"})
	for _, node := range nodes {
		if node.NodeType == meta.NodeDeleted {
			continue
		}
		if node.NodeType == meta.NodeModified && !node.HasPrev("Balance") {
			continue
		}
		balance, err := node.Amount("Balance")
		if err != nil || balance.Currency != b.pair.CurrencyGets {
			continue
		}

		// Trust-line balances are stored from the low account's
		// perspective; flip the sign when the issuer holds the low
		// side.
		var account string
		value := balance.Value
		switch b.pair.IssuerGets {
		case node.LimitIssuer("HighLimit"):
			account = node.LimitIssuer("LowLimit")
		case node.LimitIssuer("LowLimit"):
			account = node.LimitIssuer("HighLimit")
			value = value.Negate()
		default:
			continue
		}
		if b.offerCounts[account] == 0 {
			continue
		}
		b.refundOwnerLocked(account, value, fires)
	}
}

func (b *OrderBook) refundOwnerLocked(account string, balance amount.Value, fires *[]func()) {
	if err := b.setOwnerFundsLocked(account, balance.String()); err != nil {
		b.log.Warn("bad balance update", zap.String("account", account), zap.Error(err))
		return
	}
	b.updateOwnerOffersLocked(account, fires)
}

// sweepExpiredLocked drops offers whose expiration has passed at the
// given ledger close time, returning how many were removed. Caller
// holds b.mu.
func (b *OrderBook) sweepExpiredLocked(closeTime uint32, fires *[]func()) int {
	if closeTime == 0 {
		return 0
	}
	kept := b.offers[:0]
	var removed []*Offer
	owners := make(map[string]bool)
	for _, o := range b.offers {
		if o.Expiration != nil && *o.Expiration <= closeTime {
			removed = append(removed, o)
			continue
		}
		kept = append(kept, o)
	}
	if len(removed) == 0 {
		return 0
	}
	b.offers = kept

	for _, o := range removed {
		if b.decrementOwnerOfferCountLocked(o.Account) > 0 {
			owners[o.Account] = true
		}
		gone := o.Clone()
		*fires = append(*fires, func() { b.removedEvents.Emit(gone) })
	}
	// Expiry releases nothing, but the freed claim re-funds the
	// owner's remaining offers.
	for account := range owners {
		b.updateOwnerOffersLocked(account, fires)
	}
	return len(removed)
}

func transactionAccount(raw json.RawMessage) string {
	var tx struct {
		Account string `json:"Account"`
	}
	if err := json.Unmarshal(raw, &tx); err != nil {
		return ""
	}
	return tx.Account
}
