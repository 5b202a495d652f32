package book

import (
	"context"
	"sort"

	"go.uber.org/zap"
)

// onLegModel notes that a native leg produced a model and schedules a
// bridge recomputation. The merged book is only published once both
// legs have reported, so consumers never see half a bridge.
func (b *OrderBook) onLegModel(leg int) {
	b.mu.Lock()
	if leg == 1 {
		b.gotLegOne = true
	} else {
		b.gotLegTwo = true
	}
	b.mu.Unlock()
	b.computeAutobridgedOffers()
}

// computeAutobridgedOffers recomputes the synthetic offers on a
// background goroutine. At most one computation runs at a time;
// requests arriving meanwhile collapse into a single follow-up run
// over the then-current state.
func (b *OrderBook) computeAutobridgedOffers() {
	if !b.bridged {
		return
	}
	b.mu.Lock()
	if !b.gotLegOne || !b.gotLegTwo {
		// A leg is still refreshing; its model event reschedules.
		b.mu.Unlock()
		return
	}
	if b.calcRunning {
		b.pendingCalc = true
		b.mu.Unlock()
		return
	}
	b.calcRunning = true
	b.mu.Unlock()

	go b.runCalculator()
}

func (b *OrderBook) runCalculator() {
	for {
		legOne := b.legOne.Snapshot()
		legTwo := b.legTwo.Snapshot()

		calc := newBridgeCalculator(b.pair, legOne, legTwo)
		offers, err := calc.Calculate(context.Background())

		b.mu.Lock()
		if err != nil {
			b.log.Error("bridge calculation failed", zap.Error(err))
		} else {
			b.autobridged = offers
		}
		model, emit := b.mergeLocked()
		again := b.pendingCalc
		b.pendingCalc = false
		if !again {
			b.calcRunning = false
		}
		b.mu.Unlock()

		if emit {
			b.modelEvents.Emit(model)
		}
		if !again {
			return
		}
	}
}

// mergeLocked rebuilds the merged model from direct and bridged
// offers, sorted by quality. It returns the snapshot to publish and
// whether publishing is warranted. Caller holds b.mu.
func (b *OrderBook) mergeLocked() ([]*Offer, bool) {
	if len(b.offers) == 0 && len(b.autobridged) == 0 {
		b.merged = nil
		// An empty book is only a fact once everything reported in.
		emit := b.synced && b.gotLegOne && b.gotLegTwo
		return []*Offer{}, emit
	}

	merged := make([]*Offer, 0, len(b.offers)+len(b.autobridged))
	merged = append(merged, b.offers...)
	merged = append(merged, b.autobridged...)
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].QualityHex < merged[j].QualityHex
	})
	b.merged = merged
	// A leg refresh that started mid-calculation holds publication
	// back until its model lands.
	return cloneOffers(merged), b.gotLegOne && b.gotLegTwo
}
