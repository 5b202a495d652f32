// Package book maintains live replicas of ledger offer books: a
// quality-sorted offer collection kept consistent with the validated
// ledger through the transaction stream, funding state for every offer
// owner, and synthetic bridged offers for books between two issued
// currencies.
package book

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	addresscodec "github.com/Peersyst/xrpl-go/address-codec"

	"github.com/xrpmon/bookd/internal/amount"
	"github.com/xrpmon/bookd/internal/event"
	"github.com/xrpmon/bookd/internal/remote"
)

// State is the lifecycle phase of a book replica.
type State int32

const (
	// StateIdle means no listeners and no upstream subscriptions.
	StateIdle State = iota
	// StateSubscribing means subscriptions are being established and
	// the first snapshot has not arrived yet.
	StateSubscribing
	// StateSynced means the replica mirrors the validated ledger.
	StateSynced
	// StateResyncing means the connection dropped and a fresh
	// snapshot is being fetched.
	StateResyncing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSubscribing:
		return "subscribing"
	case StateSynced:
		return "synced"
	case StateResyncing:
		return "resyncing"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ErrInvalidPair reports a malformed trading pair.
var ErrInvalidPair = errors.New("invalid trading pair")

// validAccountsMax caps the address-validation cache before it evicts.
const validAccountsMax = 3000

// requestTimeout bounds the background requests a stream callback has
// to make on its own.
const requestTimeout = 30 * time.Second

// Pair names the two sides of a book: the maker sells TakerGets for
// TakerPays.
type Pair struct {
	CurrencyGets string
	IssuerGets   string
	CurrencyPays string
	IssuerPays   string
}

// Validate checks currencies and issuer addresses.
func (p Pair) Validate() error {
	gets := amount.NormalizeCurrency(p.CurrencyGets)
	pays := amount.NormalizeCurrency(p.CurrencyPays)
	if !amount.IsValidCurrency(gets) || !amount.IsValidCurrency(pays) {
		return fmt.Errorf("%w: bad currency", ErrInvalidPair)
	}
	if gets != amount.Native && !addresscodec.IsValidClassicAddress(p.IssuerGets) {
		return fmt.Errorf("%w: bad issuer %q", ErrInvalidPair, p.IssuerGets)
	}
	if pays != amount.Native && !addresscodec.IsValidClassicAddress(p.IssuerPays) {
		return fmt.Errorf("%w: bad issuer %q", ErrInvalidPair, p.IssuerPays)
	}
	if p.keyGets() == p.keyPays() {
		return fmt.Errorf("%w: identical sides", ErrInvalidPair)
	}
	return nil
}

func (p Pair) keyGets() string { return currencyKey(p.CurrencyGets, p.IssuerGets) }
func (p Pair) keyPays() string { return currencyKey(p.CurrencyPays, p.IssuerPays) }

// Key is the canonical "gets:pays" identity of the book.
func (p Pair) Key() string {
	return p.keyGets() + ":" + p.keyPays()
}

func currencyKey(currency, issuer string) string {
	c := amount.NormalizeCurrency(currency)
	if c == amount.Native {
		return amount.Native
	}
	return c + "/" + issuer
}

// Trade is the total traded amounts of one transaction against the
// book.
type Trade struct {
	Gets amount.Amount
	Pays amount.Amount
}

// OfferChange carries an offer before and after a mutation.
type OfferChange struct {
	Previous *Offer
	Current  *Offer
}

// FundsChange reports a change in an offer's funded TakerGets.
type FundsChange struct {
	Offer         *Offer
	PreviousFunds string
	Funds         string
}

// OrderBook is a live replica of one offer book. All methods are safe
// for concurrent use.
type OrderBook struct {
	client remote.Client
	log    *zap.Logger
	pair   Pair
	key    string

	mu         sync.Mutex
	state      State
	listeners  int
	cancels    []func()
	subscribed bool

	offers      []*Offer
	autobridged []*Offer
	merged      []*Offer

	ownerFunds           map[string]string
	ownerFundsUnadjusted map[string]string
	ownerOffersTotal     map[string]amount.Value
	offerCounts          map[string]int
	validAccounts        *lru.Cache[string, struct{}]

	transferRate     amount.Value
	haveTransferRate bool

	lastUpdateLedger uint32
	transactionsLeft int
	synced           bool
	closeTime        uint32

	bridged              bool
	legOne, legTwo       *OrderBook
	gotLegOne, gotLegTwo bool
	calcRunning          bool
	pendingCalc          bool

	fetch singleflight.Group

	modelEvents   event.Stream[[]*Offer]
	tradeEvents   event.Stream[Trade]
	addedEvents   event.Stream[*Offer]
	removedEvents event.Stream[*Offer]
	changedEvents event.Stream[OfferChange]
	fundsEvents   event.Stream[FundsChange]
	txEvents      event.Stream[remote.Transaction]
}

// New builds an inactive replica for the pair. Books between two
// issued currencies also replicate both native legs so bridged
// liquidity can be merged in.
func New(client remote.Client, log *zap.Logger, pair Pair) (*OrderBook, error) {
	if err := pair.Validate(); err != nil {
		return nil, err
	}
	pair.CurrencyGets = amount.NormalizeCurrency(pair.CurrencyGets)
	pair.CurrencyPays = amount.NormalizeCurrency(pair.CurrencyPays)
	if log == nil {
		log = zap.NewNop()
	}

	cache, err := lru.New[string, struct{}](validAccountsMax)
	if err != nil {
		return nil, err
	}

	b := &OrderBook{
		client:               client,
		log:                  log.Named("book").With(zap.String("book", pair.Key())),
		pair:                 pair,
		key:                  pair.Key(),
		ownerFunds:           make(map[string]string),
		ownerFundsUnadjusted: make(map[string]string),
		ownerOffersTotal:     make(map[string]amount.Value),
		offerCounts:          make(map[string]int),
		validAccounts:        cache,
		transferRate:         amount.MustParseValue("1"),
	}
	if pair.CurrencyGets == amount.Native {
		// Native balances carry no issuer fee.
		b.haveTransferRate = true
	}

	b.bridged = pair.CurrencyGets != amount.Native && pair.CurrencyPays != amount.Native
	if b.bridged {
		legOne, err := New(client, log, Pair{
			CurrencyGets: amount.Native,
			CurrencyPays: pair.CurrencyPays,
			IssuerPays:   pair.IssuerPays,
		})
		if err != nil {
			return nil, err
		}
		legTwo, err := New(client, log, Pair{
			CurrencyGets: pair.CurrencyGets,
			IssuerGets:   pair.IssuerGets,
			CurrencyPays: amount.Native,
		})
		if err != nil {
			return nil, err
		}
		b.legOne, b.legTwo = legOne, legTwo
	}
	return b, nil
}

// Pair returns the book's trading pair.
func (b *OrderBook) Pair() Pair { return b.pair }

// Key returns the canonical "gets:pays" book identity.
func (b *OrderBook) Key() string { return b.key }

// State returns the current lifecycle phase.
func (b *OrderBook) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// IsSynced reports whether the replica mirrors the validated ledger.
func (b *OrderBook) IsSynced() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.synced
}

// LastUpdateLedger returns the ledger sequence of the last applied
// update.
func (b *OrderBook) LastUpdateLedger() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastUpdateLedger
}

// OnModel registers a handler for full book snapshots, emitted once
// per fully applied ledger.
func (b *OrderBook) OnModel(fn func([]*Offer)) func() { return b.modelEvents.Subscribe(fn) }

// OnTrade registers a handler for per-transaction trade totals.
func (b *OrderBook) OnTrade(fn func(Trade)) func() { return b.tradeEvents.Subscribe(fn) }

// OnOfferAdded registers a handler for inserted offers.
func (b *OrderBook) OnOfferAdded(fn func(*Offer)) func() { return b.addedEvents.Subscribe(fn) }

// OnOfferRemoved registers a handler for removed offers.
func (b *OrderBook) OnOfferRemoved(fn func(*Offer)) func() { return b.removedEvents.Subscribe(fn) }

// OnOfferChanged registers a handler for modified offers.
func (b *OrderBook) OnOfferChanged(fn func(OfferChange)) func() { return b.changedEvents.Subscribe(fn) }

// OnOfferFundsChanged registers a handler for funding updates.
func (b *OrderBook) OnOfferFundsChanged(fn func(FundsChange)) func() { return b.fundsEvents.Subscribe(fn) }

// OnTransaction registers a handler for every transaction that touched
// the book.
func (b *OrderBook) OnTransaction(fn func(remote.Transaction)) func() { return b.txEvents.Subscribe(fn) }

// Activate adds a listener reference. The first reference subscribes
// upstream and fetches the initial snapshot; later references are
// counted only.
func (b *OrderBook) Activate(ctx context.Context) error {
	b.mu.Lock()
	b.listeners++
	if b.listeners > 1 {
		b.mu.Unlock()
		return nil
	}
	b.state = StateSubscribing
	b.mu.Unlock()

	if err := b.subscribe(ctx); err != nil {
		b.Deactivate()
		return err
	}
	return nil
}

// Deactivate drops a listener reference. The last reference tears the
// subscriptions down and resets the replica to idle.
func (b *OrderBook) Deactivate() {
	b.mu.Lock()
	if b.listeners == 0 {
		b.mu.Unlock()
		return
	}
	b.listeners--
	if b.listeners > 0 {
		b.mu.Unlock()
		return
	}
	cancels := b.cancels
	b.cancels = nil
	subscribed := b.subscribed
	b.subscribed = false
	b.state = StateIdle
	b.synced = false
	b.offers = nil
	b.autobridged = nil
	b.merged = nil
	b.gotLegOne, b.gotLegTwo = false, false
	b.resetCacheLocked()
	b.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	if subscribed {
		if err := b.client.Unsubscribe("ledger", "transactions"); err != nil {
			b.log.Warn("unsubscribe failed", zap.Error(err))
		}
	}
	if b.bridged {
		b.legOne.Deactivate()
		b.legTwo.Deactivate()
	}
	b.log.Debug("deactivated")
}

func (b *OrderBook) subscribe(ctx context.Context) error {
	cancels := []func(){
		b.client.OnLedgerClosed(b.onLedgerClosed),
		b.client.OnTransaction(b.onTransaction),
		b.client.OnConnected(b.onReconnected),
	}

	if b.bridged {
		cancels = append(cancels,
			b.legOne.OnModel(func([]*Offer) { b.onLegModel(1) }),
			b.legTwo.OnModel(func([]*Offer) { b.onLegModel(2) }),
		)
		if err := b.legOne.Activate(ctx); err != nil {
			for _, cancel := range cancels {
				cancel()
			}
			return err
		}
		if err := b.legTwo.Activate(ctx); err != nil {
			b.legOne.Deactivate()
			for _, cancel := range cancels {
				cancel()
			}
			return err
		}
	}

	b.mu.Lock()
	b.cancels = cancels
	b.mu.Unlock()

	if err := b.client.Subscribe("ledger", "transactions"); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	b.mu.Lock()
	b.subscribed = true
	b.mu.Unlock()
	return b.RequestOffers(ctx)
}

// onReconnected refreshes the replica after the transport recovered.
// The client restores its stream subscriptions itself, so only the
// snapshot needs redoing, unconditionally.
func (b *OrderBook) onReconnected() {
	b.mu.Lock()
	if b.listeners == 0 {
		b.mu.Unlock()
		return
	}
	b.state = StateResyncing
	b.synced = false
	b.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		if err := b.RequestOffers(ctx); err != nil {
			b.log.Error("resync failed", zap.Error(err))
		}
	}()
}

// RequestOffers fetches a fresh snapshot and replaces the replica
// state. Concurrent calls collapse into a single upstream request.
func (b *OrderBook) RequestOffers(ctx context.Context) error {
	_, err, _ := b.fetch.Do("offers", func() (any, error) {
		return nil, b.requestOffers(ctx)
	})
	return err
}

func (b *OrderBook) requestOffers(ctx context.Context) error {
	if err := b.ensureTransferRate(ctx); err != nil {
		return err
	}

	if b.bridged {
		// A refresh covers both legs as well. The merged model stays
		// unpublished until each leg has reported a fresh model, so a
		// resync never serves bridged offers from the old books.
		b.mu.Lock()
		b.gotLegOne, b.gotLegTwo = false, false
		b.mu.Unlock()
		if err := b.legOne.RequestOffers(ctx); err != nil {
			return err
		}
		if err := b.legTwo.RequestOffers(ctx); err != nil {
			return err
		}
	}

	req := remote.BookOffersRequest{
		TakerGets: remote.CurrencySpec{Currency: b.pair.CurrencyGets, Issuer: b.pair.IssuerGets},
		TakerPays: remote.CurrencySpec{Currency: b.pair.CurrencyPays, Issuer: b.pair.IssuerPays},
		Taker:     remote.AccountOne,
	}
	res, err := b.client.BookOffers(ctx, req)
	if err != nil {
		if errors.Is(err, remote.ErrInvalidResponse) {
			// An unusable snapshot still yields an observable
			// empty model so consumers do not hang on stale data.
			b.mu.Lock()
			b.offers = nil
			b.synced = false
			b.mu.Unlock()
			b.emitModel()
		}
		return err
	}

	b.mu.Lock()
	b.setOffersLocked(res.Offers)
	b.lastUpdateLedger = res.LedgerIndex
	b.synced = true
	b.state = StateSynced
	b.mu.Unlock()

	b.log.Info("snapshot applied",
		zap.Uint32("ledger", res.LedgerIndex),
		zap.Int("offers", len(res.Offers)))
	b.publishWindow()
	return nil
}

// setOffersLocked replaces the offer collection from a raw snapshot.
// Caller holds b.mu.
func (b *OrderBook) setOffersLocked(raw []json.RawMessage) {
	b.resetCacheLocked()
	offers := make([]*Offer, 0, len(raw))
	for _, entry := range raw {
		offer, err := ParseOffer(entry)
		if err != nil {
			b.log.Warn("skipping unparseable offer", zap.Error(err))
			continue
		}
		if !b.isValidAccountLocked(offer.Account) {
			b.log.Error("dropping offer with invalid account",
				zap.String("account", offer.Account))
			continue
		}
		if offer.OwnerFunds != "" {
			if _, known := b.ownerFunds[offer.Account]; !known {
				if err := b.setOwnerFundsLocked(offer.Account, offer.OwnerFunds); err != nil {
					b.log.Warn("bad owner_funds", zap.Error(err))
				}
			}
		}
		b.incrementOwnerOfferCountLocked(offer.Account)
		b.applyFundingLocked(offer)
		offers = append(offers, offer)
	}
	b.offers = offers
}

// Snapshot returns a copy of the current model: direct offers merged
// with bridged offers when the book has two issued sides.
func (b *OrderBook) Snapshot() []*Offer {
	b.mu.Lock()
	defer b.mu.Unlock()
	return cloneOffers(b.modelLocked())
}

// modelLocked picks the collection the model event publishes. Caller
// holds b.mu.
func (b *OrderBook) modelLocked() []*Offer {
	if b.bridged {
		return b.merged
	}
	return b.offers
}

func cloneOffers(offers []*Offer) []*Offer {
	out := make([]*Offer, len(offers))
	for i, o := range offers {
		out[i] = o.Clone()
	}
	return out
}

// emitModel publishes the current model snapshot.
func (b *OrderBook) emitModel() {
	b.mu.Lock()
	model := cloneOffers(b.modelLocked())
	b.mu.Unlock()
	b.modelEvents.Emit(model)
}
