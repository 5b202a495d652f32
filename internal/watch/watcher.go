package watch

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xrpmon/bookd/internal/remote"
)

// Watcher polls one account's balances and open orders on an interval
// and announces diffs against the persisted baseline.
type Watcher struct {
	client   remote.Client
	store    *Store
	notifier *Notifier
	log      *zap.Logger

	account  string
	names    map[string]string
	interval time.Duration
}

// NewWatcher wires a watcher for the account. names maps issuer
// addresses to display nicknames.
func NewWatcher(client remote.Client, store *Store, notifier *Notifier, account string, names map[string]string, interval time.Duration, log *zap.Logger) *Watcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Watcher{
		client:   client,
		store:    store,
		notifier: notifier,
		log:      log.Named("watch").With(zap.String("account", account)),
		account:  account,
		names:    names,
		interval: interval,
	}
}

// Run polls until the context ends. The first check runs immediately.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Watcher) tick(ctx context.Context) {
	if err := w.checkBalances(ctx); err != nil {
		w.log.Warn("balance check failed", zap.Error(err))
	}
	if err := w.checkOrders(ctx); err != nil {
		w.log.Warn("order check failed", zap.Error(err))
	}
}

func (w *Watcher) checkBalances(ctx context.Context) error {
	balances, err := w.client.AccountBalances(ctx, w.account)
	if err != nil {
		return err
	}
	prev, err := w.store.Balances()
	if err != nil {
		return err
	}

	current, msg := DiffBalances(prev, balances, w.names)
	if msg != "" {
		if err := w.notifier.Notify(ctx, msg); err != nil {
			w.log.Warn("notify failed", zap.Error(err))
		}
	} else {
		w.log.Debug("balances unchanged", zap.Int("lines", len(current)))
	}
	return w.store.SaveBalances(current)
}

func (w *Watcher) checkOrders(ctx context.Context) error {
	orders, err := w.client.AccountOrders(ctx, w.account)
	if err != nil {
		return err
	}
	prev, err := w.store.Orders()
	if err != nil {
		return err
	}

	current, msg := DiffOrders(prev, orders, w.names)
	if msg != "" {
		if err := w.notifier.Notify(ctx, msg); err != nil {
			w.log.Warn("notify failed", zap.Error(err))
		}
	} else {
		w.log.Debug("orders unchanged", zap.Int("open", len(current)))
	}
	return w.store.SaveOrders(current)
}
