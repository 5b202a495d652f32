package cli

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xrpmon/bookd/internal/amount"
	"github.com/xrpmon/bookd/internal/book"
	"github.com/xrpmon/bookd/internal/config"
	"github.com/xrpmon/bookd/internal/logging"
	"github.com/xrpmon/bookd/internal/remote"
	"github.com/xrpmon/bookd/internal/watch"
)

// watchCmd runs the long-lived daemon: replicated books, the price
// monitor, and the account watcher, per the loaded configuration.
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the book replicas and account watcher",
	Long: `Connect to the configured rippled server, keep every configured
order book replica live, price the configured venues against each
other, and poll the watched account for balance and order changes.
Runs until interrupted.`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return err
	}

	log, err := logging.New(trace || cfg.Server.Trace)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := remote.NewWSClient(cfg.Server.URL, log)
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Disconnect()

	notifier := watch.NewNotifier(cfg.Notify.WebhookURL, cfg.Notify.MinInterval, log)

	var books []*book.OrderBook
	defer func() {
		for _, b := range books {
			b.Deactivate()
		}
	}()
	activate := func(pair book.Pair) (*book.OrderBook, error) {
		b, err := book.New(client, log, pair)
		if err != nil {
			return nil, err
		}
		if err := b.Activate(ctx); err != nil {
			return nil, err
		}
		books = append(books, b)
		return b, nil
	}

	for _, bc := range cfg.Books {
		if _, err := activate(bc.Pair()); err != nil {
			return err
		}
	}

	if len(cfg.Prices.Venues) > 0 {
		fees := make(map[string]watch.Fees, len(cfg.Prices.Venues))
		for _, venue := range cfg.Prices.Venues {
			fees[venue.Name] = venueFees(venue)
		}
		monitor := watch.NewPriceMonitor(
			amount.MustParseValue(cfg.Prices.Depth),
			amount.MustParseValue(cfg.Prices.MinProfit),
			fees, notifier, log)

		for _, venue := range cfg.Prices.Venues {
			asks, err := activate(book.Pair{
				CurrencyGets: amount.Native,
				CurrencyPays: venue.Currency,
				IssuerPays:   venue.Issuer,
			})
			if err != nil {
				return err
			}
			bids, err := activate(book.Pair{
				CurrencyGets: venue.Currency,
				IssuerGets:   venue.Issuer,
				CurrencyPays: amount.Native,
			})
			if err != nil {
				return err
			}
			defer monitor.WatchVenue(venue.Name, asks, bids)()
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	if cfg.Watch.Account != "" {
		store, err := watch.OpenStore(cfg.Watch.Store)
		if err != nil {
			return err
		}
		defer store.Close()
		watcher := watch.NewWatcher(client, store, notifier,
			cfg.Watch.Account, cfg.NamesMap(), cfg.Watch.Interval, log)
		g.Go(func() error { return watcher.Run(ctx) })
	} else {
		g.Go(func() error {
			<-ctx.Done()
			return ctx.Err()
		})
	}

	log.Info("bookd running",
		zap.String("server", cfg.Server.URL),
		zap.Int("books", len(books)),
		zap.Bool("watching", cfg.Watch.Account != ""))

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// venueFees parses a venue's fee schedule, zero when unset. Values
// were validated at load time.
func venueFees(venue config.VenueConfig) watch.Fees {
	fees := watch.Fees{Ask: amount.Zero(), Bid: amount.Zero()}
	if venue.AskFee != "" {
		fees.Ask = amount.MustParseValue(venue.AskFee)
	}
	if venue.BidFee != "" {
		fees.Bid = amount.MustParseValue(venue.BidFee)
	}
	return fees
}
