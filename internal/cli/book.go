package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/xrpmon/bookd/internal/amount"
	"github.com/xrpmon/bookd/internal/book"
	"github.com/xrpmon/bookd/internal/config"
	"github.com/xrpmon/bookd/internal/logging"
	"github.com/xrpmon/bookd/internal/remote"
)

var (
	bookGets    string
	bookPays    string
	bookTimeout time.Duration
)

// bookCmd prints a one-shot snapshot of a replicated book, including
// autobridged offers for issued-to-issued pairs.
var bookCmd = &cobra.Command{
	Use:   "book",
	Short: "Print a snapshot of one order book",
	Long: `Replicate a single order book, wait for the first complete model
and print it as JSON. Sides are given as CURRENCY or CURRENCY/ISSUER,
for example --gets USD/rvYAfWj5gh67oV6fW32ZzP3Aw4Eubs59B --pays XRP.`,
	RunE: runBook,
}

func init() {
	rootCmd.AddCommand(bookCmd)
	bookCmd.Flags().StringVar(&bookGets, "gets", "", "taker gets side (CURRENCY or CURRENCY/ISSUER)")
	bookCmd.Flags().StringVar(&bookPays, "pays", "", "taker pays side (CURRENCY or CURRENCY/ISSUER)")
	bookCmd.Flags().DurationVar(&bookTimeout, "timeout", 30*time.Second, "time to wait for the first model")
	bookCmd.MarkFlagRequired("gets")
	bookCmd.MarkFlagRequired("pays")
}

func runBook(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return err
	}

	log, err := logging.New(trace || cfg.Server.Trace)
	if err != nil {
		return err
	}
	defer log.Sync()

	pair := book.Pair{}
	pair.CurrencyGets, pair.IssuerGets = parseSide(bookGets)
	pair.CurrencyPays, pair.IssuerPays = parseSide(bookPays)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := remote.NewWSClient(cfg.Server.URL, log)
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Disconnect()

	b, err := book.New(client, log, pair)
	if err != nil {
		return err
	}

	models := make(chan []*book.Offer, 1)
	cancel := b.OnModel(func(offers []*book.Offer) {
		select {
		case models <- offers:
		default:
		}
	})
	defer cancel()

	if err := b.Activate(ctx); err != nil {
		return err
	}
	defer b.Deactivate()

	var offers []*book.Offer
	select {
	case offers = <-models:
	case <-time.After(bookTimeout):
		// A direct book is complete after the snapshot even if no
		// model event fired yet.
		if !b.IsSynced() {
			return fmt.Errorf("book did not sync within %s", bookTimeout)
		}
		offers = b.Snapshot()
	case <-ctx.Done():
		return ctx.Err()
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(offers)
}

// parseSide splits CURRENCY or CURRENCY/ISSUER.
func parseSide(s string) (currency, issuer string) {
	currency, issuer, found := strings.Cut(s, "/")
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if !found {
		return currency, ""
	}
	if currency == amount.Native {
		return currency, ""
	}
	return currency, strings.TrimSpace(issuer)
}
