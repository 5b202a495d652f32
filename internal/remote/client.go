// Package remote speaks to a ledger network node over its WebSocket
// API: request/response commands, stream subscriptions, and the
// connection lifecycle the order book replica depends on.
package remote

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrOffline reports an operation attempted without a live connection.
// The caller decides whether to retry; the client never retries a
// single failed request on its own.
var ErrOffline = errors.New("server is offline")

// ErrInvalidResponse reports a response whose shape cannot be used.
var ErrInvalidResponse = errors.New("invalid response")

// AccountOne is the well-known neutral taker account used for book
// queries when no perspective account is configured.
const AccountOne = "rrrrrrrrrrrrrrrrrrrrBZbvji"

// CurrencySpec identifies one side of a trading pair.
type CurrencySpec struct {
	Currency string `json:"currency"`
	Issuer   string `json:"issuer,omitempty"`
}

// LedgerClosed is the per-ledger checkpoint notification. The
// transaction count opens the window against which "fully applied" is
// defined.
type LedgerClosed struct {
	LedgerVersion    uint32
	TransactionCount int
	CloseTime        uint32
}

// Transaction is one settled transaction from the transaction stream.
type Transaction struct {
	TransactionType string
	Hash            string
	// OwnerFunds is the spendable balance rippled discloses on
	// OfferCreate transactions; empty when not disclosed.
	OwnerFunds  string
	Meta        json.RawMessage
	Transaction json.RawMessage
}

// BookOffersRequest queries one book's offers.
type BookOffersRequest struct {
	TakerGets   CurrencySpec
	TakerPays   CurrencySpec
	Taker       string
	LedgerIndex any // uint32 sequence or "validated"
}

// BookOffersResult is the raw snapshot of one book.
type BookOffersResult struct {
	LedgerIndex uint32
	Offers      []json.RawMessage
}

// AccountSettings carries the issuer settings the book needs.
type AccountSettings struct {
	// TransferRate is the issuer's fee factor as a decimal ratio
	// string, "1.000000000" when the issuer levies no fee.
	TransferRate string
}

// Balance is one currency balance of an account.
type Balance struct {
	Currency string
	Issuer   string
	Value    string
}

// AccountOrder is one open offer of an account.
type AccountOrder struct {
	Direction  string // "buy" or "sell"
	Sequence   uint32
	Quantity   json.RawMessage // taker_gets
	TotalPrice json.RawMessage // taker_pays
}

// Client is the ledger network collaborator. The order book replica
// owns no transport state; everything flows through this boundary.
type Client interface {
	Connect(ctx context.Context) error
	Disconnect() error
	IsConnected() bool

	Subscribe(streams ...string) error
	Unsubscribe(streams ...string) error

	BookOffers(ctx context.Context, req BookOffersRequest) (*BookOffersResult, error)
	AccountSettings(ctx context.Context, account string) (*AccountSettings, error)
	AccountBalances(ctx context.Context, account string) ([]Balance, error)
	AccountOrders(ctx context.Context, account string) ([]AccountOrder, error)

	OnLedgerClosed(fn func(LedgerClosed)) (cancel func())
	OnTransaction(fn func(Transaction)) (cancel func())
	OnConnected(fn func()) (cancel func())
}
