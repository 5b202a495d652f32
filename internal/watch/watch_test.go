package watch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xrpmon/bookd/internal/amount"
	"github.com/xrpmon/bookd/internal/remote"
)

var names = map[string]string{
	"rKiCet8SdvWxPXnAgYarFUXMh1zCPz432Y": "rippleFox",
}

func TestNotifierPayloadAndRateLimit(t *testing.T) {
	var bodies []map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		bodies = append(bodies, body)
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL, time.Hour, nil)
	require.NoError(t, n.Notify(context.Background(), "first"))
	require.NoError(t, n.Notify(context.Background(), "suppressed"))

	require.Len(t, bodies, 1)
	assert.Equal(t, "first", bodies[0]["value1"])
}

func TestDiffBalances(t *testing.T) {
	prev := map[string]string{
		"XRP":            "100",
		"CNY.rippleFox":  "50",
		"USD.rGone11111": "3",
	}
	balances := []remote.Balance{
		{Currency: "XRP", Value: "100"},
		{Currency: "CNY", Issuer: "rKiCet8SdvWxPXnAgYarFUXMh1zCPz432Y", Value: "62.5"},
	}

	current, msg := DiffBalances(prev, balances, names)
	assert.Equal(t, "62.5", current["CNY.rippleFox"])
	assert.Contains(t, msg, "CNY.rippleFox: +12.5 (now 62.5)")
	assert.Contains(t, msg, "USD.rGone11111: gone (was 3)")
	assert.NotContains(t, msg, "XRP:")

	_, msg = DiffBalances(current, balances, names)
	assert.Empty(t, msg, "unchanged balances must not notify")
}

func TestDiffOrders(t *testing.T) {
	sell := remote.AccountOrder{
		Direction:  "sell",
		Sequence:   7,
		Quantity:   json.RawMessage(`{"currency":"CNY","issuer":"rKiCet8SdvWxPXnAgYarFUXMh1zCPz432Y","value":"10"}`),
		TotalPrice: json.RawMessage(`"4000000"`),
	}
	current, msg := DiffOrders(map[string]struct{}{}, []remote.AccountOrder{sell}, names)
	assert.Empty(t, msg, "new orders are baseline, not fills")
	require.Contains(t, current, "sell/CNY.rippleFox/XRP")

	next, msg := DiffOrders(current, nil, names)
	assert.Empty(t, next)
	assert.Contains(t, msg, "sell/CNY.rippleFox/XRP")
}

func TestStoreRoundTrip(t *testing.T) {
	store, err := OpenStore(filepath.Join(t.TempDir(), "watch.db"))
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.SaveBalances(map[string]string{"XRP": "42"}))
	balances, err := store.Balances()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"XRP": "42"}, balances)

	require.NoError(t, store.SaveOrders(map[string]struct{}{"sell/XRP/CNY.rippleFox": {}}))
	orders, err := store.Orders()
	require.NoError(t, err)
	assert.Contains(t, orders, "sell/XRP/CNY.rippleFox")

	// Saving replaces, never merges.
	require.NoError(t, store.SaveBalances(map[string]string{"CNY.rippleFox": "1"}))
	balances, err = store.Balances()
	require.NoError(t, err)
	assert.NotContains(t, balances, "XRP")
}

func TestProfit(t *testing.T) {
	fees := Fees{
		Ask: amount.MustParseValue("0.001"),
		Bid: amount.MustParseValue("0.003"),
	}

	// Selling at 110 and buying at 100 with 0.3% fees on each side:
	// cost = 110*0.003 + 100*0.003 = 0.63, profit = 9.37/100.
	profit, err := Profit(
		amount.MustParseValue("110"),
		amount.MustParseValue("100"),
		fees, fees,
	)
	require.NoError(t, err)
	assert.Equal(t, "0.0937", profit.String())

	_, err = Profit(amount.MustParseValue("110"), amount.Zero(), fees, fees)
	require.ErrorIs(t, err, ErrNoLiquidity)
}
