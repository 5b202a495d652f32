package watch

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xrpmon/bookd/internal/amount"
	"github.com/xrpmon/bookd/internal/remote"
)

// CurrencyLabel renders a balance identity for humans: "XRP" for
// native, otherwise "CUR.name" using the configured issuer nicknames
// and falling back to the raw address.
func CurrencyLabel(currency, issuer string, names map[string]string) string {
	if currency == amount.Native {
		return amount.Native
	}
	if name, ok := names[issuer]; ok {
		return currency + "." + name
	}
	return currency + "." + issuer
}

// DiffBalances compares fresh balances against the stored baseline.
// It returns the new baseline and a message describing every changed
// line, empty when nothing moved.
func DiffBalances(prev map[string]string, balances []remote.Balance, names map[string]string) (map[string]string, string) {
	current := make(map[string]string, len(balances))
	var lines []string

	for _, b := range balances {
		key := CurrencyLabel(b.Currency, b.Issuer, names)
		current[key] = b.Value
		if prev[key] == b.Value {
			continue
		}

		before := amount.Zero()
		if s, ok := prev[key]; ok {
			if v, err := amount.ParseValue(s); err == nil {
				before = v
			}
		}
		after, err := amount.ParseValue(b.Value)
		if err != nil {
			continue
		}
		delta := after.Sub(before)
		sign := ""
		if !delta.IsNegative() {
			sign = "+"
		}
		lines = append(lines, fmt.Sprintf("%s: %s%s (now %s)", key, sign, delta.String(), b.Value))
	}

	// A vanished trust line is also a change.
	for key, value := range prev {
		if _, ok := current[key]; !ok {
			lines = append(lines, fmt.Sprintf("%s: gone (was %s)", key, value))
		}
	}

	if len(lines) == 0 {
		return current, ""
	}
	sort.Strings(lines)
	return current, "Balance changed:\n" + strings.Join(lines, "\n")
}

// OrderKey identifies an open order by what it trades, not by
// sequence, so a re-placed order at the same terms is not announced
// as a fill.
func OrderKey(order remote.AccountOrder, names map[string]string) string {
	quantity, errQ := amount.ParseAmount(order.Quantity)
	price, errP := amount.ParseAmount(order.TotalPrice)
	if errQ != nil || errP != nil {
		return fmt.Sprintf("%s/seq-%d", order.Direction, order.Sequence)
	}
	return fmt.Sprintf("%s/%s/%s",
		order.Direction,
		CurrencyLabel(quantity.Currency, quantity.Issuer, names),
		CurrencyLabel(price.Currency, price.Issuer, names))
}

// DiffOrders compares fresh open orders against the baseline keys.
// Keys present before but missing now were filled (or cancelled) and
// make up the message.
func DiffOrders(prev map[string]struct{}, orders []remote.AccountOrder, names map[string]string) (map[string]struct{}, string) {
	current := make(map[string]struct{}, len(orders))
	for _, order := range orders {
		current[OrderKey(order, names)] = struct{}{}
	}

	var gone []string
	for key := range prev {
		if _, ok := current[key]; !ok {
			gone = append(gone, key)
		}
	}
	if len(gone) == 0 {
		return current, ""
	}
	sort.Strings(gone)
	return current, "Order no longer open:\n" + strings.Join(gone, "\n")
}
