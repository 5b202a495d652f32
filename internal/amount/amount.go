package amount

import (
	"encoding/json"
	"fmt"
)

// Amount is a currency-qualified Value: either a native amount in drops
// or an issued-currency amount with its issuing account.
//
// The wire encoding follows the ledger: native amounts marshal as a
// bare string of drops, issued amounts as a {currency, issuer, value}
// object.
type Amount struct {
	Value    Value
	Currency string
	Issuer   string
}

// NewNative builds a native Amount from a drops value.
func NewNative(v Value) Amount {
	return Amount{Value: v, Currency: Native}
}

// NewIssued builds an issued-currency Amount.
func NewIssued(v Value, currency, issuer string) Amount {
	return Amount{Value: v, Currency: NormalizeCurrency(currency), Issuer: issuer}
}

// ParseAmount parses the ledger's JSON amount representation.
func ParseAmount(raw json.RawMessage) (Amount, error) {
	var drops string
	if err := json.Unmarshal(raw, &drops); err == nil {
		v, err := ParseValue(drops)
		if err != nil {
			return Amount{}, err
		}
		return NewNative(v), nil
	}

	var obj struct {
		Currency string `json:"currency"`
		Issuer   string `json:"issuer"`
		Value    string `json:"value"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return Amount{}, fmt.Errorf("%w: %s", ErrInvalidAmount, raw)
	}
	v, err := ParseValue(obj.Value)
	if err != nil {
		return Amount{}, err
	}
	return NewIssued(v, obj.Currency, obj.Issuer), nil
}

// IsNative reports whether the amount is denominated in the native
// currency.
func (a Amount) IsNative() bool {
	return a.Currency == Native
}

// ValueString renders the numeric part. Native amounts are floored to
// whole drops.
func (a Amount) ValueString() string {
	if a.IsNative() {
		return a.Value.Floor().String()
	}
	return a.Value.String()
}

// WithValue returns a copy of the amount carrying a different value.
func (a Amount) WithValue(v Value) Amount {
	a.Value = v
	return a
}

// CurrencyString returns the canonical currency identity used in book
// keys: "XRP" for native, "CUR/issuer" otherwise.
func (a Amount) CurrencyString() string {
	if a.IsNative() {
		return Native
	}
	return a.Currency + "/" + a.Issuer
}

// MarshalJSON implements json.Marshaler in the ledger's wire form.
func (a Amount) MarshalJSON() ([]byte, error) {
	if a.IsNative() {
		return json.Marshal(a.ValueString())
	}
	return json.Marshal(map[string]string{
		"currency": a.Currency,
		"issuer":   a.Issuer,
		"value":    a.Value.String(),
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *Amount) UnmarshalJSON(data []byte) error {
	parsed, err := ParseAmount(data)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
