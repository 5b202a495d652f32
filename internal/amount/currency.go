package amount

import "strings"

// Native is the network's native currency code.
const Native = "XRP"

// NormalizeCurrency upcases the native currency code so "xrp" and "XRP"
// compare equal; issued currency codes are case sensitive and pass
// through untouched.
func NormalizeCurrency(currency string) string {
	if strings.EqualFold(currency, Native) {
		return Native
	}
	return currency
}

// IsValidCurrency reports whether a currency code is syntactically
// valid: a three-character ISO-style code or a 40-digit hex code.
func IsValidCurrency(currency string) bool {
	switch len(currency) {
	case 3:
		return true
	case 40:
		for i := 0; i < len(currency); i++ {
			c := currency[i]
			if !(c >= '0' && c <= '9' || c >= 'A' && c <= 'F' || c >= 'a' && c <= 'f') {
				return false
			}
		}
		return true
	default:
		return false
	}
}
