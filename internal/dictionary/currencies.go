package dictionary

import (
	"strings"

	"github.com/govalues/money"
)

// CurrencyDef describes a currency accounts may be opened in.
type CurrencyDef struct {
	Code       string `json:"code"`
	Label      string `json:"label"`
	MinorUnits int    `json:"minor_units"`
}

var curated = []CurrencyDef{
	{Code: "GBP", Label: "Pound Sterling", MinorUnits: 2},
	{Code: "EUR", Label: "Euro", MinorUnits: 2},
	{Code: "USD", Label: "US Dollar", MinorUnits: 2},
	{Code: "CHF", Label: "Swiss Franc", MinorUnits: 2},
	{Code: "PLN", Label: "Polish Zloty", MinorUnits: 2},
	{Code: "JPY", Label: "Yen", MinorUnits: 0},
}

// Currencies returns a copy of the supported currency list.
func Currencies() []CurrencyDef {
	out := make([]CurrencyDef, len(curated))
	copy(out, curated)
	return out
}

// Normalize upper-cases code and reports whether it is both supported here and
// known to the money library.
func Normalize(code string) (string, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	for _, c := range curated {
		if c.Code != code {
			continue
		}
		if _, err := money.NewAmountFromMinorUnits(code, 0); err != nil {
			return "", false
		}
		return code, true
	}
	return "", false
}
