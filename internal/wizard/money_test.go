package wizard

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractMoney(t *testing.T) {
	cases := []struct {
		in       string
		amount   float64
		currency string
	}{
		{"Pay USD 1,500 for design work", 1500, "USD"},
		{"$750 flat fee", 750, "USD"},
		{"Budget is €1,200.50 or £900", 1200.50, "EUR"},
		{"¥30000 per month", 30000, "JPY"},
		{"paid in chf 99.9", 99.9, "CHF"},
		{"no money mentioned", 0, "USD"},
	}
	for _, tc := range cases {
		amount, currency := ExtractMoney(tc.in)
		assert.InDelta(t, tc.amount, amount, 0.0001, tc.in)
		assert.Equal(t, tc.currency, currency, tc.in)
	}
}
