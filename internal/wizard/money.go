package wizard

import (
	"regexp"
	"strconv"
	"strings"
)

const DefaultCurrency = "USD"

var (
	moneyPattern = regexp.MustCompile(`(?i)([A-Z]{3}|[$€£¥])\s*(\d+(?:,\d+)*(?:\.\d+)?)`)
	symbolCodes  = map[string]string{"$": "USD", "€": "EUR", "£": "GBP", "¥": "JPY"}
)

// ExtractMoney finds the first currency amount in free text, written either as
// a three letter code or a symbol followed by a number. Without a match it
// returns 0 and USD.
func ExtractMoney(text string) (float64, string) {
	m := moneyPattern.FindStringSubmatch(text)
	if m == nil {
		return 0, DefaultCurrency
	}
	amount, err := strconv.ParseFloat(strings.ReplaceAll(m[2], ",", ""), 64)
	if err != nil {
		return 0, DefaultCurrency
	}
	if code, ok := symbolCodes[m[1]]; ok {
		return amount, code
	}
	return amount, strings.ToUpper(m[1])
}
