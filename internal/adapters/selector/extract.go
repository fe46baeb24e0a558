package selector

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	whitespace    = regexp.MustCompile(`\s+`)
	priceNumber   = regexp.MustCompile(`[0-9][0-9.,' ]*`)
	isoCurrencies = map[string]struct{}{
		"USD": {}, "EUR": {}, "GBP": {}, "JPY": {}, "INR": {}, "SEK": {}, "NOK": {},
		"DKK": {}, "CHF": {}, "CAD": {}, "AUD": {}, "NZD": {}, "PLN": {}, "BRL": {}, "MXN": {},
	}
	currencySymbols = []struct{ symbol, code string }{
		{"€", "EUR"},
		{"£", "GBP"},
		{"¥", "JPY"},
		{"₹", "INR"},
		{"kr", "SEK"},
		{"$", "USD"},
	}
)

// selectValue reads the first match of spec ("selector" or "selector@attr").
func selectValue(doc *goquery.Document, spec string) string {
	if spec == "" {
		return ""
	}
	sel, attr := splitSpec(spec)
	node := doc.Find(sel).First()
	if attr != "" {
		v, _ := node.Attr(attr)
		return strings.TrimSpace(v)
	}
	return collapse(node.Text())
}

func splitSpec(spec string) (string, string) {
	if i := strings.LastIndex(spec, "@"); i > 0 && !strings.ContainsAny(spec[i:], " ]") {
		return strings.TrimSpace(spec[:i]), spec[i+1:]
	}
	return strings.TrimSpace(spec), ""
}

func collapse(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

// parsePrice extracts a number from text such as "$12,500", "12.500,00 €" or
// "1 299 kr". The last separator followed by one or two digits is the
// decimal point; every other separator groups thousands.
func parsePrice(text string) (*float64, bool) {
	raw := priceNumber.FindString(text)
	raw = strings.TrimRight(raw, ".,' ")
	if raw == "" {
		return nil, false
	}
	decimal := -1
	if i := strings.LastIndexAny(raw, ".,"); i >= 0 {
		if frac := len(raw) - i - 1; frac == 1 || frac == 2 {
			decimal = i
		}
	}
	var b strings.Builder
	for i, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case i == decimal:
			b.WriteByte('.')
		}
	}
	v, err := strconv.ParseFloat(b.String(), 64)
	if err != nil {
		return nil, false
	}
	return &v, true
}

// currencyFromText maps a symbol or ISO code found in text.
func currencyFromText(text string) string {
	t := strings.TrimSpace(text)
	for _, word := range strings.FieldsFunc(strings.ToUpper(t), func(r rune) bool {
		return r < 'A' || r > 'Z'
	}) {
		if _, ok := isoCurrencies[word]; ok {
			return word
		}
	}
	lower := strings.ToLower(t)
	for _, cs := range currencySymbols {
		if strings.Contains(lower, cs.symbol) {
			return cs.code
		}
	}
	return ""
}
