package selector

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParsePrice(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want float64
	}{
		{"$12,500", 12500},
		{"12.500,00 €", 12500},
		{"1 299 kr", 1299},
		{"€ 9.99", 9.99},
		{"Price: 1,234.5 USD", 1234.5},
		{"7500", 7500},
	}
	for _, tt := range tests {
		got, ok := parsePrice(tt.in)
		require.True(t, ok, tt.in)
		require.InDelta(t, tt.want, *got, 1e-9, tt.in)
	}

	_, ok := parsePrice("Call for price")
	require.False(t, ok)
}

func TestCurrencyFromText(t *testing.T) {
	t.Parallel()

	require.Equal(t, "USD", currencyFromText("$12,500"))
	require.Equal(t, "EUR", currencyFromText("12.500 €"))
	require.Equal(t, "CAD", currencyFromText("CA$ 100 CAD"))
	require.Equal(t, "SEK", currencyFromText("1 299 kr"))
	require.Empty(t, currencyFromText("Call for price"))
}

func TestSplitSpec(t *testing.T) {
	t.Parallel()

	sel, attr := splitSpec("meta[property='og:image']@content")
	require.Equal(t, "meta[property='og:image']", sel)
	require.Equal(t, "content", attr)

	sel, attr = splitSpec("h1.title")
	require.Equal(t, "h1.title", sel)
	require.Empty(t, attr)
}
