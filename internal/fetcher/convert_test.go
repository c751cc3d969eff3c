package fetcher

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestOunceToGram(t *testing.T) {
	cases := []struct {
		usd  string
		rate string
		want string
	}{
		{"2850.50", "7.2", "659.85"},
		{"2851.50", "7.2", "660.08"},
		{"2000", "7.25", "466.19"},
		// 31.2590175 / 31.1035 == 1.005 exactly
		{"31.2590175", "1", "1.01"},
		{"-31.2590175", "1", "-1.01"},
	}

	for _, tc := range cases {
		got := OunceToGram(decimal.RequireFromString(tc.usd), decimal.RequireFromString(tc.rate))
		if !got.Equal(decimal.RequireFromString(tc.want)) {
			t.Fatalf("OunceToGram(%s, %s) = %s, 期望 %s", tc.usd, tc.rate, got, tc.want)
		}
	}
}
