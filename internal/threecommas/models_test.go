package threecommas

import "testing"

// TestQuoteCurrency verifies extraction of the traded currency from
// 3Commas pair names.
func TestQuoteCurrency(t *testing.T) {
	cases := []struct {
		pair string
		want string
	}{
		{"USDT_BTC", "BTC"},
		{"BTC_ETH", "ETH"},
		{"BTCUSDT", "BTCUSDT"},
	}
	for _, tc := range cases {
		deal := &Deal{Pair: tc.pair}
		if got := deal.QuoteCurrency(); got != tc.want {
			t.Errorf("QuoteCurrency(%q) = %q, want %q", tc.pair, got, tc.want)
		}
	}
}
