package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/csa-normalizer/internal/model"
)

func TestTimezoneAliasTokenMatching(t *testing.T) {
	cases := []struct {
		name    string
		text    string
		zone    string
		matched string
	}{
		{"abbreviation as own token", "1:00 p.m. ET", "America/New_York", "et"},
		{"multi-word city name", "1:00 p.m., New York time", "America/New_York", "new york"},
		{"lowercase est token", "5:00 pm est", "America/New_York", "est"},
		{"est inside Settlement must not fire", "5:00 p.m. on each Settlement Day", "", ""},
		{"et inside asset must not fire", "the market value of each asset", "", ""},
		{"et inside interest must not fire", "interest accrues daily", "", ""},
		{"longer alias wins over shorter", "Tokyo time, JST", "Asia/Tokyo", "tokyo"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			zone, matched := timezoneAlias(tc.text)
			assert.Equal(t, tc.zone, zone)
			assert.Equal(t, tc.matched, matched)
		})
	}
}

func TestCurrencyAliasExactLookup(t *testing.T) {
	code, ok := currencyAlias(" Dollars ")
	assert.True(t, ok)
	assert.Equal(t, "USD", code)

	_, ok = currencyAlias("doubloons")
	assert.False(t, ok, "lookups are exact, not fuzzy")
}

func TestClassifyAssetKeyword(t *testing.T) {
	class, ok := classifyAsset("negotiable debt obligations issued by the U.S. Treasury")
	assert.True(t, ok)
	assert.NotEqual(t, model.AssetOther, class)

	class, ok = classifyAsset("rare stamps")
	assert.False(t, ok)
	assert.Equal(t, model.AssetOther, class)
}
