package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestRound2(t *testing.T) {
	cases := map[string]string{
		"151.4634": "151.46",
		"186.295":  "186.3",
		"0.005":    "0.01",
		"-0.005":   "-0.01",
		"10":       "10",
	}
	for in, want := range cases {
		assert.True(t, Round2(d(in)).Equal(d(want)), "round %s", in)
	}
}

func TestPercent(t *testing.T) {
	assert.True(t, Percent(d("900"), d("10")).Equal(d("90")))
	assert.True(t, Round2(Percent(d("810"), d("23"))).Equal(d("186.30")))
}

func TestPercentInclusive(t *testing.T) {
	assert.True(t, Round2(PercentInclusive(d("810"), d("23"))).Equal(d("151.46")))
	assert.True(t, PercentInclusive(d("810"), decimal.Zero).IsZero())
}

func TestClampAndNonNil(t *testing.T) {
	assert.True(t, ClampNonNegative(d("-3")).IsZero())
	assert.True(t, ClampNonNegative(d("3")).Equal(d("3")))
	assert.True(t, NonNil(nil).IsZero())
	assert.True(t, NonNil(Ptr(d("4.5"))).Equal(d("4.5")))
	assert.True(t, Sum(d("1"), d("2.5"), d("-0.5")).Equal(d("3")))
	assert.True(t, Sum().IsZero())
}

func TestIsPercent(t *testing.T) {
	assert.True(t, IsPercent(d("0")))
	assert.True(t, IsPercent(d("100")))
	assert.False(t, IsPercent(d("100.01")))
	assert.False(t, IsPercent(d("-1")))
}

func TestParseCurrency(t *testing.T) {
	code, err := ParseCurrency(" eur ")
	require.NoError(t, err)
	assert.Equal(t, "EUR", code)

	_, err = ParseCurrency("")
	require.Error(t, err)

	_, err = ParseCurrency("ZZQ")
	require.Error(t, err)
}
