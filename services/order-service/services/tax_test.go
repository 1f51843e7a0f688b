package services

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithTax(t *testing.T) {
	cases := []struct {
		base int64
		rate string
		want int64
	}{
		{8000, "0.14", 9120},
		{0, "0.14", 0},
		{1, "0.14", 1},
		{7, "0.14", 7},
		{50, "0.14", 57},
		{999, "0.13", 1128},
		{1000, "0", 1000},
	}
	for _, tc := range cases {
		got := WithTax(tc.base, decimal.RequireFromString(tc.rate))
		assert.Equal(t, tc.want, got, "base=%d rate=%s", tc.base, tc.rate)
	}
}

func TestParseTaxRate(t *testing.T) {
	rate, err := ParseTaxRate("0.14")
	require.NoError(t, err)
	assert.True(t, rate.Equal(DefaultTaxRate))

	_, err = ParseTaxRate("abc")
	assert.Error(t, err)
	_, err = ParseTaxRate("-0.1")
	assert.Error(t, err)
}
