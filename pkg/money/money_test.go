package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Valid(t *testing.T) {
	d, err := Parse("80.00")
	require.NoError(t, err)
	assert.True(t, d.Equal(decimal.NewFromFloat(80.00)))
}

func TestParse_RejectsSubCent(t *testing.T) {
	_, err := Parse("80.005")
	assert.Error(t, err)
}

func TestParse_RejectsNegative(t *testing.T) {
	_, err := Parse("-1.00")
	assert.Error(t, err)
}

func TestPercentOf(t *testing.T) {
	tests := []struct {
		amount string
		pct    int
		want   string
	}{
		{"100.00", 50, "50.00"},
		{"100.00", 75, "75.00"},
		{"99.99", 50, "50.00"},  // 49.995 rounds half up
		{"33.33", 50, "16.67"},  // 16.665 rounds half up
		{"0.00", 50, "0.00"},
	}
	for _, tt := range tests {
		amount, err := Parse(tt.amount)
		require.NoError(t, err)
		got := PercentOf(amount, tt.pct)
		assert.Equal(t, tt.want, Format(got), "PercentOf(%s, %d)", tt.amount, tt.pct)
	}
}

func TestFormat(t *testing.T) {
	d := decimal.NewFromInt(20)
	assert.Equal(t, "20.00", Format(d))
}
