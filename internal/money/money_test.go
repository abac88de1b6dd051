package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatUsesThreeDecimals(t *testing.T) {
	assert.Equal(t, "3.000", Format(decimal.NewFromInt(3)))
	assert.Equal(t, "0.150", Format(decimal.RequireFromString("0.15")))
	assert.Equal(t, "1.235", Format(decimal.RequireFromString("1.2346")))
	assert.Nil(t, FormatPtr(nil))
}

func TestChakraUnitsIsExact(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"5", "1"},
		{"7", "1.4"},
		{"1", "0.2"},
		{"0", "0"},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got := ChakraUnits(decimal.RequireFromString(tc.in))
			assert.True(t, got.Equal(decimal.RequireFromString(tc.want)), "got %s", got)
		})
	}

	// repeated aggregation never drifts
	total := decimal.Zero
	for i := 0; i < 1000; i++ {
		total = total.Add(ChakraUnits(decimal.NewFromInt(1)))
	}
	assert.True(t, total.Equal(decimal.NewFromInt(200)))
}

func TestParse(t *testing.T) {
	d, err := Parse("20.5")
	require.NoError(t, err)
	assert.True(t, d.Equal(decimal.RequireFromString("20.5")))

	_, err = Parse("")
	assert.Error(t, err)
	_, err = Parse("abc")
	assert.Error(t, err)
}

func TestSumAndOr(t *testing.T) {
	assert.True(t, Sum(decimal.NewFromInt(1), decimal.RequireFromString("0.5")).Equal(decimal.RequireFromString("1.5")))
	assert.True(t, Or(nil, decimal.NewFromInt(7)).Equal(decimal.NewFromInt(7)))
	assert.True(t, Or(Ptr(decimal.NewFromInt(2)), decimal.Zero).Equal(decimal.NewFromInt(2)))
}
