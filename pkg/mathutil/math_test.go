package mathutil_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/qortal/qortd/pkg/mathutil"
)

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		amount   uint64
		expected string
	}{
		{0, "0.00000000"},
		{1, "0.00000001"},
		{150000000, "1.50000000"},
		{2100000000000000, "21000000.00000000"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.expected, mathutil.FormatAmount(tt.amount))
	}
}

func TestParseAmount(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		tests := []struct {
			value    string
			expected uint64
		}{
			{"1", 100000000},
			{"1.5", 150000000},
			{"0.00000001", 1},
			{"21000000.00000000", 2100000000000000},
		}
		for _, tt := range tests {
			amount, err := mathutil.ParseAmount(tt.value)
			require.NoError(t, err)
			require.Equal(t, tt.expected, amount)
		}
	})

	t.Run("invalid", func(t *testing.T) {
		for _, value := range []string{"", "abc", "0", "-1", "0.000000001", "1e30"} {
			_, err := mathutil.ParseAmount(value)
			require.ErrorIs(t, err, mathutil.ErrInvalidAmount, value)
		}
	})
}

func TestPrice(t *testing.T) {
	require.Equal(t, "0.005", mathutil.Price(100_00000000, 50000000).String())
	require.True(t, mathutil.Price(0, 1).IsZero())
}

func TestTxFee(t *testing.T) {
	require.Equal(t, uint64(2260), mathutil.TxFee(1, 2, 10))
	require.Equal(t, uint64(3740), mathutil.TxFee(2, 2, 10))
}
