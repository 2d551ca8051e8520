package explorer_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/qortal/qortd/pkg/explorer"
)

func TestSelectUnspents(t *testing.T) {
	tests := []struct {
		name       string
		values     []uint64
		target     uint64
		wantValues []uint64
		wantChange uint64
	}{
		{
			name:       "single utxo within ratio",
			values:     []uint64{61, 61, 61, 38, 61, 61, 61, 1, 1, 1, 3},
			target:     6,
			wantValues: []uint64{38},
			wantChange: 32,
		},
		{
			name:       "smallest combination within ratio",
			values:     []uint64{61, 61, 61, 61, 61, 61, 1, 1, 1, 3},
			target:     6,
			wantValues: []uint64{3, 1, 1, 1},
			wantChange: 0,
		},
		{
			name:       "no combination within ratio",
			values:     []uint64{61, 61},
			target:     6,
			wantValues: []uint64{61},
			wantChange: 55,
		},
		{
			name:       "prefers biggest",
			values:     []uint64{61, 1, 1, 1, 3, 56},
			target:     6,
			wantValues: []uint64{56},
			wantChange: 50,
		},
		{
			name:       "greedy",
			values:     []uint64{1, 1, 1, 1, 1, 1},
			target:     6,
			wantValues: []uint64{1, 1, 1, 1, 1, 1},
			wantChange: 0,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			coins, change, err := explorer.SelectUnspents(newUtxos(tt.values), tt.target)
			require.NoError(t, err)
			require.Equal(t, tt.wantChange, change)

			values := make([]uint64, 0, len(coins))
			for _, c := range coins {
				values = append(values, c.Value)
			}
			require.Equal(t, tt.wantValues, values)
		})
	}

	t.Run("insufficient funds", func(t *testing.T) {
		_, _, err := explorer.SelectUnspents(newUtxos([]uint64{2, 2}), 6)
		require.ErrorIs(t, err, explorer.ErrInsufficientFunds)

		_, _, err = explorer.SelectUnspents(nil, 1)
		require.ErrorIs(t, err, explorer.ErrInsufficientFunds)
	})
}

func newUtxos(values []uint64) []explorer.Utxo {
	utxos := make([]explorer.Utxo, 0, len(values))
	for i, v := range values {
		utxos = append(utxos, explorer.Utxo{
			TxID:  fmt.Sprintf("%064d", i),
			Value: v,
		})
	}
	return utxos
}
