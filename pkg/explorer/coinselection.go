package explorer

import (
	"errors"
	"sort"
)

// ErrInsufficientFunds ...
var ErrInsufficientFunds = errors.New(
	"error on target amount: total utxo amount does not cover target amount",
)

// maxCombinationSize bounds the number of utxos combined when looking for the
// best selection, bigger selections fall back to the greedy strategy.
const maxCombinationSize = 4

// SelectUnspents performs a coin selection over the given list of utxos and
// returns a subset of them covering targetAmount, together with the change.
// The strategy selects as few utxos as possible whose total does not exceed
// 10 times the target.
func SelectUnspents(
	utxos []Utxo, targetAmount uint64,
) (coins []Utxo, change uint64, err error) {
	sorted := make([]Utxo, len(utxos))
	copy(sorted, utxos)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Value > sorted[j].Value
	})

	values := make([]uint64, 0, len(sorted))
	for _, u := range sorted {
		values = append(values, u.Value)
	}

	indexes := getBestCombination(values, targetAmount)
	if len(indexes) <= 0 {
		return nil, 0, ErrInsufficientFunds
	}

	total := uint64(0)
	coins = make([]Utxo, 0, len(indexes))
	for _, i := range indexes {
		total += sorted[i].Value
		coins = append(coins, sorted[i])
	}
	return coins, total - targetAmount, nil
}

// getBestCombination returns the indexes of the smallest combination of
// values (sorted descending) whose sum covers target within a 10x ratio. If
// none exists, the first single value above target is used, otherwise values
// are accumulated greedily.
func getBestCombination(values []uint64, target uint64) []int {
	for size := 1; size <= len(values) && size <= maxCombinationSize; size++ {
		if indexes := findCombination(values, target, size); indexes != nil {
			return indexes
		}
	}

	for i, v := range values {
		if v >= target {
			return []int{i}
		}
	}

	indexes := make([]int, 0)
	total := uint64(0)
	for i, v := range values {
		indexes = append(indexes, i)
		total += v
		if total >= target {
			return indexes
		}
	}
	return nil
}

// findCombination visits the combinations of size values in lexicographic
// order of indexes and returns the first one within the target range.
func findCombination(values []uint64, target uint64, size int) []int {
	indexes := make([]int, size)
	for i := range indexes {
		indexes[i] = i
	}

	for {
		total := uint64(0)
		for _, i := range indexes {
			total += values[i]
		}
		if total >= target && (target == 0 || total <= target*10) {
			return append([]int{}, indexes...)
		}

		// next combination
		i := size - 1
		for i >= 0 && indexes[i] == len(values)-size+i {
			i--
		}
		if i < 0 {
			return nil
		}
		indexes[i]++
		for j := i + 1; j < size; j++ {
			indexes[j] = indexes[j-1] + 1
		}
	}
}
