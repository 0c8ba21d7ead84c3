// Package selector implements coin selection over the UTXO index.
package selector

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/Klingon-tech/coinpick/internal/fees"
	"github.com/Klingon-tech/coinpick/pkg/types"
)

// Selection errors.
var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNoCandidates      = errors.New("no UTXOs match the selection criteria")
)

// bnbMaxInputs caps the subset size considered by branch and bound.
const bnbMaxInputs = 10

// bnbMaxMasks caps the number of combination masks enumerated.
const bnbMaxMasks = 1024

// knapsackMaxCandidates bounds the DP problem size.
const knapsackMaxCandidates = 50

// knapsackPruneAt / knapsackKeep bound the DP table; states under target are
// penalised by knapsackUnderPenalty satoshis of distance when pruning.
const (
	knapsackPruneAt      = 10000
	knapsackKeep         = 5000
	knapsackUnderPenalty = 1000000
)

// accumulate walks pre-sorted candidates, summing values until the target
// is reached.
func accumulate(sorted []types.UtxoRecord, target uint64) ([]types.UtxoRecord, error) {
	var selected []types.UtxoRecord
	var total uint64
	for _, u := range sorted {
		total += u.Value
		selected = append(selected, u)
		if total >= target {
			return selected, nil
		}
	}
	return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientFunds, total, target)
}

// positiveValues filters out zero-value records.
func positiveValues(utxos []types.UtxoRecord) []types.UtxoRecord {
	out := make([]types.UtxoRecord, 0, len(utxos))
	for _, u := range utxos {
		if u.Value > 0 {
			out = append(out, u)
		}
	}
	return out
}

// LargestFirst selects the largest UTXOs until the target is reached.
func LargestFirst(utxos []types.UtxoRecord, target uint64) ([]types.UtxoRecord, error) {
	sorted := positiveValues(utxos)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Value > sorted[j].Value
	})
	return accumulate(sorted, target)
}

// SmallestFirst selects the smallest UTXOs first to minimise change.
func SmallestFirst(utxos []types.UtxoRecord, target uint64) ([]types.UtxoRecord, error) {
	sorted := positiveValues(utxos)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Value < sorted[j].Value
	})
	return accumulate(sorted, target)
}

// OldestFirst selects the most-confirmed UTXOs first.
func OldestFirst(utxos []types.UtxoRecord, target uint64) ([]types.UtxoRecord, error) {
	sorted := make([]types.UtxoRecord, len(utxos))
	copy(sorted, utxos)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confirmations > sorted[j].Confirmations
	})
	return accumulate(sorted, target)
}

// NewestFirst selects the least-confirmed UTXOs first.
func NewestFirst(utxos []types.UtxoRecord, target uint64) ([]types.UtxoRecord, error) {
	sorted := make([]types.UtxoRecord, len(utxos))
	copy(sorted, utxos)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confirmations < sorted[j].Confirmations
	})
	return accumulate(sorted, target)
}

// BranchAndBound searches for the subset with the least change. An exact
// single-UTXO match wins immediately. Otherwise combination masks over the
// value-sorted candidates are enumerated, bounded by bnbMaxMasks, tracking
// the subset with sum >= target and minimal waste. maxUtxos (0 = unset) and
// bnbMaxInputs both cap the subset size. Falls back to LargestFirst when no
// subset qualifies.
func BranchAndBound(utxos []types.UtxoRecord, target uint64, maxUtxos int) ([]types.UtxoRecord, error) {
	valid := positiveValues(utxos)

	for _, u := range valid {
		if u.Value == target {
			return []types.UtxoRecord{u}, nil
		}
	}

	sorted := valid
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Value > sorted[j].Value
	})

	maxInputs := bnbMaxInputs
	if maxUtxos > 0 && maxUtxos < maxInputs {
		maxInputs = maxUtxos
	}

	n := len(sorted)
	if n > 20 {
		n = 20
	}
	maxMasks := uint64(1) << n
	if maxMasks > bnbMaxMasks {
		maxMasks = bnbMaxMasks
	}

	var best []types.UtxoRecord
	bestWaste := uint64(math.MaxUint64)

	for mask := uint64(1); mask < maxMasks; mask++ {
		var combination []types.UtxoRecord
		var total uint64
		tooLarge := false
		for j := 0; j < len(sorted); j++ {
			if (mask>>j)&1 == 0 {
				continue
			}
			if len(combination) == maxInputs {
				tooLarge = true
				break
			}
			combination = append(combination, sorted[j])
			total += sorted[j].Value
		}
		if tooLarge || total < target {
			continue
		}
		waste := total - target
		if waste < bestWaste {
			bestWaste = waste
			best = combination
			if waste == 0 {
				break
			}
		}
	}

	if best != nil {
		return best, nil
	}
	return LargestFirst(sorted, target)
}

// SingleRandomDraw accumulates uniformly shuffled UTXOs until the target is
// reached. Included for privacy: the input set leaks no ordering heuristic.
func SingleRandomDraw(utxos []types.UtxoRecord, target uint64) ([]types.UtxoRecord, error) {
	shuffled := make([]types.UtxoRecord, len(utxos))
	copy(shuffled, utxos)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	return accumulate(shuffled, target)
}

// Knapsack builds a reachable-sum table over the first fifty candidates and
// returns the subset with sum >= target minimising (overshoot, input count).
// Falls back to LargestFirst when the table holds no qualifying sum.
func Knapsack(utxos []types.UtxoRecord, target uint64) ([]types.UtxoRecord, error) {
	subset := utxos
	if len(subset) > knapsackMaxCandidates {
		subset = subset[:knapsackMaxCandidates]
	}

	bound := target * 2
	if bound < target {
		bound = math.MaxUint64
	}

	dp := map[uint64][]int{0: {}}

	for i, u := range subset {
		newStates := make(map[uint64][]int)
		for sum, indices := range dp {
			newSum := sum + u.Value
			if newSum > bound {
				continue
			}
			if existing, ok := newStates[newSum]; ok && len(existing) <= len(indices)+1 {
				continue
			}
			if existing, ok := dp[newSum]; ok && len(existing) <= len(indices)+1 {
				continue
			}
			next := make([]int, len(indices), len(indices)+1)
			copy(next, indices)
			newStates[newSum] = append(next, i)
		}
		for sum, indices := range newStates {
			dp[sum] = indices
		}

		if len(dp) > knapsackPruneAt {
			dp = pruneStates(dp, target)
		}
	}

	var bestSum uint64
	var bestIndices []int
	for sum, indices := range dp {
		if sum < target {
			continue
		}
		if bestIndices == nil ||
			sum-target < bestSum-target ||
			(sum-target == bestSum-target && len(indices) < len(bestIndices)) {
			bestSum = sum
			bestIndices = indices
		}
	}
	if bestIndices == nil {
		return LargestFirst(utxos, target)
	}

	selected := make([]types.UtxoRecord, len(bestIndices))
	for i, idx := range bestIndices {
		selected[i] = subset[idx]
	}
	return selected, nil
}

// pruneStates keeps the knapsackKeep states closest to the target. Sums
// under the target are penalised so over-target states survive first.
func pruneStates(dp map[uint64][]int, target uint64) map[uint64][]int {
	type state struct {
		sum     uint64
		indices []int
		dist    uint64
	}
	states := make([]state, 0, len(dp))
	for sum, indices := range dp {
		var dist uint64
		if sum >= target {
			dist = sum - target
		} else {
			dist = target - sum + knapsackUnderPenalty
		}
		states = append(states, state{sum, indices, dist})
	}
	sort.Slice(states, func(i, j int) bool {
		if states[i].dist != states[j].dist {
			return states[i].dist < states[j].dist
		}
		return len(states[i].indices) < len(states[j].indices)
	})
	if len(states) > knapsackKeep {
		states = states[:knapsackKeep]
	}
	pruned := make(map[uint64][]int, len(states))
	for _, s := range states {
		pruned[s.sum] = s.indices
	}
	return pruned
}

// defaultOutputCount assumes payment plus change.
const defaultOutputCount = 2

// EffectiveValue selects by fee-adjusted value. The target is raised by the
// base transaction fee (10 vbytes) and the output fees; records whose
// effective value is non-positive at the rate are discarded; accumulation
// stops once the gathered value covers the adjusted target plus the input
// fees incurred so far.
func EffectiveValue(utxos []types.UtxoRecord, target uint64, rate float64, outputCount int) ([]types.UtxoRecord, error) {
	if outputCount <= 0 {
		outputCount = defaultOutputCount
	}
	outputFee := fees.Fee(uint64(outputCount)*34, rate)
	baseFee := fees.Fee(10, rate)
	adjustedTarget := target + outputFee + baseFee

	type candidate struct {
		record    types.UtxoRecord
		effective int64
		inputFee  uint64
	}
	candidates := make([]candidate, 0, len(utxos))
	for _, u := range utxos {
		ev := fees.EffectiveValue(&u, rate)
		if ev <= 0 {
			continue
		}
		candidates = append(candidates, candidate{
			record:    u,
			effective: ev,
			inputFee:  fees.InputFee(u.ScriptType, rate),
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].effective > candidates[j].effective
	})

	var selected []types.UtxoRecord
	var totalValue, totalInputFees uint64
	for _, c := range candidates {
		selected = append(selected, c.record)
		totalValue += c.record.Value
		totalInputFees += c.inputFee

		if totalValue >= adjustedTarget+totalInputFees {
			return selected, nil
		}
	}

	totalFees := totalInputFees + outputFee + baseFee
	return nil, fmt.Errorf("%w: need %d (target) + %d (fees), have %d",
		ErrInsufficientFunds, target, totalFees, totalValue)
}
