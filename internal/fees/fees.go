// Package fees estimates transaction sizes and fee-adjusted values.
//
// All sizes are virtual bytes. Per-quantity fees round up after the
// rate multiplication; totals are sums of already-rounded quantities.
package fees

import (
	"math"

	"github.com/Klingon-tech/coinpick/pkg/types"
)

// Input vsize estimates by script type. P2SH assumes the common
// P2SH-P2WPKH nesting; unknown scripts get a conservative estimate.
const (
	inputP2WPKH  = 68
	inputP2PKH   = 148
	inputP2SH    = 91
	inputP2TR    = 57
	inputP2WSH   = 104
	inputUnknown = 120
)

// Output size estimates by script type.
const (
	outputP2WPKH  = 31
	outputP2PKH   = 34
	outputP2SH    = 32
	outputP2TR    = 43
	outputP2WSH   = 43
	outputUnknown = 40
)

// Transaction overhead: version(4) + locktime(4), plus 2 bytes of witness
// marker and flag when any input is segwit.
const (
	txOverhead      = 8
	witnessOverhead = 2
)

// InputVsize returns the estimated vsize of an input spending the given
// script type.
func InputVsize(st types.ScriptType) uint64 {
	switch st {
	case types.ScriptP2WPKH:
		return inputP2WPKH
	case types.ScriptP2PKH:
		return inputP2PKH
	case types.ScriptP2SH:
		return inputP2SH
	case types.ScriptP2TR:
		return inputP2TR
	case types.ScriptP2WSH:
		return inputP2WSH
	default:
		return inputUnknown
	}
}

// OutputSize returns the estimated size of an output paying to the given
// script type.
func OutputSize(st types.ScriptType) uint64 {
	switch st {
	case types.ScriptP2WPKH:
		return outputP2WPKH
	case types.ScriptP2PKH:
		return outputP2PKH
	case types.ScriptP2SH:
		return outputP2SH
	case types.ScriptP2TR:
		return outputP2TR
	case types.ScriptP2WSH:
		return outputP2WSH
	default:
		return outputUnknown
	}
}

// VarIntSize returns the encoded size of a Bitcoin variable-length integer.
func VarIntSize(v uint64) uint64 {
	switch {
	case v < 0xFD:
		return 1
	case v < 0x10000:
		return 3
	case v < 0x100000000:
		return 5
	default:
		return 9
	}
}

// hasWitness reports whether any input script type carries witness data.
func hasWitness(inputs []types.ScriptType) bool {
	for _, st := range inputs {
		switch st {
		case types.ScriptP2WPKH, types.ScriptP2WSH, types.ScriptP2TR, types.ScriptP2SH:
			return true
		}
	}
	return false
}

// TxVsize estimates the total vsize of a transaction spending the given
// input script types and paying to the given output script types.
func TxVsize(inputs, outputs []types.ScriptType) uint64 {
	size := uint64(txOverhead)
	size += VarIntSize(uint64(len(inputs)))
	size += VarIntSize(uint64(len(outputs)))
	if hasWitness(inputs) {
		size += witnessOverhead
	}
	for _, st := range inputs {
		size += InputVsize(st)
	}
	for _, st := range outputs {
		size += OutputSize(st)
	}
	return size
}

// Fee converts a vsize into satoshis at the given rate, rounding up.
func Fee(vsize uint64, rate float64) uint64 {
	return uint64(math.Ceil(float64(vsize) * rate))
}

// InputFee is the cost of spending an input of the given script type.
func InputFee(st types.ScriptType, rate float64) uint64 {
	return Fee(InputVsize(st), rate)
}

// EffectiveValue is the record's value minus the cost of spending it.
// Negative for dust records, so the result is signed.
func EffectiveValue(u *types.UtxoRecord, rate float64) int64 {
	return int64(u.Value) - int64(InputFee(u.ScriptType, rate))
}

// IsEconomical reports whether spending the record nets more than it costs.
func IsEconomical(u *types.UtxoRecord, rate float64) bool {
	return EffectiveValue(u, rate) > 0
}

// DustThreshold is three times the cost to spend an output of the given
// script type at the given rate.
func DustThreshold(st types.ScriptType, rate float64) uint64 {
	return 3 * InputFee(st, rate)
}

// TxFee estimates the full fee for spending the given records into the
// given output script types at the given rate.
func TxFee(records []types.UtxoRecord, outputs []types.ScriptType, rate float64) uint64 {
	inputs := make([]types.ScriptType, len(records))
	var itemsVsize, fee uint64
	for i, u := range records {
		inputs[i] = u.ScriptType
		itemsVsize += InputVsize(u.ScriptType)
		fee += InputFee(u.ScriptType, rate)
	}
	for _, st := range outputs {
		itemsVsize += OutputSize(st)
		fee += Fee(OutputSize(st), rate)
	}
	// The fixed overhead (version, locktime, counts, witness marker) is
	// rounded as one more quantity.
	return fee + Fee(TxVsize(inputs, outputs)-itemsVsize, rate)
}

// Rates holds recommended fee rates in sat/vbyte.
type Rates struct {
	Fast    float64 `json:"fast"`
	Normal  float64 `json:"normal"`
	Slow    float64 `json:"slow"`
	Minimum float64 `json:"minimum"`
}

// RecommendedRates returns static fee-rate guidance. A production deployment
// would source these from a fee estimation service.
func RecommendedRates() Rates {
	return Rates{Fast: 20, Normal: 10, Slow: 5, Minimum: 1}
}
