package api

import (
	"encoding/json"
	"net/http"

	"github.com/Klingon-tech/coinpick/pkg/types"
)

// apiResponse is the uniform envelope for every endpoint.
type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// healthResponse reports liveness.
type healthResponse struct {
	Status    string `json:"status"`
	Timestamp uint64 `json:"timestamp"`
	Version   string `json:"version"`
}

// SelectionRequest is the body of the selection endpoints.
type SelectionRequest struct {
	TargetAmount     uint64             `json:"target_amount"`
	Strategy         string             `json:"strategy,omitempty"`
	MaxUtxos         *int               `json:"max_utxos,omitempty"`
	MinConfirmations *uint64            `json:"min_confirmations,omitempty"`
	MaxConfirmations *uint64            `json:"max_confirmations,omitempty"`
	ExcludeCoinbase  *bool              `json:"exclude_coinbase,omitempty"`
	ScriptTypes      []types.ScriptType `json:"script_types,omitempty"`
	Addresses        []string           `json:"addresses,omitempty"`
	AddressPatterns  []string           `json:"address_patterns,omitempty"`
	FeeRate          *float64           `json:"fee_rate_sat_per_vbyte,omitempty"`
	OutputCount      *int               `json:"output_count,omitempty"`
}

// criteria converts the request into selection criteria.
func (r *SelectionRequest) criteria() *types.SelectionCriteria {
	c := &types.SelectionCriteria{
		TargetAmount:     r.TargetAmount,
		MaxUtxos:         r.MaxUtxos,
		MinConfirmations: r.MinConfirmations,
		MaxConfirmations: r.MaxConfirmations,
		ScriptTypes:      r.ScriptTypes,
		Addresses:        r.Addresses,
		AddressPatterns:  r.AddressPatterns,
		FeeRate:          r.FeeRate,
		OutputCount:      r.OutputCount,
	}
	if r.ExcludeCoinbase != nil {
		c.ExcludeCoinbase = *r.ExcludeCoinbase
	}
	return c
}

// WalletSelectionRequest is the simpler body of the per-address endpoint.
type WalletSelectionRequest struct {
	TargetAmount uint64   `json:"target_amount"`
	Strategy     string   `json:"strategy,omitempty"`
	MaxUtxos     *int     `json:"max_utxos,omitempty"`
	FeeRate      *float64 `json:"fee_rate_sat_per_vbyte,omitempty"`
	OutputCount  *int     `json:"output_count,omitempty"`
}

// BatchSelectionRequest is the body of /select/batch.
type BatchSelectionRequest struct {
	Targets  []SelectionRequest `json:"targets"`
	Strategy string             `json:"strategy,omitempty"`
}

// distribution is the /analysis/distribution payload.
type distribution struct {
	Ranges     []distributionRange `json:"ranges"`
	TotalUtxos uint64              `json:"total_utxos"`
	TotalValue uint64              `json:"total_value"`
}

// distributionRange is one value bucket.
type distributionRange struct {
	MinAmount  uint64  `json:"min_amount"`
	MaxAmount  uint64  `json:"max_amount"`
	Count      uint64  `json:"count"`
	TotalValue uint64  `json:"total_value"`
	Percentage float64 `json:"percentage"`
}

// writeJSON writes the envelope with the given status.
func writeJSON(w http.ResponseWriter, status int, resp apiResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// writeData writes a successful envelope.
func writeData(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: data})
}

// writeError writes a failure envelope with the given HTTP status. Client-
// attributable selection failures use status 200: the request was served,
// the answer is "no".
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, apiResponse{Success: false, Error: msg})
}
