package types

import (
	"encoding/hex"
	"encoding/json"
)

// ScriptType classifies an output's locking script.
type ScriptType string

// Recognised script types.
const (
	ScriptP2PKH    ScriptType = "p2pkh"
	ScriptP2SH     ScriptType = "p2sh"
	ScriptP2WPKH   ScriptType = "p2wpkh"
	ScriptP2WSH    ScriptType = "p2wsh"
	ScriptP2TR     ScriptType = "p2tr"
	ScriptOpReturn ScriptType = "op_return"
	ScriptUnknown  ScriptType = "unknown"
)

// UtxoRecord is an unspent transaction output as tracked by the index.
type UtxoRecord struct {
	Outpoint      Outpoint   `json:"outpoint"`
	Value         uint64     `json:"value"`
	Script        HexBytes   `json:"script"`
	BlockHeight   uint64     `json:"block_height"`
	BlockHash     Hash       `json:"block_hash"`
	IsCoinbase    bool       `json:"is_coinbase"`
	Confirmations uint64     `json:"confirmations"`
	Address       string     `json:"address,omitempty"`
	ScriptType    ScriptType `json:"script_type"`
}

// HexBytes is a byte slice that marshals to a hex string in JSON.
type HexBytes []byte

// MarshalJSON encodes the bytes as a hex string.
func (b HexBytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(b))
}

// UnmarshalJSON decodes a hex string.
func (b *HexBytes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	*b = decoded
	return nil
}

// IndexStats is the singleton summary of the index state.
type IndexStats struct {
	TotalUtxos      uint64  `json:"total_utxos"`
	TotalValue      uint64  `json:"total_value"`
	CurrentHeight   uint64  `json:"current_height"`
	BlocksProcessed uint64  `json:"blocks_processed"`
	ProgressPercent float64 `json:"progress_percent"`
	LastUpdate      uint64  `json:"last_update"`
}

// UtxoQuery filters a store scan.
type UtxoQuery struct {
	MinAmount        *uint64     `json:"min_amount,omitempty"`
	MaxAmount        *uint64     `json:"max_amount,omitempty"`
	MinConfirmations *uint64     `json:"min_confirmations,omitempty"`
	ScriptType       *ScriptType `json:"script_type,omitempty"`
	Limit            *int        `json:"limit,omitempty"`
	Offset           *int        `json:"offset,omitempty"`
}

// Matches reports whether a record passes the query's filter predicates.
func (q *UtxoQuery) Matches(u *UtxoRecord) bool {
	if q.MinAmount != nil && u.Value < *q.MinAmount {
		return false
	}
	if q.MaxAmount != nil && u.Value > *q.MaxAmount {
		return false
	}
	if q.MinConfirmations != nil && u.Confirmations < *q.MinConfirmations {
		return false
	}
	if q.ScriptType != nil && u.ScriptType != *q.ScriptType {
		return false
	}
	return true
}
