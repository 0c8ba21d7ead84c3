package types

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Stored values use a fixed little-endian layout with u32 length prefixes
// for variable fields, so records decode without a schema and the encoding
// is stable across releases. Confirmations are derived at read time and are
// not part of the stored form.

// EncodeRecord serialises a UtxoRecord for storage.
// Format: txid(32) | vout(4) | value(8) | script_len(4)+script |
// height(8) | block_hash(32) | coinbase(1) | addr_len(4)+addr |
// type_len(4)+type
func EncodeRecord(u *UtxoRecord) []byte {
	var buf []byte
	buf = append(buf, u.Outpoint.TxID[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, u.Outpoint.Vout)
	buf = binary.LittleEndian.AppendUint64(buf, u.Value)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(u.Script)))
	buf = append(buf, u.Script...)
	buf = binary.LittleEndian.AppendUint64(buf, u.BlockHeight)
	buf = append(buf, u.BlockHash[:]...)
	if u.IsCoinbase {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(u.Address)))
	buf = append(buf, u.Address...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(u.ScriptType)))
	buf = append(buf, string(u.ScriptType)...)
	return buf
}

// DecodeRecord deserialises a stored UtxoRecord.
func DecodeRecord(data []byte) (*UtxoRecord, error) {
	r := reader{data: data}
	var u UtxoRecord

	txid, err := r.bytes(HashSize)
	if err != nil {
		return nil, fmt.Errorf("record txid: %w", err)
	}
	copy(u.Outpoint.TxID[:], txid)
	if u.Outpoint.Vout, err = r.u32(); err != nil {
		return nil, fmt.Errorf("record vout: %w", err)
	}
	if u.Value, err = r.u64(); err != nil {
		return nil, fmt.Errorf("record value: %w", err)
	}
	script, err := r.lenBytes()
	if err != nil {
		return nil, fmt.Errorf("record script: %w", err)
	}
	u.Script = script
	if u.BlockHeight, err = r.u64(); err != nil {
		return nil, fmt.Errorf("record height: %w", err)
	}
	bh, err := r.bytes(HashSize)
	if err != nil {
		return nil, fmt.Errorf("record block hash: %w", err)
	}
	copy(u.BlockHash[:], bh)
	cb, err := r.bytes(1)
	if err != nil {
		return nil, fmt.Errorf("record coinbase flag: %w", err)
	}
	u.IsCoinbase = cb[0] != 0
	addr, err := r.lenBytes()
	if err != nil {
		return nil, fmt.Errorf("record address: %w", err)
	}
	u.Address = string(addr)
	st, err := r.lenBytes()
	if err != nil {
		return nil, fmt.Errorf("record script type: %w", err)
	}
	u.ScriptType = ScriptType(st)
	if !r.done() {
		return nil, fmt.Errorf("record has %d trailing bytes", r.remaining())
	}
	return &u, nil
}

// EncodeStats serialises IndexStats for storage.
func EncodeStats(s *IndexStats) []byte {
	var buf []byte
	buf = binary.LittleEndian.AppendUint64(buf, s.TotalUtxos)
	buf = binary.LittleEndian.AppendUint64(buf, s.TotalValue)
	buf = binary.LittleEndian.AppendUint64(buf, s.CurrentHeight)
	buf = binary.LittleEndian.AppendUint64(buf, s.BlocksProcessed)
	buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(s.ProgressPercent))
	buf = binary.LittleEndian.AppendUint64(buf, s.LastUpdate)
	return buf
}

// DecodeStats deserialises stored IndexStats.
func DecodeStats(data []byte) (*IndexStats, error) {
	if len(data) != 48 {
		return nil, fmt.Errorf("stats must be 48 bytes, got %d", len(data))
	}
	var s IndexStats
	s.TotalUtxos = binary.LittleEndian.Uint64(data[0:])
	s.TotalValue = binary.LittleEndian.Uint64(data[8:])
	s.CurrentHeight = binary.LittleEndian.Uint64(data[16:])
	s.BlocksProcessed = binary.LittleEndian.Uint64(data[24:])
	s.ProgressPercent = math.Float64frombits(binary.LittleEndian.Uint64(data[32:]))
	s.LastUpdate = binary.LittleEndian.Uint64(data[40:])
	return &s, nil
}

// reader is a bounds-checked cursor over an encoded value.
type reader struct {
	data []byte
	off  int
}

func (r *reader) bytes(n int) ([]byte, error) {
	if r.off+n > len(r.data) {
		return nil, fmt.Errorf("truncated: need %d bytes at offset %d of %d", n, r.off, len(r.data))
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *reader) u32() (uint32, error) {
	b, err := r.bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *reader) u64() (uint64, error) {
	b, err := r.bytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *reader) lenBytes() ([]byte, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	b, err := r.bytes(int(n))
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

func (r *reader) done() bool { return r.off == len(r.data) }

func (r *reader) remaining() int { return len(r.data) - r.off }
