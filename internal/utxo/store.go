// Package utxo implements the persistent UTXO index: a durable map from
// outpoint to record with amount and height secondary indexes.
package utxo

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/rs/zerolog"

	klog "github.com/Klingon-tech/coinpick/internal/log"
	"github.com/Klingon-tech/coinpick/internal/storage"
	"github.com/Klingon-tech/coinpick/pkg/types"
)

// Store errors.
var (
	ErrNotFound = errors.New("utxo not found")
	// ErrMissingInput marks a spend of an outpoint the index does not hold.
	// For a non-coinbase input this means the index is corrupt; callers
	// must abort block application and surface it.
	ErrMissingInput = errors.New("missing input utxo")
)

// Logical table namespaces over one underlying database.
var (
	tableUtxos  = []byte("utxos/")
	tableStats  = []byte("stats/")
	tableHeight = []byte("height_index/")
	tableAmount = []byte("amount_index/")
)

// statsKey is the singleton key within the stats table.
var statsKey = []byte("current")

// defaultQueryLimit caps Query results when the caller sets no limit.
const defaultQueryLimit = 1000

// Store is the persistent UTXO index. A single writer (the indexer)
// mutates it; concurrent readers are safe.
type Store struct {
	db     storage.DB
	utxos  *storage.PrefixDB
	stats  *storage.PrefixDB
	height *storage.PrefixDB
	amount *storage.PrefixDB

	// tip caches the last persisted chain height; confirmations are
	// derived from it at read time rather than stored per record.
	tip    atomic.Uint64
	logger zerolog.Logger
}

// NewStore creates a UTXO store over the given database and primes the
// cached tip height from persisted stats, if any.
func NewStore(db storage.DB) *Store {
	s := &Store{
		db:     db,
		utxos:  storage.NewPrefixDB(db, tableUtxos),
		stats:  storage.NewPrefixDB(db, tableStats),
		height: storage.NewPrefixDB(db, tableHeight),
		amount: storage.NewPrefixDB(db, tableAmount),
		logger: klog.Storage,
	}
	if st, err := s.ReadStats(); err == nil {
		s.tip.Store(st.CurrentHeight)
	}
	return s
}

// primaryKey builds the primary table key: txid(32) || vout (4, LE).
func primaryKey(op types.Outpoint) []byte {
	key := make([]byte, types.HashSize+4)
	copy(key, op.TxID[:])
	binary.LittleEndian.PutUint32(key[types.HashSize:], op.Vout)
	return key
}

// amountKey builds the amount index key. The zero-padded decimal makes
// lexicographic order equal numeric order; the primary key suffix lets
// equal-valued outpoints coexist.
func amountKey(value uint64, primary []byte) []byte {
	key := make([]byte, 0, 7+20+1+len(primary))
	key = append(key, "amount_"...)
	key = append(key, fmt.Sprintf("%020d", value)...)
	key = append(key, '_')
	return append(key, primary...)
}

// heightKey builds the height index key: "height_" || height (8, BE) ||
// primary key. The big-endian height keeps the table ordered by height and
// the primary key suffix keeps every outpoint of a height addressable.
func heightKey(height uint64, primary []byte) []byte {
	key := make([]byte, 0, 7+8+len(primary))
	key = append(key, "height_"...)
	key = binary.BigEndian.AppendUint64(key, height)
	return append(key, primary...)
}

// decorate fills the derived confirmation count from the cached tip.
func (s *Store) decorate(u *types.UtxoRecord) {
	tip := s.tip.Load()
	if tip >= u.BlockHeight {
		u.Confirmations = tip - u.BlockHeight + 1
	} else {
		u.Confirmations = 0
	}
}

// indexPuts adds the record's primary and secondary entries to the batch.
func (s *Store) indexPuts(batch storage.Batch, u *types.UtxoRecord) error {
	pk := primaryKey(u.Outpoint)
	if err := batch.Put(s.utxos.Key(pk), types.EncodeRecord(u)); err != nil {
		return err
	}
	if err := batch.Put(s.amount.Key(amountKey(u.Value, pk)), pk); err != nil {
		return err
	}
	return batch.Put(s.height.Key(heightKey(u.BlockHeight, pk)), pk)
}

// indexDeletes adds the record's primary and secondary removals to the batch.
func (s *Store) indexDeletes(batch storage.Batch, u *types.UtxoRecord) error {
	pk := primaryKey(u.Outpoint)
	if err := batch.Delete(s.utxos.Key(pk)); err != nil {
		return err
	}
	if err := batch.Delete(s.amount.Key(amountKey(u.Value, pk))); err != nil {
		return err
	}
	return batch.Delete(s.height.Key(heightKey(u.BlockHeight, pk)))
}

// newBatch creates an atomic batch spanning all tables.
func (s *Store) newBatch() (storage.Batch, error) {
	batcher, ok := s.db.(storage.Batcher)
	if !ok {
		return nil, fmt.Errorf("database does not support atomic batches")
	}
	return batcher.NewBatch(), nil
}

// Put stores a record, keeping both secondary indexes in lock-step.
func (s *Store) Put(u *types.UtxoRecord) error {
	batch, err := s.newBatch()
	if err != nil {
		return err
	}
	if err := s.indexPuts(batch, u); err != nil {
		return err
	}
	if err := batch.Commit(); err != nil {
		return fmt.Errorf("utxo put: %w", err)
	}
	return nil
}

// getRaw fetches and decodes a record without derived fields.
func (s *Store) getRaw(op types.Outpoint) (*types.UtxoRecord, error) {
	data, err := s.utxos.Get(primaryKey(op))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("utxo get: %w", err)
	}
	u, err := types.DecodeRecord(data)
	if err != nil {
		return nil, fmt.Errorf("utxo decode %s: %w", op, err)
	}
	return u, nil
}

// Get retrieves a record by outpoint. Returns ErrNotFound if absent.
func (s *Store) Get(op types.Outpoint) (*types.UtxoRecord, error) {
	u, err := s.getRaw(op)
	if err != nil {
		return nil, err
	}
	s.decorate(u)
	return u, nil
}

// Has checks if a record exists for the given outpoint.
func (s *Store) Has(op types.Outpoint) (bool, error) {
	return s.utxos.Has(primaryKey(op))
}

// Delete removes a record and its index entries, returning the prior
// record, or nil if the outpoint was not indexed.
func (s *Store) Delete(op types.Outpoint) (*types.UtxoRecord, error) {
	prior, err := s.getRaw(op)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	batch, err := s.newBatch()
	if err != nil {
		return nil, err
	}
	if err := s.indexDeletes(batch, prior); err != nil {
		return nil, err
	}
	if err := batch.Commit(); err != nil {
		return nil, fmt.Errorf("utxo delete: %w", err)
	}
	s.decorate(prior)
	return prior, nil
}

// All returns every record in the store.
func (s *Store) All() ([]types.UtxoRecord, error) {
	var out []types.UtxoRecord
	err := s.utxos.ForEach(nil, func(_, value []byte) error {
		u, err := types.DecodeRecord(value)
		if err != nil {
			return fmt.Errorf("utxo decode: %w", err)
		}
		s.decorate(u)
		out = append(out, *u)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("utxo scan: %w", err)
	}
	return out, nil
}

// errStopScan terminates an iteration early without reporting failure.
var errStopScan = errors.New("stop scan")

// Query scans the primary table, applies the filter predicates, then skips
// offset matches and returns at most limit records. Iteration order is key
// order, so results are stable between mutations.
func (s *Store) Query(q *types.UtxoQuery) ([]types.UtxoRecord, error) {
	limit := defaultQueryLimit
	if q.Limit != nil && *q.Limit > 0 {
		limit = *q.Limit
	}
	offset := 0
	if q.Offset != nil && *q.Offset > 0 {
		offset = *q.Offset
	}

	var out []types.UtxoRecord
	skipped := 0
	err := s.utxos.ForEach(nil, func(_, value []byte) error {
		u, err := types.DecodeRecord(value)
		if err != nil {
			return fmt.Errorf("utxo decode: %w", err)
		}
		s.decorate(u)
		if !q.Matches(u) {
			return nil
		}
		if skipped < offset {
			skipped++
			return nil
		}
		out = append(out, *u)
		if len(out) >= limit {
			return errStopScan
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStopScan) {
		return nil, fmt.Errorf("utxo query: %w", err)
	}
	return out, nil
}

// RangeByAmount returns records with min <= value <= max in ascending value
// order, at most limit (0 means the default cap). The amount index keys are
// ordered by value, so the scan stops at the first key past max.
func (s *Store) RangeByAmount(min, max uint64, limit int) ([]types.UtxoRecord, error) {
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	var out []types.UtxoRecord
	err := s.amount.ForEach([]byte("amount_"), func(key, primary []byte) error {
		value, err := parseAmountKey(key)
		if err != nil {
			return err
		}
		if value < min {
			return nil
		}
		if value > max {
			return errStopScan
		}
		data, err := s.utxos.Get(primary)
		if err != nil {
			return fmt.Errorf("amount index points at missing utxo: %w", err)
		}
		u, err := types.DecodeRecord(data)
		if err != nil {
			return fmt.Errorf("utxo decode: %w", err)
		}
		s.decorate(u)
		out = append(out, *u)
		if len(out) >= limit {
			return errStopScan
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStopScan) {
		return nil, fmt.Errorf("amount range scan: %w", err)
	}
	return out, nil
}

// parseAmountKey recovers the value from an "amount_<20 digits>_..." key.
func parseAmountKey(key []byte) (uint64, error) {
	if len(key) < 7+20 {
		return 0, fmt.Errorf("malformed amount key %q", key)
	}
	return strconv.ParseUint(string(key[7:27]), 10, 64)
}

// BatchPut stores multiple records in one atomic batch, maintaining the
// secondary indexes alongside the primary table.
func (s *Store) BatchPut(records []types.UtxoRecord) error {
	batch, err := s.newBatch()
	if err != nil {
		return err
	}
	for i := range records {
		if err := s.indexPuts(batch, &records[i]); err != nil {
			return err
		}
	}
	if err := batch.Commit(); err != nil {
		return fmt.Errorf("utxo batch put: %w", err)
	}
	s.logger.Debug().Int("count", len(records)).Msg("Batch stored UTXOs")
	return nil
}

// ReadStats loads the persisted index statistics. Returns ErrNotFound when
// the index has never been written.
func (s *Store) ReadStats() (*types.IndexStats, error) {
	data, err := s.stats.Get(statsKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("stats get: %w", err)
	}
	st, err := types.DecodeStats(data)
	if err != nil {
		return nil, fmt.Errorf("stats decode: %w", err)
	}
	return st, nil
}

// WriteStats persists the index statistics.
func (s *Store) WriteStats(st *types.IndexStats) error {
	if err := s.stats.Put(statsKey, types.EncodeStats(st)); err != nil {
		return fmt.Errorf("stats put: %w", err)
	}
	s.tip.Store(st.CurrentHeight)
	return nil
}

// ApplyBlock commits one block's mutations as a single atomic batch: the
// spends' primary and index removals, the creates' insertions, and the
// stats record with the mutation's count and value deltas folded in.
// Readers observe either the pre-block or post-block state. Returns the
// spent records.
//
// In strict mode a spend of an unindexed outpoint aborts the whole block
// with ErrMissingInput before anything is written; non-strict mode skips
// such spends, which re-applying already-processed blocks requires.
func (s *Store) ApplyBlock(spends []types.Outpoint, creates []types.UtxoRecord, st *types.IndexStats, strict bool) ([]types.UtxoRecord, error) {
	spent := make([]types.UtxoRecord, 0, len(spends))
	for _, op := range spends {
		prior, err := s.getRaw(op)
		if errors.Is(err, ErrNotFound) {
			if strict {
				return nil, fmt.Errorf("%w: %s at height %d", ErrMissingInput, op, st.CurrentHeight)
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		spent = append(spent, *prior)
	}

	for i := range spent {
		st.TotalUtxos--
		st.TotalValue -= spent[i].Value
	}
	for i := range creates {
		// Re-applied blocks overwrite records that already exist; those
		// must not inflate the totals.
		if _, err := s.getRaw(creates[i].Outpoint); err == nil {
			continue
		}
		st.TotalUtxos++
		st.TotalValue += creates[i].Value
	}

	batch, err := s.newBatch()
	if err != nil {
		return nil, err
	}
	for i := range spent {
		if err := s.indexDeletes(batch, &spent[i]); err != nil {
			return nil, err
		}
	}
	for i := range creates {
		if err := s.indexPuts(batch, &creates[i]); err != nil {
			return nil, err
		}
	}
	if err := batch.Put(s.stats.Key(statsKey), types.EncodeStats(st)); err != nil {
		return nil, err
	}
	if err := batch.Commit(); err != nil {
		return nil, fmt.Errorf("apply block %d: %w", st.CurrentHeight, err)
	}
	s.tip.Store(st.CurrentHeight)
	return spent, nil
}
