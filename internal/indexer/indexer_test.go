package indexer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/btcsuite/btcd/wire"

	"github.com/Klingon-tech/coinpick/config"
	"github.com/Klingon-tech/coinpick/internal/storage"
	"github.com/Klingon-tech/coinpick/internal/utxo"
	"github.com/Klingon-tech/coinpick/pkg/types"
)

// fakeSource serves a fixed chain of blocks by height.
type fakeSource struct {
	blocks []*wire.MsgBlock
}

func (f *fakeSource) GetBlockCount(ctx context.Context) (uint64, error) {
	return uint64(len(f.blocks) - 1), nil
}

func (f *fakeSource) GetBlockHash(ctx context.Context, height uint64) (types.Hash, error) {
	if height >= uint64(len(f.blocks)) {
		return types.Hash{}, fmt.Errorf("height %d out of range", height)
	}
	return types.Hash(f.blocks[height].BlockHash()), nil
}

func (f *fakeSource) GetBlock(ctx context.Context, hash types.Hash) (*wire.MsgBlock, error) {
	for _, b := range f.blocks {
		if types.Hash(b.BlockHash()) == hash {
			return b, nil
		}
	}
	return nil, fmt.Errorf("block %s not found", hash)
}

func (f *fakeSource) GetRawTransaction(ctx context.Context, txid types.Hash) (*wire.MsgTx, error) {
	return nil, fmt.Errorf("not implemented")
}

func (f *fakeSource) IsRegtest(ctx context.Context) (bool, error) {
	return true, nil
}

// p2wpkhScript builds a distinct witness program from a seed byte.
func p2wpkhScript(seed byte) []byte {
	s := make([]byte, 22)
	s[0] = 0x00
	s[1] = 0x14
	for i := 2; i < 22; i++ {
		s[i] = seed
	}
	return s
}

// coinbaseTx creates the height-tagged coinbase of a block.
func coinbaseTx(height uint64, value int64, seed byte) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Index: 0xffffffff},
		SignatureScript:  []byte{0x03, byte(height), byte(height >> 8), byte(height >> 16)},
	})
	tx.AddTxOut(&wire.TxOut{Value: value, PkScript: p2wpkhScript(seed)})
	return tx
}

// spendTx spends one outpoint into the given outputs.
func spendTx(prev *wire.MsgTx, prevVout uint32, outputs ...*wire.TxOut) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Hash: prev.TxHash(), Index: prevVout},
	})
	for _, out := range outputs {
		tx.AddTxOut(out)
	}
	return tx
}

func blockOf(prev *wire.MsgBlock, txs ...*wire.MsgTx) *wire.MsgBlock {
	b := &wire.MsgBlock{}
	if prev != nil {
		b.Header.PrevBlock = prev.BlockHash()
	}
	for _, tx := range txs {
		b.AddTransaction(tx)
	}
	return b
}

// testChain builds the two-block scenario: a coinbase creating X(50000),
// then a block spending X into Y(20000) and Z(29000).
func testChain() (*fakeSource, *wire.MsgTx, *wire.MsgTx) {
	cb1 := coinbaseTx(0, 50000, 0xaa)
	b1 := blockOf(nil, cb1)

	cb2 := coinbaseTx(1, 0, 0xbb)
	spend := spendTx(cb1, 0,
		&wire.TxOut{Value: 20000, PkScript: p2wpkhScript(0x01)},
		&wire.TxOut{Value: 29000, PkScript: p2wpkhScript(0x02)},
	)
	b2 := blockOf(b1, cb2, spend)

	return &fakeSource{blocks: []*wire.MsgBlock{b1, b2}}, cb1, spend
}

func testIndexer(source *fakeSource) (*Indexer, *utxo.Store) {
	cfg := config.Default()
	cfg.Indexer.PollIntervalSecs = 1
	store := utxo.NewStore(storage.NewMemory())
	return New(source, store, cfg, nil), store
}

func TestProcessBlocks_SetArithmetic(t *testing.T) {
	source, cb1, spend := testChain()
	ix, store := testIndexer(source)
	ctx := context.Background()

	if _, err := ix.processBlock(ctx, 0, 1, true); err != nil {
		t.Fatalf("process block 0: %v", err)
	}

	// After B1 the coinbase output X exists and is flagged.
	x, err := store.Get(types.Outpoint{TxID: types.Hash(cb1.TxHash()), Vout: 0})
	if err != nil {
		t.Fatalf("get X: %v", err)
	}
	if !x.IsCoinbase || x.Value != 50000 || x.BlockHeight != 0 {
		t.Errorf("X = %+v", x)
	}
	if x.ScriptType != types.ScriptP2WPKH {
		t.Errorf("X script type = %s", x.ScriptType)
	}
	if !strings.HasPrefix(x.Address, "bcrt1") {
		t.Errorf("X address = %q, want regtest bech32", x.Address)
	}

	result, err := ix.processBlock(ctx, 1, 1, true)
	if err != nil {
		t.Fatalf("process block 1: %v", err)
	}
	if result.UtxosSpent != 1 || result.UtxosCreated != 3 {
		t.Errorf("result = %+v, want 1 spent, 3 created", result)
	}

	// X is gone; exactly Y, Z and B2's zero-value coinbase remain.
	if _, err := store.Get(x.Outpoint); !errors.Is(err, utxo.ErrNotFound) {
		t.Error("X still present after being spent")
	}
	y, err := store.Get(types.Outpoint{TxID: types.Hash(spend.TxHash()), Vout: 0})
	if err != nil || y.Value != 20000 {
		t.Errorf("Y = %+v, %v", y, err)
	}
	z, err := store.Get(types.Outpoint{TxID: types.Hash(spend.TxHash()), Vout: 1})
	if err != nil || z.Value != 29000 {
		t.Errorf("Z = %+v, %v", z, err)
	}

	st, err := store.ReadStats()
	if err != nil {
		t.Fatalf("ReadStats: %v", err)
	}
	if st.TotalValue != 49000 {
		t.Errorf("total value = %d, want 49000", st.TotalValue)
	}
	if st.CurrentHeight != 1 || st.BlocksProcessed != 2 {
		t.Errorf("stats = %+v", st)
	}

	// Stats totals equal the sum over the set.
	all, _ := store.All()
	var sum uint64
	for _, u := range all {
		sum += u.Value
	}
	if sum != st.TotalValue {
		t.Errorf("sum over set = %d, stats say %d", sum, st.TotalValue)
	}
}

func TestProcessBlock_MissingInputIsFatal(t *testing.T) {
	source, _, _ := testChain()
	ix, _ := testIndexer(source)

	// Skipping block 0 means block 1's spend has no indexed input.
	_, err := ix.processBlock(context.Background(), 1, 1, true)
	if !errors.Is(err, utxo.ErrMissingInput) {
		t.Fatalf("err = %v, want ErrMissingInput", err)
	}
}

func TestStart_SyncsAndStopsOnCancel(t *testing.T) {
	source, _, spend := testChain()
	ix, store := testIndexer(source)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ix.Start(ctx) }()

	// Wait for the initial sync to materialise Y.
	deadline := time.After(5 * time.Second)
	for {
		if _, err := store.Get(types.Outpoint{TxID: types.Hash(spend.TxHash()), Vout: 0}); err == nil {
			break
		}
		select {
		case <-deadline:
			t.Fatal("initial sync did not complete")
		case err := <-done:
			t.Fatalf("Start returned early: %v", err)
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Start returned %v, want context.Canceled", err)
	}
}

func TestStart_ResumesFromPersistedStats(t *testing.T) {
	source, cb1, _ := testChain()
	ix, store := testIndexer(source)
	ctx := context.Background()

	// Process block 0 and persist; a fresh indexer must resume at 1 and
	// never refetch block 0.
	if _, err := ix.processBlock(ctx, 0, 1, true); err != nil {
		t.Fatalf("process block 0: %v", err)
	}

	ix2, _ := testIndexer(source)
	ix2.store = store
	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	go ix2.Start(cctx)

	deadline := time.After(2 * time.Second)
	for {
		if _, err := store.Get(types.Outpoint{TxID: types.Hash(cb1.TxHash()), Vout: 0}); errors.Is(err, utxo.ErrNotFound) {
			break // X was spent by block 1: resume processed it.
		}
		select {
		case <-deadline:
			t.Fatal("resume did not process block 1")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestRescan_ReappliesWithoutCorruptionError(t *testing.T) {
	source, _, spend := testChain()
	ix, store := testIndexer(source)
	ctx := context.Background()

	for h := uint64(0); h <= 1; h++ {
		if _, err := ix.processBlock(ctx, h, 1, true); err != nil {
			t.Fatalf("process block %d: %v", h, err)
		}
	}
	stBefore, _ := store.ReadStats()

	if err := ix.RescanFrom(ctx, 0); err != nil {
		t.Fatalf("RescanFrom: %v", err)
	}

	// The set is unchanged and totals did not inflate.
	if _, err := store.Get(types.Outpoint{TxID: types.Hash(spend.TxHash()), Vout: 0}); err != nil {
		t.Errorf("Y missing after rescan: %v", err)
	}
	stAfter, _ := store.ReadStats()
	if stAfter.TotalValue != stBefore.TotalValue || stAfter.TotalUtxos != stBefore.TotalUtxos {
		t.Errorf("totals changed across rescan: %+v -> %+v", stBefore, stAfter)
	}
}

func TestHub_PublishSubscribe(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe()
	defer cancel()

	hub.Publish(BlockResult{Height: 7})
	select {
	case r := <-ch:
		if r.Height != 7 {
			t.Errorf("event height = %d", r.Height)
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}

	cancel()
	// Publishing after cancel must not panic or block.
	hub.Publish(BlockResult{Height: 8})
}

func TestProcessBlock_IntraBlockSpendChain(t *testing.T) {
	// A block whose second transaction spends the first non-coinbase tx's
	// output created in the same block: the pair must cancel out instead of
	// tripping the missing-input check.
	cb1 := coinbaseTx(0, 50000, 0xaa)
	b1 := blockOf(nil, cb1)

	cb2 := coinbaseTx(1, 0, 0xbb)
	mid := spendTx(cb1, 0, &wire.TxOut{Value: 40000, PkScript: p2wpkhScript(0x03)})
	final := spendTx(mid, 0, &wire.TxOut{Value: 39000, PkScript: p2wpkhScript(0x04)})
	b2 := blockOf(b1, cb2, mid, final)

	source := &fakeSource{blocks: []*wire.MsgBlock{b1, b2}}
	ix, store := testIndexer(source)
	ctx := context.Background()

	for h := uint64(0); h <= 1; h++ {
		if _, err := ix.processBlock(ctx, h, 1, true); err != nil {
			t.Fatalf("process block %d: %v", h, err)
		}
	}

	// mid's output never existed as far as the store is concerned.
	if _, err := store.Get(types.Outpoint{TxID: types.Hash(mid.TxHash()), Vout: 0}); !errors.Is(err, utxo.ErrNotFound) {
		t.Error("intermediate output leaked into the store")
	}
	got, err := store.Get(types.Outpoint{TxID: types.Hash(final.TxHash()), Vout: 0})
	if err != nil || got.Value != 39000 {
		t.Errorf("final output = %+v, %v", got, err)
	}

	st, _ := store.ReadStats()
	if st.TotalValue != 39000 {
		t.Errorf("total value = %d, want 39000", st.TotalValue)
	}
}
