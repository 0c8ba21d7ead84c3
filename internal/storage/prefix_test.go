package storage

import (
	"bytes"
	"errors"
	"testing"
)

func TestPrefixDB_GetPutDelete(t *testing.T) {
	inner := NewMemory()
	db := NewPrefixDB(inner, []byte("utxos/"))

	if err := db.Put([]byte("k1"), []byte("v1")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	v, err := db.Get([]byte("k1"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(v, []byte("v1")) {
		t.Errorf("Get = %q, want %q", v, "v1")
	}

	// The inner DB holds the key under the namespace prefix.
	if ok, _ := inner.Has([]byte("utxos/k1")); !ok {
		t.Error("inner DB missing prefixed key")
	}
	if ok, _ := inner.Has([]byte("k1")); ok {
		t.Error("inner DB holds unprefixed key")
	}

	if err := db.Delete([]byte("k1")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if ok, _ := db.Has([]byte("k1")); ok {
		t.Error("key present after Delete")
	}
}

func TestPrefixDB_NamespaceIsolation(t *testing.T) {
	inner := NewMemory()
	utxos := NewPrefixDB(inner, []byte("utxos/"))
	stats := NewPrefixDB(inner, []byte("stats/"))

	utxos.Put([]byte("current"), []byte("a-record"))
	stats.Put([]byte("current"), []byte("the-stats"))

	v, err := utxos.Get([]byte("current"))
	if err != nil || !bytes.Equal(v, []byte("a-record")) {
		t.Errorf("utxos table = %q, %v", v, err)
	}
	v, err = stats.Get([]byte("current"))
	if err != nil || !bytes.Equal(v, []byte("the-stats")) {
		t.Errorf("stats table = %q, %v", v, err)
	}

	// Deleting in one table leaves the other's identical logical key alone.
	utxos.Delete([]byte("current"))
	if ok, _ := stats.Has([]byte("current")); !ok {
		t.Error("delete leaked across namespaces")
	}
}

func TestPrefixDB_ForEachStripsPrefix(t *testing.T) {
	inner := NewMemory()
	db := NewPrefixDB(inner, []byte("amount_index/"))
	other := NewPrefixDB(inner, []byte("height_index/"))

	db.Put([]byte("amount_a"), []byte("1"))
	db.Put([]byte("amount_b"), []byte("2"))
	other.Put([]byte("amount_a"), []byte("x"))

	var keys []string
	err := db.ForEach([]byte("amount_"), func(key, _ []byte) error {
		keys = append(keys, string(key))
		return nil
	})
	if err != nil {
		t.Fatalf("ForEach: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("ForEach saw %d keys, want 2 (no bleed from other tables)", len(keys))
	}
	for _, k := range keys {
		if k != "amount_a" && k != "amount_b" {
			t.Errorf("callback key %q carries namespace prefix", k)
		}
	}
}

func TestPrefixDB_ForEachStopEarly(t *testing.T) {
	db := NewPrefixDB(NewMemory(), []byte("t/"))
	for _, k := range []string{"a", "b", "c"} {
		db.Put([]byte(k), []byte("v"))
	}

	stop := errors.New("stop")
	var count int
	err := db.ForEach(nil, func(_, _ []byte) error {
		count++
		if count == 2 {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) {
		t.Errorf("err = %v, want the sentinel", err)
	}
	if count != 2 {
		t.Errorf("callback ran %d times after stop, want 2", count)
	}
}

// The UTXO store commits one batch on the inner DB spanning several
// namespaces; Key() is what addresses each table from that batch.
func TestPrefixDB_KeyAddressesNamespaceFromInnerBatch(t *testing.T) {
	inner := NewMemory()
	utxos := NewPrefixDB(inner, []byte("utxos/"))
	amount := NewPrefixDB(inner, []byte("amount_index/"))

	amount.Put([]byte("old"), []byte("gone"))

	batch := inner.NewBatch()
	batch.Put(utxos.Key([]byte("pk1")), []byte("record"))
	batch.Put(amount.Key([]byte("new")), []byte("pk1"))
	batch.Delete(amount.Key([]byte("old")))

	// Nothing lands before the commit.
	if ok, _ := utxos.Has([]byte("pk1")); ok {
		t.Error("batched write visible before Commit")
	}

	if err := batch.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	v, err := utxos.Get([]byte("pk1"))
	if err != nil || !bytes.Equal(v, []byte("record")) {
		t.Errorf("utxos after batch = %q, %v", v, err)
	}
	if ok, _ := amount.Has([]byte("new")); !ok {
		t.Error("batched index put missing")
	}
	if ok, _ := amount.Has([]byte("old")); ok {
		t.Error("batched index delete not applied")
	}
}

func TestPrefixDB_CloseLeavesInnerOpen(t *testing.T) {
	inner := NewMemory()
	db := NewPrefixDB(inner, []byte("t/"))
	db.Put([]byte("k"), []byte("v"))

	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := inner.Get([]byte("t/k")); err != nil {
		t.Errorf("inner DB unusable after namespace Close: %v", err)
	}
}
