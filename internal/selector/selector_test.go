package selector

import (
	"errors"
	"testing"

	"github.com/Klingon-tech/coinpick/pkg/types"
)

// stubStore serves a fixed UTXO slice.
type stubStore struct {
	utxos []types.UtxoRecord
}

func (s *stubStore) All() ([]types.UtxoRecord, error) {
	out := make([]types.UtxoRecord, len(s.utxos))
	copy(out, s.utxos)
	return out, nil
}

func uintPtr(v uint64) *uint64 { return &v }

func TestSelect_Largest(t *testing.T) {
	s := New(&stubStore{utxos: makeUTXOs([2]uint64{1000, 10}, [2]uint64{2000, 5}, [2]uint64{500, 15})})

	sel, err := s.Select(&types.SelectionCriteria{TargetAmount: 1500}, types.StrategyLargestFirst)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if sel.TotalAmount != 2000 || sel.ChangeAmount != 500 {
		t.Errorf("total/change = %d/%d, want 2000/500", sel.TotalAmount, sel.ChangeAmount)
	}
	if sel.Strategy != types.StrategyLargestFirst {
		t.Errorf("strategy tag = %s", sel.Strategy)
	}
}

func TestSelect_NoCandidates(t *testing.T) {
	s := New(&stubStore{})
	_, err := s.Select(&types.SelectionCriteria{TargetAmount: 100}, types.StrategyLargestFirst)
	if !errors.Is(err, ErrNoCandidates) {
		t.Errorf("err = %v, want ErrNoCandidates", err)
	}
}

func TestSelect_ConfirmationWindow(t *testing.T) {
	s := New(&stubStore{utxos: makeUTXOs([2]uint64{1000, 2}, [2]uint64{1000, 6}, [2]uint64{1000, 12})})

	criteria := &types.SelectionCriteria{
		TargetAmount:     1000,
		MinConfirmations: uintPtr(3),
		MaxConfirmations: uintPtr(10),
	}
	sel, err := s.Select(criteria, types.StrategyLargestFirst)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	for _, u := range sel.Utxos {
		if u.Confirmations < 3 || u.Confirmations > 10 {
			t.Errorf("confirmations %d outside window", u.Confirmations)
		}
	}
}

func TestSelect_ExcludeCoinbase(t *testing.T) {
	utxos := makeUTXOs([2]uint64{5000, 10}, [2]uint64{1000, 10})
	utxos[0].IsCoinbase = true
	s := New(&stubStore{utxos: utxos})

	sel, err := s.Select(&types.SelectionCriteria{
		TargetAmount:    1000,
		ExcludeCoinbase: true,
	}, types.StrategyLargestFirst)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	for _, u := range sel.Utxos {
		if u.IsCoinbase {
			t.Error("coinbase UTXO selected despite exclusion")
		}
	}
}

func TestSelect_ScriptTypeWhitelist(t *testing.T) {
	utxos := makeUTXOs([2]uint64{5000, 10}, [2]uint64{1000, 10})
	utxos[0].ScriptType = types.ScriptP2PKH
	s := New(&stubStore{utxos: utxos})

	sel, err := s.Select(&types.SelectionCriteria{
		TargetAmount: 1000,
		ScriptTypes:  []types.ScriptType{types.ScriptP2WPKH},
	}, types.StrategyLargestFirst)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	for _, u := range sel.Utxos {
		if u.ScriptType != types.ScriptP2WPKH {
			t.Errorf("script type %s selected", u.ScriptType)
		}
	}
}

func TestSelect_AddressFilter(t *testing.T) {
	utxos := makeUTXOs([2]uint64{5000, 10}, [2]uint64{1000, 10}, [2]uint64{900, 10})
	utxos[0].Address = "bcrt1qalpha"
	utxos[1].Address = "bcrt1qbravo"
	// utxos[2] has no address and must never match.
	s := New(&stubStore{utxos: utxos})

	sel, err := s.Select(&types.SelectionCriteria{
		TargetAmount: 1000,
		Addresses:    []string{"bcrt1qbravo"},
	}, types.StrategyLargestFirst)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(sel.Utxos) != 1 || sel.Utxos[0].Address != "bcrt1qbravo" {
		t.Errorf("selection = %+v, want only bcrt1qbravo", sel.Utxos)
	}
}

func TestSelect_AddressPatternIsSubstring(t *testing.T) {
	utxos := makeUTXOs([2]uint64{5000, 10}, [2]uint64{1000, 10})
	utxos[0].Address = "bcrt1qalpha"
	utxos[1].Address = "bcrt1qbravo"
	s := New(&stubStore{utxos: utxos})

	sel, err := s.Select(&types.SelectionCriteria{
		TargetAmount:    1000,
		AddressPatterns: []string{"bravo"},
	}, types.StrategyLargestFirst)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(sel.Utxos) != 1 || sel.Utxos[0].Address != "bcrt1qbravo" {
		t.Errorf("selection = %+v, want only the bravo address", sel.Utxos)
	}
}

func TestSelectOptimal_PrefersFewerInputs(t *testing.T) {
	// Smallest-first would pick 3 coins; branch and bound finds the single
	// exact match, which scores far better.
	s := New(&stubStore{utxos: makeUTXOs(
		[2]uint64{500, 1}, [2]uint64{500, 1}, [2]uint64{500, 1}, [2]uint64{1500, 1},
	)})

	sel, err := s.SelectOptimal(&types.SelectionCriteria{TargetAmount: 1500})
	if err != nil {
		t.Fatalf("SelectOptimal: %v", err)
	}
	if len(sel.Utxos) != 1 || sel.TotalAmount != 1500 {
		t.Errorf("optimal = %d UTXOs totalling %d, want 1 totalling 1500", len(sel.Utxos), sel.TotalAmount)
	}
}

func TestSelectOptimal_AllFail(t *testing.T) {
	s := New(&stubStore{utxos: makeUTXOs([2]uint64{100, 1})})
	if _, err := s.SelectOptimal(&types.SelectionCriteria{TargetAmount: 10000}); err == nil {
		t.Error("expected error when every strategy fails")
	}
}

func TestSelectBatch_DisjointOutpoints(t *testing.T) {
	s := New(&stubStore{utxos: makeUTXOs(
		[2]uint64{1000, 1}, [2]uint64{1000, 1}, [2]uint64{1000, 1}, [2]uint64{1000, 1},
	)})

	criteria := []types.SelectionCriteria{
		{TargetAmount: 1000},
		{TargetAmount: 1000},
		{TargetAmount: 1000},
	}
	selections, err := s.SelectBatch(criteria, types.StrategyLargestFirst)
	if err != nil {
		t.Fatalf("SelectBatch: %v", err)
	}
	if len(selections) != 3 {
		t.Fatalf("got %d selections, want 3", len(selections))
	}
	seen := make(map[types.Outpoint]bool)
	for _, sel := range selections {
		for _, u := range sel.Utxos {
			if seen[u.Outpoint] {
				t.Errorf("outpoint %s used twice across batch", u.Outpoint)
			}
			seen[u.Outpoint] = true
		}
	}
}

func TestSelectBatch_AbortsOnFailure(t *testing.T) {
	s := New(&stubStore{utxos: makeUTXOs([2]uint64{1000, 1})})

	criteria := []types.SelectionCriteria{
		{TargetAmount: 1000},
		{TargetAmount: 1000}, // Candidate pool is exhausted.
	}
	if _, err := s.SelectBatch(criteria, types.StrategyLargestFirst); err == nil {
		t.Error("expected batch to abort when an entry cannot be satisfied")
	}
}

func TestSelectBatch_EveryStrategy(t *testing.T) {
	for _, strategy := range []types.Strategy{
		types.StrategyLargestFirst,
		types.StrategySmallestFirst,
		types.StrategyOldestFirst,
		types.StrategyNewestFirst,
		types.StrategyBranchAndBound,
		types.StrategyEffectiveValue,
	} {
		s := New(&stubStore{utxos: makeUTXOs(
			[2]uint64{20000, 4}, [2]uint64{30000, 9}, [2]uint64{40000, 2},
		)})
		selections, err := s.SelectBatch([]types.SelectionCriteria{{TargetAmount: 10000}}, strategy)
		if err != nil {
			t.Errorf("SelectBatch(%s): %v", strategy, err)
			continue
		}
		if selections[0].TotalAmount < 10000 {
			t.Errorf("SelectBatch(%s): total %d below target", strategy, selections[0].TotalAmount)
		}
	}
}
