package selector

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	klog "github.com/Klingon-tech/coinpick/internal/log"
	"github.com/Klingon-tech/coinpick/pkg/types"
)

// Store is the read surface the selector needs from the UTXO index.
type Store interface {
	All() ([]types.UtxoRecord, error)
}

// Selector answers coin-selection requests against a Store. It holds only
// per-request state and never mutates the store.
type Selector struct {
	store  Store
	logger zerolog.Logger
}

// New creates a Selector over the given store.
func New(store Store) *Selector {
	return &Selector{
		store:  store,
		logger: klog.Selector,
	}
}

// matchesCriteria applies every filter predicate from the criteria.
func matchesCriteria(u *types.UtxoRecord, c *types.SelectionCriteria) bool {
	if u.Value == 0 {
		return false
	}
	if c.MinConfirmations != nil && u.Confirmations < *c.MinConfirmations {
		return false
	}
	if c.MaxConfirmations != nil && u.Confirmations > *c.MaxConfirmations {
		return false
	}
	if c.ExcludeCoinbase && u.IsCoinbase {
		return false
	}
	if len(c.ScriptTypes) > 0 {
		found := false
		for _, st := range c.ScriptTypes {
			if u.ScriptType == st {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(c.Addresses) > 0 {
		if u.Address == "" {
			return false
		}
		found := false
		for _, a := range c.Addresses {
			if a == u.Address {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(c.AddressPatterns) > 0 {
		if u.Address == "" {
			return false
		}
		found := false
		for _, p := range c.AddressPatterns {
			if strings.Contains(u.Address, p) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// filter applies the criteria's predicates to the candidate set.
func filter(utxos []types.UtxoRecord, c *types.SelectionCriteria) []types.UtxoRecord {
	filtered := make([]types.UtxoRecord, 0, len(utxos))
	for _, u := range utxos {
		if matchesCriteria(&u, c) {
			filtered = append(filtered, u)
		}
	}
	return filtered
}

// run dispatches the filtered candidates to the strategy's algorithm.
func run(candidates []types.UtxoRecord, c *types.SelectionCriteria, strategy types.Strategy) ([]types.UtxoRecord, error) {
	switch strategy {
	case types.StrategySmallestFirst:
		return SmallestFirst(candidates, c.TargetAmount)
	case types.StrategyOldestFirst:
		return OldestFirst(candidates, c.TargetAmount)
	case types.StrategyNewestFirst:
		return NewestFirst(candidates, c.TargetAmount)
	case types.StrategyBranchAndBound:
		maxUtxos := 0
		if c.MaxUtxos != nil {
			maxUtxos = *c.MaxUtxos
		}
		return BranchAndBound(candidates, c.TargetAmount, maxUtxos)
	case types.StrategyEffectiveValue:
		rate := 1.0
		if c.FeeRate != nil {
			rate = *c.FeeRate
		}
		outputCount := 0
		if c.OutputCount != nil {
			outputCount = *c.OutputCount
		}
		return EffectiveValue(candidates, c.TargetAmount, rate, outputCount)
	default:
		return LargestFirst(candidates, c.TargetAmount)
	}
}

// selectFrom filters the candidate set and runs the strategy over it.
func (s *Selector) selectFrom(all []types.UtxoRecord, c *types.SelectionCriteria, strategy types.Strategy) (*types.Selection, error) {
	candidates := filter(all, c)
	if len(candidates) == 0 {
		return nil, ErrNoCandidates
	}

	s.logger.Debug().
		Int("candidates", len(candidates)).
		Int("total", len(all)).
		Uint64("target", c.TargetAmount).
		Str("strategy", string(strategy)).
		Msg("Filtered candidate set")

	selected, err := run(candidates, c, strategy)
	if err != nil {
		return nil, err
	}

	var total uint64
	for _, u := range selected {
		total += u.Value
	}
	if total < c.TargetAmount {
		return nil, fmt.Errorf("selected total %d below target %d (strategy %s)",
			total, c.TargetAmount, strategy)
	}

	return &types.Selection{
		Utxos:        selected,
		TotalAmount:  total,
		ChangeAmount: total - c.TargetAmount,
		Strategy:     strategy,
	}, nil
}

// Select runs one strategy over the store's UTXO set filtered by the
// criteria.
func (s *Selector) Select(c *types.SelectionCriteria, strategy types.Strategy) (*types.Selection, error) {
	all, err := s.store.All()
	if err != nil {
		return nil, fmt.Errorf("load utxo set: %w", err)
	}
	sel, err := s.selectFrom(all, c, strategy)
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Int("utxos", len(sel.Utxos)).
		Uint64("total", sel.TotalAmount).
		Uint64("change", sel.ChangeAmount).
		Str("strategy", string(strategy)).
		Msg("Selected UTXOs")
	return sel, nil
}

// score ranks a selection: fewer inputs dominate, change breaks ties.
func score(sel *types.Selection) float64 {
	return float64(len(sel.Utxos))*10 + float64(sel.ChangeAmount)*0.001
}

// SelectOptimal runs the candidate strategies and returns the best-scoring
// successful selection. EffectiveValue joins the pool only when the request
// carries a fee rate. Failing strategies are skipped.
func (s *Selector) SelectOptimal(c *types.SelectionCriteria) (*types.Selection, error) {
	strategies := []types.Strategy{
		types.StrategyBranchAndBound,
		types.StrategySmallestFirst,
		types.StrategyLargestFirst,
	}
	if c.FeeRate != nil {
		strategies = append([]types.Strategy{types.StrategyEffectiveValue}, strategies...)
	}

	all, err := s.store.All()
	if err != nil {
		return nil, fmt.Errorf("load utxo set: %w", err)
	}

	var best *types.Selection
	bestScore := 0.0
	for _, strategy := range strategies {
		sel, err := s.selectFrom(all, c, strategy)
		if err != nil {
			s.logger.Debug().Err(err).Str("strategy", string(strategy)).Msg("Strategy failed")
			continue
		}
		sc := score(sel)
		s.logger.Debug().Str("strategy", string(strategy)).Float64("score", sc).Msg("Strategy scored")
		if best == nil || sc < bestScore {
			best = sel
			bestScore = sc
		}
	}

	if best == nil {
		return nil, fmt.Errorf("%w: no strategy satisfied the criteria", ErrInsufficientFunds)
	}
	return best, nil
}

// SelectBatch processes the criteria in order; each selection's outpoints
// are withheld from later entries so no UTXO is promised twice. Any failed
// entry aborts the whole batch.
func (s *Selector) SelectBatch(criteria []types.SelectionCriteria, strategy types.Strategy) ([]types.Selection, error) {
	used := make(map[types.Outpoint]struct{})
	results := make([]types.Selection, 0, len(criteria))

	for i := range criteria {
		all, err := s.store.All()
		if err != nil {
			return nil, fmt.Errorf("load utxo set: %w", err)
		}
		available := make([]types.UtxoRecord, 0, len(all))
		for _, u := range all {
			if _, taken := used[u.Outpoint]; !taken {
				available = append(available, u)
			}
		}

		sel, err := s.selectFrom(available, &criteria[i], strategy)
		if err != nil {
			return nil, fmt.Errorf("batch entry %d: %w", i, err)
		}
		for _, u := range sel.Utxos {
			used[u.Outpoint] = struct{}{}
		}
		results = append(results, *sel)
	}

	s.logger.Info().Int("targets", len(results)).Msg("Batch selection complete")
	return results, nil
}
