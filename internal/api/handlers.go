package api

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/Klingon-tech/coinpick/internal/selector"
	"github.com/Klingon-tech/coinpick/internal/utxo"
	"github.com/Klingon-tech/coinpick/pkg/types"
)

// maxBodySize is the maximum allowed request body size (1 MB).
const maxBodySize = 1 << 20

// decodeBody unmarshals a JSON request body, answering 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(target); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// writeSelection answers a selection attempt. Failures a client can cause
// (nothing matched, not enough funds) come back as a 200 envelope error;
// anything else is an internal failure.
func (s *Server) writeSelection(w http.ResponseWriter, sel *types.Selection, err error) {
	switch {
	case err == nil:
		writeData(w, sel)
	case errors.Is(err, selector.ErrNoCandidates), errors.Is(err, selector.ErrInsufficientFunds):
		writeError(w, http.StatusOK, err.Error())
	default:
		s.logger.Error().Err(err).Msg("Selection failed")
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeData(w, healthResponse{
		Status:    "healthy",
		Timestamp: uint64(time.Now().Unix()),
		Version:   version,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.ReadStats()
	if errors.Is(err, utxo.ErrNotFound) {
		writeError(w, http.StatusNotFound, "index statistics not available yet")
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("Stats read failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeData(w, stats)
}

// queryUint parses an optional unsigned query parameter.
func queryUint(r *http.Request, name string) *uint64 {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return nil
	}
	return &v
}

// queryInt parses an optional int query parameter.
func queryInt(r *http.Request, name string) *int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil
	}
	return &v
}

func (s *Server) handleUtxos(w http.ResponseWriter, r *http.Request) {
	query := &types.UtxoQuery{
		MinAmount:        queryUint(r, "min_amount"),
		MaxAmount:        queryUint(r, "max_amount"),
		MinConfirmations: queryUint(r, "min_confirmations"),
		Limit:            queryInt(r, "limit"),
		Offset:           queryInt(r, "offset"),
	}
	if raw := r.URL.Query().Get("script_type"); raw != "" {
		st := types.ScriptType(raw)
		query.ScriptType = &st
	}

	records, err := s.store.Query(query)
	if err != nil {
		s.logger.Error().Err(err).Msg("UTXO query failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeData(w, records)
}

func (s *Server) handleUtxoByOutpoint(w http.ResponseWriter, r *http.Request) {
	op, err := types.ParseOutpoint(r.PathValue("outpoint"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	record, err := s.store.Get(op)
	if errors.Is(err, utxo.ErrNotFound) {
		writeError(w, http.StatusNotFound, "utxo not found")
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("UTXO get failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeData(w, record)
}

func (s *Server) handleUtxoQuery(w http.ResponseWriter, r *http.Request) {
	var query types.UtxoQuery
	if !decodeBody(w, r, &query) {
		return
	}
	records, err := s.store.Query(&query)
	if err != nil {
		s.logger.Error().Err(err).Msg("UTXO query failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeData(w, records)
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req SelectionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	sel, err := s.selector.Select(req.criteria(), types.ParseStrategy(req.Strategy))
	s.writeSelection(w, sel, err)
}

func (s *Server) handleSelectOptimal(w http.ResponseWriter, r *http.Request) {
	var req SelectionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	sel, err := s.selector.SelectOptimal(req.criteria())
	s.writeSelection(w, sel, err)
}

func (s *Server) handleSelectBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchSelectionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	criteria := make([]types.SelectionCriteria, len(req.Targets))
	for i := range req.Targets {
		criteria[i] = *req.Targets[i].criteria()
	}

	selections, err := s.selector.SelectBatch(criteria, types.ParseStrategy(req.Strategy))
	switch {
	case err == nil:
		writeData(w, selections)
	case errors.Is(err, selector.ErrNoCandidates), errors.Is(err, selector.ErrInsufficientFunds):
		writeError(w, http.StatusOK, err.Error())
	default:
		s.logger.Error().Err(err).Msg("Batch selection failed")
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleWalletSelect(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")
	var req WalletSelectionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	criteria := &types.SelectionCriteria{
		TargetAmount: req.TargetAmount,
		MaxUtxos:     req.MaxUtxos,
		Addresses:    []string{address},
		FeeRate:      req.FeeRate,
		OutputCount:  req.OutputCount,
	}
	sel, err := s.selector.Select(criteria, types.ParseStrategy(req.Strategy))
	s.writeSelection(w, sel, err)
}

// distributionBuckets are the satoshi ranges of the histogram.
var distributionBuckets = [][2]uint64{
	{0, 1000},
	{1000, 10000},
	{10000, 100000},
	{100000, 1000000},
	{1000000, 10000000},
	{10000000, math.MaxUint64},
}

func (s *Server) handleDistribution(w http.ResponseWriter, r *http.Request) {
	all, err := s.store.All()
	if err != nil {
		s.logger.Error().Err(err).Msg("UTXO scan failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	dist := distribution{TotalUtxos: uint64(len(all))}
	for _, u := range all {
		dist.TotalValue += u.Value
	}

	for _, bucket := range distributionBuckets {
		min, max := bucket[0], bucket[1]
		var count, value uint64
		for _, u := range all {
			if u.Value >= min && (max == math.MaxUint64 || u.Value < max) {
				count++
				value += u.Value
			}
		}
		var pct float64
		if dist.TotalUtxos > 0 {
			pct = float64(count) / float64(dist.TotalUtxos) * 100
		}
		rangeMax := max
		if max != math.MaxUint64 {
			rangeMax = max - 1
		}
		dist.Ranges = append(dist.Ranges, distributionRange{
			MinAmount:  min,
			MaxAmount:  rangeMax,
			Count:      count,
			TotalValue: value,
			Percentage: pct,
		})
	}
	writeData(w, dist)
}

func (s *Server) handleByAmount(w http.ResponseWriter, r *http.Request) {
	min := uint64(0)
	if v := queryUint(r, "min_amount"); v != nil {
		min = *v
	}
	max := uint64(math.MaxUint64)
	if v := queryUint(r, "max_amount"); v != nil {
		max = *v
	}
	limit := 0
	if v := queryInt(r, "limit"); v != nil {
		limit = *v
	}

	records, err := s.store.RangeByAmount(min, max, limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("Amount range scan failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeData(w, records)
}

func (s *Server) handleRescan(w http.ResponseWriter, r *http.Request) {
	if s.rescanner == nil {
		writeError(w, http.StatusOK, "rescan unavailable: indexer is not running in this process")
		return
	}
	height := uint64(0)
	if v := queryUint(r, "height"); v != nil {
		height = *v
	}

	// The request context dies with the response; the rescan must not.
	go func() {
		if err := s.rescanner.RescanFrom(context.Background(), height); err != nil {
			s.logger.Error().Err(err).Uint64("height", height).Msg("Rescan failed")
		}
	}()
	writeData(w, "rescan started")
}
