// Package api serves the HTTP query surface over the UTXO index and the
// coin selector.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Klingon-tech/coinpick/config"
	"github.com/Klingon-tech/coinpick/internal/indexer"
	klog "github.com/Klingon-tech/coinpick/internal/log"
	"github.com/Klingon-tech/coinpick/internal/selector"
	"github.com/Klingon-tech/coinpick/internal/utxo"
)

// version is reported by /health.
const version = "0.1.0"

// Rescanner triggers a rescan on the in-process indexer. Nil when the
// daemon runs in api-only mode.
type Rescanner interface {
	RescanFrom(ctx context.Context, height uint64) error
}

// Server is the HTTP API server. It only reads the store; all mutation
// stays with the indexer.
type Server struct {
	addr       string
	store      *utxo.Store
	selector   *selector.Selector
	hub        *indexer.Hub
	rescanner  Rescanner
	enableCORS bool

	server *http.Server
	ln     net.Listener
	logger zerolog.Logger
}

// New creates an API server. hub and rescanner may be nil when the indexer
// does not run in this process.
func New(cfg config.APIConfig, store *utxo.Store, sel *selector.Selector, hub *indexer.Hub, rescanner Rescanner) *Server {
	s := &Server{
		addr:       cfg.ListenAddr(),
		store:      store,
		selector:   sel,
		hub:        hub,
		rescanner:  rescanner,
		enableCORS: cfg.EnableCORS,
		logger:     klog.API,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /utxos", s.handleUtxos)
	mux.HandleFunc("GET /utxos/{outpoint}", s.handleUtxoByOutpoint)
	mux.HandleFunc("POST /utxos/query", s.handleUtxoQuery)
	mux.HandleFunc("POST /select", s.handleSelect)
	mux.HandleFunc("POST /select/optimal", s.handleSelectOptimal)
	mux.HandleFunc("POST /select/batch", s.handleSelectBatch)
	mux.HandleFunc("POST /wallet/{address}/select", s.handleWalletSelect)
	mux.HandleFunc("GET /analysis/distribution", s.handleDistribution)
	mux.HandleFunc("GET /analysis/by-amount", s.handleByAmount)
	mux.HandleFunc("POST /admin/rescan", s.handleRescan)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /ws", s.handleWS)

	s.server = &http.Server{
		Handler:      s.withCORS(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	return s
}

// Start begins listening and serving in a background goroutine.
// It returns immediately after the listener is bound.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.ln = ln
	s.logger.Info().Str("addr", s.Addr()).Msg("API server listening")

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("API server error")
		}
	}()

	return nil
}

// Addr returns the listener address (useful when bound to :0).
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Handler exposes the full route set for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// withCORS adds permissive CORS headers and answers preflights when
// enabled in the configuration.
func (s *Server) withCORS(next http.Handler) http.Handler {
	if !s.enableCORS {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
