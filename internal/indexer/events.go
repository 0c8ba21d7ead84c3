package indexer

import "sync"

// BlockResult summarises one processed block. Results feed the log, the
// metrics, and the websocket event stream.
type BlockResult struct {
	Height       uint64 `json:"height"`
	Hash         string `json:"hash"`
	UtxosCreated uint32 `json:"utxos_created"`
	UtxosSpent   uint32 `json:"utxos_spent"`
	DurationMS   uint64 `json:"processing_time_ms"`
}

// Hub fans BlockResults out to subscribers. Slow subscribers drop events
// rather than stall the indexer.
type Hub struct {
	mu   sync.Mutex
	subs map[chan BlockResult]struct{}
}

// NewHub creates an event hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[chan BlockResult]struct{})}
}

// Subscribe registers a listener. The returned cancel func must be called
// when the listener goes away.
func (h *Hub) Subscribe() (<-chan BlockResult, func()) {
	ch := make(chan BlockResult, 16)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers a result to every subscriber without blocking.
func (h *Hub) Publish(r BlockResult) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- r:
		default:
		}
	}
}
