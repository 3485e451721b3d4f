package feed

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"fsmarket.sim/internal/sim/engine"
	"fsmarket.sim/internal/sim/params"
)

// Hub fans tick records out to subscribers. It is an engine.Observer, so a
// live run can publish into it directly; Play feeds it from a tick log.
type Hub struct {
	runID  string
	params params.Params

	mu     sync.RWMutex
	subs   map[string]*subscriber
	nextID atomic.Uint64
	tick   atomic.Uint64
}

type subscriber struct {
	out    chan []byte
	events atomic.Bool
	every  atomic.Uint64
}

func NewHub(runID string, p params.Params) *Hub {
	return &Hub{runID: runID, params: p, subs: map[string]*subscriber{}}
}

// Tick is the last tick published.
func (h *Hub) Tick() uint64 { return h.tick.Load() }

func (h *Hub) Bootstrap() BootstrapResponse {
	return BootstrapResponse{
		ProtocolVersion: Version,
		RunID:           h.runID,
		Tick:            h.Tick(),
		Params:          h.params,
	}
}

func (h *Hub) subscribe(buf int, sub SubscribeMsg) (string, *subscriber) {
	id := fmt.Sprintf("S%d", h.nextID.Add(1))
	s := &subscriber{out: make(chan []byte, buf)}
	s.apply(sub)
	h.mu.Lock()
	h.subs[id] = s
	h.mu.Unlock()
	return id, s
}

func (h *Hub) unsubscribe(id string) {
	h.mu.Lock()
	delete(h.subs, id)
	h.mu.Unlock()
}

// Subscribers is the number of attached clients.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (s *subscriber) apply(sub SubscribeMsg) {
	s.events.Store(sub.Events)
	every := sub.Every
	if every == 0 {
		every = 1
	}
	s.every.Store(every)
}

// ObserveTick never blocks: a slow subscriber loses its oldest record.
func (h *Hub) ObserveTick(rec engine.TickRecord) {
	h.tick.Store(rec.Tick)

	full, err := json.Marshal(TickMsg{Type: "TICK", ProtocolVersion: Version, Record: rec})
	if err != nil {
		return
	}
	rec.Events = nil
	slim, err := json.Marshal(TickMsg{Type: "TICK", ProtocolVersion: Version, Record: rec})
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.subs {
		if every := s.every.Load(); every > 1 && rec.Tick%every != 0 {
			continue
		}
		if s.events.Load() {
			sendLatest(s.out, full)
		} else {
			sendLatest(s.out, slim)
		}
	}
}

func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}
