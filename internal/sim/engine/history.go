package engine

import "fsmarket.sim/internal/sim/model"

// History keeps the most recent states, oldest first. Stored states are never
// modified again.
type History struct {
	size   int
	states []*model.State
}

func NewHistory(size int) *History {
	if size < 1 {
		size = 1
	}
	return &History{size: size, states: make([]*model.State, 0, size)}
}

func (h *History) Push(s *model.State) {
	if len(h.states) == h.size {
		copy(h.states, h.states[1:])
		h.states = h.states[:h.size-1]
	}
	h.states = append(h.states, s)
}

func (h *History) Len() int { return len(h.states) }

// Last returns up to n of the newest states, oldest first.
func (h *History) Last(n int) []*model.State {
	if n <= 0 {
		return nil
	}
	if n > len(h.states) {
		n = len(h.states)
	}
	return h.states[len(h.states)-n:]
}

func (h *History) Latest() *model.State {
	if len(h.states) == 0 {
		return nil
	}
	return h.states[len(h.states)-1]
}

// At finds the retained state whose Tick is tick.
func (h *History) At(tick uint64) (*model.State, bool) {
	for _, s := range h.states {
		if s.Tick == tick {
			return s, true
		}
	}
	return nil, false
}

// Fills lists the per tick fill totals of the newest n states.
func (h *History) Fills(n int) []model.Fills {
	states := h.Last(n)
	out := make([]model.Fills, len(states))
	for i, s := range states {
		out[i] = s.Fills
	}
	return out
}
